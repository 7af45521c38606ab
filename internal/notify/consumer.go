package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// handleTimeout bounds a single Handler call.
const handleTimeout = 10 * time.Second

// messageReader is the part of *kafka.Reader used here.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Handler processes one decoded event. An error is logged and the message is skipped.
type Handler func(ctx context.Context, ev Event) error

// Consumer reads auth events from a Kafka topic and passes each to a Handler.
type Consumer struct {
	reader  messageReader
	handle  Handler
	logger  *zap.Logger
	backoff time.Duration
}

// NewKafkaConsumer returns a consumer for topic in groupID, or nil when brokers or topic
// are empty. Call Close when done.
func NewKafkaConsumer(brokers []string, topic, groupID string, handle Handler, logger *zap.Logger) *Consumer {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	return newConsumer(kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		MaxWait:        time.Second,
		CommitInterval: time.Second,
	}), handle, logger)
}

func newConsumer(reader messageReader, handle Handler, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{reader: reader, handle: handle, logger: logger, backoff: time.Second}
}

// Run consumes until ctx is cancelled. Read errors are logged and retried after a pause;
// undecodable messages are skipped.
func (c *Consumer) Run(ctx context.Context) {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn("notify: kafka read failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.backoff):
			}
			continue
		}
		c.dispatch(ctx, msg)
	}
}

func (c *Consumer) dispatch(ctx context.Context, msg kafka.Message) {
	var ev Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		c.logger.Warn("notify: skipped undecodable event",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Error(err))
		return
	}
	hctx, cancel := context.WithTimeout(ctx, handleTimeout)
	defer cancel()
	if err := c.handle(hctx, ev); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Warn("notify: event handler failed",
			zap.String("event", ev.Name),
			zap.String("event_id", ev.ID),
			zap.Error(err))
	}
}

// Close closes the Kafka reader. Safe on a nil consumer.
func (c *Consumer) Close() error {
	if c == nil || c.reader == nil {
		return nil
	}
	return c.reader.Close()
}

// LogHandler returns a Handler that writes each event to logger at Info.
func LogHandler(logger *zap.Logger) Handler {
	return func(_ context.Context, ev Event) error {
		logger.Info("auth event",
			zap.String("event", ev.Name),
			zap.String("event_id", ev.ID),
			zap.String("user_id", ev.Subject()),
			zap.Time("timestamp", ev.Timestamp),
			zap.String("trace_id", ev.TraceID))
		return nil
	}
}
