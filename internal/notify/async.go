package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// publishTimeout is the max time allowed for a single async publish.
const publishTimeout = 5 * time.Second

// ShutdownDrainDuration is how long Close may wait for in-flight publishes. Must be >= publishTimeout.
const ShutdownDrainDuration = publishTimeout

// Async publishes events on background goroutines so the caller is never blocked
// and never sees an error. Failures are logged.
type Async struct {
	pub    Publisher
	source Source
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewAsync wraps pub. A nil pub drops every event; a nil logger is replaced with a no-op.
func NewAsync(pub Publisher, source Source, logger *zap.Logger) *Async {
	if pub == nil {
		pub = Noop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Async{pub: pub, source: source, logger: logger}
}

// Publish enriches and sends the event in a goroutine with its own timeout, so request
// cancellation does not abort it. Events published after Close are dropped.
func (a *Async) Publish(ctx context.Context, name string, payload map[string]any) {
	ev := a.source.NewEvent(ctx, name, payload)

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.logger.Debug("notify: dropped event after close", zap.String("event", name))
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		pubCtx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := a.pub.Publish(pubCtx, ev); err != nil {
			a.logger.Warn("notify: publish failed",
				zap.String("event", ev.Name),
				zap.String("event_id", ev.ID),
				zap.Error(err))
		}
	}()
}

// Close stops accepting events and waits for in-flight publishes or ctx, whichever is first.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
