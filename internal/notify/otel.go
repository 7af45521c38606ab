package notify

import (
	"context"
	"encoding/json"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// recordEmitter is the part of otellog.Logger used here.
type recordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// OTelPublisher emits events as OTel log records.
type OTelPublisher struct {
	logger recordEmitter
}

// NewOTelPublisher returns a publisher on provider, or nil when provider is nil.
func NewOTelPublisher(provider *sdklog.LoggerProvider) *OTelPublisher {
	if provider == nil {
		return nil
	}
	return &OTelPublisher{logger: provider.Logger("credential-lifecycle.events")}
}

func (p *OTelPublisher) Publish(ctx context.Context, ev Event) error {
	if p == nil || p.logger == nil {
		return nil
	}
	rec := otellog.Record{}
	rec.SetTimestamp(ev.Timestamp)
	rec.SetEventName(ev.Name)
	rec.SetSeverity(otellog.SeverityInfo)
	if len(ev.Payload) > 0 {
		body, err := json.Marshal(ev.Payload)
		if err != nil {
			return err
		}
		rec.SetBody(otellog.BytesValue(body))
	}
	rec.AddAttributes(
		otellog.String("event_id", ev.ID),
		otellog.String("event", ev.Name),
		otellog.String("service", ev.Service),
		otellog.String("version", ev.Version),
	)
	if sub := ev.Subject(); sub != "" {
		rec.AddAttributes(otellog.String("user_id", sub))
	}
	p.logger.Emit(ctx, rec)
	return nil
}
