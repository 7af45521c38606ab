// Package notify publishes auth lifecycle events to external collaborators.
// Publishing is best-effort: the auth flow never waits on or fails because of it.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// Event names published by the auth service.
const (
	UserRegistered         = "user.registered"
	UserLogin              = "user.login"
	UserLogout             = "user.logout"
	UserLogoutAllDevices   = "user.logout_all_devices"
	PasswordResetRequested = "user.password_reset_requested"
	PasswordResetCompleted = "user.password_reset_completed"
)

// Event is the envelope written to every sink.
type Event struct {
	ID        string         `json:"eventId"`
	Name      string         `json:"event"`
	Service   string         `json:"service"`
	Version   string         `json:"version"`
	Timestamp time.Time      `json:"timestamp"`
	TraceID   string         `json:"traceId,omitempty"`
	Payload   map[string]any `json:"data,omitempty"`
}

// Subject returns the payload's userId, used as the partition key.
func (e Event) Subject() string {
	if s, ok := e.Payload["userId"].(string); ok {
		return s
	}
	return ""
}

// Publisher delivers one event to a sink.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Source stamps service and version onto events.
type Source struct {
	Service string
	Version string
	Now     func() time.Time
}

// NewEvent builds an enriched event. The trace id is taken from ctx when a span is active.
func (s Source) NewEvent(ctx context.Context, name string, payload map[string]any) Event {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	ev := Event{
		ID:        uuid.NewString(),
		Name:      name,
		Service:   s.Service,
		Version:   s.Version,
		Timestamp: now().UTC(),
		Payload:   payload,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		ev.TraceID = sc.TraceID().String()
	}
	return ev
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, Event) error { return nil }

// Noop returns a Publisher that drops every event.
func Noop() Publisher { return noopPublisher{} }

// Multi fans an event out to every publisher and returns the first error.
// Every publisher is attempted even when an earlier one fails.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var first error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
