package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric outcome labels.
const (
	outcomeSuccess     = "success"
	outcomeInvalid     = "invalid_credentials"
	outcomeLocked      = "locked"
	outcomeDisabled    = "disabled"
	outcomeUnavailable = "unavailable"
	outcomeReuse       = "reuse_detected"
	outcomeRaceLost    = "race_lost"
)

// Metrics holds the auth service's OTel instruments. A nil *Metrics records nothing.
type Metrics struct {
	logins         metric.Int64Counter
	refreshes      metric.Int64Counter
	registrations  metric.Int64Counter
	securityEvents metric.Int64Counter
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	logins, err := meter.Int64Counter("auth.login",
		metric.WithDescription("Login attempts by outcome"))
	if err != nil {
		return nil, err
	}
	refreshes, err := meter.Int64Counter("auth.refresh",
		metric.WithDescription("Refresh token rotations by outcome"))
	if err != nil {
		return nil, err
	}
	registrations, err := meter.Int64Counter("auth.register",
		metric.WithDescription("Registrations by outcome"))
	if err != nil {
		return nil, err
	}
	securityEvents, err := meter.Int64Counter("auth.security_events",
		metric.WithDescription("Security-relevant anomalies such as refresh reuse and lockouts"))
	if err != nil {
		return nil, err
	}
	return &Metrics{
		logins:         logins,
		refreshes:      refreshes,
		registrations:  registrations,
		securityEvents: securityEvents,
	}, nil
}

func (m *Metrics) login(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.logins.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) refresh(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.refreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) register(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.registrations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) securityEvent(ctx context.Context, event string) {
	if m == nil {
		return
	}
	m.securityEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("event", event)))
}
