package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "tandem"

// Metrics holds the session metric instruments.
type Metrics struct {
	Sessions    metric.Int64Counter
	Rounds      metric.Int64Counter
	Checkpoints metric.Int64Counter
	Swaps       metric.Int64Counter
	Invocations metric.Int64Counter
}

func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.Sessions, err = meter.Int64Counter("tandem.sessions",
		metric.WithDescription("Number of pairing sessions by final status"))
	if err != nil {
		return nil, err
	}

	m.Rounds, err = meter.Int64Counter("tandem.rounds",
		metric.WithDescription("Number of completed rounds"))
	if err != nil {
		return nil, err
	}

	m.Checkpoints, err = meter.Int64Counter("tandem.checkpoints",
		metric.WithDescription("Number of checkpoint interruptions"))
	if err != nil {
		return nil, err
	}

	m.Swaps, err = meter.Int64Counter("tandem.swaps",
		metric.WithDescription("Number of driver swaps"))
	if err != nil {
		return nil, err
	}

	m.Invocations, err = meter.Int64Counter("tandem.invocations",
		metric.WithDescription("Number of worker invocations"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// The helpers below tolerate a nil receiver so callers can run without metrics.

func (m *Metrics) SessionEnded(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.Sessions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (m *Metrics) RoundCompleted(ctx context.Context, driver string, checkpoints int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("driver", driver))
	m.Rounds.Add(ctx, 1, attrs)
	if checkpoints > 0 {
		m.Checkpoints.Add(ctx, int64(checkpoints), attrs)
	}
}

func (m *Metrics) Swapped(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.Swaps.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *Metrics) Invoked(ctx context.Context, agent, role string) {
	if m == nil {
		return
	}
	m.Invocations.Add(ctx, 1, metric.WithAttributes(
		attribute.String("agent", agent),
		attribute.String("role", role),
	))
}
