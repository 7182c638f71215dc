package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpansWithNoopProvider(t *testing.T) {
	ctx, session := StartSessionSpan(context.Background(), "run-1", "paired_turns")
	ctx, round := StartRoundSpan(ctx, 1, "A", "B")
	_, call := StartInvocationSpan(ctx, "A", "driver")

	assert.NotPanics(t, func() {
		End(call, errors.New("boom"))
		End(round, nil)
		End(session, nil)
	})
}

func TestMetricsNilReceiver(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.SessionEnded(context.Background(), "completed")
		m.RoundCompleted(context.Background(), "A", 2)
		m.Swapped(context.Background(), "alternate_each_round")
		m.Invoked(context.Background(), "A", "driver")
	})
}

func TestNewMetrics(t *testing.T) {
	m, err := NewMetrics()
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		m.RoundCompleted(context.Background(), "B", 0)
		m.Swapped(context.Background(), "navigator_requested_handoff")
	})
}
