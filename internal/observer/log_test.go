package observer

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingSink struct{ calls int }

func (s *failingSink) Write(Event) error {
	s.calls++
	return errors.New("disk full")
}

type memorySink struct{ events []Event }

func (s *memorySink) Write(ev Event) error {
	s.events = append(s.events, ev)
	return nil
}

func fixedClock() func() time.Time {
	t := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return func() time.Time { return t }
}

func TestLogAssignsSequenceAndIDs(t *testing.T) {
	t.Parallel()

	mem := &memorySink{}
	l := New(Options{Now: fixedClock()}, mem)
	l.Record(Event{Type: EventSessionStart})
	l.Record(Event{Type: EventRoundStart, Round: 1, Agent: "A"})

	require.Len(t, mem.events, 2)
	assert.Equal(t, int64(1), mem.events[0].Seq)
	assert.Equal(t, int64(2), mem.events[1].Seq)
	assert.NotEmpty(t, mem.events[0].ID)
	assert.NotEqual(t, mem.events[0].ID, mem.events[1].ID)
	assert.Equal(t, fixedClock()(), mem.events[1].Time)
}

func TestLogWritesTrailAndSummary(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	l := New(Options{Dir: dir, Now: fixedClock()})
	l.Record(Event{Type: EventSessionStart})
	l.Record(Event{Type: EventRoundEnd, Round: 1})
	l.Record(Event{Type: EventCheckpoint, Round: 1})
	l.Record(Event{Type: EventCheckpoint, Round: 2})
	l.Record(Event{Type: EventDriverSwap, Round: 2})

	sum := l.Flush(StatusCompleted, "")
	assert.Equal(t, StatusCompleted, sum.Status)
	assert.Equal(t, 5, sum.EventCount)
	assert.Equal(t, 1, sum.Rounds)
	assert.Equal(t, 2, sum.Checkpoints)
	assert.Equal(t, 1, sum.Swaps)
	assert.Equal(t, 2, sum.Counts[EventCheckpoint])
	assert.Zero(t, sum.WriteErrors)

	events, err := ReadEvents(filepath.Join(dir, EventsFile))
	require.NoError(t, err)
	require.Len(t, events, 5)
	assert.Equal(t, EventSessionStart, events[0].Type)
	assert.Equal(t, EventDriverSwap, events[4].Type)

	_, err = os.Stat(filepath.Join(dir, SummaryFile))
	assert.NoError(t, err)
}

func TestLogCountsSinkFailuresWithoutStopping(t *testing.T) {
	t.Parallel()

	bad := &failingSink{}
	mem := &memorySink{}
	l := New(Options{}, bad, mem)
	l.Record(Event{Type: EventSessionStart})
	l.Record(Event{Type: EventRoundStart})

	sum := l.Flush(StatusFailed, "boom")
	assert.Equal(t, 2, bad.calls)
	assert.Len(t, mem.events, 2)
	assert.Equal(t, 2, sum.WriteErrors)
	assert.Equal(t, "disk full", sum.WriteError)
	assert.Equal(t, "boom", sum.Error)
	assert.Equal(t, StatusFailed, sum.Status)
}

func TestFlushIsIdempotent(t *testing.T) {
	t.Parallel()

	l := New(Options{})
	l.Record(Event{Type: EventSessionStart})
	first := l.Flush(StatusFailed, "first")
	l.Record(Event{Type: EventRoundStart})
	second := l.Flush(StatusCompleted, "")

	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, "first", second.Error)
	assert.Equal(t, 1, second.EventCount)
}

func TestLogSinkMirrorsIntoSlog(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	l := New(Options{}, NewLogSink(logger))
	l.Record(Event{Type: EventDriverSwap, Round: 2, Agent: "B", Message: "driver swap", Data: map[string]any{"reason": "alternate_each_round"}})

	out := buf.String()
	assert.Contains(t, out, "driver swap")
	assert.Contains(t, out, "reason=alternate_each_round")
	assert.Contains(t, out, "round=2")
}

func TestNopFlushCarriesStatus(t *testing.T) {
	t.Parallel()

	sum := Nop{}.Flush(StatusFailed, "x")
	assert.Equal(t, StatusFailed, sum.Status)
	assert.Equal(t, "x", sum.Error)
}
