// Package tracker watches a driver's live tool-call stream, fires checkpoint
// interruptions at the configured cadence and estimates written bytes.
package tracker

import (
	"math"

	"github.com/mpataki/tandem/internal/models"
)

type Phase string

const (
	PhaseDriving            Phase = "driving"
	PhaseFeedbackResolution Phase = "feedback_resolution"
)

// Snapshot is a copy of the tracker counters at one point in time.
type Snapshot struct {
	PauseTriggered        bool `json:"pause_triggered"`
	CheckpointCount       int  `json:"checkpoint_count"`
	EditWriteCallCount    int  `json:"edit_write_call_count"`
	EstimatedWrittenBytes int  `json:"estimated_written_bytes"`
}

// InterruptFunc is called synchronously when a checkpoint fires.
type InterruptFunc func(phase Phase, checkpoint int)

// Tracker is a pure consumer of tool events. It is driven from a single
// invocation at a time and is not safe for concurrent use.
type Tracker struct {
	countBased       bool
	counts           func(tool string) bool
	increment        int
	countedEdits     int
	nextCheckpointAt int
	pending          map[string]int
	phase            Phase
	snap             Snapshot
	onInterrupt      InterruptFunc
}

func New(strategy models.PauseStrategy, onInterrupt InterruptFunc) *Tracker {
	t := &Tracker{
		nextCheckpointAt: math.MaxInt,
		pending:          make(map[string]int),
		phase:            PhaseDriving,
		onInterrupt:      onInterrupt,
	}
	switch s := strategy.(type) {
	case models.PauseEveryNCalls:
		t.configureEvery(s)
	case *models.PauseEveryNCalls:
		if s != nil {
			t.configureEvery(*s)
		}
	case models.PauseNone, *models.PauseNone, nil:
	}
	return t
}

func (t *Tracker) configureEvery(s models.PauseEveryNCalls) {
	if s.EditsPerPause <= 0 {
		return
	}
	t.countBased = true
	t.counts = s.Counts
	t.increment = s.EditsPerPause
	t.nextCheckpointAt = s.EditsPerPause
}

func (t *Tracker) SetPhase(p Phase) { t.phase = p }

func (t *Tracker) Phase() Phase { return t.phase }

func (t *Tracker) Snapshot() Snapshot { return t.snap }

// Observe consumes one event from the worker's stream.
func (t *Tracker) Observe(ev models.ToolEvent) {
	switch ev.Kind {
	case models.ToolCallStart:
		if models.IsWriteTool(ev.ToolName) {
			t.pending[ev.CallID] = EstimateBytes(ev.ToolName, ev.Args)
		}
	case models.ToolCallEnd:
		t.onCallEnd(ev)
	}
}

func (t *Tracker) onCallEnd(ev models.ToolEvent) {
	estimate := t.pending[ev.CallID]
	delete(t.pending, ev.CallID)
	if ev.IsError {
		return
	}

	// Contribution stats count write-capable calls under every strategy.
	// CountedTools only decides which calls advance the checkpoint counter.
	if models.IsWriteTool(ev.ToolName) {
		t.snap.EstimatedWrittenBytes += estimate
		t.snap.EditWriteCallCount++
	}

	if !t.countBased || !t.counts(ev.ToolName) {
		return
	}
	t.countedEdits++
	if t.countedEdits < t.nextCheckpointAt {
		return
	}
	t.snap.PauseTriggered = true
	t.snap.CheckpointCount++
	t.nextCheckpointAt += t.increment
	if t.onInterrupt != nil {
		t.onInterrupt(t.phase, t.snap.CheckpointCount)
	}
}

// EstimateBytes sizes the content a write-capable call puts on disk. Missing
// or non-text arguments count as zero.
func EstimateBytes(tool string, args map[string]any) int {
	switch tool {
	case models.ToolWrite:
		return textLen(args, "content")
	case models.ToolEdit:
		if edits, ok := args["edits"].([]any); ok {
			total := 0
			for _, e := range edits {
				if m, ok := e.(map[string]any); ok {
					total += textLen(m, "new_string", "newText", "new_text")
				}
			}
			return total
		}
		return textLen(args, "new_string", "newText", "new_text")
	}
	return 0
}

func textLen(args map[string]any, keys ...string) int {
	for _, k := range keys {
		if s, ok := args[k].(string); ok {
			return len(s)
		}
	}
	return 0
}
