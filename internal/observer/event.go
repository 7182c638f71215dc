// Package observer records the structured event trail of a pairing session
// and produces the end-of-run summary.
package observer

import "time"

type EventType string

const (
	EventSessionStart  EventType = "session_start"
	EventSessionEnd    EventType = "session_end"
	EventSessionFailed EventType = "session_failed"
	EventPlanStep      EventType = "plan_step"
	EventRoundStart    EventType = "round_start"
	EventRoundEnd      EventType = "round_end"
	EventToolCall      EventType = "tool_call"
	EventCheckpoint    EventType = "checkpoint"
	EventDriverSwap    EventType = "driver_swap"
	EventFinalReview   EventType = "final_review"
)

// Event is one immutable line of the trail. ID, Seq and Time are assigned by
// the Log when left empty.
type Event struct {
	ID      string         `json:"id"`
	Seq     int64          `json:"seq"`
	Type    EventType      `json:"type"`
	Time    time.Time      `json:"time"`
	Round   int            `json:"round,omitempty"`
	Agent   string         `json:"agent,omitempty"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Summary is returned by Flush and embedded in the run artifact.
type Summary struct {
	Status      Status            `json:"status"`
	Error       string            `json:"error,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	EndedAt     time.Time         `json:"ended_at"`
	EventCount  int               `json:"event_count"`
	Counts      map[EventType]int `json:"counts"`
	Rounds      int               `json:"rounds"`
	Checkpoints int               `json:"checkpoints"`
	Swaps       int               `json:"swaps"`
	EventsPath  string            `json:"events_path,omitempty"`
	SummaryPath string            `json:"summary_path,omitempty"`
	WriteErrors int               `json:"write_errors"`
	WriteError  string            `json:"write_error,omitempty"`
}
