package models

import "github.com/mpataki/tandem/internal/observer"

// RoundResult is built once per round and never modified afterwards.
type RoundResult struct {
	Round                 int             `json:"round"`
	Driver                AgentID         `json:"driver"`
	Navigator             AgentID         `json:"navigator"`
	PauseTriggered        bool            `json:"pause_triggered"`
	CheckpointCount       int             `json:"checkpoint_count"`
	EditWriteCallCount    int             `json:"edit_write_call_count"`
	EstimatedWrittenBytes int             `json:"estimated_written_bytes"`
	Report                DriverReport    `json:"report"`
	Review                NavigatorReview `json:"review"`
	Decision              *DriverDecision `json:"decision,omitempty"`
}

type ContributionSummary struct {
	EstimatedBytes        int     `json:"estimated_bytes"`
	ToolCalls             int     `json:"tool_calls"`
	RoundsDriven          int     `json:"rounds_driven"`
	CheckpointsAsDriver   int     `json:"checkpoints_as_driver"`
	RoughCodeSharePercent float64 `json:"rough_code_share_percent"`
}

type RunSummary struct {
	TotalCheckpoints    int                             `json:"total_checkpoints"`
	TotalSwaps          int                             `json:"total_swaps"`
	TotalEstimatedBytes int                             `json:"total_estimated_bytes"`
	Contributions       map[AgentID]ContributionSummary `json:"contributions"`
}

type Strategy string

const (
	StrategyPairedTurns            Strategy = "paired_turns"
	StrategySoloDriverThenReviewer Strategy = "solo_driver_then_reviewer"
)

// PairRunResult is the run artifact handed to reporting once a session completes.
type PairRunResult struct {
	RunID         string            `json:"run_id"`
	Task          string            `json:"task"`
	Strategy      Strategy          `json:"strategy"`
	Plan          string            `json:"plan"`
	Rounds        []RoundResult     `json:"rounds"`
	Final         FinalReview       `json:"final"`
	Summary       RunSummary        `json:"summary"`
	Journal       []JournalEntry    `json:"journal"`
	Observability *observer.Summary `json:"observability,omitempty"`
	Status        RunStatus         `json:"status"`
}
