package models

import "time"

type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run is the persisted record of one pairing session.
type Run struct {
	ID            int64
	CreatedAt     time.Time
	CompletedAt   *time.Time
	Task          string
	ProfileName   string
	Strategy      Strategy
	WorkspacePath string
	Status        RunStatus
	CurrentDriver string
	Verdict       string
	Error         string
	ArtifactPath  string
	EventsPath    string
}
