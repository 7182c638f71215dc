package orchestrator

import (
	"time"

	"github.com/mpataki/tandem/internal/models"
	"github.com/mpataki/tandem/internal/protocol"
)

// Journal stages.
const (
	StagePlanDraft       = "plan_draft"
	StagePlanCritique    = "plan_critique"
	StagePlan            = "plan"
	StageDriverReport    = "driver_report"
	StageNavigatorReview = "navigator_review"
	StageDriverDecision  = "driver_decision"
	StageSwap            = "swap"
	StageFinalReview     = "final_review"
	StageJointVerdict    = "joint_verdict"
)

// SharedContext is the part of a worker the journal writes to.
type SharedContext interface {
	AppendShared(text string)
}

// Journal is the append-only shared record both workers see. Each append is
// pushed, rendered, to every reader in call order.
type Journal struct {
	entries []models.JournalEntry
	readers []SharedContext
	now     func() time.Time
}

func NewJournal(now func() time.Time, readers ...SharedContext) *Journal {
	if now == nil {
		now = time.Now
	}
	return &Journal{readers: readers, now: now}
}

func (j *Journal) Append(stage, actor, content string) models.JournalEntry {
	e := models.JournalEntry{Stage: stage, Actor: actor, Content: content, Timestamp: j.now()}
	j.entries = append(j.entries, e)
	rendered := protocol.RenderEntry(e)
	for _, r := range j.readers {
		r.AppendShared(rendered)
	}
	return e
}

// Entries returns a copy of the journal.
func (j *Journal) Entries() []models.JournalEntry {
	return append([]models.JournalEntry(nil), j.entries...)
}

func (j *Journal) Len() int { return len(j.entries) }
