package models

import (
	"fmt"
	"strings"
)

// PauseStrategy governs checkpoint cadence. The set of implementations is
// closed: PauseNone and PauseEveryNCalls.
type PauseStrategy interface {
	Name() string
	Describe() string
	pauseStrategy()
}

type PauseNone struct{}

func (PauseNone) Name() string { return "none" }

func (PauseNone) Describe() string {
	return "No automatic checkpoints: the driver works until it ends its turn."
}

func (PauseNone) pauseStrategy() {}

// PauseEveryNCalls fires a checkpoint after every EditsPerPause successful
// calls to any tool in CountedTools.
type PauseEveryNCalls struct {
	EditsPerPause int      `json:"edits_per_pause"`
	CountedTools  []string `json:"counted_tools"`
}

func (PauseEveryNCalls) Name() string { return "every_n_calls" }

func (p PauseEveryNCalls) Describe() string {
	return fmt.Sprintf("Automatic checkpoint after every %d successful %s call(s); the driver pauses for navigator review.",
		p.EditsPerPause, strings.Join(p.CountedTools, "/"))
}

func (PauseEveryNCalls) pauseStrategy() {}

// Counts reports whether a successful call to tool advances the counter.
func (p PauseEveryNCalls) Counts(tool string) bool {
	for _, t := range p.CountedTools {
		if strings.EqualFold(t, tool) {
			return true
		}
	}
	return false
}

// TurnPolicy governs how long a driver keeps the role. The set of
// implementations is closed: AlternateEachRound and StickyUntilSignoff.
type TurnPolicy interface {
	Name() string
	Describe() string
	turnPolicy()
}

type AlternateEachRound struct{}

func (AlternateEachRound) Name() string { return "alternate_each_round" }

func (AlternateEachRound) Describe() string {
	return "Roles swap after every round."
}

func (AlternateEachRound) turnPolicy() {}

type StickyUntilSignoff struct {
	MaxConsecutiveRounds      int `json:"max_consecutive_rounds"`
	MaxConsecutiveCheckpoints int `json:"max_consecutive_checkpoints"`
}

func (StickyUntilSignoff) Name() string { return "sticky_until_signoff" }

func (p StickyUntilSignoff) Describe() string {
	return fmt.Sprintf("The driver keeps the keyboard until the navigator recommends a handoff, "+
		"or after %d consecutive rounds or %d consecutive checkpoints.",
		p.MaxConsecutiveRounds, p.MaxConsecutiveCheckpoints)
}

func (StickyUntilSignoff) turnPolicy() {}
