package orchestrator

import (
	"fmt"

	"github.com/mpataki/tandem/internal/models"
)

const (
	ReasonAlternateEachRound = "alternate_each_round"
	ReasonNavigatorHandoff   = "navigator_requested_handoff"
	ReasonContinue           = "continue_same_driver"
)

type SwapDecision struct {
	Swap   bool   `json:"swap"`
	Reason string `json:"reason"`
}

// DecideSwap applies the turn policy to the latest round. The counters cover
// the current driver's streak including that round.
func DecideSwap(result models.RoundResult, consecutiveRounds, consecutiveCheckpoints int, policy models.TurnPolicy) SwapDecision {
	switch p := policy.(type) {
	case models.AlternateEachRound:
		return SwapDecision{Swap: true, Reason: ReasonAlternateEachRound}
	case *models.AlternateEachRound:
		return SwapDecision{Swap: true, Reason: ReasonAlternateEachRound}
	case models.StickyUntilSignoff:
		return decideSticky(result, consecutiveRounds, consecutiveCheckpoints, p)
	case *models.StickyUntilSignoff:
		if p != nil {
			return decideSticky(result, consecutiveRounds, consecutiveCheckpoints, *p)
		}
	}
	return SwapDecision{Reason: ReasonContinue}
}

// decideSticky checks, in order: handoff, round cap, checkpoint cap. A cap
// below 1 is disabled.
func decideSticky(result models.RoundResult, rounds, checkpoints int, p models.StickyUntilSignoff) SwapDecision {
	if result.Review.DriverRecommendation == models.RecommendHandoff {
		return SwapDecision{Swap: true, Reason: ReasonNavigatorHandoff}
	}
	if p.MaxConsecutiveRounds > 0 && rounds >= p.MaxConsecutiveRounds {
		return SwapDecision{Swap: true, Reason: fmt.Sprintf("safety_cap_rounds_%d", p.MaxConsecutiveRounds)}
	}
	if p.MaxConsecutiveCheckpoints > 0 && checkpoints >= p.MaxConsecutiveCheckpoints {
		return SwapDecision{Swap: true, Reason: fmt.Sprintf("safety_cap_checkpoints_%d", p.MaxConsecutiveCheckpoints)}
	}
	return SwapDecision{Reason: ReasonContinue}
}
