package orchestrator

import (
	"math"

	"github.com/mpataki/tandem/internal/models"
)

// Summarize accumulates per-driver contributions over the rounds. Code share
// is byte-based when any bytes were estimated and falls back to rounds driven.
func Summarize(rounds []models.RoundResult, swaps int) models.RunSummary {
	s := models.RunSummary{
		TotalSwaps: swaps,
		Contributions: map[models.AgentID]models.ContributionSummary{
			models.AgentA: {},
			models.AgentB: {},
		},
	}
	totalRounds := 0
	for _, r := range rounds {
		c := s.Contributions[r.Driver]
		c.EstimatedBytes += r.EstimatedWrittenBytes
		c.ToolCalls += r.EditWriteCallCount
		c.RoundsDriven++
		c.CheckpointsAsDriver += r.CheckpointCount
		s.Contributions[r.Driver] = c

		s.TotalCheckpoints += r.CheckpointCount
		s.TotalEstimatedBytes += r.EstimatedWrittenBytes
		totalRounds++
	}

	for id, c := range s.Contributions {
		switch {
		case s.TotalEstimatedBytes > 0:
			c.RoughCodeSharePercent = roundTenth(float64(c.EstimatedBytes) / float64(s.TotalEstimatedBytes) * 100)
		case totalRounds > 0:
			c.RoughCodeSharePercent = roundTenth(float64(c.RoundsDriven) / float64(totalRounds) * 100)
		default:
			c.RoughCodeSharePercent = 0
		}
		s.Contributions[id] = c
	}
	return s
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}
