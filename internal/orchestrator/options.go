// Package orchestrator runs a two-agent pairing session: planning, the
// driver/navigator round loop, swap decisions and the final joint review.
package orchestrator

import (
	"errors"
	"fmt"

	"github.com/mpataki/tandem/internal/models"
)

var ErrInvalidOptions = errors.New("invalid session options")

const DefaultMaxRounds = 6

// Options configure one session. Pause and Turn are closed variants; a nil
// value falls back to PauseNone and AlternateEachRound.
type Options struct {
	Strategy      models.Strategy
	MaxRounds     int
	InitialDriver models.AgentID
	Pause         models.PauseStrategy
	Turn          models.TurnPolicy
	// Synthesizer writes the joint verdict in paired_turns.
	Synthesizer models.AgentID
}

func DefaultOptions() Options {
	return Options{
		Strategy:      models.StrategyPairedTurns,
		MaxRounds:     DefaultMaxRounds,
		InitialDriver: models.AgentA,
		Pause:         models.PauseNone{},
		Turn:          models.AlternateEachRound{},
		Synthesizer:   models.AgentA,
	}
}

// withDefaults fills zero values from DefaultOptions.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Strategy == "" {
		o.Strategy = d.Strategy
	}
	if o.MaxRounds == 0 {
		o.MaxRounds = d.MaxRounds
	}
	if o.InitialDriver == "" {
		o.InitialDriver = d.InitialDriver
	}
	if o.Pause == nil {
		o.Pause = d.Pause
	}
	if o.Turn == nil {
		o.Turn = d.Turn
	}
	if o.Synthesizer == "" {
		o.Synthesizer = d.Synthesizer
	}
	return o
}

func (o Options) Validate() error {
	switch o.Strategy {
	case models.StrategyPairedTurns, models.StrategySoloDriverThenReviewer:
	default:
		return fmt.Errorf("%w: unknown strategy %q", ErrInvalidOptions, o.Strategy)
	}
	if o.MaxRounds < 1 {
		return fmt.Errorf("%w: max rounds must be at least 1, got %d", ErrInvalidOptions, o.MaxRounds)
	}
	if !o.InitialDriver.Valid() {
		return fmt.Errorf("%w: invalid initial driver %q", ErrInvalidOptions, o.InitialDriver)
	}
	if !o.Synthesizer.Valid() {
		return fmt.Errorf("%w: invalid synthesizer %q", ErrInvalidOptions, o.Synthesizer)
	}

	switch p := o.Pause.(type) {
	case models.PauseNone:
	case models.PauseEveryNCalls:
		if p.EditsPerPause < 1 {
			return fmt.Errorf("%w: edits per pause must be at least 1, got %d", ErrInvalidOptions, p.EditsPerPause)
		}
		if len(p.CountedTools) == 0 {
			return fmt.Errorf("%w: counted tools must not be empty", ErrInvalidOptions)
		}
	default:
		return fmt.Errorf("%w: unsupported pause strategy %T", ErrInvalidOptions, o.Pause)
	}

	switch p := o.Turn.(type) {
	case models.AlternateEachRound:
	case models.StickyUntilSignoff:
		if p.MaxConsecutiveRounds < 1 || p.MaxConsecutiveCheckpoints < 1 {
			return fmt.Errorf("%w: sticky caps must be at least 1, got rounds=%d checkpoints=%d",
				ErrInvalidOptions, p.MaxConsecutiveRounds, p.MaxConsecutiveCheckpoints)
		}
	default:
		return fmt.Errorf("%w: unsupported turn policy %T", ErrInvalidOptions, o.Turn)
	}
	return nil
}
