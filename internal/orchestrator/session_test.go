package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/tandem/internal/models"
	"github.com/mpataki/tandem/internal/observer"
	"github.com/mpataki/tandem/internal/protocol"
	"github.com/mpataki/tandem/internal/worker"
)

func runSession(t *testing.T, p *pair, opts Options, obs Observer) (*models.PairRunResult, error) {
	t.Helper()
	s, err := NewSession(Config{Options: opts, A: p.a, B: p.b, Observer: obs, Now: fixedClock(), RunID: "run-1"})
	require.NoError(t, err)
	return s.Run(context.Background(), "add a health endpoint")
}

func kinds(rt *scriptedRuntime) []promptKind {
	out := make([]promptKind, len(rt.calls))
	for i, c := range rt.calls {
		out[i] = c.kind
	}
	return out
}

func countStage(entries []models.JournalEntry, stage string) int {
	n := 0
	for _, e := range entries {
		if e.Stage == stage {
			n++
		}
	}
	return n
}

func TestAlternatePolicyDriverSequence(t *testing.T) {
	p := newPair(&script{})
	log := observer.New(observer.Options{})
	res, err := runSession(t, p, Options{MaxRounds: 4, Turn: models.AlternateEachRound{}}, log)
	require.NoError(t, err)

	assert.Equal(t, []models.AgentID{"A", "B", "A", "B"}, driversOf(res.Rounds))
	assert.Equal(t, 3, res.Summary.TotalSwaps)
	assert.Equal(t, 3, countStage(res.Journal, StageSwap))
	require.NotNil(t, res.Observability)
	assert.Equal(t, 4, res.Observability.Rounds)
	assert.Equal(t, 3, res.Observability.Swaps)
	assert.Equal(t, observer.StatusCompleted, res.Observability.Status)
	assert.Equal(t, models.RunStatusCompleted, res.Status)
}

func TestStickyWithoutHandoffKeepsDriver(t *testing.T) {
	p := newPair(&script{})
	res, err := runSession(t, p, Options{
		MaxRounds: 4,
		Turn:      models.StickyUntilSignoff{MaxConsecutiveRounds: 10, MaxConsecutiveCheckpoints: 10},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, []models.AgentID{"A", "A", "A", "A"}, driversOf(res.Rounds))
	assert.Zero(t, res.Summary.TotalSwaps)
	assert.Zero(t, countStage(res.Journal, StageSwap))
	assert.Nil(t, res.Observability)
}

func TestNavigatorHandoffSwapsBeforeCap(t *testing.T) {
	p := newPair(&script{handoff: func(round int) bool { return round == 2 }})
	log := observer.New(observer.Options{Dir: t.TempDir()})
	res, err := runSession(t, p, Options{
		MaxRounds: 4,
		Turn:      models.StickyUntilSignoff{MaxConsecutiveRounds: 3, MaxConsecutiveCheckpoints: 10},
	}, log)
	require.NoError(t, err)

	assert.Equal(t, []models.AgentID{"A", "A", "B", "B"}, driversOf(res.Rounds))
	assert.Equal(t, 1, res.Summary.TotalSwaps)

	var swap models.JournalEntry
	for _, e := range res.Journal {
		if e.Stage == StageSwap {
			swap = e
		}
	}
	assert.Contains(t, swap.Content, "after round 2")
	assert.Contains(t, swap.Content, ReasonNavigatorHandoff)
	assert.Equal(t, models.ActorSystem, swap.Actor)

	events, err := observer.ReadEvents(res.Observability.EventsPath)
	require.NoError(t, err)
	var swaps []observer.Event
	for _, ev := range events {
		if ev.Type == observer.EventDriverSwap {
			swaps = append(swaps, ev)
		}
	}
	require.Len(t, swaps, 1)
	assert.Equal(t, ReasonNavigatorHandoff, swaps[0].Message)
	assert.Equal(t, 2, swaps[0].Round)
}

func TestDoneWithNoFeedbackStopsEarly(t *testing.T) {
	p := newPair(&script{
		status:   func(int) string { return "done" },
		feedback: func(int) string { return "NONE." },
	})
	res, err := runSession(t, p, Options{MaxRounds: 5}, nil)
	require.NoError(t, err)

	require.Len(t, res.Rounds, 1)
	assert.Nil(t, res.Rounds[0].Decision)
	assert.False(t, res.Rounds[0].Review.HasFeedback)
	assert.Zero(t, res.Summary.TotalSwaps)
	assert.Zero(t, countStage(res.Journal, StageSwap))
	assert.NotContains(t, kinds(p.rtA), kindDecision)
}

func TestDoneWithFeedbackKeepsGoing(t *testing.T) {
	p := newPair(&script{
		status: func(int) string { return "done" },
		feedback: func(round int) string {
			if round == 1 {
				return "the handler ignores HEAD requests"
			}
			return "NONE"
		},
	})
	res, err := runSession(t, p, Options{MaxRounds: 5}, nil)
	require.NoError(t, err)

	require.Len(t, res.Rounds, 2)
	require.NotNil(t, res.Rounds[0].Decision)
	assert.Equal(t, models.DecisionAccept, res.Rounds[0].Decision.Decision)
	assert.Equal(t, []models.AgentID{"A", "B"}, driversOf(res.Rounds))
}

func TestReplayIsDeterministic(t *testing.T) {
	s := &script{
		writes:   func(agent models.AgentID, round int) int { return round },
		feedback: func(round int) string {
			if round%2 == 1 {
				return "rename it"
			}
			return "NONE"
		},
		handoff:  func(round int) bool { return round == 3 },
	}
	opts := Options{
		MaxRounds: 5,
		Pause:     models.PauseEveryNCalls{EditsPerPause: 2, CountedTools: []string{"edit", "write"}},
		Turn:      models.StickyUntilSignoff{MaxConsecutiveRounds: 2, MaxConsecutiveCheckpoints: 3},
	}

	first, err := runSession(t, newPair(s), opts, nil)
	require.NoError(t, err)
	second, err := runSession(t, newPair(s), opts, nil)
	require.NoError(t, err)

	assert.Equal(t, first.Journal, second.Journal)
	assert.Equal(t, first.Rounds, second.Rounds)
	assert.Equal(t, first.Summary, second.Summary)
}

func TestRoundFailureFlushesObserver(t *testing.T) {
	dir := t.TempDir()
	p := newPair(&script{failAt: func(agent models.AgentID, kind promptKind, round int) bool {
		return agent == models.AgentA && kind == kindNavigator && round == 2
	}})
	log := observer.New(observer.Options{Dir: dir})

	res, err := runSession(t, p, Options{MaxRounds: 4}, log)
	assert.Nil(t, res)
	require.Error(t, err)
	assert.ErrorIs(t, err, worker.ErrInvocationFailed)
	assert.Contains(t, err.Error(), "upstream model unavailable")

	var runErr *RunError
	require.True(t, errors.As(err, &runErr))
	assert.Equal(t, StageNameRound, runErr.Stage)
	assert.Equal(t, 2, runErr.Round)
	require.NotNil(t, runErr.Observability)
	assert.Equal(t, observer.StatusFailed, runErr.Observability.Status)
	assert.Equal(t, err.Error(), runErr.Observability.Error)
	assert.Equal(t, 1, runErr.Observability.Rounds)

	_, statErr := os.Stat(filepath.Join(dir, observer.SummaryFile))
	require.NoError(t, statErr)
	events, err := observer.ReadEvents(filepath.Join(dir, observer.EventsFile))
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, observer.EventSessionStart, events[0].Type)
	assert.Equal(t, observer.EventSessionFailed, events[len(events)-1].Type)
}

func TestPlanningFailure(t *testing.T) {
	p := newPair(&script{failAt: func(agent models.AgentID, kind promptKind, _ int) bool {
		return agent == models.AgentB && kind == kindCritique
	}})
	_, err := runSession(t, p, Options{}, observer.New(observer.Options{}))

	var runErr *RunError
	require.ErrorAs(t, err, &runErr)
	assert.Equal(t, StageNamePlanning, runErr.Stage)
	assert.Contains(t, err.Error(), "plan critique")
}

func TestSharesFromWrittenBytes(t *testing.T) {
	p := newPair(&script{writes: func(agent models.AgentID, _ int) int {
		if agent == models.AgentA {
			return 1
		}
		return 2
	}})
	res, err := runSession(t, p, Options{MaxRounds: 2}, nil)
	require.NoError(t, err)

	a, b := res.Summary.Contributions[models.AgentA], res.Summary.Contributions[models.AgentB]
	assert.Equal(t, 10, a.EstimatedBytes)
	assert.Equal(t, 20, b.EstimatedBytes)
	assert.Equal(t, 33.3, a.RoughCodeSharePercent)
	assert.Equal(t, 66.7, b.RoughCodeSharePercent)
	assert.InDelta(t, 100, a.RoughCodeSharePercent+b.RoughCodeSharePercent, 0.1)
}

func TestCheckpointsSteerTheDriver(t *testing.T) {
	p := newPair(&script{writes: func(models.AgentID, int) int { return 5 }})
	log := observer.New(observer.Options{})
	res, err := runSession(t, p, Options{
		MaxRounds: 1,
		Pause:     models.PauseEveryNCalls{EditsPerPause: 2, CountedTools: []string{"write"}},
	}, log)
	require.NoError(t, err)

	r := res.Rounds[0]
	assert.True(t, r.PauseTriggered)
	assert.Equal(t, 2, r.CheckpointCount)
	assert.Equal(t, 5, r.EditWriteCallCount)
	assert.Equal(t, 50, r.EstimatedWrittenBytes)
	require.Len(t, p.rtA.steers, 2)
	assert.Equal(t, protocol.CheckpointMessage(false, 1), p.rtA.steers[0])
	assert.Equal(t, protocol.CheckpointMessage(false, 2), p.rtA.steers[1])
	assert.Equal(t, 2, res.Observability.Checkpoints)
	assert.Equal(t, 5, res.Observability.Counts[observer.EventToolCall])
}

func TestRolesAndPrivacy(t *testing.T) {
	p := newPair(&script{reflection: "secret-x", feedback: func(int) string { return "tighten the test" }})
	res, err := runSession(t, p, Options{MaxRounds: 2}, nil)
	require.NoError(t, err)

	for _, rt := range []*scriptedRuntime{p.rtA, p.rtB} {
		for _, c := range rt.calls {
			switch c.kind {
			case kindDriver, kindDecision:
				assert.Equal(t, models.RoleDriver, c.role)
				assert.Contains(t, c.tools, "write")
			default:
				assert.Equal(t, models.RoleNavigator, c.role, "kind %s", c.kind)
				assert.NotContains(t, c.tools, "write")
				assert.NotContains(t, c.tools, "edit")
			}
		}
	}

	for _, e := range res.Journal {
		assert.NotContains(t, e.Content, "secret-x")
	}
	assert.Contains(t, p.b.PrivateNotes(), "secret-x")
	assert.Contains(t, p.a.PrivateNotes(), "secret-x")

	shared := func(w *worker.Worker) []string {
		var out []string
		for _, m := range w.History() {
			if m.Kind == worker.MessageShared {
				out = append(out, m.Content)
			}
		}
		return out
	}
	var rendered []string
	for _, e := range res.Journal {
		rendered = append(rendered, protocol.RenderEntry(e))
	}
	assert.Equal(t, rendered, shared(p.a))
	assert.Equal(t, rendered, shared(p.b))
}

func TestPairedFinalReview(t *testing.T) {
	p := newPair(&script{status: func(int) string { return "done" }})
	res, err := runSession(t, p, Options{Synthesizer: models.AgentB}, nil)
	require.NoError(t, err)

	assert.Equal(t, models.VerdictApproved, res.Final.JointVerdict)
	assert.Equal(t, "review by A", res.Final.ReviewA)
	assert.Equal(t, "review by B", res.Final.ReviewB)
	assert.Equal(t, "synthesized by B", res.Final.Rationale)

	ka, kb := kinds(p.rtA), kinds(p.rtB)
	assert.Equal(t, []promptKind{kindPlan, kindPlan}, ka[:2])
	assert.Equal(t, kindCritique, kb[0])
	assert.Equal(t, kindFinal, ka[len(ka)-1])
	assert.Equal(t, kindJoint, kb[len(kb)-1])
	assert.Equal(t, 2, countStage(res.Journal, StageFinalReview))
	assert.Equal(t, StageJointVerdict, res.Journal[len(res.Journal)-1].Stage)
	assert.Equal(t, "plan by A", res.Plan)
}

func TestFinalReviewsAreIndependent(t *testing.T) {
	p := newPair(&script{status: func(int) string { return "done" }})
	res, err := runSession(t, p, Options{}, nil)
	require.NoError(t, err)

	finalPrompt := func(w *worker.Worker) string {
		for _, m := range w.History() {
			if m.Kind == worker.MessagePrompt && classify(m.Content) == kindFinal {
				return m.Content
			}
		}
		return ""
	}
	promptA, promptB := finalPrompt(p.a), finalPrompt(p.b)
	require.NotEmpty(t, promptA)
	require.NotEmpty(t, promptB)
	assert.NotContains(t, promptA, "review by B")
	assert.NotContains(t, promptB, "review by A")

	var reviews []models.JournalEntry
	for _, e := range res.Journal {
		if e.Stage == StageFinalReview {
			reviews = append(reviews, e)
		}
	}
	require.Len(t, reviews, 2)
	assert.Equal(t, "A", reviews[0].Actor)
	assert.Contains(t, reviews[0].Content, "review by A")
	assert.Equal(t, "B", reviews[1].Actor)
	assert.Contains(t, reviews[1].Content, "review by B")
}

func TestSoloStrategy(t *testing.T) {
	tests := []struct {
		name      string
		feedback  string
		decision  string
		verdict   models.Verdict
		nextSteps string
		decided   bool
	}{
		{name: "no feedback", feedback: "NONE", verdict: models.VerdictApproved},
		{name: "accepted feedback", feedback: "add tests", decision: "accept", verdict: models.VerdictApproved, decided: true},
		{name: "rejected feedback", feedback: "add tests", decision: "reject", verdict: models.VerdictNeedsMoreWork, nextSteps: "add tests", decided: true},
		{name: "partial feedback", feedback: "add tests", decision: "partial", verdict: models.VerdictNeedsMoreWork, nextSteps: "add tests", decided: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := newPair(&script{
				feedback: func(int) string { return tc.feedback },
				decision: tc.decision,
				writes:   func(models.AgentID, int) int { return 1 },
			})
			res, err := runSession(t, p, Options{
				Strategy: models.StrategySoloDriverThenReviewer,
				Turn:     models.AlternateEachRound{},
			}, nil)
			require.NoError(t, err)

			require.Len(t, res.Rounds, 1)
			assert.Equal(t, models.AgentA, res.Rounds[0].Driver)
			assert.Equal(t, tc.decided, res.Rounds[0].Decision != nil)
			assert.Equal(t, tc.verdict, res.Final.JointVerdict)
			assert.Equal(t, tc.nextSteps, res.Final.NextSteps)
			assert.Zero(t, res.Summary.TotalSwaps)
			assert.Equal(t, 100.0, res.Summary.Contributions[models.AgentA].RoughCodeSharePercent)

			assert.NotContains(t, kinds(p.rtB), kindPlan)
			assert.NotContains(t, kinds(p.rtB), kindCritique)
			assert.NotContains(t, kinds(p.rtA), kindJoint)
			assert.NotContains(t, kinds(p.rtB), kindFinal)
			assert.Equal(t, 1, countStage(res.Journal, StagePlan))
		})
	}
}

func TestNewSessionRejectsBadConfig(t *testing.T) {
	p := newPair(&script{})
	_, err := NewSession(Config{Options: Options{MaxRounds: -1}, A: p.a, B: p.b})
	assert.ErrorIs(t, err, ErrInvalidOptions)

	_, err = NewSession(Config{A: p.b, B: p.a})
	assert.ErrorIs(t, err, ErrInvalidOptions)

	_, err = NewSession(Config{A: p.a})
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestRunErrorMessageIsVerbatim(t *testing.T) {
	cause := errors.New("round 3 driver turn: boom")
	err := &RunError{Stage: StageNameRound, Round: 3, Err: cause}
	assert.Equal(t, "round 3 driver turn: boom", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.True(t, strings.HasPrefix(err.Error(), "round 3"))
}
