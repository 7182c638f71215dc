package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mpataki/tandem/internal/models"
	"github.com/mpataki/tandem/internal/observer"
	"github.com/mpataki/tandem/internal/protocol"
	"github.com/mpataki/tandem/internal/telemetry"
)

// Failure stages reported by RunError.
const (
	StageNamePlanning = "planning"
	StageNameRound    = "round"
	StageNameFinal    = "final_review"
	StageNameSession  = "session"
)

// RunError is returned when a session aborts. The observability trail has
// already been flushed as failed when it is returned.
type RunError struct {
	Stage         string
	Round         int
	Err           error
	Observability *observer.Summary
}

func (e *RunError) Error() string { return e.Err.Error() }

func (e *RunError) Unwrap() error { return e.Err }

type Config struct {
	Options  Options
	A        Agent
	B        Agent
	Observer Observer
	Logger   *slog.Logger
	Metrics  *telemetry.Metrics
	// Now stamps journal entries; inject a fixed clock for replayable runs.
	Now   func() time.Time
	RunID string
}

// Session owns the shared journal and drives one run to completion.
type Session struct {
	opts     Options
	agents   map[models.AgentID]Agent
	observer Observer
	observed bool
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	now      func() time.Time
	runID    string
	journal  *Journal
}

func NewSession(cfg Config) (*Session, error) {
	opts := cfg.Options.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if cfg.A == nil || cfg.B == nil {
		return nil, fmt.Errorf("%w: both agents are required", ErrInvalidOptions)
	}
	if cfg.A.ID() != models.AgentA || cfg.B.ID() != models.AgentB {
		return nil, fmt.Errorf("%w: agents must be A and B, got %s and %s", ErrInvalidOptions, cfg.A.ID(), cfg.B.ID())
	}

	s := &Session{
		opts:     opts,
		agents:   map[models.AgentID]Agent{models.AgentA: cfg.A, models.AgentB: cfg.B},
		observer: cfg.Observer,
		observed: cfg.Observer != nil,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		now:      cfg.Now,
		runID:    cfg.RunID,
	}
	if s.observer == nil {
		s.observer = observer.Nop{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.runID == "" {
		s.runID = uuid.NewString()
	}
	s.journal = NewJournal(s.now, cfg.A, cfg.B)
	return s, nil
}

func (s *Session) Options() Options { return s.opts }

// Journal exposes the live shared journal, mainly for inspection in tests.
func (s *Session) Journal() *Journal { return s.journal }

// Run executes the configured strategy. On failure the observer is flushed
// with status failed and a *RunError is returned.
func (s *Session) Run(ctx context.Context, task string) (*models.PairRunResult, error) {
	ctx, span := telemetry.StartSessionSpan(ctx, s.runID, string(s.opts.Strategy))
	log := s.logger.With("run_id", s.runID, "strategy", string(s.opts.Strategy))

	s.observer.Record(observer.Event{
		Type:    observer.EventSessionStart,
		Message: task,
		Data: map[string]any{
			"run_id":         s.runID,
			"strategy":       string(s.opts.Strategy),
			"max_rounds":     s.opts.MaxRounds,
			"initial_driver": string(s.opts.InitialDriver),
			"pause":          s.opts.Pause.Name(),
			"turn":           s.opts.Turn.Name(),
		},
	})
	log.Info("session started")

	result := &models.PairRunResult{RunID: s.runID, Task: task, Strategy: s.opts.Strategy}
	var err error
	switch s.opts.Strategy {
	case models.StrategySoloDriverThenReviewer:
		err = s.runSolo(ctx, task, result)
	default:
		err = s.runPaired(ctx, task, result)
	}

	if err != nil {
		var runErr *RunError
		if !errors.As(err, &runErr) {
			runErr = &RunError{Stage: StageNameSession, Err: err}
		}
		s.observer.Record(observer.Event{
			Type:    observer.EventSessionFailed,
			Round:   runErr.Round,
			Message: runErr.Error(),
			Data:    map[string]any{"stage": runErr.Stage},
		})
		summary := s.observer.Flush(observer.StatusFailed, runErr.Error())
		if s.observed {
			runErr.Observability = &summary
		}
		s.metrics.SessionEnded(ctx, string(models.RunStatusFailed))
		telemetry.End(span, runErr)
		log.Error("session failed", "stage", runErr.Stage, "error", runErr.Err)
		return nil, runErr
	}

	result.Summary = Summarize(result.Rounds, result.Summary.TotalSwaps)
	result.Journal = s.journal.Entries()
	result.Status = models.RunStatusCompleted

	s.observer.Record(observer.Event{
		Type:    observer.EventSessionEnd,
		Message: string(result.Final.JointVerdict),
		Data: map[string]any{
			"rounds": len(result.Rounds),
			"swaps":  result.Summary.TotalSwaps,
		},
	})
	summary := s.observer.Flush(observer.StatusCompleted, "")
	if s.observed {
		result.Observability = &summary
	}
	s.metrics.SessionEnded(ctx, string(models.RunStatusCompleted))
	telemetry.End(span, nil)
	log.Info("session completed", "verdict", result.Final.JointVerdict, "rounds", len(result.Rounds), "swaps", result.Summary.TotalSwaps)
	return result, nil
}

func (s *Session) runPaired(ctx context.Context, task string, result *models.PairRunResult) error {
	a, b := s.agents[models.AgentA], s.agents[models.AgentB]

	plan, err := s.planPaired(ctx, task, a, b)
	if err != nil {
		return &RunError{Stage: StageNamePlanning, Err: err}
	}
	result.Plan = plan

	engine := NewEngine(s.journal, s.opts.Pause, s.opts.Turn, s.observer, s.logger, s.metrics)
	driver := s.opts.InitialDriver
	consecutiveRounds, consecutiveCheckpoints := 0, 0
	for round := 1; ; round++ {
		res, err := engine.RunRound(ctx, RoundInput{
			Round:     round,
			Task:      task,
			Plan:      plan,
			Driver:    s.agents[driver],
			Navigator: s.agents[driver.Other()],
		})
		if err != nil {
			return &RunError{Stage: StageNameRound, Round: round, Err: err}
		}
		result.Rounds = append(result.Rounds, res)
		consecutiveRounds++
		consecutiveCheckpoints += res.CheckpointCount

		if res.Report.Status == models.StatusDone && !res.Review.HasFeedback {
			s.logger.Info("driver finished with no open feedback", "round", round, "driver", string(driver))
			break
		}
		if round >= s.opts.MaxRounds {
			s.logger.Info("round limit reached", "round", round, "max_rounds", s.opts.MaxRounds)
			break
		}

		decision := DecideSwap(res, consecutiveRounds, consecutiveCheckpoints, s.opts.Turn)
		if !decision.Swap {
			continue
		}
		previous := driver
		driver = driver.Other()
		result.Summary.TotalSwaps++
		consecutiveRounds, consecutiveCheckpoints = 0, 0
		s.journal.Append(StageSwap, models.ActorSystem,
			fmt.Sprintf("Driver swap after round %d: %s hands over to %s (%s)", round, previous, driver, decision.Reason))
		s.observer.Record(observer.Event{
			Type:    observer.EventDriverSwap,
			Round:   round,
			Agent:   string(driver),
			Message: decision.Reason,
			Data:    map[string]any{"from": string(previous), "to": string(driver)},
		})
		s.metrics.Swapped(ctx, decision.Reason)
		s.logger.Info("driver swapped", "round", round, "driver", string(driver), "reason", decision.Reason)
	}

	final, err := s.finalReview(ctx, task, plan, a, b)
	if err != nil {
		return &RunError{Stage: StageNameFinal, Err: err}
	}
	result.Final = final
	return nil
}

func (s *Session) planPaired(ctx context.Context, task string, a, b Agent) (string, error) {
	a.SetRole(models.RoleNavigator)
	b.SetRole(models.RoleNavigator)

	text, err := a.Prompt(ctx, protocol.PlanDraft(task, b.ID()))
	if err != nil {
		return "", fmt.Errorf("plan draft: %w", err)
	}
	draft := protocol.ExtractOr(text, protocol.TagPlan, text)
	s.journal.Append(StagePlanDraft, string(a.ID()), draft)
	s.recordPlanStep(StagePlanDraft, a.ID())

	text, err = b.Prompt(ctx, protocol.PlanCritique(task, draft, a.ID()))
	if err != nil {
		return "", fmt.Errorf("plan critique: %w", err)
	}
	critique := protocol.ExtractOr(text, protocol.TagPublicFeedback, text)
	s.journal.Append(StagePlanCritique, string(b.ID()), critique)
	s.recordPlanStep(StagePlanCritique, b.ID())

	text, err = a.Prompt(ctx, protocol.PlanRevise(task, critique, b.ID()))
	if err != nil {
		return "", fmt.Errorf("plan revision: %w", err)
	}
	plan := protocol.ExtractOr(text, protocol.TagPlan, text)
	s.journal.Append(StagePlan, string(a.ID()), plan)
	s.recordPlanStep(StagePlan, a.ID())
	return plan, nil
}

func (s *Session) recordPlanStep(step string, agent models.AgentID) {
	s.observer.Record(observer.Event{Type: observer.EventPlanStep, Agent: string(agent), Message: step})
}

func (s *Session) finalReview(ctx context.Context, task, plan string, a, b Agent) (models.FinalReview, error) {
	a.SetRole(models.RoleNavigator)
	b.SetRole(models.RoleNavigator)

	// Reviews stay out of the journal until both are in.
	notes := make(map[models.AgentID]models.ReviewNotes, 2)
	for _, w := range []Agent{a, b} {
		text, err := w.Prompt(ctx, protocol.FinalReviewPrompt(task, plan, w.ID().Other()))
		if err != nil {
			return models.FinalReview{}, fmt.Errorf("final review by %s: %w", w.ID(), err)
		}
		n := protocol.ParseReviewNotes(text)
		if n.PrivateReflection != "" {
			w.AppendPrivate(n.PrivateReflection)
		}
		notes[w.ID()] = n
	}
	for _, id := range []models.AgentID{models.AgentA, models.AgentB} {
		s.journal.Append(StageFinalReview, string(id), notes[id].PublicFeedback)
	}

	synth := s.agents[s.opts.Synthesizer]
	reviewA, reviewB := notes[models.AgentA].PublicFeedback, notes[models.AgentB].PublicFeedback
	text, err := synth.Prompt(ctx, protocol.JointVerdictPrompt(task, plan, reviewA, reviewB))
	if err != nil {
		return models.FinalReview{}, fmt.Errorf("joint verdict by %s: %w", synth.ID(), err)
	}
	final := protocol.ParseJointVerdict(text, reviewA, reviewB)
	s.journal.Append(StageJointVerdict, string(synth.ID()), protocol.FormatFinalReview(final))
	s.recordFinal(final, synth.ID(), false)
	return final, nil
}

func (s *Session) recordFinal(final models.FinalReview, agent models.AgentID, synthesized bool) {
	s.observer.Record(observer.Event{
		Type:    observer.EventFinalReview,
		Agent:   string(agent),
		Message: string(final.JointVerdict),
		Data:    map[string]any{"synthesized": synthesized},
	})
}

// runSolo has A plan and drive a single round end to end; B reviews once.
// The verdict is derived from that round rather than from another review.
func (s *Session) runSolo(ctx context.Context, task string, result *models.PairRunResult) error {
	a, b := s.agents[models.AgentA], s.agents[models.AgentB]

	a.SetRole(models.RoleNavigator)
	text, err := a.Prompt(ctx, protocol.SoloPlan(task))
	if err != nil {
		return &RunError{Stage: StageNamePlanning, Err: fmt.Errorf("solo plan: %w", err)}
	}
	plan := protocol.ExtractOr(text, protocol.TagPlan, text)
	s.journal.Append(StagePlan, string(a.ID()), plan)
	s.recordPlanStep(StagePlan, a.ID())
	result.Plan = plan

	engine := NewEngine(s.journal, s.opts.Pause, s.opts.Turn, s.observer, s.logger, s.metrics)
	res, err := engine.RunRound(ctx, RoundInput{Round: 1, Task: task, Plan: plan, Driver: a, Navigator: b})
	if err != nil {
		return &RunError{Stage: StageNameRound, Round: 1, Err: err}
	}
	result.Rounds = []models.RoundResult{res}

	final := models.FinalReview{
		ReviewA:      res.Report.Summary,
		ReviewB:      res.Review.PublicFeedback,
		JointVerdict: models.VerdictNeedsMoreWork,
	}
	switch {
	case !res.Review.HasFeedback:
		final.JointVerdict = models.VerdictApproved
		final.Rationale = "Reviewer had no feedback."
	case res.Decision != nil && res.Decision.Decision == models.DecisionAccept:
		final.JointVerdict = models.VerdictApproved
		final.Rationale = "Driver accepted and addressed the reviewer's feedback."
	default:
		final.Rationale = "Reviewer feedback was not fully accepted."
		final.NextSteps = res.Review.PublicFeedback
	}
	s.journal.Append(StageJointVerdict, models.ActorSystem, protocol.FormatFinalReview(final))
	s.recordFinal(final, models.AgentA, true)
	result.Final = final
	return nil
}
