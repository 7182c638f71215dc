package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mpataki/tandem/internal/models"
	"github.com/mpataki/tandem/internal/observer"
	"github.com/mpataki/tandem/internal/protocol"
	"github.com/mpataki/tandem/internal/telemetry"
	"github.com/mpataki/tandem/internal/tracker"
	"github.com/mpataki/tandem/internal/worker"
)

// Agent is the orchestrator's view of a worker. *worker.Worker implements it.
type Agent interface {
	SharedContext
	ID() models.AgentID
	SetRole(role models.Role)
	AppendPrivate(text string)
	Prompt(ctx context.Context, text string) (string, error)
	Subscribe(o worker.Observer) func()
	Steer(text string) error
}

// Observer is the session's observability sink.
type Observer interface {
	Record(ev observer.Event)
	Flush(status observer.Status, errMsg string) observer.Summary
}

type RoundInput struct {
	Round     int
	Task      string
	Plan      string
	Driver    Agent
	Navigator Agent
}

// Engine runs the fixed per-round sequence: driver turn, navigator review,
// and a driver decision when there is feedback.
type Engine struct {
	journal  *Journal
	pause    models.PauseStrategy
	turn     models.TurnPolicy
	observer Observer
	logger   *slog.Logger
	metrics  *telemetry.Metrics
}

func NewEngine(journal *Journal, pause models.PauseStrategy, turn models.TurnPolicy, obs Observer, logger *slog.Logger, metrics *telemetry.Metrics) *Engine {
	if obs == nil {
		obs = observer.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if pause == nil {
		pause = models.PauseNone{}
	}
	if turn == nil {
		turn = models.AlternateEachRound{}
	}
	return &Engine{journal: journal, pause: pause, turn: turn, observer: obs, logger: logger, metrics: metrics}
}

func (e *Engine) RunRound(ctx context.Context, in RoundInput) (models.RoundResult, error) {
	driver, navigator := in.Driver.ID(), in.Navigator.ID()
	ctx, span := telemetry.StartRoundSpan(ctx, in.Round, string(driver), string(navigator))
	res, err := e.runRound(ctx, in)
	telemetry.End(span, err)
	return res, err
}

func (e *Engine) runRound(ctx context.Context, in RoundInput) (models.RoundResult, error) {
	driver, navigator := in.Driver.ID(), in.Navigator.ID()
	log := e.logger.With("round", in.Round, "driver", string(driver), "navigator", string(navigator))

	in.Driver.SetRole(models.RoleDriver)
	in.Navigator.SetRole(models.RoleNavigator)

	e.observer.Record(observer.Event{
		Type:  observer.EventRoundStart,
		Round: in.Round,
		Agent: string(driver),
		Data:  map[string]any{"navigator": string(navigator)},
	})
	log.Info("round started")

	tr := tracker.New(e.pause, func(phase tracker.Phase, checkpoint int) {
		msg := protocol.CheckpointMessage(phase == tracker.PhaseFeedbackResolution, checkpoint)
		if err := in.Driver.Steer(msg); err != nil {
			log.Warn("failed to steer driver", "checkpoint", checkpoint, "error", err)
		}
		e.observer.Record(observer.Event{
			Type:  observer.EventCheckpoint,
			Round: in.Round,
			Agent: string(driver),
			Data:  map[string]any{"checkpoint": checkpoint, "phase": string(phase)},
		})
		log.Info("checkpoint fired", "checkpoint", checkpoint, "phase", phase)
	})

	text, err := e.promptDriver(ctx, in, tr, protocol.DriverTurnPrompt(protocol.DriverTurn{
		Task:        in.Task,
		Plan:        in.Plan,
		Round:       in.Round,
		Counterpart: navigator,
		PausePolicy: e.pause.Describe(),
		TurnPolicy:  e.turn.Describe(),
	}))
	if err != nil {
		return models.RoundResult{}, fmt.Errorf("round %d driver turn: %w", in.Round, err)
	}
	report := protocol.ParseDriverReport(text)
	e.journal.Append(StageDriverReport, string(driver), protocol.FormatDriverReport(in.Round, report))

	driving := tr.Snapshot()
	text, err = in.Navigator.Prompt(ctx, protocol.NavigatorReviewPrompt(protocol.NavigatorTurn{
		Task:            in.Task,
		Plan:            in.Plan,
		Round:           in.Round,
		Driver:          driver,
		Report:          report,
		PauseTriggered:  driving.PauseTriggered,
		CheckpointCount: driving.CheckpointCount,
		TurnPolicy:      e.turn.Describe(),
	}))
	if err != nil {
		return models.RoundResult{}, fmt.Errorf("round %d navigator review: %w", in.Round, err)
	}
	review := protocol.ParseNavigatorReview(text)
	if review.PrivateReflection != "" {
		in.Navigator.AppendPrivate(review.PrivateReflection)
	}
	e.journal.Append(StageNavigatorReview, string(navigator), protocol.FormatNavigatorReview(in.Round, review))

	var decision *models.DriverDecision
	if review.HasFeedback {
		tr.SetPhase(tracker.PhaseFeedbackResolution)
		text, err = e.promptDriver(ctx, in, tr, protocol.DriverDecisionPrompt(in.Round, navigator, review.PublicFeedback))
		if err != nil {
			return models.RoundResult{}, fmt.Errorf("round %d driver decision: %w", in.Round, err)
		}
		d := protocol.ParseDriverDecision(text)
		decision = &d
		e.journal.Append(StageDriverDecision, string(driver), protocol.FormatDriverDecision(in.Round, d))
	}

	snap := tr.Snapshot()
	res := models.RoundResult{
		Round:                 in.Round,
		Driver:                driver,
		Navigator:             navigator,
		PauseTriggered:        snap.PauseTriggered,
		CheckpointCount:       snap.CheckpointCount,
		EditWriteCallCount:    snap.EditWriteCallCount,
		EstimatedWrittenBytes: snap.EstimatedWrittenBytes,
		Report:                report,
		Review:                review,
		Decision:              decision,
	}

	data := map[string]any{
		"status":       string(report.Status),
		"has_feedback": review.HasFeedback,
		"checkpoints":  snap.CheckpointCount,
		"bytes":        snap.EstimatedWrittenBytes,
	}
	if decision != nil {
		data["decision"] = string(decision.Decision)
	}
	e.observer.Record(observer.Event{Type: observer.EventRoundEnd, Round: in.Round, Agent: string(driver), Data: data})
	e.metrics.RoundCompleted(ctx, string(driver), snap.CheckpointCount)
	log.Info("round finished", "status", report.Status, "has_feedback", review.HasFeedback, "checkpoints", snap.CheckpointCount)
	return res, nil
}

// promptDriver sends one driver prompt with the tracker attached only for the
// duration of the call.
func (e *Engine) promptDriver(ctx context.Context, in RoundInput, tr *tracker.Tracker, prompt string) (string, error) {
	unsubscribe := in.Driver.Subscribe(worker.ObserverFunc(func(ev models.ToolEvent) {
		if ev.Kind == models.ToolCallEnd {
			e.observer.Record(observer.Event{
				Type:    observer.EventToolCall,
				Round:   in.Round,
				Agent:   string(in.Driver.ID()),
				Message: ev.ToolName,
				Data:    map[string]any{"call_id": ev.CallID, "is_error": ev.IsError},
			})
		}
		tr.Observe(ev)
	}))
	defer unsubscribe()
	return in.Driver.Prompt(ctx, prompt)
}
