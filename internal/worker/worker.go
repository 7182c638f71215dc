// Package worker holds the per-agent conversation state and drives model
// invocations through a pluggable Runtime.
package worker

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/mpataki/tandem/internal/models"
	"github.com/mpataki/tandem/internal/protocol"
	"github.com/mpataki/tandem/internal/telemetry"
)

var (
	driverTools    = []string{"read", "grep", "find", "ls", "bash", "edit", "write"}
	navigatorTools = []string{"read", "grep", "find", "ls"}
)

// ToolsFor returns the tool set granted to a role.
func ToolsFor(role models.Role) []string {
	if role == models.RoleDriver {
		return append([]string(nil), driverTools...)
	}
	return append([]string(nil), navigatorTools...)
}

// Observer receives tool events while an invocation is in flight.
type Observer interface {
	Observe(models.ToolEvent)
}

type ObserverFunc func(models.ToolEvent)

func (f ObserverFunc) Observe(ev models.ToolEvent) { f(ev) }

type MessageKind string

const (
	MessageShared   MessageKind = "shared"
	MessagePrivate  MessageKind = "private"
	MessagePrompt   MessageKind = "prompt"
	MessageResponse MessageKind = "response"
	MessageSteer    MessageKind = "steer"
)

// Message is one entry of a worker's conversation as kept for audit.
type Message struct {
	Kind    MessageKind `json:"kind"`
	Content string      `json:"content"`
}

type Config struct {
	ID      models.AgentID
	Model   models.ModelSpec
	WorkDir string
	Runtime Runtime
	Logger  *slog.Logger
	Metrics *telemetry.Metrics
}

// Worker is owned by the session orchestrator. Invocations are serialized;
// Steer is the only method meant to be called while Prompt is blocked.
type Worker struct {
	id      models.AgentID
	model   models.ModelSpec
	workDir string
	runtime Runtime
	logger  *slog.Logger
	metrics *telemetry.Metrics

	mu             sync.Mutex
	role           models.Role
	briefing       string
	briefed        bool
	pendingShared  []string
	pendingPrivate []string
	history        []Message
	private        []string
	observers      map[int]Observer
	nextObserver   int
	steer          chan string
	sessionID      string
}

func New(cfg Config) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		id:        cfg.ID,
		model:     cfg.Model,
		workDir:   cfg.WorkDir,
		runtime:   cfg.Runtime,
		logger:    logger.With("agent", string(cfg.ID)),
		metrics:   cfg.Metrics,
		role:      models.RoleNavigator,
		observers: make(map[int]Observer),
	}
}

func (w *Worker) ID() models.AgentID { return w.id }

func (w *Worker) Model() models.ModelSpec { return w.model }

// SetRole switches the tool set used by the next invocation. A change of
// role queues a briefing ahead of the next prompt.
func (w *Worker) SetRole(role models.Role) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.role == role && w.briefed {
		return
	}
	w.role = role
	w.briefed = true
	w.briefing = protocol.RoleBriefing(w.id, role)
}

func (w *Worker) Role() models.Role {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.role
}

func (w *Worker) Tools() []string {
	return ToolsFor(w.Role())
}

// AppendShared adds a rendered journal entry to the worker's view.
func (w *Worker) AppendShared(text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pendingShared = append(w.pendingShared, text)
	w.history = append(w.history, Message{Kind: MessageShared, Content: text})
}

// AppendPrivate adds a note only this worker will see.
func (w *Worker) AppendPrivate(text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pendingPrivate = append(w.pendingPrivate, text)
	w.private = append(w.private, text)
	w.history = append(w.history, Message{Kind: MessagePrivate, Content: text})
}

// Subscribe registers an observer for tool events. The returned function
// unregisters it.
func (w *Worker) Subscribe(o Observer) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.nextObserver
	w.nextObserver++
	w.observers[id] = o
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.observers, id)
	}
}

// Steer injects text into the live invocation. It returns ErrSteerDropped
// when the runtime has stopped draining steer messages.
func (w *Worker) Steer(text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.steer == nil {
		return ErrNotInFlight
	}
	select {
	case w.steer <- text:
	default:
		return ErrSteerDropped
	}
	w.history = append(w.history, Message{Kind: MessageSteer, Content: text})
	return nil
}

func (w *Worker) History() []Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Message(nil), w.history...)
}

func (w *Worker) PrivateNotes() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.private...)
}

// Prompt sends text, preceded by any pending context, and blocks until the
// runtime finishes. Error and abort terminations return an *InvocationError.
func (w *Worker) Prompt(ctx context.Context, text string) (string, error) {
	w.mu.Lock()
	if w.steer != nil {
		w.mu.Unlock()
		return "", ErrBusy
	}
	prompt := w.composeLocked(text)
	steer := make(chan string, 16)
	w.steer = steer
	w.history = append(w.history, Message{Kind: MessagePrompt, Content: prompt})
	call := &Call{
		Agent:     w.id,
		Role:      w.role,
		Prompt:    prompt,
		Tools:     ToolsFor(w.role),
		Model:     w.model,
		WorkDir:   w.workDir,
		SessionID: w.sessionID,
		OnEvent:   w.dispatch,
		Steer:     steer,
	}
	w.mu.Unlock()

	ctx, span := telemetry.StartInvocationSpan(ctx, string(w.id), string(call.Role))
	w.metrics.Invoked(ctx, string(w.id), string(call.Role))
	w.logger.Debug("invoking worker", "role", call.Role, "prompt_bytes", len(prompt))

	res, err := w.runtime.Run(ctx, call)

	w.mu.Lock()
	w.steer = nil
	if res.SessionID != "" {
		w.sessionID = res.SessionID
	}
	if err == nil && res.StopReason == StopEnd {
		w.history = append(w.history, Message{Kind: MessageResponse, Content: res.Text})
	}
	w.mu.Unlock()

	if err != nil {
		err = &InvocationError{Agent: w.id, StopReason: StopError, Message: err.Error(), Err: err}
	} else if res.StopReason != StopEnd {
		err = &InvocationError{Agent: w.id, StopReason: res.StopReason, Message: res.ErrorMessage}
	}
	telemetry.End(span, err)
	if err != nil {
		return "", err
	}
	w.logger.Debug("worker invocation finished", "role", call.Role, "response_bytes", len(res.Text))
	return res.Text, nil
}

func (w *Worker) dispatch(ev models.ToolEvent) {
	w.mu.Lock()
	obs := make([]Observer, 0, len(w.observers))
	for i := 0; i < w.nextObserver; i++ {
		if o, ok := w.observers[i]; ok {
			obs = append(obs, o)
		}
	}
	w.mu.Unlock()

	for _, o := range obs {
		o.Observe(ev)
	}
}

func (w *Worker) composeLocked(text string) string {
	var b strings.Builder
	if w.briefing != "" {
		b.WriteString(w.briefing)
		b.WriteString("\n\n")
		w.briefing = ""
	}
	if len(w.pendingShared) > 0 {
		b.WriteString("Shared journal, new entries:\n")
		for _, e := range w.pendingShared {
			b.WriteString(e)
			b.WriteString("\n")
		}
		b.WriteString("\n")
		w.pendingShared = nil
	}
	if len(w.pendingPrivate) > 0 {
		b.WriteString("Your private notes:\n")
		for _, e := range w.pendingPrivate {
			b.WriteString(e)
			b.WriteString("\n")
		}
		b.WriteString("\n")
		w.pendingPrivate = nil
	}
	b.WriteString(text)
	return b.String()
}
