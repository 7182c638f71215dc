package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/mpataki/tandem/internal/models"
)

type StopReason string

const (
	StopEnd     StopReason = "end"
	StopError   StopReason = "error"
	StopAborted StopReason = "aborted"
)

var (
	ErrInvocationFailed = errors.New("worker invocation failed")
	ErrNotInFlight      = errors.New("worker has no invocation in flight")
	ErrBusy             = errors.New("worker invocation already in flight")
	ErrSteerDropped     = errors.New("steer queue full, message dropped")
)

// Call is one invocation handed to a Runtime. OnEvent must be called
// synchronously for every tool event; Steer delivers messages injected while
// the call is outstanding.
type Call struct {
	Agent     models.AgentID
	Role      models.Role
	Prompt    string
	Tools     []string
	Model     models.ModelSpec
	WorkDir   string
	SessionID string
	OnEvent   func(models.ToolEvent)
	Steer     <-chan string
}

type Result struct {
	Text         string
	StopReason   StopReason
	SessionID    string
	ErrorMessage string
}

// Runtime executes model invocations. An error return means the runtime
// could not be driven at all; model-level failures are reported through
// Result.StopReason.
type Runtime interface {
	Run(ctx context.Context, call *Call) (Result, error)
}

// InvocationError reports an invocation that ended with an error or abort.
type InvocationError struct {
	Agent      models.AgentID
	StopReason StopReason
	Message    string
	Err        error
}

func (e *InvocationError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("agent %s invocation %s", e.Agent, e.StopReason)
	}
	return fmt.Sprintf("agent %s invocation %s: %s", e.Agent, e.StopReason, e.Message)
}

func (e *InvocationError) Is(target error) bool { return target == ErrInvocationFailed }

func (e *InvocationError) Unwrap() error { return e.Err }
