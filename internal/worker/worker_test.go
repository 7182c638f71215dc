package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/tandem/internal/models"
)

type fakeRuntime struct {
	calls []Call
	run   func(ctx context.Context, call *Call) (Result, error)
}

func (f *fakeRuntime) Run(ctx context.Context, call *Call) (Result, error) {
	f.calls = append(f.calls, *call)
	if f.run != nil {
		return f.run(ctx, call)
	}
	return Result{Text: "ok", StopReason: StopEnd}, nil
}

func newTestWorker(rt Runtime) *Worker {
	return New(Config{ID: models.AgentA, Model: models.ModelSpec{Provider: "fake", Model: "m", Effort: models.EffortLow}, WorkDir: "/tmp/ws", Runtime: rt})
}

func TestPromptRendersPendingContextOnce(t *testing.T) {
	rt := &fakeRuntime{}
	w := newTestWorker(rt)
	w.SetRole(models.RoleDriver)
	w.AppendShared("[plan] A: do it")
	w.AppendPrivate("remember the tests")

	_, err := w.Prompt(context.Background(), "go")
	require.NoError(t, err)
	_, err = w.Prompt(context.Background(), "again")
	require.NoError(t, err)

	require.Len(t, rt.calls, 2)
	first := rt.calls[0].Prompt
	assert.Contains(t, first, "DRIVER")
	assert.Contains(t, first, "[plan] A: do it")
	assert.Contains(t, first, "remember the tests")
	assert.True(t, strings.HasSuffix(first, "\n\ngo"))
	assert.Less(t, strings.Index(first, "DRIVER"), strings.Index(first, "[plan] A: do it"))
	assert.Equal(t, "again", rt.calls[1].Prompt)
}

func TestRoleChangeQueuesBriefing(t *testing.T) {
	rt := &fakeRuntime{}
	w := newTestWorker(rt)
	w.SetRole(models.RoleNavigator)
	_, err := w.Prompt(context.Background(), "one")
	require.NoError(t, err)

	w.SetRole(models.RoleNavigator)
	_, err = w.Prompt(context.Background(), "two")
	require.NoError(t, err)

	w.SetRole(models.RoleDriver)
	_, err = w.Prompt(context.Background(), "three")
	require.NoError(t, err)

	assert.Contains(t, rt.calls[0].Prompt, "NAVIGATOR")
	assert.Equal(t, "two", rt.calls[1].Prompt)
	assert.Contains(t, rt.calls[2].Prompt, "DRIVER")
}

func TestToolsFollowRole(t *testing.T) {
	rt := &fakeRuntime{}
	w := newTestWorker(rt)

	w.SetRole(models.RoleDriver)
	assert.Equal(t, []string{"read", "grep", "find", "ls", "bash", "edit", "write"}, w.Tools())
	_, err := w.Prompt(context.Background(), "x")
	require.NoError(t, err)

	w.SetRole(models.RoleNavigator)
	assert.Equal(t, []string{"read", "grep", "find", "ls"}, w.Tools())
	_, err = w.Prompt(context.Background(), "y")
	require.NoError(t, err)

	assert.Contains(t, rt.calls[0].Tools, "write")
	assert.NotContains(t, rt.calls[1].Tools, "write")
	assert.NotContains(t, rt.calls[1].Tools, "edit")
	assert.Equal(t, models.RoleNavigator, rt.calls[1].Role)
}

func TestToolsForReturnsCopy(t *testing.T) {
	tools := ToolsFor(models.RoleDriver)
	tools[0] = "mutated"
	assert.Equal(t, "read", ToolsFor(models.RoleDriver)[0])
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	rt := &fakeRuntime{run: func(_ context.Context, call *Call) (Result, error) {
		call.OnEvent(models.ToolEvent{Kind: models.ToolCallStart, CallID: "1", ToolName: "edit"})
		call.OnEvent(models.ToolEvent{Kind: models.ToolCallEnd, CallID: "1", ToolName: "edit"})
		return Result{Text: "done", StopReason: StopEnd}, nil
	}}
	w := newTestWorker(rt)

	var seen []models.ToolEventKind
	unsubscribe := w.Subscribe(ObserverFunc(func(ev models.ToolEvent) { seen = append(seen, ev.Kind) }))
	_, err := w.Prompt(context.Background(), "x")
	require.NoError(t, err)
	unsubscribe()
	_, err = w.Prompt(context.Background(), "y")
	require.NoError(t, err)

	assert.Equal(t, []models.ToolEventKind{models.ToolCallStart, models.ToolCallEnd}, seen)
}

func TestSteerOnlyWhileInFlight(t *testing.T) {
	var steered []string
	var w *Worker
	rt := &fakeRuntime{run: func(_ context.Context, call *Call) (Result, error) {
		require.NoError(t, w.Steer("checkpoint"))
		select {
		case msg := <-call.Steer:
			steered = append(steered, msg)
		default:
		}
		return Result{Text: "ok", StopReason: StopEnd}, nil
	}}
	w = newTestWorker(rt)

	assert.ErrorIs(t, w.Steer("too early"), ErrNotInFlight)
	_, err := w.Prompt(context.Background(), "x")
	require.NoError(t, err)
	assert.ErrorIs(t, w.Steer("too late"), ErrNotInFlight)
	assert.Equal(t, []string{"checkpoint"}, steered)
}

func TestSteerReportsFullQueue(t *testing.T) {
	var errs []error
	var delivered []string
	var w *Worker
	rt := &fakeRuntime{run: func(_ context.Context, call *Call) (Result, error) {
		for i := 0; i < 20; i++ {
			errs = append(errs, w.Steer(fmt.Sprintf("checkpoint %d", i)))
		}
		for len(call.Steer) > 0 {
			delivered = append(delivered, <-call.Steer)
		}
		return Result{Text: "ok", StopReason: StopEnd}, nil
	}}
	w = newTestWorker(rt)

	_, err := w.Prompt(context.Background(), "x")
	require.NoError(t, err)

	require.Len(t, errs, 20)
	for i, err := range errs {
		if i < 16 {
			assert.NoError(t, err, "steer %d", i)
		} else {
			assert.ErrorIs(t, err, ErrSteerDropped, "steer %d", i)
		}
	}
	assert.Len(t, delivered, 16)

	var recorded []string
	for _, m := range w.History() {
		if m.Kind == MessageSteer {
			recorded = append(recorded, m.Content)
		}
	}
	assert.Equal(t, delivered, recorded)
}

func TestStopReasonsBecomeInvocationErrors(t *testing.T) {
	tests := []struct {
		name   string
		result Result
		err    error
		reason StopReason
		msg    string
	}{
		{name: "error", result: Result{StopReason: StopError, ErrorMessage: "rate limited"}, reason: StopError, msg: "rate limited"},
		{name: "aborted", result: Result{StopReason: StopAborted, ErrorMessage: "context canceled"}, reason: StopAborted, msg: "context canceled"},
		{name: "runtime failure", err: errors.New("exec: not found"), reason: StopError, msg: "exec: not found"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rt := &fakeRuntime{run: func(context.Context, *Call) (Result, error) { return tc.result, tc.err }}
			w := newTestWorker(rt)

			text, err := w.Prompt(context.Background(), "x")
			assert.Empty(t, text)
			require.ErrorIs(t, err, ErrInvocationFailed)
			var invErr *InvocationError
			require.ErrorAs(t, err, &invErr)
			assert.Equal(t, tc.reason, invErr.StopReason)
			assert.Equal(t, models.AgentA, invErr.Agent)
			assert.Contains(t, err.Error(), tc.msg)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
			}
		})
	}
}

func TestSessionIDCarriesOver(t *testing.T) {
	rt := &fakeRuntime{run: func(context.Context, *Call) (Result, error) {
		return Result{Text: "ok", StopReason: StopEnd, SessionID: "sess-9"}, nil
	}}
	w := newTestWorker(rt)
	_, err := w.Prompt(context.Background(), "x")
	require.NoError(t, err)
	_, err = w.Prompt(context.Background(), "y")
	require.NoError(t, err)

	assert.Empty(t, rt.calls[0].SessionID)
	assert.Equal(t, "sess-9", rt.calls[1].SessionID)
	assert.Equal(t, "/tmp/ws", rt.calls[1].WorkDir)
}

func TestHistoryAndPrivateNotes(t *testing.T) {
	rt := &fakeRuntime{}
	w := newTestWorker(rt)
	w.AppendShared("shared one")
	w.AppendPrivate("secret")
	_, err := w.Prompt(context.Background(), "x")
	require.NoError(t, err)

	assert.Equal(t, []string{"secret"}, w.PrivateNotes())
	kinds := make([]MessageKind, 0)
	for _, m := range w.History() {
		kinds = append(kinds, m.Kind)
	}
	assert.Equal(t, []MessageKind{MessageShared, MessagePrivate, MessagePrompt, MessageResponse}, kinds)
}
