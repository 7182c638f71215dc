// Package lua provides a scripted worker runtime for rehearsing pairing
// sessions offline. A script defines respond(call) and returns the model's
// reply text, emitting tool events through the tool() API as it goes.
package lua

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/mpataki/tandem/internal/models"
	"github.com/mpataki/tandem/internal/worker"
)

const Provider = "lua"

func init() {
	worker.RegisterRuntime(Provider, func(config map[string]string) (worker.Runtime, error) {
		if src := config["source"]; src != "" {
			return NewRuntime(src, nil)
		}
		if path := config["script"]; path != "" {
			return LoadRuntime(path, nil)
		}
		return nil, errors.New("lua: script path required")
	})
}

// Runtime executes respond() calls in one sandboxed Lua state, so scripts
// may keep state across invocations.
type Runtime struct {
	mu     sync.Mutex
	L      *lua.LState
	logger *slog.Logger
	logs   []string
	calls  int

	// per-call state
	ctx         context.Context
	call        *worker.Call
	toolSeq     int
	steers      []string
	stop        worker.StopReason
	stopMessage string
}

// LoadRuntime reads a script file and prepares a runtime for it.
func LoadRuntime(path string, logger *slog.Logger) (*Runtime, error) {
	script, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	return NewRuntime(string(script), logger)
}

func NewRuntime(script string, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runtime{logger: logger}

	// Don't load any libraries by default
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	r.L = L
	r.openSafeLibs(L)
	r.registerAPI(L)

	if err := L.DoString(script); err != nil {
		L.Close()
		return nil, fmt.Errorf("failed to load script: %w", err)
	}
	if L.GetGlobal("respond") == lua.LNil {
		L.Close()
		return nil, fmt.Errorf("script must define a 'respond' function")
	}
	return r, nil
}

func (r *Runtime) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.L.Close()
}

// Run calls respond(call) and returns its result as the reply text.
func (r *Runtime) Run(ctx context.Context, call *worker.Call) (worker.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls++
	r.ctx = ctx
	r.call = call
	r.steers = nil
	r.stop = ""
	r.stopMessage = ""
	defer func() {
		r.ctx = nil
		r.call = nil
	}()

	sessionID := call.SessionID
	if sessionID == "" {
		sessionID = fmt.Sprintf("lua-%s", call.Agent)
	}

	L := r.L
	L.SetContext(ctx)
	defer L.RemoveContext()

	L.Push(L.GetGlobal("respond"))
	L.Push(r.callTable(L, call))
	err := L.PCall(1, 1, nil)
	if r.stop != "" {
		return worker.Result{StopReason: r.stop, ErrorMessage: r.stopMessage, SessionID: sessionID}, nil
	}
	if err != nil && ctx.Err() != nil {
		return worker.Result{StopReason: worker.StopAborted, ErrorMessage: ctx.Err().Error(), SessionID: sessionID}, nil
	}
	if err != nil {
		return worker.Result{}, fmt.Errorf("respond failed: %w", err)
	}
	ret := L.Get(-1)
	L.Pop(1)

	if ctx.Err() != nil {
		return worker.Result{StopReason: worker.StopAborted, ErrorMessage: ctx.Err().Error(), SessionID: sessionID}, nil
	}
	text := ""
	if ret != lua.LNil {
		text = ret.String()
	}
	return worker.Result{Text: text, StopReason: worker.StopEnd, SessionID: sessionID}, nil
}

// openSafeLibs loads only the safe standard libraries
func (r *Runtime) openSafeLibs(L *lua.LState) {
	lua.OpenBase(L)

	// Remove dangerous base functions
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)
	L.SetGlobal("print", lua.LNil) // Use log() instead

	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	// Remove non-deterministic math functions
	math := L.GetGlobal("math")
	if tbl, ok := math.(*lua.LTable); ok {
		L.SetField(tbl, "random", lua.LNil)
		L.SetField(tbl, "randomseed", lua.LNil)
	}
}

func (r *Runtime) registerAPI(L *lua.LState) {
	L.SetGlobal("tool", L.NewFunction(r.luaTool))
	L.SetGlobal("interrupted", L.NewFunction(r.luaInterrupted))
	L.SetGlobal("steers", L.NewFunction(r.luaSteers))
	L.SetGlobal("fail", L.NewFunction(r.luaFail))
	L.SetGlobal("abort", L.NewFunction(r.luaAbort))
	L.SetGlobal("log", L.NewFunction(r.luaLog))
}

func (r *Runtime) callTable(L *lua.LState, call *worker.Call) *lua.LTable {
	tools := make([]any, len(call.Tools))
	for i, t := range call.Tools {
		tools[i] = t
	}
	return r.goToLua(L, map[string]any{
		"agent":    string(call.Agent),
		"role":     string(call.Role),
		"prompt":   call.Prompt,
		"tools":    tools,
		"model":    call.Model.Model,
		"effort":   string(call.Model.Effort),
		"index":    float64(r.calls),
		"work_dir": call.WorkDir,
	}).(*lua.LTable)
}

// luaTool implements tool(name, args?, is_error?). It emits a start and end
// event for one tool call and returns the call id.
func (r *Runtime) luaTool(L *lua.LState) int {
	if r.call == nil {
		L.RaiseError("tool() called outside respond()")
		return 0
	}
	if err := r.ctx.Err(); err != nil {
		r.stop = worker.StopAborted
		r.stopMessage = err.Error()
		L.RaiseError("aborted: %v", err)
		return 0
	}

	name := L.CheckString(1)
	var args map[string]any
	if tbl, ok := L.Get(2).(*lua.LTable); ok {
		if m, ok := r.luaToGo(tbl).(map[string]any); ok {
			args = m
		}
	}
	isError := lua.LVAsBool(L.Get(3))

	r.toolSeq++
	id := fmt.Sprintf("lua-%d", r.toolSeq)
	if allowed := r.allowed(name); !allowed {
		isError = true
	}

	if r.call.OnEvent != nil {
		r.call.OnEvent(models.ToolEvent{Kind: models.ToolCallStart, CallID: id, ToolName: name, Args: args})
		r.call.OnEvent(models.ToolEvent{Kind: models.ToolCallEnd, CallID: id, ToolName: name, IsError: isError})
	}
	r.drainSteers()

	L.Push(lua.LString(id))
	return 1
}

// allowed reports whether the tool is in the call's role-scoped set.
func (r *Runtime) allowed(name string) bool {
	for _, t := range r.call.Tools {
		if t == name {
			return true
		}
	}
	return false
}

func (r *Runtime) drainSteers() {
	if r.call == nil || r.call.Steer == nil {
		return
	}
	for {
		select {
		case msg := <-r.call.Steer:
			r.steers = append(r.steers, msg)
		default:
			return
		}
	}
}

func (r *Runtime) luaInterrupted(L *lua.LState) int {
	r.drainSteers()
	L.Push(lua.LBool(len(r.steers) > 0))
	return 1
}

func (r *Runtime) luaSteers(L *lua.LState) int {
	r.drainSteers()
	tbl := L.NewTable()
	for i, s := range r.steers {
		L.SetTable(tbl, lua.LNumber(i+1), lua.LString(s))
	}
	L.Push(tbl)
	return 1
}

// luaFail implements fail(msg?): the call ends with an error stop reason.
func (r *Runtime) luaFail(L *lua.LState) int {
	r.stop = worker.StopError
	r.stopMessage = L.OptString(1, "scripted failure")
	L.RaiseError("fail: %s", r.stopMessage)
	return 0
}

// luaAbort implements abort(msg?): the call ends as aborted.
func (r *Runtime) luaAbort(L *lua.LState) int {
	r.stop = worker.StopAborted
	r.stopMessage = L.OptString(1, "scripted abort")
	L.RaiseError("abort: %s", r.stopMessage)
	return 0
}

func (r *Runtime) luaLog(L *lua.LState) int {
	message := L.CheckString(1)
	r.logs = append(r.logs, message)
	r.logger.Debug("lua script log", "message", message)
	return 0
}

// goToLua converts a Go value to a Lua value
func (r *Runtime) goToLua(L *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case float64:
		return lua.LNumber(val)
	case string:
		return lua.LString(val)
	case []any:
		tbl := L.NewTable()
		for i, item := range val {
			L.SetTable(tbl, lua.LNumber(i+1), r.goToLua(L, item))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for k, item := range val {
			L.SetField(tbl, k, r.goToLua(L, item))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprintf("%v", val))
	}
}

// luaToGo converts a Lua value to a Go value. Tables with a sequence part
// become slices, others maps.
func (r *Runtime) luaToGo(v lua.LValue) any {
	switch val := v.(type) {
	case lua.LBool:
		return bool(val)
	case lua.LNumber:
		return float64(val)
	case lua.LString:
		return string(val)
	case *lua.LTable:
		if n := val.MaxN(); n > 0 {
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, r.luaToGo(val.RawGetInt(i)))
			}
			return out
		}
		out := make(map[string]any)
		val.ForEach(func(k, item lua.LValue) {
			out[k.String()] = r.luaToGo(item)
		})
		return out
	default:
		return nil
	}
}

// Logs returns the messages scripts passed to log().
func (r *Runtime) Logs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.logs...)
}

// IsLuaScript checks if a file is a Lua script
func IsLuaScript(path string) bool {
	return filepath.Ext(path) == ".lua"
}
