package worker

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/mpataki/tandem/internal/models"
)

const (
	defaultClaudeBinary = "claude"
	maxStreamLine       = 8 * 1024 * 1024
)

func init() {
	RegisterRuntime("claude", func(config map[string]string) (Runtime, error) {
		maxTurns := 0
		if v := config["max_turns"]; v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("claude: invalid max_turns %q: %w", v, err)
			}
			maxTurns = n
		}
		return NewClaude(config["binary"], maxTurns, nil), nil
	})
}

// thinking token budgets per reasoning effort
var thinkingTokens = map[models.ReasoningEffort]int{
	models.EffortOff:     0,
	models.EffortMinimal: 1024,
	models.EffortLow:     4000,
	models.EffortMedium:  10000,
	models.EffortHigh:    20000,
	models.EffortXHigh:   31999,
}

// Claude runs invocations through the claude CLI in streaming print mode.
type Claude struct {
	Binary   string
	MaxTurns int
	logger   *slog.Logger
}

func NewClaude(binary string, maxTurns int, logger *slog.Logger) *Claude {
	if binary == "" {
		binary = defaultClaudeBinary
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Claude{Binary: binary, MaxTurns: maxTurns, logger: logger}
}

// Args builds the CLI arguments for a call.
func (c *Claude) Args(call *Call) []string {
	args := []string{
		"-p",
		"--input-format", "stream-json",
		"--output-format", "stream-json",
		"--verbose",
	}
	if call.Model.Model != "" {
		args = append(args, "--model", call.Model.Model)
	}
	allowed := claudeTools(call.Tools)
	args = append(args, "--allowedTools", strings.Join(allowed, ","))
	if denied := deniedTools(allowed); len(denied) > 0 {
		args = append(args, "--disallowedTools", strings.Join(denied, ","))
	}
	if c.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(c.MaxTurns))
	}
	if call.SessionID != "" {
		args = append(args, "--resume", call.SessionID)
	}
	return args
}

func deniedTools(allowed []string) []string {
	all := claudeTools(driverTools)
	var denied []string
	for _, t := range all {
		found := false
		for _, a := range allowed {
			if a == t {
				found = true
				break
			}
		}
		if !found {
			denied = append(denied, t)
		}
	}
	return denied
}

func (c *Claude) Run(ctx context.Context, call *Call) (Result, error) {
	cmd := exec.CommandContext(ctx, c.Binary, c.Args(call)...)
	cmd.Dir = call.WorkDir
	cmd.Env = append(os.Environ(), "MAX_THINKING_TOKENS="+strconv.Itoa(thinkingTokens[call.Model.Effort]))

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return Result{}, fmt.Errorf("failed to open claude stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("failed to open claude stdout: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("failed to start claude: %w", err)
	}

	in := &stdinWriter{w: stdin}
	if err := in.send(call.Prompt); err != nil {
		// the process exited early; its stderr is reported below
		c.logger.Debug("failed to send prompt to claude", "agent", string(call.Agent), "error", err)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case msg := <-call.Steer:
				if err := in.send(msg); err != nil {
					c.logger.Warn("failed to steer claude", "agent", string(call.Agent), "error", err)
				}
			case <-done:
				return
			}
		}
	}()

	dec := newStreamDecoder(call.OnEvent)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxStreamLine)
	for scanner.Scan() {
		isResult, err := dec.Feed(scanner.Bytes())
		if err != nil {
			c.logger.Debug("skipping claude output line", "error", err)
			continue
		}
		if isResult {
			in.closeIfSettled(dec.Results())
		}
	}
	close(done)
	in.close()
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return Result{StopReason: StopAborted, SessionID: dec.sessionID, ErrorMessage: ctx.Err().Error()}, nil
	}
	if dec.Results() == 0 {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" && waitErr != nil {
			msg = waitErr.Error()
		}
		if msg == "" {
			msg = "claude exited without a result"
		}
		return Result{StopReason: StopError, SessionID: dec.sessionID, ErrorMessage: msg}, nil
	}
	return dec.Result(), nil
}

// stdinWriter serializes user messages and closes stdin once every sent
// message has been answered by a result.
type stdinWriter struct {
	mu     sync.Mutex
	w      io.WriteCloser
	sent   int
	closed bool
}

func (s *stdinWriter) send(text string) error {
	data, err := encodeUserMessage(text)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return io.ErrClosedPipe
	}
	s.sent++
	_, err = s.w.Write(data)
	return err
}

func (s *stdinWriter) closeIfSettled(results int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed && results >= s.sent {
		s.closed = true
		_ = s.w.Close()
	}
}

func (s *stdinWriter) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		_ = s.w.Close()
	}
}
