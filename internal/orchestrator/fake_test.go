package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/mpataki/tandem/internal/models"
	"github.com/mpataki/tandem/internal/worker"
)

type promptKind string

const (
	kindPlan      promptKind = "plan"
	kindCritique  promptKind = "critique"
	kindDriver    promptKind = "driver"
	kindNavigator promptKind = "navigator"
	kindDecision  promptKind = "decision"
	kindFinal     promptKind = "final"
	kindJoint     promptKind = "joint"
)

var roundPattern = regexp.MustCompile(`Round (\d+): (?:you are driving|agent)`)

func classify(prompt string) promptKind {
	switch {
	case strings.Contains(prompt, "<joint_verdict>"):
		return kindJoint
	case strings.Contains(prompt, "independent final review"):
		return kindFinal
	case strings.Contains(prompt, "<decision>"):
		return kindDecision
	case strings.Contains(prompt, "<driver_recommendation>"):
		return kindNavigator
	case strings.Contains(prompt, "<questions_for_navigator>"):
		return kindDriver
	case strings.Contains(prompt, "Critique it"):
		return kindCritique
	}
	return kindPlan
}

func roundOf(prompt string) int {
	m := roundPattern.FindStringSubmatch(prompt)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// script describes how both scripted agents behave, indexed by round.
type script struct {
	status     func(round int) string
	feedback   func(round int) string
	handoff    func(round int) bool
	writes     func(agent models.AgentID, round int) int
	decision   string
	verdict    string
	reflection string
	failAt     func(agent models.AgentID, kind promptKind, round int) bool
}

func (s *script) withDefaults() *script {
	if s.status == nil {
		s.status = func(int) string { return "continue" }
	}
	if s.feedback == nil {
		s.feedback = func(int) string { return "NONE" }
	}
	if s.handoff == nil {
		s.handoff = func(int) bool { return false }
	}
	if s.writes == nil {
		s.writes = func(models.AgentID, int) int { return 0 }
	}
	if s.decision == "" {
		s.decision = "accept"
	}
	if s.verdict == "" {
		s.verdict = "APPROVED"
	}
	if s.failAt == nil {
		s.failAt = func(models.AgentID, promptKind, int) bool { return false }
	}
	return s
}

type call struct {
	kind  promptKind
	round int
	role  models.Role
	tools []string
}

// scriptedRuntime answers prompts for one agent according to a script.
type scriptedRuntime struct {
	agent  models.AgentID
	script *script
	calls  []call
	steers []string
}

func (r *scriptedRuntime) Run(_ context.Context, c *worker.Call) (worker.Result, error) {
	kind, round := classify(c.Prompt), roundOf(c.Prompt)
	r.calls = append(r.calls, call{kind: kind, round: round, role: c.Role, tools: c.Tools})
	if r.script.failAt(r.agent, kind, round) {
		return worker.Result{StopReason: worker.StopError, ErrorMessage: "upstream model unavailable"}, nil
	}

	switch kind {
	case kindPlan:
		return ok(fmt.Sprintf("<plan>plan by %s</plan>", r.agent)), nil
	case kindCritique:
		return ok(fmt.Sprintf("<public_feedback>critique by %s</public_feedback>", r.agent)), nil
	case kindDriver:
		for i := 0; i < r.script.writes(r.agent, round); i++ {
			id := fmt.Sprintf("%s-%d-%d", r.agent, round, i)
			c.OnEvent(models.ToolEvent{Kind: models.ToolCallStart, CallID: id, ToolName: models.ToolWrite, Args: map[string]any{"content": "0123456789"}})
			c.OnEvent(models.ToolEvent{Kind: models.ToolCallEnd, CallID: id, ToolName: models.ToolWrite})
			r.drain(c)
		}
		return ok(fmt.Sprintf("<status>%s</status><summary>%s round %d</summary><changes>main.go</changes>",
			r.script.status(round), r.agent, round)), nil
	case kindNavigator:
		rec := "continue"
		if r.script.handoff(round) {
			rec = "handoff"
		}
		text := fmt.Sprintf("<public_feedback>%s</public_feedback><driver_recommendation>%s</driver_recommendation>",
			r.script.feedback(round), rec)
		if r.script.reflection != "" {
			text = "<private_reflection>" + r.script.reflection + "</private_reflection>" + text
		}
		return ok(text), nil
	case kindDecision:
		return ok(fmt.Sprintf("<decision>%s</decision><justification>%s decided</justification>", r.script.decision, r.agent)), nil
	case kindFinal:
		return ok(fmt.Sprintf("<private_reflection>final thoughts %s</private_reflection><public_feedback>review by %s</public_feedback>", r.agent, r.agent)), nil
	case kindJoint:
		return ok(fmt.Sprintf("<joint_verdict>%s</joint_verdict><rationale>synthesized by %s</rationale>", r.script.verdict, r.agent)), nil
	}
	return ok(""), nil
}

func (r *scriptedRuntime) drain(c *worker.Call) {
	for {
		select {
		case msg := <-c.Steer:
			r.steers = append(r.steers, msg)
		default:
			return
		}
	}
}

func ok(text string) worker.Result {
	return worker.Result{Text: text, StopReason: worker.StopEnd}
}

type pair struct {
	a, b     *worker.Worker
	rtA, rtB *scriptedRuntime
}

func newPair(s *script) *pair {
	s = s.withDefaults()
	rtA := &scriptedRuntime{agent: models.AgentA, script: s}
	rtB := &scriptedRuntime{agent: models.AgentB, script: s}
	return &pair{
		a:   worker.New(worker.Config{ID: models.AgentA, Runtime: rtA}),
		b:   worker.New(worker.Config{ID: models.AgentB, Runtime: rtB}),
		rtA: rtA,
		rtB: rtB,
	}
}

func fixedClock() func() time.Time {
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	n := 0
	return func() time.Time {
		n++
		return t0.Add(time.Duration(n) * time.Second)
	}
}

// driversOf lists the driver of each round.
func driversOf(rounds []models.RoundResult) []models.AgentID {
	out := make([]models.AgentID, len(rounds))
	for i, r := range rounds {
		out[i] = r.Driver
	}
	return out
}
