package models

import (
	"fmt"
	"strings"
)

// AgentID identifies one of the two paired workers.
type AgentID string

const (
	AgentA AgentID = "A"
	AgentB AgentID = "B"
)

// ActorSystem is the journal actor for entries written by the orchestrator itself.
const ActorSystem = "system"

func (id AgentID) Valid() bool {
	return id == AgentA || id == AgentB
}

// Other returns the counterpart identity.
func (id AgentID) Other() AgentID {
	if id == AgentA {
		return AgentB
	}
	return AgentA
}

func ParseAgentID(s string) (AgentID, error) {
	id := AgentID(strings.ToUpper(strings.TrimSpace(s)))
	if !id.Valid() {
		return "", fmt.Errorf("invalid agent id %q (want A or B)", s)
	}
	return id, nil
}

type Role string

const (
	RoleDriver    Role = "driver"
	RoleNavigator Role = "navigator"
)

type ReasoningEffort string

const (
	EffortOff     ReasoningEffort = "off"
	EffortMinimal ReasoningEffort = "minimal"
	EffortLow     ReasoningEffort = "low"
	EffortMedium  ReasoningEffort = "medium"
	EffortHigh    ReasoningEffort = "high"
	EffortXHigh   ReasoningEffort = "xhigh"
)

var effortOrder = []ReasoningEffort{EffortOff, EffortMinimal, EffortLow, EffortMedium, EffortHigh, EffortXHigh}

// Rank returns the position of the effort in the ordered enumeration, or -1.
func (e ReasoningEffort) Rank() int {
	for i, v := range effortOrder {
		if v == e {
			return i
		}
	}
	return -1
}

func ParseReasoningEffort(s string) (ReasoningEffort, error) {
	e := ReasoningEffort(strings.ToLower(strings.TrimSpace(s)))
	if e == "" {
		return EffortMedium, nil
	}
	if e.Rank() < 0 {
		return "", fmt.Errorf("invalid reasoning effort %q", s)
	}
	return e, nil
}

// ModelSpec is fixed for the lifetime of a run.
type ModelSpec struct {
	Provider string          `json:"provider"`
	Model    string          `json:"model"`
	Effort   ReasoningEffort `json:"effort"`
}

func (m ModelSpec) String() string {
	return fmt.Sprintf("%s/%s (%s)", m.Provider, m.Model, m.Effort)
}
