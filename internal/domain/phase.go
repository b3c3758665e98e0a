package domain

import (
	"encoding/json"
	"strings"
)

// Phase is one of the nine fixed lifecycle stages of a project.
type Phase string

const (
	PhaseIngest      Phase = "ingest"
	PhaseAnalyze     Phase = "analyze"
	PhaseDesign      Phase = "design"
	PhaseDevelop     Phase = "develop"
	PhaseImplement   Phase = "implement"
	PhaseEvaluate    Phase = "evaluate"
	PhasePersonalize Phase = "personalize"
	PhasePortal      Phase = "portal"
	PhaseGovern      Phase = "govern"
)

// Phases lists every phase in lifecycle order.
var Phases = []Phase{
	PhaseIngest,
	PhaseAnalyze,
	PhaseDesign,
	PhaseDevelop,
	PhaseImplement,
	PhaseEvaluate,
	PhasePersonalize,
	PhasePortal,
	PhaseGovern,
}

// Index returns the position of p in the lifecycle order, or -1.
func (p Phase) Index() int {
	for i, ph := range Phases {
		if ph == p {
			return i
		}
	}
	return -1
}

func (p Phase) Valid() bool {
	return p.Index() >= 0
}

// Title is the human name used in error messages.
func (p Phase) Title() string {
	if p == "" {
		return ""
	}
	return strings.ToUpper(string(p[:1])) + string(p[1:])
}

// Before returns the phases strictly earlier than p.
func (p Phase) Before() []Phase {
	idx := p.Index()
	if idx <= 0 {
		return nil
	}
	return Phases[:idx]
}

func ParsePhase(s string) (Phase, error) {
	p := Phase(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", Errorf(KindValidationFailed, "unknown phase %q; expected one of %s", s, phaseList())
	}
	return p, nil
}

func phaseList() string {
	names := make([]string, len(Phases))
	for i, p := range Phases {
		names[i] = string(p)
	}
	return strings.Join(names, ", ")
}

type PhaseState string

const (
	PhasePending    PhaseState = "pending"
	PhaseInProgress PhaseState = "in_progress"
	PhaseCompleted  PhaseState = "completed"
	PhaseSkipped    PhaseState = "skipped"
)

// Terminal reports whether the state can never change again.
func (s PhaseState) Terminal() bool {
	return s == PhaseCompleted || s == PhaseSkipped
}

// PhaseStatus is the per-phase record held inside a project.
type PhaseStatus struct {
	Status      PhaseState      `json:"status" enum:"pending,in_progress,completed,skipped"`
	StartedAt   *string         `json:"started_at,omitempty" format:"date-time"`
	CompletedAt *string         `json:"completed_at,omitempty" format:"date-time"`
	Data        json.RawMessage `json:"data,omitempty"`
}
