package domain

import (
	"slices"
	"sort"
)

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

type ApprovalStage struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Order         int            `json:"order"`
	RequiredRoles []string       `json:"required_roles,omitempty"`
	Status        ApprovalStatus `json:"status" enum:"pending,approved,rejected"`
	ApproverID    string         `json:"approver_id,omitempty"`
	DecidedAt     *string        `json:"decided_at,omitempty" format:"date-time"`
	Notes         string         `json:"notes,omitempty"`
}

// ApprovalWorkflow is an ordered list of stages decided strictly by Order.
type ApprovalWorkflow struct {
	Stages []ApprovalStage `json:"stages"`
}

// Satisfied reports whether the workflow has stages and all are approved.
func (w ApprovalWorkflow) Satisfied() bool {
	if len(w.Stages) == 0 {
		return false
	}
	for _, s := range w.Stages {
		if s.Status != ApprovalApproved {
			return false
		}
	}
	return true
}

// Halted reports whether any stage was rejected.
func (w ApprovalWorkflow) Halted() bool {
	for _, s := range w.Stages {
		if s.Status == ApprovalRejected {
			return true
		}
	}
	return false
}

func (w ApprovalWorkflow) stageIndex(id string) (int, error) {
	for i, s := range w.Stages {
		if s.ID == id {
			return i, nil
		}
	}
	return -1, NotFound("approval stage", id)
}

func (w ApprovalWorkflow) clone() ApprovalWorkflow {
	return ApprovalWorkflow{Stages: slices.Clone(w.Stages)}
}

func checkDecidable(s ApprovalStage, actor Actor) error {
	if s.Status != ApprovalPending && s.Status != "" {
		return Errorf(KindAlreadyDecided, "approval stage %q was already %s", s.Name, s.Status)
	}
	if len(s.RequiredRoles) > 0 && !slices.Contains(s.RequiredRoles, actor.Role) {
		return Errorf(KindForbidden, "approval stage %q requires one of the roles %v", s.Name, s.RequiredRoles)
	}
	return nil
}

// Approve returns a copy of w with the stage approved by actor at the given time.
func (w ApprovalWorkflow) Approve(stageID string, actor Actor, notes, at string) (ApprovalWorkflow, error) {
	idx, err := w.stageIndex(stageID)
	if err != nil {
		return w, err
	}
	stage := w.Stages[idx]
	if err := checkDecidable(stage, actor); err != nil {
		return w, err
	}
	for _, s := range w.Stages {
		if s.Order < stage.Order && s.Status != ApprovalApproved {
			return w, Errorf(KindOutOfOrder, "approve stage %q before stage %q", s.Name, stage.Name)
		}
	}
	return w.decide(idx, ApprovalApproved, actor, notes, at), nil
}

// Reject returns a copy of w with the stage rejected. Rejection ignores ordering.
func (w ApprovalWorkflow) Reject(stageID string, actor Actor, notes, at string) (ApprovalWorkflow, error) {
	idx, err := w.stageIndex(stageID)
	if err != nil {
		return w, err
	}
	if err := checkDecidable(w.Stages[idx], actor); err != nil {
		return w, err
	}
	return w.decide(idx, ApprovalRejected, actor, notes, at), nil
}

func (w ApprovalWorkflow) decide(idx int, status ApprovalStatus, actor Actor, notes, at string) ApprovalWorkflow {
	out := w.clone()
	s := out.Stages[idx]
	s.Status = status
	s.ApproverID = actor.ID
	s.DecidedAt = &at
	s.Notes = notes
	out.Stages[idx] = s
	return out
}

// Normalize sorts stages by order and renumbers them contiguously from zero.
func (w *ApprovalWorkflow) Normalize() {
	sort.SliceStable(w.Stages, func(i, j int) bool { return w.Stages[i].Order < w.Stages[j].Order })
	for i := range w.Stages {
		w.Stages[i].Order = i
		if w.Stages[i].Status == "" {
			w.Stages[i].Status = ApprovalPending
		}
	}
}

func (w ApprovalWorkflow) Validate() error {
	seen := map[string]bool{}
	for _, s := range w.Stages {
		if s.Name == "" {
			return Errorf(KindValidationFailed, "approval stage name is required")
		}
		if s.Order < 0 {
			return Errorf(KindValidationFailed, "approval stage %q has a negative order", s.Name)
		}
		if s.ID != "" {
			if seen[s.ID] {
				return Errorf(KindValidationFailed, "duplicate approval stage id %s", s.ID)
			}
			seen[s.ID] = true
		}
		switch s.Status {
		case "", ApprovalPending, ApprovalApproved, ApprovalRejected:
		default:
			return Errorf(KindValidationFailed, "approval stage %q has unknown status %q", s.Name, s.Status)
		}
	}
	return nil
}
