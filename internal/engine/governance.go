package engine

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"phaseline/internal/domain"
)

// CreateGovernance stores the governance record. Approval stages supplied
// here start pending regardless of their given status.
func (e Engine) CreateGovernance(ctx context.Context, orgID, projectID string, actor domain.Actor, g domain.Governance) (domain.Governance, error) {
	for i := range g.Approval.Stages {
		s := &g.Approval.Stages[i]
		s.Status = domain.ApprovalPending
		s.ApproverID = ""
		s.DecidedAt = nil
	}
	return createRecord[domain.Governance](ctx, e, orgID, projectID, actor, g)
}

func (e Engine) GetGovernance(ctx context.Context, orgID, projectID string) (domain.Governance, error) {
	return getSingle[domain.Governance](ctx, e, orgID, projectID)
}

// PatchGovernance updates policy sections. The approval workflow changes only
// through the stage operations.
func (e Engine) PatchGovernance(ctx context.Context, g domain.Governance, patch json.RawMessage, actor domain.Actor) (domain.Governance, error) {
	return patchRecord[domain.Governance](ctx, e, g, patch, actor, "approval")
}

func stageID(s domain.ApprovalStage) string { return s.ID }

// AddApprovalStage appends a pending stage after the existing ones.
func (e Engine) AddApprovalStage(ctx context.Context, g domain.Governance, stage domain.ApprovalStage, actor domain.Actor) (domain.Governance, error) {
	stage.ID = uuid.NewString()
	stage.Status = domain.ApprovalPending
	stage.ApproverID = ""
	stage.DecidedAt = nil
	return mutateRecord(ctx, e, g, actor, "governance.stage_added", map[string]string{"stage_id": stage.ID}, func(n *domain.Governance) error {
		stage.Order = len(n.Approval.Stages)
		n.Approval.Stages = append(n.Approval.Stages, stage)
		return nil
	})
}

// RemoveApprovalStage deletes a stage that has not been decided yet.
func (e Engine) RemoveApprovalStage(ctx context.Context, g domain.Governance, id string, actor domain.Actor) (domain.Governance, error) {
	return mutateRecord(ctx, e, g, actor, "governance.stage_removed", map[string]string{"stage_id": id}, func(n *domain.Governance) (err error) {
		idx := indexByID(n.Approval.Stages, id, stageID)
		if idx >= 0 && n.Approval.Stages[idx].Status != domain.ApprovalPending {
			return domain.Errorf(domain.KindAlreadyDecided, "approval stage %q was already %s and cannot be removed", n.Approval.Stages[idx].Name, n.Approval.Stages[idx].Status)
		}
		n.Approval.Stages, err = removeByID(n.Approval.Stages, id, stageID, "approval stage")
		return err
	})
}

// ApproveStage approves a stage. Every stage with a smaller order must
// already be approved.
func (e Engine) ApproveStage(ctx context.Context, g domain.Governance, stageID string, actor domain.Actor, notes string) (domain.Governance, error) {
	return e.decideStage(ctx, g, stageID, actor, notes, domain.ApprovalApproved)
}

// RejectStage rejects a pending stage regardless of ordering, halting the workflow.
func (e Engine) RejectStage(ctx context.Context, g domain.Governance, stageID string, actor domain.Actor, notes string) (domain.Governance, error) {
	return e.decideStage(ctx, g, stageID, actor, notes, domain.ApprovalRejected)
}

func (e Engine) decideStage(ctx context.Context, g domain.Governance, id string, actor domain.Actor, notes string, to domain.ApprovalStatus) (domain.Governance, error) {
	if err := checkActor(actor); err != nil {
		return domain.Governance{}, err
	}
	at := e.stamp()
	var (
		wf  domain.ApprovalWorkflow
		err error
	)
	action := domain.ActionGovernanceStageApproved
	if to == domain.ApprovalApproved {
		wf, err = g.Approval.Approve(id, actor, notes, at)
	} else {
		action = domain.ActionGovernanceStageRejected
		wf, err = g.Approval.Reject(id, actor, notes, at)
	}
	if err != nil {
		return domain.Governance{}, err
	}
	next, err := cloneRecord(g)
	if err != nil {
		return domain.Governance{}, err
	}
	next.RecordMeta = g.RecordMeta
	next.Approval = wf
	meta := map[string]string{"governance_id": g.ID}
	if notes != "" {
		meta["notes"] = notes
	}
	return saveRecord[domain.Governance](ctx, e, g, next, actor, action, meta, func(entry *domain.AuditLogEntry) {
		entry.EntityType = "approval_stage"
		entry.EntityID = id
	})
}

// ApprovalSatisfied reports whether the project's governance workflow has
// every stage approved. A project without governance is not satisfied.
func (e Engine) ApprovalSatisfied(ctx context.Context, orgID, projectID string) (bool, error) {
	g, err := e.GetGovernance(ctx, orgID, projectID)
	if err != nil {
		if domain.KindOf(err) == domain.KindNotFound {
			return false, nil
		}
		return false, err
	}
	return g.Approval.Satisfied(), nil
}
