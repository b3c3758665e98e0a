package engine

import (
	"context"
	"encoding/json"

	"phaseline/internal/domain"
)

// CreateGeneration records a generation request. The generator itself runs
// outside the engine and reports back through RecordGenerationOutput.
func (e Engine) CreateGeneration(ctx context.Context, orgID, projectID string, actor domain.Actor, g domain.AIGeneration) (domain.AIGeneration, error) {
	return createRecord[domain.AIGeneration](ctx, e, orgID, projectID, actor, g)
}

func (e Engine) GetGeneration(ctx context.Context, orgID, projectID, id string) (domain.AIGeneration, error) {
	return getRecord[domain.AIGeneration](ctx, e, orgID, projectID, id)
}

func (e Engine) ListGenerations(ctx context.Context, orgID, projectID string) ([]domain.AIGeneration, error) {
	return listRecords[domain.AIGeneration](ctx, e, orgID, projectID)
}

func (e Engine) PatchGeneration(ctx context.Context, g domain.AIGeneration, patch json.RawMessage, actor domain.Actor) (domain.AIGeneration, error) {
	return patchRecord[domain.AIGeneration](ctx, e, g, patch, actor, "review_status", "reviewed_by", "reviewed_at")
}

// GenerationOutput is the opaque result handed back by a content generator.
type GenerationOutput struct {
	Output      string                       `json:"output"`
	Assessments []domain.GeneratedAssessment `json:"assessments,omitempty"`
	CourseID    string                       `json:"course_id,omitempty"`
	Failed      bool                         `json:"failed,omitempty"`
}

// RecordGenerationOutput stores generator output. Quality issues are
// recomputed and any new output resets the review.
func (e Engine) RecordGenerationOutput(ctx context.Context, g domain.AIGeneration, out GenerationOutput, actor domain.Actor) (domain.AIGeneration, error) {
	status := domain.GenerationCompleted
	if out.Failed {
		status = domain.GenerationFailed
	}
	meta := map[string]string{"status": string(status)}
	return mutateRecord(ctx, e, g, actor, "generation.output_recorded", meta, func(n *domain.AIGeneration) error {
		n.Status = status
		n.Output = out.Output
		n.Assessments = out.Assessments
		if out.CourseID != "" {
			n.CourseID = out.CourseID
		}
		n.ReviewStatus = domain.ReviewUnreviewed
		n.ReviewedBy = ""
		n.ReviewedAt = nil
		n.ReviewNotes = ""
		return nil
	})
}

// ReviewGeneration records a human review decision on generated content.
func (e Engine) ReviewGeneration(ctx context.Context, g domain.AIGeneration, decision domain.ReviewStatus, notes string, actor domain.Actor) (domain.AIGeneration, error) {
	if decision != domain.ReviewApproved && decision != domain.ReviewRejected {
		return domain.AIGeneration{}, domain.Errorf(domain.KindValidationFailed, "review decision must be approved or rejected")
	}
	if g.Status != domain.GenerationCompleted {
		return domain.AIGeneration{}, domain.Errorf(domain.KindInvalidState, "only completed generations can be reviewed; generation is %s", g.Status)
	}
	now := e.stamp()
	return mutateRecord(ctx, e, g, actor, "generation.reviewed", map[string]string{"decision": string(decision)}, func(n *domain.AIGeneration) error {
		n.ReviewStatus = decision
		n.ReviewedBy = actor.ID
		n.ReviewedAt = &now
		n.ReviewNotes = notes
		return nil
	})
}

func (e Engine) RemoveGeneration(ctx context.Context, g domain.AIGeneration, actor domain.Actor) error {
	return deleteRecord[domain.AIGeneration](ctx, e, g, actor)
}
