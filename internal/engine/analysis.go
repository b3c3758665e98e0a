package engine

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"phaseline/internal/domain"
)

func (e Engine) CreateAnalysis(ctx context.Context, orgID, projectID string, actor domain.Actor, a domain.NeedsAnalysis) (domain.NeedsAnalysis, error) {
	return createRecord[domain.NeedsAnalysis](ctx, e, orgID, projectID, actor, a)
}

func (e Engine) GetAnalysis(ctx context.Context, orgID, projectID string) (domain.NeedsAnalysis, error) {
	return getSingle[domain.NeedsAnalysis](ctx, e, orgID, projectID)
}

func (e Engine) PatchAnalysis(ctx context.Context, a domain.NeedsAnalysis, patch json.RawMessage, actor domain.Actor) (domain.NeedsAnalysis, error) {
	return patchRecord[domain.NeedsAnalysis](ctx, e, a, patch, actor)
}

func gapID(g domain.SkillGap) string                      { return g.ID }
func requirementID(r domain.ComplianceRequirement) string { return r.ID }
func audienceID(a domain.Audience) string                 { return a.ID }
func objectiveID(o domain.LearningObjective) string       { return o.ID }

func (e Engine) AddSkillGap(ctx context.Context, a domain.NeedsAnalysis, gap domain.SkillGap, actor domain.Actor) (domain.NeedsAnalysis, error) {
	gap.ID = uuid.NewString()
	return mutateRecord(ctx, e, a, actor, "analysis.skill_gap_added", map[string]string{"skill_gap_id": gap.ID}, func(n *domain.NeedsAnalysis) error {
		n.SkillGaps = append(n.SkillGaps, gap)
		return nil
	})
}

func (e Engine) UpdateSkillGap(ctx context.Context, a domain.NeedsAnalysis, gap domain.SkillGap, actor domain.Actor) (domain.NeedsAnalysis, error) {
	return mutateRecord(ctx, e, a, actor, "analysis.skill_gap_updated", map[string]string{"skill_gap_id": gap.ID}, func(n *domain.NeedsAnalysis) (err error) {
		n.SkillGaps, err = replaceByID(n.SkillGaps, gap, gapID, "skill gap")
		return err
	})
}

func (e Engine) RemoveSkillGap(ctx context.Context, a domain.NeedsAnalysis, id string, actor domain.Actor) (domain.NeedsAnalysis, error) {
	return mutateRecord(ctx, e, a, actor, "analysis.skill_gap_removed", map[string]string{"skill_gap_id": id}, func(n *domain.NeedsAnalysis) (err error) {
		n.SkillGaps, err = removeByID(n.SkillGaps, id, gapID, "skill gap")
		return err
	})
}

func (e Engine) AddComplianceRequirement(ctx context.Context, a domain.NeedsAnalysis, req domain.ComplianceRequirement, actor domain.Actor) (domain.NeedsAnalysis, error) {
	req.ID = uuid.NewString()
	return mutateRecord(ctx, e, a, actor, "analysis.compliance_requirement_added", map[string]string{"requirement_id": req.ID}, func(n *domain.NeedsAnalysis) error {
		n.ComplianceRequirements = append(n.ComplianceRequirements, req)
		return nil
	})
}

func (e Engine) UpdateComplianceRequirement(ctx context.Context, a domain.NeedsAnalysis, req domain.ComplianceRequirement, actor domain.Actor) (domain.NeedsAnalysis, error) {
	return mutateRecord(ctx, e, a, actor, "analysis.compliance_requirement_updated", map[string]string{"requirement_id": req.ID}, func(n *domain.NeedsAnalysis) (err error) {
		n.ComplianceRequirements, err = replaceByID(n.ComplianceRequirements, req, requirementID, "compliance requirement")
		return err
	})
}

func (e Engine) RemoveComplianceRequirement(ctx context.Context, a domain.NeedsAnalysis, id string, actor domain.Actor) (domain.NeedsAnalysis, error) {
	return mutateRecord(ctx, e, a, actor, "analysis.compliance_requirement_removed", map[string]string{"requirement_id": id}, func(n *domain.NeedsAnalysis) (err error) {
		n.ComplianceRequirements, err = removeByID(n.ComplianceRequirements, id, requirementID, "compliance requirement")
		return err
	})
}

func (e Engine) AddAudience(ctx context.Context, a domain.NeedsAnalysis, au domain.Audience, actor domain.Actor) (domain.NeedsAnalysis, error) {
	au.ID = uuid.NewString()
	return mutateRecord(ctx, e, a, actor, "analysis.audience_added", map[string]string{"audience_id": au.ID}, func(n *domain.NeedsAnalysis) error {
		n.TargetAudiences = append(n.TargetAudiences, au)
		return nil
	})
}

func (e Engine) RemoveAudience(ctx context.Context, a domain.NeedsAnalysis, id string, actor domain.Actor) (domain.NeedsAnalysis, error) {
	return mutateRecord(ctx, e, a, actor, "analysis.audience_removed", map[string]string{"audience_id": id}, func(n *domain.NeedsAnalysis) (err error) {
		n.TargetAudiences, err = removeByID(n.TargetAudiences, id, audienceID, "target audience")
		return err
	})
}

func (e Engine) AddObjective(ctx context.Context, a domain.NeedsAnalysis, o domain.LearningObjective, actor domain.Actor) (domain.NeedsAnalysis, error) {
	o.ID = uuid.NewString()
	return mutateRecord(ctx, e, a, actor, "analysis.objective_added", map[string]string{"objective_id": o.ID}, func(n *domain.NeedsAnalysis) error {
		n.LearningObjectives = append(n.LearningObjectives, o)
		return nil
	})
}

func (e Engine) RemoveObjective(ctx context.Context, a domain.NeedsAnalysis, id string, actor domain.Actor) (domain.NeedsAnalysis, error) {
	return mutateRecord(ctx, e, a, actor, "analysis.objective_removed", map[string]string{"objective_id": id}, func(n *domain.NeedsAnalysis) (err error) {
		n.LearningObjectives, err = removeByID(n.LearningObjectives, id, objectiveID, "learning objective")
		return err
	})
}
