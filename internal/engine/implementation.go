package engine

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"phaseline/internal/domain"
)

func (e Engine) CreateImplementation(ctx context.Context, orgID, projectID string, actor domain.Actor, im domain.Implementation) (domain.Implementation, error) {
	return createRecord[domain.Implementation](ctx, e, orgID, projectID, actor, im)
}

func (e Engine) GetImplementation(ctx context.Context, orgID, projectID string) (domain.Implementation, error) {
	return getSingle[domain.Implementation](ctx, e, orgID, projectID)
}

func (e Engine) PatchImplementation(ctx context.Context, im domain.Implementation, patch json.RawMessage, actor domain.Actor) (domain.Implementation, error) {
	return patchRecord[domain.Implementation](ctx, e, im, patch, actor)
}

func ruleID(r domain.EnrollmentRule) string { return r.ID }

func (e Engine) AddEnrollmentRule(ctx context.Context, im domain.Implementation, rule domain.EnrollmentRule, actor domain.Actor) (domain.Implementation, error) {
	rule.ID = uuid.NewString()
	return mutateRecord(ctx, e, im, actor, "implementation.rule_added", map[string]string{"rule_id": rule.ID}, func(n *domain.Implementation) error {
		n.EnrollmentRules = append(n.EnrollmentRules, rule)
		return nil
	})
}

func (e Engine) UpdateEnrollmentRule(ctx context.Context, im domain.Implementation, rule domain.EnrollmentRule, actor domain.Actor) (domain.Implementation, error) {
	return mutateRecord(ctx, e, im, actor, "implementation.rule_updated", map[string]string{"rule_id": rule.ID}, func(n *domain.Implementation) (err error) {
		n.EnrollmentRules, err = replaceByID(n.EnrollmentRules, rule, ruleID, "enrollment rule")
		return err
	})
}

func (e Engine) RemoveEnrollmentRule(ctx context.Context, im domain.Implementation, id string, actor domain.Actor) (domain.Implementation, error) {
	return mutateRecord(ctx, e, im, actor, "implementation.rule_removed", map[string]string{"rule_id": id}, func(n *domain.Implementation) (err error) {
		n.EnrollmentRules, err = removeByID(n.EnrollmentRules, id, ruleID, "enrollment rule")
		return err
	})
}

// UpdateEnrollmentCounters replaces the live enrollment counters.
func (e Engine) UpdateEnrollmentCounters(ctx context.Context, im domain.Implementation, counters domain.EnrollmentCounters, actor domain.Actor) (domain.Implementation, error) {
	return mutateRecord(ctx, e, im, actor, "implementation.enrollment_updated", nil, func(n *domain.Implementation) error {
		n.Enrollment = counters
		return nil
	})
}
