package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"phaseline/internal/domain"
	"phaseline/internal/metrics"
)

func (e Engine) CreateProject(ctx context.Context, orgID string, actor domain.Actor, name, description string) (domain.Project, error) {
	if err := checkActor(actor); err != nil {
		return domain.Project{}, err
	}
	orgID = strings.TrimSpace(orgID)
	name = strings.TrimSpace(name)
	if orgID == "" {
		return domain.Project{}, domain.Errorf(domain.KindValidationFailed, "organization id is required")
	}
	if name == "" {
		return domain.Project{}, domain.Errorf(domain.KindValidationFailed, "project name is required")
	}
	now := e.stamp()
	p := domain.Project{
		ID:                     uuid.NewString(),
		OrgID:                  orgID,
		Name:                   name,
		Description:            description,
		Status:                 domain.ProjectActive,
		Phases:                 domain.NewPhaseMap(),
		CurrentPhase:           domain.PhaseIngest,
		CreatedCourseIDs:       []string{},
		CreatedLearningPathIDs: []string{},
		CreatedAssessmentIDs:   []string{},
		CreatedBy:              actor.ID,
		CreatedAt:              now,
		UpdatedAt:              now,
		LastModifiedBy:         actor.ID,
		Version:                1,
	}
	if err := e.Projects.InsertProject(ctx, p); err != nil {
		return domain.Project{}, err
	}
	e.record(ctx, actor, domain.AuditLogEntry{
		OrgID: p.OrgID, ProjectID: p.ID, Action: domain.ActionProjectCreated,
		EntityType: "project", EntityID: p.ID,
		Metadata: map[string]string{"name": p.Name},
	})
	return p, nil
}

func (e Engine) GetProject(ctx context.Context, orgID, id string) (domain.Project, error) {
	return e.Projects.GetProject(ctx, orgID, id)
}

func (e Engine) ListProjects(ctx context.Context, orgID string, status domain.ProjectStatus) ([]domain.Project, error) {
	return e.Projects.ListProjects(ctx, orgID, string(status))
}

// UpdateProjectDetails changes the name and/or description. Nil leaves a field unchanged.
func (e Engine) UpdateProjectDetails(ctx context.Context, p domain.Project, actor domain.Actor, name, description *string) (domain.Project, error) {
	if err := checkActor(actor); err != nil {
		return domain.Project{}, err
	}
	next := p.Clone()
	if name != nil {
		n := strings.TrimSpace(*name)
		if n == "" {
			return domain.Project{}, domain.Errorf(domain.KindValidationFailed, "project name must not be empty")
		}
		next.Name = n
	}
	if description != nil {
		next.Description = *description
	}
	var changes []domain.FieldChange
	if next.Name != p.Name {
		changes = append(changes, change("name", p.Name, next.Name))
	}
	if next.Description != p.Description {
		changes = append(changes, change("description", p.Description, next.Description))
	}
	if len(changes) == 0 {
		return p, nil
	}
	saved, err := e.saveProject(ctx, p, next, actor)
	if err != nil {
		return domain.Project{}, err
	}
	e.record(ctx, actor, domain.AuditLogEntry{
		OrgID: p.OrgID, ProjectID: p.ID, Action: domain.ActionProjectUpdated,
		EntityType: "project", EntityID: p.ID, Changes: changes,
	})
	return saved, nil
}

// DeleteProject removes the project and its phase records. Audit entries are kept.
func (e Engine) DeleteProject(ctx context.Context, orgID, id string, actor domain.Actor) error {
	if err := checkActor(actor); err != nil {
		return err
	}
	if err := e.Projects.DeleteProject(ctx, orgID, id); err != nil {
		return err
	}
	e.record(ctx, actor, domain.AuditLogEntry{
		OrgID: orgID, ProjectID: id, Action: domain.ActionProjectDeleted,
		EntityType: "project", EntityID: id,
	})
	return nil
}

func checkPhaseChangeAllowed(p domain.Project) error {
	if p.Status == domain.ProjectArchived {
		return domain.Errorf(domain.KindInvalidState, "project %s is archived; activate it before changing phases", p.Name)
	}
	return nil
}

func checkPriorPhasesDone(p domain.Project, phase domain.Phase, verb string) error {
	for _, prior := range phase.Before() {
		if !p.Phase(prior).Status.Terminal() {
			return domain.Errorf(domain.KindInvalidTransition, "complete or skip the %s phase before %s %s", prior.Title(), verb, phase.Title())
		}
	}
	return nil
}

func phaseEntry(p domain.Project, action string, phase domain.Phase, from, to domain.PhaseState) domain.AuditLogEntry {
	return domain.AuditLogEntry{
		OrgID: p.OrgID, ProjectID: p.ID, Action: action,
		EntityType: "project", EntityID: p.ID,
		Changes:  []domain.FieldChange{change("phases."+string(phase)+".status", from, to)},
		Metadata: map[string]string{"phase": string(phase)},
	}
}

// StartPhase moves a pending phase to in_progress. Every earlier phase must
// be completed or skipped.
func (e Engine) StartPhase(ctx context.Context, p domain.Project, actor domain.Actor, phase domain.Phase) (domain.Project, error) {
	if err := checkActor(actor); err != nil {
		return domain.Project{}, err
	}
	if !phase.Valid() {
		return domain.Project{}, domain.Errorf(domain.KindValidationFailed, "unknown phase %q", phase)
	}
	if err := checkPhaseChangeAllowed(p); err != nil {
		return domain.Project{}, err
	}
	st := p.Phase(phase)
	if st.Status != domain.PhasePending {
		return domain.Project{}, domain.Errorf(domain.KindInvalidTransition, "the %s phase is already %s", phase.Title(), st.Status)
	}
	if err := checkPriorPhasesDone(p, phase, "starting"); err != nil {
		return domain.Project{}, err
	}
	now := e.stamp()
	next := p.Clone()
	st.Status = domain.PhaseInProgress
	st.StartedAt = &now
	next.Phases[phase] = st
	next.CurrentPhase = phase
	if next.Status == domain.ProjectDraft {
		next.Status = domain.ProjectActive
	}
	saved, err := e.saveProject(ctx, p, next, actor)
	if err != nil {
		return domain.Project{}, err
	}
	metrics.PhaseTransitions.WithLabelValues(string(phase), "start").Inc()
	e.record(ctx, actor, phaseEntry(saved, domain.ActionPhaseStarted, phase, domain.PhasePending, domain.PhaseInProgress))
	return saved, nil
}

// CompletePhase finishes an in-progress phase. The phase's required record
// must exist; output, when given, must be a JSON object and is stored as the
// phase data. Develop and implement completions are followed by an artifact
// reconcile whose failure is logged and does not undo the completion.
func (e Engine) CompletePhase(ctx context.Context, p domain.Project, actor domain.Actor, phase domain.Phase, output json.RawMessage) (domain.Project, error) {
	if err := checkActor(actor); err != nil {
		return domain.Project{}, err
	}
	if !phase.Valid() {
		return domain.Project{}, domain.Errorf(domain.KindValidationFailed, "unknown phase %q", phase)
	}
	if err := checkPhaseChangeAllowed(p); err != nil {
		return domain.Project{}, err
	}
	st := p.Phase(phase)
	switch st.Status {
	case domain.PhaseInProgress:
	case domain.PhasePending:
		return domain.Project{}, domain.Errorf(domain.KindInvalidTransition, "start the %s phase before completing it", phase.Title())
	default:
		return domain.Project{}, domain.Errorf(domain.KindInvalidTransition, "the %s phase is already %s", phase.Title(), st.Status)
	}
	if err := validatePhaseData(output); err != nil {
		return domain.Project{}, err
	}
	if kind, ok := domain.RequiredRecord(phase); ok {
		n, err := e.Records.CountRecords(ctx, kind, p.OrgID, p.ID)
		if err != nil {
			return domain.Project{}, err
		}
		if n == 0 {
			return domain.Project{}, domain.Errorf(domain.KindMissingPhaseData, "add a %s before completing the %s phase", kind.Label(), phase.Title())
		}
	}
	if phase == domain.PhaseGovern && e.config().Lifecycle.RequireApprovalForGovern {
		gov, err := e.GetGovernance(ctx, p.OrgID, p.ID)
		if err != nil {
			return domain.Project{}, err
		}
		if !gov.Approval.Satisfied() {
			return domain.Project{}, domain.Errorf(domain.KindInvalidState, "every approval stage must be approved before completing the Govern phase")
		}
	}
	if phase == domain.PhaseDevelop && len(output) == 0 {
		report, err := e.QualityReport(ctx, p.OrgID, p.ID)
		if err != nil {
			return domain.Project{}, err
		}
		if output, err = json.Marshal(report); err != nil {
			return domain.Project{}, err
		}
	}

	now := e.stamp()
	next := p.Clone()
	st.Status = domain.PhaseCompleted
	st.CompletedAt = &now
	if len(output) > 0 {
		st.Data = output
	}
	next.Phases[phase] = st
	if np, ok := next.NextPending(phase); ok {
		next.CurrentPhase = np
	}
	completed := markCompletedIfDone(&next)
	saved, err := e.saveProject(ctx, p, next, actor)
	if err != nil {
		return domain.Project{}, err
	}
	metrics.PhaseTransitions.WithLabelValues(string(phase), "complete").Inc()
	e.record(ctx, actor, phaseEntry(saved, domain.ActionPhaseCompleted, phase, domain.PhaseInProgress, domain.PhaseCompleted))
	if completed {
		e.recordProjectCompleted(ctx, actor, saved)
	}

	if phase == domain.PhaseDevelop || phase == domain.PhaseImplement {
		reconciled, err := e.Reconcile(ctx, saved, actor, phase)
		if err != nil {
			metrics.ReconcileFailures.WithLabelValues(string(phase)).Inc()
			e.logger().Warn("artifact reconcile failed after phase completion",
				zap.String("org_id", saved.OrgID),
				zap.String("project_id", saved.ID),
				zap.String("phase", string(phase)),
				zap.Error(err),
			)
			return saved, nil
		}
		saved = reconciled
	}
	return saved, nil
}

// SkipPhase marks a pending or in-progress phase skipped. Ingest can never be
// skipped and earlier phases must already be completed or skipped.
func (e Engine) SkipPhase(ctx context.Context, p domain.Project, actor domain.Actor, phase domain.Phase, reason string) (domain.Project, error) {
	if err := checkActor(actor); err != nil {
		return domain.Project{}, err
	}
	if !phase.Valid() {
		return domain.Project{}, domain.Errorf(domain.KindValidationFailed, "unknown phase %q", phase)
	}
	if phase == domain.PhaseIngest {
		return domain.Project{}, domain.Errorf(domain.KindInvalidTransition, "the Ingest phase cannot be skipped")
	}
	if err := checkPhaseChangeAllowed(p); err != nil {
		return domain.Project{}, err
	}
	st := p.Phase(phase)
	if st.Status.Terminal() {
		return domain.Project{}, domain.Errorf(domain.KindInvalidTransition, "the %s phase is already %s", phase.Title(), st.Status)
	}
	if err := checkPriorPhasesDone(p, phase, "skipping"); err != nil {
		return domain.Project{}, err
	}
	from := st.Status
	next := p.Clone()
	st.Status = domain.PhaseSkipped
	next.Phases[phase] = st
	if np, ok := next.NextPending(phase); ok {
		next.CurrentPhase = np
	} else {
		next.CurrentPhase = phase
	}
	completed := markCompletedIfDone(&next)
	saved, err := e.saveProject(ctx, p, next, actor)
	if err != nil {
		return domain.Project{}, err
	}
	metrics.PhaseTransitions.WithLabelValues(string(phase), "skip").Inc()
	entry := phaseEntry(saved, domain.ActionPhaseSkipped, phase, from, domain.PhaseSkipped)
	if reason != "" {
		entry.Metadata["reason"] = reason
	}
	e.record(ctx, actor, entry)
	if completed {
		e.recordProjectCompleted(ctx, actor, saved)
	}
	return saved, nil
}

func markCompletedIfDone(p *domain.Project) bool {
	if p.Status != domain.ProjectActive || !p.AllPhasesTerminal() {
		return false
	}
	p.Status = domain.ProjectCompleted
	return true
}

func (e Engine) recordProjectCompleted(ctx context.Context, actor domain.Actor, p domain.Project) {
	e.record(ctx, actor, domain.AuditLogEntry{
		OrgID: p.OrgID, ProjectID: p.ID, Action: domain.ActionProjectCompleted,
		EntityType: "project", EntityID: p.ID,
		Changes: []domain.FieldChange{change("status", domain.ProjectActive, domain.ProjectCompleted)},
	})
}

func (e Engine) Archive(ctx context.Context, p domain.Project, actor domain.Actor) (domain.Project, error) {
	return e.setStatus(ctx, p, actor, domain.ProjectArchived, domain.ActionProjectArchived)
}

func (e Engine) Activate(ctx context.Context, p domain.Project, actor domain.Actor) (domain.Project, error) {
	return e.setStatus(ctx, p, actor, domain.ProjectActive, domain.ActionProjectActivated)
}

func (e Engine) setStatus(ctx context.Context, p domain.Project, actor domain.Actor, to domain.ProjectStatus, action string) (domain.Project, error) {
	if err := checkActor(actor); err != nil {
		return domain.Project{}, err
	}
	switch {
	case p.Status == domain.ProjectCompleted:
		return domain.Project{}, domain.Errorf(domain.KindInvalidState, "project %s is completed and can no longer be archived or activated", p.Name)
	case p.Status == to:
		return domain.Project{}, domain.Errorf(domain.KindInvalidState, "project %s is already %s", p.Name, to)
	case to == domain.ProjectArchived && p.Status != domain.ProjectActive:
		return domain.Project{}, domain.Errorf(domain.KindInvalidState, "only active projects can be archived; project %s is %s", p.Name, p.Status)
	}
	next := p.Clone()
	next.Status = to
	saved, err := e.saveProject(ctx, p, next, actor)
	if err != nil {
		return domain.Project{}, err
	}
	e.record(ctx, actor, domain.AuditLogEntry{
		OrgID: p.OrgID, ProjectID: p.ID, Action: action,
		EntityType: "project", EntityID: p.ID,
		Changes: []domain.FieldChange{change("status", p.Status, to)},
	})
	return saved, nil
}

// validatePhaseData accepts an empty payload or a JSON object.
func validatePhaseData(raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	trimmed := bytes.TrimSpace(raw)
	if !json.Valid(trimmed) || len(trimmed) == 0 || trimmed[0] != '{' {
		return domain.Errorf(domain.KindValidationFailed, "phase data must be a JSON object")
	}
	return nil
}

// QualityReport summarizes generated content for the develop phase.
type QualityReport struct {
	GeneratedItems int                `json:"generated_items"`
	ReviewRequired int                `json:"review_required"`
	QualityGate    string             `json:"quality_gate"`
	Issues         []GenerationIssues `json:"issues,omitempty"`
}

type GenerationIssues struct {
	GenerationID string   `json:"generation_id"`
	Issues       []string `json:"issues"`
}

const qualityGateVersion = "v1"

func (e Engine) QualityReport(ctx context.Context, orgID, projectID string) (QualityReport, error) {
	gens, err := e.ListGenerations(ctx, orgID, projectID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return QualityReport{}, err
	}
	return e.qualityOf(gens), nil
}

func (e Engine) qualityOf(gens []domain.AIGeneration) QualityReport {
	report := QualityReport{GeneratedItems: len(gens), QualityGate: qualityGateVersion}
	minQuestions := e.config().Generation.MinQuestions
	for _, g := range gens {
		issues := g.CheckQuality(minQuestions)
		if len(issues) > 0 || g.ReviewRequired {
			report.ReviewRequired++
		}
		if len(issues) > 0 {
			report.Issues = append(report.Issues, GenerationIssues{GenerationID: g.ID, Issues: issues})
		}
	}
	return report
}
