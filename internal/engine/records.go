package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"phaseline/internal/domain"
	"phaseline/internal/metrics"
	"phaseline/internal/repo"
)

// recordPtr constrains P to be *T for a sub-entity type T.
type recordPtr[T any] interface {
	*T
	domain.Record
}

func kindOf[T any, P recordPtr[T]]() domain.RecordKind {
	var zero T
	return P(&zero).Kind()
}

// singleID is the deterministic id of a one-per-project record, so a second
// insert collides on the primary key.
func singleID(kind domain.RecordKind, orgID, projectID string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(orgID+"|"+projectID+"|"+string(kind))).String()
}

func decodeRecord[T any, P recordPtr[T]](row repo.RecordRow) (T, error) {
	var v T
	if err := json.Unmarshal(row.Doc, &v); err != nil {
		return v, fmt.Errorf("decode %s %s: %w", row.Kind, row.ID, err)
	}
	m := P(&v).Meta()
	m.ID = row.ID
	m.OrgID = row.OrgID
	m.ProjectID = row.ProjectID
	m.Version = row.Version
	m.CreatedAt = row.CreatedAt
	m.UpdatedAt = row.UpdatedAt
	return v, nil
}

func encodeRecord[T any, P recordPtr[T]](v *T) (repo.RecordRow, error) {
	m := P(v).Meta()
	doc, err := json.Marshal(v)
	if err != nil {
		return repo.RecordRow{}, fmt.Errorf("encode %s: %w", P(v).Kind(), err)
	}
	return repo.RecordRow{
		Kind:      P(v).Kind(),
		ID:        m.ID,
		OrgID:     m.OrgID,
		ProjectID: m.ProjectID,
		Doc:       doc,
		Version:   m.Version,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}, nil
}

func getRecord[T any, P recordPtr[T]](ctx context.Context, e Engine, orgID, projectID, id string) (T, error) {
	row, err := e.Records.GetRecord(ctx, kindOf[T, P](), orgID, projectID, id)
	if err != nil {
		var zero T
		return zero, err
	}
	return decodeRecord[T, P](row)
}

func getSingle[T any, P recordPtr[T]](ctx context.Context, e Engine, orgID, projectID string) (T, error) {
	kind := kindOf[T, P]()
	v, err := getRecord[T, P](ctx, e, orgID, projectID, singleID(kind, orgID, projectID))
	if errors.Is(err, domain.ErrNotFound) {
		return v, domain.Errorf(domain.KindNotFound, "project %s has no %s", projectID, kind.Label())
	}
	return v, err
}

func listRecords[T any, P recordPtr[T]](ctx context.Context, e Engine, orgID, projectID string) ([]T, error) {
	rows, err := e.Records.ListRecords(ctx, kindOf[T, P](), orgID, projectID)
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		v, err := decodeRecord[T, P](row)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// createRecord stores a new record for the project. The governing phase must
// have been started, and one-per-project kinds may exist only once.
func createRecord[T any, P recordPtr[T]](ctx context.Context, e Engine, orgID, projectID string, actor domain.Actor, rec T) (T, error) {
	var zero T
	kind := kindOf[T, P]()
	if err := checkActor(actor); err != nil {
		return zero, err
	}
	p, err := e.Projects.GetProject(ctx, orgID, projectID)
	if err != nil {
		return zero, err
	}
	phase := kind.Phase()
	if p.Phase(phase).Status == domain.PhasePending {
		return zero, domain.Errorf(domain.KindInvalidState, "start the %s phase before adding a %s", phase.Title(), kind.Label())
	}
	id := uuid.NewString()
	if kind.Single() {
		id = singleID(kind, orgID, projectID)
		if _, err := e.Records.GetRecord(ctx, kind, orgID, projectID, id); err == nil {
			return zero, domain.Errorf(domain.KindInvalidState, "project %s already has a %s; update it instead", p.Name, kind.Label())
		} else if !errors.Is(err, domain.ErrNotFound) {
			return zero, err
		}
	}
	now := e.stamp()
	m := P(&rec).Meta()
	*m = domain.RecordMeta{
		ID:        id,
		OrgID:     orgID,
		ProjectID: projectID,
		Version:   1,
		CreatedBy: actor.ID,
		CreatedAt: now,
		UpdatedAt: now,
		UpdatedBy: actor.ID,
	}
	if err := e.prepare(P(&rec)); err != nil {
		return zero, err
	}
	row, err := encodeRecord[T, P](&rec)
	if err != nil {
		return zero, err
	}
	if err := e.Records.InsertRecord(ctx, row); err != nil {
		return zero, err
	}
	e.record(ctx, actor, domain.AuditLogEntry{
		OrgID: orgID, ProjectID: projectID, Action: string(kind) + ".created",
		EntityType: string(kind), EntityID: id,
		Metadata: map[string]string{"phase": string(phase)},
	})
	return rec, nil
}

// saveRecord writes next over prev, conditioned on prev's version, and
// records one audit entry listing the changed fields. An unchanged record is
// returned as is without a write. target, when given, rewrites the audit
// entry's entity before it is appended.
func saveRecord[T any, P recordPtr[T]](ctx context.Context, e Engine, prev, next T, actor domain.Actor, action string, meta map[string]string, target ...func(*domain.AuditLogEntry)) (T, error) {
	var zero T
	if err := checkActor(actor); err != nil {
		return zero, err
	}
	pm := P(&prev).Meta()
	nm := P(&next).Meta()
	*nm = *pm
	if err := e.prepare(P(&next)); err != nil {
		return zero, err
	}
	changes := diffFields(prev, next)
	if len(changes) == 0 {
		return prev, nil
	}
	nm.UpdatedAt = e.stamp()
	nm.UpdatedBy = actor.ID
	row, err := encodeRecord[T, P](&next)
	if err != nil {
		return zero, err
	}
	kind := P(&next).Kind()
	if err := e.Records.UpdateRecord(ctx, row, pm.Version); err != nil {
		if errors.Is(err, domain.ErrConcurrentModification) {
			metrics.ConcurrentModifications.WithLabelValues(string(kind)).Inc()
		}
		return zero, err
	}
	nm.Version = pm.Version + 1
	entry := domain.AuditLogEntry{
		OrgID: nm.OrgID, ProjectID: nm.ProjectID, Action: action,
		EntityType: string(kind), EntityID: nm.ID,
		Changes: changes, Metadata: meta,
	}
	for _, fn := range target {
		fn(&entry)
	}
	e.record(ctx, actor, entry)
	return next, nil
}

func deleteRecord[T any, P recordPtr[T]](ctx context.Context, e Engine, rec T, actor domain.Actor) error {
	if err := checkActor(actor); err != nil {
		return err
	}
	m := P(&rec).Meta()
	kind := P(&rec).Kind()
	if err := e.Records.DeleteRecord(ctx, kind, m.OrgID, m.ProjectID, m.ID, m.Version); err != nil {
		if errors.Is(err, domain.ErrConcurrentModification) {
			metrics.ConcurrentModifications.WithLabelValues(string(kind)).Inc()
		}
		return err
	}
	e.record(ctx, actor, domain.AuditLogEntry{
		OrgID: m.OrgID, ProjectID: m.ProjectID, Action: string(kind) + ".deleted",
		EntityType: string(kind), EntityID: m.ID,
	})
	return nil
}

// patchRecord merges the top-level fields of patch onto prev. Bookkeeping
// fields in the patch are ignored and unknown fields are rejected.
func patchRecord[T any, P recordPtr[T]](ctx context.Context, e Engine, prev T, patch json.RawMessage, actor domain.Actor, protected ...string) (T, error) {
	var zero T
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(patch, &fields); err != nil || fields == nil {
		return zero, domain.Errorf(domain.KindValidationFailed, "patch must be a JSON object")
	}
	for _, f := range protected {
		if _, ok := fields[f]; ok {
			return zero, domain.Errorf(domain.KindValidationFailed, "field %s cannot be patched directly", f)
		}
	}
	base, err := topLevelFields(prev)
	if err != nil {
		return zero, err
	}
	for k, v := range fields {
		if metaFields[k] {
			continue
		}
		base[k] = v
	}
	merged, err := json.Marshal(base)
	if err != nil {
		return zero, err
	}
	var next T
	dec := json.NewDecoder(bytes.NewReader(merged))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&next); err != nil {
		return zero, domain.Errorf(domain.KindValidationFailed, "invalid %s patch: %v", P(&prev).Kind().Label(), err)
	}
	return saveRecord[T, P](ctx, e, prev, next, actor, string(P(&prev).Kind())+".updated", nil)
}

// prepare fills defaults and derived fields, then validates.
func (e Engine) prepare(rec domain.Record) error {
	cfg := e.config()
	switch r := rec.(type) {
	case *domain.Content:
		if r.Status == "" {
			r.Status = domain.ContentUploaded
		}
	case *domain.NeedsAnalysis:
		for i := range r.TargetAudiences {
			ensureID(&r.TargetAudiences[i].ID)
		}
		for i := range r.SkillGaps {
			ensureID(&r.SkillGaps[i].ID)
		}
		for i := range r.ComplianceRequirements {
			ensureID(&r.ComplianceRequirements[i].ID)
		}
		for i := range r.LearningObjectives {
			ensureID(&r.LearningObjectives[i].ID)
		}
	case *domain.CourseDesign:
		for i := range r.Modules {
			ensureID(&r.Modules[i].ID)
			for j := range r.Modules[i].Units {
				ensureID(&r.Modules[i].Units[j].ID)
			}
		}
		r.Renumber()
		if err := r.Taxonomy.Validate(cfg.Design.EnforceTaxonomyTotal); err != nil {
			return err
		}
	case *domain.AIGeneration:
		if r.Status == "" {
			r.Status = domain.GenerationPending
		}
		if r.ReviewStatus == "" {
			r.ReviewStatus = domain.ReviewUnreviewed
		}
		for i := range r.Assessments {
			ensureID(&r.Assessments[i].ID)
			for j := range r.Assessments[i].Questions {
				ensureID(&r.Assessments[i].Questions[j].ID)
			}
		}
		r.QualityIssues = r.CheckQuality(cfg.Generation.MinQuestions)
		r.ReviewRequired = len(r.QualityIssues) > 0 && r.ReviewStatus != domain.ReviewApproved
	case *domain.Implementation:
		for i := range r.EnrollmentRules {
			ensureID(&r.EnrollmentRules[i].ID)
		}
	case *domain.Analytics:
		r.Departments = domain.BreakdownByDepartment(r.Learners)
	case *domain.Governance:
		for i := range r.Approval.Stages {
			ensureID(&r.Approval.Stages[i].ID)
		}
		r.Approval.Normalize()
	}
	return rec.Validate()
}

func ensureID(id *string) {
	if *id == "" {
		*id = uuid.NewString()
	}
}

// cloneRecord deep-copies v so list edits never alias the caller's snapshot.
func cloneRecord[T any](v T) (T, error) {
	var out T
	b, err := json.Marshal(v)
	if err != nil {
		return out, err
	}
	err = json.Unmarshal(b, &out)
	return out, err
}

// mutateRecord clones rec, applies fn to the clone and saves the result.
func mutateRecord[T any, P recordPtr[T]](ctx context.Context, e Engine, rec T, actor domain.Actor, action string, meta map[string]string, fn func(P) error) (T, error) {
	next, err := cloneRecord(rec)
	if err != nil {
		var zero T
		return zero, err
	}
	*P(&next).Meta() = *P(&rec).Meta()
	if err := fn(P(&next)); err != nil {
		var zero T
		return zero, err
	}
	return saveRecord[T, P](ctx, e, rec, next, actor, action, meta)
}

// item helpers for id-keyed lists inside records

func indexByID[T any](items []T, id string, key func(T) string) int {
	for i, it := range items {
		if key(it) == id {
			return i
		}
	}
	return -1
}

func replaceByID[T any](items []T, item T, key func(T) string, label string) ([]T, error) {
	idx := indexByID(items, key(item), key)
	if idx < 0 {
		return nil, domain.NotFound(label, key(item))
	}
	items[idx] = item
	return items, nil
}

func removeByID[T any](items []T, id string, key func(T) string, label string) ([]T, error) {
	idx := indexByID(items, id, key)
	if idx < 0 {
		return nil, domain.NotFound(label, id)
	}
	return append(items[:idx], items[idx+1:]...), nil
}
