package engine

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"strings"

	"phaseline/internal/domain"
)

// LinkArtifact adds id to the project's list for kind. Linking an id that is
// already present changes nothing and writes nothing.
func (e Engine) LinkArtifact(ctx context.Context, p domain.Project, actor domain.Actor, kind domain.ArtifactKind, id string) (domain.Project, error) {
	return e.editArtifacts(ctx, p, actor, kind, id, true)
}

// UnlinkArtifact removes id from the project's list for kind. Unlinking an
// absent id is not an error.
func (e Engine) UnlinkArtifact(ctx context.Context, p domain.Project, actor domain.Actor, kind domain.ArtifactKind, id string) (domain.Project, error) {
	return e.editArtifacts(ctx, p, actor, kind, id, false)
}

func (e Engine) editArtifacts(ctx context.Context, p domain.Project, actor domain.Actor, kind domain.ArtifactKind, id string, link bool) (domain.Project, error) {
	if err := checkActor(actor); err != nil {
		return domain.Project{}, err
	}
	if _, err := domain.ParseArtifactKind(string(kind)); err != nil {
		return domain.Project{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Project{}, domain.Errorf(domain.KindValidationFailed, "artifact id is required")
	}
	ids := p.Artifacts(kind)
	present := slices.Contains(ids, id)
	if present == link {
		return p, nil
	}
	next := p.Clone()
	action := domain.ActionArtifactLinked
	if link {
		next.SetArtifacts(kind, append(slices.Clone(ids), id))
	} else {
		action = domain.ActionArtifactUnlinked
		next.SetArtifacts(kind, slices.DeleteFunc(slices.Clone(ids), func(s string) bool { return s == id }))
	}
	saved, err := e.saveProject(ctx, p, next, actor)
	if err != nil {
		return domain.Project{}, err
	}
	field := artifactField(kind)
	e.record(ctx, actor, domain.AuditLogEntry{
		OrgID: p.OrgID, ProjectID: p.ID, Action: action,
		EntityType: "project", EntityID: p.ID,
		Changes:  []domain.FieldChange{change(field, ids, saved.Artifacts(kind))},
		Metadata: map[string]string{"kind": string(kind), "artifact_id": id},
	})
	return saved, nil
}

func artifactField(kind domain.ArtifactKind) string {
	switch kind {
	case domain.ArtifactCourse:
		return "created_course_ids"
	case domain.ArtifactLearningPath:
		return "created_learning_path_ids"
	default:
		return "created_assessment_ids"
	}
}

// Reconcile links every artifact produced by the records of phase: generated
// assessments and courses for develop, implemented courses and learning paths
// for implement. Existing links are kept. All additions land in one
// conditioned write with a single audit entry; nothing is written when the
// project already references everything.
func (e Engine) Reconcile(ctx context.Context, p domain.Project, actor domain.Actor, phase domain.Phase) (domain.Project, error) {
	if err := checkActor(actor); err != nil {
		return domain.Project{}, err
	}
	produced, err := e.producedArtifacts(ctx, p, phase)
	if err != nil {
		return domain.Project{}, err
	}
	next := p.Clone()
	var changes []domain.FieldChange
	added := 0
	for _, kind := range []domain.ArtifactKind{domain.ArtifactCourse, domain.ArtifactLearningPath, domain.ArtifactAssessment} {
		cur := p.Artifacts(kind)
		merged := slices.Clone(cur)
		for _, id := range produced[kind] {
			if id != "" && !slices.Contains(merged, id) {
				merged = append(merged, id)
			}
		}
		if len(merged) == len(cur) {
			continue
		}
		added += len(merged) - len(cur)
		next.SetArtifacts(kind, merged)
		changes = append(changes, change(artifactField(kind), cur, merged))
	}
	if len(changes) == 0 {
		return p, nil
	}
	saved, err := e.saveProject(ctx, p, next, actor)
	if err != nil {
		return domain.Project{}, err
	}
	e.record(ctx, actor, domain.AuditLogEntry{
		OrgID: p.OrgID, ProjectID: p.ID, Action: domain.ActionArtifactsReconciled,
		EntityType: "project", EntityID: p.ID, Changes: changes,
		Metadata: map[string]string{"phase": string(phase), "added": strconv.Itoa(added)},
	})
	return saved, nil
}

func (e Engine) producedArtifacts(ctx context.Context, p domain.Project, phase domain.Phase) (map[domain.ArtifactKind][]string, error) {
	out := map[domain.ArtifactKind][]string{}
	switch phase {
	case domain.PhaseDevelop:
		gens, err := e.ListGenerations(ctx, p.OrgID, p.ID)
		if err != nil {
			return nil, err
		}
		for _, g := range gens {
			if g.Status != domain.GenerationCompleted {
				continue
			}
			if g.CourseID != "" {
				out[domain.ArtifactCourse] = append(out[domain.ArtifactCourse], g.CourseID)
			}
			for _, a := range g.Assessments {
				out[domain.ArtifactAssessment] = append(out[domain.ArtifactAssessment], a.ID)
			}
		}
	case domain.PhaseImplement:
		im, err := e.GetImplementation(ctx, p.OrgID, p.ID)
		if errors.Is(err, domain.ErrNotFound) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out[domain.ArtifactCourse] = im.CourseIDs
		out[domain.ArtifactLearningPath] = im.LearningPathIDs
	default:
		return nil, domain.Errorf(domain.KindValidationFailed, "the %s phase produces no linkable artifacts; reconcile develop or implement", phase.Title())
	}
	return out, nil
}
