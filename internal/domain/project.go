package domain

import "slices"

type ProjectStatus string

const (
	ProjectDraft     ProjectStatus = "draft"
	ProjectActive    ProjectStatus = "active"
	ProjectArchived  ProjectStatus = "archived"
	ProjectCompleted ProjectStatus = "completed"
)

// ArtifactKind names the externally owned resources a project links to.
type ArtifactKind string

const (
	ArtifactCourse       ArtifactKind = "course"
	ArtifactLearningPath ArtifactKind = "learning_path"
	ArtifactAssessment   ArtifactKind = "assessment"
)

func ParseArtifactKind(s string) (ArtifactKind, error) {
	switch k := ArtifactKind(s); k {
	case ArtifactCourse, ArtifactLearningPath, ArtifactAssessment:
		return k, nil
	}
	return "", Errorf(KindValidationFailed, "unknown artifact kind %q; expected course, learning_path or assessment", s)
}

// Actor identifies who performed a mutation.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
}

type Project struct {
	ID                     string                `json:"id"`
	OrgID                  string                `json:"org_id"`
	Name                   string                `json:"name"`
	Description            string                `json:"description,omitempty"`
	Status                 ProjectStatus         `json:"status" enum:"draft,active,archived,completed"`
	Phases                 map[Phase]PhaseStatus `json:"phases"`
	CurrentPhase           Phase                 `json:"current_phase"`
	CreatedCourseIDs       []string              `json:"created_course_ids"`
	CreatedLearningPathIDs []string              `json:"created_learning_path_ids"`
	CreatedAssessmentIDs   []string              `json:"created_assessment_ids"`
	CreatedBy              string                `json:"created_by"`
	CreatedAt              string                `json:"created_at" format:"date-time"`
	UpdatedAt              string                `json:"updated_at" format:"date-time"`
	LastModifiedBy         string                `json:"last_modified_by,omitempty"`
	Version                int                   `json:"version"`
}

// NewPhaseMap returns a phase map with every phase pending.
func NewPhaseMap() map[Phase]PhaseStatus {
	m := make(map[Phase]PhaseStatus, len(Phases))
	for _, p := range Phases {
		m[p] = PhaseStatus{Status: PhasePending}
	}
	return m
}

// Phase returns the status of ph, treating a missing entry as pending.
func (p Project) Phase(ph Phase) PhaseStatus {
	st, ok := p.Phases[ph]
	if !ok || st.Status == "" {
		return PhaseStatus{Status: PhasePending}
	}
	return st
}

// AllPhasesTerminal reports whether every phase is completed or skipped.
func (p Project) AllPhasesTerminal() bool {
	for _, ph := range Phases {
		if !p.Phase(ph).Status.Terminal() {
			return false
		}
	}
	return true
}

// NextPending returns the first pending phase after ph.
func (p Project) NextPending(ph Phase) (Phase, bool) {
	for _, next := range Phases[ph.Index()+1:] {
		if p.Phase(next).Status == PhasePending {
			return next, true
		}
	}
	return "", false
}

// Artifacts returns the id list for kind.
func (p Project) Artifacts(kind ArtifactKind) []string {
	switch kind {
	case ArtifactCourse:
		return p.CreatedCourseIDs
	case ArtifactLearningPath:
		return p.CreatedLearningPathIDs
	case ArtifactAssessment:
		return p.CreatedAssessmentIDs
	}
	return nil
}

func (p *Project) SetArtifacts(kind ArtifactKind, ids []string) {
	switch kind {
	case ArtifactCourse:
		p.CreatedCourseIDs = ids
	case ArtifactLearningPath:
		p.CreatedLearningPathIDs = ids
	case ArtifactAssessment:
		p.CreatedAssessmentIDs = ids
	}
}

// Clone returns a deep copy so a mutation never aliases the caller's snapshot.
func (p Project) Clone() Project {
	c := p
	c.Phases = make(map[Phase]PhaseStatus, len(p.Phases))
	for k, v := range p.Phases {
		if v.Data != nil {
			v.Data = slices.Clone(v.Data)
		}
		c.Phases[k] = v
	}
	c.CreatedCourseIDs = slices.Clone(p.CreatedCourseIDs)
	c.CreatedLearningPathIDs = slices.Clone(p.CreatedLearningPathIDs)
	c.CreatedAssessmentIDs = slices.Clone(p.CreatedAssessmentIDs)
	return c
}
