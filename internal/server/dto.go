package server

import (
	"encoding/json"

	"phaseline/internal/domain"
)

// Request payloads

type CreateProjectRequest struct {
	Name        string `json:"name" minLength:"1"`
	Description string `json:"description,omitempty"`
}

type UpdateProjectRequest struct {
	Version     int     `json:"version,omitempty" doc:"Version the caller last read; 0 skips the check"`
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

type VersionRequest struct {
	Version int `json:"version,omitempty" doc:"Version the caller last read; 0 skips the check"`
}

type CompletePhaseRequest struct {
	Version int `json:"version,omitempty"`
	Output  any `json:"output,omitempty" doc:"Phase output; must be a JSON object"`
}

type SkipPhaseRequest struct {
	Version int    `json:"version,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

type LinkArtifactRequest struct {
	Version    int    `json:"version,omitempty"`
	Kind       string `json:"kind" enum:"course,learning_path,assessment"`
	ArtifactID string `json:"artifact_id" minLength:"1"`
}

type DecideStageRequest struct {
	Version int    `json:"version,omitempty"`
	Notes   string `json:"notes,omitempty"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
	OrgID   string `json:"org_id"`
	Name    string `json:"name,omitempty"`
	Role    string `json:"role,omitempty"`
}

// Response payloads

type HealthResponse struct {
	Status string `json:"status" example:"ok"`
	Time   string `json:"time"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type PhaseResponse struct {
	Status      domain.PhaseState `json:"status" enum:"pending,in_progress,completed,skipped"`
	StartedAt   *string           `json:"started_at,omitempty" format:"date-time"`
	CompletedAt *string           `json:"completed_at,omitempty" format:"date-time"`
	Data        any               `json:"data,omitempty"`
}

type ProjectResponse struct {
	ID                     string                   `json:"id"`
	OrgID                  string                   `json:"org_id"`
	Name                   string                   `json:"name"`
	Description            string                   `json:"description,omitempty"`
	Status                 domain.ProjectStatus     `json:"status" enum:"draft,active,archived,completed"`
	Phases                 map[string]PhaseResponse `json:"phases"`
	CurrentPhase           domain.Phase             `json:"current_phase"`
	CreatedCourseIDs       []string                 `json:"created_course_ids"`
	CreatedLearningPathIDs []string                 `json:"created_learning_path_ids"`
	CreatedAssessmentIDs   []string                 `json:"created_assessment_ids"`
	CreatedBy              string                   `json:"created_by"`
	CreatedAt              string                   `json:"created_at" format:"date-time"`
	UpdatedAt              string                   `json:"updated_at" format:"date-time"`
	LastModifiedBy         string                   `json:"last_modified_by,omitempty"`
	Version                int                      `json:"version"`
}

type FieldChangeResponse struct {
	Field    string `json:"field"`
	OldValue any    `json:"old_value,omitempty"`
	NewValue any    `json:"new_value,omitempty"`
}

type AuditEntryResponse struct {
	ID         string                `json:"id"`
	Seq        int64                 `json:"seq"`
	OrgID      string                `json:"org_id"`
	ProjectID  string                `json:"project_id,omitempty"`
	Timestamp  string                `json:"timestamp" format:"date-time"`
	ActorID    string                `json:"actor_id"`
	ActorName  string                `json:"actor_name,omitempty"`
	ActorRole  string                `json:"actor_role,omitempty"`
	Action     string                `json:"action"`
	EntityType string                `json:"entity_type"`
	EntityID   string                `json:"entity_id"`
	Changes    []FieldChangeResponse `json:"changes,omitempty"`
	Metadata   map[string]string     `json:"metadata,omitempty"`
}

type AuditPageResponse struct {
	Items      []AuditEntryResponse `json:"items"`
	NextCursor int64                `json:"next_cursor,omitempty"`
}

func decodeAny(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

func projectResponse(p domain.Project) ProjectResponse {
	phases := make(map[string]PhaseResponse, len(domain.Phases))
	for _, ph := range domain.Phases {
		st := p.Phase(ph)
		phases[string(ph)] = PhaseResponse{
			Status:      st.Status,
			StartedAt:   st.StartedAt,
			CompletedAt: st.CompletedAt,
			Data:        decodeAny(st.Data),
		}
	}
	return ProjectResponse{
		ID:                     p.ID,
		OrgID:                  p.OrgID,
		Name:                   p.Name,
		Description:            p.Description,
		Status:                 p.Status,
		Phases:                 phases,
		CurrentPhase:           p.CurrentPhase,
		CreatedCourseIDs:       nonNilSlice(p.CreatedCourseIDs),
		CreatedLearningPathIDs: nonNilSlice(p.CreatedLearningPathIDs),
		CreatedAssessmentIDs:   nonNilSlice(p.CreatedAssessmentIDs),
		CreatedBy:              p.CreatedBy,
		CreatedAt:              p.CreatedAt,
		UpdatedAt:              p.UpdatedAt,
		LastModifiedBy:         p.LastModifiedBy,
		Version:                p.Version,
	}
}

func mapProjects(items []domain.Project) []ProjectResponse {
	res := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		res = append(res, projectResponse(p))
	}
	return res
}

func auditEntryResponse(e domain.AuditLogEntry) AuditEntryResponse {
	var changes []FieldChangeResponse
	for _, c := range e.Changes {
		changes = append(changes, FieldChangeResponse{
			Field:    c.Field,
			OldValue: decodeAny(c.OldValue),
			NewValue: decodeAny(c.NewValue),
		})
	}
	return AuditEntryResponse{
		ID:         e.ID,
		Seq:        e.Seq,
		OrgID:      e.OrgID,
		ProjectID:  e.ProjectID,
		Timestamp:  e.Timestamp,
		ActorID:    e.ActorID,
		ActorName:  e.ActorName,
		ActorRole:  e.ActorRole,
		Action:     e.Action,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Changes:    changes,
		Metadata:   e.Metadata,
	}
}

func nonNilSlice(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
