package domain

import "encoding/json"

const (
	ActionProjectCreated          = "project.created"
	ActionProjectUpdated          = "project.updated"
	ActionProjectArchived         = "project.archived"
	ActionProjectActivated        = "project.activated"
	ActionProjectCompleted        = "project.completed"
	ActionProjectDeleted          = "project.deleted"
	ActionPhaseStarted            = "phase.started"
	ActionPhaseCompleted          = "phase.completed"
	ActionPhaseSkipped            = "phase.skipped"
	ActionArtifactLinked          = "project.artifact_linked"
	ActionArtifactUnlinked        = "project.artifact_unlinked"
	ActionArtifactsReconciled     = "project.artifacts_reconciled"
	ActionGovernanceStageApproved = "governance.stage_approved"
	ActionGovernanceStageRejected = "governance.stage_rejected"
)

// FieldChange records one field's value before and after a mutation.
type FieldChange struct {
	Field    string          `json:"field"`
	OldValue json.RawMessage `json:"old_value,omitempty"`
	NewValue json.RawMessage `json:"new_value,omitempty"`
}

// AuditLogEntry is an immutable record of a mutation.
type AuditLogEntry struct {
	ID         string            `json:"id"`
	Seq        int64             `json:"seq"`
	OrgID      string            `json:"org_id"`
	ProjectID  string            `json:"project_id,omitempty"`
	Timestamp  string            `json:"timestamp" format:"date-time"`
	ActorID    string            `json:"actor_id"`
	ActorName  string            `json:"actor_name,omitempty"`
	ActorRole  string            `json:"actor_role,omitempty"`
	Action     string            `json:"action"`
	EntityType string            `json:"entity_type"`
	EntityID   string            `json:"entity_id"`
	Changes    []FieldChange     `json:"changes,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}
