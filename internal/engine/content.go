package engine

import (
	"context"
	"encoding/json"

	"phaseline/internal/domain"
)

// AddContent registers an uploaded file against the ingest phase.
func (e Engine) AddContent(ctx context.Context, orgID, projectID string, actor domain.Actor, c domain.Content) (domain.Content, error) {
	return createRecord[domain.Content](ctx, e, orgID, projectID, actor, c)
}

func (e Engine) GetContent(ctx context.Context, orgID, projectID, id string) (domain.Content, error) {
	return getRecord[domain.Content](ctx, e, orgID, projectID, id)
}

func (e Engine) ListContent(ctx context.Context, orgID, projectID string) ([]domain.Content, error) {
	return listRecords[domain.Content](ctx, e, orgID, projectID)
}

func (e Engine) PatchContent(ctx context.Context, c domain.Content, patch json.RawMessage, actor domain.Actor) (domain.Content, error) {
	return patchRecord[domain.Content](ctx, e, c, patch, actor)
}

// ContentProcessingResult is what the ingestion pipeline reports for a file.
type ContentProcessingResult struct {
	Status        domain.ContentStatus
	ExtractedText string
	Metadata      *domain.ContentMetadata
	Error         string
}

// SetContentStatus records the outcome of processing an uploaded file.
func (e Engine) SetContentStatus(ctx context.Context, c domain.Content, res ContentProcessingResult, actor domain.Actor) (domain.Content, error) {
	meta := map[string]string{"status": string(res.Status)}
	return mutateRecord(ctx, e, c, actor, "content.status_changed", meta, func(n *domain.Content) error {
		n.Status = res.Status
		n.Error = res.Error
		if res.ExtractedText != "" {
			n.ExtractedText = res.ExtractedText
		}
		if res.Metadata != nil {
			n.Metadata = *res.Metadata
		}
		return nil
	})
}

func (e Engine) RemoveContent(ctx context.Context, c domain.Content, actor domain.Actor) error {
	return deleteRecord[domain.Content](ctx, e, c, actor)
}
