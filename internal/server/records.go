package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"phaseline/internal/audit"
	"phaseline/internal/domain"
	"phaseline/internal/engine"
)

const recordKinds = "content,analysis,design,generation,implementation,analytics,governance"

type recordsPath struct {
	projectPath
	Kind string `path:"kind" enum:"content,analysis,design,generation,implementation,analytics,governance"`
}

type rawOutput struct {
	Body any `json:"body"`
}

func requireJSONBody(raw []byte) error {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
	}
	if !json.Valid(raw) {
		return newAPIError(http.StatusBadRequest, "bad_request", "body must be valid JSON", nil)
	}
	return nil
}

func registerRecords(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-records",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/projects/{project_id}/records/{kind}",
		Summary:     "List phase records of one kind",
		Description: "Kinds: " + recordKinds + ".",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *recordsPath) (*struct {
		Body []any `json:"body"`
	}, error) {
		if _, authErr := actorFor(ctx, input.OrgID); authErr != nil {
			return nil, authErr
		}
		kind, err := domain.ParseRecordKind(input.Kind)
		if err != nil {
			return nil, handleError(err)
		}
		items, err := e.ListRecords(ctx, input.OrgID, input.ProjectID, kind)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]any, 0, len(items))
		for _, it := range items {
			out = append(out, it)
		}
		return &struct {
			Body []any `json:"body"`
		}{Body: out}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-record",
		Method:        http.MethodPost,
		Path:          "/orgs/{org_id}/projects/{project_id}/records/{kind}",
		Summary:       "Create a phase record",
		Description:   "The body is the record document. Kinds: " + recordKinds + ".",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		recordsPath
		RawBody []byte
	}) (*rawOutput, error) {
		actor, authErr := actorFor(ctx, input.OrgID)
		if authErr != nil {
			return nil, authErr
		}
		kind, err := domain.ParseRecordKind(input.Kind)
		if err != nil {
			return nil, handleError(err)
		}
		if err := requireJSONBody(input.RawBody); err != nil {
			return nil, err
		}
		rec, err := e.CreateRecord(ctx, input.OrgID, input.ProjectID, actor, kind, input.RawBody)
		if err != nil {
			return nil, handleError(err)
		}
		return &rawOutput{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "patch-record",
		Method:      http.MethodPatch,
		Path:        "/orgs/{org_id}/projects/{project_id}/records/{kind}/{record_id}",
		Summary:     "Merge top-level fields into a phase record",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		recordsPath
		RecordID string `path:"record_id"`
		Version  int    `query:"version" doc:"Version the caller last read; 0 skips the check"`
		RawBody  []byte
	}) (*rawOutput, error) {
		actor, authErr := actorFor(ctx, input.OrgID)
		if authErr != nil {
			return nil, authErr
		}
		kind, err := domain.ParseRecordKind(input.Kind)
		if err != nil {
			return nil, handleError(err)
		}
		if err := requireJSONBody(input.RawBody); err != nil {
			return nil, err
		}
		rec, err := e.PatchRecord(ctx, input.OrgID, input.ProjectID, kind, input.RecordID, input.Version, input.RawBody, actor)
		if err != nil {
			return nil, handleError(err)
		}
		return &rawOutput{Body: rec}, nil
	})
}

func registerApprovals(api huma.API, e engine.Engine) {
	for _, op := range []struct {
		id, verb, summary string
		approve bool
	}{
		{"approve-stage", "approve", "Approve approval stage", true},
		{"reject-stage", "reject", "Reject approval stage", false},
	} {
		huma.Register(api, huma.Operation{
			OperationID: op.id,
			Method:      http.MethodPost,
			Path:        "/orgs/{org_id}/projects/{project_id}/governance/{record_id}/stages/{stage_id}/" + op.verb,
			Summary:     op.summary,
			Errors:      mutationErrors,
		}, func(ctx context.Context, input *struct {
			projectPath
			RecordID string              `path:"record_id"`
			StageID  string              `path:"stage_id"`
			Body     *DecideStageRequest `json:"body,omitempty"`
		}) (*rawOutput, error) {
			actor, authErr := actorFor(ctx, input.OrgID)
			if authErr != nil {
				return nil, authErr
			}
			var req DecideStageRequest
			if input.Body != nil {
				req = *input.Body
			}
			g, err := e.DecideStage(ctx, input.OrgID, input.ProjectID, input.RecordID, input.StageID, req.Version, op.approve, actor, req.Notes)
			if err != nil {
				return nil, handleError(err)
			}
			return &rawOutput{Body: g}, nil
		})
	}
}

func registerAudit(api huma.API, cfg Config) {
	e := cfg.Engine
	huma.Register(api, huma.Operation{
		OperationID: "list-audit",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/projects/{project_id}/audit",
		Summary:     "Project audit log, newest first",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		projectPath
		Limit      int    `query:"limit"`
		Cursor     int64  `query:"cursor" doc:"Return entries older than this sequence number"`
		Action     string `query:"action"`
		EntityType string `query:"entity_type"`
		EntityID   string `query:"entity_id"`
	}) (*struct {
		Body AuditPageResponse `json:"body"`
	}, error) {
		if _, authErr := actorFor(ctx, input.OrgID); authErr != nil {
			return nil, authErr
		}
		if _, err := e.GetProject(ctx, input.OrgID, input.ProjectID); err != nil {
			return nil, handleError(err)
		}
		limit := normalizeLimit(input.Limit, cfg.AuditDefaultLimit, cfg.AuditMaxLimit)
		entries, err := cfg.Audit.List(ctx, audit.Filter{
			OrgID:      input.OrgID,
			ProjectID:  input.ProjectID,
			Action:     input.Action,
			EntityType: input.EntityType,
			EntityID:   input.EntityID,
			Cursor:     input.Cursor,
			Limit:      limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		page := AuditPageResponse{Items: make([]AuditEntryResponse, 0, len(entries))}
		for _, entry := range entries {
			page.Items = append(page.Items, auditEntryResponse(entry))
		}
		if len(entries) == limit {
			page.NextCursor = entries[len(entries)-1].Seq
		}
		return &struct {
			Body AuditPageResponse `json:"body"`
		}{Body: page}, nil
	})
}
