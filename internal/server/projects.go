package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"phaseline/internal/domain"
	"phaseline/internal/engine"
)

var mutationErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusInternalServerError,
}

type projectPath struct {
	OrgID     string `path:"org_id"`
	ProjectID string `path:"project_id"`
}

type projectOutput struct {
	Body ProjectResponse `json:"body"`
}

func projectResult(p domain.Project, err error) (*projectOutput, error) {
	if err != nil {
		return nil, handleError(err)
	}
	return &projectOutput{Body: projectResponse(p)}, nil
}

func versionOf(in *VersionRequest) int {
	if in == nil {
		return 0
	}
	return in.Version
}

func registerProjects(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-project",
		Method:        http.MethodPost,
		Path:          "/orgs/{org_id}/projects",
		Summary:       "Create project",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		OrgID string               `path:"org_id"`
		Body  CreateProjectRequest `json:"body"`
	}) (*projectOutput, error) {
		actor, authErr := actorFor(ctx, input.OrgID)
		if authErr != nil {
			return nil, authErr
		}
		return projectResult(e.CreateProject(ctx, input.OrgID, actor, input.Body.Name, input.Body.Description))
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/projects",
		Summary:     "List projects",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		OrgID  string `path:"org_id"`
		Status string `query:"status" enum:"draft,active,archived,completed"`
	}) (*struct {
		Body []ProjectResponse `json:"body"`
	}, error) {
		if _, authErr := actorFor(ctx, input.OrgID); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListProjects(ctx, input.OrgID, domain.ProjectStatus(input.Status))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []ProjectResponse `json:"body"`
		}{Body: mapProjects(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/projects/{project_id}",
		Summary:     "Get project",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*projectOutput, error) {
		if _, authErr := actorFor(ctx, input.OrgID); authErr != nil {
			return nil, authErr
		}
		return projectResult(e.GetProject(ctx, input.OrgID, input.ProjectID))
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-project",
		Method:      http.MethodPatch,
		Path:        "/orgs/{org_id}/projects/{project_id}",
		Summary:     "Update project name or description",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		projectPath
		Body UpdateProjectRequest `json:"body"`
	}) (*projectOutput, error) {
		actor, authErr := actorFor(ctx, input.OrgID)
		if authErr != nil {
			return nil, authErr
		}
		p, err := loadProject(ctx, e, input.OrgID, input.ProjectID, input.Body.Version)
		if err != nil {
			return nil, handleError(err)
		}
		return projectResult(e.UpdateProjectDetails(ctx, p, actor, input.Body.Name, input.Body.Description))
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-project",
		Method:        http.MethodDelete,
		Path:          "/orgs/{org_id}/projects/{project_id}",
		Summary:       "Delete project and its records",
		DefaultStatus: http.StatusNoContent,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *projectPath) (*struct{}, error) {
		actor, authErr := actorFor(ctx, input.OrgID)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteProject(ctx, input.OrgID, input.ProjectID, actor); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	for _, op := range []struct {
		id, path, summary string
		apply             func(context.Context, domain.Project, domain.Actor) (domain.Project, error)
	}{
		{"archive-project", "archive", "Archive project", e.Archive},
		{"activate-project", "activate", "Activate project", e.Activate},
	} {
		huma.Register(api, huma.Operation{
			OperationID: op.id,
			Method:      http.MethodPost,
			Path:        "/orgs/{org_id}/projects/{project_id}/" + op.path,
			Summary:     op.summary,
			Errors:      mutationErrors,
		}, func(ctx context.Context, input *struct {
			projectPath
			Body *VersionRequest `json:"body,omitempty"`
		}) (*projectOutput, error) {
			actor, authErr := actorFor(ctx, input.OrgID)
			if authErr != nil {
				return nil, authErr
			}
			p, err := loadProject(ctx, e, input.OrgID, input.ProjectID, versionOf(input.Body))
			if err != nil {
				return nil, handleError(err)
			}
			return projectResult(op.apply(ctx, p, actor))
		})
	}

	huma.Register(api, huma.Operation{
		OperationID: "project-overview",
		Method:      http.MethodGet,
		Path:        "/orgs/{org_id}/projects/{project_id}/overview",
		Summary:     "Project with every phase record",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *projectPath) (*struct {
		Body any `json:"body"`
	}, error) {
		if _, authErr := actorFor(ctx, input.OrgID); authErr != nil {
			return nil, authErr
		}
		ov, err := e.Overview(ctx, input.OrgID, input.ProjectID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body any `json:"body"`
		}{Body: ov}, nil
	})
}

type phasePath struct {
	projectPath
	Phase string `path:"phase" enum:"ingest,analyze,design,develop,implement,evaluate,personalize,portal,govern"`
}

func registerPhases(api huma.API, e engine.Engine) {
	prepare := func(ctx context.Context, in phasePath, version int) (domain.Project, domain.Actor, domain.Phase, error) {
		actor, authErr := actorFor(ctx, in.OrgID)
		if authErr != nil {
			return domain.Project{}, domain.Actor{}, "", authErr
		}
		phase, err := domain.ParsePhase(in.Phase)
		if err != nil {
			return domain.Project{}, domain.Actor{}, "", handleError(err)
		}
		p, err := loadProject(ctx, e, in.OrgID, in.ProjectID, version)
		if err != nil {
			return domain.Project{}, domain.Actor{}, "", handleError(err)
		}
		return p, actor, phase, nil
	}

	huma.Register(api, huma.Operation{
		OperationID: "start-phase",
		Method:      http.MethodPost,
		Path:        "/orgs/{org_id}/projects/{project_id}/phases/{phase}/start",
		Summary:     "Start phase",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		phasePath
		Body *VersionRequest `json:"body,omitempty"`
	}) (*projectOutput, error) {
		p, actor, phase, err := prepare(ctx, input.phasePath, versionOf(input.Body))
		if err != nil {
			return nil, err
		}
		return projectResult(e.StartPhase(ctx, p, actor, phase))
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-phase",
		Method:      http.MethodPost,
		Path:        "/orgs/{org_id}/projects/{project_id}/phases/{phase}/complete",
		Summary:     "Complete phase",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		phasePath
		Body *CompletePhaseRequest `json:"body,omitempty"`
	}) (*projectOutput, error) {
		var req CompletePhaseRequest
		if input.Body != nil {
			req = *input.Body
		}
		p, actor, phase, err := prepare(ctx, input.phasePath, req.Version)
		if err != nil {
			return nil, err
		}
		var output json.RawMessage
		if req.Output != nil {
			if output, err = json.Marshal(req.Output); err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid output", nil)
			}
		}
		return projectResult(e.CompletePhase(ctx, p, actor, phase, output))
	})

	huma.Register(api, huma.Operation{
		OperationID: "skip-phase",
		Method:      http.MethodPost,
		Path:        "/orgs/{org_id}/projects/{project_id}/phases/{phase}/skip",
		Summary:     "Skip phase",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		phasePath
		Body *SkipPhaseRequest `json:"body,omitempty"`
	}) (*projectOutput, error) {
		var req SkipPhaseRequest
		if input.Body != nil {
			req = *input.Body
		}
		p, actor, phase, err := prepare(ctx, input.phasePath, req.Version)
		if err != nil {
			return nil, err
		}
		return projectResult(e.SkipPhase(ctx, p, actor, phase, req.Reason))
	})

	huma.Register(api, huma.Operation{
		OperationID: "reconcile-artifacts",
		Method:      http.MethodPost,
		Path:        "/orgs/{org_id}/projects/{project_id}/reconcile/{phase}",
		Summary:     "Re-run artifact reconciliation for a completed phase",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		phasePath
		Body *VersionRequest `json:"body,omitempty"`
	}) (*projectOutput, error) {
		p, actor, phase, err := prepare(ctx, input.phasePath, versionOf(input.Body))
		if err != nil {
			return nil, err
		}
		return projectResult(e.Reconcile(ctx, p, actor, phase))
	})
}

func registerArtifacts(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "link-artifact",
		Method:      http.MethodPost,
		Path:        "/orgs/{org_id}/projects/{project_id}/artifacts",
		Summary:     "Link artifact",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		projectPath
		Body LinkArtifactRequest `json:"body"`
	}) (*projectOutput, error) {
		actor, authErr := actorFor(ctx, input.OrgID)
		if authErr != nil {
			return nil, authErr
		}
		kind, err := domain.ParseArtifactKind(input.Body.Kind)
		if err != nil {
			return nil, handleError(err)
		}
		p, err := loadProject(ctx, e, input.OrgID, input.ProjectID, input.Body.Version)
		if err != nil {
			return nil, handleError(err)
		}
		return projectResult(e.LinkArtifact(ctx, p, actor, kind, input.Body.ArtifactID))
	})

	huma.Register(api, huma.Operation{
		OperationID: "unlink-artifact",
		Method:      http.MethodDelete,
		Path:        "/orgs/{org_id}/projects/{project_id}/artifacts/{kind}/{artifact_id}",
		Summary:     "Unlink artifact",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		projectPath
		Kind       string `path:"kind" enum:"course,learning_path,assessment"`
		ArtifactID string `path:"artifact_id"`
		Version    int    `query:"version"`
	}) (*projectOutput, error) {
		actor, authErr := actorFor(ctx, input.OrgID)
		if authErr != nil {
			return nil, authErr
		}
		kind, err := domain.ParseArtifactKind(input.Kind)
		if err != nil {
			return nil, handleError(err)
		}
		p, err := loadProject(ctx, e, input.OrgID, input.ProjectID, input.Version)
		if err != nil {
			return nil, handleError(err)
		}
		return projectResult(e.UnlinkArtifact(ctx, p, actor, kind, input.ArtifactID))
	})
}
