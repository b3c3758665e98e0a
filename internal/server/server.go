package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"phaseline/internal/audit"
	"phaseline/internal/domain"
	"phaseline/internal/engine"
	"phaseline/internal/logging"
	"phaseline/internal/metrics"
	"phaseline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Keys     repo.Repo
	Audit    audit.Log
	BasePath string
	Auth     AuthConfig
	Logger   *zap.Logger
	// AuditDefaultLimit and AuditMaxLimit bound audit page sizes.
	AuditDefaultLimit int
	AuditMaxLimit     int
	// MaxBodyBytes caps request bodies; 1 MiB when zero.
	MaxBodyBytes int64
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"complete the Analyze phase before starting Design"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"kind\":\"invalid_transition\"}"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the phaseline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	cfg.Logger = logging.OrNop(cfg.Logger)
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = cfg.Logger
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// schema errors are malformed requests, not rule violations
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(metricsMiddleware)
	router.Use(limitBody(cfg.MaxBodyBytes))
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Keys))
	router.Handle("/metrics", metrics.Handler())

	hcfg := huma.DefaultConfig("Phaseline API", "0.1.0")
	hcfg.Info.Description = "Phase lifecycle, phase records, approvals and audit trail for learning projects."
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerProjects(group, cfg.Engine)
	registerPhases(group, cfg.Engine)
	registerArtifacts(group, cfg.Engine)
	registerRecords(group, cfg.Engine)
	registerApprovals(group, cfg.Engine)
	registerAudit(group, cfg)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func limitBody(max int64) func(http.Handler) http.Handler {
	if max <= 0 {
		max = 1 << 20
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, max)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RecordHTTPRequest(r.Method, route, strconv.Itoa(status), time.Since(start))
	})
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

// handleError maps lifecycle errors onto the envelope; the code is the error kind.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	kind := domain.KindOf(err)
	switch kind {
	case domain.KindNotFound:
		return newAPIError(http.StatusNotFound, string(kind), err.Error(), nil)
	case domain.KindInvalidTransition,
		domain.KindInvalidState,
		domain.KindOutOfOrder,
		domain.KindAlreadyDecided,
		domain.KindConcurrentModification:
		return newAPIError(http.StatusConflict, string(kind), err.Error(), nil)
	case domain.KindMissingPhaseData, domain.KindValidationFailed:
		return newAPIError(http.StatusUnprocessableEntity, string(kind), err.Error(), nil)
	case domain.KindForbidden:
		return newAPIError(http.StatusForbidden, string(kind), err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

var statusCodes = map[int]string{
	http.StatusBadRequest:            "bad_request",
	http.StatusUnauthorized:          "unauthorized",
	http.StatusForbidden:             "forbidden",
	http.StatusNotFound:              "not_found",
	http.StatusConflict:              "conflict",
	http.StatusRequestEntityTooLarge: "body_too_large",
	http.StatusUnprocessableEntity:   "validation_failed",
	http.StatusInternalServerError:   "internal_error",
}

func defaultCodeForStatus(status int) string {
	if code, ok := statusCodes[status]; ok {
		return code
	}
	return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Tags:        []string{"meta"},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body HealthResponse `json:"body"`
	}, error) {
		out := &struct {
			Body HealthResponse `json:"body"`
		}{}
		out.Body = HealthResponse{Status: "ok", Time: time.Now().UTC().Format(time.RFC3339)}
		return out, nil
	})
}

func normalizeLimit(in, def, max int) int {
	if def <= 0 {
		def = 50
	}
	if max <= 0 {
		max = 200
	}
	if in <= 0 {
		return def
	}
	if in > max {
		return max
	}
	return in
}

// loadProject reads the project and rejects a stale caller version.
// Version 0 skips the check; the conditioned write still guards the race.
func loadProject(ctx context.Context, e engine.Engine, orgID, projectID string, version int) (domain.Project, error) {
	p, err := e.GetProject(ctx, orgID, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if version != 0 && version != p.Version {
		return domain.Project{}, domain.Conflict("project", projectID)
	}
	return p, nil
}
