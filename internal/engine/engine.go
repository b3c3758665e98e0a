package engine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"go.uber.org/zap"

	"phaseline/internal/audit"
	"phaseline/internal/config"
	"phaseline/internal/domain"
	"phaseline/internal/logging"
	"phaseline/internal/metrics"
	"phaseline/internal/repo"
)

// ProjectStore persists projects with version-conditioned updates.
type ProjectStore interface {
	InsertProject(ctx context.Context, p domain.Project) error
	GetProject(ctx context.Context, orgID, id string) (domain.Project, error)
	ListProjects(ctx context.Context, orgID, status string) ([]domain.Project, error)
	UpdateProject(ctx context.Context, p domain.Project, expectedVersion int) error
	DeleteProject(ctx context.Context, orgID, id string) error
}

// RecordStore persists phase records as versioned documents.
type RecordStore interface {
	InsertRecord(ctx context.Context, rec repo.RecordRow) error
	GetRecord(ctx context.Context, kind domain.RecordKind, orgID, projectID, id string) (repo.RecordRow, error)
	ListRecords(ctx context.Context, kind domain.RecordKind, orgID, projectID string) ([]repo.RecordRow, error)
	CountRecords(ctx context.Context, kind domain.RecordKind, orgID, projectID string) (int, error)
	UpdateRecord(ctx context.Context, rec repo.RecordRow, expectedVersion int) error
	DeleteRecord(ctx context.Context, kind domain.RecordKind, orgID, projectID, id string, expectedVersion int) error
}

// Engine applies lifecycle rules. Every mutating method takes the caller's
// snapshot of the entity and writes conditioned on the snapshot's version;
// a lost race surfaces as domain.ErrConcurrentModification and is never retried.
type Engine struct {
	Projects ProjectStore
	Records  RecordStore
	Audit    audit.Recorder
	Config   *config.Config
	Logger   *zap.Logger
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config, logger *zap.Logger) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	logger = logging.OrNop(logger)
	r := repo.Repo{DB: db}
	return Engine{
		Projects: r,
		Records:  r,
		Audit:    audit.Recorder{Sink: audit.Log{DB: db}, Logger: logger},
		Config:   cfg,
		Logger:   logger,
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logger() *zap.Logger {
	return logging.OrNop(e.Logger)
}

func (e Engine) config() *config.Config {
	if e.Config == nil {
		return config.Default()
	}
	return e.Config
}

func checkActor(actor domain.Actor) error {
	if actor.ID == "" {
		return domain.Errorf(domain.KindValidationFailed, "actor id is required")
	}
	return nil
}

// record appends an audit entry for actor. Failures are logged by the recorder.
func (e Engine) record(ctx context.Context, actor domain.Actor, entry domain.AuditLogEntry) {
	entry.ActorID = actor.ID
	entry.ActorName = actor.Name
	entry.ActorRole = actor.Role
	if entry.Timestamp == "" {
		entry.Timestamp = e.stamp()
	}
	e.Audit.Record(ctx, entry)
}

// saveProject writes next conditioned on prev.Version and returns next with
// its new version.
func (e Engine) saveProject(ctx context.Context, prev, next domain.Project, actor domain.Actor) (domain.Project, error) {
	next.UpdatedAt = e.stamp()
	next.LastModifiedBy = actor.ID
	if err := e.Projects.UpdateProject(ctx, next, prev.Version); err != nil {
		if errors.Is(err, domain.ErrConcurrentModification) {
			metrics.ConcurrentModifications.WithLabelValues("project").Inc()
		}
		return domain.Project{}, err
	}
	next.Version = prev.Version + 1
	return next, nil
}
