// Package app wires configuration, storage, logging and the lifecycle engine
// for the CLI and the HTTP server.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"phaseline/internal/audit"
	"phaseline/internal/cache"
	"phaseline/internal/config"
	"phaseline/internal/db"
	"phaseline/internal/engine"
	"phaseline/internal/logging"
	"phaseline/internal/migrate"
	"phaseline/internal/repo"
)

type App struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Logger    *zap.Logger
	Repo      repo.Repo
	Audit     audit.Log
	Engine    engine.Engine
	Cache     *redis.Client
}

type Options struct {
	Workspace string
	// Config overrides phaseline.yml when set.
	Config *config.Config
	// Logger overrides the logger built from the logging config.
	Logger *zap.Logger
}

// Open prepares the workspace, migrates the database and builds the engine.
// The Redis project cache is attached when cache.addr is configured and
// reachable; otherwise the engine reads projects straight from SQLite.
func Open(ctx context.Context, opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		var err error
		if cfg, err = config.LoadOptional(opts.Workspace); err != nil {
			return nil, err
		}
	}
	logger := opts.Logger
	if logger == nil {
		var err error
		if logger, err = logging.New(cfg.Logging); err != nil {
			return nil, err
		}
	}
	if _, err := db.EnsureWorkspace(opts.Workspace); err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	applied, err := migrate.Apply(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if len(applied) > 0 {
		logger.Info("schema migrated", zap.Strings("migrations", applied))
	}
	e := engine.New(conn, cfg, logger)
	a := &App{
		Workspace: opts.Workspace,
		Config:    cfg,
		DB:        conn,
		Logger:    logger,
		Repo:      repo.Repo{DB: conn},
		Audit:     audit.Log{DB: conn},
		Engine:    e,
	}
	if cfg.Cache.Addr != "" {
		a.attachCache(ctx)
	}
	return a, nil
}

func (a *App) attachCache(ctx context.Context) {
	rdb := cache.NewClient(a.Config.Cache)
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		a.Logger.Warn("redis unavailable; project cache disabled", zap.String("addr", a.Config.Cache.Addr), zap.Error(err))
		rdb.Close()
		return
	}
	a.Cache = rdb
	a.Engine.Projects = cache.New(a.Engine.Projects, rdb, a.Config.Cache.TTLDuration(), a.Logger)
	a.Logger.Info("project cache enabled", zap.String("addr", a.Config.Cache.Addr))
}

func (a *App) Close() error {
	var errs []error
	if a.Cache != nil {
		errs = append(errs, a.Cache.Close())
	}
	errs = append(errs, a.DB.Close())
	_ = a.Logger.Sync()
	return errors.Join(errs...)
}
