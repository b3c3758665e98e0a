// Package cache provides a Redis read-through cache for projects.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"phaseline/internal/config"
	"phaseline/internal/domain"
	"phaseline/internal/engine"
)

func NewClient(cfg config.CacheConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// ProjectStore caches GetProject results in Redis and drops the cached copy
// on every write. Cache failures are logged and the call falls through to the
// wrapped store; writes are always conditioned by the wrapped store, so a
// stale cached snapshot can only produce a concurrent modification error.
//
// Every write also raises a per-project version fence. A read-through store
// carrying a version below the fence is dropped, so a read that raced a write
// cannot put the older snapshot back.
type ProjectStore struct {
	engine.ProjectStore
	RDB    *redis.Client
	TTL    time.Duration
	Logger *zap.Logger
}

func New(inner engine.ProjectStore, rdb *redis.Client, ttl time.Duration, logger *zap.Logger) ProjectStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return ProjectStore{ProjectStore: inner, RDB: rdb, TTL: ttl, Logger: logger}
}

// fenceTTL only has to outlive a read in flight.
const fenceTTL = time.Minute

// deletedFence blocks every snapshot of a deleted project.
const deletedFence = math.MaxInt32

// storeIfCurrent: KEYS snapshot, fence; ARGV version, payload, ttl ms.
var storeIfCurrent = redis.NewScript(`
local fence = tonumber(redis.call('GET', KEYS[2]) or '0')
if tonumber(ARGV[1]) < fence then
  return 0
end
if tonumber(ARGV[3]) > 0 then
  redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
else
  redis.call('SET', KEYS[1], ARGV[2])
end
return 1
`)

// evictAndFence: KEYS snapshot, fence; ARGV version, fence ttl ms.
var evictAndFence = redis.NewScript(`
local fence = tonumber(redis.call('GET', KEYS[2]) or '0')
if tonumber(ARGV[1]) > fence then
  redis.call('SET', KEYS[2], ARGV[1], 'PX', ARGV[2])
elseif fence > 0 then
  redis.call('PEXPIRE', KEYS[2], ARGV[2])
end
redis.call('DEL', KEYS[1])
return 1
`)

func key(orgID, id string) string {
	return fmt.Sprintf("phaseline:project:%s:%s", orgID, id)
}

func fenceKey(orgID, id string) string {
	return key(orgID, id) + ":fence"
}

func (c ProjectStore) GetProject(ctx context.Context, orgID, id string) (domain.Project, error) {
	k := key(orgID, id)
	raw, err := c.RDB.Get(ctx, k).Bytes()
	switch {
	case err == nil:
		var p domain.Project
		if jerr := json.Unmarshal(raw, &p); jerr == nil {
			return p, nil
		}
		c.Logger.Warn("discarding undecodable cached project", zap.String("key", k))
	case !errors.Is(err, redis.Nil):
		c.Logger.Warn("project cache read failed", zap.String("key", k), zap.Error(err))
	}
	p, err := c.ProjectStore.GetProject(ctx, orgID, id)
	if err != nil {
		return p, err
	}
	c.store(ctx, p)
	return p, nil
}

// UpdateProject fences at the version the write produces. A failed write
// only evicts; whoever won the race raised the fence already.
func (c ProjectStore) UpdateProject(ctx context.Context, p domain.Project, expectedVersion int) error {
	err := c.ProjectStore.UpdateProject(ctx, p, expectedVersion)
	fence := 0
	if err == nil {
		fence = expectedVersion + 1
	}
	c.evict(ctx, p.OrgID, p.ID, fence)
	return err
}

func (c ProjectStore) DeleteProject(ctx context.Context, orgID, id string) error {
	err := c.ProjectStore.DeleteProject(ctx, orgID, id)
	c.evict(ctx, orgID, id, deletedFence)
	return err
}

func (c ProjectStore) store(ctx context.Context, p domain.Project) {
	b, err := json.Marshal(p)
	if err != nil {
		return
	}
	keys := []string{key(p.OrgID, p.ID), fenceKey(p.OrgID, p.ID)}
	stored, err := storeIfCurrent.Run(ctx, c.RDB, keys, p.Version, b, c.TTL.Milliseconds()).Int()
	if err != nil {
		c.Logger.Warn("project cache write failed", zap.String("project_id", p.ID), zap.Error(err))
		return
	}
	if stored == 0 {
		c.Logger.Debug("stale project snapshot not cached", zap.String("project_id", p.ID), zap.Int("version", p.Version))
	}
}

func (c ProjectStore) evict(ctx context.Context, orgID, id string, fence int) {
	keys := []string{key(orgID, id), fenceKey(orgID, id)}
	if err := evictAndFence.Run(ctx, c.RDB, keys, fence, fenceTTL.Milliseconds()).Err(); err != nil {
		c.Logger.Warn("project cache evict failed", zap.String("project_id", id), zap.Error(err))
	}
}
