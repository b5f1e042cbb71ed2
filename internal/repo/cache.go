package repo

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	cachePrefix = "ss:cache:"
	cacheTTL    = 30 * time.Second
)

// readCache is a short-TTL redis cache in front of task reads. Every
// mutating repository call invalidates the whole prefix; staleness is
// bounded by the TTL either way. Cache errors are logged and swallowed.
type readCache struct {
	client *redis.Client
}

// WithCache attaches the read cache to the repository.
func (r *Repository) WithCache(client *redis.Client) *Repository {
	r.cache = &readCache{client: client}
	return r
}

func (r *Repository) cacheGetTask(ctx context.Context, taskID string) (*TaskRow, bool) {
	if r.cache == nil {
		return nil, false
	}
	data, err := r.cache.client.Get(ctx, cachePrefix+"task:"+taskID).Bytes()
	if err != nil {
		return nil, false
	}
	var t TaskRow
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, false
	}
	return &t, true
}

func (r *Repository) cachePutTask(ctx context.Context, t *TaskRow) {
	if r.cache == nil {
		return
	}
	data, err := json.Marshal(t)
	if err != nil {
		return
	}
	if err := r.cache.client.Set(ctx, cachePrefix+"task:"+t.TaskID, data, cacheTTL).Err(); err != nil {
		slog.Warn("Failed to populate task cache", "task_id", t.TaskID, "error", err)
	}
}

// invalidate drops every cached entry under the prefix.
func (r *Repository) invalidate(ctx context.Context) {
	if r.cache == nil {
		return
	}
	var cursor uint64
	for {
		keys, next, err := r.cache.client.Scan(ctx, cursor, cachePrefix+"*", 100).Result()
		if err != nil {
			slog.Warn("Failed to scan cache for invalidation", "error", err)
			return
		}
		if len(keys) > 0 {
			if err := r.cache.client.Del(ctx, keys...).Err(); err != nil {
				slog.Warn("Failed to invalidate cache keys", "error", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return
		}
	}
}
