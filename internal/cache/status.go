package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mvai/bracket_orchestrator/internal/config"
	"github.com/mvai/bracket_orchestrator/internal/jobs"
)

const statusKeyPrefix = "job:status:"

// ErrMiss reports a cache miss or an unusable cached entry.
var ErrMiss = errors.New("status cache miss")

// StatusCache keeps recent job status snapshots in Redis so polling clients
// do not hit the database on every request. Entries are invalidated on every
// state-changing action.
type StatusCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStatusCache(ctx context.Context, cfg config.Redis) (*StatusCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &StatusCache{client: client, ttl: cfg.StatusTTL}, nil
}

func (c *StatusCache) Get(ctx context.Context, jobID string) (*jobs.StatusView, error) {
	data, err := c.client.Get(ctx, statusKeyPrefix+jobID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMiss
		}
		return nil, fmt.Errorf("failed to get cached status: %w", err)
	}

	var view jobs.StatusView
	if err := json.Unmarshal(data, &view); err != nil {
		return nil, ErrMiss
	}

	return &view, nil
}

func (c *StatusCache) Set(ctx context.Context, jobID string, view *jobs.StatusView) error {
	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("failed to marshal status view: %w", err)
	}

	if err := c.client.Set(ctx, statusKeyPrefix+jobID, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache status: %w", err)
	}

	return nil
}

func (c *StatusCache) Invalidate(ctx context.Context, jobID string) error {
	if err := c.client.Del(ctx, statusKeyPrefix+jobID).Err(); err != nil {
		return fmt.Errorf("failed to invalidate status: %w", err)
	}
	return nil
}

func (c *StatusCache) Close() error {
	return c.client.Close()
}
