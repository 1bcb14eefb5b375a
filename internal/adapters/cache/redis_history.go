// Package cache holds shared state backends for the pipeline.
package cache

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/okian/trendcast/internal/domain/dedupe"
)

// DefaultKeyPrefix namespaces history keys.
const DefaultKeyPrefix = "trendcast:seen:"

// RedisHistory is a dedupe.Deduper shared by every replica through Redis.
// Each key is stored with SET NX PX so expiry is handled by Redis itself.
type RedisHistory struct {
	client    goredis.UniversalClient
	prefix    string
	retention time.Duration
}

var _ dedupe.Deduper = (*RedisHistory)(nil)

// Option configures a RedisHistory.
type Option func(*RedisHistory)

// WithKeyPrefix overrides DefaultKeyPrefix.
func WithKeyPrefix(prefix string) Option {
	return func(h *RedisHistory) {
		if prefix != "" {
			h.prefix = prefix
		}
	}
}

// NewRedisHistory creates a history with the given retention. Zero retention
// disables tracking.
func NewRedisHistory(client goredis.UniversalClient, retention time.Duration, opts ...Option) *RedisHistory {
	h := &RedisHistory{
		client:    client,
		prefix:    DefaultKeyPrefix,
		retention: retention,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// SeenAndRecord implements dedupe.Deduper.
func (h *RedisHistory) SeenAndRecord(ctx context.Context, key string) (bool, error) {
	if h.retention <= 0 {
		return false, nil
	}
	created, err := h.client.SetNX(ctx, h.prefix+key, time.Now().Unix(), h.retention).Result()
	if err != nil {
		return false, fmt.Errorf("%w: setnx %s: %w", ErrHistory, key, err)
	}
	return !created, nil
}

// Unrecord implements dedupe.Deduper.
func (h *RedisHistory) Unrecord(ctx context.Context, key string) error {
	if err := h.client.Del(ctx, h.prefix+key).Err(); err != nil {
		return fmt.Errorf("%w: del %s: %w", ErrHistory, key, err)
	}
	return nil
}

// Ping checks connectivity.
func (h *RedisHistory) Ping(ctx context.Context) error {
	if err := h.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrHistory, err)
	}
	return nil
}

// Close releases the client.
func (h *RedisHistory) Close() error {
	return h.client.Close()
}
