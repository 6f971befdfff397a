package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gatewaykit/inference-gateway/internal/domain"
)

// RedisTracker implements Tracker on Redis so all gateway instances share
// one budget counter per caller. The window TTL is pinned by the first
// write (EXPIRE NX), so usage only resets when the whole window expires.
type RedisTracker struct {
	client *redis.Client
	config Config
}

func NewRedisTracker(redisURL string, cfg Config) (*RedisTracker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisTracker{client: client, config: cfg}, nil
}

// NewRedisTrackerWithClient creates a tracker sharing an existing client.
func NewRedisTrackerWithClient(client *redis.Client, cfg Config) *RedisTracker {
	return &RedisTracker{client: client, config: cfg}
}

func usageKey(caller domain.CallerIdentity) string {
	return "budget:usage:" + string(caller)
}

func (t *RedisTracker) Usage(ctx context.Context, caller domain.CallerIdentity) (int64, error) {
	used, err := t.client.Get(ctx, usageKey(caller)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return used, nil
}

func (t *RedisTracker) Record(ctx context.Context, caller domain.CallerIdentity, tokens int64) error {
	key := usageKey(caller)

	pipe := t.client.Pipeline()
	pipe.IncrBy(ctx, key, tokens)
	pipe.ExpireNX(ctx, key, t.config.Window)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (t *RedisTracker) Limit(caller domain.CallerIdentity) int64 {
	return t.config.limitFor(caller)
}

func (t *RedisTracker) Close() error {
	return t.client.Close()
}
