package autoscale

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gatewaykit/inference-gateway/internal/domain"
)

// RedisController implements Controller on Redis sorted sets so the sliding
// window and cooldown flags are shared across all gateway instances.
type RedisController struct {
	client *redis.Client
	config Config
}

func NewRedisController(redisURL string, cfg Config) (*RedisController, error) {
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

	return &RedisController{client: client, config: cfg}, nil
}

// NewRedisControllerWithClient creates a controller sharing an existing client.
func NewRedisControllerWithClient(client *redis.Client, cfg Config) *RedisController {
	return &RedisController{client: client, config: cfg}
}

func rateKey(caller domain.CallerIdentity) string {
	return "autoscale:window:" + string(caller)
}

func cooldownKey(caller domain.CallerIdentity) string {
	return "autoscale:cooldown:" + string(caller)
}

func (c *RedisController) Check(ctx context.Context, caller domain.CallerIdentity) (Verdict, error) {
	key := rateKey(caller)
	now := time.Now()
	windowStart := now.Add(-rateWindow)
	spikeStart := now.Add(-c.config.SpikeWindow)

	pipe := c.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: now.UnixNano(),
	})
	countCmd := pipe.ZCard(ctx, key)
	spikeCmd := pipe.ZCount(ctx, key, fmt.Sprintf("%d", spikeStart.UnixNano()), "+inf")
	pipe.Expire(ctx, key, rateWindow)
	cooldownCmd := pipe.PTTL(ctx, cooldownKey(caller))

	if _, err := pipe.Exec(ctx); err != nil {
		// Fail closed: without the shared window we cannot bound load.
		return Verdict{Allowed: false, Level: domain.FallbackDeny},
			fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	count := int(countCmd.Val())
	verdict := Verdict{
		Allowed:   true,
		Level:     domain.FallbackNormal,
		Remaining: maxInt(c.config.RequestsPerMinute-count, 0),
		ResetAt:   now.Add(rateWindow),
	}

	if count > c.config.RequestsPerMinute {
		verdict.Allowed = false
		verdict.Level = domain.FallbackDeny
		return verdict, nil
	}

	// An existing cooldown pins the level until its TTL expires, even if
	// traffic has already dropped.
	if ttl := cooldownCmd.Val(); ttl > 0 {
		verdict.Level = domain.FallbackCheapModel
		verdict.CooldownUntil = now.Add(ttl)
		return verdict, nil
	}

	if int(spikeCmd.Val()) >= c.config.SpikeThreshold {
		// SETNX so concurrent instances agree on a single cooldown deadline.
		set, err := c.client.SetNX(ctx, cooldownKey(caller), now.UnixNano(), c.config.Cooldown).Result()
		if err == nil && !set {
			if ttl, terr := c.client.PTTL(ctx, cooldownKey(caller)).Result(); terr == nil && ttl > 0 {
				verdict.Level = domain.FallbackCheapModel
				verdict.CooldownUntil = now.Add(ttl)
				return verdict, nil
			}
		}
		verdict.Level = domain.FallbackCheapModel
		verdict.CooldownUntil = now.Add(c.config.Cooldown)
	}

	return verdict, nil
}

func (c *RedisController) Close() error {
	return c.client.Close()
}
