package health

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gatewaykit/inference-gateway/internal/domain"
)

// RedisTracker shares the sample windows and health snapshots across
// gateway instances. Samples are a capped Redis list of JSON documents;
// snapshots are JSON values. Every key carries a TTL so state self-heals.
type RedisTracker struct {
	client     *redis.Client
	thresholds Thresholds
}

func NewRedisTracker(redisURL string, thresholds Thresholds) (*RedisTracker, error) {
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

	return &RedisTracker{client: client, thresholds: thresholds}, nil
}

// NewRedisTrackerWithClient creates a tracker sharing an existing client.
func NewRedisTrackerWithClient(client *redis.Client, thresholds Thresholds) *RedisTracker {
	return &RedisTracker{client: client, thresholds: thresholds}
}

func samplesRedisKey(provider, model string) string {
	return fmt.Sprintf("health:samples:%s:%s", provider, model)
}

func snapshotRedisKey(provider, model string) string {
	return fmt.Sprintf("health:snapshot:%s:%s", provider, model)
}

func (t *RedisTracker) RecordMetric(ctx context.Context, sample domain.LatencySample) error {
	data, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("marshal sample: %w", err)
	}

	key := samplesRedisKey(sample.Provider, sample.Model)

	pipe := t.client.Pipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, int64(t.thresholds.MaxSamples-1))
	pipe.Expire(ctx, key, t.thresholds.SampleWindow)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	samples, err := t.fetchSamples(ctx, sample.Provider, sample.Model)
	if err != nil {
		return err
	}

	recentCutoff := time.Now().Add(-t.thresholds.RecomputeWindow)
	recent := 0
	for _, s := range samples {
		if s.Timestamp.After(recentCutoff) {
			recent++
		}
	}
	if recent < t.thresholds.MinSamples {
		return nil
	}

	snapshot := computeHealth(sample.Provider, sample.Model, samples, t.thresholds)
	snapData, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := t.client.Set(ctx, snapshotRedisKey(sample.Provider, sample.Model), snapData, t.thresholds.SampleWindow).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (t *RedisTracker) GetHealth(ctx context.Context, provider, model string) (domain.ProviderHealth, bool) {
	data, err := t.client.Get(ctx, snapshotRedisKey(provider, model)).Bytes()
	if err != nil {
		return domain.ProviderHealth{}, false
	}

	var snapshot domain.ProviderHealth
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return domain.ProviderHealth{}, false
	}
	return snapshot, true
}

func (t *RedisTracker) GetPercentiles(ctx context.Context, provider, model string, window time.Duration) (Percentiles, error) {
	samples, err := t.fetchSamples(ctx, provider, model)
	if err != nil {
		return Percentiles{}, err
	}
	return computePercentiles(samples, time.Now().Add(-window)), nil
}

func (t *RedisTracker) CheckSLA(ctx context.Context, provider, model string, targetLatencyMs float64, minSuccessRate float64) (SLAReport, error) {
	samples, err := t.fetchSamples(ctx, provider, model)
	if err != nil {
		return SLAReport{}, err
	}
	return checkSLA(samples, targetLatencyMs, minSuccessRate), nil
}

func (t *RedisTracker) fetchSamples(ctx context.Context, provider, model string) ([]domain.LatencySample, error) {
	raw, err := t.client.LRange(ctx, samplesRedisKey(provider, model), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	samples := make([]domain.LatencySample, 0, len(raw))
	for _, item := range raw {
		var s domain.LatencySample
		if err := json.Unmarshal([]byte(item), &s); err != nil {
			continue
		}
		samples = append(samples, s)
	}
	return samples, nil
}

func (t *RedisTracker) Close() error {
	return t.client.Close()
}
