package circuitbreaker

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/gatewaykit/inference-gateway/internal/domain"
)

// Lua scripts for atomic circuit breaker operations. They keep multi-key
// state transitions consistent across concurrent gateway instances.

// allowScript checks admission and handles the open → half-open transition.
// Keys: [state_key, last_failure_key, successes_key]
// Args: [recovery_timeout_seconds]
// Returns: current state as string
var allowScript = redis.NewScript(`
local state = redis.call('GET', KEYS[1]) or 'closed'
local timeout = tonumber(ARGV[1])

if state == 'open' then
    local lastFailure = tonumber(redis.call('GET', KEYS[2]) or '0')
    local now = tonumber(redis.call('TIME')[1])

    if (now - lastFailure) >= timeout then
        redis.call('SET', KEYS[1], 'half-open')
        redis.call('SET', KEYS[3], '0')
        return 'half-open'
    end
    return 'open'
end

return state
`)

// recordSuccessScript handles the half-open → closed transition.
// Keys: [state_key, failures_key, successes_key]
// Args: [success_threshold]
// Returns: new state as string
var recordSuccessScript = redis.NewScript(`
local state = redis.call('GET', KEYS[1]) or 'closed'

if state == 'closed' then
    redis.call('SET', KEYS[2], '0')
    return 'closed'
end

if state == 'half-open' then
    local successes = redis.call('INCR', KEYS[3])
    local threshold = tonumber(ARGV[1])

    if successes >= threshold then
        redis.call('SET', KEYS[1], 'closed')
        redis.call('SET', KEYS[2], '0')
        redis.call('SET', KEYS[3], '0')
        return 'closed'
    end
    return 'half-open'
end

return state
`)

// recordFailureScript counts failures and handles closed → open and
// half-open → open transitions.
// Keys: [state_key, failures_key, last_failure_key, successes_key]
// Args: [failure_threshold]
// Returns: new state as string
var recordFailureScript = redis.NewScript(`
local state = redis.call('GET', KEYS[1]) or 'closed'
local now = redis.call('TIME')[1]

redis.call('SET', KEYS[3], now)

if state == 'closed' then
    local failures = redis.call('INCR', KEYS[2])
    local threshold = tonumber(ARGV[1])

    if failures >= threshold then
        redis.call('SET', KEYS[1], 'open')
        return 'open'
    end
    return 'closed'
end

if state == 'half-open' then
    redis.call('SET', KEYS[1], 'open')
    redis.call('SET', KEYS[4], '0')
    return 'open'
end

return state
`)

// RedisCircuitBreaker is a distributed circuit breaker. All state
// transitions run as Lua scripts so multiple gateway instances agree on
// the circuit state.
type RedisCircuitBreaker struct {
	client     *redis.Client
	providerID string
	config     Config
	keyPrefix  string
}

// NewRedisWithClient creates a Redis-backed circuit breaker on an existing
// client, sharing the connection pool with the other distributed components.
func NewRedisWithClient(client *redis.Client, providerID string, cfg Config) *RedisCircuitBreaker {
	return &RedisCircuitBreaker{
		client:     client,
		providerID: providerID,
		config:     cfg,
		keyPrefix:  fmt.Sprintf("cb:%s:", providerID),
	}
}

func (cb *RedisCircuitBreaker) stateKey() string {
	return cb.keyPrefix + "state"
}

func (cb *RedisCircuitBreaker) failuresKey() string {
	return cb.keyPrefix + "failures"
}

func (cb *RedisCircuitBreaker) successesKey() string {
	return cb.keyPrefix + "successes"
}

func (cb *RedisCircuitBreaker) lastFailureKey() string {
	return cb.keyPrefix + "last_failure"
}

func (cb *RedisCircuitBreaker) Allow(ctx context.Context) error {
	keys := []string{
		cb.stateKey(),
		cb.lastFailureKey(),
		cb.successesKey(),
	}
	args := []interface{}{
		int(cb.config.RecoveryTimeout.Seconds()),
	}

	result, err := allowScript.Run(ctx, cb.client, keys, args...).Text()
	if err != nil {
		// On store error, fail open and let the call through.
		return nil
	}

	if result == "open" {
		return domain.ErrCircuitBreakerOpen
	}

	return nil
}

func (cb *RedisCircuitBreaker) RecordSuccess(ctx context.Context) {
	keys := []string{
		cb.stateKey(),
		cb.failuresKey(),
		cb.successesKey(),
	}
	args := []interface{}{
		cb.config.SuccessThreshold,
	}

	recordSuccessScript.Run(ctx, cb.client, keys, args...)
}

func (cb *RedisCircuitBreaker) RecordFailure(ctx context.Context) {
	keys := []string{
		cb.stateKey(),
		cb.failuresKey(),
		cb.lastFailureKey(),
		cb.successesKey(),
	}
	args := []interface{}{
		cb.config.FailureThreshold,
	}

	recordFailureScript.Run(ctx, cb.client, keys, args...)
}

func (cb *RedisCircuitBreaker) State(ctx context.Context) State {
	result, err := cb.client.Get(ctx, cb.stateKey()).Result()
	if err != nil {
		return StateClosed
	}

	return parseState(result)
}

// Failures returns the current failure count.
func (cb *RedisCircuitBreaker) Failures(ctx context.Context) int {
	result, err := cb.client.Get(ctx, cb.failuresKey()).Result()
	if err != nil {
		return 0
	}

	failures, _ := strconv.Atoi(result)
	return failures
}

// Reset returns the circuit to closed. For manual intervention and tests.
func (cb *RedisCircuitBreaker) Reset(ctx context.Context) error {
	pipe := cb.client.Pipeline()
	pipe.Set(ctx, cb.stateKey(), "closed", 0)
	pipe.Set(ctx, cb.failuresKey(), "0", 0)
	pipe.Set(ctx, cb.successesKey(), "0", 0)
	pipe.Del(ctx, cb.lastFailureKey())
	_, err := pipe.Exec(ctx)
	return err
}

func parseState(s string) State {
	switch s {
	case "open":
		return StateOpen
	case "half-open":
		return StateHalfOpen
	default:
		return StateClosed
	}
}
