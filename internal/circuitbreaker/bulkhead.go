package circuitbreaker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gatewaykit/inference-gateway/internal/domain"
)

// Bulkhead caps concurrent in-flight calls to one provider. Exceeding the
// cap fails immediately with ErrBulkheadExceeded and must never feed the
// circuit breaker's failure count.
type Bulkhead interface {
	// Acquire claims a slot. Release must be called exactly once for every
	// successful Acquire, including when the caller's request is canceled.
	Acquire(ctx context.Context) error
	Release(ctx context.Context)

	// Available returns the number of free slots.
	Available(ctx context.Context) int
}

// InMemoryBulkhead is a channel-semaphore bulkhead for single-instance
// deployments.
type InMemoryBulkhead struct {
	slots chan struct{}
}

func NewInMemoryBulkhead(maxConcurrent int) *InMemoryBulkhead {
	return &InMemoryBulkhead{
		slots: make(chan struct{}, maxConcurrent),
	}
}

func (b *InMemoryBulkhead) Acquire(ctx context.Context) error {
	select {
	case b.slots <- struct{}{}:
		return nil
	default:
		return domain.ErrBulkheadExceeded
	}
}

func (b *InMemoryBulkhead) Release(ctx context.Context) {
	select {
	case <-b.slots:
	default:
	}
}

func (b *InMemoryBulkhead) Available(ctx context.Context) int {
	return cap(b.slots) - len(b.slots)
}

// acquireSlotScript atomically claims a bulkhead slot if one is free and
// refreshes the counter TTL so slots leaked by a crashed instance self-heal.
// Keys: [slots_key]
// Args: [max_concurrent, ttl_seconds]
// Returns: 1 if acquired, 0 if the cap is reached
var acquireSlotScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
local max = tonumber(ARGV[1])

if current >= max then
    return 0
end

redis.call('INCR', KEYS[1])
redis.call('EXPIRE', KEYS[1], ARGV[2])
return 1
`)

// releaseSlotScript frees a slot without letting the counter go negative.
// Keys: [slots_key]
var releaseSlotScript = redis.NewScript(`
local current = tonumber(redis.call('GET', KEYS[1]) or '0')
if current > 0 then
    redis.call('DECR', KEYS[1])
end
return current
`)

// RedisBulkhead shares the in-flight counter across gateway instances. The
// counter key carries a TTL so that a crashed instance's claimed slots
// expire rather than permanently shrinking capacity.
type RedisBulkhead struct {
	client        *redis.Client
	providerID    string
	maxConcurrent int
	slotTTL       time.Duration
}

func NewRedisBulkheadWithClient(client *redis.Client, providerID string, maxConcurrent int) *RedisBulkhead {
	return &RedisBulkhead{
		client:        client,
		providerID:    providerID,
		maxConcurrent: maxConcurrent,
		slotTTL:       5 * time.Minute,
	}
}

func (b *RedisBulkhead) slotsKey() string {
	return fmt.Sprintf("bulkhead:%s:inflight", b.providerID)
}

func (b *RedisBulkhead) Acquire(ctx context.Context) error {
	keys := []string{b.slotsKey()}
	args := []interface{}{b.maxConcurrent, int(b.slotTTL.Seconds())}

	acquired, err := acquireSlotScript.Run(ctx, b.client, keys, args...).Int()
	if err != nil {
		// Capacity control degrades to unmetered on store error; the
		// circuit breaker still protects the provider.
		return nil
	}
	if acquired == 0 {
		return domain.ErrBulkheadExceeded
	}
	return nil
}

func (b *RedisBulkhead) Release(ctx context.Context) {
	releaseSlotScript.Run(ctx, b.client, []string{b.slotsKey()})
}

func (b *RedisBulkhead) Available(ctx context.Context) int {
	current, err := b.client.Get(ctx, b.slotsKey()).Int()
	if err != nil {
		return b.maxConcurrent
	}
	free := b.maxConcurrent - current
	if free < 0 {
		free = 0
	}
	return free
}
