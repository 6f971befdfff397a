// Package budget meters per-caller token consumption over a fixed window.
// Usage is monotonically non-decreasing within a window and resets only when
// the window expires. Supports both in-memory (single instance) and Redis
// (distributed) backends.
package budget

import (
	"context"
	"sync"
	"time"

	"github.com/gatewaykit/inference-gateway/internal/domain"
)

// Tracker meters token usage per caller identity.
type Tracker interface {
	// Usage returns the tokens consumed by the caller in the current window.
	Usage(ctx context.Context, caller domain.CallerIdentity) (int64, error)

	// Record adds tokens to the caller's window counter. Called after the
	// provider call completes; the admission check reads Usage beforehand,
	// so the budget is a soft limit under concurrency.
	Record(ctx context.Context, caller domain.CallerIdentity, tokens int64) error

	// Limit returns the caller's token budget for one window.
	Limit(caller domain.CallerIdentity) int64
}

// Config defines budget limits and the accounting window.
type Config struct {
	DefaultLimit int64
	Window       time.Duration
	// Overrides maps specific callers to non-default limits.
	Overrides map[domain.CallerIdentity]int64
}

func DefaultConfig() Config {
	return Config{
		DefaultLimit: 100000,
		Window:       24 * time.Hour,
	}
}

func (c Config) limitFor(caller domain.CallerIdentity) int64 {
	if limit, ok := c.Overrides[caller]; ok {
		return limit
	}
	return c.DefaultLimit
}

// InMemoryTracker implements Tracker with process-local counters.
// Suitable for single-instance deployments and tests.
type InMemoryTracker struct {
	mu      sync.Mutex
	config  Config
	windows map[domain.CallerIdentity]*usageWindow
}

type usageWindow struct {
	used     int64
	expireAt time.Time
}

func NewInMemoryTracker(cfg Config) *InMemoryTracker {
	return &InMemoryTracker{
		config:  cfg,
		windows: make(map[domain.CallerIdentity]*usageWindow),
	}
}

func (t *InMemoryTracker) Usage(ctx context.Context, caller domain.CallerIdentity) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	w, ok := t.windows[caller]
	if !ok || time.Now().After(w.expireAt) {
		return 0, nil
	}
	return w.used, nil
}

func (t *InMemoryTracker) Record(ctx context.Context, caller domain.CallerIdentity, tokens int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	w, ok := t.windows[caller]
	if !ok || now.After(w.expireAt) {
		w = &usageWindow{expireAt: now.Add(t.config.Window)}
		t.windows[caller] = w
	}
	w.used += tokens
	return nil
}

func (t *InMemoryTracker) Limit(caller domain.CallerIdentity) int64 {
	return t.config.limitFor(caller)
}
