// Package autoscale implements the per-caller rate limiter and spike
// detector that drive degraded routing under load. Request timestamps are
// kept in a sliding 60s window; a burst inside a short sub-window trips a
// cooldown during which the caller is force-routed to the cheap fallback
// model. Supports both in-memory (single instance) and Redis (distributed)
// backends.
package autoscale

import (
	"context"
	"sync"
	"time"

	"github.com/gatewaykit/inference-gateway/internal/domain"
)

// Controller decides, per caller, whether a request may proceed and at
// which fallback level.
type Controller interface {
	// Check records the request timestamp and returns the verdict. On a
	// store error the check fails closed: unmetered rate limiting risks
	// overload.
	Check(ctx context.Context, caller domain.CallerIdentity) (Verdict, error)
}

// Verdict is the autoscaling outcome for one request.
type Verdict struct {
	Allowed bool
	Level   domain.FallbackLevel
	// Remaining is the unused portion of the per-minute quota.
	Remaining int
	// ResetAt is when the rate window slides past the oldest request.
	ResetAt time.Time
	// CooldownUntil is set whenever fallback is active, so callers can
	// derive retry-after semantics.
	CooldownUntil time.Time
}

// Config defines the rate and spike thresholds.
type Config struct {
	RequestsPerMinute int
	SpikeThreshold    int
	SpikeWindow       time.Duration
	Cooldown          time.Duration
}

func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		SpikeThreshold:    30,
		SpikeWindow:       10 * time.Second,
		Cooldown:          5 * time.Minute,
	}
}

const rateWindow = time.Minute

// InMemoryController implements Controller with process-local state.
// Suitable for single-instance deployments and tests.
type InMemoryController struct {
	mu       sync.Mutex
	config   Config
	requests map[domain.CallerIdentity][]time.Time
	cooldown map[domain.CallerIdentity]time.Time
}

func NewInMemoryController(cfg Config) *InMemoryController {
	return &InMemoryController{
		config:   cfg,
		requests: make(map[domain.CallerIdentity][]time.Time),
		cooldown: make(map[domain.CallerIdentity]time.Time),
	}
}

func (c *InMemoryController) Check(ctx context.Context, caller domain.CallerIdentity) (Verdict, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-rateWindow)

	kept := c.requests[caller][:0]
	for _, ts := range c.requests[caller] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	kept = append(kept, now)
	c.requests[caller] = kept

	count := len(kept)
	verdict := Verdict{
		Allowed:   true,
		Level:     domain.FallbackNormal,
		Remaining: maxInt(c.config.RequestsPerMinute-count, 0),
		ResetAt:   kept[0].Add(rateWindow),
	}

	// Hard denial applies to this request only; no state persists beyond it.
	if count > c.config.RequestsPerMinute {
		verdict.Allowed = false
		verdict.Level = domain.FallbackDeny
		return verdict, nil
	}

	spikeCutoff := now.Add(-c.config.SpikeWindow)
	spikeCount := 0
	for _, ts := range kept {
		if ts.After(spikeCutoff) {
			spikeCount++
		}
	}

	if until, ok := c.cooldown[caller]; ok && now.Before(until) {
		verdict.Level = domain.FallbackCheapModel
		verdict.CooldownUntil = until
		return verdict, nil
	}

	if spikeCount >= c.config.SpikeThreshold {
		until := now.Add(c.config.Cooldown)
		c.cooldown[caller] = until
		verdict.Level = domain.FallbackCheapModel
		verdict.CooldownUntil = until
	}

	return verdict, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
