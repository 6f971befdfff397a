// Package circuitbreaker isolates upstream provider failures. Each provider
// gets a circuit breaker (failure-triggered fail-fast with half-open
// probing) and a bulkhead (concurrency cap on in-flight calls). The two are
// independent: hitting the bulkhead cap is a capacity signal, never a
// health signal.
//
// Implementations:
//   - in-memory: single instance, sync.RWMutex
//   - Redis: distributed, Lua scripts for atomic state transitions
package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/gatewaykit/inference-gateway/internal/domain"
)

// CircuitBreaker is the per-provider failure-isolation state machine.
type CircuitBreaker interface {
	// Allow checks if a request should pass. Returns nil if allowed,
	// ErrCircuitBreakerOpen if the circuit is open. In the open state,
	// once the recovery timeout has elapsed the next call is admitted as
	// a half-open probe.
	Allow(ctx context.Context) error

	// RecordSuccess records a successful provider call. A success while
	// half-open counts toward closing the circuit; while closed it resets
	// the failure counter.
	RecordSuccess(ctx context.Context)

	// RecordFailure records a failed provider call. Reaching the failure
	// threshold opens the circuit; any failure while half-open re-opens it.
	RecordFailure(ctx context.Context)

	// State returns the current circuit state.
	State(ctx context.Context) State
}

// State represents the current state of a circuit breaker.
type State int

const (
	StateClosed   State = iota // normal operation
	StateOpen                  // failing fast
	StateHalfOpen              // probing recovery
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config defines circuit breaker and bulkhead behavior for one provider.
type Config struct {
	FailureThreshold int           // failures before opening
	SuccessThreshold int           // successes to close from half-open
	RecoveryTimeout  time.Duration // open duration before half-open probing
	MaxConcurrent    int           // bulkhead in-flight cap
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		RecoveryTimeout:  30 * time.Second,
		MaxConcurrent:    10,
	}
}

// Status is the introspection snapshot exposed for observability.
type Status struct {
	Provider         string        `json:"provider"`
	State            string        `json:"state"`
	FailureThreshold int           `json:"failure_threshold"`
	SuccessThreshold int           `json:"success_threshold"`
	RecoveryTimeout  time.Duration `json:"recovery_timeout"`
	AvailableSlots   int           `json:"available_slots"`
}

// InMemoryCircuitBreaker is a single-instance circuit breaker.
type InMemoryCircuitBreaker struct {
	mu          sync.RWMutex
	state       State
	failures    int
	successes   int
	lastFailure time.Time
	config      Config
}

func NewInMemory(cfg Config) *InMemoryCircuitBreaker {
	return &InMemoryCircuitBreaker{
		state:  StateClosed,
		config: cfg,
	}
}

func (cb *InMemoryCircuitBreaker) Allow(ctx context.Context) error {
	cb.mu.RLock()
	state := cb.state
	lastFailure := cb.lastFailure
	cb.mu.RUnlock()

	switch state {
	case StateClosed:
		return nil
	case StateOpen:
		if time.Since(lastFailure) > cb.config.RecoveryTimeout {
			cb.mu.Lock()
			if cb.state == StateOpen {
				cb.state = StateHalfOpen
				cb.successes = 0
			}
			cb.mu.Unlock()
			return nil
		}
		return domain.ErrCircuitBreakerOpen
	case StateHalfOpen:
		return nil
	}

	return nil
}

func (cb *InMemoryCircuitBreaker) RecordSuccess(ctx context.Context) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.state = StateClosed
			cb.failures = 0
			cb.successes = 0
		}
	}
}

func (cb *InMemoryCircuitBreaker) RecordFailure(ctx context.Context) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailure = time.Now()

	switch cb.state {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.state = StateOpen
		}
	case StateHalfOpen:
		cb.state = StateOpen
		cb.successes = 0
	}
}

func (cb *InMemoryCircuitBreaker) State(ctx context.Context) State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

func (cb *InMemoryCircuitBreaker) Failures() int {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.failures
}

// Guard pairs a provider's circuit breaker with its bulkhead.
type Guard struct {
	Breaker  CircuitBreaker
	Bulkhead Bulkhead
}

// Manager owns one Guard per provider.
type Manager struct {
	mu      sync.RWMutex
	guards  map[string]*Guard
	config  Config
	factory func(providerID string) *Guard
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithRedisClient backs all guards with Redis so circuit state and bulkhead
// slots are shared across gateway instances.
func WithRedisClient(client *redis.Client) ManagerOption {
	return func(m *Manager) {
		m.factory = func(providerID string) *Guard {
			return &Guard{
				Breaker:  NewRedisWithClient(client, providerID, m.config),
				Bulkhead: NewRedisBulkheadWithClient(client, providerID, m.config.MaxConcurrent),
			}
		}
	}
}

// NewManager creates a guard manager. Guards are in-memory by default; use
// WithRedisClient for distributed state.
func NewManager(cfg Config, opts ...ManagerOption) *Manager {
	m := &Manager{
		guards: make(map[string]*Guard),
		config: cfg,
		factory: func(providerID string) *Guard {
			return &Guard{
				Breaker:  NewInMemory(cfg),
				Bulkhead: NewInMemoryBulkhead(cfg.MaxConcurrent),
			}
		},
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Get returns the guard for a provider, creating one if it doesn't exist.
func (m *Manager) Get(providerID string) *Guard {
	m.mu.RLock()
	g, ok := m.guards[providerID]
	m.mu.RUnlock()

	if ok {
		return g
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.guards[providerID]; ok {
		return existing
	}

	g = m.factory(providerID)
	m.guards[providerID] = g
	return g
}

// Status returns introspection snapshots for all known providers.
func (m *Manager) Status(ctx context.Context) []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make([]Status, 0, len(m.guards))
	for id, g := range m.guards {
		statuses = append(statuses, Status{
			Provider:         id,
			State:            g.Breaker.State(ctx).String(),
			FailureThreshold: m.config.FailureThreshold,
			SuccessThreshold: m.config.SuccessThreshold,
			RecoveryTimeout:  m.config.RecoveryTimeout,
			AvailableSlots:   g.Bulkhead.Available(ctx),
		})
	}
	return statuses
}
