package domain

import "errors"

var (
	ErrMaxTokensExceeded        = errors.New("max tokens exceeds per-request ceiling")
	ErrTokenBudgetExceeded      = errors.New("token budget exceeded")
	ErrRateLimitExceeded        = errors.New("rate limit exceeded")
	ErrNoEligibleProvider       = errors.New("no eligible provider")
	ErrBulkheadExceeded         = errors.New("bulkhead concurrency limit exceeded")
	ErrCircuitBreakerOpen       = errors.New("circuit breaker open")
	ErrProviderInvocationFailed = errors.New("provider invocation failed")
	ErrStoreUnavailable         = errors.New("shared state store unavailable")
)

// Machine-readable denial reasons returned to callers alongside errors.
const (
	ReasonBudgetExceeded    = "budget_exceeded"
	ReasonRateLimited       = "rate_limited"
	ReasonRiskThreshold     = "risk_threshold"
	ReasonMaxTokensExceeded = "max_tokens_exceeded"
	ReasonNoProvider        = "no_provider_available"
)
