// Package gateway wires the admission, autoscaling, routing, and
// resilience layers into the single request pipeline: every inference
// request passes rate/spike checks, admission control, provider ranking,
// and the per-provider circuit breaker and bulkhead before an adapter is
// invoked. Outcomes feed the health tracker, budget tracker, anomaly
// detector, metrics, and the outcome export path.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/gatewaykit/inference-gateway/internal/admission"
	"github.com/gatewaykit/inference-gateway/internal/anomaly"
	"github.com/gatewaykit/inference-gateway/internal/autoscale"
	"github.com/gatewaykit/inference-gateway/internal/budget"
	"github.com/gatewaykit/inference-gateway/internal/circuitbreaker"
	"github.com/gatewaykit/inference-gateway/internal/domain"
	"github.com/gatewaykit/inference-gateway/internal/health"
	"github.com/gatewaykit/inference-gateway/internal/metrics"
	"github.com/gatewaykit/inference-gateway/internal/provider"
	"github.com/gatewaykit/inference-gateway/internal/queue"
	"github.com/gatewaykit/inference-gateway/internal/repository"
	"github.com/gatewaykit/inference-gateway/internal/routing"
	"github.com/gatewaykit/inference-gateway/internal/telemetry"
)

// Response is the gateway's answer for one request. On denial only the
// metadata fields are populated; the sentinel error returned alongside
// identifies the denial class.
type Response struct {
	RequestID       string               `json:"request_id"`
	Content         string               `json:"content,omitempty"`
	Provider        string               `json:"provider,omitempty"`
	Model           string               `json:"model,omitempty"`
	Usage           domain.Usage         `json:"usage"`
	LatencyMs       int64                `json:"latency_ms"`
	Intent          domain.Intent        `json:"intent"`
	EstimatedTokens int64                `json:"estimated_tokens"`
	RiskScore       float64              `json:"risk_score"`
	RoutingScore    float64              `json:"routing_score,omitempty"`
	Explanation     string               `json:"explanation,omitempty"`
	FallbackLevel   domain.FallbackLevel `json:"fallback_level"`
	DenyReason      string               `json:"deny_reason,omitempty"`
	Recommendations []string             `json:"recommendations,omitempty"`
	RetryAfter      time.Duration        `json:"-"`
	RateRemaining   int                  `json:"-"`
	RateResetAt     time.Time            `json:"-"`
}

// Config holds the orchestration tunables.
type Config struct {
	// ProviderTimeout bounds a single adapter invocation. Failover to the
	// next candidate consumes a fresh timeout.
	ProviderTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		ProviderTimeout: 60 * time.Second,
	}
}

// Service is the request pipeline.
type Service struct {
	config     Config
	autoscaler autoscale.Controller
	admitter   *admission.Controller
	engine     *routing.Engine
	guards     *circuitbreaker.Manager
	invokers   map[string]provider.Invoker
	budgets    budget.Tracker
	tracker    health.Tracker
	detector   *anomaly.Detector
	exporter   queue.Exporter
	outcomes   repository.OutcomeRepository
}

type Deps struct {
	Autoscaler autoscale.Controller
	Admitter   *admission.Controller
	Engine     *routing.Engine
	Guards     *circuitbreaker.Manager
	Invokers   map[string]provider.Invoker
	Budgets    budget.Tracker
	Tracker    health.Tracker
	Detector   *anomaly.Detector
	// Exporter and Outcomes are optional; nil disables the export path.
	Exporter queue.Exporter
	Outcomes repository.OutcomeRepository
}

func NewService(cfg Config, deps Deps) *Service {
	if cfg.ProviderTimeout == 0 {
		cfg.ProviderTimeout = DefaultConfig().ProviderTimeout
	}

	return &Service{
		config:     cfg,
		autoscaler: deps.Autoscaler,
		admitter:   deps.Admitter,
		engine:     deps.Engine,
		guards:     deps.Guards,
		invokers:   deps.Invokers,
		budgets:    deps.Budgets,
		tracker:    deps.Tracker,
		detector:   deps.Detector,
		exporter:   deps.Exporter,
		outcomes:   deps.Outcomes,
	}
}

// Handle runs the full pipeline for one request. The returned error is one
// of the domain sentinels on denial or exhaustion; the Response carries the
// decision metadata either way.
func (s *Service) Handle(ctx context.Context, envelope domain.RequestEnvelope) (*Response, error) {
	requestID := uuid.New().String()
	start := time.Now()

	ctx, span := telemetry.StartSpan(ctx, "gateway.handle")
	defer span.End()
	telemetry.AddRequestAttributes(span, string(envelope.Caller), envelope.Capability, requestID)

	resp := &Response{
		RequestID:     requestID,
		FallbackLevel: domain.FallbackNormal,
	}

	verdict, err := s.autoscaler.Check(ctx, envelope.Caller)
	resp.FallbackLevel = verdict.Level
	resp.RateRemaining = verdict.Remaining
	resp.RateResetAt = verdict.ResetAt
	if err != nil {
		telemetry.AddErrorAttribute(span, err)
		slog.Error("autoscale check failed", "request_id", requestID, "caller", envelope.Caller, "error", err)
		resp.DenyReason = domain.ReasonRateLimited
		return resp, err
	}
	metrics.RecordFallbackLevel(string(verdict.Level))
	if !verdict.Allowed {
		metrics.RecordRateLimitHit(string(envelope.Caller))
		resp.DenyReason = domain.ReasonRateLimited
		resp.RetryAfter = time.Until(verdict.ResetAt)
		if !verdict.CooldownUntil.IsZero() {
			resp.RetryAfter = time.Until(verdict.CooldownUntil)
		}
		s.recordDenied(ctx, envelope, resp, admission.Decision{})
		return resp, domain.ErrRateLimitExceeded
	}

	decision := s.admitter.Admit(ctx, envelope)
	resp.Intent = decision.Intent
	resp.EstimatedTokens = decision.EstimatedTokens
	resp.RiskScore = decision.RiskScore
	resp.Recommendations = decision.Recommendations
	telemetry.AddAdmissionAttributes(span, string(decision.Intent), decision.EstimatedTokens, decision.RiskScore)
	metrics.RecordAdmission(decision.Allowed, decision.Reason)
	metrics.RecordRiskScore(string(decision.Intent), decision.RiskScore)

	if !decision.Allowed {
		resp.DenyReason = decision.Reason
		s.recordDenied(ctx, envelope, resp, decision)
		return resp, denialError(decision.Reason)
	}

	candidates, err := s.engine.Rank(ctx, envelope, verdict.Level)
	if err != nil {
		telemetry.AddErrorAttribute(span, err)
		resp.DenyReason = domain.ReasonNoProvider
		s.recordDenied(ctx, envelope, resp, decision)
		return resp, err
	}

	var lastErr error
	for _, cand := range candidates {
		result, err := s.invokeGuarded(ctx, cand, envelope)
		if err != nil {
			if ctx.Err() != nil {
				return resp, ctx.Err()
			}
			if errors.Is(err, domain.ErrBulkheadExceeded) || errors.Is(err, domain.ErrCircuitBreakerOpen) {
				slog.Warn("provider saturated, trying next candidate",
					"request_id", requestID, "provider", cand.Provider, "error", err)
				lastErr = err
				continue
			}
			slog.Warn("provider failed, trying next candidate",
				"request_id", requestID, "provider", cand.Provider, "error", err)
			lastErr = err
			continue
		}

		resp.Content = result.Content
		resp.Usage = result.Usage
		resp.Provider = cand.Provider
		resp.Model = cand.Model
		resp.RoutingScore = cand.Score
		resp.Explanation = cand.Explanation
		resp.LatencyMs = time.Since(start).Milliseconds()

		telemetry.AddRoutingAttributes(span, cand.Provider, cand.Model, cand.Score, string(verdict.Level))
		telemetry.AddTokenAttributes(span, result.Usage.InputTokens, result.Usage.OutputTokens)
		metrics.RecordRequest(cand.Provider, cand.Model, "success", time.Since(start).Seconds())
		metrics.RecordTokens(cand.Provider, cand.Model, result.Usage.InputTokens, result.Usage.OutputTokens)

		s.settle(ctx, envelope, resp, decision, true, "")

		slog.Info("request completed",
			"request_id", requestID,
			"caller", envelope.Caller,
			"provider", cand.Provider,
			"model", cand.Model,
			"intent", decision.Intent,
			"fallback_level", verdict.Level,
			"latency_ms", resp.LatencyMs,
		)
		return resp, nil
	}

	if lastErr == nil {
		lastErr = domain.ErrNoEligibleProvider
	}
	telemetry.AddErrorAttribute(span, lastErr)
	resp.DenyReason = domain.ReasonNoProvider
	resp.LatencyMs = time.Since(start).Milliseconds()
	s.settle(ctx, envelope, resp, decision, false, lastErr.Error())

	slog.Error("all candidates exhausted",
		"request_id", requestID, "caller", envelope.Caller, "error", lastErr)
	return resp, fmt.Errorf("%w: %v", domain.ErrProviderInvocationFailed, lastErr)
}

// invokeGuarded runs one candidate behind its circuit breaker and bulkhead.
// A cancelled invocation releases the bulkhead slot but records neither a
// circuit failure nor a health sample; cancellation says nothing about the
// provider.
func (s *Service) invokeGuarded(ctx context.Context, cand routing.Decision, envelope domain.RequestEnvelope) (domain.InvokeResult, error) {
	invoker, ok := s.invokers[cand.Provider]
	if !ok {
		return domain.InvokeResult{}, fmt.Errorf("no adapter registered for provider %q: %w", cand.Provider, domain.ErrNoEligibleProvider)
	}

	guard := s.guards.Get(cand.Provider)
	if err := guard.Breaker.Allow(ctx); err != nil {
		return domain.InvokeResult{}, err
	}

	if err := guard.Bulkhead.Acquire(ctx); err != nil {
		metrics.RecordBulkheadRejection(cand.Provider)
		return domain.InvokeResult{}, err
	}
	defer guard.Bulkhead.Release(ctx)

	invokeCtx, cancel := context.WithTimeout(ctx, s.config.ProviderTimeout)
	defer cancel()

	params := provider.Params{
		MaxTokens:   envelope.MaxTokens,
		Temperature: envelope.Temperature,
	}

	result, err := invoker.Invoke(invokeCtx, cand.Model, envelope.Messages, params)
	if err != nil {
		if ctx.Err() != nil {
			return domain.InvokeResult{}, ctx.Err()
		}
		guard.Breaker.RecordFailure(ctx)
		metrics.SetCircuitBreakerState(cand.Provider, int(guard.Breaker.State(ctx)))
		metrics.RecordProviderError(cand.Provider, errorKind(err))
		s.recordSample(ctx, cand, domain.InvokeResult{}, false, errorKind(err))
		return domain.InvokeResult{}, fmt.Errorf("invoke %s: %w", cand.Provider, err)
	}

	guard.Breaker.RecordSuccess(ctx)
	metrics.SetCircuitBreakerState(cand.Provider, int(guard.Breaker.State(ctx)))
	s.recordSample(ctx, cand, result, true, "")
	return result, nil
}

func (s *Service) recordSample(ctx context.Context, cand routing.Decision, result domain.InvokeResult, success bool, errorKind string) {
	sample := domain.LatencySample{
		Provider:  cand.Provider,
		Model:     cand.Model,
		LatencyMs: result.LatencyMs,
		Tokens:    result.Usage.Total(),
		Success:   success,
		ErrorKind: errorKind,
		Timestamp: time.Now(),
	}
	if err := s.tracker.RecordMetric(ctx, sample); err != nil {
		slog.Warn("failed to record latency sample", "provider", cand.Provider, "error", err)
	}
}

// settle runs the post-invocation accounting: budget usage, anomaly
// observation, and the outcome export. All best-effort.
func (s *Service) settle(ctx context.Context, envelope domain.RequestEnvelope, resp *Response, decision admission.Decision, success bool, errMsg string) {
	tokens := int64(resp.Usage.Total())
	if success && tokens > 0 {
		if err := s.budgets.Record(ctx, envelope.Caller, tokens); err != nil {
			slog.Warn("failed to record budget usage", "caller", envelope.Caller, "error", err)
		}
	}

	budgetPct := s.budgetUsagePct(ctx, envelope.Caller)
	metrics.SetBudgetUsage(string(envelope.Caller), budgetPct/100)

	if s.detector != nil {
		alerts := s.detector.Observe(ctx, anomaly.Observation{
			Caller:         envelope.Caller,
			Intent:         resp.Intent,
			Tokens:         resp.Usage.Total(),
			Success:        success,
			BudgetUsagePct: budgetPct,
			Timestamp:      time.Now(),
		})
		for _, alert := range alerts {
			metrics.RecordAnomalyAlert(string(alert.Type), string(alert.Severity))
		}
	}

	s.exportOutcome(envelope, resp, decision, success, errMsg)
}

func (s *Service) recordDenied(ctx context.Context, envelope domain.RequestEnvelope, resp *Response, decision admission.Decision) {
	if s.detector != nil {
		s.detector.Observe(ctx, anomaly.Observation{
			Caller:         envelope.Caller,
			Intent:         resp.Intent,
			Tokens:         0,
			Success:        false,
			BudgetUsagePct: s.budgetUsagePct(ctx, envelope.Caller),
			Timestamp:      time.Now(),
		})
	}
	s.exportOutcome(envelope, resp, decision, false, resp.DenyReason)
}

func (s *Service) exportOutcome(envelope domain.RequestEnvelope, resp *Response, decision admission.Decision, success bool, errMsg string) {
	rec := queue.OutcomeRecord{
		RequestID:       resp.RequestID,
		Caller:          string(envelope.Caller),
		Intent:          resp.Intent,
		Provider:        resp.Provider,
		Model:           resp.Model,
		FallbackLevel:   resp.FallbackLevel,
		Allowed:         resp.DenyReason == "",
		DenyReason:      resp.DenyReason,
		EstimatedTokens: decision.EstimatedTokens,
		ActualTokens:    int64(resp.Usage.Total()),
		RiskScore:       decision.RiskScore,
		Recommendations: decision.Recommendations,
		RoutingScore:    resp.RoutingScore,
		LatencyMs:       resp.LatencyMs,
		Success:         success,
		Error:           errMsg,
		CreatedAt:       time.Now(),
	}

	queue.ExportAsync(s.exporter, rec)

	if s.outcomes != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.outcomes.Record(ctx, rec); err != nil {
				slog.Warn("failed to archive outcome", "request_id", rec.RequestID, "error", err)
			}
		}()
	}
}

func (s *Service) budgetUsagePct(ctx context.Context, caller domain.CallerIdentity) float64 {
	limit := s.budgets.Limit(caller)
	if limit <= 0 {
		return 0
	}
	used, err := s.budgets.Usage(ctx, caller)
	if err != nil {
		return 0
	}
	return float64(used) / float64(limit) * 100
}

func denialError(reason string) error {
	switch reason {
	case domain.ReasonBudgetExceeded:
		return domain.ErrTokenBudgetExceeded
	case domain.ReasonMaxTokensExceeded:
		return domain.ErrMaxTokensExceeded
	case domain.ReasonRateLimited:
		return domain.ErrRateLimitExceeded
	default:
		return fmt.Errorf("request denied: %s", reason)
	}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, domain.ErrProviderInvocationFailed):
		return "provider_error"
	default:
		return "error"
	}
}
