package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AdmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_admissions_total",
			Help: "Total admission decisions by outcome",
		},
		[]string{"outcome", "reason"},
	)

	RiskScore = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_admission_risk_score",
			Help:    "Risk score distribution of admitted and denied requests",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		},
		[]string{"intent"},
	)

	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total requests dispatched to providers",
		},
		[]string{"provider", "model", "status"},
	)

	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_provider_latency_seconds",
			Help:    "Provider call latency in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "model"},
	)

	TokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_tokens_total",
			Help: "Total tokens processed",
		},
		[]string{"provider", "model", "type"},
	)

	FallbackLevel = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_fallback_level_total",
			Help: "Autoscaler verdicts by fallback level",
		},
		[]string{"level"},
	)

	RateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_rate_limit_hits_total",
			Help: "Requests denied by the sliding-window rate limiter",
		},
		[]string{"caller"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"provider"},
	)

	BulkheadRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_bulkhead_rejections_total",
			Help: "Calls rejected at the bulkhead concurrency cap",
		},
		[]string{"provider"},
	)

	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_provider_errors_total",
			Help: "Provider invocation failures by kind",
		},
		[]string{"provider", "error_kind"},
	)

	AnomalyAlerts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_anomaly_alerts_total",
			Help: "Alerts emitted by the anomaly detector",
		},
		[]string{"type", "severity"},
	)

	BudgetUsageRatio = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_budget_usage_ratio",
			Help: "Current token budget usage ratio (0-1) per caller",
		},
		[]string{"caller"},
	)
)

func RecordAdmission(allowed bool, reason string) {
	outcome := "allowed"
	if !allowed {
		outcome = "denied"
	}
	AdmissionsTotal.WithLabelValues(outcome, reason).Inc()
}

func RecordRiskScore(intent string, score float64) {
	RiskScore.WithLabelValues(intent).Observe(score)
}

func RecordRequest(provider, model, status string, durationSec float64) {
	RequestsTotal.WithLabelValues(provider, model, status).Inc()
	ProviderLatency.WithLabelValues(provider, model).Observe(durationSec)
}

func RecordTokens(provider, model string, inputTokens, outputTokens int) {
	TokensTotal.WithLabelValues(provider, model, "input").Add(float64(inputTokens))
	TokensTotal.WithLabelValues(provider, model, "output").Add(float64(outputTokens))
}

func RecordFallbackLevel(level string) {
	FallbackLevel.WithLabelValues(level).Inc()
}

func RecordRateLimitHit(caller string) {
	RateLimitHits.WithLabelValues(caller).Inc()
}

func SetCircuitBreakerState(provider string, state int) {
	CircuitBreakerState.WithLabelValues(provider).Set(float64(state))
}

func RecordBulkheadRejection(provider string) {
	BulkheadRejections.WithLabelValues(provider).Inc()
}

func RecordProviderError(provider, errorKind string) {
	ProviderErrors.WithLabelValues(provider, errorKind).Inc()
}

func RecordAnomalyAlert(alertType, severity string) {
	AnomalyAlerts.WithLabelValues(alertType, severity).Inc()
}

func SetBudgetUsage(caller string, ratio float64) {
	BudgetUsageRatio.WithLabelValues(caller).Set(ratio)
}
