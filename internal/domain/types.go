package domain

import "time"

// CallerIdentity is the partition key for budgets, rate limits, and anomaly
// windows. It is supplied by the external auth layer; the gateway never
// persists it beyond keyed counters.
type CallerIdentity string

// Tier is the caller's service tier, supplied alongside the identity.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// Weight returns the routing score multiplier for the tier.
func (t Tier) Weight() float64 {
	switch t {
	case TierFree:
		return 0.7
	case TierEnterprise:
		return 1.3
	default:
		return 1.0
	}
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RequestEnvelope is the normalized inbound request handed to the gateway by
// the transport layer. It is immutable once classification begins.
type RequestEnvelope struct {
	Messages    []Message      `json:"messages"`
	Capability  string         `json:"capability"`
	MaxTokens   *int           `json:"max_tokens,omitempty"`
	Temperature *float64       `json:"temperature,omitempty"`
	Caller      CallerIdentity `json:"caller_identity"`
	CallerTier  Tier           `json:"caller_tier,omitempty"`
}

// ContentLength returns the total character count of all message content.
func (e RequestEnvelope) ContentLength() int {
	total := 0
	for _, m := range e.Messages {
		total += len(m.Content)
	}
	return total
}

// Turns returns the number of messages in the conversation.
func (e RequestEnvelope) Turns() int {
	return len(e.Messages)
}

// Intent is the classified purpose of a request. It drives risk scoring,
// routing complexity weights, and anomaly pattern detection; it is never
// stored long-term.
type Intent string

const (
	IntentCodeGeneration  Intent = "code_generation"
	IntentCreativeWriting Intent = "creative_writing"
	IntentSummarization   Intent = "summarization"
	IntentConversational  Intent = "conversational"
	IntentClassification  Intent = "classification"
	IntentAnalysis        Intent = "analysis"
	IntentLongGeneration  Intent = "long_generation"
	IntentUnknown         Intent = "unknown"
)

// FallbackLevel is the per-caller degraded-service tier computed by the
// autoscaling controller.
type FallbackLevel string

const (
	FallbackNormal     FallbackLevel = "normal"
	FallbackCheapModel FallbackLevel = "cheap_model"
	FallbackDeny       FallbackLevel = "deny"
	FallbackEmergency  FallbackLevel = "emergency"
)

// ProviderRecord describes one upstream provider as registered at startup.
// Circuit and bulkhead state are owned by the circuitbreaker package and
// only read by the routing engine.
type ProviderRecord struct {
	ID           string   `json:"id"`
	Capabilities []string `json:"capabilities"`
	Models       []string `json:"models"`
	// Priority breaks score ties; lower wins.
	Priority int `json:"priority"`
}

// HasCapability reports whether the provider declares the capability.
func (p ProviderRecord) HasCapability(capability string) bool {
	for _, c := range p.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// LatencySample is one completed provider call as observed by the health
// tracker. Append-only; retained in a bounded rolling window.
type LatencySample struct {
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	LatencyMs int64     `json:"latency_ms"`
	Tokens    int       `json:"tokens"`
	Success   bool      `json:"success"`
	ErrorKind string    `json:"error_kind,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ProviderHealth is a derived snapshot over a provider/model sample window.
// It is recomputed from samples, never hand-edited.
type ProviderHealth struct {
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
	SuccessRate  float64 `json:"success_rate"`
	// Throughput is tokens per second over the window.
	Throughput  float64   `json:"throughput"`
	SampleCount int       `json:"sample_count"`
	IsHealthy   bool      `json:"is_healthy"`
	ComputedAt  time.Time `json:"computed_at"`
}

// Usage is the token accounting reported by a provider adapter.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// InvokeResult is the outcome of a successful provider adapter call.
type InvokeResult struct {
	Content   string `json:"content"`
	Usage     Usage  `json:"usage"`
	LatencyMs int64  `json:"latency_ms"`
}

// AlertType identifies the anomaly class that produced an alert.
type AlertType string

const (
	AlertTokenSpike       AlertType = "token_spike"
	AlertBudgetExhaustion AlertType = "budget_exhaustion"
	AlertHighErrorRate    AlertType = "high_error_rate"
	AlertUnusualPattern   AlertType = "unusual_pattern"
)

type AlertSeverity string

const (
	SeverityMedium   AlertSeverity = "medium"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// Alert is emitted by the anomaly detector. Only Resolved is ever mutated
// after creation.
type Alert struct {
	ID        string            `json:"id"`
	Type      AlertType         `json:"type"`
	Severity  AlertSeverity     `json:"severity"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Resolved  bool              `json:"resolved"`
}
