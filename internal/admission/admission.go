// Package admission gates inbound requests before any provider is invoked.
// It classifies intent, estimates token cost, enforces per-caller token
// budgets and the per-request max-tokens ceiling, and computes a risk score.
// Outcomes are explicit Decision values, never errors, so callers cannot
// accidentally ignore a rejection.
package admission

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gatewaykit/inference-gateway/internal/budget"
	"github.com/gatewaykit/inference-gateway/internal/domain"
	"github.com/gatewaykit/inference-gateway/internal/intent"
)

// Config holds the admission tunables. The risk weights and thresholds are
// empirical and deliberately exposed as configuration.
type Config struct {
	MaxTokensCeiling int
	// DefaultMaxTokens is assumed when a request omits max_tokens.
	DefaultMaxTokens int

	RiskDenyThreshold float64

	// Risk score contributions.
	HighEstimateTokens   int     // estimate above this adds HighEstimateWeight
	HighEstimateWeight   float64 // default 0.3
	MediumEstimateTokens int     // estimate above this adds MediumEstimateWeight
	MediumEstimateWeight float64 // default 0.1
	LongGenerationWeight float64 // default 0.4
	HighMaxTokens        int     // max_tokens above this adds HighMaxTokensWeight
	HighMaxTokensWeight  float64 // default 0.2
}

func DefaultConfig() Config {
	return Config{
		MaxTokensCeiling:     8000,
		DefaultMaxTokens:     1000,
		RiskDenyThreshold:    0.7,
		HighEstimateTokens:   5000,
		HighEstimateWeight:   0.3,
		MediumEstimateTokens: 2000,
		MediumEstimateWeight: 0.1,
		LongGenerationWeight: 0.4,
		HighMaxTokens:        4000,
		HighMaxTokensWeight:  0.2,
	}
}

// Decision is the admission outcome for one request.
type Decision struct {
	Allowed         bool
	Reason          string
	Intent          domain.Intent
	EstimatedTokens int64
	RiskScore       float64
	Recommendations []string
	// BudgetSkipped is set when the shared store was unreachable and the
	// budget check was bypassed (fail-open).
	BudgetSkipped bool
}

// Controller performs the admission check. It has no side effects on the
// fast path; usage is recorded only after the provider call completes.
type Controller struct {
	config     Config
	classifier intent.Classifier
	budgets    budget.Tracker
}

func NewController(cfg Config, classifier intent.Classifier, budgets budget.Tracker) *Controller {
	return &Controller{
		config:     cfg,
		classifier: classifier,
		budgets:    budgets,
	}
}

// Admit evaluates the request. Risk and budget checks are independent; both
// must pass for the request to be allowed.
func (c *Controller) Admit(ctx context.Context, envelope domain.RequestEnvelope) Decision {
	maxTokens := c.config.DefaultMaxTokens
	if envelope.MaxTokens != nil {
		maxTokens = *envelope.MaxTokens
	}

	decision := Decision{
		Intent:          c.classifier.Classify(envelope),
		EstimatedTokens: estimateTokens(envelope.ContentLength(), maxTokens),
	}
	decision.RiskScore = c.riskScore(decision.Intent, decision.EstimatedTokens, maxTokens)
	decision.Recommendations = c.recommend(decision)

	if maxTokens > c.config.MaxTokensCeiling {
		decision.Reason = domain.ReasonMaxTokensExceeded
		return decision
	}

	if decision.RiskScore >= c.config.RiskDenyThreshold {
		decision.Reason = domain.ReasonRiskThreshold
	}

	used, err := c.budgets.Usage(ctx, envelope.Caller)
	if err != nil {
		// Fail open: an unmetered budget risks overspend, not overload.
		slog.Warn("budget check skipped, store unavailable",
			"caller", envelope.Caller, "error", err)
		decision.BudgetSkipped = true
	} else if used+decision.EstimatedTokens > c.budgets.Limit(envelope.Caller) {
		decision.Reason = domain.ReasonBudgetExceeded
		return decision
	}

	decision.Allowed = decision.Reason == ""
	return decision
}

// estimateTokens approximates total token cost at ~4 characters per token:
// input plus expected output, with output capped by the max-tokens setting.
// Intentionally cheap; never a tokenizer call.
func estimateTokens(inputChars, maxTokens int) int64 {
	input := float64(inputChars) / 4
	output := min(input*2.5, float64(maxTokens)*4) / 4
	return int64(input + output)
}

func (c *Controller) riskScore(it domain.Intent, estimated int64, maxTokens int) float64 {
	score := 0.0

	switch {
	case estimated > int64(c.config.HighEstimateTokens):
		score += c.config.HighEstimateWeight
	case estimated > int64(c.config.MediumEstimateTokens):
		score += c.config.MediumEstimateWeight
	}

	if it == domain.IntentLongGeneration {
		score += c.config.LongGenerationWeight
	}
	if maxTokens > c.config.HighMaxTokens {
		score += c.config.HighMaxTokensWeight
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

// recommend produces advisory routing hints; the routing engine is free to
// ignore them.
func (c *Controller) recommend(d Decision) []string {
	var recs []string

	switch d.Intent {
	case domain.IntentCodeGeneration:
		recs = append(recs, "prefer a code-capable model")
	case domain.IntentSummarization:
		recs = append(recs, "a smaller model is usually sufficient for summarization")
	case domain.IntentLongGeneration:
		recs = append(recs, "route to a provider with high output limits")
	}

	if d.EstimatedTokens > int64(c.config.HighEstimateTokens) {
		recs = append(recs, fmt.Sprintf("large request (~%d tokens), consider splitting", d.EstimatedTokens))
	}
	return recs
}
