// Package routing scores and ranks candidate providers for an admitted
// request. Candidates are providers declaring the requested capability whose
// circuit is not open; the score combines a time-of-day weight, a
// caller-tier weight, and a content-complexity boost. Every decision
// carries a human-readable explanation of the contributing weights.
package routing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gatewaykit/inference-gateway/internal/circuitbreaker"
	"github.com/gatewaykit/inference-gateway/internal/domain"
	"github.com/gatewaykit/inference-gateway/internal/health"
)

// Config holds the scoring tunables. The weights are empirical and
// deliberately exposed as configuration.
type Config struct {
	BusinessHoursWeight float64 // UTC 09:00–17:00
	PeakHoursWeight     float64 // UTC 17:00–22:00
	OffPeakWeight       float64 // everything else

	// ComplexityScale caps the contribution of content complexity:
	// score factor = 1 + ComplexityScale*complexity, complexity in [0,1].
	ComplexityScale float64

	// UnhealthyPenalty multiplies the score of providers whose health
	// snapshot reports unhealthy. They stay eligible, just deprioritized.
	UnhealthyPenalty float64

	// FallbackModel is pinned when the autoscaler forces cheap-model
	// routing.
	FallbackModel string
}

func DefaultConfig() Config {
	return Config{
		BusinessHoursWeight: 1.0,
		PeakHoursWeight:     0.8,
		OffPeakWeight:       1.2,
		ComplexityScale:     0.5,
		UnhealthyPenalty:    0.5,
		FallbackModel:       "gpt-4o-mini",
	}
}

// Decision is the routing outcome for one admitted request.
type Decision struct {
	Provider    string  `json:"provider"`
	Model       string  `json:"model"`
	Score       float64 `json:"score"`
	Explanation string  `json:"explanation"`
}

// Engine ranks providers. The provider registry is fixed at construction;
// circuit and health state are read live on every decision.
type Engine struct {
	config    Config
	providers []domain.ProviderRecord
	guards    *circuitbreaker.Manager
	tracker   health.Tracker
	// now is swappable for tests of the time-of-day weight.
	now func() time.Time
}

func NewEngine(cfg Config, providers []domain.ProviderRecord, guards *circuitbreaker.Manager, tracker health.Tracker) *Engine {
	return &Engine{
		config:    cfg,
		providers: providers,
		guards:    guards,
		tracker:   tracker,
		now:       time.Now,
	}
}

type candidate struct {
	record      domain.ProviderRecord
	model       string
	score       float64
	explanation string
}

// Route selects the best provider for the request. When level is
// cheap-model the configured fallback model is pinned on the winner. An
// empty candidate set returns ErrNoEligibleProvider; a closed-circuit
// provider is never picked silently.
func (e *Engine) Route(ctx context.Context, envelope domain.RequestEnvelope, level domain.FallbackLevel) (Decision, error) {
	timeWeight, timeBucket := e.timeWeight()
	tierWeight := envelope.CallerTier.Weight()
	complexity := contentComplexity(envelope)
	complexityBoost := 1 + e.config.ComplexityScale*complexity

	var candidates []candidate
	for _, p := range e.providers {
		if !p.HasCapability(envelope.Capability) || len(p.Models) == 0 {
			continue
		}
		if e.guards.Get(p.ID).Breaker.State(ctx) == circuitbreaker.StateOpen {
			continue
		}

		score := 1.0 * timeWeight * tierWeight * complexityBoost
		notes := []string{
			"base=1.0",
			fmt.Sprintf("time=%s(%.2f)", timeBucket, timeWeight),
			fmt.Sprintf("tier=%s(%.2f)", tierOrDefault(envelope.CallerTier), tierWeight),
			fmt.Sprintf("complexity=%.2f(boost %.2f)", complexity, complexityBoost),
		}

		if h, ok := e.tracker.GetHealth(ctx, p.ID, p.Models[0]); ok && !h.IsHealthy {
			score *= e.config.UnhealthyPenalty
			notes = append(notes, fmt.Sprintf("unhealthy(×%.2f)", e.config.UnhealthyPenalty))
		}

		candidates = append(candidates, candidate{
			record:      p,
			model:       p.Models[0],
			score:       score,
			explanation: strings.Join(notes, " "),
		})
	}

	if len(candidates) == 0 {
		return Decision{}, domain.ErrNoEligibleProvider
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].record.Priority < candidates[j].record.Priority
	})

	best := candidates[0]
	decision := Decision{
		Provider:    best.record.ID,
		Model:       best.model,
		Score:       best.score,
		Explanation: fmt.Sprintf("selected %s/%s: %s priority=%d", best.record.ID, best.model, best.explanation, best.record.Priority),
	}

	if level == domain.FallbackCheapModel {
		decision.Model = e.config.FallbackModel
		decision.Explanation += " fallback=cheap_model(" + e.config.FallbackModel + ")"
	}

	return decision, nil
}

// Rank returns all candidates best-first, for callers that retry down the
// list on provider failure.
func (e *Engine) Rank(ctx context.Context, envelope domain.RequestEnvelope, level domain.FallbackLevel) ([]Decision, error) {
	first, err := e.Route(ctx, envelope, level)
	if err != nil {
		return nil, err
	}

	decisions := []Decision{first}
	for _, p := range e.providers {
		if p.ID == first.Provider || !p.HasCapability(envelope.Capability) || len(p.Models) == 0 {
			continue
		}
		if e.guards.Get(p.ID).Breaker.State(ctx) == circuitbreaker.StateOpen {
			continue
		}
		model := p.Models[0]
		if level == domain.FallbackCheapModel {
			model = e.config.FallbackModel
		}
		decisions = append(decisions, Decision{
			Provider:    p.ID,
			Model:       model,
			Explanation: fmt.Sprintf("fallback candidate %s/%s priority=%d", p.ID, model, p.Priority),
		})
	}
	return decisions, nil
}

// Providers exposes the registry for introspection endpoints.
func (e *Engine) Providers() []domain.ProviderRecord {
	return e.providers
}

func (e *Engine) timeWeight() (float64, string) {
	hour := e.now().UTC().Hour()
	switch {
	case hour >= 9 && hour < 17:
		return e.config.BusinessHoursWeight, "business"
	case hour >= 17 && hour < 22:
		return e.config.PeakHoursWeight, "peak"
	default:
		return e.config.OffPeakWeight, "off-peak"
	}
}

// contentComplexity derives a [0,1] complexity estimate from word and
// sentence counts of the request content.
func contentComplexity(envelope domain.RequestEnvelope) float64 {
	words := 0
	sentences := 0
	for _, m := range envelope.Messages {
		words += len(strings.Fields(m.Content))
		sentences += strings.Count(m.Content, ".") + strings.Count(m.Content, "?") + strings.Count(m.Content, "!")
	}
	if words == 0 {
		return 0
	}
	if sentences == 0 {
		sentences = 1
	}

	// Normalize: ~500 words or ~25 words/sentence saturates the estimate.
	wordFactor := float64(words) / 500
	densityFactor := (float64(words) / float64(sentences)) / 25

	complexity := (wordFactor + densityFactor) / 2
	if complexity > 1 {
		complexity = 1
	}
	return complexity
}

func tierOrDefault(t domain.Tier) domain.Tier {
	if t == "" {
		return domain.TierPro
	}
	return t
}
