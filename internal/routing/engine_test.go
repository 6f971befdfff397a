package routing

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gatewaykit/inference-gateway/internal/circuitbreaker"
	"github.com/gatewaykit/inference-gateway/internal/domain"
	"github.com/gatewaykit/inference-gateway/internal/health"
)

func testProviders() []domain.ProviderRecord {
	return []domain.ProviderRecord{
		{ID: "openai", Capabilities: []string{"chat", "completion"}, Models: []string{"gpt-4o"}, Priority: 1},
		{ID: "anthropic", Capabilities: []string{"chat"}, Models: []string{"claude-sonnet-4"}, Priority: 2},
		{ID: "bedrock", Capabilities: []string{"embedding"}, Models: []string{"titan-embed"}, Priority: 3},
	}
}

func newTestEngine(t *testing.T) (*Engine, *circuitbreaker.Manager, health.Tracker) {
	t.Helper()
	guards := circuitbreaker.NewManager(circuitbreaker.DefaultConfig())
	tracker := health.NewInMemoryTracker(health.DefaultThresholds())
	e := NewEngine(DefaultConfig(), testProviders(), guards, tracker)
	// Pin the clock to business hours so scores are deterministic.
	e.now = func() time.Time {
		return time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	}
	return e, guards, tracker
}

func chatEnvelope(tier domain.Tier) domain.RequestEnvelope {
	return domain.RequestEnvelope{
		Messages:   []domain.Message{{Role: "user", Content: "hello"}},
		Capability: "chat",
		Caller:     "caller-1",
		CallerTier: tier,
	}
}

func TestRoute_FiltersByCapability(t *testing.T) {
	e, _, _ := newTestEngine(t)

	d, err := e.Route(context.Background(), chatEnvelope(domain.TierPro), domain.FallbackNormal)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if d.Provider == "bedrock" {
		t.Error("bedrock does not declare the chat capability")
	}
}

func TestRoute_NoEligibleProvider(t *testing.T) {
	e, _, _ := newTestEngine(t)

	envelope := chatEnvelope(domain.TierPro)
	envelope.Capability = "vision"

	_, err := e.Route(context.Background(), envelope, domain.FallbackNormal)
	if !errors.Is(err, domain.ErrNoEligibleProvider) {
		t.Errorf("expected ErrNoEligibleProvider, got %v", err)
	}
}

func TestRoute_SkipsOpenCircuits(t *testing.T) {
	e, guards, _ := newTestEngine(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		guards.Get("openai").Breaker.RecordFailure(ctx)
	}

	d, err := e.Route(ctx, chatEnvelope(domain.TierPro), domain.FallbackNormal)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if d.Provider != "anthropic" {
		t.Errorf("expected anthropic with openai circuit open, got %s", d.Provider)
	}
}

func TestRoute_PriorityBreaksTies(t *testing.T) {
	e, _, _ := newTestEngine(t)

	// Both chat providers score identically for the same request; the
	// lower priority value wins.
	d, err := e.Route(context.Background(), chatEnvelope(domain.TierPro), domain.FallbackNormal)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if d.Provider != "openai" {
		t.Errorf("expected openai on priority tie-break, got %s", d.Provider)
	}
}

func TestRoute_TierWeight(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	free, err := e.Route(ctx, chatEnvelope(domain.TierFree), domain.FallbackNormal)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	enterprise, err := e.Route(ctx, chatEnvelope(domain.TierEnterprise), domain.FallbackNormal)
	if err != nil {
		t.Fatalf("route: %v", err)
	}

	if enterprise.Score <= free.Score {
		t.Errorf("enterprise score (%.2f) must exceed free score (%.2f)", enterprise.Score, free.Score)
	}
}

func TestRoute_TimeOfDayWeight(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	business, _ := e.Route(ctx, chatEnvelope(domain.TierPro), domain.FallbackNormal)

	e.now = func() time.Time {
		return time.Date(2026, 3, 4, 19, 0, 0, 0, time.UTC)
	}
	peak, _ := e.Route(ctx, chatEnvelope(domain.TierPro), domain.FallbackNormal)

	e.now = func() time.Time {
		return time.Date(2026, 3, 4, 3, 0, 0, 0, time.UTC)
	}
	offPeak, _ := e.Route(ctx, chatEnvelope(domain.TierPro), domain.FallbackNormal)

	if !(peak.Score < business.Score && business.Score < offPeak.Score) {
		t.Errorf("expected peak < business < off-peak, got %.2f / %.2f / %.2f",
			peak.Score, business.Score, offPeak.Score)
	}
}

func TestRoute_ComplexityBoost(t *testing.T) {
	e, _, _ := newTestEngine(t)
	ctx := context.Background()

	simple, _ := e.Route(ctx, chatEnvelope(domain.TierPro), domain.FallbackNormal)

	long := chatEnvelope(domain.TierPro)
	long.Messages = []domain.Message{{Role: "user", Content: strings.Repeat("word ", 600)}}
	complex, _ := e.Route(ctx, long, domain.FallbackNormal)

	if complex.Score <= simple.Score {
		t.Errorf("complex request score (%.2f) must exceed simple score (%.2f)",
			complex.Score, simple.Score)
	}
}

func TestRoute_CheapModelPinsFallback(t *testing.T) {
	e, _, _ := newTestEngine(t)

	d, err := e.Route(context.Background(), chatEnvelope(domain.TierPro), domain.FallbackCheapModel)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if d.Model != DefaultConfig().FallbackModel {
		t.Errorf("expected fallback model %s, got %s", DefaultConfig().FallbackModel, d.Model)
	}
	if !strings.Contains(d.Explanation, "cheap_model") {
		t.Errorf("explanation should mention the fallback, got %q", d.Explanation)
	}
}

func TestRoute_ExplanationNamesWeights(t *testing.T) {
	e, _, _ := newTestEngine(t)

	d, err := e.Route(context.Background(), chatEnvelope(domain.TierEnterprise), domain.FallbackNormal)
	if err != nil {
		t.Fatalf("route: %v", err)
	}

	for _, want := range []string{"base=1.0", "time=business", "tier=enterprise", "complexity="} {
		if !strings.Contains(d.Explanation, want) {
			t.Errorf("explanation missing %q: %q", want, d.Explanation)
		}
	}
}

func TestRoute_UnhealthyPenalty(t *testing.T) {
	e, _, tracker := newTestEngine(t)
	ctx := context.Background()

	// Make openai unhealthy; anthropic should win despite worse priority.
	for i := 0; i < 10; i++ {
		tracker.RecordMetric(ctx, domain.LatencySample{
			Provider: "openai", Model: "gpt-4o",
			LatencyMs: 100, Success: false, Timestamp: time.Now(),
		})
	}

	d, err := e.Route(ctx, chatEnvelope(domain.TierPro), domain.FallbackNormal)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if d.Provider != "anthropic" {
		t.Errorf("expected anthropic with openai unhealthy, got %s", d.Provider)
	}
}

func TestRank_OrdersAllCandidates(t *testing.T) {
	e, _, _ := newTestEngine(t)

	decisions, err := e.Rank(context.Background(), chatEnvelope(domain.TierPro), domain.FallbackNormal)
	if err != nil {
		t.Fatalf("rank: %v", err)
	}
	if len(decisions) != 2 {
		t.Fatalf("expected 2 chat candidates, got %d", len(decisions))
	}
	if decisions[0].Provider != "openai" || decisions[1].Provider != "anthropic" {
		t.Errorf("unexpected order: %s, %s", decisions[0].Provider, decisions[1].Provider)
	}
}
