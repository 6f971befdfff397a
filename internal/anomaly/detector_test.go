package anomaly

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gatewaykit/inference-gateway/internal/domain"
)

func observation(caller string, tokens int) Observation {
	return Observation{
		Caller:    domain.CallerIdentity(caller),
		Intent:    domain.IntentAnalysis,
		Tokens:    tokens,
		Success:   true,
		Timestamp: time.Now(),
	}
}

func hasAlert(alerts []domain.Alert, t domain.AlertType) *domain.Alert {
	for i := range alerts {
		if alerts[i].Type == t {
			return &alerts[i]
		}
	}
	return nil
}

func TestTokenSpike(t *testing.T) {
	d := NewDetector(DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if alerts := d.Observe(ctx, observation("caller-1", 100)); hasAlert(alerts, domain.AlertTokenSpike) != nil {
			t.Fatalf("steady usage must not alert (iteration %d)", i)
		}
	}

	alerts := d.Observe(ctx, observation("caller-1", 5000))
	alert := hasAlert(alerts, domain.AlertTokenSpike)
	if alert == nil {
		t.Fatal("expected a token spike alert")
	}
	if alert.Severity != domain.SeverityHigh {
		t.Errorf("expected high severity, got %s", alert.Severity)
	}
	if alert.Details["caller"] != "caller-1" {
		t.Errorf("expected caller in details, got %v", alert.Details)
	}
}

func TestTokenSpike_NeedsHistory(t *testing.T) {
	d := NewDetector(DefaultConfig())
	ctx := context.Background()

	// The very first request can be huge without tripping the detector;
	// there is no population to compare against.
	alerts := d.Observe(ctx, observation("caller-1", 50000))
	if hasAlert(alerts, domain.AlertTokenSpike) != nil {
		t.Error("no spike alert without history")
	}
}

func TestTokenSpike_CallersAreIsolated(t *testing.T) {
	d := NewDetector(DefaultConfig())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		d.Observe(ctx, observation("caller-1", 100))
	}

	// caller-2 has no history; its first big request is not a spike.
	alerts := d.Observe(ctx, observation("caller-2", 5000))
	if hasAlert(alerts, domain.AlertTokenSpike) != nil {
		t.Error("caller-2 must not inherit caller-1's baseline")
	}
}

func TestBudgetExhaustion(t *testing.T) {
	d := NewDetector(DefaultConfig())
	ctx := context.Background()

	obs := observation("caller-1", 100)
	obs.BudgetUsagePct = 92
	alerts := d.Observe(ctx, obs)
	alert := hasAlert(alerts, domain.AlertBudgetExhaustion)
	if alert == nil {
		t.Fatal("expected a budget alert above 90%")
	}
	if alert.Severity != domain.SeverityHigh {
		t.Errorf("expected high severity at 92%%, got %s", alert.Severity)
	}

	obs.BudgetUsagePct = 97
	alerts = d.Observe(ctx, obs)
	alert = hasAlert(alerts, domain.AlertBudgetExhaustion)
	if alert == nil {
		t.Fatal("expected a budget alert above 95%")
	}
	if alert.Severity != domain.SeverityCritical {
		t.Errorf("expected critical severity at 97%%, got %s", alert.Severity)
	}
}

func TestBudgetBelowThreshold(t *testing.T) {
	d := NewDetector(DefaultConfig())

	obs := observation("caller-1", 100)
	obs.BudgetUsagePct = 50
	alerts := d.Observe(context.Background(), obs)
	if hasAlert(alerts, domain.AlertBudgetExhaustion) != nil {
		t.Error("no budget alert at 50% usage")
	}
}

func TestHighErrorRate(t *testing.T) {
	d := NewDetector(DefaultConfig())
	ctx := context.Background()

	var alerts []domain.Alert
	for i := 0; i < 10; i++ {
		obs := observation("caller-1", 100)
		obs.Success = false
		alerts = d.Observe(ctx, obs)
	}

	alert := hasAlert(alerts, domain.AlertHighErrorRate)
	if alert == nil {
		t.Fatal("expected a high error rate alert")
	}
	if alert.Severity != domain.SeverityCritical {
		t.Errorf("100%% errors should be critical, got %s", alert.Severity)
	}
}

func TestErrorRate_NeedsMinRequests(t *testing.T) {
	d := NewDetector(DefaultConfig())
	ctx := context.Background()

	var alerts []domain.Alert
	for i := 0; i < 9; i++ {
		obs := observation("caller-1", 100)
		obs.Success = false
		alerts = d.Observe(ctx, obs)
	}

	if hasAlert(alerts, domain.AlertHighErrorRate) != nil {
		t.Error("error rate must not alert below the minimum request count")
	}
}

func TestUnusualPattern(t *testing.T) {
	cfg := DefaultConfig()
	d := NewDetector(cfg)
	ctx := context.Background()

	var alerts []domain.Alert
	for i := 0; i < cfg.PatternHistory; i++ {
		alerts = d.Observe(ctx, observation("caller-1", 100))
	}

	alert := hasAlert(alerts, domain.AlertUnusualPattern)
	if alert == nil {
		t.Fatal("expected a pattern alert for a uniform intent history")
	}
	if alert.Severity != domain.SeverityMedium {
		t.Errorf("expected medium severity, got %s", alert.Severity)
	}
}

func TestMixedPattern_NoAlert(t *testing.T) {
	cfg := DefaultConfig()
	d := NewDetector(cfg)
	ctx := context.Background()

	intents := []domain.Intent{
		domain.IntentAnalysis,
		domain.IntentCodeGeneration,
		domain.IntentSummarization,
		domain.IntentConversational,
	}

	var alerts []domain.Alert
	for i := 0; i < cfg.PatternHistory; i++ {
		obs := observation("caller-1", 100)
		obs.Intent = intents[i%len(intents)]
		alerts = d.Observe(ctx, obs)
	}

	if hasAlert(alerts, domain.AlertUnusualPattern) != nil {
		t.Error("a mixed intent history must not alert")
	}
}

func TestHandlerDispatch(t *testing.T) {
	d := NewDetector(DefaultConfig())
	var count atomic.Int64
	d.OnAlert(func(alert domain.Alert) {
		count.Add(1)
	})

	obs := observation("caller-1", 100)
	obs.BudgetUsagePct = 97
	d.Observe(context.Background(), obs)

	if count.Load() != 1 {
		t.Errorf("expected handler to run once, ran %d times", count.Load())
	}
}

func TestHandlerPanicIsolation(t *testing.T) {
	d := NewDetector(DefaultConfig())
	var ran atomic.Bool

	d.OnAlert(func(alert domain.Alert) {
		panic("boom")
	})
	d.OnAlert(func(alert domain.Alert) {
		ran.Store(true)
	})

	obs := observation("caller-1", 100)
	obs.BudgetUsagePct = 97
	d.Observe(context.Background(), obs)

	if !ran.Load() {
		t.Error("a panicking handler must not starve later handlers")
	}
}

func TestAlertsHaveIDs(t *testing.T) {
	d := NewDetector(DefaultConfig())

	obs := observation("caller-1", 100)
	obs.BudgetUsagePct = 97
	alerts := d.Observe(context.Background(), obs)
	if len(alerts) == 0 {
		t.Fatal("expected an alert")
	}
	if alerts[0].ID == "" {
		t.Error("alerts must carry a unique id")
	}
}
