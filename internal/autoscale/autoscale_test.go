package autoscale

import (
	"context"
	"testing"
	"time"

	"github.com/gatewaykit/inference-gateway/internal/domain"
)

func TestInMemoryController_UnderLimit(t *testing.T) {
	c := NewInMemoryController(Config{
		RequestsPerMinute: 10,
		SpikeThreshold:    100,
		SpikeWindow:       10 * time.Second,
		Cooldown:          time.Minute,
	})
	ctx := context.Background()

	v, err := c.Check(ctx, "caller-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.Allowed {
		t.Fatal("expected allowed under the limit")
	}
	if v.Level != domain.FallbackNormal {
		t.Errorf("expected normal level, got %s", v.Level)
	}
	if v.Remaining != 9 {
		t.Errorf("expected remaining 9, got %d", v.Remaining)
	}
}

func TestInMemoryController_EleventhRequestDenied(t *testing.T) {
	c := NewInMemoryController(Config{
		RequestsPerMinute: 10,
		SpikeThreshold:    100,
		SpikeWindow:       10 * time.Second,
		Cooldown:          time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		v, err := c.Check(ctx, "caller-1")
		if err != nil {
			t.Fatalf("unexpected error on request %d: %v", i+1, err)
		}
		if !v.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	v, err := c.Check(ctx, "caller-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Allowed {
		t.Fatal("11th request within the window should be denied")
	}
	if v.Level != domain.FallbackDeny {
		t.Errorf("expected deny level, got %s", v.Level)
	}
	if v.Remaining != 0 {
		t.Errorf("expected remaining 0, got %d", v.Remaining)
	}
}

func TestInMemoryController_CallersAreIsolated(t *testing.T) {
	c := NewInMemoryController(Config{
		RequestsPerMinute: 1,
		SpikeThreshold:    100,
		SpikeWindow:       10 * time.Second,
		Cooldown:          time.Minute,
	})
	ctx := context.Background()

	c.Check(ctx, "caller-1")
	if v, _ := c.Check(ctx, "caller-1"); v.Allowed {
		t.Error("caller-1 should be rate limited")
	}
	if v, _ := c.Check(ctx, "caller-2"); !v.Allowed {
		t.Error("caller-2 should not be rate limited")
	}
}

func TestInMemoryController_SpikeTriggersCooldown(t *testing.T) {
	c := NewInMemoryController(Config{
		RequestsPerMinute: 100,
		SpikeThreshold:    5,
		SpikeWindow:       10 * time.Second,
		Cooldown:          time.Minute,
	})
	ctx := context.Background()

	var v Verdict
	for i := 0; i < 5; i++ {
		v, _ = c.Check(ctx, "caller-1")
	}

	if !v.Allowed {
		t.Fatal("spike should degrade, not deny")
	}
	if v.Level != domain.FallbackCheapModel {
		t.Fatalf("expected cheap_model level at spike threshold, got %s", v.Level)
	}
	if v.CooldownUntil.IsZero() {
		t.Error("expected CooldownUntil to be set")
	}
}

func TestInMemoryController_CooldownPersists(t *testing.T) {
	c := NewInMemoryController(Config{
		RequestsPerMinute: 100,
		SpikeThreshold:    5,
		SpikeWindow:       10 * time.Second,
		Cooldown:          time.Minute,
	})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		c.Check(ctx, "caller-1")
	}

	// Requests during the cooldown stay pinned to cheap-model even though
	// the instantaneous rate is no longer a spike.
	v, _ := c.Check(ctx, "caller-1")
	if v.Level != domain.FallbackCheapModel {
		t.Errorf("expected cheap_model during cooldown, got %s", v.Level)
	}
}

func TestInMemoryController_CooldownBoundary(t *testing.T) {
	c := NewInMemoryController(Config{
		RequestsPerMinute: 100,
		SpikeThreshold:    5,
		SpikeWindow:       40 * time.Millisecond,
		Cooldown:          80 * time.Millisecond,
	})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		c.Check(ctx, "caller-1")
	}

	time.Sleep(30 * time.Millisecond)
	v, _ := c.Check(ctx, "caller-1")
	if v.Level != domain.FallbackCheapModel {
		t.Fatalf("expected cheap_model before cooldown expiry, got %s", v.Level)
	}

	// Past the expiry and with the burst aged out of the spike window,
	// the caller returns to normal routing.
	time.Sleep(80 * time.Millisecond)
	v, _ = c.Check(ctx, "caller-1")
	if v.Level != domain.FallbackNormal {
		t.Errorf("expected normal level after cooldown expiry, got %s", v.Level)
	}
	if !v.CooldownUntil.IsZero() {
		t.Errorf("expected no CooldownUntil after expiry, got %v", v.CooldownUntil)
	}
}

func TestInMemoryController_BelowSpikeThreshold(t *testing.T) {
	c := NewInMemoryController(Config{
		RequestsPerMinute: 100,
		SpikeThreshold:    5,
		SpikeWindow:       10 * time.Second,
		Cooldown:          time.Minute,
	})
	ctx := context.Background()

	var v Verdict
	for i := 0; i < 4; i++ {
		v, _ = c.Check(ctx, "caller-1")
	}

	if v.Level != domain.FallbackNormal {
		t.Errorf("four requests are below the threshold of five, got level %s", v.Level)
	}
}

func TestInMemoryController_ResetTime(t *testing.T) {
	c := NewInMemoryController(DefaultConfig())
	ctx := context.Background()

	v, err := c.Check(ctx, "caller-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := time.Now().Add(time.Minute)
	diff := v.ResetAt.Sub(expected)
	if diff < -time.Second || diff > time.Second {
		t.Errorf("ResetAt should be ~1 minute out, got diff %v", diff)
	}
}
