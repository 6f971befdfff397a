package budget

import (
	"context"
	"testing"
	"time"

	"github.com/gatewaykit/inference-gateway/internal/domain"
)

func TestInMemoryTracker_RecordAndUsage(t *testing.T) {
	tr := NewInMemoryTracker(Config{DefaultLimit: 1000, Window: time.Hour})
	ctx := context.Background()

	used, err := tr.Usage(ctx, "caller-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if used != 0 {
		t.Errorf("expected zero usage initially, got %d", used)
	}

	if err := tr.Record(ctx, "caller-1", 400); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := tr.Record(ctx, "caller-1", 250); err != nil {
		t.Fatalf("record: %v", err)
	}

	used, _ = tr.Usage(ctx, "caller-1")
	if used != 650 {
		t.Errorf("expected usage 650, got %d", used)
	}
}

func TestInMemoryTracker_CallersAreIsolated(t *testing.T) {
	tr := NewInMemoryTracker(Config{DefaultLimit: 1000, Window: time.Hour})
	ctx := context.Background()

	tr.Record(ctx, "caller-1", 500)

	used, _ := tr.Usage(ctx, "caller-2")
	if used != 0 {
		t.Errorf("caller-2 should have zero usage, got %d", used)
	}
}

func TestInMemoryTracker_WindowExpiry(t *testing.T) {
	tr := NewInMemoryTracker(Config{DefaultLimit: 1000, Window: 10 * time.Millisecond})
	ctx := context.Background()

	tr.Record(ctx, "caller-1", 500)
	time.Sleep(20 * time.Millisecond)

	used, _ := tr.Usage(ctx, "caller-1")
	if used != 0 {
		t.Errorf("expected usage to reset after window expiry, got %d", used)
	}

	// A fresh window starts on the next record.
	tr.Record(ctx, "caller-1", 100)
	used, _ = tr.Usage(ctx, "caller-1")
	if used != 100 {
		t.Errorf("expected usage 100 in new window, got %d", used)
	}
}

func TestLimit_Overrides(t *testing.T) {
	tr := NewInMemoryTracker(Config{
		DefaultLimit: 1000,
		Window:       time.Hour,
		Overrides: map[domain.CallerIdentity]int64{
			"big-caller": 50000,
		},
	})

	if got := tr.Limit("big-caller"); got != 50000 {
		t.Errorf("expected override limit 50000, got %d", got)
	}
	if got := tr.Limit("other"); got != 1000 {
		t.Errorf("expected default limit 1000, got %d", got)
	}
}
