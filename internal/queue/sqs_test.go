package queue

import (
	"context"
	"testing"
	"time"

	"github.com/gatewaykit/inference-gateway/internal/domain"
)

func TestInMemoryExporter(t *testing.T) {
	e := NewInMemoryExporter()

	rec := OutcomeRecord{
		RequestID:     "req-1",
		Caller:        "caller-1",
		Intent:        domain.IntentAnalysis,
		FallbackLevel: domain.FallbackNormal,
		Allowed:       true,
		Success:       true,
		CreatedAt:     time.Now(),
	}
	if err := e.Export(context.Background(), rec); err != nil {
		t.Fatalf("export: %v", err)
	}

	records := e.Records()
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].RequestID != "req-1" {
		t.Errorf("unexpected record %+v", records[0])
	}
}

func TestExportAsync(t *testing.T) {
	e := NewInMemoryExporter()

	ExportAsync(e, OutcomeRecord{RequestID: "req-1"})

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(e.Records()) == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("async export never landed")
}

func TestExportAsync_NilExporter(t *testing.T) {
	// Must not panic when the export path is disabled.
	ExportAsync(nil, OutcomeRecord{RequestID: "req-1"})
}
