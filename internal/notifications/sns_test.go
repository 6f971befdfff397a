package notifications

import (
	"context"
	"testing"
	"time"

	"github.com/gatewaykit/inference-gateway/internal/domain"
)

func TestInMemoryNotifier(t *testing.T) {
	n := NewInMemoryNotifier()

	alert := domain.Alert{
		ID:        "alert-1",
		Type:      domain.AlertTokenSpike,
		Severity:  domain.SeverityHigh,
		Message:   "token usage spike",
		Timestamp: time.Now(),
	}
	if err := n.Send(context.Background(), alert); err != nil {
		t.Fatalf("send: %v", err)
	}

	alerts := n.Alerts()
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	if alerts[0].ID != "alert-1" {
		t.Errorf("unexpected alert %+v", alerts[0])
	}

	n.Clear()
	if len(n.Alerts()) != 0 {
		t.Error("expected no alerts after clear")
	}
}

func TestInMemoryNotifier_Handler(t *testing.T) {
	n := NewInMemoryNotifier()

	n.Handler(domain.Alert{ID: "alert-1", Type: domain.AlertHighErrorRate})

	if len(n.Alerts()) != 1 {
		t.Error("handler should record the alert")
	}
}
