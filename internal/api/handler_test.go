package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gatewaykit/inference-gateway/internal/admission"
	"github.com/gatewaykit/inference-gateway/internal/anomaly"
	"github.com/gatewaykit/inference-gateway/internal/autoscale"
	"github.com/gatewaykit/inference-gateway/internal/budget"
	"github.com/gatewaykit/inference-gateway/internal/circuitbreaker"
	"github.com/gatewaykit/inference-gateway/internal/domain"
	"github.com/gatewaykit/inference-gateway/internal/gateway"
	"github.com/gatewaykit/inference-gateway/internal/health"
	"github.com/gatewaykit/inference-gateway/internal/intent"
	"github.com/gatewaykit/inference-gateway/internal/provider"
	"github.com/gatewaykit/inference-gateway/internal/routing"
)

func newTestHandler(t *testing.T, requestsPerMinute int) (*Handler, *provider.Static) {
	t.Helper()

	budgets := budget.NewInMemoryTracker(budget.DefaultConfig())
	guards := circuitbreaker.NewManager(circuitbreaker.DefaultConfig())
	tracker := health.NewInMemoryTracker(health.DefaultThresholds())

	records := []domain.ProviderRecord{
		{ID: "primary", Capabilities: []string{"chat"}, Models: []string{"model-a"}, Priority: 1},
	}
	engine := routing.NewEngine(routing.DefaultConfig(), records, guards, tracker)
	static := provider.NewStatic("primary")

	service := gateway.NewService(gateway.Config{ProviderTimeout: time.Second}, gateway.Deps{
		Autoscaler: autoscale.NewInMemoryController(autoscale.Config{
			RequestsPerMinute: requestsPerMinute,
			SpikeThreshold:    1000,
			SpikeWindow:       10 * time.Second,
			Cooldown:          time.Minute,
		}),
		Admitter: admission.NewController(admission.DefaultConfig(), intent.NewRuleClassifier(), budgets),
		Engine:   engine,
		Guards:   guards,
		Invokers: map[string]provider.Invoker{"primary": static},
		Budgets:  budgets,
		Tracker:  tracker,
		Detector: anomaly.NewDetector(anomaly.DefaultConfig()),
	})

	return NewHandler(HandlerConfig{
		Service: service,
		Engine:  engine,
		Guards:  guards,
		Tracker: tracker,
	}), static
}

func postInference(h *Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/inference", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHandleInference_Success(t *testing.T) {
	h, static := newTestHandler(t, 100)
	static.Content = "canned answer"

	w := postInference(h, `{
		"messages": [{"role": "user", "content": "hello"}],
		"capability": "chat",
		"caller_identity": "caller-1"
	}`)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("expected X-Request-ID header")
	}

	var resp gateway.Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Content != "canned answer" {
		t.Errorf("expected provider content, got %q", resp.Content)
	}
	if resp.Provider != "primary" {
		t.Errorf("expected primary provider, got %s", resp.Provider)
	}
}

func TestHandleInference_Validation(t *testing.T) {
	h, _ := newTestHandler(t, 100)

	cases := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"empty messages", `{"messages": [], "capability": "chat", "caller_identity": "c1"}`},
		{"missing capability", `{"messages": [{"role":"user","content":"hi"}], "caller_identity": "c1"}`},
		{"missing caller", `{"messages": [{"role":"user","content":"hi"}], "capability": "chat"}`},
	}

	for _, tc := range cases {
		w := postInference(h, tc.body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", tc.name, w.Code)
		}
	}
}

func TestHandleInference_CallerHeaderOverride(t *testing.T) {
	h, _ := newTestHandler(t, 100)

	req := httptest.NewRequest(http.MethodPost, "/v1/inference", strings.NewReader(
		`{"messages": [{"role":"user","content":"hi"}], "capability": "chat", "caller_identity": "body-caller"}`))
	req.Header.Set("X-Caller-Identity", "header-caller")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestHandleInference_RateLimited(t *testing.T) {
	h, _ := newTestHandler(t, 1)

	body := `{
		"messages": [{"role": "user", "content": "hello"}],
		"capability": "chat",
		"caller_identity": "caller-1"
	}`

	if w := postInference(h, body); w.Code != http.StatusOK {
		t.Fatalf("first request should pass, got %d", w.Code)
	}

	w := postInference(h, body)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}

	var errResp struct {
		Error struct {
			Reason string `json:"reason"`
		} `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if errResp.Error.Reason != domain.ReasonRateLimited {
		t.Errorf("expected reason %q, got %q", domain.ReasonRateLimited, errResp.Error.Reason)
	}
}

func TestHandleInference_MaxTokensRejected(t *testing.T) {
	h, _ := newTestHandler(t, 100)

	w := postInference(h, `{
		"messages": [{"role": "user", "content": "hello"}],
		"capability": "chat",
		"caller_identity": "caller-1",
		"max_tokens": 50000
	}`)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for max_tokens above ceiling, got %d", w.Code)
	}
}

func TestHandleInference_NoProvider(t *testing.T) {
	h, _ := newTestHandler(t, 100)

	w := postInference(h, `{
		"messages": [{"role": "user", "content": "hello"}],
		"capability": "vision",
		"caller_identity": "caller-1"
	}`)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 for unknown capability, got %d", w.Code)
	}
}

func TestHandleStatus(t *testing.T) {
	h, static := newTestHandler(t, 100)
	static.Content = "ok"

	postInference(h, `{
		"messages": [{"role": "user", "content": "hello"}],
		"capability": "chat",
		"caller_identity": "caller-1"
	}`)

	req := httptest.NewRequest(http.MethodGet, "/v1/status", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp struct {
		Version         string                     `json:"version"`
		CircuitBreakers []circuitbreaker.Status    `json:"circuit_breakers"`
		ProviderHealth  map[string]json.RawMessage `json:"provider_health"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if resp.Version == "" {
		t.Error("expected a version in the status payload")
	}
	if len(resp.CircuitBreakers) == 0 {
		t.Error("expected circuit breaker entries after a handled request")
	}
}

func TestHandleLive(t *testing.T) {
	h, _ := newTestHandler(t, 100)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := newTestHandler(t, 100)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}
