// Package api exposes the gateway over HTTP: the inference endpoint, an
// operational status endpoint, liveness/readiness probes, and Prometheus
// metrics.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gatewaykit/inference-gateway/internal/circuitbreaker"
	"github.com/gatewaykit/inference-gateway/internal/domain"
	"github.com/gatewaykit/inference-gateway/internal/gateway"
	"github.com/gatewaykit/inference-gateway/internal/health"
	"github.com/gatewaykit/inference-gateway/internal/routing"
)

const version = "0.3.0"

type HandlerConfig struct {
	Service  *gateway.Service
	Engine   *routing.Engine
	Guards   *circuitbreaker.Manager
	Tracker  health.Tracker
	Checkers []DependencyChecker
	// ReadyTimeout bounds the readiness dependency checks.
	ReadyTimeout time.Duration
}

type Handler struct {
	service *gateway.Service
	engine  *routing.Engine
	guards  *circuitbreaker.Manager
	tracker health.Tracker
	mux     *http.ServeMux
}

func NewHandler(cfg HandlerConfig) *Handler {
	readyTimeout := cfg.ReadyTimeout
	if readyTimeout == 0 {
		readyTimeout = 5 * time.Second
	}

	h := &Handler{
		service: cfg.Service,
		engine:  cfg.Engine,
		guards:  cfg.Guards,
		tracker: cfg.Tracker,
		mux:     http.NewServeMux(),
	}

	h.mux.HandleFunc("POST /v1/inference", h.handleInference)
	h.mux.HandleFunc("GET /v1/status", h.handleStatus)
	h.mux.HandleFunc("GET /health/live", h.handleLive)
	h.mux.HandleFunc("GET /health/ready", handleReady(cfg.Checkers, readyTimeout))
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) handleInference(w http.ResponseWriter, r *http.Request) {
	var envelope domain.RequestEnvelope
	if err := json.NewDecoder(r.Body).Decode(&envelope); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "")
		return
	}

	if caller := r.Header.Get("X-Caller-Identity"); caller != "" {
		envelope.Caller = domain.CallerIdentity(caller)
	}
	if len(envelope.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages must not be empty", "")
		return
	}
	if envelope.Capability == "" {
		writeError(w, http.StatusBadRequest, "capability is required", "")
		return
	}
	if envelope.Caller == "" {
		writeError(w, http.StatusBadRequest, "caller identity is required", "")
		return
	}

	resp, err := h.service.Handle(r.Context(), envelope)

	if resp != nil {
		w.Header().Set("X-Request-ID", resp.RequestID)
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(resp.RateRemaining))
		if !resp.RateResetAt.IsZero() {
			w.Header().Set("X-RateLimit-Reset", resp.RateResetAt.Format(time.RFC3339))
		}
		if resp.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(resp.RetryAfter.Seconds())+1))
		}
	}

	if err != nil {
		status := statusForError(err)
		reason := ""
		if resp != nil {
			reason = resp.DenyReason
		}
		slog.Warn("request rejected",
			"status", status,
			"reason", reason,
			"caller", envelope.Caller,
			"error", err,
		)
		writeError(w, status, err.Error(), reason)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// handleStatus reports live circuit states and provider health snapshots.
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	circuits := h.guards.Status(ctx)

	providerHealth := make(map[string]domain.ProviderHealth)
	for _, p := range h.engine.Providers() {
		for _, model := range p.Models {
			if snapshot, ok := h.tracker.GetHealth(ctx, p.ID, model); ok {
				providerHealth[p.ID+"/"+model] = snapshot
			}
		}
	}

	resp := map[string]interface{}{
		"version":          version,
		"circuit_breakers": circuits,
		"provider_health":  providerHealth,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) handleLive(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrRateLimitExceeded),
		errors.Is(err, domain.ErrTokenBudgetExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrMaxTokensExceeded):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNoEligibleProvider),
		errors.Is(err, domain.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrProviderInvocationFailed):
		return http.StatusBadGateway
	default:
		return http.StatusForbidden
	}
}

func writeError(w http.ResponseWriter, status int, message, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"code":    status,
		},
	}
	if reason != "" {
		body["error"].(map[string]interface{})["reason"] = reason
	}
	json.NewEncoder(w).Encode(body)
}
