// Package health records per-provider/per-model latency and outcome samples
// and derives rolling health verdicts, percentiles, and SLA compliance.
// Samples live in a bounded window (count- and time-bounded); health is a
// derived snapshot recomputed from samples, never hand-edited. Supports
// both in-memory (single instance) and Redis (distributed) backends.
package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gatewaykit/inference-gateway/internal/domain"
)

// Tracker aggregates provider call outcomes.
type Tracker interface {
	// RecordMetric appends a sample and recomputes the health snapshot
	// once enough recent samples exist.
	RecordMetric(ctx context.Context, sample domain.LatencySample) error

	// GetHealth returns the current derived snapshot, or false when no
	// snapshot has been computed yet.
	GetHealth(ctx context.Context, provider, model string) (domain.ProviderHealth, bool)

	// GetPercentiles computes latency percentiles over successful samples
	// within the window.
	GetPercentiles(ctx context.Context, provider, model string, window time.Duration) (Percentiles, error)

	// CheckSLA reports whether p95 latency and success rate over the window
	// meet the target. With no data, Compliant and DataAvailable are both
	// false; a provider is never reported compliant without samples.
	CheckSLA(ctx context.Context, provider, model string, targetLatencyMs float64, minSuccessRate float64) (SLAReport, error)
}

// Percentiles are computed over successful samples only.
type Percentiles struct {
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// SLAReport carries the compliance verdict plus its supporting metrics.
type SLAReport struct {
	Compliant     bool    `json:"compliant"`
	DataAvailable bool    `json:"data_available"`
	P95LatencyMs  float64 `json:"p95_latency_ms"`
	SuccessRate   float64 `json:"success_rate"`
	SampleCount   int     `json:"sample_count"`
}

// Thresholds define when a provider/model counts as healthy. All three
// conditions are conjunctive.
type Thresholds struct {
	MinSuccessRate  float64
	MaxAvgLatencyMs float64
	MinSamples      int

	// Window bounds
	MaxSamples   int
	SampleWindow time.Duration
	// RecomputeWindow is the recency window used to decide whether enough
	// fresh samples exist to (re)compute a snapshot.
	RecomputeWindow time.Duration
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		MinSuccessRate:  0.95,
		MaxAvgLatencyMs: 3000,
		MinSamples:      5,
		MaxSamples:      1000,
		SampleWindow:    24 * time.Hour,
		RecomputeWindow: time.Hour,
	}
}

// InMemoryTracker keeps samples in process-local ring buffers.
type InMemoryTracker struct {
	mu         sync.RWMutex
	thresholds Thresholds
	samples    map[string][]domain.LatencySample
	snapshots  map[string]domain.ProviderHealth
}

func NewInMemoryTracker(thresholds Thresholds) *InMemoryTracker {
	return &InMemoryTracker{
		thresholds: thresholds,
		samples:    make(map[string][]domain.LatencySample),
		snapshots:  make(map[string]domain.ProviderHealth),
	}
}

func sampleKey(provider, model string) string {
	return provider + ":" + model
}

func (t *InMemoryTracker) RecordMetric(ctx context.Context, sample domain.LatencySample) error {
	key := sampleKey(sample.Provider, sample.Model)

	t.mu.Lock()
	defer t.mu.Unlock()

	window := append(t.samples[key], sample)
	window = trimWindow(window, t.thresholds.MaxSamples, time.Now().Add(-t.thresholds.SampleWindow))
	t.samples[key] = window

	recentCutoff := time.Now().Add(-t.thresholds.RecomputeWindow)
	recent := 0
	for _, s := range window {
		if s.Timestamp.After(recentCutoff) {
			recent++
		}
	}
	if recent >= t.thresholds.MinSamples {
		t.snapshots[key] = computeHealth(sample.Provider, sample.Model, window, t.thresholds)
	}

	return nil
}

func (t *InMemoryTracker) GetHealth(ctx context.Context, provider, model string) (domain.ProviderHealth, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snapshot, ok := t.snapshots[sampleKey(provider, model)]
	return snapshot, ok
}

func (t *InMemoryTracker) GetPercentiles(ctx context.Context, provider, model string, window time.Duration) (Percentiles, error) {
	t.mu.RLock()
	samples := t.samples[sampleKey(provider, model)]
	copied := make([]domain.LatencySample, len(samples))
	copy(copied, samples)
	t.mu.RUnlock()

	return computePercentiles(copied, time.Now().Add(-window)), nil
}

func (t *InMemoryTracker) CheckSLA(ctx context.Context, provider, model string, targetLatencyMs float64, minSuccessRate float64) (SLAReport, error) {
	t.mu.RLock()
	samples := t.samples[sampleKey(provider, model)]
	copied := make([]domain.LatencySample, len(samples))
	copy(copied, samples)
	t.mu.RUnlock()

	return checkSLA(copied, targetLatencyMs, minSuccessRate), nil
}

func trimWindow(samples []domain.LatencySample, maxSamples int, cutoff time.Time) []domain.LatencySample {
	start := 0
	for start < len(samples) && samples[start].Timestamp.Before(cutoff) {
		start++
	}
	samples = samples[start:]

	if len(samples) > maxSamples {
		samples = samples[len(samples)-maxSamples:]
	}
	return samples
}

// computeHealth derives a snapshot from the full window. The result is
// deterministic and reproducible from the samples alone.
func computeHealth(provider, model string, samples []domain.LatencySample, thresholds Thresholds) domain.ProviderHealth {
	h := domain.ProviderHealth{
		Provider:    provider,
		Model:       model,
		SampleCount: len(samples),
		ComputedAt:  time.Now(),
	}
	if len(samples) == 0 {
		return h
	}

	var totalLatency int64
	var totalTokens int
	successes := 0
	var first, last time.Time
	for i, s := range samples {
		totalLatency += s.LatencyMs
		totalTokens += s.Tokens
		if s.Success {
			successes++
		}
		if i == 0 || s.Timestamp.Before(first) {
			first = s.Timestamp
		}
		if s.Timestamp.After(last) {
			last = s.Timestamp
		}
	}

	h.AvgLatencyMs = float64(totalLatency) / float64(len(samples))
	h.SuccessRate = float64(successes) / float64(len(samples))
	if span := last.Sub(first).Seconds(); span > 0 {
		h.Throughput = float64(totalTokens) / span
	}
	h.IsHealthy = h.SuccessRate >= thresholds.MinSuccessRate &&
		h.AvgLatencyMs <= thresholds.MaxAvgLatencyMs &&
		h.SampleCount >= thresholds.MinSamples
	return h
}

func computePercentiles(samples []domain.LatencySample, cutoff time.Time) Percentiles {
	latencies := make([]float64, 0, len(samples))
	for _, s := range samples {
		if s.Success && s.Timestamp.After(cutoff) {
			latencies = append(latencies, float64(s.LatencyMs))
		}
	}
	if len(latencies) == 0 {
		return Percentiles{}
	}

	sort.Float64s(latencies)
	return Percentiles{
		P50:   percentile(latencies, 0.50),
		P95:   percentile(latencies, 0.95),
		P99:   percentile(latencies, 0.99),
		Count: len(latencies),
	}
}

// percentile uses nearest-rank on a sorted slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func checkSLA(samples []domain.LatencySample, targetLatencyMs, minSuccessRate float64) SLAReport {
	if len(samples) == 0 {
		return SLAReport{Compliant: false, DataAvailable: false}
	}

	successes := 0
	for _, s := range samples {
		if s.Success {
			successes++
		}
	}
	successRate := float64(successes) / float64(len(samples))
	pct := computePercentiles(samples, time.Time{})

	return SLAReport{
		Compliant:     pct.P95 <= targetLatencyMs && successRate >= minSuccessRate,
		DataAvailable: true,
		P95LatencyMs:  pct.P95,
		SuccessRate:   successRate,
		SampleCount:   len(samples),
	}
}
