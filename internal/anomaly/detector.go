// Package anomaly flags statistical usage spikes, budget exhaustion,
// elevated error rates, and repetitive-intent abuse from completed-request
// outcomes. Alerts fan out to an ordered list of registered handlers; a
// failing handler is isolated and never blocks the rest.
package anomaly

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gatewaykit/inference-gateway/internal/domain"
)

// Handler receives every alert the detector emits.
type Handler func(alert domain.Alert)

// Observation is one completed request as seen by the detector.
type Observation struct {
	Caller  domain.CallerIdentity
	Intent  domain.Intent
	Tokens  int
	Success bool
	// BudgetUsagePct is the caller's budget consumption in percent after
	// this request, as reported by the budget tracker.
	BudgetUsagePct float64
	Timestamp      time.Time
}

// Config holds the detection thresholds.
type Config struct {
	// Token spike: current > mean + SpikeStdevs*stdev over the last
	// SpikeMinSamples+ token counts (population excludes the current one).
	SpikeStdevs     float64
	SpikeMinSamples int
	TokenHistory    int

	// Budget exhaustion severities, in percent.
	BudgetHighPct     float64
	BudgetCriticalPct float64

	// Error rate over ErrorWindow with at least ErrorMinRequests requests.
	ErrorWindow       time.Duration
	ErrorMinRequests  int
	ErrorHighRate     float64
	ErrorCriticalRate float64

	// Repetitive intent: one intent above PatternShare of the last
	// PatternHistory requests.
	PatternHistory int
	PatternShare   float64
}

func DefaultConfig() Config {
	return Config{
		SpikeStdevs:       3,
		SpikeMinSamples:   5,
		TokenHistory:      100,
		BudgetHighPct:     90,
		BudgetCriticalPct: 95,
		ErrorWindow:       10 * time.Minute,
		ErrorMinRequests:  10,
		ErrorHighRate:     0.5,
		ErrorCriticalRate: 0.8,
		PatternHistory:    20,
		PatternShare:      0.8,
	}
}

type outcome struct {
	success   bool
	timestamp time.Time
}

// Detector reduces observations into alerts. Its windows are short-lived
// local caches over the authoritative counters held in the shared store.
type Detector struct {
	mu       sync.Mutex
	config   Config
	handlers []Handler

	tokenHistory  map[domain.CallerIdentity][]float64
	intentHistory map[domain.CallerIdentity][]domain.Intent
	outcomes      map[domain.CallerIdentity][]outcome
}

func NewDetector(cfg Config) *Detector {
	return &Detector{
		config:        cfg,
		tokenHistory:  make(map[domain.CallerIdentity][]float64),
		intentHistory: make(map[domain.CallerIdentity][]domain.Intent),
		outcomes:      make(map[domain.CallerIdentity][]outcome),
	}
}

// OnAlert registers a handler. Handlers run in registration order.
func (d *Detector) OnAlert(handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, handler)
}

// Observe folds one outcome into the windows and dispatches any alerts it
// triggers. The emitted alerts are also returned for callers that record
// them elsewhere.
func (d *Detector) Observe(ctx context.Context, obs Observation) []domain.Alert {
	if obs.Timestamp.IsZero() {
		obs.Timestamp = time.Now()
	}

	d.mu.Lock()
	var alerts []domain.Alert

	if a := d.checkTokenSpike(obs); a != nil {
		alerts = append(alerts, *a)
	}
	if a := d.checkBudget(obs); a != nil {
		alerts = append(alerts, *a)
	}
	if a := d.checkErrorRate(obs); a != nil {
		alerts = append(alerts, *a)
	}
	if a := d.checkPattern(obs); a != nil {
		alerts = append(alerts, *a)
	}

	handlers := make([]Handler, len(d.handlers))
	copy(handlers, d.handlers)
	d.mu.Unlock()

	for _, alert := range alerts {
		dispatch(handlers, alert)
	}
	return alerts
}

// dispatch isolates each handler: a panic is logged and the remaining
// handlers still run.
func dispatch(handlers []Handler, alert domain.Alert) {
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("alert handler panicked",
						"alert_id", alert.ID, "alert_type", alert.Type, "panic", r)
				}
			}()
			h(alert)
		}()
	}
}

func (d *Detector) checkTokenSpike(obs Observation) *domain.Alert {
	history := d.tokenHistory[obs.Caller]
	defer func() {
		history = append(history, float64(obs.Tokens))
		if len(history) > d.config.TokenHistory {
			history = history[len(history)-d.config.TokenHistory:]
		}
		d.tokenHistory[obs.Caller] = history
	}()

	if len(history) < d.config.SpikeMinSamples {
		return nil
	}

	mean, stdev := meanStdev(history)
	threshold := mean + d.config.SpikeStdevs*stdev
	if float64(obs.Tokens) <= threshold {
		return nil
	}

	return newAlert(domain.AlertTokenSpike, domain.SeverityHigh,
		fmt.Sprintf("token usage spike for %s: %d tokens vs mean %.0f", obs.Caller, obs.Tokens, mean),
		map[string]string{
			"caller":    string(obs.Caller),
			"tokens":    fmt.Sprintf("%d", obs.Tokens),
			"mean":      fmt.Sprintf("%.1f", mean),
			"stdev":     fmt.Sprintf("%.1f", stdev),
			"threshold": fmt.Sprintf("%.1f", threshold),
		}, obs.Timestamp)
}

func (d *Detector) checkBudget(obs Observation) *domain.Alert {
	var severity domain.AlertSeverity
	switch {
	case obs.BudgetUsagePct > d.config.BudgetCriticalPct:
		severity = domain.SeverityCritical
	case obs.BudgetUsagePct > d.config.BudgetHighPct:
		severity = domain.SeverityHigh
	default:
		return nil
	}

	return newAlert(domain.AlertBudgetExhaustion, severity,
		fmt.Sprintf("caller %s at %.1f%% of token budget", obs.Caller, obs.BudgetUsagePct),
		map[string]string{
			"caller":           string(obs.Caller),
			"usage_percentage": fmt.Sprintf("%.1f", obs.BudgetUsagePct),
		}, obs.Timestamp)
}

func (d *Detector) checkErrorRate(obs Observation) *domain.Alert {
	cutoff := obs.Timestamp.Add(-d.config.ErrorWindow)

	window := d.outcomes[obs.Caller][:0]
	for _, o := range d.outcomes[obs.Caller] {
		if o.timestamp.After(cutoff) {
			window = append(window, o)
		}
	}
	window = append(window, outcome{success: obs.Success, timestamp: obs.Timestamp})
	d.outcomes[obs.Caller] = window

	if len(window) < d.config.ErrorMinRequests {
		return nil
	}

	errors := 0
	for _, o := range window {
		if !o.success {
			errors++
		}
	}
	rate := float64(errors) / float64(len(window))

	var severity domain.AlertSeverity
	switch {
	case rate >= d.config.ErrorCriticalRate:
		severity = domain.SeverityCritical
	case rate >= d.config.ErrorHighRate:
		severity = domain.SeverityHigh
	default:
		return nil
	}

	return newAlert(domain.AlertHighErrorRate, severity,
		fmt.Sprintf("error rate %.0f%% for %s over last %s", rate*100, obs.Caller, d.config.ErrorWindow),
		map[string]string{
			"caller":     string(obs.Caller),
			"error_rate": fmt.Sprintf("%.2f", rate),
			"requests":   fmt.Sprintf("%d", len(window)),
		}, obs.Timestamp)
}

func (d *Detector) checkPattern(obs Observation) *domain.Alert {
	history := append(d.intentHistory[obs.Caller], obs.Intent)
	if len(history) > d.config.PatternHistory {
		history = history[len(history)-d.config.PatternHistory:]
	}
	d.intentHistory[obs.Caller] = history

	if len(history) < d.config.PatternHistory {
		return nil
	}

	counts := make(map[domain.Intent]int)
	for _, it := range history {
		counts[it]++
	}
	for it, count := range counts {
		share := float64(count) / float64(len(history))
		if share > d.config.PatternShare {
			return newAlert(domain.AlertUnusualPattern, domain.SeverityMedium,
				fmt.Sprintf("caller %s repeated intent %s in %.0f%% of last %d requests", obs.Caller, it, share*100, len(history)),
				map[string]string{
					"caller": string(obs.Caller),
					"intent": string(it),
					"share":  fmt.Sprintf("%.2f", share),
				}, obs.Timestamp)
		}
	}
	return nil
}

func newAlert(t domain.AlertType, severity domain.AlertSeverity, message string, details map[string]string, ts time.Time) *domain.Alert {
	return &domain.Alert{
		ID:        uuid.NewString(),
		Type:      t,
		Severity:  severity,
		Message:   message,
		Details:   details,
		Timestamp: ts,
	}
}

// meanStdev computes population mean and standard deviation.
func meanStdev(values []float64) (float64, float64) {
	if len(values) == 0 {
		return 0, 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var variance float64
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))

	return mean, math.Sqrt(variance)
}

// LogHandler is the reference alert sink.
func LogHandler(alert domain.Alert) {
	slog.Warn("anomaly alert",
		"id", alert.ID,
		"type", alert.Type,
		"severity", alert.Severity,
		"message", alert.Message,
	)
}
