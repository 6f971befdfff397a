// Package provider defines the adapter contract between the gateway and
// upstream model providers. The gateway never sees a provider's wire
// format; adapters translate to it and report normalized usage and latency.
package provider

import (
	"context"
	"sync"
	"time"

	"github.com/gatewaykit/inference-gateway/internal/domain"
)

// Params are the request options forwarded to the upstream call.
type Params struct {
	MaxTokens   *int
	Temperature *float64
}

// Invoker is the provider adapter contract. Implementations must honor
// context cancellation: an aborted ctx must abort the upstream call.
type Invoker interface {
	ID() string
	Invoke(ctx context.Context, model string, messages []domain.Message, params Params) (domain.InvokeResult, error)
}

// Static is a canned-response adapter for tests and local development.
type Static struct {
	id      string
	mu      sync.Mutex
	calls   int
	Content string
	Usage   domain.Usage
	Latency time.Duration
	// Err, when set, is returned from every Invoke.
	Err error
}

func NewStatic(id string) *Static {
	return &Static{
		id:      id,
		Content: "ok",
		Usage:   domain.Usage{InputTokens: 10, OutputTokens: 20},
	}
}

func (s *Static) ID() string {
	return s.id
}

func (s *Static) Invoke(ctx context.Context, model string, messages []domain.Message, params Params) (domain.InvokeResult, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if s.Latency > 0 {
		select {
		case <-time.After(s.Latency):
		case <-ctx.Done():
			return domain.InvokeResult{}, ctx.Err()
		}
	}

	if s.Err != nil {
		return domain.InvokeResult{}, s.Err
	}

	return domain.InvokeResult{
		Content:   s.Content,
		Usage:     s.Usage,
		LatencyMs: s.Latency.Milliseconds(),
	}, nil
}

// Calls returns how many times Invoke was called.
func (s *Static) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
