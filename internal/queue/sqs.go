// Package queue exports per-request outcome records for downstream
// analytics. Records are best-effort: a publish failure never fails the
// request that produced it.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/gatewaykit/inference-gateway/internal/domain"
)

// OutcomeRecord captures the full lifecycle of one request: admission
// verdict, routing decision, provider result, and final fallback level.
type OutcomeRecord struct {
	RequestID       string               `json:"request_id"`
	Caller          string               `json:"caller"`
	Intent          domain.Intent        `json:"intent"`
	Provider        string               `json:"provider,omitempty"`
	Model           string               `json:"model,omitempty"`
	FallbackLevel   domain.FallbackLevel `json:"fallback_level"`
	Allowed         bool                 `json:"allowed"`
	DenyReason      string               `json:"deny_reason,omitempty"`
	EstimatedTokens int64                `json:"estimated_tokens"`
	ActualTokens    int64                `json:"actual_tokens"`
	RiskScore       float64              `json:"risk_score"`
	Recommendations []string             `json:"recommendations,omitempty"`
	RoutingScore    float64              `json:"routing_score"`
	LatencyMs       int64                `json:"latency_ms"`
	Success         bool                 `json:"success"`
	Error           string               `json:"error,omitempty"`
	CreatedAt       time.Time            `json:"created_at"`
}

type Exporter interface {
	Export(ctx context.Context, rec OutcomeRecord) error
}

type SQSExporter struct {
	client   *sqs.Client
	queueURL string
}

func NewSQSExporter(ctx context.Context, region, queueURL string) (*SQSExporter, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &SQSExporter{
		client:   sqs.NewFromConfig(cfg),
		queueURL: queueURL,
	}, nil
}

func NewSQSExporterWithConfig(cfg aws.Config, queueURL string) *SQSExporter {
	return &SQSExporter{
		client:   sqs.NewFromConfig(cfg),
		queueURL: queueURL,
	}
}

func (e *SQSExporter) Export(ctx context.Context, rec OutcomeRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(e.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"Caller": {
				DataType:    aws.String("String"),
				StringValue: aws.String(rec.Caller),
			},
			"RequestID": {
				DataType:    aws.String("String"),
				StringValue: aws.String(rec.RequestID),
			},
		},
	}

	if _, err := e.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("send outcome: %w", err)
	}

	return nil
}

// ExportAsync publishes in a goroutine so the request path never blocks
// on SQS. Failures are logged and dropped.
func ExportAsync(exporter Exporter, rec OutcomeRecord) {
	if exporter == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := exporter.Export(ctx, rec); err != nil {
			slog.Warn("failed to export outcome", "request_id", rec.RequestID, "error", err)
		}
	}()
}

type InMemoryExporter struct {
	mu      sync.Mutex
	records []OutcomeRecord
}

func NewInMemoryExporter() *InMemoryExporter {
	return &InMemoryExporter{
		records: make([]OutcomeRecord, 0),
	}
}

func (e *InMemoryExporter) Export(ctx context.Context, rec OutcomeRecord) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.records = append(e.records, rec)
	return nil
}

func (e *InMemoryExporter) Records() []OutcomeRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	result := make([]OutcomeRecord, len(e.records))
	copy(result, e.records)
	return result
}
