// Package notifications delivers anomaly alerts to external sinks. The SNS
// notifier publishes to a topic for paging/metrics systems; the in-memory
// notifier backs tests.
package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/gatewaykit/inference-gateway/internal/domain"
)

type Notifier interface {
	Send(ctx context.Context, alert domain.Alert) error
}

type SNSNotifier struct {
	client   *sns.Client
	topicArn string
	timeout  time.Duration
}

func NewSNSNotifier(ctx context.Context, region, topicArn string) (*SNSNotifier, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &SNSNotifier{
		client:   sns.NewFromConfig(cfg),
		topicArn: topicArn,
		timeout:  10 * time.Second,
	}, nil
}

func NewSNSNotifierWithConfig(cfg aws.Config, topicArn string) *SNSNotifier {
	return &SNSNotifier{
		client:   sns.NewFromConfig(cfg),
		topicArn: topicArn,
		timeout:  10 * time.Second,
	}
}

func (n *SNSNotifier) Send(ctx context.Context, alert domain.Alert) error {
	message, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(n.topicArn),
		Message:  aws.String(string(message)),
		MessageAttributes: map[string]snstypes.MessageAttributeValue{
			"Type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(alert.Type)),
			},
			"Severity": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(alert.Severity)),
			},
		},
	}

	if _, err := n.client.Publish(ctx, input); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}

	slog.Info("alert published",
		"alert_id", alert.ID,
		"type", alert.Type,
		"severity", alert.Severity,
	)

	return nil
}

// Handler adapts the notifier to the anomaly detector's handler signature.
// Delivery failures are logged; the detector isolates handlers anyway.
func (n *SNSNotifier) Handler(alert domain.Alert) {
	ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
	defer cancel()

	if err := n.Send(ctx, alert); err != nil {
		slog.Error("failed to publish alert", "alert_id", alert.ID, "error", err)
	}
}

type InMemoryNotifier struct {
	mu     sync.Mutex
	alerts []domain.Alert
}

func NewInMemoryNotifier() *InMemoryNotifier {
	return &InMemoryNotifier{
		alerts: make([]domain.Alert, 0),
	}
}

func (n *InMemoryNotifier) Send(ctx context.Context, alert domain.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
	return nil
}

func (n *InMemoryNotifier) Handler(alert domain.Alert) {
	n.Send(context.Background(), alert)
}

func (n *InMemoryNotifier) Alerts() []domain.Alert {
	n.mu.Lock()
	defer n.mu.Unlock()
	result := make([]domain.Alert, len(n.alerts))
	copy(result, n.alerts)
	return result
}

func (n *InMemoryNotifier) Clear() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = n.alerts[:0]
}
