// Package bedrock adapts AWS Bedrock's Anthropic-format InvokeModel API to
// the gateway's Invoke contract.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"github.com/gatewaykit/inference-gateway/internal/domain"
	"github.com/gatewaykit/inference-gateway/internal/provider"
)

const defaultMaxTokens = 4096

type Adapter struct {
	client *bedrockruntime.Client
	region string
}

func New(ctx context.Context, region string) (*Adapter, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &Adapter{
		client: bedrockruntime.NewFromConfig(cfg),
		region: region,
	}, nil
}

func NewWithConfig(cfg aws.Config) *Adapter {
	return &Adapter{
		client: bedrockruntime.NewFromConfig(cfg),
		region: cfg.Region,
	}
}

func (a *Adapter) ID() string {
	return "bedrock"
}

type invokeRequest struct {
	AnthropicVersion string           `json:"anthropic_version,omitempty"`
	MaxTokens        int              `json:"max_tokens"`
	Messages         []domain.Message `json:"messages"`
	System           string           `json:"system,omitempty"`
	Temperature      *float64         `json:"temperature,omitempty"`
}

type invokeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

func (a *Adapter) Invoke(ctx context.Context, model string, messages []domain.Message, params provider.Params) (domain.InvokeResult, error) {
	var systemPrompt string
	filtered := make([]domain.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			systemPrompt = m.Content
			continue
		}
		filtered = append(filtered, m)
	}

	maxTokens := defaultMaxTokens
	if params.MaxTokens != nil {
		maxTokens = *params.MaxTokens
	}

	body, err := json.Marshal(invokeRequest{
		AnthropicVersion: "bedrock-2023-05-31",
		MaxTokens:        maxTokens,
		Messages:         filtered,
		System:           systemPrompt,
		Temperature:      params.Temperature,
	})
	if err != nil {
		return domain.InvokeResult{}, fmt.Errorf("marshal request: %w", err)
	}

	input := &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(mapModelID(model)),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	}

	start := time.Now()
	output, err := a.client.InvokeModel(ctx, input)
	if err != nil {
		return domain.InvokeResult{}, fmt.Errorf("invoke model: %w", err)
	}

	var resp invokeResponse
	if err := json.Unmarshal(output.Body, &resp); err != nil {
		return domain.InvokeResult{}, fmt.Errorf("unmarshal response: %w", err)
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	return domain.InvokeResult{
		Content: content,
		Usage: domain.Usage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
		},
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// mapModelID translates short model names to Bedrock model identifiers;
// unknown names pass through unchanged.
func mapModelID(model string) string {
	modelMap := map[string]string{
		"claude-3-5-sonnet": "anthropic.claude-3-5-sonnet-20241022-v2:0",
		"claude-3-5-haiku":  "anthropic.claude-3-5-haiku-20241022-v1:0",
		"claude-3-opus":     "anthropic.claude-3-opus-20240229-v1:0",
		"claude-3-haiku":    "anthropic.claude-3-haiku-20240307-v1:0",
	}

	if mapped, ok := modelMap[model]; ok {
		return mapped
	}
	return model
}
