package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr            string
	LogLevel        string
	RedisURL        string
	DatabaseURL     string
	OTLPEndpoint    string
	AWSRegion       string
	SNSTopicARN     string
	OutcomeQueueURL string

	OpenAIAPIKey    string
	OpenAIBaseURL   string
	AnthropicAPIKey string
	SecretsPrefix   string

	// Autoscaling / fallback
	RequestsPerMinute  int
	SpikeThreshold     int
	SpikeWindowSeconds int
	CooldownMinutes    int
	FallbackModel      string

	// Admission
	DefaultTokenBudget int64
	BudgetWindowHours  int
	MaxTokensCeiling   int
	RiskDenyThreshold  float64

	// Circuit breaker / bulkhead
	CBFailureThreshold    int
	CBSuccessThreshold    int
	CBRecoveryTimeout     time.Duration
	BulkheadMaxConcurrent int

	// Health tracking
	HealthMinSuccessRate  float64
	HealthMaxAvgLatencyMs float64
	HealthMinSamples      int
	HealthMaxSamples      int

	ProviderTimeout time.Duration
	ShutdownTimeout time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		Addr:            getEnv("ADDR", ":8080"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		RedisURL:        getEnv("REDIS_URL", ""),
		DatabaseURL:     getEnv("DATABASE_URL", ""),
		OTLPEndpoint:    getEnv("OTLP_ENDPOINT", ""),
		AWSRegion:       getEnv("AWS_REGION", ""),
		SNSTopicARN:     getEnv("SNS_TOPIC_ARN", ""),
		OutcomeQueueURL: getEnv("OUTCOME_QUEUE_URL", ""),

		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:   getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		SecretsPrefix:   getEnv("SECRETS_PREFIX", ""),

		RequestsPerMinute:  getIntEnv("REQUESTS_PER_MINUTE", 60),
		SpikeThreshold:     getIntEnv("SPIKE_THRESHOLD", 30),
		SpikeWindowSeconds: getIntEnv("SPIKE_WINDOW_SECONDS", 10),
		CooldownMinutes:    getIntEnv("COOLDOWN_MINUTES", 5),
		FallbackModel:      getEnv("FALLBACK_MODEL", "gpt-4o-mini"),

		DefaultTokenBudget: int64(getIntEnv("DEFAULT_TOKEN_BUDGET", 100000)),
		BudgetWindowHours:  getIntEnv("BUDGET_WINDOW_HOURS", 24),
		MaxTokensCeiling:   getIntEnv("MAX_TOKENS_CEILING", 8000),
		RiskDenyThreshold:  getFloatEnv("RISK_DENY_THRESHOLD", 0.7),

		CBFailureThreshold:    getIntEnv("CB_FAILURE_THRESHOLD", 5),
		CBSuccessThreshold:    getIntEnv("CB_SUCCESS_THRESHOLD", 1),
		CBRecoveryTimeout:     getDurationEnv("CB_RECOVERY_TIMEOUT_SECONDS", 30*time.Second),
		BulkheadMaxConcurrent: getIntEnv("BULKHEAD_MAX_CONCURRENT", 10),

		HealthMinSuccessRate:  getFloatEnv("HEALTH_MIN_SUCCESS_RATE", 0.95),
		HealthMaxAvgLatencyMs: getFloatEnv("HEALTH_MAX_AVG_LATENCY_MS", 3000),
		HealthMinSamples:      getIntEnv("HEALTH_MIN_SAMPLES", 5),
		HealthMaxSamples:      getIntEnv("HEALTH_MAX_SAMPLES", 1000),

		ProviderTimeout: getDurationEnv("PROVIDER_TIMEOUT_SECONDS", 120*time.Second),
		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.Atoi(value); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultValue
}
