package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/gatewaykit/inference-gateway/internal/admission"
	"github.com/gatewaykit/inference-gateway/internal/anomaly"
	"github.com/gatewaykit/inference-gateway/internal/api"
	"github.com/gatewaykit/inference-gateway/internal/autoscale"
	"github.com/gatewaykit/inference-gateway/internal/budget"
	"github.com/gatewaykit/inference-gateway/internal/circuitbreaker"
	"github.com/gatewaykit/inference-gateway/internal/config"
	"github.com/gatewaykit/inference-gateway/internal/domain"
	"github.com/gatewaykit/inference-gateway/internal/gateway"
	"github.com/gatewaykit/inference-gateway/internal/health"
	"github.com/gatewaykit/inference-gateway/internal/intent"
	"github.com/gatewaykit/inference-gateway/internal/notifications"
	"github.com/gatewaykit/inference-gateway/internal/provider"
	"github.com/gatewaykit/inference-gateway/internal/provider/anthropic"
	"github.com/gatewaykit/inference-gateway/internal/provider/bedrock"
	"github.com/gatewaykit/inference-gateway/internal/provider/openai"
	"github.com/gatewaykit/inference-gateway/internal/queue"
	"github.com/gatewaykit/inference-gateway/internal/repository"
	"github.com/gatewaykit/inference-gateway/internal/routing"
	"github.com/gatewaykit/inference-gateway/internal/secrets"
	"github.com/gatewaykit/inference-gateway/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.LogLevel)

	slog.Info("starting inference gateway", "addr", cfg.Addr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.OTLPEndpoint != "" {
		shutdown, err := telemetry.Init(ctx, "inference-gateway", cfg.OTLPEndpoint)
		if err != nil {
			slog.Warn("failed to init tracing, continuing without", "error", err)
		} else {
			defer shutdown(context.Background())
			slog.Info("tracing enabled", "endpoint", cfg.OTLPEndpoint)
		}
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid redis url", "error", err)
			os.Exit(1)
		}
		redisClient = redis.NewClient(opts)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			slog.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		slog.Info("using redis shared state", "url", cfg.RedisURL)
	} else {
		slog.Info("using in-memory state, single-instance mode")
	}

	loadProviderKeys(ctx, cfg)

	autoscaleCfg := autoscale.Config{
		RequestsPerMinute: cfg.RequestsPerMinute,
		SpikeThreshold:    cfg.SpikeThreshold,
		SpikeWindow:       time.Duration(cfg.SpikeWindowSeconds) * time.Second,
		Cooldown:          time.Duration(cfg.CooldownMinutes) * time.Minute,
	}
	var autoscaler autoscale.Controller
	if redisClient != nil {
		autoscaler = autoscale.NewRedisControllerWithClient(redisClient, autoscaleCfg)
	} else {
		autoscaler = autoscale.NewInMemoryController(autoscaleCfg)
	}

	budgetCfg := budget.Config{
		DefaultLimit: cfg.DefaultTokenBudget,
		Window:       time.Duration(cfg.BudgetWindowHours) * time.Hour,
	}
	var budgets budget.Tracker
	if redisClient != nil {
		budgets = budget.NewRedisTrackerWithClient(redisClient, budgetCfg)
	} else {
		budgets = budget.NewInMemoryTracker(budgetCfg)
	}

	admissionCfg := admission.DefaultConfig()
	admissionCfg.MaxTokensCeiling = cfg.MaxTokensCeiling
	admissionCfg.RiskDenyThreshold = cfg.RiskDenyThreshold
	admitter := admission.NewController(admissionCfg, intent.NewRuleClassifier(), budgets)

	cbCfg := circuitbreaker.Config{
		FailureThreshold: cfg.CBFailureThreshold,
		SuccessThreshold: cfg.CBSuccessThreshold,
		RecoveryTimeout:  cfg.CBRecoveryTimeout,
		MaxConcurrent:    cfg.BulkheadMaxConcurrent,
	}
	var guards *circuitbreaker.Manager
	if redisClient != nil {
		guards = circuitbreaker.NewManager(cbCfg, circuitbreaker.WithRedisClient(redisClient))
	} else {
		guards = circuitbreaker.NewManager(cbCfg)
	}

	thresholds := health.DefaultThresholds()
	thresholds.MinSuccessRate = cfg.HealthMinSuccessRate
	thresholds.MaxAvgLatencyMs = cfg.HealthMaxAvgLatencyMs
	thresholds.MinSamples = cfg.HealthMinSamples
	thresholds.MaxSamples = cfg.HealthMaxSamples
	var tracker health.Tracker
	if redisClient != nil {
		tracker = health.NewRedisTrackerWithClient(redisClient, thresholds)
	} else {
		tracker = health.NewInMemoryTracker(thresholds)
	}

	invokers := make(map[string]provider.Invoker)
	var records []domain.ProviderRecord

	if cfg.OpenAIAPIKey != "" {
		invokers["openai"] = openai.New(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
		records = append(records, domain.ProviderRecord{
			ID:           "openai",
			Capabilities: []string{"chat", "completion"},
			Models:       []string{"gpt-4o", "gpt-4o-mini"},
			Priority:     1,
		})
		slog.Info("registered provider", "provider", "openai")
	}

	if cfg.AnthropicAPIKey != "" {
		invokers["anthropic"] = anthropic.New(cfg.AnthropicAPIKey)
		records = append(records, domain.ProviderRecord{
			ID:           "anthropic",
			Capabilities: []string{"chat", "completion"},
			Models:       []string{"claude-sonnet-4"},
			Priority:     2,
		})
		slog.Info("registered provider", "provider", "anthropic")
	}

	if cfg.AWSRegion != "" {
		bedrockAdapter, err := bedrock.New(ctx, cfg.AWSRegion)
		if err != nil {
			slog.Warn("failed to init bedrock provider", "error", err)
		} else {
			invokers["bedrock"] = bedrockAdapter
			records = append(records, domain.ProviderRecord{
				ID:           "bedrock",
				Capabilities: []string{"chat"},
				Models:       []string{"claude-sonnet-4"},
				Priority:     3,
			})
			slog.Info("registered provider", "provider", "bedrock", "region", cfg.AWSRegion)
		}
	}

	if len(invokers) == 0 {
		slog.Error("no providers configured")
		os.Exit(1)
	}

	routingCfg := routing.DefaultConfig()
	routingCfg.FallbackModel = cfg.FallbackModel
	engine := routing.NewEngine(routingCfg, records, guards, tracker)

	detector := anomaly.NewDetector(anomaly.DefaultConfig())
	detector.OnAlert(anomaly.LogHandler)
	if cfg.SNSTopicARN != "" && cfg.AWSRegion != "" {
		notifier, err := notifications.NewSNSNotifier(ctx, cfg.AWSRegion, cfg.SNSTopicARN)
		if err != nil {
			slog.Warn("failed to init sns notifier", "error", err)
		} else {
			detector.OnAlert(notifier.Handler)
			slog.Info("alert publishing enabled", "topic", cfg.SNSTopicARN)
		}
	}

	var exporter queue.Exporter
	if cfg.OutcomeQueueURL != "" && cfg.AWSRegion != "" {
		sqsExporter, err := queue.NewSQSExporter(ctx, cfg.AWSRegion, cfg.OutcomeQueueURL)
		if err != nil {
			slog.Warn("failed to init outcome exporter", "error", err)
		} else {
			exporter = sqsExporter
			slog.Info("outcome export enabled", "queue", cfg.OutcomeQueueURL)
		}
	}

	var db *sql.DB
	var outcomes repository.OutcomeRepository
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		outcomes = repository.NewPostgresOutcomeRepository(db)
		slog.Info("outcome archive enabled")
	}

	service := gateway.NewService(gateway.Config{
		ProviderTimeout: cfg.ProviderTimeout,
	}, gateway.Deps{
		Autoscaler: autoscaler,
		Admitter:   admitter,
		Engine:     engine,
		Guards:     guards,
		Invokers:   invokers,
		Budgets:    budgets,
		Tracker:    tracker,
		Detector:   detector,
		Exporter:   exporter,
		Outcomes:   outcomes,
	})

	var checkers []api.DependencyChecker
	if redisClient != nil {
		checkers = append(checkers, api.NewRedisChecker(redisClient))
	}
	if db != nil {
		checkers = append(checkers, api.NewPostgresChecker(db))
	}

	handler := api.NewHandler(api.HandlerConfig{
		Service:  service,
		Engine:   engine,
		Guards:   guards,
		Tracker:  tracker,
		Checkers: checkers,
	})

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 180 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("server stopped")
}

// loadProviderKeys fills in provider API keys from Secrets Manager when a
// prefix is configured and the env vars are unset.
func loadProviderKeys(ctx context.Context, cfg *config.Config) {
	if cfg.SecretsPrefix == "" || cfg.AWSRegion == "" {
		return
	}

	store, err := secrets.NewAWSSecretsManager(ctx, cfg.AWSRegion)
	if err != nil {
		slog.Warn("failed to init secrets manager", "error", err)
		return
	}

	creds, err := secrets.LoadProviderCredentials(ctx, store, cfg.SecretsPrefix+"/provider-keys")
	if err != nil {
		slog.Warn("failed to load provider credentials", "error", err)
		return
	}

	if cfg.OpenAIAPIKey == "" {
		cfg.OpenAIAPIKey = creds.OpenAIKey
	}
	if cfg.AnthropicAPIKey == "" {
		cfg.AnthropicAPIKey = creds.AnthropicKey
	}
}

func setupLogger(level string) {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}
