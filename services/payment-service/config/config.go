package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/ticketchief/backend/pkg/broker"
	"github.com/ticketchief/backend/pkg/events"
	"github.com/ticketchief/backend/services/common/database"
	"github.com/ticketchief/backend/services/payment-service/services"
	"go.uber.org/zap"
)

type Config struct {
	Port              string
	Env               string
	Database          database.Config
	Broker            broker.Config
	Engine            services.EngineConfig
	AttemptsPerMinute int
	OutboxInterval    time.Duration
	OutboxBatchSize   int
}

func LoadConfig(ctx context.Context, logger *zap.Logger) (*Config, error) {
	dbCfg, err := database.ConfigFromEnv(ctx, logger)
	if err != nil {
		return nil, err
	}

	def := services.DefaultEngineConfig()
	cfg := &Config{
		Port:     getEnv("PORT", "8087"),
		Env:      getEnv("APP_ENV", "development"),
		Database: dbCfg,
		Broker:   broker.ConfigFromEnv("payment-service", events.RoutingPaymentRequested),
		Engine: services.EngineConfig{
			MaxAttempts: def.MaxAttempts,
			DeclineCard: getEnv("PAYMENT_DECLINE_CARD", def.DeclineCard),
		},
	}

	if cfg.Engine.SuccessRate, err = getFloat("PAYMENT_SUCCESS_RATE", def.SuccessRate); err != nil {
		return nil, err
	}
	if cfg.Engine.SuccessRate < 0 || cfg.Engine.SuccessRate > 1 {
		return nil, fmt.Errorf("PAYMENT_SUCCESS_RATE must be within [0, 1], got %v", cfg.Engine.SuccessRate)
	}
	if cfg.Engine.Delay, err = getDuration("PAYMENT_DELAY", def.Delay); err != nil {
		return nil, err
	}
	if cfg.Engine.MaxAttempts, err = getInt("PAYMENT_MAX_ATTEMPTS", def.MaxAttempts); err != nil {
		return nil, err
	}
	if cfg.AttemptsPerMinute, err = getInt("ATTEMPT_RATE_LIMIT_PER_MINUTE", 30); err != nil {
		return nil, err
	}
	if cfg.OutboxInterval, err = getDuration("OUTBOX_INTERVAL", time.Second); err != nil {
		return nil, err
	}
	if cfg.OutboxBatchSize, err = getInt("OUTBOX_BATCH_SIZE", 50); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, val)
	}
	return n, nil
}

func getFloat(key string, fallback float64) (float64, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number, got %q", key, val)
	}
	return f, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration such as 500ms, got %q", key, val)
	}
	return d, nil
}
