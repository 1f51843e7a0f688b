package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/ticketchief/backend/pkg/broker"
	"github.com/ticketchief/backend/pkg/events"
	"github.com/ticketchief/backend/services/common/database"
	"github.com/ticketchief/backend/services/order-service/services"
	"go.uber.org/zap"
)

// Lock backends.
const (
	LockMemory   = "memory"
	LockRedis    = "redis"
	LockDynamoDB = "dynamodb"
)

// Invoice stores.
const (
	InvoiceFile = "file"
	InvoiceS3   = "s3"
)

type LockConfig struct {
	Backend       string
	RedisAddr     string
	RedisPassword string
	DynamoTable   string
	TTL           time.Duration
}

type InvoiceConfig struct {
	Store         string
	Dir           string
	BaseURL       string
	Bucket        string
	Prefix        string
	PublicBaseURL string
}

type Config struct {
	Port            string
	Env             string
	Database        database.Config
	Broker          broker.Config
	Queues          []string
	TaxRate         decimal.Decimal
	Lock            LockConfig
	Invoice         InvoiceConfig
	EventTicketBase string
	// ReleaseRelay makes this service call the event-ticket service for
	// reservation.release events instead of leaving them to another consumer.
	ReleaseRelay    bool
	OutboxInterval  time.Duration
	OutboxBatchSize int
}

func LoadConfig(ctx context.Context, logger *zap.Logger) (*Config, error) {
	dbCfg, err := database.ConfigFromEnv(ctx, logger)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:            getEnv("PORT", "8086"),
		Env:             getEnv("APP_ENV", "development"),
		Database:        dbCfg,
		EventTicketBase: getEnv("EVENT_TICKET_BASE", "http://event-ticket-service:8000"),
		ReleaseRelay:    getEnv("RESERVATION_RELAY_ENABLED", "false") == "true",
		Lock: LockConfig{
			Backend:       strings.ToLower(getEnv("LOCK_BACKEND", LockMemory)),
			RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
			RedisPassword: os.Getenv("REDIS_PASSWORD"),
			DynamoTable:   getEnv("DYNAMODB_LOCK_TABLE", "order_locks"),
		},
		Invoice: InvoiceConfig{
			Store:         strings.ToLower(getEnv("INVOICE_STORE", InvoiceFile)),
			Dir:           getEnv("INVOICE_DIR", "./invoices"),
			BaseURL:       getEnv("INVOICE_BASE_URL", "http://localhost:8086/invoices"),
			Bucket:        os.Getenv("INVOICE_S3_BUCKET"),
			Prefix:        getEnv("INVOICE_S3_PREFIX", "invoices"),
			PublicBaseURL: os.Getenv("INVOICE_PUBLIC_BASE_URL"),
		},
	}

	cfg.Queues = []string{events.RoutingPaymentProcessed, events.RoutingTicketCreated}
	if cfg.ReleaseRelay {
		cfg.Queues = append(cfg.Queues, events.RoutingReservationRelease)
	}
	cfg.Broker = broker.ConfigFromEnv("order-service", cfg.Queues...)

	if cfg.TaxRate, err = services.ParseTaxRate(getEnv("TAX_RATE", services.DefaultTaxRate.String())); err != nil {
		return nil, err
	}
	if cfg.Lock.TTL, err = getDuration("LOCK_TTL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.OutboxInterval, err = getDuration("OUTBOX_INTERVAL", time.Second); err != nil {
		return nil, err
	}
	if cfg.OutboxBatchSize, err = getInt("OUTBOX_BATCH_SIZE", 50); err != nil {
		return nil, err
	}

	switch cfg.Lock.Backend {
	case LockMemory, LockRedis, LockDynamoDB:
	default:
		return nil, fmt.Errorf("LOCK_BACKEND must be memory, redis or dynamodb, got %q", cfg.Lock.Backend)
	}
	switch cfg.Invoice.Store {
	case InvoiceFile:
	case InvoiceS3:
		if cfg.Invoice.Bucket == "" {
			return nil, fmt.Errorf("INVOICE_S3_BUCKET is required when INVOICE_STORE=s3")
		}
	default:
		return nil, fmt.Errorf("INVOICE_STORE must be file or s3, got %q", cfg.Invoice.Store)
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

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("%s must be a duration such as 30s, got %q", key, val)
	}
	return d, nil
}
