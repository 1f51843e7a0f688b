package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ticketchief/backend/pkg/events"
	"go.uber.org/zap"
)

func setDB(t *testing.T) {
	t.Setenv("POSTGRES_USER", "orders")
	t.Setenv("POSTGRES_PASSWORD", "pw")
	t.Setenv("POSTGRES_DB", "orders")
	t.Setenv("AWS_USE_SECRETS", "")
}

func unset(t *testing.T, keys ...string) {
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	setDB(t)
	unset(t, "PORT", "TAX_RATE", "LOCK_BACKEND", "LOCK_TTL", "INVOICE_STORE", "RESERVATION_RELAY_ENABLED", "BROKER")

	cfg, err := LoadConfig(context.Background(), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "8086", cfg.Port)
	assert.Equal(t, "0.14", cfg.TaxRate.String())
	assert.Equal(t, LockMemory, cfg.Lock.Backend)
	assert.Equal(t, 30*time.Second, cfg.Lock.TTL)
	assert.Equal(t, InvoiceFile, cfg.Invoice.Store)
	assert.False(t, cfg.ReleaseRelay)
	assert.Equal(t, []string{events.RoutingPaymentProcessed, events.RoutingTicketCreated}, cfg.Queues)
}

func TestLoadConfig_Overrides(t *testing.T) {
	setDB(t)
	t.Setenv("TAX_RATE", "0.13")
	t.Setenv("LOCK_BACKEND", "Redis")
	t.Setenv("RESERVATION_RELAY_ENABLED", "true")
	t.Setenv("INVOICE_STORE", "s3")
	t.Setenv("INVOICE_S3_BUCKET", "ticketchief-invoices")

	cfg, err := LoadConfig(context.Background(), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "0.13", cfg.TaxRate.String())
	assert.Equal(t, LockRedis, cfg.Lock.Backend)
	assert.Equal(t, InvoiceS3, cfg.Invoice.Store)
	assert.Contains(t, cfg.Queues, events.RoutingReservationRelease)
}

func TestLoadConfig_RejectsBadValues(t *testing.T) {
	cases := map[string]map[string]string{
		"tax rate":      {"TAX_RATE": "fourteen"},
		"negative tax":  {"TAX_RATE": "-0.1"},
		"lock backend":  {"LOCK_BACKEND": "zookeeper"},
		"lock ttl":      {"LOCK_TTL": "soon"},
		"invoice store": {"INVOICE_STORE": "ftp"},
		"s3 no bucket":  {"INVOICE_STORE": "s3", "INVOICE_S3_BUCKET": ""},
		"batch size":    {"OUTBOX_BATCH_SIZE": "0"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			setDB(t)
			unset(t, "TAX_RATE", "LOCK_BACKEND", "LOCK_TTL", "INVOICE_STORE", "OUTBOX_BATCH_SIZE")
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig(context.Background(), zap.NewNop())
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_RequiresDatabase(t *testing.T) {
	setDB(t)
	t.Setenv("POSTGRES_USER", "")
	_, err := LoadConfig(context.Background(), zap.NewNop())
	assert.Error(t, err)
}
