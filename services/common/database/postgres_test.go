package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestConfigFromEnv_Defaults(t *testing.T) {
	t.Setenv("POSTGRES_USER", "saga")
	t.Setenv("POSTGRES_PASSWORD", "secret")
	t.Setenv("POSTGRES_DB", "orders")
	t.Setenv("POSTGRES_HOST", "")
	t.Setenv("POSTGRES_PORT", "")
	t.Setenv("AWS_USE_SECRETS", "")

	cfg, err := ConfigFromEnv(context.Background(), zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, "5432", cfg.Port)
	assert.Equal(t,
		"host=localhost user=saga password=secret dbname=orders port=5432 sslmode=disable TimeZone=UTC",
		cfg.DSN())
}

func TestConfigFromEnv_MissingCredentials(t *testing.T) {
	t.Setenv("POSTGRES_USER", "saga")
	t.Setenv("POSTGRES_PASSWORD", "")
	t.Setenv("POSTGRES_DB", "orders")
	t.Setenv("AWS_USE_SECRETS", "")

	_, err := ConfigFromEnv(context.Background(), zap.NewNop())
	assert.EqualError(t, err, "POSTGRES_PASSWORD not set")
}

func TestConfigFromEnv_SecretsRequireName(t *testing.T) {
	t.Setenv("AWS_USE_SECRETS", "true")
	t.Setenv("DB_SECRET_NAME", "")

	_, err := ConfigFromEnv(context.Background(), zap.NewNop())
	assert.ErrorContains(t, err, "DB_SECRET_NAME")
}

func TestClose_NilIsNoop(t *testing.T) {
	assert.NoError(t, Close(nil))
}
