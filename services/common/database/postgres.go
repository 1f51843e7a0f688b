package database

import (
	"context"
	"fmt"
	"os"
	"time"

	aws_pkg "github.com/ticketchief/backend/pkg/aws"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Config holds the PostgreSQL connection settings of one service.
type Config struct {
	User     string
	Password string
	DB       string
	Host     string
	Port     string
	SSLMode  string
	TimeZone string

	MaxOpenConns int
	MaxIdleConns int
	Retries      int
}

// ConfigFromEnv reads POSTGRES_* variables. When AWS_USE_SECRETS=true the
// credentials in the JSON secret named by DB_SECRET_NAME take precedence.
func ConfigFromEnv(ctx context.Context, logger *zap.Logger) (Config, error) {
	cfg := Config{
		User:         os.Getenv("POSTGRES_USER"),
		Password:     os.Getenv("POSTGRES_PASSWORD"),
		DB:           os.Getenv("POSTGRES_DB"),
		Host:         getEnv("POSTGRES_HOST", "localhost"),
		Port:         getEnv("POSTGRES_PORT", "5432"),
		SSLMode:      getEnv("POSTGRES_SSLMODE", "disable"),
		TimeZone:     getEnv("POSTGRES_TIMEZONE", "UTC"),
		MaxOpenConns: 25,
		MaxIdleConns: 5,
		Retries:      10,
	}

	if os.Getenv("AWS_USE_SECRETS") == "true" {
		if err := cfg.applySecret(ctx, os.Getenv("DB_SECRET_NAME")); err != nil {
			return cfg, err
		}
		logger.Info("Database credentials loaded from Secrets Manager")
	}

	if cfg.User == "" {
		return cfg, fmt.Errorf("POSTGRES_USER not set")
	}
	if cfg.Password == "" {
		return cfg, fmt.Errorf("POSTGRES_PASSWORD not set")
	}
	if cfg.DB == "" {
		return cfg, fmt.Errorf("POSTGRES_DB not set")
	}
	return cfg, nil
}

func (c *Config) applySecret(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("AWS_USE_SECRETS is set but DB_SECRET_NAME is empty")
	}
	awsCfg, err := aws_pkg.LoadAWSConfig(ctx)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}
	secret, err := aws_pkg.NewSecretsClient(awsCfg).GetSecretMap(ctx, name)
	if err != nil {
		return err
	}
	// Accepts the POSTGRES_* names as well as the keys of an RDS managed secret.
	override := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := secret[k]; v != "" {
				*dst = v
				return
			}
		}
	}
	override(&c.User, "POSTGRES_USER", "username")
	override(&c.Password, "POSTGRES_PASSWORD", "password")
	override(&c.DB, "POSTGRES_DB", "dbname")
	override(&c.Host, "POSTGRES_HOST", "host")
	override(&c.Port, "POSTGRES_PORT", "port")
	return nil
}

func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		c.Host, c.User, c.Password, c.DB, c.Port, c.SSLMode, c.TimeZone,
	)
}

// ConnectPostgres opens the pool with linear backoff between attempts and
// migrates the given models.
func ConnectPostgres(ctx context.Context, logger *zap.Logger, cfg Config, autoMigrateModels ...interface{}) (*gorm.DB, error) {
	retries := cfg.Retries
	if retries <= 0 {
		retries = 1
	}

	var db *gorm.DB
	var err error
	for i := 0; i < retries; i++ {
		db, err = gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
			Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		})
		if err == nil {
			break
		}
		logger.Warn("DB connection failed, retrying",
			zap.Int("attempt", i+1),
			zap.String("host", cfg.Host),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(i+1) * 2 * time.Second):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL after retries: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	logger.Info("Connected to PostgreSQL successfully", zap.String("db", cfg.DB))

	if len(autoMigrateModels) > 0 {
		if err := db.WithContext(ctx).AutoMigrate(autoMigrateModels...); err != nil {
			return nil, fmt.Errorf("AutoMigrate failed: %w", err)
		}
	}
	return db, nil
}

func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}
	return sqlDB.Close()
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
