package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/ticketchief/backend/services/common/database"
	"github.com/ticketchief/backend/services/common/logger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Version = "dev"

// app holds what the commands need; tests swap openDB for a mock.
type app struct {
	logger *zap.Logger
	openDB func(ctx context.Context, models ...interface{}) (*gorm.DB, error)
}

func newApp(zl *zap.Logger) *app {
	return &app{
		logger: zl,
		openDB: func(ctx context.Context, models ...interface{}) (*gorm.DB, error) {
			cfg, err := database.ConfigFromEnv(ctx, zl)
			if err != nil {
				return nil, err
			}
			cfg.Retries = 1
			return database.ConnectPostgres(ctx, zl, cfg, models...)
		},
	}
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "sagactl",
		Short:         "sagactl - operate the ticket purchase saga databases",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(migrateCmd(a))
	rootCmd.AddCommand(outboxCmd(a))
	rootCmd.AddCommand(orderCmd(a))
	rootCmd.AddCommand(sessionCmd(a))
	return rootCmd
}

func main() {
	_ = godotenv.Load()

	zl := logger.Initialize(os.Getenv("APP_ENV"))
	defer zl.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(newApp(zl)).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
