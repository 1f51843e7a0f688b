package logger

import (
	"context"
	"fmt"
	"io"
	"os"

	aws_pkg "github.com/ticketchief/backend/pkg/aws"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the process-wide logger. It is a no-op until Initialize is called.
var Log = zap.NewNop()

// Initialize sets up the logger with the specified environment
func Initialize(env string) *zap.Logger {
	return InitializeWithWriter(env, nil)
}

// InitializeWithWriter sets up the logger with the specified environment and
// an optional CloudWatch writer tee'd next to stdout.
func InitializeWithWriter(env string, cloudWatchWriter io.Writer) *zap.Logger {
	var config zap.Config

	if env == "production" {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if cloudWatchWriter != nil {
		level := zap.NewAtomicLevelAt(config.Level.Level())
		consoleCore := zapcore.NewCore(zapcore.NewConsoleEncoder(config.EncoderConfig), zapcore.Lock(os.Stdout), level)

		// CloudWatch always receives JSON without terminal colours.
		cwEncoderConfig := config.EncoderConfig
		cwEncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		cwCore := zapcore.NewCore(zapcore.NewJSONEncoder(cwEncoderConfig), zapcore.Lock(zapcore.AddSync(cloudWatchWriter)), level)

		Log = zap.New(zapcore.NewTee(consoleCore, cwCore), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
		return Log
	}

	built, err := config.Build()
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	Log = built
	return Log
}

// InitializeForService builds the service logger, shipping to CloudWatch Logs
// when CLOUDWATCH_ENABLED=true. Sync on the returned logger drains the shipper.
func InitializeForService(ctx context.Context, env, service string) *zap.Logger {
	if os.Getenv("CLOUDWATCH_ENABLED") != "true" {
		return Initialize(env).With(zap.String("service", service))
	}

	shipper, err := aws_pkg.NewLogShipper(ctx, service)
	if err != nil {
		l := Initialize(env)
		l.Warn("CloudWatch logs unavailable, logging to stdout only", zap.Error(err))
		return l.With(zap.String("service", service))
	}
	return InitializeWithWriter(env, shipper).With(zap.String("service", service))
}
