package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	aws_pkg "github.com/ticketchief/backend/pkg/aws"
	"github.com/ticketchief/backend/pkg/broker"
	"github.com/ticketchief/backend/pkg/events"
	"github.com/ticketchief/backend/pkg/outbox"
	"github.com/ticketchief/backend/services/common/database"
	"github.com/ticketchief/backend/services/common/logger"
	"github.com/ticketchief/backend/services/common/middleware"
	"github.com/ticketchief/backend/services/payment-service/config"
	"github.com/ticketchief/backend/services/payment-service/controllers"
	"github.com/ticketchief/backend/services/payment-service/models"
	"github.com/ticketchief/backend/services/payment-service/repository"
	"github.com/ticketchief/backend/services/payment-service/routes"
	"github.com/ticketchief/backend/services/payment-service/services"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const serviceName = "payment-service"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("[PaymentService] No .env file found, using system environment variables")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zl := logger.InitializeForService(ctx, os.Getenv("APP_ENV"), serviceName)
	defer zl.Sync() //nolint:errcheck

	cfg, err := config.LoadConfig(ctx, zl)
	if err != nil {
		zl.Fatal("Failed to load config", zap.Error(err))
	}

	db, err := database.ConnectPostgres(ctx, zl, cfg.Database,
		&models.PaymentSession{}, &models.Attempt{}, &outbox.Message{})
	if err != nil {
		zl.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db) //nolint:errcheck

	metrics, err := aws_pkg.NewMetricsClient(ctx)
	if err != nil {
		zl.Warn("CloudWatch metrics unavailable", zap.Error(err))
	}
	defer metrics.Close() //nolint:errcheck

	bus, err := broker.Open(ctx, cfg.Broker, zl, events.RoutingPaymentRequested)
	if err != nil {
		zl.Fatal("Failed to open broker", zap.Error(err))
	}
	defer bus.Close() //nolint:errcheck

	relay := outbox.NewRelay(db, bus, zl,
		outbox.WithInterval(cfg.OutboxInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMetrics(metrics),
	)
	repo := repository.NewGormPaymentRepo(db)
	engine := services.NewEngine(repo, cfg.Engine, zl,
		services.WithNotifier(relay),
		services.WithMetrics(metrics),
	)
	consumer := services.NewPaymentRequestConsumer(bus, engine, metrics, zl)

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(zl))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.MetricsMiddleware(metrics, serviceName))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": serviceName})
	})
	routes.RegisterPaymentRoutes(r, &controllers.PaymentController{Engine: engine, Logger: zl}, cfg.AttemptsPerMinute)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zl.Info("Payment service started", zap.String("port", cfg.Port), zap.String("broker", cfg.Broker.Kind))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return consumer.Start(gctx) })
	g.Go(func() error { return relay.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		zl.Info("Shutting down payment service...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		zl.Error("Payment service stopped with error", zap.Error(err))
		return
	}
	zl.Info("Server exited cleanly")
}
