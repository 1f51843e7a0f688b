package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	aws_pkg "github.com/ticketchief/backend/pkg/aws"
	"github.com/ticketchief/backend/pkg/broker"
	ddb "github.com/ticketchief/backend/pkg/dynamodb"
	"github.com/ticketchief/backend/pkg/lock"
	"github.com/ticketchief/backend/pkg/outbox"
	"github.com/ticketchief/backend/services/common/database"
	"github.com/ticketchief/backend/services/common/logger"
	"github.com/ticketchief/backend/services/common/middleware"
	"github.com/ticketchief/backend/services/order-service/config"
	"github.com/ticketchief/backend/services/order-service/controllers"
	"github.com/ticketchief/backend/services/order-service/invoice"
	"github.com/ticketchief/backend/services/order-service/models"
	repositories "github.com/ticketchief/backend/services/order-service/repository"
	"github.com/ticketchief/backend/services/order-service/reservation"
	"github.com/ticketchief/backend/services/order-service/routes"
	"github.com/ticketchief/backend/services/order-service/services"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const serviceName = "order-service"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("[OrderService] No .env file found, using system environment variables")
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
		&models.Order{}, &models.CartItem{}, &outbox.Message{})
	if err != nil {
		zl.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db) //nolint:errcheck

	metrics, err := aws_pkg.NewMetricsClient(ctx)
	if err != nil {
		zl.Warn("CloudWatch metrics unavailable", zap.Error(err))
	}
	defer metrics.Close() //nolint:errcheck

	locker, err := newLocker(ctx, cfg.Lock, zl)
	if err != nil {
		zl.Fatal("Failed to set up order lock", zap.Error(err))
	}

	store, err := newInvoiceStore(ctx, cfg.Invoice)
	if err != nil {
		zl.Fatal("Failed to set up invoice store", zap.Error(err))
	}

	bus, err := broker.Open(ctx, cfg.Broker, zl, cfg.Queues...)
	if err != nil {
		zl.Fatal("Failed to open broker", zap.Error(err))
	}
	defer bus.Close() //nolint:errcheck

	relay := outbox.NewRelay(db, bus, zl,
		outbox.WithInterval(cfg.OutboxInterval),
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMetrics(metrics),
	)
	saga := services.NewOrderSaga(
		repositories.NewGormOrderRepository(db),
		locker,
		invoice.NewGenerator(invoice.NewRenderer(), store),
		zl,
		services.WithTaxRate(cfg.TaxRate),
		services.WithNotifier(relay),
		services.WithMetrics(metrics),
	)
	consumer := services.NewSagaConsumer(bus, saga, metrics, zl)

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
	if cfg.Invoice.Store == config.InvoiceFile {
		r.Static("/invoices", cfg.Invoice.Dir)
	}
	routes.RegisterOrderRoutes(r, &controllers.OrderController{Saga: saga, Logger: zl})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zl.Info("Order service started",
			zap.String("port", cfg.Port),
			zap.String("broker", cfg.Broker.Kind),
			zap.String("lock", cfg.Lock.Backend),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return consumer.Start(gctx) })
	g.Go(func() error { return relay.Run(gctx) })
	if cfg.ReleaseRelay {
		releaser := reservation.NewHTTPClient(cfg.EventTicketBase, zl)
		g.Go(func() error { return services.NewReleaseConsumer(bus, releaser, metrics, zl).Start(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		zl.Info("Shutting down order service...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		zl.Error("Order service stopped with error", zap.Error(err))
		return
	}
	zl.Info("Server exited cleanly")
}

func newLocker(ctx context.Context, cfg config.LockConfig, zl *zap.Logger) (lock.Locker, error) {
	switch cfg.Backend {
	case config.LockRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
		}
		return lock.NewRedisLocker(client, cfg.TTL, zl), nil
	case config.LockDynamoDB:
		client, err := ddb.NewClient(ctx)
		if err != nil {
			return nil, err
		}
		if err := ddb.EnsureTable(ctx, client, cfg.DynamoTable, lock.DynamoHashKey); err != nil {
			return nil, err
		}
		return lock.NewDynamoLocker(client, cfg.DynamoTable, cfg.TTL, zl), nil
	default:
		return lock.NewKeyedMutex(), nil
	}
}

func newInvoiceStore(ctx context.Context, cfg config.InvoiceConfig) (invoice.Store, error) {
	if cfg.Store == config.InvoiceS3 {
		awsCfg, err := aws_pkg.LoadAWSConfig(ctx)
		if err != nil {
			return nil, err
		}
		return invoice.NewS3Store(aws_pkg.NewS3Uploader(awsCfg, cfg.Bucket), cfg.Prefix, cfg.PublicBaseURL), nil
	}
	return invoice.NewFileStore(cfg.Dir, cfg.BaseURL)
}
