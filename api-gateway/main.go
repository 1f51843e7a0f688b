package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/ticketchief/backend/api-gateway/middlewares"
	"github.com/ticketchief/backend/api-gateway/routes"
	"github.com/ticketchief/backend/api-gateway/utils"
	"github.com/ticketchief/backend/services/common/logger"
	"github.com/ticketchief/backend/services/common/middleware"
	"go.uber.org/zap"
)

const serviceName = "api-gateway"

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("[Gateway] No .env file found, using system environment variables")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zl := logger.InitializeForService(ctx, os.Getenv("APP_ENV"), serviceName)
	defer zl.Sync() //nolint:errcheck

	zl.Info("Starting API Gateway...")

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		zl.Fatal("JWT_SECRET is required")
	}

	if os.Getenv("APP_ENV") == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(zl))
	r.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Split(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"), ","),
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	r.Use(middleware.SecurityHeaders())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": serviceName})
	})
	routes.RegisterAllRoutes(r,
		routes.Targets{
			OrderService:   getEnv("ORDER_SERVICE_URL", "http://order-service:8086"),
			PaymentService: getEnv("PAYMENT_SERVICE_URL", "http://payment-service:8087"),
		},
		middlewares.JWTMiddleware([]byte(secret), os.Getenv("JWT_TOKEN_TYPE"), zl),
		utils.NewForwarder(30*time.Second, zl),
	)

	port := getEnv("PORT", "8080")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		zl.Info("API Gateway listening on port", zap.String("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zl.Info("Shutting down API Gateway...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("Server forced to shutdown", zap.Error(err))
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
