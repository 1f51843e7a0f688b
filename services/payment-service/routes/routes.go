package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/ticketchief/backend/services/common/middleware"
	"github.com/ticketchief/backend/services/payment-service/controllers"
)

// RegisterPaymentRoutes mounts the session API. attemptsPerMinute bounds card
// attempts per client IP and session.
func RegisterPaymentRoutes(r *gin.Engine, pc *controllers.PaymentController, attemptsPerMinute int) {
	sessions := r.Group("/api/payment-sessions")
	sessions.GET("/:correlationId", pc.GetSession)
	sessions.POST("/:correlationId/attempt", middleware.RateLimitMiddleware(attemptsPerMinute, 0, middleware.ByClientIP, middleware.ByParam("correlationId")), pc.Attempt)
}
