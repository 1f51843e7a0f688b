package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/ticketchief/backend/api-gateway/utils"
)

// Targets are the base URLs of the downstream services.
type Targets struct {
	OrderService   string
	PaymentService string
}

// RegisterAllRoutes mounts the order and payment APIs behind auth.
func RegisterAllRoutes(r *gin.Engine, t Targets, auth gin.HandlerFunc, fwd *utils.Forwarder) {
	protected := r.Group("/api")
	protected.Use(auth)

	orders := fwd.To(t.OrderService + "/api/orders")
	protected.Any("/orders", orders)
	protected.Any("/orders/*any", orders)

	sessions := fwd.To(t.PaymentService + "/api/payment-sessions")
	protected.GET("/payment-sessions/*any", sessions)
	protected.POST("/payment-sessions/*any", sessions)
}
