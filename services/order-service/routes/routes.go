package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/ticketchief/backend/services/common/middleware"
	"github.com/ticketchief/backend/services/order-service/controllers"
)

func RegisterOrderRoutes(r *gin.Engine, oc *controllers.OrderController) {
	orders := r.Group("/api/orders")
	orders.Use(middleware.AuthMiddleware())
	orders.POST("", oc.CreateOrder)
	orders.GET("/:orderId", oc.GetOrder)
	orders.DELETE("/:orderId", oc.CancelOrder)
	orders.PUT("/:orderId/items", oc.AddItem)
	orders.DELETE("/:orderId/items/:itemId", oc.RemoveItem)
	orders.POST("/:orderId/finalize", oc.FinalizeOrder)
	orders.GET("/:orderId/invoice", oc.GetInvoice)
}
