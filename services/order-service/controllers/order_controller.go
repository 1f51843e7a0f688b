package controllers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	apperr "github.com/ticketchief/backend/services/common/errors"
	"github.com/ticketchief/backend/services/common/middleware"
	"github.com/ticketchief/backend/services/order-service/models"
	"go.uber.org/zap"
)

type OrderSaga interface {
	CreateOrder(ctx context.Context, userID, userEmail string, items []models.CartItem) (*models.Order, error)
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	AddItem(ctx context.Context, id int64, item models.CartItem) (*models.Order, error)
	RemoveItem(ctx context.Context, id, itemID int64) (*models.Order, error)
	CancelOrder(ctx context.Context, id int64) error
	FinalizeOrder(ctx context.Context, id int64) (string, error)
	GetInvoice(ctx context.Context, id int64) (string, error)
}

type OrderController struct {
	Saga   OrderSaga
	Logger *zap.Logger
}

type itemBody struct {
	EventID        string  `json:"eventId" binding:"required"`
	SeatID         string  `json:"seatId" binding:"required"`
	UnitPriceCents int64   `json:"unitPriceCents" binding:"gte=0"`
	ReservationID  *string `json:"reservationId"`
}

func (b itemBody) cartItem() models.CartItem {
	return models.CartItem{
		EventID:        b.EventID,
		SeatID:         b.SeatID,
		UnitPriceCents: b.UnitPriceCents,
		ReservationID:  b.ReservationID,
	}
}

type createOrderBody struct {
	Items []itemBody `json:"items" binding:"dive"`
}

// CreateOrder opens a cart for the caller.
func (oc *OrderController) CreateOrder(c *gin.Context) {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var body createOrderBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}
	items := make([]models.CartItem, len(body.Items))
	for i, it := range body.Items {
		items[i] = it.cartItem()
	}

	order, err := oc.Saga.CreateOrder(c.Request.Context(), userID, middleware.GetUserEmail(c), items)
	if err != nil {
		oc.respondError(c, "Failed to create order", 0, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

func (oc *OrderController) GetOrder(c *gin.Context) {
	order, ok := oc.ownedOrder(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, order)
}

func (oc *OrderController) AddItem(c *gin.Context) {
	order, ok := oc.ownedOrder(c)
	if !ok {
		return
	}
	var body itemBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	updated, err := oc.Saga.AddItem(c.Request.Context(), order.ID, body.cartItem())
	if err != nil {
		oc.respondError(c, "Failed to add item", order.ID, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (oc *OrderController) RemoveItem(c *gin.Context) {
	order, ok := oc.ownedOrder(c)
	if !ok {
		return
	}
	itemID, err := strconv.ParseInt(c.Param("itemId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid item ID format"})
		return
	}

	updated, err := oc.Saga.RemoveItem(c.Request.Context(), order.ID, itemID)
	if err != nil {
		oc.respondError(c, "Failed to remove item", order.ID, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (oc *OrderController) CancelOrder(c *gin.Context) {
	order, ok := oc.ownedOrder(c)
	if !ok {
		return
	}
	if err := oc.Saga.CancelOrder(c.Request.Context(), order.ID); err != nil {
		oc.respondError(c, "Failed to cancel order", order.ID, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// FinalizeOrder freezes the cart and returns the correlation id of the
// payment session the client pays against.
func (oc *OrderController) FinalizeOrder(c *gin.Context) {
	order, ok := oc.ownedOrder(c)
	if !ok {
		return
	}
	correlationID, err := oc.Saga.FinalizeOrder(c.Request.Context(), order.ID)
	if err != nil {
		oc.respondError(c, "Failed to finalize order", order.ID, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"correlationId": correlationID})
}

func (oc *OrderController) GetInvoice(c *gin.Context) {
	order, ok := oc.ownedOrder(c)
	if !ok {
		return
	}
	url, err := oc.Saga.GetInvoice(c.Request.Context(), order.ID)
	if err != nil {
		oc.respondError(c, "Failed to load invoice", order.ID, err)
		return
	}
	c.Redirect(http.StatusFound, url)
}

// ownedOrder loads the order named in the path. Orders of other users are
// reported as missing.
func (oc *OrderController) ownedOrder(c *gin.Context) (*models.Order, bool) {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return nil, false
	}
	id, err := strconv.ParseInt(c.Param("orderId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid order ID format"})
		return nil, false
	}

	order, err := oc.Saga.GetOrder(c.Request.Context(), id)
	if err != nil {
		oc.respondError(c, "Failed to load order", id, err)
		return nil, false
	}
	if order.UserID != userID {
		oc.respondError(c, "Order belongs to another user", id, fmt.Errorf("order %d: %w", id, apperr.ErrNotFound))
		return nil, false
	}
	return order, true
}

func (oc *OrderController) respondError(c *gin.Context, msg string, orderID int64, err error) {
	fields := []zap.Field{zap.Int64("order_id", orderID), zap.String("kind", apperr.Kind(err)), zap.Error(err)}
	if apperr.HTTPStatus(err) >= http.StatusInternalServerError {
		oc.Logger.Error(msg, fields...)
	} else {
		oc.Logger.Info(msg, fields...)
	}
	apperr.Respond(c, err)
}
