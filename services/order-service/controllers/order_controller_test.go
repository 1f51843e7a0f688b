package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	apperr "github.com/ticketchief/backend/services/common/errors"
	"github.com/ticketchief/backend/services/common/middleware"
	"github.com/ticketchief/backend/services/order-service/models"
	"go.uber.org/zap"
)

// --- Mock Saga ---
type MockSaga struct {
	mock.Mock
}

func (m *MockSaga) order(args mock.Arguments) (*models.Order, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Order), args.Error(1)
}

func (m *MockSaga) CreateOrder(ctx context.Context, userID, userEmail string, items []models.CartItem) (*models.Order, error) {
	return m.order(m.Called(ctx, userID, userEmail, items))
}

func (m *MockSaga) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	return m.order(m.Called(ctx, id))
}

func (m *MockSaga) AddItem(ctx context.Context, id int64, item models.CartItem) (*models.Order, error) {
	return m.order(m.Called(ctx, id, item))
}

func (m *MockSaga) RemoveItem(ctx context.Context, id, itemID int64) (*models.Order, error) {
	return m.order(m.Called(ctx, id, itemID))
}

func (m *MockSaga) CancelOrder(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockSaga) FinalizeOrder(ctx context.Context, id int64) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

func (m *MockSaga) GetInvoice(ctx context.Context, id int64) (string, error) {
	args := m.Called(ctx, id)
	return args.String(0), args.Error(1)
}

func newTestRouter(saga *MockSaga) *gin.Engine {
	gin.SetMode(gin.TestMode)
	oc := &OrderController{Saga: saga, Logger: zap.NewNop()}
	r := gin.New()
	orders := r.Group("/api/orders", middleware.AuthMiddleware())
	orders.POST("", oc.CreateOrder)
	orders.GET("/:orderId", oc.GetOrder)
	orders.DELETE("/:orderId", oc.CancelOrder)
	orders.PUT("/:orderId/items", oc.AddItem)
	orders.DELETE("/:orderId/items/:itemId", oc.RemoveItem)
	orders.POST("/:orderId/finalize", oc.FinalizeOrder)
	orders.GET("/:orderId/invoice", oc.GetInvoice)
	return r
}

func do(r *gin.Engine, method, path, user, payload string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(method, path, bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(middleware.UserIDHeader, user)
		req.Header.Set(middleware.UserEmailHeader, user+"@example.com")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func owned(id int64) *models.Order {
	o := models.NewOrder("u-1", "u-1@example.com")
	o.ID = id
	return o
}

func TestCreateOrder(t *testing.T) {
	t.Run("Created - 201", func(t *testing.T) {
		saga := new(MockSaga)
		items := []models.CartItem{{EventID: "e1", SeatID: "A1", UnitPriceCents: 5000}}
		saga.On("CreateOrder", mock.Anything, "u-1", "u-1@example.com", items).Return(owned(7), nil)

		w := do(newTestRouter(saga), http.MethodPost, "/api/orders", "u-1",
			`{"items":[{"eventId":"e1","seatId":"A1","unitPriceCents":5000}]}`)

		assert.Equal(t, http.StatusCreated, w.Code)
		var got models.Order
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, int64(7), got.ID)
		assert.Equal(t, models.StatusInCart, got.Status)
		saga.AssertExpectations(t)
	})

	t.Run("Missing user - 401", func(t *testing.T) {
		saga := new(MockSaga)
		w := do(newTestRouter(saga), http.MethodPost, "/api/orders", "", `{}`)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		saga.AssertNotCalled(t, "CreateOrder")
	})

	t.Run("Invalid item - 400", func(t *testing.T) {
		saga := new(MockSaga)
		w := do(newTestRouter(saga), http.MethodPost, "/api/orders", "u-1", `{"items":[{"eventId":"e1"}]}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		saga.AssertNotCalled(t, "CreateOrder")
	})
}

func TestGetOrder(t *testing.T) {
	t.Run("Owner - 200", func(t *testing.T) {
		saga := new(MockSaga)
		saga.On("GetOrder", mock.Anything, int64(7)).Return(owned(7), nil)

		w := do(newTestRouter(saga), http.MethodGet, "/api/orders/7", "u-1", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"status":"IN_CART"`)
	})

	t.Run("Other user - 404", func(t *testing.T) {
		saga := new(MockSaga)
		saga.On("GetOrder", mock.Anything, int64(7)).Return(owned(7), nil)

		w := do(newTestRouter(saga), http.MethodGet, "/api/orders/7", "u-2", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Bad id - 400", func(t *testing.T) {
		saga := new(MockSaga)
		w := do(newTestRouter(saga), http.MethodGet, "/api/orders/abc", "u-1", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Internal error - 500", func(t *testing.T) {
		saga := new(MockSaga)
		saga.On("GetOrder", mock.Anything, int64(7)).Return(nil, fmt.Errorf("boom"))

		w := do(newTestRouter(saga), http.MethodGet, "/api/orders/7", "u-1", "")
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.JSONEq(t, `{"error":"Internal server error"}`, w.Body.String())
	})
}

func TestItems(t *testing.T) {
	t.Run("Add - 200", func(t *testing.T) {
		saga := new(MockSaga)
		saga.On("GetOrder", mock.Anything, int64(7)).Return(owned(7), nil)
		rid := "r1"
		saga.On("AddItem", mock.Anything, int64(7), models.CartItem{EventID: "e1", SeatID: "A2", UnitPriceCents: 100, ReservationID: &rid}).
			Return(owned(7), nil)

		w := do(newTestRouter(saga), http.MethodPut, "/api/orders/7/items", "u-1",
			`{"eventId":"e1","seatId":"A2","unitPriceCents":100,"reservationId":"r1"}`)
		assert.Equal(t, http.StatusOK, w.Code)
		saga.AssertExpectations(t)
	})

	t.Run("Add to frozen order - 409", func(t *testing.T) {
		saga := new(MockSaga)
		saga.On("GetOrder", mock.Anything, int64(7)).Return(owned(7), nil)
		saga.On("AddItem", mock.Anything, int64(7), mock.Anything).
			Return(nil, fmt.Errorf("order 7 is frozen: %w", apperr.ErrInvalidState))

		w := do(newTestRouter(saga), http.MethodPut, "/api/orders/7/items", "u-1", `{"eventId":"e1","seatId":"A2"}`)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("Remove - 200", func(t *testing.T) {
		saga := new(MockSaga)
		saga.On("GetOrder", mock.Anything, int64(7)).Return(owned(7), nil)
		saga.On("RemoveItem", mock.Anything, int64(7), int64(3)).Return(owned(7), nil)

		w := do(newTestRouter(saga), http.MethodDelete, "/api/orders/7/items/3", "u-1", "")
		assert.Equal(t, http.StatusOK, w.Code)
		saga.AssertExpectations(t)
	})

	t.Run("Remove unknown item - 404", func(t *testing.T) {
		saga := new(MockSaga)
		saga.On("GetOrder", mock.Anything, int64(7)).Return(owned(7), nil)
		saga.On("RemoveItem", mock.Anything, int64(7), int64(9)).Return(nil, fmt.Errorf("item 9: %w", apperr.ErrNotFound))

		w := do(newTestRouter(saga), http.MethodDelete, "/api/orders/7/items/9", "u-1", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestFinalizeOrder(t *testing.T) {
	t.Run("Finalized - 200", func(t *testing.T) {
		saga := new(MockSaga)
		saga.On("GetOrder", mock.Anything, int64(7)).Return(owned(7), nil)
		saga.On("FinalizeOrder", mock.Anything, int64(7)).Return("c-1", nil)

		w := do(newTestRouter(saga), http.MethodPost, "/api/orders/7/finalize", "u-1", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"correlationId":"c-1"}`, w.Body.String())
	})

	t.Run("Already finalized - 409", func(t *testing.T) {
		saga := new(MockSaga)
		saga.On("GetOrder", mock.Anything, int64(7)).Return(owned(7), nil)
		saga.On("FinalizeOrder", mock.Anything, int64(7)).Return("", fmt.Errorf("order 7: %w", apperr.ErrInvalidState))

		w := do(newTestRouter(saga), http.MethodPost, "/api/orders/7/finalize", "u-1", "")
		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestCancelOrder(t *testing.T) {
	saga := new(MockSaga)
	saga.On("GetOrder", mock.Anything, int64(7)).Return(owned(7), nil)
	saga.On("CancelOrder", mock.Anything, int64(7)).Return(nil)

	w := do(newTestRouter(saga), http.MethodDelete, "/api/orders/7", "u-1", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	saga.AssertExpectations(t)
}

func TestGetInvoice(t *testing.T) {
	t.Run("Redirects - 302", func(t *testing.T) {
		saga := new(MockSaga)
		saga.On("GetOrder", mock.Anything, int64(7)).Return(owned(7), nil)
		saga.On("GetInvoice", mock.Anything, int64(7)).Return("http://invoices.local/7.html", nil)

		w := do(newTestRouter(saga), http.MethodGet, "/api/orders/7/invoice", "u-1", "")
		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "http://invoices.local/7.html", w.Header().Get("Location"))
	})

	t.Run("Not ready - 404", func(t *testing.T) {
		saga := new(MockSaga)
		saga.On("GetOrder", mock.Anything, int64(7)).Return(owned(7), nil)
		saga.On("GetInvoice", mock.Anything, int64(7)).Return("", fmt.Errorf("invoice: %w", apperr.ErrNotFound))

		w := do(newTestRouter(saga), http.MethodGet, "/api/orders/7/invoice", "u-1", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
