package controllers

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	apperr "github.com/ticketchief/backend/services/common/errors"
	"github.com/ticketchief/backend/services/payment-service/models"
	"github.com/ticketchief/backend/services/payment-service/services"
	"go.uber.org/zap"
)

// --- Mock Engine ---
type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) Attempt(ctx context.Context, req services.AttemptRequest) (*services.AttemptResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.AttemptResult), args.Error(1)
}

func (m *MockEngine) GetSession(ctx context.Context, correlationID string) (*services.SessionView, error) {
	args := m.Called(ctx, correlationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.SessionView), args.Error(1)
}

func newTestRouter(engine *MockEngine) *gin.Engine {
	gin.SetMode(gin.TestMode)
	pc := &PaymentController{Engine: engine, Logger: zap.NewNop()}
	r := gin.New()
	r.POST("/api/payment-sessions/:correlationId/attempt", pc.Attempt)
	r.GET("/api/payment-sessions/:correlationId", pc.GetSession)
	return r
}

func postAttempt(r *gin.Engine, id, payload string) *httptest.ResponseRecorder {
	req, _ := http.NewRequest(http.MethodPost, "/api/payment-sessions/"+id+"/attempt", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAttemptController(t *testing.T) {
	t.Run("Success - 200 OK", func(t *testing.T) {
		engine := new(MockEngine)
		engine.On("Attempt", mock.Anything, services.AttemptRequest{
			CorrelationID: "c-1", CardNumber: "4242", CardCVV: "123", CardHolder: "Ada",
		}).Return(&services.AttemptResult{Status: models.AttemptSuccess, AttemptsRemaining: 2, IsFinal: true}, nil).Once()

		w := postAttempt(newTestRouter(engine), "c-1", `{"cardNumber":"4242","cardCvv":"123","cardHolder":"Ada"}`)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status":"SUCCESS","attemptsRemaining":2,"isFinal":true}`, w.Body.String())
		engine.AssertExpectations(t)
	})

	t.Run("Declined - reason echoed", func(t *testing.T) {
		engine := new(MockEngine)
		engine.On("Attempt", mock.Anything, mock.Anything).
			Return(&services.AttemptResult{Status: models.AttemptFailed, Reason: "declined-by-rule", IsFinal: true, AttemptsRemaining: 2}, nil).Once()

		w := postAttempt(newTestRouter(engine), "c-1", `{"cardNumber":"666"}`)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status":"FAILED","reason":"declined-by-rule","attemptsRemaining":2,"isFinal":true}`, w.Body.String())
	})

	t.Run("Missing card number - 400 Bad Request", func(t *testing.T) {
		engine := new(MockEngine)
		w := postAttempt(newTestRouter(engine), "c-1", `{"cardCvv":"123"}`)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		engine.AssertNotCalled(t, "Attempt", mock.Anything, mock.Anything)
	})

	t.Run("Unknown session - 404 Not Found", func(t *testing.T) {
		engine := new(MockEngine)
		engine.On("Attempt", mock.Anything, mock.Anything).
			Return(nil, fmt.Errorf("session x: %w", apperr.ErrNotFound)).Once()

		w := postAttempt(newTestRouter(engine), "x", `{"cardNumber":"4242"}`)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Closed session - 409 Conflict", func(t *testing.T) {
		engine := new(MockEngine)
		engine.On("Attempt", mock.Anything, mock.Anything).
			Return(nil, fmt.Errorf("session c-1 is FAILED: %w", apperr.ErrInvalidState)).Once()

		w := postAttempt(newTestRouter(engine), "c-1", `{"cardNumber":"4242"}`)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Contains(t, w.Body.String(), "is FAILED")
	})
}

func TestGetSessionController(t *testing.T) {
	t.Run("Success - 200 OK", func(t *testing.T) {
		engine := new(MockEngine)
		engine.On("GetSession", mock.Anything, "c-1").Return(&services.SessionView{
			CorrelationID: "c-1", OrderID: 42, AmountCents: 9120, Status: models.SessionPending, AttemptsRemaining: 3,
		}, nil).Once()

		req, _ := http.NewRequest(http.MethodGet, "/api/payment-sessions/c-1", nil)
		w := httptest.NewRecorder()
		newTestRouter(engine).ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"correlationId":"c-1","orderId":42,"amountCents":9120,"status":"PENDING","attemptsRemaining":3}`, w.Body.String())
	})

	t.Run("Not found - 404", func(t *testing.T) {
		engine := new(MockEngine)
		engine.On("GetSession", mock.Anything, "nope").Return(nil, apperr.ErrNotFound).Once()

		req, _ := http.NewRequest(http.MethodGet, "/api/payment-sessions/nope", nil)
		w := httptest.NewRecorder()
		newTestRouter(engine).ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.JSONEq(t, `{"error":"not found"}`, w.Body.String())
	})
}
