package controllers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	apperr "github.com/ticketchief/backend/services/common/errors"
	"github.com/ticketchief/backend/services/payment-service/services"
	"go.uber.org/zap"
)

type PaymentEngine interface {
	Attempt(ctx context.Context, req services.AttemptRequest) (*services.AttemptResult, error)
	GetSession(ctx context.Context, correlationID string) (*services.SessionView, error)
}

type PaymentController struct {
	Engine PaymentEngine
	Logger *zap.Logger
}

type attemptBody struct {
	CardNumber string `json:"cardNumber" binding:"required"`
	CardCvv    string `json:"cardCvv"`
	CardHolder string `json:"cardHolder"`
}

// Attempt submits one card attempt against a payment session.
func (pc *PaymentController) Attempt(c *gin.Context) {
	var body attemptBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	correlationID := c.Param("correlationId")
	res, err := pc.Engine.Attempt(c.Request.Context(), services.AttemptRequest{
		CorrelationID: correlationID,
		CardNumber:    body.CardNumber,
		CardCVV:       body.CardCvv,
		CardHolder:    body.CardHolder,
	})
	if err != nil {
		pc.respondError(c, "Payment attempt failed", correlationID, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (pc *PaymentController) GetSession(c *gin.Context) {
	correlationID := c.Param("correlationId")
	view, err := pc.Engine.GetSession(c.Request.Context(), correlationID)
	if err != nil {
		pc.respondError(c, "Failed to load payment session", correlationID, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (pc *PaymentController) respondError(c *gin.Context, msg, correlationID string, err error) {
	fields := []zap.Field{zap.String("correlation_id", correlationID), zap.String("kind", apperr.Kind(err)), zap.Error(err)}
	if apperr.HTTPStatus(err) >= http.StatusInternalServerError {
		pc.Logger.Error(msg, fields...)
	} else {
		pc.Logger.Info(msg, fields...)
	}
	apperr.Respond(c, err)
}
