package errors

import (
	"context"
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Sentinel errors. Wrap them with fmt.Errorf("...: %w", ErrX) to add context.
var (
	ErrNotFound     = stderrors.New("not found")
	ErrInvalidState = stderrors.New("invalid state")
	ErrValidation   = stderrors.New("validation error")
	ErrUnauthorized = stderrors.New("unauthorized")
	ErrTransient    = stderrors.New("temporarily unavailable")
)

// Kind returns a short label for logs and metric dimensions.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case stderrors.Is(err, ErrNotFound):
		return "not_found"
	case stderrors.Is(err, ErrInvalidState):
		return "invalid_state"
	case stderrors.Is(err, ErrValidation):
		return "validation"
	case stderrors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case stderrors.Is(err, ErrTransient):
		return "transient"
	case stderrors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case stderrors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "internal"
	}
}

func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case stderrors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case stderrors.Is(err, ErrInvalidState):
		return http.StatusConflict
	case stderrors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case stderrors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case stderrors.Is(err, ErrTransient):
		return http.StatusServiceUnavailable
	case stderrors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Respond writes err as {"error": "..."} with the mapped status. Internal
// errors are not echoed to the client.
func Respond(c *gin.Context, err error) {
	status := HTTPStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "Internal server error"
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
