package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/campuscal/campuscal/internal/http/middlewares"
	"github.com/campuscal/campuscal/internal/storage"
	"github.com/gin-gonic/gin"
)

type APIError struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	RequestID string      `json:"requestId,omitempty"`
	Details   interface{} `json:"details,omitempty"`
}

func requestIDFrom(ctx *gin.Context) string {
	v, ok := ctx.Get(middlewares.CtxRequestID)

	if ok {
		s, ok := v.(string)
		if ok && s != "" {
			return s
		}
	}

	// fallback header
	return ctx.GetHeader("X-Request-Id")
}

func RespondError(ctx *gin.Context, status int, code, message string, details interface{}) {
	ctx.JSON(status, gin.H{
		"error": APIError{
			Code:      code,
			Message:   message,
			RequestID: requestIDFrom(ctx),
			Details:   details,
		},
	})
}

func RespondBadRequest(ctx *gin.Context, message string, details interface{}) {
	RespondError(ctx, http.StatusBadRequest, "invalid_request", message, details)
}

func RespondNotFound(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusNotFound, "not_found", message, nil)
}

func RespondInternal(ctx *gin.Context, message string) {
	RespondError(ctx, http.StatusInternalServerError, "internal_error", message, nil)
}

func RespondConflict(ctx *gin.Context, code, message string) {
	RespondError(ctx, http.StatusConflict, code, message, nil)
}

func RespondServiceUnavailable(ctx *gin.Context, code, message string) {
	RespondError(ctx, http.StatusServiceUnavailable, code, message, nil)
}

// RespondBackendError maps storage failures onto status codes. fallback is
// the message for errors that are not a known backend condition.
func RespondBackendError(ctx *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, storage.ErrCircuitOpen):
		ctx.Header("Retry-After", "15")
		RespondServiceUnavailable(ctx, "backend_circuit_open", "Event storage is temporarily unavailable")
	case errors.Is(err, storage.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		RespondError(ctx, http.StatusBadGateway, "backend_unavailable", "Event storage could not be reached", nil)
	case errors.Is(err, storage.ErrDuplicateID):
		RespondConflict(ctx, "duplicate_id", "An event with this id already exists")
	default:
		RespondInternal(ctx, fallback)
	}
}
