package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	ready func() bool
}

// NewHealthHandler reports ready once ready returns true; nil means always.
func NewHealthHandler(ready func() bool) *HealthHandler {
	return &HealthHandler{ready: ready}
}

func (h *HealthHandler) Healthz(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Readyz stays 503 until the first sync attempt has finished.
func (h *HealthHandler) Readyz(ctx *gin.Context) {
	if h.ready != nil && !h.ready() {
		RespondServiceUnavailable(ctx, "not_ready", "Initial event load has not finished")
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"status": "ready"})
}
