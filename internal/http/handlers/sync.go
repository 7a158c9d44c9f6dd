package handlers

import (
	"context"
	"net/http"

	"github.com/campuscal/campuscal/internal/eventsync"
	"github.com/gin-gonic/gin"
)

type SyncService interface {
	ForceSyncNow(ctx context.Context) error
	TriggerSync()
	Status() eventsync.Status
}

type SyncHandler struct {
	svc SyncService
}

func NewSyncHandler(svc SyncService) *SyncHandler {
	return &SyncHandler{svc: svc}
}

// Sync runs a pass and returns the resulting status. With ?wait=false it
// only queues one, for clients that regained focus or connectivity.
func (h *SyncHandler) Sync(ctx *gin.Context) {
	if ctx.Query("wait") == "false" {
		h.svc.TriggerSync()
		ctx.JSON(http.StatusAccepted, gin.H{"status": "queued"})
		return
	}

	if err := h.svc.ForceSyncNow(ctx.Request.Context()); err != nil {
		RespondBackendError(ctx, err, "Sync failed")
		return
	}

	ctx.JSON(http.StatusOK, h.svc.Status())
}

func (h *SyncHandler) Status(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, h.svc.Status())
}
