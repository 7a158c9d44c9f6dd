package handlers

import (
	"net/http"
	"time"

	"github.com/campuscal/campuscal/internal/calfeed"
	"github.com/gin-gonic/gin"
)

type CalendarHandler struct {
	svc  EventsService
	opts calfeed.Options
}

func NewCalendarHandler(svc EventsService, opts calfeed.Options) *CalendarHandler {
	return &CalendarHandler{svc: svc, opts: opts}
}

func (h *CalendarHandler) Feed(ctx *gin.Context) {
	events := h.svc.AllEvents(ctx.Request.Context())

	opts := h.opts
	if opts.Now == nil {
		// stamp with the newest change so unchanged feeds keep their ETag
		var latest time.Time
		for _, e := range events {
			if e.UpdatedAt.After(latest) {
				latest = e.UpdatedAt
			}
		}
		opts.Now = func() time.Time { return latest }
	}

	body := calfeed.Render(events, opts)

	ctx.Header("Content-Disposition", `inline; filename="calendar.ics"`)
	RespondWithETag(ctx, http.StatusOK, "text/calendar; charset=utf-8", []byte(body))
}
