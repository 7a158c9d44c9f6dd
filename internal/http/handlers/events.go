package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/campuscal/campuscal/internal/cache"
	"github.com/campuscal/campuscal/internal/domain/event"
	"github.com/campuscal/campuscal/internal/utils"
	"github.com/gin-gonic/gin"
)

// EventsService is the slice of the synchronizer the events routes use.
type EventsService interface {
	AllEvents(ctx context.Context) []event.Event
	AddEvent(ctx context.Context, req event.CreateEventRequest) (event.Event, error)
	DeleteEvent(ctx context.Context, id string) error
	// VersionedEvents returns the events together with the cache version
	// they were read at.
	VersionedEvents(ctx context.Context) ([]event.Event, uint64)
}

type EventsHandler struct {
	svc       EventsService
	listCache *cache.Cache[[]byte]
}

func NewEventsHandler(svc EventsService) *EventsHandler {
	return &EventsHandler{svc: svc}
}

// NewEventsHandlerWithCache memoizes rendered list bodies per filter and
// cache version.
func NewEventsHandlerWithCache(svc EventsService, c *cache.Cache[[]byte]) *EventsHandler {
	return &EventsHandler{svc: svc, listCache: c}
}

type listEventsResponse struct {
	Items   []event.Event `json:"items"`
	Count   int           `json:"count"`
	Version uint64        `json:"version"`
}

func (h *EventsHandler) CreateEvent(ctx *gin.Context) {
	var req event.CreateEventRequest

	if !BindJSON(ctx, &req) {
		return
	}

	e, err := h.svc.AddEvent(ctx.Request.Context(), req)

	if err != nil {
		RespondBackendError(ctx, err, "Could not create event")
		return
	}

	ctx.Header("Location", "/events/"+e.ID)
	ctx.JSON(http.StatusCreated, e)
}

func (h *EventsHandler) ListEvents(ctx *gin.Context) {
	filter, details := parseFilter(ctx)
	if details != nil {
		RespondBadRequest(ctx, "Invalid query parameters", gin.H{"fields": details})
		return
	}

	events, version := h.svc.VersionedEvents(ctx.Request.Context())
	key := utils.BuildEventsListCacheKey(version, filter)

	if h.listCache != nil {
		if body, ok := h.listCache.Get(key); ok {
			RespondWithETag(ctx, http.StatusOK, "application/json; charset=utf-8", body)
			return
		}
	}

	items := filter.Apply(events)
	event.Sort(items)

	body, err := json.Marshal(listEventsResponse{Items: items, Count: len(items), Version: version})
	if err != nil {
		RespondInternal(ctx, "Could not list events")
		return
	}

	if h.listCache != nil {
		h.listCache.Set(key, body)
	}

	RespondWithETag(ctx, http.StatusOK, "application/json; charset=utf-8", body)
}

func (h *EventsHandler) GetEventById(ctx *gin.Context) {
	id := ctx.Param("id")

	for _, e := range h.svc.AllEvents(ctx.Request.Context()) {
		if e.ID == id {
			RespondJSONWithETag(ctx, http.StatusOK, e)
			return
		}
	}

	RespondNotFound(ctx, "Event not found")
}

// DeleteEvent answers 204 for unknown ids too: the end state is the same.
func (h *EventsHandler) DeleteEvent(ctx *gin.Context) {
	id := strings.TrimSpace(ctx.Param("id"))

	if id == "" {
		RespondBadRequest(ctx, "Event id is required", nil)
		return
	}

	if err := h.svc.DeleteEvent(ctx.Request.Context(), id); err != nil {
		RespondBackendError(ctx, err, "Could not delete event")
		return
	}

	ctx.Status(http.StatusNoContent)
}

func parseFilter(ctx *gin.Context) (event.Filter, []FieldError) {
	var (
		f    event.Filter
		errs []FieldError
	)

	if v := strings.TrimSpace(ctx.Query("date")); v != "" {
		if _, err := time.Parse(event.DateLayout, v); err != nil {
			errs = append(errs, FieldError{Field: "date", Rule: "datetime", Param: event.DateLayout, Message: validationMessage("datetime", event.DateLayout)})
		}
		f.Date = &v
	}

	if v := strings.TrimSpace(ctx.Query("month")); v != "" {
		if _, err := time.Parse("2006-01", v); err != nil {
			errs = append(errs, FieldError{Field: "month", Rule: "datetime", Param: "2006-01", Message: "must be a month formatted as YYYY-MM"})
		}
		f.Month = &v
	}

	if v := strings.TrimSpace(ctx.Query("club")); v != "" {
		f.Club = &v
	}

	if len(errs) > 0 {
		return f, errs
	}

	return f, nil
}
