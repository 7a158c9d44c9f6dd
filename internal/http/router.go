package http

import (
	"log/slog"
	"time"

	"github.com/campuscal/campuscal/internal/cache"
	"github.com/campuscal/campuscal/internal/calfeed"
	"github.com/campuscal/campuscal/internal/eventsync"
	"github.com/campuscal/campuscal/internal/http/handlers"
	"github.com/campuscal/campuscal/internal/http/middlewares"
	"github.com/campuscal/campuscal/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

type RouterConfig struct {
	Env         string
	ServiceName string
	CORSOrigins []string
	Tracing     bool
	Calendar    calfeed.Options
	// WritesPerMinute per client IP on POST/DELETE routes.
	WritesPerMinute int
	ListCacheTTL    time.Duration
}

type RouterDeps struct {
	Log      *slog.Logger
	Sync     *eventsync.Synchronizer
	Prom     *observability.Prom
	Gatherer prometheus.Gatherer
}

func NewRouter(cfg RouterConfig, deps RouterDeps) (*gin.Engine, error) {
	if cfg.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.WritesPerMinute <= 0 {
		cfg.WritesPerMinute = 60
	}

	if err := handlers.RegisterBindingValidators(); err != nil {
		return nil, err
	}

	r := gin.New()

	// middleware

	r.Use(gin.Recovery())
	if cfg.Tracing {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	if deps.Prom != nil {
		r.Use(deps.Prom.GinHandleMiddleware())
	}
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger(deps.Log))
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.CORS(cfg.CORSOrigins))
	r.Use(middlewares.MaxBodyBytes(middlewares.DefaultMaxBody))
	r.Use(middlewares.RequireJSON())

	// health
	h := handlers.NewHealthHandler(deps.Sync.Ready)
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)

	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	// wire up handlers
	eventsHandler := handlers.NewEventsHandlerWithCache(deps.Sync, cache.New[[]byte](cfg.ListCacheTTL))
	syncHandler := handlers.NewSyncHandler(deps.Sync)
	calendarHandler := handlers.NewCalendarHandler(deps.Sync, cfg.Calendar)

	writes := middlewares.NewRateLimiter(cfg.WritesPerMinute, 10).RateLimiterMiddleware(middlewares.KeyByIP)

	r.GET("/events", eventsHandler.ListEvents)
	r.GET("/events/:id", eventsHandler.GetEventById)
	r.POST("/events", writes, eventsHandler.CreateEvent)
	r.DELETE("/events/:id", writes, eventsHandler.DeleteEvent)

	r.POST("/sync", writes, syncHandler.Sync)
	r.GET("/sync/status", syncHandler.Status)

	r.GET("/calendar.ics", calendarHandler.Feed)

	return r, nil
}
