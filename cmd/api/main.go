package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/campuscal/campuscal/internal/app"
	"github.com/campuscal/campuscal/internal/config"
	httpx "github.com/campuscal/campuscal/internal/http"
	"github.com/campuscal/campuscal/internal/observability"
	"golang.org/x/sync/errgroup"
)

const version = "0.4.0"

func main() {
	// Load the config set up
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := observability.NewLogger(cfg.Env, os.Stdout)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.OTELEnabled {
		shutdownTracer, err := observability.InitTracer(ctx, observability.TracerConfig{
			ServiceName: config.ServiceName,
			Version:     version,
			Endpoint:    cfg.OTELEndpoint,
			SampleRatio: cfg.OTELSampleRatio,
		})
		if err != nil {
			return err
		}

		defer func() {
			sctx, cancel := config.WithTimeout(5 * time.Second)
			defer cancel()
			_ = shutdownTracer(sctx)
		}()
	}

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	calOpts, err := a.CalendarOptions()
	if err != nil {
		return err
	}

	router, err := httpx.NewRouter(httpx.RouterConfig{
		Env:          cfg.Env,
		ServiceName:  config.ServiceName,
		CORSOrigins:  cfg.CORSOrigins,
		Tracing:      cfg.OTELEnabled,
		Calendar:     calOpts,
		ListCacheTTL: cfg.SyncInterval,
	}, httpx.RouterDeps{
		Log:      log,
		Sync:     a.Sync,
		Prom:     a.Prom,
		Gatherer: a.Registry,
	})
	if err != nil {
		return err
	}

	// server set up
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.Sync.Run(gctx)
	})

	g.Go(func() error {
		log.Info("Server starting", "port", cfg.Port, "env", cfg.Env, "backend", a.Settings.Backend)

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		log.Info("server shutting down")

		sctx, cancel := config.WithTimeout(10 * time.Second)
		defer cancel()

		if err := srv.Shutdown(sctx); err != nil {
			log.Error("graceful shutdown failed", "err", err)
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("shutdown complete")
	return nil
}
