// Package app assembles the storage backend, synchronizer and metrics that
// both the API server and calctl run on.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/campuscal/campuscal/internal/calfeed"
	"github.com/campuscal/campuscal/internal/config"
	"github.com/campuscal/campuscal/internal/db"
	"github.com/campuscal/campuscal/internal/domain/event"
	"github.com/campuscal/campuscal/internal/eventsync"
	"github.com/campuscal/campuscal/internal/observability"
	"github.com/campuscal/campuscal/internal/repo/airtable"
	"github.com/campuscal/campuscal/internal/repo/file"
	"github.com/campuscal/campuscal/internal/repo/kv"
	"github.com/campuscal/campuscal/internal/repo/memory"
	"github.com/campuscal/campuscal/internal/repo/postgres"
	"github.com/campuscal/campuscal/internal/repo/redisstore"
	"github.com/campuscal/campuscal/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type App struct {
	Config   config.Config
	Settings config.Settings // resolved backend choice
	Log      *slog.Logger

	Registry *prometheus.Registry
	Prom     *observability.Prom
	Backend  *storage.Guarded
	Sync     *eventsync.Synchronizer

	closers []func()
}

func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	prom := observability.NewProm(reg)

	settings := cfg.Storage.Resolve(log)

	a := &App{
		Config:   cfg,
		Settings: settings,
		Log:      log,
		Registry: reg,
		Prom:     prom,
	}

	backend, closeBackend, err := OpenBackend(ctx, settings, cfg.SeedDemo, log)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeBackend)

	a.Backend = storage.NewGuarded(backend, storage.GuardConfig{Timeout: cfg.BackendTimeout}, prom)

	a.Sync = eventsync.New(a.Backend, eventsync.Config{
		Interval:    cfg.SyncInterval,
		InitialWait: cfg.SyncInitialWait,
	}, eventsync.Options{Logger: log, Metrics: prom})

	log.Info("storage ready", "backend", backend.Name())

	return a, nil
}

// OpenBackend opens the backend named in s. A remote backend that cannot be
// reached yet is still returned; its calls fail until it comes back. The
// returned func releases its connections.
func OpenBackend(ctx context.Context, s config.Settings, seedDemo bool, log *slog.Logger) (storage.Backend, func(), error) {
	noop := func() {}

	var seed []event.Event
	if seedDemo {
		seed = kv.DemoEvents(time.Now().UTC())
	}

	switch s.Backend {
	case config.BackendMemory:
		return kv.New(memory.NewStore(), kv.Options{Name: "memory", Seed: seed, Logger: log}), noop, nil

	case config.BackendRedis:
		store := redisstore.New(redisstore.Config{
			Addr:     s.Redis.Addr,
			Password: s.Redis.Password,
			DB:       s.Redis.DB,
			Prefix:   s.Redis.Prefix,
		}, log)

		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()

		if err := store.Ping(pingCtx); err != nil {
			log.Warn("redis unreachable at startup, serving cache until it returns", "addr", s.Redis.Addr, "err", err)
		}

		return kv.New(store, kv.Options{Name: "redis", Logger: log}), func() { _ = store.Close() }, nil

	case config.BackendAirtable:
		c, err := airtable.New(airtable.Config{
			APIKey: s.Airtable.APIKey,
			BaseID: s.Airtable.BaseID,
			Table:  s.Airtable.Table,
		})
		if err != nil {
			return nil, nil, err
		}
		return c, noop, nil

	case config.BackendPostgres:
		pool, err := db.Open(s.Postgres.URL)
		if err != nil {
			log.Warn("postgres url invalid, using local storage", "err", err)
			return openLocal(s, seed, log)
		}

		b := postgres.NewBackend(pool, log)

		migrateCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		if err := b.EnsureSchema(migrateCtx); err != nil {
			log.Warn("postgres unreachable at startup, serving cache until it returns", "err", err)
		}

		return b, pool.Close, nil

	default:
		return openLocal(s, seed, log)
	}
}

func openLocal(s config.Settings, seed []event.Event, log *slog.Logger) (storage.Backend, func(), error) {
	store, err := file.NewStore(s.Local.DataDir)
	if err != nil {
		log.Error("local data dir unusable, keeping events in memory only", "dir", s.Local.DataDir, "err", err)
		return kv.New(memory.NewStore(), kv.Options{Name: "memory", Seed: seed, Logger: log}), func() {}, nil
	}

	return kv.New(store, kv.Options{Name: "local", Seed: seed, Logger: log}), func() {}, nil
}

// CalendarOptions builds feed options from the resolved settings.
func (a *App) CalendarOptions() (calfeed.Options, error) {
	loc, err := time.LoadLocation(a.Settings.Timezone)
	if err != nil {
		return calfeed.Options{}, fmt.Errorf("calendar timezone %q: %w", a.Settings.Timezone, err)
	}

	return calfeed.Options{Name: a.Settings.CalendarName, Location: loc}, nil
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
