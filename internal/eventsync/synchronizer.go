// Package eventsync keeps an in-memory copy of the event collection in step
// with the configured backend. Reads are served from the copy; writes go to
// the backend and are followed by a refresh.
package eventsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/campuscal/campuscal/internal/domain/event"
	"github.com/campuscal/campuscal/internal/observability"
	"github.com/campuscal/campuscal/internal/storage"
)

const (
	resultOK      = "ok"
	resultError   = "error"
	resultSkipped = "skipped"
)

// Metrics receives sync outcomes. observability.Prom implements it.
type Metrics interface {
	ObserveSync(result string, d time.Duration)
	SetCachedEvents(n int)
}

// State is what the calendar's sync indicator shows.
type State string

const (
	StateIdle    State = "idle"
	StateSyncing State = "syncing"
	StateSuccess State = "success"
	StateError   State = "error"
)

type Config struct {
	// Interval between periodic passes. Default 30s.
	Interval time.Duration
	// InitialWait bounds how long AllEvents blocks before the first pass
	// has completed. Default 5s.
	InitialWait time.Duration
}

type Options struct {
	Logger  *slog.Logger
	Metrics Metrics
}

// Status is a snapshot for the sync status endpoint.
type Status struct {
	Backend       string                             `json:"backend"`
	Initialized   bool                               `json:"initialized"`
	Syncing       bool                               `json:"syncing"`
	State         State                              `json:"status"`
	Events        int                                `json:"events"`
	Version       uint64                             `json:"version"`
	LastSyncAt    *time.Time                         `json:"lastSyncAt,omitempty"`
	LastSuccessAt *time.Time                         `json:"lastSuccessAt,omitempty"`
	LastError     string                             `json:"lastError,omitempty"`
	Circuit       string                             `json:"circuit,omitempty"`
	Stats         observability.SyncCountersSnapshot `json:"stats"`
}

type Synchronizer struct {
	backend  storage.Backend
	cfg      Config
	log      *slog.Logger
	metrics  Metrics
	counters *observability.SyncCounters
	now      func() time.Time

	syncing atomic.Bool
	version atomic.Uint64
	kick    chan struct{}

	readyOnce sync.Once
	ready     chan struct{}

	mu            sync.RWMutex
	events        []event.Event
	state         State
	lastSyncAt    time.Time
	lastSuccessAt time.Time
	lastErr       error
}

func New(backend storage.Backend, cfg Config, opts Options) *Synchronizer {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.InitialWait <= 0 {
		cfg.InitialWait = 5 * time.Second
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Synchronizer{
		backend:  backend,
		cfg:      cfg,
		log:      log.With("component", "eventsync", "backend", backend.Name()),
		metrics:  opts.Metrics,
		counters: observability.NewSyncCounters(),
		now:      time.Now,
		kick:     make(chan struct{}, 1),
		ready:    make(chan struct{}),
		events:   []event.Event{},
		state:    StateIdle,
	}
}

// AllEvents never fails: on backend trouble it returns whatever is cached,
// possibly nothing.
func (s *Synchronizer) AllEvents(ctx context.Context) []event.Event {
	events, _ := s.VersionedEvents(ctx)
	return events
}

// VersionedEvents is AllEvents plus the cache version the events belong to,
// read together.
func (s *Synchronizer) VersionedEvents(ctx context.Context) ([]event.Event, uint64) {
	if !s.Ready() {
		timer := time.NewTimer(s.cfg.InitialWait)
		select {
		case <-s.ready:
		case <-timer.C:
		case <-ctx.Done():
		}
		timer.Stop()

		if !s.Ready() {
			if err := s.ForceSyncNow(ctx); err != nil {
				s.log.WarnContext(ctx, "initial load failed, serving cache", "err", err)
			}
		}
	} else {
		s.TriggerSync()
	}

	return s.snapshot()
}

// AddEvent stores a new event built from req. The returned event is what the
// backend stored, which may carry a backend-assigned id.
func (s *Synchronizer) AddEvent(ctx context.Context, req event.CreateEventRequest) (event.Event, error) {
	e := event.NewFromCreateRequest(req, s.now())

	stored, err := s.backend.Create(ctx, e)
	if err != nil {
		return event.Event{}, fmt.Errorf("add event: %w", err)
	}

	if err := s.refresh(ctx); err != nil {
		s.log.WarnContext(ctx, "refresh after add failed, caching optimistically", "id", stored.ID, "err", err)

		s.mu.Lock()
		next := append(event.Clone(s.events), stored)
		event.Sort(next)
		s.replaceLocked(next)
		s.mu.Unlock()
	}

	s.log.InfoContext(ctx, "event added", "id", stored.ID, "date", stored.Date)

	return stored, nil
}

// DeleteEvent removes id. Deleting an id that does not exist succeeds.
func (s *Synchronizer) DeleteEvent(ctx context.Context, id string) error {
	removed, err := s.backend.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("delete event %s: %w", id, err)
	}

	if !removed {
		s.log.DebugContext(ctx, "delete of unknown id", "id", id)
	}

	if err := s.refresh(ctx); err != nil {
		s.log.WarnContext(ctx, "refresh after delete failed, filtering cache", "id", id, "err", err)

		s.mu.Lock()
		next := make([]event.Event, 0, len(s.events))
		for _, e := range s.events {
			if e.ID != id {
				next = append(next, e)
			}
		}
		s.replaceLocked(next)
		s.mu.Unlock()
	}

	return nil
}

// ForceSyncNow runs one pass on the caller's goroutine. If a pass is already
// in flight it returns nil without waiting for it.
func (s *Synchronizer) ForceSyncNow(ctx context.Context) error {
	return s.syncOnce(ctx, "force")
}

func (s *Synchronizer) syncOnce(ctx context.Context, reason string) error {
	if !s.syncing.CompareAndSwap(false, true) {
		s.counters.IncSkipped()
		s.observe(resultSkipped, 0)
		s.log.DebugContext(ctx, "sync skipped, pass in flight", "reason", reason)
		return nil
	}
	defer s.syncing.Store(false)

	s.mu.Lock()
	s.state = StateSyncing
	s.mu.Unlock()

	start := time.Now()
	err := s.refresh(ctx)
	elapsed := time.Since(start)

	s.counters.ObserveDuration(elapsed)

	if err != nil {
		s.counters.IncFailed()
		s.observe(resultError, elapsed)
		return fmt.Errorf("sync from %s: %w", s.backend.Name(), err)
	}

	s.counters.IncSucceeded()
	s.observe(resultOK, elapsed)

	s.log.DebugContext(ctx, "sync pass",
		"reason", reason,
		"count", s.cachedLen(),
		"duration_ms", elapsed.Milliseconds(),
	)

	return nil
}

// TriggerSync asks the background loop for a pass. Calls made while one is
// already pending coalesce.
func (s *Synchronizer) TriggerSync() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// Run blocks until ctx is done.
func (s *Synchronizer) Run(ctx context.Context) error {
	unsubscribe, err := storage.Subscribe(ctx, s.backend, s.TriggerSync)
	switch {
	case err == nil:
		defer unsubscribe()
		s.log.InfoContext(ctx, "subscribed to backend changes")
	case errors.Is(err, storage.ErrSubscribeUnsupported):
		s.log.DebugContext(ctx, "backend has no change feed, polling only")
	default:
		s.log.WarnContext(ctx, "subscribe failed, polling only", "err", err)
	}

	s.pass(ctx, "initial")

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("synchronizer stopped")
			return nil
		case <-ticker.C:
			s.pass(ctx, "interval")
		case <-s.kick:
			s.pass(ctx, "trigger")
		}
	}
}

func (s *Synchronizer) pass(ctx context.Context, reason string) {
	if err := s.syncOnce(ctx, reason); err != nil && ctx.Err() == nil {
		s.log.WarnContext(ctx, "sync failed, keeping cached events", "reason", reason, "err", err)
	}
}

// Ready reports whether the first pass has been attempted.
func (s *Synchronizer) Ready() bool {
	select {
	case <-s.ready:
		return true
	default:
		return false
	}
}

// Version increases every time the cache is replaced.
func (s *Synchronizer) Version() uint64 {
	return s.version.Load()
}

func (s *Synchronizer) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		Backend:     s.backend.Name(),
		Initialized: s.Ready(),
		Syncing:     s.syncing.Load(),
		State:       s.state,
		Events:      len(s.events),
		Version:     s.Version(),
		Stats:       s.counters.Snapshot(),
	}

	if !s.lastSyncAt.IsZero() {
		t := s.lastSyncAt
		st.LastSyncAt = &t
	}
	if !s.lastSuccessAt.IsZero() {
		t := s.lastSuccessAt
		st.LastSuccessAt = &t
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	if g, ok := s.backend.(interface{ State() string }); ok {
		st.Circuit = g.State()
	}

	return st
}

// refresh replaces the cache with the backend's collection. Either way the
// synchronizer counts as initialized afterwards.
func (s *Synchronizer) refresh(ctx context.Context) error {
	events, err := s.backend.List(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.readyOnce.Do(func() { close(s.ready) })

	s.lastSyncAt = s.now()
	s.lastErr = err

	if err != nil {
		s.state = StateError
		return err
	}

	s.state = StateSuccess
	s.lastSuccessAt = s.lastSyncAt

	next := event.Clone(events)
	event.Sort(next)
	s.replaceLocked(next)

	return nil
}

// replaceLocked must be called with s.mu held. The version only moves when
// the collection actually changes.
func (s *Synchronizer) replaceLocked(events []event.Event) {
	if s.version.Load() > 0 && event.Equal(s.events, events) {
		return
	}

	s.events = events
	s.version.Add(1)

	if s.metrics != nil {
		s.metrics.SetCachedEvents(len(events))
	}
}

func (s *Synchronizer) cachedLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.events)
}

func (s *Synchronizer) snapshot() ([]event.Event, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return event.Clone(s.events), s.version.Load()
}

func (s *Synchronizer) observe(result string, d time.Duration) {
	if s.metrics != nil {
		s.metrics.ObserveSync(result, d)
	}
}
