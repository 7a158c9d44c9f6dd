package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/campuscal/campuscal/internal/domain/event"
)

// Observer records backend call outcomes. observability.Prom implements it.
type Observer interface {
	ObserveBackend(op string, fn func() error) error
}

// circuitReporter is implemented by observers that export breaker state.
type circuitReporter interface {
	SetCircuitState(state string)
}

type GuardConfig struct {
	Timeout          time.Duration // hard timeout per call
	FailureThreshold int           // consecutive failures to open circuit
	Cooldown         time.Duration // how long to stay open before half-open
	HalfOpenMaxCalls int           // allow N trial calls in half-open
}

const (
	stateClosed   = "closed"
	stateOpen     = "open"
	stateHalfOpen = "half_open"
)

// Guarded wraps a Backend with a per-call timeout and a circuit breaker so a
// hung or failing store degrades reads to the cached copy quickly.
type Guarded struct {
	inner    Backend
	cfg      GuardConfig
	observer Observer
	now      func() time.Time

	mu                  sync.Mutex
	state               string
	consecutiveFailures int
	openedAt            time.Time
	halfOpenInFlight    int
}

func NewGuarded(inner Backend, cfg GuardConfig, observer Observer) *Guarded {
	//defaults
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 15 * time.Second
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = 1
	}

	g := &Guarded{
		inner:    inner,
		cfg:      cfg,
		observer: observer,
		now:      time.Now,
	}
	g.setState(stateClosed)

	return g
}

func (g *Guarded) Name() string { return g.inner.Name() }

func (g *Guarded) List(ctx context.Context) ([]event.Event, error) {
	var out []event.Event

	err := g.call(ctx, "list", func(ctx context.Context) error {
		var err error
		out, err = g.inner.List(ctx)
		return err
	})

	return out, err
}

func (g *Guarded) Create(ctx context.Context, e event.Event) (event.Event, error) {
	var out event.Event

	err := g.call(ctx, "create", func(ctx context.Context) error {
		var err error
		out, err = g.inner.Create(ctx, e)
		return err
	})

	return out, err
}

func (g *Guarded) Delete(ctx context.Context, id string) (bool, error) {
	var removed bool

	err := g.call(ctx, "delete", func(ctx context.Context) error {
		var err error
		removed, err = g.inner.Delete(ctx, id)
		return err
	})

	return removed, err
}

// Subscribe passes through; subscriptions manage their own reconnects and do
// not count against the breaker.
func (g *Guarded) Subscribe(ctx context.Context, onChange func()) (func(), error) {
	return Subscribe(ctx, g.inner, onChange)
}

// State is "closed", "open" or "half_open".
func (g *Guarded) State() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.state
}

func (g *Guarded) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	// fail-fast gate
	if !g.allowRequest() {
		return ErrCircuitOpen
	}

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	run := func() error { return fn(callCtx) }

	var err error
	if g.observer != nil {
		err = g.observer.ObserveBackend(op, run)
	} else {
		err = run()
	}

	// the caller walking away says nothing about backend health
	if err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled) {
		g.releaseProbe()
		return err
	}

	g.afterRequest(err)

	return err
}

func (g *Guarded) allowRequest() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	switch g.state {
	case stateClosed:
		return true
	case stateOpen:
		// cooldown has passed? move to half open
		if g.now().Sub(g.openedAt) >= g.cfg.Cooldown {
			g.setState(stateHalfOpen)
			g.halfOpenInFlight = 1
			return true
		}
		return false
	case stateHalfOpen:
		if g.halfOpenInFlight >= g.cfg.HalfOpenMaxCalls {
			return false
		}
		g.halfOpenInFlight++
		return true
	default:
		return true
	}
}

// releaseProbe frees a half-open slot without changing state.
func (g *Guarded) releaseProbe() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == stateHalfOpen && g.halfOpenInFlight > 0 {
		g.halfOpenInFlight--
	}
}

func (g *Guarded) afterRequest(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == stateHalfOpen && g.halfOpenInFlight > 0 {
		g.halfOpenInFlight--
	}

	if err == nil {
		g.consecutiveFailures = 0
		g.setState(stateClosed)
		return
	}

	if !countsAsFailure(err) {
		return
	}

	g.consecutiveFailures++

	if g.state == stateHalfOpen || g.consecutiveFailures >= g.cfg.FailureThreshold {
		g.setState(stateOpen)
		g.openedAt = g.now()
	}
}

// setState must be called with g.mu held.
func (g *Guarded) setState(state string) {
	if g.state == state {
		return
	}
	g.state = state

	if r, ok := g.observer.(circuitReporter); ok {
		r.SetCircuitState(state)
	}
}

// duplicate ids are caller errors, not backend health signals
func countsAsFailure(err error) bool {
	return !errors.Is(err, ErrDuplicateID)
}
