package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/campuscal/campuscal/internal/domain/event"
	"github.com/campuscal/campuscal/internal/storage"
	"github.com/jackc/pgx/v5/pgxpool"
)

const changesChannel = "events_changed"

// Listener turns NOTIFY events_changed into change callbacks. It holds one
// pooled connection while listening and reconnects with backoff.
type Listener struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewListener(pool *pgxpool.Pool, log *slog.Logger) *Listener {
	if log == nil {
		log = slog.Default()
	}

	return &Listener{pool: pool, log: log}
}

func (l *Listener) Subscribe(ctx context.Context, onChange func()) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)

	go l.loop(ctx, onChange)

	return cancel, nil
}

func (l *Listener) loop(ctx context.Context, onChange func()) {
	attempt := 0

	for {
		err := l.listenOnce(ctx, onChange, func() { attempt = 0 })
		if ctx.Err() != nil {
			return
		}

		delay := storage.ExponentialBackoff(attempt)
		attempt++

		l.log.Warn("postgres listener dropped, reconnecting", "err", err, "retry_in_ms", delay.Milliseconds())

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (l *Listener) listenOnce(ctx context.Context, onChange func(), connected func()) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+changesChannel); err != nil {
		return err
	}

	connected()
	l.log.Debug("postgres listener attached", "channel", changesChannel)

	// catch up on anything that changed while we were disconnected
	onChange()

	for {
		if _, err := conn.Conn().WaitForNotification(ctx); err != nil {
			return err
		}

		onChange()
	}
}

// Backend combines the repo with its listener so the synchronizer sees one
// push-capable storage.Backend. The schema is applied on the first call that
// reaches the database, so the backend can be opened while Postgres is down.
type Backend struct {
	*EventsRepo
	listener *Listener
	pool     *pgxpool.Pool

	schemaMu    sync.Mutex
	schemaReady bool
}

func NewBackend(pool *pgxpool.Pool, log *slog.Logger) *Backend {
	return &Backend{
		EventsRepo: NewEventsRepo(pool),
		listener:   NewListener(pool, log),
		pool:       pool,
	}
}

// EnsureSchema runs Migrate once per process, retrying on later calls until
// it succeeds.
func (b *Backend) EnsureSchema(ctx context.Context) error {
	b.schemaMu.Lock()
	defer b.schemaMu.Unlock()

	if b.schemaReady {
		return nil
	}

	if err := Migrate(ctx, b.pool); err != nil {
		return wrapConnErr(fmt.Errorf("migrate: %w", err))
	}

	b.schemaReady = true
	return nil
}

func (b *Backend) List(ctx context.Context) ([]event.Event, error) {
	if err := b.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return b.EventsRepo.List(ctx)
}

func (b *Backend) Create(ctx context.Context, e event.Event) (event.Event, error) {
	if err := b.EnsureSchema(ctx); err != nil {
		return event.Event{}, err
	}
	return b.EventsRepo.Create(ctx, e)
}

func (b *Backend) Delete(ctx context.Context, id string) (bool, error) {
	if err := b.EnsureSchema(ctx); err != nil {
		return false, err
	}
	return b.EventsRepo.Delete(ctx, id)
}

func (b *Backend) Subscribe(ctx context.Context, onChange func()) (func(), error) {
	return b.listener.Subscribe(ctx, onChange)
}
