// Package kv stores the whole event collection as one JSON document in a
// key-value store, the way browser local storage holds it. Every write is a
// read-modify-write of the full document with no transaction around it.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/campuscal/campuscal/internal/domain/event"
	"github.com/campuscal/campuscal/internal/storage"
)

const (
	DefaultKey       = "student_events"
	DefaultBackupKey = "student_events_backup"
)

// ErrNotFound is returned by Store.Get for a missing key.
var ErrNotFound = errors.New("key not found")

type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, val []byte) error
}

type Options struct {
	Name      string
	Key       string
	BackupKey string
	// Seed is written on first load when the store holds nothing.
	Seed   []event.Event
	Logger *slog.Logger
}

type Backend struct {
	store Store
	opts  Options
	log   *slog.Logger
}

func New(store Store, opts Options) *Backend {
	if opts.Name == "" {
		opts.Name = "kv"
	}
	if opts.Key == "" {
		opts.Key = DefaultKey
	}
	if opts.BackupKey == "" {
		opts.BackupKey = opts.Key + "_backup"
	}

	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Backend{store: store, opts: opts, log: log.With("backend", opts.Name)}
}

func (b *Backend) Name() string { return b.opts.Name }

func (b *Backend) List(ctx context.Context) ([]event.Event, error) {
	raw, err := b.store.Get(ctx, b.opts.Key)

	if errors.Is(err, ErrNotFound) {
		if len(b.opts.Seed) == 0 {
			return []event.Event{}, nil
		}

		seed := event.Clone(b.opts.Seed)
		if err := b.save(ctx, seed); err != nil {
			return nil, err
		}

		b.log.Info("seeded empty store", "count", len(seed))
		return seed, nil
	}

	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", storage.ErrUnavailable, b.opts.Key, err)
	}

	events, perr := decode(raw)
	if perr == nil {
		return events, nil
	}

	b.log.Error("stored events are malformed, trying backup", "key", b.opts.Key, "err", perr)

	return b.loadBackup(ctx), nil
}

func (b *Backend) Create(ctx context.Context, e event.Event) (event.Event, error) {
	events, err := b.List(ctx)
	if err != nil {
		return event.Event{}, err
	}

	for _, existing := range events {
		if existing.ID == e.ID {
			return event.Event{}, storage.ErrDuplicateID
		}
	}

	events = append(events, e)

	if err := b.save(ctx, events); err != nil {
		return event.Event{}, err
	}

	return e, nil
}

func (b *Backend) Delete(ctx context.Context, id string) (bool, error) {
	events, err := b.List(ctx)
	if err != nil {
		return false, err
	}

	kept := make([]event.Event, 0, len(events))
	for _, e := range events {
		if e.ID != id {
			kept = append(kept, e)
		}
	}

	if len(kept) == len(events) {
		return false, nil
	}

	if err := b.save(ctx, kept); err != nil {
		return false, err
	}

	return true, nil
}

// Subscribe delegates to the store when it can push changes.
func (b *Backend) Subscribe(ctx context.Context, onChange func()) (func(), error) {
	sub, ok := b.store.(storage.Subscriber)
	if !ok {
		return nil, storage.ErrSubscribeUnsupported
	}

	return sub.Subscribe(ctx, onChange)
}

// backup first so a torn primary write still leaves a good copy
func (b *Backend) save(ctx context.Context, events []event.Event) error {
	if events == nil {
		events = []event.Event{}
	}

	raw, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("encode events: %w", err)
	}

	if err := b.store.Put(ctx, b.opts.BackupKey, raw); err != nil {
		return fmt.Errorf("%w: put %s: %v", storage.ErrUnavailable, b.opts.BackupKey, err)
	}

	if err := b.store.Put(ctx, b.opts.Key, raw); err != nil {
		return fmt.Errorf("%w: put %s: %v", storage.ErrUnavailable, b.opts.Key, err)
	}

	return nil
}

func (b *Backend) loadBackup(ctx context.Context) []event.Event {
	raw, err := b.store.Get(ctx, b.opts.BackupKey)
	if err != nil {
		b.log.Warn("no usable backup, treating collection as empty", "key", b.opts.BackupKey, "err", err)
		return []event.Event{}
	}

	events, err := decode(raw)
	if err != nil {
		b.log.Error("backup is malformed too, treating collection as empty", "key", b.opts.BackupKey, "err", err)
		return []event.Event{}
	}

	return events
}

func decode(raw []byte) ([]event.Event, error) {
	var events []event.Event

	if err := json.Unmarshal(raw, &events); err != nil {
		return nil, err
	}

	if events == nil {
		events = []event.Event{}
	}

	return events, nil
}
