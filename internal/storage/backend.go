// Package storage defines the contract every event backend satisfies. One
// implementation is selected at startup and handed to the synchronizer.
package storage

import (
	"context"
	"errors"

	"github.com/campuscal/campuscal/internal/domain/event"
)

var (
	// ErrUnavailable wraps transport/config failures talking to a backend.
	ErrUnavailable = errors.New("backend unavailable")

	ErrCircuitOpen          = errors.New("backend circuit breaker open")
	ErrDuplicateID          = errors.New("event id already exists")
	ErrSubscribeUnsupported = errors.New("backend does not support subscriptions")
)

type Backend interface {
	Name() string
	// List returns the whole collection.
	List(ctx context.Context) ([]event.Event, error)
	// Create stores e and returns it as stored; row backends may assign a
	// different id.
	Create(ctx context.Context, e event.Event) (event.Event, error)
	// Delete reports whether a record was removed. A missing id is not an
	// error.
	Delete(ctx context.Context, id string) (bool, error)
}

// Subscriber is implemented by backends that can push change notifications.
// onChange carries no payload: receivers re-list.
type Subscriber interface {
	Subscribe(ctx context.Context, onChange func()) (unsubscribe func(), err error)
}

// Subscribe subscribes through b when it supports it.
func Subscribe(ctx context.Context, b Backend, onChange func()) (func(), error) {
	sub, ok := b.(Subscriber)
	if !ok {
		return nil, ErrSubscribeUnsupported
	}

	return sub.Subscribe(ctx, onChange)
}
