package memory

import (
	"context"
	"sync"

	"github.com/campuscal/campuscal/internal/repo/kv"
)

// Store is an in-process kv.Store. Puts notify subscribers, which makes it
// behave like a push-capable backend for tests and single-process demos.
type Store struct {
	mu    sync.RWMutex
	items map[string][]byte // {"key": "value"}

	subsMu sync.Mutex
	nextID int
	subs   map[int]func()
}

func NewStore() *Store {
	return &Store{
		items: make(map[string][]byte),
		subs:  make(map[int]func()),
	}
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	v, ok := s.items[key]
	s.mu.RUnlock()

	if !ok {
		return nil, kv.ErrNotFound
	}

	out := make([]byte, len(v))
	copy(out, v)

	return out, nil
}

func (s *Store) Put(ctx context.Context, key string, val []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cp := make([]byte, len(val))
	copy(cp, val)

	s.mu.Lock()
	s.items[key] = cp
	s.mu.Unlock()

	s.notify()

	return nil
}

func (s *Store) Subscribe(ctx context.Context, onChange func()) (func(), error) {
	s.subsMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = onChange
	s.subsMu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, id)
			s.subsMu.Unlock()
		})
	}

	return unsubscribe, nil
}

func (s *Store) notify() {
	s.subsMu.Lock()
	fns := make([]func(), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subsMu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
