package postgres_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/campuscal/campuscal/internal/db"
	"github.com/campuscal/campuscal/internal/domain/event"
	"github.com/campuscal/campuscal/internal/repo/postgres"
	"github.com/campuscal/campuscal/internal/storage"
	"github.com/jackc/pgx/v5/pgxpool"
)

func setupPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN not set")
	}

	pool, err := db.NewPool(dsn)
	if err != nil {
		t.Fatalf("pg pool: %v", err)
	}
	t.Cleanup(pool.Close)

	ctx := context.Background()
	if err := postgres.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	if _, err := pool.Exec(ctx, `TRUNCATE events`); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	return pool
}

func TestEventsRepo_CreateListDelete(t *testing.T) {
	pool := setupPool(t)
	ctx := context.Background()
	repo := postgres.NewEventsRepo(pool)

	now := time.Now().UTC().Truncate(time.Microsecond)
	e := event.NewFromCreateRequest(event.CreateEventRequest{
		Title:     "Club Meeting",
		ClubName:  "CS Club",
		Date:      "2025-05-10",
		StartTime: "15:00",
		EndTime:   "16:30",
	}, now)

	stored, err := repo.Create(ctx, e)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if stored.ID != e.ID || stored.Date != "2025-05-10" || stored.ClubName != "CS Club" {
		t.Fatalf("unexpected stored event: %+v", stored)
	}

	if _, err := repo.Create(ctx, e); err != storage.ErrDuplicateID {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}

	list, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || !list[0].CreatedAt.Equal(now) {
		t.Fatalf("unexpected list: %+v", list)
	}

	removed, err := repo.Delete(ctx, e.ID)
	if err != nil || !removed {
		t.Fatalf("delete: removed=%v err=%v", removed, err)
	}

	removed, err = repo.Delete(ctx, e.ID)
	if err != nil || removed {
		t.Fatalf("second delete: removed=%v err=%v", removed, err)
	}
}

func TestBackend_NotifiesOnInsert(t *testing.T) {
	pool := setupPool(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := postgres.NewBackend(pool, nil)

	hits := make(chan struct{}, 8)
	unsubscribe, err := b.Subscribe(ctx, func() { hits <- struct{}{} })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsubscribe()

	// initial catch-up callback
	select {
	case <-hits:
	case <-time.After(5 * time.Second):
		t.Fatal("listener never attached")
	}

	e := event.NewFromCreateRequest(event.CreateEventRequest{Title: "Push", ClubName: "Realtime", Date: "2025-05-11"}, time.Now())
	if _, err := b.Create(ctx, e); err != nil {
		t.Fatalf("create: %v", err)
	}

	select {
	case <-hits:
	case <-time.After(5 * time.Second):
		t.Fatal("no notification after insert")
	}
}
