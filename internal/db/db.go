package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Open builds a pool without dialing; connections are made on first use.
// MaxConns leaves room for the LISTEN connection the events listener holds
// open.
func Open(dbURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dbURL)

	if err != nil {
		return nil, err
	}

	cfg.MaxConns = 6
	cfg.MinConns = 0

	return pgxpool.NewWithConfig(context.Background(), cfg)
}

// NewPool connects and pings.
func NewPool(dbURL string) (*pgxpool.Pool, error) {
	pool, err := Open(dbURL)

	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)

	defer cancel()

	err = pool.Ping(ctx)

	if err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}
