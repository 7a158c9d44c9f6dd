package redisstore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/campuscal/campuscal/internal/repo/kv"
	"github.com/redis/go-redis/v9"
)

// Store is a kv.Store on Redis. Every Put publishes on a changes channel so
// other instances can re-sync without waiting for their poll interval.
type Store struct {
	redisdb *redis.Client
	prefix  string
	log     *slog.Logger
}

type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

func New(cfg Config, log *slog.Logger) *Store {
	redisdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	return NewWithClient(redisdb, cfg.Prefix, log)
}

func NewWithClient(redisdb *redis.Client, prefix string, log *slog.Logger) *Store {
	if prefix == "" {
		prefix = "campuscal"
	}
	if log == nil {
		log = slog.Default()
	}

	return &Store{redisdb: redisdb, prefix: prefix, log: log}
}

// this ping function checks redis connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.redisdb.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.redisdb.Close()
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.redisdb.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, kv.ErrNotFound
	}

	return v, err
}

func (s *Store) Put(ctx context.Context, key string, val []byte) error {
	if err := s.redisdb.Set(ctx, s.key(key), val, 0).Err(); err != nil {
		return err
	}

	// a lost notification only delays other instances until their next poll
	if err := s.redisdb.Publish(ctx, s.channel(), key).Err(); err != nil {
		s.log.Warn("redis publish failed", "channel", s.channel(), "err", err)
	}

	return nil
}

func (s *Store) Subscribe(ctx context.Context, onChange func()) (func(), error) {
	pubsub := s.redisdb.Subscribe(ctx, s.channel())

	// wait for the subscription to be confirmed so callers know it is live
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	ch := pubsub.Channel()

	go func() {
		for range ch {
			onChange()
		}
	}()

	return func() { _ = pubsub.Close() }, nil
}

func (s *Store) key(k string) string { return s.prefix + ":" + k }

func (s *Store) channel() string { return s.prefix + ":changes" }
