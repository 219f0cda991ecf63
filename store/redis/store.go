package redis

import (
	"context"
	"log/slog"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/genqueue"
	"github.com/xraph/genqueue/job"
)

// Compile-time interface checks.
var (
	_ job.Store       = (*Store)(nil)
	_ genqueue.Storer = (*Store)(nil)
)

// defaultMaxRetries bounds optimistic transaction retries in UpdateJob.
const defaultMaxRetries = 16

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithKeyPrefix namespaces all keys. Defaults to "genqueue:".
func WithKeyPrefix(p string) Option {
	return func(s *Store) { s.prefix = p }
}

// WithMaxRetries sets how many times UpdateJob retries a transaction
// that lost a race with another writer.
func WithMaxRetries(n int) Option {
	return func(s *Store) { s.maxRetries = n }
}

// Store implements job.Store backed by Redis.
type Store struct {
	client     goredis.UniversalClient
	logger     *slog.Logger
	prefix     string
	maxRetries int
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{
		client:     client,
		logger:     slog.Default(),
		prefix:     defaultKeyPrefix,
		maxRetries: defaultMaxRetries,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.UniversalClient { return s.client }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op; the caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }
