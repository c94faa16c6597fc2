package cache

import (
	"context"
	"errors"
	"time"
)

var ErrCacheMiss = errors.New("cache miss")

// Cache defines the general caching for the history service.
// It holds aggregation state snapshots and short-lived query results.
type Cache interface {
	// SaveState stores the encoded state snapshot of an aggregation group
	SaveState(ctx context.Context, group string, snapshot []byte) error

	// LoadState retrieves a state snapshot, ErrCacheMiss if there is none
	LoadState(ctx context.Context, group string) ([]byte, error)

	// StoreAggregate caches a computed query result with a TTL
	StoreAggregate(ctx context.Context, key string, data any, ttl time.Duration) error

	// FetchAggregate retrieves a query result, ErrCacheMiss if absent or expired
	FetchAggregate(ctx context.Context, key string) ([]byte, error)

	// Ping checks cache connection
	Ping(ctx context.Context) error

	// Close gracefully closes any connections
	Close()
}

const (
	statePrefix     = "agg-state:"
	aggregatePrefix = "query:"
)

func stateKey(group string) string {
	return statePrefix + group
}

func aggregateKey(key string) string {
	return aggregatePrefix + key
}
