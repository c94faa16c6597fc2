package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/cespare/xxhash/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var _ Cache = (*Memcached)(nil)

type Memcached struct {
	client  *memcache.Client
	metrics *CacheMetrics
}

func NewMemcached(addr string) *Memcached {
	client := memcache.New(strings.Split(addr, ",")...)
	cm := NewCacheMetrics("memcached")
	return &Memcached{client, cm}
}

// memcached rejects keys longer than this
const maxMemcachedKey = 250

// memcachedKey replaces the spaces and control characters memcached does not
// accept. Keys that are still too long keep a prefix and get the hash of the
// full key appended.
func memcachedKey(key string) string {
	safe := strings.Map(func(r rune) rune {
		if r <= ' ' || r == 0x7f {
			return '_'
		}
		return r
	}, key)
	if len(safe) <= maxMemcachedKey {
		return safe
	}
	return fmt.Sprintf("%s:%016x", safe[:maxMemcachedKey-17], xxhash.Sum64String(key))
}

func (m *Memcached) store(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- m.client.Set(&memcache.Item{Key: memcachedKey(key), Value: val, Expiration: int32(ttl.Seconds())})
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(100 * time.Millisecond):
		return context.DeadlineExceeded
	}
}

func (m *Memcached) fetch(key string) ([]byte, error) {
	start := time.Now()
	item, err := m.client.Get(memcachedKey(key))
	switch {
	case err == memcache.ErrCacheMiss:
		m.metrics.RecordMiss()
		return nil, ErrCacheMiss
	case err != nil:
		return nil, fmt.Errorf("cache fetch: %w", err)
	default:
		m.metrics.RecordHit(start)
		return item.Value, nil
	}
}

func (m *Memcached) SaveState(ctx context.Context, group string, snapshot []byte) error {
	ctx, span := otel.Tracer("history-cache").Start(ctx, "cache.SaveState")
	defer span.End()

	span.SetAttributes(
		attribute.String("cache.driver", "memcached"),
		attribute.String("cache.group", group),
	)

	start := time.Now()
	if err := m.store(ctx, stateKey(group), snapshot, 0); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to store state: %w", err)
	}
	m.metrics.RecordWrite(start)
	span.SetStatus(codes.Ok, "")

	return nil
}

func (m *Memcached) LoadState(ctx context.Context, group string) ([]byte, error) {
	_, span := otel.Tracer("history-cache").Start(ctx, "cache.LoadState")
	defer span.End()

	span.SetAttributes(
		attribute.String("cache.driver", "memcached"),
		attribute.String("cache.group", group),
	)

	val, err := m.fetch(stateKey(group))
	if err != nil && err != ErrCacheMiss {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return val, err
}

func (m *Memcached) StoreAggregate(ctx context.Context, key string, data any, ttl time.Duration) error {
	ctx, span := otel.Tracer("history-cache").Start(ctx, "cache.StoreAggregate")
	defer span.End()

	span.SetAttributes(
		attribute.String("cache.driver", "memcached"),
		attribute.String("cache.key", key),
		attribute.Int64("cache.ttl", int64(ttl.Seconds())),
	)

	b, err := json.Marshal(data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to marshal aggregate: %w", err)
	}

	start := time.Now()
	if err := m.store(ctx, aggregateKey(key), b, ttl); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to store aggregate: %w", err)
	}
	m.metrics.RecordWrite(start)
	span.SetStatus(codes.Ok, "")

	return nil
}

func (m *Memcached) FetchAggregate(ctx context.Context, key string) ([]byte, error) {
	_, span := otel.Tracer("history-cache").Start(ctx, "cache.FetchAggregate")
	defer span.End()

	span.SetAttributes(
		attribute.String("cache.driver", "memcached"),
		attribute.String("cache.key", key),
	)

	val, err := m.fetch(aggregateKey(key))
	switch {
	case err == ErrCacheMiss:
		span.SetAttributes(attribute.String("cache.result", "miss"))
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	default:
		span.SetAttributes(attribute.String("cache.result", "hit"))
	}
	span.SetStatus(codes.Ok, "")
	return val, err
}

func (m *Memcached) Ping(ctx context.Context) error {
	return m.client.Ping()
}

func (m *Memcached) Close() {
	m.client.Close()
}
