package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ntentasd/nostradamus-history/internal/cache"
	"github.com/ntentasd/nostradamus-history/internal/db"
	"github.com/ntentasd/nostradamus-history/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	pingErr error
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string][]byte)}
}

func (c *memCache) SaveState(context.Context, string, []byte) error { return nil }

func (c *memCache) LoadState(context.Context, string) ([]byte, error) { return nil, cache.ErrCacheMiss }

func (c *memCache) StoreAggregate(_ context.Context, key string, data any, _ time.Duration) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = b
	return nil
}

func (c *memCache) FetchAggregate(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.entries[key]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return b, nil
}

func (c *memCache) Ping(context.Context) error { return c.pingErr }

func (c *memCache) Close() {}

type fixture struct {
	handler http.Handler
	raw     *db.Repository[types.ActivePowerRecord]
	cache   *memCache
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := db.NewMemory()

	raw := db.NewRepository(mem, db.ActivePower(), zerolog.Nop())
	agg := db.NewRepository(mem, db.AggregatedActivePower(), zerolog.Nop())
	wc := types.WindowConfig{Name: "minutely", Duration: time.Minute}
	win := db.NewRepository(mem, db.WindowedActivePower(wc), zerolog.Nop())
	for _, ensure := range []func(context.Context) error{raw.EnsureTable, agg.EnsureTable, win.EnsureTable} {
		require.NoError(t, ensure(ctx))
	}

	for i, v := range []float64{10, 20, 30, 40} {
		require.NoError(t, raw.Write(ctx, types.ActivePowerRecord{Identifier: "dev1", Timestamp: int64(i+1) * 100, ValueInW: v}))
	}
	require.NoError(t, agg.Write(ctx, types.AggregatedActivePowerRecord{Identifier: "room1", Timestamp: 100, SumInW: 30, Count: 2}))
	require.NoError(t, win.Write(ctx, types.WindowedActivePowerRecord{Identifier: "dev1", StartTimestamp: 0, Duration: time.Minute, Mean: 25, Count: 4}))

	c := newMemCache()
	app := New(raw, agg, map[string]*db.Repository[types.WindowedActivePowerRecord]{"minutely": win}, c, zerolog.Nop())
	app.CORS = true
	return &fixture{handler: NewMux(app), raw: raw, cache: c}
}

func (f *fixture) get(t *testing.T, target string, data any) int {
	t.Helper()
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))

	if data != nil && rec.Code == http.StatusOK {
		var body struct {
			Data json.RawMessage `json:"data"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.NoError(t, json.Unmarshal(body.Data, data))
	}
	return rec.Code
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusOK, f.get(t, "/healthz", nil))

	f.cache.pingErr = errors.New("down")
	assert.Equal(t, http.StatusServiceUnavailable, f.get(t, "/healthz", nil))
}

func TestIdentifiersAndTotalCount(t *testing.T) {
	f := newFixture(t)

	var ids []string
	require.Equal(t, http.StatusOK, f.get(t, "/power/raw/identifiers", &ids))
	assert.Equal(t, []string{"dev1"}, ids)

	var total int64
	require.Equal(t, http.StatusOK, f.get(t, "/power/raw/total-count", &total))
	assert.Equal(t, int64(4), total)

	require.Equal(t, http.StatusOK, f.get(t, "/power/aggregated/identifiers", &ids))
	assert.Equal(t, []string{"room1"}, ids)
}

func TestGetWithRestriction(t *testing.T) {
	f := newFixture(t)

	var recs []types.ActivePowerRecord
	require.Equal(t, http.StatusOK, f.get(t, "/power/raw/identifiers/dev1?after=100&to=300", &recs))
	assert.Len(t, recs, 2)

	require.Equal(t, http.StatusOK, f.get(t, "/power/raw/identifiers/unknown", &recs))
	assert.Empty(t, recs)

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/power/raw/identifiers/dev1?from=yesterday", nil))
}

func TestLatestAndEarliest(t *testing.T) {
	f := newFixture(t)

	var recs []types.ActivePowerRecord
	require.Equal(t, http.StatusOK, f.get(t, "/power/raw/identifiers/dev1/latest", &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, int64(400), recs[0].Timestamp)

	require.Equal(t, http.StatusOK, f.get(t, "/power/raw/identifiers/dev1/earliest?count=2", &recs))
	require.Len(t, recs, 2)
	assert.Equal(t, int64(100), recs[0].Timestamp)
	assert.Equal(t, int64(200), recs[1].Timestamp)

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/power/raw/identifiers/dev1/latest?count=0", nil))
}

func TestCount(t *testing.T) {
	f := newFixture(t)

	var n int64
	require.Equal(t, http.StatusOK, f.get(t, "/power/raw/identifiers/dev1/count?from=200", &n))
	assert.Equal(t, int64(3), n)
}

func TestTrend(t *testing.T) {
	f := newFixture(t)

	var trend float64
	require.Equal(t, http.StatusOK, f.get(t, "/power/raw/identifiers/dev1/trend?pointsToSmooth=2", &trend))
	assert.Equal(t, 35.0/15.0, trend)

	require.Equal(t, http.StatusOK, f.get(t, "/power/raw/identifiers/nobody/trend", &trend))
	assert.Equal(t, db.TrendUndefined, trend)
}

func TestTrendCachedForClosedIntervals(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var trend float64
	require.Equal(t, http.StatusOK, f.get(t, "/power/raw/identifiers/dev1/trend?to=400", &trend))
	assert.Equal(t, 4.0, trend)
	assert.Len(t, f.cache.entries, 1)

	// served from the cache even though the data changed
	require.NoError(t, f.raw.Write(ctx, types.ActivePowerRecord{Identifier: "dev1", Timestamp: 50, ValueInW: 40}))
	require.Equal(t, http.StatusOK, f.get(t, "/power/raw/identifiers/dev1/trend?to=400", &trend))
	assert.Equal(t, 4.0, trend)

	// open intervals are never cached
	require.Equal(t, http.StatusOK, f.get(t, "/power/raw/identifiers/dev1/trend", &trend))
	assert.Equal(t, 1.0, trend)
	assert.Len(t, f.cache.entries, 1)
}

func TestDistribution(t *testing.T) {
	f := newFixture(t)

	var buckets []types.DistributionBucket
	require.Equal(t, http.StatusOK, f.get(t, "/power/raw/identifiers/dev1/distribution", &buckets))
	require.Len(t, buckets, 4)
	assert.Equal(t, 10.0, buckets[0].Lower)
	assert.Equal(t, 40.0, buckets[3].Upper)

	total := 0
	for _, b := range buckets {
		total += b.Count
	}
	assert.Equal(t, 4, total)

	require.Equal(t, http.StatusOK, f.get(t, "/power/raw/identifiers/dev1/distribution?buckets=2&to=1000", &buckets))
	assert.Len(t, buckets, 2)
	// cached and decodable
	require.Equal(t, http.StatusOK, f.get(t, "/power/raw/identifiers/dev1/distribution?buckets=2&to=1000", &buckets))
	assert.Len(t, buckets, 2)

	assert.Equal(t, http.StatusBadRequest, f.get(t, "/power/raw/identifiers/dev1/distribution?buckets=-1", nil))
}

func TestWindowed(t *testing.T) {
	f := newFixture(t)

	var recs []map[string]any
	require.Equal(t, http.StatusOK, f.get(t, "/power/windowed/minutely/identifiers/dev1/latest", &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, 60000.0, recs[0]["durationMs"])
	assert.Equal(t, 25.0, recs[0]["mean"])

	assert.Equal(t, http.StatusNotFound, f.get(t, "/power/windowed/daily/identifiers/dev1", nil))
}

func TestIdentifiersNamedLikeRoutes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.raw.Write(ctx, types.ActivePowerRecord{Identifier: "total-count", Timestamp: 100, ValueInW: 1}))
	require.NoError(t, f.raw.Write(ctx, types.ActivePowerRecord{Identifier: "identifiers", Timestamp: 100, ValueInW: 2}))

	var recs []types.ActivePowerRecord
	require.Equal(t, http.StatusOK, f.get(t, "/power/raw/identifiers/total-count", &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, 1.0, recs[0].ValueInW)

	require.Equal(t, http.StatusOK, f.get(t, "/power/raw/identifiers/identifiers/latest", &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, 2.0, recs[0].ValueInW)

	var total int64
	require.Equal(t, http.StatusOK, f.get(t, "/power/raw/total-count", &total))
	assert.Equal(t, int64(6), total)
}

func TestSharedQuerySurvivesCancelledRequest(t *testing.T) {
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/power/raw/identifiers/dev1/trend?pointsToSmooth=2", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/power/raw/identifiers", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRequestID(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	const id = "6f1c2d8e-2f4b-4a39-9d7e-0c3a5b1e9f21"
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(requestIDHeader, id)
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, id, rec.Header().Get(requestIDHeader))
}
