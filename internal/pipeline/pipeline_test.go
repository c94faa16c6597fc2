package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ntentasd/nostradamus-history/internal/aggregation"
	"github.com/ntentasd/nostradamus-history/internal/cache"
	"github.com/ntentasd/nostradamus-history/internal/topology"
	"github.com/ntentasd/nostradamus-history/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticLookup map[string][]string

func (l staticLookup) AncestorsOf(id string) ([]string, error) {
	a, ok := l[id]
	if !ok {
		return nil, topology.ErrNotFound
	}
	return a, nil
}

type recorder struct {
	mu      sync.Mutex
	records []types.AggregatedActivePowerRecord
	err     error
}

func (r *recorder) Emit(_ context.Context, rec types.AggregatedActivePowerRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.records = append(r.records, rec)
	return nil
}

func (r *recorder) byGroup(group string) []types.AggregatedActivePowerRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.AggregatedActivePowerRecord
	for _, rec := range r.records {
		if rec.Identifier == group {
			out = append(out, rec)
		}
	}
	return out
}

type memSnapshots struct {
	mu      sync.Mutex
	states  map[string][]byte
	saves   int
	saveErr error
	loadErr error
}

func newMemSnapshots() *memSnapshots {
	return &memSnapshots{states: make(map[string][]byte)}
}

func (m *memSnapshots) LoadState(_ context.Context, group string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	b, ok := m.states[group]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return b, nil
}

func (m *memSnapshots) SaveState(_ context.Context, group string, b []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.states[group] = b
	return nil
}

func newTestPipeline(t *testing.T, lookup topology.Lookup, em Emitter, snaps Snapshots) *Pipeline {
	t.Helper()
	p := New(Config{Workers: 4, QueueSize: 16}, lookup, em, snaps, zerolog.Nop())
	p.Start(context.Background())
	return p
}

func TestFanOut(t *testing.T) {
	rec := &recorder{}
	p := newTestPipeline(t, staticLookup{"S": {"P1", "P2", "root"}}, rec, nil)

	require.NoError(t, p.Submit(context.Background(), types.ActivePowerRecord{Identifier: "S", Timestamp: 7, ValueInW: 3}))
	p.Close()

	require.Len(t, rec.records, 3)
	for _, g := range []string{"P1", "P2", "root"} {
		got := rec.byGroup(g)
		require.Len(t, got, 1, g)
		assert.Equal(t, types.AggregatedActivePowerRecord{
			Identifier: g, Timestamp: 7, SumInW: 3, Count: 1, AverageInW: 3, MinInW: 3, MaxInW: 3,
		}, got[0])
	}
}

func TestSiblingsMerge(t *testing.T) {
	rec := &recorder{}
	lookup := staticLookup{
		"dev1": {"room1", "building"},
		"dev2": {"room1", "building"},
	}
	p := newTestPipeline(t, lookup, rec, nil)

	ctx := context.Background()
	require.NoError(t, p.Submit(ctx, types.ActivePowerRecord{Identifier: "dev1", Timestamp: 1000, ValueInW: 10}))
	require.NoError(t, p.Submit(ctx, types.ActivePowerRecord{Identifier: "dev2", Timestamp: 1000, ValueInW: 20}))
	p.Close()

	room := rec.byGroup("room1")
	require.Len(t, room, 2)
	assert.Equal(t, types.AggregatedActivePowerRecord{
		Identifier: "room1", Timestamp: 1000, SumInW: 30, Count: 2, AverageInW: 15, MinInW: 10, MaxInW: 20,
	}, room[1])

	building := rec.byGroup("building")
	require.Len(t, building, 2)
	assert.Equal(t, 30.0, building[1].SumInW)
}

func TestUnknownSensorIsDropped(t *testing.T) {
	rec := &recorder{}
	p := newTestPipeline(t, staticLookup{}, rec, nil)

	err := p.Submit(context.Background(), types.ActivePowerRecord{Identifier: "ghost"})
	assert.ErrorIs(t, err, topology.ErrNotFound)
	p.Close()

	assert.Empty(t, rec.records)
}

func TestEmitErrorsDoNotStopWorkers(t *testing.T) {
	rec := &recorder{err: errors.New("broker down")}
	p := newTestPipeline(t, staticLookup{"dev1": {"room1"}}, rec, nil)

	ctx := context.Background()
	require.NoError(t, p.Submit(ctx, types.ActivePowerRecord{Identifier: "dev1", ValueInW: 1}))
	require.NoError(t, p.Submit(ctx, types.ActivePowerRecord{Identifier: "dev1", ValueInW: 2}))
	p.Close()

	assert.Empty(t, rec.records)
}

func TestSubmitAfterClose(t *testing.T) {
	p := newTestPipeline(t, staticLookup{"dev1": {"room1"}}, &recorder{}, newMemSnapshots())
	p.Close()
	p.Close()

	err := p.Submit(context.Background(), types.ActivePowerRecord{Identifier: "dev1"})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, p.Checkpoint(context.Background()), ErrClosed)
}

func TestSubmitHonoursContext(t *testing.T) {
	// not started, so the single unbuffered queue never drains
	p := New(Config{Workers: 1}, staticLookup{"dev1": {"room1"}}, &recorder{}, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := p.Submit(ctx, types.ActivePowerRecord{Identifier: "dev1"})
	assert.ErrorIs(t, err, context.Canceled)
	p.Close()
}

func TestConcurrentSubmitters(t *testing.T) {
	rec := &recorder{}
	lookup := staticLookup{}
	const devices = 32
	want := 0.0
	for i := 0; i < devices; i++ {
		lookup[fmt.Sprintf("dev%d", i)] = []string{fmt.Sprintf("room%d", i%4), "building"}
		want += float64(i)
	}
	p := newTestPipeline(t, lookup, rec, nil)

	var wg sync.WaitGroup
	for i := 0; i < devices; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := types.ActivePowerRecord{Identifier: fmt.Sprintf("dev%d", i), Timestamp: int64(i), ValueInW: float64(i)}
			assert.NoError(t, p.Submit(context.Background(), r))
		}(i)
	}
	wg.Wait()
	p.Close()

	building := rec.byGroup("building")
	require.Len(t, building, devices)
	last := building[len(building)-1]
	assert.Equal(t, int64(devices), last.Count)
	assert.Equal(t, want, last.SumInW)
	assert.Equal(t, 0.0, last.MinInW)
	assert.Equal(t, float64(devices-1), last.MaxInW)
}

func TestRestoreFromSnapshot(t *testing.T) {
	snaps := newMemSnapshots()
	prior := aggregation.NewState()
	prior.Update("dev9", 5)
	b, err := prior.MarshalBinary()
	require.NoError(t, err)
	snaps.states["room1"] = b

	rec := &recorder{}
	p := newTestPipeline(t, staticLookup{"dev1": {"room1"}}, rec, snaps)

	require.NoError(t, p.Submit(context.Background(), types.ActivePowerRecord{Identifier: "dev1", Timestamp: 1, ValueInW: 10}))
	p.Close()

	room := rec.byGroup("room1")
	require.Len(t, room, 1)
	assert.Equal(t, int64(2), room[0].Count)
	assert.Equal(t, 15.0, room[0].SumInW)
}

func TestMalformedSnapshotStartsEmpty(t *testing.T) {
	snaps := newMemSnapshots()
	snaps.states["room1"] = []byte{0xff}

	rec := &recorder{}
	p := newTestPipeline(t, staticLookup{"dev1": {"room1"}}, rec, snaps)

	require.NoError(t, p.Submit(context.Background(), types.ActivePowerRecord{Identifier: "dev1", ValueInW: 10}))
	p.Close()

	room := rec.byGroup("room1")
	require.Len(t, room, 1)
	assert.Equal(t, int64(1), room[0].Count)
}

func TestUnreadableSnapshotIsNotOverwritten(t *testing.T) {
	snaps := newMemSnapshots()
	prior := aggregation.NewState()
	prior.Update("dev1", 10)
	b, err := prior.MarshalBinary()
	require.NoError(t, err)
	snaps.states["room1"] = b
	snaps.loadErr = errors.New("i/o timeout")

	rec := &recorder{}
	p := newTestPipeline(t, staticLookup{"dev2": {"room1"}}, rec, snaps)
	defer p.Close()

	ctx := context.Background()
	require.NoError(t, p.Submit(ctx, types.ActivePowerRecord{Identifier: "dev2", Timestamp: 1, ValueInW: 20}))
	require.NoError(t, p.Checkpoint(ctx))

	assert.Empty(t, rec.byGroup("room1"))
	assert.Equal(t, 0, snaps.saves)
	assert.Equal(t, b, snaps.states["room1"])

	snaps.mu.Lock()
	snaps.loadErr = nil
	snaps.mu.Unlock()

	require.NoError(t, p.Submit(ctx, types.ActivePowerRecord{Identifier: "dev2", Timestamp: 2, ValueInW: 30}))
	require.NoError(t, p.Checkpoint(ctx))

	room := rec.byGroup("room1")
	require.Len(t, room, 1)
	assert.Equal(t, int64(2), room[0].Count)
	assert.Equal(t, 40.0, room[0].SumInW)

	restored := aggregation.NewState()
	require.NoError(t, restored.UnmarshalBinary(snaps.states["room1"]))
	assert.Equal(t, map[string]float64{"dev1": 10, "dev2": 30}, restored.Children())
}

func TestCheckpoint(t *testing.T) {
	snaps := newMemSnapshots()
	p := newTestPipeline(t, staticLookup{"dev1": {"room1", "building"}}, &recorder{}, snaps)
	defer p.Close()

	ctx := context.Background()
	require.NoError(t, p.Submit(ctx, types.ActivePowerRecord{Identifier: "dev1", ValueInW: 4}))
	require.NoError(t, p.Checkpoint(ctx))
	assert.Equal(t, 2, snaps.saves)

	// nothing changed since
	require.NoError(t, p.Checkpoint(ctx))
	assert.Equal(t, 2, snaps.saves)

	restored := aggregation.NewState()
	require.NoError(t, restored.UnmarshalBinary(snaps.states["room1"]))
	assert.Equal(t, map[string]float64{"dev1": 4}, restored.Children())
}

func TestCheckpointRetriesFailedSaves(t *testing.T) {
	snaps := newMemSnapshots()
	snaps.saveErr = errors.New("valkey down")
	p := newTestPipeline(t, staticLookup{"dev1": {"room1"}}, &recorder{}, snaps)
	defer p.Close()

	ctx := context.Background()
	require.NoError(t, p.Submit(ctx, types.ActivePowerRecord{Identifier: "dev1", ValueInW: 4}))
	assert.Error(t, p.Checkpoint(ctx))

	snaps.mu.Lock()
	snaps.saveErr = nil
	snaps.mu.Unlock()

	require.NoError(t, p.Checkpoint(ctx))
	assert.Equal(t, 1, snaps.saves)
}

func TestCheckpointWithoutSnapshots(t *testing.T) {
	p := newTestPipeline(t, staticLookup{}, &recorder{}, nil)
	defer p.Close()
	assert.NoError(t, p.Checkpoint(context.Background()))
}
