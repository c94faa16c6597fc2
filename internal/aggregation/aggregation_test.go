package aggregation

import (
	"sort"
	"testing"

	"github.com/ntentasd/nostradamus-history/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummary(t *testing.T) {
	s := NewState()
	s.Update("dev1", 10)
	s.Update("dev2", 20)
	s.Update("dev3", -5)

	assert.Equal(t, Summary{Sum: 25, Count: 3, Average: 25.0 / 3, Min: -5, Max: 20}, s.Summary())
}

func TestSummaryUsesLastValuePerChild(t *testing.T) {
	s := NewState()
	s.Update("dev1", 100)
	s.Update("dev2", 20)
	s.Update("dev1", 10)

	sum := s.Summary()
	assert.Equal(t, int64(2), sum.Count)
	assert.Equal(t, 30.0, sum.Sum)
	assert.Equal(t, 10.0, sum.Min)
	assert.Equal(t, 20.0, sum.Max)
}

func TestEmptySummary(t *testing.T) {
	assert.Equal(t, Summary{}, NewState().Summary())
}

func TestStateSnapshotRoundTrip(t *testing.T) {
	s := NewState()
	s.Update("dev1", 1.5)
	s.Update("dev2", 2.5)

	b, err := s.MarshalBinary()
	require.NoError(t, err)

	restored := NewState()
	require.NoError(t, restored.UnmarshalBinary(b))
	assert.Equal(t, s.Children(), restored.Children())
}

func TestArenaApply(t *testing.T) {
	a := NewArena()

	a.Apply("room1", types.ActivePowerRecord{Identifier: "dev1", Timestamp: 1000, ValueInW: 10})
	rec := a.Apply("room1", types.ActivePowerRecord{Identifier: "dev2", Timestamp: 1000, ValueInW: 20})

	assert.Equal(t, types.AggregatedActivePowerRecord{
		Identifier: "room1",
		Timestamp:  1000,
		SumInW:     30,
		Count:      2,
		AverageInW: 15,
		MinInW:     10,
		MaxInW:     20,
	}, rec)
	assert.Equal(t, 1, a.Len())
}

func TestArenaDirty(t *testing.T) {
	a := NewArena()
	a.Apply("room1", types.ActivePowerRecord{Identifier: "dev1", ValueInW: 1})
	a.Apply("building", types.ActivePowerRecord{Identifier: "dev1", ValueInW: 1})

	dirty := a.Dirty()
	sort.Strings(dirty)
	assert.Equal(t, []string{"building", "room1"}, dirty)
	assert.Empty(t, a.Dirty())

	a.MarkDirty("room1")
	assert.Equal(t, []string{"room1"}, a.Dirty())
}

func TestArenaHold(t *testing.T) {
	a := NewArena()
	a.Hold("room1")
	a.Apply("room1", types.ActivePowerRecord{Identifier: "dev2", ValueInW: 20})
	assert.True(t, a.Held("room1"))
	assert.Empty(t, a.Dirty())

	prior := NewState()
	prior.Update("dev1", 10)
	prior.Update("dev2", 5)
	a.Restore("room1", prior)

	assert.False(t, a.Held("room1"))
	assert.Equal(t, []string{"room1"}, a.Dirty())
	s, ok := a.Lookup("room1")
	assert.True(t, ok)
	assert.Equal(t, map[string]float64{"dev1": 10, "dev2": 20}, s.Children())
}
