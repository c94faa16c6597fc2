package codec

import (
	"errors"
	"math"
	"testing"

	"github.com/ntentasd/nostradamus-history/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActivePowerRoundTrip(t *testing.T) {
	records := []types.ActivePowerRecord{
		{Identifier: "dev1", Timestamp: 1000, ValueInW: 10.5},
		{Identifier: "", Timestamp: 0, ValueInW: 0},
		{Identifier: "küche-ofen", Timestamp: math.MinInt64, ValueInW: -3.25},
		{Identifier: "x", Timestamp: math.MaxInt64, ValueInW: math.MaxFloat64},
	}

	for _, r := range records {
		got, err := DecodeActivePower(EncodeActivePower(r))
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}
}

func TestActivePowerLayout(t *testing.T) {
	b := EncodeActivePower(types.ActivePowerRecord{Identifier: "ab", Timestamp: 1, ValueInW: 1})

	require.Len(t, b, 4+2+8+8)
	assert.Equal(t, []byte{0, 0, 0, 2, 'a', 'b'}, b[:6])
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 1}, b[6:14])
	assert.Equal(t, math.Float64bits(1), ByteOrder.Uint64(b[14:]))
}

func TestAggregatedRoundTrip(t *testing.T) {
	r := types.AggregatedActivePowerRecord{
		Identifier: "room1",
		Timestamp:  1000,
		SumInW:     30,
		Count:      2,
		AverageInW: 15,
		MinInW:     10,
		MaxInW:     20,
	}

	got, err := DecodeAggregatedActivePower(EncodeAggregatedActivePower(r))
	require.NoError(t, err)
	assert.Equal(t, r, got)
}

func TestSnapshotRoundTrip(t *testing.T) {
	values := map[string]float64{"dev1": 10, "dev2": 20.5, "": -1}

	got, err := DecodeSnapshot(EncodeSnapshot(values))
	require.NoError(t, err)
	assert.Equal(t, values, got)

	empty, err := DecodeSnapshot(EncodeSnapshot(nil))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSnapshotIsDeterministic(t *testing.T) {
	values := map[string]float64{"c": 3, "a": 1, "b": 2}
	assert.Equal(t, EncodeSnapshot(values), EncodeSnapshot(values))
}

func TestDecodeErrors(t *testing.T) {
	valid := EncodeActivePower(types.ActivePowerRecord{Identifier: "dev1", Timestamp: 5, ValueInW: 1})

	cases := map[string][]byte{
		"empty":            {},
		"short length":     {0, 0},
		"length too large": {0, 0, 0, 99, 'a'},
		"truncated value":  valid[:len(valid)-1],
		"trailing bytes":   append(append([]byte{}, valid...), 0),
		"invalid utf8":     {0, 0, 0, 1, 0xff, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0},
	}

	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeActivePower(data)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrDecode))

			var de *DecodeError
			require.True(t, errors.As(err, &de))
			assert.Equal(t, "active power record", de.Format)
		})
	}
}

func TestDecodeSnapshotRejectsOversizedCount(t *testing.T) {
	_, err := DecodeSnapshot([]byte{0xff, 0xff, 0xff, 0xff})
	require.ErrorIs(t, err, ErrDecode)

	b := EncodeSnapshot(map[string]float64{"dev1": 1})
	_, err = DecodeSnapshot(b[:len(b)-3])
	require.ErrorIs(t, err, ErrDecode)
}
