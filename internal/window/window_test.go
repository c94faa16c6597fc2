package window

import (
	"encoding/json"
	"sort"
	"testing"
	"time"

	"github.com/ntentasd/nostradamus-history/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStart(t *testing.T) {
	assert.Equal(t, int64(0), Start(0, 1000))
	assert.Equal(t, int64(1000), Start(1999, 1000))
	assert.Equal(t, int64(2000), Start(2000, 1000))
	assert.Equal(t, int64(-1000), Start(-1, 1000))
	assert.Equal(t, int64(-2000), Start(-1001, 1000))
	assert.Equal(t, int64(17), Start(17, 0))
}

func TestAdd(t *testing.T) {
	w := New(types.WindowConfig{Name: "s", Duration: time.Second}, zerolog.Nop())

	assert.Empty(t, w.Add("dev1", 100, 1))
	assert.Empty(t, w.Add("dev1", 900, 3))
	assert.Empty(t, w.Add("dev2", 500, 10))

	closed := w.Add("dev1", 1500, 7)
	require.Len(t, closed, 1)
	assert.Equal(t, types.WindowedActivePowerRecord{
		Identifier: "dev1", StartTimestamp: 0, Duration: time.Second, Mean: 2, Count: 2,
	}, closed[0])

	// late for the window opened at 1000
	assert.Empty(t, w.Add("dev1", 999, 100))

	rest := w.Flush()
	sort.Slice(rest, func(i, j int) bool { return rest[i].Identifier < rest[j].Identifier })
	require.Len(t, rest, 2)
	assert.Equal(t, int64(1000), rest[0].StartTimestamp)
	assert.Equal(t, 7.0, rest[0].Mean)
	assert.Equal(t, int64(1), rest[0].Count)
	assert.Equal(t, "dev2", rest[1].Identifier)

	assert.Empty(t, w.Flush())
}

func TestAddSkipsEmptyWindows(t *testing.T) {
	w := New(types.WindowConfig{Name: "s", Duration: time.Second}, zerolog.Nop())
	w.Add("dev1", 0, 4)

	closed := w.Add("dev1", 10_500, 8)
	require.Len(t, closed, 1)
	assert.Equal(t, int64(0), closed[0].StartTimestamp)

	rest := w.Flush()
	require.Len(t, rest, 1)
	assert.Equal(t, int64(10_000), rest[0].StartTimestamp)
}

func TestRecordJSON(t *testing.T) {
	b, err := json.Marshal(types.WindowedActivePowerRecord{
		Identifier: "dev1", StartTimestamp: 60000, Duration: time.Minute, Mean: 1.5, Count: 3,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"identifier":"dev1","startTimestamp":60000,"durationMs":60000,"mean":1.5,"count":3}`, string(b))
}
