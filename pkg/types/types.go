// Package types
package types

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// ActivePowerRecord is a single power reading of one device.
type ActivePowerRecord struct {
	Identifier string  `json:"identifier"`
	Timestamp  int64   `json:"timestamp"`
	ValueInW   float64 `json:"valueInW"`
}

// AggregatedActivePowerRecord summarizes the last known values of all
// children of an aggregation group.
type AggregatedActivePowerRecord struct {
	Identifier string  `json:"identifier"`
	Timestamp  int64   `json:"timestamp"`
	SumInW     float64 `json:"sumInW"`
	Count      int64   `json:"count"`
	AverageInW float64 `json:"averageInW"`
	MinInW     float64 `json:"minInW"`
	MaxInW     float64 `json:"maxInW"`
}

// WindowedActivePowerRecord is the mean of the readings of one device within
// a tumbling window starting at StartTimestamp.
type WindowedActivePowerRecord struct {
	Identifier     string        `json:"identifier"`
	StartTimestamp int64         `json:"startTimestamp"`
	Duration       time.Duration `json:"-"`
	Mean           float64       `json:"mean"`
	Count          int64         `json:"count"`
}

// MarshalJSON writes the window length in milliseconds.
func (r WindowedActivePowerRecord) MarshalJSON() ([]byte, error) {
	type plain WindowedActivePowerRecord
	return json.Marshal(struct {
		plain
		DurationMs int64 `json:"durationMs"`
	}{plain(r), r.Duration.Milliseconds()})
}

type DistributionBucket struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Count int     `json:"count"`
}

// WindowConfig names a tumbling window. Windowed records of a config are
// stored in their own table.
type WindowConfig struct {
	Name     string
	Duration time.Duration
}

func (wc WindowConfig) TableName() string {
	return "windowed_active_power_" + wc.Name
}

// DurationMs is the window length in milliseconds, the unit of all record
// timestamps.
func (wc WindowConfig) DurationMs() int64 {
	return wc.Duration.Milliseconds()
}

// TimeRestriction bounds a time-series query. Unset bounds are unrestricted.
type TimeRestriction struct {
	from, after, to          int64
	hasFrom, hasAfter, hasTo bool
}

// WithFrom sets an inclusive lower bound.
func (tr TimeRestriction) WithFrom(from int64) TimeRestriction {
	tr.from, tr.hasFrom = from, true
	return tr
}

// WithAfter sets a strict lower bound.
func (tr TimeRestriction) WithAfter(after int64) TimeRestriction {
	tr.after, tr.hasAfter = after, true
	return tr
}

// WithTo sets an inclusive upper bound.
func (tr TimeRestriction) WithTo(to int64) TimeRestriction {
	tr.to, tr.hasTo = to, true
	return tr
}

func (tr TimeRestriction) From() (int64, bool)  { return tr.from, tr.hasFrom }
func (tr TimeRestriction) After() (int64, bool) { return tr.after, tr.hasAfter }
func (tr TimeRestriction) To() (int64, bool)    { return tr.to, tr.hasTo }

func (tr TimeRestriction) ToOrDefault(def int64) int64 {
	if tr.hasTo {
		return tr.to
	}
	return def
}

func (tr TimeRestriction) String() string {
	opt := func(v int64, ok bool) string {
		if !ok {
			return "-"
		}
		return fmt.Sprint(v)
	}
	return fmt.Sprintf("{from=%s after=%s to=%s}",
		opt(tr.from, tr.hasFrom), opt(tr.after, tr.hasAfter), opt(tr.to, tr.hasTo))
}

const (
	MinTimestamp int64 = math.MinInt64
	MaxTimestamp int64 = math.MaxInt64
)
