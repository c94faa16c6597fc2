// Package aggregation keeps the last known value of every child of an
// aggregation group and derives summary statistics from it.
package aggregation

import (
	"math"

	"github.com/ntentasd/nostradamus-history/internal/codec"
	"github.com/ntentasd/nostradamus-history/pkg/types"
)

// State is the per-group map of child identifier to last observed value.
// It is not safe for concurrent use.
type State struct {
	children map[string]float64
}

func NewState() *State {
	return &State{children: make(map[string]float64)}
}

// Update records value as the last known value of child.
func (s *State) Update(child string, value float64) {
	s.children[child] = value
}

func (s *State) Len() int {
	return len(s.children)
}

// Children returns a copy of the child values.
func (s *State) Children() map[string]float64 {
	out := make(map[string]float64, len(s.children))
	for k, v := range s.children {
		out[k] = v
	}
	return out
}

type Summary struct {
	Sum     float64
	Count   int64
	Average float64
	Min     float64
	Max     float64
}

// Summary recomputes the statistics over all current child values.
func (s *State) Summary() Summary {
	if len(s.children) == 0 {
		return Summary{}
	}

	sum := Summary{Min: math.Inf(1), Max: math.Inf(-1)}
	for _, v := range s.children {
		sum.Sum += v
		sum.Count++
		sum.Min = math.Min(sum.Min, v)
		sum.Max = math.Max(sum.Max, v)
	}
	sum.Average = sum.Sum / float64(sum.Count)
	return sum
}

// Record builds the aggregated record of group at timestamp.
func (s *State) Record(group string, timestamp int64) types.AggregatedActivePowerRecord {
	sum := s.Summary()
	return types.AggregatedActivePowerRecord{
		Identifier: group,
		Timestamp:  timestamp,
		SumInW:     sum.Sum,
		Count:      sum.Count,
		AverageInW: sum.Average,
		MinInW:     sum.Min,
		MaxInW:     sum.Max,
	}
}

func (s *State) MarshalBinary() ([]byte, error) {
	return codec.EncodeSnapshot(s.children), nil
}

func (s *State) UnmarshalBinary(data []byte) error {
	children, err := codec.DecodeSnapshot(data)
	if err != nil {
		return err
	}
	s.children = children
	return nil
}
