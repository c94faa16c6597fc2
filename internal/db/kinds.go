package db

import (
	"fmt"
	"time"

	"github.com/ntentasd/nostradamus-history/internal/codec"
	"github.com/ntentasd/nostradamus-history/pkg/types"
)

const (
	IdentifierKey = "identifier"
	TimestampKey  = "timestamp"
)

// Kind binds a record type to its table and tells the repository how to
// decode rows and which value to analyse.
type Kind[T any] struct {
	Table  Table
	Decode func(Row) (T, error)
	Encode func(T) Row
	Value  func(T) float64
}

func ActivePower() Kind[types.ActivePowerRecord] {
	return Kind[types.ActivePowerRecord]{
		Table: Table{
			Name:          "active_power_records",
			PartitionKey:  IdentifierKey,
			ClusteringKey: TimestampKey,
			Columns: []Column{
				{IdentifierKey, "text"},
				{TimestampKey, "bigint"},
				{"value_in_w", "double"},
			},
		},
		Decode: func(r Row) (types.ActivePowerRecord, error) {
			d := rowDecoder{format: "active power row", row: r}
			rec := types.ActivePowerRecord{
				Identifier: d.string(IdentifierKey),
				Timestamp:  d.int64(TimestampKey),
				ValueInW:   d.float64("value_in_w"),
			}
			return rec, d.err
		},
		Encode: func(rec types.ActivePowerRecord) Row {
			return Row{
				IdentifierKey: rec.Identifier,
				TimestampKey:  rec.Timestamp,
				"value_in_w":  rec.ValueInW,
			}
		},
		Value: func(rec types.ActivePowerRecord) float64 { return rec.ValueInW },
	}
}

func AggregatedActivePower() Kind[types.AggregatedActivePowerRecord] {
	return Kind[types.AggregatedActivePowerRecord]{
		Table: Table{
			Name:          "aggregated_active_power_records",
			PartitionKey:  IdentifierKey,
			ClusteringKey: TimestampKey,
			Columns: []Column{
				{IdentifierKey, "text"},
				{TimestampKey, "bigint"},
				{"sum_in_w", "double"},
				{"record_count", "bigint"},
				{"average_in_w", "double"},
				{"min_in_w", "double"},
				{"max_in_w", "double"},
			},
		},
		Decode: func(r Row) (types.AggregatedActivePowerRecord, error) {
			d := rowDecoder{format: "aggregated active power row", row: r}
			rec := types.AggregatedActivePowerRecord{
				Identifier: d.string(IdentifierKey),
				Timestamp:  d.int64(TimestampKey),
				SumInW:     d.float64("sum_in_w"),
				Count:      d.int64("record_count"),
				AverageInW: d.float64("average_in_w"),
				MinInW:     d.float64("min_in_w"),
				MaxInW:     d.float64("max_in_w"),
			}
			return rec, d.err
		},
		Encode: func(rec types.AggregatedActivePowerRecord) Row {
			return Row{
				IdentifierKey:  rec.Identifier,
				TimestampKey:   rec.Timestamp,
				"sum_in_w":     rec.SumInW,
				"record_count": rec.Count,
				"average_in_w": rec.AverageInW,
				"min_in_w":     rec.MinInW,
				"max_in_w":     rec.MaxInW,
			}
		},
		Value: func(rec types.AggregatedActivePowerRecord) float64 { return rec.SumInW },
	}
}

const startTimestampKey = "start_timestamp"

func WindowedActivePower(wc types.WindowConfig) Kind[types.WindowedActivePowerRecord] {
	return Kind[types.WindowedActivePowerRecord]{
		Table: Table{
			Name:          wc.TableName(),
			PartitionKey:  IdentifierKey,
			ClusteringKey: startTimestampKey,
			Columns: []Column{
				{IdentifierKey, "text"},
				{startTimestampKey, "bigint"},
				{"duration_ms", "bigint"},
				{"mean", "double"},
				{"record_count", "bigint"},
			},
		},
		Decode: func(r Row) (types.WindowedActivePowerRecord, error) {
			d := rowDecoder{format: "windowed active power row", row: r}
			rec := types.WindowedActivePowerRecord{
				Identifier:     d.string(IdentifierKey),
				StartTimestamp: d.int64(startTimestampKey),
				Duration:       time.Duration(d.int64("duration_ms")) * time.Millisecond,
				Mean:           d.float64("mean"),
				Count:          d.int64("record_count"),
			}
			return rec, d.err
		},
		Encode: func(rec types.WindowedActivePowerRecord) Row {
			return Row{
				IdentifierKey:     rec.Identifier,
				startTimestampKey: rec.StartTimestamp,
				"duration_ms":     rec.Duration.Milliseconds(),
				"mean":            rec.Mean,
				"record_count":    rec.Count,
			}
		},
		Value: func(rec types.WindowedActivePowerRecord) float64 { return rec.Mean },
	}
}

// rowDecoder reads typed columns and keeps the first failure.
type rowDecoder struct {
	format string
	row    Row
	err    error
}

func (d *rowDecoder) value(col string) (any, bool) {
	if d.err != nil {
		return nil, false
	}
	v, ok := d.row[col]
	if !ok || v == nil {
		d.err = &codec.DecodeError{Format: d.format, Reason: "missing column " + col}
		return nil, false
	}
	return v, true
}

func (d *rowDecoder) mismatch(col string, v any) {
	d.err = &codec.DecodeError{Format: d.format, Reason: fmt.Sprintf("column %s has type %T", col, v)}
}

func (d *rowDecoder) string(col string) string {
	v, ok := d.value(col)
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		d.mismatch(col, v)
	}
	return s
}

func (d *rowDecoder) int64(col string) int64 {
	v, ok := d.value(col)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case int32:
		return int64(n)
	default:
		d.mismatch(col, v)
		return 0
	}
}

func (d *rowDecoder) float64(col string) float64 {
	v, ok := d.value(col)
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	default:
		d.mismatch(col, v)
		return 0
	}
}
