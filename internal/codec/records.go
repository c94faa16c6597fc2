package codec

import "github.com/ntentasd/nostradamus-history/pkg/types"

// Reading format:
//   - identifier length (4 bytes) + identifier
//   - timestamp ms (8 bytes)
//   - value in W (8 bytes, float64)

func EncodeActivePower(r types.ActivePowerRecord) []byte {
	buf := make([]byte, 0, 4+len(r.Identifier)+16)
	buf = appendString(buf, r.Identifier)
	buf = appendInt64(buf, r.Timestamp)
	return appendFloat64(buf, r.ValueInW)
}

func DecodeActivePower(data []byte) (types.ActivePowerRecord, error) {
	rd := newReader("active power record", data)
	r := types.ActivePowerRecord{
		Identifier: rd.string("identifier"),
		Timestamp:  rd.int64("timestamp"),
		ValueInW:   rd.float64("value"),
	}
	if err := rd.done(); err != nil {
		return types.ActivePowerRecord{}, err
	}
	return r, nil
}

// Aggregated format:
//   - identifier length (4 bytes) + identifier
//   - timestamp ms (8 bytes)
//   - sum, count (int64), average, min, max (8 bytes each)

func EncodeAggregatedActivePower(r types.AggregatedActivePowerRecord) []byte {
	buf := make([]byte, 0, 4+len(r.Identifier)+48)
	buf = appendString(buf, r.Identifier)
	buf = appendInt64(buf, r.Timestamp)
	buf = appendFloat64(buf, r.SumInW)
	buf = appendInt64(buf, r.Count)
	buf = appendFloat64(buf, r.AverageInW)
	buf = appendFloat64(buf, r.MinInW)
	return appendFloat64(buf, r.MaxInW)
}

func DecodeAggregatedActivePower(data []byte) (types.AggregatedActivePowerRecord, error) {
	rd := newReader("aggregated active power record", data)
	r := types.AggregatedActivePowerRecord{
		Identifier: rd.string("identifier"),
		Timestamp:  rd.int64("timestamp"),
		SumInW:     rd.float64("sum"),
		Count:      rd.int64("count"),
		AverageInW: rd.float64("average"),
		MinInW:     rd.float64("min"),
		MaxInW:     rd.float64("max"),
	}
	if err := rd.done(); err != nil {
		return types.AggregatedActivePowerRecord{}, err
	}
	return r, nil
}
