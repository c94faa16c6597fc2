package codec

import "sort"

// Snapshot format:
//   - entry count (4 bytes)
//   - per entry: key length (4 bytes) + key, value (8 bytes, float64)
//
// Keys are written in sorted order.

const minSnapshotEntrySize = 4 + 8

func EncodeSnapshot(values map[string]float64) []byte {
	keys := make([]string, 0, len(values))
	size := 4
	for k := range values {
		keys = append(keys, k)
		size += minSnapshotEntrySize + len(k)
	}
	sort.Strings(keys)

	buf := make([]byte, 0, size)
	buf = ByteOrder.AppendUint32(buf, uint32(len(keys)))
	for _, k := range keys {
		buf = appendString(buf, k)
		buf = appendFloat64(buf, values[k])
	}
	return buf
}

func DecodeSnapshot(data []byte) (map[string]float64, error) {
	rd := newReader("state snapshot", data)
	count := rd.uint32("entry count")
	if rd.err == nil && uint64(count)*minSnapshotEntrySize > uint64(rd.remaining()) {
		rd.fail("entry count exceeds buffer")
	}
	if rd.err != nil {
		return nil, rd.err
	}

	values := make(map[string]float64, count)
	for i := uint32(0); i < count && rd.err == nil; i++ {
		k := rd.string("key")
		v := rd.float64("value")
		if rd.err == nil {
			values[k] = v
		}
	}
	if err := rd.done(); err != nil {
		return nil, err
	}
	return values, nil
}
