package codec

import (
	"math"
	"unicode/utf8"
)

func appendString(buf []byte, s string) []byte {
	buf = ByteOrder.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}

func appendFloat64(buf []byte, v float64) []byte {
	return ByteOrder.AppendUint64(buf, math.Float64bits(v))
}

func appendInt64(buf []byte, v int64) []byte {
	return ByteOrder.AppendUint64(buf, uint64(v))
}

// reader walks a byte slice and remembers the first failure.
type reader struct {
	format string
	data   []byte
	offset int
	err    *DecodeError
}

func newReader(format string, data []byte) *reader {
	return &reader{format: format, data: data}
}

func (r *reader) fail(reason string) {
	if r.err == nil {
		r.err = &DecodeError{Format: r.format, Offset: r.offset, Reason: reason}
	}
}

func (r *reader) remaining() int {
	return len(r.data) - r.offset
}

func (r *reader) next(n int, what string) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.remaining() < n {
		r.fail("truncated " + what)
		return nil
	}
	b := r.data[r.offset : r.offset+n]
	r.offset += n
	return b
}

func (r *reader) uint32(what string) uint32 {
	b := r.next(4, what)
	if b == nil {
		return 0
	}
	return ByteOrder.Uint32(b)
}

func (r *reader) int64(what string) int64 {
	b := r.next(8, what)
	if b == nil {
		return 0
	}
	return int64(ByteOrder.Uint64(b))
}

func (r *reader) float64(what string) float64 {
	b := r.next(8, what)
	if b == nil {
		return 0
	}
	return math.Float64frombits(ByteOrder.Uint64(b))
}

func (r *reader) string(what string) string {
	n := r.uint32(what + " length")
	if r.err != nil {
		return ""
	}
	if uint64(n) > uint64(r.remaining()) {
		r.fail(what + " length exceeds buffer")
		return ""
	}
	b := r.next(int(n), what)
	if !utf8.Valid(b) {
		r.fail(what + " is not valid UTF-8")
		return ""
	}
	return string(b)
}

// done fails on trailing bytes and returns the recorded error, if any.
func (r *reader) done() error {
	if r.err == nil && r.remaining() > 0 {
		r.fail("trailing bytes")
	}
	if r.err != nil {
		return r.err
	}
	return nil
}
