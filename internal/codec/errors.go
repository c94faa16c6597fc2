// Package codec implements the binary wire formats shared by the ingest
// topics and the aggregation state snapshots.
//
// All formats use big-endian byte order. Strings are written as a uint32
// byte length followed by UTF-8 bytes.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ByteOrder is the byte order of every format in this package.
var ByteOrder = binary.BigEndian

var ErrDecode = errors.New("decode error")

// DecodeError reports malformed input. It matches ErrDecode with errors.Is.
type DecodeError struct {
	Format string
	Offset int
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s at offset %d: %s", e.Format, e.Offset, e.Reason)
}

func (e *DecodeError) Is(target error) bool {
	if target == ErrDecode {
		return true
	}
	_, ok := target.(*DecodeError)
	return ok
}
