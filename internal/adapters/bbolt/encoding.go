// Binary encoding for hit counters.
//
// Each counter is a fixed 8-byte little-endian uint64 keyed by label.
package bbolt

import (
	"encoding/binary"
	"fmt"
)

// counterSize is the byte size of an encoded counter.
const counterSize = 8

func encodeCounter(n uint64) []byte {
	buf := make([]byte, counterSize)
	binary.LittleEndian.PutUint64(buf, n)
	return buf
}

// decodeCounter treats a missing value as zero.
func decodeCounter(b []byte) (uint64, error) {
	if b == nil {
		return 0, nil
	}
	if len(b) != counterSize {
		return 0, fmt.Errorf("bad counter length %d", len(b))
	}
	return binary.LittleEndian.Uint64(b), nil
}
