package hyperloglog

import (
	"encoding/binary"
	"fmt"
)

const (
	headerSize = 16
	Magic      = "HYLL"
)

type hllHeader struct {
	precision         uint8
	cachedCardinality uint64
	cacheInvalid      bool
}

// serialize encodes the in-memory hllHeader struct into its 16-byte on-disk
// representation. This function is the counterpart to deserializeHeader.
func (h hllHeader) serialize() []byte {
	//
	// DESIGN
	// ------
	//
	// +------+-----------+-----+-------------------------------+
	// | Bytes| Field     | Size| Notes                         |
	// +------+-----------+-----+-------------------------------+
	// | 0-3  | Magic     | 4   | "HYLL"                        |
	// | 4    | Precision | 1   | bucket-id width p, 1..30      |
	// | 5-7  | Not Used  | 3   | Reserved, must be zero        |
	// | 8-15 | Card.     | 8   | Cached cardinality (uint64)   |
	// +------+-----------+-----+-------------------------------+
	//

	buffer := make([]byte, headerSize)
	copy(buffer[0:4], Magic)
	buffer[4] = h.precision

	binary.LittleEndian.PutUint64(buffer[8:16], h.cachedCardinality)

	// The MSB of the cardinality field (MSB of byte 15 in little-endian) is
	// the dirty bit. Clear it before conditionally setting it.
	buffer[15] &= 0x7F
	if h.cacheInvalid {
		buffer[15] |= 0x80
	}

	return buffer
}

// deserializeHeader parses the first 16 bytes of data into an hllHeader.
func deserializeHeader(data []byte) (*hllHeader, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: slice is too short for header", ErrInvalidData)
	}

	if !HasValidMagic(data) {
		return nil, fmt.Errorf("%w: magic string not found", ErrInvalidData)
	}

	h := &hllHeader{precision: data[4]}
	if h.precision < 1 || h.precision > maxPrecision {
		return nil, fmt.Errorf("%w: precision %d out of range", ErrInvalidData, h.precision)
	}

	rawCardinality := binary.LittleEndian.Uint64(data[8:16])
	h.cacheInvalid = (rawCardinality >> 63) == 1
	h.cachedCardinality = rawCardinality & ^(uint64(1) << 63)

	return h, nil
}
