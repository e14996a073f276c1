package hyperloglog

import (
	"encoding/binary"
	"math/bits"

	"github.com/cespare/xxhash/v2"
)

// HasValidMagic checks if data starts with the HLL magic bytes without allocation.
func HasValidMagic(data []byte) bool {
	return len(data) >= 4 &&
		data[0] == 'H' && data[1] == 'Y' && data[2] == 'L' && data[3] == 'L'
}

// hashToIndexAndRank computes the bucket index and rank for a given item.
func hashToIndexAndRank(data []byte, p uint8) (index uint32, rank uint8) {
	//
	// DESIGN
	// ------
	//
	// The item is hashed to 32 bits (the low half of xxhash64). The top p
	// bits pick the bucket. Shifting the hash left by p discards them and
	// brings the remaining 32-p bits to the top, where the leading zeros
	// are counted. Bit p-1 is forced on after the shift so that a run of
	// zeros ends inside the 32-p usable bits: the rank is at most 33-p.
	//
	hash := uint32(xxhash.Sum64(data))

	index = hash >> (32 - p)
	remaining := hash<<p | 1<<(p-1)
	rank = uint8(bits.LeadingZeros32(remaining)) + 1

	return index, rank
}

// estimationFactor returns the alpha bias correction for b = 2^p buckets.
// Only p = 4, 5, 6 have tabulated values; everything else uses the
// closed form.
func estimationFactor(p uint8, b float64) float64 {
	switch p {
	case 4:
		return 0.673
	case 5:
		return 0.697
	case 6:
		return 0.709
	default:
		return 0.7213 / (1 + 1.079/b)
	}
}

// GetCachedCount peeks into the serialized form of an HLL to retrieve the
// cached cardinality without full deserialization. The second result is false
// when the cache is stale.
func GetCachedCount(data []byte) (uint64, bool) {
	if len(data) < headerSize {
		return 0, false
	}

	// Dirty bit: MSB of byte 15.
	if (data[15] & 0x80) != 0 {
		return 0, false
	}

	raw := binary.LittleEndian.Uint64(data[8:16])
	return raw & ^(uint64(1) << 63), true
}
