// Package cms implements the Count-Min Sketch data structure.
//
// The Count-Min Sketch (CMS) is a probabilistic data structure used to estimate
// the frequency of events in a data stream. Unlike exact counters, CMS uses
// sub-linear space at the cost of some accuracy - it may overestimate frequencies
// but never underestimates them.
//
// Sizing
// ======
//
// A sketch is sized from two parameters:
//
//   - accuracy: the relative error bound. An estimate is at most
//     true_count + accuracy * N, where N is the total count of all items.
//   - certainty: the probability that an estimate exceeds that bound.
//
// Both must be in (0, 1]. The table dimensions follow the standard bounds:
//
//	width = ceil(e / accuracy)
//	depth = ceil(ln(1 / certainty))
//
// Binary Format
// =============
//
// The CMS is stored as a contiguous byte slice with the following layout:
//
//	+-------+-------+-------+-------+------------------+
//	| Magic | Width | Depth | Count | Counters...      |
//	+-------+-------+-------+-------+------------------+
//	  4B      4B      4B      8B      Width*Depth*8B
//
// Header (20 bytes):
//   - Magic (4 bytes): "CMS2" in Little Endian (0x32534D43)
//   - Width (4 bytes): Number of columns (hash table size)
//   - Depth (4 bytes): Number of rows (number of hash functions)
//   - Count (8 bytes): Total number of items added (sum of all deltas)
//
// Body:
//   - Counters: Width * Depth uint64 values in Little Endian, stored row-major.
//
// The Counter at row i, column j is located at offset:
//
//	HeaderSize + (i * Width + j) * 8
//
// Hashing
// =======
//
// Row hashes come from salted digests of the item. Round s hashes the byte s
// followed by the item with xxhash; the 8-byte digest is cut into two 4-byte
// chunks, each one row hash. Rounds continue with s+1 until every row has a
// hash. A row hash h selects column |int32(h) mod width|.
package cms

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
)

const (
	// Magic is the 4-byte identifier for CMS data.
	// "CMS2" in Little Endian: 0x32 0x53 0x4D 0x43
	Magic = 0x32534D43

	// HeaderSize is the size of the CMS header in bytes.
	// 4 (Magic) + 4 (Width) + 4 (Depth) + 8 (Count) = 20 bytes
	HeaderSize = 20

	counterSize = 8

	// MaxDepth bounds the number of rows (certainty ~1e-28). It also keeps the
	// one-byte round salt distinct for every row.
	MaxDepth = 64

	// MaxCells bounds width*depth: 2^25 counters, 256 MiB of table.
	MaxCells = 1 << 25
)

var (
	// ErrInvalidData is returned when the data is too short to be valid CMS.
	ErrInvalidData = errors.New("cms: data too short")

	// ErrInvalidMagic is returned when the magic bytes don't match.
	ErrInvalidMagic = errors.New("cms: invalid magic identifier")

	// ErrInvalidAccuracy is returned for an accuracy outside (0, 1].
	ErrInvalidAccuracy = errors.New("cms: accuracy must be in (0, 1]")

	// ErrInvalidCertainty is returned for a certainty outside (0, 1].
	ErrInvalidCertainty = errors.New("cms: certainty must be in (0, 1]")

	// ErrTooLarge is returned when the requested table exceeds MaxDepth rows
	// or MaxCells counters.
	ErrTooLarge = errors.New("cms: table too large")

	// ErrIncompatible is returned when merging sketches of different dimensions.
	ErrIncompatible = errors.New("cms: dimensions differ")
)

// CMS represents a Count-Min Sketch backed by a raw byte slice.
// The backing slice is the source of truth - all operations read from
// and write to it directly (zero-copy).
type CMS struct {
	backing []byte
}

// New creates a sketch sized for the given accuracy and certainty.
func New(accuracy, certainty float64) (*CMS, error) {
	width, depth, err := DimensionsFromProb(accuracy, certainty)
	if err != nil {
		return nil, err
	}
	return NewWithDimensions(width, depth)
}

// NewWithDimensions creates a fresh Count-Min Sketch with the specified
// dimensions. Zero dimensions are raised to 1; tables beyond MaxDepth rows or
// MaxCells counters return ErrTooLarge.
//
// Memory usage: HeaderSize + (width * depth * 8) bytes
func NewWithDimensions(width, depth uint32) (*CMS, error) {
	width = max(width, 1)
	depth = max(depth, 1)
	if err := checkDimensions(width, depth); err != nil {
		return nil, err
	}

	size := uint64(HeaderSize) + (uint64(width) * uint64(depth) * counterSize)
	data := make([]byte, size)

	binary.LittleEndian.PutUint32(data[0:4], Magic)
	binary.LittleEndian.PutUint32(data[4:8], width)
	binary.LittleEndian.PutUint32(data[8:12], depth)
	binary.LittleEndian.PutUint64(data[12:20], 0)

	return &CMS{backing: data}, nil
}

// SizeFor returns the size in bytes of a width x depth sketch, after the
// same clamping and limits as NewWithDimensions, without allocating it.
func SizeFor(width, depth uint32) (uint64, error) {
	width = max(width, 1)
	depth = max(depth, 1)
	if err := checkDimensions(width, depth); err != nil {
		return 0, err
	}
	return uint64(HeaderSize) + uint64(width)*uint64(depth)*counterSize, nil
}

// checkDimensions rejects tables larger than the package limits. The product
// of two uint32 values cannot overflow uint64.
func checkDimensions(width, depth uint32) error {
	if depth > MaxDepth {
		return fmt.Errorf("%w: depth %d exceeds %d", ErrTooLarge, depth, MaxDepth)
	}
	if uint64(width)*uint64(depth) > MaxCells {
		return fmt.Errorf("%w: %dx%d exceeds %d counters", ErrTooLarge, width, depth, MaxCells)
	}
	return nil
}

// NewFromBytes loads an existing CMS from a byte slice.
// This is a zero-copy operation - the CMS wraps the provided slice directly.
// The caller must ensure the slice is not modified externally while the CMS is in use.
func NewFromBytes(data []byte) (*CMS, error) {
	if len(data) < HeaderSize {
		return nil, ErrInvalidData
	}

	if binary.LittleEndian.Uint32(data[0:4]) != Magic {
		return nil, ErrInvalidMagic
	}

	width := binary.LittleEndian.Uint32(data[4:8])
	depth := binary.LittleEndian.Uint32(data[8:12])
	if width == 0 || depth == 0 {
		return nil, ErrInvalidData
	}
	if err := checkDimensions(width, depth); err != nil {
		return nil, err
	}
	expectedSize := uint64(HeaderSize) + (uint64(width) * uint64(depth) * counterSize)

	if uint64(len(data)) < expectedSize {
		return nil, ErrInvalidData
	}

	return &CMS{backing: data}, nil
}

// HasValidMagic checks if data starts with the CMS magic bytes without allocation.
func HasValidMagic(data []byte) bool {
	if len(data) < 4 {
		return false
	}
	return binary.LittleEndian.Uint32(data[0:4]) == Magic
}

// Width returns the number of columns (hash table size per row).
func (c *CMS) Width() uint32 {
	return binary.LittleEndian.Uint32(c.backing[4:8])
}

// Depth returns the number of rows (hash functions).
func (c *CMS) Depth() uint32 {
	return binary.LittleEndian.Uint32(c.backing[8:12])
}

// Count returns the total number of items added (sum of all deltas).
func (c *CMS) Count() uint64 {
	return binary.LittleEndian.Uint64(c.backing[12:20])
}

// Bytes returns the underlying byte slice.
func (c *CMS) Bytes() []byte {
	return c.backing
}

// MarshalBinary returns the backing slice.
func (c *CMS) MarshalBinary() ([]byte, error) {
	return c.backing, nil
}

// columns appends to dst the column selected by each row for item.
func (c *CMS) columns(dst []uint32, item []byte) []uint32 {
	width := int64(c.Width())
	depth := int(c.Depth())

	d := xxhash.New()
	var digest [8]byte
	for salt := 0; len(dst) < depth; salt++ {
		d.Reset()
		d.Write([]byte{byte(salt)})
		d.Write(item)
		binary.BigEndian.PutUint64(digest[:], d.Sum64())

		for i := 0; i < len(digest) && len(dst) < depth; i += 4 {
			h := int32(binary.BigEndian.Uint32(digest[i:]))
			col := int64(h) % width
			if col < 0 {
				col = -col
			}
			dst = append(dst, uint32(col))
		}
	}
	return dst
}

func (c *CMS) offset(row, col uint32) uint64 {
	return HeaderSize + (uint64(row)*uint64(c.Width())+uint64(col))*counterSize
}

// Insert counts one occurrence of item.
func (c *CMS) Insert(item []byte) {
	c.IncrBy(item, 1)
}

// IncrBy adds delta to every row's counter for item and returns the item's
// new estimate. Counters saturate at math.MaxUint64.
func (c *CMS) IncrBy(item []byte, delta uint64) uint64 {
	var buf [16]uint32
	cols := c.columns(buf[:0], item)

	est := uint64(math.MaxUint64)
	for row, col := range cols {
		off := c.offset(uint32(row), col)
		v := saturatingAdd(binary.LittleEndian.Uint64(c.backing[off:]), delta)
		binary.LittleEndian.PutUint64(c.backing[off:], v)
		est = min(est, v)
	}

	binary.LittleEndian.PutUint64(c.backing[12:20], saturatingAdd(c.Count(), delta))
	return est
}

// ApproximateCount returns the estimated frequency of item: the minimum
// counter across all rows. It never underestimates.
func (c *CMS) ApproximateCount(item []byte) uint64 {
	var buf [16]uint32
	cols := c.columns(buf[:0], item)

	est := uint64(math.MaxUint64)
	for row, col := range cols {
		est = min(est, binary.LittleEndian.Uint64(c.backing[c.offset(uint32(row), col):]))
	}
	return est
}

// Merge adds other's counters into c. Both sketches must have the same
// dimensions; since the hash family is fixed, equal dimensions imply the same
// item-to-column mapping.
func (c *CMS) Merge(other *CMS) error {
	if c.Width() != other.Width() || c.Depth() != other.Depth() {
		return fmt.Errorf("%w: %dx%d vs %dx%d", ErrIncompatible,
			c.Width(), c.Depth(), other.Width(), other.Depth())
	}

	end := c.offset(c.Depth(), 0)
	for off := uint64(HeaderSize); off < end; off += counterSize {
		v := saturatingAdd(binary.LittleEndian.Uint64(c.backing[off:]), binary.LittleEndian.Uint64(other.backing[off:]))
		binary.LittleEndian.PutUint64(c.backing[off:], v)
	}
	binary.LittleEndian.PutUint64(c.backing[12:20], saturatingAdd(c.Count(), other.Count()))
	return nil
}

func saturatingAdd(a, b uint64) uint64 {
	if a > math.MaxUint64-b {
		return math.MaxUint64
	}
	return a + b
}
