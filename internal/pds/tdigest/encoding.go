package tdigest

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/tinylib/msgp/msgp"

	"approx.lopezb.com/internal/pds/rng"
)

// Binary Format
// =============
//
//	+-------+--------------------------------------------------+
//	| Magic | MessagePack body                                 |
//	+-------+--------------------------------------------------+
//	  4B      float64 compression, int64 count,
//	          array header N, then N x (float64 mean, int64 count)
//
// Magic is "TDG1" in Little Endian. Centroids are written in ascending order
// of mean. The random source is not persisted; a decoded digest gets a fresh
// one.

const (
	// Magic identifies t-digest data. "TDG1" in Little Endian.
	Magic uint32 = 0x31474454

	magicSize = 4
)

var (
	// ErrInvalidData is returned when encoded data is truncated or inconsistent.
	ErrInvalidData = errors.New("tdigest: invalid data")

	// ErrInvalidMagic is returned when the magic bytes don't match.
	ErrInvalidMagic = errors.New("tdigest: invalid magic identifier")
)

// HasValidMagic checks if data starts with the t-digest magic bytes.
func HasValidMagic(data []byte) bool {
	if len(data) < magicSize {
		return false
	}
	return binary.LittleEndian.Uint32(data[0:4]) == Magic
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (d *TDigest) MarshalBinary() ([]byte, error) {
	// 4 magic + ~9 per scalar, ~18 per centroid.
	o := make([]byte, magicSize, magicSize+32+18*d.centroids.size())
	binary.LittleEndian.PutUint32(o[0:4], Magic)

	o = msgp.AppendFloat64(o, d.compression)
	o = msgp.AppendInt64(o, d.count)
	o = msgp.AppendArrayHeader(o, uint32(d.centroids.size()))
	for _, c := range d.Centroids() {
		o = msgp.AppendFloat64(o, c.Mean)
		o = msgp.AppendInt64(o, c.Count)
	}
	return o, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. It replaces the
// contents of d. On error d is left unchanged.
func (d *TDigest) UnmarshalBinary(data []byte) error {
	if len(data) < magicSize {
		return ErrInvalidData
	}
	if !HasValidMagic(data) {
		return ErrInvalidMagic
	}
	bts := data[magicSize:]

	compression, bts, err := msgp.ReadFloat64Bytes(bts)
	if err != nil {
		return fmt.Errorf("%w: compression: %v", ErrInvalidData, err)
	}
	if math.IsNaN(compression) || compression < 1 {
		return fmt.Errorf("%w: compression %v", ErrInvalidData, compression)
	}
	count, bts, err := msgp.ReadInt64Bytes(bts)
	if err != nil {
		return fmt.Errorf("%w: count: %v", ErrInvalidData, err)
	}
	n, bts, err := msgp.ReadArrayHeaderBytes(bts)
	if err != nil {
		return fmt.Errorf("%w: centroids: %v", ErrInvalidData, err)
	}

	g := newGroupTree()
	var total int64
	prev := math.Inf(-1)
	for i := uint32(0); i < n; i++ {
		var mean float64
		var weight int64
		mean, bts, err = msgp.ReadFloat64Bytes(bts)
		if err != nil {
			return fmt.Errorf("%w: centroid %d: %v", ErrInvalidData, i, err)
		}
		weight, bts, err = msgp.ReadInt64Bytes(bts)
		if err != nil {
			return fmt.Errorf("%w: centroid %d: %v", ErrInvalidData, i, err)
		}
		if math.IsNaN(mean) || mean < prev || weight < 1 {
			return fmt.Errorf("%w: centroid %d out of order or empty", ErrInvalidData, i)
		}
		prev = mean
		g.add(mean, weight)
		total += weight
	}
	if total != count {
		return fmt.Errorf("%w: centroid weights sum to %d, header says %d", ErrInvalidData, total, count)
	}

	d.compression = compression
	d.count = count
	d.centroids = g
	if d.rand == nil {
		d.rand = rng.New()
	}
	return nil
}
