package minhash

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/tinylib/msgp/msgp"
)

// Binary Format
// =============
//
//	+-------+--------------------------------------------------+
//	| Magic | MessagePack body                                 |
//	+-------+--------------------------------------------------+
//	  4B      float64 accuracy, uint64 properties,
//	          array header N, then N x (uint32 salt,
//	          uint32 first minimum, uint32 second minimum)
//
// Magic is "MNH1" in Little Endian. The agreement count is recomputed on
// decode.

const (
	// Magic identifies MinHash data. "MNH1" in Little Endian.
	Magic uint32 = 0x31484E4D

	magicSize = 4
)

var (
	// ErrInvalidData is returned when encoded data is truncated or inconsistent.
	ErrInvalidData = errors.New("minhash: invalid data")

	// ErrInvalidMagic is returned when the magic bytes don't match.
	ErrInvalidMagic = errors.New("minhash: invalid magic identifier")
)

// HasValidMagic checks if data starts with the MinHash magic bytes.
func HasValidMagic(data []byte) bool {
	if len(data) < magicSize {
		return false
	}
	return binary.LittleEndian.Uint32(data[0:4]) == Magic
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (m *MinHash) MarshalBinary() ([]byte, error) {
	o := make([]byte, magicSize, magicSize+24+15*len(m.salts))
	binary.LittleEndian.PutUint32(o[0:4], Magic)

	o = msgp.AppendFloat64(o, m.accuracy)
	o = msgp.AppendUint64(o, m.properties)
	o = msgp.AppendArrayHeader(o, uint32(len(m.salts)))
	for i, salt := range m.salts {
		o = msgp.AppendUint32(o, salt)
		o = msgp.AppendUint32(o, m.first[i])
		o = msgp.AppendUint32(o, m.second[i])
	}
	return o, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. It replaces the
// contents of m. On error m is left unchanged.
func (m *MinHash) UnmarshalBinary(data []byte) error {
	if len(data) < magicSize {
		return ErrInvalidData
	}
	if !HasValidMagic(data) {
		return ErrInvalidMagic
	}
	bts := data[magicSize:]

	accuracy, bts, err := msgp.ReadFloat64Bytes(bts)
	if err != nil {
		return fmt.Errorf("%w: accuracy: %v", ErrInvalidData, err)
	}
	if !(accuracy > 0 && accuracy <= 1) {
		return fmt.Errorf("%w: accuracy %v", ErrInvalidData, accuracy)
	}
	properties, bts, err := msgp.ReadUint64Bytes(bts)
	if err != nil {
		return fmt.Errorf("%w: properties: %v", ErrInvalidData, err)
	}
	n, bts, err := msgp.ReadArrayHeaderBytes(bts)
	if err != nil {
		return fmt.Errorf("%w: slots: %v", ErrInvalidData, err)
	}
	if n > maxHashFunctions {
		return fmt.Errorf("%w: %d slots", ErrInvalidData, n)
	}
	if want := math.Ceil(1 / (accuracy * accuracy)); float64(n) != want {
		return fmt.Errorf("%w: %d slots, accuracy %v needs %v", ErrInvalidData, n, accuracy, want)
	}

	salts := make([]uint32, n)
	first := make([]uint32, n)
	second := make([]uint32, n)
	for i := range salts {
		salts[i], bts, err = msgp.ReadUint32Bytes(bts)
		if err == nil {
			first[i], bts, err = msgp.ReadUint32Bytes(bts)
		}
		if err == nil {
			second[i], bts, err = msgp.ReadUint32Bytes(bts)
		}
		if err != nil {
			return fmt.Errorf("%w: slot %d: %v", ErrInvalidData, i, err)
		}
		if salts[i] >= modulus {
			return fmt.Errorf("%w: slot %d: salt out of range", ErrInvalidData, i)
		}
		if (first[i] >= modulus && first[i] != empty) || (second[i] >= modulus && second[i] != empty) {
			return fmt.Errorf("%w: slot %d: minimum out of range", ErrInvalidData, i)
		}
	}

	m.accuracy = accuracy
	m.properties = properties
	m.salts = salts
	m.first = first
	m.second = second
	m.recount()
	return nil
}
