// Package sketch ties the individual sketch packages together behind one
// type-erased handle, so storage and tooling can hold, identify, copy and
// decode any of them without knowing which one they have.
//
// Every sketch embeds a magic identifier at the start of its serialized form:
//
//	+-------------+------------+-----------------------------+
//	| Kind        | Magic      | Package                     |
//	+-------------+------------+-----------------------------+
//	| tdigest     | "TDG1"     | internal/pds/tdigest        |
//	| cms         | "CMS2"     | internal/pds/cms            |
//	| hyperloglog | "HYLL"     | internal/pds/hyperloglog    |
//	| minhash     | "MNH1"     | internal/pds/minhash        |
//	+-------------+------------+-----------------------------+
//
// Decode dispatches on that prefix.
package sketch

import (
	"bytes"
	"errors"
	"fmt"

	"approx.lopezb.com/internal/pds/cms"
	"approx.lopezb.com/internal/pds/hyperloglog"
	"approx.lopezb.com/internal/pds/minhash"
	"approx.lopezb.com/internal/pds/tdigest"
)

// ErrUnknownType is returned when data carries no known magic.
var ErrUnknownType = errors.New("sketch: unknown type")

// Sketch is any of the sketches in this module.
type Sketch interface {
	MarshalBinary() ([]byte, error)
}

// Kind names a sketch type.
type Kind string

const (
	KindTDigest     Kind = "tdigest"
	KindCMS         Kind = "cms"
	KindHyperLogLog Kind = "hyperloglog"
	KindMinHash     Kind = "minhash"
	KindUnknown     Kind = "unknown"
)

// KindOf reports the kind of s.
func KindOf(s Sketch) Kind {
	switch s.(type) {
	case *tdigest.TDigest:
		return KindTDigest
	case *cms.CMS:
		return KindCMS
	case *hyperloglog.HLL:
		return KindHyperLogLog
	case *minhash.MinHash:
		return KindMinHash
	default:
		return KindUnknown
	}
}

// Identify reports the kind of serialized data from its magic alone.
func Identify(data []byte) Kind {
	switch {
	case tdigest.HasValidMagic(data):
		return KindTDigest
	case cms.HasValidMagic(data):
		return KindCMS
	case hyperloglog.HasValidMagic(data):
		return KindHyperLogLog
	case minhash.HasValidMagic(data):
		return KindMinHash
	default:
		return KindUnknown
	}
}

// Decode reconstructs a sketch from its serialized form. The result never
// aliases data.
func Decode(data []byte) (Sketch, error) {
	switch Identify(data) {
	case KindTDigest:
		d := &tdigest.TDigest{}
		if err := d.UnmarshalBinary(data); err != nil {
			return nil, err
		}
		return d, nil
	case KindCMS:
		return cms.NewFromBytes(bytes.Clone(data))
	case KindHyperLogLog:
		return hyperloglog.Deserialize(data)
	case KindMinHash:
		m := &minhash.MinHash{}
		if err := m.UnmarshalBinary(data); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, ErrUnknownType
	}
}

// Clone returns an independent deep copy of s.
func Clone(s Sketch) (Sketch, error) {
	data, err := s.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

// Describe returns a one-line summary of s. For a HyperLogLog it computes
// (and caches) the cardinality.
func Describe(s Sketch) string {
	switch v := s.(type) {
	case *tdigest.TDigest:
		return fmt.Sprintf("Compression:%g, Count:%d, Centroids:%d", v.Compression(), v.Count(), v.Size())
	case *cms.CMS:
		return fmt.Sprintf("Width:%d, Depth:%d, Count:%d", v.Width(), v.Depth(), v.Count())
	case *hyperloglog.HLL:
		return fmt.Sprintf("Buckets:%d, Card:~%d", v.Buckets(), v.Count())
	case *minhash.MinHash:
		return fmt.Sprintf("HashFunctions:%d, Properties:%d, Similarity:%.4f", v.HashFunctions(), v.Properties(), v.Similarity())
	default:
		return ""
	}
}
