// Package hyperloglog implements the HyperLogLog algorithm for cardinality estimation.
//
// The HyperLogLog (HLL) algorithm is a probabilistic data structure used to
// estimate the number of distinct elements in a multiset. It achieves this
// using a fixed amount of memory, regardless of the actual cardinality.
//
// This implementation follows the original formulation of Flajolet et al. [1]:
//
//   - A 32-bit hash per item.
//   - A bucket count b = 2^p chosen from the requested relative accuracy,
//     since the standard error of the estimator is 1.04 / sqrt(b).
//   - The harmonic-mean raw estimator with the alpha correction, linear
//     counting for small cardinalities and the 2^32 correction for large ones.
//
// [1] P. Flajolet, Éric Fusy, O. Gandouet, and F. Meunier. Hyperloglog: The
//
//	analysis of a near-optimal cardinality estimation algorithm.
//
// The Algorithm
// =============
//
// The HLL algorithm exploits a statistical property of uniformly distributed
// hash values. When hashing random inputs, the probability of a hash starting
// with k leading zeros is 1/2^k. By observing the maximum number of leading
// zeros across many hashes, it is possible to estimate how many unique items
// have been processed.
//
// Each input element is hashed to a 32-bit value. This value is then split:
//
//  1. The top p bits select one of b = 2^p buckets.
//  2. The remaining 32-p bits give the "rank": the number of leading zeros
//     plus one. A guard bit keeps the rank at most 33-p.
//
// Each bucket stores the maximum rank ever observed for elements hashing to
// it, one byte per bucket.
//
// Sizing
// ======
//
// For a requested accuracy a in (0, 1]:
//
//	b = 2^ceil(log2(ceil((1.04 / a)^2)))
//
// The effective accuracy reported by Accuracy is 1.04 / sqrt(b), which is
// never worse than the requested one. More than 2^30 buckets is rejected.
//
// HLL Header
// ==========
//
// The serialized form starts with a 16-byte header:
//
//	+------+---+-----+----------+
//	| HYLL | P | N/U | Cardin.  |
//	+------+---+-----+----------+
//
// The first 4 bytes are the magic string "HYLL" for type identification.
// "P" is one byte holding the bucket-id width p.
// "N/U" are three unused bytes reserved for future use.
// "Cardin." is the 64-bit cached cardinality in little-endian format.
//
// The most significant bit of the cached cardinality (bit 63) serves as a
// "dirty flag". When set, it indicates the cache is stale and must be
// recomputed. The b bucket bytes follow the header.
package hyperloglog

import (
	"errors"
	"fmt"
	"math"
)

const (
	// errorFactor is the constant in the HLL standard error 1.04 / sqrt(b).
	errorFactor = 1.04

	// maxPrecision bounds the bucket-id width.
	maxPrecision = 30

	pow2to32 = 1 << 32
)

var (
	// ErrInvalidAccuracy is returned for an accuracy outside (0, 1].
	ErrInvalidAccuracy = errors.New("hyperloglog: accuracy must be in (0, 1]")

	// ErrAccuracyTooSmall is returned when the accuracy needs more than 2^30 buckets.
	ErrAccuracyTooSmall = errors.New("hyperloglog: accuracy too small")

	// ErrInvalidData is returned when serialized data is malformed.
	ErrInvalidData = errors.New("hyperloglog: invalid data")

	// ErrIncompatible is returned when merging sketches of different sizes.
	ErrIncompatible = errors.New("hyperloglog: bucket counts differ")
)

// HLL is a HyperLogLog cardinality sketch. It is not safe for concurrent use.
type HLL struct {
	header  hllHeader
	buckets []byte
}

// New creates an empty sketch sized for the given relative accuracy.
func New(accuracy float64) (*HLL, error) {
	p, err := precisionFor(accuracy)
	if err != nil {
		return nil, err
	}
	return newWithPrecision(p), nil
}

func newWithPrecision(p uint8) *HLL {
	return &HLL{
		header: hllHeader{
			precision:    p,
			cacheInvalid: true,
		},
		buckets: make([]byte, 1<<p),
	}
}

// SizeFor returns the serialized size in bytes of a sketch created with
// New(accuracy), without allocating it.
func SizeFor(accuracy float64) (int, error) {
	p, err := precisionFor(accuracy)
	if err != nil {
		return 0, err
	}
	return headerSize + 1<<p, nil
}

// precisionFor returns the bucket-id width needed for accuracy.
func precisionFor(accuracy float64) (uint8, error) {
	if !(accuracy > 0 && accuracy <= 1) {
		return 0, fmt.Errorf("%w: got %v", ErrInvalidAccuracy, accuracy)
	}

	n := math.Ceil(math.Pow(errorFactor/accuracy, 2))
	p := math.Ceil(math.Log2(n))
	if p > maxPrecision {
		return 0, fmt.Errorf("%w: %v needs 2^%v buckets", ErrAccuracyTooSmall, accuracy, p)
	}
	return uint8(max(p, 1)), nil
}

// Precision returns the bucket-id width p.
func (h *HLL) Precision() uint8 { return h.header.precision }

// Buckets returns the number of buckets b = 2^p.
func (h *HLL) Buckets() int { return len(h.buckets) }

// Accuracy returns the effective relative standard error 1.04 / sqrt(b).
func (h *HLL) Accuracy() float64 {
	return errorFactor / math.Sqrt(float64(len(h.buckets)))
}

// Add incorporates a new item into the estimate. It returns true if a bucket
// changed, which also invalidates the cached cardinality.
func (h *HLL) Add(data []byte) bool {
	index, rank := hashToIndexAndRank(data, h.header.precision)

	if rank > h.buckets[index] {
		h.buckets[index] = rank
		h.header.cacheInvalid = true
		return true
	}
	return false
}

// Count returns the estimated cardinality of the set. The result is cached
// until the next Add or Merge that changes a bucket.
func (h *HLL) Count() uint64 {
	if !h.header.cacheInvalid {
		return h.header.cachedCardinality
	}

	cardinality := h.estimate()
	h.header.cachedCardinality = cardinality
	h.header.cacheInvalid = false
	return cardinality
}

func (h *HLL) estimate() uint64 {
	//
	// DESIGN
	// ------
	//
	// The raw estimate is E = alpha * b^2 / sum(2^-M[i]), rounded up. Two
	// corrections apply at the ends of the range:
	//
	//   - Small range: while E < 2.5b and some bucket is still zero, linear
	//     counting over the empty buckets, -b * ln(V/b), is more accurate.
	//   - Large range: above 2^32/30, collisions in the 32-bit hash space
	//     make E undercount, corrected by -2^32 * ln(1 - E/2^32).
	//
	b := float64(len(h.buckets))

	sum := 0.0
	zeros := 0
	for _, v := range h.buckets {
		sum += math.Ldexp(1, -int(v))
		if v == 0 {
			zeros++
		}
	}

	e := math.Ceil(b * estimationFactor(h.header.precision, b) * (b / sum))

	switch {
	case e < 2.5*b && zeros > 0:
		return uint64(-b * math.Log(float64(zeros)/b))
	case e > pow2to32/30.0:
		if e >= pow2to32 {
			// The 32-bit hash space is saturated; no correction applies.
			return uint64(e)
		}
		return uint64(math.Ceil(-pow2to32 * math.Log(1-e/pow2to32)))
	default:
		return uint64(e)
	}
}

// ConfidenceInterval returns the cardinality widened by the relative error:
// [floor(c - c*acc), ceil(c + c*acc)].
func (h *HLL) ConfidenceInterval() (low, high uint64) {
	c := float64(h.Count())
	acc := h.Accuracy()
	return uint64(max(math.Floor(c-c*acc), 0)), uint64(math.Ceil(c + c*acc))
}

// Merge folds other into h, bucket by bucket, so that h estimates the
// cardinality of the union. Both sketches must have the same bucket count.
func (h *HLL) Merge(other *HLL) error {
	if len(h.buckets) != len(other.buckets) {
		return fmt.Errorf("%w: %d vs %d", ErrIncompatible, len(h.buckets), len(other.buckets))
	}

	for i, v := range other.buckets {
		if v > h.buckets[i] {
			h.buckets[i] = v
			h.header.cacheInvalid = true
		}
	}
	return nil
}

// Serialize converts the sketch into the header followed by one byte per
// bucket.
func (h *HLL) Serialize() []byte {
	result := make([]byte, 0, headerSize+len(h.buckets))
	result = append(result, h.header.serialize()...)
	result = append(result, h.buckets...)
	return result
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (h *HLL) MarshalBinary() ([]byte, error) {
	return h.Serialize(), nil
}

// Deserialize reconstructs a sketch from its serialized form. The bucket
// bytes are copied.
func Deserialize(data []byte) (*HLL, error) {
	header, err := deserializeHeader(data)
	if err != nil {
		return nil, err
	}

	want := 1 << header.precision
	if len(data)-headerSize != want {
		return nil, fmt.Errorf("%w: %d bucket bytes, want %d", ErrInvalidData, len(data)-headerSize, want)
	}

	maxRank := byte(33 - header.precision)
	buckets := make([]byte, want)
	copy(buckets, data[headerSize:])
	for i, v := range buckets {
		if v > maxRank {
			return nil, fmt.Errorf("%w: bucket %d holds rank %d", ErrInvalidData, i, v)
		}
	}

	return &HLL{header: *header, buckets: buckets}, nil
}
