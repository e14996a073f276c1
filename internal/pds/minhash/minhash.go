// Package minhash estimates the Jaccard similarity of two sets observed side
// by side.
//
// A MinHash keeps one signature per set: for each of n hash functions, the
// smallest hash value seen among that set's items. For any single hash
// function, the probability that the two sets share the same minimum equals
// their Jaccard similarity |A ∩ B| / |A ∪ B|, so the fraction of agreeing
// slots estimates it with standard error about 1/sqrt(n).
//
// Items arrive in pairs through AddProperty, one for each set, the way two
// attributes of the same event are observed together.
//
// Hash Family
// ===========
//
// Every item is first reduced to a 32-bit native hash h (the low half of its
// xxhash64). Slot i then uses
//
//	h_i = (h * (2i + 1) + salt_i) mod 1540483477
//
// The salts are drawn once, when the sketch is created, from the sketch's own
// random source. They are part of the sketch state and are persisted with it,
// so every observation of a given item is hashed by the same family.
//
// A MinHash is not safe for concurrent use.
package minhash

import (
	"errors"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"

	"approx.lopezb.com/internal/pds/rng"
)

const (
	// modulus of the slot hash family.
	modulus = 1540483477

	// empty marks a slot that has not seen any item. Every slot hash is
	// below modulus, so it never collides with a real value.
	empty = math.MaxUint32

	// maxHashFunctions bounds the signature length (accuracy ~0.001).
	maxHashFunctions = 1 << 20
)

var (
	// ErrInvalidAccuracy is returned for an accuracy outside (0, 1].
	ErrInvalidAccuracy = errors.New("minhash: accuracy must be in (0, 1]")

	// ErrAccuracyTooSmall is returned when the accuracy needs more than 2^20
	// hash functions.
	ErrAccuracyTooSmall = errors.New("minhash: accuracy too small")
)

// MinHash is a pair of MinHash signatures with a running agreement count.
type MinHash struct {
	accuracy   float64
	salts      []uint32
	first      []uint32
	second     []uint32
	agreeing   int
	properties uint64
	rand       *rng.Source
}

// Option configures a MinHash.
type Option func(*MinHash)

// WithSeed fixes the random source the salts are drawn from.
func WithSeed(seed uint64) Option {
	return func(m *MinHash) {
		m.rand = rng.NewSeeded(seed)
	}
}

// hashFunctionsFor returns ceil(1/accuracy^2), bounded by maxHashFunctions.
func hashFunctionsFor(accuracy float64) (int, error) {
	if !(accuracy > 0 && accuracy <= 1) {
		return 0, fmt.Errorf("%w: got %v", ErrInvalidAccuracy, accuracy)
	}
	n := math.Ceil(1 / (accuracy * accuracy))
	if n > maxHashFunctions {
		return 0, fmt.Errorf("%w: %v needs %v hash functions", ErrAccuracyTooSmall, accuracy, n)
	}
	return int(n), nil
}

// SizeFor returns the in-memory size in bytes of the signatures and salts of
// a sketch created with New(accuracy), without allocating it.
func SizeFor(accuracy float64) (int, error) {
	n, err := hashFunctionsFor(accuracy)
	if err != nil {
		return 0, err
	}
	return 3 * 4 * n, nil
}

// New creates a sketch with ceil(1/accuracy^2) hash functions.
func New(accuracy float64, opts ...Option) (*MinHash, error) {
	n, err := hashFunctionsFor(accuracy)
	if err != nil {
		return nil, err
	}

	m := &MinHash{accuracy: accuracy}
	for _, opt := range opts {
		opt(m)
	}
	if m.rand == nil {
		m.rand = rng.New()
	}

	m.salts = make([]uint32, n)
	for i := range m.salts {
		m.salts[i] = m.rand.Uint32N(modulus)
	}
	m.first = newSignature(n)
	m.second = newSignature(n)
	return m, nil
}

func newSignature(n int) []uint32 {
	s := make([]uint32, n)
	for i := range s {
		s[i] = empty
	}
	return s
}

// Accuracy returns the accuracy the sketch was created with.
func (m *MinHash) Accuracy() float64 { return m.accuracy }

// HashFunctions returns the signature length n.
func (m *MinHash) HashFunctions() int { return len(m.salts) }

// Properties returns the number of AddProperty calls observed.
func (m *MinHash) Properties() uint64 { return m.properties }

// AddProperty observes a for the first set and b for the second, lowering
// both signatures slot by slot and recounting the agreeing slots.
func (m *MinHash) AddProperty(a, b []byte) {
	ha := uint64(uint32(xxhash.Sum64(a)))
	hb := uint64(uint32(xxhash.Sum64(b)))

	agreeing := 0
	for i, salt := range m.salts {
		mult := uint64(2*i + 1)
		va := uint32((ha*mult + uint64(salt)) % modulus)
		vb := uint32((hb*mult + uint64(salt)) % modulus)

		if va < m.first[i] {
			m.first[i] = va
		}
		if vb < m.second[i] {
			m.second[i] = vb
		}
		if m.first[i] == m.second[i] {
			agreeing++
		}
	}

	m.agreeing = agreeing
	m.properties++
}

// Similarity returns the fraction of agreeing slots, in [0, 1]. An empty
// sketch reports 0.
func (m *MinHash) Similarity() float64 {
	return float64(m.agreeing) / float64(len(m.salts))
}

// recount recomputes the agreement count from the signatures.
func (m *MinHash) recount() {
	m.agreeing = 0
	if m.properties == 0 {
		return
	}
	for i := range m.first {
		if m.first[i] == m.second[i] {
			m.agreeing++
		}
	}
}
