// Package rng provides the small per-sketch random source used by the
// randomized sketches (t-digest merge selection and shuffling, MinHash salts).
//
// Every sketch owns its own Source. Nothing here is shared or locked, and two
// sketches created with the same seed make the same random draws, which is
// what makes their tests reproducible.
package rng

import (
	"math"
	"sync/atomic"
)

// globalSeed is an atomic counter for seeding, avoiding time.Now() syscalls.
var globalSeed uint64 = 1

// Source is a xorshift64 generator. The zero value is not usable.
type Source struct {
	state uint64
}

// New returns a Source seeded from the process-wide counter.
func New() *Source {
	return NewSeeded(atomic.AddUint64(&globalSeed, 1))
}

// NewSeeded returns a Source whose sequence is fully determined by seed.
func NewSeeded(seed uint64) *Source {
	s := mix(seed)
	if s == 0 {
		// xorshift never leaves the all-zero state.
		s = 0x9e3779b97f4a7c15
	}
	return &Source{state: s}
}

// Uint64 returns the next 64 random bits.
func (s *Source) Uint64() uint64 {
	x := s.state
	x ^= x << 13
	x ^= x >> 7
	x ^= x << 17
	s.state = x
	return x
}

// Float64 returns a uniform value in [0, 1).
func (s *Source) Float64() float64 {
	return float64(s.Uint64()>>11) / (1 << 53)
}

// IntN returns a uniform value in [0, n). It panics if n <= 0.
func (s *Source) IntN(n int) int {
	if n <= 0 {
		panic("rng: invalid argument to IntN")
	}
	return int(s.bounded(uint64(n)))
}

// Uint32N returns a uniform value in [0, n). It panics if n == 0.
func (s *Source) Uint32N(n uint32) uint32 {
	if n == 0 {
		panic("rng: invalid argument to Uint32N")
	}
	return uint32(s.bounded(uint64(n)))
}

// bounded draws from [0, n) by rejection so that small n is not biased
// towards the low residues.
func (s *Source) bounded(n uint64) uint64 {
	limit := math.MaxUint64 - math.MaxUint64%n
	for {
		v := s.Uint64()
		if v < limit {
			return v % n
		}
	}
}

// mix applies SplitMix64 so that consecutive seeds start far apart.
func mix(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}
