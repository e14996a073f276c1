// Package tdigest implements the t-digest quantile sketch on top of an AVL
// tree of centroids.
//
// A t-digest summarizes a stream of numbers as a sorted set of centroids, each
// a (mean, count) pair. Centroids near the median are allowed to absorb many
// samples while centroids near the tails are kept small, so extreme quantiles
// (p99, p999) stay accurate while the total number of centroids stays roughly
// proportional to the compression parameter.
//
// Insertion
// =========
//
// A new sample x with weight w is routed to the centroid(s) whose mean is
// closest to x. A candidate centroid c at estimated quantile q may absorb the
// sample only if
//
//	count(c) + w <= 4 * N * q * (1 - q) / compression
//
// where N is the total weight seen so far. When several equally close
// centroids qualify, one is picked uniformly with reservoir sampling. If none
// qualifies the sample becomes a new centroid. Once the digest holds more than
// 20 * compression centroids it is compressed: every centroid is re-inserted,
// in random order, into a fresh tree.
//
// Quantiles
// =========
//
// Each centroid is treated as sitting at the center of the rank range it
// covers. A quantile is found by locating the two centroids whose centers
// bracket the target rank and interpolating linearly between their means.
// Ranks before the first center and after the last one are extrapolated from
// the two outermost centroids.
//
// Randomness
// ==========
//
// Merge selection and compression shuffles draw from a random source owned by
// the digest. WithSeed makes a digest fully reproducible.
//
// A digest is not safe for concurrent use.
package tdigest

import (
	"errors"
	"fmt"
	"math"

	"approx.lopezb.com/internal/pds/avltree"
	"approx.lopezb.com/internal/pds/rng"
)

var (
	// ErrInvalidCompression is returned when compression is below 1 or NaN.
	ErrInvalidCompression = errors.New("tdigest: compression must be >= 1")

	// ErrInvalidQuantile is returned for quantiles outside [0, 1].
	ErrInvalidQuantile = errors.New("tdigest: quantile must be in [0, 1]")

	// ErrNaN is returned when a NaN sample is added.
	ErrNaN = errors.New("tdigest: cannot add NaN")

	// ErrInvalidWeight is returned when a sample weight is below 1.
	ErrInvalidWeight = errors.New("tdigest: weight must be >= 1")

	// ErrWeightOverflow is returned when a sample or merge would push the total
	// weight past math.MaxInt64.
	ErrWeightOverflow = errors.New("tdigest: total weight overflows int64")

	// ErrInvalidAccuracy is returned by NewForQuantile for accuracy outside (0, 1].
	ErrInvalidAccuracy = errors.New("tdigest: accuracy must be in (0, 1]")
)

// Centroid is a (mean, count) summary of a cluster of samples.
type Centroid struct {
	Mean  float64
	Count int64
}

// TDigest is a t-digest quantile sketch.
type TDigest struct {
	compression float64
	count       int64
	centroids   *groupTree
	rand        *rng.Source
}

// Option configures a TDigest.
type Option func(*TDigest)

// WithSeed fixes the digest's random source.
func WithSeed(seed uint64) Option {
	return func(d *TDigest) {
		d.rand = rng.NewSeeded(seed)
	}
}

// New creates an empty digest. Typical compression values are 100 (a few
// hundred centroids) to 1000 (very large).
func New(compression float64, opts ...Option) (*TDigest, error) {
	if math.IsNaN(compression) || compression < 1 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidCompression, compression)
	}

	d := &TDigest{
		compression: compression,
		centroids:   newGroupTree(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.rand == nil {
		d.rand = rng.New()
	}
	return d, nil
}

// NewForQuantile sizes a digest for estimating quantile q within the given
// relative accuracy: compression = q(1-q)/accuracy.
func NewForQuantile(q, accuracy float64, opts ...Option) (*TDigest, error) {
	if math.IsNaN(q) || q < 0 || q > 1 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidQuantile, q)
	}
	if math.IsNaN(accuracy) || accuracy <= 0 || accuracy > 1 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidAccuracy, accuracy)
	}
	return New(q*(1-q)/accuracy, opts...)
}

// Compression returns the compression parameter.
func (d *TDigest) Compression() float64 { return d.compression }

// Count returns the total weight added.
func (d *TDigest) Count() int64 { return d.count }

// Size returns the number of centroids.
func (d *TDigest) Size() int { return d.centroids.size() }

// Centroids returns a copy of the centroids in ascending order of mean.
func (d *TDigest) Centroids() []Centroid {
	out := make([]Centroid, 0, d.centroids.size())
	for n := d.centroids.least(); n != avltree.NIL; n = d.centroids.next(n) {
		out = append(out, Centroid{Mean: d.centroids.mean(n), Count: d.centroids.weight(n)})
	}
	return out
}

// Add records sample x with weight w.
func (d *TDigest) Add(x float64, w int64) error {
	if math.IsNaN(x) {
		return ErrNaN
	}
	if w < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidWeight, w)
	}
	if w > math.MaxInt64-d.count {
		return fmt.Errorf("%w: %d + %d", ErrWeightOverflow, d.count, w)
	}
	d.add(x, w)
	return nil
}

func (d *TDigest) add(x float64, w int64) {
	g := d.centroids

	start := g.floorNode(x)
	if start == avltree.NIL {
		start = g.least()
	}

	if start == avltree.NIL {
		g.add(x, w)
		d.count = w
		return
	}

	//
	// DESIGN
	// ------
	//
	// The scan starts at the last centroid below x and walks right while the
	// distance to x keeps shrinking. All centroids at exactly the minimum
	// distance form the candidate window [start, lastNeighbor). The scan stops
	// at the first centroid that is farther away than the best seen, since
	// means only grow from there.
	//
	minDistance := math.MaxFloat64
	lastNeighbor := avltree.NIL
	for neighbor := start; neighbor != avltree.NIL; neighbor = g.next(neighbor) {
		diff := math.Abs(g.mean(neighbor) - x)
		if diff < minDistance {
			start = neighbor
			minDistance = diff
		} else if diff > minDistance {
			lastNeighbor = neighbor
			break
		}
	}

	closest := avltree.NIL
	sum := g.headSum(start)
	n := 0.0
	for neighbor := start; neighbor != lastNeighbor; neighbor = g.next(neighbor) {
		c := g.weight(neighbor)
		q := 0.5
		if d.count != 1 {
			q = (float64(sum) + float64(c-1)/2) / float64(d.count-1)
		}
		k := 4 * float64(d.count) * q * (1 - q) / d.compression

		if float64(c+w) <= k {
			n++
			if d.rand.Float64() < 1/n {
				closest = neighbor
			}
		}
		sum += c
	}

	if closest == avltree.NIL {
		g.add(x, w)
	} else {
		c := g.weight(closest)
		g.update(closest, weightedAverage(g.mean(closest), c, x, w), c+w)
	}
	d.count += w

	if float64(g.size()) > 20*d.compression {
		d.Compress()
	}
}

// Compress rebuilds the digest by re-inserting every centroid in random order.
// It is run automatically when the digest grows too large; calling it
// explicitly may shrink a digest built from badly ordered input.
func (d *TDigest) Compress() {
	old := d.centroids
	if old.size() <= 1 {
		return
	}

	nodes := make([]int, 0, old.size())
	for n := old.least(); n != avltree.NIL; n = old.next(n) {
		nodes = append(nodes, n)
	}
	shuffle(d.rand, nodes)

	d.centroids = newGroupTree()
	for _, n := range nodes {
		d.add(old.mean(n), old.weight(n))
	}
}

// shuffle is a Fisher-Yates shuffle driven by r.
func shuffle[T any](r *rng.Source, s []T) {
	for i := len(s) - 1; i > 0; i-- {
		j := r.IntN(i + 1)
		s[i], s[j] = s[j], s[i]
	}
}

// Merge adds every centroid of other to d, in random order. other is not
// modified; merging a digest into itself doubles every weight. d is left
// untouched when the combined weight would overflow.
func (d *TDigest) Merge(other *TDigest) error {
	if other == nil {
		return nil
	}
	if other.count > math.MaxInt64-d.count {
		return fmt.Errorf("%w: %d + %d", ErrWeightOverflow, d.count, other.count)
	}
	centroids := other.Centroids()
	shuffle(d.rand, centroids)
	for _, c := range centroids {
		d.add(c.Mean, c.Count)
	}
	return nil
}

// Quantile returns the estimated value at quantile q. An empty digest returns
// NaN.
func (d *TDigest) Quantile(q float64) (float64, error) {
	if math.IsNaN(q) || q < 0 || q > 1 {
		return 0, fmt.Errorf("%w: got %v", ErrInvalidQuantile, q)
	}

	g := d.centroids
	switch g.size() {
	case 0:
		return math.NaN(), nil
	case 1:
		return g.mean(g.least()), nil
	}

	index := q * float64(d.count-1)
	previousMean := math.NaN()
	previousIndex := 0.0

	next := g.floorSumNode(int64(index))
	total := g.headSum(next)
	if prev := g.prev(next); prev != avltree.NIL {
		previousMean = g.mean(prev)
		previousIndex = float64(total) - float64(g.weight(prev)+1)/2
	}

	for {
		nextIndex := float64(total) + float64(g.weight(next)-1)/2
		if nextIndex >= index {
			if math.IsNaN(previousMean) {
				// Target rank lies before the first centroid's center.
				if nextIndex == previousIndex {
					return g.mean(next), nil
				}
				next2 := g.next(next)
				nextIndex2 := float64(total+g.weight(next)) + float64(g.weight(next2)-1)/2
				previousMean = (nextIndex2*g.mean(next) - nextIndex*g.mean(next2)) / (nextIndex2 - nextIndex)
			}
			return interpolate(index, previousIndex, nextIndex, previousMean, g.mean(next)), nil
		}

		if g.next(next) == avltree.NIL {
			// Target rank lies after the last centroid's center.
			nextIndex2 := float64(d.count - 1)
			nextMean2 := (g.mean(next)*(nextIndex2-previousIndex) - previousMean*(nextIndex2-nextIndex)) / (nextIndex - previousIndex)
			return interpolate(index, nextIndex, nextIndex2, g.mean(next), nextMean2), nil
		}

		total += g.weight(next)
		previousMean = g.mean(next)
		previousIndex = nextIndex
		next = g.next(next)
	}
}

func weightedAverage(x1 float64, w1 int64, x2 float64, w2 int64) float64 {
	return (x1*float64(w1) + x2*float64(w2)) / float64(w1+w2)
}

// interpolate returns the value at index on the line through
// (previousIndex, previousMean) and (nextIndex, nextMean).
func interpolate(index, previousIndex, nextIndex, previousMean, nextMean float64) float64 {
	delta := nextIndex - previousIndex
	previousWeight := (nextIndex - index) / delta
	nextWeight := (index - previousIndex) / delta
	return previousMean*previousWeight + nextMean*nextWeight
}
