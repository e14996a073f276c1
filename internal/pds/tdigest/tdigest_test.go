package tdigest

import (
	"encoding/binary"
	"errors"
	"math"
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	spenczar "github.com/spenczar/tdigest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinylib/msgp/msgp"
)

func newTestDigest(t *testing.T, compression float64) *TDigest {
	t.Helper()
	d, err := New(compression, WithSeed(1))
	require.NoError(t, err)
	return d
}

func addAll(t *testing.T, d *TDigest, values []float64) {
	t.Helper()
	for _, v := range values {
		require.NoError(t, d.Add(v, 1))
	}
}

func mustQuantile(t *testing.T, d *TDigest, q float64) float64 {
	t.Helper()
	v, err := d.Quantile(q)
	require.NoError(t, err)
	return v
}

// exactQuantile returns the order statistic at rank q*(n-1), interpolated.
func exactQuantile(sorted []float64, q float64) float64 {
	idx := q * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func uniformValues(seed uint64, n int) []float64 {
	r := rand.New(rand.NewPCG(seed, seed+1))
	out := make([]float64, n)
	for i := range out {
		out[i] = r.Float64()
	}
	return out
}

// =============================================================================
// Construction
// =============================================================================

func TestNew(t *testing.T) {
	tests := []struct {
		name        string
		compression float64
		wantErr     bool
	}{
		{"one", 1, false},
		{"typical", 100, false},
		{"below one", 0.5, true},
		{"zero", 0, true},
		{"negative", -10, true},
		{"NaN", math.NaN(), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New(tt.compression)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidCompression)
				assert.Nil(t, d)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.compression, d.Compression())
			assert.Equal(t, int64(0), d.Count())
			assert.Equal(t, 0, d.Size())
		})
	}
}

func TestNewForQuantile(t *testing.T) {
	d, err := NewForQuantile(0.5, 0.001)
	require.NoError(t, err)
	assert.InDelta(t, 250, d.Compression(), 1e-9)

	_, err = NewForQuantile(1.5, 0.01)
	assert.ErrorIs(t, err, ErrInvalidQuantile)

	_, err = NewForQuantile(0.5, 0)
	assert.ErrorIs(t, err, ErrInvalidAccuracy)

	// 0.99 * 0.01 / 0.1 < 1
	_, err = NewForQuantile(0.99, 0.1)
	assert.ErrorIs(t, err, ErrInvalidCompression)
}

// =============================================================================
// Add
// =============================================================================

func TestAddRejectsInvalidSamples(t *testing.T) {
	d := newTestDigest(t, 100)
	addAll(t, d, []float64{1, 2, 3})
	before := d.Centroids()

	err := d.Add(math.NaN(), 1)
	assert.ErrorIs(t, err, ErrNaN)

	err = d.Add(4, 0)
	assert.ErrorIs(t, err, ErrInvalidWeight)

	err = d.Add(4, -3)
	assert.ErrorIs(t, err, ErrInvalidWeight)

	assert.Equal(t, int64(3), d.Count())
	assert.Equal(t, before, d.Centroids())
}

func TestAddRejectsWeightOverflow(t *testing.T) {
	d := newTestDigest(t, 100)
	require.NoError(t, d.Add(1, math.MaxInt64))
	before := d.Centroids()

	err := d.Add(2, 2)
	assert.ErrorIs(t, err, ErrWeightOverflow)
	assert.Equal(t, int64(math.MaxInt64), d.Count())
	assert.Equal(t, before, d.Centroids())

	q, err := d.Quantile(0.5)
	require.NoError(t, err)
	assert.Equal(t, 1.0, q)
}

func TestCountEqualsInsertions(t *testing.T) {
	d := newTestDigest(t, 20)
	values := uniformValues(5, 10000)
	addAll(t, d, values)
	assert.Equal(t, int64(len(values)), d.Count())

	var sum int64
	for _, c := range d.Centroids() {
		sum += c.Count
	}
	assert.Equal(t, d.Count(), sum)
}

func TestWeightedAdd(t *testing.T) {
	d := newTestDigest(t, 100)
	require.NoError(t, d.Add(1, 5))
	require.NoError(t, d.Add(2, 3))
	assert.Equal(t, int64(8), d.Count())
}

func TestCentroidsSorted(t *testing.T) {
	d := newTestDigest(t, 50)
	addAll(t, d, uniformValues(6, 5000))

	cs := d.Centroids()
	require.Len(t, cs, d.Size())
	assert.True(t, slices.IsSortedFunc(cs, func(a, b Centroid) int {
		switch {
		case a.Mean < b.Mean:
			return -1
		case a.Mean > b.Mean:
			return 1
		}
		return 0
	}))
	for _, c := range cs {
		assert.GreaterOrEqual(t, c.Count, int64(1))
	}
}

func TestAutomaticCompression(t *testing.T) {
	d := newTestDigest(t, 5)
	for i, v := range uniformValues(7, 10000) {
		require.NoError(t, d.Add(v, 1))
		require.LessOrEqual(t, d.Size(), 101, "after %d samples", i+1)
	}
	assert.Equal(t, int64(10000), d.Count())
}

func TestSeedReproducible(t *testing.T) {
	a := newTestDigest(t, 50)
	b := newTestDigest(t, 50)
	values := uniformValues(8, 3000)
	addAll(t, a, values)
	addAll(t, b, values)
	assert.Equal(t, a.Centroids(), b.Centroids())
}

// =============================================================================
// Quantile
// =============================================================================

func TestQuantileEmpty(t *testing.T) {
	d := newTestDigest(t, 100)
	v, err := d.Quantile(0.5)
	require.NoError(t, err)
	assert.True(t, math.IsNaN(v))
}

func TestQuantileSingleCentroid(t *testing.T) {
	d := newTestDigest(t, 100)
	require.NoError(t, d.Add(42, 3))
	for _, q := range []float64{0, 0.3, 1} {
		assert.Equal(t, 42.0, mustQuantile(t, d, q))
	}
}

func TestQuantileRejectsOutOfRange(t *testing.T) {
	d := newTestDigest(t, 100)
	addAll(t, d, []float64{1, 2, 3})
	before := d.Centroids()

	for _, q := range []float64{-0.1, 1.1, math.NaN()} {
		_, err := d.Quantile(q)
		assert.ErrorIs(t, err, ErrInvalidQuantile, "q=%v", q)
	}
	assert.Equal(t, before, d.Centroids())
	assert.Equal(t, int64(3), d.Count())
}

func TestQuantileMedianOfFive(t *testing.T) {
	d := newTestDigest(t, 1000)
	addAll(t, d, []float64{1, 2, 3, 4, 5})
	assert.InDelta(t, 3.0, mustQuantile(t, d, 0.5), 1e-9)
}

func TestQuantileFourSamples(t *testing.T) {
	d := newTestDigest(t, 100)
	addAll(t, d, []float64{2.3, 4.4, 1.8, 34.0})

	median := mustQuantile(t, d, 0.5)
	assert.GreaterOrEqual(t, median, 2.3)
	assert.LessOrEqual(t, median, 4.4)
}

func TestQuantileExtremes(t *testing.T) {
	// No compression pass runs at this size, so the outermost centroids stay
	// singletons and the extremes are exact.
	d := newTestDigest(t, 1000)
	values := uniformValues(9, 5000)
	addAll(t, d, values)

	assert.Equal(t, slices.Min(values), mustQuantile(t, d, 0))
	assert.Equal(t, slices.Max(values), mustQuantile(t, d, 1))
}

func TestQuantileAccuracy(t *testing.T) {
	d := newTestDigest(t, 100)
	values := uniformValues(10, 20000)
	addAll(t, d, values)

	sorted := slices.Clone(values)
	slices.Sort(sorted)

	for _, q := range []float64{0.001, 0.01, 0.1, 0.25, 0.5, 0.75, 0.9, 0.99, 0.999} {
		got := mustQuantile(t, d, q)
		assert.InDelta(t, exactQuantile(sorted, q), got, 0.01, "q=%v", q)
	}
}

func TestQuantileAgainstReferenceDigest(t *testing.T) {
	d := newTestDigest(t, 100)
	ref := spenczar.New()

	r := rand.New(rand.NewPCG(11, 12))
	for range 20000 {
		v := r.NormFloat64()*10 + 50
		require.NoError(t, d.Add(v, 1))
		ref.Add(v, 1)
	}

	for _, q := range []float64{0.05, 0.25, 0.5, 0.75, 0.95} {
		assert.InDelta(t, ref.Quantile(q), mustQuantile(t, d, q), 0.5, "q=%v", q)
	}
}

func TestCompressPreservesQuantiles(t *testing.T) {
	d := newTestDigest(t, 100)
	addAll(t, d, uniformValues(13, 20000))

	var before []float64
	for q := 0.01; q < 1; q += 0.01 {
		before = append(before, mustQuantile(t, d, q))
	}
	count := d.Count()

	d.Compress()
	assert.Equal(t, count, d.Count())

	i := 0
	for q := 0.01; q < 1; q += 0.01 {
		assert.InDelta(t, before[i], mustQuantile(t, d, q), 0.02, "q=%v", q)
		i++
	}
}

func TestCompressSmallDigest(t *testing.T) {
	d := newTestDigest(t, 100)
	d.Compress()
	assert.Equal(t, 0, d.Size())

	require.NoError(t, d.Add(1, 1))
	d.Compress()
	assert.Equal(t, 1, d.Size())
	assert.Equal(t, int64(1), d.Count())
}

func TestQuantileProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	properties.Property("quantile is non-decreasing in q", prop.ForAll(
		func(values []float64, compression float64) bool {
			d, err := New(compression, WithSeed(2))
			if err != nil {
				return false
			}
			for _, v := range values {
				if d.Add(v, 1) != nil {
					return false
				}
			}
			prev := math.Inf(-1)
			for i := 0; i <= 200; i++ {
				v, err := d.Quantile(float64(i) / 200)
				if err != nil {
					return false
				}
				if v < prev-1e-9 {
					return false
				}
				prev = v
			}
			return true
		},
		gen.SliceOfN(300, gen.Float64Range(-1000, 1000)),
		gen.Float64Range(1, 200),
	))

	properties.Property("quantile stays within observed range", prop.ForAll(
		func(values []float64) bool {
			d, _ := New(100, WithSeed(3))
			for _, v := range values {
				_ = d.Add(v, 1)
			}
			lo, hi := slices.Min(values), slices.Max(values)
			for _, q := range []float64{0, 0.5, 1} {
				v, _ := d.Quantile(q)
				if v < lo-1e-9 || v > hi+1e-9 {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(50, gen.Float64Range(-1e6, 1e6)),
	))

	properties.TestingRun(t)
}

// =============================================================================
// Merge
// =============================================================================

func TestMerge(t *testing.T) {
	a := newTestDigest(t, 100)
	b := newTestDigest(t, 100)

	lower := uniformValues(14, 10000)
	upper := make([]float64, len(lower))
	for i, v := range lower {
		upper[i] = v + 1
	}
	addAll(t, a, lower)
	addAll(t, b, upper)

	require.NoError(t, a.Merge(b))
	assert.Equal(t, int64(20000), a.Count())
	assert.Equal(t, int64(10000), b.Count(), "source digest must not change")
	assert.InDelta(t, 1.0, mustQuantile(t, a, 0.5), 0.02)

	require.NoError(t, a.Merge(nil))
	assert.Equal(t, int64(20000), a.Count())
}

func TestMergeIntoSelf(t *testing.T) {
	d := newTestDigest(t, 100)
	addAll(t, d, []float64{1, 2, 3})
	require.NoError(t, d.Merge(d))
	assert.Equal(t, int64(6), d.Count())
}

func TestMergeRejectsWeightOverflow(t *testing.T) {
	a := newTestDigest(t, 100)
	require.NoError(t, a.Add(1, math.MaxInt64-1))
	b := newTestDigest(t, 100)
	addAll(t, b, []float64{2, 3})
	before := a.Centroids()

	err := a.Merge(b)
	assert.ErrorIs(t, err, ErrWeightOverflow)
	assert.Equal(t, int64(math.MaxInt64-1), a.Count())
	assert.Equal(t, before, a.Centroids())
}

// =============================================================================
// Encoding
// =============================================================================

func TestMarshalRestoresState(t *testing.T) {
	d := newTestDigest(t, 100)
	addAll(t, d, uniformValues(15, 5000))

	data, err := d.MarshalBinary()
	require.NoError(t, err)
	assert.True(t, HasValidMagic(data))

	var restored TDigest
	require.NoError(t, restored.UnmarshalBinary(data))

	assert.Equal(t, d.Compression(), restored.Compression())
	assert.Equal(t, d.Count(), restored.Count())
	assert.Equal(t, d.Centroids(), restored.Centroids())
	for _, q := range []float64{0, 0.1, 0.5, 0.9, 1} {
		assert.Equal(t, mustQuantile(t, d, q), mustQuantile(t, &restored, q))
	}

	// A restored digest keeps accepting samples.
	require.NoError(t, restored.Add(0.5, 1))
	assert.Equal(t, d.Count()+1, restored.Count())
}

// encodeRaw builds an encoded digest without validating its contents.
func encodeRaw(compression float64, count int64, centroids ...Centroid) []byte {
	o := binary.LittleEndian.AppendUint32(nil, Magic)
	o = msgp.AppendFloat64(o, compression)
	o = msgp.AppendInt64(o, count)
	o = msgp.AppendArrayHeader(o, uint32(len(centroids)))
	for _, c := range centroids {
		o = msgp.AppendFloat64(o, c.Mean)
		o = msgp.AppendInt64(o, c.Count)
	}
	return o
}

func TestUnmarshalErrors(t *testing.T) {
	d := newTestDigest(t, 100)
	addAll(t, d, []float64{1, 2, 3})
	good, err := d.MarshalBinary()
	require.NoError(t, err)

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"empty", nil, ErrInvalidData},
		{"wrong magic", []byte{'X', 'X', 'X', 'X', 0}, ErrInvalidMagic},
		{"truncated", good[:len(good)-3], ErrInvalidData},
		{"count mismatch", encodeRaw(100, 5, Centroid{1, 1}, Centroid{2, 1}), ErrInvalidData},
		{"unsorted", encodeRaw(100, 2, Centroid{2, 1}, Centroid{1, 1}), ErrInvalidData},
		{"empty centroid", encodeRaw(100, 1, Centroid{1, 1}, Centroid{2, 0}), ErrInvalidData},
		{"bad compression", encodeRaw(0.5, 1, Centroid{1, 1}), ErrInvalidData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := newTestDigest(t, 50)
			err := target.UnmarshalBinary(tt.data)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.Equal(t, 50.0, target.Compression(), "failed decode must not modify target")
		})
	}
}
