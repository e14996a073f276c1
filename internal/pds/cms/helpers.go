package cms

import (
	"fmt"
	"math"
)

// DimensionsFromProb calculates CMS dimensions from error parameters.
//
// The accuracy parameter controls the relative error bound. The estimated count
// will be at most (true_count + accuracy * N) where N is the total count of all
// items. Smaller accuracy means wider tables (more memory).
//
// The certainty parameter is the probability of exceeding the error bound.
// Smaller values mean more rows (deeper tables).
//
//	width = ceil(e / accuracy)
//	depth = ceil(ln(1 / certainty))
//
// Both dimensions are at least 1. Tables beyond MaxDepth rows or MaxCells
// counters return ErrTooLarge. Some examples:
//
//	accuracy=0.001, certainty=0.01  -> width=2719, depth=5 (~109KB)
//	accuracy=0.01, certainty=0.01   -> width=272, depth=5 (~11KB)
//	accuracy=0.001, certainty=0.001 -> width=2719, depth=7 (~152KB)
func DimensionsFromProb(accuracy, certainty float64) (width, depth uint32, err error) {
	if !(accuracy > 0 && accuracy <= 1) {
		return 0, 0, fmt.Errorf("%w: got %v", ErrInvalidAccuracy, accuracy)
	}
	if !(certainty > 0 && certainty <= 1) {
		return 0, 0, fmt.Errorf("%w: got %v", ErrInvalidCertainty, certainty)
	}

	w := math.Ceil(math.E / accuracy)
	d := math.Ceil(math.Log(1 / certainty))
	if w > math.MaxUint32 || d > math.MaxUint32 {
		return 0, 0, fmt.Errorf("%w: %v x %v", ErrTooLarge, w, d)
	}

	width = max(uint32(w), 1)
	depth = max(uint32(d), 1)
	if err := checkDimensions(width, depth); err != nil {
		return 0, 0, err
	}
	return width, depth, nil
}
