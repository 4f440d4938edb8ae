package evolve

import (
	"math"

	"golang.org/x/exp/constraints"
)

// clamp limits v to the inclusive range [lo, hi].
func clamp[T constraints.Integer | constraints.Float](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// sign returns -1, 0 or +1 for v.
func sign[T constraints.Integer | constraints.Float](v T) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

// round3 rounds v to three decimal places.
func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
