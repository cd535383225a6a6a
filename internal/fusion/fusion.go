// Package fusion turns the ambient readings of every currently connected
// probe into one pit temperature, recomputed on every reading the way
// the teacher's bus consumers recompute derived state on every message
// rather than on a separate poll.
package fusion

import (
	"math"
	"sort"
)

// Fuse implements the lower-trimmed mean with deviation threshold k=0.5:
// compute mean and population standard deviation, keep only values
// >= mean - k*stddev, and return the mean of the retained set. With zero
// or one input the lone value (or false) is returned unchanged.
//
// Inputs are sorted numerically before reducing — the source this was
// distilled from sorted lexicographically, which happens not to change
// the mean/stddev pass here, but a future median-based extension must
// not repeat that mistake.
func Fuse(ambients []float32) (float32, bool) {
	switch len(ambients) {
	case 0:
		return 0, false
	case 1:
		return ambients[0], true
	}

	sorted := make([]float32, len(ambients))
	copy(sorted, ambients)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	mean := meanOf(sorted)
	stddev := popStddev(sorted, mean)
	threshold := mean - 0.5*stddev

	var sum float32
	var n int
	for _, v := range sorted {
		if v >= threshold {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float32(n), true
}

func meanOf(xs []float32) float32 {
	var sum float32
	for _, x := range xs {
		sum += x
	}
	return sum / float32(len(xs))
}

func popStddev(xs []float32, mean float32) float32 {
	var sumSq float32
	for _, x := range xs {
		d := x - mean
		sumSq += d * d
	}
	variance := sumSq / float32(len(xs))
	return float32(math.Sqrt(float64(variance)))
}
