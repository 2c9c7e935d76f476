package services

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// l2Normalize scales v to unit length in place and returns it. A zero
// vector is returned unchanged rather than dividing by zero.
func l2Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}

// featureMedian returns the median over the full feature vector.
func featureMedian(features []float32) float64 {
	sorted := make([]float64, len(features))
	for i, f := range features {
		sorted[i] = float64(f)
	}
	sort.Float64s(sorted)

	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// hashBits derives the perceptual-hash bit string from a pooled
// feature vector: the median is computed over the whole vector, then
// each of the first hashSize*hashSize dimensions maps to '1' if it
// exceeds the median, '0' otherwise, concatenated in feature order.
func hashBits(features []float32, hashSize int) (string, error) {
	bits := hashSize * hashSize
	if len(features) < bits {
		return "", fmt.Errorf("feature vector too short: %d dimensions, need %d", len(features), bits)
	}

	median := featureMedian(features)

	var sb strings.Builder
	sb.Grow(bits)
	for _, f := range features[:bits] {
		if float64(f) > median {
			sb.WriteByte('1')
		} else {
			sb.WriteByte('0')
		}
	}
	return sb.String(), nil
}
