package common

import (
	"math"
	"sort"
)

// Percentile returns the q-th percentile (0..100) of values using linear
// interpolation between closest ranks. values is not modified.
func Percentile(values []float64, q float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if q <= 0 {
		return sorted[0]
	}
	if q >= 100 {
		return sorted[len(sorted)-1]
	}
	pos := q / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// LabelByContamination flags the rows whose score is strictly above the
// (1-contamination) percentile. Higher score means more anomalous.
func LabelByContamination(scores []float64, contamination float64) []bool {
	labels := make([]bool, len(scores))
	if len(scores) == 0 {
		return labels
	}
	threshold := Percentile(scores, 100*(1-contamination))
	for i, s := range scores {
		labels[i] = s > threshold
	}
	return labels
}

// ValidMatrix reports whether every row has the same non-zero width and only
// finite values.
func ValidMatrix(matrix [][]float64) bool {
	if len(matrix) == 0 {
		return false
	}
	width := len(matrix[0])
	if width == 0 {
		return false
	}
	for _, row := range matrix {
		if len(row) != width {
			return false
		}
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}
