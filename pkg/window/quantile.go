package window

import (
	"math"
	"sort"
)

// quantile estimates the q-th quantile of samples by linear interpolation
// between closest ranks. It returns nil for an empty sample set.
func quantile(samples []float64, q float64) *float64 {
	if len(samples) == 0 {
		return nil
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)

	h := float64(len(sorted)-1) * q
	lo := math.Floor(h)
	i := int(lo)
	v := sorted[i]
	if i+1 < len(sorted) {
		v += (h - lo) * (sorted[i+1] - sorted[i])
	}
	return &v
}
