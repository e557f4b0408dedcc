package links

import (
	"golang.org/x/exp/constraints"
)

func clamp[T constraints.Ordered](v, lo, hi T) T {
	return max(lo, min(v, hi))
}

// Alpha maps an edge weight to display opacity relative to the heaviest
// edge of its batch. Only the strongest edges are fully opaque.
func Alpha(weight, maxWeight float64) float64 {
	if maxWeight <= 0 {
		return 1.0
	}
	ratio := weight / maxWeight
	switch {
	case ratio > 0.9:
		return 1.0
	case ratio > 0.8:
		return 0.3
	case ratio < 0.2:
		return 0.1
	default:
		return clamp(ratio, 0.1, 0.2)
	}
}
