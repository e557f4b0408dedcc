package links

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestAlphaMapping(t *testing.T) {
	tests := []struct {
		weight, max, want float64
	}{
		{95, 100, 1.0},
		{85, 100, 0.3},
		{15, 100, 0.1},
		{50, 100, 0.2},
		{19, 100, 0.1},
		{20, 100, 0.2},
		{90, 100, 0.3},
		{80, 100, 0.2},
		{10, 0, 1.0},
	}
	for _, tt := range tests {
		if got := Alpha(tt.weight, tt.max); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Alpha(%v, %v) = %v, want %v", tt.weight, tt.max, got, tt.want)
		}
	}
}

func TestAlphaBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("alpha stays within [0.1, 1]", prop.ForAll(
		func(w, m float64) bool {
			a := Alpha(w, m)
			return a >= 0.1 && a <= 1.0
		},
		gen.Float64Range(0, 1e6),
		gen.Float64Range(1, 1e6),
	))

	properties.Property("heaviest edge of a batch is opaque", prop.ForAll(
		func(m float64) bool {
			return Alpha(m, m) == 1.0
		},
		gen.Float64Range(0.001, 1e6),
	))

	properties.TestingRun(t)
}
