package estimate

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/cwbudde/grainfit/internal/grain"
	"github.com/cwbudde/grainfit/internal/model"
)

// grainStd8 is the standard deviation of unscaled 8-bit white grain samples
// produced by the synthesis Gaussian table.
const grainStd8 = 32.0

// fitScaling bins blocks by mean intensity and turns each bin's average noise
// variance into one scaling knot. gain is the standard deviation amplification
// of the plane's AR filter; the knot strength is divided by it because the
// synthesizer applies the curve after filtering.
//
// Knots with zero strength are kept so the curve falls off correctly, but a
// curve that is zero everywhere is returned as nil: the plane has no grain.
func fitScaling(blocks []grain.BlockStats, bins, maxPoints int, shift uint8, gain float64) []model.ScalingPoint {
	nb := min(bins, maxPoints)
	means := make([][]float64, nb)
	vars := make([][]float64, nb)
	for _, b := range blocks {
		i := min(int(b.Mean)*nb/256, nb-1)
		means[i] = append(means[i], b.Mean)
		vars[i] = append(vars[i], b.Variance)
	}

	if gain < 1 {
		gain = 1
	}
	unit := math.Ldexp(1, int(shift)) / (grainStd8 * gain)

	var pts []model.ScalingPoint
	nonzero := false
	for i := range means {
		if len(means[i]) == 0 {
			continue
		}
		x := clampU8(stat.Mean(means[i], nil))
		if len(pts) > 0 && x <= pts[len(pts)-1].Value {
			continue
		}
		v := stat.Mean(vars[i], nil)
		var s uint8
		if v > 0 {
			s = clampU8(math.Sqrt(v) * unit)
		}
		nonzero = nonzero || s > 0
		pts = append(pts, model.ScalingPoint{Value: x, Scaling: s})
	}
	if !nonzero {
		return nil
	}
	return pts
}

func clampU8(v float64) uint8 {
	v = math.Round(v)
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	}
	return uint8(v)
}
