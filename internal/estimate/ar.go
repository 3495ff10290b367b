package estimate

import (
	"math"

	"github.com/cwbudde/grainfit/internal/grain"
	"github.com/cwbudde/grainfit/internal/opt"
)

// chunkRows is the number of design rows accumulated before they are folded
// into the normal equations.
const chunkRows = 256

// maxARGain caps the standard deviation amplification attributed to the AR
// filter when scaling knots are corrected for it.
const maxARGain = 4.0

// sampler enumerates AR training pixels inside a set of blocks, keeping every
// lag (and the luma block under a chroma pixel) inside its plane.
type sampler struct {
	coords    grain.CoordSet
	pair      grain.PlanePair
	alt       *grain.PlanePair
	blockSize int
	step      int
}

func (s *sampler) width() int {
	n := s.coords.Len()
	if s.alt != nil {
		n++
	}
	return n
}

func (s *sampler) each(blocks []grain.BlockStats, fn func(x, y int)) {
	rx, ry := s.coords.Reach()

	xEnd, yEnd := s.pair.Source.Width-rx, s.pair.Source.Height
	if s.alt != nil {
		// Chroma pixels whose luma block runs past an odd-sized luma plane
		// are skipped.
		xEnd = min(xEnd, s.alt.Source.Width>>s.pair.Source.XDec)
		yEnd = min(yEnd, s.alt.Source.Height>>s.pair.Source.YDec)
	}

	for _, b := range blocks {
		y0, y1 := max(b.Y, ry), min(b.Y+s.blockSize, yEnd)
		x0, x1 := max(b.X, rx), min(b.X+s.blockSize, xEnd)
		for y := y0; y < y1; y += s.step {
			for x := x0; x < x1; x += s.step {
				fn(x, y)
			}
		}
	}
}

// arFit is the outcome of fitting one plane's AR filter.
type arFit struct {
	Coeffs       []int8
	Samples      int
	Solved       bool
	UsedFallback bool

	// Correlation is the NCC between predicted and actual residuals using
	// the quantized coefficients. NaN when undefined.
	Correlation float64

	// Gain is the standard deviation amplification of the quantized filter.
	Gain float64
}

// fitAR solves the least-squares AR model for the sampler's pixels and
// quantizes the result to int8 at shift.
func fitAR(s *sampler, blocks []grain.BlockStats, cfg *Config) arFit {
	m := s.width()
	fit := arFit{Correlation: math.NaN(), Gain: 1}
	coords := s.coords.Slice()
	if m == 0 {
		fit.Solved = true
		return fit
	}

	ata := make([]float64, m*m)
	atb := make([]float64, m)
	a := make([]float64, chunkRows*m)
	at := make([]float64, m*chunkRows)
	bv := make([]float64, chunkRows)
	partA := make([]float64, m*m)
	partB := make([]float64, m)
	var bb float64
	var buf grain.ARBuffer

	n := 0
	flush := func() {
		if n == 0 {
			return
		}
		grain.Transpose(a[:n*m], at[:m*n], n, m)
		grain.MultiplyMat(at, a, partA, m, n, m)
		grain.MultiplyMat(at, bv, partB, m, n, 1)
		for i, v := range partA {
			ata[i] += v
		}
		for i, v := range partB {
			atb[i] += v
		}
		n = 0
	}

	s.each(blocks, func(x, y int) {
		val := grain.ExtractARRow(coords, s.pair, s.alt, x, y, buf[:])
		copy(a[n*m:(n+1)*m], buf[:m])
		bv[n] = val
		bb += val * val
		n++
		fit.Samples++
		if n == chunkRows {
			flush()
		}
	})
	flush()

	x := make([]float64, m)
	if fit.Samples >= m {
		// Linsolve overwrites its inputs; keep ata/atb for the fallback.
		fit.Solved = grain.Linsolve(m, append([]float64(nil), ata...), m, append([]float64(nil), atb...), x)
	}
	if !fit.Solved {
		fit.UsedFallback = true
		clear(x)
		if cfg.Fallback == FallbackOptimizer && bb > 0 {
			lower := make([]float64, m)
			upper := make([]float64, m)
			for i := range lower {
				lower[i] = -128 / math.Ldexp(1, int(cfg.ARCoeffShift))
				upper[i] = 127 / math.Ldexp(1, int(cfg.ARCoeffShift))
			}
			o := opt.NewMayfly(cfg.OptimizerIters, cfg.OptimizerPop, cfg.OptimizerSeed)
			x, _ = o.Run(opt.LeastSquares(ata, atb, bb, fit.Samples), lower, upper, m)
		}
	}

	fit.Coeffs = quantize(x, cfg.ARCoeffShift)
	deq := dequantize(fit.Coeffs, cfg.ARCoeffShift)

	if fit.Samples > 0 && bb > 0 {
		sse := opt.LeastSquares(ata, atb, bb, 1)(deq)
		if sse > 0 {
			fit.Gain = min(math.Sqrt(bb/sse), maxARGain)
		} else {
			fit.Gain = maxARGain
		}
		fit.Gain = max(fit.Gain, 1)
	}

	fit.Correlation = predictionCorrelation(s, blocks, deq, fit.Samples)
	return fit
}

// predictionCorrelation replays the training pixels and correlates the
// filter's prediction with the observed residual.
func predictionCorrelation(s *sampler, blocks []grain.BlockStats, coeffs []float64, samples int) float64 {
	if samples == 0 {
		return math.NaN()
	}
	coords := s.coords.Slice()
	pred := make([]float64, 0, samples)
	actual := make([]float64, 0, samples)
	var buf grain.ARBuffer
	s.each(blocks, func(x, y int) {
		val := grain.ExtractARRow(coords, s.pair, s.alt, x, y, buf[:])
		var p float64
		for i, c := range coeffs {
			p += c * buf[i]
		}
		pred = append(pred, p)
		actual = append(actual, val)
	})
	return grain.NormalizedCrossCorrelation(pred, actual, len(pred))
}

func quantize(x []float64, shift uint8) []int8 {
	q := make([]int8, len(x))
	scale := math.Ldexp(1, int(shift))
	for i, v := range x {
		r := math.Round(v * scale)
		q[i] = int8(min(max(r, -128), 127))
	}
	return q
}

func dequantize(q []int8, shift uint8) []float64 {
	out := make([]float64, len(q))
	scale := math.Ldexp(1, -int(shift))
	for i, v := range q {
		out[i] = float64(v) * scale
	}
	return out
}
