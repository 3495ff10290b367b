package grain

import "math"

// NormalizedCrossCorrelation returns Σ aᵢbᵢ / (‖a‖·‖b‖) over the first n
// elements (fewer if either slice is shorter).
//
// The result lies in [-1, 1]. If either window has zero magnitude the result
// is NaN, meaning "no similarity defined"; callers must check math.IsNaN.
func NormalizedCrossCorrelation(a, b []float64, n int) float64 {
	if n > len(a) {
		n = len(a)
	}
	if n > len(b) {
		n = len(b)
	}
	a, b = a[:n], b[:n]

	var c, aLen, bLen float64
	for i, av := range a {
		bv := b[i]
		aLen = mulAdd(av, av, aLen)
		bLen = mulAdd(bv, bv, bLen)
		c = mulAdd(av, bv, c)
	}
	return c / (math.Sqrt(aLen) * math.Sqrt(bLen))
}
