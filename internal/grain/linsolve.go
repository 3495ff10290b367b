package grain

import "fmt"

// Linsolve solves A·x = b for an n×n row-major matrix A with row pitch stride.
//
// A and b are overwritten during elimination. On success x holds the solution
// and true is returned. A pivot or diagonal entry with magnitude below machine
// epsilon aborts with false; x must not be used in that case.
//
// Pivoting is a bubble pass per column: rows are visited bottom-up and each one
// is swapped with the row above whenever it has the larger magnitude in the
// pivot column. This order is kept exactly, and every product is rounded
// before it is added, so results stay bit-identical with reference estimators
// on every platform.
func Linsolve(n int, a []float64, stride int, b, x []float64) bool {
	if n <= 0 {
		return true
	}
	if stride < n || len(a) < (n-1)*stride+n || len(b) < n || len(x) < n {
		panic(fmt.Sprintf("grain: Linsolve buffers too small for n=%d stride=%d (a=%d b=%d x=%d)",
			n, stride, len(a), len(b), len(x)))
	}

	// Forward elimination
	for k := 0; k < n-1; k++ {
		for i := n - 1; i > k; i-- {
			upper := a[(i-1)*stride : (i-1)*stride+n]
			lower := a[i*stride : i*stride+n]
			if abs(upper[k]) < abs(lower[k]) {
				for j := range upper {
					upper[j], lower[j] = lower[j], upper[j]
				}
				b[i], b[i-1] = b[i-1], b[i]
			}
		}

		pivotRow := a[k*stride : k*stride+n]
		for i := k; i < n-1; i++ {
			pivot := pivotRow[k]
			if abs(pivot) < epsilon {
				return false
			}
			row := a[(i+1)*stride : (i+1)*stride+n]
			c := row[k] / pivot
			for j, v := range pivotRow {
				row[j] -= float64(c * v)
			}
			b[i+1] -= float64(c * b[k])
		}
	}

	// Back substitution
	for i := n - 1; i >= 0; i-- {
		row := a[i*stride : i*stride+n]
		if abs(row[i]) < epsilon {
			return false
		}
		var c float64
		for j := i + 1; j < n; j++ {
			c += float64(row[j] * x[j])
		}
		x[i] = (b[i] - c) / row[i]
	}

	return true
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
