package grain

import "fmt"

// MultiplyMat computes res = m1·m2 where m1 is rows×inner and m2 is inner×cols,
// all row-major. res must not alias m1 or m2.
//
// Buffer sizes are checked once up front and a violation panics; the loops
// then run over exact-length subslices. Products are rounded before they
// are summed so no platform fuses them.
func MultiplyMat(m1, m2, res []float64, rows, inner, cols int) {
	if len(res) < rows*cols || len(m1) < rows*inner || len(m2) < inner*cols {
		panic(fmt.Sprintf("grain: MultiplyMat buffers too small for %dx%d · %dx%d (m1=%d m2=%d res=%d)",
			rows, inner, inner, cols, len(m1), len(m2), len(res)))
	}
	m1 = m1[:rows*inner]
	m2 = m2[:inner*cols]
	res = res[:rows*cols]

	idx := 0
	for row := 0; row < rows; row++ {
		lhs := m1[row*inner : row*inner+inner]
		for col := 0; col < cols; col++ {
			var sum float64
			for k, v := range lhs {
				sum += float64(v * m2[k*cols+col])
			}
			res[idx] = sum
			idx++
		}
	}
}

// Transpose writes the cols×rows transpose of the rows×cols matrix m into res.
func Transpose(m, res []float64, rows, cols int) {
	if len(m) < rows*cols || len(res) < rows*cols {
		panic(fmt.Sprintf("grain: Transpose buffers too small for %dx%d (m=%d res=%d)",
			rows, cols, len(m), len(res)))
	}
	for r := 0; r < rows; r++ {
		src := m[r*cols : r*cols+cols]
		for c, v := range src {
			res[c*rows+r] = v
		}
	}
}
