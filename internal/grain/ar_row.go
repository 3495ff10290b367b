package grain

import "fmt"

// Coord is a signed (dx, dy) lag offset relative to the pixel being predicted.
type Coord struct {
	DX int
	DY int
}

// MaxCoords is the capacity of a CoordSet: the lag count for MaxARLag.
const MaxCoords = NumYCoeffs

// CoordSet is a fixed-capacity, ordered lag set. The zero value is empty.
type CoordSet struct {
	coords [MaxCoords]Coord
	n      int
}

// Push appends c, failing once the set is full.
func (s *CoordSet) Push(c Coord) error {
	if s.n == MaxCoords {
		return fmt.Errorf("grain: coordinate set full (%d)", MaxCoords)
	}
	s.coords[s.n] = c
	s.n++
	return nil
}

// Len returns the number of lags in the set.
func (s *CoordSet) Len() int { return s.n }

// Slice returns the lags as a slice backed by the set.
func (s *CoordSet) Slice() []Coord { return s.coords[:s.n] }

// Reach returns the largest |dx| and |dy| over the set, which is the margin a
// caller must keep from the plane edges.
func (s *CoordSet) Reach() (rx, ry int) {
	for _, c := range s.coords[:s.n] {
		rx = max(rx, c.DX, -c.DX)
		ry = max(ry, c.DY, -c.DY)
	}
	return rx, ry
}

// CausalCoords returns the causal AR neighborhood for lag: all offsets in the
// lag rows above the pixel with |dx| <= lag, then the lag pixels to its left.
// The order matches the coefficient order of the grain model.
func CausalCoords(lag int) (CoordSet, error) {
	var s CoordSet
	if lag < 0 || lag > MaxARLag {
		return s, fmt.Errorf("grain: AR lag %d out of range 0..%d", lag, MaxARLag)
	}
	for dy := -lag; dy <= 0; dy++ {
		for dx := -lag; dx <= lag; dx++ {
			if dy == 0 && dx == 0 {
				return s, nil
			}
			if err := s.Push(Coord{DX: dx, DY: dy}); err != nil {
				return s, err
			}
		}
	}
	return s, nil
}

// ARBuffer holds one design row: a residual per lag plus the optional
// chroma-from-luma slot.
type ARBuffer [NumUVCoeffs]float64

// ExtractARRow fills buffer with the residuals (source minus denoised) at each
// lag-shifted position around (x, y) and returns the residual at (x, y) itself.
//
// When alt is non-nil it must hold the higher-resolution (luma) pair; the mean
// residual over the 2^XDec × 2^YDec luma block covering (x, y) is written to
// buffer[len(coords)]. The decimation factors come from pair.Source.
//
// The caller guarantees every shifted coordinate is inside the plane. That is
// asserted only in grain_debug builds; a violation otherwise panics on the
// slice access or reads a neighboring row.
func ExtractARRow(coords []Coord, pair PlanePair, alt *PlanePair, x, y int, buffer []float64) float64 {
	src, den := pair.Source, pair.Denoised
	debugAssert(len(buffer) > len(coords), "buffer too small for lag set")
	debugAssert(x >= 0 && y >= 0 && x < src.Width && y < src.Height, "target outside plane")

	stride := src.Stride
	srcData, denData := src.Data, den.Data
	row := buffer[:len(coords)]
	for i, c := range coords {
		xi := x + c.DX
		yi := y + c.DY
		debugAssert(xi >= 0 && yi >= 0, "lag coordinate negative")
		debugAssert(xi < src.Width && yi < src.Height, "lag coordinate past plane edge")
		idx := yi*stride + xi
		row[i] = float64(srcData[idx]) - float64(denData[idx])
	}
	idx := y*stride + x
	val := float64(srcData[idx]) - float64(denData[idx])

	if alt != nil {
		buffer[len(coords)] = lumaResidualMean(*alt, src.XDec, src.YDec, x, y)
	}
	return val
}

// lumaResidualMean averages source minus denoised over the (1<<xdec)×(1<<ydec)
// block of pair that covers the subsampled position (x, y).
func lumaResidualMean(pair PlanePair, xdec, ydec, x, y int) float64 {
	w, h := 1<<xdec, 1<<ydec
	x0, y0 := x<<xdec, y<<ydec
	debugAssert(x0+w <= pair.Source.Width && y0+h <= pair.Source.Height, "luma block past plane edge")

	stride := pair.Source.Stride
	var srcSum, denSum uint64
	for dy := 0; dy < h; dy++ {
		off := (y0+dy)*stride + x0
		s := pair.Source.Data[off : off+w]
		d := pair.Denoised.Data[off : off+w]
		for i, v := range s {
			srcSum += uint64(v)
			denSum += uint64(d[i])
		}
	}
	return (float64(srcSum) - float64(denSum)) / float64(w*h)
}
