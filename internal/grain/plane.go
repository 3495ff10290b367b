package grain

import (
	"errors"
	"fmt"
)

// ErrPlaneBounds is returned by Plane.Validate when the backing buffer cannot
// hold the declared geometry.
var ErrPlaneBounds = errors.New("grain: plane geometry exceeds buffer")

// Plane is a single-channel 8-bit sample buffer.
//
// Sample (x, y) lives at Data[y*Stride+x]. Stride may exceed Width for
// alignment. XDec and YDec are the log2 subsampling factors relative to the
// luma plane (0 for luma, 1 for 4:2:0 chroma).
type Plane struct {
	Data   []uint8
	Width  int
	Height int
	Stride int
	XDec   int
	YDec   int
}

// NewPlane allocates a zeroed plane with Stride == width.
func NewPlane(width, height, xdec, ydec int) *Plane {
	return NewPlaneStride(width, height, width, xdec, ydec)
}

// NewPlaneStride allocates a zeroed plane with an explicit row pitch.
func NewPlaneStride(width, height, stride, xdec, ydec int) *Plane {
	if stride < width {
		stride = width
	}
	return &Plane{
		Data:   make([]uint8, stride*height),
		Width:  width,
		Height: height,
		Stride: stride,
		XDec:   xdec,
		YDec:   ydec,
	}
}

// Validate checks once that every index y*Stride+x with x < Width and
// y < Height falls inside Data. Kernels rely on this contract.
func (p *Plane) Validate() error {
	if p.Width < 0 || p.Height < 0 || p.Stride < p.Width {
		return fmt.Errorf("%w: width=%d height=%d stride=%d", ErrPlaneBounds, p.Width, p.Height, p.Stride)
	}
	if p.XDec < 0 || p.XDec > 1 || p.YDec < 0 || p.YDec > 1 {
		return fmt.Errorf("%w: decimation %d,%d", ErrPlaneBounds, p.XDec, p.YDec)
	}
	if p.Width == 0 || p.Height == 0 {
		return nil
	}
	if need := (p.Height-1)*p.Stride + p.Width; need > len(p.Data) {
		return fmt.Errorf("%w: need %d samples, have %d", ErrPlaneBounds, need, len(p.Data))
	}
	return nil
}

// At returns the sample at (x, y).
func (p *Plane) At(x, y int) uint8 {
	return p.Data[y*p.Stride+x]
}

// Set stores v at (x, y).
func (p *Plane) Set(x, y int, v uint8) {
	p.Data[y*p.Stride+x] = v
}

// Row returns the Width visible samples of row y.
func (p *Plane) Row(y int) []uint8 {
	off := y * p.Stride
	return p.Data[off : off+p.Width]
}

// SameGeometry reports whether p and q share width, height, stride and
// decimation, which is what paired source/denoised kernels assume.
func (p *Plane) SameGeometry(q *Plane) bool {
	return p.Width == q.Width && p.Height == q.Height && p.Stride == q.Stride &&
		p.XDec == q.XDec && p.YDec == q.YDec
}

// PlanePair groups a source plane with its denoised reference.
type PlanePair struct {
	Source   *Plane
	Denoised *Plane
}

// Validate checks both planes and that their geometry matches.
func (pp PlanePair) Validate() error {
	if pp.Source == nil || pp.Denoised == nil {
		return errors.New("grain: plane pair is incomplete")
	}
	if err := pp.Source.Validate(); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if err := pp.Denoised.Validate(); err != nil {
		return fmt.Errorf("denoised: %w", err)
	}
	if !pp.Source.SameGeometry(pp.Denoised) {
		return errors.New("grain: source and denoised geometry differ")
	}
	return nil
}
