// Package frame loads still images as planar YCbCr frames and normalizes
// high bit-depth samples to the 8-bit planes the estimator works on.
package frame

import (
	"errors"
	"fmt"

	"github.com/cwbudde/grainfit/internal/grain"
)

// ErrIncompatible is returned when a source/denoised frame pair differs in
// geometry.
var ErrIncompatible = errors.New("frame: frames are not compatible")

// Frame is an 8-bit planar frame. Cb and Cr are nil for monochrome input and
// otherwise 4:2:0 subsampled.
type Frame struct {
	Y  *grain.Plane
	Cb *grain.Plane
	Cr *grain.Plane
}

// Width returns the luma width.
func (f *Frame) Width() int { return f.Y.Width }

// Height returns the luma height.
func (f *Frame) Height() int { return f.Y.Height }

// Monochrome reports whether the frame carries only luma.
func (f *Frame) Monochrome() bool { return f.Cb == nil }

// Planes returns the planes in Y, Cb, Cr order, skipping absent chroma.
func (f *Frame) Planes() []*grain.Plane {
	if f.Monochrome() {
		return []*grain.Plane{f.Y}
	}
	return []*grain.Plane{f.Y, f.Cb, f.Cr}
}

// Validate checks every plane against its buffer.
func (f *Frame) Validate() error {
	if f.Y == nil {
		return errors.New("frame: missing luma plane")
	}
	if (f.Cb == nil) != (f.Cr == nil) {
		return errors.New("frame: chroma planes must both be present or absent")
	}
	for i, p := range f.Planes() {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("plane %d: %w", i, err)
		}
	}
	return nil
}

// CheckCompatible verifies that a and b can be compared sample by sample.
func CheckCompatible(a, b *Frame) error {
	if a.Monochrome() != b.Monochrome() {
		return fmt.Errorf("%w: chroma layout differs", ErrIncompatible)
	}
	pa, pb := a.Planes(), b.Planes()
	for i := range pa {
		if pa[i].Width != pb[i].Width || pa[i].Height != pb[i].Height {
			return fmt.Errorf("%w: plane %d is %dx%d vs %dx%d", ErrIncompatible, i,
				pa[i].Width, pa[i].Height, pb[i].Width, pb[i].Height)
		}
		if !pa[i].SameGeometry(pb[i]) {
			return fmt.Errorf("%w: plane %d layout differs", ErrIncompatible, i)
		}
	}
	return nil
}

// Plane16 is a single-channel buffer of up to 16-bit samples.
type Plane16 struct {
	Data   []uint16
	Width  int
	Height int
	Stride int
	XDec   int
	YDec   int
}

// NewPlane16 allocates a zeroed 16-bit plane with Stride == width.
func NewPlane16(width, height, xdec, ydec int) *Plane16 {
	return &Plane16{
		Data:   make([]uint16, width*height),
		Width:  width,
		Height: height,
		Stride: width,
		XDec:   xdec,
		YDec:   ydec,
	}
}

// Frame16 is a planar frame whose samples use BitDepth significant bits.
type Frame16 struct {
	Y        *Plane16
	Cb       *Plane16
	Cr       *Plane16
	BitDepth int
}

// ToU8 drops the low BitDepth-8 bits of every sample. Depths outside 8..16
// are rejected.
func (f *Frame16) ToU8() (*Frame, error) {
	if f.BitDepth < 8 || f.BitDepth > 16 {
		return nil, fmt.Errorf("frame: unsupported bit depth %d", f.BitDepth)
	}
	shift := uint(f.BitDepth - 8)
	out := &Frame{Y: narrow(f.Y, shift)}
	if f.Cb != nil {
		out.Cb = narrow(f.Cb, shift)
		out.Cr = narrow(f.Cr, shift)
	}
	return out, nil
}

func narrow(p *Plane16, shift uint) *grain.Plane {
	out := grain.NewPlane(p.Width, p.Height, p.XDec, p.YDec)
	for y := 0; y < p.Height; y++ {
		src := p.Data[y*p.Stride : y*p.Stride+p.Width]
		dst := out.Row(y)
		for x, v := range src {
			s := v >> shift
			if s > 255 {
				s = 255
			}
			dst[x] = uint8(s)
		}
	}
	return out
}
