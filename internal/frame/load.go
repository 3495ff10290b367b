package frame

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"io"
	"log/slog"
	"os"

	_ "golang.org/x/image/bmp"  // register BMP decoder
	_ "golang.org/x/image/tiff" // register TIFF decoder

	"github.com/cwbudde/grainfit/internal/grain"
)

// LoadOptions controls how decoded images become frames.
type LoadOptions struct {
	// BitDepth is the number of significant, LSB-aligned bits in 16-bit
	// inputs (9..16), e.g. 10 for raw 10-bit video samples. Zero means 16.
	// Ignored for 8-bit images.
	BitDepth int
	// Monochrome drops chroma and estimates luma only.
	Monochrome bool
}

// Load decodes the image at path (PNG, JPEG, TIFF or BMP) into an 8-bit frame.
func Load(path string, opts LoadOptions) (*Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	fr, err := Decode(f, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return fr, nil
}

// Decode reads one image from r and converts it with FromImage.
func Decode(r io.Reader, opts LoadOptions) (*Frame, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	b := img.Bounds()
	slog.Debug("Decoded image", "format", format, "width", b.Dx(), "height", b.Dy())
	return FromImage(img, opts)
}

// FromImage converts img to planar 4:2:0 YCbCr (or luma only) and narrows
// high bit-depth samples to 8 bits.
func FromImage(img image.Image, opts LoadOptions) (*Frame, error) {
	b := img.Bounds()
	if b.Empty() {
		return nil, fmt.Errorf("frame: empty image")
	}

	switch m := img.(type) {
	case *image.YCbCr:
		if m.SubsampleRatio == image.YCbCrSubsampleRatio420 {
			return fromYCbCr420(m, opts.Monochrome), nil
		}
	case *image.Gray:
		return &Frame{Y: fromGray(m)}, nil
	}

	if _, ok := img.(*image.Gray16); ok {
		opts.Monochrome = true
	}

	depth := 8
	if isDeep(img) {
		depth = opts.BitDepth
		if depth == 0 {
			depth = 16
		}
		if depth < 9 || depth > 16 {
			return nil, fmt.Errorf("frame: unsupported bit depth %d for 16-bit input", depth)
		}
	}

	f16 := toFrame16(img, depth, opts.Monochrome)
	return f16.ToU8()
}

func isDeep(img image.Image) bool {
	switch img.(type) {
	case *image.Gray16, *image.RGBA64, *image.NRGBA64:
		return true
	}
	return false
}

func fromGray(m *image.Gray) *grain.Plane {
	b := m.Bounds()
	p := grain.NewPlane(b.Dx(), b.Dy(), 0, 0)
	for y := 0; y < p.Height; y++ {
		off := m.PixOffset(b.Min.X, b.Min.Y+y)
		copy(p.Row(y), m.Pix[off:off+p.Width])
	}
	return p
}

func fromYCbCr420(m *image.YCbCr, mono bool) *Frame {
	b := m.Bounds()
	w, h := b.Dx(), b.Dy()
	f := &Frame{Y: grain.NewPlane(w, h, 0, 0)}
	for y := 0; y < h; y++ {
		off := m.YOffset(b.Min.X, b.Min.Y+y)
		copy(f.Y.Row(y), m.Y[off:off+w])
	}
	if mono {
		return f
	}

	cw, ch := (w+1)/2, (h+1)/2
	f.Cb = grain.NewPlane(cw, ch, 1, 1)
	f.Cr = grain.NewPlane(cw, ch, 1, 1)
	for y := 0; y < ch; y++ {
		off := m.COffset(b.Min.X, b.Min.Y+2*y)
		copy(f.Cb.Row(y), m.Cb[off:off+cw])
		copy(f.Cr.Row(y), m.Cr[off:off+cw])
	}
	return f
}

// toFrame16 converts any image to full-resolution YCbCr at the given depth,
// then subsamples chroma 2x2.
func toFrame16(img image.Image, depth int, mono bool) *Frame16 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	yp := NewPlane16(w, h, 0, 0)
	var cb, cr *Plane16
	if !mono {
		cb = NewPlane16(w, h, 0, 0)
		cr = NewPlane16(w, h, 0, 0)
	}

	gray16, isGray16 := img.(*image.Gray16)
	maxVal := float64(int(1)<<depth - 1)
	mid := float64(int(1) << (depth - 1))

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*w + x
			if isGray16 {
				yp.Data[i] = clamp16(float64(gray16.Gray16At(b.Min.X+x, b.Min.Y+y).Y), maxVal)
				continue
			}

			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			if depth == 8 {
				yy, u, v := color.RGBToYCbCr(uint8(r>>8), uint8(g>>8), uint8(bl>>8))
				yp.Data[i] = uint16(yy)
				if !mono {
					cb.Data[i], cr.Data[i] = uint16(u), uint16(v)
				}
				continue
			}

			// Samples are LSB-aligned in the 16-bit container; BT.601 full range.
			rf, gf, bf := float64(r), float64(g), float64(bl)
			yp.Data[i] = clamp16(0.299*rf+0.587*gf+0.114*bf, maxVal)
			if !mono {
				cb.Data[i] = clamp16(-0.168736*rf-0.331264*gf+0.5*bf+mid, maxVal)
				cr.Data[i] = clamp16(0.5*rf-0.418688*gf-0.081312*bf+mid, maxVal)
			}
		}
	}

	f := &Frame16{Y: yp, BitDepth: depth}
	if !mono {
		f.Cb = downsample420(cb)
		f.Cr = downsample420(cr)
	}
	return f
}

func clamp16(v, maxVal float64) uint16 {
	v += 0.5
	if v < 0 {
		return 0
	}
	if v > maxVal {
		return uint16(maxVal)
	}
	return uint16(v)
}

// downsample420 averages each 2x2 block with rounding. Edge blocks average
// the samples that exist.
func downsample420(p *Plane16) *Plane16 {
	cw, ch := (p.Width+1)/2, (p.Height+1)/2
	out := NewPlane16(cw, ch, 1, 1)
	for y := 0; y < ch; y++ {
		for x := 0; x < cw; x++ {
			var sum, n uint32
			for dy := 0; dy < 2; dy++ {
				sy := 2*y + dy
				if sy >= p.Height {
					break
				}
				for dx := 0; dx < 2; dx++ {
					sx := 2*x + dx
					if sx >= p.Width {
						break
					}
					sum += uint32(p.Data[sy*p.Stride+sx])
					n++
				}
			}
			out.Data[y*cw+x] = uint16((sum + n/2) / n)
		}
	}
	return out
}
