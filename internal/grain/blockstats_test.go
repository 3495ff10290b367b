package grain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
)

func filledPlane(width, height int, fn func(x, y int) uint8) *Plane {
	p := NewPlaneStride(width, height, width+3, 0, 0)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			p.Set(x, y, fn(x, y))
		}
	}
	return p
}

func TestBlockMean(t *testing.T) {
	p := filledPlane(8, 8, func(x, y int) uint8 { return uint8(x + 8*y) })

	mean, ok := BlockMean(p, 0, 0, 8, 8)
	require.True(t, ok)
	assert.Equal(t, 31.5, mean)

	mean, ok = BlockMean(p, 2, 2, 2, 2)
	require.True(t, ok)
	assert.Equal(t, float64(18+19+26+27)/4, mean)
}

func TestBlockMean_EdgeClipping(t *testing.T) {
	// Padding columns hold 255 so an out-of-bounds read would show up.
	p := filledPlane(10, 10, func(x, y int) uint8 { return 10 })
	for i := range p.Data {
		if i%p.Stride >= p.Width {
			p.Data[i] = 255
		}
	}
	for x := 8; x < 10; x++ {
		for y := 8; y < 10; y++ {
			p.Set(x, y, uint8(20+x+y))
		}
	}

	mean, ok := BlockMean(p, 8, 8, BlockSize, BlockSize)
	require.True(t, ok)
	assert.Equal(t, float64(36+37+37+38)/4, mean)
}

func TestBlockMean_Empty(t *testing.T) {
	p := filledPlane(4, 4, func(x, y int) uint8 { return 1 })
	for _, origin := range [][2]int{{4, 0}, {0, 4}, {9, 9}, {-1, 0}} {
		mean, ok := BlockMean(p, origin[0], origin[1], 2, 2)
		assert.False(t, ok, "origin %v", origin)
		assert.Equal(t, 0.0, mean)
	}
	_, ok := BlockMean(p, 0, 0, 0, 2)
	assert.False(t, ok)
}

func TestNoiseVariance_Constant(t *testing.T) {
	den := filledPlane(16, 16, func(x, y int) uint8 { return uint8(3 * (x + y)) })
	src := filledPlane(16, 16, func(x, y int) uint8 { return uint8(3*(x+y) + 7) })

	v, ok := NoiseVariance(src, den, 0, 0, 16, 16)
	require.True(t, ok)
	assert.Equal(t, 0.0, v)
}

func TestNoiseVariance_Alternating(t *testing.T) {
	tests := []struct {
		name   string
		lo, hi int
	}{
		{"symmetric", -3, 3},
		{"positive", 1, 3},
		{"mixed", -4, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			den := filledPlane(6, 6, func(x, y int) uint8 { return 128 })
			noise := make([]float64, 0, 36)
			src := filledPlane(6, 6, func(x, y int) uint8 {
				n := tt.lo
				if (x+y)%2 == 1 {
					n = tt.hi
				}
				noise = append(noise, float64(n))
				return uint8(128 + n)
			})

			v, ok := NoiseVariance(src, den, 0, 0, 6, 6)
			require.True(t, ok)

			d := float64(tt.hi-tt.lo) / 2
			assert.InDelta(t, d*d, v, 1e-12)
			assert.InDelta(t, stat.PopVariance(noise, nil), v, 1e-12)
		})
	}
}

func TestNoiseVariance_EdgeClipping(t *testing.T) {
	den := filledPlane(9, 9, func(x, y int) uint8 { return 100 })
	src := filledPlane(9, 9, func(x, y int) uint8 {
		if x == 8 && y == 8 {
			return 100
		}
		return 200
	})
	for i := range src.Data {
		if i%src.Stride >= src.Width {
			src.Data[i] = 0
			den.Data[i] = 50
		}
	}

	// Only the corner pixel lies inside the frame.
	v, ok := NoiseVariance(src, den, 8, 8, 4, 4)
	require.True(t, ok)
	assert.Equal(t, 0.0, v)

	_, ok = NoiseVariance(src, den, 9, 0, 4, 4)
	assert.False(t, ok)
}

func TestBlockStatistics_Checkerboard(t *testing.T) {
	den := filledPlane(8, 8, func(x, y int) uint8 { return uint8(60 + x + y) })
	src := filledPlane(8, 8, func(x, y int) uint8 {
		if (x+y)%2 == 0 {
			return uint8(60 + x + y + 2)
		}
		return uint8(60 + x + y - 2)
	})
	pair := PlanePair{Source: src, Denoised: den}
	require.NoError(t, pair.Validate())

	denMean, ok := BlockMean(den, 0, 0, 8, 8)
	require.True(t, ok)

	bs, ok := MeasureBlock(pair, 0, 0, 8, 8)
	require.True(t, ok)
	assert.Equal(t, denMean+0, bs.Mean)
	assert.Equal(t, 4.0, bs.Variance)
	assert.Greater(t, bs.Texture, 0.0)
}

func TestBlockVariance(t *testing.T) {
	p := filledPlane(4, 4, func(x, y int) uint8 { return 9 })
	v, ok := BlockVariance(p, 0, 0, 4, 4)
	require.True(t, ok)
	assert.Equal(t, 0.0, v)

	p = filledPlane(2, 1, func(x, y int) uint8 { return uint8(10 * x) })
	v, _ = BlockVariance(p, 0, 0, 2, 1)
	assert.Equal(t, 25.0, v)
}

func TestPlaneValidate(t *testing.T) {
	p := NewPlaneStride(4, 3, 6, 0, 0)
	assert.NoError(t, p.Validate())

	p.Data = p.Data[:2*6+3]
	assert.ErrorIs(t, p.Validate(), ErrPlaneBounds)

	q := &Plane{Width: 4, Height: 1, Stride: 2, Data: make([]uint8, 8)}
	assert.ErrorIs(t, q.Validate(), ErrPlaneBounds)

	pair := PlanePair{Source: NewPlane(2, 2, 0, 0), Denoised: NewPlane(3, 2, 0, 0)}
	assert.Error(t, pair.Validate())
}
