package estimate

import (
	"fmt"
	"runtime"

	"github.com/cwbudde/grainfit/internal/grain"
)

// Fallback selects what happens to a plane whose normal equations are
// singular.
type Fallback string

const (
	// FallbackZero emits all-zero AR coefficients (white grain).
	FallbackZero Fallback = "zero"
	// FallbackOptimizer searches the coefficient range with mayfly.
	FallbackOptimizer Fallback = "optimizer"
)

// Config controls one estimation run.
type Config struct {
	// StartTime and EndTime bound the emitted segment in 10 MHz ticks.
	StartTime uint64
	EndTime   uint64

	BlockSize    int
	ARLag        int
	ARCoeffShift uint8
	ScalingShift uint8
	RandomSeed   uint16

	// NumBins is the number of intensity bins the scaling curve is fit over.
	// It is capped by the per-plane point limit.
	NumBins int
	// FlatThreshold is the largest denoised-block sample variance for a
	// block to count as flat. When no block qualifies every block is used.
	FlatThreshold float64
	// SampleStep is the pixel stride of AR training samples inside flat
	// blocks, in both directions.
	SampleStep int
	// MonochromeOnly skips chroma even when the frames carry it.
	MonochromeOnly bool

	Fallback       Fallback
	OptimizerIters int
	OptimizerPop   int
	OptimizerSeed  int64

	// Workers bounds the goroutines measuring blocks. Zero means NumCPU.
	Workers int
}

// DefaultConfig returns the settings used by the CLI and server when no
// overrides are given.
func DefaultConfig() Config {
	return Config{
		StartTime:      0,
		EndTime:        10_000_000,
		BlockSize:      grain.BlockSize,
		ARLag:          grain.MaxARLag,
		ARCoeffShift:   7,
		ScalingShift:   8,
		RandomSeed:     grain.DefaultGrainSeed,
		NumBins:        8,
		FlatThreshold:  100,
		SampleStep:     2,
		Fallback:       FallbackZero,
		OptimizerIters: 200,
		OptimizerPop:   30,
		OptimizerSeed:  42,
	}
}

// Validate rejects settings the estimator cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.EndTime <= c.StartTime:
		return fmt.Errorf("estimate: end time %d must be after start time %d", c.EndTime, c.StartTime)
	case c.BlockSize < 2:
		return fmt.Errorf("estimate: block size %d too small", c.BlockSize)
	case c.ARLag < 0 || c.ARLag > grain.MaxARLag:
		return fmt.Errorf("estimate: AR lag %d not in 0..%d", c.ARLag, grain.MaxARLag)
	case c.ARCoeffShift < 6 || c.ARCoeffShift > 9:
		return fmt.Errorf("estimate: AR coefficient shift %d not in 6..9", c.ARCoeffShift)
	case c.ScalingShift < 8 || c.ScalingShift > 11:
		return fmt.Errorf("estimate: scaling shift %d not in 8..11", c.ScalingShift)
	case c.NumBins < 1:
		return fmt.Errorf("estimate: need at least one bin, got %d", c.NumBins)
	case c.SampleStep < 1:
		return fmt.Errorf("estimate: sample step %d must be positive", c.SampleStep)
	case c.Workers < 0:
		return fmt.Errorf("estimate: negative worker count %d", c.Workers)
	}

	switch c.Fallback {
	case FallbackZero:
	case FallbackOptimizer:
		// mayfly v0.1.0 needs a population of at least 20
		if c.OptimizerPop < 20 || c.OptimizerIters < 1 {
			return fmt.Errorf("estimate: optimizer needs pop >= 20 and iters >= 1 (got %d, %d)",
				c.OptimizerPop, c.OptimizerIters)
		}
	default:
		return fmt.Errorf("estimate: unknown fallback %q", c.Fallback)
	}
	return nil
}

func (c *Config) workers() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return runtime.NumCPU()
}
