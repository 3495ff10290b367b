// Package estimate fits a film-grain model to a source frame and its denoised
// counterpart. Each plane is split into blocks whose noise statistics
// give the scaling curve; the residuals of flat blocks train a causal AR
// filter that describes the grain's spatial correlation.
package estimate

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/cwbudde/grainfit/internal/frame"
	"github.com/cwbudde/grainfit/internal/grain"
	"github.com/cwbudde/grainfit/internal/model"
)

// PlaneReport summarizes how one plane was estimated.
type PlaneReport struct {
	Plane      string `json:"plane"`
	Blocks     int    `json:"blocks"`
	FlatBlocks int    `json:"flatBlocks"`
	Samples    int    `json:"samples"`
	Points     int    `json:"points"`

	// AllBlocks is set when no block was flat and every block was used.
	AllBlocks bool `json:"allBlocks"`

	// Solved is false when the normal equations were singular and the
	// fallback produced the coefficients.
	Solved   bool     `json:"solved"`
	Fallback Fallback `json:"fallback,omitempty"`

	// Correlation between predicted and observed residuals. Only meaningful
	// when CorrelationDefined is set.
	Correlation        float64 `json:"correlation"`
	CorrelationDefined bool    `json:"correlationDefined"`
	ARGain             float64 `json:"arGain"`
}

// Result is the outcome of one estimation.
type Result struct {
	Segment *model.Segment `json:"segment"`
	Planes  []PlaneReport  `json:"planes"`
	Elapsed time.Duration  `json:"elapsed"`
}

// Estimate fits a grain segment to the source/denoised pair. The frames must
// have identical geometry. Cancellation is checked between planes and while
// blocks are measured.
func Estimate(ctx context.Context, source, denoised *frame.Frame, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := source.Validate(); err != nil {
		return nil, fmt.Errorf("source: %w", err)
	}
	if err := denoised.Validate(); err != nil {
		return nil, fmt.Errorf("denoised: %w", err)
	}
	if err := frame.CheckCompatible(source, denoised); err != nil {
		return nil, err
	}

	coords, err := grain.CausalCoords(cfg.ARLag)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	seg := model.NewSegment(cfg.StartTime, cfg.EndTime)
	seg.ARCoeffLag = uint8(cfg.ARLag)
	seg.ARCoeffShift = cfg.ARCoeffShift
	seg.ScalingShift = cfg.ScalingShift
	seg.RandomSeed = cfg.RandomSeed

	res := &Result{Segment: seg}

	luma := grain.PlanePair{Source: source.Y, Denoised: denoised.Y}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	report, pts, coeffs, err := estimatePlane(ctx, "Y", luma, nil, coords, grain.NumYPoints, &cfg)
	if err != nil {
		return nil, err
	}
	res.Planes = append(res.Planes, report)
	seg.ScalingPointsY = pts
	if len(pts) > 0 {
		seg.ARCoeffsY = coeffs
	}

	if !source.Monochrome() && !cfg.MonochromeOnly {
		// The chroma filters get a luma predictor only when luma has grain.
		var alt *grain.PlanePair
		if len(seg.ScalingPointsY) > 0 {
			alt = &luma
		}
		chroma := []struct {
			name string
			pair grain.PlanePair
			pts  *[]model.ScalingPoint
			ar   *[]int8
		}{
			{"Cb", grain.PlanePair{Source: source.Cb, Denoised: denoised.Cb}, &seg.ScalingPointsCb, &seg.ARCoeffsCb},
			{"Cr", grain.PlanePair{Source: source.Cr, Denoised: denoised.Cr}, &seg.ScalingPointsCr, &seg.ARCoeffsCr},
		}
		for _, c := range chroma {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			report, pts, coeffs, err := estimatePlane(ctx, c.name, c.pair, alt, coords, grain.NumUVPoints, &cfg)
			if err != nil {
				return nil, err
			}
			res.Planes = append(res.Planes, report)
			*c.pts = pts
			if len(pts) > 0 {
				*c.ar = coeffs
			}
		}
		// Chroma curves are indexed by the chroma sample itself.
		seg.CbMult, seg.CbLumaMult, seg.CbOffset = 192, 128, 256
		seg.CrMult, seg.CrLumaMult, seg.CrOffset = 192, 128, 256
	}

	if err := seg.Validate(); err != nil {
		return nil, fmt.Errorf("estimated segment is invalid: %w", err)
	}
	res.Elapsed = time.Since(start)
	slog.Info("Estimation complete",
		"planes", len(res.Planes),
		"lumaPoints", len(seg.ScalingPointsY),
		"elapsed", res.Elapsed,
	)
	return res, nil
}

func estimatePlane(ctx context.Context, name string, pair grain.PlanePair, alt *grain.PlanePair,
	coords grain.CoordSet, maxPoints int, cfg *Config) (PlaneReport, []model.ScalingPoint, []int8, error) {
	report := PlaneReport{Plane: name}
	if err := pair.Validate(); err != nil {
		return report, nil, nil, fmt.Errorf("plane %s: %w", name, err)
	}

	stats, err := measureBlocks(ctx, pair, cfg.BlockSize, cfg.workers())
	if err != nil {
		return report, nil, nil, err
	}
	flat, all := selectFlat(stats, cfg.FlatThreshold)
	report.Blocks = len(stats)
	report.FlatBlocks = len(flat)
	report.AllBlocks = all
	if all {
		report.FlatBlocks = 0
		slog.Warn("No flat blocks, using all blocks", "plane", name, "threshold", cfg.FlatThreshold)
	}

	s := &sampler{coords: coords, pair: pair, alt: alt, blockSize: cfg.BlockSize, step: cfg.SampleStep}
	fit := fitAR(s, flat, cfg)
	report.Samples = fit.Samples
	report.Solved = fit.Solved
	report.ARGain = fit.Gain
	if fit.UsedFallback {
		report.Fallback = cfg.Fallback
		slog.Warn("AR normal equations singular, using fallback",
			"plane", name, "samples", fit.Samples, "fallback", cfg.Fallback)
	}
	if !math.IsNaN(fit.Correlation) {
		report.Correlation = fit.Correlation
		report.CorrelationDefined = true
	}

	pts := fitScaling(flat, cfg.NumBins, maxPoints, cfg.ScalingShift, fit.Gain)
	report.Points = len(pts)

	slog.Debug("Plane estimated",
		"plane", name,
		"blocks", report.Blocks,
		"flat", report.FlatBlocks,
		"samples", report.Samples,
		"points", report.Points,
		"correlation", report.Correlation,
	)
	return report, pts, fit.Coeffs, nil
}
