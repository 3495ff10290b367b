// Package model defines the film-grain parameter record produced by the
// estimator and its text table format.
package model

import (
	"fmt"

	"github.com/cwbudde/grainfit/internal/grain"
)

// ScalingPoint is one knot of a scaling curve: an input intensity and the
// grain strength applied at that intensity.
type ScalingPoint struct {
	Value   uint8 `json:"value"`
	Scaling uint8 `json:"scaling"`
}

// Segment holds the grain synthesis parameters for the presentation span
// [StartTime, EndTime), in units of 10,000,000ths of a second.
type Segment struct {
	StartTime uint64 `json:"startTime"`
	EndTime   uint64 `json:"endTime"`

	ScalingPointsY  []ScalingPoint `json:"scalingPointsY"`
	ScalingPointsCb []ScalingPoint `json:"scalingPointsCb"`
	ScalingPointsCr []ScalingPoint `json:"scalingPointsCr"`

	// ScalingShift is the quantization shift of the scaling function, 8..11.
	ScalingShift uint8 `json:"scalingShift"`

	// ARCoeffLag is the AR neighborhood radius, 0..3.
	ARCoeffLag uint8  `json:"arCoeffLag"`
	ARCoeffsY  []int8 `json:"arCoeffsY"`
	ARCoeffsCb []int8 `json:"arCoeffsCb"`
	ARCoeffsCr []int8 `json:"arCoeffsCr"`
	// ARCoeffShift sets the coefficient range: 6 → [-2, 2) … 9 → [-0.25, 0.25).
	ARCoeffShift uint8 `json:"arCoeffShift"`

	CbMult     uint8  `json:"cbMult"`
	CbLumaMult uint8  `json:"cbLumaMult"`
	CbOffset   uint16 `json:"cbOffset"`
	CrMult     uint8  `json:"crMult"`
	CrLumaMult uint8  `json:"crLumaMult"`
	CrOffset   uint16 `json:"crOffset"`

	OverlapFlag           bool   `json:"overlapFlag"`
	ChromaScalingFromLuma bool   `json:"chromaScalingFromLuma"`
	GrainScaleShift       uint8  `json:"grainScaleShift"`
	RandomSeed            uint16 `json:"randomSeed"`
}

// NumCoeffs returns the number of spatial AR coefficients for lag.
func NumCoeffs(lag int) int {
	return 2 * lag * (lag + 1)
}

// ChromaCoeffs returns the coefficient count expected for a chroma plane.
// A luma predictor slot is appended when luma scaling points are present.
func (s *Segment) ChromaCoeffs() int {
	n := NumCoeffs(int(s.ARCoeffLag))
	if len(s.ScalingPointsY) > 0 {
		n++
	}
	return n
}

// NewSegment returns a segment spanning [start, end) with neutral defaults:
// no scaling points, zero-lag AR, and chroma indexed by luma.
func NewSegment(start, end uint64) *Segment {
	return &Segment{
		StartTime:    start,
		EndTime:      end,
		ScalingShift: 8,
		ARCoeffShift: 7,
		CbMult:       128,
		CbLumaMult:   192,
		CbOffset:     256,
		CrMult:       128,
		CrLumaMult:   192,
		CrOffset:     256,
		OverlapFlag:  true,
		RandomSeed:   grain.DefaultGrainSeed,
	}
}

// ValidationError reports a segment field outside its allowed range.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid segment %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks field ranges, point counts and coefficient counts.
func (s *Segment) Validate() error {
	if s.EndTime <= s.StartTime {
		return invalid("endTime", "must be after startTime (%d <= %d)", s.EndTime, s.StartTime)
	}
	if s.ScalingShift < 8 || s.ScalingShift > 11 {
		return invalid("scalingShift", "%d not in 8..11", s.ScalingShift)
	}
	if s.ARCoeffLag > grain.MaxARLag {
		return invalid("arCoeffLag", "%d not in 0..%d", s.ARCoeffLag, grain.MaxARLag)
	}
	if s.ARCoeffShift < 6 || s.ARCoeffShift > 9 {
		return invalid("arCoeffShift", "%d not in 6..9", s.ARCoeffShift)
	}
	if s.GrainScaleShift > 3 {
		return invalid("grainScaleShift", "%d not in 0..3", s.GrainScaleShift)
	}

	if err := validatePoints("scalingPointsY", s.ScalingPointsY, grain.NumYPoints); err != nil {
		return err
	}
	if s.ChromaScalingFromLuma {
		if len(s.ScalingPointsCb) > 0 || len(s.ScalingPointsCr) > 0 {
			return invalid("chromaScalingFromLuma", "chroma points must be empty")
		}
	}
	if err := validatePoints("scalingPointsCb", s.ScalingPointsCb, grain.NumUVPoints); err != nil {
		return err
	}
	if err := validatePoints("scalingPointsCr", s.ScalingPointsCr, grain.NumUVPoints); err != nil {
		return err
	}

	numPos := NumCoeffs(int(s.ARCoeffLag))
	if len(s.ScalingPointsY) > 0 && len(s.ARCoeffsY) != numPos {
		return invalid("arCoeffsY", "have %d coefficients, want %d", len(s.ARCoeffsY), numPos)
	}
	chroma := s.ChromaCoeffs()
	hasCb := len(s.ScalingPointsCb) > 0 || s.ChromaScalingFromLuma
	hasCr := len(s.ScalingPointsCr) > 0 || s.ChromaScalingFromLuma
	if hasCb && len(s.ARCoeffsCb) != chroma {
		return invalid("arCoeffsCb", "have %d coefficients, want %d", len(s.ARCoeffsCb), chroma)
	}
	if hasCr && len(s.ARCoeffsCr) != chroma {
		return invalid("arCoeffsCr", "have %d coefficients, want %d", len(s.ARCoeffsCr), chroma)
	}
	return nil
}

func validatePoints(field string, pts []ScalingPoint, limit int) error {
	if len(pts) > limit {
		return invalid(field, "%d points exceeds limit %d", len(pts), limit)
	}
	for i := 1; i < len(pts); i++ {
		if pts[i].Value <= pts[i-1].Value {
			return invalid(field, "values must increase (index %d)", i)
		}
	}
	return nil
}
