package store

import (
	"time"

	"github.com/cwbudde/grainfit/internal/estimate"
	"github.com/cwbudde/grainfit/internal/model"
)

// JobConfig holds the inputs of an estimation job (record copy).
// This avoids import cycles with server package.
type JobConfig struct {
	SourcePath   string `json:"sourcePath"`
	DenoisedPath string `json:"denoisedPath"`
	BitDepth     int    `json:"bitDepth,omitempty"`
	Monochrome   bool   `json:"monochrome,omitempty"`
	StartTime    uint64 `json:"startTime"`
	EndTime      uint64 `json:"endTime"`
	ARLag        int    `json:"arLag"`
	Fallback     string `json:"fallback"`
}

// Record is a finished estimation: the fitted segment, how each plane was
// estimated, and the job that produced it.
type Record struct {
	JobID     string                 `json:"jobId"`
	Segment   model.Segment          `json:"segment"`
	Planes    []estimate.PlaneReport `json:"planes"`
	Elapsed   time.Duration          `json:"elapsed"`
	Timestamp time.Time              `json:"timestamp"`
	Config    JobConfig              `json:"config"`
}

// RecordInfo contains record metadata without the coefficient data.
type RecordInfo struct {
	JobID      string    `json:"jobId"`
	Timestamp  time.Time `json:"timestamp"`
	SourcePath string    `json:"sourcePath"`
	ARLag      int       `json:"arLag"`
	Planes     int       `json:"planes"`
	LumaPoints int       `json:"lumaPoints"`
}

// NewRecord creates a record from an estimation result.
func NewRecord(jobID string, res *estimate.Result, config JobConfig) *Record {
	return &Record{
		JobID:     jobID,
		Segment:   *res.Segment,
		Planes:    res.Planes,
		Elapsed:   res.Elapsed,
		Timestamp: time.Now(),
		Config:    config,
	}
}

// ToInfo converts a full Record to RecordInfo (metadata only).
func (r *Record) ToInfo() RecordInfo {
	return RecordInfo{
		JobID:      r.JobID,
		Timestamp:  r.Timestamp,
		SourcePath: r.Config.SourcePath,
		ARLag:      int(r.Segment.ARCoeffLag),
		Planes:     len(r.Planes),
		LumaPoints: len(r.Segment.ScalingPointsY),
	}
}

// Validate checks if the record has valid data.
func (r *Record) Validate() error {
	if r.JobID == "" {
		return &ValidationError{Field: "JobID", Reason: "cannot be empty"}
	}
	if r.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	if r.Config.SourcePath == "" {
		return &ValidationError{Field: "Config.SourcePath", Reason: "cannot be empty"}
	}
	if r.Config.DenoisedPath == "" {
		return &ValidationError{Field: "Config.DenoisedPath", Reason: "cannot be empty"}
	}
	if len(r.Planes) == 0 {
		return &ValidationError{Field: "Planes", Reason: "cannot be empty"}
	}
	if err := r.Segment.Validate(); err != nil {
		return &ValidationError{Field: "Segment", Reason: err.Error()}
	}
	return nil
}

// ValidationError represents a record validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}
