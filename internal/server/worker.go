package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbudde/grainfit/internal/estimate"
	"github.com/cwbudde/grainfit/internal/frame"
	"github.com/cwbudde/grainfit/internal/store"
)

// runJob executes an estimation job in the background.
// If st is not nil, lifecycle events and the finished record are persisted.
func runJob(ctx context.Context, jm *JobManager, st store.Store, jobID string) error {
	defer jm.release(jobID)

	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	if err := ctx.Err(); err != nil {
		markJobCancelled(jm, st, jobID)
		return err
	}

	err := jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateRunning
	})
	if err != nil {
		return err
	}
	emit(jm, st, jobID, StateRunning, store.Event{Stage: store.StageRunning})

	slog.Info("Starting job", "job_id", jobID, "source", job.Config.SourcePath, "denoised", job.Config.DenoisedPath)

	opts := frame.LoadOptions{BitDepth: job.Config.BitDepth, Monochrome: job.Config.Monochrome}
	source, err := frame.Load(job.Config.SourcePath, opts)
	if err != nil {
		markJobFailed(jm, st, jobID, fmt.Errorf("failed to load source: %w", err))
		return err
	}
	denoised, err := frame.Load(job.Config.DenoisedPath, opts)
	if err != nil {
		markJobFailed(jm, st, jobID, fmt.Errorf("failed to load denoised: %w", err))
		return err
	}

	slog.Info("Loaded frames", "job_id", jobID, "width", source.Width(), "height", source.Height(),
		"monochrome", source.Monochrome())

	res, err := estimate.Estimate(ctx, source, denoised, estimateConfig(job.Config))
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		markJobCancelled(jm, st, jobID)
		return err
	}
	if err != nil {
		markJobFailed(jm, st, jobID, err)
		return err
	}

	for i := range res.Planes {
		emit(jm, st, jobID, StateRunning, store.Event{Stage: store.StagePlane, Report: &res.Planes[i]})
	}

	if st != nil {
		if err := st.SaveRecord(jobID, store.NewRecord(jobID, res, job.Config)); err != nil {
			markJobFailed(jm, st, jobID, fmt.Errorf("failed to save record: %w", err))
			return err
		}
	}

	endTime := time.Now()
	err = jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCompleted
		j.Segment = res.Segment
		j.Planes = res.Planes
		j.EndTime = &endTime
	})
	if err != nil {
		return err
	}

	slog.Info("Job completed",
		"job_id", jobID,
		"elapsed", res.Elapsed,
		"planes", len(res.Planes),
		"luma_points", len(res.Segment.ScalingPointsY),
	)
	emit(jm, st, jobID, StateCompleted, store.Event{Stage: store.StageCompleted})
	return nil
}

// estimateConfig maps a job request onto estimator settings. Zero fields keep
// the estimator defaults.
func estimateConfig(jc JobConfig) estimate.Config {
	cfg := estimate.DefaultConfig()
	cfg.StartTime = jc.StartTime
	if jc.EndTime != 0 {
		cfg.EndTime = jc.EndTime
	}
	cfg.ARLag = jc.ARLag
	if jc.Fallback != "" {
		cfg.Fallback = estimate.Fallback(jc.Fallback)
	}
	cfg.MonochromeOnly = jc.Monochrome
	return cfg
}

// emit persists an event (when a store is configured) and pushes it to
// stream subscribers. A terminal event releases the job's stream feed.
func emit(jm *JobManager, st store.Store, jobID string, state JobState, ev store.Event) {
	ev.Timestamp = time.Now()
	if st != nil {
		if err := st.AppendEvent(jobID, ev); err != nil {
			slog.Warn("Failed to append event", "job_id", jobID, "stage", ev.Stage, "error", err)
		}
	}
	jm.broadcaster.Broadcast(ProgressEvent{
		JobID:     jobID,
		State:     state,
		Stage:     ev.Stage,
		Report:    ev.Report,
		Error:     ev.Message,
		Timestamp: ev.Timestamp,
	})
	if state.Done() {
		jm.broadcaster.CleanupJob(jobID)
	}
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, st store.Store, jobID string, err error) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
	})
	slog.Error("Job failed", "job_id", jobID, "error", err)
	emit(jm, st, jobID, StateFailed, store.Event{Stage: store.StageFailed, Message: err.Error()})
}

// markJobCancelled marks a job as cancelled
func markJobCancelled(jm *JobManager, st store.Store, jobID string) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCancelled
		j.EndTime = &endTime
	})
	slog.Info("Job cancelled", "job_id", jobID)
	emit(jm, st, jobID, StateCancelled, store.Event{Stage: store.StageCancelled})
}
