package server

import (
	"context"
	"errors"
	"image"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/cwbudde/grainfit/internal/estimate"
	"github.com/cwbudde/grainfit/internal/store"
)

// writeFramePair writes a flat grayscale frame and a copy with Gaussian grain
// of the given standard deviation. It returns the grainy and clean paths.
func writeFramePair(t *testing.T, dir string, w, h int, std float64) (string, string) {
	t.Helper()
	rng := rand.New(rand.NewSource(1))
	clean := image.NewGray(image.Rect(0, 0, w, h))
	grainy := image.NewGray(image.Rect(0, 0, w, h))
	for i := range clean.Pix {
		clean.Pix[i] = 128
		v := 128 + rng.NormFloat64()*std
		grainy.Pix[i] = uint8(min(max(v+0.5, 0), 255))
	}

	srcPath := filepath.Join(dir, "grainy.png")
	denPath := filepath.Join(dir, "clean.png")
	writePNG(t, srcPath, grainy)
	writePNG(t, denPath, clean)
	return srcPath, denPath
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create test image: %v", err)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		t.Fatalf("Failed to encode test image: %v", err)
	}
}

func testJobConfig(src, den string) JobConfig {
	return JobConfig{
		SourcePath:   src,
		DenoisedPath: den,
		EndTime:      10_000_000,
		ARLag:        2,
		Fallback:     "zero",
	}
}

func stages(events []store.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Stage
	}
	return out
}

func TestRunJob_Success(t *testing.T) {
	tmpDir := t.TempDir()
	src, den := writeFramePair(t, tmpDir, 64, 64, 4)

	st, err := store.NewFSStore(filepath.Join(tmpDir, "data"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	jm := NewJobManager()
	job := jm.CreateJob(testJobConfig(src, den))

	if err := runJob(context.Background(), jm, st, job.ID); err != nil {
		t.Fatalf("runJob should succeed: %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateCompleted {
		t.Errorf("Job should be completed, got %s", updated.State)
	}
	if updated.EndTime == nil {
		t.Error("EndTime should be set")
	}
	if updated.Segment == nil || len(updated.Segment.ScalingPointsY) == 0 {
		t.Fatal("Completed job should carry a luma scaling curve")
	}
	if len(updated.Planes) != 1 {
		t.Errorf("Grayscale input should give one plane report, got %d", len(updated.Planes))
	}
	if updated.Segment.ARCoeffLag != 2 {
		t.Errorf("Expected lag 2, got %d", updated.Segment.ARCoeffLag)
	}

	record, err := st.LoadRecord(job.ID)
	if err != nil {
		t.Fatalf("Record should be saved: %v", err)
	}
	if record.Config.SourcePath != src {
		t.Errorf("Record config mismatch: %+v", record.Config)
	}

	events, err := st.LoadEvents(job.ID)
	if err != nil {
		t.Fatalf("Failed to load events: %v", err)
	}
	got := stages(events)
	want := []string{store.StageRunning, store.StagePlane, store.StageCompleted}
	if len(got) != len(want) {
		t.Fatalf("Expected stages %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Stage %d: expected %s, got %s", i, want[i], got[i])
		}
	}
	if events[1].Report == nil || events[1].Report.Plane != "Y" {
		t.Error("Plane event should carry the luma report")
	}

	if _, exists := jm.cancels[job.ID]; exists {
		t.Error("Finished job should release its cancel func")
	}
}

func TestRunJob_NoStore(t *testing.T) {
	tmpDir := t.TempDir()
	src, den := writeFramePair(t, tmpDir, 48, 48, 3)

	jm := NewJobManager()
	job := jm.CreateJob(testJobConfig(src, den))

	if err := runJob(context.Background(), jm, nil, job.ID); err != nil {
		t.Fatalf("runJob should succeed without a store: %v", err)
	}
	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateCompleted {
		t.Errorf("Job should be completed, got %s", updated.State)
	}
}

func TestRunJob_InvalidImage(t *testing.T) {
	tmpDir := t.TempDir()
	st, err := store.NewFSStore(tmpDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	jm := NewJobManager()
	job := jm.CreateJob(testJobConfig("/nonexistent/grainy.png", "/nonexistent/clean.png"))

	if err := runJob(context.Background(), jm, st, job.ID); err == nil {
		t.Error("runJob should fail with invalid image path")
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateFailed {
		t.Errorf("Job should be failed, got %s", updated.State)
	}
	if updated.Error == "" {
		t.Error("Error message should be set")
	}

	events, err := st.LoadEvents(job.ID)
	if err != nil {
		t.Fatalf("Failed to load events: %v", err)
	}
	last := events[len(events)-1]
	if last.Stage != store.StageFailed || last.Message == "" {
		t.Errorf("Last event should be a failure with a message, got %+v", last)
	}
	if _, err := st.LoadRecord(job.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Failed job should not save a record, got %v", err)
	}
}

func TestRunJob_IncompatibleFrames(t *testing.T) {
	tmpDir := t.TempDir()
	src, _ := writeFramePair(t, tmpDir, 64, 64, 4)
	smallDir := filepath.Join(tmpDir, "small")
	if err := os.Mkdir(smallDir, 0755); err != nil {
		t.Fatal(err)
	}
	_, den := writeFramePair(t, smallDir, 32, 64, 4)

	jm := NewJobManager()
	job := jm.CreateJob(testJobConfig(src, den))

	if err := runJob(context.Background(), jm, nil, job.ID); err == nil {
		t.Error("runJob should fail for frames of different size")
	}
	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateFailed {
		t.Errorf("Job should be failed, got %s", updated.State)
	}
}

func TestRunJob_Cancellation(t *testing.T) {
	tmpDir := t.TempDir()
	src, den := writeFramePair(t, tmpDir, 64, 64, 4)

	jm := NewJobManager()
	job := jm.CreateJob(testJobConfig(src, den))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := runJob(ctx, jm, nil, job.ID)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("runJob should return context.Canceled, got %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateCancelled {
		t.Errorf("Job should be cancelled, got %s", updated.State)
	}
}

func TestRunJob_UnknownJob(t *testing.T) {
	jm := NewJobManager()
	if err := runJob(context.Background(), jm, nil, "missing"); err == nil {
		t.Error("runJob should fail for an unknown job")
	}
}

func TestEstimateConfig(t *testing.T) {
	cfg := estimateConfig(JobConfig{StartTime: 5, ARLag: 1, Fallback: "optimizer", Monochrome: true})
	if cfg.StartTime != 5 || cfg.ARLag != 1 || !cfg.MonochromeOnly {
		t.Errorf("Fields not mapped: %+v", cfg)
	}
	if cfg.Fallback != estimate.FallbackOptimizer {
		t.Errorf("Expected optimizer fallback, got %s", cfg.Fallback)
	}
	if cfg.EndTime != estimate.DefaultConfig().EndTime {
		t.Errorf("Zero end time should keep the default, got %d", cfg.EndTime)
	}

	cfg = estimateConfig(JobConfig{EndTime: 42, ARLag: 3})
	if cfg.EndTime != 42 || cfg.Fallback != estimate.FallbackZero {
		t.Errorf("Unexpected config: %+v", cfg)
	}
}
