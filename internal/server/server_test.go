package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cwbudde/grainfit/internal/model"
	"github.com/cwbudde/grainfit/internal/store"
)

func newTestStore(t *testing.T) *store.FSStore {
	t.Helper()
	st, err := store.NewFSStore(filepath.Join(t.TempDir(), "data"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return st
}

// completedJob runs a job synchronously and returns its ID.
func completedJob(t *testing.T, s *Server) string {
	t.Helper()
	src, den := writeFramePair(t, t.TempDir(), 64, 64, 4)
	job := s.jobManager.CreateJob(testJobConfig(src, den))
	if err := runJob(context.Background(), s.jobManager, s.store, job.ID); err != nil {
		t.Fatalf("Job failed: %v", err)
	}
	return job.ID
}

func TestServer_CreateJob(t *testing.T) {
	src, den := writeFramePair(t, t.TempDir(), 64, 64, 4)
	s := NewServer(":8080", nil)
	defer s.Shutdown(context.Background())

	body, _ := json.Marshal(map[string]string{"sourcePath": src, "denoisedPath": den})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewReader(body))
	w := httptest.NewRecorder()

	s.handleCreateJob(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	var job Job
	if err := json.NewDecoder(w.Body).Decode(&job); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if job.ID == "" {
		t.Error("Job ID should not be empty")
	}
	if job.State != StatePending {
		t.Errorf("Expected pending state in the response, got %s", job.State)
	}

	// Omitted fields get the defaults.
	if job.Config.ARLag != 3 || job.Config.Fallback != "zero" || job.Config.EndTime != 10_000_000 {
		t.Errorf("Defaults not applied: %+v", job.Config)
	}
}

func TestServer_CreateJob_Validation(t *testing.T) {
	s := NewServer(":8080", nil)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"sourcePath":`},
		{"missing source", `{"denoisedPath":"b.png"}`},
		{"missing denoised", `{"sourcePath":"a.png"}`},
		{"lag too large", `{"sourcePath":"a.png","denoisedPath":"b.png","arLag":4}`},
		{"unknown fallback", `{"sourcePath":"a.png","denoisedPath":"b.png","fallback":"ridge"}`},
		{"empty span", `{"sourcePath":"a.png","denoisedPath":"b.png","startTime":5,"endTime":5}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			s.handleCreateJob(w, req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", w.Code)
			}
		})
	}

	if n := len(s.jobManager.ListJobs()); n != 0 {
		t.Errorf("Rejected requests should not create jobs, got %d", n)
	}
}

func TestServer_ListJobs(t *testing.T) {
	s := NewServer(":8080", nil)

	s.jobManager.CreateJob(JobConfig{SourcePath: "a.png", DenoisedPath: "b.png"})
	s.jobManager.CreateJob(JobConfig{SourcePath: "c.png", DenoisedPath: "d.png"})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs", nil)
	w := httptest.NewRecorder()

	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}

	var jobs []Job
	if err := json.NewDecoder(w.Body).Decode(&jobs); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if len(jobs) != 2 {
		t.Errorf("Expected 2 jobs, got %d", len(jobs))
	}
}

func TestServer_GetJobStatus(t *testing.T) {
	s := NewServer(":8080", nil)
	job := s.jobManager.CreateJob(JobConfig{SourcePath: "a.png", DenoisedPath: "b.png"})

	for _, path := range []string{"/api/v1/jobs/" + job.ID, "/api/v1/jobs/" + job.ID + "/status"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()

		s.Handler().ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("%s: expected status 200, got %d", path, w.Code)
		}

		var response map[string]interface{}
		if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
			t.Fatalf("Failed to decode response: %v", err)
		}

		if response["id"] != job.ID {
			t.Error("Response should contain job ID")
		}
		if response["state"] != string(StatePending) {
			t.Errorf("Expected pending state, got %v", response["state"])
		}
	}
}

func TestServer_GetJobStatus_Completed(t *testing.T) {
	s := NewServer(":8080", nil)
	jobID := completedJob(t, s)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+jobID+"/status", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	var status JobStatus
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if status.State != StateCompleted || status.Segment == nil || len(status.Planes) == 0 {
		t.Errorf("Expected completed job with results, got %+v", status.Job)
	}
	if status.EndTime == nil {
		t.Fatal("Completed job should have an end time")
	}
	want := status.EndTime.Sub(status.StartTime).Seconds()
	if status.Elapsed < 0 || status.Elapsed-want > 1e-3 || want-status.Elapsed > 1e-3 {
		t.Errorf("Elapsed should span start to end: got %v, want %v", status.Elapsed, want)
	}
}

func TestServer_GetJobStatus_NotFound(t *testing.T) {
	s := NewServer(":8080", nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/nonexistent/status", nil)
	w := httptest.NewRecorder()

	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestServer_UnknownSubpath(t *testing.T) {
	s := NewServer(":8080", nil)
	job := s.jobManager.CreateJob(JobConfig{SourcePath: "a.png"})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID+"/best.png", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestServer_GetTable(t *testing.T) {
	s := NewServer(":8080", newTestStore(t))
	jobID := completedJob(t, s)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+jobID+"/table", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain") {
		t.Errorf("Expected text/plain content type, got %s", w.Header().Get("Content-Type"))
	}

	segs, err := model.ParseTable(w.Body)
	if err != nil {
		t.Fatalf("Response should be a valid grain table: %v", err)
	}
	if len(segs) != 1 || len(segs[0].ScalingPointsY) == 0 {
		t.Errorf("Expected one segment with luma points, got %+v", segs)
	}
}

func TestServer_GetTable_FromStore(t *testing.T) {
	st := newTestStore(t)
	first := NewServer(":8080", st)
	jobID := completedJob(t, first)

	// A restarted server only knows the job from the store.
	s := NewServer(":8080", st)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+jobID+"/table", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if _, err := model.ParseTable(w.Body); err != nil {
		t.Errorf("Stored table should parse: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs/unknown/table", nil)
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for unknown job, got %d", w.Code)
	}
}

func TestServer_GetTable_NoResults(t *testing.T) {
	s := NewServer(":8080", nil)
	job := s.jobManager.CreateJob(JobConfig{SourcePath: "a.png"})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+job.ID+"/table", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestServer_GetEvents(t *testing.T) {
	s := NewServer(":8080", newTestStore(t))
	jobID := completedJob(t, s)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/"+jobID+"/events", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var events []store.Event
	if err := json.NewDecoder(w.Body).Decode(&events); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(events) == 0 || events[len(events)-1].Stage != store.StageCompleted {
		t.Errorf("Expected the log to end with completion, got %v", stages(events))
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/jobs/unknown/events", nil)
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for unknown job, got %d", w.Code)
	}
}

func TestServer_CancelJob(t *testing.T) {
	s := NewServer(":8080", nil)
	job := s.jobManager.CreateJob(JobConfig{SourcePath: "a.png"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.jobManager.setCancel(job.ID, cancel)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/"+job.ID+"/cancel", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusAccepted {
		t.Errorf("Expected status 202, got %d", w.Code)
	}
	if ctx.Err() == nil {
		t.Error("Job context should be cancelled")
	}

	tests := []struct {
		name   string
		method string
		id     string
		code   int
	}{
		{"finished", http.MethodPost, completedJob(t, s), http.StatusConflict},
		{"unknown", http.MethodPost, "unknown", http.StatusNotFound},
		{"wrong method", http.MethodGet, job.ID, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/v1/jobs/"+tt.id+"/cancel", nil)
			w := httptest.NewRecorder()
			s.Handler().ServeHTTP(w, req)
			if w.Code != tt.code {
				t.Errorf("Expected status %d, got %d", tt.code, w.Code)
			}
		})
	}
}

func TestServer_ListRecords(t *testing.T) {
	s := NewServer(":8080", newTestStore(t))
	jobID := completedJob(t, s)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/records", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}

	var records []store.RecordInfo
	if err := json.NewDecoder(w.Body).Decode(&records); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(records) != 1 || records[0].JobID != jobID {
		t.Errorf("Expected one record for %s, got %+v", jobID, records)
	}

	// Without a store the list is empty, not null.
	s = NewServer(":8080", nil)
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/records", nil))
	if got := strings.TrimSpace(w.Body.String()); got != "[]" {
		t.Errorf("Expected empty list, got %s", got)
	}
}

func TestServer_CORS(t *testing.T) {
	s := NewServer(":8080", nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/jobs", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Missing CORS header")
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	s := NewServer(":8080", nil)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/records", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
	if got := w.Header().Get("Allow"); got != http.MethodGet {
		t.Errorf("Expected Allow: GET, got %q", got)
	}
}

func TestServer_Integration(t *testing.T) {
	// Skip in short mode
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	src, den := writeFramePair(t, t.TempDir(), 96, 64, 5)

	s := NewServer("localhost:0", newTestStore(t))
	defer s.Shutdown(context.Background())
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	body, _ := json.Marshal(testJobConfig(src, den))
	resp, err := http.Post(srv.URL+"/api/v1/jobs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}
	defer resp.Body.Close()

	var job Job
	json.NewDecoder(resp.Body).Decode(&job)

	// Poll status until completed
	maxAttempts := 50
	for i := 0; i < maxAttempts; i++ {
		resp, err := http.Get(srv.URL + "/api/v1/jobs/" + job.ID + "/status")
		if err != nil {
			t.Fatalf("Failed to get status: %v", err)
		}

		var status map[string]interface{}
		json.NewDecoder(resp.Body).Decode(&status)
		resp.Body.Close()

		if status["state"] == string(StateCompleted) {
			break
		}

		if status["state"] == string(StateFailed) {
			t.Fatalf("Job failed: %v", status["error"])
		}

		if i == maxAttempts-1 {
			t.Fatal("Job did not complete in time")
		}

		time.Sleep(100 * time.Millisecond)
	}

	resp, err = http.Get(srv.URL + "/api/v1/jobs/" + job.ID + "/table")
	if err != nil {
		t.Fatalf("Failed to get table: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected 200, got %d", resp.StatusCode)
	}
	if _, err := model.ParseTable(resp.Body); err != nil {
		t.Errorf("Table should parse: %v", err)
	}
}

func TestServer_JobStream_Finished(t *testing.T) {
	s := NewServer(":8080", nil)
	jobID := completedJob(t, s)

	req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/api/v1/jobs/%s/stream", jobID), nil)
	w := httptest.NewRecorder()

	// A finished job gets its final state and the stream closes.
	s.handleJobStream(w, req, jobID)

	if w.Header().Get("Content-Type") != "text/event-stream" {
		t.Error("Expected text/event-stream content type")
	}

	body := w.Body.String()
	if !strings.HasPrefix(body, "event: completed\ndata: {") {
		t.Fatalf("Expected SSE data in response, got %q", body)
	}
	data := strings.TrimPrefix(body, "event: completed\n")
	var event ProgressEvent
	if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(data, "data: "))), &event); err != nil {
		t.Fatalf("Failed to decode event: %v", err)
	}
	if event.State != StateCompleted {
		t.Errorf("Expected completed state, got %s", event.State)
	}
}

func TestServer_JobStream_Live(t *testing.T) {
	s := NewServer(":8080", nil)
	job := s.jobManager.CreateJob(JobConfig{SourcePath: "a.png"})
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/jobs/" + job.ID + "/stream")
	if err != nil {
		t.Fatalf("Failed to open stream: %v", err)
	}
	defer resp.Body.Close()

	events := make(chan ProgressEvent)
	go func() {
		defer close(events)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			var ev ProgressEvent
			if json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev) == nil {
				events <- ev
			}
		}
	}()

	next := func() ProgressEvent {
		t.Helper()
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatal("Stream closed early")
			}
			return ev
		case <-time.After(3 * time.Second):
			t.Fatal("Timeout waiting for event")
		}
		return ProgressEvent{}
	}

	if ev := next(); ev.State != StatePending {
		t.Errorf("Initial event should report pending, got %s", ev.State)
	}

	// The subscription exists once the initial event has been written.
	emit(s.jobManager, nil, job.ID, StateCompleted, store.Event{Stage: store.StageCompleted})

	if ev := next(); ev.Stage != store.StageCompleted {
		t.Errorf("Expected completion event, got %+v", ev)
	}

	select {
	case _, ok := <-events:
		if ok {
			t.Error("Stream should close after a terminal event")
		}
	case <-time.After(3 * time.Second):
		t.Error("Stream did not close")
	}
}

func TestServer_JobStream_NotFound(t *testing.T) {
	s := NewServer(":8080", nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/nonexistent/stream", nil)
	w := httptest.NewRecorder()

	s.handleJobStream(w, req, "nonexistent")

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}

func TestEventBroadcaster(t *testing.T) {
	eb := NewEventBroadcaster()

	// Subscribe to events
	ch := eb.Subscribe("job1")
	defer eb.Unsubscribe("job1", ch)

	// Broadcast an event
	event := ProgressEvent{
		JobID:     "job1",
		State:     StateRunning,
		Stage:     store.StageRunning,
		Timestamp: time.Now(),
	}
	eb.Broadcast(event)

	// Receive event
	select {
	case received := <-ch:
		if received.JobID != "job1" {
			t.Errorf("Expected jobID job1, got %s", received.JobID)
		}
		if received.Stage != store.StageRunning {
			t.Errorf("Expected running stage, got %s", received.Stage)
		}
	case <-time.After(1 * time.Second):
		t.Error("Timeout waiting for event")
	}

	// Late subscribers get the last event replayed.
	late := eb.Subscribe("job1")
	select {
	case received := <-late:
		if received.Stage != store.StageRunning {
			t.Errorf("Expected replayed running event, got %s", received.Stage)
		}
	default:
		t.Error("Late subscriber should get the last event")
	}

	eb.Broadcast(ProgressEvent{JobID: "job1", State: StateCompleted, Stage: store.StageCompleted})
	if received := <-ch; received.Seq != 2 {
		t.Errorf("Expected sequence 2, got %d", received.Seq)
	}

	// Cleanup closes subscribers; a later Unsubscribe is a no-op.
	eb.CleanupJob("job1")
	if received, ok := <-late; !ok || received.Seq != 2 {
		t.Errorf("Buffered completion event should survive cleanup, got %+v (ok=%v)", received, ok)
	}
	if _, ok := <-late; ok {
		t.Error("Expected late channel to be closed after cleanup")
	}
	eb.Unsubscribe("job1", late)
}

func TestWriteSSEEvent(t *testing.T) {
	var buf bytes.Buffer
	if err := writeSSEEvent(&buf, ProgressEvent{JobID: "j", Seq: 3, Stage: store.StagePlane}); err != nil {
		t.Fatalf("writeSSEEvent failed: %v", err)
	}
	got := buf.String()
	if !strings.HasPrefix(got, "event: plane\nid: 3\ndata: {") || !strings.HasSuffix(got, "}\n\n") {
		t.Errorf("Unexpected SSE frame %q", got)
	}
}
