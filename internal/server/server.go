package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/cwbudde/grainfit/internal/estimate"
	"github.com/cwbudde/grainfit/internal/model"
	"github.com/cwbudde/grainfit/internal/store"
)

// Server represents the HTTP server
type Server struct {
	jobManager *JobManager
	store      store.Store
	addr       string
	server     *http.Server

	// baseCtx parents every job context and is cancelled on Shutdown.
	baseCtx    context.Context
	cancelJobs context.CancelFunc
}

// NewServer creates a new HTTP server. st may be nil, in which case jobs are
// kept in memory only.
func NewServer(addr string, st store.Store) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		jobManager: NewJobManager(),
		store:      st,
		addr:       addr,
		baseCtx:    ctx,
		cancelJobs: cancel,
	}
}

// Handler returns the routed and wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/jobs", s.handleJobs)
	mux.HandleFunc("/api/v1/jobs/", s.handleJobsWithID)
	mux.HandleFunc("/api/v1/records", s.handleListRecords)

	return s.loggingMiddleware(s.corsMiddleware(mux))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	slog.Info("Starting HTTP server", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown cancels running jobs and gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server")
	s.cancelJobs()
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// JobStatus is the status endpoint response: the job plus its run time so far.
type JobStatus struct {
	Job
	Elapsed float64 `json:"elapsed"`
}

// writeJSON encodes v with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}

// allow rejects requests whose method is not m.
func allow(w http.ResponseWriter, r *http.Request, m string) bool {
	if r.Method != m {
		w.Header().Set("Allow", m)
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateJob(w, r)
	case http.MethodGet:
		s.handleListJobs(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleJobsWithID routes /api/v1/jobs/{id}[/{action}].
func (s *Server) handleJobsWithID(w http.ResponseWriter, r *http.Request) {
	jobID, action, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/api/v1/jobs/"), "/")
	if jobID == "" {
		http.Error(w, "Job ID required", http.StatusBadRequest)
		return
	}

	switch action {
	case "", "status":
		s.handleGetJobStatus(w, r, jobID)
	case "table":
		s.handleGetTable(w, r, jobID)
	case "events":
		s.handleGetEvents(w, r, jobID)
	case "stream":
		s.handleJobStream(w, r, jobID)
	case "cancel":
		s.handleCancelJob(w, r, jobID)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

// handleCreateJob validates the request, queues the job and starts its
// worker under the server context.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	// Omitted fields keep these defaults.
	config := JobConfig{
		EndTime:  10_000_000,
		ARLag:    3,
		Fallback: string(estimate.FallbackZero),
	}
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	switch {
	case config.SourcePath == "":
		http.Error(w, "sourcePath is required", http.StatusBadRequest)
		return
	case config.DenoisedPath == "":
		http.Error(w, "denoisedPath is required", http.StatusBadRequest)
		return
	}
	cfg := estimateConfig(config)
	if err := cfg.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	job := s.jobManager.CreateJob(config)
	snapshot := *job
	if s.store != nil {
		if err := s.store.AppendEvent(job.ID, store.Event{Stage: store.StageQueued, Timestamp: time.Now()}); err != nil {
			slog.Warn("Failed to append event", "job_id", job.ID, "error", err)
		}
	}
	slog.Info("Job queued", "job_id", job.ID, "source", config.SourcePath, "ar_lag", config.ARLag)

	ctx, cancel := context.WithCancel(s.baseCtx)
	s.jobManager.setCancel(job.ID, cancel)
	go func() {
		defer cancel()
		runJob(ctx, s.jobManager, s.store, job.ID)
	}()

	writeJSON(w, http.StatusCreated, snapshot)
}

// handleListJobs returns every in-memory job, oldest first.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.jobManager.ListJobs()
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].StartTime.Before(jobs[j].StartTime) })
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleGetJobStatus(w http.ResponseWriter, r *http.Request, jobID string) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	job, exists := s.jobManager.GetJob(jobID)
	if !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	end := time.Now()
	if job.EndTime != nil {
		end = *job.EndTime
	}
	writeJSON(w, http.StatusOK, JobStatus{Job: job, Elapsed: end.Sub(job.StartTime).Seconds()})
}

// handleGetTable serves the grain table of a finished job. Jobs no longer in
// memory are looked up in the store.
func (s *Server) handleGetTable(w http.ResponseWriter, r *http.Request, jobID string) {
	if !allow(w, r, http.MethodGet) {
		return
	}

	var data []byte
	job, exists := s.jobManager.GetJob(jobID)
	switch {
	case exists && job.Segment != nil:
		var buf bytes.Buffer
		if err := model.WriteTable(&buf, []model.Segment{*job.Segment}); err != nil {
			http.Error(w, fmt.Sprintf("Failed to write table: %v", err), http.StatusInternalServerError)
			return
		}
		data = buf.Bytes()
	case exists:
		http.Error(w, "No results yet", http.StatusNotFound)
		return
	case s.store != nil:
		var err error
		if data, err = s.store.LoadTable(jobID); err != nil {
			storeError(w, err)
			return
		}
	default:
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write(data)
}

// handleGetEvents returns the persisted event log of a job.
func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request, jobID string) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	if s.store == nil {
		http.Error(w, "No store configured", http.StatusNotFound)
		return
	}

	events, err := s.store.LoadEvents(jobID)
	if err != nil {
		storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// handleCancelJob requests cancellation; the worker records the outcome.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request, jobID string) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	if _, exists := s.jobManager.GetJob(jobID); !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	if !s.jobManager.CancelJob(jobID) {
		http.Error(w, "Job already finished", http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	records := []store.RecordInfo{}
	if s.store != nil {
		var err error
		if records, err = s.store.ListRecords(); err != nil {
			storeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, records)
}

// storeError maps store lookups to 404 and everything else to 500.
func storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}
	slog.Error("Store access failed", "error", err)
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response code for request logs. It forwards
// Flush so SSE responses keep streaming.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "status", rec.code, "duration", time.Since(start))
	})
}
