package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cwbudde/grainfit/internal/estimate"
)

// ProgressEvent is a job lifecycle update pushed to SSE clients. Stage uses
// the store event stage names.
type ProgressEvent struct {
	JobID     string                `json:"jobId"`
	Seq       int                   `json:"seq"`
	State     JobState              `json:"state"`
	Stage     string                `json:"stage"`
	Report    *estimate.PlaneReport `json:"report,omitempty"`
	Error     string                `json:"error,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
}

// subscriberBuffer bounds how far a slow client may lag before events are
// dropped for it.
const subscriberBuffer = 16

// jobFeed fans the events of one job out to its subscribers.
type jobFeed struct {
	subs map[chan ProgressEvent]struct{}
	last *ProgressEvent
	seq  int
}

// EventBroadcaster keeps one feed per job. The last event of a feed is
// replayed to new subscribers.
type EventBroadcaster struct {
	mu    sync.Mutex
	feeds map[string]*jobFeed
}

// NewEventBroadcaster creates an empty broadcaster.
func NewEventBroadcaster() *EventBroadcaster {
	return &EventBroadcaster{feeds: make(map[string]*jobFeed)}
}

func (eb *EventBroadcaster) feed(jobID string) *jobFeed {
	f, ok := eb.feeds[jobID]
	if !ok {
		f = &jobFeed{subs: make(map[chan ProgressEvent]struct{})}
		eb.feeds[jobID] = f
	}
	return f
}

// Subscribe registers a client channel for jobID.
func (eb *EventBroadcaster) Subscribe(jobID string) chan ProgressEvent {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	f := eb.feed(jobID)
	ch := make(chan ProgressEvent, subscriberBuffer)
	f.subs[ch] = struct{}{}
	if f.last != nil {
		ch <- *f.last
	}
	slog.Debug("SSE client subscribed", "job_id", jobID, "clients", len(f.subs))
	return ch
}

// Unsubscribe removes ch and closes it. Channels already closed by
// CleanupJob are ignored.
func (eb *EventBroadcaster) Unsubscribe(jobID string, ch chan ProgressEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	f, ok := eb.feeds[jobID]
	if !ok {
		return
	}
	if _, ok := f.subs[ch]; !ok {
		return
	}
	delete(f.subs, ch)
	close(ch)
	if len(f.subs) == 0 && f.last == nil {
		delete(eb.feeds, jobID)
	}
	slog.Debug("SSE client unsubscribed", "job_id", jobID)
}

// Broadcast numbers event within its job and delivers it without blocking.
func (eb *EventBroadcaster) Broadcast(event ProgressEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	f := eb.feed(event.JobID)
	f.seq++
	event.Seq = f.seq
	f.last = &event

	for ch := range f.subs {
		select {
		case ch <- event:
		default:
			slog.Warn("SSE client too slow, dropping event", "job_id", event.JobID, "seq", event.Seq)
		}
	}
}

// CleanupJob closes every subscriber of jobID and forgets its feed. Events
// already buffered stay readable.
func (eb *EventBroadcaster) CleanupJob(jobID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	f, ok := eb.feeds[jobID]
	if !ok {
		return
	}
	for ch := range f.subs {
		close(ch)
	}
	delete(eb.feeds, jobID)
}

// handleJobStream streams job events as server-sent events until the job
// reaches a terminal state or the client goes away.
func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request, jobID string) {
	if _, exists := s.jobManager.GetJob(jobID); !exists {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Subscribe before reading the state so a terminal event cannot slip
	// between the two.
	events := s.jobManager.broadcaster.Subscribe(jobID)
	defer s.jobManager.broadcaster.Unsubscribe(jobID, events)

	job, _ := s.jobManager.GetJob(jobID)
	current := ProgressEvent{
		JobID:     job.ID,
		State:     job.State,
		Stage:     string(job.State),
		Error:     job.Error,
		Timestamp: time.Now(),
	}
	if err := writeSSEEvent(w, current); err != nil {
		slog.Error("Failed to write SSE event", "job_id", jobID, "error", err)
		return
	}
	flusher.Flush()
	if job.State.Done() {
		return
	}

	keepAlive := time.NewTicker(30 * time.Second)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			slog.Debug("SSE client disconnected", "job_id", jobID)
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, event); err != nil {
				slog.Error("Failed to write SSE event", "job_id", jobID, "error", err)
				return
			}
			flusher.Flush()
			if event.State.Done() {
				return
			}
		case <-keepAlive.C:
			io.WriteString(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes one SSE frame. The event name is the stage and the
// id is the per-job sequence number; the initial snapshot carries no id.
func writeSSEEvent(w io.Writer, event ProgressEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	head := "event: " + event.Stage + "\n"
	if event.Seq > 0 {
		head += "id: " + strconv.Itoa(event.Seq) + "\n"
	}
	_, err = fmt.Fprintf(w, "%sdata: %s\n\n", head, data)
	return err
}
