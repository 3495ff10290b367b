package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cwbudde/grainfit/internal/estimate"
)

// Event stages written by the job runner.
const (
	StageQueued    = "queued"
	StageRunning   = "running"
	StagePlane     = "plane"
	StageCompleted = "completed"
	StageFailed    = "failed"
	StageCancelled = "cancelled"
)

// Event is a single entry in a job's event log.
// Each entry is serialized as a JSON line in events.jsonl.
type Event struct {
	Stage     string    `json:"stage"`
	Timestamp time.Time `json:"timestamp"`

	// Message carries the error text for failed jobs.
	Message string `json:"message,omitempty"`

	// Report is set for StagePlane events.
	Report *estimate.PlaneReport `json:"report,omitempty"`
}

// EventWriter appends events to a JSONL file.
// It uses buffered I/O and is safe for concurrent use.
type EventWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	path   string
}

// NewEventWriter opens <baseDir>/jobs/<jobID>/events.jsonl for appending,
// creating it and the job directory if needed.
func NewEventWriter(baseDir, jobID string) (*EventWriter, error) {
	jobDir := filepath.Join(baseDir, "jobs", jobID)
	if err := os.MkdirAll(jobDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create job directory: %w", err)
	}

	path := filepath.Join(jobDir, "events.jsonl")
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}

	return &EventWriter{
		file:   file,
		writer: bufio.NewWriter(file),
		path:   path,
	}, nil
}

// Write appends an event, stamping it with the current time when its
// Timestamp is zero. The entry is buffered until Flush or Close.
func (ew *EventWriter) Write(event Event) error {
	ew.mu.Lock()
	defer ew.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := ew.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if err := ew.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	return nil
}

// Flush writes buffered events and syncs the file.
func (ew *EventWriter) Flush() error {
	ew.mu.Lock()
	defer ew.mu.Unlock()

	if err := ew.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush event log: %w", err)
	}
	if err := ew.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync event log: %w", err)
	}
	return nil
}

// Close flushes buffered events and closes the file.
func (ew *EventWriter) Close() error {
	ew.mu.Lock()
	defer ew.mu.Unlock()

	if err := ew.writer.Flush(); err != nil {
		ew.file.Close()
		return fmt.Errorf("failed to flush on close: %w", err)
	}
	if err := ew.file.Close(); err != nil {
		return fmt.Errorf("failed to close event log: %w", err)
	}
	return nil
}

// Path returns the filesystem path to the event log.
func (ew *EventWriter) Path() string {
	return ew.path
}

// ReadEvents loads every event for the job in write order.
// Returns a NotFoundError if the job has no event log.
func ReadEvents(baseDir, jobID string) ([]Event, error) {
	path := filepath.Join(baseDir, "jobs", jobID, "events.jsonl")
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{JobID: jobID}
		}
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	defer file.Close()

	return decodeEvents(file)
}

func decodeEvents(r io.Reader) ([]Event, error) {
	var events []Event
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		var event Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event %d: %w", len(events), err)
		}
		events = append(events, event)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan event log: %w", err)
	}
	return events, nil
}
