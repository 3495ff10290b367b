package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cwbudde/grainfit/internal/model"
)

// FSStore implements the Store interface using filesystem-based persistence.
// Records are stored in a directory structure: <baseDir>/jobs/<jobID>/
//
//	segment.json  the Record
//	grain.tbl     the segment in filmgrn1 table format
//	events.jsonl  job lifecycle events (see EventWriter)
//
// Every file is written to a temp file and renamed into place, so concurrent
// readers never observe a partial write.
type FSStore struct {
	baseDir string
}

// NewFSStore creates a new filesystem-based store.
// The baseDir will be created if it doesn't exist.
func NewFSStore(baseDir string) (*FSStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FSStore{
		baseDir: baseDir,
	}, nil
}

// BaseDir returns the root directory of the store.
func (fs *FSStore) BaseDir() string {
	return fs.baseDir
}

func (fs *FSStore) jobDir(jobID string) string {
	return filepath.Join(fs.baseDir, "jobs", jobID)
}

func (fs *FSStore) recordPath(jobID string) string {
	return filepath.Join(fs.jobDir(jobID), "segment.json")
}

func (fs *FSStore) tablePath(jobID string) string {
	return filepath.Join(fs.jobDir(jobID), "grain.tbl")
}

// writeAtomic writes data to path via a temp file + rename.
func writeAtomic(path string, data []byte) error {
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

// SaveRecord validates the record and atomically writes segment.json and
// grain.tbl. The table is written first so a visible record always has one.
func (fs *FSStore) SaveRecord(jobID string, record *Record) error {
	if jobID == "" {
		return fmt.Errorf("jobID cannot be empty")
	}
	if record == nil {
		return fmt.Errorf("record cannot be nil")
	}
	if err := record.Validate(); err != nil {
		return err
	}

	jobDir := fs.jobDir(jobID)
	if err := os.MkdirAll(jobDir, 0755); err != nil {
		return fmt.Errorf("failed to create job directory: %w", err)
	}

	var table bytes.Buffer
	if err := model.WriteTable(&table, []model.Segment{record.Segment}); err != nil {
		return fmt.Errorf("failed to format grain table: %w", err)
	}
	if err := writeAtomic(fs.tablePath(jobID), table.Bytes()); err != nil {
		return err
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize record: %w", err)
	}
	if err := writeAtomic(fs.recordPath(jobID), data); err != nil {
		return err
	}

	slog.Debug("Record saved", "jobID", jobID, "path", jobDir)
	return nil
}

// LoadRecord retrieves the record for the given job.
func (fs *FSStore) LoadRecord(jobID string) (*Record, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID cannot be empty")
	}

	path := fs.recordPath(jobID)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, &NotFoundError{JobID: jobID}
	} else if err != nil {
		return nil, fmt.Errorf("failed to read record file: %w", err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to deserialize record: %w", err)
	}

	slog.Debug("Record loaded", "jobID", jobID, "path", path)
	return &record, nil
}

// LoadTable returns the stored grain.tbl contents for the job.
func (fs *FSStore) LoadTable(jobID string) ([]byte, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID cannot be empty")
	}
	data, err := os.ReadFile(fs.tablePath(jobID))
	if os.IsNotExist(err) {
		return nil, &NotFoundError{JobID: jobID}
	} else if err != nil {
		return nil, fmt.Errorf("failed to read grain table: %w", err)
	}
	return data, nil
}

// ListRecords returns metadata for all stored records. Unreadable records
// are logged and skipped.
func (fs *FSStore) ListRecords() ([]RecordInfo, error) {
	jobsDir := filepath.Join(fs.baseDir, "jobs")

	entries, err := os.ReadDir(jobsDir)
	if os.IsNotExist(err) {
		return []RecordInfo{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read jobs directory: %w", err)
	}

	infos := []RecordInfo{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		jobID := entry.Name()
		if _, err := os.Stat(fs.recordPath(jobID)); os.IsNotExist(err) {
			continue // job still running or failed before saving
		}

		record, err := fs.LoadRecord(jobID)
		if err != nil {
			slog.Warn("Failed to load record for listing", "jobID", jobID, "error", err)
			continue
		}

		infos = append(infos, record.ToInfo())
	}

	slog.Debug("Listed records", "count", len(infos))
	return infos, nil
}

// AppendEvent opens the job's event log, writes event and closes it again.
func (fs *FSStore) AppendEvent(jobID string, event Event) error {
	if jobID == "" {
		return fmt.Errorf("jobID cannot be empty")
	}
	ew, err := NewEventWriter(fs.baseDir, jobID)
	if err != nil {
		return err
	}
	if err := ew.Write(event); err != nil {
		ew.Close()
		return err
	}
	return ew.Close()
}

// LoadEvents reads the job's event log.
func (fs *FSStore) LoadEvents(jobID string) ([]Event, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID cannot be empty")
	}
	return ReadEvents(fs.baseDir, jobID)
}

// DeleteRecord removes the job directory and all of its artifacts.
func (fs *FSStore) DeleteRecord(jobID string) error {
	if jobID == "" {
		return fmt.Errorf("jobID cannot be empty")
	}

	jobDir := fs.jobDir(jobID)
	if _, err := os.Stat(jobDir); os.IsNotExist(err) {
		return &NotFoundError{JobID: jobID}
	} else if err != nil {
		return fmt.Errorf("failed to stat job directory: %w", err)
	}

	if err := os.RemoveAll(jobDir); err != nil {
		return fmt.Errorf("failed to remove job directory: %w", err)
	}

	slog.Debug("Record deleted", "jobID", jobID, "path", jobDir)
	return nil
}
