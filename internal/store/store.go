package store

// Store defines the interface for estimation result persistence.
// Implementations must be safe for concurrent use.
//
// Error handling conventions:
//   - Return nil error on success
//   - Return ErrNotFound if the record doesn't exist (for Load/Delete)
//   - Wrap underlying errors with context using fmt.Errorf("context: %w", err)
type Store interface {
	// SaveRecord atomically saves the record for the given job together
	// with its grain table. An existing record for jobID is overwritten.
	SaveRecord(jobID string, record *Record) error

	// LoadRecord retrieves the record for the given job.
	// Returns ErrNotFound if no record exists for this jobID.
	LoadRecord(jobID string) (*Record, error)

	// LoadTable returns the grain table text saved with the record.
	// Returns ErrNotFound if no table exists for this jobID.
	LoadTable(jobID string) ([]byte, error)

	// ListRecords returns metadata for all stored records.
	// The returned slice may be empty.
	ListRecords() ([]RecordInfo, error)

	// AppendEvent adds an entry to the job's event log, creating it if
	// needed. Events may be appended before any record is saved.
	AppendEvent(jobID string, event Event) error

	// LoadEvents returns the job's event log in write order.
	// Returns ErrNotFound if the job has no event log.
	LoadEvents(jobID string) ([]Event, error)

	// DeleteRecord removes the record and all associated artifacts
	// (segment.json, grain.tbl, events.jsonl).
	// Returns ErrNotFound if no record exists for this jobID.
	DeleteRecord(jobID string) error
}

// ErrNotFound is returned when a requested record does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing record error.
type NotFoundError struct {
	JobID string
}

func (e *NotFoundError) Error() string {
	if e.JobID != "" {
		return "record not found: " + e.JobID
	}
	return "record not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
