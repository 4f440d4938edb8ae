package store

// Store defines the interface for run persistence consumed by the search
// engine.
//
// Error handling conventions:
//   - Return nil error on success
//   - Return ErrNotFound if the run doesn't exist (for Load/Delete)
//   - Wrap underlying errors with context using fmt.Errorf("context: %w", err)
type Store interface {
	// SaveCheckpoint atomically saves the hyperparameter document and the
	// search-state document for the given run. Existing documents are
	// overwritten. Implementations should use atomic write strategies
	// (temp file + rename) to prevent corruption.
	SaveCheckpoint(runID string, checkpoint *Checkpoint) error

	// LoadCheckpoint retrieves the checkpoint for the given run. Either
	// document may be missing on disk; the corresponding field of the
	// returned checkpoint is nil and the caller falls back to its
	// construction-time values. Returns ErrNotFound when neither document
	// exists. A document that exists but cannot be parsed is an error:
	// resuming from corrupt state would silently produce an invalid search.
	LoadCheckpoint(runID string) (*Checkpoint, error)

	// OpenTrialLog opens the append-only trial log for the given run,
	// creating it if necessary. Existing entries are replayed so that
	// Count and MaxFitness reflect the full history.
	OpenTrialLog(runID string) (*TrialLog, error)

	// ReadTrials reads all trial records for the given run without opening
	// the log for appending. Returns an empty slice if no log exists.
	ReadTrials(runID string) ([]Trial, error)

	// ListRuns returns metadata for all persisted runs.
	ListRuns() ([]RunInfo, error)

	// DeleteRun removes the run directory and all associated artifacts
	// (documents, trial log, rendered curve).
	// Returns ErrNotFound if the run does not exist.
	DeleteRun(runID string) error
}

// ErrNotFound is returned when a requested run does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing run error.
type NotFoundError struct {
	RunID string
}

func (e *NotFoundError) Error() string {
	if e.RunID != "" {
		return "run not found: " + e.RunID
	}
	return "run not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
