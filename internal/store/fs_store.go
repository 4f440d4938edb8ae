package store

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/evotune/evotune/internal/hyp"
)

// FSStore implements the Store interface using filesystem-based persistence.
// Each run lives under <baseDir>/runs/<runID>/ holding hyp.yaml, state.yaml,
// trials.jsonl and curve.png.
//
// Thread-safety: checkpoint writes use atomic file operations (rename) and
// do not require locks. The trial log serializes its own appends.
type FSStore struct {
	baseDir string
}

// NewFSStore creates a new filesystem-based store.
// The baseDir will be created if it doesn't exist.
func NewFSStore(baseDir string) (*FSStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &FSStore{baseDir: baseDir}, nil
}

// RunDir returns the directory path for a given run ID.
func (fs *FSStore) RunDir(runID string) string {
	return filepath.Join(fs.baseDir, "runs", runID)
}

// CurvePath returns the path of the rendered trajectory image for a run.
func (fs *FSStore) CurvePath(runID string) string {
	return filepath.Join(fs.RunDir(runID), "curve.png")
}

func (fs *FSStore) hypPath(runID string) string {
	return filepath.Join(fs.RunDir(runID), "hyp.yaml")
}

func (fs *FSStore) statePath(runID string) string {
	return filepath.Join(fs.RunDir(runID), "state.yaml")
}

func (fs *FSStore) trialsPath(runID string) string {
	return filepath.Join(fs.RunDir(runID), "trials.jsonl")
}

// writeAtomic writes data to path using the temp file + rename pattern.
func writeAtomic(path string, data []byte) error {
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// SaveCheckpoint atomically saves the hyperparameter and state documents.
func (fs *FSStore) SaveCheckpoint(runID string, checkpoint *Checkpoint) error {
	if runID == "" {
		return fmt.Errorf("runID cannot be empty")
	}
	if checkpoint == nil {
		return fmt.Errorf("checkpoint cannot be nil")
	}

	runDir := fs.RunDir(runID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}

	if checkpoint.Params != nil {
		data, err := yaml.Marshal(checkpoint.Params)
		if err != nil {
			return fmt.Errorf("failed to serialize hyperparameter document: %w", err)
		}
		if err := writeAtomic(fs.hypPath(runID), data); err != nil {
			return fmt.Errorf("failed to save hyperparameter document: %w", err)
		}
	}

	if checkpoint.State != nil {
		data, err := yaml.Marshal(checkpoint.State)
		if err != nil {
			return fmt.Errorf("failed to serialize state document: %w", err)
		}
		if err := writeAtomic(fs.statePath(runID), data); err != nil {
			return fmt.Errorf("failed to save state document: %w", err)
		}
	}

	slog.Debug("Checkpoint saved", "runID", runID, "dir", runDir)
	return nil
}

// LoadCheckpoint retrieves the checkpoint documents for the given run.
func (fs *FSStore) LoadCheckpoint(runID string) (*Checkpoint, error) {
	if runID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}

	checkpoint := &Checkpoint{}
	found := false

	if data, err := os.ReadFile(fs.hypPath(runID)); err == nil {
		params := hyp.New()
		if err := yaml.Unmarshal(data, params); err != nil {
			return nil, fmt.Errorf("failed to parse hyperparameter document: %w", err)
		}
		checkpoint.Params = params
		found = true
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read hyperparameter document: %w", err)
	}

	if data, err := os.ReadFile(fs.statePath(runID)); err == nil {
		state := &RunState{}
		if err := yaml.Unmarshal(data, state); err != nil {
			return nil, fmt.Errorf("failed to parse state document: %w", err)
		}
		checkpoint.State = state
		found = true
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read state document: %w", err)
	}

	if !found {
		return nil, &NotFoundError{RunID: runID}
	}

	slog.Debug("Checkpoint loaded", "runID", runID)
	return checkpoint, nil
}

// OpenTrialLog opens the append-only trial log for the given run.
func (fs *FSStore) OpenTrialLog(runID string) (*TrialLog, error) {
	if runID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}
	if err := os.MkdirAll(fs.RunDir(runID), 0755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}
	return OpenTrialLog(fs.trialsPath(runID))
}

// ReadTrials reads all trial records for the given run.
func (fs *FSStore) ReadTrials(runID string) ([]Trial, error) {
	trials, err := ReadTrials(fs.trialsPath(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return []Trial{}, nil
		}
		return nil, err
	}
	return trials, nil
}

// ListRuns returns metadata for all persisted runs.
func (fs *FSStore) ListRuns() ([]RunInfo, error) {
	runsDir := filepath.Join(fs.baseDir, "runs")

	entries, err := os.ReadDir(runsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunInfo{}, nil
		}
		return nil, fmt.Errorf("failed to read runs directory: %w", err)
	}

	var infos []RunInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		runID := entry.Name()

		stat, err := os.Stat(fs.statePath(runID))
		if err != nil {
			if stat, err = os.Stat(fs.hypPath(runID)); err != nil {
				continue // Not a run directory
			}
		}

		info := RunInfo{RunID: runID, BestFitness: math.Inf(-1), Updated: stat.ModTime()}
		trials, err := fs.ReadTrials(runID)
		if err != nil {
			slog.Warn("Failed to read trial log for listing", "runID", runID, "error", err)
		}
		for _, tr := range trials {
			if tr.Fitness > info.BestFitness {
				info.BestFitness = tr.Fitness
			}
		}
		// A checkpoint without a trial log has completed zero epochs.
		if len(trials) > 0 {
			info.Epochs = len(trials) - 1
		}

		infos = append(infos, info)
	}

	slog.Debug("Listed runs", "count", len(infos))
	return infos, nil
}

// DeleteRun removes the run directory and all associated artifacts.
func (fs *FSStore) DeleteRun(runID string) error {
	if runID == "" {
		return fmt.Errorf("runID cannot be empty")
	}

	runDir := fs.RunDir(runID)
	if _, err := os.Stat(runDir); os.IsNotExist(err) {
		return &NotFoundError{RunID: runID}
	} else if err != nil {
		return fmt.Errorf("failed to stat run directory: %w", err)
	}

	if err := os.RemoveAll(runDir); err != nil {
		return fmt.Errorf("failed to remove run directory: %w", err)
	}

	slog.Debug("Run deleted", "runID", runID, "path", runDir)
	return nil
}
