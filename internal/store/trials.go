package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sync"
)

// TrialLog is the append-only evaluation log of a run, one JSON line per
// trial. The log is never rewritten: resumption is driven entirely by its
// length and the recorded maximum fitness. Existing entries are replayed on
// open so that queries reflect the full history.
type TrialLog struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	path   string

	trials []Trial
}

// OpenTrialLog opens (or creates) the trial log at path in append mode and
// replays any existing entries.
func OpenTrialLog(path string) (*TrialLog, error) {
	trials, err := ReadTrials(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open trial log: %w", err)
	}

	return &TrialLog{
		file:   file,
		writer: bufio.NewWriterSize(file, 64*1024),
		path:   path,
		trials: trials,
	}, nil
}

// Append writes one trial record and syncs it to disk. Every epoch persists
// exactly one record, so durability matters more than write throughput here.
func (tl *TrialLog) Append(trial Trial) error {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	data, err := json.Marshal(trial)
	if err != nil {
		return fmt.Errorf("failed to marshal trial record: %w", err)
	}
	if _, err := tl.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write trial record: %w", err)
	}
	if err := tl.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	if err := tl.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush trial log: %w", err)
	}
	if err := tl.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync trial log: %w", err)
	}

	tl.trials = append(tl.trials, trial)
	return nil
}

// Count returns the number of recorded trials, including the baseline row.
func (tl *TrialLog) Count() int {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return len(tl.trials)
}

// MaxFitness returns the maximum recorded fitness, and false when the log
// is empty.
func (tl *TrialLog) MaxFitness() (float64, bool) {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	if len(tl.trials) == 0 {
		return 0, false
	}
	best := math.Inf(-1)
	for _, tr := range tl.trials {
		if tr.Fitness > best {
			best = tr.Fitness
		}
	}
	return best, true
}

// BestEpoch returns the epoch index holding the maximum recorded fitness,
// and false when the log is empty.
func (tl *TrialLog) BestEpoch() (int, bool) {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	if len(tl.trials) == 0 {
		return 0, false
	}
	best, epoch := math.Inf(-1), 0
	for _, tr := range tl.trials {
		if tr.Fitness > best {
			best, epoch = tr.Fitness, tr.Epoch
		}
	}
	return epoch, true
}

// Trials returns a copy of all recorded trials in append order.
func (tl *TrialLog) Trials() []Trial {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	out := make([]Trial, len(tl.trials))
	copy(out, tl.trials)
	return out
}

// Path returns the filesystem path of the log.
func (tl *TrialLog) Path() string {
	return tl.path
}

// Close flushes buffered data and closes the log file.
func (tl *TrialLog) Close() error {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	if err := tl.writer.Flush(); err != nil {
		tl.file.Close()
		return fmt.Errorf("failed to flush on close: %w", err)
	}
	if err := tl.file.Close(); err != nil {
		return fmt.Errorf("failed to close trial log: %w", err)
	}
	return nil
}

// ReadTrials reads all trial records from the JSONL file at path.
// The underlying os.IsNotExist error is preserved for missing files.
func ReadTrials(path string) ([]Trial, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var trials []Trial
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var trial Trial
		if err := json.Unmarshal(line, &trial); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trial record: %w", err)
		}
		trials = append(trials, trial)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan trial log: %w", err)
	}
	return trials, nil
}
