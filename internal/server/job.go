package server

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobState represents the current state of a job
type JobState string

const (
	StatePending   JobState = "pending"
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// JobConfig holds the configuration of a tuning job.
type JobConfig struct {
	// RunID selects the persisted run to create or resume. Defaults to the
	// job ID for fresh runs.
	RunID string `json:"runId,omitempty"`

	// Objective names the built-in fitness function to optimize.
	Objective string `json:"objective"`

	// HypPath optionally points to a YAML file with the initial
	// hyperparameter mapping. A built-in sample set is used when empty.
	HypPath string `json:"hypPath,omitempty"`

	Epochs   int     `json:"epochs"`
	Patience float64 `json:"patience,omitempty"`
	Mutation float64 `json:"mutation,omitempty"`
	Seed     int64   `json:"seed,omitempty"`
}

// Job represents a hyperparameter tuning job
type Job struct {
	ID          string     `json:"id"`
	State       JobState   `json:"state"`
	Config      JobConfig  `json:"config"`
	Epoch       int        `json:"epoch"`
	BestFitness float64    `json:"bestFitness"`
	BestEpoch   int        `json:"bestEpoch"`
	StartTime   time.Time  `json:"startTime"`
	EndTime     *time.Time `json:"endTime,omitempty"`
	Error       string     `json:"error,omitempty"`

	hasBest bool
	cancel  func()
}

// JobManager manages the lifecycle of jobs
type JobManager struct {
	mu          sync.RWMutex
	jobs        map[string]*Job
	broadcaster *EventBroadcaster
}

// NewJobManager creates a new JobManager
func NewJobManager() *JobManager {
	return &JobManager{
		jobs:        make(map[string]*Job),
		broadcaster: NewEventBroadcaster(),
	}
}

// CreateJob creates a new job with the given configuration
func (jm *JobManager) CreateJob(config JobConfig) *Job {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job := &Job{
		ID:        uuid.New().String(),
		State:     StatePending,
		Config:    config,
		StartTime: time.Now(),
	}
	if job.Config.RunID == "" {
		job.Config.RunID = job.ID
	}

	jm.jobs[job.ID] = job
	cp := *job
	return &cp
}

// GetJob retrieves a snapshot of a job by ID. The worker goroutine keeps
// mutating the stored job after every trial, so callers get a copy taken
// under the lock rather than the live pointer.
func (jm *JobManager) GetJob(id string) (*Job, bool) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, exists := jm.jobs[id]
	if !exists {
		return nil, false
	}
	cp := *job
	return &cp, true
}

// ListJobs returns snapshots of all jobs
func (jm *JobManager) ListJobs() []*Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	jobs := make([]*Job, 0, len(jm.jobs))
	for _, job := range jm.jobs {
		cp := *job
		jobs = append(jobs, &cp)
	}
	return jobs
}

// UpdateJob atomically updates a job using the provided function
func (jm *JobManager) UpdateJob(id string, updateFn func(*Job)) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists {
		return fmt.Errorf("job not found: %s", id)
	}

	updateFn(job)
	return nil
}

// CancelJob requests cancellation of a running job. Returns false when no
// such job exists or it is not cancellable.
func (jm *JobManager) CancelJob(id string) bool {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists || job.cancel == nil {
		return false
	}
	if job.State != StatePending && job.State != StateRunning {
		return false
	}
	job.cancel()
	return true
}

// GetRunningJobs returns snapshots of all jobs currently in the running state
func (jm *JobManager) GetRunningJobs() []*Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	runningJobs := make([]*Job, 0)
	for _, job := range jm.jobs {
		if job.State == StateRunning {
			cp := *job
			runningJobs = append(runningJobs, &cp)
		}
	}
	return runningJobs
}
