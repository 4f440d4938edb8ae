package server

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/evotune/evotune/internal/store"
)

func newTestJobStore(t *testing.T) *store.FSStore {
	t.Helper()

	st, err := store.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create test store: %v", err)
	}
	return st
}

func TestRunJob_Success(t *testing.T) {
	jm := NewJobManager()
	st := newTestJobStore(t)

	job := jm.CreateJob(JobConfig{
		Objective: "sphere",
		Epochs:    5,
		Seed:      42,
	})

	if err := runJob(context.Background(), jm, st, job.ID); err != nil {
		t.Errorf("runJob should succeed: %v", err)
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateCompleted {
		t.Errorf("Job should be completed, got %s", updated.State)
	}
	if updated.Epoch == 0 {
		t.Error("Epoch counter should have advanced")
	}
	if updated.EndTime == nil {
		t.Error("EndTime should be set")
	}

	// The run is persisted under the job's run ID.
	trials, err := st.ReadTrials(job.Config.RunID)
	if err != nil {
		t.Fatalf("ReadTrials failed: %v", err)
	}
	if len(trials) == 0 {
		t.Error("Expected persisted trial records")
	}

	// Completed jobs render their trajectory image.
	if _, err := os.Stat(st.CurvePath(job.Config.RunID)); err != nil {
		t.Errorf("Expected trajectory image: %v", err)
	}
}

func TestRunJob_UnknownObjective(t *testing.T) {
	jm := NewJobManager()
	st := newTestJobStore(t)

	job := jm.CreateJob(JobConfig{Objective: "bogus", Epochs: 5})

	if err := runJob(context.Background(), jm, st, job.ID); err == nil {
		t.Error("runJob should fail for unknown objective")
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateFailed {
		t.Errorf("Job should be failed, got %s", updated.State)
	}
	if !strings.Contains(updated.Error, "unknown objective") {
		t.Errorf("Expected objective error, got %q", updated.Error)
	}
}

func TestRunJob_MissingHypFile(t *testing.T) {
	jm := NewJobManager()
	st := newTestJobStore(t)

	job := jm.CreateJob(JobConfig{
		Objective: "sphere",
		Epochs:    5,
		HypPath:   "/nonexistent/hyp.yaml",
	})

	if err := runJob(context.Background(), jm, st, job.ID); err == nil {
		t.Error("runJob should fail for missing hyperparameter file")
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateFailed {
		t.Errorf("Job should be failed, got %s", updated.State)
	}
}

func TestRunJob_Cancelled(t *testing.T) {
	jm := NewJobManager()
	st := newTestJobStore(t)

	job := jm.CreateJob(JobConfig{Objective: "sphere", Epochs: 1000, Seed: 7})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := runJob(ctx, jm, st, job.ID); err == nil {
		t.Error("runJob should report cancellation")
	}

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateCancelled {
		t.Errorf("Job should be cancelled, got %s", updated.State)
	}
	if updated.EndTime == nil {
		t.Error("EndTime should be set on cancellation")
	}
}

func TestRunJob_ConcurrentStatusReads(t *testing.T) {
	jm := NewJobManager()
	st := newTestJobStore(t)

	job := jm.CreateJob(JobConfig{Objective: "sphere", Epochs: 30, Seed: 42})

	// Status and list requests read job snapshots while the worker updates
	// the job after every trial; encoding them must be race-free.
	done := make(chan struct{})
	go func() {
		defer close(done)
		runJob(context.Background(), jm, st, job.ID)
	}()

	enc := json.NewEncoder(io.Discard)
	for i := 0; i < 2000; i++ {
		if j, ok := jm.GetJob(job.ID); ok {
			if err := enc.Encode(j); err != nil {
				t.Errorf("Failed to encode job snapshot: %v", err)
			}
		}
		if err := enc.Encode(jm.ListJobs()); err != nil {
			t.Errorf("Failed to encode job list: %v", err)
		}
	}
	<-done

	updated, _ := jm.GetJob(job.ID)
	if updated.State != StateCompleted {
		t.Errorf("Job should be completed, got %s", updated.State)
	}
}

func TestRunJob_NotFound(t *testing.T) {
	jm := NewJobManager()
	st := newTestJobStore(t)

	if err := runJob(context.Background(), jm, st, "nonexistent"); err == nil {
		t.Error("runJob should fail for unknown job")
	}
}
