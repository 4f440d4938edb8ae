package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/evotune/evotune/internal/evolve"
	"github.com/evotune/evotune/internal/hyp"
	"github.com/evotune/evotune/internal/objective"
	"github.com/evotune/evotune/internal/plot"
	"github.com/evotune/evotune/internal/store"
)

// runJob executes a tuning job in the background. The engine persists the
// run after every epoch through the shared store, so a crashed or cancelled
// job can be resumed by creating a new job with the same run ID.
func runJob(ctx context.Context, jm *JobManager, st *store.FSStore, jobID string) error {
	job, exists := jm.GetJob(jobID)
	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}

	err := jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateRunning
	})
	if err != nil {
		return err
	}

	slog.Info("Starting job", "job_id", jobID, "run", job.Config.RunID, "objective", job.Config.Objective)

	fitness, ok := objective.Lookup(job.Config.Objective)
	if !ok {
		err := fmt.Errorf("unknown objective: %s", job.Config.Objective)
		markJobFailed(jm, jobID, err)
		return err
	}

	var params *hyp.Params
	if job.Config.HypPath != "" {
		params, err = hyp.Load(job.Config.HypPath)
		if err != nil {
			markJobFailed(jm, jobID, err)
			return err
		}
	} else {
		params = objective.SampleParams()
	}

	opts := []evolve.Option{
		evolve.WithProgress(func(trial store.Trial, epochs int) {
			var best float64
			jm.UpdateJob(jobID, func(j *Job) {
				j.Epoch = trial.Epoch
				if !j.hasBest || trial.Fitness > j.BestFitness {
					j.hasBest = true
					j.BestFitness = trial.Fitness
					j.BestEpoch = trial.Epoch
				}
				best = j.BestFitness
			})
			jm.broadcaster.Broadcast(ProgressEvent{
				JobID:       jobID,
				State:       StateRunning,
				Epoch:       trial.Epoch,
				Epochs:      epochs,
				Key:         trial.Key,
				Fitness:     trial.Fitness,
				BestFitness: best,
				Timestamp:   time.Now(),
			})
		}),
	}
	if job.Config.Patience > 0 {
		opts = append(opts, evolve.WithPatience(job.Config.Patience))
	}
	if job.Config.Seed != 0 {
		opts = append(opts, evolve.WithSeed(job.Config.Seed))
	}

	engine, err := evolve.New(st, job.Config.RunID, params, opts...)
	if err != nil {
		markJobFailed(jm, jobID, err)
		return err
	}

	start := time.Now()
	_, err = engine.Run(ctx, fitness, job.Config.Epochs, job.Config.Mutation)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			markJobCancelled(jm, jobID)
			return err
		}
		markJobFailed(jm, jobID, err)
		return err
	}
	elapsed := time.Since(start)

	// Rendering is presentation only; failure never fails the job.
	if trials, err := st.ReadTrials(job.Config.RunID); err == nil {
		if err := plot.Render(trials, st.CurvePath(job.Config.RunID)); err != nil {
			slog.Error("Failed to render trajectory", "job_id", jobID, "error", err)
		}
	}

	endTime := time.Now()
	err = jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCompleted
		j.EndTime = &endTime
	})
	if err != nil {
		return err
	}

	job, _ = jm.GetJob(jobID)
	slog.Info("Job completed",
		"job_id", jobID,
		"elapsed", elapsed,
		"best_epoch", job.BestEpoch,
		"best_fitness", job.BestFitness,
	)

	// Broadcast final completion event
	jm.broadcaster.Broadcast(ProgressEvent{
		JobID:       jobID,
		State:       StateCompleted,
		Epoch:       job.Epoch,
		Epochs:      job.Config.Epochs,
		BestFitness: job.BestFitness,
		Timestamp:   time.Now(),
	})

	return nil
}

// markJobFailed marks a job as failed with an error message
func markJobFailed(jm *JobManager, jobID string, err error) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateFailed
		j.Error = err.Error()
		j.EndTime = &endTime
	})
	slog.Error("Job failed", "job_id", jobID, "error", err)
}

// markJobCancelled marks a job as cancelled
func markJobCancelled(jm *JobManager, jobID string) {
	endTime := time.Now()
	jm.UpdateJob(jobID, func(j *Job) {
		j.State = StateCancelled
		j.EndTime = &endTime
	})
	slog.Info("Job cancelled", "job_id", jobID)
}
