package evolve

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evotune/evotune/internal/hyp"
	"github.com/evotune/evotune/internal/store"
)

func newTestStore(t *testing.T) *store.FSStore {
	t.Helper()
	st, err := store.NewFSStore(t.TempDir())
	require.NoError(t, err)
	return st
}

// rejectAll scores every perturbed trial below the baseline.
func rejectAll(_ *hyp.Params, epoch int) (float64, error) {
	return -float64(epoch), nil
}

// widthFitness rewards larger net_width values, so upward moves are always
// accepted and downward moves always rejected.
func widthFitness(params *hyp.Params, _ int) (float64, error) {
	v, _ := params.Get("net_width")
	return v, nil
}

func TestNewValidation(t *testing.T) {
	st := newTestStore(t)
	params := hyp.New()
	params.Set("x_proba", 0.5)

	_, err := New(nil, "run", params)
	assert.Error(t, err)

	_, err = New(st, "", params)
	assert.Error(t, err)

	_, err = New(st, "run", hyp.New())
	assert.Error(t, err)

	_, err = New(st, "run", params, WithPatience(0))
	assert.Error(t, err)
}

func TestNewRejectsUnknownStateKey(t *testing.T) {
	st := newTestStore(t)
	err := st.SaveCheckpoint("run", &store.Checkpoint{
		State: &store.RunState{
			Seed: 1,
			Keys: []store.KeyMeta{{Key: "ghost_proba", Lower: 0, Upper: 1, Pace: 1e-2, Patience: 2}},
		},
	})
	require.NoError(t, err)

	params := hyp.New()
	params.Set("x_proba", 0.5)
	_, err = New(st, "run", params)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost_proba")
}

func TestBaselineRecordedOnce(t *testing.T) {
	st := newTestStore(t)
	params := hyp.New()
	params.Set("x_proba", 0.5)

	engine, err := New(st, "run", params, WithSeed(7))
	require.NoError(t, err)

	_, err = engine.Run(context.Background(), rejectAll, 0, 0)
	require.NoError(t, err)

	trials, err := st.ReadTrials("run")
	require.NoError(t, err)
	require.Len(t, trials, 1)
	assert.Equal(t, BaselineKey, trials[0].Key)
	assert.Equal(t, 0, trials[0].Epoch)
	assert.Equal(t, 0.0, trials[0].Fitness)

	// A second run with the same budget must not re-evaluate the baseline.
	engine, err = New(st, "run", params)
	require.NoError(t, err)
	_, err = engine.Run(context.Background(), rejectAll, 0, 0)
	require.NoError(t, err)

	trials, err = st.ReadTrials("run")
	require.NoError(t, err)
	assert.Len(t, trials, 1)
}

func TestSearchExhaustedAtLowerBound(t *testing.T) {
	st := newTestStore(t)
	params := hyp.New()
	params.Set("drop_proba", 0.0)

	engine, err := New(st, "run", params, WithSeed(11))
	require.NoError(t, err)

	best, err := engine.Run(context.Background(), rejectAll, 10, 0.5)
	require.NoError(t, err)

	// At the lower bound the first probe is forced upward; after it is
	// rejected, the learned bias points back down, cancels the boundary
	// pressure, and the key is dropped without a second evaluation.
	trials, err := st.ReadTrials("run")
	require.NoError(t, err)
	require.Len(t, trials, 2)
	assert.Equal(t, BaselineKey, trials[0].Key)
	assert.Equal(t, "drop_proba", trials[1].Key)
	assert.Greater(t, trials[1].Current, trials[1].Previous)
	assert.Equal(t, 1.0, trials[1].Momentum)

	assert.Empty(t, engine.ActiveKeys())
	v, ok := best.Get("drop_proba")
	require.True(t, ok)
	assert.Equal(t, 0.0, v)
}

func TestSearchExhaustedAtUpperBound(t *testing.T) {
	st := newTestStore(t)
	params := hyp.New()
	params.Set("drop_proba", 1.0)

	engine, err := New(st, "run", params, WithSeed(11))
	require.NoError(t, err)

	best, err := engine.Run(context.Background(), rejectAll, 10, 0.5)
	require.NoError(t, err)

	// Mirror of the lower-bound case: at the upper bound the first probe is
	// forced downward; once rejected, the learned bias points back up,
	// cancels the boundary pressure, and the key is dropped.
	trials, err := st.ReadTrials("run")
	require.NoError(t, err)
	require.Len(t, trials, 2)
	assert.Equal(t, "drop_proba", trials[1].Key)
	assert.Less(t, trials[1].Current, trials[1].Previous)
	assert.Negative(t, trials[1].Momentum)

	assert.Empty(t, engine.ActiveKeys())
	v, ok := best.Get("drop_proba")
	require.True(t, ok)
	assert.Equal(t, 1.0, v)
}

func TestCandidateStaysWithinRange(t *testing.T) {
	st := newTestStore(t)
	params := hyp.New()
	params.Set("x_proba", 0.5)

	engine, err := New(st, "run", params, WithSeed(3))
	require.NoError(t, err)

	_, err = engine.Run(context.Background(), rejectAll, 50, 0.5)
	require.NoError(t, err)

	// Four rejections drain the initial patience of 2 at 0.5 each.
	trials, err := st.ReadTrials("run")
	require.NoError(t, err)
	require.Len(t, trials, 5)
	assert.Empty(t, engine.ActiveKeys())

	// The value never moves while every trial is rejected, so the step cap
	// of half the current index keeps candidates in [0.25, 0.75].
	for _, tr := range trials[1:] {
		assert.Equal(t, 0.5, tr.Previous)
		assert.GreaterOrEqual(t, tr.Current, 0.25)
		assert.LessOrEqual(t, tr.Current, 0.75)
		assert.NotEqual(t, tr.Previous, tr.Current)
	}
}

func TestAcceptedTrialsUpdateParamsAndPatience(t *testing.T) {
	st := newTestStore(t)
	params := hyp.New()
	params.Set("net_width", 64.0)

	engine, err := New(st, "run", params, WithSeed(5))
	require.NoError(t, err)

	_, err = engine.Run(context.Background(), widthFitness, 6, 0.5)
	require.NoError(t, err)

	trials, err := st.ReadTrials("run")
	require.NoError(t, err)
	require.Len(t, trials, 7)
	for _, tr := range trials[1:] {
		assert.GreaterOrEqual(t, tr.Current, 4.0)
		assert.LessOrEqual(t, tr.Current, 2048.0)
	}

	// Patience grows by one per improvement and is clamped at twice the
	// initial budget.
	checkpoint, err := st.LoadCheckpoint("run")
	require.NoError(t, err)
	require.NotNil(t, checkpoint.State)
	require.Len(t, checkpoint.State.Keys, 1)
	assert.Equal(t, 2*DefaultPatience, checkpoint.State.Keys[0].Patience)

	// The persisted hyperparameter document is the best-known set: the last
	// accepted candidate.
	v, ok := checkpoint.Params.Get("net_width")
	require.True(t, ok)
	assert.Equal(t, trials[len(trials)-1].Current, v)
}

func TestRunIdempotentWhenBudgetExhausted(t *testing.T) {
	st := newTestStore(t)
	params := hyp.New()
	params.Set("net_width", 64.0)

	engine, err := New(st, "run", params, WithSeed(5))
	require.NoError(t, err)
	first, err := engine.Run(context.Background(), widthFitness, 5, 0.5)
	require.NoError(t, err)

	trials, err := st.ReadTrials("run")
	require.NoError(t, err)
	require.Len(t, trials, 6)

	engine, err = New(st, "run", params)
	require.NoError(t, err)
	second, err := engine.Run(context.Background(), widthFitness, 5, 0.5)
	require.NoError(t, err)

	trials, err = st.ReadTrials("run")
	require.NoError(t, err)
	assert.Len(t, trials, 6)
	assert.Equal(t, first, second)
}

func TestResumeMatchesUninterruptedRun(t *testing.T) {
	makeParams := func() *hyp.Params {
		p := hyp.New()
		p.Set("x_proba", 0.4)
		return p
	}
	fitness := func(params *hyp.Params, _ int) (float64, error) {
		v, _ := params.Get("x_proba")
		return -(v - 0.23) * (v - 0.23), nil
	}

	run := func(st *store.FSStore, budgets ...int) []store.Trial {
		for _, epochs := range budgets {
			engine, err := New(st, "run", makeParams(), WithSeed(99))
			require.NoError(t, err)
			_, err = engine.Run(context.Background(), fitness, epochs, 0.5)
			require.NoError(t, err)
		}
		trials, err := st.ReadTrials("run")
		require.NoError(t, err)
		for i := range trials {
			trials[i].Time = time.Time{}
		}
		return trials
	}

	full := run(newTestStore(t), 12)
	resumed := run(newTestStore(t), 5, 12)

	assert.Equal(t, full, resumed)
}

func TestFitnessErrorAborts(t *testing.T) {
	st := newTestStore(t)
	params := hyp.New()
	params.Set("x_proba", 0.5)

	engine, err := New(st, "run", params, WithSeed(7))
	require.NoError(t, err)

	wantErr := errors.New("worker crashed")
	_, err = engine.Run(context.Background(), func(*hyp.Params, int) (float64, error) {
		return 0, wantErr
	}, 10, 0.5)
	require.Error(t, err)
	assert.ErrorIs(t, err, wantErr)

	trials, err := st.ReadTrials("run")
	require.NoError(t, err)
	assert.Empty(t, trials)
}

func TestRunHonorsContextCancellation(t *testing.T) {
	st := newTestStore(t)
	params := hyp.New()
	params.Set("x_proba", 0.5)

	engine, err := New(st, "run", params, WithSeed(7))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	best, err := engine.Run(ctx, rejectAll, 10, 0.5)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, best)

	// The baseline still lands in the log; the perturbation loop does not.
	trials, err := st.ReadTrials("run")
	require.NoError(t, err)
	assert.Len(t, trials, 1)
}

func TestProgressCallbackSeesEveryTrial(t *testing.T) {
	st := newTestStore(t)
	params := hyp.New()
	params.Set("x_proba", 0.5)

	var seen []store.Trial
	engine, err := New(st, "run", params, WithSeed(3),
		WithProgress(func(trial store.Trial, epochs int) {
			assert.Equal(t, 50, epochs)
			seen = append(seen, trial)
		}))
	require.NoError(t, err)

	_, err = engine.Run(context.Background(), rejectAll, 50, 0.5)
	require.NoError(t, err)

	trials, err := st.ReadTrials("run")
	require.NoError(t, err)
	require.Len(t, seen, len(trials))
	for i, tr := range trials {
		assert.Equal(t, tr.Epoch, seen[i].Epoch)
		assert.Equal(t, tr.Key, seen[i].Key)
	}
}

func TestSeedAdvancesDuringRun(t *testing.T) {
	st := newTestStore(t)
	params := hyp.New()
	params.Set("x_proba", 0.5)

	engine, err := New(st, "run", params, WithSeed(100))
	require.NoError(t, err)
	require.Equal(t, int64(100), engine.Seed())

	_, err = engine.Run(context.Background(), rejectAll, 50, 0.5)
	require.NoError(t, err)
	assert.Greater(t, engine.Seed(), int64(100))

	// The advanced seed is what the checkpoint carries for resumption.
	checkpoint, err := st.LoadCheckpoint("run")
	require.NoError(t, err)
	require.NotNil(t, checkpoint.State)
	assert.Equal(t, engine.Seed(), checkpoint.State.Seed)
}

func TestBestFitnessNeverDecreases(t *testing.T) {
	st := newTestStore(t)
	params := hyp.New()
	params.Set("x_proba", 0.5)
	params.Set("net_width", 64.0)

	fitness := func(params *hyp.Params, _ int) (float64, error) {
		v, _ := params.Get("x_proba")
		w, _ := params.Get("net_width")
		return -(v-0.3)*(v-0.3) - (w-512)*(w-512)/1e6, nil
	}

	engine, err := New(st, "run", params, WithSeed(21))
	require.NoError(t, err)
	best, err := engine.Run(context.Background(), fitness, 30, 0.5)
	require.NoError(t, err)

	trials, err := st.ReadTrials("run")
	require.NoError(t, err)
	require.NotEmpty(t, trials)

	bestFit := math.Inf(-1)
	for _, tr := range trials {
		if tr.Fitness > bestFit {
			bestFit = tr.Fitness
		}
	}
	got, err := fitness(best, 0)
	require.NoError(t, err)
	assert.Equal(t, bestFit, got)
}
