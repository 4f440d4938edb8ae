package evolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/evotune/evotune/internal/hyp"
	"github.com/evotune/evotune/internal/store"
)

const (
	// DefaultPatience is the initial per-key search budget.
	DefaultPatience = 2.0

	// DefaultMutation is the step-magnitude fraction of the current index.
	DefaultMutation = 0.5

	// BaselineKey names the epoch-0 trial that evaluates the unmodified set.
	BaselineKey = "baseline"

	// indexEpsilon attenuates realized momentum for small previous indices.
	indexEpsilon = 1e-8
)

// Fitness scores a candidate hyperparameter set at the given epoch. An
// error aborts the run: a failing evaluation may indicate unusable
// candidate values that need caller attention, so it is never treated as a
// rejected trial.
type Fitness func(params *hyp.Params, epoch int) (float64, error)

// Progress is invoked after every recorded trial. Used for streaming run
// state to observers; it must not block.
type Progress func(trial store.Trial, epochs int)

// Engine performs stochastic coordinate-wise hyperparameter search with
// adaptive step sizing and per-key patience pruning. One key is perturbed
// per epoch; acceptance of each trial is known before the next decision, so
// the loop is strictly sequential.
type Engine struct {
	store  store.Store
	runID  string
	params *hyp.Params
	meta   *Meta

	initialPatience float64
	seed            int64
	progress        Progress
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithPatience sets the initial per-key patience budget.
func WithPatience(patience float64) Option {
	return func(e *Engine) { e.initialPatience = patience }
}

// WithSeed sets the starting pseudorandom seed. Without this option the
// seed derives from the current time, and a loaded checkpoint overrides
// either value.
func WithSeed(seed int64) Option {
	return func(e *Engine) { e.seed = seed }
}

// WithProgress registers a per-trial progress callback.
func WithProgress(fn Progress) Option {
	return func(e *Engine) { e.progress = fn }
}

// New creates an engine for the given run. The checkpoint documents are
// loaded once, before any epoch runs: values present on disk take
// precedence, fields missing on disk fall back to the supplied params and
// options. Key metadata is rebuilt from the classification table whenever
// the loaded state omits it.
func New(st store.Store, runID string, params *hyp.Params, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if runID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}
	if params == nil || params.Len() == 0 {
		return nil, fmt.Errorf("hyperparameter set cannot be empty")
	}

	e := &Engine{
		store:           st,
		runID:           runID,
		params:          params.Clone(),
		initialPatience: DefaultPatience,
		seed:            time.Now().Unix(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.initialPatience <= 0 {
		return nil, fmt.Errorf("initial patience must be positive, got %g", e.initialPatience)
	}

	checkpoint, err := st.LoadCheckpoint(runID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if checkpoint != nil {
		if checkpoint.Params != nil {
			e.params = checkpoint.Params
		}
		if checkpoint.State != nil {
			e.seed = checkpoint.State.Seed
			e.meta = metaFromKeyMeta(checkpoint.State.Keys)
		}
	}
	if e.meta == nil {
		e.meta = BuildMeta(e.params, e.initialPatience)
	}

	// A key in the active set must exist in the hyperparameter set.
	for _, key := range e.meta.Keys() {
		if !e.params.Has(key) {
			return nil, fmt.Errorf("state document references unknown hyperparameter %q", key)
		}
	}

	return e, nil
}

// Params returns a copy of the engine's current hyperparameter set.
func (e *Engine) Params() *hyp.Params {
	return e.params.Clone()
}

// ActiveKeys returns the keys still under search, in search order.
func (e *Engine) ActiveKeys() []string {
	return e.meta.Keys()
}

// Seed returns the current pseudorandom seed.
func (e *Engine) Seed() int64 {
	return e.seed
}

// Run evolves the hyperparameter set for up to the given number of epochs
// and returns the best-known mapping. Mutation is the step-magnitude
// fraction; values <= 0 select DefaultMutation. The run resumes from the
// trial log: len(log)-1 is the last completed epoch and max(fitness) the
// best-known score. Context cancellation is honored between epochs, where
// persisted state makes stopping safe.
func (e *Engine) Run(ctx context.Context, fitness Fitness, epochs int, mutation float64) (*hyp.Params, error) {
	if fitness == nil {
		return nil, fmt.Errorf("fitness function cannot be nil")
	}
	if mutation <= 0 {
		mutation = DefaultMutation
	}

	log, err := e.store.OpenTrialLog(e.runID)
	if err != nil {
		return nil, fmt.Errorf("failed to open trial log: %w", err)
	}
	defer log.Close()

	epoch := log.Count() - 1
	bestFit, ok := log.MaxFitness()
	if !ok {
		bestFit = math.Inf(-1)
	}

	slog.Info("Evolving hyperparameters", "run", e.runID, "keys", e.meta.Keys(), "epochs", epochs)

	// Baseline epoch: evaluate the unmodified set once, before any
	// perturbation.
	if epoch < 0 {
		epoch = 0
		fit, err := fitness(e.params.Clone(), 0)
		if err != nil {
			return nil, fmt.Errorf("baseline evaluation failed: %w", err)
		}
		bestFit = fit
		trial := store.Trial{Epoch: 0, Key: BaselineKey, Fitness: fit, Time: time.Now()}
		if err := log.Append(trial); err != nil {
			return nil, err
		}
		e.emit(trial, epochs)
		slog.Info("Baseline fitness", "run", e.runID, "fitness", fit)
	}

	if err := e.save(); err != nil {
		return nil, err
	}

	for epoch < epochs && e.meta.Len() > 0 {
		select {
		case <-ctx.Done():
			return e.params.Clone(), ctx.Err()
		default:
		}

		// Advancing the seed and reseeding per attempt makes every
		// epoch's randomness reproducible from the seed alone, which is
		// what makes checkpoint resumption exact.
		e.seed++
		rng := rand.New(rand.NewSource(e.seed))

		key := e.pickKey(rng)
		st := e.meta.Get(key)
		value, _ := e.params.Get(key)

		steps := st.Steps()
		previous := int(math.Round((value - st.Lower) / st.Pace))

		// Push away from a boundary the value is pinned at.
		forced := 0
		switch previous {
		case 0:
			forced = 1
		case steps:
			forced = -1
		}

		var direction int
		if st.Bias == 0 && forced == 0 {
			direction = rng.Intn(2)*2 - 1
		} else {
			direction = sign(st.Bias + forced)
		}

		// Bias and boundary pressure cancel: the key's search is
		// exhausted. No trial this epoch, and the epoch counter holds.
		if direction == 0 {
			e.meta.Remove(key)
			slog.Info("Search exhausted", "run", e.runID, "key", key)
			if err := e.save(); err != nil {
				return nil, err
			}
			continue
		}

		epoch++

		maxStep := int(math.Round(float64(previous) * mutation))
		if maxStep < 1 {
			maxStep = 1
		}
		candidate := clamp(previous+direction*(1+rng.Intn(maxStep)), 0, steps)

		// Realized momentum is the actual relative displacement in index
		// space, not the chosen direction.
		momentum := round3(clamp(float64(candidate-previous)/(float64(previous)+indexEpsilon), -1, 1))
		candValue := float64(candidate)*st.Pace + st.Lower

		trialParams := e.params.Clone()
		trialParams.Set(key, candValue)

		slog.Info("Trial",
			"run", e.runID,
			"epoch", fmt.Sprintf("%d/%d", epoch, epochs),
			"key", key,
			"previous", value,
			"current", candValue,
		)

		fit, err := fitness(trialParams, epoch)
		if err != nil {
			return nil, fmt.Errorf("fitness evaluation at epoch %d failed: %w", epoch, err)
		}
		improvement := fit - bestFit

		trial := store.Trial{
			Epoch:    epoch,
			Key:      key,
			Previous: value,
			Current:  candValue,
			Momentum: momentum,
			Fitness:  fit,
			Time:     time.Now(),
		}
		if err := log.Append(trial); err != nil {
			return nil, err
		}
		e.emit(trial, epochs)

		if improvement > 0 {
			st.Patience++
		} else {
			st.Patience -= 0.5
		}
		if st.Patience > 2*e.initialPatience {
			st.Patience = 2 * e.initialPatience
		}
		st.Bias = sign(momentum * improvement)

		if improvement > 0 {
			e.params = trialParams
			bestFit = fit
		}

		if st.Patience <= 0 {
			e.meta.Remove(key)
			slog.Info("Patience exhausted", "run", e.runID, "key", key)
		}

		if err := e.save(); err != nil {
			return nil, err
		}
	}

	if best, ok := log.BestEpoch(); ok {
		slog.Info("Evolution complete", "run", e.runID, "best_epoch", best, "best_fitness", bestFit)
	}
	return e.params.Clone(), nil
}

// pickKey draws one active key with probability proportional to its squared
// patience, so keys with more remaining budget are preferentially explored.
func (e *Engine) pickKey(rng *rand.Rand) string {
	var total float64
	for _, key := range e.meta.keys {
		p := e.meta.state[key].Patience
		total += p * p
	}
	r := rng.Float64() * total
	for _, key := range e.meta.keys {
		p := e.meta.state[key].Patience
		r -= p * p
		if r < 0 {
			return key
		}
	}
	return e.meta.keys[len(e.meta.keys)-1]
}

func (e *Engine) save() error {
	return e.store.SaveCheckpoint(e.runID, &store.Checkpoint{
		Params: e.params.Clone(),
		State: &store.RunState{
			Seed: e.seed,
			Keys: e.meta.toKeyMeta(),
		},
	})
}

func (e *Engine) emit(trial store.Trial, epochs int) {
	if e.progress != nil {
		e.progress(trial, epochs)
	}
}
