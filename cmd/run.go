package main

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/evotune/evotune/internal/evolve"
	"github.com/evotune/evotune/internal/hyp"
	"github.com/evotune/evotune/internal/objective"
	"github.com/evotune/evotune/internal/plot"
	"github.com/evotune/evotune/internal/store"
)

var (
	runDataDir   string
	runID        string
	runHypPath   string
	runObjective string
	runEpochs    int
	runPatience  float64
	runMutation  float64
	runSeed      int64
	runNoPlot    bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run or resume a hyperparameter evolution",
	Long: `Evolves hyperparameters against a built-in objective function. A run
that already has persisted state under the data directory is resumed
exactly where it left off.`,
	RunE: runEvolution,
}

func init() {
	runCmd.Flags().StringVar(&runDataDir, "data-dir", "./data", "Base directory for run storage")
	runCmd.Flags().StringVar(&runID, "run", "default", "Run identifier")
	runCmd.Flags().StringVar(&runHypPath, "hyp", "", "Initial hyperparameter YAML file (built-in sample set if omitted)")
	runCmd.Flags().StringVar(&runObjective, "objective", "quadratic", "Objective function to optimize")
	runCmd.Flags().IntVar(&runEpochs, "epochs", 300, "Total epoch budget")
	runCmd.Flags().Float64Var(&runPatience, "patience", evolve.DefaultPatience, "Initial per-key patience")
	runCmd.Flags().Float64Var(&runMutation, "mutation", evolve.DefaultMutation, "Step-magnitude fraction")
	runCmd.Flags().Int64Var(&runSeed, "seed", 0, "Starting random seed (current time if 0)")
	runCmd.Flags().BoolVar(&runNoPlot, "no-plot", false, "Skip rendering curve.png after the run")

	rootCmd.AddCommand(runCmd)
}

func runEvolution(cmd *cobra.Command, args []string) error {
	fitness, ok := objective.Lookup(runObjective)
	if !ok {
		return fmt.Errorf("unknown objective %q (available: %v)", runObjective, objective.Names())
	}

	var params *hyp.Params
	var err error
	if runHypPath != "" {
		params, err = hyp.Load(runHypPath)
		if err != nil {
			return err
		}
	} else {
		params = objective.SampleParams()
	}

	st, err := store.NewFSStore(runDataDir)
	if err != nil {
		return fmt.Errorf("failed to create run store: %w", err)
	}

	opts := []evolve.Option{evolve.WithPatience(runPatience)}
	if runSeed != 0 {
		opts = append(opts, evolve.WithSeed(runSeed))
	}

	engine, err := evolve.New(st, runID, params, opts...)
	if err != nil {
		return err
	}

	start := time.Now()
	best, err := engine.Run(cmd.Context(), fitness, runEpochs, runMutation)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	trials, err := st.ReadTrials(runID)
	if err != nil {
		return err
	}

	// Rendering failures are reported but never fail the run.
	if !runNoPlot {
		if err := plot.Render(trials, st.CurvePath(runID)); err != nil {
			slog.Warn("Failed to render trajectory", "run", runID, "error", err)
		}
	}

	bestEpoch, bestFitness := 0, math.Inf(-1)
	for _, tr := range trials {
		if tr.Fitness > bestFitness {
			bestEpoch, bestFitness = tr.Epoch, tr.Fitness
		}
	}

	data, err := yaml.Marshal(best)
	if err != nil {
		return fmt.Errorf("failed to render result: %w", err)
	}

	slog.Info("Run finished", "run", runID, "elapsed", elapsed, "best_epoch", bestEpoch, "best_fitness", bestFitness)
	fmt.Printf("Best epoch %d (fitness %.4g) after %d trial(s):\n%s", bestEpoch, bestFitness, len(trials), data)

	return nil
}
