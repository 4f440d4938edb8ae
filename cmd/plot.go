package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/evotune/evotune/internal/plot"
	"github.com/evotune/evotune/internal/store"
)

var (
	plotDataDir string
	plotRunID   string
	plotOut     string
)

var plotCmd = &cobra.Command{
	Use:   "plot",
	Short: "Render the trajectory of a persisted run",
	Long:  `Re-renders the best-fitness curve and per-key trial scatter from a run's trial log.`,
	RunE:  runPlot,
}

func init() {
	plotCmd.Flags().StringVar(&plotDataDir, "data-dir", "./data", "Base directory for run storage")
	plotCmd.Flags().StringVar(&plotRunID, "run", "default", "Run identifier")
	plotCmd.Flags().StringVar(&plotOut, "out", "", "Output image path (default <run-dir>/curve.png)")

	rootCmd.AddCommand(plotCmd)
}

func runPlot(cmd *cobra.Command, args []string) error {
	st, err := store.NewFSStore(plotDataDir)
	if err != nil {
		return fmt.Errorf("failed to create run store: %w", err)
	}

	trials, err := st.ReadTrials(plotRunID)
	if err != nil {
		return err
	}
	if len(trials) == 0 {
		return fmt.Errorf("run %q has no trials", plotRunID)
	}

	out := plotOut
	if out == "" {
		out = st.CurvePath(plotRunID)
	}

	if err := plot.Render(trials, out); err != nil {
		return err
	}

	fmt.Printf("Wrote %s (%d trial(s))\n", out, len(trials))
	return nil
}
