package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/evotune/evotune/internal/report"
	"github.com/evotune/evotune/internal/store"
)

var (
	exportDataDir string
	exportRunID   string
	exportOut     string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a run's trial log as an XLSX workbook",
	RunE:  runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportDataDir, "data-dir", "./data", "Base directory for run storage")
	exportCmd.Flags().StringVar(&exportRunID, "run", "default", "Run identifier")
	exportCmd.Flags().StringVar(&exportOut, "out", "", "Output workbook path (default <run-dir>/trials.xlsx)")

	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	st, err := store.NewFSStore(exportDataDir)
	if err != nil {
		return fmt.Errorf("failed to create run store: %w", err)
	}

	trials, err := st.ReadTrials(exportRunID)
	if err != nil {
		return err
	}
	if len(trials) == 0 {
		return fmt.Errorf("run %q has no trials", exportRunID)
	}

	out := exportOut
	if out == "" {
		out = filepath.Join(st.RunDir(exportRunID), "trials.xlsx")
	}

	if err := report.WriteXLSX(exportRunID, trials, out); err != nil {
		return err
	}

	fmt.Printf("Wrote %s (%d trial(s))\n", out, len(trials))
	return nil
}
