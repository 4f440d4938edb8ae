// Package report exports a run's trial log as an XLSX workbook for offline
// inspection.
package report

import (
	"fmt"
	"math"

	"github.com/xuri/excelize/v2"

	"github.com/evotune/evotune/internal/evolve"
	"github.com/evotune/evotune/internal/store"
)

// WriteXLSX writes a workbook with a Summary sheet and a Trials sheet, one
// row per trial in epoch order.
func WriteXLSX(runID string, trials []store.Trial, filename string) error {
	if len(trials) == 0 {
		return fmt.Errorf("no trials to export")
	}

	f := excelize.NewFile()

	summary := "Summary"
	f.SetSheetName("Sheet1", summary)

	bestFitness := math.Inf(-1)
	bestEpoch := 0
	keys := make(map[string]bool)
	for _, tr := range trials {
		if tr.Fitness > bestFitness {
			bestFitness = tr.Fitness
			bestEpoch = tr.Epoch
		}
		if tr.Key != "" && tr.Key != evolve.BaselineKey {
			keys[tr.Key] = true
		}
	}

	f.SetCellValue(summary, "A1", "Run")
	f.SetCellValue(summary, "B1", runID)
	f.SetCellValue(summary, "A2", "Epochs")
	f.SetCellValue(summary, "B2", len(trials)-1)
	f.SetCellValue(summary, "A3", "Keys tried")
	f.SetCellValue(summary, "B3", len(keys))
	f.SetCellValue(summary, "A4", "Best epoch")
	f.SetCellValue(summary, "B4", bestEpoch)
	f.SetCellValue(summary, "A5", "Best fitness")
	f.SetCellValue(summary, "B5", bestFitness)

	sheet := "Trials"
	f.NewSheet(sheet)

	headers := []string{"epoch", "key", "previous", "current", "momentum", "fitness"}
	for col, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(col+1, 1)
		f.SetCellValue(sheet, cell, h)
	}

	for i, tr := range trials {
		row := i + 2
		values := []interface{}{tr.Epoch, tr.Key, tr.Previous, tr.Current, tr.Momentum, tr.Fitness}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			f.SetCellValue(sheet, cell, v)
		}
	}

	if err := f.SaveAs(filename); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}
