// Package plot renders the search trajectory of a run: the best-fitness-so-
// far curve overlaid with per-key scatter points of every trial. Pure
// presentation; rendering failures never affect the search or its persisted
// state.
package plot

import (
	"fmt"
	"image/color"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/evotune/evotune/internal/store"
)

// Render writes the trajectory chart for the given trials to outPath.
// One row per epoch is assumed, with the baseline at row zero.
func Render(trials []store.Trial, outPath string) error {
	if len(trials) == 0 {
		return fmt.Errorf("no trials to plot")
	}

	p := plot.New()
	p.X.Label.Text = "epoch"
	p.Y.Label.Text = "fitness"
	p.X.Tick.Marker = plot.ConstantTicks(nil)
	p.Y.Tick.Marker = plot.ConstantTicks(nil)

	// Best-fitness-so-far curve: every epoch that matched or beat the
	// running best, starting from the baseline.
	best := plotter.XYs{{X: 0, Y: trials[0].Fitness}}
	for i := 1; i < len(trials); i++ {
		if trials[i].Fitness >= best[len(best)-1].Y {
			best = append(best, plotter.XY{X: float64(i), Y: trials[i].Fitness})
		}
	}
	line, err := plotter.NewLine(best)
	if err != nil {
		return fmt.Errorf("failed to build best-fitness curve: %w", err)
	}
	line.LineStyle.Color = color.Gray{Y: 128}
	line.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(line)

	byKey := make(map[string]plotter.XYs)
	momenta := make(map[string][]float64)
	for i := 1; i < len(trials); i++ {
		tr := trials[i]
		byKey[tr.Key] = append(byKey[tr.Key], plotter.XY{X: float64(i), Y: tr.Fitness})
		momenta[tr.Key] = append(momenta[tr.Key], tr.Momentum)
	}

	keys := make([]string, 0, len(byKey))
	for key := range byKey {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for i, key := range keys {
		scatter, err := plotter.NewScatter(byKey[key])
		if err != nil {
			return fmt.Errorf("failed to build scatter for %q: %w", key, err)
		}
		scatter.GlyphStyle.Color = plotutil.Color(i)
		scatter.GlyphStyle.Radius = vg.Points(2.5)

		// Opacity tracks the trial's realized momentum: stronger moves in
		// either direction render more opaque.
		r, g, b, _ := plotutil.Color(i).RGBA()
		m := momenta[key]
		scatter.GlyphStyleFunc = func(j int) draw.GlyphStyle {
			alpha := (m[j]+1)*0.35 + 0.3
			return draw.GlyphStyle{
				Color:  color.NRGBA{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8), A: uint8(alpha * 255)},
				Radius: vg.Points(2.5),
				Shape:  draw.CircleGlyph{},
			}
		}

		p.Add(scatter)
		p.Legend.Add(key, scatter)
	}
	p.Legend.Top = true

	if err := p.Save(7*vg.Inch, 4.5*vg.Inch, outPath); err != nil {
		return fmt.Errorf("failed to save trajectory image: %w", err)
	}
	return nil
}
