// Package objective provides built-in benchmark fitness functions used by
// the CLI and the job server. They stand in for a real training loop: each
// scores a hyperparameter set deterministically, so search behavior can be
// demonstrated and validated without external workloads.
package objective

import (
	"math"
	"sort"

	"github.com/evotune/evotune/internal/evolve"
	"github.com/evotune/evotune/internal/hyp"
)

var registry = map[string]evolve.Fitness{
	"quadratic": Quadratic,
	"sphere":    Sphere,
	"rastrigin": Rastrigin,
}

// Lookup returns the named fitness function.
func Lookup(name string) (evolve.Fitness, bool) {
	fn, ok := registry[name]
	return fn, ok
}

// Names returns the available objective names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// normalized maps a tunable key's value onto [0, 1] within its profile
// range. Keys without a profile are skipped by every objective, matching
// the search itself.
func normalized(params *hyp.Params, fn func(x float64) float64) float64 {
	var sum float64
	for _, key := range params.Keys() {
		profile, ok := evolve.Classify(key)
		if !ok {
			continue
		}
		v, _ := params.Get(key)
		sum += fn((v - profile.Lower) / (profile.Upper - profile.Lower))
	}
	return sum
}

// Quadratic rewards every tunable key sitting at the middle of its range.
// The global optimum is analytic, which makes accepted-trial trajectories
// easy to verify by eye.
func Quadratic(params *hyp.Params, _ int) (float64, error) {
	loss := normalized(params, func(x float64) float64 {
		d := x - 0.5
		return d * d
	})
	return -loss, nil
}

// Sphere rewards every tunable key sitting at its lower limit.
func Sphere(params *hyp.Params, _ int) (float64, error) {
	loss := normalized(params, func(x float64) float64 {
		return x * x
	})
	return -loss, nil
}

// Rastrigin is the classic multimodal benchmark, evaluated on each key's
// range mapped to [-5.12, 5.12].
func Rastrigin(params *hyp.Params, _ int) (float64, error) {
	loss := normalized(params, func(x float64) float64 {
		z := (x*2 - 1) * 5.12
		return z*z - 10*math.Cos(2*math.Pi*z) + 10
	})
	return -loss, nil
}

// SampleParams returns a hyperparameter set covering both classification
// tiers, used when the caller supplies no initial mapping.
func SampleParams() *hyp.Params {
	p := hyp.New()
	p.Set("weight_decay", 0.0005)
	p.Set("fl_gamma", 1.5)
	p.Set("hsv_h", 0.015)
	p.Set("hsv_s", 0.7)
	p.Set("hsv_v", 0.4)
	p.Set("gb_kernel", 5)
	p.Set("net_width", 64)
	p.Set("net_depth", 3)
	p.Set("lr_float", 0.01)
	p.Set("drop_proba", 0.1)
	return p
}
