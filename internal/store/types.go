package store

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/evotune/evotune/internal/hyp"
)

// Checkpoint bundles the two persisted documents of a run: the
// hyperparameter mapping and the search state. Either field may be nil when
// the corresponding document is missing on disk; the engine then falls back
// to its construction-time values for that part.
type Checkpoint struct {
	// Params is the current hyperparameter mapping (hyp.yaml).
	Params *hyp.Params

	// State is the run's search state (state.yaml): the pseudorandom seed
	// plus the per-key metadata for every key still in the active set.
	State *RunState
}

// RunState is the persisted search state. It serializes to a single YAML
// mapping where run-level fields carry an underscore prefix ("_seed") to
// distinguish them from per-key metadata entries.
type RunState struct {
	// Seed is the pseudorandom seed, advanced once per epoch attempt.
	Seed int64

	// Keys holds the metadata for every active key, in search order.
	Keys []KeyMeta
}

// KeyMeta is the persisted search metadata for one tunable key. Bounds and
// pace are derived once at startup and immutable; patience and bias evolve
// with every trial of the key.
type KeyMeta struct {
	Key      string
	Lower    float64
	Upper    float64
	Pace     float64
	Patience float64
	Bias     int
}

const seedField = "_seed"

// MarshalYAML encodes the state as an ordered mapping: the seed first, then
// one flow-sequence entry [lower, upper, pace, patience, bias] per key.
func (s *RunState) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}

	var seedKey, seedVal yaml.Node
	if err := seedKey.Encode(seedField); err != nil {
		return nil, err
	}
	if err := seedVal.Encode(s.Seed); err != nil {
		return nil, err
	}
	node.Content = append(node.Content, &seedKey, &seedVal)

	for _, km := range s.Keys {
		var k, v yaml.Node
		if err := k.Encode(km.Key); err != nil {
			return nil, err
		}
		if err := v.Encode([]float64{km.Lower, km.Upper, km.Pace, km.Patience, float64(km.Bias)}); err != nil {
			return nil, err
		}
		v.Style = yaml.FlowStyle
		node.Content = append(node.Content, &k, &v)
	}
	return node, nil
}

// UnmarshalYAML decodes the state document, preserving key order.
func (s *RunState) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("state document: expected mapping, got %v", value.Kind)
	}
	s.Keys = nil
	for i := 0; i+1 < len(value.Content); i += 2 {
		var key string
		if err := value.Content[i].Decode(&key); err != nil {
			return fmt.Errorf("state document: %w", err)
		}
		if key == seedField {
			if err := value.Content[i+1].Decode(&s.Seed); err != nil {
				return fmt.Errorf("state field %q: %w", key, err)
			}
			continue
		}
		var fields []float64
		if err := value.Content[i+1].Decode(&fields); err != nil {
			return fmt.Errorf("state entry %q: %w", key, err)
		}
		if len(fields) != 5 {
			return fmt.Errorf("state entry %q: expected 5 fields, got %d", key, len(fields))
		}
		s.Keys = append(s.Keys, KeyMeta{
			Key:      key,
			Lower:    fields[0],
			Upper:    fields[1],
			Pace:     fields[2],
			Patience: fields[3],
			Bias:     int(fields[4]),
		})
	}
	return nil
}

// Trial is one row of the evaluation log: a single fitness evaluation,
// including the epoch-0 baseline.
type Trial struct {
	// Epoch is the epoch index this trial was evaluated at.
	Epoch int `json:"epoch"`

	// Key is the perturbed hyperparameter, or "baseline" for row zero.
	Key string `json:"key"`

	// Previous is the key's value before the trial.
	Previous float64 `json:"previous"`

	// Current is the proposed value evaluated by this trial.
	Current float64 `json:"current"`

	// Momentum is the realized relative displacement in index space,
	// clipped to [-1, 1] and rounded to three decimals.
	Momentum float64 `json:"momentum"`

	// Fitness is the score returned by the fitness function.
	Fitness float64 `json:"fitness"`

	// Time records when the trial was evaluated.
	Time time.Time `json:"time"`
}

// RunInfo contains metadata about a persisted run without its full history.
// Used for listing runs efficiently.
type RunInfo struct {
	RunID       string    `json:"runId"`
	Epochs      int       `json:"epochs"`
	BestFitness float64   `json:"bestFitness"`
	Updated     time.Time `json:"updated"`
}
