package hyp

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Params is an ordered mapping from hyperparameter name to numeric value.
// Go maps do not preserve insertion order, but the suffix-based key
// classification and the persisted documents both depend on it, so the
// order is tracked explicitly alongside the values.
type Params struct {
	keys   []string
	values map[string]float64
}

// New creates an empty parameter set.
func New() *Params {
	return &Params{values: make(map[string]float64)}
}

// Set stores a value for key, appending the key if it is not present yet.
func (p *Params) Set(key string, value float64) {
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
}

// Get returns the value for key and whether the key is present.
func (p *Params) Get(key string) (float64, bool) {
	v, ok := p.values[key]
	return v, ok
}

// Has reports whether key is present.
func (p *Params) Has(key string) bool {
	_, ok := p.values[key]
	return ok
}

// Keys returns the key names in insertion order. The returned slice is a
// copy and safe to modify.
func (p *Params) Keys() []string {
	keys := make([]string, len(p.keys))
	copy(keys, p.keys)
	return keys
}

// Len returns the number of parameters.
func (p *Params) Len() int {
	return len(p.keys)
}

// Clone returns an independent copy preserving key order.
func (p *Params) Clone() *Params {
	c := &Params{
		keys:   make([]string, len(p.keys)),
		values: make(map[string]float64, len(p.values)),
	}
	copy(c.keys, p.keys)
	for k, v := range p.values {
		c.values[k] = v
	}
	return c
}

// MarshalYAML encodes the parameters as a mapping node in insertion order.
func (p *Params) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, key := range p.keys {
		var k, v yaml.Node
		if err := k.Encode(key); err != nil {
			return nil, err
		}
		if err := v.Encode(p.values[key]); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, &k, &v)
	}
	return node, nil
}

// UnmarshalYAML decodes a mapping node, preserving document order.
func (p *Params) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("hyperparameter document: expected mapping, got %v", value.Kind)
	}
	p.keys = nil
	p.values = make(map[string]float64, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		var key string
		if err := value.Content[i].Decode(&key); err != nil {
			return fmt.Errorf("hyperparameter document: %w", err)
		}
		var v float64
		if err := value.Content[i+1].Decode(&v); err != nil {
			return fmt.Errorf("hyperparameter %q: %w", key, err)
		}
		p.Set(key, v)
	}
	return nil
}

// Load reads a parameter set from a YAML file.
func Load(path string) (*Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read hyperparameter file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a parameter set from YAML bytes.
func Parse(data []byte) (*Params, error) {
	p := New()
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to parse hyperparameter document: %w", err)
	}
	return p, nil
}
