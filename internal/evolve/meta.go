package evolve

import (
	"strings"

	"github.com/evotune/evotune/internal/hyp"
	"github.com/evotune/evotune/internal/store"
)

// KeyState is the mutable search metadata attached to one tunable key.
type KeyState struct {
	Profile

	// Patience is the remaining search budget for this key. It grows on
	// improvement, shrinks otherwise, and is clamped to twice the initial
	// patience. The key is pruned permanently once it drops to zero.
	Patience float64

	// Bias remembers whether the last attempted move in the positive or
	// negative direction correlated with improvement: -1, 0 or +1.
	Bias int
}

// Meta is the insertion-ordered active metadata set. A key present here is
// always present in the hyperparameter set; removal is permanent for the
// run.
type Meta struct {
	keys  []string
	state map[string]*KeyState
}

// NewMeta creates an empty metadata set.
func NewMeta() *Meta {
	return &Meta{state: make(map[string]*KeyState)}
}

// BuildMeta classifies every key of params against the two-tier table and
// attaches fresh search state to each match: exact-name matches first in
// table order, then suffix matches in parameter order per suffix. A key
// matching both tiers is registered once, as exact.
func BuildMeta(params *hyp.Params, patience float64) *Meta {
	m := NewMeta()
	for _, e := range exactProfiles {
		if params.Has(e.key) {
			m.add(e.key, &KeyState{Profile: e.profile, Patience: patience})
		}
	}
	for _, e := range suffixProfiles {
		for _, key := range params.Keys() {
			if strings.HasSuffix(key, e.suffix) && !m.Has(key) {
				m.add(key, &KeyState{Profile: e.profile, Patience: patience})
			}
		}
	}
	return m
}

func (m *Meta) add(key string, st *KeyState) {
	if _, ok := m.state[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.state[key] = st
}

// Get returns the state for key, or nil if the key is not active.
func (m *Meta) Get(key string) *KeyState {
	return m.state[key]
}

// Has reports whether key is in the active set.
func (m *Meta) Has(key string) bool {
	_, ok := m.state[key]
	return ok
}

// Keys returns the active key names in search order. The returned slice is
// a copy and safe to modify.
func (m *Meta) Keys() []string {
	keys := make([]string, len(m.keys))
	copy(keys, m.keys)
	return keys
}

// Len returns the number of active keys.
func (m *Meta) Len() int {
	return len(m.keys)
}

// Remove permanently drops key from the active set.
func (m *Meta) Remove(key string) {
	if _, ok := m.state[key]; !ok {
		return
	}
	delete(m.state, key)
	for i, k := range m.keys {
		if k == key {
			m.keys = append(m.keys[:i], m.keys[i+1:]...)
			break
		}
	}
}

// toKeyMeta converts the active set into its persisted form, in order.
func (m *Meta) toKeyMeta() []store.KeyMeta {
	out := make([]store.KeyMeta, 0, len(m.keys))
	for _, key := range m.keys {
		st := m.state[key]
		out = append(out, store.KeyMeta{
			Key:      key,
			Lower:    st.Lower,
			Upper:    st.Upper,
			Pace:     st.Pace,
			Patience: st.Patience,
			Bias:     st.Bias,
		})
	}
	return out
}

// metaFromKeyMeta rebuilds the active set from its persisted form.
func metaFromKeyMeta(keys []store.KeyMeta) *Meta {
	m := NewMeta()
	for _, km := range keys {
		m.add(km.Key, &KeyState{
			Profile:  Profile{Lower: km.Lower, Upper: km.Upper, Pace: km.Pace},
			Patience: km.Patience,
			Bias:     km.Bias,
		})
	}
	return m
}
