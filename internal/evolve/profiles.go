package evolve

import (
	"math"
	"strings"
)

// Profile is the bounds/step-size classification of a tunable key: the
// inclusive numeric limits and the pace mapping the value onto an integer
// index space for bounded, quantized search.
type Profile struct {
	Lower float64
	Upper float64
	Pace  float64
}

// Steps returns the number of pace steps spanning the profile's range,
// i.e. the maximum candidate index.
func (p Profile) Steps() int {
	return int(math.Round((p.Upper - p.Lower) / p.Pace))
}

type exactEntry struct {
	key     string
	profile Profile
}

type suffixEntry struct {
	suffix  string
	profile Profile
}

// The classification table has two ordered tiers: exact-name entries for
// keys with their own search ranges, then semantic suffixes sharing one
// profile per suffix. Exact matches take priority over suffixes.
var (
	exactProfiles = []exactEntry{
		{"weight_decay", Profile{0, 1, 1e-5}},
		{"fl_gamma", Profile{0, 3, 1e-3}},
		{"hsv_h", Profile{0, 0.1, 1e-2}},
		{"hsv_s", Profile{0, 0.9, 1e-2}},
		{"hsv_v", Profile{0, 0.9, 1e-2}},
	}

	suffixProfiles = []suffixEntry{
		{"_kernel", Profile{1, 99, 2}},
		{"_width", Profile{4, 2048, 4}},
		{"_depth", Profile{1, 10, 1}},
		{"_float", Profile{0, 1e10, 1e-8}},
		{"_uint", Profile{0, 1e10, 1}},
		{"_proba", Profile{0, 1, 1e-2}},
	}
)

// Classify returns the search profile for a key name, or false when the key
// matches neither tier and is therefore not tunable.
func Classify(key string) (Profile, bool) {
	for _, e := range exactProfiles {
		if e.key == key {
			return e.profile, true
		}
	}
	for _, e := range suffixProfiles {
		if strings.HasSuffix(key, e.suffix) {
			return e.profile, true
		}
	}
	return Profile{}, false
}
