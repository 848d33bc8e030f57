package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/orneryd/fraudgraph/pkg/graph"
)

// MatcherFile is the on-disk shape of a matcher registry file, grounded on
// apoc/config.go's yaml.Unmarshal-from-file loading pattern, generalized
// from APOC category toggles to matcher definitions.
//
// Example:
//
//	matchers:
//	  customer.email:
//	    confidence: 100
//	    importance: 10
//	  customer.phone:
//	    confidence: 80
//	    importance: 5
//	filters:
//	  customer.email:
//	    timestamp_alpha_days: 30
//	    location_alpha_metres: 500
type MatcherFile struct {
	Matchers map[string]MatcherEntry       `yaml:"matchers"`
	Filters  map[string]FilterThresholdYAML `yaml:"filters"`
}

// MatcherEntry is one matcher's confidence/importance definition.
type MatcherEntry struct {
	Confidence int `yaml:"confidence"`
	Importance int `yaml:"importance"`
}

// FilterThresholdYAML mirrors graph.MatcherThreshold for YAML decoding.
// Its fields are pointers as there, so a key absent from the file stays
// nil ("not configured") instead of decoding as a zero threshold.
type FilterThresholdYAML struct {
	TimestampAlphaDays  *int     `yaml:"timestamp_alpha_days,omitempty"`
	TimestampBetaDays   *int     `yaml:"timestamp_beta_days,omitempty"`
	LocationAlphaMetres *float64 `yaml:"location_alpha_metres,omitempty"`
	LocationBetaMetres  *float64 `yaml:"location_beta_metres,omitempty"`
	LocationGammaMetres *float64 `yaml:"location_gamma_metres,omitempty"`
	LocationDeltaMetres *float64 `yaml:"location_delta_metres,omitempty"`
}

// LoadMatcherFile loads a MatcherFile from a YAML file at path.
func LoadMatcherFile(path string) (*MatcherFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading matcher file: %w", err)
	}

	var mf MatcherFile
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("config: parsing matcher file: %w", err)
	}
	if err := mf.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &mf, nil
}

// validate checks confidence ∈ [0,100] for every matcher (spec.md §8
// property 2), so a misconfigured registry fails fast at load time rather
// than silently clamping or misordering at first upsert.
func (mf *MatcherFile) validate() error {
	for name, entry := range mf.Matchers {
		if entry.Confidence < 0 || entry.Confidence > 100 {
			return fmt.Errorf("matcher %q: confidence %d out of range [0,100]", name, entry.Confidence)
		}
		if entry.Importance < 0 {
			return fmt.Errorf("matcher %q: importance %d must be >= 0", name, entry.Importance)
		}
	}
	return nil
}

// MatcherRegistry converts the file's matcher entries into a
// graph.MatcherRegistry.
func (mf *MatcherFile) MatcherRegistry() graph.MatcherRegistry {
	reg := make(graph.MatcherRegistry, len(mf.Matchers))
	for name, entry := range mf.Matchers {
		reg[name] = graph.MatcherDefinition{Confidence: entry.Confidence, Importance: entry.Importance}
	}
	return reg
}

// FilterConfig converts the file's filter thresholds into a
// graph.FilterConfig.
func (mf *MatcherFile) FilterConfig() graph.FilterConfig {
	fc := make(graph.FilterConfig, len(mf.Filters))
	for matcher, t := range mf.Filters {
		fc[matcher] = graph.MatcherThreshold{
			TimestampAlphaDays:  t.TimestampAlphaDays,
			TimestampBetaDays:   t.TimestampBetaDays,
			LocationAlphaMetres: t.LocationAlphaMetres,
			LocationBetaMetres:  t.LocationBetaMetres,
			LocationGammaMetres: t.LocationGammaMetres,
			LocationDeltaMetres: t.LocationDeltaMetres,
		}
	}
	return fc
}
