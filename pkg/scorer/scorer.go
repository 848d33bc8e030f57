// Package scorer defines the pluggable scoring capability set (spec.md
// §4.4): turning a transaction's simple + graph features into a total
// score and the set of triggered rule ids for one channel.
package scorer

import (
	"encoding/json"
)

// RuleContext unions every scalar field from a transaction's simple and
// graph features into a single flat lookup, the input the default rule
// evaluator (and any custom Scorer) reasons over.
type RuleContext map[string]any

// NewRuleContext flattens simple and graph feature JSON into one
// RuleContext. Both documents are expected to be flat JSON objects; a
// nested object or array value is kept as-is under its top-level key
// rather than recursively flattened, since spec.md §4.4 only requires
// "scalar fields" to union, not arbitrary nesting.
func NewRuleContext(simple, graph json.RawMessage) (RuleContext, error) {
	ctx := make(RuleContext)
	for _, doc := range [][]byte{simple, graph} {
		if len(doc) == 0 {
			continue
		}
		var fields map[string]any
		if err := json.Unmarshal(doc, &fields); err != nil {
			return nil, err
		}
		for k, v := range fields {
			ctx[k] = v
		}
	}
	return ctx, nil
}

// Scorer is the capability set a host registers per channel (spec.md
// §4.4). Implementations must be deterministic given identical features
// and channel configuration.
type Scorer interface {
	Score(channelID string, simple, graph json.RawMessage) (totalScore int64, triggered []string, err error)
}
