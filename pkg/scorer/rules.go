package scorer

import (
	"encoding/json"
	"fmt"

	"github.com/orneryd/fraudgraph/pkg/convert"
)

// Operator is a comparison used by a Rule's condition.
type Operator string

const (
	OpEqual        Operator = "=="
	OpNotEqual     Operator = "!="
	OpGreaterThan  Operator = ">"
	OpGreaterEqual Operator = ">="
	OpLessThan     Operator = "<"
	OpLessEqual    Operator = "<="
)

// Rule is one scoring rule bound to a channel's model (spec.md §4.4
// "default implementation is a rule engine"). Its grammar is
// intentionally minimal — a single field/operator/value comparison — since
// spec.md §1 places a full expression language out of scope; Rule exists
// to exercise the pluggable Scorer contract end-to-end, not to be a
// production rule language.
type Rule struct {
	ID       string
	Field    string
	Operator Operator
	Value    float64
	Score    int64
}

// evaluate reports whether ctx[r.Field] satisfies the rule's condition.
// A missing or non-numeric field never triggers the rule.
func (r Rule) evaluate(ctx RuleContext) bool {
	raw, ok := ctx[r.Field]
	if !ok {
		return false
	}
	val, ok := convert.ToFloat64(raw)
	if !ok {
		return false
	}

	switch r.Operator {
	case OpEqual:
		return val == r.Value
	case OpNotEqual:
		return val != r.Value
	case OpGreaterThan:
		return val > r.Value
	case OpGreaterEqual:
		return val >= r.Value
	case OpLessThan:
		return val < r.Value
	case OpLessEqual:
		return val <= r.Value
	default:
		return false
	}
}

// Channel binds a set of rules to a channel id (spec.md §4.4 "channel's
// model"). Rules are evaluated in order; every triggered rule's score
// accumulates into the channel's total.
type Channel struct {
	ID    string
	Rules []Rule
}

// RuleEngine is the default Scorer (spec.md §4.4): for each rule bound to
// the channel's model, it evaluates the rule against a context unioning
// simple + graph features and, if truthy, accumulates the rule's score
// and emits its rule id.
type RuleEngine struct {
	channels map[string]Channel
}

// NewRuleEngine builds a RuleEngine from a fixed set of channels.
func NewRuleEngine(channels ...Channel) *RuleEngine {
	e := &RuleEngine{channels: make(map[string]Channel, len(channels))}
	for _, c := range channels {
		e.channels[c.ID] = c
	}
	return e
}

// Score implements Scorer.
func (e *RuleEngine) Score(channelID string, simple, graph json.RawMessage) (int64, []string, error) {
	channel, ok := e.channels[channelID]
	if !ok {
		return 0, nil, fmt.Errorf("scorer: channel %q is not configured", channelID)
	}

	ctx, err := NewRuleContext(simple, graph)
	if err != nil {
		return 0, nil, fmt.Errorf("scorer: build rule context: %w", err)
	}

	var total int64
	var triggered []string
	for _, rule := range channel.Rules {
		if rule.evaluate(ctx) {
			total += rule.Score
			triggered = append(triggered, rule.ID)
		}
	}
	return total, triggered, nil
}
