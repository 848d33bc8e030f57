package main

import "github.com/orneryd/fraudgraph/pkg/scorer"

// newExampleScorer is a worked scorer.Scorer example: a small rule set
// flagging a high connected-neighborhood count and a large amount. A real
// deployment registers its own Scorer per channel.
func newExampleScorer() scorer.Scorer {
	return scorer.NewRuleEngine(scorer.Channel{
		ID: "default",
		Rules: []scorer.Rule{
			{ID: "high-connected-count", Field: "connected_count", Operator: scorer.OpGreaterThan, Value: 5, Score: 40},
			{ID: "large-amount", Field: "amount", Operator: scorer.OpGreaterThan, Value: 10000, Score: 60},
		},
	})
}
