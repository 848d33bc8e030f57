package graph

import (
	"context"
	"fmt"

	"github.com/orneryd/fraudgraph/pkg/store"
)

// MatcherDefinition is the confidence/importance pair assigned to one
// matcher name in a matcher registry (spec §4.2: "confidence and
// importance are properties of the matcher, not of a given edge").
type MatcherDefinition struct {
	Confidence int
	Importance int
}

// MatcherRegistry maps matcher name to its definition. Callers typically
// load this from YAML via pkg/config; see config.LoadMatcherFile and
// MatcherFile.MatcherRegistry.
type MatcherRegistry map[string]MatcherDefinition

// MatchingField is one attribute value extracted from an inbound
// transaction, along with the edge context recorded at the node where it
// attaches (spec §4.2 "Upsert of a transaction's matching fields").
type MatchingField struct {
	Matcher string
	Value   string
	Context store.EdgeContext
}

// UpsertMatchingFields upserts a match node for every field's (matcher,
// value) pair and attaches payload to each via UpsertMatchEdge. Every
// matcher referenced by fields must exist in registry; an unknown matcher
// is a configuration error, not a data error, so it's returned rather than
// silently skipped.
func UpsertMatchingFields(ctx context.Context, st store.Engine, registry MatcherRegistry, payload store.PayloadNumber, fields []MatchingField) error {
	for _, f := range fields {
		def, ok := registry[f.Matcher]
		if !ok {
			return fmt.Errorf("graph: matcher %q is not registered", f.Matcher)
		}

		nodeID, err := st.UpsertMatchNode(ctx, f.Matcher, f.Value, def.Confidence, def.Importance)
		if err != nil {
			return fmt.Errorf("graph: upsert node %s=%q: %w", f.Matcher, f.Value, err)
		}

		if err := st.UpsertMatchEdge(ctx, nodeID, payload, f.Context); err != nil {
			return fmt.Errorf("graph: upsert edge %s=%q -> %s: %w", f.Matcher, f.Value, payload, err)
		}
	}
	return nil
}
