// Package feature defines the pluggable feature-extraction capability set
// (spec.md §4.3): deriving matching fields and simple/graph feature
// vectors from a domain transaction payload.
package feature

import (
	"encoding/json"

	"github.com/orneryd/fraudgraph/pkg/graph"
	"github.com/orneryd/fraudgraph/pkg/store"
)

// SchemaVersion mirrors store.SchemaVersion; extractors declare their own
// so a process can host several payload shapes at once, each versioned
// independently.
type SchemaVersion = store.SchemaVersion

// SimpleFeatures is a schema-versioned, JSON-shaped feature vector derived
// from a transaction payload alone, with no knowledge of its neighborhood.
type SimpleFeatures = json.RawMessage

// GraphFeatures is a schema-versioned, JSON-shaped feature vector derived
// from a transaction payload plus its matching-graph neighborhood.
type GraphFeatures = json.RawMessage

// Extractor is the capability set a host registers per payload shape
// (spec.md §4.3). It is a capability set, not a class hierarchy: any type
// implementing all four methods can be registered for a payload
// discriminant, and the Processor (pkg/processor) calls each of them.
type Extractor interface {
	// ExtractMatchingFields derives the (matcher, value, edge context)
	// tuples used to upsert this payload into the matching graph.
	ExtractMatchingFields(payload json.RawMessage) ([]graph.MatchingField, error)

	// ExtractSimpleFeatures must be deterministic and side-effect-free
	// (spec.md §4.3 "Contract").
	ExtractSimpleFeatures(payload json.RawMessage) (SimpleFeatures, error)

	// ExtractGraphFeatures must tolerate empty neighborhoods: connected
	// and direct may both be nil/empty slices (spec.md §4.3 "Contract").
	ExtractGraphFeatures(payload json.RawMessage, connected, direct []graph.ConnectedRow) (GraphFeatures, error)

	// SchemaVersionOf reports the schema version this extractor's
	// current output conforms to. The processor compares this against a
	// transaction's stored schema (store.CompatibleSchema) to decide
	// whether stored features are reusable or must be recomputed.
	SchemaVersionOf() SchemaVersion
}
