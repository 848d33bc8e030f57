package main

import (
	"encoding/json"
	"fmt"

	"github.com/orneryd/fraudgraph/pkg/feature"
	"github.com/orneryd/fraudgraph/pkg/graph"
)

// examplePayload is the shape serve's default extractor expects. A real
// deployment registers its own feature.Extractor per payload discriminant;
// this one exists so `fraudgraph serve` runs end-to-end out of the box.
type examplePayload struct {
	CustomerEmail     string  `json:"customer_email"`
	CustomerPhone     string  `json:"customer_phone"`
	CardPANHash       string  `json:"card_pan_hash"`
	DeviceFingerprint string  `json:"device_fingerprint"`
	Amount            float64 `json:"amount"`
}

// exampleExtractor is a worked feature.Extractor example: it maps the four
// common matcher fields into matching-graph edges and derives a couple of
// obvious simple/graph features.
type exampleExtractor struct{}

func newExampleExtractor() *exampleExtractor { return &exampleExtractor{} }

func (e *exampleExtractor) ExtractMatchingFields(payload json.RawMessage) ([]graph.MatchingField, error) {
	var p examplePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("example extractor: decode payload: %w", err)
	}

	var fields []graph.MatchingField
	if p.CustomerEmail != "" {
		fields = append(fields, graph.MatchingField{Matcher: "customer.email", Value: p.CustomerEmail})
	}
	if p.CustomerPhone != "" {
		fields = append(fields, graph.MatchingField{Matcher: "customer.phone", Value: p.CustomerPhone})
	}
	if p.CardPANHash != "" {
		fields = append(fields, graph.MatchingField{Matcher: "card.pan_hash", Value: p.CardPANHash})
	}
	if p.DeviceFingerprint != "" {
		fields = append(fields, graph.MatchingField{Matcher: "device.fingerprint", Value: p.DeviceFingerprint})
	}
	return fields, nil
}

func (e *exampleExtractor) ExtractSimpleFeatures(payload json.RawMessage) (feature.SimpleFeatures, error) {
	var p examplePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("example extractor: decode payload: %w", err)
	}
	return json.Marshal(map[string]any{"amount": p.Amount})
}

func (e *exampleExtractor) ExtractGraphFeatures(_ json.RawMessage, connected, direct []graph.ConnectedRow) (feature.GraphFeatures, error) {
	return json.Marshal(map[string]any{
		"connected_count": len(connected),
		"direct_count":    len(direct),
	})
}

func (e *exampleExtractor) SchemaVersionOf() feature.SchemaVersion {
	return feature.SchemaVersion{Major: 1, Minor: 0}
}
