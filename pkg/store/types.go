// Package store persists transactions, matching nodes, features, scores,
// labels, and queue rows for the fraud-detection core engine.
//
// Two implementations satisfy Engine: MemoryEngine (map-backed, the default
// test fixture) and BadgerEngine (persistent, backed by BadgerDB). Both
// provide the atomic operations named below; callers never need to know
// which one they hold.
//
// Example:
//
//	eng, err := store.NewBadgerEngine(store.BadgerOptions{DataDir: "./data"})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer eng.Close()
//
//	id, err := eng.InsertTransaction(ctx, "PAY-001", payload)
package store

import (
	"encoding/json"
	"errors"
	"time"
)

// Common errors returned by Engine implementations. Callers classify
// these with the Is* helpers in errors.go rather than type-asserting.
var (
	ErrNotFound       = errors.New("store: not found")
	ErrConflict       = errors.New("store: conflict")
	ErrSchemaMismatch = errors.New("store: schema major version mismatch")
	ErrClosed         = errors.New("store: engine closed")
	ErrQueueEmpty     = errors.New("store: queue empty")
)

// TransactionID identifies a single versioned transaction row.
type TransactionID int64

// NodeID identifies a MatchNode row.
type NodeID int64

// JobID identifies a row on either queue.
type JobID int64

// PayloadNumber is the stable business key shared by all versions of the
// same logical transaction.
type PayloadNumber string

// QueueName distinguishes the two durable work queues.
type QueueName string

const (
	QueueProcessing    QueueName = "processing"
	QueueRecalculation QueueName = "recalculation"
)

// Transaction is immutable once written, except for the fields the
// lifecycle in spec §3 calls out (LabelID, Comment, LastScoringDate,
// ProcessingComplete).
type Transaction struct {
	ID                 TransactionID
	PayloadNumber      PayloadNumber
	TransactionVersion int
	IsLatest           bool
	Payload            json.RawMessage
	LabelID            *int64
	Comment            *string
	LastScoringDate    *time.Time
	ProcessingComplete bool
	CreatedAt          time.Time
}

// MatchNode is a distinct (matcher, value) tuple acting as a hyperedge
// connecting every payload that shares that attribute. Confidence and
// importance are set once, at creation, from the caller-supplied matcher
// registry.
type MatchNode struct {
	ID         NodeID
	Matcher    string
	Value      string
	Confidence int // 0..100
	Importance int // >= 0, tie-break weight
}

// EdgeContext carries the optional per-payload, per-node contextual
// attributes used for post-hoc temporal/spatial filtering during
// traversal. A nil pointer means "not supplied for this payload".
type EdgeContext struct {
	DatetimeAlpha *time.Time
	DatetimeBeta  *time.Time

	LongAlpha, LatAlpha *float64
	LongBeta, LatBeta   *float64
	LongGamma, LatGamma *float64
	LongDelta, LatDelta *float64
}

// MatchEdge is the join row (node_id, payload_number). Primary key is the
// pair; attribute values are recorded once per payload, not per version.
type MatchEdge struct {
	NodeID        NodeID
	PayloadNumber PayloadNumber
	Context       EdgeContext
	CreatedAt     time.Time
}

// SchemaVersion gates feature compatibility. A major mismatch invalidates
// a stored features row and forces full reprocessing (spec §7).
type SchemaVersion struct {
	Major int
	Minor int
}

// Features is the row stored per (transaction_id, transaction_version).
// SimpleFeatures is nil on recalc-only rows.
type Features struct {
	TransactionID      TransactionID
	TransactionVersion int
	Schema             SchemaVersion
	SimpleFeatures     json.RawMessage // nullable
	GraphFeatures      json.RawMessage // required
	CreatedAt          time.Time
}

// ScoringEvent is a per-channel score computed from features. Events are
// append-only; "current score" for a channel is the latest event.
type ScoringEvent struct {
	ID             int64
	TransactionID  TransactionID
	ChannelID      string
	TotalScore     int64
	TriggeredRules []string
	CreatedAt      time.Time
}

// QueueRow is the shared shape of processing_queue and recalculation_queue.
type QueueRow struct {
	ID            JobID
	ProcessableID TransactionID
	ProcessedAt   *time.Time
	CreatedAt     time.Time
}
