package store

import (
	"context"
	"encoding/json"
)

// Engine is the durable persistence contract for the core processing
// engine. Every method is atomic with respect to concurrent callers.
// MemoryEngine and BadgerEngine both satisfy it.
type Engine interface {
	// InsertTransaction allocates the next TransactionVersion for
	// payloadNumber, flips any previous latest row's IsLatest to false in
	// the same transaction, and sets ProcessingComplete=false. Returns
	// ErrConflict on a concurrent insert for the same payload number.
	InsertTransaction(ctx context.Context, payloadNumber PayloadNumber, payload json.RawMessage) (TransactionID, error)

	// LoadTransaction returns ErrNotFound if id does not exist.
	LoadTransaction(ctx context.Context, id TransactionID) (*Transaction, error)

	// LoadLatestTransaction returns the current is_latest=true row for
	// payloadNumber. Returns ErrNotFound if the payload number is unknown.
	LoadLatestTransaction(ctx context.Context, payloadNumber PayloadNumber) (*Transaction, error)

	// UpsertMatchNode is idempotent on (matcher, value). Confidence and
	// importance are written only on first creation.
	UpsertMatchNode(ctx context.Context, matcher, value string, confidence, importance int) (NodeID, error)

	// UpsertMatchEdge is idempotent on (nodeID, payloadNumber). Context
	// values already non-null are overwritten only when the new value is
	// also non-null (spec §9 Open Question #3: silent overwrite,
	// surfaced via log line by the implementation).
	UpsertMatchEdge(ctx context.Context, nodeID NodeID, payloadNumber PayloadNumber, edgeCtx EdgeContext) error

	// EdgesForPayload returns every MatchEdge recorded for payloadNumber,
	// used by traversal to find the hyperedges a payload participates in.
	EdgesForPayload(ctx context.Context, payloadNumber PayloadNumber) ([]MatchEdge, error)

	// PayloadsForNode returns every MatchEdge recorded against nodeID,
	// i.e. every payload sharing that (matcher, value) attribute.
	PayloadsForNode(ctx context.Context, nodeID NodeID) ([]MatchEdge, error)

	// LoadNode returns ErrNotFound if nodeID does not exist.
	LoadNode(ctx context.Context, nodeID NodeID) (*MatchNode, error)

	// WriteFeatures upserts on (transactionID, version). Pass simple=nil
	// on recalc to leave the stored simple_features untouched and update
	// only graph features.
	WriteFeatures(ctx context.Context, id TransactionID, version int, simple, graph json.RawMessage, schema SchemaVersion) error

	// LoadFeatures returns ErrNotFound if no row exists yet for
	// (transactionID, version).
	LoadFeatures(ctx context.Context, id TransactionID, version int) (*Features, error)

	// WriteScore appends a new scoring event plus its triggered rule rows.
	WriteScore(ctx context.Context, id TransactionID, channelID string, total int64, ruleIDs []string) (*ScoringEvent, error)

	// MarkProcessed sets processing_complete=true and last_scoring_date=now.
	MarkProcessed(ctx context.Context, id TransactionID) error

	// TouchScoringDate updates last_scoring_date without altering
	// processing_complete (used by recalculation jobs, spec §4.5.6).
	TouchScoringDate(ctx context.Context, id TransactionID) error

	// Enqueue adds a processable id to the named queue.
	Enqueue(ctx context.Context, queue QueueName, processableID TransactionID) (JobID, error)

	// Claim atomically claims the oldest unprocessed row on queue under
	// an exclusion mechanism equivalent to SELECT ... FOR UPDATE SKIP
	// LOCKED (see BadgerEngine.Claim and MemoryEngine.Claim). Returns
	// ErrQueueEmpty if nothing is
	// claimable.
	Claim(ctx context.Context, queue QueueName) (*QueueRow, error)

	// Finish marks a claimed row as processed.
	Finish(ctx context.Context, queue QueueName, jobID JobID) error

	// Release undoes a Claim without marking the row processed, the
	// store-level equivalent of a worker's job transaction rolling back
	// after a deadline abort or transient fault (spec §5 "Cancellation &
	// timeouts"): the row becomes claimable again by any worker.
	Release(ctx context.Context, queue QueueName, jobID JobID) error

	// Close releases engine resources. Safe to call once.
	Close() error
}
