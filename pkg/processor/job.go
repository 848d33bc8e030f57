package processor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/orneryd/fraudgraph/pkg/audit"
	"github.com/orneryd/fraudgraph/pkg/graph"
	"github.com/orneryd/fraudgraph/pkg/store"
)

var emptyFeatures = json.RawMessage(`{}`)

// processJob implements spec.md §4.5's processing-job algorithm.
func (p *Processor) processJob(ctx context.Context, txnID store.TransactionID) error {
	txn, err := p.Store.LoadTransaction(ctx, txnID)
	if store.IsNotFound(err) {
		return nil // a previous delete occurred; finish and skip (spec.md §7)
	}
	if err != nil {
		return fmt.Errorf("processor: load transaction %d: %w", txnID, err)
	}
	if txn.ProcessingComplete {
		return nil
	}

	ext, err := p.extractorFor(txn.Payload)
	if err != nil {
		return p.failJob(ctx, store.QueueProcessing, txn, audit.FaultExtractor, store.SchemaVersion{}, err)
	}

	fields, err := ext.ExtractMatchingFields(txn.Payload)
	if err != nil {
		return p.failJob(ctx, store.QueueProcessing, txn, audit.FaultExtractor, ext.SchemaVersionOf(), err)
	}
	if err := graph.UpsertMatchingFields(ctx, p.Store, p.Matchers, txn.PayloadNumber, fields); err != nil {
		return fmt.Errorf("processor: upsert matching fields for %s: %w", txn.PayloadNumber, err)
	}

	opts := p.traversalOptions()
	connected, err := p.Graph.FindConnected(ctx, txn.PayloadNumber, opts)
	if err != nil {
		return fmt.Errorf("processor: find_connected(%s): %w", txn.PayloadNumber, err)
	}
	direct, err := p.Graph.FindDirect(ctx, txn.PayloadNumber, opts)
	if err != nil {
		return fmt.Errorf("processor: find_direct(%s): %w", txn.PayloadNumber, err)
	}

	simple, err := ext.ExtractSimpleFeatures(txn.Payload)
	if err != nil {
		return p.failJob(ctx, store.QueueProcessing, txn, audit.FaultExtractor, ext.SchemaVersionOf(), err)
	}
	graphFeatures, err := ext.ExtractGraphFeatures(txn.Payload, connected, direct)
	if err != nil {
		return p.failJob(ctx, store.QueueProcessing, txn, audit.FaultExtractor, ext.SchemaVersionOf(), err)
	}

	schema := ext.SchemaVersionOf()
	if err := p.Store.WriteFeatures(ctx, txnID, txn.TransactionVersion, simple, graphFeatures, schema); err != nil {
		return fmt.Errorf("processor: write_features(%d): %w", txnID, err)
	}

	if err := p.scoreChannels(ctx, txn, simple, graphFeatures); err != nil {
		return p.failJob(ctx, store.QueueProcessing, txn, audit.FaultScorer, schema, err)
	}

	if err := p.Store.MarkProcessed(ctx, txnID); err != nil {
		return fmt.Errorf("processor: mark_processed(%d): %w", txnID, err)
	}

	return p.enqueueNeighbors(ctx, txnID, connected)
}

// recalcJob implements spec.md §4.5's recalculation-job algorithm.
func (p *Processor) recalcJob(ctx context.Context, txnID store.TransactionID) error {
	txn, err := p.Store.LoadTransaction(ctx, txnID)
	if store.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("processor: load transaction %d: %w", txnID, err)
	}

	existing, err := p.Store.LoadFeatures(ctx, txnID, txn.TransactionVersion)
	if store.IsNotFound(err) {
		// A processing job for this transaction is still pending and
		// will run (spec.md §4.5 recalc step 2).
		return nil
	}
	if err != nil {
		return fmt.Errorf("processor: load_features(%d, %d): %w", txnID, txn.TransactionVersion, err)
	}

	ext, err := p.extractorFor(txn.Payload)
	if err != nil {
		return p.failJob(ctx, store.QueueRecalculation, txn, audit.FaultExtractor, store.SchemaVersion{}, err)
	}

	if !store.CompatibleSchema(existing.Schema, ext.SchemaVersionOf()) {
		if p.Audit != nil {
			_ = p.Audit.Log(audit.Event{
				Type:          audit.FaultSchemaMismatch,
				TransactionID: txnID,
				PayloadNumber: txn.PayloadNumber,
				Queue:         store.QueueRecalculation,
				Reason:        "stored feature schema major version does not match current extractor",
			})
		}
		// Reprocess end-to-end as if new, overwriting features (spec.md §7).
		return p.processJob(ctx, txnID)
	}

	opts := p.traversalOptions()
	connected, err := p.Graph.FindConnected(ctx, txn.PayloadNumber, opts)
	if err != nil {
		return fmt.Errorf("processor: find_connected(%s): %w", txn.PayloadNumber, err)
	}
	direct, err := p.Graph.FindDirect(ctx, txn.PayloadNumber, opts)
	if err != nil {
		return fmt.Errorf("processor: find_direct(%s): %w", txn.PayloadNumber, err)
	}

	graphFeatures, err := ext.ExtractGraphFeatures(txn.Payload, connected, direct)
	if err != nil {
		return p.failJob(ctx, store.QueueRecalculation, txn, audit.FaultExtractor, ext.SchemaVersionOf(), err)
	}

	// Recalc never writes simple_features (nil leaves it untouched; spec.md §4.5 step 4).
	if err := p.Store.WriteFeatures(ctx, txnID, txn.TransactionVersion, nil, graphFeatures, ext.SchemaVersionOf()); err != nil {
		return fmt.Errorf("processor: write_features(%d) graph-only: %w", txnID, err)
	}

	if err := p.scoreChannels(ctx, txn, existing.SimpleFeatures, graphFeatures); err != nil {
		return p.failJob(ctx, store.QueueRecalculation, txn, audit.FaultScorer, ext.SchemaVersionOf(), err)
	}

	// mark_processed updates last_scoring_date but not processing_complete
	// (spec.md §4.5 recalc step 6); recalc jobs never cascade further
	// recalc (step 7), so no neighbor enqueue happens here.
	return p.Store.TouchScoringDate(ctx, txnID)
}

func (p *Processor) scoreChannels(ctx context.Context, txn *store.Transaction, simple, graphFeatures json.RawMessage) error {
	for _, channelID := range p.Config.Channels {
		s, ok := p.Scorers.Get(channelID)
		if !ok {
			continue
		}
		total, triggered, err := s.Score(channelID, simple, graphFeatures)
		if err != nil {
			return fmt.Errorf("score channel %q: %w", channelID, err)
		}
		if _, err := p.Store.WriteScore(ctx, txn.ID, channelID, total, triggered); err != nil {
			return fmt.Errorf("write_score(%d, %q): %w", txn.ID, channelID, err)
		}
	}
	return nil
}

// enqueueNeighbors enqueues every distinct neighbor's transaction_id onto
// the recalculation queue, excluding the job's own transaction (spec.md
// §4.5 processing step 9).
func (p *Processor) enqueueNeighbors(ctx context.Context, self store.TransactionID, connected []graph.ConnectedRow) error {
	seen := make(map[store.TransactionID]bool)
	for _, row := range connected {
		if row.TransactionID == self || seen[row.TransactionID] {
			continue
		}
		seen[row.TransactionID] = true
		if _, err := p.Store.Enqueue(ctx, store.QueueRecalculation, row.TransactionID); err != nil {
			return fmt.Errorf("processor: enqueue recalc for %d: %w", row.TransactionID, err)
		}
	}
	return nil
}

// failJob implements the ExtractorError/ScorerError fatal-for-the-job path
// (spec.md §7): the fault is logged, the transaction is marked processed
// with an empty feature row and zero scores, and the job is finished
// (returns nil) rather than retried.
func (p *Processor) failJob(ctx context.Context, queue store.QueueName, txn *store.Transaction, kind audit.EventType, schema store.SchemaVersion, cause error) error {
	if p.Audit != nil {
		_ = p.Audit.Log(audit.Event{
			Type:          kind,
			TransactionID: txn.ID,
			PayloadNumber: txn.PayloadNumber,
			Queue:         queue,
			Reason:        cause.Error(),
		})
	}

	if err := p.Store.WriteFeatures(ctx, txn.ID, txn.TransactionVersion, emptyFeatures, emptyFeatures, schema); err != nil {
		return fmt.Errorf("processor: write empty features after fault: %w", err)
	}
	for _, channelID := range p.Config.Channels {
		if _, err := p.Store.WriteScore(ctx, txn.ID, channelID, 0, nil); err != nil {
			return fmt.Errorf("processor: write zero score after fault: %w", err)
		}
	}
	if err := p.Store.MarkProcessed(ctx, txn.ID); err != nil {
		return fmt.Errorf("processor: mark_processed after fault: %w", err)
	}
	return nil
}
