package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertTransactionVersioning(t *testing.T) {
	ctx := context.Background()
	eng := NewMemoryEngine()
	defer eng.Close()

	id1, err := eng.InsertTransaction(ctx, "SAMEPAY", json.RawMessage(`{"v":1}`))
	require.NoError(t, err)

	id2, err := eng.InsertTransaction(ctx, "SAMEPAY", json.RawMessage(`{"v":2}`))
	require.NoError(t, err)

	t1, err := eng.LoadTransaction(ctx, id1)
	require.NoError(t, err)
	assert.False(t, t1.IsLatest)
	assert.Equal(t, 1, t1.TransactionVersion)

	t2, err := eng.LoadTransaction(ctx, id2)
	require.NoError(t, err)
	assert.True(t, t2.IsLatest)
	assert.Equal(t, 2, t2.TransactionVersion)

	latest, err := eng.LoadLatestTransaction(ctx, "SAMEPAY")
	require.NoError(t, err)
	assert.Equal(t, id2, latest.ID)
}

func TestLoadTransactionNotFound(t *testing.T) {
	ctx := context.Background()
	eng := NewMemoryEngine()
	defer eng.Close()

	_, err := eng.LoadTransaction(ctx, 999)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.True(t, IsNotFound(err))
}

func TestUpsertMatchNodeIdempotent(t *testing.T) {
	ctx := context.Background()
	eng := NewMemoryEngine()
	defer eng.Close()

	id1, err := eng.UpsertMatchNode(ctx, "customer.email", "alice@x.com", 100, 1)
	require.NoError(t, err)

	id2, err := eng.UpsertMatchNode(ctx, "customer.email", "alice@x.com", 50, 5)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	node, err := eng.LoadNode(ctx, id1)
	require.NoError(t, err)
	assert.Equal(t, 100, node.Confidence, "confidence is set once on creation")
	assert.Equal(t, 1, node.Importance)
}

func TestUpsertMatchEdgeOverwritesConflictingContext(t *testing.T) {
	ctx := context.Background()
	eng := NewMemoryEngine()
	defer eng.Close()

	nodeID, err := eng.UpsertMatchNode(ctx, "payment.card", "4111", 90, 2)
	require.NoError(t, err)

	latA := 40.0
	err = eng.UpsertMatchEdge(ctx, nodeID, "PAY-1", EdgeContext{LatAlpha: &latA})
	require.NoError(t, err)

	latB := 41.0
	err = eng.UpsertMatchEdge(ctx, nodeID, "PAY-1", EdgeContext{LatAlpha: &latB})
	require.NoError(t, err)

	edges, err := eng.EdgesForPayload(ctx, "PAY-1")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, 41.0, *edges[0].Context.LatAlpha, "later non-null write wins (spec Open Question #3)")
}

func TestWriteFeaturesRecalcLeavesSimpleUntouched(t *testing.T) {
	ctx := context.Background()
	eng := NewMemoryEngine()
	defer eng.Close()

	id, err := eng.InsertTransaction(ctx, "PAY-1", json.RawMessage(`{}`))
	require.NoError(t, err)

	schema := SchemaVersion{Major: 1, Minor: 0}
	err = eng.WriteFeatures(ctx, id, 1, json.RawMessage(`{"s":1}`), json.RawMessage(`{"g":1}`), schema)
	require.NoError(t, err)

	err = eng.WriteFeatures(ctx, id, 1, nil, json.RawMessage(`{"g":2}`), schema)
	require.NoError(t, err)

	f, err := eng.LoadFeatures(ctx, id, 1)
	require.NoError(t, err)
	assert.JSONEq(t, `{"s":1}`, string(f.SimpleFeatures), "recalc must never touch simple_features")
	assert.JSONEq(t, `{"g":2}`, string(f.GraphFeatures))
}

func TestWriteScoreAppendsEvents(t *testing.T) {
	ctx := context.Background()
	eng := NewMemoryEngine()
	defer eng.Close()

	id, err := eng.InsertTransaction(ctx, "PAY-1", json.RawMessage(`{}`))
	require.NoError(t, err)

	_, err = eng.WriteScore(ctx, id, "default", 10, []string{"r1"})
	require.NoError(t, err)
	ev2, err := eng.WriteScore(ctx, id, "default", 20, []string{"r1", "r2"})
	require.NoError(t, err)

	assert.Equal(t, int64(20), ev2.TotalScore)
	assert.Equal(t, []string{"r1", "r2"}, ev2.TriggeredRules)
}

func TestQueueClaimExcludesInFlightRows(t *testing.T) {
	ctx := context.Background()
	eng := NewMemoryEngine()
	defer eng.Close()

	id, err := eng.InsertTransaction(ctx, "PAY-1", json.RawMessage(`{}`))
	require.NoError(t, err)
	_, err = eng.Enqueue(ctx, QueueProcessing, id)
	require.NoError(t, err)

	row1, err := eng.Claim(ctx, QueueProcessing)
	require.NoError(t, err)

	_, err = eng.Claim(ctx, QueueProcessing)
	assert.ErrorIs(t, err, ErrQueueEmpty, "a claimed-but-unfinished row must not be claimable again")

	require.NoError(t, eng.Finish(ctx, QueueProcessing, row1.ID))

	_, err = eng.Claim(ctx, QueueProcessing)
	assert.ErrorIs(t, err, ErrQueueEmpty, "finished rows stay finished")
}

func TestQueueReleaseAllowsReclaim(t *testing.T) {
	ctx := context.Background()
	eng := NewMemoryEngine()
	defer eng.Close()

	id, err := eng.InsertTransaction(ctx, "PAY-1", json.RawMessage(`{}`))
	require.NoError(t, err)
	_, err = eng.Enqueue(ctx, QueueProcessing, id)
	require.NoError(t, err)

	row, err := eng.Claim(ctx, QueueProcessing)
	require.NoError(t, err)

	require.NoError(t, eng.Release(ctx, QueueProcessing, row.ID))

	row2, err := eng.Claim(ctx, QueueProcessing)
	require.NoError(t, err)
	assert.Equal(t, row.ID, row2.ID)
}
