package processor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/fraudgraph/pkg/audit"
	"github.com/orneryd/fraudgraph/pkg/feature"
	"github.com/orneryd/fraudgraph/pkg/graph"
	"github.com/orneryd/fraudgraph/pkg/scorer"
	"github.com/orneryd/fraudgraph/pkg/store"
)

// stubExtractor is a feature.Extractor fixture whose three Extract* methods
// are independently overridable, for exercising each fault branch in job.go.
type stubExtractor struct {
	fields []graph.MatchingField
	simple feature.SimpleFeatures
	graphF feature.GraphFeatures
	schema feature.SchemaVersion
	failOn string // "fields", "simple", "graph", or ""
}

func (s *stubExtractor) ExtractMatchingFields(json.RawMessage) ([]graph.MatchingField, error) {
	if s.failOn == "fields" {
		return nil, errors.New("stub: bad fields")
	}
	return s.fields, nil
}

func (s *stubExtractor) ExtractSimpleFeatures(json.RawMessage) (feature.SimpleFeatures, error) {
	if s.failOn == "simple" {
		return nil, errors.New("stub: bad simple")
	}
	return s.simple, nil
}

func (s *stubExtractor) ExtractGraphFeatures(json.RawMessage, []graph.ConnectedRow, []graph.ConnectedRow) (feature.GraphFeatures, error) {
	if s.failOn == "graph" {
		return nil, errors.New("stub: bad graph")
	}
	return s.graphF, nil
}

func (s *stubExtractor) SchemaVersionOf() feature.SchemaVersion { return s.schema }

// stubScorer lets tests force a scoring failure.
type stubScorer struct {
	fail      bool
	total     int64
	triggered []string
}

func (s *stubScorer) Score(string, json.RawMessage, json.RawMessage) (int64, []string, error) {
	if s.fail {
		return 0, nil, errors.New("stub: scoring failed")
	}
	return s.total, s.triggered, nil
}

func newTestProcessor(t *testing.T, ext feature.Extractor, sc scorer.Scorer, channels []string) (*Processor, store.Engine) {
	t.Helper()
	st := store.NewMemoryEngine()

	extractors := feature.NewRegistry()
	require.NoError(t, extractors.Register("default", ext))

	scorers := scorer.NewRegistry()
	if sc != nil {
		for _, ch := range channels {
			require.NoError(t, scorers.Register(ch, sc))
		}
	}

	cfg := DefaultConfig()
	cfg.Channels = channels

	p := New(st, graph.MatcherRegistry{}, extractors, scorers, nil,
		func(json.RawMessage) (string, error) { return "default", nil }, cfg)
	return p, st
}

func TestProcessJob_HappyPath(t *testing.T) {
	ext := &stubExtractor{
		simple: json.RawMessage(`{"amount":100}`),
		graphF: json.RawMessage(`{"degree":0}`),
		schema: feature.SchemaVersion{Major: 1, Minor: 0},
	}
	sc := &stubScorer{total: 42, triggered: []string{"r1"}}
	p, st := newTestProcessor(t, ext, sc, []string{"payments"})

	ctx := context.Background()
	id, err := st.InsertTransaction(ctx, "PAY-1", json.RawMessage(`{}`))
	require.NoError(t, err)

	require.NoError(t, p.processJob(ctx, id))

	txn, err := st.LoadTransaction(ctx, id)
	require.NoError(t, err)
	assert.True(t, txn.ProcessingComplete)

	feats, err := st.LoadFeatures(ctx, id, txn.TransactionVersion)
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":100}`, string(feats.SimpleFeatures))
	assert.JSONEq(t, `{"degree":0}`, string(feats.GraphFeatures))
}

func TestProcessJob_NotFoundIsSkipped(t *testing.T) {
	ext := &stubExtractor{schema: feature.SchemaVersion{Major: 1}}
	p, _ := newTestProcessor(t, ext, nil, nil)

	err := p.processJob(context.Background(), store.TransactionID(999))
	assert.NoError(t, err)
}

func TestProcessJob_AlreadyCompleteIsSkipped(t *testing.T) {
	ext := &stubExtractor{schema: feature.SchemaVersion{Major: 1}}
	p, st := newTestProcessor(t, ext, nil, nil)

	ctx := context.Background()
	id, err := st.InsertTransaction(ctx, "PAY-2", json.RawMessage(`{}`))
	require.NoError(t, err)
	require.NoError(t, st.MarkProcessed(ctx, id))

	assert.NoError(t, p.processJob(ctx, id))
}

func TestProcessJob_ExtractorErrorFailsJobNotRetry(t *testing.T) {
	ext := &stubExtractor{failOn: "fields", schema: feature.SchemaVersion{Major: 1}}
	var buf auditBuf
	logger := audit.NewLoggerWithWriter(&buf, audit.Config{Enabled: true})

	st := store.NewMemoryEngine()
	extractors := feature.NewRegistry()
	require.NoError(t, extractors.Register("default", ext))
	cfg := DefaultConfig()
	cfg.Channels = []string{"payments"}
	p := New(st, graph.MatcherRegistry{}, extractors, scorer.NewRegistry(), logger,
		func(json.RawMessage) (string, error) { return "default", nil }, cfg)

	ctx := context.Background()
	id, err := st.InsertTransaction(ctx, "PAY-3", json.RawMessage(`{}`))
	require.NoError(t, err)

	require.NoError(t, p.processJob(ctx, id))

	txn, err := st.LoadTransaction(ctx, id)
	require.NoError(t, err)
	assert.True(t, txn.ProcessingComplete, "a fatal extractor error still finishes the job")

	feats, err := st.LoadFeatures(ctx, id, txn.TransactionVersion)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(feats.SimpleFeatures))
	assert.Contains(t, buf.String(), `"FAULT_EXTRACTOR"`)
}

func TestProcessJob_ScorerErrorFailsJobNotRetry(t *testing.T) {
	ext := &stubExtractor{
		simple: json.RawMessage(`{}`),
		graphF: json.RawMessage(`{}`),
		schema: feature.SchemaVersion{Major: 1},
	}
	sc := &stubScorer{fail: true}
	p, st := newTestProcessor(t, ext, sc, []string{"payments"})

	ctx := context.Background()
	id, err := st.InsertTransaction(ctx, "PAY-4", json.RawMessage(`{}`))
	require.NoError(t, err)

	require.NoError(t, p.processJob(ctx, id))

	txn, err := st.LoadTransaction(ctx, id)
	require.NoError(t, err)
	assert.True(t, txn.ProcessingComplete)
}

func TestRecalcJob_SchemaMismatchReprocessesEndToEnd(t *testing.T) {
	ext := &stubExtractor{
		simple: json.RawMessage(`{"amount":7}`),
		graphF: json.RawMessage(`{"degree":1}`),
		schema: feature.SchemaVersion{Major: 2, Minor: 0},
	}
	p, st := newTestProcessor(t, ext, nil, nil)

	ctx := context.Background()
	id, err := st.InsertTransaction(ctx, "PAY-5", json.RawMessage(`{}`))
	require.NoError(t, err)

	// Seed a features row at an older, incompatible major schema version.
	require.NoError(t, st.WriteFeatures(ctx, id, 1, json.RawMessage(`{"old":true}`), json.RawMessage(`{}`), store.SchemaVersion{Major: 1}))

	require.NoError(t, p.recalcJob(ctx, id))

	feats, err := st.LoadFeatures(ctx, id, 1)
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount":7}`, string(feats.SimpleFeatures), "reprocess overwrites simple_features too")
}

func TestRecalcJob_NoFeaturesYetIsNoOp(t *testing.T) {
	ext := &stubExtractor{schema: feature.SchemaVersion{Major: 1}}
	p, st := newTestProcessor(t, ext, nil, nil)

	ctx := context.Background()
	id, err := st.InsertTransaction(ctx, "PAY-6", json.RawMessage(`{}`))
	require.NoError(t, err)

	assert.NoError(t, p.recalcJob(ctx, id))

	txn, err := st.LoadTransaction(ctx, id)
	require.NoError(t, err)
	assert.False(t, txn.ProcessingComplete)
}

func TestRecalcJob_GraphOnlyPreservesSimpleFeatures(t *testing.T) {
	ext := &stubExtractor{
		graphF: json.RawMessage(`{"degree":3}`),
		schema: feature.SchemaVersion{Major: 1, Minor: 0},
	}
	p, st := newTestProcessor(t, ext, nil, nil)

	ctx := context.Background()
	id, err := st.InsertTransaction(ctx, "PAY-7", json.RawMessage(`{}`))
	require.NoError(t, err)
	require.NoError(t, st.WriteFeatures(ctx, id, 1, json.RawMessage(`{"kept":true}`), json.RawMessage(`{}`), store.SchemaVersion{Major: 1}))

	require.NoError(t, p.recalcJob(ctx, id))

	feats, err := st.LoadFeatures(ctx, id, 1)
	require.NoError(t, err)
	assert.JSONEq(t, `{"kept":true}`, string(feats.SimpleFeatures))
	assert.JSONEq(t, `{"degree":3}`, string(feats.GraphFeatures))
}

func TestEnqueueNeighbors_DedupsAndExcludesSelf(t *testing.T) {
	p, st := newTestProcessor(t, &stubExtractor{schema: feature.SchemaVersion{Major: 1}}, nil, nil)
	ctx := context.Background()

	rows := []graph.ConnectedRow{
		{TransactionID: 10},
		{TransactionID: 10},
		{TransactionID: 11},
		{TransactionID: 5}, // self, excluded
	}
	require.NoError(t, p.enqueueNeighbors(ctx, store.TransactionID(5), rows))

	var claimed []store.TransactionID
	for {
		row, err := st.Claim(ctx, store.QueueRecalculation)
		if store.IsQueueEmpty(err) {
			break
		}
		require.NoError(t, err)
		claimed = append(claimed, row.ProcessableID)
	}
	assert.ElementsMatch(t, []store.TransactionID{10, 11}, claimed)
}

// auditBuf is a minimal io.Writer fixture for asserting audit log contents.
type auditBuf struct{ data []byte }

func (b *auditBuf) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

func (b *auditBuf) String() string { return string(b.data) }
