package graph

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/fraudgraph/pkg/store"
)

// link shares one matcher/value pair between two payload numbers, seeding
// both the transaction rows (if not already present) and the match node
// and edges that connect them.
func link(t *testing.T, ctx context.Context, st store.Engine, matcher, value string, confidence int, payloads ...store.PayloadNumber) {
	t.Helper()
	for _, p := range payloads {
		if _, err := st.LoadLatestTransaction(ctx, p); store.IsNotFound(err) {
			_, err := st.InsertTransaction(ctx, p, json.RawMessage(`{}`))
			require.NoError(t, err)
		}
	}
	nodeID, err := st.UpsertMatchNode(ctx, matcher, value, confidence, 1)
	require.NoError(t, err)
	for _, p := range payloads {
		require.NoError(t, st.UpsertMatchEdge(ctx, nodeID, p, store.EdgeContext{}))
	}
}

func TestFindConnected_S1_AllConnectedThroughOneAttribute(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryEngine()
	defer st.Close()

	payloads := []store.PayloadNumber{"TEST1", "TEST2", "TEST3", "TEST4", "TEST5", "TEST6", "TEST7", "TEST8", "TEST9", "TEST10"}
	link(t, ctx, st, "customer.email", "test@test.com", 100, payloads...)

	eng := New(st)
	rows, err := eng.FindConnected(ctx, "TEST1", DefaultOptions())
	require.NoError(t, err)
	require.Len(t, rows, 9)
	for _, r := range rows {
		assert.Equal(t, 1, r.Depth)
		assert.Equal(t, 100, r.Confidence)
	}
}

func TestFindConnected_S2_TwoDisjointGroups(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryEngine()
	defer st.Close()

	group1 := []store.PayloadNumber{"TEST1", "TEST2", "TEST3", "TEST4", "TEST5"}
	group2 := []store.PayloadNumber{"TEST6", "TEST7", "TEST8", "TEST9", "TEST10"}
	link(t, ctx, st, "customer.email", "group1@test.com", 100, group1...)
	link(t, ctx, st, "customer.email", "group2@test.com", 100, group2...)

	eng := New(st)
	rows, err := eng.FindConnected(ctx, "TEST1", DefaultOptions())
	require.NoError(t, err)
	assert.Len(t, rows, 4)
}

func TestFindConnected_S3_ChainAndDepthCap(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryEngine()
	defer st.Close()

	chain := []store.PayloadNumber{"TEST1", "TEST2", "TEST3", "TEST4", "TEST5", "TEST6", "TEST7", "TEST8", "TEST9", "TEST10"}
	for i := 0; i < len(chain)-1; i++ {
		link(t, ctx, st, "chain.link", string(rune('a'+i)), 100, chain[i], chain[i+1])
	}

	eng := New(st)
	opts := DefaultOptions()
	opts.MaxDepth = 5
	rows, err := eng.FindConnected(ctx, "TEST1", opts)
	require.NoError(t, err)
	require.Len(t, rows, 5)

	depths := make(map[int]bool)
	for _, r := range rows {
		depths[r.Depth] = true
	}
	for d := 1; d <= 5; d++ {
		assert.True(t, depths[d], "expected a row at depth %d", d)
	}
}

func TestFindConnected_S4_LimitCap(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryEngine()
	defer st.Close()

	chain := []store.PayloadNumber{"TEST1", "TEST2", "TEST3", "TEST4", "TEST5", "TEST6", "TEST7", "TEST8", "TEST9", "TEST10"}
	for i := 0; i < len(chain)-1; i++ {
		link(t, ctx, st, "chain.link", string(rune('a'+i)), 100, chain[i], chain[i+1])
	}

	eng := New(st)
	opts := DefaultOptions()
	opts.Limit = 5
	rows, err := eng.FindConnected(ctx, "TEST1", opts)
	require.NoError(t, err)
	assert.Len(t, rows, 4, "root excluded, total visited = 5")
}

func TestFindConnected_S5_TemporalFilter(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryEngine()
	defer st.Close()

	d1, d2, d3 := date(t, "2024-01-01"), date(t, "2024-01-02"), date(t, "2024-02-15")
	nodeID, err := st.UpsertMatchNode(ctx, "customer.email", "test@test.com", 100, 1)
	require.NoError(t, err)

	for _, p := range []store.PayloadNumber{"TEST1", "TEST2", "TEST3"} {
		_, err := st.InsertTransaction(ctx, p, json.RawMessage(`{}`))
		require.NoError(t, err)
	}
	require.NoError(t, st.UpsertMatchEdge(ctx, nodeID, "TEST1", store.EdgeContext{DatetimeAlpha: &d1}))
	require.NoError(t, st.UpsertMatchEdge(ctx, nodeID, "TEST2", store.EdgeContext{DatetimeAlpha: &d2}))
	require.NoError(t, st.UpsertMatchEdge(ctx, nodeID, "TEST3", store.EdgeContext{DatetimeAlpha: &d3}))

	eng := New(st)
	opts := DefaultOptions()
	one := 1
	opts.Filter = FilterConfig{"customer.email": {TimestampAlphaDays: &one}}
	rows, err := eng.FindConnected(ctx, "TEST1", opts)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "customer.email", rows[0].Matcher)
}

func TestFindConnected_S6_SpatialFilter(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryEngine()
	defer st.Close()

	nycLat, nycLon := 40.7128, -74.0060
	nearLat, nearLon := 40.71306, -74.0060 // ~30m north of NYC
	laLat, laLon := 34.0522, -118.2437

	nodeID, err := st.UpsertMatchNode(ctx, "customer.email", "test@test.com", 100, 1)
	require.NoError(t, err)
	for _, p := range []store.PayloadNumber{"TEST1", "TEST2", "TEST3"} {
		_, err := st.InsertTransaction(ctx, p, json.RawMessage(`{}`))
		require.NoError(t, err)
	}
	require.NoError(t, st.UpsertMatchEdge(ctx, nodeID, "TEST1", store.EdgeContext{LatAlpha: &nycLat, LongAlpha: &nycLon}))
	require.NoError(t, st.UpsertMatchEdge(ctx, nodeID, "TEST2", store.EdgeContext{LatAlpha: &nearLat, LongAlpha: &nearLon}))
	require.NoError(t, st.UpsertMatchEdge(ctx, nodeID, "TEST3", store.EdgeContext{LatAlpha: &laLat, LongAlpha: &laLon}))

	eng := New(st)
	opts := DefaultOptions()
	threshold := 200.0
	opts.Filter = FilterConfig{"customer.email": {LocationAlphaMetres: &threshold}}
	rows, err := eng.FindConnected(ctx, "TEST1", opts)
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestFindConnected_S7_CycleSafety(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryEngine()
	defer st.Close()

	link(t, ctx, st, "cyc1", "v", 100, "TEST1", "TEST2")
	link(t, ctx, st, "cyc2", "v", 100, "TEST2", "TEST3")
	link(t, ctx, st, "cyc3", "v", 100, "TEST3", "TEST4")
	link(t, ctx, st, "cyc4", "v", 100, "TEST4", "TEST1")

	eng := New(st)
	done := make(chan struct{})
	var rows []ConnectedRow
	var err error
	go func() {
		rows, err = eng.FindConnected(ctx, "TEST1", DefaultOptions())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("find_connected did not terminate on a cyclic graph")
	}
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	seen := make(map[store.TransactionID]bool)
	for _, r := range rows {
		assert.False(t, seen[r.TransactionID], "payload repeated in result")
		seen[r.TransactionID] = true
	}
}

func TestFindConnected_S8_Versioning(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryEngine()
	defer st.Close()

	_, err := st.InsertTransaction(ctx, "SAMEPAY", json.RawMessage(`{"v":1}`))
	require.NoError(t, err)
	v2ID, err := st.InsertTransaction(ctx, "SAMEPAY", json.RawMessage(`{"v":2}`))
	require.NoError(t, err)

	link(t, ctx, st, "customer.email", "test@test.com", 100, "SAMEPAY", "OTHER1")

	eng := New(st)
	rows, err := eng.FindConnected(ctx, "OTHER1", DefaultOptions())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, v2ID, rows[0].TransactionID)
}

func date(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	require.NoError(t, err)
	return d
}
