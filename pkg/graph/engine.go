package graph

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/orneryd/fraudgraph/pkg/store"
)

// Options bounds a single traversal call (spec §4.2).
type Options struct {
	// MaxDepth is the maximum number of hops from the root (root is
	// depth 0). Default 10.
	MaxDepth int

	// Limit caps the number of visited payloads, the root included, so at
	// most Limit-1 rows are returned. Default 1000.
	Limit int

	// MinConfidence drops match nodes with Confidence below this value.
	// Default 0.
	MinConfidence int

	// Filter supplies per-matcher temporal/spatial thresholds. A nil or
	// empty Filter passes every edge unconditionally.
	Filter FilterConfig
}

// DefaultOptions returns the traversal defaults named in spec §4.2.
func DefaultOptions() Options {
	return Options{MaxDepth: 10, Limit: 1000, MinConfidence: 0, Filter: FilterConfig{}}
}

// ConnectedRow is one payload discovered during traversal, along with the
// matcher/confidence/importance of the edge that won it (spec §4.2 step 3).
type ConnectedRow struct {
	TransactionID       store.TransactionID
	ParentTransactionID store.TransactionID
	Matcher             string
	Confidence          int
	Importance          int
	Depth               int
	CreatedAt           time.Time
}

// Engine performs bounded BFS traversal of the attribute-keyed match graph
// stored in a store.Engine. Graph nodes are MatchNode rows; a hyper-edge
// connects every payload sharing the same node. Traversal flattens this:
// payload A is adjacent to payload B if any node has both as members.
//
// Grounded on apoc/neighbors.AtHop's hop-frontier-visited-set loop and
// apoc/paths's path-assembly conventions, generalized from an in-memory
// node-pointer graph to payload-number-keyed store lookups per hop.
type Engine struct {
	Store store.Engine
	pool  *rowPool
}

// New constructs a matching graph engine over st.
func New(st store.Engine) *Engine {
	return &Engine{Store: st, pool: newRowPool()}
}

// candidate tracks, for one not-yet-visited payload discovered during the
// current depth, the best edge that reaches it so far (spec §4.2 step c:
// highest confidence then importance, ties broken by matcher name).
type candidate struct {
	parent     store.PayloadNumber
	matcher    string
	confidence int
	importance int
}

func betterCandidate(a, b candidate) bool {
	if a.confidence != b.confidence {
		return a.confidence > b.confidence
	}
	if a.importance != b.importance {
		return a.importance > b.importance
	}
	return a.matcher < b.matcher
}

// FindConnected performs the bounded BFS described in spec §4.2 and
// returns rows ordered by confidence DESC, importance DESC, depth ASC,
// transaction_id ASC. The root is excluded from the result. Given
// identical inputs and identical store contents, the result is
// byte-identical (spec §4.2 "Determinism").
func (e *Engine) FindConnected(ctx context.Context, root store.PayloadNumber, opts Options) ([]ConnectedRow, error) {
	opts = fillDefaults(opts)

	rootTxn, err := e.Store.LoadLatestTransaction(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("graph: load root %s: %w", root, err)
	}

	visited := map[store.PayloadNumber]int{root: 0} // payload -> depth discovered
	frontier := []store.PayloadNumber{root}

	type discovered struct {
		payload store.PayloadNumber
		depth   int
		cand    candidate
	}
	var rows []discovered

	for depth := 1; depth <= opts.MaxDepth; depth++ {
		if len(visited) >= opts.Limit {
			break
		}
		if len(frontier) == 0 {
			break
		}

		candidates := make(map[store.PayloadNumber]candidate)
		for _, p := range frontier {
			if err := e.collectCandidates(ctx, p, root, visited, opts, candidates); err != nil {
				return nil, err
			}
		}
		if len(candidates) == 0 {
			break
		}

		ordered := e.pool.get()
		for q := range candidates {
			ordered = append(ordered, q)
		}
		sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

		nextFrontier := e.pool.get()
		for _, q := range ordered {
			if len(visited) >= opts.Limit {
				break
			}
			visited[q] = depth
			rows = append(rows, discovered{payload: q, depth: depth, cand: candidates[q]})
			nextFrontier = append(nextFrontier, q)
		}
		e.pool.put(ordered)
		e.pool.put(frontier)
		frontier = nextFrontier
	}

	result := make([]ConnectedRow, 0, len(rows))
	for _, d := range rows {
		txn, err := e.Store.LoadLatestTransaction(ctx, d.payload)
		if err != nil {
			return nil, fmt.Errorf("graph: load discovered payload %s: %w", d.payload, err)
		}
		parentTxn, err := e.Store.LoadLatestTransaction(ctx, d.cand.parent)
		if err != nil {
			return nil, fmt.Errorf("graph: load parent payload %s: %w", d.cand.parent, err)
		}
		result = append(result, ConnectedRow{
			TransactionID:       txn.ID,
			ParentTransactionID: parentTxn.ID,
			Matcher:             d.cand.matcher,
			Confidence:          d.cand.confidence,
			Importance:          d.cand.importance,
			Depth:               d.depth,
			CreatedAt:           txn.CreatedAt,
		})
	}
	_ = rootTxn

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Confidence != result[j].Confidence {
			return result[i].Confidence > result[j].Confidence
		}
		if result[i].Importance != result[j].Importance {
			return result[i].Importance > result[j].Importance
		}
		if result[i].Depth != result[j].Depth {
			return result[i].Depth < result[j].Depth
		}
		return result[i].TransactionID < result[j].TransactionID
	})

	return result, nil
}

// FindDirect returns only depth-1 rows, used by feature extraction when
// graph depth is not needed (spec §4.2 "Direct-connection variant").
func (e *Engine) FindDirect(ctx context.Context, root store.PayloadNumber, opts Options) ([]ConnectedRow, error) {
	opts = fillDefaults(opts)
	opts.MaxDepth = 1
	return e.FindConnected(ctx, root, opts)
}

// collectCandidates finds every payload adjacent to p through a node
// passing opts.MinConfidence and opts.Filter, not yet visited, and not the
// root (spec §4.2 step a/b), folding each into candidates by keeping the
// best edge per payload (step c).
func (e *Engine) collectCandidates(ctx context.Context, p, root store.PayloadNumber, visited map[store.PayloadNumber]int, opts Options, candidates map[store.PayloadNumber]candidate) error {
	edgesP, err := e.Store.EdgesForPayload(ctx, p)
	if err != nil {
		return fmt.Errorf("graph: edges for %s: %w", p, err)
	}

	for _, edgeP := range edgesP {
		node, err := e.Store.LoadNode(ctx, edgeP.NodeID)
		if err != nil {
			return fmt.Errorf("graph: load node %d: %w", edgeP.NodeID, err)
		}
		if node.Confidence < opts.MinConfidence {
			continue
		}

		others, err := e.Store.PayloadsForNode(ctx, edgeP.NodeID)
		if err != nil {
			return fmt.Errorf("graph: payloads for node %d: %w", edgeP.NodeID, err)
		}

		for _, edgeQ := range others {
			q := edgeQ.PayloadNumber
			if q == p || q == root {
				continue
			}
			if _, seen := visited[q]; seen {
				continue
			}
			if !opts.Filter.passes(node.Matcher, edgeP.Context, edgeQ.Context) {
				continue
			}

			cand := candidate{parent: p, matcher: node.Matcher, confidence: node.Confidence, importance: node.Importance}
			if existing, ok := candidates[q]; !ok || betterCandidate(cand, existing) {
				candidates[q] = cand
			}
		}
	}
	return nil
}

func fillDefaults(opts Options) Options {
	d := DefaultOptions()
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = d.MaxDepth
	}
	if opts.Limit <= 0 {
		opts.Limit = d.Limit
	}
	if opts.Filter == nil {
		opts.Filter = d.Filter
	}
	return opts
}
