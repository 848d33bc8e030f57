package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

// MemoryEngine is an in-process, map-backed Engine implementation. It is
// the default fixture for unit tests (no BadgerDB files required) and is
// not intended for production use: nothing here survives a restart.
//
// Grounded on the teacher's MemoryEngine: one map per row kind, a single
// sync.RWMutex guarding all of them, and monotonically increasing id
// counters handed out under the same lock.
type MemoryEngine struct {
	mu sync.RWMutex

	transactions   map[TransactionID]*Transaction
	latestByPayload map[PayloadNumber]TransactionID
	versionsByPayload map[PayloadNumber]int

	nodes      map[NodeID]*MatchNode
	nodeByKey  map[string]NodeID // "matcher\x00value" -> NodeID
	edges      map[NodeID]map[PayloadNumber]*MatchEdge

	features map[TransactionID]map[int]*Features

	scoringEvents map[TransactionID][]*ScoringEvent

	queues map[QueueName]map[JobID]*QueueRow
	queueOrder map[QueueName][]JobID
	inFlight map[QueueName]map[JobID]struct{}

	nextTxnID   int64
	nextNodeID  int64
	nextJobID   map[QueueName]int64
	nextEventID int64

	closed bool
}

// NewMemoryEngine creates an empty in-memory engine.
func NewMemoryEngine() *MemoryEngine {
	return &MemoryEngine{
		transactions:      make(map[TransactionID]*Transaction),
		latestByPayload:   make(map[PayloadNumber]TransactionID),
		versionsByPayload: make(map[PayloadNumber]int),
		nodes:             make(map[NodeID]*MatchNode),
		nodeByKey:         make(map[string]NodeID),
		edges:             make(map[NodeID]map[PayloadNumber]*MatchEdge),
		features:          make(map[TransactionID]map[int]*Features),
		scoringEvents:     make(map[TransactionID][]*ScoringEvent),
		queues: map[QueueName]map[JobID]*QueueRow{
			QueueProcessing:    make(map[JobID]*QueueRow),
			QueueRecalculation: make(map[JobID]*QueueRow),
		},
		queueOrder: map[QueueName][]JobID{
			QueueProcessing:    nil,
			QueueRecalculation: nil,
		},
		nextJobID: map[QueueName]int64{
			QueueProcessing:    0,
			QueueRecalculation: 0,
		},
	}
}

func memNodeKey(matcher, value string) string {
	return matcher + "\x00" + value
}

func (m *MemoryEngine) InsertTransaction(_ context.Context, payloadNumber PayloadNumber, payload json.RawMessage) (TransactionID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}

	version := m.versionsByPayload[payloadNumber] + 1
	m.versionsByPayload[payloadNumber] = version

	if prevID, ok := m.latestByPayload[payloadNumber]; ok {
		m.transactions[prevID].IsLatest = false
	}

	m.nextTxnID++
	id := TransactionID(m.nextTxnID)
	m.transactions[id] = &Transaction{
		ID:                 id,
		PayloadNumber:      payloadNumber,
		TransactionVersion: version,
		IsLatest:           true,
		Payload:            payload,
		ProcessingComplete: false,
		CreatedAt:          time.Now(),
	}
	m.latestByPayload[payloadNumber] = id
	return id, nil
}

func (m *MemoryEngine) LoadTransaction(_ context.Context, id TransactionID) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	txn, ok := m.transactions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *txn
	return &cp, nil
}

func (m *MemoryEngine) LoadLatestTransaction(_ context.Context, payloadNumber PayloadNumber) (*Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.latestByPayload[payloadNumber]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.transactions[id]
	return &cp, nil
}

func (m *MemoryEngine) UpsertMatchNode(_ context.Context, matcher, value string, confidence, importance int) (NodeID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memNodeKey(matcher, value)
	if id, ok := m.nodeByKey[key]; ok {
		return id, nil
	}
	m.nextNodeID++
	id := NodeID(m.nextNodeID)
	m.nodes[id] = &MatchNode{ID: id, Matcher: matcher, Value: value, Confidence: confidence, Importance: importance}
	m.nodeByKey[key] = id
	m.edges[id] = make(map[PayloadNumber]*MatchEdge)
	return id, nil
}

func (m *MemoryEngine) LoadNode(_ context.Context, nodeID NodeID) (*MatchNode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.nodes[nodeID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (m *MemoryEngine) UpsertMatchEdge(_ context.Context, nodeID NodeID, payloadNumber PayloadNumber, edgeCtx EdgeContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byNode, ok := m.edges[nodeID]
	if !ok {
		return fmt.Errorf("%w: node %d", ErrNotFound, nodeID)
	}
	existing, has := byNode[payloadNumber]
	if !has {
		byNode[payloadNumber] = &MatchEdge{NodeID: nodeID, PayloadNumber: payloadNumber, Context: edgeCtx, CreatedAt: time.Now()}
		return nil
	}
	if overwriteEdgeContext(&existing.Context, edgeCtx) {
		log.Printf("[store] overwrote conflicting edge context for node=%d payload=%s", nodeID, payloadNumber)
	}
	return nil
}

// overwriteEdgeContext merges src into dst, overwriting any dst field for
// which src supplies a non-nil value. Returns true if an already-non-nil
// dst field was replaced with a different non-nil value (a conflicting
// overwrite worth surfacing to operators per spec §9 Open Question #3).
func overwriteEdgeContext(dst *EdgeContext, src EdgeContext) bool {
	conflict := false
	assignTime := func(d **time.Time, s *time.Time) {
		if s == nil {
			return
		}
		if *d != nil && !(*d).Equal(*s) {
			conflict = true
		}
		*d = s
	}
	assignFloat := func(d **float64, s *float64) {
		if s == nil {
			return
		}
		if *d != nil && **d != *s {
			conflict = true
		}
		*d = s
	}
	assignTime(&dst.DatetimeAlpha, src.DatetimeAlpha)
	assignTime(&dst.DatetimeBeta, src.DatetimeBeta)
	assignFloat(&dst.LongAlpha, src.LongAlpha)
	assignFloat(&dst.LatAlpha, src.LatAlpha)
	assignFloat(&dst.LongBeta, src.LongBeta)
	assignFloat(&dst.LatBeta, src.LatBeta)
	assignFloat(&dst.LongGamma, src.LongGamma)
	assignFloat(&dst.LatGamma, src.LatGamma)
	assignFloat(&dst.LongDelta, src.LongDelta)
	assignFloat(&dst.LatDelta, src.LatDelta)
	return conflict
}

func (m *MemoryEngine) EdgesForPayload(_ context.Context, payloadNumber PayloadNumber) ([]MatchEdge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []MatchEdge
	for _, byNode := range m.edges {
		if e, ok := byNode[payloadNumber]; ok {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out, nil
}

func (m *MemoryEngine) PayloadsForNode(_ context.Context, nodeID NodeID) ([]MatchEdge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byNode, ok := m.edges[nodeID]
	if !ok {
		return nil, nil
	}
	out := make([]MatchEdge, 0, len(byNode))
	for _, e := range byNode {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PayloadNumber < out[j].PayloadNumber })
	return out, nil
}

func (m *MemoryEngine) WriteFeatures(_ context.Context, id TransactionID, version int, simple, graph json.RawMessage, schema SchemaVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byVersion, ok := m.features[id]
	if !ok {
		byVersion = make(map[int]*Features)
		m.features[id] = byVersion
	}
	existing, has := byVersion[version]
	if !has {
		byVersion[version] = &Features{
			TransactionID: id, TransactionVersion: version,
			Schema: schema, SimpleFeatures: simple, GraphFeatures: graph,
			CreatedAt: time.Now(),
		}
		return nil
	}
	existing.Schema = schema
	existing.GraphFeatures = graph
	if simple != nil {
		existing.SimpleFeatures = simple
	}
	return nil
}

func (m *MemoryEngine) LoadFeatures(_ context.Context, id TransactionID, version int) (*Features, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byVersion, ok := m.features[id]
	if !ok {
		return nil, ErrNotFound
	}
	f, ok := byVersion[version]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (m *MemoryEngine) WriteScore(_ context.Context, id TransactionID, channelID string, total int64, ruleIDs []string) (*ScoringEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextEventID++
	ev := &ScoringEvent{
		ID: m.nextEventID, TransactionID: id, ChannelID: channelID,
		TotalScore: total, TriggeredRules: append([]string(nil), ruleIDs...),
		CreatedAt: time.Now(),
	}
	m.scoringEvents[id] = append(m.scoringEvents[id], ev)
	return ev, nil
}

func (m *MemoryEngine) MarkProcessed(_ context.Context, id TransactionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.transactions[id]
	if !ok {
		return ErrNotFound
	}
	txn.ProcessingComplete = true
	now := time.Now()
	txn.LastScoringDate = &now
	return nil
}

func (m *MemoryEngine) TouchScoringDate(_ context.Context, id TransactionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.transactions[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	txn.LastScoringDate = &now
	return nil
}

func (m *MemoryEngine) Enqueue(_ context.Context, queue QueueName, processableID TransactionID) (JobID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextJobID[queue]++
	id := JobID(m.nextJobID[queue])
	m.queues[queue][id] = &QueueRow{ID: id, ProcessableID: processableID, CreatedAt: time.Now()}
	m.queueOrder[queue] = append(m.queueOrder[queue], id)
	return id, nil
}

func (m *MemoryEngine) Claim(_ context.Context, queue QueueName) (*QueueRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.queueOrder[queue] {
		row := m.queues[queue][id]
		if row != nil && row.ProcessedAt == nil {
			// Claim records the row in a dedicated in-flight set, leaving
			// ProcessedAt nil; Finish sets ProcessedAt. This keeps
			// "claimed, in flight" distinct from "finished".
			if _, claimed := m.claimed(queue)[id]; claimed {
				continue
			}
			m.markClaimed(queue, id)
			cp := *row
			return &cp, nil
		}
	}
	return nil, ErrQueueEmpty
}

// claimed/markClaimed track in-flight rows separately from ProcessedAt so
// Claim never hands out the same row twice while it is mid-flight, mirroring
// the "no two workers hold the same claimed row" invariant that SELECT ...
// FOR UPDATE SKIP LOCKED provides in the relational telling of this store.
func (m *MemoryEngine) claimed(queue QueueName) map[JobID]struct{} {
	if m.inFlight == nil {
		m.inFlight = make(map[QueueName]map[JobID]struct{})
	}
	s, ok := m.inFlight[queue]
	if !ok {
		s = make(map[JobID]struct{})
		m.inFlight[queue] = s
	}
	return s
}

func (m *MemoryEngine) markClaimed(queue QueueName, id JobID) {
	m.claimed(queue)[id] = struct{}{}
}

func (m *MemoryEngine) Finish(_ context.Context, queue QueueName, jobID JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.queues[queue][jobID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	row.ProcessedAt = &now
	delete(m.claimed(queue), jobID)
	return nil
}

func (m *MemoryEngine) Release(_ context.Context, queue QueueName, jobID JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.queues[queue][jobID]; !ok {
		return ErrNotFound
	}
	delete(m.claimed(queue), jobID)
	return nil
}

func (m *MemoryEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
