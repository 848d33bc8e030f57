// Package store — BadgerEngine persists the core engine's data model on
// top of BadgerDB.
//
// Grounded on the teacher's pkg/storage/badger.go: single-byte key
// prefixes, one logical table per prefix, JSON-encoded values, and a
// badger.DB field wrapped by a thin Go API. Trimmed from the teacher's
// general labeled-property-graph engine (arbitrary node/edge properties,
// label indexes, vector indexes) down to the six row kinds this spec's
// data model names.
//
// Key layout:
//
//	0x01 + txnID(8 BE)                         -> Transaction JSON
//	0x02 + payloadNumber                       -> latest txnID (8 BE)
//	0x03 + payloadNumber                       -> version counter (4 BE)
//	0x04 + matcher + 0x00 + value               -> nodeID (8 BE)
//	0x05 + nodeID(8 BE)                         -> MatchNode JSON
//	0x06 + nodeID(8 BE) + payloadNumber          -> MatchEdge JSON
//	0x07 + payloadNumber + 0x00 + nodeID(8 BE)   -> MatchEdge JSON (mirror)
//	0x08 + txnID(8 BE) + version(4 BE)           -> Features JSON
//	0x09 + txnID(8 BE) + eventSeq(8 BE)          -> ScoringEvent JSON
//	0x0A + queue(1) + jobID(8 BE)                -> QueueRow JSON
//	0x0B + queue(1) + jobID(8 BE)                -> claim marker (empty)
package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"

	"github.com/dgraph-io/badger/v4"
)

const (
	prefixTransaction   = byte(0x01)
	prefixLatestPointer = byte(0x02)
	prefixVersionCount  = byte(0x03)
	prefixNodeByKey     = byte(0x04)
	prefixNode          = byte(0x05)
	prefixEdgeByNode     = byte(0x06)
	prefixEdgeByPayload  = byte(0x07)
	prefixFeatures      = byte(0x08)
	prefixScoringEvent  = byte(0x09)
	prefixQueueRow      = byte(0x0A)
	prefixQueueClaim    = byte(0x0B)
)

// BadgerOptions configures the persistent engine.
type BadgerOptions struct {
	// DataDir is the directory for storing data files. Required unless
	// InMemory is set.
	DataDir string

	// InMemory runs BadgerDB in memory-only mode. Data is not persisted;
	// useful for integration tests that still want real transaction
	// conflict semantics (unlike MemoryEngine).
	InMemory bool

	// SyncWrites forces fsync after each write. Slower, more durable.
	SyncWrites bool
}

// BadgerEngine is the production Engine implementation.
type BadgerEngine struct {
	db *badger.DB

	seqTxn   *badger.Sequence
	seqNode  *badger.Sequence
	seqEvent *badger.Sequence
	seqJob   map[QueueName]*badger.Sequence
}

// NewBadgerEngine opens (creating if absent) a BadgerDB-backed engine.
func NewBadgerEngine(opts BadgerOptions) (*BadgerEngine, error) {
	bopts := badger.DefaultOptions(opts.DataDir)
	bopts = bopts.WithInMemory(opts.InMemory).WithSyncWrites(opts.SyncWrites).WithLogger(nil)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("store: open badger: %w", err)
	}

	const bandwidth = 100
	seqTxn, err := db.GetSequence([]byte("seq:txn"), bandwidth)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: txn sequence: %w", err)
	}
	seqNode, err := db.GetSequence([]byte("seq:node"), bandwidth)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: node sequence: %w", err)
	}
	seqEvent, err := db.GetSequence([]byte("seq:event"), bandwidth)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: event sequence: %w", err)
	}
	seqJobProc, err := db.GetSequence([]byte("seq:job:processing"), bandwidth)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: processing job sequence: %w", err)
	}
	seqJobRecalc, err := db.GetSequence([]byte("seq:job:recalculation"), bandwidth)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: recalculation job sequence: %w", err)
	}

	return &BadgerEngine{
		db: db, seqTxn: seqTxn, seqNode: seqNode, seqEvent: seqEvent,
		seqJob: map[QueueName]*badger.Sequence{
			QueueProcessing:    seqJobProc,
			QueueRecalculation: seqJobRecalc,
		},
	}, nil
}

func (b *BadgerEngine) Close() error {
	for _, s := range b.seqJob {
		_ = s.Release()
	}
	_ = b.seqTxn.Release()
	_ = b.seqNode.Release()
	_ = b.seqEvent.Release()
	return b.db.Close()
}

func be64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func be32(v uint32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, v)
	return buf
}

func txnKey(id TransactionID) []byte {
	return append([]byte{prefixTransaction}, be64(uint64(id))...)
}

func latestKey(p PayloadNumber) []byte {
	return append([]byte{prefixLatestPointer}, []byte(p)...)
}

func versionCountKey(p PayloadNumber) []byte {
	return append([]byte{prefixVersionCount}, []byte(p)...)
}

func nodeByKeyKey(matcher, value string) []byte {
	k := append([]byte{prefixNodeByKey}, []byte(matcher)...)
	k = append(k, 0x00)
	return append(k, []byte(value)...)
}

func nodeKey(id NodeID) []byte {
	return append([]byte{prefixNode}, be64(uint64(id))...)
}

func edgeByNodeKey(nodeID NodeID, p PayloadNumber) []byte {
	k := append([]byte{prefixEdgeByNode}, be64(uint64(nodeID))...)
	return append(k, []byte(p)...)
}

func edgeByNodePrefix(nodeID NodeID) []byte {
	return append([]byte{prefixEdgeByNode}, be64(uint64(nodeID))...)
}

func edgeByPayloadKey(p PayloadNumber, nodeID NodeID) []byte {
	k := append([]byte{prefixEdgeByPayload}, []byte(p)...)
	k = append(k, 0x00)
	return append(k, be64(uint64(nodeID))...)
}

func edgeByPayloadPrefix(p PayloadNumber) []byte {
	k := append([]byte{prefixEdgeByPayload}, []byte(p)...)
	return append(k, 0x00)
}

func featuresKey(id TransactionID, version int) []byte {
	k := append([]byte{prefixFeatures}, be64(uint64(id))...)
	return append(k, be32(uint32(version))...)
}

func scoringEventKey(id TransactionID, seq uint64) []byte {
	k := append([]byte{prefixScoringEvent}, be64(uint64(id))...)
	return append(k, be64(seq)...)
}

func scoringEventPrefix(id TransactionID) []byte {
	return append([]byte{prefixScoringEvent}, be64(uint64(id))...)
}

func queueCode(q QueueName) byte {
	if q == QueueProcessing {
		return 0x01
	}
	return 0x02
}

func queueRowKey(q QueueName, id JobID) []byte {
	return append([]byte{prefixQueueRow, queueCode(q)}, be64(uint64(id))...)
}

func queueRowPrefix(q QueueName) []byte {
	return []byte{prefixQueueRow, queueCode(q)}
}

func queueClaimKey(q QueueName, id JobID) []byte {
	return append([]byte{prefixQueueClaim, queueCode(q)}, be64(uint64(id))...)
}

func (b *BadgerEngine) InsertTransaction(_ context.Context, payloadNumber PayloadNumber, payload json.RawMessage) (TransactionID, error) {
	var id TransactionID
	err := b.db.Update(func(txn *badger.Txn) error {
		vcKey := versionCountKey(payloadNumber)
		version := uint32(1)
		item, err := txn.Get(vcKey)
		switch err {
		case nil:
			val, cerr := item.ValueCopy(nil)
			if cerr != nil {
				return cerr
			}
			version = binary.BigEndian.Uint32(val) + 1
		case badger.ErrKeyNotFound:
			// first version
		default:
			return err
		}

		seq, err := b.seqTxn.Next()
		if err != nil {
			return err
		}
		newID := TransactionID(seq + 1)

		if lk, lerr := txn.Get(latestKey(payloadNumber)); lerr == nil {
			val, cerr := lk.ValueCopy(nil)
			if cerr != nil {
				return cerr
			}
			prevID := TransactionID(binary.BigEndian.Uint64(val))
			prevItem, perr := txn.Get(txnKey(prevID))
			if perr != nil {
				return perr
			}
			prevBytes, perr := prevItem.ValueCopy(nil)
			if perr != nil {
				return perr
			}
			var prev Transaction
			if jerr := json.Unmarshal(prevBytes, &prev); jerr != nil {
				return jerr
			}
			prev.IsLatest = false
			data, jerr := json.Marshal(prev)
			if jerr != nil {
				return jerr
			}
			if serr := txn.Set(txnKey(prevID), data); serr != nil {
				return serr
			}
		} else if lerr != badger.ErrKeyNotFound {
			return lerr
		}

		t := Transaction{
			ID: newID, PayloadNumber: payloadNumber, TransactionVersion: int(version),
			IsLatest: true, Payload: payload, ProcessingComplete: false, CreatedAt: nowUTC(),
		}
		data, err := json.Marshal(t)
		if err != nil {
			return err
		}
		if err := txn.Set(txnKey(newID), data); err != nil {
			return err
		}
		if err := txn.Set(vcKey, be32(version)); err != nil {
			return err
		}
		if err := txn.Set(latestKey(payloadNumber), be64(uint64(newID))); err != nil {
			return err
		}
		id = newID
		return nil
	})
	if err == badger.ErrConflict {
		return 0, fmt.Errorf("%w: concurrent insert for payload %s", ErrConflict, payloadNumber)
	}
	return id, err
}

func (b *BadgerEngine) loadTransactionTxn(txn *badger.Txn, id TransactionID) (*Transaction, error) {
	item, err := txn.Get(txnKey(id))
	if err == badger.ErrKeyNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	data, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	var t Transaction
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (b *BadgerEngine) LoadTransaction(_ context.Context, id TransactionID) (*Transaction, error) {
	var t *Transaction
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		t, err = b.loadTransactionTxn(txn, id)
		return err
	})
	return t, err
}

func (b *BadgerEngine) LoadLatestTransaction(_ context.Context, payloadNumber PayloadNumber) (*Transaction, error) {
	var t *Transaction
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(latestKey(payloadNumber))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		id := TransactionID(binary.BigEndian.Uint64(val))
		t, err = b.loadTransactionTxn(txn, id)
		return err
	})
	return t, err
}

func (b *BadgerEngine) UpsertMatchNode(_ context.Context, matcher, value string, confidence, importance int) (NodeID, error) {
	var id NodeID
	err := b.db.Update(func(txn *badger.Txn) error {
		key := nodeByKeyKey(matcher, value)
		if item, err := txn.Get(key); err == nil {
			val, verr := item.ValueCopy(nil)
			if verr != nil {
				return verr
			}
			id = NodeID(binary.BigEndian.Uint64(val))
			return nil
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		seq, err := b.seqNode.Next()
		if err != nil {
			return err
		}
		newID := NodeID(seq + 1)
		n := MatchNode{ID: newID, Matcher: matcher, Value: value, Confidence: confidence, Importance: importance}
		data, err := json.Marshal(n)
		if err != nil {
			return err
		}
		if err := txn.Set(nodeKey(newID), data); err != nil {
			return err
		}
		if err := txn.Set(key, be64(uint64(newID))); err != nil {
			return err
		}
		id = newID
		return nil
	})
	if err == badger.ErrConflict {
		return 0, fmt.Errorf("%w: concurrent node creation for %s/%s", ErrConflict, matcher, value)
	}
	return id, err
}

func (b *BadgerEngine) LoadNode(_ context.Context, nodeID NodeID) (*MatchNode, error) {
	var n MatchNode
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(nodeKey(nodeID))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		data, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, &n)
	})
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (b *BadgerEngine) UpsertMatchEdge(_ context.Context, nodeID NodeID, payloadNumber PayloadNumber, edgeCtx EdgeContext) error {
	return b.db.Update(func(txn *badger.Txn) error {
		key := edgeByNodeKey(nodeID, payloadNumber)
		var edge MatchEdge
		if item, err := txn.Get(key); err == nil {
			data, verr := item.ValueCopy(nil)
			if verr != nil {
				return verr
			}
			if jerr := json.Unmarshal(data, &edge); jerr != nil {
				return jerr
			}
			if overwriteEdgeContext(&edge.Context, edgeCtx) {
				log.Printf("[store] overwrote conflicting edge context for node=%d payload=%s", nodeID, payloadNumber)
			}
		} else if err == badger.ErrKeyNotFound {
			edge = MatchEdge{NodeID: nodeID, PayloadNumber: payloadNumber, Context: edgeCtx, CreatedAt: nowUTC()}
		} else {
			return err
		}

		data, err := json.Marshal(edge)
		if err != nil {
			return err
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set(edgeByPayloadKey(payloadNumber, nodeID), data)
	})
}

func (b *BadgerEngine) EdgesForPayload(_ context.Context, payloadNumber PayloadNumber) ([]MatchEdge, error) {
	var out []MatchEdge
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := edgeByPayloadPrefix(payloadNumber)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			data, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var e MatchEdge
			if err := json.Unmarshal(data, &e); err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

func (b *BadgerEngine) PayloadsForNode(_ context.Context, nodeID NodeID) ([]MatchEdge, error) {
	var out []MatchEdge
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := edgeByNodePrefix(nodeID)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			data, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var e MatchEdge
			if err := json.Unmarshal(data, &e); err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

func (b *BadgerEngine) WriteFeatures(_ context.Context, id TransactionID, version int, simple, graph json.RawMessage, schema SchemaVersion) error {
	return b.db.Update(func(txn *badger.Txn) error {
		key := featuresKey(id, version)
		f := Features{TransactionID: id, TransactionVersion: version, Schema: schema, GraphFeatures: graph, CreatedAt: nowUTC()}
		if item, err := txn.Get(key); err == nil {
			data, verr := item.ValueCopy(nil)
			if verr != nil {
				return verr
			}
			var existing Features
			if jerr := json.Unmarshal(data, &existing); jerr != nil {
				return jerr
			}
			f.SimpleFeatures = existing.SimpleFeatures
			f.CreatedAt = existing.CreatedAt
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		if simple != nil {
			f.SimpleFeatures = simple
		}
		data, err := json.Marshal(f)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
}

func (b *BadgerEngine) LoadFeatures(_ context.Context, id TransactionID, version int) (*Features, error) {
	var f Features
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(featuresKey(id, version))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		data, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return json.Unmarshal(data, &f)
	})
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (b *BadgerEngine) WriteScore(_ context.Context, id TransactionID, channelID string, total int64, ruleIDs []string) (*ScoringEvent, error) {
	var ev ScoringEvent
	err := b.db.Update(func(txn *badger.Txn) error {
		seq, err := b.seqEvent.Next()
		if err != nil {
			return err
		}
		ev = ScoringEvent{
			ID: int64(seq + 1), TransactionID: id, ChannelID: channelID,
			TotalScore: total, TriggeredRules: ruleIDs, CreatedAt: nowUTC(),
		}
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		return txn.Set(scoringEventKey(id, seq+1), data)
	})
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (b *BadgerEngine) MarkProcessed(_ context.Context, id TransactionID) error {
	return b.db.Update(func(txn *badger.Txn) error {
		t, err := b.loadTransactionTxn(txn, id)
		if err != nil {
			return err
		}
		t.ProcessingComplete = true
		now := nowUTC()
		t.LastScoringDate = &now
		data, err := json.Marshal(t)
		if err != nil {
			return err
		}
		return txn.Set(txnKey(id), data)
	})
}

func (b *BadgerEngine) TouchScoringDate(_ context.Context, id TransactionID) error {
	return b.db.Update(func(txn *badger.Txn) error {
		t, err := b.loadTransactionTxn(txn, id)
		if err != nil {
			return err
		}
		now := nowUTC()
		t.LastScoringDate = &now
		data, err := json.Marshal(t)
		if err != nil {
			return err
		}
		return txn.Set(txnKey(id), data)
	})
}

func (b *BadgerEngine) Enqueue(_ context.Context, queue QueueName, processableID TransactionID) (JobID, error) {
	var id JobID
	err := b.db.Update(func(txn *badger.Txn) error {
		seq, err := b.seqJob[queue].Next()
		if err != nil {
			return err
		}
		newID := JobID(seq + 1)
		row := QueueRow{ID: newID, ProcessableID: processableID, CreatedAt: nowUTC()}
		data, err := json.Marshal(row)
		if err != nil {
			return err
		}
		if err := txn.Set(queueRowKey(queue, newID), data); err != nil {
			return err
		}
		id = newID
		return nil
	})
	return id, err
}

// Claim scans the queue in id order (lexicographic == numeric for
// fixed-width big-endian keys) for the first row that is neither finished
// nor already claimed, and sets a claim marker for it inside the same
// Badger transaction. A concurrent Claim racing the same row fails the
// transaction with badger.ErrConflict on commit — Badger's optimistic
// conflict detection standing in for SELECT ... FOR UPDATE SKIP LOCKED
// (spec §6). A small bounded retry against the *next* candidate absorbs
// that race rather than surfacing it to the caller.
func (b *BadgerEngine) Claim(ctx context.Context, queue QueueName) (*QueueRow, error) {
	const maxAttempts = 8
	for attempt := 0; attempt < maxAttempts; attempt++ {
		row, err := b.claimOnce(queue)
		if err == nil {
			return row, nil
		}
		if err == badger.ErrConflict {
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("%w: exhausted claim attempts on %s", ErrConflict, queue)
}

func (b *BadgerEngine) claimOnce(queue QueueName) (*QueueRow, error) {
	var claimed *QueueRow
	err := b.db.Update(func(txn *badger.Txn) error {
		prefix := queueRowPrefix(queue)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			data, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var row QueueRow
			if err := json.Unmarshal(data, &row); err != nil {
				return err
			}
			if row.ProcessedAt != nil {
				continue
			}
			markerKey := queueClaimKey(queue, row.ID)
			if _, err := txn.Get(markerKey); err == nil {
				continue // already claimed by another in-flight job
			} else if err != badger.ErrKeyNotFound {
				return err
			}
			if err := txn.Set(markerKey, []byte{}); err != nil {
				return err
			}
			cp := row
			claimed = &cp
			return nil
		}
		return ErrQueueEmpty
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (b *BadgerEngine) Finish(_ context.Context, queue QueueName, jobID JobID) error {
	return b.db.Update(func(txn *badger.Txn) error {
		key := queueRowKey(queue, jobID)
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		data, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		var row QueueRow
		if err := json.Unmarshal(data, &row); err != nil {
			return err
		}
		now := nowUTC()
		row.ProcessedAt = &now
		data, err = json.Marshal(row)
		if err != nil {
			return err
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Delete(queueClaimKey(queue, jobID))
	})
}

func (b *BadgerEngine) Release(_ context.Context, queue QueueName, jobID JobID) error {
	return b.db.Update(func(txn *badger.Txn) error {
		key := queueRowKey(queue, jobID)
		if _, err := txn.Get(key); err == badger.ErrKeyNotFound {
			return ErrNotFound
		} else if err != nil {
			return err
		}
		return txn.Delete(queueClaimKey(queue, jobID))
	})
}
