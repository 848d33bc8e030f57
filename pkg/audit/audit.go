// Package audit provides an append-only processing-fault log: the record
// of every job that hit an ExtractorError or ScorerError fault and was
// marked finished-but-flagged rather than retried forever, and of every
// SchemaMismatch that sent a transaction back through reprocessing
// (spec.md §7).
//
// Trimmed and retargeted from the teacher's GDPR/HIPAA/SOC2 compliance
// logger: the append-only-JSON-lines file, sequence-numbered event ids,
// and Reader query shape survive; the auth/data-access/erasure event
// vocabulary and GenerateComplianceReport (none of which has a counterpart
// in this spec) do not.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/orneryd/fraudgraph/pkg/store"
)

// EventType categorizes a processing-fault audit event.
type EventType string

const (
	// FaultExtractor: ExtractMatchingFields/ExtractSimpleFeatures/
	// ExtractGraphFeatures returned an error (spec.md §7).
	FaultExtractor EventType = "FAULT_EXTRACTOR"

	// FaultScorer: Scorer.Score returned an error (spec.md §7).
	FaultScorer EventType = "FAULT_SCORER"

	// FaultSchemaMismatch: stored feature schema major version did not
	// match the running extractor's; the transaction was reprocessed
	// end-to-end (spec.md §7).
	FaultSchemaMismatch EventType = "FAULT_SCHEMA_MISMATCH"
)

// Event is one immutable processing-fault record.
type Event struct {
	ID            string              `json:"id"`
	Timestamp     time.Time           `json:"timestamp"`
	Type          EventType           `json:"type"`
	TransactionID store.TransactionID `json:"transaction_id"`
	PayloadNumber store.PayloadNumber `json:"payload_number"`
	Queue         store.QueueName     `json:"queue"`
	Reason        string              `json:"reason,omitempty"`
	Metadata      map[string]string   `json:"metadata,omitempty"`
}

// Config configures the fault log.
type Config struct {
	// Enabled controls whether fault logging is active. A disabled
	// Logger discards every event without touching the filesystem.
	Enabled bool

	// LogPath is the append-only log file path.
	LogPath string

	// SyncWrites forces fsync after each write.
	SyncWrites bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{Enabled: true, LogPath: "./data/fault.log", SyncWrites: false}
}

// Logger appends ProcessingFault events to an immutable log file.
type Logger struct {
	mu       sync.Mutex
	writer   io.Writer
	file     *os.File
	config   Config
	sequence uint64
	closed   bool
}

// NewLogger opens (creating if needed) the fault log at config.LogPath.
// A disabled config returns a no-op logger.
func NewLogger(config Config) (*Logger, error) {
	if !config.Enabled {
		return &Logger{config: config}, nil
	}

	dir := filepath.Dir(config.LogPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("audit: creating log directory: %w", err)
	}

	file, err := os.OpenFile(config.LogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
	if err != nil {
		return nil, fmt.Errorf("audit: opening log file: %w", err)
	}

	return &Logger{writer: file, file: file, config: config}, nil
}

// NewLoggerWithWriter creates a logger over an arbitrary writer, for tests.
func NewLoggerWithWriter(writer io.Writer, config Config) *Logger {
	return &Logger{writer: writer, config: config}
}

// Log appends event to the fault log. Timestamp and ID are filled in if
// zero/empty.
func (l *Logger) Log(event Event) error {
	if !l.config.Enabled {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return fmt.Errorf("audit: logger is closed")
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.ID == "" {
		l.sequence++
		event.ID = fmt.Sprintf("fault-%d-%d", event.Timestamp.UnixNano(), l.sequence)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: marshal event: %w", err)
	}

	if _, err := l.writer.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("audit: write event: %w", err)
	}

	if l.config.SyncWrites && l.file != nil {
		if err := l.file.Sync(); err != nil {
			return fmt.Errorf("audit: sync log: %w", err)
		}
	}

	return nil
}

// Close closes the underlying log file, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Query filters Reader results.
type Query struct {
	StartTime     time.Time
	EndTime       time.Time
	Types         []EventType
	TransactionID store.TransactionID
	Limit         int
}

// Reader reads events back out of a fault log file for operator review.
type Reader struct {
	path string
}

// NewReader opens a Reader over the fault log at path.
func NewReader(path string) *Reader {
	return &Reader{path: path}
}

// Query scans the fault log applying q's filters. Malformed lines are
// skipped rather than failing the whole scan, since an append-only log
// that's being written concurrently can have a partially flushed tail
// line.
func (r *Reader) Query(q Query) ([]Event, error) {
	file, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("audit: opening log: %w", err)
	}
	defer file.Close()

	var events []Event
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var event Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			continue
		}

		if !q.StartTime.IsZero() && event.Timestamp.Before(q.StartTime) {
			continue
		}
		if !q.EndTime.IsZero() && event.Timestamp.After(q.EndTime) {
			continue
		}
		if len(q.Types) > 0 && !containsType(q.Types, event.Type) {
			continue
		}
		if q.TransactionID != 0 && event.TransactionID != q.TransactionID {
			continue
		}

		events = append(events, event)
		if q.Limit > 0 && len(events) >= q.Limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("audit: reading log: %w", err)
	}

	return events, nil
}

func containsType(types []EventType, t EventType) bool {
	for _, et := range types {
		if et == t {
			return true
		}
	}
	return false
}
