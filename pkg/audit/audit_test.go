package audit

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/fraudgraph/pkg/store"
)

func TestLoggerAssignsIDAndTimestamp(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, Config{Enabled: true})

	require.NoError(t, logger.Log(Event{Type: FaultExtractor, TransactionID: 42}))

	var got Event
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.NotEmpty(t, got.ID)
	assert.False(t, got.Timestamp.IsZero())
	assert.Equal(t, FaultExtractor, got.Type)
	assert.Equal(t, store.TransactionID(42), got.TransactionID)
}

func TestDisabledLoggerDiscardsEvents(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, Config{Enabled: false})

	require.NoError(t, logger.Log(Event{Type: FaultScorer}))
	assert.Empty(t, buf.Bytes())
}

func TestLogAfterCloseErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, Config{Enabled: true})
	require.NoError(t, logger.Close())

	err := logger.Log(Event{Type: FaultSchemaMismatch})
	assert.Error(t, err)
}
