package processor

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/fraudgraph/pkg/store"
)

func TestWorker_ClaimsAndFinishesSuccessfulJob(t *testing.T) {
	st := store.NewMemoryEngine()
	ctx := context.Background()

	id, err := st.InsertTransaction(ctx, "PAY-W1", json.RawMessage(`{}`))
	require.NoError(t, err)
	_, err = st.Enqueue(ctx, store.QueueProcessing, id)
	require.NoError(t, err)

	var processed int32
	run := func(context.Context, store.TransactionID) error {
		atomic.AddInt32(&processed, 1)
		return nil
	}

	w := newWorker(store.QueueProcessing, st, run, 5*time.Millisecond, time.Second)
	runCtx, cancel := context.WithCancel(context.Background())
	w.Start(runCtx)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&processed) == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	w.Stop()

	_, err = st.Claim(ctx, store.QueueProcessing)
	assert.ErrorIs(t, err, store.ErrQueueEmpty, "a finished row must not be reclaimable")
}

func TestWorker_ReleasesRowOnJobError(t *testing.T) {
	st := store.NewMemoryEngine()
	ctx := context.Background()

	id, err := st.InsertTransaction(ctx, "PAY-W2", json.RawMessage(`{}`))
	require.NoError(t, err)
	_, err = st.Enqueue(ctx, store.QueueProcessing, id)
	require.NoError(t, err)

	var attempts int32
	run := func(context.Context, store.TransactionID) error {
		if atomic.AddInt32(&attempts, 1) == 1 {
			return errors.New("transient failure")
		}
		return nil
	}

	w := newWorker(store.QueueProcessing, st, run, 5*time.Millisecond, time.Second)
	runCtx, cancel := context.WithCancel(context.Background())
	w.Start(runCtx)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&attempts) >= 2 }, time.Second, 5*time.Millisecond)

	cancel()
	w.Stop()
}

func TestWorkerPool_StartAndStop(t *testing.T) {
	st := store.NewMemoryEngine()
	var calls int32
	run := func(context.Context, store.TransactionID) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}

	pool := &WorkerPool{workers: []*Worker{
		newWorker(store.QueueProcessing, st, run, 5*time.Millisecond, time.Second),
		newWorker(store.QueueRecalculation, st, run, 5*time.Millisecond, time.Second),
	}}

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	cancel()
	pool.Stop()
}
