package client

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type flushRecorder struct {
	mu    sync.Mutex
	calls [][]int64
	err   error
}

func (r *flushRecorder) flush(_ context.Context, ids []int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, ids)
	return r.err
}

func (r *flushRecorder) snapshot() [][]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]int64(nil), r.calls...)
}

func TestReadBatcherDebounces(t *testing.T) {
	rec := &flushRecorder{}
	b := NewReadBatcher(rec.flush, 30*time.Millisecond, zaptest.NewLogger(t))

	b.Add(3, 1)
	b.Add(2, 3)
	b.Add()

	assert.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, [][]int64{{1, 2, 3}}, rec.snapshot())

	time.Sleep(60 * time.Millisecond)
	assert.Len(t, rec.snapshot(), 1, "nothing left to flush")
}

func TestReadBatcherFlushAndClose(t *testing.T) {
	rec := &flushRecorder{}
	b := NewReadBatcher(rec.flush, time.Hour, nil)

	require.NoError(t, b.Flush(context.Background()))
	assert.Empty(t, rec.snapshot())

	b.Add(5)
	require.NoError(t, b.Close(context.Background()))
	assert.Equal(t, [][]int64{{5}}, rec.snapshot())

	b.Add(6)
	require.NoError(t, b.Flush(context.Background()))
	assert.Len(t, rec.snapshot(), 1, "closed batcher ignores ids")
}

func TestReadBatcherReportsFailure(t *testing.T) {
	rec := &flushRecorder{err: errors.New("boom")}
	b := NewReadBatcher(rec.flush, time.Hour, zaptest.NewLogger(t))
	b.Add(1)
	assert.EqualError(t, b.Flush(context.Background()), "boom")
}
