package client

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultReadDelay is how long the batcher waits for more ids after the
// last Add before it flushes.
const DefaultReadDelay = 500 * time.Millisecond

// ReadBatcher debounces read receipts: ids added while the user keeps
// scrolling are sent in one call once things settle.
type ReadBatcher struct {
	flush func(ctx context.Context, ids []int64) error
	delay time.Duration
	log   *zap.Logger

	mu      sync.Mutex
	pending map[int64]struct{}
	timer   *time.Timer
	closed  bool
}

func NewReadBatcher(flush func(ctx context.Context, ids []int64) error, delay time.Duration, log *zap.Logger) *ReadBatcher {
	if delay <= 0 {
		delay = DefaultReadDelay
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ReadBatcher{flush: flush, delay: delay, log: log, pending: make(map[int64]struct{})}
}

// Add queues ids and restarts the debounce timer.
func (b *ReadBatcher) Add(ids ...int64) {
	if len(ids) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for _, id := range ids {
		b.pending[id] = struct{}{}
	}
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.delay, func() { b.Flush(context.Background()) })
}

func (b *ReadBatcher) take() []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.pending) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(b.pending))
	for id := range b.pending {
		ids = append(ids, id)
	}
	b.pending = make(map[int64]struct{})
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Flush sends whatever is queued now. Failed ids are not retried; the
// next view of the conversation queues them again.
func (b *ReadBatcher) Flush(ctx context.Context) error {
	ids := b.take()
	if len(ids) == 0 {
		return nil
	}
	if err := b.flush(ctx, ids); err != nil {
		b.log.Warn("mark read failed", zap.Int("messages", len(ids)), zap.Error(err))
		return err
	}
	return nil
}

// Close flushes the remainder and stops accepting ids.
func (b *ReadBatcher) Close(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return b.Flush(ctx)
}
