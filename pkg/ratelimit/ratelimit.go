// Package ratelimit implements fixed-window counters. A window opens on the
// first hit for a key and every hit past the limit inside it is rejected;
// nothing is queued or delayed.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

type Limiter interface {
	// Allow counts one hit for key and reports whether it fits in the
	// current window.
	Allow(ctx context.Context, key string) (bool, error)
}

type window struct {
	start time.Time
	count int
}

type Memory struct {
	mu        sync.Mutex
	max       int
	size      time.Duration
	now       func() time.Time
	windows   map[string]*window
	lastPrune time.Time
}

func NewMemory(max int, size time.Duration) *Memory {
	return &Memory{max: max, size: size, now: time.Now, windows: make(map[string]*window)}
}

// SetClock replaces the time source. Tests only.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) Allow(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if now.Sub(m.lastPrune) >= m.size {
		m.prune(now)
	}

	w, ok := m.windows[key]
	if !ok || now.Sub(w.start) >= m.size {
		w = &window{start: now}
		m.windows[key] = w
	}
	w.count++
	return w.count <= m.max, nil
}

func (m *Memory) prune(now time.Time) {
	for k, w := range m.windows {
		if now.Sub(w.start) >= m.size {
			delete(m.windows, k)
		}
	}
	m.lastPrune = now
}

// MessageKey is the counter key for messages sent by one user.
func MessageKey(senderID string) string {
	return "msg:" + senderID
}
