// Package presence is the in-process table of live connections.
//
// It is the single source of truth for "is online" in one process. A
// deployment with more than one gateway would need a shared presence store
// (for example Redis keys plus a broadcast channel) in place of this table.
package presence

import (
	"sync"

	"github.com/mahaj/pulse-chat/pkg/model"
)

// Conn is a live connection handle. Send must not block: it enqueues the
// event and reports false if the connection cannot take it.
type Conn interface {
	ID() string
	Send(ev model.Event) bool
}

type Table struct {
	mu    sync.RWMutex
	conns map[string]Conn
}

func NewTable() *Table {
	return &Table{conns: make(map[string]Conn)}
}

// Register stores conn as the user's handle and returns the handle it
// replaced, if any. Last writer wins.
func (t *Table) Register(userID string, conn Conn) Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	prev := t.conns[userID]
	t.conns[userID] = conn
	return prev
}

func (t *Table) Unregister(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.conns, userID)
}

// UnregisterConn removes the user's entry only while it still holds conn,
// so a closing tab cannot evict the connection that replaced it.
func (t *Table) UnregisterConn(userID string, conn Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.conns[userID]
	if !ok || cur.ID() != conn.ID() {
		return false
	}
	delete(t.conns, userID)
	return true
}

func (t *Table) IsOnline(userID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.conns[userID]
	return ok
}

func (t *Table) ConnectionFor(userID string) (Conn, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.conns[userID]
	return c, ok
}

// Each calls fn for every entry on a snapshot, so fn may call back into
// the table.
func (t *Table) Each(fn func(userID string, conn Conn)) {
	t.mu.RLock()
	snap := make(map[string]Conn, len(t.conns))
	for id, c := range t.conns {
		snap[id] = c
	}
	t.mu.RUnlock()

	for id, c := range snap {
		fn(id, c)
	}
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns)
}
