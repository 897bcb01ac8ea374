// Package typing tracks who is typing in which conversation.
//
// Entries expire on their own when no refresh arrives within the TTL, so a
// client that drops without sending typing-stop does not leave a stale
// indicator behind.
package typing

import (
	"context"
	"sort"
	"sync"
	"time"
)

type key struct {
	conversation int64
	user         string
}

type entry struct {
	deadline time.Time
	peers    []string
}

// Expired describes an entry that left the tracker by expiry or by
// ClearUser. Peers are the users that were told about it.
type Expired struct {
	ConversationID int64
	UserID         string
	Peers          []string
}

type Tracker struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[key]*entry
}

func NewTracker(ttl time.Duration) *Tracker {
	return &Tracker{ttl: ttl, now: time.Now, entries: make(map[key]*entry)}
}

// SetClock replaces the time source. Tests only.
func (t *Tracker) SetClock(now func() time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.now = now
}

// Start marks user as typing in conversation and refreshes the deadline.
// It reports whether the user was not typing before.
func (t *Tracker) Start(conversation int64, user string, peers []string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	k := key{conversation, user}
	e, ok := t.entries[k]
	started := !ok || !now.Before(e.deadline)
	t.entries[k] = &entry{deadline: now.Add(t.ttl), peers: peers}
	return started
}

// Stop clears the entry and returns the peers it was announced to.
func (t *Tracker) Stop(conversation int64, user string) ([]string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := key{conversation, user}
	e, ok := t.entries[k]
	if !ok {
		return nil, false
	}
	delete(t.entries, k)
	return e.peers, true
}

// Typing lists the users currently typing in conversation.
func (t *Tracker) Typing(conversation int64) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	var out []string
	for k, e := range t.entries {
		if k.conversation == conversation && now.Before(e.deadline) {
			out = append(out, k.user)
		}
	}
	sort.Strings(out)
	return out
}

// ClearUser drops every entry held by user, e.g. on disconnect.
func (t *Tracker) ClearUser(user string) []Expired {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Expired
	for k, e := range t.entries {
		if k.user == user {
			out = append(out, Expired{ConversationID: k.conversation, UserID: k.user, Peers: e.peers})
			delete(t.entries, k)
		}
	}
	return out
}

// Sweep removes entries whose deadline is not after now.
func (t *Tracker) Sweep(now time.Time) []Expired {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Expired
	for k, e := range t.entries {
		if !now.Before(e.deadline) {
			out = append(out, Expired{ConversationID: k.conversation, UserID: k.user, Peers: e.peers})
			delete(t.entries, k)
		}
	}
	return out
}

func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Run sweeps every interval until ctx is done and hands each expired
// entry to onExpire.
func (t *Tracker) Run(ctx context.Context, interval time.Duration, onExpire func(Expired)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.mu.Lock()
			now := t.now()
			t.mu.Unlock()
			for _, e := range t.Sweep(now) {
				onExpire(e)
			}
		}
	}
}
