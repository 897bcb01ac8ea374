// Package chat coordinates the real-time side of the chat: connection
// lifecycle and presence, the message delivery pipeline, reactions, typing
// indicators, read receipts, deletions and status posts.
//
// Handlers never wait on another connection. Every push is a non-blocking
// enqueue on the target's presence.Conn; a push that cannot be queued is
// dropped and counted, and the stored state stays authoritative.
package chat

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mahaj/pulse-chat/pkg/journal"
	"github.com/mahaj/pulse-chat/pkg/media"
	"github.com/mahaj/pulse-chat/pkg/metrics"
	"github.com/mahaj/pulse-chat/pkg/model"
	"github.com/mahaj/pulse-chat/pkg/presence"
	"github.com/mahaj/pulse-chat/pkg/ratelimit"
	"github.com/mahaj/pulse-chat/pkg/store"
	"github.com/mahaj/pulse-chat/pkg/typing"
)

const defaultTypingTTL = 4 * time.Second

// Deps are the collaborators of a Hub. Store is required; the rest default
// to in-process implementations.
type Deps struct {
	Store    store.Store
	Presence *presence.Table
	Typing   *typing.Tracker
	Limiter  ratelimit.Limiter
	Uploader media.Uploader
	Journal  journal.Journal
	Logger   *zap.Logger
}

type Hub struct {
	store    store.Store
	presence *presence.Table
	typing   *typing.Tracker
	limiter  ratelimit.Limiter
	uploader media.Uploader
	journal  journal.Journal
	log      *zap.Logger
	now      func() time.Time

	presenceLocks userLocks
}

func NewHub(d Deps) *Hub {
	h := &Hub{
		store:    d.Store,
		presence: d.Presence,
		typing:   d.Typing,
		limiter:  d.Limiter,
		uploader: d.Uploader,
		journal:  d.Journal,
		log:      d.Logger,
		now:      time.Now,
	}
	if h.presence == nil {
		h.presence = presence.NewTable()
	}
	if h.typing == nil {
		h.typing = typing.NewTracker(defaultTypingTTL)
	}
	if h.limiter == nil {
		h.limiter = ratelimit.NewMemory(7, 10*time.Second)
	}
	if h.uploader == nil {
		h.uploader = noUploads{}
	}
	if h.journal == nil {
		h.journal = journal.Nop{}
	}
	if h.log == nil {
		h.log = zap.NewNop()
	}
	return h
}

type noUploads struct{}

func (noUploads) Upload(context.Context, media.Upload) (string, error) {
	return "", errors.New("media uploads are not configured")
}

func (h *Hub) Presence() *presence.Table { return h.presence }

// userLocks hands out one mutex per user id. Entries live only while held
// or awaited.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	sync.Mutex
	refs int
}

// lock blocks until the user's mutex is held and returns its release.
func (l *userLocks) lock(id string) func() {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*userLock)
	}
	ul := l.locks[id]
	if ul == nil {
		ul = &userLock{}
		l.locks[id] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.Lock()
	return func() {
		ul.Unlock()
		l.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}

// Run sweeps expired typing indicators until ctx is done.
func (h *Hub) Run(ctx context.Context, sweepEvery time.Duration) {
	h.typing.Run(ctx, sweepEvery, h.typingExpired)
}

func (h *Hub) push(conn presence.Conn, ev model.Event) bool {
	if conn.Send(ev) {
		return true
	}
	metrics.PushesDropped.WithLabelValues(string(ev.Event)).Inc()
	h.log.Debug("push dropped", zap.String("conn", conn.ID()), zap.String("event", string(ev.Event)))
	return false
}

// pushUser sends ev to the user's live connection, if any.
func (h *Hub) pushUser(userID string, ev model.Event) bool {
	conn, ok := h.presence.ConnectionFor(userID)
	if !ok {
		return false
	}
	return h.push(conn, ev)
}

// broadcast sends ev to every live user except the one named.
func (h *Hub) broadcast(except string, ev model.Event) {
	h.presence.Each(func(userID string, conn presence.Conn) {
		if userID != except {
			h.push(conn, ev)
		}
	})
}

func (h *Hub) record(ctx context.Context, kind journal.Kind, m *model.Message, actor string) {
	h.journal.Append(ctx, journal.Record{
		Kind:           kind,
		MessageID:      m.ID,
		ConversationID: m.ConversationID,
		Actor:          actor,
		Status:         m.Status,
		At:             h.now(),
	})
}
