// Package client is the client side of the chat: an optimistic local
// transcript reconciled against server records, a debounced read-receipt
// batcher, an explicitly owned websocket connection and the HTTP API.
package client

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mahaj/pulse-chat/pkg/model"
)

const tempPrefix = "temp-"

// NewOptimistic builds the local record shown while a send is in flight.
// The content type comes from the upload's MIME type when there is one.
func NewOptimistic(sender, receiver model.UserRef, conversationID int64, content, mime string, now time.Time) model.Message {
	ct := model.ContentText
	if mime != "" {
		if inferred, ok := model.ContentTypeForMIME(mime); ok {
			ct = inferred
		}
	}
	return model.Message{
		TempID:         tempPrefix + uuid.NewString(),
		ConversationID: conversationID,
		Sender:         sender,
		Receiver:       receiver,
		Content:        content,
		ContentType:    ct,
		Status:         model.StatusSent,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// IsPending reports whether m is an optimistic record the server has not
// confirmed.
func IsPending(m model.Message) bool {
	return m.ID == 0 && m.TempID != ""
}

func indexOf(local []model.Message, id int64) int {
	for i := range local {
		if local[i].ID == id {
			return i
		}
	}
	return -1
}

func indexOfTemp(local []model.Message, tempID string) int {
	for i := range local {
		if IsPending(local[i]) && local[i].TempID == tempID {
			return i
		}
	}
	return -1
}

// mergeRecord folds incoming into existing. Status never moves backwards.
func mergeRecord(existing, incoming model.Message) model.Message {
	out := incoming
	if !model.CanAdvance(existing.Status, incoming.Status) {
		out.Status = existing.Status
	}
	if out.TempID == "" {
		out.TempID = existing.TempID
	}
	return out
}

func sortByTime(local []model.Message) {
	sort.SliceStable(local, func(i, j int) bool {
		a, b := local[i], local[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if a.ID == 0 || b.ID == 0 {
			return b.ID == 0 && a.ID != 0
		}
		return a.ID < b.ID
	})
}

// Merge adds incoming records to local, deduplicating by server id, and
// keeps the result in display order.
func Merge(local []model.Message, incoming ...model.Message) []model.Message {
	out := append([]model.Message(nil), local...)
	for _, m := range incoming {
		if m.ID == 0 {
			continue
		}
		if i := indexOf(out, m.ID); i >= 0 {
			out[i] = mergeRecord(out[i], m)
			continue
		}
		out = append(out, m)
	}
	sortByTime(out)
	return out
}

// Reconcile replaces the optimistic record tempID with the server's
// canonical one. When the server record is already present the optimistic
// copy is dropped; when tempID is unknown the record is merged in.
func Reconcile(local []model.Message, tempID string, server model.Message) []model.Message {
	server.TempID = tempID
	i := indexOfTemp(local, tempID)
	if i < 0 {
		return Merge(local, server)
	}
	out := append([]model.Message(nil), local...)
	if j := indexOf(out, server.ID); j >= 0 {
		out[j] = mergeRecord(out[j], server)
		out = append(out[:i], out[i+1:]...)
	} else {
		out[i] = server
	}
	sortByTime(out)
	return out
}

// MarkFailed flags the optimistic record tempID as failed. Confirmed
// records are never touched.
func MarkFailed(local []model.Message, tempID string) []model.Message {
	out := append([]model.Message(nil), local...)
	if i := indexOfTemp(out, tempID); i >= 0 {
		out[i].Status = model.StatusFailed
	}
	return out
}

// Transcript is a user's local message log across conversations. It is
// safe for concurrent use; pushes and HTTP replies may race.
type Transcript struct {
	mu       sync.Mutex
	messages []model.Message
	// early holds statuses pushed for ids not yet in the log, e.g. a read
	// receipt that beat the send reply.
	early map[int64]model.MessageStatus
}

func NewTranscript() *Transcript {
	return &Transcript{early: make(map[int64]model.MessageStatus)}
}

func (t *Transcript) applyEarly(m *model.Message) {
	if st, ok := t.early[m.ID]; ok {
		if model.CanAdvance(m.Status, st) {
			m.Status = st
		}
		delete(t.early, m.ID)
	}
}

func (t *Transcript) InsertOptimistic(m model.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, m)
	sortByTime(t.messages)
}

func (t *Transcript) Reconcile(tempID string, server model.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.applyEarly(&server)
	t.messages = Reconcile(t.messages, tempID, server)
}

func (t *Transcript) MarkFailed(tempID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = MarkFailed(t.messages, tempID)
}

// Receive adds a pushed message. It reports false for a duplicate.
func (t *Transcript) Receive(m model.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	dup := indexOf(t.messages, m.ID) >= 0
	t.applyEarly(&m)
	t.messages = Merge(t.messages, m)
	return !dup
}

// ApplyStatus advances a message's status. Regressions are ignored and
// statuses for unknown ids are held until the message shows up.
func (t *Transcript) ApplyStatus(id int64, status model.MessageStatus) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := indexOf(t.messages, id)
	if i < 0 {
		if model.CanAdvance(t.early[id], status) {
			t.early[id] = status
		}
		return false
	}
	if !model.CanAdvance(t.messages[i].Status, status) {
		return false
	}
	t.messages[i].Status = status
	return true
}

func (t *Transcript) ApplyReactions(id int64, reactions []model.Reaction) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := indexOf(t.messages, id)
	if i < 0 {
		return false
	}
	t.messages[i].Reactions = append([]model.Reaction(nil), reactions...)
	return true
}

func (t *Transcript) Remove(id int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	i := indexOf(t.messages, id)
	if i < 0 {
		return false
	}
	t.messages = append(t.messages[:i], t.messages[i+1:]...)
	return true
}

// Prepend merges an older history page.
func (t *Transcript) Prepend(page []model.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range page {
		t.applyEarly(&page[i])
	}
	t.messages = Merge(t.messages, page...)
}

// Messages returns a copy of one conversation's log in display order.
func (t *Transcript) Messages(conversationID int64) []model.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []model.Message
	for _, m := range t.messages {
		if m.ConversationID == conversationID {
			out = append(out, m)
		}
	}
	return out
}

// Unread lists the ids of confirmed messages addressed to userID in the
// conversation that are not read yet.
func (t *Transcript) Unread(conversationID int64, userID string) []int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var ids []int64
	for _, m := range t.messages {
		if m.ConversationID == conversationID && m.ID != 0 && m.Receiver.ID == userID && m.Status != model.StatusRead {
			ids = append(ids, m.ID)
		}
	}
	return ids
}
