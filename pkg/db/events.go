package db

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// Event is one archived mutation of a message, as read back from
// message_events.
type Event struct {
	ConversationID int64
	MessageID      int64
	Kind           string
	Actor          string
	Status         string
	At             time.Time
}

// Events writes archived journal records. The primary key covers the whole
// record, so replaying a record overwrites it with itself.
type Events struct {
	s *Session
}

func NewEvents(s *Session) *Events {
	return &Events{s: s}
}

func (e *Events) Save(ctx context.Context, ev Event) error {
	err := e.s.Query(`INSERT INTO message_events (conversation_id, at, message_id, kind, actor, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ConversationID, ev.At, ev.MessageID, ev.Kind, ev.Actor, ev.Status).WithContext(ctx).Exec()
	return errors.Wrapf(err, "save event %s of message %d", ev.Kind, ev.MessageID)
}

// Recent returns the newest events of a conversation, newest first.
func (e *Events) Recent(ctx context.Context, conversationID int64, limit int) ([]Event, error) {
	iter := e.s.Query(`SELECT conversation_id, at, message_id, kind, actor, status
		FROM message_events WHERE conversation_id = ? LIMIT ?`, conversationID, limit).WithContext(ctx).Iter()

	var (
		out []Event
		ev  Event
	)
	for iter.Scan(&ev.ConversationID, &ev.At, &ev.MessageID, &ev.Kind, &ev.Actor, &ev.Status) {
		out = append(out, ev)
	}
	if err := iter.Close(); err != nil {
		return nil, errors.Wrap(err, "list events")
	}
	return out, nil
}
