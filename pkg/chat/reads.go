package chat

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mahaj/pulse-chat/pkg/apperr"
	"github.com/mahaj/pulse-chat/pkg/journal"
	"github.com/mahaj/pulse-chat/pkg/model"
	"github.com/mahaj/pulse-chat/pkg/store"
)

// MarkRead advances the listed messages addressed to readerID to read.
// Messages already read or addressed to someone else are skipped. Each
// advanced message is confirmed to its live sender and the unread counters
// of the touched conversations are reset.
func (h *Hub) MarkRead(ctx context.Context, readerID string, ids []int64) ([]model.Message, error) {
	if len(ids) == 0 {
		return nil, apperr.Validation("Message IDs required")
	}
	read, err := h.store.MarkRead(ctx, readerID, ids)
	if err != nil {
		return nil, err
	}

	reset := map[int64]bool{}
	for i := range read {
		m := &read[i]
		h.pushUser(m.Sender.ID, statusUpdate(m.ID, model.StatusRead))
		h.record(ctx, journal.KindRead, m, readerID)
		if !reset[m.ConversationID] {
			reset[m.ConversationID] = true
			if err := h.store.ResetUnread(ctx, m.ConversationID); err != nil {
				h.log.Warn("reset unread failed", zap.Int64("conversation", m.ConversationID), zap.Error(err))
			}
		}
	}
	if err := h.populate(ctx, read); err != nil {
		h.log.Warn("populate read messages failed", zap.Error(err))
	}
	return read, nil
}

// DeleteMessage removes a message on behalf of its sender and tells the
// receiver.
func (h *Hub) DeleteMessage(ctx context.Context, actorID string, id int64) error {
	m, err := h.store.Message(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound("Message not found")
	}
	if err != nil {
		return err
	}
	if m.Sender.ID != actorID {
		return apperr.Forbidden("Not authorized to delete this message")
	}
	if err := h.store.DeleteMessage(ctx, id); err != nil {
		return err
	}
	h.pushUser(m.Receiver.ID, model.Event{Event: model.EventMessageDeleted, Data: model.ID(id)})
	h.record(ctx, journal.KindDeleted, m, actorID)
	return nil
}
