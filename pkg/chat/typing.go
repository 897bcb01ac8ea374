package chat

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mahaj/pulse-chat/pkg/apperr"
	"github.com/mahaj/pulse-chat/pkg/metrics"
	"github.com/mahaj/pulse-chat/pkg/model"
	"github.com/mahaj/pulse-chat/pkg/presence"
	"github.com/mahaj/pulse-chat/pkg/store"
	"github.com/mahaj/pulse-chat/pkg/typing"
)

// typingConversation finds the conversation a typing signal refers to. A
// signal for a pair that has never exchanged a message resolves to nil.
func (h *Hub) typingConversation(ctx context.Context, userID string, p model.TypingPayload) (*model.Conversation, error) {
	var (
		conv *model.Conversation
		err  error
	)
	switch {
	case p.ConversationID != 0:
		conv, err = h.store.Conversation(ctx, p.ConversationID)
	case p.ReceiverID != "":
		conv, err = h.store.FindConversation(ctx, userID, p.ReceiverID)
	default:
		return nil, apperr.Validation("Invalid typing data")
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, apperr.Forbidden("Not authorized")
	}
	return conv, nil
}

// StartTyping marks the user typing and tells the other participants, once
// per transition. Repeated starts only refresh the expiry.
func (h *Hub) StartTyping(ctx context.Context, userID string, p model.TypingPayload) error {
	conv, err := h.typingConversation(ctx, userID, p)
	if err != nil || conv == nil {
		return err
	}
	peers := []string{conv.Other(userID)}
	if h.typing.Start(conv.ID, userID, peers) {
		h.emitTyping(conv.ID, userID, peers, true)
	}
	return nil
}

func (h *Hub) StopTyping(ctx context.Context, userID string, p model.TypingPayload) error {
	id := p.ConversationID
	if id == 0 {
		conv, err := h.typingConversation(ctx, userID, p)
		if err != nil || conv == nil {
			return err
		}
		id = conv.ID
	}
	if peers, ok := h.typing.Stop(id, userID); ok {
		h.emitTyping(id, userID, peers, false)
	}
	return nil
}

func (h *Hub) typingExpired(e typing.Expired) {
	metrics.TypingExpired.Inc()
	h.emitTyping(e.ConversationID, e.UserID, e.Peers, false)
}

func (h *Hub) emitTyping(conversationID int64, userID string, peers []string, isTyping bool) {
	ev := model.Event{
		Event: model.EventUserTyping,
		Data:  model.UserTypingPayload{UserID: userID, ConversationID: conversationID, IsTyping: isTyping},
	}
	for _, peer := range peers {
		h.pushUser(peer, ev)
	}
}

// typingSnapshot tells a freshly registered connection who is already
// typing in its conversations.
func (h *Hub) typingSnapshot(ctx context.Context, userID string, conn presence.Conn) {
	if h.typing.Len() == 0 {
		return
	}
	convs, err := h.store.ConversationsFor(ctx, userID)
	if err != nil {
		h.log.Warn("typing snapshot failed", zap.String("user", userID), zap.Error(err))
		return
	}
	for _, c := range convs {
		for _, typist := range h.typing.Typing(c.ID) {
			if typist == userID {
				continue
			}
			h.push(conn, model.Event{
				Event: model.EventUserTyping,
				Data:  model.UserTypingPayload{UserID: typist, ConversationID: c.ID, IsTyping: true},
			})
		}
	}
}
