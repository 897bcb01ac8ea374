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

func reactionFailed(err error) error {
	return &apperr.Error{Kind: apperr.KindInternal, Msg: "Failed to add reaction", Err: err}
}

// ToggleReaction adds the actor's emoji to the message, or removes it when
// already present, then sends the full populated reaction list to every live
// participant of the conversation.
func (h *Hub) ToggleReaction(ctx context.Context, actorID string, p model.AddReactionPayload) (*model.ReactionUpdatePayload, error) {
	if actorID == "" || p.MessageID == 0 || p.Emoji == "" {
		return nil, apperr.Validation("Invalid reaction data")
	}
	if p.UserID != "" && p.UserID != actorID {
		return nil, apperr.Forbidden("Not authorized")
	}

	m, err := h.store.Message(ctx, p.MessageID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("Message not found")
	}
	if err != nil {
		return nil, reactionFailed(err)
	}
	conv, err := h.store.Conversation(ctx, m.ConversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("Conversation not found")
	}
	if err != nil {
		return nil, reactionFailed(err)
	}
	if !conv.HasParticipant(actorID) {
		return nil, apperr.Forbidden("Not authorized")
	}

	reactions, err := h.store.ToggleReaction(ctx, m.ID, actorID, p.Emoji)
	if err != nil {
		h.log.Error("toggle reaction failed", zap.Int64("message", m.ID), zap.Error(err))
		return nil, reactionFailed(err)
	}
	m.Reactions = reactions
	if err := h.populateOne(ctx, m); err != nil {
		h.log.Warn("populate reactions failed", zap.Int64("message", m.ID), zap.Error(err))
	}

	update := &model.ReactionUpdatePayload{MessageID: m.ID, Reactions: m.Reactions}
	ev := model.Event{Event: model.EventReactionUpdate, Data: *update}
	for _, userID := range conv.Participants {
		h.pushUser(userID, ev)
	}
	h.record(ctx, journal.KindReaction, m, actorID)
	return update, nil
}
