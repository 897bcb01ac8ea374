package chat

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mahaj/pulse-chat/pkg/apperr"
	"github.com/mahaj/pulse-chat/pkg/model"
	"github.com/mahaj/pulse-chat/pkg/store"
)

const PageSize = 20

func (h *Hub) participantConversation(ctx context.Context, userID string, id int64) (*model.Conversation, error) {
	conv, err := h.store.Conversation(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("Conversation not found")
	}
	if err != nil {
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, apperr.Forbidden("Not authorized to view this conversation")
	}
	return conv, nil
}

// Messages returns one page of the conversation older than cursor (0 for
// the newest page), oldest first. NextCursor is the oldest id of the page
// and is only set when older messages remain.
func (h *Hub) Messages(ctx context.Context, userID string, conversationID, cursor int64) (*model.Page, error) {
	if _, err := h.participantConversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	msgs, err := h.store.ListMessages(ctx, conversationID, cursor, PageSize+1)
	if err != nil {
		return nil, err
	}

	page := &model.Page{HasMore: len(msgs) > PageSize}
	if page.HasMore {
		msgs = msgs[:PageSize]
		next := msgs[len(msgs)-1].ID
		page.NextCursor = &next
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	if err := h.populate(ctx, msgs); err != nil {
		return nil, err
	}
	page.Messages = msgs
	return page, nil
}

// Conversations lists the user's conversations, most recent first, with
// participants, live presence and the last message filled in.
func (h *Hub) Conversations(ctx context.Context, userID string) ([]model.ConversationView, error) {
	convs, err := h.store.ConversationsFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, c := range convs {
		ids = append(ids, c.Participants[0], c.Participants[1])
	}
	users, err := h.store.Users(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]model.ConversationView, 0, len(convs))
	for _, c := range convs {
		v := model.ConversationView{Conversation: c}
		for _, id := range c.Participants {
			u, ok := users[id]
			if !ok {
				u = model.User{ID: id}
			}
			u.IsOnline = h.presence.IsOnline(id)
			v.Participants = append(v.Participants, u)
		}
		if c.LastMessageID != nil {
			if m, err := h.lastMessage(ctx, *c.LastMessageID); err == nil {
				v.LastMessage = m
			}
		}
		out = append(out, v)
	}
	return out, nil
}

func (h *Hub) lastMessage(ctx context.Context, id int64) (*model.Message, error) {
	m, err := h.store.Message(ctx, id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			h.log.Warn("load last message failed", zap.Int64("message", id), zap.Error(err))
		}
		return nil, err
	}
	if err := h.populateOne(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Peer is another user as shown in the people list, with the
// conversation the caller has with them if any.
type Peer struct {
	model.User
	Conversation *PeerConversation `json:"conversation"`
}

type PeerConversation struct {
	ID          int64          `json:"id"`
	UnreadCount int64          `json:"unreadCount"`
	LastMessage *model.Message `json:"lastMessage,omitempty"`
}

// Peers lists every user but userID with live presence and a summary of
// the conversation the two share.
func (h *Hub) Peers(ctx context.Context, userID string) ([]Peer, error) {
	users, err := h.store.ListUsers(ctx, userID)
	if err != nil {
		return nil, err
	}
	convs, err := h.store.ConversationsFor(ctx, userID)
	if err != nil {
		return nil, err
	}
	byPeer := make(map[string]model.Conversation, len(convs))
	for _, c := range convs {
		byPeer[c.Other(userID)] = c
	}

	out := make([]Peer, 0, len(users))
	for _, u := range users {
		u.IsOnline = h.presence.IsOnline(u.ID)
		ct := Peer{User: u}
		if c, ok := byPeer[u.ID]; ok {
			cc := &PeerConversation{ID: c.ID, UnreadCount: c.UnreadCount}
			if c.LastMessageID != nil {
				cc.LastMessage, _ = h.lastMessage(ctx, *c.LastMessageID)
			}
			ct.Conversation = cc
		}
		out = append(out, ct)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}
