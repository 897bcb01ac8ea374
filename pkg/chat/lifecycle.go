package chat

import (
	"context"

	"go.uber.org/zap"

	"github.com/mahaj/pulse-chat/pkg/apperr"
	"github.com/mahaj/pulse-chat/pkg/journal"
	"github.com/mahaj/pulse-chat/pkg/metrics"
	"github.com/mahaj/pulse-chat/pkg/model"
	"github.com/mahaj/pulse-chat/pkg/presence"
)

// register and unregister hold the user's presence lock across the table
// change and the store write, so the persisted flag always matches the
// table once both settle.
func (h *Hub) register(ctx context.Context, userID string, conn presence.Conn) error {
	unlock := h.presenceLocks.lock(userID)
	defer unlock()

	now := h.now()
	if err := h.store.SetPresence(ctx, userID, true, now); err != nil {
		h.log.Error("set online failed", zap.String("user", userID), zap.Error(err))
		return apperr.Upstream("Failed to register connection", err)
	}

	if prev := h.presence.Register(userID, conn); prev != nil && prev.ID() != conn.ID() {
		h.log.Info("connection superseded", zap.String("user", userID),
			zap.String("old", prev.ID()), zap.String("new", conn.ID()))
	}
	metrics.Connections.Set(float64(h.presence.Len()))
	h.log.Info("user connected", zap.String("user", userID), zap.String("conn", conn.ID()))

	h.catchUp(ctx, userID)
	h.typingSnapshot(ctx, userID, conn)

	h.broadcast(userID, model.Event{
		Event: model.EventUserStatus,
		Data:  model.UserStatusPayload{UserID: userID, IsOnline: true, LastSeen: &now},
	})
	return nil
}

// catchUp moves every message that waited for userID from sent to
// delivered and tells the senders that are live.
func (h *Hub) catchUp(ctx context.Context, userID string) {
	swept, err := h.store.MarkDelivered(ctx, userID)
	if err != nil {
		h.log.Error("delivery sweep failed", zap.String("user", userID), zap.Error(err))
	}
	if len(swept) == 0 {
		return
	}
	metrics.DeliverySweeps.Add(float64(len(swept)))
	h.log.Debug("delivery sweep", zap.String("user", userID), zap.Int("messages", len(swept)))

	for i := range swept {
		m := &swept[i]
		h.pushUser(m.Sender.ID, statusUpdate(m.ID, model.StatusDelivered))
		h.record(ctx, journal.KindDelivered, m, userID)
	}
}

func (h *Hub) unregister(ctx context.Context, userID string, conn presence.Conn) {
	unlock := h.presenceLocks.lock(userID)
	defer unlock()

	if !h.presence.UnregisterConn(userID, conn) {
		// A newer connection owns the user; it stays online.
		h.log.Debug("stale connection closed", zap.String("user", userID), zap.String("conn", conn.ID()))
		return
	}
	metrics.Connections.Set(float64(h.presence.Len()))

	now := h.now()
	if err := h.store.SetPresence(ctx, userID, false, now); err != nil {
		h.log.Error("set offline failed", zap.String("user", userID), zap.Error(err))
	}

	for _, e := range h.typing.ClearUser(userID) {
		h.emitTyping(e.ConversationID, e.UserID, e.Peers, false)
	}

	h.broadcast(userID, model.Event{
		Event: model.EventUserStatus,
		Data:  model.UserStatusPayload{UserID: userID, IsOnline: false, LastSeen: &now},
	})
	h.log.Info("user disconnected", zap.String("user", userID), zap.String("conn", conn.ID()))
}

// UserStatus reports whether userID is live and when it was last seen.
func (h *Hub) UserStatus(ctx context.Context, userID string) model.UserStatusPayload {
	if h.presence.IsOnline(userID) {
		now := h.now()
		return model.UserStatusPayload{UserID: userID, IsOnline: true, LastSeen: &now}
	}
	u, err := h.store.User(ctx, userID)
	if err != nil {
		h.log.Debug("user status lookup failed", zap.String("user", userID), zap.Error(err))
		return model.UserStatusPayload{UserID: userID}
	}
	return model.UserStatusPayload{UserID: userID, LastSeen: u.LastSeen}
}

func statusUpdate(id int64, status model.MessageStatus) model.Event {
	return model.Event{
		Event: model.EventStatusUpdate,
		Data:  model.StatusUpdatePayload{MessageID: id, Status: status},
	}
}
