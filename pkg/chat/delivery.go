package chat

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/mahaj/pulse-chat/pkg/apperr"
	"github.com/mahaj/pulse-chat/pkg/journal"
	"github.com/mahaj/pulse-chat/pkg/media"
	"github.com/mahaj/pulse-chat/pkg/metrics"
	"github.com/mahaj/pulse-chat/pkg/model"
	"github.com/mahaj/pulse-chat/pkg/presence"
	"github.com/mahaj/pulse-chat/pkg/ratelimit"
)

const throttledMessage = "Too many messages. Slow down."

type SendInput struct {
	SenderID   string
	ReceiverID string
	Content    string
	Media      *media.Upload
}

// validate checks the input and returns the content type it carries.
func (in SendInput) validate() (model.ContentType, error) {
	if in.SenderID == "" {
		return "", apperr.Unauthorized("Sender ID required")
	}
	if in.ReceiverID == "" {
		return "", apperr.Validation("Receiver ID required")
	}
	if in.SenderID == in.ReceiverID {
		return "", apperr.Validation("Cannot send a message to yourself")
	}
	if in.Media != nil {
		ct, ok := model.ContentTypeForMIME(in.Media.MIME)
		if !ok {
			return "", apperr.Validation("Unsupported file type")
		}
		return ct, nil
	}
	if strings.TrimSpace(in.Content) == "" {
		return "", apperr.Validation("Message required")
	}
	return model.ContentText, nil
}

// SendMessage runs the delivery pipeline and returns the stored message,
// populated. The message is stored as sent and becomes delivered only when
// the push to the receiver's live connection is queued.
func (h *Hub) SendMessage(ctx context.Context, in SendInput) (*model.Message, error) {
	ok, err := h.limiter.Allow(ctx, ratelimit.MessageKey(in.SenderID))
	if err != nil {
		h.log.Warn("rate limiter unavailable", zap.String("user", in.SenderID), zap.Error(err))
	} else if !ok {
		metrics.SendsThrottled.Inc()
		return nil, apperr.Throttled(throttledMessage)
	}

	contentType, err := in.validate()
	if err != nil {
		return nil, err
	}

	var mediaURL string
	if in.Media != nil {
		if mediaURL, err = h.uploader.Upload(ctx, *in.Media); err != nil {
			h.log.Error("media upload failed", zap.String("user", in.SenderID), zap.Error(err))
			return nil, apperr.Upstream("Failed to upload media", err)
		}
	}

	conv, err := h.store.ResolveConversation(ctx, in.SenderID, in.ReceiverID)
	if err != nil {
		return nil, err
	}

	m := &model.Message{
		ConversationID: conv.ID,
		Sender:         model.UserRef{ID: in.SenderID},
		Receiver:       model.UserRef{ID: in.ReceiverID},
		Content:        in.Content,
		MediaURL:       mediaURL,
		ContentType:    contentType,
		Status:         model.StatusSent,
	}
	if err := h.store.InsertMessage(ctx, m); err != nil {
		return nil, err
	}

	var last *int64
	if m.HasText() {
		last = &m.ID
	}
	if err := h.store.TouchConversation(ctx, conv.ID, last, h.now()); err != nil {
		h.log.Error("touch conversation failed", zap.Int64("conversation", conv.ID), zap.Error(err))
	}

	if err := h.populateOne(ctx, m); err != nil {
		h.log.Warn("populate message failed", zap.Int64("message", m.ID), zap.Error(err))
	}
	h.record(ctx, journal.KindSent, m, in.SenderID)

	if receiver, live := h.presence.ConnectionFor(in.ReceiverID); live {
		h.deliver(ctx, receiver, m)
	}
	metrics.MessagesSent.WithLabelValues(string(m.Status)).Inc()
	return m, nil
}

// deliver pushes m to the receiver's live connection and, once the push is
// queued, advances it to delivered. A dropped push leaves m sent for the
// catch-up sweep on the receiver's next connect.
func (h *Hub) deliver(ctx context.Context, receiver presence.Conn, m *model.Message) {
	pushed := *m
	pushed.Status = model.StatusDelivered
	if !h.push(receiver, model.Event{Event: model.EventMessageRecv, Data: pushed}) {
		return
	}
	moved, err := h.store.MarkMessageDelivered(ctx, m.ID)
	if err != nil {
		h.log.Error("mark delivered failed", zap.Int64("message", m.ID), zap.Error(err))
		return
	}
	m.Status = model.StatusDelivered
	if moved {
		h.pushUser(m.Sender.ID, statusUpdate(m.ID, model.StatusDelivered))
		h.record(ctx, journal.KindDelivered, m, m.Receiver.ID)
	}
}
