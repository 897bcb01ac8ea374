package chat

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mahaj/pulse-chat/pkg/apperr"
	"github.com/mahaj/pulse-chat/pkg/media"
	"github.com/mahaj/pulse-chat/pkg/model"
	"github.com/mahaj/pulse-chat/pkg/store"
)

func (h *Hub) populateStatus(ctx context.Context, s *model.StatusPost) {
	u, err := h.store.User(ctx, s.User.ID)
	if err != nil {
		h.log.Debug("status owner lookup failed", zap.String("user", s.User.ID), zap.Error(err))
		return
	}
	s.User = u.Ref()
}

// PostStatus publishes a 24-hour status and announces it to every other
// live user.
func (h *Hub) PostStatus(ctx context.Context, userID, content string, upload *media.Upload) (*model.StatusPost, error) {
	s := &model.StatusPost{
		User:        model.UserRef{ID: userID},
		Content:     content,
		ContentType: model.ContentText,
		CreatedAt:   h.now(),
	}
	switch {
	case upload != nil:
		ct, ok := model.ContentTypeForMIME(upload.MIME)
		if !ok {
			return nil, apperr.Validation("Unsupported file type")
		}
		url, err := h.uploader.Upload(ctx, *upload)
		if err != nil {
			h.log.Error("status upload failed", zap.String("user", userID), zap.Error(err))
			return nil, apperr.Upstream("Failed to upload media", err)
		}
		s.Content, s.ContentType = url, ct
	case strings.TrimSpace(content) == "":
		return nil, apperr.Validation("Content required")
	}

	if err := h.store.InsertStatus(ctx, s); err != nil {
		return nil, err
	}
	h.populateStatus(ctx, s)
	h.broadcast(userID, model.Event{Event: model.EventNewStatus, Data: *s})
	return s, nil
}

func (h *Hub) Statuses(ctx context.Context) ([]model.StatusPost, error) {
	list, err := h.store.ActiveStatuses(ctx, h.now())
	if err != nil {
		return nil, err
	}
	for i := range list {
		h.populateStatus(ctx, &list[i])
	}
	return list, nil
}

// ViewStatus records a view once per viewer. The owner's own views are not
// recorded; a new view is reported to the owner when they are live.
func (h *Hub) ViewStatus(ctx context.Context, viewerID string, statusID int64) (*model.StatusPost, error) {
	s, err := h.store.Status(ctx, statusID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("Status not found")
	}
	if err != nil {
		return nil, err
	}
	if s.User.ID != viewerID {
		var added bool
		s, added, err = h.store.AddViewer(ctx, statusID, viewerID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("Status not found")
		}
		if err != nil {
			return nil, err
		}
		if added {
			h.pushUser(s.User.ID, model.Event{
				Event: model.EventStatusViewed,
				Data: model.StatusViewedPayload{
					StatusID:     s.ID,
					ViewerID:     viewerID,
					Viewers:      append([]string{}, s.Viewers...),
					TotalViewers: len(s.Viewers),
				},
			})
		}
	}
	h.populateStatus(ctx, s)
	return s, nil
}

func (h *Hub) DeleteStatus(ctx context.Context, userID string, statusID int64) error {
	s, err := h.store.Status(ctx, statusID)
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound("Status not found")
	}
	if err != nil {
		return err
	}
	if s.User.ID != userID {
		return apperr.Forbidden("Not authorized to delete this status")
	}
	if err := h.store.DeleteStatus(ctx, statusID); err != nil {
		return err
	}
	h.broadcast(userID, model.Event{Event: model.EventStatusDeleted, Data: model.ID(statusID)})
	return nil
}
