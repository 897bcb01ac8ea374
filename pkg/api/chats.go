package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mahaj/pulse-chat/pkg/apperr"
	"github.com/mahaj/pulse-chat/pkg/chat"
	"github.com/mahaj/pulse-chat/pkg/model"
)

// sendMessage takes a multipart form: senderId, recieverId, content and
// an optional media file. The sender is always the authenticated user; a
// senderId naming someone else is rejected.
func (s *Server) sendMessage(c *gin.Context) {
	user := currentUser(c)
	if sender := c.PostForm("senderId"); sender != "" && sender != user {
		fail(c, apperr.Forbidden("Sender does not match the authenticated user"))
		return
	}
	upload, done, err := formUpload(c, "media")
	defer done()
	if err != nil {
		fail(c, err)
		return
	}

	m, err := s.d.Hub.SendMessage(c.Request.Context(), chat.SendInput{
		SenderID:   user,
		ReceiverID: c.PostForm("recieverId"),
		Content:    c.PostForm("content"),
		Media:      upload,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "message": "Message sent successfully", "data": m})
}

func (s *Server) conversations(c *gin.Context) {
	list, err := s.d.Hub.Conversations(c.Request.Context(), currentUser(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, "Conversations retrieved successfully", list)
}

func (s *Server) messages(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		fail(c, err)
		return
	}
	var cursor int64
	if v := c.Query("cursor"); v != "" {
		if cursor, err = strconv.ParseInt(v, 10, 64); err != nil || cursor < 0 {
			fail(c, apperr.Validation("Invalid cursor"))
			return
		}
	}
	page, err := s.d.Hub.Messages(c.Request.Context(), currentUser(c), id, cursor)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, "Messages retrieved successfully", page)
}

func (s *Server) markRead(c *gin.Context) {
	var req struct {
		MessageIDs []model.ID `json:"messageIds"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, apperr.Validation("Invalid request body"))
		return
	}
	read, err := s.d.Hub.MarkRead(c.Request.Context(), currentUser(c), model.IDs(req.MessageIDs))
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, "Messages marked as read", read)
}

func (s *Server) deleteMessage(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		fail(c, err)
		return
	}
	if err := s.d.Hub.DeleteMessage(c.Request.Context(), currentUser(c), id); err != nil {
		s.fail(c, err)
		return
	}
	ok(c, "Message deleted successfully", gin.H{"id": model.ID(id)})
}
