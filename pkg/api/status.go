package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mahaj/pulse-chat/pkg/model"
)

func (s *Server) postStatus(c *gin.Context) {
	upload, done, err := formUpload(c, "media")
	defer done()
	if err != nil {
		fail(c, err)
		return
	}
	st, err := s.d.Hub.PostStatus(c.Request.Context(), currentUser(c), c.PostForm("content"), upload)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "message": "Status created successfully", "data": st})
}

func (s *Server) statuses(c *gin.Context) {
	list, err := s.d.Hub.Statuses(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, "Statuses retrieved successfully", list)
}

func (s *Server) viewStatus(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		fail(c, err)
		return
	}
	st, err := s.d.Hub.ViewStatus(c.Request.Context(), currentUser(c), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	ok(c, "Status viewed successfully", st)
}

func (s *Server) deleteStatus(c *gin.Context) {
	id, err := idParam(c, "id")
	if err != nil {
		fail(c, err)
		return
	}
	if err := s.d.Hub.DeleteStatus(c.Request.Context(), currentUser(c), id); err != nil {
		s.fail(c, err)
		return
	}
	ok(c, "Status deleted successfully", gin.H{"id": model.ID(id)})
}
