// Package api is the HTTP surface of the chat: OTP login, profiles,
// conversation history, message sends, read receipts, deletions and status
// posts. Real-time pushes happen as side effects through the chat.Hub.
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mahaj/pulse-chat/pkg/apperr"
	"github.com/mahaj/pulse-chat/pkg/auth"
	"github.com/mahaj/pulse-chat/pkg/chat"
	"github.com/mahaj/pulse-chat/pkg/media"
	"github.com/mahaj/pulse-chat/pkg/store"
)

const userIDKey = "userId"

type Deps struct {
	Hub      *chat.Hub
	Users    store.Users
	Signer   *auth.Signer
	OTP      auth.Sender
	Uploader media.Uploader
	Logger   *zap.Logger

	// Websocket is mounted at /ws when set.
	Websocket http.Handler

	OTPTTL         time.Duration
	TokenTTL       time.Duration
	AllowedOrigins []string
	// MediaDir is served under MediaBaseURL when both are set.
	MediaDir     string
	MediaBaseURL string
	SecureCookie bool
}

type Server struct {
	d   Deps
	log *zap.Logger
	now func() time.Time
}

func New(d Deps) *Server {
	if d.OTPTTL == 0 {
		d.OTPTTL = 5 * time.Minute
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.OTP == nil {
		d.OTP = auth.LogSender{Log: d.Logger}
	}
	return &Server{d: d, log: d.Logger, now: time.Now}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLog())
	r.Use(cors.New(corsConfig(s.d.AllowedOrigins)))

	r.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if s.d.Websocket != nil {
		r.GET("/ws", gin.WrapH(s.d.Websocket))
	}
	if s.d.MediaDir != "" && s.d.MediaBaseURL != "" {
		r.Static(s.d.MediaBaseURL, s.d.MediaDir)
	}

	a := r.Group("/auth")
	a.POST("/send-otp", s.sendOTP)
	a.POST("/verify-otp", s.verifyOTP)
	a.GET("/logout", s.logout)
	authed := a.Group("", s.requireAuth)
	authed.PUT("/update-profile", s.updateProfile)
	authed.GET("/check-auth", s.checkAuth)
	authed.GET("/users", s.users)

	ch := r.Group("/chats", s.requireAuth)
	ch.POST("/send-message", s.sendMessage)
	ch.GET("/conversations", s.conversations)
	ch.GET("/conversations/:id/messages", s.messages)
	ch.PUT("/messages/read", s.markRead)
	ch.DELETE("/messages/:id", s.deleteMessage)

	st := r.Group("/status", s.requireAuth)
	st.POST("", s.postStatus)
	st.GET("", s.statuses)
	st.PUT("/:id/view", s.viewStatus)
	st.DELETE("/:id", s.deleteStatus)

	return r
}

// corsConfig allows credentials, so a wildcard origin is expressed as an
// origin func that echoes the caller.
func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			origins = nil
			break
		}
	}
	if len(origins) == 0 {
		cfg.AllowOriginFunc = func(string) bool { return true }
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)))
	}
}

func (s *Server) requireAuth(c *gin.Context) {
	token := auth.TokenFromRequest(c.Request)
	if token == "" {
		fail(c, apperr.Unauthorized("Authorization token missing"))
		c.Abort()
		return
	}
	claims, err := s.d.Signer.ValidateToken(token)
	if err != nil {
		fail(c, apperr.Unauthorized("Invalid or expired token"))
		c.Abort()
		return
	}
	c.Set(userIDKey, claims.UserID)
	c.Next()
}

func currentUser(c *gin.Context) string {
	return c.GetString(userIDKey)
}

func ok(c *gin.Context, message string, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "message": message, "data": data})
}

func fail(c *gin.Context, err error) {
	c.JSON(apperr.HTTPStatus(apperr.KindOf(err)), gin.H{"success": false, "message": apperr.Message(err)})
}

func (s *Server) fail(c *gin.Context, err error) {
	if apperr.KindOf(err) == apperr.KindInternal {
		s.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	fail(c, err)
}

func idParam(c *gin.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.Validation("Invalid id")
	}
	return id, nil
}

// formUpload reads the optional multipart file field. The returned close
// func is never nil.
func formUpload(c *gin.Context, field string) (*media.Upload, func(), error) {
	fh, err := c.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return nil, func() {}, nil
	}
	if err != nil {
		return nil, func() {}, apperr.Validation("Invalid upload")
	}
	f, err := fh.Open()
	if err != nil {
		return nil, func() {}, apperr.Validation("Invalid upload")
	}
	u := &media.Upload{
		Filename: fh.Filename,
		MIME:     fh.Header.Get("Content-Type"),
		Body:     f,
	}
	return u, func() { f.Close() }, nil
}
