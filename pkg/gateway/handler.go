// Package gateway serves the websocket side of the chat. It authenticates the
// upgrade with a JWT and hands every decoded event to the connection's
// chat.Session.
package gateway

import (
	"context"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mahaj/pulse-chat/pkg/auth"
	"github.com/mahaj/pulse-chat/pkg/chat"
	"github.com/mahaj/pulse-chat/pkg/model"
)

type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

type Handler struct {
	hub      *chat.Hub
	tokens   TokenValidator
	log      *zap.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*Client]struct{}
}

// NewHandler accepts upgrades from the listed origins. An empty list or
// "*" allows any origin.
func NewHandler(hub *chat.Hub, tokens TokenValidator, allowedOrigins []string, log *zap.Logger) *Handler {
	h := &Handler{
		hub:     hub,
		tokens:  tokens,
		log:     log,
		clients: make(map[*Client]struct{}),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || len(set) == 0 || set["*"] || set[origin]
	}
}

// ServeHTTP handles websocket requests from the peer.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := auth.TokenFromRequest(r)
	if token == "" {
		h.log.Debug("upgrade without token", zap.String("remote", r.RemoteAddr))
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	claims, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.log.Info("upgrade with invalid token", zap.String("remote", r.RemoteAddr), zap.Error(err))
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Info("upgrade failed", zap.Error(err))
		return
	}

	c := &Client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan model.Event, sendBuffer),
		done: make(chan struct{}),
	}
	c.log = h.log.With(zap.String("user", claims.UserID), zap.String("conn", c.id))
	c.session = h.hub.NewSession(c, claims.UserID)
	h.track(c)

	go c.writePump()
	go func() {
		defer h.untrack(c)
		c.readPump()
	}()
}

func (h *Handler) track(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

func (h *Handler) untrack(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
}

// Shutdown disconnects every open connection, marking their users offline.
func (h *Handler) Shutdown(ctx context.Context) {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.session.Disconnect(ctx)
		c.close()
	}
	h.log.Info("gateway closed", zap.Int("connections", len(clients)))
}
