package chat

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/mahaj/pulse-chat/pkg/apperr"
	"github.com/mahaj/pulse-chat/pkg/model"
	"github.com/mahaj/pulse-chat/pkg/presence"
)

type State int

const (
	// Unauthenticated: the transport is authenticated but the client has
	// not announced itself yet.
	Unauthenticated State = iota
	Registered
	Disconnected
)

func (s State) String() string {
	switch s {
	case Registered:
		return "registered"
	case Disconnected:
		return "disconnected"
	}
	return "unauthenticated"
}

var errNotRegistered = apperr.Unauthorized("Connection not registered")

// Session is the server side of one connection.
type Session struct {
	hub     *Hub
	conn    presence.Conn
	claimed string

	mu    sync.Mutex
	state State
	once  sync.Once
}

// NewSession starts a session for conn whose credential names claimedUser.
func (h *Hub) NewSession(conn presence.Conn, claimedUser string) *Session {
	return &Session{hub: h, conn: conn, claimed: claimedUser}
}

func (s *Session) Conn() presence.Conn { return s.conn }
func (s *Session) UserID() string      { return s.claimed }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Announce handles user_connected. The announced id must match the
// credential; announcing again once registered is a no-op.
func (s *Session) Announce(ctx context.Context, userID string) error {
	if userID == "" || userID != s.claimed {
		return apperr.Forbidden("Identity mismatch")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case Registered:
		return nil
	case Disconnected:
		return apperr.Validation("Connection closed")
	}
	if err := s.hub.register(ctx, s.claimed, s.conn); err != nil {
		return err
	}
	s.state = Registered
	return nil
}

// Disconnect tears the session down. It is safe to call more than once and
// from any goroutine.
func (s *Session) Disconnect(ctx context.Context) {
	s.once.Do(func() {
		s.mu.Lock()
		was := s.state
		s.state = Disconnected
		s.mu.Unlock()

		if was == Registered {
			s.hub.unregister(ctx, s.claimed, s.conn)
		}
	})
}

func (s *Session) registered() error {
	if s.State() != Registered {
		return errNotRegistered
	}
	return nil
}

// UserStatus answers get_user_status. It is allowed before registration.
func (s *Session) UserStatus(ctx context.Context, userID string) model.UserStatusPayload {
	return s.hub.UserStatus(ctx, userID)
}

func (s *Session) StartTyping(ctx context.Context, p model.TypingPayload) error {
	if err := s.registered(); err != nil {
		return err
	}
	return s.hub.StartTyping(ctx, s.claimed, p)
}

func (s *Session) StopTyping(ctx context.Context, p model.TypingPayload) error {
	if err := s.registered(); err != nil {
		return err
	}
	return s.hub.StopTyping(ctx, s.claimed, p)
}

// React handles add_reaction. Failures are reported to this connection as
// reaction_error and never close it.
func (s *Session) React(ctx context.Context, p model.AddReactionPayload) {
	err := s.registered()
	if err == nil {
		_, err = s.hub.ToggleReaction(ctx, s.claimed, p)
	}
	if err != nil {
		s.hub.log.Debug("reaction rejected", zap.String("user", s.claimed), zap.Error(err))
		s.hub.push(s.conn, model.Event{
			Event: model.EventReactionError,
			Data:  model.ErrorPayload{Message: apperr.Message(err)},
		})
	}
}
