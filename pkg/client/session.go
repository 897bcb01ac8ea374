package client

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mahaj/pulse-chat/pkg/media"
	"github.com/mahaj/pulse-chat/pkg/model"
)

var ErrLoggedOut = errors.New("client: not logged in")

// Session ties the websocket connection to the logged-in user: Login dials
// and announces, Logout closes. It owns the transcript that pushes and
// send replies are reconciled into.
type Session struct {
	API        *API
	Transcript *Transcript

	wsURL     string
	readDelay time.Duration
	log       *zap.Logger
	now       func() time.Time

	// OnEvent, when set before Login, sees every pushed frame after the
	// transcript has applied it.
	OnEvent func(Frame)

	mu    sync.Mutex
	user  *model.User
	conn  *Conn
	reads *ReadBatcher
}

func NewSession(api *API, wsURL string, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}
	return &Session{
		API:        api,
		Transcript: NewTranscript(),
		wsURL:      wsURL,
		readDelay:  DefaultReadDelay,
		log:        log,
		now:        time.Now,
	}
}

// Login verifies the code, then connects and announces the user.
func (s *Session) Login(ctx context.Context, c model.Contact, code string) (*model.User, error) {
	u, err := s.API.VerifyOTP(ctx, c, code)
	if err != nil {
		return nil, err
	}
	if err := s.Connect(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// Connect opens the websocket for an already authenticated user.
func (s *Session) Connect(ctx context.Context, u *model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return nil
	}
	conn, err := Dial(ctx, s.wsURL, s.API.Token(), s.handle, s.log)
	if err != nil {
		return err
	}
	if err := conn.Announce(ctx, u.ID); err != nil {
		conn.Close()
		return errors.Wrap(err, "announce")
	}
	s.user, s.conn = u, conn
	s.reads = NewReadBatcher(func(ctx context.Context, ids []int64) error {
		read, err := s.API.MarkRead(ctx, ids)
		for _, m := range read {
			s.Transcript.ApplyStatus(m.ID, model.StatusRead)
		}
		return err
	}, s.readDelay, s.log)
	return nil
}

// Logout flushes pending read receipts and closes the connection. It is
// safe to call when not logged in.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	conn, reads := s.conn, s.reads
	s.conn, s.reads, s.user = nil, nil, nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}
	if err := reads.Close(ctx); err != nil {
		s.log.Warn("flush reads on logout", zap.Error(err))
	}
	err := conn.Close()
	if lerr := s.API.Logout(ctx); err == nil {
		err = lerr
	}
	return err
}

func (s *Session) current() (*model.User, *Conn, *ReadBatcher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil, nil, nil, ErrLoggedOut
	}
	return s.user, s.conn, s.reads, nil
}

func (s *Session) User() *model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// Conn returns the live connection, nil when logged out.
func (s *Session) Conn() *Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// Send shows the message optimistically, posts it and reconciles the
// reply. On failure the local record stays, marked failed.
func (s *Session) Send(ctx context.Context, receiver model.UserRef, conversationID int64, content string, upload *media.Upload) (model.Message, error) {
	u, _, _, err := s.current()
	if err != nil {
		return model.Message{}, err
	}
	var mime string
	if upload != nil {
		mime = upload.MIME
	}
	local := NewOptimistic(u.Ref(), receiver, conversationID, content, mime, s.now())
	s.Transcript.InsertOptimistic(local)

	m, err := s.API.SendMessage(ctx, u.ID, receiver.ID, content, upload)
	if err != nil {
		s.Transcript.MarkFailed(local.TempID)
		local.Status = model.StatusFailed
		return local, err
	}
	s.Transcript.Reconcile(local.TempID, *m)
	return *m, nil
}

// LoadOlder fetches the page before cursor into the transcript.
func (s *Session) LoadOlder(ctx context.Context, conversationID, cursor int64) (*model.Page, error) {
	page, err := s.API.Messages(ctx, conversationID, cursor)
	if err != nil {
		return nil, err
	}
	s.Transcript.Prepend(page.Messages)
	return page, nil
}

// View queues read receipts for everything unread in the conversation.
func (s *Session) View(conversationID int64) error {
	u, _, reads, err := s.current()
	if err != nil {
		return err
	}
	reads.Add(s.Transcript.Unread(conversationID, u.ID)...)
	return nil
}

func (s *Session) handle(f Frame) {
	var err error
	switch f.Event {
	case model.EventMessageRecv:
		var m model.Message
		if err = json.Unmarshal(f.Data, &m); err == nil {
			s.Transcript.Receive(m)
		}
	case model.EventStatusUpdate:
		var p model.StatusUpdatePayload
		if err = json.Unmarshal(f.Data, &p); err == nil {
			s.Transcript.ApplyStatus(p.MessageID, p.Status)
		}
	case model.EventReactionUpdate:
		var p model.ReactionUpdatePayload
		if err = json.Unmarshal(f.Data, &p); err == nil {
			s.Transcript.ApplyReactions(p.MessageID, p.Reactions)
		}
	case model.EventMessageDeleted:
		var id model.ID
		if err = json.Unmarshal(f.Data, &id); err == nil {
			s.Transcript.Remove(int64(id))
		}
	}
	if err != nil {
		s.log.Warn("bad push", zap.String("event", string(f.Event)), zap.Error(err))
	}
	if s.OnEvent != nil {
		s.OnEvent(f)
	}
}
