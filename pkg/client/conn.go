package client

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mahaj/pulse-chat/pkg/model"
)

const writeWait = 10 * time.Second

var ErrClosed = errors.New("client: connection closed")

// Frame is an inbound server event with its payload left raw.
type Frame struct {
	Event model.EventName `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type ack struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// Conn is one websocket connection to the gateway. Whoever dials it owns
// it and must Close it.
type Conn struct {
	ws  *websocket.Conn
	log *zap.Logger
	// onEvent receives every frame that is not a reply to a request. It
	// runs on the read goroutine.
	onEvent func(Frame)

	writeMu sync.Mutex
	seq     atomic.Int64

	mu      sync.Mutex
	waiting map[string]chan Frame
	done    chan struct{}
	err     error
}

// Dial connects to the gateway at url, authenticating with token.
func Dial(ctx context.Context, url, token string, onEvent func(Frame), log *zap.Logger) (*Conn, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if onEvent == nil {
		onEvent = func(Frame) {}
	}
	header := http.Header{}
	header.Add("Authorization", "Bearer "+token)

	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "dial %s: status %d", url, resp.StatusCode)
		}
		return nil, errors.Wrapf(err, "dial %s", url)
	}
	c := &Conn{
		ws:      ws,
		log:     log,
		onEvent: onEvent,
		waiting: make(map[string]chan Frame),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Conn) readLoop() {
	defer c.shutdown(ErrClosed)
	for {
		var f Frame
		if err := c.ws.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Info("connection lost", zap.Error(err))
			}
			return
		}
		if f.Event == model.EventAck && f.ID != "" {
			c.mu.Lock()
			ch, ok := c.waiting[f.ID]
			delete(c.waiting, f.ID)
			c.mu.Unlock()
			if ok {
				ch <- f
				continue
			}
		}
		c.onEvent(f)
	}
}

func (c *Conn) shutdown(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
		return
	default:
	}
	c.err = err
	close(c.done)
}

// Done is closed once the connection has stopped reading.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) write(event model.EventName, id string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return errors.Wrap(err, "encode event")
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(model.Envelope{Event: event, ID: id, Data: raw})
}

// request sends an event with a fresh id and waits for its ack.
func (c *Conn) request(ctx context.Context, event model.EventName, data any) (Frame, error) {
	id := strconv.FormatInt(c.seq.Add(1), 10)
	ch := make(chan Frame, 1)
	c.mu.Lock()
	c.waiting[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.waiting, id)
		c.mu.Unlock()
	}()

	if err := c.write(event, id, data); err != nil {
		return Frame{}, err
	}
	select {
	case f := <-ch:
		return f, nil
	case <-c.done:
		return Frame{}, ErrClosed
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (c *Conn) call(ctx context.Context, event model.EventName, data any) error {
	f, err := c.request(ctx, event, data)
	if err != nil {
		return err
	}
	var a ack
	if err := json.Unmarshal(f.Data, &a); err != nil {
		return errors.Wrap(err, "decode ack")
	}
	if !a.OK {
		return errors.New(a.Error)
	}
	return nil
}

// Announce registers the connection as userID.
func (c *Conn) Announce(ctx context.Context, userID string) error {
	return c.call(ctx, model.EventUserConnected, userID)
}

func (c *Conn) UserStatus(ctx context.Context, userID string) (model.UserStatusPayload, error) {
	var st model.UserStatusPayload
	f, err := c.request(ctx, model.EventGetUserStatus, userID)
	if err != nil {
		return st, err
	}
	var failed struct {
		OK    *bool  `json:"ok"`
		Error string `json:"error"`
	}
	if json.Unmarshal(f.Data, &failed) == nil && failed.OK != nil && !*failed.OK {
		return st, errors.New(failed.Error)
	}
	err = json.Unmarshal(f.Data, &st)
	return st, errors.Wrap(err, "decode user status")
}

func (c *Conn) StartTyping(p model.TypingPayload) error {
	return c.write(model.EventTypingStart, "", p)
}

func (c *Conn) StopTyping(p model.TypingPayload) error {
	return c.write(model.EventTypingStop, "", p)
}

// React toggles a reaction. The result arrives as reaction_update or
// reaction_error.
func (c *Conn) React(p model.AddReactionPayload) error {
	return c.write(model.EventAddReaction, "", p)
}

// Close sends a close frame and tears the connection down.
func (c *Conn) Close() error {
	c.writeMu.Lock()
	err := c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.writeMu.Unlock()

	select {
	case <-c.done:
	case <-time.After(time.Second):
	}
	c.shutdown(ErrClosed)
	if cerr := c.ws.Close(); err == nil {
		err = cerr
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}
