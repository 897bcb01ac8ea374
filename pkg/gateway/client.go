package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mahaj/pulse-chat/pkg/apperr"
	"github.com/mahaj/pulse-chat/pkg/chat"
	"github.com/mahaj/pulse-chat/pkg/model"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512

	sendBuffer = 256
)

// Client is a middleman between the websocket connection and the hub. It
// implements presence.Conn.
type Client struct {
	id      string
	conn    *websocket.Conn
	session *chat.Session
	log     *zap.Logger

	// Buffered channel of outbound events. It is never closed; done tells
	// the write pump to stop.
	send      chan model.Event
	done      chan struct{}
	closeOnce sync.Once
}

func (c *Client) ID() string { return c.id }

// Send queues ev without blocking. It reports false once the client is
// closed or its buffer is full.
func (c *Client) Send(ev model.Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		c.conn.Close()
	})
}

// readPump pumps envelopes from the websocket connection to the session.
func (c *Client) readPump() {
	defer func() {
		c.session.Disconnect(context.Background())
		c.close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Info("read failed", zap.Error(err))
			}
			return
		}

		var env model.Envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Event == "" {
			c.Send(model.Event{Event: model.EventError, Data: model.ErrorPayload{Message: "Malformed event"}})
			continue
		}
		c.handle(context.Background(), env)
	}
}

type ackPayload struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func (c *Client) reply(env model.Envelope, err error) {
	if err != nil {
		c.log.Debug("event rejected", zap.String("event", string(env.Event)), zap.Error(err))
	}
	if env.ID == "" {
		if err != nil {
			c.Send(model.Event{Event: model.EventError, Data: model.ErrorPayload{Message: apperr.Message(err)}})
		}
		return
	}
	ack := ackPayload{OK: err == nil}
	if err != nil {
		ack.Error = apperr.Message(err)
	}
	c.Send(model.Event{Event: model.EventAck, ID: env.ID, Data: ack})
}

func (c *Client) handle(ctx context.Context, env model.Envelope) {
	switch env.Event {
	case model.EventUserConnected:
		userID, err := decodeUserID(env.Data)
		if err == nil {
			err = c.session.Announce(ctx, userID)
		}
		c.reply(env, err)

	case model.EventGetUserStatus:
		userID, err := decodeUserID(env.Data)
		if err != nil {
			c.reply(env, err)
			return
		}
		c.Send(model.Event{Event: model.EventAck, ID: env.ID, Data: c.session.UserStatus(ctx, userID)})

	case model.EventTypingStart, model.EventTypingStop:
		var p model.TypingPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			c.reply(env, apperr.Validation("Invalid typing data"))
			return
		}
		var err error
		if env.Event == model.EventTypingStart {
			err = c.session.StartTyping(ctx, p)
		} else {
			err = c.session.StopTyping(ctx, p)
		}
		if err != nil || env.ID != "" {
			c.reply(env, err)
		}

	case model.EventAddReaction:
		var p model.AddReactionPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			c.Send(model.Event{Event: model.EventReactionError, Data: model.ErrorPayload{Message: "Invalid reaction data"}})
			return
		}
		c.session.React(ctx, p)

	default:
		c.reply(env, apperr.Validation("Unknown event "+string(env.Event)))
	}
}

// decodeUserID accepts either a bare JSON string or {"userId": "..."}.
func decodeUserID(data json.RawMessage) (string, error) {
	var id string
	if err := json.Unmarshal(data, &id); err == nil && id != "" {
		return id, nil
	}
	var obj struct {
		UserID string `json:"userId"`
	}
	if err := json.Unmarshal(data, &obj); err == nil && obj.UserID != "" {
		return obj.UserID, nil
	}
	return "", apperr.Validation("User ID required")
}

// writePump pumps events from the hub to the websocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()
	for {
		select {
		case ev := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				c.log.Debug("write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
