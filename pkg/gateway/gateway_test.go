package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mahaj/pulse-chat/pkg/auth"
	"github.com/mahaj/pulse-chat/pkg/chat"
	"github.com/mahaj/pulse-chat/pkg/model"
	"github.com/mahaj/pulse-chat/pkg/snowflake"
	"github.com/mahaj/pulse-chat/pkg/store"
)

type frame struct {
	Event model.EventName `json:"event"`
	ID    string          `json:"id"`
	Data  json.RawMessage `json:"data"`
}

type testServer struct {
	hub    *chat.Hub
	signer *auth.Signer
	srv    *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	st := store.NewMemory(node)
	for _, id := range []string{"alice", "bob"} {
		st.AddUser(model.User{ID: id, Username: id})
	}

	log := zaptest.NewLogger(t)
	ts := &testServer{
		hub:    chat.NewHub(chat.Deps{Store: st, Logger: log}),
		signer: auth.NewSigner("test-secret", time.Hour),
	}
	h := NewHandler(ts.hub, ts.signer, nil, log)
	ts.srv = httptest.NewServer(h)
	t.Cleanup(func() {
		h.Shutdown(context.Background())
		ts.srv.Close()
	})
	return ts
}

func (ts *testServer) dial(t *testing.T, user string) *websocket.Conn {
	t.Helper()
	token, err := ts.signer.GenerateToken(user)
	require.NoError(t, err)
	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event model.EventName, id string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(model.Envelope{Event: event, ID: id, Data: raw}))
}

// next reads frames until one named event arrives.
func next(t *testing.T, conn *websocket.Conn, event model.EventName) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var f frame
		require.NoError(t, conn.ReadJSON(&f))
		if f.Event == event {
			return f
		}
	}
}

func announce(t *testing.T, conn *websocket.Conn, user string) {
	t.Helper()
	send(t, conn, model.EventUserConnected, "hello", user)
	f := next(t, conn, model.EventAck)
	var ack ackPayload
	require.NoError(t, json.Unmarshal(f.Data, &ack))
	require.True(t, ack.OK, ack.Error)
}

func TestRejectsMissingOrBadToken(t *testing.T) {
	ts := newTestServer(t)
	base := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "/"

	_, resp, err := websocket.DefaultDialer.Dial(base, nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(base+"?token=garbage", nil)
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAnnounceAcks(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t, "alice")
	announce(t, conn, "alice")

	assert.Eventually(t, func() bool { return ts.hub.Presence().IsOnline("alice") },
		time.Second, 10*time.Millisecond)
}

func TestAnnounceIdentityMismatch(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t, "alice")

	send(t, conn, model.EventUserConnected, "1", map[string]string{"userId": "bob"})
	f := next(t, conn, model.EventAck)
	var ack ackPayload
	require.NoError(t, json.Unmarshal(f.Data, &ack))
	assert.False(t, ack.OK)
	assert.Equal(t, "Identity mismatch", ack.Error)
	assert.False(t, ts.hub.Presence().IsOnline("bob"))
}

func TestGetUserStatus(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.dial(t, "alice")
	announce(t, alice, "alice")

	bob := ts.dial(t, "bob")
	send(t, bob, model.EventGetUserStatus, "q1", "alice")
	f := next(t, bob, model.EventAck)
	assert.Equal(t, "q1", f.ID)

	var st model.UserStatusPayload
	require.NoError(t, json.Unmarshal(f.Data, &st))
	assert.Equal(t, "alice", st.UserID)
	assert.True(t, st.IsOnline)
}

func TestTypingBeforeAnnounceIsRejected(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t, "alice")

	send(t, conn, model.EventTypingStart, "t1", model.TypingPayload{ReceiverID: "bob"})
	f := next(t, conn, model.EventAck)
	var ack ackPayload
	require.NoError(t, json.Unmarshal(f.Data, &ack))
	assert.False(t, ack.OK)
	assert.Equal(t, "Connection not registered", ack.Error)
}

func TestTypingRelayed(t *testing.T) {
	ts := newTestServer(t)
	alice := ts.dial(t, "alice")
	announce(t, alice, "alice")
	bob := ts.dial(t, "bob")
	announce(t, bob, "bob")

	m, err := ts.hub.SendMessage(context.Background(), chat.SendInput{SenderID: "alice", ReceiverID: "bob", Content: "hi"})
	require.NoError(t, err)
	next(t, bob, model.EventMessageRecv)

	send(t, alice, model.EventTypingStart, "", model.TypingPayload{ConversationID: m.ConversationID})
	f := next(t, bob, model.EventUserTyping)

	var p model.UserTypingPayload
	require.NoError(t, json.Unmarshal(f.Data, &p))
	assert.Equal(t, model.UserTypingPayload{UserID: "alice", ConversationID: m.ConversationID, IsTyping: true}, p)
}

func TestMalformedAndUnknownEvents(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t, "alice")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	f := next(t, conn, model.EventError)
	assert.JSONEq(t, `{"message":"Malformed event"}`, string(f.Data))

	send(t, conn, "shout", "", nil)
	f = next(t, conn, model.EventError)
	assert.JSONEq(t, `{"message":"Unknown event shout"}`, string(f.Data))
}

func TestCloseMarksOffline(t *testing.T) {
	ts := newTestServer(t)
	conn := ts.dial(t, "alice")
	announce(t, conn, "alice")
	require.True(t, ts.hub.Presence().IsOnline("alice"))

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return !ts.hub.Presence().IsOnline("alice") },
		2*time.Second, 10*time.Millisecond)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"http://app.example"})
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.True(t, check(req))

	req.Header.Set("Origin", "http://app.example")
	assert.True(t, check(req))

	req.Header.Set("Origin", "http://evil.example")
	assert.False(t, check(req))

	assert.True(t, originChecker([]string{"*"})(req))
}
