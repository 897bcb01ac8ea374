package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mahaj/pulse-chat/pkg/apperr"
	"github.com/mahaj/pulse-chat/pkg/journal"
	"github.com/mahaj/pulse-chat/pkg/media"
	"github.com/mahaj/pulse-chat/pkg/model"
	"github.com/mahaj/pulse-chat/pkg/ratelimit"
	"github.com/mahaj/pulse-chat/pkg/snowflake"
	"github.com/mahaj/pulse-chat/pkg/store"
	"github.com/mahaj/pulse-chat/pkg/typing"
)

type fakeConn struct {
	id string

	mu     sync.Mutex
	events []model.Event
	closed bool
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(ev model.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.events = append(c.events, ev)
	return true
}

func (c *fakeConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) of(name model.EventName) []model.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []model.Event
	for _, ev := range c.events {
		if ev.Event == name {
			out = append(out, ev)
		}
	}
	return out
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
}

type fakeJournal struct {
	mu      sync.Mutex
	records []journal.Record
}

func (j *fakeJournal) Append(_ context.Context, r journal.Record) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.records = append(j.records, r)
}

func (j *fakeJournal) Close() error { return nil }

func (j *fakeJournal) kinds() []journal.Kind {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []journal.Kind
	for _, r := range j.records {
		out = append(out, r.Kind)
	}
	return out
}

type fakeUploader struct {
	calls int
	err   error
}

func (u *fakeUploader) Upload(_ context.Context, up media.Upload) (string, error) {
	u.calls++
	if u.err != nil {
		return "", u.err
	}
	return "/media/" + up.Filename, nil
}

// presenceCounter counts presence writes so tests can check disconnect
// idempotence.
type presenceCounter struct {
	*store.Memory
	mu     sync.Mutex
	online int
	off    int
}

func (p *presenceCounter) SetPresence(ctx context.Context, userID string, online bool, at time.Time) error {
	p.mu.Lock()
	if online {
		p.online++
	} else {
		p.off++
	}
	p.mu.Unlock()
	return p.Memory.SetPresence(ctx, userID, online, at)
}

type fixture struct {
	hub      *Hub
	store    *presenceCounter
	journal  *fakeJournal
	uploader *fakeUploader
	limiter  *ratelimit.Memory
	now      time.Time
	conns    int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	f := &fixture{
		store:    &presenceCounter{Memory: store.NewMemory(node)},
		journal:  &fakeJournal{},
		uploader: &fakeUploader{},
		limiter:  ratelimit.NewMemory(7, 10*time.Second),
		now:      time.Now().UTC().Truncate(time.Second),
	}
	clock := func() time.Time { return f.now }
	f.limiter.SetClock(clock)
	tr := typing.NewTracker(4 * time.Second)
	tr.SetClock(clock)

	f.hub = NewHub(Deps{
		Store:    f.store,
		Typing:   tr,
		Limiter:  f.limiter,
		Uploader: f.uploader,
		Journal:  f.journal,
		Logger:   zaptest.NewLogger(t),
	})
	f.hub.now = clock

	for _, id := range []string{"alice", "bob", "carol"} {
		f.store.AddUser(model.User{ID: id, Username: id, ProfilePic: id + ".png"})
	}
	return f
}

func (f *fixture) connect(t *testing.T, user string) (*Session, *fakeConn) {
	t.Helper()
	f.conns++
	conn := &fakeConn{id: fmt.Sprintf("%s-%d", user, f.conns)}
	s := f.hub.NewSession(conn, user)
	require.NoError(t, s.Announce(context.Background(), user))
	return s, conn
}

func (f *fixture) send(t *testing.T, from, to, text string) *model.Message {
	t.Helper()
	m, err := f.hub.SendMessage(context.Background(), SendInput{SenderID: from, ReceiverID: to, Content: text})
	require.NoError(t, err)
	return m
}

func statusUpdates(c *fakeConn) []model.StatusUpdatePayload {
	var out []model.StatusUpdatePayload
	for _, ev := range c.of(model.EventStatusUpdate) {
		out = append(out, ev.Data.(model.StatusUpdatePayload))
	}
	return out
}

func TestSendToOnlineReceiver(t *testing.T) {
	f := newFixture(t)
	_, alice := f.connect(t, "alice")
	_, bob := f.connect(t, "bob")
	alice.reset()

	m := f.send(t, "alice", "bob", "hi")
	assert.Equal(t, model.StatusDelivered, m.Status)
	assert.Equal(t, "alice", m.Sender.Username)

	conv, err := f.store.FindConversation(context.Background(), "bob", "alice")
	require.NoError(t, err)
	assert.Equal(t, conv.ID, m.ConversationID)
	require.NotNil(t, conv.LastMessageID)
	assert.Equal(t, m.ID, *conv.LastMessageID)
	assert.EqualValues(t, 1, conv.UnreadCount)

	got := bob.of(model.EventMessageRecv)
	require.Len(t, got, 1)
	pushed := got[0].Data.(model.Message)
	assert.Equal(t, m.ID, pushed.ID)
	assert.Equal(t, "hi", pushed.Content)
	assert.Equal(t, "bob.png", pushed.Receiver.ProfilePic)

	assert.Equal(t, []model.StatusUpdatePayload{{MessageID: m.ID, Status: model.StatusDelivered}}, statusUpdates(alice))
	assert.Equal(t, model.StatusDelivered, pushed.Status)
	assert.Equal(t, []journal.Kind{journal.KindSent, journal.KindDelivered}, f.journal.kinds())

	stored, err := f.store.Message(context.Background(), m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDelivered, stored.Status)
}

func TestSendToOfflineReceiverCatchesUpOnConnect(t *testing.T) {
	f := newFixture(t)
	_, alice := f.connect(t, "alice")

	var sent []*model.Message
	for _, text := range []string{"one", "two", "three"} {
		m := f.send(t, "alice", "bob", text)
		assert.Equal(t, model.StatusSent, m.Status)
		sent = append(sent, m)
	}
	assert.Empty(t, statusUpdates(alice))

	_, bob := f.connect(t, "bob")
	assert.Empty(t, bob.of(model.EventMessageRecv), "catch-up does not replay messages")

	ups := statusUpdates(alice)
	require.Len(t, ups, 3)
	for i, m := range sent {
		assert.Equal(t, m.ID, ups[i].MessageID)
		assert.Equal(t, model.StatusDelivered, ups[i].Status)

		stored, err := f.store.Message(context.Background(), m.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusDelivered, stored.Status)
	}
}

func TestConversationCreatedOnce(t *testing.T) {
	f := newFixture(t)
	a := f.send(t, "alice", "bob", "hi")
	b := f.send(t, "bob", "alice", "hey")
	assert.Equal(t, a.ConversationID, b.ConversationID)

	list, err := f.store.ConversationsFor(context.Background(), "alice")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSendRateLimited(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		f.send(t, "alice", "bob", "spam")
	}
	_, err := f.hub.SendMessage(ctx, SendInput{SenderID: "alice", ReceiverID: "bob", Content: "spam"})
	require.Error(t, err)
	assert.Equal(t, apperr.KindThrottled, apperr.KindOf(err))
	assert.Equal(t, "Too many messages. Slow down.", apperr.Message(err))

	conv, _ := f.store.FindConversation(ctx, "alice", "bob")
	msgs, _ := f.store.ListMessages(ctx, conv.ID, 0, 100)
	assert.Len(t, msgs, 7)

	f.send(t, "bob", "alice", "other senders are not limited")

	f.now = f.now.Add(10 * time.Second)
	f.send(t, "alice", "bob", "new window")
}

func TestSendValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   SendInput
		msg  string
	}{
		{"blank", SendInput{SenderID: "alice", ReceiverID: "bob", Content: "  "}, "Message required"},
		{"no receiver", SendInput{SenderID: "alice", Content: "hi"}, "Receiver ID required"},
		{"self", SendInput{SenderID: "alice", ReceiverID: "alice", Content: "hi"}, "Cannot send a message to yourself"},
		{"pdf", SendInput{SenderID: "alice", ReceiverID: "bob", Media: &media.Upload{
			Filename: "a.pdf", MIME: "application/pdf", Body: strings.NewReader("x"),
		}}, "Unsupported file type"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.hub.SendMessage(ctx, tc.in)
			require.Error(t, err)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
			assert.Equal(t, tc.msg, apperr.Message(err))
		})
	}
	assert.Zero(t, f.uploader.calls)

	_, err := f.store.FindConversation(ctx, "alice", "bob")
	assert.ErrorIs(t, err, store.ErrNotFound, "nothing persisted")
}

func TestSendMedia(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.hub.SendMessage(ctx, SendInput{SenderID: "alice", ReceiverID: "bob", Media: &media.Upload{
		Filename: "cat.png", MIME: "image/png", Body: strings.NewReader("png"),
	}})
	require.NoError(t, err)
	assert.Equal(t, model.ContentImage, m.ContentType)
	assert.Equal(t, "/media/cat.png", m.MediaURL)

	conv, _ := f.store.Conversation(ctx, m.ConversationID)
	assert.Nil(t, conv.LastMessageID, "media without text does not move the preview")
	assert.EqualValues(t, 1, conv.UnreadCount)
}

func TestSendUploadFailurePersistsNothing(t *testing.T) {
	f := newFixture(t)
	f.uploader.err = errors.New("bucket unavailable")

	_, err := f.hub.SendMessage(context.Background(), SendInput{SenderID: "alice", ReceiverID: "bob", Media: &media.Upload{
		Filename: "clip.mp4", MIME: "video/mp4", Body: strings.NewReader("mp4"),
	}})
	require.Error(t, err)
	assert.Equal(t, apperr.KindUpstream, apperr.KindOf(err))

	_, err = f.store.FindConversation(context.Background(), "alice", "bob")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDroppedPushCaughtUpOnReconnect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, alice := f.connect(t, "alice")
	oldBob, bob := f.connect(t, "bob")
	alice.reset()
	bob.close()

	m := f.send(t, "alice", "bob", "hi")
	assert.Equal(t, model.StatusSent, m.Status)
	assert.Empty(t, statusUpdates(alice), "no delivered confirmation without a successful push")

	stored, err := f.store.Message(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSent, stored.Status)

	oldBob.Disconnect(ctx)
	f.connect(t, "bob")

	assert.Equal(t, []model.StatusUpdatePayload{{MessageID: m.ID, Status: model.StatusDelivered}}, statusUpdates(alice))
	stored, err = f.store.Message(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDelivered, stored.Status)
}

func TestDisconnectIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, bob := f.connect(t, "bob")
	s, _ := f.connect(t, "alice")
	bob.reset()

	f.now = f.now.Add(time.Minute)
	s.Disconnect(ctx)
	first := f.now
	f.now = f.now.Add(time.Minute)
	s.Disconnect(ctx)
	s.Disconnect(ctx)

	assert.Equal(t, 1, f.store.off)
	assert.Equal(t, Disconnected, s.State())
	assert.False(t, f.hub.Presence().IsOnline("alice"))

	u, _ := f.store.User(ctx, "alice")
	assert.False(t, u.IsOnline)
	require.NotNil(t, u.LastSeen)
	assert.Equal(t, first, *u.LastSeen)

	offline := bob.of(model.EventUserStatus)
	require.Len(t, offline, 1)
	st := offline[0].Data.(model.UserStatusPayload)
	assert.False(t, st.IsOnline)
	assert.Equal(t, first, *st.LastSeen)

	assert.Error(t, s.Announce(ctx, "alice"), "a closed session cannot register again")
}

func TestSupersededConnectionStaysOnline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, bob := f.connect(t, "bob")

	oldTab, _ := f.connect(t, "alice")
	_, newTab := f.connect(t, "alice")
	bob.reset()

	oldTab.Disconnect(ctx)
	assert.True(t, f.hub.Presence().IsOnline("alice"))
	assert.Zero(t, f.store.off)
	assert.Empty(t, bob.of(model.EventUserStatus))

	f.send(t, "bob", "alice", "reaches the new tab")
	assert.Len(t, newTab.of(model.EventMessageRecv), 1)
}

// gatedPresence holds the first online write for user until release is
// closed.
type gatedPresence struct {
	store.Store
	user    string
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedPresence) SetPresence(ctx context.Context, userID string, online bool, at time.Time) error {
	if online && userID == g.user {
		g.once.Do(func() {
			close(g.entered)
			<-g.release
		})
	}
	return g.Store.SetPresence(ctx, userID, online, at)
}

func TestStaleCloseDuringReconnectKeepsUserOnline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	oldTab, _ := f.connect(t, "alice")

	gate := &gatedPresence{Store: f.store, user: "alice", entered: make(chan struct{}), release: make(chan struct{})}
	f.hub.store = gate

	newTab := f.hub.NewSession(&fakeConn{id: "alice-new"}, "alice")
	announced := make(chan error, 1)
	go func() { announced <- newTab.Announce(ctx, "alice") }()
	<-gate.entered

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		oldTab.Disconnect(ctx)
	}()
	select {
	case <-closed:
		t.Fatal("old tab closed while the reconnect was still registering")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate.release)
	require.NoError(t, <-announced)
	<-closed

	assert.True(t, f.hub.Presence().IsOnline("alice"))
	u, err := f.store.User(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, u.IsOnline)
	assert.Zero(t, f.store.off)
}

func TestConnectBroadcastsPresence(t *testing.T) {
	f := newFixture(t)
	_, bob := f.connect(t, "bob")
	_, alice := f.connect(t, "alice")

	got := bob.of(model.EventUserStatus)
	require.Len(t, got, 1)
	assert.Equal(t, model.UserStatusPayload{UserID: "alice", IsOnline: true, LastSeen: &f.now}, got[0].Data)
	assert.Empty(t, alice.of(model.EventUserStatus), "no self broadcast")
	assert.Equal(t, 2, f.store.online)
}

func TestAnnounceRequiresMatchingIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.hub.NewSession(&fakeConn{id: "c1"}, "alice")

	err := s.Announce(ctx, "bob")
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	assert.Equal(t, Unauthenticated, s.State())

	err = s.StartTyping(ctx, model.TypingPayload{ReceiverID: "bob"})
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))

	require.NoError(t, s.Announce(ctx, "alice"))
	require.NoError(t, s.Announce(ctx, "alice"), "re-announce is a no-op")
	assert.Equal(t, 1, f.store.online)
}

func TestUserStatusQuery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s, _ := f.connect(t, "alice")

	st := s.UserStatus(ctx, "alice")
	assert.True(t, st.IsOnline)
	assert.Equal(t, f.now, *st.LastSeen)

	seen := f.now.Add(-time.Hour)
	require.NoError(t, f.store.Memory.SetPresence(ctx, "bob", false, seen))
	st = s.UserStatus(ctx, "bob")
	assert.False(t, st.IsOnline)
	assert.Equal(t, seen, *st.LastSeen)

	st = s.UserStatus(ctx, "ghost")
	assert.Equal(t, model.UserStatusPayload{UserID: "ghost"}, st)
}

func reactionUpdates(c *fakeConn) []model.ReactionUpdatePayload {
	var out []model.ReactionUpdatePayload
	for _, ev := range c.of(model.EventReactionUpdate) {
		out = append(out, ev.Data.(model.ReactionUpdatePayload))
	}
	return out
}

func TestReactionToggleFansOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, alice := f.connect(t, "alice")
	bobSession, bob := f.connect(t, "bob")
	_, carol := f.connect(t, "carol")
	m := f.send(t, "alice", "bob", "hi")

	bobSession.React(ctx, model.AddReactionPayload{MessageID: m.ID, Emoji: "👍", UserID: "bob"})
	for _, c := range []*fakeConn{alice, bob} {
		ups := reactionUpdates(c)
		require.Len(t, ups, 1)
		require.Len(t, ups[0].Reactions, 1)
		assert.Equal(t, "bob", ups[0].Reactions[0].User)
		assert.Equal(t, "bob.png", ups[0].Reactions[0].UserDetails.ProfilePic)
	}
	assert.Empty(t, reactionUpdates(carol), "only participants")

	bobSession.React(ctx, model.AddReactionPayload{MessageID: m.ID, Emoji: "👍"})
	assert.Empty(t, reactionUpdates(alice)[1].Reactions, "same pair toggles off")

	bobSession.React(ctx, model.AddReactionPayload{MessageID: m.ID, Emoji: "👍"})
	bobSession.React(ctx, model.AddReactionPayload{MessageID: m.ID, Emoji: "❤️"})
	last := reactionUpdates(alice)[3]
	require.Len(t, last.Reactions, 2)
	assert.Equal(t, "👍", last.Reactions[0].Emoji)
	assert.Equal(t, "❤️", last.Reactions[1].Emoji)
	assert.Empty(t, bob.of(model.EventReactionError))
}

func TestReactionErrorsGoToRequester(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, alice := f.connect(t, "alice")
	bobSession, bob := f.connect(t, "bob")
	carolSession, carol := f.connect(t, "carol")
	m := f.send(t, "alice", "bob", "hi")

	bobSession.React(ctx, model.AddReactionPayload{MessageID: m.ID})
	bobSession.React(ctx, model.AddReactionPayload{MessageID: m.ID + 1000, Emoji: "👍"})
	carolSession.React(ctx, model.AddReactionPayload{MessageID: m.ID, Emoji: "👍"})

	var msgs []string
	for _, ev := range bob.of(model.EventReactionError) {
		msgs = append(msgs, ev.Data.(model.ErrorPayload).Message)
	}
	assert.Equal(t, []string{"Invalid reaction data", "Message not found"}, msgs)

	errs := carol.of(model.EventReactionError)
	require.Len(t, errs, 1)
	assert.Equal(t, "Not authorized", errs[0].Data.(model.ErrorPayload).Message)

	assert.Empty(t, alice.of(model.EventReactionError))
	assert.Empty(t, reactionUpdates(alice))
}

func typingEvents(c *fakeConn) []model.UserTypingPayload {
	var out []model.UserTypingPayload
	for _, ev := range c.of(model.EventUserTyping) {
		out = append(out, ev.Data.(model.UserTypingPayload))
	}
	return out
}

func TestTypingTransitionsAndExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, _ := f.connect(t, "alice")
	_, bob := f.connect(t, "bob")
	m := f.send(t, "alice", "bob", "hi")
	p := model.TypingPayload{ConversationID: m.ConversationID, ReceiverID: "bob"}

	require.NoError(t, alice.StartTyping(ctx, p))
	require.NoError(t, alice.StartTyping(ctx, p))
	assert.Equal(t, []model.UserTypingPayload{{UserID: "alice", ConversationID: m.ConversationID, IsTyping: true}}, typingEvents(bob))

	require.NoError(t, alice.StopTyping(ctx, p))
	require.NoError(t, alice.StopTyping(ctx, p))
	ev := typingEvents(bob)
	require.Len(t, ev, 2)
	assert.False(t, ev[1].IsTyping)

	require.NoError(t, alice.StartTyping(ctx, p))
	for _, e := range f.hub.typing.Sweep(f.now.Add(4 * time.Second)) {
		f.hub.typingExpired(e)
	}
	ev = typingEvents(bob)
	require.Len(t, ev, 4)
	assert.True(t, ev[2].IsTyping)
	assert.False(t, ev[3].IsTyping, "expired without typing-stop")
}

func TestTypingClearedOnDisconnect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, _ := f.connect(t, "alice")
	_, bob := f.connect(t, "bob")
	f.send(t, "alice", "bob", "hi")

	require.NoError(t, alice.StartTyping(ctx, model.TypingPayload{ReceiverID: "bob"}))
	alice.Disconnect(ctx)

	ev := typingEvents(bob)
	require.Len(t, ev, 2)
	assert.False(t, ev[1].IsTyping)
	assert.Zero(t, f.hub.typing.Len())
}

func TestTypingSnapshotOnConnect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice, _ := f.connect(t, "alice")
	m := f.send(t, "alice", "bob", "hi")
	require.NoError(t, alice.StartTyping(ctx, model.TypingPayload{ReceiverID: "bob"}))

	_, bob := f.connect(t, "bob")
	assert.Equal(t, []model.UserTypingPayload{{UserID: "alice", ConversationID: m.ConversationID, IsTyping: true}}, typingEvents(bob))

	_, carol := f.connect(t, "carol")
	assert.Empty(t, typingEvents(carol), "not a participant")
}

func TestTypingRejectsOutsiders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	carol, _ := f.connect(t, "carol")
	m := f.send(t, "alice", "bob", "hi")

	err := carol.StartTyping(ctx, model.TypingPayload{ConversationID: m.ConversationID})
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	require.NoError(t, carol.StartTyping(ctx, model.TypingPayload{ReceiverID: "alice"}), "no conversation yet")
	assert.Zero(t, f.hub.typing.Len())
}

func TestMarkReadNotifiesSender(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, alice := f.connect(t, "alice")
	f.connect(t, "bob")
	m1 := f.send(t, "alice", "bob", "one")
	m2 := f.send(t, "alice", "bob", "two")
	alice.reset()

	read, err := f.hub.MarkRead(ctx, "bob", []int64{m1.ID, m2.ID})
	require.NoError(t, err)
	assert.Len(t, read, 2)
	assert.Equal(t, []model.StatusUpdatePayload{
		{MessageID: m1.ID, Status: model.StatusRead},
		{MessageID: m2.ID, Status: model.StatusRead},
	}, statusUpdates(alice))

	conv, _ := f.store.Conversation(ctx, m1.ConversationID)
	assert.Zero(t, conv.UnreadCount)

	read, err = f.hub.MarkRead(ctx, "bob", []int64{m1.ID})
	require.NoError(t, err)
	assert.Empty(t, read)
	read, _ = f.hub.MarkRead(ctx, "alice", []int64{m2.ID})
	assert.Empty(t, read, "senders cannot mark their own messages read")
	assert.Len(t, statusUpdates(alice), 2)

	_, err = f.hub.MarkRead(ctx, "bob", nil)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestReadNeverRegressesOnReconnect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, alice := f.connect(t, "alice")
	m := f.send(t, "alice", "bob", "hi")

	bob, _ := f.connect(t, "bob")
	_, err := f.hub.MarkRead(ctx, "bob", []int64{m.ID})
	require.NoError(t, err)
	bob.Disconnect(ctx)
	alice.reset()

	f.connect(t, "bob")
	assert.Empty(t, statusUpdates(alice))
	stored, _ := f.store.Message(ctx, m.ID)
	assert.Equal(t, model.StatusRead, stored.Status)
}

func TestDeleteMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, bob := f.connect(t, "bob")
	m := f.send(t, "alice", "bob", "oops")

	err := f.hub.DeleteMessage(ctx, "bob", m.ID)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	require.NoError(t, f.hub.DeleteMessage(ctx, "alice", m.ID))
	got := bob.of(model.EventMessageDeleted)
	require.Len(t, got, 1)
	assert.Equal(t, model.ID(m.ID), got[0].Data)

	conv, _ := f.store.Conversation(ctx, m.ConversationID)
	assert.Nil(t, conv.LastMessageID)

	err = f.hub.DeleteMessage(ctx, "alice", m.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	assert.Contains(t, f.journal.kinds(), journal.KindDeleted)
}

func TestMessagesPagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.hub.limiter = ratelimit.NewMemory(1000, time.Second)

	var ids []int64
	for i := 0; i < 40; i++ {
		ids = append(ids, f.send(t, "alice", "bob", "msg").ID)
	}
	conv, _ := f.store.FindConversation(ctx, "alice", "bob")

	first, err := f.hub.Messages(ctx, "bob", conv.ID, 0)
	require.NoError(t, err)
	require.Len(t, first.Messages, PageSize)
	assert.True(t, first.HasMore)
	require.NotNil(t, first.NextCursor)
	assert.Equal(t, ids[20], *first.NextCursor, "cursor is the 21st-oldest message")
	assert.Equal(t, ids[20], first.Messages[0].ID)
	assert.Equal(t, ids[39], first.Messages[19].ID)

	second, err := f.hub.Messages(ctx, "bob", conv.ID, *first.NextCursor)
	require.NoError(t, err)
	require.Len(t, second.Messages, PageSize)
	assert.False(t, second.HasMore)
	assert.Nil(t, second.NextCursor)
	for i, m := range second.Messages {
		assert.Equal(t, ids[i], m.ID, "ascending order")
	}
	assert.Equal(t, "alice", second.Messages[0].Sender.Username)

	_, err = f.hub.Messages(ctx, "carol", conv.ID, 0)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	_, err = f.hub.Messages(ctx, "bob", 12345, 0)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestConversationsAndPeers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.connect(t, "bob")
	m := f.send(t, "alice", "bob", "hi")
	f.now = f.now.Add(time.Minute)
	f.send(t, "carol", "alice", "yo")

	views, err := f.hub.Conversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, "yo", views[0].LastMessage.Content)
	assert.Equal(t, m.ID, views[1].LastMessage.ID)
	for _, u := range views[1].Participants {
		assert.Equal(t, u.ID == "bob", u.IsOnline)
	}

	peers, err := f.hub.Peers(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, peers, 2)
	assert.Equal(t, "bob", peers[0].ID)
	assert.True(t, peers[0].IsOnline)
	require.NotNil(t, peers[0].Conversation)
	assert.Equal(t, m.ConversationID, peers[0].Conversation.ID)
}

func TestStatusPosts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, alice := f.connect(t, "alice")
	_, bob := f.connect(t, "bob")

	s, err := f.hub.PostStatus(ctx, "alice", "good morning", nil)
	require.NoError(t, err)
	assert.Equal(t, f.now.Add(model.StatusPostTTL), s.ExpiresAt)
	require.Len(t, bob.of(model.EventNewStatus), 1)
	assert.Empty(t, alice.of(model.EventNewStatus))

	_, err = f.hub.PostStatus(ctx, "alice", " ", nil)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.hub.ViewStatus(ctx, "bob", s.ID)
	require.NoError(t, err)
	_, err = f.hub.ViewStatus(ctx, "bob", s.ID)
	require.NoError(t, err)
	_, err = f.hub.ViewStatus(ctx, "alice", s.ID)
	require.NoError(t, err)

	views := alice.of(model.EventStatusViewed)
	require.Len(t, views, 1)
	assert.Equal(t, model.StatusViewedPayload{
		StatusID: s.ID, ViewerID: "bob", Viewers: []string{"bob"}, TotalViewers: 1,
	}, views[0].Data)

	err = f.hub.DeleteStatus(ctx, "bob", s.ID)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	require.NoError(t, f.hub.DeleteStatus(ctx, "alice", s.ID))
	deleted := bob.of(model.EventStatusDeleted)
	require.Len(t, deleted, 1)
	assert.Equal(t, model.ID(s.ID), deleted[0].Data)

	list, err := f.hub.Statuses(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}
