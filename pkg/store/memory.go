package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mahaj/pulse-chat/pkg/model"
)

// Memory is a mutex-guarded Store for development and tests.
type Memory struct {
	mu  sync.RWMutex
	ids IDGenerator
	now func() time.Time

	users    map[string]*model.User
	contacts map[string]string // contact key -> user id

	conversations map[int64]*model.Conversation
	pairs         map[string]int64 // pair key -> conversation id

	messages map[int64]*model.Message
	byConv   map[int64][]int64             // ascending message ids
	pending  map[string]map[int64]struct{} // receiver -> sent message ids

	statuses map[int64]*model.StatusPost
}

func NewMemory(ids IDGenerator) *Memory {
	return &Memory{
		ids:           ids,
		now:           time.Now,
		users:         make(map[string]*model.User),
		contacts:      make(map[string]string),
		conversations: make(map[int64]*model.Conversation),
		pairs:         make(map[string]int64),
		messages:      make(map[int64]*model.Message),
		byConv:        make(map[int64][]int64),
		pending:       make(map[string]map[int64]struct{}),
		statuses:      make(map[int64]*model.StatusPost),
	}
}

// AddUser inserts or replaces a user record as is.
func (m *Memory) AddUser(u model.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := u
	m.users[u.ID] = &cp
}

func (m *Memory) UpsertContact(_ context.Context, c model.Contact) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.contacts[c.Key()]; ok {
		u := *m.users[id]
		return &u, nil
	}
	u := &model.User{
		ID:          uuid.NewString(),
		Email:       c.Email,
		PhoneSuffix: c.PhoneSuffix,
		PhoneNumber: c.PhoneNumber,
	}
	m.users[u.ID] = u
	m.contacts[c.Key()] = u.ID
	cp := *u
	return &cp, nil
}

func (m *Memory) FindByContact(_ context.Context, c model.Contact) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.contacts[c.Key()]
	if !ok {
		return nil, ErrNotFound
	}
	u := *m.users[id]
	return &u, nil
}

func (m *Memory) SetOTP(_ context.Context, userID, code string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.OTP = code
	u.OTPExpiresAt = expiresAt
	return nil
}

func (m *Memory) MarkVerified(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.IsVerified = true
	u.OTP = ""
	u.OTPExpiresAt = time.Time{}
	return nil
}

func (m *Memory) User(_ context.Context, id string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *Memory) Users(_ context.Context, ids []string) (map[string]model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]model.User, len(ids))
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			out[id] = *u
		}
	}
	return out, nil
}

func (m *Memory) ListUsers(_ context.Context, exclude string) ([]model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.User, 0, len(m.users))
	for id, u := range m.users {
		if id != exclude {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) UpdateProfile(_ context.Context, userID string, p model.Profile) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	if p.Username != nil {
		u.Username = *p.Username
	}
	if p.About != nil {
		u.About = *p.About
	}
	if p.ProfilePic != nil {
		u.ProfilePic = *p.ProfilePic
	}
	if p.IsAgreed != nil {
		u.IsAgreed = *p.IsAgreed
	}
	cp := *u
	return &cp, nil
}

func (m *Memory) SetPresence(_ context.Context, userID string, online bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	u.IsOnline = online
	t := at
	u.LastSeen = &t
	return nil
}

func (m *Memory) ResolveConversation(_ context.Context, a, b string) (*model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := model.PairKey(a, b)
	if id, ok := m.pairs[key]; ok {
		c := *m.conversations[id]
		return &c, nil
	}
	now := m.now()
	c := &model.Conversation{
		ID:           m.ids.Generate(),
		Participants: model.Pair(a, b),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.conversations[c.ID] = c
	m.pairs[key] = c.ID
	cp := *c
	return &cp, nil
}

func (m *Memory) FindConversation(_ context.Context, a, b string) (*model.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.pairs[model.PairKey(a, b)]
	if !ok {
		return nil, ErrNotFound
	}
	c := *m.conversations[id]
	return &c, nil
}

func (m *Memory) Conversation(_ context.Context, id int64) (*model.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) ConversationsFor(_ context.Context, userID string) ([]model.Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Conversation
	for _, c := range m.conversations {
		if c.HasParticipant(userID) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (m *Memory) TouchConversation(_ context.Context, id int64, lastMessageID *int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}
	c.UnreadCount++
	if lastMessageID != nil {
		v := *lastMessageID
		c.LastMessageID = &v
	}
	c.UpdatedAt = at
	return nil
}

func (m *Memory) ResetUnread(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conversations[id]
	if !ok {
		return ErrNotFound
	}
	c.UnreadCount = 0
	return nil
}

func (m *Memory) InsertMessage(_ context.Context, msg *model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conversations[msg.ConversationID]; !ok {
		return ErrNotFound
	}
	msg.ID = m.ids.Generate()
	now := m.now()
	msg.CreatedAt = now
	msg.UpdatedAt = now
	if msg.Reactions == nil {
		msg.Reactions = []model.Reaction{}
	}

	stored := *msg
	stored.TempID = ""
	stored.Sender = model.UserRef{ID: msg.Sender.ID}
	stored.Receiver = model.UserRef{ID: msg.Receiver.ID}
	stored.Reactions = append([]model.Reaction{}, msg.Reactions...)
	m.messages[stored.ID] = &stored
	m.byConv[stored.ConversationID] = append(m.byConv[stored.ConversationID], stored.ID)
	if stored.Status == model.StatusSent {
		set := m.pending[stored.Receiver.ID]
		if set == nil {
			set = make(map[int64]struct{})
			m.pending[stored.Receiver.ID] = set
		}
		set[stored.ID] = struct{}{}
	}
	return nil
}

func (m *Memory) copyMessage(msg *model.Message) model.Message {
	cp := *msg
	cp.Reactions = append([]model.Reaction{}, msg.Reactions...)
	return cp
}

func (m *Memory) Message(_ context.Context, id int64) (*model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := m.copyMessage(msg)
	return &cp, nil
}

func (m *Memory) ListMessages(_ context.Context, conversationID, before int64, limit int) ([]model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.byConv[conversationID]
	out := make([]model.Message, 0, limit)
	for i := len(ids) - 1; i >= 0 && len(out) < limit; i-- {
		if before != 0 && ids[i] >= before {
			continue
		}
		out = append(out, m.copyMessage(m.messages[ids[i]]))
	}
	return out, nil
}

func (m *Memory) MarkDelivered(_ context.Context, receiverID string) ([]model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.pending[receiverID]
	delete(m.pending, receiverID)

	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	now := m.now()
	var out []model.Message
	for _, id := range ids {
		msg, ok := m.messages[id]
		if !ok || !model.CanAdvance(msg.Status, model.StatusDelivered) {
			continue
		}
		msg.Status = model.StatusDelivered
		msg.UpdatedAt = now
		out = append(out, m.copyMessage(msg))
	}
	return out, nil
}

func (m *Memory) MarkMessageDelivered(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return false, ErrNotFound
	}
	if set := m.pending[msg.Receiver.ID]; set != nil {
		delete(set, id)
	}
	if !model.CanAdvance(msg.Status, model.StatusDelivered) {
		return false, nil
	}
	msg.Status = model.StatusDelivered
	msg.UpdatedAt = m.now()
	return true, nil
}

func (m *Memory) MarkRead(_ context.Context, readerID string, ids []int64) ([]model.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var out []model.Message
	for _, id := range ids {
		msg, ok := m.messages[id]
		if !ok || msg.Receiver.ID != readerID || !model.CanAdvance(msg.Status, model.StatusRead) {
			continue
		}
		msg.Status = model.StatusRead
		msg.UpdatedAt = now
		if set := m.pending[readerID]; set != nil {
			delete(set, id)
		}
		out = append(out, m.copyMessage(msg))
	}
	return out, nil
}

func (m *Memory) ToggleReaction(_ context.Context, messageID int64, userID, emoji string) ([]model.Reaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageID]
	if !ok {
		return nil, ErrNotFound
	}
	msg.Reactions, _ = model.ToggleReaction(msg.Reactions, userID, emoji)
	return append([]model.Reaction{}, msg.Reactions...), nil
}

func (m *Memory) DeleteMessage(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.messages, id)
	if set := m.pending[msg.Receiver.ID]; set != nil {
		delete(set, id)
	}
	ids := m.byConv[msg.ConversationID]
	for i, v := range ids {
		if v == id {
			m.byConv[msg.ConversationID] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
	if c, ok := m.conversations[msg.ConversationID]; ok && c.LastMessageID != nil && *c.LastMessageID == id {
		c.LastMessageID = nil
	}
	return nil
}

func (m *Memory) InsertStatus(_ context.Context, s *model.StatusPost) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = m.ids.Generate()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = m.now()
	}
	if s.ExpiresAt.IsZero() {
		s.ExpiresAt = s.CreatedAt.Add(model.StatusPostTTL)
	}
	if s.Viewers == nil {
		s.Viewers = []string{}
	}
	cp := *s
	cp.User = model.UserRef{ID: s.User.ID}
	cp.Viewers = append([]string{}, s.Viewers...)
	m.statuses[cp.ID] = &cp
	return nil
}

func (m *Memory) copyStatus(s *model.StatusPost) model.StatusPost {
	cp := *s
	cp.Viewers = append([]string{}, s.Viewers...)
	return cp
}

func (m *Memory) Status(_ context.Context, id int64) (*model.StatusPost, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.statuses[id]
	if !ok || s.Expired(m.now()) {
		return nil, ErrNotFound
	}
	cp := m.copyStatus(s)
	return &cp, nil
}

func (m *Memory) ActiveStatuses(_ context.Context, now time.Time) ([]model.StatusPost, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.StatusPost
	for _, s := range m.statuses {
		if !s.Expired(now) {
			out = append(out, m.copyStatus(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *Memory) AddViewer(_ context.Context, statusID int64, viewerID string) (*model.StatusPost, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.statuses[statusID]
	if !ok || s.Expired(m.now()) {
		return nil, false, ErrNotFound
	}
	added := !s.ViewedBy(viewerID)
	if added {
		s.Viewers = append(s.Viewers, viewerID)
	}
	cp := m.copyStatus(s)
	return &cp, added, nil
}

func (m *Memory) DeleteStatus(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.statuses[id]; !ok {
		return ErrNotFound
	}
	delete(m.statuses, id)
	return nil
}
