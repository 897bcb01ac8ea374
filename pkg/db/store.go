package db

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/mahaj/pulse-chat/pkg/model"
	"github.com/mahaj/pulse-chat/pkg/store"
)

// Store implements store.Store on Scylla. Status transitions and reaction
// toggles go through lightweight transactions so concurrent writers cannot
// move a message backwards or duplicate a reaction.
type Store struct {
	s   *Session
	ids store.IDGenerator
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

func NewStore(s *Session, ids store.IDGenerator) *Store {
	return &Store{s: s, ids: ids, now: time.Now}
}

func notFound(err error) error {
	if errors.Is(err, gocql.ErrNotFound) {
		return store.ErrNotFound
	}
	return err
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Users

const userColumns = `id, username, about, profile_pic, email, phone_suffix, phone_number,
	is_online, last_seen, is_verified, is_agreed, otp, otp_expires`

type userRow struct {
	u        model.User
	lastSeen time.Time
}

func (r *userRow) dest() []interface{} {
	u := &r.u
	return []interface{}{&u.ID, &u.Username, &u.About, &u.ProfilePic, &u.Email, &u.PhoneSuffix,
		&u.PhoneNumber, &u.IsOnline, &r.lastSeen, &u.IsVerified, &u.IsAgreed, &u.OTP, &u.OTPExpiresAt}
}

func (r *userRow) user() model.User {
	u := r.u
	u.LastSeen = optionalTime(r.lastSeen)
	return u
}

func (st *Store) UpsertContact(ctx context.Context, c model.Contact) (*model.User, error) {
	id := uuid.NewString()
	existing := map[string]interface{}{}
	applied, err := st.s.Query(`INSERT INTO user_contacts (contact_key, user_id) VALUES (?, ?) IF NOT EXISTS`,
		c.Key(), id).WithContext(ctx).MapScanCAS(existing)
	if err != nil {
		return nil, errors.Wrap(err, "claim contact")
	}
	if !applied {
		owner, _ := existing["user_id"].(string)
		u, err := st.User(ctx, owner)
		if errors.Is(err, store.ErrNotFound) {
			// The winning writer has not inserted the user row yet.
			return &model.User{ID: owner, Email: c.Email, PhoneSuffix: c.PhoneSuffix, PhoneNumber: c.PhoneNumber}, nil
		}
		return u, err
	}

	u := &model.User{ID: id, Email: c.Email, PhoneSuffix: c.PhoneSuffix, PhoneNumber: c.PhoneNumber}
	err = st.s.Query(`INSERT INTO users (id, email, phone_suffix, phone_number, is_online, is_verified, is_agreed)
		VALUES (?, ?, ?, ?, false, false, false)`,
		u.ID, u.Email, u.PhoneSuffix, u.PhoneNumber).WithContext(ctx).Exec()
	if err != nil {
		return nil, errors.Wrap(err, "insert user")
	}
	return u, nil
}

func (st *Store) FindByContact(ctx context.Context, c model.Contact) (*model.User, error) {
	var id string
	err := st.s.Query(`SELECT user_id FROM user_contacts WHERE contact_key = ?`, c.Key()).
		WithContext(ctx).Scan(&id)
	if err != nil {
		return nil, notFound(err)
	}
	return st.User(ctx, id)
}

// updateExisting runs an UPDATE ... IF EXISTS and maps a missed row to
// store.ErrNotFound.
func (st *Store) updateExisting(ctx context.Context, stmt string, args ...interface{}) error {
	applied, err := st.s.Query(stmt, args...).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return err
	}
	if !applied {
		return store.ErrNotFound
	}
	return nil
}

func (st *Store) SetOTP(ctx context.Context, userID, code string, expiresAt time.Time) error {
	return st.updateExisting(ctx, `UPDATE users SET otp = ?, otp_expires = ? WHERE id = ? IF EXISTS`,
		code, expiresAt, userID)
}

func (st *Store) MarkVerified(ctx context.Context, userID string) error {
	return st.updateExisting(ctx, `UPDATE users SET is_verified = true, otp = null, otp_expires = null WHERE id = ? IF EXISTS`,
		userID)
}

func (st *Store) User(ctx context.Context, id string) (*model.User, error) {
	var row userRow
	err := st.s.Query(`SELECT `+userColumns+` FROM users WHERE id = ?`, id).
		WithContext(ctx).Scan(row.dest()...)
	if err != nil {
		return nil, notFound(err)
	}
	u := row.user()
	return &u, nil
}

func (st *Store) Users(ctx context.Context, ids []string) (map[string]model.User, error) {
	out := make(map[string]model.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	iter := st.s.Query(`SELECT `+userColumns+` FROM users WHERE id IN ?`, ids).WithContext(ctx).Iter()
	var row userRow
	for iter.Scan(row.dest()...) {
		out[row.u.ID] = row.user()
		row = userRow{}
	}
	if err := iter.Close(); err != nil {
		return nil, errors.Wrap(err, "load users")
	}
	return out, nil
}

func (st *Store) ListUsers(ctx context.Context, exclude string) ([]model.User, error) {
	iter := st.s.Query(`SELECT ` + userColumns + ` FROM users`).WithContext(ctx).Iter()
	var out []model.User
	var row userRow
	for iter.Scan(row.dest()...) {
		if row.u.ID != exclude {
			out = append(out, row.user())
		}
		row = userRow{}
	}
	if err := iter.Close(); err != nil {
		return nil, errors.Wrap(err, "list users")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (st *Store) UpdateProfile(ctx context.Context, userID string, p model.Profile) (*model.User, error) {
	var sets []string
	var args []interface{}
	if p.Username != nil {
		sets, args = append(sets, "username = ?"), append(args, *p.Username)
	}
	if p.About != nil {
		sets, args = append(sets, "about = ?"), append(args, *p.About)
	}
	if p.ProfilePic != nil {
		sets, args = append(sets, "profile_pic = ?"), append(args, *p.ProfilePic)
	}
	if p.IsAgreed != nil {
		sets, args = append(sets, "is_agreed = ?"), append(args, *p.IsAgreed)
	}
	if len(sets) > 0 {
		stmt := `UPDATE users SET ` + strings.Join(sets, ", ") + ` WHERE id = ? IF EXISTS`
		if err := st.updateExisting(ctx, stmt, append(args, userID)...); err != nil {
			return nil, err
		}
	}
	return st.User(ctx, userID)
}

func (st *Store) SetPresence(ctx context.Context, userID string, online bool, at time.Time) error {
	return st.s.Query(`UPDATE users SET is_online = ?, last_seen = ? WHERE id = ?`, online, at, userID).
		WithContext(ctx).Exec()
}

// Conversations

const conversationColumns = `id, participant_a, participant_b, last_message_id, created_at, updated_at`

type conversationRow struct {
	c    model.Conversation
	last int64
}

func (r *conversationRow) dest() []interface{} {
	c := &r.c
	return []interface{}{&c.ID, &c.Participants[0], &c.Participants[1], &r.last, &c.CreatedAt, &c.UpdatedAt}
}

func (r *conversationRow) conversation() model.Conversation {
	c := r.c
	if r.last != 0 {
		v := r.last
		c.LastMessageID = &v
	}
	return c
}

func (st *Store) ResolveConversation(ctx context.Context, a, b string) (*model.Conversation, error) {
	c, err := st.FindConversation(ctx, a, b)
	if err == nil || !errors.Is(err, store.ErrNotFound) {
		return c, err
	}

	id := st.ids.Generate()
	existing := map[string]interface{}{}
	applied, err := st.s.Query(`INSERT INTO conversation_pairs (pair_key, conversation_id) VALUES (?, ?) IF NOT EXISTS`,
		model.PairKey(a, b), id).WithContext(ctx).MapScanCAS(existing)
	if err != nil {
		return nil, errors.Wrap(err, "claim conversation pair")
	}
	if !applied {
		id, _ = existing["conversation_id"].(int64)
	}

	now := st.now()
	pair := model.Pair(a, b)
	created, err := st.s.Query(`INSERT INTO conversations (id, participant_a, participant_b, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?) IF NOT EXISTS`, id, pair[0], pair[1], now, now).
		WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return nil, errors.Wrap(err, "insert conversation")
	}
	if !created {
		return st.Conversation(ctx, id)
	}

	for _, p := range [][2]string{{pair[0], pair[1]}, {pair[1], pair[0]}} {
		err := st.s.Query(`INSERT INTO user_conversations (user_id, conversation_id, other_user_id, last_updated)
			VALUES (?, ?, ?, ?)`, p[0], id, p[1], now).WithContext(ctx).Exec()
		if err != nil {
			return nil, errors.Wrapf(err, "index conversation for %s", p[0])
		}
	}
	return &model.Conversation{ID: id, Participants: pair, CreatedAt: now, UpdatedAt: now}, nil
}

func (st *Store) FindConversation(ctx context.Context, a, b string) (*model.Conversation, error) {
	var id int64
	err := st.s.Query(`SELECT conversation_id FROM conversation_pairs WHERE pair_key = ?`, model.PairKey(a, b)).
		WithContext(ctx).Scan(&id)
	if err != nil {
		return nil, notFound(err)
	}
	return st.Conversation(ctx, id)
}

func (st *Store) unread(ctx context.Context, ids []int64) (map[int64]int64, error) {
	out := make(map[int64]int64, len(ids))
	iter := st.s.Query(`SELECT conversation_id, unread_count FROM conversation_counters WHERE conversation_id IN ?`, ids).
		WithContext(ctx).Iter()
	var id, n int64
	for iter.Scan(&id, &n) {
		out[id] = n
	}
	return out, errors.Wrap(iter.Close(), "load unread counters")
}

func (st *Store) Conversation(ctx context.Context, id int64) (*model.Conversation, error) {
	list, err := st.conversations(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, store.ErrNotFound
	}
	return &list[0], nil
}

func (st *Store) conversations(ctx context.Context, ids []int64) ([]model.Conversation, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	iter := st.s.Query(`SELECT `+conversationColumns+` FROM conversations WHERE id IN ?`, ids).
		WithContext(ctx).Iter()
	var out []model.Conversation
	var row conversationRow
	for iter.Scan(row.dest()...) {
		out = append(out, row.conversation())
		row = conversationRow{}
	}
	if err := iter.Close(); err != nil {
		return nil, errors.Wrap(err, "load conversations")
	}
	counts, err := st.unread(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].UnreadCount = counts[out[i].ID]
	}
	return out, nil
}

func (st *Store) ConversationsFor(ctx context.Context, userID string) ([]model.Conversation, error) {
	iter := st.s.Query(`SELECT conversation_id FROM user_conversations WHERE user_id = ?`, userID).
		WithContext(ctx).Iter()
	var ids []int64
	var id int64
	for iter.Scan(&id) {
		ids = append(ids, id)
	}
	if err := iter.Close(); err != nil {
		return nil, errors.Wrap(err, "list user conversations")
	}
	out, err := st.conversations(ctx, ids)
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (st *Store) TouchConversation(ctx context.Context, id int64, lastMessageID *int64, at time.Time) error {
	c, err := st.Conversation(ctx, id)
	if err != nil {
		return err
	}
	if err := st.s.Query(`UPDATE conversation_counters SET unread_count = unread_count + 1 WHERE conversation_id = ?`, id).
		WithContext(ctx).Exec(); err != nil {
		return errors.Wrap(err, "increment unread")
	}

	q := st.s.Query(`UPDATE conversations SET updated_at = ? WHERE id = ?`, at, id)
	if lastMessageID != nil {
		q = st.s.Query(`UPDATE conversations SET updated_at = ?, last_message_id = ? WHERE id = ?`, at, *lastMessageID, id)
	}
	if err := q.WithContext(ctx).Exec(); err != nil {
		return errors.Wrap(err, "touch conversation")
	}

	for _, p := range []string{c.Participants[0], c.Participants[1]} {
		err := st.s.Query(`UPDATE user_conversations SET last_updated = ? WHERE user_id = ? AND conversation_id = ?`,
			at, p, id).WithContext(ctx).Exec()
		if err != nil {
			return errors.Wrapf(err, "touch conversation for %s", p)
		}
	}
	return nil
}

// ResetUnread subtracts the current count; counter cells cannot be
// overwritten.
func (st *Store) ResetUnread(ctx context.Context, id int64) error {
	counts, err := st.unread(ctx, []int64{id})
	if err != nil {
		return err
	}
	n := counts[id]
	if n == 0 {
		return nil
	}
	return errors.Wrap(st.s.Query(`UPDATE conversation_counters SET unread_count = unread_count - ? WHERE conversation_id = ?`,
		n, id).WithContext(ctx).Exec(), "reset unread")
}

// Messages

const messageColumns = `conversation_id, id, sender_id, receiver_id, content, media_url, content_type,
	status, created_at, updated_at`

type messageRow struct {
	m                   model.Message
	contentType, status string
}

func (r *messageRow) dest() []interface{} {
	m := &r.m
	return []interface{}{&m.ConversationID, &m.ID, &m.Sender.ID, &m.Receiver.ID, &m.Content, &m.MediaURL,
		&r.contentType, &r.status, &m.CreatedAt, &m.UpdatedAt}
}

func (r *messageRow) message() model.Message {
	m := r.m
	m.ContentType = model.ContentType(r.contentType)
	m.Status = model.MessageStatus(r.status)
	m.Reactions = []model.Reaction{}
	return m
}

func (st *Store) InsertMessage(ctx context.Context, m *model.Message) error {
	if _, err := st.Conversation(ctx, m.ConversationID); err != nil {
		return err
	}
	m.ID = st.ids.Generate()
	now := st.now()
	m.CreatedAt = now
	m.UpdatedAt = now
	if m.Reactions == nil {
		m.Reactions = []model.Reaction{}
	}

	b := st.s.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	b.Query(`INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ConversationID, m.ID, m.Sender.ID, m.Receiver.ID, m.Content, m.MediaURL,
		string(m.ContentType), string(m.Status), m.CreatedAt, m.UpdatedAt)
	b.Query(`INSERT INTO messages_by_id (id, conversation_id) VALUES (?, ?)`, m.ID, m.ConversationID)
	if m.Status == model.StatusSent {
		b.Query(`INSERT INTO pending_deliveries (receiver_id, message_id, conversation_id) VALUES (?, ?, ?)`,
			m.Receiver.ID, m.ID, m.ConversationID)
	}
	return errors.Wrap(st.s.ExecuteBatch(b), "insert message")
}

func (st *Store) locate(ctx context.Context, id int64) (int64, error) {
	var conv int64
	err := st.s.Query(`SELECT conversation_id FROM messages_by_id WHERE id = ?`, id).WithContext(ctx).Scan(&conv)
	return conv, notFound(err)
}

func (st *Store) loadMessage(ctx context.Context, conv, id int64) (*model.Message, error) {
	var row messageRow
	err := st.s.Query(`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ? AND id = ?`, conv, id).
		WithContext(ctx).Scan(row.dest()...)
	if err != nil {
		return nil, notFound(err)
	}
	m := row.message()
	reactions, err := st.reactions(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	if rs, ok := reactions[id]; ok {
		m.Reactions = rs
	}
	return &m, nil
}

func (st *Store) Message(ctx context.Context, id int64) (*model.Message, error) {
	conv, err := st.locate(ctx, id)
	if err != nil {
		return nil, err
	}
	return st.loadMessage(ctx, conv, id)
}

func (st *Store) ListMessages(ctx context.Context, conversationID, before int64, limit int) ([]model.Message, error) {
	q := st.s.Query(`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ? LIMIT ?`, conversationID, limit)
	if before != 0 {
		q = st.s.Query(`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ? AND id < ? LIMIT ?`,
			conversationID, before, limit)
	}
	iter := q.WithContext(ctx).Iter()
	out := make([]model.Message, 0, limit)
	var row messageRow
	for iter.Scan(row.dest()...) {
		out = append(out, row.message())
		row = messageRow{}
	}
	if err := iter.Close(); err != nil {
		return nil, errors.Wrap(err, "list messages")
	}
	if len(out) == 0 {
		return out, nil
	}

	ids := make([]int64, len(out))
	for i := range out {
		ids[i] = out[i].ID
	}
	reactions, err := st.reactions(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		if rs, ok := reactions[out[i].ID]; ok {
			out[i].Reactions = rs
		}
	}
	return out, nil
}

// advance moves one message to status when the row's current status
// satisfies cond.
func (st *Store) advance(ctx context.Context, conv, id int64, to model.MessageStatus, cond string, args ...interface{}) (bool, error) {
	stmt := `UPDATE messages SET status = ?, updated_at = ? WHERE conversation_id = ? AND id = ? IF ` + cond
	applied, err := st.s.Query(stmt, append([]interface{}{string(to), st.now(), conv, id}, args...)...).
		WithContext(ctx).MapScanCAS(map[string]interface{}{})
	return applied, errors.Wrapf(err, "advance message %d to %s", id, to)
}

func (st *Store) MarkDelivered(ctx context.Context, receiverID string) ([]model.Message, error) {
	type pending struct{ id, conv int64 }
	var list []pending
	iter := st.s.Query(`SELECT message_id, conversation_id FROM pending_deliveries WHERE receiver_id = ?`, receiverID).
		WithContext(ctx).Iter()
	var p pending
	for iter.Scan(&p.id, &p.conv) {
		list = append(list, p)
	}
	if err := iter.Close(); err != nil {
		return nil, errors.Wrap(err, "list pending deliveries")
	}

	var out []model.Message
	for _, p := range list {
		applied, err := st.advance(ctx, p.conv, p.id, model.StatusDelivered, `status = ?`, string(model.StatusSent))
		if err != nil {
			return out, err
		}
		if err := st.s.Query(`DELETE FROM pending_deliveries WHERE receiver_id = ? AND message_id = ?`, receiverID, p.id).
			WithContext(ctx).Exec(); err != nil {
			return out, errors.Wrap(err, "clear pending delivery")
		}
		if !applied {
			continue
		}
		m, err := st.loadMessage(ctx, p.conv, p.id)
		if err != nil {
			return out, err
		}
		out = append(out, *m)
	}
	return out, nil
}

func (st *Store) MarkMessageDelivered(ctx context.Context, id int64) (bool, error) {
	var receiver string
	conv, err := st.locate(ctx, id)
	if err != nil {
		return false, err
	}
	if err := st.s.Query(`SELECT receiver_id FROM messages WHERE conversation_id = ? AND id = ?`, conv, id).
		WithContext(ctx).Scan(&receiver); err != nil {
		return false, notFound(err)
	}
	applied, err := st.advance(ctx, conv, id, model.StatusDelivered, `status = ?`, string(model.StatusSent))
	if err != nil {
		return false, err
	}
	if err := st.s.Query(`DELETE FROM pending_deliveries WHERE receiver_id = ? AND message_id = ?`, receiver, id).
		WithContext(ctx).Exec(); err != nil {
		return applied, errors.Wrap(err, "clear pending delivery")
	}
	return applied, nil
}

func (st *Store) MarkRead(ctx context.Context, readerID string, ids []int64) ([]model.Message, error) {
	var out []model.Message
	for _, id := range ids {
		conv, err := st.locate(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return out, err
		}
		applied, err := st.advance(ctx, conv, id, model.StatusRead, `receiver_id = ? AND status != ?`,
			readerID, string(model.StatusRead))
		if err != nil {
			return out, err
		}
		if !applied {
			continue
		}
		if err := st.s.Query(`DELETE FROM pending_deliveries WHERE receiver_id = ? AND message_id = ?`, readerID, id).
			WithContext(ctx).Exec(); err != nil {
			return out, errors.Wrap(err, "clear pending delivery")
		}
		m, err := st.loadMessage(ctx, conv, id)
		if err != nil {
			return out, err
		}
		out = append(out, *m)
	}
	return out, nil
}

func (st *Store) reactions(ctx context.Context, ids []int64) (map[int64][]model.Reaction, error) {
	type row struct {
		msg int64
		r   model.Reaction
		at  time.Time
	}
	iter := st.s.Query(`SELECT message_id, user_id, emoji, created_at FROM message_reactions WHERE message_id IN ?`, ids).
		WithContext(ctx).Iter()
	var rows []row
	var r row
	for iter.Scan(&r.msg, &r.r.User, &r.r.Emoji, &r.at) {
		rows = append(rows, r)
		r = row{}
	}
	if err := iter.Close(); err != nil {
		return nil, errors.Wrap(err, "load reactions")
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].at.Before(rows[j].at) })

	out := make(map[int64][]model.Reaction)
	for _, r := range rows {
		out[r.msg] = append(out[r.msg], r.r)
	}
	return out, nil
}

func (st *Store) ToggleReaction(ctx context.Context, messageID int64, userID, emoji string) ([]model.Reaction, error) {
	if _, err := st.locate(ctx, messageID); err != nil {
		return nil, err
	}
	added, err := st.s.Query(`INSERT INTO message_reactions (message_id, user_id, emoji, created_at) VALUES (?, ?, ?, ?) IF NOT EXISTS`,
		messageID, userID, emoji, st.now()).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return nil, errors.Wrap(err, "add reaction")
	}
	if !added {
		_, err := st.s.Query(`DELETE FROM message_reactions WHERE message_id = ? AND user_id = ? AND emoji = ? IF EXISTS`,
			messageID, userID, emoji).WithContext(ctx).MapScanCAS(map[string]interface{}{})
		if err != nil {
			return nil, errors.Wrap(err, "remove reaction")
		}
	}
	reactions, err := st.reactions(ctx, []int64{messageID})
	if err != nil {
		return nil, err
	}
	if rs, ok := reactions[messageID]; ok {
		return rs, nil
	}
	return []model.Reaction{}, nil
}

func (st *Store) DeleteMessage(ctx context.Context, id int64) error {
	conv, err := st.locate(ctx, id)
	if err != nil {
		return err
	}
	m, err := st.loadMessage(ctx, conv, id)
	if err != nil {
		return err
	}

	_, err = st.s.Query(`UPDATE conversations SET last_message_id = null WHERE id = ? IF last_message_id = ?`, conv, id).
		WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return errors.Wrap(err, "clear last message")
	}

	b := st.s.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	b.Query(`DELETE FROM messages WHERE conversation_id = ? AND id = ?`, conv, id)
	b.Query(`DELETE FROM messages_by_id WHERE id = ?`, id)
	b.Query(`DELETE FROM pending_deliveries WHERE receiver_id = ? AND message_id = ?`, m.Receiver.ID, id)
	b.Query(`DELETE FROM message_reactions WHERE message_id = ?`, id)
	return errors.Wrap(st.s.ExecuteBatch(b), "delete message")
}

// Statuses

const statusColumns = `id, user_id, content, content_type, created_at, expires_at`

type statusRow struct {
	s           model.StatusPost
	contentType string
}

func (r *statusRow) dest() []interface{} {
	s := &r.s
	return []interface{}{&s.ID, &s.User.ID, &s.Content, &r.contentType, &s.CreatedAt, &s.ExpiresAt}
}

func (r *statusRow) status() model.StatusPost {
	s := r.s
	s.ContentType = model.ContentType(r.contentType)
	s.Viewers = []string{}
	return s
}

func ttlSeconds(until, now time.Time) int {
	secs := int(until.Sub(now).Seconds())
	if secs < 1 {
		return 1
	}
	return secs
}

func (st *Store) InsertStatus(ctx context.Context, s *model.StatusPost) error {
	now := st.now()
	s.ID = st.ids.Generate()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.ExpiresAt.IsZero() {
		s.ExpiresAt = s.CreatedAt.Add(model.StatusPostTTL)
	}
	if s.Viewers == nil {
		s.Viewers = []string{}
	}
	err := st.s.Query(`INSERT INTO statuses (`+statusColumns+`) VALUES (?, ?, ?, ?, ?, ?) USING TTL ?`,
		s.ID, s.User.ID, s.Content, string(s.ContentType), s.CreatedAt, s.ExpiresAt, ttlSeconds(s.ExpiresAt, now)).
		WithContext(ctx).Exec()
	return errors.Wrap(err, "insert status")
}

func (st *Store) viewers(ctx context.Context, ids []int64) (map[int64][]string, error) {
	type row struct {
		status int64
		viewer string
		at     time.Time
	}
	iter := st.s.Query(`SELECT status_id, viewer_id, viewed_at FROM status_views WHERE status_id IN ?`, ids).
		WithContext(ctx).Iter()
	var rows []row
	var r row
	for iter.Scan(&r.status, &r.viewer, &r.at) {
		rows = append(rows, r)
	}
	if err := iter.Close(); err != nil {
		return nil, errors.Wrap(err, "load status viewers")
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].at.Before(rows[j].at) })
	out := make(map[int64][]string)
	for _, r := range rows {
		out[r.status] = append(out[r.status], r.viewer)
	}
	return out, nil
}

func (st *Store) withViewers(ctx context.Context, list []model.StatusPost) error {
	if len(list) == 0 {
		return nil
	}
	ids := make([]int64, len(list))
	for i := range list {
		ids[i] = list[i].ID
	}
	views, err := st.viewers(ctx, ids)
	if err != nil {
		return err
	}
	for i := range list {
		if v, ok := views[list[i].ID]; ok {
			list[i].Viewers = v
		}
	}
	return nil
}

func (st *Store) Status(ctx context.Context, id int64) (*model.StatusPost, error) {
	var row statusRow
	err := st.s.Query(`SELECT `+statusColumns+` FROM statuses WHERE id = ?`, id).WithContext(ctx).Scan(row.dest()...)
	if err != nil {
		return nil, notFound(err)
	}
	s := row.status()
	if s.Expired(st.now()) {
		return nil, store.ErrNotFound
	}
	list := []model.StatusPost{s}
	if err := st.withViewers(ctx, list); err != nil {
		return nil, err
	}
	return &list[0], nil
}

// ActiveStatuses scans the statuses table; rows leave it through their TTL.
func (st *Store) ActiveStatuses(ctx context.Context, now time.Time) ([]model.StatusPost, error) {
	iter := st.s.Query(`SELECT ` + statusColumns + ` FROM statuses`).WithContext(ctx).Iter()
	var out []model.StatusPost
	var row statusRow
	for iter.Scan(row.dest()...) {
		if s := row.status(); !s.Expired(now) {
			out = append(out, s)
		}
		row = statusRow{}
	}
	if err := iter.Close(); err != nil {
		return nil, errors.Wrap(err, "list statuses")
	}
	if err := st.withViewers(ctx, out); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (st *Store) AddViewer(ctx context.Context, statusID int64, viewerID string) (*model.StatusPost, bool, error) {
	s, err := st.Status(ctx, statusID)
	if err != nil {
		return nil, false, err
	}
	now := st.now()
	added, err := st.s.Query(`INSERT INTO status_views (status_id, viewer_id, viewed_at) VALUES (?, ?, ?) IF NOT EXISTS USING TTL ?`,
		statusID, viewerID, now, ttlSeconds(s.ExpiresAt, now)).WithContext(ctx).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return nil, false, errors.Wrap(err, "record status view")
	}
	if added {
		s.Viewers = append(s.Viewers, viewerID)
	}
	return s, added, nil
}

func (st *Store) DeleteStatus(ctx context.Context, id int64) error {
	var owner string
	err := st.s.Query(`SELECT user_id FROM statuses WHERE id = ?`, id).WithContext(ctx).Scan(&owner)
	if err != nil {
		return notFound(err)
	}
	b := st.s.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	b.Query(`DELETE FROM statuses WHERE id = ?`, id)
	b.Query(`DELETE FROM status_views WHERE status_id = ?`, id)
	return errors.Wrap(st.s.ExecuteBatch(b), "delete status")
}
