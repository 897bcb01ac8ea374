package db

import (
	"context"

	"github.com/pkg/errors"
)

// Tables lists the schema in creation order. Drop walks it backwards.
var Tables = []struct {
	Name string
	DDL  string
}{
	{"users", `CREATE TABLE IF NOT EXISTS users (
		id text PRIMARY KEY,
		username text,
		about text,
		profile_pic text,
		email text,
		phone_suffix text,
		phone_number text,
		is_online boolean,
		last_seen timestamp,
		is_verified boolean,
		is_agreed boolean,
		otp text,
		otp_expires timestamp
	)`},
	{"user_contacts", `CREATE TABLE IF NOT EXISTS user_contacts (
		contact_key text PRIMARY KEY,
		user_id text
	)`},
	{"conversation_pairs", `CREATE TABLE IF NOT EXISTS conversation_pairs (
		pair_key text PRIMARY KEY,
		conversation_id bigint
	)`},
	{"conversations", `CREATE TABLE IF NOT EXISTS conversations (
		id bigint PRIMARY KEY,
		participant_a text,
		participant_b text,
		last_message_id bigint,
		created_at timestamp,
		updated_at timestamp
	)`},
	{"user_conversations", `CREATE TABLE IF NOT EXISTS user_conversations (
		user_id text,
		conversation_id bigint,
		other_user_id text,
		last_updated timestamp,
		PRIMARY KEY (user_id, conversation_id)
	)`},
	{"conversation_counters", `CREATE TABLE IF NOT EXISTS conversation_counters (
		conversation_id bigint PRIMARY KEY,
		unread_count counter
	)`},
	{"messages", `CREATE TABLE IF NOT EXISTS messages (
		conversation_id bigint,
		id bigint,
		sender_id text,
		receiver_id text,
		content text,
		media_url text,
		content_type text,
		status text,
		created_at timestamp,
		updated_at timestamp,
		PRIMARY KEY (conversation_id, id)
	) WITH CLUSTERING ORDER BY (id DESC)`},
	{"messages_by_id", `CREATE TABLE IF NOT EXISTS messages_by_id (
		id bigint PRIMARY KEY,
		conversation_id bigint
	)`},
	{"pending_deliveries", `CREATE TABLE IF NOT EXISTS pending_deliveries (
		receiver_id text,
		message_id bigint,
		conversation_id bigint,
		PRIMARY KEY (receiver_id, message_id)
	)`},
	{"message_reactions", `CREATE TABLE IF NOT EXISTS message_reactions (
		message_id bigint,
		user_id text,
		emoji text,
		created_at timestamp,
		PRIMARY KEY (message_id, user_id, emoji)
	)`},
	{"statuses", `CREATE TABLE IF NOT EXISTS statuses (
		id bigint PRIMARY KEY,
		user_id text,
		content text,
		content_type text,
		created_at timestamp,
		expires_at timestamp
	)`},
	{"status_views", `CREATE TABLE IF NOT EXISTS status_views (
		status_id bigint,
		viewer_id text,
		viewed_at timestamp,
		PRIMARY KEY (status_id, viewer_id)
	)`},
	{"message_events", `CREATE TABLE IF NOT EXISTS message_events (
		conversation_id bigint,
		at timestamp,
		message_id bigint,
		kind text,
		actor text,
		status text,
		PRIMARY KEY (conversation_id, at, message_id, kind)
	) WITH CLUSTERING ORDER BY (at DESC, message_id DESC, kind ASC)`},
}

func Migrate(ctx context.Context, s *Session) error {
	for _, t := range Tables {
		if err := s.Query(t.DDL).WithContext(ctx).Exec(); err != nil {
			return errors.Wrapf(err, "create table %s", t.Name)
		}
	}
	return nil
}

// Drop removes the named tables, or every table when names is empty.
func Drop(ctx context.Context, s *Session, names ...string) error {
	if len(names) == 0 {
		for i := len(Tables) - 1; i >= 0; i-- {
			names = append(names, Tables[i].Name)
		}
	}
	for _, name := range names {
		if err := s.Query("DROP TABLE IF EXISTS " + name).WithContext(ctx).Exec(); err != nil {
			return errors.Wrapf(err, "drop table %s", name)
		}
	}
	return nil
}
