// Package store defines the durable state the chat coordinator needs and an
// in-memory implementation of it. pkg/db provides the Scylla one.
//
// Messages come back with only the ids of their sender, receiver and
// reacting users filled in; callers populate the rest.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/mahaj/pulse-chat/pkg/model"
)

var ErrNotFound = errors.New("store: not found")

type Users interface {
	// UpsertContact returns the user owning contact, creating it first.
	UpsertContact(ctx context.Context, c model.Contact) (*model.User, error)
	FindByContact(ctx context.Context, c model.Contact) (*model.User, error)
	SetOTP(ctx context.Context, userID, code string, expiresAt time.Time) error
	// MarkVerified flags the user verified and clears any pending code.
	MarkVerified(ctx context.Context, userID string) error
	User(ctx context.Context, id string) (*model.User, error)
	Users(ctx context.Context, ids []string) (map[string]model.User, error)
	ListUsers(ctx context.Context, exclude string) ([]model.User, error)
	UpdateProfile(ctx context.Context, userID string, p model.Profile) (*model.User, error)
	// SetPresence sets (not increments) the online flag and last-seen time.
	SetPresence(ctx context.Context, userID string, online bool, at time.Time) error
}

type Conversations interface {
	// ResolveConversation returns the conversation for the unordered pair,
	// creating it once; concurrent callers get the same one.
	ResolveConversation(ctx context.Context, a, b string) (*model.Conversation, error)
	FindConversation(ctx context.Context, a, b string) (*model.Conversation, error)
	Conversation(ctx context.Context, id int64) (*model.Conversation, error)
	// ConversationsFor lists the user's conversations, most recent first.
	ConversationsFor(ctx context.Context, userID string) ([]model.Conversation, error)
	// TouchConversation counts one more unread message and, when
	// lastMessageID is set, moves the last-message pointer.
	TouchConversation(ctx context.Context, id int64, lastMessageID *int64, at time.Time) error
	ResetUnread(ctx context.Context, id int64) error
}

type Messages interface {
	// InsertMessage assigns the id and timestamps and persists m.
	InsertMessage(ctx context.Context, m *model.Message) error
	Message(ctx context.Context, id int64) (*model.Message, error)
	// ListMessages returns up to limit messages of the conversation with an
	// id below before (0 means from the newest), newest first.
	ListMessages(ctx context.Context, conversationID, before int64, limit int) ([]model.Message, error)
	// MarkDelivered advances every sent message addressed to receiverID to
	// delivered and returns the ones it advanced.
	MarkDelivered(ctx context.Context, receiverID string) ([]model.Message, error)
	// MarkMessageDelivered advances one sent message to delivered and
	// reports whether it moved.
	MarkMessageDelivered(ctx context.Context, id int64) (bool, error)
	// MarkRead advances the listed messages addressed to readerID to read
	// and returns the ones it advanced.
	MarkRead(ctx context.Context, readerID string, ids []int64) ([]model.Message, error)
	// ToggleReaction adds or removes the (user, emoji) reaction and returns
	// the resulting set.
	ToggleReaction(ctx context.Context, messageID int64, userID, emoji string) ([]model.Reaction, error)
	DeleteMessage(ctx context.Context, id int64) error
}

type Statuses interface {
	InsertStatus(ctx context.Context, s *model.StatusPost) error
	Status(ctx context.Context, id int64) (*model.StatusPost, error)
	ActiveStatuses(ctx context.Context, now time.Time) ([]model.StatusPost, error)
	// AddViewer records a view once per viewer and reports whether it was new.
	AddViewer(ctx context.Context, statusID int64, viewerID string) (*model.StatusPost, bool, error)
	DeleteStatus(ctx context.Context, id int64) error
}

type Store interface {
	Users
	Conversations
	Messages
	Statuses
}

// IDGenerator hands out increasing ids.
type IDGenerator interface {
	Generate() int64
}
