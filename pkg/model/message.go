package model

import (
	"strings"
	"time"
)

type ContentType string

const (
	ContentText  ContentType = "text"
	ContentImage ContentType = "image"
	ContentVideo ContentType = "video"
)

// ContentTypeForMIME maps an upload's MIME type to a message content type.
// Only image/* and video/* are accepted.
func ContentTypeForMIME(mime string) (ContentType, bool) {
	switch {
	case strings.HasPrefix(mime, "image"):
		return ContentImage, true
	case strings.HasPrefix(mime, "video"):
		return ContentVideo, true
	}
	return "", false
}

type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	// StatusFailed is only ever assigned client-side, to an optimistic
	// record the server never confirmed.
	StatusFailed MessageStatus = "failed"
)

// Rank orders the server-side statuses. Unknown and failed rank 0.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

func (s MessageStatus) Valid() bool {
	return s.Rank() > 0 || s == StatusFailed
}

// CanAdvance reports whether a message may move from one status to another.
// Transitions only go forward along sent -> delivered -> read.
func CanAdvance(from, to MessageStatus) bool {
	if to == StatusFailed || from == StatusFailed {
		return false
	}
	return to.Rank() > from.Rank()
}

// UserRef is the populated form of a user embedded in messages.
type UserRef struct {
	ID         string `json:"id"`
	Username   string `json:"username,omitempty"`
	ProfilePic string `json:"profilePic,omitempty"`
}

type Reaction struct {
	User        string   `json:"user"`
	Emoji       string   `json:"emoji"`
	UserDetails *UserRef `json:"userDetails,omitempty"`
}

type Message struct {
	// ID is a snowflake id; a zero ID with a non-empty TempID marks a
	// client-local optimistic record.
	ID             int64         `json:"id,string"`
	TempID         string        `json:"tempId,omitempty"`
	ConversationID int64         `json:"conversationId,string"`
	Sender         UserRef       `json:"sender"`
	Receiver       UserRef       `json:"reciever"`
	Content        string        `json:"content,omitempty"`
	MediaURL       string        `json:"mediaUrl,omitempty"`
	ContentType    ContentType   `json:"contentType"`
	Status         MessageStatus `json:"messageStatus"`
	Reactions      []Reaction    `json:"reactions"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

// HasText reports whether the message carries text that can stand in as a
// conversation preview.
func (m *Message) HasText() bool {
	return strings.TrimSpace(m.Content) != ""
}

// ToggleReaction removes the (user, emoji) entry when present and appends it
// otherwise. It returns true when the reaction was added.
func ToggleReaction(reactions []Reaction, user, emoji string) ([]Reaction, bool) {
	for i, r := range reactions {
		if r.User == user && r.Emoji == emoji {
			out := make([]Reaction, 0, len(reactions)-1)
			out = append(out, reactions[:i]...)
			return append(out, reactions[i+1:]...), false
		}
	}
	out := make([]Reaction, len(reactions), len(reactions)+1)
	copy(out, reactions)
	return append(out, Reaction{User: user, Emoji: emoji}), true
}
