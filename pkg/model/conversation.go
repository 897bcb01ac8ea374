package model

import (
	"sort"
	"strings"
	"time"
)

type User struct {
	ID          string     `json:"id"`
	Username    string     `json:"username,omitempty"`
	About       string     `json:"about,omitempty"`
	ProfilePic  string     `json:"profilePic,omitempty"`
	Email       string     `json:"email,omitempty"`
	PhoneSuffix string     `json:"phoneSuffix,omitempty"`
	PhoneNumber string     `json:"phoneNumber,omitempty"`
	IsOnline    bool       `json:"isOnline"`
	LastSeen    *time.Time `json:"lastSeen"`
	IsVerified  bool       `json:"isVerified"`
	IsAgreed    bool       `json:"isAgreed"`

	OTP          string    `json:"-"`
	OTPExpiresAt time.Time `json:"-"`
}

func (u *User) Ref() UserRef {
	return UserRef{ID: u.ID, Username: u.Username, ProfilePic: u.ProfilePic}
}

// Contact identifies a user for OTP login: either an email or a phone
// number with its country suffix.
type Contact struct {
	Email       string
	PhoneSuffix string
	PhoneNumber string
}

func (c Contact) IsEmail() bool { return c.Email != "" }

// Key is the lookup key the stores index contacts by.
func (c Contact) Key() string {
	if c.IsEmail() {
		return "email:" + strings.ToLower(strings.TrimSpace(c.Email))
	}
	return "phone:" + c.PhoneSuffix + c.PhoneNumber
}

// Profile carries the optional fields of a profile update; nil leaves the
// stored value untouched.
type Profile struct {
	Username   *string
	About      *string
	ProfilePic *string
	IsAgreed   *bool
}

type Conversation struct {
	ID            int64     `json:"id,string"`
	Participants  [2]string `json:"participants"`
	LastMessageID *int64    `json:"lastMessageId,string,omitempty"`
	UnreadCount   int64     `json:"unreadCount"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (c *Conversation) HasParticipant(userID string) bool {
	return c.Participants[0] == userID || c.Participants[1] == userID
}

// Other returns the participant that is not userID.
func (c *Conversation) Other(userID string) string {
	if c.Participants[0] == userID {
		return c.Participants[1]
	}
	return c.Participants[0]
}

// Pair returns the canonical (sorted) participant pair.
func Pair(a, b string) [2]string {
	p := []string{a, b}
	sort.Strings(p)
	return [2]string{p[0], p[1]}
}

// PairKey canonicalises an unordered participant pair, e.g. "alice:bob".
func PairKey(a, b string) string {
	p := Pair(a, b)
	return p[0] + ":" + p[1]
}

// ConversationView is a conversation as listed to one of its participants.
type ConversationView struct {
	Conversation
	Participants []User   `json:"participants"`
	LastMessage  *Message `json:"lastMessage,omitempty"`
}

// Page is one page of a conversation transcript, oldest first.
type Page struct {
	Messages   []Message `json:"messages"`
	NextCursor *int64    `json:"nextCursor,string"`
	HasMore    bool      `json:"hasMore"`
}

const StatusPostTTL = 24 * time.Hour

// StatusPost is an ephemeral story visible for StatusPostTTL.
type StatusPost struct {
	ID          int64       `json:"id,string"`
	User        UserRef     `json:"user"`
	Content     string      `json:"content"`
	ContentType ContentType `json:"contentType"`
	Viewers     []string    `json:"viewers"`
	CreatedAt   time.Time   `json:"createdAt"`
	ExpiresAt   time.Time   `json:"expiresAt"`
}

func (s *StatusPost) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

func (s *StatusPost) ViewedBy(userID string) bool {
	for _, v := range s.Viewers {
		if v == userID {
			return true
		}
	}
	return false
}
