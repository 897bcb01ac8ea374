package model

import (
	"encoding/json"
	"time"
)

type EventName string

// Websocket event names. The spellings are part of the wire protocol.
const (
	EventUserConnected  EventName = "user_connected"
	EventGetUserStatus  EventName = "get_user_status"
	EventUserStatus     EventName = "user_status"
	EventMessageRecv    EventName = "message_recieved"
	EventStatusUpdate   EventName = "message_status_update"
	EventAddReaction    EventName = "add_reaction"
	EventReactionUpdate EventName = "reaction_update"
	EventReactionError  EventName = "reaction_error"
	EventTypingStart    EventName = "typing_start"
	EventTypingStop     EventName = "typing-stop"
	EventUserTyping     EventName = "user_typing"
	EventMessageDeleted EventName = "message_deleted"
	EventNewStatus      EventName = "new_status"
	EventStatusViewed   EventName = "status_viewed"
	EventStatusDeleted  EventName = "status_deleted"
	EventAck            EventName = "ack"
	EventError          EventName = "error"
)

// Envelope is an inbound frame. ID is set by clients that expect an ack.
type Envelope struct {
	Event EventName       `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Event is an outbound frame.
type Event struct {
	Event EventName `json:"event"`
	ID    string    `json:"id,omitempty"`
	Data  any       `json:"data,omitempty"`
}

type UserStatusPayload struct {
	UserID   string     `json:"userId"`
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen"`
}

type StatusUpdatePayload struct {
	MessageID int64         `json:"messageId,string"`
	Status    MessageStatus `json:"messageStatus"`
}

type AddReactionPayload struct {
	MessageID int64  `json:"messageId,string"`
	Emoji     string `json:"emoji"`
	UserID    string `json:"userId"`
}

type ReactionUpdatePayload struct {
	MessageID int64      `json:"messageId,string"`
	Reactions []Reaction `json:"reactions"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type TypingPayload struct {
	ConversationID int64  `json:"conversationId,string,omitempty"`
	ReceiverID     string `json:"recieverId"`
}

type UserTypingPayload struct {
	UserID         string `json:"userId"`
	ConversationID int64  `json:"conversationId,string"`
	IsTyping       bool   `json:"isTyping"`
}

type StatusViewedPayload struct {
	StatusID     int64    `json:"statusId,string"`
	ViewerID     string   `json:"viewerId"`
	Viewers      []string `json:"viewers"`
	TotalViewers int      `json:"totalViewers"`
}
