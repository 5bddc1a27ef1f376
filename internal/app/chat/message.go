/*
Package chat is the relay core: the connection registry, the room directory,
the inbound router, the broadcast engine, the heartbeat supervisor and the hub
loop that serializes all of them onto a single goroutine.

This file defines the outbound wire types.
*/
package chat

import (
	"strings"
	"time"
)

// MessageType is the "type" tag of an outbound envelope.
type MessageType string

const (
	TypeSystem         MessageType = "system"
	TypeError          MessageType = "error"
	TypeHistory        MessageType = "history"
	TypeRoomState      MessageType = "room_state"
	TypeUserJoined     MessageType = "user_joined"
	TypeUserLeft       MessageType = "user_left"
	TypeHostUpdate     MessageType = "host_update"
	TypeRoomLockUpdate MessageType = "room_lock_update"
	TypeChat           MessageType = "chat"
	TypePrivateMessage MessageType = "private_message"
	TypeUserTyping     MessageType = "user_typing"
	TypeUserStopTyping MessageType = "user_stop_typing"
)

// LeaveReason explains a user_left notice.
type LeaveReason string

const (
	ReasonLeft   LeaveReason = "left"
	ReasonKicked LeaveReason = "kicked"
	ReasonBanned LeaveReason = "banned"
)

// timestampLayout matches JavaScript's Date.toISOString.
const timestampLayout = "2006-01-02T15:04:05.000Z"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// Message is a chat or private message. It is stored in room history and sent
// on the wire as is, so Type doubles as the envelope tag.
type Message struct {
	ID        string      `json:"id"`
	Type      MessageType `json:"type"`
	Author    string      `json:"author,omitempty"`
	From      string      `json:"from,omitempty"`
	To        string      `json:"to,omitempty"`
	Text      string      `json:"message"`
	Timestamp string      `json:"timestamp"`
}

// IsPrivate reports whether m is a private message.
func (m Message) IsPrivate() bool {
	return m.Type == TypePrivateMessage
}

// VisibleTo reports whether username may see m in a history snapshot.
func (m Message) VisibleTo(username string) bool {
	if !m.IsPrivate() {
		return true
	}
	return strings.EqualFold(m.From, username) || strings.EqualFold(m.To, username)
}

// Notice is a flat system or error envelope.
type Notice struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

// SystemNotice builds an ephemeral human-readable notice.
func SystemNotice(text string) Notice {
	return Notice{Type: TypeSystem, Message: text}
}

// ErrorNotice builds an error envelope carrying text.
func ErrorNotice(text string) Notice {
	return Notice{Type: TypeError, Message: text}
}

// Envelope is an outbound frame whose body sits under "payload".
type Envelope struct {
	Type    MessageType `json:"type"`
	Payload any         `json:"payload"`
}

// RoomUser is one entry of room_state.users.
type RoomUser struct {
	Username string `json:"username"`
	IsHost   bool   `json:"isHost"`
}

// RoomStatePayload describes the room to a joiner.
type RoomStatePayload struct {
	Users    []RoomUser `json:"users"`
	IsLocked bool       `json:"isLocked"`
	Host     string     `json:"host"`
}

// UserJoinedPayload announces a new occupant.
type UserJoinedPayload struct {
	Username string `json:"username"`
	IsHost   bool   `json:"isHost"`
}

// UserLeftPayload announces a departure.
type UserLeftPayload struct {
	Username string      `json:"username"`
	Reason   LeaveReason `json:"reason"`
}

// HostUpdatePayload announces a host change.
type HostUpdatePayload struct {
	NewHost string `json:"newHost"`
}

// LockUpdatePayload announces a lock toggle.
type LockUpdatePayload struct {
	IsLocked bool `json:"isLocked"`
}

// TypingPayload names the user whose typing indicator changed.
type TypingPayload struct {
	Username string `json:"username"`
}

func historyEnvelope(messages []Message) Envelope {
	if messages == nil {
		messages = []Message{}
	}
	return Envelope{Type: TypeHistory, Payload: messages}
}
