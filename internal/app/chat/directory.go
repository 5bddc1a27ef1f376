package chat

import (
	"slices"
	"strings"
	"time"
)

// DefaultHistoryLimit is the number of messages a room keeps.
const DefaultHistoryLimit = 50

// Room is the per-room state. Rooms are created on first reference and live
// for the rest of the process.
type Room struct {
	ID string

	host    string
	hasHost bool
	locked  bool

	// banned holds lowercased usernames.
	banned map[string]struct{}

	history []Message
}

// Directory owns every room. Like Registry it is confined to the Hub goroutine.
type Directory struct {
	rooms        map[string]*Room
	historyLimit int

	now   func() time.Time
	newID func() string
}

// NewDirectory returns an empty Directory keeping historyLimit messages per
// room, stamping messages with now and identifying them with newID.
func NewDirectory(historyLimit int, now func() time.Time, newID func() string) *Directory {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Directory{
		rooms:        make(map[string]*Room),
		historyLimit: historyLimit,
		now:          now,
		newID:        newID,
	}
}

// GetOrCreate returns the room for roomID, creating it if needed.
func (d *Directory) GetOrCreate(roomID string) *Room {
	room, ok := d.rooms[roomID]
	if !ok {
		room = &Room{ID: roomID, banned: make(map[string]struct{})}
		d.rooms[roomID] = room
	}
	return room
}

// Len returns the number of rooms ever referenced.
func (d *Directory) Len() int {
	return len(d.rooms)
}

// SetHost makes username the host if the room has none, or unconditionally
// when force is set. It reports whether the host changed.
func (d *Directory) SetHost(roomID, username string, force bool) bool {
	room := d.GetOrCreate(roomID)
	if room.hasHost && !force {
		return false
	}
	changed := !room.hasHost || room.host != username
	room.host = username
	room.hasHost = true
	return changed
}

// ClearHost leaves the room without a host.
func (d *Directory) ClearHost(roomID string) {
	room := d.GetOrCreate(roomID)
	room.host = ""
	room.hasHost = false
}

// Host returns the current host of the room, if any.
func (d *Directory) Host(roomID string) (string, bool) {
	room := d.GetOrCreate(roomID)
	return room.host, room.hasHost
}

// ToggleLock flips the lock flag and returns the new state.
func (d *Directory) ToggleLock(roomID string) bool {
	room := d.GetOrCreate(roomID)
	room.locked = !room.locked
	return room.locked
}

// IsLocked reports whether the room refuses new joins.
func (d *Directory) IsLocked(roomID string) bool {
	return d.GetOrCreate(roomID).locked
}

// Ban adds username to the room's ban list.
func (d *Directory) Ban(roomID, username string) {
	d.GetOrCreate(roomID).banned[strings.ToLower(username)] = struct{}{}
}

// IsBanned reports whether username is banned from the room, ignoring case.
func (d *Directory) IsBanned(roomID, username string) bool {
	_, ok := d.GetOrCreate(roomID).banned[strings.ToLower(username)]
	return ok
}

// AppendHistory stores a chat message from author and returns it.
func (d *Directory) AppendHistory(roomID, author, text string) Message {
	return d.appendMessage(roomID, Message{
		Type:   TypeChat,
		Author: author,
		Text:   text,
	})
}

// AppendPrivate stores a private message from one occupant to another and
// returns it.
func (d *Directory) AppendPrivate(roomID, from, to, text string) Message {
	return d.appendMessage(roomID, Message{
		Type: TypePrivateMessage,
		From: from,
		To:   to,
		Text: text,
	})
}

func (d *Directory) appendMessage(roomID string, msg Message) Message {
	room := d.GetOrCreate(roomID)

	msg.ID = d.newID()
	msg.Timestamp = formatTimestamp(d.now())

	room.history = append(room.history, msg)
	if overflow := len(room.history) - d.historyLimit; overflow > 0 {
		room.history = slices.Delete(room.history, 0, overflow)
	}

	return msg
}

// History returns a copy of the room's messages, oldest first.
func (d *Directory) History(roomID string) []Message {
	return slices.Clone(d.GetOrCreate(roomID).history)
}

// HistoryFor returns the messages of the room that username may see.
func (d *Directory) HistoryFor(roomID, username string) []Message {
	history := d.GetOrCreate(roomID).history
	out := make([]Message, 0, len(history))
	for _, msg := range history {
		if msg.VisibleTo(username) {
			out = append(out, msg)
		}
	}
	return out
}
