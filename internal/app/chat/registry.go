package chat

import (
	"cmp"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Transport is the outbound side of one connection as seen by the hub.
// Implementations must not block.
type Transport interface {
	// Send queues one text frame. It fails once the transport is closed.
	Send(data []byte) error

	// Ping queues a liveness check. It is called on the hub goroutine and
	// must not block on the network.
	Ping() error

	// Close flushes already queued frames, then sends a close frame with code
	// and reason and shuts the connection down.
	Close(code int, reason string)

	// Terminate drops the connection immediately.
	Terminate()
}

// ConnID identifies a registered connection for the lifetime of the process.
type ConnID uint64

// Session is the per-connection state held by the Registry.
type Session struct {
	ID ConnID

	transport Transport

	room     string
	username string
	joined   bool
	joinSeq  uint64

	// alive is false between a heartbeat ping and its acknowledgement.
	alive bool

	// closing is set once the server has started closing the connection; no
	// further frames from it are processed and nothing is broadcast to it.
	closing bool

	windowStart time.Time
	windowCount int

	logger zerolog.Logger
}

// Room returns the room the session has joined, if any.
func (s *Session) Room() (string, bool) {
	return s.room, s.joined
}

// Username returns the display name chosen at join, or "".
func (s *Session) Username() string {
	return s.username
}

// Alive reports the heartbeat state.
func (s *Session) Alive() bool {
	return s.alive
}

// Open reports whether the server still treats the connection as usable.
func (s *Session) Open() bool {
	return !s.closing
}

func (s *Session) inRoom(room string) bool {
	return s.joined && !s.closing && s.room == room
}

// Registry owns every registered connection. It is not safe for concurrent use;
// the Hub goroutine is its only caller.
type Registry struct {
	sessions map[ConnID]*Session

	// order keeps sessions in registration order so iteration is stable.
	order []*Session

	nextID   ConnID
	nextJoin uint64

	logger zerolog.Logger
}

// NewRegistry returns an empty Registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		sessions: make(map[ConnID]*Session),
		logger:   logger,
	}
}

// Register adds a connection in the Alive state with no membership.
func (r *Registry) Register(t Transport) *Session {
	r.nextID++
	s := &Session{
		ID:        r.nextID,
		transport: t,
		alive:     true,
		logger:    r.logger.With().Uint64("conn_id", uint64(r.nextID)).Logger(),
	}
	r.sessions[s.ID] = s
	r.order = append(r.order, s)
	return s
}

// Get returns the session for id, or nil.
func (r *Registry) Get(id ConnID) *Session {
	return r.sessions[id]
}

// Remove forgets the session for id and returns it, or nil if unknown.
func (r *Registry) Remove(id ConnID) *Session {
	s, ok := r.sessions[id]
	if !ok {
		return nil
	}
	delete(r.sessions, id)
	r.order = slices.DeleteFunc(r.order, func(o *Session) bool { return o == s })
	return s
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	return len(r.order)
}

// ForEach calls action for every session, in registration order, for which
// match returns true. A nil match selects all sessions. action may not
// register or remove sessions.
func (r *Registry) ForEach(match func(*Session) bool, action func(*Session)) {
	for _, s := range r.order {
		if match == nil || match(s) {
			action(s)
		}
	}
}

// Sessions returns a snapshot of all sessions in registration order.
func (r *Registry) Sessions() []*Session {
	return slices.Clone(r.order)
}

// SetMembership records that s joined room as username.
func (r *Registry) SetMembership(s *Session, room, username string) {
	r.nextJoin++
	s.room = room
	s.username = username
	s.joined = true
	s.joinSeq = r.nextJoin
	s.logger = s.logger.With().Str("room_id", room).Str("username", username).Logger()
}

// ClearMembership detaches s from its room.
func (r *Registry) ClearMembership(s *Session) {
	s.room = ""
	s.username = ""
	s.joined = false
	s.joinSeq = 0
}

// MarkAlive records a liveness acknowledgement for s.
func (r *Registry) MarkAlive(s *Session) {
	s.alive = true
}

// IsUsernameTaken reports whether an occupant of room already uses username,
// compared case-insensitively.
func (r *Registry) IsUsernameTaken(room, username string) bool {
	return r.FindByUsername(room, username) != nil
}

// FindByUsername returns the occupant of room whose name matches username
// case-insensitively, or nil.
func (r *Registry) FindByUsername(room, username string) *Session {
	for _, s := range r.order {
		if s.inRoom(room) && strings.EqualFold(s.username, username) {
			return s
		}
	}
	return nil
}

// Occupants returns the sessions currently in room, earliest join first.
func (r *Registry) Occupants(room string) []*Session {
	var out []*Session
	for _, s := range r.order {
		if s.inRoom(room) {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b *Session) int {
		return cmp.Compare(a.joinSeq, b.joinSeq)
	})
	return out
}

// OccupiedRooms counts rooms with at least one occupant.
func (r *Registry) OccupiedRooms() int {
	seen := make(map[string]struct{})
	for _, s := range r.order {
		if s.joined && !s.closing {
			seen[s.room] = struct{}{}
		}
	}
	return len(seen)
}
