package chat

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"relaychat/internal/pkg/errs"
)

// Websocket close codes used by the relay.
const (
	CloseNormal          = 1000
	ClosePolicyViolation = 1008
	CloseServiceRestart  = 1012
	CloseKicked          = 4001
	CloseBanned          = 4002
)

const (
	reasonKicked = "You were kicked by the host"
	reasonBanned = "You were banned by the host"
)

// Policy holds the tunable limits applied by the Router.
type Policy struct {
	// RateLimitMessages frames are accepted per RateLimitWindow.
	RateLimitMessages int
	RateLimitWindow   time.Duration

	// MaxFieldLength bounds room ids and usernames, MaxChatLength chat and DM text.
	// Both count characters after trimming.
	MaxFieldLength int
	MaxChatLength  int
}

// DefaultPolicy returns 5 frames per 5 seconds, 20 character names and 200
// character messages.
func DefaultPolicy() Policy {
	return Policy{
		RateLimitMessages: 5,
		RateLimitWindow:   5 * time.Second,
		MaxFieldLength:    20,
		MaxChatLength:     200,
	}
}

// withDefaults fills every unset or non-positive field from DefaultPolicy.
func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.RateLimitMessages <= 0 {
		p.RateLimitMessages = def.RateLimitMessages
	}
	if p.RateLimitWindow <= 0 {
		p.RateLimitWindow = def.RateLimitWindow
	}
	if p.MaxFieldLength <= 0 {
		p.MaxFieldLength = def.MaxFieldLength
	}
	if p.MaxChatLength <= 0 {
		p.MaxChatLength = def.MaxChatLength
	}
	return p
}

// Router runs the inbound pipeline for each frame: rate limit, decode,
// validate, dispatch. It mutates the Registry and Directory and emits through
// the Broadcaster, and must only be called from the Hub goroutine.
type Router struct {
	registry  *Registry
	directory *Directory
	broadcast *Broadcaster
	policy    Policy
	now       func() time.Time
	metrics   *Metrics
	logger    zerolog.Logger
}

// NewRouter wires a Router to its collaborators.
func NewRouter(
	registry *Registry,
	directory *Directory,
	broadcast *Broadcaster,
	policy Policy,
	now func() time.Time,
	metrics *Metrics,
	logger zerolog.Logger,
) *Router {
	return &Router{
		registry:  registry,
		directory: directory,
		broadcast: broadcast,
		policy:    policy.withDefaults(),
		now:       now,
		metrics:   metrics,
		logger:    logger,
	}
}

// HandleFrame processes one inbound frame from s.
func (r *Router) HandleFrame(s *Session, frame []byte) {
	if s.closing {
		return
	}

	if !r.allow(s) {
		r.metrics.dropped("rate_limited")
		s.logger.Warn().Int("window_count", s.windowCount).Msg("rate limit exceeded, frame discarded")
		r.sendError(s, errs.NewError(errs.ErrMessageRateLimited))
		return
	}

	req, err := Decode(frame)
	if err != nil {
		if errors.Is(err, ErrUnknownType) {
			r.metrics.dropped("unknown_type")
		} else {
			r.metrics.dropped("malformed")
		}
		s.logger.Warn().Err(err).Int("frame_bytes", len(frame)).Msg("discarding inbound frame")
		return
	}

	r.dispatch(s, req)
}

// allow applies the fixed counting window. The first frame after the window
// has elapsed opens a new one.
func (r *Router) allow(s *Session) bool {
	now := r.now()
	if s.windowStart.IsZero() || now.Sub(s.windowStart) >= r.policy.RateLimitWindow {
		s.windowStart = now
		s.windowCount = 1
	} else {
		s.windowCount++
	}
	return s.windowCount <= r.policy.RateLimitMessages
}

func (r *Router) dispatch(s *Session, req Inbound) {
	switch req := req.(type) {
	case JoinRequest:
		r.metrics.received("join")
		r.handleJoin(s, req)
	case ChatRequest:
		r.metrics.received("chat")
		r.handleChat(s, req)
	case TypingRequest:
		r.metrics.received("typing")
		r.handleTyping(s, TypeUserTyping)
	case StopTypingRequest:
		r.metrics.received("stop_typing")
		r.handleTyping(s, TypeUserStopTyping)
	case DirectRequest:
		r.metrics.received("dm")
		r.handleDirect(s, req)
	case AdminRequest:
		r.metrics.received("admin")
		r.handleAdmin(s, req)
	default:
		s.logger.Error().Str("request", fmt.Sprintf("%T", req)).Msg("no handler for decoded request")
	}
}

func (r *Router) handleJoin(s *Session, req JoinRequest) {
	if s.joined {
		r.sendError(s, errs.NewError(errs.ErrAlreadyJoined))
		return
	}

	roomID := Sanitize(req.RoomID)
	username := Sanitize(req.Username)

	if !withinLimit(roomID, r.policy.MaxFieldLength) || !withinLimit(username, r.policy.MaxFieldLength) {
		r.rejectJoin(s, "invalid", errs.NewError(errs.ErrInvalidJoin, r.policy.MaxFieldLength))
		return
	}

	r.directory.GetOrCreate(roomID)

	switch {
	case r.directory.IsLocked(roomID):
		r.rejectJoin(s, "locked", errs.NewError(errs.ErrRoomLocked))
		return
	case r.directory.IsBanned(roomID, username):
		r.rejectJoin(s, "banned", errs.NewError(errs.ErrUserBanned))
		return
	case r.registry.IsUsernameTaken(roomID, username):
		r.rejectJoin(s, "username_taken", errs.NewError(errs.ErrUsernameTaken))
		return
	}

	r.registry.SetMembership(s, roomID, username)
	if len(r.registry.Occupants(roomID)) == 1 {
		r.directory.SetHost(roomID, username, false)
	}
	host, _ := r.directory.Host(roomID)
	isHost := host == username

	s.logger.Info().Bool("is_host", isHost).Msg("user joined room")

	r.broadcast.ToSession(s, SystemNotice(fmt.Sprintf("Welcome to room %q!", roomID)))
	r.broadcast.ToSession(s, historyEnvelope(r.directory.HistoryFor(roomID, username)))
	r.broadcast.ToSession(s, Envelope{Type: TypeRoomState, Payload: r.roomState(roomID)})
	r.broadcast.ToRoom(roomID, Envelope{
		Type:    TypeUserJoined,
		Payload: UserJoinedPayload{Username: username, IsHost: isHost},
	}, s)

	r.metrics.setOccupiedRooms(r.registry.OccupiedRooms())
}

func (r *Router) rejectJoin(s *Session, reason string, customErr *errs.CustomError) {
	r.metrics.rejected(reason)
	s.logger.Info().Str("reason", reason).Msg("join rejected")
	r.closeSession(s, ClosePolicyViolation, customErr.Message)
}

func (r *Router) roomState(roomID string) RoomStatePayload {
	host, _ := r.directory.Host(roomID)
	occupants := r.registry.Occupants(roomID)

	users := make([]RoomUser, 0, len(occupants))
	for _, o := range occupants {
		users = append(users, RoomUser{Username: o.username, IsHost: o.username == host})
	}

	return RoomStatePayload{
		Users:    users,
		IsLocked: r.directory.IsLocked(roomID),
		Host:     host,
	}
}

func (r *Router) handleChat(s *Session, req ChatRequest) {
	roomID, ok := s.Room()
	if !ok {
		return
	}

	text := Sanitize(req.Message)
	if !withinLimit(text, r.policy.MaxChatLength) {
		r.metrics.dropped("invalid_text")
		s.logger.Debug().Int("length", len(text)).Msg("chat text out of bounds, dropped")
		return
	}

	msg := r.directory.AppendHistory(roomID, s.username, text)
	r.broadcast.ToRoom(roomID, msg, nil)
}

func (r *Router) handleTyping(s *Session, kind MessageType) {
	roomID, ok := s.Room()
	if !ok {
		return
	}

	r.broadcast.ToRoom(roomID, Envelope{Type: kind, Payload: TypingPayload{Username: s.username}}, s)
}

func (r *Router) handleDirect(s *Session, req DirectRequest) {
	roomID, ok := s.Room()
	if !ok {
		return
	}

	text := Sanitize(req.Message)
	if !withinLimit(text, r.policy.MaxChatLength) {
		r.metrics.dropped("invalid_text")
		return
	}

	toUsername := Sanitize(req.ToUsername)
	target := r.registry.FindByUsername(roomID, toUsername)
	if target == nil {
		r.sendError(s, errs.NewError(errs.ErrUserNotFound, toUsername))
		return
	}

	msg := r.directory.AppendPrivate(roomID, s.username, target.username, text)
	r.broadcast.ToSession(target, msg)
	if target != s {
		r.broadcast.ToSession(s, msg)
	}
}

func (r *Router) handleAdmin(s *Session, req AdminRequest) {
	roomID, joined := s.Room()
	if host, ok := r.directory.Host(roomID); !joined || !ok || host != s.username {
		s.logger.Warn().Str("command", string(req.Command)).Msg("admin command from non-host refused")
		r.sendError(s, errs.NewError(errs.ErrNotHost))
		return
	}

	switch req.Command {
	case CommandLock:
		r.lock(s, roomID)
	case CommandKick:
		r.kick(s, roomID, Sanitize(req.TargetUser))
	case CommandBan:
		r.ban(s, roomID, Sanitize(req.TargetUser))
	}
}

func (r *Router) lock(s *Session, roomID string) {
	locked := r.directory.ToggleLock(roomID)
	r.metrics.moderated(CommandLock)
	s.logger.Info().Bool("locked", locked).Msg("room lock toggled")

	r.broadcast.ToRoom(roomID, Envelope{Type: TypeRoomLockUpdate, Payload: LockUpdatePayload{IsLocked: locked}}, nil)
}

// moderationTarget resolves the target of kick or ban, answering the host
// with an error when it is missing or the host themselves.
func (r *Router) moderationTarget(s *Session, command AdminCommand, target string) bool {
	if target == "" {
		r.sendError(s, errs.NewError(errs.ErrTargetRequired))
		return false
	}
	if strings.EqualFold(target, s.username) {
		r.sendError(s, errs.NewError(errs.ErrSelfTarget, string(command)))
		return false
	}
	return true
}

func (r *Router) kick(s *Session, roomID, target string) {
	if !r.moderationTarget(s, CommandKick, target) {
		return
	}

	victim := r.registry.FindByUsername(roomID, target)
	if victim == nil {
		r.sendError(s, errs.NewError(errs.ErrUserNotFound, target))
		return
	}

	r.metrics.moderated(CommandKick)
	name := victim.username
	s.logger.Info().Str("target", name).Msg("user kicked")

	r.broadcast.ToSession(victim, SystemNotice("You have been kicked from the room by the host."))
	r.evict(victim, CloseKicked, reasonKicked)
	r.broadcast.ToRoom(roomID, Envelope{
		Type:    TypeUserLeft,
		Payload: UserLeftPayload{Username: name, Reason: ReasonKicked},
	}, nil)
}

func (r *Router) ban(s *Session, roomID, target string) {
	if !r.moderationTarget(s, CommandBan, target) {
		return
	}

	r.directory.Ban(roomID, target)
	r.metrics.moderated(CommandBan)
	s.logger.Info().Str("target", target).Msg("user banned")

	victim := r.registry.FindByUsername(roomID, target)
	if victim == nil {
		r.broadcast.ToRoom(roomID, SystemNotice(fmt.Sprintf("%s has been banned from the room.", target)), nil)
		return
	}

	name := victim.username
	r.broadcast.ToSession(victim, SystemNotice("You have been banned from the room by the host."))
	r.evict(victim, CloseBanned, reasonBanned)
	r.broadcast.ToRoom(roomID, Envelope{
		Type:    TypeUserLeft,
		Payload: UserLeftPayload{Username: name, Reason: ReasonBanned},
	}, nil)
}

// evict detaches a moderated occupant and closes its connection. The target is
// never the host, so no host handover is needed.
func (r *Router) evict(victim *Session, code int, reason string) {
	r.registry.ClearMembership(victim)
	r.closeSession(victim, code, reason)
	r.metrics.setOccupiedRooms(r.registry.OccupiedRooms())
}

// Depart runs the cleanup for a connection that went away: it leaves the room,
// tells the remaining occupants, and hands the host role over if needed.
func (r *Router) Depart(s *Session) {
	roomID, ok := s.Room()
	if !ok {
		return
	}

	name := s.username
	host, _ := r.directory.Host(roomID)
	r.registry.ClearMembership(s)
	s.logger.Info().Msg("user left room")

	r.broadcast.ToRoom(roomID, Envelope{
		Type:    TypeUserLeft,
		Payload: UserLeftPayload{Username: name, Reason: ReasonLeft},
	}, nil)

	if host == name {
		r.reassignHost(roomID)
	}

	r.metrics.setOccupiedRooms(r.registry.OccupiedRooms())
}

// reassignHost promotes the earliest-joined remaining occupant, or leaves the
// room hostless when it is empty.
func (r *Router) reassignHost(roomID string) {
	occupants := r.registry.Occupants(roomID)
	if len(occupants) == 0 {
		r.directory.ClearHost(roomID)
		r.logger.Info().Str("room_id", roomID).Msg("room emptied, host cleared")
		return
	}

	newHost := occupants[0].username
	r.directory.SetHost(roomID, newHost, true)
	r.logger.Info().Str("room_id", roomID).Str("new_host", newHost).Msg("host reassigned")

	r.broadcast.ToRoom(roomID, Envelope{Type: TypeHostUpdate, Payload: HostUpdatePayload{NewHost: newHost}}, nil)
}

func (r *Router) sendError(s *Session, customErr *errs.CustomError) {
	r.broadcast.ToSession(s, ErrorNotice(customErr.Message))
}

// closeSession marks s as closing and asks its transport to close.
func (r *Router) closeSession(s *Session, code int, reason string) {
	if s.closing {
		return
	}
	s.closing = true
	s.transport.Close(code, reason)
}
