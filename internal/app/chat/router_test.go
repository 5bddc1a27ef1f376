package chat

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJoinFirstOccupantBecomesHost(t *testing.T) {
	h := newHarness(t)

	alice, ft := h.connect()
	h.send(alice, "join", JoinRequest{RoomID: "lobby", Username: "alice"})

	frames := ft.received(t)
	require.Len(t, frames, 3)

	assert.Equal(t, TypeSystem, frames[0].Type)
	assert.Equal(t, `Welcome to room "lobby"!`, frames[0].Message)

	assert.Equal(t, TypeHistory, frames[1].Type)
	assert.JSONEq(t, `[]`, string(frames[1].Payload))

	assert.Equal(t, TypeRoomState, frames[2].Type)
	state := decodeWirePayload[RoomStatePayload](t, frames[2])
	assert.Equal(t, RoomStatePayload{
		Users:    []RoomUser{{Username: "alice", IsHost: true}},
		IsLocked: false,
		Host:     "alice",
	}, state)

	host, ok := h.directory.Host("lobby")
	assert.True(t, ok)
	assert.Equal(t, "alice", host)
}

func TestJoinAnnouncesNewcomer(t *testing.T) {
	h := newHarness(t)
	_, aliceFT := h.join("lobby", "alice")

	bob, bobFT := h.connect()
	h.send(bob, "join", JoinRequest{RoomID: "lobby", Username: "bob"})

	joined := aliceFT.last(t)
	assert.Equal(t, TypeUserJoined, joined.Type)
	assert.Equal(t, UserJoinedPayload{Username: "bob", IsHost: false}, decodeWirePayload[UserJoinedPayload](t, joined))

	state := decodeWirePayload[RoomStatePayload](t, bobFT.last(t))
	assert.Equal(t, []RoomUser{
		{Username: "alice", IsHost: true},
		{Username: "bob", IsHost: false},
	}, state.Users)
	assert.Equal(t, "alice", state.Host)

	for _, kind := range bobFT.types(t) {
		assert.NotEqual(t, TypeUserJoined, kind, "joiner must not be told about itself")
	}
}

func TestJoinTrimsAndSanitizesFields(t *testing.T) {
	h := newHarness(t)

	s, _ := h.connect()
	h.send(s, "join", JoinRequest{RoomID: "  lobby\t", Username: " al\x00ice "})

	room, ok := s.Room()
	require.True(t, ok)
	assert.Equal(t, "lobby", room)
	assert.Equal(t, "alice", s.Username())
}

func TestJoinRejections(t *testing.T) {
	tests := []struct {
		name     string
		roomID   string
		username string
		setup    func(h *harness)
		reason   string
	}{
		{
			name:     "empty room id",
			roomID:   "",
			username: "alice",
			reason:   "Room ID and username are required and must be at most 20 characters.",
		},
		{
			name:     "whitespace username",
			roomID:   "lobby",
			username: "   ",
			reason:   "Room ID and username are required and must be at most 20 characters.",
		},
		{
			name:     "username too long",
			roomID:   "lobby",
			username: strings.Repeat("a", 21),
			reason:   "Room ID and username are required and must be at most 20 characters.",
		},
		{
			name:     "username taken ignoring case",
			roomID:   "lobby",
			username: "ALICE",
			setup:    func(h *harness) { h.join("lobby", "alice") },
			reason:   "Username is already taken in this room.",
		},
		{
			name:     "room locked",
			roomID:   "lobby",
			username: "carol",
			setup: func(h *harness) {
				alice, _ := h.join("lobby", "alice")
				h.admin(alice, CommandLock, "")
			},
			reason: "This room is locked.",
		},
		{
			name:     "banned username",
			roomID:   "lobby",
			username: "Mallory",
			setup: func(h *harness) {
				alice, _ := h.join("lobby", "alice")
				h.admin(alice, CommandBan, "mallory")
			},
			reason: "You are banned from this room.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			if tt.setup != nil {
				tt.setup(h)
			}

			s, ft := h.connect()
			h.send(s, "join", JoinRequest{RoomID: tt.roomID, Username: tt.username})

			code, reason := ft.closed()
			assert.Equal(t, ClosePolicyViolation, code)
			assert.Equal(t, tt.reason, reason)
			assert.Empty(t, ft.received(t), "rejected joiner must not receive room traffic")

			_, joined := s.Room()
			assert.False(t, joined)
			assert.False(t, s.Open())
		})
	}
}

func TestJoinTwiceIsRefused(t *testing.T) {
	h := newHarness(t)
	alice, ft := h.join("lobby", "alice")

	h.send(alice, "join", JoinRequest{RoomID: "other", Username: "alice2"})

	last := ft.last(t)
	assert.Equal(t, TypeError, last.Type)
	assert.Equal(t, "You have already joined a room.", last.Message)

	room, _ := alice.Room()
	assert.Equal(t, "lobby", room)
	assert.Equal(t, "alice", alice.Username())
}

func TestChatReachesWholeRoomAndHistory(t *testing.T) {
	h := newHarness(t)
	alice, aliceFT := h.join("lobby", "alice")
	_, bobFT := h.join("lobby", "bob")
	_, strangerFT := h.join("elsewhere", "eve")
	aliceFT.reset()

	h.chat(alice, "hello")

	for _, ft := range []*fakeTransport{aliceFT, bobFT} {
		msg := ft.last(t)
		assert.Equal(t, TypeChat, msg.Type)
		assert.Equal(t, "alice", msg.Author)
		assert.Equal(t, "hello", msg.Message)
		assert.Equal(t, "msg-1", msg.ID)
		assert.Equal(t, "2024-03-01T12:00:00.000Z", msg.Timestamp)
	}
	assert.Empty(t, strangerFT.received(t))

	history := h.directory.History("lobby")
	require.Len(t, history, 1)
	assert.Equal(t, "hello", history[0].Text)

	carol, carolFT := h.connect()
	h.send(carol, "join", JoinRequest{RoomID: "lobby", Username: "carol"})

	snapshot := decodeWirePayload[[]Message](t, carolFT.received(t)[1])
	require.Len(t, snapshot, 1)
	assert.Equal(t, "msg-1", snapshot[0].ID)
}

func TestChatOutOfBoundsIsDroppedSilently(t *testing.T) {
	h := newHarness(t)
	alice, aliceFT := h.join("lobby", "alice")
	_, bobFT := h.join("lobby", "bob")
	aliceFT.reset()

	h.chat(alice, "   ")
	h.chat(alice, strings.Repeat("x", 201))

	assert.Empty(t, aliceFT.received(t))
	assert.Empty(t, bobFT.received(t))
	assert.Empty(t, h.directory.History("lobby"))

	h.chat(alice, strings.Repeat("é", 200))
	assert.Len(t, h.directory.History("lobby"), 1)
}

func TestChatStripsControlCharacters(t *testing.T) {
	h := newHarness(t)
	alice, ft := h.join("lobby", "alice")

	h.chat(alice, " hi\x07 there\r\n")

	assert.Equal(t, "hi there", ft.last(t).Message)
}

func TestFramesBeforeJoinAreIgnored(t *testing.T) {
	h := newHarness(t)
	_, aliceFT := h.join("lobby", "alice")

	s, ft := h.connect()
	h.chat(s, "hello")
	h.send(s, "typing", nil)
	h.send(s, "dm", DirectRequest{ToUsername: "alice", Message: "psst"})

	assert.Empty(t, ft.received(t))
	assert.Empty(t, aliceFT.received(t))
}

func TestAdminBeforeJoinIsRefused(t *testing.T) {
	h := newHarness(t)
	_, aliceFT := h.join("lobby", "alice")

	s, ft := h.connect()
	h.admin(s, CommandLock, "")
	h.admin(s, CommandKick, "alice")

	assert.Equal(t, []MessageType{TypeError, TypeError}, ft.types(t))
	assert.Equal(t, "Only the room host can do that.", ft.last(t).Message)
	assert.True(t, s.Open())

	assert.Empty(t, aliceFT.received(t))
	assert.False(t, h.directory.IsLocked("lobby"))
}

func TestUndecodableFramesAreDropped(t *testing.T) {
	h := newHarness(t)
	alice, ft := h.join("lobby", "alice")

	for _, raw := range []string{
		`not json`,
		`{"type":"shout","payload":{}}`,
		`{"payload":{"message":"no type"}}`,
		`{"type":"chat","payload":{"message":42}}`,
		`{"type":"admin","payload":{"command":"nuke"}}`,
	} {
		h.router.HandleFrame(alice, []byte(raw))
	}

	assert.Empty(t, ft.received(t))
	assert.True(t, alice.Open())
	assert.Empty(t, h.directory.History("lobby"))
}

func TestTypingExcludesSender(t *testing.T) {
	h := newHarness(t)
	alice, aliceFT := h.join("lobby", "alice")
	_, bobFT := h.join("lobby", "bob")
	aliceFT.reset()

	h.send(alice, "typing", nil)
	h.send(alice, "stop_typing", nil)

	assert.Empty(t, aliceFT.received(t))
	assert.Equal(t, []MessageType{TypeUserTyping, TypeUserStopTyping}, bobFT.types(t))
	assert.Equal(t, TypingPayload{Username: "alice"}, decodeWirePayload[TypingPayload](t, bobFT.last(t)))
}

func TestDirectMessage(t *testing.T) {
	h := newHarness(t)
	alice, aliceFT := h.join("lobby", "alice")
	_, bobFT := h.join("lobby", "bob")
	_, carolFT := h.join("lobby", "carol")
	aliceFT.reset()
	bobFT.reset()

	h.send(alice, "dm", DirectRequest{ToUsername: "BOB", Message: "psst"})

	toBob := bobFT.last(t)
	echo := aliceFT.last(t)
	assert.Equal(t, TypePrivateMessage, toBob.Type)
	assert.Equal(t, "alice", toBob.From)
	assert.Equal(t, "bob", toBob.To)
	assert.Equal(t, "psst", toBob.Message)
	assert.Equal(t, toBob, echo, "sender echo must be the same message")
	assert.Empty(t, carolFT.received(t))

	history := h.directory.History("lobby")
	require.Len(t, history, 1)
	assert.True(t, history[0].IsPrivate())
}

func TestDirectMessageToSelfIsDeliveredOnce(t *testing.T) {
	h := newHarness(t)
	alice, ft := h.join("lobby", "alice")

	h.send(alice, "dm", DirectRequest{ToUsername: "alice", Message: "note to self"})

	assert.Equal(t, []MessageType{TypePrivateMessage}, ft.types(t))
}

func TestDirectMessageToAbsentUser(t *testing.T) {
	h := newHarness(t)
	alice, ft := h.join("lobby", "alice")
	h.join("other", "dave")

	h.send(alice, "dm", DirectRequest{ToUsername: "dave", Message: "hi"})

	last := ft.last(t)
	assert.Equal(t, TypeError, last.Type)
	assert.Equal(t, "User dave not found in this room.", last.Message)
	assert.Empty(t, h.directory.History("lobby"))
}

func TestPrivateMessagesStayOutOfOtherSnapshots(t *testing.T) {
	h := newHarness(t)
	alice, _ := h.join("lobby", "alice")
	bob, _ := h.join("lobby", "bob")

	h.chat(alice, "public")
	h.send(alice, "dm", DirectRequest{ToUsername: "bob", Message: "secret"})

	carol, carolFT := h.connect()
	h.send(carol, "join", JoinRequest{RoomID: "lobby", Username: "carol"})

	snapshot := decodeWirePayload[[]Message](t, carolFT.received(t)[1])
	require.Len(t, snapshot, 1)
	assert.Equal(t, "public", snapshot[0].Text)

	h.leave(bob)
	bobAgain, bobAgainFT := h.connect()
	h.send(bobAgain, "join", JoinRequest{RoomID: "lobby", Username: "Bob"})

	snapshot = decodeWirePayload[[]Message](t, bobAgainFT.received(t)[1])
	require.Len(t, snapshot, 2)
	assert.Equal(t, "secret", snapshot[1].Text)
}

func TestLockScenario(t *testing.T) {
	h := newHarness(t)
	alice, aliceFT := h.join("r1", "alice")
	bob, bobFT := h.join("r1", "bob")
	aliceFT.reset()

	h.admin(bob, CommandLock, "")
	refused := bobFT.last(t)
	assert.Equal(t, TypeError, refused.Type)
	assert.Equal(t, "Only the room host can do that.", refused.Message)
	assert.False(t, h.directory.IsLocked("r1"))
	bobFT.reset()

	h.admin(alice, CommandLock, "")
	for _, ft := range []*fakeTransport{aliceFT, bobFT} {
		update := ft.last(t)
		assert.Equal(t, TypeRoomLockUpdate, update.Type)
		assert.Equal(t, LockUpdatePayload{IsLocked: true}, decodeWirePayload[LockUpdatePayload](t, update))
	}

	carol, carolFT := h.connect()
	h.send(carol, "join", JoinRequest{RoomID: "r1", Username: "carol"})
	code, reason := carolFT.closed()
	assert.Equal(t, ClosePolicyViolation, code)
	assert.Equal(t, "This room is locked.", reason)

	h.admin(alice, CommandLock, "")
	assert.False(t, h.directory.IsLocked("r1"))
}

func TestKick(t *testing.T) {
	h := newHarness(t)
	alice, aliceFT := h.join("lobby", "alice")
	bob, bobFT := h.join("lobby", "bob")
	aliceFT.reset()

	h.admin(alice, CommandKick, "Bob")

	assert.Equal(t, SystemNotice("You have been kicked from the room by the host.").Message, bobFT.last(t).Message)
	code, reason := bobFT.closed()
	assert.Equal(t, CloseKicked, code)
	assert.Equal(t, "You were kicked by the host", reason)

	left := aliceFT.last(t)
	assert.Equal(t, TypeUserLeft, left.Type)
	assert.Equal(t, UserLeftPayload{Username: "bob", Reason: ReasonKicked}, decodeWirePayload[UserLeftPayload](t, left))

	assert.Len(t, h.registry.Occupants("lobby"), 1)
	assert.False(t, h.directory.IsBanned("lobby", "bob"))

	// The transport closing later must not announce the departure twice.
	aliceFT.reset()
	h.leave(bob)
	assert.Empty(t, aliceFT.received(t))

	h.join("lobby", "bob")
}

func TestBan(t *testing.T) {
	h := newHarness(t)
	alice, aliceFT := h.join("lobby", "alice")
	_, bobFT := h.join("lobby", "bob")
	aliceFT.reset()

	h.admin(alice, CommandBan, "bob")

	code, reason := bobFT.closed()
	assert.Equal(t, CloseBanned, code)
	assert.Equal(t, "You were banned by the host", reason)
	assert.Equal(t, UserLeftPayload{Username: "bob", Reason: ReasonBanned}, decodeWirePayload[UserLeftPayload](t, aliceFT.last(t)))
	assert.True(t, h.directory.IsBanned("lobby", "BOB"))

	again, againFT := h.connect()
	h.send(again, "join", JoinRequest{RoomID: "lobby", Username: "Bob"})
	code, reason = againFT.closed()
	assert.Equal(t, ClosePolicyViolation, code)
	assert.Equal(t, "You are banned from this room.", reason)
}

func TestBanAbsentUserIsRemembered(t *testing.T) {
	h := newHarness(t)
	alice, aliceFT := h.join("lobby", "alice")

	h.admin(alice, CommandBan, "mallory")

	notice := aliceFT.last(t)
	assert.Equal(t, TypeSystem, notice.Type)
	assert.Equal(t, "mallory has been banned from the room.", notice.Message)
	assert.True(t, h.directory.IsBanned("lobby", "Mallory"))
}

func TestModerationTargetErrors(t *testing.T) {
	tests := []struct {
		name    string
		command AdminCommand
		target  string
		want    string
	}{
		{name: "kick without target", command: CommandKick, target: "", want: "A target user is required."},
		{name: "ban without target", command: CommandBan, target: "  ", want: "A target user is required."},
		{name: "kick self", command: CommandKick, target: "ALICE", want: "You cannot kick yourself."},
		{name: "ban self", command: CommandBan, target: "alice", want: "You cannot ban yourself."},
		{name: "kick absent user", command: CommandKick, target: "zed", want: "User zed not found in this room."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			alice, ft := h.join("lobby", "alice")

			h.admin(alice, tt.command, tt.target)

			last := ft.last(t)
			assert.Equal(t, TypeError, last.Type)
			assert.Equal(t, tt.want, last.Message)
			assert.True(t, alice.Open())
			assert.False(t, h.directory.IsBanned("lobby", "alice"))
		})
	}
}

func TestHostLeavingPromotesEarliestJoiner(t *testing.T) {
	h := newHarness(t)
	alice, _ := h.join("lobby", "alice")
	bob, bobFT := h.join("lobby", "bob")
	_, carolFT := h.join("lobby", "carol")
	bobFT.reset()

	h.leave(alice)

	assert.Equal(t, []MessageType{TypeUserLeft, TypeHostUpdate}, bobFT.types(t))
	frames := bobFT.received(t)
	assert.Equal(t, UserLeftPayload{Username: "alice", Reason: ReasonLeft}, decodeWirePayload[UserLeftPayload](t, frames[0]))
	assert.Equal(t, HostUpdatePayload{NewHost: "bob"}, decodeWirePayload[HostUpdatePayload](t, frames[1]))
	assert.Equal(t, TypeHostUpdate, carolFT.last(t).Type)

	h.admin(bob, CommandLock, "")
	assert.True(t, h.directory.IsLocked("lobby"))
}

func TestNonHostLeavingKeepsHost(t *testing.T) {
	h := newHarness(t)
	_, aliceFT := h.join("lobby", "alice")
	bob, _ := h.join("lobby", "bob")
	aliceFT.reset()

	h.leave(bob)

	assert.Equal(t, []MessageType{TypeUserLeft}, aliceFT.types(t))
	host, _ := h.directory.Host("lobby")
	assert.Equal(t, "alice", host)
}

func TestEmptiedRoomElectsNextJoiner(t *testing.T) {
	h := newHarness(t)
	alice, _ := h.join("lobby", "alice")
	h.chat(alice, "still here later")

	h.leave(alice)
	_, ok := h.directory.Host("lobby")
	assert.False(t, ok)

	dave, ft := h.connect()
	h.send(dave, "join", JoinRequest{RoomID: "lobby", Username: "dave"})

	state := decodeWirePayload[RoomStatePayload](t, ft.last(t))
	assert.Equal(t, "dave", state.Host)

	snapshot := decodeWirePayload[[]Message](t, ft.received(t)[1])
	require.Len(t, snapshot, 1, "history outlives the occupants")
}

func TestRateLimit(t *testing.T) {
	policy := DefaultPolicy()

	t.Run("window of five frames", func(t *testing.T) {
		h := newHarnessWithPolicy(t, policy)
		alice, ft := h.join("lobby", "alice")
		h.advance(policy.RateLimitWindow)

		for i := 0; i < 5; i++ {
			h.chat(alice, "ok")
		}
		assert.Len(t, h.directory.History("lobby"), 5)

		h.chat(alice, "too fast")
		last := ft.last(t)
		assert.Equal(t, TypeError, last.Type)
		assert.Equal(t, "You are sending messages too quickly. Please slow down.", last.Message)
		assert.Len(t, h.directory.History("lobby"), 5)
		assert.True(t, alice.Open())

		h.advance(policy.RateLimitWindow)
		h.chat(alice, "later")
		assert.Len(t, h.directory.History("lobby"), 6)
	})

	t.Run("join counts toward the window", func(t *testing.T) {
		h := newHarnessWithPolicy(t, policy)
		alice, ft := h.join("lobby", "alice")

		for i := 0; i < 4; i++ {
			h.chat(alice, "ok")
		}
		h.chat(alice, "fifth chat, sixth frame")

		assert.Len(t, h.directory.History("lobby"), 4)
		assert.Equal(t, TypeError, ft.last(t).Type)
	})

	t.Run("windows are per connection", func(t *testing.T) {
		h := newHarnessWithPolicy(t, policy)
		alice, _ := h.join("lobby", "alice")
		bob, _ := h.join("lobby", "bob")
		h.advance(policy.RateLimitWindow)

		for i := 0; i < 5; i++ {
			h.chat(alice, "a")
			h.chat(bob, "b")
		}
		assert.Len(t, h.directory.History("lobby"), 10)
	})
}

func TestPartialPolicyKeepsDefaults(t *testing.T) {
	h := newHarnessWithPolicy(t, Policy{MaxChatLength: 10})
	alice, ft := h.join("lobby", "alice")
	h.advance(DefaultPolicy().RateLimitWindow)

	h.chat(alice, "short")
	h.chat(alice, "this one is too long")

	history := h.directory.History("lobby")
	require.Len(t, history, 1, "frames pass with the default rate limit")
	assert.Equal(t, "short", history[0].Text)

	for i := 0; i < 3; i++ {
		h.chat(alice, "ok")
	}
	assert.Len(t, h.directory.History("lobby"), 4)

	h.chat(alice, "sixth")
	assert.Len(t, h.directory.History("lobby"), 4)
	assert.Equal(t, "You are sending messages too quickly. Please slow down.", ft.last(t).Message)
}

func TestClosingSessionIsIgnored(t *testing.T) {
	h := newHarness(t)
	alice, aliceFT := h.join("lobby", "alice")
	bob, bobFT := h.join("lobby", "bob")
	aliceFT.reset()

	h.router.closeSession(bob, CloseNormal, "")
	h.chat(bob, "ghost")
	h.chat(alice, "anyone?")

	history := h.directory.History("lobby")
	require.Len(t, history, 1)
	assert.Equal(t, "alice", history[0].Author)
	assert.Empty(t, bobFT.received(t))
}
