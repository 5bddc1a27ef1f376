package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var errFakeClosed = errors.New("fake transport closed")

// fakeTransport records everything the hub sends to one connection.
type fakeTransport struct {
	mu sync.Mutex

	frames      [][]byte
	pings       int
	closeCode   int
	closeReason string
	terminated  bool
	failSends   bool

	// onClose runs after Close or Terminate, outside the lock.
	onClose func()

	// beforeSend runs at the start of every Send, outside the lock.
	beforeSend func()
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	hook := f.beforeSend
	f.mu.Unlock()

	if hook != nil {
		hook()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failSends || f.closeCode != 0 || f.terminated {
		return errFakeClosed
	}
	f.frames = append(f.frames, data)
	return nil
}

func (f *fakeTransport) Ping() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.pings++
	return nil
}

func (f *fakeTransport) Close(code int, reason string) {
	f.mu.Lock()
	f.closeCode = code
	f.closeReason = reason
	onClose := f.onClose
	f.mu.Unlock()

	if onClose != nil {
		onClose()
	}
}

func (f *fakeTransport) Terminate() {
	f.mu.Lock()
	f.terminated = true
	onClose := f.onClose
	f.mu.Unlock()

	if onClose != nil {
		onClose()
	}
}

func (f *fakeTransport) setOnClose(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onClose = fn
}

func (f *fakeTransport) setBeforeSend(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beforeSend = fn
}

func (f *fakeTransport) closed() (int, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCode, f.closeReason
}

func (f *fakeTransport) pingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

func (f *fakeTransport) wasTerminated() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.terminated
}

// wireFrame covers every outbound shape: flat notices, messages and
// payload envelopes.
type wireFrame struct {
	Type      MessageType     `json:"type"`
	ID        string          `json:"id"`
	Author    string          `json:"author"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Message   string          `json:"message"`
	Timestamp string          `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

func (f *fakeTransport) received(t *testing.T) []wireFrame {
	t.Helper()

	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]wireFrame, 0, len(f.frames))
	for _, data := range f.frames {
		var w wireFrame
		require.NoError(t, json.Unmarshal(data, &w), "frame %s", data)
		out = append(out, w)
	}
	return out
}

func (f *fakeTransport) types(t *testing.T) []MessageType {
	t.Helper()

	frames := f.received(t)
	out := make([]MessageType, 0, len(frames))
	for _, w := range frames {
		out = append(out, w.Type)
	}
	return out
}

func (f *fakeTransport) last(t *testing.T) wireFrame {
	t.Helper()

	frames := f.received(t)
	require.NotEmpty(t, frames, "no frames received")
	return frames[len(frames)-1]
}

func (f *fakeTransport) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = nil
}

func decodeWirePayload[T any](t *testing.T, w wireFrame) T {
	t.Helper()

	var out T
	require.NoError(t, json.Unmarshal(w.Payload, &out), "payload of %s", w.Type)
	return out
}

func frame(t *testing.T, kind string, payload any) []byte {
	t.Helper()

	env := map[string]any{"type": kind}
	if payload != nil {
		env["payload"] = payload
	}
	data, err := json.Marshal(env)
	require.NoError(t, err)
	return data
}

var testEpoch = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)

// harness drives a Router directly with a controllable clock.
type harness struct {
	t *testing.T

	clock time.Time
	ids   int

	registry  *Registry
	directory *Directory
	router    *Router
}

// newHarness uses the default policy with the frame rate limit lifted, so
// scenario tests need not pace their frames.
func newHarness(t *testing.T) *harness {
	policy := DefaultPolicy()
	policy.RateLimitMessages = 1000
	return newHarnessWithPolicy(t, policy)
}

func newHarnessWithPolicy(t *testing.T, policy Policy) *harness {
	h := &harness{t: t, clock: testEpoch}

	now := func() time.Time { return h.clock }
	newID := func() string {
		h.ids++
		return fmt.Sprintf("msg-%d", h.ids)
	}

	h.registry = NewRegistry(zerolog.Nop())
	h.directory = NewDirectory(DefaultHistoryLimit, now, newID)
	broadcast := NewBroadcaster(h.registry, nil, zerolog.Nop())
	h.router = NewRouter(h.registry, h.directory, broadcast, policy, now, nil, zerolog.Nop())

	return h
}

func (h *harness) advance(d time.Duration) {
	h.clock = h.clock.Add(d)
}

func (h *harness) connect() (*Session, *fakeTransport) {
	ft := &fakeTransport{}
	return h.registry.Register(ft), ft
}

func (h *harness) send(s *Session, kind string, payload any) {
	h.t.Helper()
	h.router.HandleFrame(s, frame(h.t, kind, payload))
}

// join connects a new session, joins roomID as username and clears what the
// joiner received.
func (h *harness) join(roomID, username string) (*Session, *fakeTransport) {
	h.t.Helper()

	s, ft := h.connect()
	h.send(s, "join", JoinRequest{RoomID: roomID, Username: username})

	_, joined := s.Room()
	require.True(h.t, joined, "%s could not join %s", username, roomID)
	ft.reset()
	return s, ft
}

// leave runs the departure path the hub uses for a closed connection.
func (h *harness) leave(s *Session) {
	h.router.Depart(s)
	h.registry.Remove(s.ID)
}

func (h *harness) chat(s *Session, text string) {
	h.t.Helper()
	h.send(s, "chat", ChatRequest{Message: text})
}

func (h *harness) admin(s *Session, command AdminCommand, target string) {
	h.t.Helper()
	h.send(s, "admin", AdminRequest{Command: command, TargetUser: target})
}
