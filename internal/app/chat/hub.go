package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"relaychat/internal/pkg/logx"
	"relaychat/internal/pkg/randx"
)

const (
	// eventBuffer bounds connection events waiting for the hub loop across
	// all connections.
	eventBuffer = 1024

	// drainPollInterval is how often Shutdown checks for remaining connections.
	drainPollInterval = 50 * time.Millisecond

	restartNotice = "Server is restarting. Please reconnect in a moment."
	restartReason = "Server restarting"
)

// ErrHubClosed is returned when the hub no longer accepts work.
var ErrHubClosed = errors.New("hub is not accepting connections")

// Options configures a Hub. Zero values select the defaults.
type Options struct {
	Policy            Policy
	HistoryLimit      int
	HeartbeatInterval time.Duration
	Metrics           *Metrics

	// Now and NewID stamp messages; they default to time.Now and randx.MessageID.
	Now   func() time.Time
	NewID func() string

	// Ticks replaces the heartbeat ticker when set.
	Ticks <-chan time.Time
}

// Stats is the read-only view exposed on the status endpoint.
type Stats struct {
	Connections int `json:"connections"`
	Rooms       int `json:"rooms"`
}

type registration struct {
	transport Transport
	reply     chan ConnID
}

type eventKind int

const (
	eventFrame eventKind = iota
	eventPong
	eventClosed
)

// connEvent is something a transport reports about its connection. Frames,
// pongs and closes share one queue so the hub sees them in the order the
// transport reported them.
type connEvent struct {
	id   ConnID
	kind eventKind
	data []byte
}

// Hub serializes every state change onto the goroutine running Run. Transports
// talk to it only through its methods, which hand events over on channels.
type Hub struct {
	registry   *Registry
	directory  *Directory
	broadcast  *Broadcaster
	router     *Router
	supervisor *Supervisor
	metrics    *Metrics

	heartbeat time.Duration
	ticks     <-chan time.Time

	register chan registration
	events   chan connEvent
	stats    chan chan Stats
	drain    chan chan struct{}

	// draining is set by Shutdown; new registrations are refused afterwards.
	draining bool

	done chan struct{}

	logger zerolog.Logger
}

// NewHub builds a Hub and its collaborators. Call Run to start it.
func NewHub(opts Options) *Hub {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = randx.MessageID
	}

	logger := logx.For("hub")

	h := &Hub{
		metrics:   opts.Metrics,
		heartbeat: opts.HeartbeatInterval,
		ticks:     opts.Ticks,
		register:  make(chan registration),
		events:    make(chan connEvent, eventBuffer),
		stats:     make(chan chan Stats),
		drain:     make(chan chan struct{}),
		done:      make(chan struct{}),
		logger:    logger,
	}

	h.registry = NewRegistry(logx.For("registry"))
	h.directory = NewDirectory(opts.HistoryLimit, opts.Now, opts.NewID)
	h.broadcast = NewBroadcaster(h.registry, opts.Metrics, logx.For("broadcast"))
	h.router = NewRouter(h.registry, h.directory, h.broadcast, opts.Policy, opts.Now, opts.Metrics, logx.For("router"))
	h.supervisor = NewSupervisor(h.registry, h.forget, opts.Metrics, logx.For("heartbeat"))

	return h
}

// Run processes events until ctx is cancelled. It must be called exactly once.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	ticks := h.ticks
	if ticks == nil {
		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()
		ticks = ticker.C
	}

	h.logger.Info().Dur("heartbeat", h.heartbeat).Msg("hub loop started")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Int("connections", h.registry.Len()).Msg("hub loop stopped")
			return

		case reg := <-h.register:
			if h.draining {
				reg.reply <- 0
				continue
			}
			s := h.registry.Register(reg.transport)
			h.metrics.setConnections(h.registry.Len())
			s.logger.Debug().Msg("connection registered")
			reg.reply <- s.ID

		case ev := <-h.events:
			h.handleEvent(ev)

		case <-ticks:
			// Pongs already queued count towards this sweep.
			h.drainEvents()
			h.supervisor.Sweep()

		case reply := <-h.stats:
			reply <- Stats{
				Connections: h.registry.Len(),
				Rooms:       h.registry.OccupiedRooms(),
			}

		case ack := <-h.drain:
			h.draining = true
			h.closeAll()
			close(ack)
		}
	}
}

func (h *Hub) handleEvent(ev connEvent) {
	s := h.registry.Get(ev.id)
	if s == nil {
		return
	}

	switch ev.kind {
	case eventFrame:
		h.router.HandleFrame(s, ev.data)
	case eventPong:
		h.registry.MarkAlive(s)
	case eventClosed:
		s.logger.Debug().Msg("connection closed")
		h.forget(s)
	}
}

// drainEvents handles the events queued when it is called, and no more.
func (h *Hub) drainEvents() {
	for n := len(h.events); n > 0; n-- {
		h.handleEvent(<-h.events)
	}
}

// forget runs departure cleanup for s and drops it from the registry.
func (h *Hub) forget(s *Session) {
	h.router.Depart(s)
	h.registry.Remove(s.ID)
	h.metrics.setConnections(h.registry.Len())
}

func (h *Hub) closeAll() {
	sessions := h.registry.Sessions()
	h.logger.Info().Int("connections", len(sessions)).Msg("closing all connections for restart")

	for _, s := range sessions {
		h.broadcast.ToSession(s, SystemNotice(restartNotice))
		h.router.closeSession(s, CloseServiceRestart, restartReason)
	}
}

// Register adds a transport and returns its id.
func (h *Hub) Register(ctx context.Context, t Transport) (ConnID, error) {
	reply := make(chan ConnID, 1)

	select {
	case h.register <- registration{transport: t, reply: reply}:
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-h.done:
		return 0, ErrHubClosed
	}

	if id := <-reply; id != 0 {
		return id, nil
	}
	return 0, ErrHubClosed
}

func (h *Hub) post(ev connEvent) {
	select {
	case h.events <- ev:
	case <-h.done:
	}
}

// Deliver hands an inbound frame from connection id to the hub. Frames,
// pongs and the close from one caller are processed in the order reported.
func (h *Hub) Deliver(id ConnID, data []byte) {
	h.post(connEvent{id: id, kind: eventFrame, data: data})
}

// Pong records a liveness acknowledgement from connection id.
func (h *Hub) Pong(id ConnID) {
	h.post(connEvent{id: id, kind: eventPong})
}

// Unregister reports that connection id has closed. Frames delivered before
// it are still handled.
func (h *Hub) Unregister(id ConnID) {
	h.post(connEvent{id: id, kind: eventClosed})
}

// Stats returns the current connection and active room counts.
func (h *Hub) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)

	select {
	case h.stats <- reply:
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	case <-h.done:
		return Stats{}, ErrHubClosed
	}

	return <-reply, nil
}

// Shutdown tells every connection the server is restarting, closes them with
// code 1012 and waits until they have all unregistered or ctx expires.
func (h *Hub) Shutdown(ctx context.Context) error {
	ack := make(chan struct{})

	select {
	case h.drain <- ack:
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return nil
	}
	<-ack

	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()

	for {
		stats, err := h.Stats(ctx)
		if errors.Is(err, ErrHubClosed) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("waiting for connections to drain: %w", err)
		}
		if stats.Connections == 0 {
			return nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return fmt.Errorf("%d connections still open: %w", stats.Connections, ctx.Err())
		}
	}
}

// Done is closed when Run returns.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}
