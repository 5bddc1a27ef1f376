package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"relaychat/internal/pkg/logx"
	"relaychat/internal/pkg/randx"
)

const (
	// timeout for a single write to the peer.
	writeWait = 10 * time.Second

	// after sending a close frame, how long to wait for the peer's reply.
	closeGrace = 2 * time.Second

	// outbound frames queued per connection before sends start failing.
	sendQueueSize = 256

	// DefaultMaxFrameBytes is the default read limit for one inbound frame.
	DefaultMaxFrameBytes = 8192
)

var (
	errQueueFull    = errors.New("client send queue full")
	errClientClosed = errors.New("client closed")
)

// outbound is one item of the write queue: a text frame, a ping when ping is
// set, or a close frame when closeCode is non-zero.
type outbound struct {
	data        []byte
	ping        bool
	closeCode   int
	closeReason string
}

// Client adapts a websocket connection to the Transport interface and pumps
// frames between it and the Hub.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	id   ConnID

	maxFrameBytes int64

	// send is drained by writePump in order, so a notice queued before a
	// close frame reaches the peer first.
	send chan outbound

	done     chan struct{}
	doneOnce sync.Once

	logger zerolog.Logger
}

// NewClient wraps conn. maxFrameBytes of zero selects DefaultMaxFrameBytes.
func NewClient(hub *Hub, conn *websocket.Conn, maxFrameBytes int64) *Client {
	if maxFrameBytes <= 0 {
		maxFrameBytes = DefaultMaxFrameBytes
	}

	return &Client{
		hub:           hub,
		conn:          conn,
		maxFrameBytes: maxFrameBytes,
		send:          make(chan outbound, sendQueueSize),
		done:          make(chan struct{}),
		logger: logx.For("client").With().
			Str("session", randx.ConnectionID()).
			Str("remote_ip", logx.AnonymizeIP(conn.RemoteAddr().String())).
			Logger(),
	}
}

// Serve registers the client with the hub and runs its pumps until the
// connection ends. It blocks for the lifetime of the connection.
func (c *Client) Serve(ctx context.Context) error {
	id, err := c.hub.Register(ctx, c)
	if err != nil {
		if werr := c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(CloseServiceRestart, restartReason),
			time.Now().Add(writeWait),
		); werr != nil {
			c.logger.Debug().Err(werr).Msg("failed to write refusal close frame")
		}
		if cerr := c.conn.Close(); cerr != nil {
			c.logger.Debug().Err(cerr).Msg("connection close error")
		}
		return err
	}

	c.id = id
	c.logger = c.logger.With().Uint64("conn_id", uint64(id)).Logger()

	go c.writePump()
	c.readPump()
	return nil
}

// readPump forwards inbound frames to the hub until the connection fails,
// then reports the departure.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister(c.id)
		c.stop()
		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("connection close error")
		}
	}()

	c.conn.SetReadLimit(c.maxFrameBytes)
	c.conn.SetPongHandler(func(string) error {
		c.hub.Pong(c.id)
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("connection ended unexpectedly")
			}
			return
		}

		c.hub.Deliver(c.id, data)
	}
}

// writePump drains the send queue onto the socket.
func (c *Client) writePump() {
	for {
		select {
		case <-c.done:
			return

		case item := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				c.logger.Warn().Err(err).Msg("failed to set write deadline")
				c.Terminate()
				return
			}

			if item.closeCode != 0 {
				c.writeClose(item.closeCode, item.closeReason)
				return
			}

			if item.ping {
				if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					c.logger.Warn().Err(err).Msg("error writing ping")
					c.Terminate()
					return
				}
				continue
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, item.data); err != nil {
				c.logger.Warn().Err(err).Msg("error writing message")
				c.Terminate()
				return
			}
		}
	}
}

// writeClose sends the close frame and gives the peer closeGrace to answer
// before the read pump gives up on the connection.
func (c *Client) writeClose(code int, reason string) {
	c.logger.Info().Int("close_code", code).Str("reason", reason).Msg("closing connection")

	msg := websocket.FormatCloseMessage(code, reason)
	if err := c.conn.WriteMessage(websocket.CloseMessage, msg); err != nil {
		c.logger.Warn().Err(err).Msg("failed to write close frame")
		c.Terminate()
		return
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(closeGrace)); err != nil {
		c.Terminate()
	}
}

func (c *Client) stop() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *Client) enqueue(item outbound) error {
	select {
	case <-c.done:
		return errClientClosed
	default:
	}

	select {
	case c.send <- item:
		return nil
	default:
		return errQueueFull
	}
}

// Send implements Transport.
func (c *Client) Send(data []byte) error {
	return c.enqueue(outbound{data: data})
}

// Ping implements Transport. The ping is queued behind pending frames and
// written by the write pump; a full queue fails the ping instead of waiting.
func (c *Client) Ping() error {
	return c.enqueue(outbound{ping: true})
}

// Close implements Transport. If the queue is full the connection is dropped.
func (c *Client) Close(code int, reason string) {
	if err := c.enqueue(outbound{closeCode: code, closeReason: reason}); err != nil {
		c.logger.Warn().Err(err).Int("close_code", code).Msg("could not queue close frame, terminating")
		c.Terminate()
	}
}

// Terminate implements Transport.
func (c *Client) Terminate() {
	c.stop()
	c.conn.Close()
}
