package liveupdates

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/rs/zerolog"
)

const (
	// maxMessageSize is the maximum size in bytes of a single inbound WebSocket message.
	maxMessageSize = 4096

	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// staleSendThreshold is how far in the past a client-supplied sendTime may lie before the frame is silently
	// dropped. Guards against client clock drift replaying stale frames.
	staleSendThreshold = 5 * time.Second
)

// Client is one authenticated live-updates session. Each client runs two goroutines: readPump processes inbound
// requests sequentially, writePump drains the send channel. The client is the registry handle for its connection.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	identity string
	send     chan []byte
	log      zerolog.Logger

	// done is closed to signal shutdown. The send channel is never closed directly; writePump and Enqueue both select
	// on done, avoiding send-on-closed-channel panics when a detach races with a broadcast.
	done      chan struct{}
	closeOnce sync.Once

	// Rate limiting state (only accessed from readPump, no mutex needed).
	eventCount  int
	windowStart time.Time
}

func newClient(hub *Hub, conn *websocket.Conn, identity string) *Client {
	return &Client{
		hub:      hub,
		conn:     conn,
		identity: identity,
		send:     make(chan []byte, hub.sendBuffer),
		done:     make(chan struct{}),
		log:      hub.log.With().Str("identity", identity).Logger(),
	}
}

// Identity returns the authenticated identity behind this session.
func (c *Client) Identity() string { return c.identity }

// closeSend signals the write loop to stop. Safe to call from multiple goroutines; only the first call has any effect.
func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Enqueue hands a payload to the write loop without blocking. It reports false when the session is shutting down or
// its buffer is full; in the latter case the connection is closed so backpressure never stalls a broadcast.
func (c *Client) Enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- payload:
		return true
	case <-c.done:
		return false
	default:
		c.log.Warn().Msg("Live session send buffer full, closing connection")
		c.closeSend()
		_ = c.conn.Close()
		return false
	}
}

// respond enqueues a RESPONSE frame for the given request.
func (c *Client) respond(requestID string, statusCode int, message string) {
	frame, err := NewResponseFrame(requestID, statusCode, message)
	if err != nil {
		c.log.Error().Err(err).Msg("Failed to build response frame")
		return
	}
	c.Enqueue(frame)
}

// readPump reads frames from the connection and dispatches them. Requests within one session are handled strictly in
// arrival order. The pump owns connection teardown: when it exits, the handle detaches and the connection closes.
func (c *Client) readPump() {
	defer func() {
		c.hub.detach(c)
		c.closeSend()
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Msg("WebSocket read error")
			}
			return
		}

		if c.rateLimited() {
			c.closeWithCode(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}

		var req Request
		if err := json.Unmarshal(raw, &req); err != nil {
			c.respond("unknown", 400, "Invalid frame")
			continue
		}

		if req.RequestType == "" || req.RequestID == "" {
			id := req.RequestID
			if id == "" {
				id = "unknown"
			}
			c.respond(id, 400, "Missing requestType or requestId")
			continue
		}

		if staleSendTime(req.SendTime) {
			continue
		}

		c.hub.dispatch(c, req)
	}
}

// writePump writes payloads from the send channel to the connection. It exits when done is closed, draining any
// buffered payloads first so the peer receives them before the connection closes.
func (c *Client) writePump() {
	defer func() { _ = c.conn.Close() }()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.log.Debug().Err(err).Msg("WebSocket write error")
				return
			}
		case <-c.done:
			for {
				select {
				case msg := <-c.send:
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}

// closeWithCode sends a WebSocket close frame with the given code and reason, then closes the underlying connection.
func (c *Client) closeWithCode(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = c.conn.Close()
}

// rateLimited returns true if the session has exceeded the configured inbound frame rate.
func (c *Client) rateLimited() bool {
	now := time.Now()
	if now.Sub(c.windowStart) > c.hub.rateWindow {
		c.eventCount = 0
		c.windowStart = now
	}
	c.eventCount++
	return c.eventCount > c.hub.rateCount
}

// staleSendTime reports whether a client-supplied sendTime lies more than staleSendThreshold in the past. Frames with
// no sendTime, or one that does not parse, pass through.
func staleSendTime(sendTime *string) bool {
	if sendTime == nil {
		return false
	}
	t, err := time.Parse(time.RFC3339Nano, *sendTime)
	if err != nil {
		return false
	}
	return time.Since(t) > staleSendThreshold
}
