package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/eversmart/homecore/internal/bridge"
	"github.com/eversmart/homecore/internal/hub"
)

// Websocket session defaults, used when the config leaves them zero.
const (
	defaultWSSendBuffer     = 256
	defaultWSMaxMessageSize = 4096
	defaultWSPingInterval   = 30 * time.Second
	defaultWSPongTimeout    = 60 * time.Second

	// wsWriteTimeout bounds a single frame write to a slow client.
	wsWriteTimeout = 10 * time.Second
)

// wsSession is one connected event-stream subscriber.
//
// It implements hub.Sink: the hub's Publish goroutine hands events to
// Deliver, which enqueues without blocking. The session's writePump
// drains the queue onto the wire. A subscriber that cannot keep up
// overflows its queue, Deliver returns an error, and the hub prunes
// the membership, which is the intended fate of a stalled client.
type wsSession struct {
	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	closed    chan struct{}
}

// Deliver implements hub.Sink.
func (c *wsSession) Deliver(event hub.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	select {
	case <-c.closed:
		return fmt.Errorf("session closed")
	case c.send <- payload:
		return nil
	default:
		return fmt.Errorf("send buffer full")
	}
}

// close marks the session dead and closes the connection. Safe to call
// from both pumps.
func (c *wsSession) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		//nolint:errcheck // Best effort close
		c.conn.Close()
	})
}

// upgrader configures the HTTP to WebSocket upgrade.
//
// CheckOrigin accepts all origins: the JWT in the query string is the
// access control, and dashboard clients connect from file:// and
// app-local origins that header checks would reject.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(_ *http.Request) bool { return true },
}

// handleWebSocket upgrades the connection and streams home events.
//
// Every session is joined to the shared event group; there is no
// per-session topic selection. The read pump only services control
// frames, inbound data frames are discarded.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an HTTP error response.
		s.logger.Warn("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	sendBuffer := s.wsCfg.SendBuffer
	if sendBuffer <= 0 {
		sendBuffer = defaultWSSendBuffer
	}

	session := &wsSession{
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		closed: make(chan struct{}),
	}

	membership := s.events.Join(bridge.EventGroup, session)
	s.logger.Info("websocket client connected",
		"remote", r.RemoteAddr,
		"subject", r.Context().Value(ctxKeySubject),
	)

	go s.wsWritePump(session)
	go s.wsReadPump(session, membership, r.RemoteAddr)
}

// wsReadPump services control frames and detects disconnects. The
// session's membership is released here, making the read pump the
// owner of session teardown.
func (s *Server) wsReadPump(c *wsSession, m *hub.Membership, remote string) {
	defer func() {
		s.events.Leave(m)
		c.close()
		s.logger.Info("websocket client disconnected", "remote", remote)
	}()

	maxMessageSize := s.wsCfg.MaxMessageSize
	if maxMessageSize <= 0 {
		maxMessageSize = defaultWSMaxMessageSize
	}
	pongTimeout := time.Duration(s.wsCfg.PongTimeout) * time.Second
	if pongTimeout <= 0 {
		pongTimeout = defaultWSPongTimeout
	}

	c.conn.SetReadLimit(int64(maxMessageSize))
	//nolint:errcheck // Deadline set on a live connection
	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		// The stream is one-way; inbound payloads are drained and dropped.
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket read error", "remote", remote, "error", err)
			}
			return
		}
	}
}

// wsWritePump drains the send queue onto the wire and keeps the
// connection alive with periodic pings.
func (s *Server) wsWritePump(c *wsSession) {
	pingInterval := time.Duration(s.wsCfg.PingInterval) * time.Second
	if pingInterval <= 0 {
		pingInterval = defaultWSPingInterval
	}
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.closed:
			return

		case payload := <-c.send:
			//nolint:errcheck // Failure surfaces on the write below
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			//nolint:errcheck // Failure surfaces on the write below
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
