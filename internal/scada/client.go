package scada

import (
	"context"
	"crypto/tls"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// streamPath is the broker's streaming endpoint.
const streamPath = "/ws/tag/1/"

// Default timeouts and buffer sizes for the broker session.
const (
	// defaultConnectTimeout is the maximum time for the websocket handshake.
	defaultConnectTimeout = 10 * time.Second

	// defaultWriteTimeout is the deadline applied to each outbound write.
	defaultWriteTimeout = 5 * time.Second

	// defaultInitialBackoff is the first reconnection delay.
	defaultInitialBackoff = 1 * time.Second

	// defaultMaxBackoff caps the reconnection delay.
	defaultMaxBackoff = 60 * time.Second

	// sendQueueSize bounds the outbound queue. Writes beyond this are
	// dropped, not queued - there is no outbound retry buffer.
	sendQueueSize = 64
)

// ConnectionState describes the lifecycle of the broker session.
// Exactly one instance per Client; transitions are serialized.
type ConnectionState int32

// Connection states.
const (
	StateUnauthenticated ConnectionState = iota
	StateAuthenticating
	StateConnected
	StateReconnecting
	StateClosed
)

// String returns a human-readable state name.
func (s ConnectionState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Config holds broker connection configuration.
type Config struct {
	// Target is the broker host:port (no scheme).
	Target string

	// Identity and Secret are the broker account credentials.
	Identity string
	Secret   string

	// Token is an optional pre-shared token, probed before use.
	Token string

	// VerifyTLS controls certificate verification.
	VerifyTLS bool

	// DisableTLS switches to plaintext http/ws. Development and test use only.
	DisableTLS bool

	// ConnectTimeout is the maximum time for the websocket handshake.
	// Default: 10 seconds.
	ConnectTimeout time.Duration

	// InitialBackoff is the first reconnection delay. Default: 1 second.
	InitialBackoff time.Duration

	// MaxBackoff caps the reconnection delay. Default: 60 seconds.
	MaxBackoff time.Duration
}

// Stats holds operational statistics.
type Stats struct {
	MessagesRx      uint64
	MessagesTx      uint64
	MessagesDropped uint64 // Outbound messages dropped due to full queue
	ParseFailures   uint64
	ErrorsTotal     uint64
	ReconnectsTotal uint64 // Successful reconnections
	LastActivity    time.Time
	State           ConnectionState
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Transport is the interface the bridge consumes.
// This allows mocking the broker client in tests.
type Transport interface {
	Start(ctx context.Context, tags []string) error
	Subscribe(tags []string) error
	SendValue(tag string, value any) error
	SetOnUpdate(callback func(TagUpdate))
	State() ConnectionState
	IsConnected() bool
	Stats() Stats
	Close() error
}

// Ensure Client implements Transport.
var _ Transport = (*Client)(nil)

// Client maintains one authenticated streaming session to the broker.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - The update callback is invoked synchronously from the single
//     receive loop, in arrival order. A slow callback delays subsequent
//     message processing; keep it fast.
//
// Auto-Reconnection:
//   - On unexpected socket closure the client re-authenticates and
//     redials with exponential backoff and jitter, then re-issues the
//     last-known subscribed tag set.
//   - Reconnection stops only when Close() is called.
type Client struct {
	cfg  Config
	cred Credential

	httpClient *http.Client

	// Connection state
	connMu sync.RWMutex
	conn   *websocket.Conn
	state  ConnectionState

	// Credential state (token rewritten on re-auth)
	credMu sync.RWMutex

	// Subscribed tag set, re-issued after every reconnect
	tagsMu sync.Mutex
	tags   []string

	// Update handler callback
	onUpdate   func(TagUpdate)
	callbackMu sync.RWMutex

	// Outbound queue, drained by a single writer goroutine
	sendQueue chan []byte

	// Reconnection state
	reconnecting   atomic.Bool
	reconnectCount atomic.Int32

	// Shutdown coordination (closeOnce prevents double-close panics)
	done *closeOnce
	wg   sync.WaitGroup

	// Logger (optional)
	logger   Logger
	loggerMu sync.RWMutex

	// Statistics (atomic for performance)
	messagesRx      atomic.Uint64
	messagesTx      atomic.Uint64
	messagesDropped atomic.Uint64
	parseFailures   atomic.Uint64
	errorsTotal     atomic.Uint64
	reconnectsTotal atomic.Uint64
	lastActivity    atomic.Int64 // Unix timestamp
}

// New creates a broker client. No network activity occurs until
// Start or Connect is called.
func New(cfg Config) *Client {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.InitialBackoff == 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}

	return &Client{
		cfg: cfg,
		cred: Credential{
			Identity: cfg.Identity,
			Secret:   cfg.Secret,
			Token:    cfg.Token,
		},
		httpClient: newAuthClient(cfg.VerifyTLS),
		state:      StateUnauthenticated,
		sendQueue:  make(chan []byte, sendQueueSize),
		done:       newCloseOnce(),
	}
}

// Start brings the session up and keeps it up.
//
// It attempts an immediate authenticate+connect; on failure it logs,
// enters Reconnecting and retries in the background rather than
// failing the caller - the broker being briefly unreachable at boot
// must not abort process startup. The receive and write loops run
// until Close.
//
// Parameters:
//   - ctx: Context for the initial connection attempt
//   - tags: Initial tag subscription set
//
// Returns:
//   - error: ErrClosed if the client was already closed
func (c *Client) Start(ctx context.Context, tags []string) error {
	if c.isClosed() {
		return ErrClosed
	}

	c.tagsMu.Lock()
	c.tags = append([]string(nil), tags...)
	c.tagsMu.Unlock()

	if err := c.Connect(ctx, tags); err != nil {
		c.logError("initial broker connection failed, retrying in background", err)
		c.setState(StateReconnecting)
	}

	c.wg.Add(1)
	go c.receiveLoop()

	c.wg.Add(1)
	go c.writeLoop()

	return nil
}

// Connect authenticates and opens the streaming connection, then
// subscribes to the given tag set.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - tags: Tags to subscribe immediately after the handshake
//
// Returns:
//   - error: ErrAuthFailed or ErrConnectFailed (wrapped) on failure
func (c *Client) Connect(ctx context.Context, tags []string) error {
	if err := c.Authenticate(ctx); err != nil {
		c.errorsTotal.Add(1)
		return err
	}

	c.credMu.RLock()
	token := c.cred.Token
	c.credMu.RUnlock()

	// The broker authenticates the stream by reading the token out of
	// the websocket subprotocol header.
	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.ConnectTimeout,
		Subprotocols:     []string{token},
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: !c.cfg.VerifyTLS, //nolint:gosec // Operator-controlled toggle for self-signed brokers
		},
	}

	conn, resp, err := dialer.DialContext(ctx, c.streamURL(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close() //nolint:errcheck // Best effort cleanup
	}
	if err != nil {
		c.errorsTotal.Add(1)
		return fmt.Errorf("%w: dial: %w", ErrConnectFailed, err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.state = StateConnected
	c.connMu.Unlock()
	c.lastActivity.Store(time.Now().Unix())

	if len(tags) > 0 {
		if err := c.sendSubscription(conn, tags); err != nil {
			conn.Close() //nolint:errcheck // Best effort cleanup on error path
			c.connMu.Lock()
			c.conn = nil
			c.state = StateUnauthenticated
			c.connMu.Unlock()
			return fmt.Errorf("%w: subscribe: %w", ErrConnectFailed, err)
		}
	}

	c.logInfo("broker session established", "tags", len(tags))
	return nil
}

// Subscribe extends the live subscription without reconnecting.
// The tags are remembered and re-issued after any reconnect.
//
// Returns:
//   - error: ErrNotConnected if the session is down (tags are still
//     remembered for the next successful connection)
func (c *Client) Subscribe(tags []string) error {
	if len(tags) == 0 {
		return nil
	}

	c.tagsMu.Lock()
	c.tags = mergeTags(c.tags, tags)
	c.tagsMu.Unlock()

	c.connMu.RLock()
	conn := c.conn
	connected := c.state == StateConnected
	c.connMu.RUnlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}

	payload, err := encodeEnvelope(addTagsPayload{Type: "add_tags", Tags: tags})
	if err != nil {
		return fmt.Errorf("encoding subscription: %w", err)
	}
	return c.enqueue(payload)
}

// SendValue serializes a tag write and hands it to the outbound queue.
// The call returns immediately; there is no round-trip confirmation.
//
// Parameters:
//   - tag: Full tag including attribute suffix
//   - value: Raw value, serialized as-is
//
// Returns:
//   - error: ErrNotConnected while disconnected, ErrSendBufferFull if
//     the outbound queue is saturated
func (c *Client) SendValue(tag string, value any) error {
	if c.State() != StateConnected {
		return ErrNotConnected
	}

	payload, err := encodeEnvelope(setTagPayload{Type: "set_tag", Tag: tag, Value: value})
	if err != nil {
		return fmt.Errorf("encoding set_tag: %w", err)
	}
	return c.enqueue(payload)
}

// enqueue hands wire bytes to the writer goroutine without blocking.
func (c *Client) enqueue(payload []byte) error {
	select {
	case c.sendQueue <- payload:
		return nil
	default:
		c.messagesDropped.Add(1)
		c.errorsTotal.Add(1)
		return ErrSendBufferFull
	}
}

// sendSubscription writes an add_tags frame directly on the given
// connection. Used during connect/reconnect before the writer goroutine
// owns the socket for this session.
func (c *Client) sendSubscription(conn *websocket.Conn, tags []string) error {
	payload, err := encodeEnvelope(addTagsPayload{Type: "add_tags", Tags: tags})
	if err != nil {
		return err
	}
	if err := conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout)); err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return err
	}
	c.messagesTx.Add(1)
	return nil
}

// writeLoop drains the outbound queue onto the current connection.
// A single writer goroutine keeps websocket writes serialized.
func (c *Client) writeLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done.Done():
			return
		case payload := <-c.sendQueue:
			c.connMu.RLock()
			conn := c.conn
			c.connMu.RUnlock()

			if conn == nil {
				// Connection dropped between enqueue and write.
				c.messagesDropped.Add(1)
				continue
			}

			if err := conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout)); err != nil {
				c.logError("set write deadline failed", err)
				c.errorsTotal.Add(1)
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				// The receive loop notices the broken socket and reconnects.
				c.logError("outbound write failed", err)
				c.errorsTotal.Add(1)
				continue
			}
			c.messagesTx.Add(1)
			c.lastActivity.Store(time.Now().Unix())
		}
	}
}

// receiveLoop continuously reads broker frames. On connection loss it
// reconnects with exponential backoff and continues.
func (c *Client) receiveLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.done.Done():
			return
		default:
		}

		c.connMu.RLock()
		conn := c.conn
		connected := c.state == StateConnected
		c.connMu.RUnlock()

		if !connected || conn == nil {
			if !c.reconnect() {
				return // Shutdown during reconnection
			}
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.isClosed() {
				return
			}
			c.logError("read failed", err)
			c.errorsTotal.Add(1)
			c.handleDisconnect()
			continue
		}

		c.messagesRx.Add(1)
		c.lastActivity.Store(time.Now().Unix())
		c.handleFrame(data)
	}
}

// handleFrame decodes one inbound frame and dispatches it.
// Malformed frames are logged and dropped; they never kill the loop.
func (c *Client) handleFrame(data []byte) {
	payload, err := decodeEnvelope(data)
	if err != nil {
		c.parseFailures.Add(1)
		c.logError("dropping unparseable frame", err)
		return
	}

	switch {
	case payload.Type == msgTypeNotifyTag:
		c.dispatchUpdate(TagUpdate{
			Tag:        payload.Tag,
			Value:      payload.Value,
			ObservedAt: parseObservedAt(payload.Time),
		})
	case payload.MessageType == msgTypeSetTagResponse:
		// Informational only; not surfaced to the bridge.
		c.logDebug("set_tag acknowledged", "tag", payload.TagFullname, "status", payload.Status)
	default:
		c.logDebug("ignoring unknown frame", "type", payload.Type, "message_type", payload.MessageType)
	}
}

// dispatchUpdate invokes the update callback synchronously.
// Updates reach the callback in arrival order; a panic in the callback
// is recovered so one bad handler cannot kill the session.
func (c *Client) dispatchUpdate(update TagUpdate) {
	c.callbackMu.RLock()
	callback := c.onUpdate
	c.callbackMu.RUnlock()

	if callback == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.logError("update callback panic", fmt.Errorf("%v", r))
			c.errorsTotal.Add(1)
		}
	}()
	callback(update)
}

// handleDisconnect marks the session as lost.
func (c *Client) handleDisconnect() {
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close() //nolint:errcheck // Best effort cleanup
		c.conn = nil
	}
	wasConnected := c.state == StateConnected
	if c.state != StateClosed {
		c.state = StateReconnecting
	}
	c.connMu.Unlock()

	if wasConnected {
		c.logInfo("broker connection lost, will attempt reconnection")
	}
}

// reconnect re-authenticates and redials with exponential backoff and
// jitter, then re-issues the remembered tag set.
// Returns true on success, false if shutdown was signalled.
func (c *Client) reconnect() bool {
	// Prevent multiple concurrent reconnection attempts
	if !c.reconnecting.CompareAndSwap(false, true) {
		return c.waitForReconnection()
	}
	defer c.reconnecting.Store(false)

	backoff := c.cfg.InitialBackoff

	for {
		if c.isClosed() {
			return false
		}

		attempt := c.reconnectCount.Add(1)

		c.tagsMu.Lock()
		tags := append([]string(nil), c.tags...)
		c.tagsMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout+authHTTPTimeout)
		err := c.Connect(ctx, tags)
		cancel()

		if err == nil {
			c.reconnectCount.Store(0)
			c.reconnectsTotal.Add(1)
			c.logInfo("reconnection successful",
				"attempt", attempt, "total_reconnects", c.reconnectsTotal.Load())
			return true
		}

		c.setState(StateReconnecting)
		c.logError("reconnect attempt failed", err)
		c.logInfo("backing off", "attempt", attempt, "delay", backoff.String())

		select {
		case <-c.done.Done():
			return false
		case <-time.After(withJitter(backoff)):
		}

		// Exponential backoff with cap
		backoff *= 2
		if backoff > c.cfg.MaxBackoff {
			backoff = c.cfg.MaxBackoff
		}
	}
}

// waitForReconnection waits for another goroutine to complete reconnection.
func (c *Client) waitForReconnection() bool {
	for c.reconnecting.Load() && !c.isClosed() {
		time.Sleep(100 * time.Millisecond)
	}
	return !c.isClosed() && c.IsConnected()
}

// withJitter spreads a delay by up to +/-25% so a fleet of clients does
// not redial a recovering broker in lockstep.
func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	spread := float64(d) * 0.25
	return d + time.Duration((rand.Float64()*2-1)*spread) //nolint:gosec // Jitter, not cryptography
}

// mergeTags appends new tags, skipping duplicates, order preserved.
func mergeTags(existing, extra []string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, t := range existing {
		seen[t] = struct{}{}
	}
	for _, t := range extra {
		if _, dup := seen[t]; dup || t == "" {
			continue
		}
		seen[t] = struct{}{}
		existing = append(existing, t)
	}
	return existing
}

// SetOnUpdate sets the callback for inbound tag updates.
//
// The callback runs synchronously on the receive loop, once per
// notification, in arrival order.
func (c *Client) SetOnUpdate(callback func(TagUpdate)) {
	c.callbackMu.Lock()
	c.onUpdate = callback
	c.callbackMu.Unlock()
}

// SetLogger sets the logger for this client.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.state
}

// setState transitions the connection state, unless already closed.
func (c *Client) setState(s ConnectionState) {
	c.connMu.Lock()
	if c.state != StateClosed {
		c.state = s
	}
	c.connMu.Unlock()
}

// IsConnected returns true if the streaming session is up.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// SubscribedTags returns a copy of the remembered tag set.
func (c *Client) SubscribedTags() []string {
	c.tagsMu.Lock()
	defer c.tagsMu.Unlock()
	return append([]string(nil), c.tags...)
}

// Stats returns current operational statistics.
func (c *Client) Stats() Stats {
	return Stats{
		MessagesRx:      c.messagesRx.Load(),
		MessagesTx:      c.messagesTx.Load(),
		MessagesDropped: c.messagesDropped.Load(),
		ParseFailures:   c.parseFailures.Load(),
		ErrorsTotal:     c.errorsTotal.Load(),
		ReconnectsTotal: c.reconnectsTotal.Load(),
		LastActivity:    time.Unix(c.lastActivity.Load(), 0),
		State:           c.State(),
	}
}

// Close gracefully shuts the session down.
//
// It transitions to Closed, releases the socket and joins the loops.
// Safe to call multiple times.
//
// Returns:
//   - error: nil (closing is best-effort)
func (c *Client) Close() error {
	c.done.Close()

	c.connMu.Lock()
	c.state = StateClosed
	if c.conn != nil {
		c.conn.Close() //nolint:errcheck // Best effort cleanup
		c.conn = nil
	}
	c.connMu.Unlock()

	// Bounded join: the loops observe done within one read/backoff wait
	// because closing the socket unblocks any pending read.
	joined := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(joined)
	}()
	select {
	case <-joined:
	case <-time.After(5 * time.Second):
		c.logError("timed out joining session loops", nil)
	}

	c.logInfo("broker session closed")
	return nil
}

// isClosed returns true if the client has been closed.
func (c *Client) isClosed() bool {
	select {
	case <-c.done.Done():
		return true
	default:
		return false
	}
}

// logDebug logs a debug message if logger is set.
func (c *Client) logDebug(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if logger is set.
func (c *Client) logInfo(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (c *Client) logError(msg string, err error) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
