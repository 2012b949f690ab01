package scada

import "errors"

// Domain errors for the scada transport package.
var (
	// ErrAuthFailed is returned when the broker rejects both the cached
	// token probe and the full login exchange.
	ErrAuthFailed = errors.New("scada: authentication failed")

	// ErrConnectFailed is returned when the streaming connection cannot
	// be established (DNS, TLS, handshake, upgrade rejection).
	ErrConnectFailed = errors.New("scada: connection failed")

	// ErrNotConnected is returned when a write is attempted while the
	// session is not in the Connected state.
	ErrNotConnected = errors.New("scada: not connected to broker")

	// ErrSendBufferFull is returned when the outbound queue is full.
	// The message is dropped, not queued for retry.
	ErrSendBufferFull = errors.New("scada: send buffer full")

	// ErrParseFailed is returned when an inbound message cannot be
	// decoded as the double-encoded envelope.
	ErrParseFailed = errors.New("scada: message parse failed")

	// ErrClosed is returned when an operation is attempted on a closed client.
	ErrClosed = errors.New("scada: client closed")
)
