package bridge

import "errors"

// Domain errors for the bridge package.
var (
	// ErrNotConnected is returned when a command is issued while the
	// broker session is down. The command is declined, not queued.
	ErrNotConnected = errors.New("bridge: broker not connected")

	// ErrUnknownCommand is returned for an attribute key with no tag
	// suffix mapping.
	ErrUnknownCommand = errors.New("bridge: unknown command attribute")

	// ErrNoTag is returned when the target device has no broker tag.
	ErrNoTag = errors.New("bridge: device has no broker tag")
)
