package device

import "errors"

// Domain errors for the device package.
var (
	// ErrNotFound is returned when a device does not exist.
	ErrNotFound = errors.New("device: not found")

	// ErrExists is returned when creating a device whose ID is taken.
	ErrExists = errors.New("device: already exists")

	// ErrInvalidKind is returned for a kind outside the closed set.
	ErrInvalidKind = errors.New("device: invalid kind")

	// ErrUnknownAttribute is returned when a tag suffix does not map to
	// an attribute of the device's kind.
	ErrUnknownAttribute = errors.New("device: unknown attribute")

	// ErrInvalidValue is returned when a value's type does not fit the
	// addressed attribute.
	ErrInvalidValue = errors.New("device: invalid attribute value")
)
