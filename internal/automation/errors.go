package automation

import "errors"

// Domain errors for the automation package.
var (
	// ErrNotFound is returned when an automation does not exist.
	ErrNotFound = errors.New("automation: not found")

	// ErrInvalidTriggerTime is returned for a trigger time that is not "HH:MM".
	ErrInvalidTriggerTime = errors.New("automation: invalid trigger time")

	// ErrInvalidRepeatDays is returned for weekday numbers outside 1..7.
	ErrInvalidRepeatDays = errors.New("automation: invalid repeat days")

	// ErrInvalidSolarEvent is returned for an unknown solar anchor.
	ErrInvalidSolarEvent = errors.New("automation: invalid solar event")
)
