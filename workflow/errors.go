package workflow

import "errors"

// Terminal check-in and retry outcomes. Handlers map these onto HTTP status
// codes; anything else coming out of the engine is an internal error.
var (
	ErrEventNotFound    = errors.New("event not found")
	ErrInvalidSecret    = errors.New("check-in secret does not match")
	ErrNotSubscribed    = errors.New("no subscription for this event")
	ErrAlreadyCheckedIn = errors.New("participant has already checked in")
	ErrNotAttended      = errors.New("subscription has not checked in yet")
	ErrRetryThrottled   = errors.New("retry attempted before backoff window elapsed")
)
