package model

import "errors"

// Error taxonomy for the core. The API layer maps these to HTTP statuses
// with errors.Is; everything else wraps them with context.
var (
	// ErrValidation marks a malformed or incomplete request payload.
	ErrValidation = errors.New("validation failed")

	// ErrUnauthorized marks a request with no usable identity.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden marks an authenticated caller lacking the required role
	// or ownership.
	ErrForbidden = errors.New("forbidden")

	// ErrConflict marks a lost conditional write: a claim race, an
	// overlapping scheduler tick, or a state transition whose precondition
	// no longer held.
	ErrConflict = errors.New("conflict")

	// ErrNotFound marks an unknown conversation or volunteer.
	ErrNotFound = errors.New("not found")

	// ErrChannelDisabled marks intake on a channel whose configuration
	// switch is off.
	ErrChannelDisabled = errors.New("channel disabled")

	// ErrDuplicate marks an inbound message whose provider id was already
	// stored; redelivered webhooks are ignored.
	ErrDuplicate = errors.New("duplicate message")
)
