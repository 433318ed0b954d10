package session

import "errors"

var (
	// ErrNotFound indicates the session ID is unknown to the aggregator.
	ErrNotFound = errors.New("session not found")

	// ErrNotActive indicates an event arrived for a session that has
	// already ended. The event is dropped, never queued.
	ErrNotActive = errors.New("session not active")

	// ErrAlreadyEnded indicates an end request for a session that has
	// already left the Active state.
	ErrAlreadyEnded = errors.New("session already ended")
)
