package keyengine

import "errors"

// Key engine errors.
var (
	// ErrDerivationTimeout is returned when a request is not serviced in time.
	ErrDerivationTimeout = errors.New("keyengine: derivation timed out")

	// ErrQueueFull is returned when the request queue has no room.
	ErrQueueFull = errors.New("keyengine: queue full")

	// ErrStopped is returned when submitting to an engine that is not running.
	ErrStopped = errors.New("keyengine: engine stopped")

	// ErrNoCallback is returned for a request without a Done callback.
	ErrNoCallback = errors.New("keyengine: request has no callback")
)
