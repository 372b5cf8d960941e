package conn

import (
	"errors"
	"fmt"
)

// Connection context errors.
var (
	// ErrInvalidHandle is returned for connection handles outside 0x0000-0x0EFF.
	ErrInvalidHandle = errors.New("conn: invalid connection handle")

	// ErrInvalidRole is returned when a role is neither master nor slave.
	ErrInvalidRole = errors.New("conn: invalid role")

	// ErrContextNotFound is returned when no context exists for a handle.
	ErrContextNotFound = errors.New("conn: context not found")

	// ErrTableFull is returned when no more links can be tracked.
	ErrTableFull = errors.New("conn: context table full")

	// ErrDuplicateHandle is returned when adding a handle that is already present.
	ErrDuplicateHandle = errors.New("conn: duplicate connection handle")

	// ErrFrameTooShort is returned when a data PDU has no complete header.
	ErrFrameTooShort = errors.New("conn: frame too short")

	// ErrFrameLength is returned when the header length disagrees with the frame.
	ErrFrameLength = errors.New("conn: frame length mismatch")

	// ErrInvalidLLID is returned for the reserved LLID value.
	ErrInvalidLLID = errors.New("conn: reserved LLID")

	// ErrPayloadTooLong is returned when a payload does not fit the length field.
	ErrPayloadTooLong = errors.New("conn: payload too long")

	// ErrMICFailure is returned when an encrypted PDU fails authentication.
	ErrMICFailure = errors.New("conn: MIC failure")

	// ErrCounterExhausted is returned when a packet counter would exceed 39 bits.
	// The link must be re-keyed or disconnected when this occurs.
	ErrCounterExhausted = errors.New("conn: packet counter exhausted")

	// ErrVectorsUnbound is returned when session key inputs are requested
	// before both vector halves are bound.
	ErrVectorsUnbound = errors.New("conn: session key vectors not bound")
)

type errInvariant struct {
	state  State
	hasKey bool
}

func (e errInvariant) Error() string {
	return fmt.Sprintf("conn: session key present=%v in state %s", e.hasKey, e.state)
}
