package enc

import (
	"errors"

	"github.com/backkem/blelink/pkg/conn"
)

// Synchronous rejections of StartEncryption. They never change link state.
var (
	// ErrBusy is returned when a procedure is already in flight or the link
	// is already encrypted.
	ErrBusy = errors.New("enc: procedure already active")

	// ErrNoLongTermKey is returned when no pairing material is bound to the link.
	ErrNoLongTermKey = errors.New("enc: no long-term key")

	// ErrNotMaster is returned when a slave link is asked to start the procedure.
	ErrNotMaster = errors.New("enc: only the master starts encryption")
)

// Dispatcher errors.
var (
	ErrUnknownLink = errors.New("enc: unknown link")
	ErrLinkExists  = errors.New("enc: link already attached")
	ErrNoBridge    = errors.New("enc: bridge is required")
	ErrNoDeriver   = errors.New("enc: deriver is required")
	ErrVectorReuse = errors.New("enc: could not draw unused session key diversifier")
	ErrNoVectors   = errors.New("enc: PDU does not carry session key vectors")
)

// Abort causes, one per conn.AbortReason.
var (
	ErrPeerTimeout       = errors.New("enc: peer did not respond in time")
	ErrProtocolViolation = errors.New("enc: protocol violation")
	ErrHandshakeFailed   = errors.New("enc: handshake failed")
	ErrDerivationFailure = errors.New("enc: session key derivation failed")
	ErrPeerRejected      = errors.New("enc: peer rejected encryption")
)

// ReasonError maps an abort reason to its error. Returns nil for AbortNone.
func ReasonError(r conn.AbortReason) error {
	switch r {
	case conn.AbortPeerTimeout:
		return ErrPeerTimeout
	case conn.AbortProtocolViolation:
		return ErrProtocolViolation
	case conn.AbortHandshakeFailed:
		return ErrHandshakeFailed
	case conn.AbortDerivationFailure:
		return ErrDerivationFailure
	case conn.AbortPeerRejected:
		return ErrPeerRejected
	default:
		return nil
	}
}
