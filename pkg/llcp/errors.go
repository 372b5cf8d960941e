package llcp

import "errors"

// Codec errors.
var (
	// ErrEmptyPDU is returned when decoding zero bytes.
	ErrEmptyPDU = errors.New("llcp: empty PDU")

	// ErrUnknownOpcode is returned for opcodes outside the encryption procedure.
	ErrUnknownOpcode = errors.New("llcp: unknown opcode")

	// ErrInvalidLength is returned when a PDU is truncated or carries trailing bytes.
	ErrInvalidLength = errors.New("llcp: invalid PDU length")
)
