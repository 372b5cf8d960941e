package radio

import "errors"

// Transport errors.
var (
	ErrLinkExists   = errors.New("radio: link already attached")
	ErrUnknownLink  = errors.New("radio: unknown link")
	ErrClosed       = errors.New("radio: transport closed")
	ErrFrameTooLong = errors.New("radio: frame too long")
)
