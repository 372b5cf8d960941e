package controller

import "errors"

// Controller errors.
var (
	// ErrUnknownLink is returned for a handle with no established link.
	ErrUnknownLink = errors.New("controller: unknown link")

	// ErrNoConn is returned when Connect is called without a connection.
	ErrNoConn = errors.New("controller: no connection")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("controller: closed")

	// ErrProcedureActive is returned by Send while an encryption attempt is
	// in flight. Data transmission is paused until the attempt concludes.
	ErrProcedureActive = errors.New("controller: encryption procedure in progress")

	// ErrPeerMICFailure is reported when the peer drops an encrypted link
	// after a MIC failure on its side.
	ErrPeerMICFailure = errors.New("controller: peer reported MIC failure")

	// ErrKeyMaterial is returned when provisioning yields unusable material.
	ErrKeyMaterial = errors.New("controller: invalid key material")
)
