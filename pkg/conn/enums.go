package conn

// Role is the link-layer role of the local device on a link.
type Role uint8

const (
	// RoleMaster initiates the encryption procedure.
	RoleMaster Role = iota
	// RoleSlave responds to the master's request.
	RoleSlave
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleMaster:
		return "Master"
	case RoleSlave:
		return "Slave"
	default:
		return "Unknown"
	}
}

// IsValid reports whether r is a defined role.
func (r Role) IsValid() bool {
	return r == RoleMaster || r == RoleSlave
}

// State is the encryption procedure state of a link.
type State uint8

const (
	StateIdle              State = iota
	StateWaitRequest             // Slave: waiting for LL_ENC_REQ
	StateWaitPeerResponse        // Master: sent LL_ENC_REQ
	StateWaitKeyDerivation       // Both: session key derivation queued
	StateWaitStartConfirm        // Master: sent LL_START_ENC_REQ; Slave: waiting for it
	StateEncrypted
	StateAborted
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateWaitRequest:
		return "WaitRequest"
	case StateWaitPeerResponse:
		return "WaitPeerResponse"
	case StateWaitKeyDerivation:
		return "WaitKeyDerivation"
	case StateWaitStartConfirm:
		return "WaitStartConfirm"
	case StateEncrypted:
		return "Encrypted"
	case StateAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// InProcedure reports whether an encryption attempt is in flight.
func (s State) InProcedure() bool {
	switch s {
	case StateWaitPeerResponse, StateWaitKeyDerivation, StateWaitStartConfirm:
		return true
	default:
		return false
	}
}

// AbortReason explains why a procedure was aborted.
type AbortReason uint8

const (
	AbortNone AbortReason = iota
	AbortPeerTimeout
	AbortProtocolViolation
	AbortHandshakeFailed
	AbortDerivationFailure
	AbortPeerRejected
)

// String returns the abort reason name.
func (r AbortReason) String() string {
	switch r {
	case AbortNone:
		return "None"
	case AbortPeerTimeout:
		return "PeerTimeout"
	case AbortProtocolViolation:
		return "ProtocolViolation"
	case AbortHandshakeFailed:
		return "HandshakeFailed"
	case AbortDerivationFailure:
		return "DerivationFailure"
	case AbortPeerRejected:
		return "PeerRejected"
	default:
		return "Unknown"
	}
}
