package enc

import (
	"fmt"

	"github.com/backkem/blelink/pkg/conn"
	"github.com/backkem/blelink/pkg/llcp"
)

// EventKind identifies an input to the state machine.
type EventKind uint8

const (
	EventStart EventKind = iota
	EventEncReq
	EventEncRsp
	EventStartEncReq
	EventStartEncRsp
	EventReject
	EventMalformed
	EventTimeout
	EventDerivationDone
	EventDerivationFailed
	EventDisconnect
)

// String returns the event name.
func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "Start"
	case EventEncReq:
		return "EncReq"
	case EventEncRsp:
		return "EncRsp"
	case EventStartEncReq:
		return "StartEncReq"
	case EventStartEncRsp:
		return "StartEncRsp"
	case EventReject:
		return "Reject"
	case EventMalformed:
		return "Malformed"
	case EventTimeout:
		return "Timeout"
	case EventDerivationDone:
		return "DerivationDone"
	case EventDerivationFailed:
		return "DerivationFailed"
	case EventDisconnect:
		return "Disconnect"
	default:
		return fmt.Sprintf("EventKind(%d)", uint8(k))
	}
}

// Event is one input delivered to a link's state machine.
type Event struct {
	Kind EventKind

	// PDU is the decoded control PDU of PDU events.
	PDU llcp.PDU

	// RejectedOpcode is the opcode a reject PDU refers to.
	RejectedOpcode llcp.Opcode

	// Err describes a decode or derivation failure.
	Err error

	// Key is the derived session key of EventDerivationDone.
	Key [conn.KeySize]byte

	// LTK and KeyFound carry the slave's key lookup for EventEncReq.
	LTK      conn.LongTermKey
	KeyFound bool

	// Attempt tags timer and derivation events with the attempt that
	// produced them.
	Attempt uint32

	// Deadline tags a timeout with the deadline it was armed for. A
	// timeout outlived by a later arm or disarm is dropped.
	Deadline uint64

	// done, when set, receives the synchronous outcome once the event
	// has been processed.
	done chan error
}

// EventFromPDU maps a decoded control PDU to its event.
func EventFromPDU(p llcp.PDU) Event {
	ev := Event{PDU: p}
	switch p.(type) {
	case *llcp.EncReq:
		ev.Kind = EventEncReq
	case *llcp.EncRsp:
		ev.Kind = EventEncRsp
	case *llcp.StartEncReq:
		ev.Kind = EventStartEncReq
	case *llcp.StartEncRsp:
		ev.Kind = EventStartEncRsp
	default:
		op, _, _ := llcp.RejectedOpcode(p)
		ev.Kind = EventReject
		ev.RejectedOpcode = op
	}
	return ev
}
