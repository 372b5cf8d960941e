// Package llcp implements the link-layer control PDUs used by the
// connection encryption procedure.
//
// A control PDU payload is a one-octet opcode followed by fixed-layout
// CtrData. All multi-octet fields are little-endian on the wire.
package llcp

import "fmt"

// Opcode identifies a link-layer control PDU.
type Opcode uint8

// Control PDU opcodes handled by this package.
const (
	OpcodeEncReq       Opcode = 0x03
	OpcodeEncRsp       Opcode = 0x04
	OpcodeStartEncReq  Opcode = 0x05
	OpcodeStartEncRsp  Opcode = 0x06
	OpcodeRejectInd    Opcode = 0x0D
	OpcodeRejectExtInd Opcode = 0x11
)

// String returns the opcode name.
func (o Opcode) String() string {
	switch o {
	case OpcodeEncReq:
		return "LL_ENC_REQ"
	case OpcodeEncRsp:
		return "LL_ENC_RSP"
	case OpcodeStartEncReq:
		return "LL_START_ENC_REQ"
	case OpcodeStartEncRsp:
		return "LL_START_ENC_RSP"
	case OpcodeRejectInd:
		return "LL_REJECT_IND"
	case OpcodeRejectExtInd:
		return "LL_REJECT_EXT_IND"
	default:
		return fmt.Sprintf("Opcode(0x%02X)", uint8(o))
	}
}

// Size returns the full PDU length (opcode included) for known opcodes,
// or 0 if the opcode is not handled.
func (o Opcode) Size() int {
	switch o {
	case OpcodeEncReq:
		return EncReqSize
	case OpcodeEncRsp:
		return EncRspSize
	case OpcodeStartEncReq, OpcodeStartEncRsp:
		return 1
	case OpcodeRejectInd:
		return 2
	case OpcodeRejectExtInd:
		return 3
	default:
		return 0
	}
}

// ErrorCode is a controller error code carried in reject PDUs.
type ErrorCode uint8

// Error codes relevant to the encryption procedure.
const (
	ErrorCodeSuccess         ErrorCode = 0x00
	ErrorCodePINOrKeyMissing ErrorCode = 0x06
	ErrorCodeMICFailure      ErrorCode = 0x3D
)

// String returns the error code name.
func (e ErrorCode) String() string {
	switch e {
	case ErrorCodeSuccess:
		return "Success"
	case ErrorCodePINOrKeyMissing:
		return "PINOrKeyMissing"
	case ErrorCodeMICFailure:
		return "MICFailure"
	default:
		return fmt.Sprintf("ErrorCode(0x%02X)", uint8(e))
	}
}
