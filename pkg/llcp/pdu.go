package llcp

import (
	"encoding/binary"
	"fmt"
)

// Field sizes.
const (
	RandSize = 8
	EDIVSize = 2
	SKDSize  = 8
	IVSize   = 4

	// EncReqSize is Opcode(1) + Rand(8) + EDIV(2) + SKDm(8) + IVm(4).
	EncReqSize = 1 + RandSize + EDIVSize + SKDSize + IVSize

	// EncRspSize is Opcode(1) + SKDs(8) + IVs(4).
	EncRspSize = 1 + SKDSize + IVSize
)

// PDU is a decoded control PDU.
type PDU interface {
	Opcode() Opcode
	Encode() []byte
}

// EncReq is LL_ENC_REQ, sent by the master to start the procedure.
type EncReq struct {
	Rand [RandSize]byte
	EDIV uint16
	SKDm [SKDSize]byte
	IVm  [IVSize]byte
}

// EncRsp is LL_ENC_RSP, the slave's diversifier and IV halves.
type EncRsp struct {
	SKDs [SKDSize]byte
	IVs  [IVSize]byte
}

// StartEncReq is LL_START_ENC_REQ.
type StartEncReq struct{}

// StartEncRsp is LL_START_ENC_RSP, the start confirmation.
type StartEncRsp struct{}

// RejectInd is LL_REJECT_IND.
type RejectInd struct {
	ErrorCode ErrorCode
}

// RejectExtInd is LL_REJECT_EXT_IND.
type RejectExtInd struct {
	RejectOpcode Opcode
	ErrorCode    ErrorCode
}

func (*EncReq) Opcode() Opcode       { return OpcodeEncReq }
func (*EncRsp) Opcode() Opcode       { return OpcodeEncRsp }
func (*StartEncReq) Opcode() Opcode  { return OpcodeStartEncReq }
func (*StartEncRsp) Opcode() Opcode  { return OpcodeStartEncRsp }
func (*RejectInd) Opcode() Opcode    { return OpcodeRejectInd }
func (*RejectExtInd) Opcode() Opcode { return OpcodeRejectExtInd }

// Encode serializes LL_ENC_REQ.
func (p *EncReq) Encode() []byte {
	buf := make([]byte, 0, EncReqSize)
	buf = append(buf, byte(OpcodeEncReq))
	buf = append(buf, p.Rand[:]...)
	buf = binary.LittleEndian.AppendUint16(buf, p.EDIV)
	buf = append(buf, p.SKDm[:]...)
	buf = append(buf, p.IVm[:]...)
	return buf
}

// Encode serializes LL_ENC_RSP.
func (p *EncRsp) Encode() []byte {
	buf := make([]byte, 0, EncRspSize)
	buf = append(buf, byte(OpcodeEncRsp))
	buf = append(buf, p.SKDs[:]...)
	buf = append(buf, p.IVs[:]...)
	return buf
}

// Encode serializes LL_START_ENC_REQ.
func (*StartEncReq) Encode() []byte { return []byte{byte(OpcodeStartEncReq)} }

// Encode serializes LL_START_ENC_RSP.
func (*StartEncRsp) Encode() []byte { return []byte{byte(OpcodeStartEncRsp)} }

// Encode serializes LL_REJECT_IND.
func (p *RejectInd) Encode() []byte {
	return []byte{byte(OpcodeRejectInd), byte(p.ErrorCode)}
}

// Encode serializes LL_REJECT_EXT_IND.
func (p *RejectExtInd) Encode() []byte {
	return []byte{byte(OpcodeRejectExtInd), byte(p.RejectOpcode), byte(p.ErrorCode)}
}

// Decode parses a control PDU payload.
//
// The length must match the opcode's layout exactly: truncated input and
// trailing bytes are both rejected with ErrInvalidLength. Opcodes outside the
// encryption procedure yield ErrUnknownOpcode.
func Decode(data []byte) (PDU, error) {
	if len(data) == 0 {
		return nil, ErrEmptyPDU
	}

	op := Opcode(data[0])
	size := op.Size()
	if size == 0 {
		return nil, fmt.Errorf("%w: 0x%02X", ErrUnknownOpcode, data[0])
	}
	if len(data) != size {
		return nil, fmt.Errorf("%w: %s is %d bytes, got %d", ErrInvalidLength, op, size, len(data))
	}

	body := data[1:]
	switch op {
	case OpcodeEncReq:
		p := &EncReq{}
		copy(p.Rand[:], body[0:8])
		p.EDIV = binary.LittleEndian.Uint16(body[8:10])
		copy(p.SKDm[:], body[10:18])
		copy(p.IVm[:], body[18:22])
		return p, nil
	case OpcodeEncRsp:
		p := &EncRsp{}
		copy(p.SKDs[:], body[0:8])
		copy(p.IVs[:], body[8:12])
		return p, nil
	case OpcodeStartEncReq:
		return &StartEncReq{}, nil
	case OpcodeStartEncRsp:
		return &StartEncRsp{}, nil
	case OpcodeRejectInd:
		return &RejectInd{ErrorCode: ErrorCode(body[0])}, nil
	default: // OpcodeRejectExtInd
		return &RejectExtInd{RejectOpcode: Opcode(body[0]), ErrorCode: ErrorCode(body[1])}, nil
	}
}

// RejectedOpcode reports which opcode a reject PDU refers to. LL_REJECT_IND
// carries no opcode and can only answer LL_ENC_REQ.
func RejectedOpcode(p PDU) (Opcode, ErrorCode, bool) {
	switch r := p.(type) {
	case *RejectInd:
		return OpcodeEncReq, r.ErrorCode, true
	case *RejectExtInd:
		return r.RejectOpcode, r.ErrorCode, true
	default:
		return 0, 0, false
	}
}
