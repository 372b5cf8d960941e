package conn

import "fmt"

// LLID identifies the content of a data channel PDU.
type LLID uint8

const (
	LLIDReserved     LLID = 0x0
	LLIDContinuation LLID = 0x1 // continuation fragment or empty PDU
	LLIDStart        LLID = 0x2 // start of an L2CAP message
	LLIDControl      LLID = 0x3 // LL control PDU
)

// String returns the LLID name.
func (l LLID) String() string {
	switch l {
	case LLIDContinuation:
		return "Continuation"
	case LLIDStart:
		return "Start"
	case LLIDControl:
		return "Control"
	default:
		return fmt.Sprintf("LLID(%d)", uint8(l))
	}
}

// Data channel PDU header layout.
const (
	// HeaderSize is the data channel PDU header size.
	HeaderSize = 2

	// MaxPayloadSize is the largest payload the length field can describe.
	MaxPayloadSize = 0xFF

	llidMask uint8 = 0x03
	nesnBit  uint8 = 0x04
	snBit    uint8 = 0x08
	mdBit    uint8 = 0x10

	// aadMask keeps the header bits covered by the MIC (NESN, SN and MD are
	// excluded because they may change on retransmission).
	aadMask uint8 = ^(nesnBit | snBit | mdBit)
)

// Header is the data channel PDU header.
type Header struct {
	LLID   LLID
	NESN   bool
	SN     bool
	MD     bool
	Length uint8
}

// firstOctet packs the flag octet.
func (h Header) firstOctet() uint8 {
	b := uint8(h.LLID) & llidMask
	if h.NESN {
		b |= nesnBit
	}
	if h.SN {
		b |= snBit
	}
	if h.MD {
		b |= mdBit
	}
	return b
}

// aad returns the additional authenticated data for CCM.
func (h Header) aad() []byte {
	return []byte{h.firstOctet() & aadMask}
}

// EncodeFrame serializes a header and payload. Length is taken from payload.
func EncodeFrame(h Header, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, ErrPayloadTooLong
	}
	if h.LLID == LLIDReserved {
		return nil, ErrInvalidLLID
	}
	h.Length = uint8(len(payload))

	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = h.firstOctet()
	buf[1] = h.Length
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

// DecodeFrame parses a data channel PDU. The payload aliases data.
func DecodeFrame(data []byte) (Header, []byte, error) {
	if len(data) < HeaderSize {
		return Header{}, nil, ErrFrameTooShort
	}

	h := Header{
		LLID:   LLID(data[0] & llidMask),
		NESN:   data[0]&nesnBit != 0,
		SN:     data[0]&snBit != 0,
		MD:     data[0]&mdBit != 0,
		Length: data[1],
	}
	if h.LLID == LLIDReserved {
		return Header{}, nil, ErrInvalidLLID
	}
	if len(data) != HeaderSize+int(h.Length) {
		return Header{}, nil, fmt.Errorf("%w: header length %d, have %d", ErrFrameLength, h.Length, len(data)-HeaderSize)
	}
	return h, data[HeaderSize:], nil
}
