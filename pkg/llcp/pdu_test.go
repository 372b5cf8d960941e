package llcp

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func fill(b byte) func(dst []byte) {
	return func(dst []byte) {
		for i := range dst {
			dst[i] = b
		}
	}
}

func samplePDUs() []PDU {
	var lo, hi EncReq
	fill(0x00)(lo.Rand[:])
	fill(0xFF)(hi.Rand[:])
	fill(0xFF)(hi.SKDm[:])
	fill(0xFF)(hi.IVm[:])
	hi.EDIV = 0xFFFF

	sample := EncReq{
		Rand: [8]byte{0x90, 0x78, 0x56, 0x34, 0x12, 0xef, 0xcd, 0xab},
		EDIV: 0x2474,
		SKDm: [8]byte{0x13, 0x02, 0xf1, 0xe0, 0xdf, 0xce, 0xbd, 0xac},
		IVm:  [4]byte{0x24, 0xab, 0xdc, 0xba},
	}

	var rspHi EncRsp
	fill(0xFF)(rspHi.SKDs[:])
	fill(0xFF)(rspHi.IVs[:])

	return []PDU{
		&lo, &hi, &sample,
		&EncRsp{}, &rspHi,
		&EncRsp{SKDs: [8]byte{0x79, 0x68, 0x57, 0x46, 0x35, 0x24, 0x13, 0x02}, IVs: [4]byte{0xbe, 0xba, 0xaf, 0xde}},
		&StartEncReq{}, &StartEncRsp{},
		&RejectInd{ErrorCode: ErrorCodePINOrKeyMissing},
		&RejectExtInd{RejectOpcode: OpcodeEncReq, ErrorCode: ErrorCodePINOrKeyMissing},
	}
}

func TestDecode_RoundTrip(t *testing.T) {
	for _, p := range samplePDUs() {
		t.Run(p.Opcode().String(), func(t *testing.T) {
			wire := p.Encode()
			if len(wire) != p.Opcode().Size() {
				t.Fatalf("Encode() length = %d, want %d", len(wire), p.Opcode().Size())
			}

			decoded, err := Decode(wire)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if diff := cmp.Diff(p, decoded); diff != "" {
				t.Errorf("decoded PDU mismatch (-want +got):\n%s", diff)
			}
			if again := decoded.Encode(); !bytes.Equal(again, wire) {
				t.Errorf("encode(decode(pdu)) = %x, want %x", again, wire)
			}
		})
	}
}

func TestEncReq_WireLayout(t *testing.T) {
	p := &EncReq{
		Rand: [8]byte{1, 2, 3, 4, 5, 6, 7, 8},
		EDIV: 0x2474,
		SKDm: [8]byte{9, 10, 11, 12, 13, 14, 15, 16},
		IVm:  [4]byte{17, 18, 19, 20},
	}
	want := []byte{0x03,
		1, 2, 3, 4, 5, 6, 7, 8,
		0x74, 0x24,
		9, 10, 11, 12, 13, 14, 15, 16,
		17, 18, 19, 20,
	}
	if got := p.Encode(); !bytes.Equal(got, want) {
		t.Errorf("Encode() = %x, want %x", got, want)
	}
}

func TestDecode_RejectsBadLengths(t *testing.T) {
	for _, p := range samplePDUs() {
		wire := p.Encode()

		for n := 1; n < len(wire); n++ {
			if _, err := Decode(wire[:n]); !errors.Is(err, ErrInvalidLength) {
				t.Errorf("%s truncated to %d: error = %v, want ErrInvalidLength", p.Opcode(), n, err)
			}
		}

		extended := append(append([]byte(nil), wire...), 0x00)
		if _, err := Decode(extended); !errors.Is(err, ErrInvalidLength) {
			t.Errorf("%s with trailing byte: error = %v, want ErrInvalidLength", p.Opcode(), err)
		}
	}
}

func TestDecode_Errors(t *testing.T) {
	if _, err := Decode(nil); !errors.Is(err, ErrEmptyPDU) {
		t.Errorf("Decode(nil) error = %v, want ErrEmptyPDU", err)
	}

	// LL_TERMINATE_IND and LL_PAUSE_ENC_REQ are not part of this codec.
	for _, op := range []byte{0x02, 0x0A, 0x0B, 0xFF} {
		if _, err := Decode([]byte{op, 0x00}); !errors.Is(err, ErrUnknownOpcode) {
			t.Errorf("Decode(opcode 0x%02X) error = %v, want ErrUnknownOpcode", op, err)
		}
	}
}

func TestRejectedOpcode(t *testing.T) {
	op, code, ok := RejectedOpcode(&RejectInd{ErrorCode: ErrorCodePINOrKeyMissing})
	if !ok || op != OpcodeEncReq || code != ErrorCodePINOrKeyMissing {
		t.Errorf("RejectInd = (%v, %v, %v)", op, code, ok)
	}

	op, code, ok = RejectedOpcode(&RejectExtInd{RejectOpcode: OpcodeStartEncReq, ErrorCode: ErrorCodeMICFailure})
	if !ok || op != OpcodeStartEncReq || code != ErrorCodeMICFailure {
		t.Errorf("RejectExtInd = (%v, %v, %v)", op, code, ok)
	}

	if _, _, ok := RejectedOpcode(&StartEncRsp{}); ok {
		t.Error("StartEncRsp should not be a reject")
	}
}

func TestOpcodeString(t *testing.T) {
	if OpcodeEncReq.String() != "LL_ENC_REQ" {
		t.Errorf("OpcodeEncReq.String() = %q", OpcodeEncReq.String())
	}
	if Opcode(0x7F).String() != "Opcode(0x7F)" {
		t.Errorf("unknown opcode String() = %q", Opcode(0x7F).String())
	}
}
