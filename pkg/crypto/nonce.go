// Nonce construction for link-layer CCM.

package crypto

import "errors"

// Nonce layout constants.
const (
	// PacketCounterBits is the width of the per-direction packet counter.
	PacketCounterBits = 39

	// MaxPacketCounter is the largest usable packet counter value.
	MaxPacketCounter = uint64(1)<<PacketCounterBits - 1

	// IVSize is the combined initialization vector size (IVm || IVs).
	IVSize = 8

	// directionBit marks master-to-slave traffic in octet 4 of the nonce.
	directionBit = 0x80
)

// ErrCounterOverflow is returned when a packet counter exceeds 39 bits.
var ErrCounterOverflow = errors.New("nonce: packet counter exceeds 39 bits")

// BuildCCMNonce constructs the 13-byte CCM nonce.
//
// Format: packetCounter (39 bits LE) | directionBit (bit 7 of octet 4) || IV (8 bytes LE)
//
// masterToSlave selects the direction bit; iv is IVm || IVs in on-air order.
func BuildCCMNonce(packetCounter uint64, masterToSlave bool, iv [IVSize]byte) ([AESCCMNonceSize]byte, error) {
	var nonce [AESCCMNonceSize]byte
	if packetCounter > MaxPacketCounter {
		return nonce, ErrCounterOverflow
	}

	for i := 0; i < 5; i++ {
		nonce[i] = byte(packetCounter >> (8 * i))
	}
	if masterToSlave {
		nonce[4] |= directionBit
	}
	copy(nonce[5:], iv[:])

	return nonce, nil
}
