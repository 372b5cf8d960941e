package conn

import "github.com/backkem/blelink/pkg/crypto"

// PacketCounter is a 39-bit per-direction packet counter used in the CCM
// nonce. It starts at zero when the link enters encrypted mode and only
// moves forward. It is not safe for concurrent use; Context guards it.
type PacketCounter struct {
	value uint64
}

// Value returns the counter of the next packet.
func (p *PacketCounter) Value() uint64 { return p.value }

// Next returns the current value and advances the counter.
// Returns ErrCounterExhausted once all 2^39 values have been used.
func (p *PacketCounter) Next() (uint64, error) {
	if p.value > crypto.MaxPacketCounter {
		return 0, ErrCounterExhausted
	}
	v := p.value
	p.value++
	return v, nil
}

// Reset sets the counter back to zero.
func (p *PacketCounter) Reset() { p.value = 0 }
