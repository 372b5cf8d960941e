package conn

import (
	"github.com/backkem/blelink/pkg/crypto"
)

// linkCipher encrypts data channel PDUs once a link is encrypted.
type linkCipher struct {
	ccm *crypto.AESCCM
	iv  [crypto.IVSize]byte
}

func newLinkCipher(key [KeySize]byte, iv [crypto.IVSize]byte) (*linkCipher, error) {
	ccm, err := crypto.NewAESCCM(key[:])
	if err != nil {
		return nil, err
	}
	return &linkCipher{ccm: ccm, iv: iv}, nil
}

// Encrypted reports whether outgoing PDUs are encrypted.
func (c *Context) Encrypted() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.txCipher != nil
}

// SealFrame builds an outgoing data channel PDU. Once the link is encrypted
// the payload is encrypted under the session key and the transmit counter
// advances; before that the frame is sent in the clear.
func (c *Context) SealFrame(llid LLID, payload []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h := Header{LLID: llid}
	if c.txCipher == nil || len(payload) == 0 {
		return EncodeFrame(h, payload)
	}
	if len(payload)+crypto.AESCCMTagSize > MaxPayloadSize {
		return nil, ErrPayloadTooLong
	}

	counter, err := c.tx.Next()
	if err != nil {
		return nil, err
	}
	nonce, err := crypto.BuildCCMNonce(counter, c.role == RoleMaster, c.txCipher.iv)
	if err != nil {
		return nil, ErrCounterExhausted
	}
	sealed, err := c.txCipher.ccm.Seal(nonce[:], payload, h.aad())
	if err != nil {
		return nil, err
	}
	return EncodeFrame(h, sealed)
}

// OpenFrame parses an incoming data channel PDU and, once receive decryption
// is enabled, authenticates and decrypts it. The receive counter advances
// only when authentication succeeds. Empty PDUs are never encrypted.
func (c *Context) OpenFrame(frame []byte) (LLID, []byte, error) {
	h, payload, err := DecodeFrame(frame)
	if err != nil {
		return 0, nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rxCipher == nil || len(payload) == 0 {
		return h.LLID, payload, nil
	}

	nonce, err := crypto.BuildCCMNonce(c.rx.Value(), c.role == RoleSlave, c.rxCipher.iv)
	if err != nil {
		return 0, nil, ErrCounterExhausted
	}
	plaintext, err := c.rxCipher.ccm.Open(nonce[:], payload, h.aad())
	if err != nil {
		return 0, nil, ErrMICFailure
	}
	if _, err := c.rx.Next(); err != nil {
		return 0, nil, err
	}
	return h.LLID, plaintext, nil
}
