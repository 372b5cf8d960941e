// AES-CCM for link-layer data encryption.
// This implements AES-128-CCM as defined in NIST 800-38C and RFC 3610,
// fixed to the link-layer parameters.
// Encrypted link-layer PDUs use:
//   - Key length: 128 bits (16 bytes)
//   - MIC length: 32 bits (4 bytes)
//   - Nonce length: 13 bytes
//   - q = 2 (length field size)

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/subtle"
	"encoding/binary"
	"errors"
)

// AES-CCM constants for link-layer encryption.
const (
	// AESCCMKeySize is the AES-128 key size in bytes.
	AESCCMKeySize = 16

	// AESCCMTagSize is the MIC size appended to every encrypted PDU.
	AESCCMTagSize = 4

	// AESCCMNonceSize is the CCM nonce size (packet counter + direction + IV).
	AESCCMNonceSize = 13

	aesBlockSize = 16
)

// Errors
var (
	ErrAESCCMInvalidKeySize     = errors.New("aesccm: invalid key size, must be 16 bytes")
	ErrAESCCMInvalidNonceSize   = errors.New("aesccm: invalid nonce size")
	ErrAESCCMPlaintextTooLong   = errors.New("aesccm: plaintext too long")
	ErrAESCCMCiphertextTooShort = errors.New("aesccm: ciphertext too short")
	ErrAESCCMAuthFailed         = errors.New("aesccm: message authentication failed")
)

// ccmLenSize is L, the width of the message length field.
const ccmLenSize = 15 - AESCCMNonceSize

// AESCCM is an AES-128-CCM instance with the link-layer nonce and MIC sizes.
type AESCCM struct {
	block cipher.Block
}

// NewAESCCM creates a CCM cipher with the link-layer parameters
// (13-byte nonce, 4-byte MIC).
func NewAESCCM(key []byte) (*AESCCM, error) {
	if len(key) != AESCCMKeySize {
		return nil, ErrAESCCMInvalidKeySize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return &AESCCM{block: block}, nil
}

// NonceSize returns the required nonce size.
func (c *AESCCM) NonceSize() int { return AESCCMNonceSize }

// Overhead returns the number of bytes Seal adds (the MIC).
func (c *AESCCM) Overhead() int { return AESCCMTagSize }

// Seal encrypts plaintext and appends the encrypted MIC.
// Returns ciphertext || MIC.
func (c *AESCCM) Seal(nonce, plaintext, aad []byte) ([]byte, error) {
	if len(nonce) != AESCCMNonceSize {
		return nil, ErrAESCCMInvalidNonceSize
	}
	if len(plaintext) > 0xFFFF {
		return nil, ErrAESCCMPlaintextTooLong
	}

	out := make([]byte, len(plaintext)+AESCCMTagSize)
	mac := c.cbcMAC(nonce, plaintext, aad)

	var s0 [aesBlockSize]byte
	c.keystreamBlock(nonce, 0, s0[:])
	subtle.XORBytes(out[len(plaintext):], mac[:AESCCMTagSize], s0[:AESCCMTagSize])

	c.ctr(nonce, out[:len(plaintext)], plaintext)
	return out, nil
}

// Open verifies the MIC and decrypts ciphertext || MIC.
func (c *AESCCM) Open(nonce, ciphertext, aad []byte) ([]byte, error) {
	if len(nonce) != AESCCMNonceSize {
		return nil, ErrAESCCMInvalidNonceSize
	}
	if len(ciphertext) < AESCCMTagSize {
		return nil, ErrAESCCMCiphertextTooShort
	}

	n := len(ciphertext) - AESCCMTagSize
	plaintext := make([]byte, n)
	c.ctr(nonce, plaintext, ciphertext[:n])

	var s0 [aesBlockSize]byte
	c.keystreamBlock(nonce, 0, s0[:])
	received := make([]byte, AESCCMTagSize)
	subtle.XORBytes(received, ciphertext[n:], s0[:AESCCMTagSize])

	mac := c.cbcMAC(nonce, plaintext, aad)
	if subtle.ConstantTimeCompare(received, mac[:AESCCMTagSize]) != 1 {
		return nil, ErrAESCCMAuthFailed
	}
	return plaintext, nil
}

// cbcMAC computes the unencrypted authentication value T (RFC 3610 2.2).
// aad is at most one header octet on the link, so its length always takes
// the two-octet form.
func (c *AESCCM) cbcMAC(nonce, plaintext, aad []byte) [aesBlockSize]byte {
	var mac [aesBlockSize]byte

	// B_0: flags || nonce || l(m)
	flags := byte((AESCCMTagSize-2)/2)<<3 | byte(ccmLenSize-1)
	if len(aad) > 0 {
		flags |= 0x40
	}
	mac[0] = flags
	copy(mac[1:], nonce)
	binary.BigEndian.PutUint16(mac[aesBlockSize-ccmLenSize:], uint16(len(plaintext)))
	c.block.Encrypt(mac[:], mac[:])

	if len(aad) > 0 {
		hdr := binary.BigEndian.AppendUint16(nil, uint16(len(aad)))
		c.absorb(&mac, append(hdr, aad...))
	}
	c.absorb(&mac, plaintext)
	return mac
}

// absorb CBC-chains data into mac, zero-padding the final block.
func (c *AESCCM) absorb(mac *[aesBlockSize]byte, data []byte) {
	for len(data) > 0 {
		n := min(len(data), aesBlockSize)
		subtle.XORBytes(mac[:n], mac[:n], data[:n])
		c.block.Encrypt(mac[:], mac[:])
		data = data[n:]
	}
}

// keystreamBlock writes E(K, A_i) into dst.
func (c *AESCCM) keystreamBlock(nonce []byte, i uint16, dst []byte) {
	var a [aesBlockSize]byte
	a[0] = byte(ccmLenSize - 1)
	copy(a[1:], nonce)
	binary.BigEndian.PutUint16(a[aesBlockSize-ccmLenSize:], i)
	c.block.Encrypt(dst, a[:])
}

// ctr XORs src with the keystream starting at counter 1.
func (c *AESCCM) ctr(nonce []byte, dst, src []byte) {
	var ks [aesBlockSize]byte
	for i := uint16(1); len(src) > 0; i++ {
		c.keystreamBlock(nonce, i, ks[:])
		n := subtle.XORBytes(dst, src, ks[:])
		dst, src = dst[n:], src[n:]
	}
}
