// Link-layer security toolbox.

package crypto

import (
	"crypto/aes"
)

// BlockSize is the size of every input and output of the security function e.
const BlockSize = 16

// E is the security function e: AES-128 encryption of plaintextData with key.
// Both arguments and the result are most-significant octet first.
func E(key, plaintextData [BlockSize]byte) [BlockSize]byte {
	// aes.NewCipher only fails for invalid key lengths.
	block, _ := aes.NewCipher(key[:])
	var out [BlockSize]byte
	block.Encrypt(out[:], plaintextData[:])
	return out
}

// Reverse returns b with its octet order reversed. On-air fields are
// little-endian; the security function works most-significant octet first.
func Reverse(b []byte) []byte {
	out := make([]byte, len(b))
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}
