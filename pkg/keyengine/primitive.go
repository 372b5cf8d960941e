package keyengine

import "github.com/backkem/blelink/pkg/crypto"

// Primitive is the block cipher behind session key derivation.
// Implementations have no per-caller state and must not be used concurrently;
// the Engine serializes every call.
type Primitive interface {
	Encrypt(key, plaintext [crypto.BlockSize]byte) ([crypto.BlockSize]byte, error)
}

// SoftwarePrimitive computes the security function e in software.
type SoftwarePrimitive struct{}

// Encrypt implements Primitive.
func (SoftwarePrimitive) Encrypt(key, plaintext [crypto.BlockSize]byte) ([crypto.BlockSize]byte, error) {
	return crypto.E(key, plaintext), nil
}

// PrimitiveFunc adapts a function to Primitive.
type PrimitiveFunc func(key, plaintext [crypto.BlockSize]byte) ([crypto.BlockSize]byte, error)

// Encrypt implements Primitive.
func (f PrimitiveFunc) Encrypt(key, plaintext [crypto.BlockSize]byte) ([crypto.BlockSize]byte, error) {
	return f(key, plaintext)
}
