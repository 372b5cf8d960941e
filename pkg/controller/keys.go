package controller

import (
	"crypto/sha256"
	"encoding/binary"
	"io"
	"sync"

	"github.com/backkem/blelink/pkg/conn"
	"github.com/backkem/blelink/pkg/llcp"
	"golang.org/x/crypto/hkdf"
)

// provisionInfo labels long-term key material derived from a shared secret.
var provisionInfo = []byte("blelink LTK")

// provisionSize is the number of HKDF output bytes: key, EDIV and Rand.
const provisionSize = conn.KeySize + llcp.EDIVSize + llcp.RandSize

// DeriveLongTermKey expands a shared secret into a long-term key with its
// EDIV and Rand identifiers. Both peers derive the same key from the same
// secret and salt.
func DeriveLongTermKey(secret, salt []byte) (conn.LongTermKey, error) {
	var ltk conn.LongTermKey
	if len(secret) == 0 {
		return ltk, ErrKeyMaterial
	}

	okm := make([]byte, provisionSize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, provisionInfo), okm); err != nil {
		return ltk, err
	}

	copy(ltk.Key[:], okm[:conn.KeySize])
	ltk.EDIV = binary.LittleEndian.Uint16(okm[conn.KeySize:])
	copy(ltk.Rand[:], okm[conn.KeySize+llcp.EDIVSize:])
	return ltk, nil
}

type keyID struct {
	ediv uint16
	rand [llcp.RandSize]byte
}

// KeyStore holds the long-term keys a slave can be asked for, indexed by
// EDIV and Rand.
type KeyStore struct {
	keys map[keyID]conn.LongTermKey
	mu   sync.RWMutex
}

// NewKeyStore creates an empty key store.
func NewKeyStore() *KeyStore {
	return &KeyStore{keys: make(map[keyID]conn.LongTermKey)}
}

// Add stores ltk, replacing any key with the same identifiers.
func (s *KeyStore) Add(ltk conn.LongTermKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[keyID{ediv: ltk.EDIV, rand: ltk.Rand}] = ltk
}

// Remove deletes the key identified by ediv and rand.
func (s *KeyStore) Remove(ediv uint16, rand [llcp.RandSize]byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := keyID{ediv: ediv, rand: rand}
	if _, ok := s.keys[id]; !ok {
		return false
	}
	delete(s.keys, id)
	return true
}

// Lookup finds the key identified by ediv and rand.
// It satisfies enc.KeyLookup.
func (s *KeyStore) Lookup(ediv uint16, rand [llcp.RandSize]byte) (conn.LongTermKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ltk, ok := s.keys[keyID{ediv: ediv, rand: rand}]
	return ltk, ok
}

// Len returns the number of stored keys.
func (s *KeyStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}
