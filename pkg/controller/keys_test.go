package controller

import (
	"bytes"
	"crypto/sha256"
	"io"
	"testing"

	"github.com/backkem/blelink/pkg/conn"
	"github.com/google/go-cmp/cmp"
	"golang.org/x/crypto/hkdf"
)

func TestDeriveLongTermKey(t *testing.T) {
	secret := []byte("shared pairing secret")

	a, err := DeriveLongTermKey(secret, []byte("salt"))
	if err != nil {
		t.Fatalf("DeriveLongTermKey: %v", err)
	}
	b, err := DeriveLongTermKey(secret, []byte("salt"))
	if err != nil {
		t.Fatalf("DeriveLongTermKey: %v", err)
	}
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("derivation not deterministic (-a +b):\n%s", diff)
	}
	if a.Key == ([conn.KeySize]byte{}) {
		t.Error("derived key is zero")
	}

	c, err := DeriveLongTermKey(secret, []byte("other"))
	if err != nil {
		t.Fatalf("DeriveLongTermKey: %v", err)
	}
	if c.Key == a.Key {
		t.Error("different salts produced the same key")
	}

	if _, err := DeriveLongTermKey(nil, nil); err != ErrKeyMaterial {
		t.Errorf("empty secret: err = %v, want ErrKeyMaterial", err)
	}
}

func TestDeriveLongTermKey_Layout(t *testing.T) {
	secret, salt := []byte("layout"), []byte("salt")
	ltk, err := DeriveLongTermKey(secret, salt)
	if err != nil {
		t.Fatalf("DeriveLongTermKey: %v", err)
	}

	okm := make([]byte, provisionSize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, provisionInfo), okm); err != nil {
		t.Fatalf("hkdf: %v", err)
	}
	if !bytes.Equal(ltk.Key[:], okm[:16]) {
		t.Errorf("Key = %x, want %x", ltk.Key, okm[:16])
	}
	if want := uint16(okm[16]) | uint16(okm[17])<<8; ltk.EDIV != want {
		t.Errorf("EDIV = 0x%04X, want 0x%04X", ltk.EDIV, want)
	}
	if !bytes.Equal(ltk.Rand[:], okm[18:]) {
		t.Errorf("Rand = %x, want %x", ltk.Rand, okm[18:])
	}
}

func TestKeyStore(t *testing.T) {
	s := NewKeyStore()
	ltk := conn.LongTermKey{
		Key:  [conn.KeySize]byte{1, 2, 3},
		EDIV: 0x2474,
		Rand: [8]byte{0xAB, 0xCD, 0xEF},
	}

	if _, ok := s.Lookup(ltk.EDIV, ltk.Rand); ok {
		t.Fatal("empty store found a key")
	}

	s.Add(ltk)
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}

	got, ok := s.Lookup(ltk.EDIV, ltk.Rand)
	if !ok {
		t.Fatal("Lookup did not find the key")
	}
	if diff := cmp.Diff(ltk, got); diff != "" {
		t.Errorf("Lookup (-want +got):\n%s", diff)
	}

	if _, ok := s.Lookup(ltk.EDIV+1, ltk.Rand); ok {
		t.Error("Lookup matched a different EDIV")
	}
	if _, ok := s.Lookup(ltk.EDIV, [8]byte{}); ok {
		t.Error("Lookup matched a different Rand")
	}

	if !s.Remove(ltk.EDIV, ltk.Rand) {
		t.Error("Remove returned false for a stored key")
	}
	if s.Remove(ltk.EDIV, ltk.Rand) {
		t.Error("Remove returned true for a missing key")
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
}
