package crypto

import (
	"bytes"
	"testing"
)

// Bluetooth Core Vol 6 Part C, "Encryption sample data".
func TestE_SessionKeySampleData(t *testing.T) {
	var ltk, skd, want [BlockSize]byte
	copy(ltk[:], mustHex(t, "4c68384139f574d836bcf34e9dfb01bf"))
	copy(skd[:], mustHex(t, "0213243546576879acbdcedfe0f10213"))
	copy(want[:], mustHex(t, "99ad1b5226a37e3e058e3b8e27c2c666"))

	got := E(ltk, skd)
	if got != want {
		t.Errorf("E(LTK, SKD) = %x, want %x", got, want)
	}
}

func TestReverse(t *testing.T) {
	in := []byte{1, 2, 3, 4}
	got := Reverse(in)
	if !bytes.Equal(got, []byte{4, 3, 2, 1}) {
		t.Errorf("Reverse() = %v", got)
	}
	if in[0] != 1 {
		t.Error("Reverse() modified its input")
	}
	if len(Reverse(nil)) != 0 {
		t.Error("Reverse(nil) should be empty")
	}
}
