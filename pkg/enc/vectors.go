package enc

import (
	"io"

	"github.com/backkem/blelink/pkg/conn"
	"github.com/backkem/blelink/pkg/crypto"
	"github.com/backkem/blelink/pkg/keyengine"
)

// maxVectorDraws bounds redraws when a diversifier was already used on the link.
const maxVectorDraws = 8

// GenerateLocalVectors draws a fresh SKD and IV half from rand and binds them
// to ctx. A diversifier already sent on this link is never reused.
func GenerateLocalVectors(ctx *conn.Context, rand io.Reader) (conn.Vectors, error) {
	var buf [conn.SKDSize + conn.IVHalfSize]byte
	for i := 0; i < maxVectorDraws; i++ {
		if _, err := io.ReadFull(rand, buf[:]); err != nil {
			return conn.Vectors{}, err
		}

		var v conn.Vectors
		copy(v.SKD[:], buf[:conn.SKDSize])
		copy(v.IV[:], buf[conn.SKDSize:])
		if ctx.SKDIssued(v.SKD) {
			continue
		}
		ctx.BindLocalVectors(v)
		return v, nil
	}
	return conn.Vectors{}, ErrVectorReuse
}

// SessionKeyInputs combines both vector halves the same way on either role.
//
// On the wire every half is little-endian. SKD = SKDs || SKDm and IV = IVs || IVm
// as numbers, so skd is returned most-significant octet first for the security
// function and iv in the on-air (little-endian) order the CCM nonce uses.
func SessionKeyInputs(role conn.Role, local, peer conn.Vectors) (skd [crypto.BlockSize]byte, iv [crypto.IVSize]byte) {
	m, s := local, peer
	if role == conn.RoleSlave {
		m, s = peer, local
	}

	var le [crypto.BlockSize]byte
	copy(le[:conn.SKDSize], m.SKD[:])
	copy(le[conn.SKDSize:], s.SKD[:])
	copy(skd[:], crypto.Reverse(le[:]))

	copy(iv[:conn.IVHalfSize], m.IV[:])
	copy(iv[conn.IVHalfSize:], s.IV[:])
	return skd, iv
}

// sessionIV returns the CCM IV of ctx's current attempt.
func sessionIV(ctx *conn.Context) ([crypto.IVSize]byte, error) {
	local, okLocal := ctx.LocalVectors()
	peer, okPeer := ctx.PeerVectors()
	if !okLocal || !okPeer {
		return [crypto.IVSize]byte{}, conn.ErrVectorsUnbound
	}
	_, iv := SessionKeyInputs(ctx.Role(), local, peer)
	return iv, nil
}

// DerivationRequest builds the request computing SK = e(LTK, SKD) for ctx.
// Both vector halves and the long-term key must already be bound; calling it
// earlier is a programming error and panics.
func DerivationRequest(ctx *conn.Context) keyengine.Request {
	ltk, okKey := ctx.LongTermKey()
	local, okLocal := ctx.LocalVectors()
	peer, okPeer := ctx.PeerVectors()
	if !okKey || !okLocal || !okPeer {
		panic(conn.ErrVectorsUnbound)
	}

	skd, _ := SessionKeyInputs(ctx.Role(), local, peer)
	return keyengine.Request{
		Handle:    ctx.Handle(),
		Attempt:   ctx.Attempt(),
		Key:       ltk.Key,
		Plaintext: skd,
	}
}
