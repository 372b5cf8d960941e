package conn

import (
	"sync"
	"time"
)

// Key and vector sizes.
const (
	// KeySize is the size of long-term and session keys.
	KeySize = 16

	// SKDSize is the size of one session key diversifier half.
	SKDSize = 8

	// IVHalfSize is the size of one initialization vector half.
	IVHalfSize = 4

	// MaxHandle is the largest valid connection handle.
	MaxHandle uint16 = 0x0EFF
)

// Vectors is one side's contribution to session key derivation.
type Vectors struct {
	SKD [SKDSize]byte
	IV  [IVHalfSize]byte
}

// LongTermKey is the pairing material identifying the relationship with a peer.
// Key is most-significant octet first; EDIV and Rand identify the key to the slave.
type LongTermKey struct {
	Key  [KeySize]byte
	EDIV uint16
	Rand [8]byte
}

// Context holds the encryption state of one link.
//
// A Context is created when the link is established and destroyed when it
// disconnects. Between those points the encryption fields are populated and
// cleared across any number of procedure attempts. Mutators are called only
// by the encryption dispatcher; everything else reads.
type Context struct {
	handle uint16
	role   Role

	state       State
	abortReason AbortReason
	attempt     uint32
	deadline    time.Time

	ltk    LongTermKey
	hasLTK bool

	localVectors    Vectors
	hasLocalVectors bool
	peerVectors     Vectors
	hasPeerVectors  bool

	// issued holds every SKD half this link has sent.
	issued map[[SKDSize]byte]struct{}

	// pendingKey is the derived key awaiting start confirmation.
	pendingKey    [KeySize]byte
	hasPendingKey bool

	sessionKey    [KeySize]byte
	hasSessionKey bool
	// rxCipher may be enabled ahead of txCipher while the start
	// confirmation is in flight.
	rxCipher *linkCipher
	txCipher *linkCipher

	tx PacketCounter
	rx PacketCounter

	mu sync.RWMutex
}

// ContextConfig is used to create a new link context.
type ContextConfig struct {
	Handle uint16
	Role   Role

	// LongTermKey is optional; a master without one cannot start encryption.
	LongTermKey *LongTermKey
}

// NewContext creates a context for a newly established link.
func NewContext(config ContextConfig) (*Context, error) {
	if config.Handle > MaxHandle {
		return nil, ErrInvalidHandle
	}
	if !config.Role.IsValid() {
		return nil, ErrInvalidRole
	}

	c := &Context{
		handle: config.Handle,
		role:   config.Role,
		issued: make(map[[SKDSize]byte]struct{}),
	}
	c.state = c.restState()
	if config.LongTermKey != nil {
		c.ltk = *config.LongTermKey
		c.hasLTK = true
	}
	return c, nil
}

// restState is where the link sits when no procedure is running.
func (c *Context) restState() State {
	if c.role == RoleSlave {
		return StateWaitRequest
	}
	return StateIdle
}

// Handle returns the connection handle.
func (c *Context) Handle() uint16 { return c.handle }

// Role returns the local role on this link.
func (c *Context) Role() Role { return c.role }

// State returns the current procedure state.
func (c *Context) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// AbortReason returns the reason of the most recent abort.
func (c *Context) AbortReason() AbortReason {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.abortReason
}

// Attempt returns the current procedure attempt number.
func (c *Context) Attempt() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.attempt
}

// Deadline returns the time by which the next peer message must arrive.
// The zero time means no deadline is armed.
func (c *Context) Deadline() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.deadline
}

// LongTermKey returns the link's long-term key, if present.
func (c *Context) LongTermKey() (LongTermKey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ltk, c.hasLTK
}

// LocalVectors returns the locally generated vectors of the current attempt.
func (c *Context) LocalVectors() (Vectors, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.localVectors, c.hasLocalVectors
}

// PeerVectors returns the vectors received from the peer in the current attempt.
func (c *Context) PeerVectors() (Vectors, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.peerVectors, c.hasPeerVectors
}

// SessionKey returns the session key. It is present only while Encrypted.
func (c *Context) SessionKey() ([KeySize]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionKey, c.hasSessionKey
}

// HasPendingKey reports whether a derived key awaits start confirmation.
func (c *Context) HasPendingKey() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hasPendingKey
}

// Counters returns the transmit and receive packet counters.
func (c *Context) Counters() (tx, rx uint64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tx.Value(), c.rx.Value()
}

// SetState moves the context to s.
func (c *Context) SetState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
}

// SetLongTermKey binds pairing material to the link.
func (c *Context) SetLongTermKey(ltk LongTermKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ltk = ltk
	c.hasLTK = true
}

// BeginAttempt starts a new procedure attempt and returns its number.
func (c *Context) BeginAttempt() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempt++
	c.abortReason = AbortNone
	return c.attempt
}

// SetDeadline records the absolute deadline for the next peer message.
func (c *Context) SetDeadline(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deadline = t
}

// SKDIssued reports whether skd was already sent on this link.
func (c *Context) SKDIssued(skd [SKDSize]byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.issued[skd]
	return ok
}

// BindLocalVectors records the local vectors of the current attempt.
func (c *Context) BindLocalVectors(v Vectors) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.localVectors = v
	c.hasLocalVectors = true
	c.issued[v.SKD] = struct{}{}
}

// BindPeerVectors records the peer's vectors of the current attempt.
func (c *Context) BindPeerVectors(v Vectors) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peerVectors = v
	c.hasPeerVectors = true
}

// SetPendingKey stores a derived key until the start confirmation arrives.
func (c *Context) SetPendingKey(key [KeySize]byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingKey = key
	c.hasPendingKey = true
}

// EnableReceive starts decrypting incoming PDUs under the pending key while
// outgoing PDUs stay in the clear. The receive counter restarts at zero.
func (c *Context) EnableReceive(iv [8]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.hasPendingKey {
		return ErrVectorsUnbound
	}
	lc, err := newLinkCipher(c.pendingKey, iv)
	if err != nil {
		return err
	}
	c.rxCipher = lc
	c.rx.Reset()
	return nil
}

// EnterEncrypted promotes the pending key to the session key and switches the
// link to encrypted transport. The transmit counter restarts at zero, as does
// the receive counter unless EnableReceive already started it. The vectors of
// the concluded attempt are dropped.
func (c *Context) EnterEncrypted(iv [8]byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.hasPendingKey {
		return ErrVectorsUnbound
	}
	lc, err := newLinkCipher(c.pendingKey, iv)
	if err != nil {
		return err
	}

	c.sessionKey = c.pendingKey
	c.hasSessionKey = true
	if c.rxCipher == nil {
		c.rxCipher = lc
		c.rx.Reset()
	}
	c.txCipher = lc
	zero(c.pendingKey[:])
	c.hasPendingKey = false
	c.clearVectorsLocked()
	c.tx.Reset()
	c.deadline = time.Time{}
	c.state = StateEncrypted
	return nil
}

// Abort records reason, clears all transient key material and leaves the
// context in StateAborted. Call Acknowledge to return it to rest.
func (c *Context) Abort(reason AbortReason) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
	c.abortReason = reason
	c.state = StateAborted
}

// Acknowledge returns an aborted context to its resting state.
func (c *Context) Acknowledge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateAborted {
		c.state = c.restState()
	}
}

// Reset clears every transient field and returns the context to rest.
// Used when the link disconnects.
func (c *Context) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
	c.state = c.restState()
}

// clearVectorsLocked drops both vector halves of the current attempt.
func (c *Context) clearVectorsLocked() {
	zero(c.localVectors.SKD[:])
	zero(c.localVectors.IV[:])
	zero(c.peerVectors.SKD[:])
	zero(c.peerVectors.IV[:])
	c.hasLocalVectors = false
	c.hasPeerVectors = false
}

func (c *Context) clearLocked() {
	c.clearVectorsLocked()
	zero(c.pendingKey[:])
	zero(c.sessionKey[:])
	c.hasPendingKey = false
	c.hasSessionKey = false
	c.rxCipher = nil
	c.txCipher = nil
	c.deadline = time.Time{}
	c.tx.Reset()
	c.rx.Reset()
}

// CheckInvariants verifies the session key is present if and only if the
// link is encrypted.
func (c *Context) CheckInvariants() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.hasSessionKey != (c.state == StateEncrypted) {
		return errInvariant{state: c.state, hasKey: c.hasSessionKey}
	}
	return nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
