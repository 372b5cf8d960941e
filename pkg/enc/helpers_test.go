package enc

import (
	"bytes"
	"encoding/hex"
	"sync"
	"testing"
	"time"

	"github.com/backkem/blelink/pkg/conn"
	"github.com/backkem/blelink/pkg/crypto"
	"github.com/backkem/blelink/pkg/keyengine"
	"github.com/backkem/blelink/pkg/llcp"
)

// Bluetooth Core encryption sample data. Vectors are given in
// on-air (little-endian) order.
var (
	sampleLTK        = mustBlock("4c68384139f574d836bcf34e9dfb01bf")
	sampleSK         = mustBlock("99ad1b5226a37e3e058e3b8e27c2c666")
	sampleMasterRand = mustBytes("1302f1e0dfcebdac" + "24abdcba") // SKDm || IVm
	sampleSlaveRand  = mustBytes("7968574635241302" + "bebaafde") // SKDs || IVs
	sampleIV         = [crypto.IVSize]byte{0x24, 0xab, 0xdc, 0xba, 0xbe, 0xba, 0xaf, 0xde}
	sampleEDIV       = uint16(0x2474)
	sampleKeyRand    = [llcp.RandSize]byte{0xab, 0xcd, 0xef, 0x12, 0x34, 0x56, 0x78, 0x90}
)

func mustBytes(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

func mustBlock(s string) [crypto.BlockSize]byte {
	var out [crypto.BlockSize]byte
	copy(out[:], mustBytes(s))
	return out
}

func sampleKey() conn.LongTermKey {
	return conn.LongTermKey{Key: sampleLTK, EDIV: sampleEDIV, Rand: sampleKeyRand}
}

// fakeBridge records transmitted PDUs and armed deadlines.
type fakeBridge struct {
	mu       sync.Mutex
	sent     map[uint16][][]byte
	deadline map[uint16]func()
	arms     int
	disarms  int
	err      error
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{
		sent:     make(map[uint16][][]byte),
		deadline: make(map[uint16]func()),
	}
}

func (b *fakeBridge) Transmit(handle uint16, pdu []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent[handle] = append(b.sent[handle], append([]byte(nil), pdu...))
	return b.err
}

func (b *fakeBridge) ArmDeadline(handle uint16, _ time.Duration, fire func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deadline[handle] = fire
	b.arms++
}

func (b *fakeBridge) DisarmDeadline(handle uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.deadline, handle)
	b.disarms++
}

func (b *fakeBridge) armed(handle uint16) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.deadline[handle]
	return ok
}

// fireFunc returns the callback of the link's armed deadline.
func (b *fakeBridge) fireFunc(handle uint16) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.deadline[handle]
}

// expire fires the link's deadline as the timer service would.
func (b *fakeBridge) expire(handle uint16) bool {
	b.mu.Lock()
	fire, ok := b.deadline[handle]
	delete(b.deadline, handle)
	b.mu.Unlock()
	if ok {
		fire()
	}
	return ok
}

// take removes and returns every PDU sent on handle.
func (b *fakeBridge) take(handle uint16) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.sent[handle]
	delete(b.sent, handle)
	return out
}

// manualDeriver holds requests until the test completes them. With sync set
// it completes every request inside Submit.
type manualDeriver struct {
	mu        sync.Mutex
	sync      bool
	submitErr error
	pending   []keyengine.Request
	cancelled []uint16
}

func (m *manualDeriver) Submit(req keyengine.Request) error {
	if m.submitErr != nil {
		return m.submitErr
	}
	if m.sync {
		req.Done(keyengine.Result{
			Handle:  req.Handle,
			Attempt: req.Attempt,
			Output:  crypto.E(req.Key, req.Plaintext),
		})
		return nil
	}
	m.mu.Lock()
	m.pending = append(m.pending, req)
	m.mu.Unlock()
	return nil
}

func (m *manualDeriver) Cancel(handle uint16) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, handle)
	n := 0
	kept := m.pending[:0]
	for _, r := range m.pending {
		if r.Handle == handle {
			n++
			continue
		}
		kept = append(kept, r)
	}
	m.pending = kept
	return n
}

// completeNext finishes the oldest request, failing it with err if set.
func (m *manualDeriver) completeNext(t *testing.T, err error) keyengine.Request {
	t.Helper()
	m.mu.Lock()
	if len(m.pending) == 0 {
		m.mu.Unlock()
		t.Fatal("no pending derivation")
	}
	req := m.pending[0]
	m.pending = m.pending[1:]
	m.mu.Unlock()

	res := keyengine.Result{Handle: req.Handle, Attempt: req.Attempt, Err: err}
	if err == nil {
		res.Output = crypto.E(req.Key, req.Plaintext)
	}
	req.Done(res)
	return req
}

type stateChange struct {
	handle uint16
	state  conn.State
	reason conn.AbortReason
}

// side is one end of a link under test.
type side struct {
	ctx     *conn.Context
	d       *Dispatcher
	bridge  *fakeBridge
	deriver *manualDeriver

	mu      sync.Mutex
	changes []stateChange
}

func (s *side) events() []stateChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]stateChange(nil), s.changes...)
}

type sideOptions struct {
	role       conn.Role
	handle     uint16
	ltk        *conn.LongTermKey
	lookup     KeyLookup
	rand       []byte
	syncDerive bool
}

func newSide(t *testing.T, opts sideOptions) *side {
	t.Helper()

	ctx, err := conn.NewContext(conn.ContextConfig{Handle: opts.handle, Role: opts.role, LongTermKey: opts.ltk})
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}

	s := &side{
		ctx:     ctx,
		bridge:  newFakeBridge(),
		deriver: &manualDeriver{sync: opts.syncDerive},
	}
	cfg := Config{
		Bridge:    s.bridge,
		Deriver:   s.deriver,
		LookupKey: opts.lookup,
		Callbacks: Callbacks{
			OnStateChanged: func(handle uint16, state conn.State, reason conn.AbortReason) {
				s.mu.Lock()
				s.changes = append(s.changes, stateChange{handle, state, reason})
				s.mu.Unlock()
			},
			OnInvariantViolation: func(handle uint16, err error) {
				t.Errorf("invariant violated on 0x%04X: %v", handle, err)
			},
		},
	}
	if opts.rand != nil {
		cfg.Rand = bytes.NewReader(opts.rand)
	}

	s.d, err = NewDispatcher(cfg)
	if err != nil {
		t.Fatalf("NewDispatcher: %v", err)
	}
	if err := s.d.Attach(ctx); err != nil {
		t.Fatalf("Attach: %v", err)
	}
	return s
}

func newMaster(t *testing.T, syncDerive bool) *side {
	ltk := sampleKey()
	return newSide(t, sideOptions{
		role:       conn.RoleMaster,
		handle:     1,
		ltk:        &ltk,
		rand:       sampleMasterRand,
		syncDerive: syncDerive,
	})
}

func newSlave(t *testing.T, syncDerive bool, lookup KeyLookup) *side {
	return newSide(t, sideOptions{
		role:       conn.RoleSlave,
		handle:     1,
		lookup:     lookup,
		rand:       sampleSlaveRand,
		syncDerive: syncDerive,
	})
}

func sampleLookup(ediv uint16, rand [llcp.RandSize]byte) (conn.LongTermKey, bool) {
	if ediv != sampleEDIV || rand != sampleKeyRand {
		return conn.LongTermKey{}, false
	}
	return sampleKey(), true
}

// pump shuttles PDUs between a and b until neither has anything to send.
func pump(t *testing.T, a, b *side) {
	t.Helper()
	for i := 0; i < 16; i++ {
		moved := false
		for _, dir := range [][2]*side{{a, b}, {b, a}} {
			from, to := dir[0], dir[1]
			for _, pdu := range from.bridge.take(from.ctx.Handle()) {
				moved = true
				if err := to.d.HandlePDU(to.ctx.Handle(), pdu); err != nil {
					t.Fatalf("HandlePDU: %v", err)
				}
			}
		}
		if !moved {
			return
		}
	}
	t.Fatal("pump did not settle")
}

func decodeAll(t *testing.T, pdus [][]byte) []llcp.PDU {
	t.Helper()
	out := make([]llcp.PDU, 0, len(pdus))
	for _, b := range pdus {
		p, err := llcp.Decode(b)
		if err != nil {
			t.Fatalf("Decode(%x): %v", b, err)
		}
		out = append(out, p)
	}
	return out
}
