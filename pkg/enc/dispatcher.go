// Package enc implements the link-layer connection encryption procedure.
//
// Step is a pure transition function over (state, event) that returns the
// actions a transition requires. The Dispatcher owns the per-link event queues,
// runs each event to completion and executes the actions against the link's
// conn.Context, the scheduling Bridge and the shared key Deriver.
package enc

import (
	"crypto/rand"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/backkem/blelink/pkg/conn"
	"github.com/backkem/blelink/pkg/keyengine"
	"github.com/backkem/blelink/pkg/llcp"
	"github.com/pion/logging"
)

// DefaultResponseTimeout is the link-layer response timeout.
const DefaultResponseTimeout = 40 * time.Second

// Bridge carries control PDUs to the link and runs per-link deadline timers.
type Bridge interface {
	// Transmit queues a control PDU payload for the next radio event on the link.
	// Delivery is not confirmed.
	Transmit(handle uint16, pdu []byte) error

	// ArmDeadline calls fire once after d unless disarmed or re-armed first.
	ArmDeadline(handle uint16, d time.Duration, fire func())

	// DisarmDeadline cancels the link's deadline.
	DisarmDeadline(handle uint16)
}

// Deriver runs session key derivations on the shared primitive.
// *keyengine.Engine implements it.
type Deriver interface {
	Submit(req keyengine.Request) error
	Cancel(handle uint16) int
}

// KeyLookup finds the long-term key a master identified by EDIV and Rand.
type KeyLookup func(ediv uint16, rand [llcp.RandSize]byte) (conn.LongTermKey, bool)

// Callbacks provides callback functions for procedure outcomes.
type Callbacks struct {
	// OnStateChanged is called when a link becomes Encrypted or an attempt is
	// aborted. For aborts state is StateAborted and reason says why; by the
	// time the callback runs the link is already back at rest.
	OnStateChanged func(handle uint16, state conn.State, reason conn.AbortReason)

	// OnInvariantViolation is called when a transition leaves a context with
	// a session key outside Encrypted, or without one inside it.
	OnInvariantViolation func(handle uint16, err error)
}

// Config configures a Dispatcher.
type Config struct {
	// Bridge is required.
	Bridge Bridge

	// Deriver is required.
	Deriver Deriver

	// LookupKey resolves the slave's long-term key. If nil, every
	// LL_ENC_REQ is rejected with PIN or Key Missing.
	LookupKey KeyLookup

	// Rand is the source of session key vectors. Default: crypto/rand.Reader.
	Rand io.Reader

	// ResponseTimeout bounds every wait for a peer PDU. Default: 40s.
	ResponseTimeout time.Duration

	Callbacks Callbacks

	// LoggerFactory for creating loggers.
	LoggerFactory logging.LoggerFactory
}

// link is the dispatcher's per-link record.
type link struct {
	ctx *conn.Context

	// startPending and deadline are only touched while the link's queue is
	// being drained.
	startPending bool
	deadline     uint64

	mu    sync.Mutex
	queue []Event
	busy  bool
}

type notification struct {
	handle uint16
	state  conn.State
	reason conn.AbortReason
}

// Dispatcher drives the encryption procedure of every attached link.
//
// Events of one link are processed strictly in delivery order and each runs to
// completion before the next. Different links proceed independently.
// Callbacks run after the event that caused them, outside any lock.
type Dispatcher struct {
	config Config
	log    logging.LeveledLogger

	links map[uint16]*link
	mu    sync.RWMutex
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(config Config) (*Dispatcher, error) {
	if config.Bridge == nil {
		return nil, ErrNoBridge
	}
	if config.Deriver == nil {
		return nil, ErrNoDeriver
	}
	if config.Rand == nil {
		config.Rand = rand.Reader
	}
	if config.ResponseTimeout <= 0 {
		config.ResponseTimeout = DefaultResponseTimeout
	}

	d := &Dispatcher{
		config: config,
		links:  make(map[uint16]*link),
	}
	if config.LoggerFactory != nil {
		d.log = config.LoggerFactory.NewLogger("enc")
	}
	return d, nil
}

// Attach starts driving ctx. Called when the link is established.
func (d *Dispatcher) Attach(ctx *conn.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.links[ctx.Handle()]; ok {
		return ErrLinkExists
	}
	d.links[ctx.Handle()] = &link{ctx: ctx}
	return nil
}

// Detach delivers the link-disconnect event and stops driving the link.
// Pending deadlines and queued derivations of the link are cancelled and its
// context is returned to rest with all key material cleared.
func (d *Dispatcher) Detach(handle uint16) error {
	d.mu.Lock()
	l, ok := d.links[handle]
	delete(d.links, handle)
	d.mu.Unlock()

	if !ok {
		return ErrUnknownLink
	}
	return d.deliverWait(l, Event{Kind: EventDisconnect})
}

// StartEncryption initiates the procedure on a master link.
// Returns ErrBusy, ErrNoLongTermKey or ErrNotMaster without changing
// the link when the procedure cannot start. Completion is reported through
// Callbacks.OnStateChanged.
func (d *Dispatcher) StartEncryption(handle uint16) error {
	l := d.lookup(handle)
	if l == nil {
		return ErrUnknownLink
	}
	return d.deliverWait(l, Event{Kind: EventStart})
}

// EncryptionState returns the procedure state of a link.
func (d *Dispatcher) EncryptionState(handle uint16) (conn.State, error) {
	l := d.lookup(handle)
	if l == nil {
		return 0, ErrUnknownLink
	}
	return l.ctx.State(), nil
}

// HandlePDU delivers a received control PDU payload. It returns once the
// PDU has been processed. Decode failures are fed to the state machine as
// malformed PDUs; control procedures other than encryption are ignored.
func (d *Dispatcher) HandlePDU(handle uint16, payload []byte) error {
	l := d.lookup(handle)
	if l == nil {
		return ErrUnknownLink
	}

	p, err := llcp.Decode(payload)
	switch {
	case errors.Is(err, llcp.ErrUnknownOpcode):
		if d.log != nil {
			d.log.Debugf("link 0x%04X: ignoring control PDU: %v", handle, err)
		}
		return nil
	case err != nil:
		return d.deliverWait(l, Event{Kind: EventMalformed, Err: err})
	}
	return d.deliverWait(l, EventFromPDU(p))
}

func (d *Dispatcher) lookup(handle uint16) *link {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.links[handle]
}

// post delivers an internally generated event without waiting.
func (d *Dispatcher) post(handle uint16, ev Event) {
	l := d.lookup(handle)
	if l == nil {
		if d.log != nil {
			d.log.Debugf("link 0x%04X: dropping %s for detached link", handle, ev.Kind)
		}
		return
	}
	d.deliver(l, ev)
}

// deliverWait delivers ev and waits for its synchronous outcome.
func (d *Dispatcher) deliverWait(l *link, ev Event) error {
	ev.done = make(chan error, 1)
	d.deliver(l, ev)
	return <-ev.done
}

// deliver queues ev on the link. If no other goroutine is draining the
// link's queue, the caller drains it, including events queued meanwhile.
func (d *Dispatcher) deliver(l *link, ev Event) {
	l.mu.Lock()
	l.queue = append(l.queue, ev)
	if l.busy {
		l.mu.Unlock()
		return
	}
	l.busy = true

	var notes []notification
	for len(l.queue) > 0 {
		next := l.queue[0]
		l.queue[0] = Event{}
		l.queue = l.queue[1:]
		l.mu.Unlock()

		note, err := d.process(l, next)
		if next.done != nil {
			next.done <- err
		}
		if note != nil {
			notes = append(notes, *note)
		}

		l.mu.Lock()
	}
	l.busy = false
	l.mu.Unlock()

	if cb := d.config.Callbacks.OnStateChanged; cb != nil {
		for _, n := range notes {
			cb(n.handle, n.state, n.reason)
		}
	}
}

// process runs one event to completion.
func (d *Dispatcher) process(l *link, ev Event) (*notification, error) {
	ctx := l.ctx
	handle := ctx.Handle()

	switch ev.Kind {
	case EventTimeout, EventDerivationDone, EventDerivationFailed:
		if ev.Kind == EventTimeout && ev.Deadline != l.deadline {
			if d.log != nil {
				d.log.Debugf("link 0x%04X: dropping superseded timeout", handle)
			}
			return nil, nil
		}
		if ev.Attempt != ctx.Attempt() {
			if d.log != nil {
				d.log.Debugf("link 0x%04X: dropping stale %s of attempt %d", handle, ev.Kind, ev.Attempt)
			}
			return nil, nil
		}
	case EventEncReq:
		if ctx.Role() == conn.RoleSlave && ctx.State() == conn.StateWaitRequest && d.config.LookupKey != nil {
			req := ev.PDU.(*llcp.EncReq)
			ev.LTK, ev.KeyFound = d.config.LookupKey(req.EDIV, req.Rand)
		}
	}

	_, hasLTK := ctx.LongTermKey()
	from := ctx.State()
	tr := Step(Snapshot{
		Role:         ctx.Role(),
		State:        from,
		HasLTK:       hasLTK,
		StartPending: l.startPending,
	}, ev)

	if tr.Err != nil {
		return nil, tr.Err
	}
	if tr.Ignored {
		if d.log != nil && ev.Kind != EventStart {
			d.log.Debugf("link 0x%04X: ignoring %s in %s", handle, ev.Kind, from)
		}
		return nil, nil
	}

	next := tr.Next
	for _, a := range tr.Actions {
		if reason, err := d.execute(l, ev, a); err != nil {
			if d.log != nil {
				d.log.Warnf("link 0x%04X: %s failed: %v", handle, a.Kind, err)
			}
			d.runAbort(l, reason)
			next = conn.StateAborted
			break
		}
	}
	if next != conn.StateAborted {
		ctx.SetState(next)
	}

	if err := ctx.CheckInvariants(); err != nil {
		if d.log != nil {
			d.log.Errorf("link 0x%04X: %v", handle, err)
		}
		if cb := d.config.Callbacks.OnInvariantViolation; cb != nil {
			cb(handle, err)
		}
	}

	switch next {
	case conn.StateEncrypted:
		if from != conn.StateEncrypted {
			if d.log != nil {
				d.log.Infof("link 0x%04X: encrypted", handle)
			}
			return &notification{handle: handle, state: conn.StateEncrypted}, nil
		}
	case conn.StateAborted:
		reason := ctx.AbortReason()
		if d.log != nil {
			d.log.Infof("link 0x%04X: procedure aborted in %s: %s", handle, from, reason)
		}
		ctx.Acknowledge()
		return &notification{handle: handle, state: conn.StateAborted, reason: reason}, nil
	default:
		if d.log != nil && from != next {
			d.log.Debugf("link 0x%04X: %s + %s -> %s", handle, from, ev.Kind, next)
		}
	}
	return nil, nil
}

// runAbort executes the abort actions after a failed action.
func (d *Dispatcher) runAbort(l *link, reason conn.AbortReason) {
	for _, a := range abort(reason).Actions {
		_, _ = d.execute(l, Event{}, a)
	}
}

// execute performs one action. On failure it returns the abort reason the
// attempt ends with.
func (d *Dispatcher) execute(l *link, ev Event, a Action) (conn.AbortReason, error) {
	ctx := l.ctx
	handle := ctx.Handle()

	switch a.Kind {
	case ActionBeginAttempt:
		ctx.BeginAttempt()
		l.startPending = false

	case ActionBindLongTermKey:
		ctx.SetLongTermKey(ev.LTK)

	case ActionBindPeerVectors:
		v, err := PeerVectors(ev.PDU)
		if err != nil {
			return conn.AbortProtocolViolation, err
		}
		ctx.BindPeerVectors(v)

	case ActionGenerateVectors:
		if _, err := GenerateLocalVectors(ctx, d.config.Rand); err != nil {
			return conn.AbortDerivationFailure, err
		}

	case ActionSendEncReq:
		ltk, _ := ctx.LongTermKey()
		local, _ := ctx.LocalVectors()
		d.transmit(handle, BuildEncReq(ltk, local))

	case ActionSendEncRsp:
		local, _ := ctx.LocalVectors()
		d.transmit(handle, BuildEncRsp(local))

	case ActionSendStartEncReq:
		d.transmit(handle, &llcp.StartEncReq{})

	case ActionSendStartEncRsp:
		d.transmit(handle, &llcp.StartEncRsp{})

	case ActionSendReject:
		d.transmit(handle, &llcp.RejectInd{ErrorCode: a.ErrorCode})

	case ActionArmDeadline:
		l.deadline++
		attempt, seq := ctx.Attempt(), l.deadline
		timeout := d.config.ResponseTimeout
		ctx.SetDeadline(time.Now().Add(timeout))
		d.config.Bridge.ArmDeadline(handle, timeout, func() {
			d.post(handle, Event{Kind: EventTimeout, Attempt: attempt, Deadline: seq})
		})

	case ActionDisarmDeadline:
		l.deadline++
		ctx.SetDeadline(time.Time{})
		d.config.Bridge.DisarmDeadline(handle)

	case ActionRequestDerivation:
		req := DerivationRequest(ctx)
		req.Done = func(r keyengine.Result) {
			if r.Err != nil {
				d.post(r.Handle, Event{Kind: EventDerivationFailed, Attempt: r.Attempt, Err: r.Err})
				return
			}
			d.post(r.Handle, Event{Kind: EventDerivationDone, Attempt: r.Attempt, Key: r.Output})
		}
		if err := d.config.Deriver.Submit(req); err != nil {
			return conn.AbortDerivationFailure, err
		}

	case ActionCancelDerivation:
		d.config.Deriver.Cancel(handle)

	case ActionStorePendingKey:
		ctx.SetPendingKey(ev.Key)

	case ActionRememberStart:
		l.startPending = true

	case ActionEnableReceive:
		iv, err := sessionIV(ctx)
		if err != nil {
			return conn.AbortHandshakeFailed, err
		}
		if err := ctx.EnableReceive(iv); err != nil {
			return conn.AbortHandshakeFailed, err
		}

	case ActionEnterEncrypted:
		iv, err := sessionIV(ctx)
		if err != nil {
			return conn.AbortHandshakeFailed, err
		}
		if err := ctx.EnterEncrypted(iv); err != nil {
			return conn.AbortHandshakeFailed, err
		}
		l.startPending = false

	case ActionAbort:
		ctx.Abort(a.Reason)
		l.startPending = false

	case ActionReset:
		ctx.Reset()
		l.startPending = false
	}
	return conn.AbortNone, nil
}

// transmit hands a PDU to the bridge. Delivery is fire-and-forget: a
// failure is logged and the deadline catches a lost exchange.
func (d *Dispatcher) transmit(handle uint16, p llcp.PDU) {
	if err := d.config.Bridge.Transmit(handle, p.Encode()); err != nil && d.log != nil {
		d.log.Warnf("link 0x%04X: transmit %s: %v", handle, p.Opcode(), err)
	}
}
