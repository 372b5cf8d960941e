// Package controller manages established links and their encryption.
//
// A Controller owns the connection contexts of all links, the radio
// transport that carries their frames, the per-link deadline timers and the
// key engine shared by every link. It frames outgoing data, opens incoming
// frames, routes control PDUs to the encryption dispatcher and reports
// procedure outcomes to the host.
package controller

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/backkem/blelink/pkg/conn"
	"github.com/backkem/blelink/pkg/enc"
	"github.com/backkem/blelink/pkg/keyengine"
	"github.com/backkem/blelink/pkg/llcp"
	"github.com/backkem/blelink/pkg/radio"
	"github.com/backkem/blelink/pkg/sched"
	"github.com/pion/logging"
)

// Callbacks provides callback functions for link events.
//
// Callbacks run on link goroutines. They must not call Disconnect or Close
// synchronously.
type Callbacks struct {
	// OnStateChanged is called when a link becomes Encrypted or an
	// encryption attempt is aborted.
	OnStateChanged func(handle uint16, state conn.State, reason conn.AbortReason)

	// OnData is called for every non-empty data PDU received on a link.
	OnData func(handle uint16, payload []byte)

	// OnDisconnected is called after a link is torn down. err is nil for a
	// host-requested disconnect.
	OnDisconnected func(handle uint16, err error)
}

// Config configures a Controller.
type Config struct {
	// Keys resolves the long-term keys slave links are asked for.
	// Default: an empty KeyStore.
	Keys *KeyStore

	// Engine is the key engine shared by all links. If nil, the controller
	// creates and runs its own.
	Engine *keyengine.Engine

	// MaxLinks limits concurrent links. Default: conn.DefaultMaxLinks.
	MaxLinks int

	// ResponseTimeout bounds every wait for a peer PDU. Default: 40s.
	ResponseTimeout time.Duration

	// Rand is the source of session key vectors. Default: crypto/rand.Reader.
	Rand io.Reader

	Callbacks Callbacks

	// LoggerFactory for creating loggers.
	LoggerFactory logging.LoggerFactory
}

// Link describes a newly established link.
type Link struct {
	Handle uint16
	Role   conn.Role

	// Conn carries the link's data channel PDUs.
	Conn net.Conn

	// LongTermKey is the key a master starts encryption with. Slaves find
	// theirs in the key store when the master asks.
	LongTermKey *conn.LongTermKey
}

// Controller is the link lifecycle manager.
type Controller struct {
	config Config
	log    logging.LeveledLogger

	table      *conn.Table
	timers     *sched.Timers
	engine     *keyengine.Engine
	ownsEngine bool
	transport  *radio.Transport
	dispatcher *enc.Dispatcher

	closed bool
	mu     sync.Mutex
}

// New creates a controller.
func New(config Config) (*Controller, error) {
	if config.Keys == nil {
		config.Keys = NewKeyStore()
	}

	c := &Controller{
		config: config,
		table:  conn.NewTable(config.MaxLinks),
		timers: sched.NewTimers(),
		engine: config.Engine,
	}
	if config.LoggerFactory != nil {
		c.log = config.LoggerFactory.NewLogger("controller")
	}

	if c.engine == nil {
		c.engine = keyengine.NewEngine(keyengine.Config{
			LoggerFactory: config.LoggerFactory,
		})
		c.engine.Start()
		c.ownsEngine = true
	}

	c.transport = radio.NewTransport(radio.Config{
		OnFrame:       c.onFrame,
		OnLinkLost:    c.onLinkLost,
		LoggerFactory: config.LoggerFactory,
	})

	d, err := enc.NewDispatcher(enc.Config{
		Bridge:          bridge{c},
		Deriver:         c.engine,
		LookupKey:       config.Keys.Lookup,
		Rand:            config.Rand,
		ResponseTimeout: config.ResponseTimeout,
		Callbacks: enc.Callbacks{
			OnStateChanged:       c.onStateChanged,
			OnInvariantViolation: c.onInvariantViolation,
		},
		LoggerFactory: config.LoggerFactory,
	})
	if err != nil {
		c.shutdown()
		return nil, err
	}
	c.dispatcher = d
	return c, nil
}

// Keys returns the controller's key store.
func (c *Controller) Keys() *KeyStore {
	return c.config.Keys
}

// Connect registers an established link and starts reading its frames.
func (c *Controller) Connect(link Link) error {
	if link.Conn == nil {
		return ErrNoConn
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}

	ctx, err := conn.NewContext(conn.ContextConfig{
		Handle:      link.Handle,
		Role:        link.Role,
		LongTermKey: link.LongTermKey,
	})
	if err != nil {
		return err
	}
	if err := c.table.Add(ctx); err != nil {
		return err
	}
	if err := c.dispatcher.Attach(ctx); err != nil {
		c.table.Remove(link.Handle)
		return err
	}
	if err := c.transport.Attach(link.Handle, link.Conn); err != nil {
		_ = c.dispatcher.Detach(link.Handle)
		c.table.Remove(link.Handle)
		return err
	}

	if c.log != nil {
		c.log.Infof("link 0x%04X: connected as %s", link.Handle, link.Role)
	}
	return nil
}

// Disconnect tears down a link. Any encryption attempt in flight is
// cancelled and the link's context is destroyed.
func (c *Controller) Disconnect(handle uint16) error {
	return c.terminate(handle, nil)
}

// StartEncryption starts the encryption procedure on a master link.
// The outcome is reported through Callbacks.OnStateChanged.
func (c *Controller) StartEncryption(handle uint16) error {
	if _, err := c.find(handle); err != nil {
		return err
	}
	err := c.dispatcher.StartEncryption(handle)
	if errors.Is(err, enc.ErrUnknownLink) {
		return ErrUnknownLink
	}
	return err
}

// EncryptionState returns the encryption state of a link.
func (c *Controller) EncryptionState(handle uint16) (conn.State, error) {
	ctx, err := c.find(handle)
	if err != nil {
		return 0, err
	}
	return ctx.State(), nil
}

// Send transmits a data PDU on a link, encrypted once the link is encrypted.
func (c *Controller) Send(handle uint16, payload []byte) error {
	ctx, err := c.find(handle)
	if err != nil {
		return err
	}
	if ctx.State().InProcedure() {
		return ErrProcedureActive
	}

	frame, err := ctx.SealFrame(conn.LLIDStart, payload)
	if err != nil {
		return err
	}
	return c.transport.Send(handle, frame)
}

// Links returns the number of established links.
func (c *Controller) Links() int {
	return c.table.Count()
}

// Close disconnects every link and releases the controller's resources.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true

	var handles []uint16
	c.table.ForEach(func(ctx *conn.Context) bool {
		handles = append(handles, ctx.Handle())
		return true
	})
	c.mu.Unlock()

	for _, h := range handles {
		if err := c.terminate(h, nil); err != nil && !errors.Is(err, ErrUnknownLink) && c.log != nil {
			c.log.Warnf("link 0x%04X: disconnect on close: %v", h, err)
		}
	}
	return c.shutdown()
}

func (c *Controller) shutdown() error {
	err := c.transport.Close()
	c.timers.Stop()
	if c.ownsEngine {
		c.engine.Stop()
	}
	return err
}

func (c *Controller) find(handle uint16) (*conn.Context, error) {
	ctx, err := c.table.Find(handle)
	if err != nil {
		return nil, ErrUnknownLink
	}
	return ctx, nil
}

// terminate tears down a link and reports why.
func (c *Controller) terminate(handle uint16, cause error) error {
	c.mu.Lock()
	if _, err := c.table.Find(handle); err != nil {
		c.mu.Unlock()
		return ErrUnknownLink
	}

	var errs []error
	if err := c.transport.Detach(handle); err != nil && !errors.Is(err, radio.ErrUnknownLink) {
		errs = append(errs, err)
	}
	if err := c.dispatcher.Detach(handle); err != nil {
		errs = append(errs, err)
	}
	c.timers.Disarm(handle)
	c.table.Remove(handle)
	c.mu.Unlock()

	if c.log != nil {
		if cause != nil {
			c.log.Warnf("link 0x%04X: terminated: %v", handle, cause)
		} else {
			c.log.Infof("link 0x%04X: disconnected", handle)
		}
	}
	if cb := c.config.Callbacks.OnDisconnected; cb != nil {
		cb(handle, cause)
	}
	return errors.Join(errs...)
}

// onFrame runs on the link's read loop.
func (c *Controller) onFrame(handle uint16, frame []byte) {
	ctx, err := c.table.Find(handle)
	if err != nil {
		return
	}

	llid, payload, err := ctx.OpenFrame(frame)
	switch {
	case errors.Is(err, conn.ErrMICFailure):
		// Detach waits for this read loop, so tear down from elsewhere.
		go func() {
			reject := &llcp.RejectInd{ErrorCode: llcp.ErrorCodeMICFailure}
			if err := (bridge{c}).Transmit(handle, reject.Encode()); err != nil && c.log != nil {
				c.log.Debugf("link 0x%04X: reject: %v", handle, err)
			}
			_ = c.terminate(handle, err)
		}()
		return
	case err != nil:
		if c.log != nil {
			c.log.Debugf("link 0x%04X: dropping frame: %v", handle, err)
		}
		return
	}

	switch llid {
	case conn.LLIDControl:
		if peerMICFailure(ctx, payload) {
			go func() { _ = c.terminate(handle, ErrPeerMICFailure) }()
			return
		}
		if err := c.dispatcher.HandlePDU(handle, payload); err != nil && c.log != nil {
			c.log.Debugf("link 0x%04X: control PDU: %v", handle, err)
		}
	default:
		if len(payload) == 0 {
			return
		}
		if cb := c.config.Callbacks.OnData; cb != nil {
			cb(handle, payload)
		}
	}
}

// peerMICFailure reports whether an encrypted link's peer has announced
// that it is dropping the link over a MIC failure.
func peerMICFailure(ctx *conn.Context, payload []byte) bool {
	if ctx.State() != conn.StateEncrypted {
		return false
	}
	pdu, err := llcp.Decode(payload)
	if err != nil {
		return false
	}
	_, code, ok := llcp.RejectedOpcode(pdu)
	return ok && code == llcp.ErrorCodeMICFailure
}

func (c *Controller) onLinkLost(handle uint16, err error) {
	go func() { _ = c.terminate(handle, err) }()
}

func (c *Controller) onStateChanged(handle uint16, state conn.State, reason conn.AbortReason) {
	if cb := c.config.Callbacks.OnStateChanged; cb != nil {
		cb(handle, state, reason)
	}
}

func (c *Controller) onInvariantViolation(handle uint16, err error) {
	go func() { _ = c.terminate(handle, err) }()
}

// bridge connects the dispatcher to the link's transport and timers.
type bridge struct {
	c *Controller
}

func (b bridge) Transmit(handle uint16, pdu []byte) error {
	ctx, err := b.c.find(handle)
	if err != nil {
		return err
	}
	frame, err := ctx.SealFrame(conn.LLIDControl, pdu)
	if err != nil {
		return err
	}
	return b.c.transport.Send(handle, frame)
}

func (b bridge) ArmDeadline(handle uint16, d time.Duration, fire func()) {
	b.c.timers.Arm(handle, d, fire)
}

func (b bridge) DisarmDeadline(handle uint16) {
	b.c.timers.Disarm(handle)
}
