// Package radio carries data channel PDUs between established links.
//
// A Transport owns one net.Conn per connection handle. Each link has its own
// read loop, so frames of one link are delivered in order and links never
// block each other. Sends are fire-and-forget. Pipe provides an in-memory
// link for tests and simulations.
package radio

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/backkem/blelink/pkg/conn"
	"github.com/pion/logging"
)

// MaxFrameSize is the largest data channel PDU: header plus maximum payload.
const MaxFrameSize = conn.HeaderSize + conn.MaxPayloadSize

// Config configures a Transport.
type Config struct {
	// OnFrame receives every frame read from a link. It is called from the
	// link's read loop; frames of one link are never delivered concurrently.
	OnFrame func(handle uint16, frame []byte)

	// OnLinkLost is called when a link's connection fails without Detach.
	OnLinkLost func(handle uint16, err error)

	// LoggerFactory for creating loggers.
	LoggerFactory logging.LoggerFactory
}

type attachment struct {
	conn     net.Conn
	detached chan struct{}
	done     chan struct{}
}

// Transport multiplexes links by connection handle.
type Transport struct {
	config Config
	log    logging.LeveledLogger

	links  map[uint16]*attachment
	closed bool
	mu     sync.Mutex
}

// NewTransport creates a transport.
func NewTransport(config Config) *Transport {
	t := &Transport{
		config: config,
		links:  make(map[uint16]*attachment),
	}
	if config.LoggerFactory != nil {
		t.log = config.LoggerFactory.NewLogger("radio")
	}
	return t
}

// Attach starts reading frames from c for handle.
func (t *Transport) Attach(handle uint16, c net.Conn) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	if _, ok := t.links[handle]; ok {
		return ErrLinkExists
	}

	a := &attachment{
		conn:     c,
		detached: make(chan struct{}),
		done:     make(chan struct{}),
	}
	t.links[handle] = a
	go t.readLoop(handle, a)
	return nil
}

// Detach closes the link's connection and waits for its read loop to exit.
// It must not be called from OnFrame.
func (t *Transport) Detach(handle uint16) error {
	t.mu.Lock()
	a, ok := t.links[handle]
	delete(t.links, handle)
	t.mu.Unlock()

	if !ok {
		return ErrUnknownLink
	}
	return t.stop(a)
}

func (t *Transport) stop(a *attachment) error {
	close(a.detached)
	_ = a.conn.SetReadDeadline(time.Now())
	err := a.conn.Close()
	<-a.done
	return err
}

// Send writes one frame to the link. Delivery is not confirmed.
func (t *Transport) Send(handle uint16, frame []byte) error {
	if len(frame) > MaxFrameSize {
		return ErrFrameTooLong
	}

	t.mu.Lock()
	a, ok := t.links[handle]
	t.mu.Unlock()
	if !ok {
		return ErrUnknownLink
	}

	_, err := a.conn.Write(frame)
	return err
}

// Links returns the number of attached links.
func (t *Transport) Links() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.links)
}

// Close detaches every link.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	links := t.links
	t.links = make(map[uint16]*attachment)
	t.mu.Unlock()

	var firstErr error
	for _, a := range links {
		if err := t.stop(a); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *Transport) readLoop(handle uint16, a *attachment) {
	defer close(a.done)

	buf := make([]byte, MaxFrameSize)
	for {
		n, err := a.conn.Read(buf)
		if err != nil {
			select {
			case <-a.detached:
				return
			default:
			}
			t.lost(handle, a, err)
			return
		}

		frame := make([]byte, n)
		copy(frame, buf[:n])
		if t.config.OnFrame != nil {
			t.config.OnFrame(handle, frame)
		}
	}
}

// lost removes a link whose connection failed underneath it.
func (t *Transport) lost(handle uint16, a *attachment, err error) {
	t.mu.Lock()
	if t.links[handle] == a {
		delete(t.links, handle)
	}
	t.mu.Unlock()
	_ = a.conn.Close()

	if t.log != nil && !errors.Is(err, io.EOF) {
		t.log.Warnf("link 0x%04X lost: %v", handle, err)
	}
	if t.config.OnLinkLost != nil {
		t.config.OnLinkLost(handle, err)
	}
}
