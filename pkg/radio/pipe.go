package radio

import (
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/pion/transport/v3/test"
)

// Condition configures link impairment simulation.
type Condition struct {
	// DropRate is the probability of losing a frame (0.0 - 1.0).
	DropRate float64

	// DelayMin is the minimum delay added to each frame.
	DelayMin time.Duration

	// DelayMax is the maximum delay added to each frame.
	// Actual delay is uniformly distributed between DelayMin and DelayMax.
	DelayMax time.Duration

	// DuplicateRate is the probability of delivering a frame twice (0.0 - 1.0).
	DuplicateRate float64
}

// PipeConfig configures a Pipe.
type PipeConfig struct {
	// AutoProcess delivers frames in a background goroutine, standing in for
	// the periodic connection events of a real link.
	// Default: true
	AutoProcess bool

	// EventInterval is how often queued frames are delivered.
	// Default: 1ms
	EventInterval time.Duration
}

// DefaultPipeConfig returns the default pipe configuration.
func DefaultPipeConfig() PipeConfig {
	return PipeConfig{
		AutoProcess:   true,
		EventInterval: 1 * time.Millisecond,
	}
}

// Pipe is an in-memory point-to-point link between a master and a slave.
// It wraps pion's test.Bridge: every Write is one frame and every Read
// returns one frame.
//
// With AutoProcess disabled, frames move only on Tick or Process, which
// gives tests exact control over ordering.
type Pipe struct {
	bridge *test.Bridge
	master *PipeConn
	slave  *PipeConn

	mu            sync.RWMutex
	condition     Condition
	closed        bool
	rng           *rand.Rand
	autoProcess   bool
	eventInterval time.Duration
	stopCh        chan struct{}
	wg            sync.WaitGroup
}

// NewPipe creates a pipe with auto-processing enabled.
func NewPipe() *Pipe {
	return NewPipeWithConfig(DefaultPipeConfig())
}

// NewPipeWithConfig creates a pipe with the given configuration.
func NewPipeWithConfig(config PipeConfig) *Pipe {
	p := &Pipe{
		bridge:        test.NewBridge(),
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
		autoProcess:   config.AutoProcess,
		eventInterval: config.EventInterval,
		stopCh:        make(chan struct{}),
	}
	if p.eventInterval <= 0 {
		p.eventInterval = 1 * time.Millisecond
	}

	p.master = &PipeConn{Conn: p.bridge.GetConn0(), pipe: p}
	p.slave = &PipeConn{Conn: p.bridge.GetConn1(), pipe: p}

	if p.autoProcess {
		p.startAutoProcess()
	}
	return p
}

func (p *Pipe) startAutoProcess() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.eventInterval)
		defer ticker.Stop()

		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.bridge.Tick()
			}
		}
	}()
}

// Master returns the master's end of the link.
func (p *Pipe) Master() *PipeConn { return p.master }

// Slave returns the slave's end of the link.
func (p *Pipe) Slave() *PipeConn { return p.slave }

// SetCondition configures impairments for both directions.
func (p *Pipe) SetCondition(cond Condition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.condition = cond
}

// Condition returns the current impairment configuration.
func (p *Pipe) Condition() Condition {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.condition
}

// AutoProcess returns whether frames are delivered automatically.
func (p *Pipe) AutoProcess() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.autoProcess
}

// Tick delivers at most one frame in each direction.
// Returns the number of frames delivered.
func (p *Pipe) Tick() int {
	return p.bridge.Tick()
}

// Process delivers every queued frame.
// Returns the number of frames delivered.
func (p *Pipe) Process() int {
	count := 0
	for {
		n := p.Tick()
		if n == 0 {
			return count
		}
		count += n
	}
}

// Close closes both ends and stops auto-processing.
func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.autoProcess {
		close(p.stopCh)
	}
	p.mu.Unlock()

	p.wg.Wait()

	err0 := p.bridge.GetConn0().Close()
	err1 := p.bridge.GetConn1().Close()
	if err0 != nil {
		return err0
	}
	return err1
}

// PipeConn is one end of a Pipe. Writes are subject to the pipe's Condition.
type PipeConn struct {
	net.Conn
	pipe *Pipe

	mu      sync.Mutex
	pending []delayedFrame
	timer   *time.Timer
}

type delayedFrame struct {
	frame []byte
	due   time.Time
}

// Write sends one frame. A delayed frame is queued and Write returns at
// once; queued frames keep their write order.
func (c *PipeConn) Write(b []byte) (int, error) {
	c.pipe.mu.RLock()
	cond := c.pipe.condition
	c.pipe.mu.RUnlock()

	// rand.Rand is not safe for concurrent use.
	c.pipe.mu.Lock()
	drop := cond.DropRate > 0 && c.pipe.rng.Float64() < cond.DropRate
	dup := cond.DuplicateRate > 0 && c.pipe.rng.Float64() < cond.DuplicateRate
	delay := cond.DelayMin
	if cond.DelayMax > cond.DelayMin {
		delay += time.Duration(c.pipe.rng.Int63n(int64(cond.DelayMax - cond.DelayMin)))
	}
	c.pipe.mu.Unlock()

	if drop {
		return len(b), nil
	}

	c.mu.Lock()
	if delay <= 0 && len(c.pending) == 0 {
		c.mu.Unlock()
		if dup {
			if _, err := c.Conn.Write(b); err != nil {
				return 0, err
			}
		}
		return c.Conn.Write(b)
	}

	due := time.Now().Add(delay)
	if n := len(c.pending); n > 0 && due.Before(c.pending[n-1].due) {
		due = c.pending[n-1].due
	}
	frame := append([]byte(nil), b...)
	c.pending = append(c.pending, delayedFrame{frame: frame, due: due})
	if dup {
		c.pending = append(c.pending, delayedFrame{frame: frame, due: due})
	}
	if c.timer == nil {
		c.timer = time.AfterFunc(time.Until(c.pending[0].due), c.flush)
	}
	c.mu.Unlock()
	return len(b), nil
}

// flush writes every frame that is due and re-arms for the rest.
func (c *PipeConn) flush() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	n := 0
	for n < len(c.pending) && !c.pending[n].due.After(now) {
		// Errors only mean the pipe was closed underneath the frame.
		_, _ = c.Conn.Write(c.pending[n].frame)
		n++
	}
	c.pending = c.pending[n:]

	if len(c.pending) == 0 {
		c.timer = nil
		return
	}
	c.timer = time.AfterFunc(time.Until(c.pending[0].due), c.flush)
}

var _ net.Conn = (*PipeConn)(nil)
