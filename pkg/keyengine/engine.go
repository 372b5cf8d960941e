// Package keyengine owns the cryptographic primitive shared by every link.
//
// The primitive is non-reentrant, so requests from all links go through one
// FIFO queue consumed by a single worker. A request that is not serviced within
// the configured timeout completes with ErrDerivationTimeout, and a link can
// drop its queued requests when it disconnects.
package keyengine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/backkem/blelink/pkg/crypto"
	"github.com/pion/logging"
)

// Default engine parameters.
const (
	DefaultQueueSize         = 32
	DefaultDerivationTimeout = 500 * time.Millisecond
)

// Request asks the engine to compute Primitive.Encrypt(Key, Plaintext) for a link.
type Request struct {
	Handle    uint16
	Attempt   uint32
	Key       [crypto.BlockSize]byte
	Plaintext [crypto.BlockSize]byte

	// Done receives the result exactly once, unless the request is cancelled.
	// It runs on its own goroutine, so a slow callback never holds up the
	// primitive.
	Done func(Result)
}

// Result is the outcome of a Request.
type Result struct {
	Handle  uint16
	Attempt uint32
	Output  [crypto.BlockSize]byte
	Err     error
}

// Config configures an Engine.
type Config struct {
	// Primitive performs the block cipher. Default: SoftwarePrimitive.
	Primitive Primitive

	// QueueSize bounds the number of waiting requests. Default: 32.
	QueueSize int

	// DerivationTimeout bounds how long a request may wait, including
	// time spent queued behind other links. Default: 500ms.
	DerivationTimeout time.Duration

	// LoggerFactory for creating loggers.
	LoggerFactory logging.LoggerFactory
}

// job is a queued request.
type job struct {
	req   Request
	timer *time.Timer
	done  atomic.Bool
}

// Engine serializes access to the shared primitive.
type Engine struct {
	config Config
	log    logging.LeveledLogger

	// primMu guards the primitive itself.
	primMu sync.Mutex

	queue    []*job
	inflight *job
	running  bool
	wake     chan struct{}
	stop     chan struct{}
	wg       sync.WaitGroup

	mu sync.Mutex
}

// NewEngine creates an engine. Call Start before submitting requests.
func NewEngine(config Config) *Engine {
	if config.Primitive == nil {
		config.Primitive = SoftwarePrimitive{}
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	if config.DerivationTimeout <= 0 {
		config.DerivationTimeout = DefaultDerivationTimeout
	}

	e := &Engine{
		config: config,
		wake:   make(chan struct{}, 1),
	}
	if config.LoggerFactory != nil {
		e.log = config.LoggerFactory.NewLogger("keyengine")
	}
	return e
}

// Start launches the worker. Calling Start on a running engine is a no-op.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return
	}
	e.running = true
	e.stop = make(chan struct{})
	e.wg.Add(1)
	go e.worker(e.stop)
}

// Stop halts the worker. Queued requests complete with ErrStopped.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stop)
	pending := e.queue
	e.queue = nil
	e.mu.Unlock()

	e.wg.Wait()

	for _, j := range pending {
		e.complete(j, Result{Err: ErrStopped})
	}
}

// Submit queues req behind any requests already waiting.
func (e *Engine) Submit(req Request) error {
	if req.Done == nil {
		return ErrNoCallback
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return ErrStopped
	}
	if len(e.queue) >= e.config.QueueSize {
		return ErrQueueFull
	}

	j := &job{req: req}
	j.timer = time.AfterFunc(e.config.DerivationTimeout, func() { e.timeout(j) })
	e.queue = append(e.queue, j)

	select {
	case e.wake <- struct{}{}:
	default:
	}
	return nil
}

// Cancel drops every queued request of handle and discards the result of
// one in flight. Cancelled requests never see their Done callback.
// Returns the number of requests dropped.
func (e *Engine) Cancel(handle uint16) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	n := 0
	kept := e.queue[:0]
	for _, j := range e.queue {
		if j.req.Handle == handle {
			e.discard(j)
			n++
			continue
		}
		kept = append(kept, j)
	}
	clear(e.queue[len(kept):])
	e.queue = kept

	if e.inflight != nil && e.inflight.req.Handle == handle {
		e.discard(e.inflight)
		n++
	}
	if n > 0 && e.log != nil {
		e.log.Debugf("cancelled %d request(s) for handle 0x%04X", n, handle)
	}
	return n
}

// Pending returns the number of queued requests.
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Encrypt runs the primitive directly, serialized with queued work.
// It does not need a running worker.
func (e *Engine) Encrypt(key, plaintext [crypto.BlockSize]byte) ([crypto.BlockSize]byte, error) {
	e.primMu.Lock()
	defer e.primMu.Unlock()
	return e.config.Primitive.Encrypt(key, plaintext)
}

func (e *Engine) worker(stop <-chan struct{}) {
	defer e.wg.Done()

	for {
		j := e.next()
		if j == nil {
			select {
			case <-stop:
				return
			case <-e.wake:
				continue
			}
		}

		out, err := e.Encrypt(j.req.Key, j.req.Plaintext)

		e.mu.Lock()
		e.inflight = nil
		e.mu.Unlock()

		e.complete(j, Result{Output: out, Err: err})
	}
}

// next pops the oldest live request and marks it in flight.
func (e *Engine) next() *job {
	e.mu.Lock()
	defer e.mu.Unlock()

	for len(e.queue) > 0 {
		j := e.queue[0]
		e.queue[0] = nil
		e.queue = e.queue[1:]
		if j.done.Load() {
			continue
		}
		e.inflight = j
		return j
	}
	return nil
}

// timeout completes j with ErrDerivationTimeout, whether it is queued or running.
func (e *Engine) timeout(j *job) {
	e.mu.Lock()
	for i, q := range e.queue {
		if q == j {
			e.queue = append(e.queue[:i], e.queue[i+1:]...)
			break
		}
	}
	e.mu.Unlock()

	if e.log != nil && !j.done.Load() {
		e.log.Warnf("derivation for handle 0x%04X timed out", j.req.Handle)
	}
	e.complete(j, Result{Err: ErrDerivationTimeout})
}

// complete delivers res to j's callback if it has not completed yet.
func (e *Engine) complete(j *job, res Result) {
	if !j.done.CompareAndSwap(false, true) {
		return
	}
	j.timer.Stop()
	res.Handle = j.req.Handle
	res.Attempt = j.req.Attempt
	go j.req.Done(res)
}

// discard completes j without a callback.
func (e *Engine) discard(j *job) {
	if j.done.CompareAndSwap(false, true) {
		j.timer.Stop()
	}
}
