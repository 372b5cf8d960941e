package main

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/backkem/blelink/pkg/conn"
	"github.com/backkem/blelink/pkg/controller"
	"github.com/backkem/blelink/pkg/keyengine"
	"github.com/backkem/blelink/pkg/radio"
	"golang.org/x/sync/errgroup"
)

var errIncomplete = errors.New("not every link finished its procedure")

type handshakeCmd struct {
	Links     int           `default:"1" help:"Number of simultaneous links."`
	Secret    string        `default:"blelink" help:"Pairing secret both sides derive the long-term key from."`
	NoKey     bool          `help:"Do not give the slave the long-term key."`
	DropRate  float64       `default:"0" help:"Probability of losing a frame (0.0-1.0)."`
	Delay     time.Duration `default:"0s" help:"Propagation delay of every frame."`
	Timeout   time.Duration `default:"2s" help:"Response timeout of each procedure."`
	Message   string        `default:"ping" help:"Payload each master sends once its link is encrypted."`
	WaitLimit time.Duration `default:"10s" help:"How long to wait for every link to finish."`
}

// outcome is the result of one link's procedure.
type outcome struct {
	handle uint16
	state  conn.State
	reason conn.AbortReason
}

func (cmd *handshakeCmd) Run(g *Globals) error {
	if cmd.Links < 1 || cmd.Links > conn.DefaultMaxLinks {
		return fmt.Errorf("links must be between 1 and %d", conn.DefaultMaxLinks)
	}

	lf := g.loggerFactory()
	ltk, err := controller.DeriveLongTermKey([]byte(cmd.Secret), nil)
	if err != nil {
		return err
	}

	// One engine stands in for the primitive both sides share.
	engine := keyengine.NewEngine(keyengine.Config{LoggerFactory: lf})
	engine.Start()
	defer engine.Stop()

	outcomes := make(chan outcome, cmd.Links)
	var received sync.Map

	master, err := controller.New(controller.Config{
		Engine:          engine,
		ResponseTimeout: cmd.Timeout,
		Callbacks: controller.Callbacks{
			OnStateChanged: func(h uint16, s conn.State, r conn.AbortReason) {
				outcomes <- outcome{handle: h, state: s, reason: r}
			},
		},
		LoggerFactory: lf,
	})
	if err != nil {
		return err
	}
	defer func() { _ = master.Close() }()

	slave, err := controller.New(controller.Config{
		Engine:          engine,
		ResponseTimeout: cmd.Timeout,
		Callbacks: controller.Callbacks{
			OnData: func(h uint16, p []byte) {
				received.Store(h, string(p))
			},
		},
		LoggerFactory: lf,
	})
	if err != nil {
		return err
	}
	defer func() { _ = slave.Close() }()

	if !cmd.NoKey {
		slave.Keys().Add(ltk)
	}

	cond := radio.Condition{DropRate: cmd.DropRate, DelayMin: cmd.Delay, DelayMax: cmd.Delay}
	for i := 0; i < cmd.Links; i++ {
		h := uint16(i + 1)
		p := radio.NewPipe()
		p.SetCondition(cond)
		defer func() { _ = p.Close() }()

		if err := slave.Connect(controller.Link{Handle: h, Role: conn.RoleSlave, Conn: p.Slave()}); err != nil {
			return err
		}
		if err := master.Connect(controller.Link{Handle: h, Role: conn.RoleMaster, Conn: p.Master(), LongTermKey: &ltk}); err != nil {
			return err
		}
	}

	start := time.Now()
	var eg errgroup.Group
	for i := 0; i < cmd.Links; i++ {
		h := uint16(i + 1)
		eg.Go(func() error {
			return master.StartEncryption(h)
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	results := cmd.collect(outcomes)
	elapsed := time.Since(start)

	for _, r := range results {
		if r.state == conn.StateEncrypted {
			if err := master.Send(r.handle, []byte(cmd.Message)); err != nil {
				return fmt.Errorf("link 0x%04X: %w", r.handle, err)
			}
		}
	}
	// Frames are fire-and-forget; give the last ones time to land.
	time.Sleep(cmd.Delay + 50*time.Millisecond)

	for _, r := range results {
		line := fmt.Sprintf("link 0x%04X: %s", r.handle, r.state)
		if r.state == conn.StateAborted {
			line += fmt.Sprintf(" (%s)", r.reason)
		}
		if v, ok := received.Load(r.handle); ok {
			line += fmt.Sprintf(", slave received %q", v)
		}
		fmt.Fprintln(os.Stdout, line)
	}
	fmt.Fprintf(os.Stdout, "%d/%d links finished in %v\n", len(results), cmd.Links, elapsed.Round(time.Millisecond))

	if len(results) != cmd.Links {
		return errIncomplete
	}
	return nil
}

// collect waits for one outcome per link or until WaitLimit passes.
func (cmd *handshakeCmd) collect(outcomes <-chan outcome) []outcome {
	deadline := time.After(cmd.WaitLimit)
	var results []outcome
	for len(results) < cmd.Links {
		select {
		case o := <-outcomes:
			results = append(results, o)
		case <-deadline:
			return sortOutcomes(results)
		}
	}
	return sortOutcomes(results)
}

func sortOutcomes(results []outcome) []outcome {
	sort.Slice(results, func(i, j int) bool { return results[i].handle < results[j].handle })
	return results
}
