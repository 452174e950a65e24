package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ardnew/usbhcd/host/hal"
	"github.com/ardnew/usbhcd/pkg"
)

// ID is the controller family name of the simulated controller.
const ID hal.ControllerID = "sim"

// Config sizes a simulated controller.
type Config struct {
	Slots    int // Schedule capacity
	Channels int // Concurrently executing entries
	MaxXacts int // Longest chain per channel
	IRQ      int // Interrupt line asserted every frame

	// NAKLimit is the number of consecutive NAKs after which an aperiodic
	// transaction fails with [hal.CodeNAK]. Zero retries forever. Periodic
	// requests never retry; a NAK ends them with [hal.CodeNoData].
	NAKLimit int
}

// DefaultConfig is used by the registered factory.
var DefaultConfig = Config{
	Slots:    32,
	Channels: 4,
	MaxXacts: 8,
	IRQ:      32,
}

func init() {
	hal.Register(ID, func(io hal.IO, dma hal.DMAAllocator) (hal.Controller, error) {
		c, err := New(DefaultConfig)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
}

// channel is one execution unit. req is nil while idle.
type channel struct {
	req   *hal.Request
	next  int    // next transaction index
	naks  int    // consecutive NAKs on next
	start uint64 // first frame the chain may execute in
}

// Controller is a simulated host controller.
type Controller struct {
	cfg Config

	mu       sync.Mutex
	frame    uint64
	devices  map[uint8]Device
	gone     map[uint8]bool // detached and not reattached
	channels []channel
	faults   map[int]bool
	events   []hal.Event
	closed   bool
}

var _ hal.Controller = (*Controller)(nil)

// New creates a simulated controller.
func New(cfg Config) (*Controller, error) {
	if cfg.Slots <= 0 || cfg.Channels <= 0 || cfg.MaxXacts <= 0 || cfg.IRQ < 0 || cfg.NAKLimit < 0 {
		return nil, fmt.Errorf("%w: sim config %+v", pkg.ErrInvalidParameter, cfg)
	}
	return &Controller{
		cfg:      cfg,
		devices:  make(map[uint8]Device),
		gone:     make(map[uint8]bool),
		channels: make([]channel, cfg.Channels),
		faults:   make(map[int]bool),
	}, nil
}

// Slots implements hal.Controller.
func (c *Controller) Slots() int { return c.cfg.Slots }

// Channels implements hal.Controller.
func (c *Controller) Channels() int { return c.cfg.Channels }

// MaxXacts implements hal.Controller.
func (c *Controller) MaxXacts() int { return c.cfg.MaxXacts }

// IRQs implements hal.Controller.
func (c *Controller) IRQs() []int { return []int{c.cfg.IRQ} }

// Frame implements hal.Controller.
func (c *Controller) Frame() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frame
}

// Program implements hal.Controller.
func (c *Controller) Program(ch int, r *hal.Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.closed:
		return pkg.ErrNotRunning
	case ch < 0 || ch >= len(c.channels):
		return fmt.Errorf("%w: channel %d", pkg.ErrInvalidParameter, ch)
	case c.channels[ch].req != nil:
		return fmt.Errorf("%w: channel %d", pkg.ErrBusy, ch)
	case len(r.Xacts) > c.cfg.MaxXacts:
		return fmt.Errorf("%w: %d transactions", pkg.ErrResourceExhausted, len(r.Xacts))
	}
	c.channels[ch] = channel{req: r, start: c.frame + 1}
	pkg.LogTrace(pkg.ComponentSim, "channel programmed",
		"channel", ch, "address", r.Address, "endpoint", r.Endpoint, "xacts", len(r.Xacts))
	return nil
}

// Halt implements hal.Controller. Events already raised for ch but not yet
// reaped are discarded.
func (c *Controller) Halt(ch int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch < 0 || ch >= len(c.channels) {
		return
	}
	c.channels[ch] = channel{}
	delete(c.faults, ch)
	kept := c.events[:0]
	for _, ev := range c.events {
		if ev.Channel != ch {
			kept = append(kept, ev)
		}
	}
	c.events = kept
}

// Reap implements hal.Controller.
func (c *Controller) Reap(dst []hal.Event) []hal.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	dst = append(dst, c.events...)
	c.events = c.events[:0]
	return dst
}

// Close implements hal.Controller.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for i := range c.channels {
		c.channels[i] = channel{}
	}
	c.events = nil
	return nil
}

// Attach connects dev at the given bus address.
func (c *Controller) Attach(addr uint8, dev Device) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if addr > 127 || dev == nil {
		return fmt.Errorf("%w: attach address %d", pkg.ErrInvalidParameter, addr)
	}
	if _, ok := c.devices[addr]; ok {
		return fmt.Errorf("%w: address %d in use", pkg.ErrBusy, addr)
	}
	c.devices[addr] = dev
	delete(c.gone, addr)
	pkg.LogDebug(pkg.ComponentSim, "device attached", "address", addr)
	return nil
}

// Detach disconnects the device at addr. Chains in flight to it end with
// [hal.CodeDisconnected] on the transaction in progress, as do chains
// programmed for addr later until a device is attached there again. An
// address that never had a device times out instead.
func (c *Controller) Detach(addr uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.devices[addr]; !ok {
		return
	}
	delete(c.devices, addr)
	c.gone[addr] = true
	for i := range c.channels {
		ch := &c.channels[i]
		if ch.req == nil || ch.req.Address != addr {
			continue
		}
		c.raise(i, ch.next, hal.CodeDisconnected, 0)
		*ch = channel{}
	}
	pkg.LogDebug(pkg.ComponentSim, "device detached", "address", addr)
}

// InjectFault makes the next transaction executed on channel ch report
// [hal.CodeHostFault].
func (c *Controller) InjectFault(ch int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faults[ch] = true
}

// Step advances the bus by n frames, executing due chains in each. It
// returns the number of events raised.
func (c *Controller) Step(n int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	raised := len(c.events)
	for ; n > 0 && !c.closed; n-- {
		c.frame++
		for i := range c.channels {
			if ch := &c.channels[i]; ch.req != nil && ch.start <= c.frame {
				c.execute(i, ch)
			}
		}
	}
	return len(c.events) - raised
}

// Run steps one frame per tick and calls raise with the controller's
// interrupt line after each frame, until ctx is done.
func (c *Controller) Run(ctx context.Context, tick time.Duration, raise func(line int)) error {
	if tick <= 0 {
		return fmt.Errorf("%w: tick %v", pkg.ErrInvalidParameter, tick)
	}
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			c.Step(1)
			raise(c.cfg.IRQ)
		}
	}
}

// execute runs the chain on ch until it finishes, fails, or NAKs. An
// aperiodic chain that NAKs keeps its channel and resumes next frame; a
// periodic one gives the channel back.
func (c *Controller) execute(idx int, ch *channel) {
	r := ch.req
	for ch.next < len(r.Xacts) {
		i := ch.next
		if c.faults[idx] {
			delete(c.faults, idx)
			c.raise(idx, i, hal.CodeHostFault, 0)
			*ch = channel{}
			return
		}
		dev, ok := c.devices[r.Address]
		if !ok {
			code := hal.CodeTimeout
			if c.gone[r.Address] {
				code = hal.CodeDisconnected
			}
			c.raise(idx, i, code, 0)
			*ch = channel{}
			return
		}

		x := &r.Xacts[i]
		n, code := dev.Transact(r.Endpoint, x.Type, x.Data())
		switch {
		case code == hal.CodeNAK && r.Periodic():
			code = hal.CodeNoData
		case code == hal.CodeNAK:
			ch.naks++
			if c.cfg.NAKLimit == 0 || ch.naks < c.cfg.NAKLimit {
				return
			}
		}
		ch.naks = 0
		c.raise(idx, i, code, n)
		if code != hal.CodeOK {
			*ch = channel{}
			return
		}
		ch.next++
	}
	*ch = channel{}
}

func (c *Controller) raise(ch, idx int, code hal.Code, actual int) {
	c.events = append(c.events, hal.Event{Channel: ch, Index: idx, Code: code, Actual: actual})
	pkg.LogTrace(pkg.ComponentSim, "event",
		"frame", c.frame, "channel", ch, "index", idx, "code", code, "actual", actual)
}
