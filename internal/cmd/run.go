package cmd

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ardnew/usbhcd/host"
	"github.com/ardnew/usbhcd/host/hal"
	"github.com/ardnew/usbhcd/host/hal/dma"
	"github.com/ardnew/usbhcd/host/hal/sim"
	"github.com/ardnew/usbhcd/host/irq"
	"github.com/ardnew/usbhcd/pkg"
)

// Bus addresses of the simulated devices.
const (
	keyboardAddr uint8 = 2
	loopbackAddr uint8 = 3
	stallAddr    uint8 = 4
)

const (
	arenaSize   = 64 * 1024
	arenaBase   = 0x2000_0000
	maxBulkSize = 16 * 1024
	simIRQ      = 32
	simMaxXacts = 4
	reportSize  = 8
)

// RunCommand drives a simulated host controller with a fixed workload: an
// interrupt device polled periodically, a loopback device exercised with a
// control sequence and then continuous bulk echo, and optionally a device
// that stalls every transaction.
type RunCommand struct {
	Duration        time.Duration `help:"How long to run the bus, 0 until interrupted" default:"2s" env:"HCSIM_DURATION"`
	Frame           time.Duration `help:"Wall-clock length of one bus frame" default:"1ms" env:"HCSIM_FRAME"`
	Slots           int           `help:"Schedule capacity" default:"32"`
	Channels        int           `help:"Host channels" default:"4"`
	NAKLimit        int           `name:"nak-limit" help:"Consecutive NAKs before a control or bulk transaction fails, 0 retries forever" default:"0"`
	PollPeriod      int           `help:"Interrupt poll period in frames" default:"8"`
	ReportEvery     int           `help:"Frames between reports queued on the interrupt device" default:"20"`
	ControlCycles   int           `help:"Completion cycles of the control entry before bulk traffic starts" default:"3"`
	BulkSize        int           `help:"Bytes per bulk loopback transfer" default:"64"`
	Stall           bool          `help:"Attach a device at address 4 that stalls every transaction"`
	DisconnectAfter time.Duration `help:"Detach the interrupt device after this long, 0 keeps it attached" default:"0s"`
}

// Summary is what a simulation run observed.
type Summary struct {
	Stats         host.Stats
	Frames        uint64
	Reports       int  // Interrupt reports received
	Pushed        int  // Reports queued on the interrupt device
	ControlCycles int  // Successful control cycles
	BulkCycles    int  // Successful bulk echo cycles
	BulkBytes     int  // Bytes moved by bulk transfers, both directions
	Mismatches    int  // Bulk echoes that differed from what was sent
	Stalls        int  // Completions with an error status from the stall device
	Disconnected  bool // The interrupt device was detached
	Remaining     int  // Live entries for the interrupt device after detaching
}

// Run simulates until the duration elapses or the process is interrupted.
func (r *RunCommand) Run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if r.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Duration)
		defer cancel()
	}

	logger.Info("starting simulated bus", "frame", r.Frame, "duration", r.Duration,
		"channels", r.Channels, "slots", r.Slots)
	sum, err := r.Simulate(ctx, logger)
	if err != nil {
		return err
	}
	logger.Info("bus stopped",
		"frames", sum.Frames,
		"reports", sum.Reports,
		"control_cycles", sum.ControlCycles,
		"bulk_cycles", sum.BulkCycles,
		"bulk_bytes", sum.BulkBytes,
		"mismatches", sum.Mismatches,
		"stalls", sum.Stalls)
	logger.Info("scheduler stats",
		"submitted", sum.Stats.Submitted,
		"dispatched", sum.Stats.Dispatched,
		"completed", sum.Stats.Completed,
		"rearmed", sum.Stats.Rearmed,
		"idle", sum.Stats.Idle,
		"retired", sum.Stats.Retired,
		"cancelled", sum.Stats.Cancelled,
		"stray", sum.Stats.Stray,
		"interrupts", sum.Stats.Interrupts)
	return nil
}

func (r *RunCommand) validate() error {
	switch {
	case r.Frame <= 0:
		return fmt.Errorf("%w: frame %v", pkg.ErrInvalidParameter, r.Frame)
	case r.Duration < 0:
		return fmt.Errorf("%w: duration %v", pkg.ErrInvalidParameter, r.Duration)
	case r.PollPeriod < 1:
		return fmt.Errorf("%w: poll period %d", pkg.ErrInvalidParameter, r.PollPeriod)
	case r.ReportEvery < 1:
		return fmt.Errorf("%w: report every %d", pkg.ErrInvalidParameter, r.ReportEvery)
	case r.ControlCycles < 0:
		return fmt.Errorf("%w: control cycles %d", pkg.ErrInvalidParameter, r.ControlCycles)
	case r.BulkSize < 1 || r.BulkSize > maxBulkSize:
		return fmt.Errorf("%w: bulk size %d", pkg.ErrInvalidParameter, r.BulkSize)
	case r.DisconnectAfter < 0:
		return fmt.Errorf("%w: disconnect after %v", pkg.ErrInvalidParameter, r.DisconnectAfter)
	}
	return nil
}

// Simulate runs the workload until ctx is done and reports what happened.
func (r *RunCommand) Simulate(ctx context.Context, logger *slog.Logger) (Summary, error) {
	if err := r.validate(); err != nil {
		return Summary{}, err
	}

	arena, err := dma.NewArena(arenaSize, arenaBase)
	if err != nil {
		return Summary{}, err
	}
	defer arena.Close()

	ctl, err := sim.New(sim.Config{
		Slots:    r.Slots,
		Channels: r.Channels,
		MaxXacts: simMaxXacts,
		IRQ:      simIRQ,
		NAKLimit: r.NAKLimit,
	})
	if err != nil {
		return Summary{}, err
	}
	h := host.New(ctl, arena)

	router := irq.NewRouter()
	if err := router.Attach(h.IRQs(), h); err != nil {
		_ = h.Close()
		return Summary{}, err
	}

	w := &workload{cfg: r, log: logger, host: h, ctl: ctl, arena: arena}
	if err := w.start(); err != nil {
		router.Detach(h.IRQs()...)
		_ = h.Close()
		return Summary{}, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ctl.Run(gctx, r.Frame, func(line int) { router.Raise(line) })
	})
	g.Go(func() error { return w.feed(gctx) })
	if r.DisconnectAfter > 0 {
		g.Go(func() error { return w.disconnect(gctx) })
	}
	err = g.Wait()

	router.Detach(h.IRQs()...)
	sum := w.sum
	sum.Stats = h.Stats()
	sum.Frames = ctl.Frame()
	if cerr := h.Close(); err == nil {
		err = cerr
	}
	return sum, err
}

// workload owns the device models, buffers and callbacks of one run.
// Callbacks run on the frame clock goroutine; feed and disconnect touch only
// their own fields.
type workload struct {
	cfg   *RunCommand
	log   *slog.Logger
	host  *host.Host
	ctl   *sim.Controller
	arena *dma.Arena

	keyboard *sim.Interrupt
	loopback *sim.Loopback

	report  hal.DMABuffer
	setup   hal.DMABuffer
	status  hal.DMABuffer
	bulkOut hal.DMABuffer
	bulkIn  hal.DMABuffer
	garbage hal.DMABuffer

	sum Summary
}

func (w *workload) alloc(size int) (hal.DMABuffer, error) {
	return w.arena.Alloc(size, 4)
}

// start attaches the devices and schedules the initial entries.
func (w *workload) start() (err error) {
	for _, b := range []struct {
		dst  *hal.DMABuffer
		size int
	}{
		{&w.report, reportSize},
		{&w.setup, hal.SetupPacketSize},
		{&w.status, 2},
		{&w.bulkOut, w.cfg.BulkSize},
		{&w.bulkIn, w.cfg.BulkSize},
		{&w.garbage, 8},
	} {
		if *b.dst, err = w.alloc(b.size); err != nil {
			return err
		}
	}

	w.keyboard = sim.NewInterrupt()
	w.loopback = sim.NewLoopback()
	if err := w.ctl.Attach(keyboardAddr, w.keyboard); err != nil {
		return err
	}
	if err := w.ctl.Attach(loopbackAddr, w.loopback); err != nil {
		return err
	}
	if w.cfg.Stall {
		if err := w.ctl.Attach(stallAddr, sim.Faulty{Code: hal.CodeStall}); err != nil {
			return err
		}
	}

	if err := w.host.Schedule(host.Request{
		Address:   keyboardAddr,
		Speed:     hal.SpeedLow,
		Endpoint:  1,
		MaxPacket: reportSize,
		Period:    w.cfg.PollPeriod,
		Xacts:     []host.Xact{{Type: hal.XactInterrupt, Buf: w.report, Len: reportSize}},
		Completer: host.CompleterFunc(w.onReport),
		Token:     "keyboard",
	}); err != nil {
		return fmt.Errorf("schedule interrupt poll: %w", err)
	}

	if w.cfg.ControlCycles > 0 {
		// GET_STATUS: 2-byte data stage, zero-length status stage.
		setup := hal.SetupPacket{RequestType: 0x80, Request: 0x00, Length: 2}
		setup.MarshalTo(w.setup.Bytes())
		if err := w.host.Schedule(host.Request{
			Address:   loopbackAddr,
			Speed:     hal.SpeedFull,
			Endpoint:  0,
			MaxPacket: 64,
			Xacts: []host.Xact{
				{Type: hal.XactSetup, Buf: w.setup, Len: hal.SetupPacketSize},
				{Type: hal.XactIn, Buf: w.status, Len: 2},
				{Type: hal.XactOut},
			},
			Completer: host.CompleterFunc(w.onControl),
			Token:     "control",
		}); err != nil {
			return fmt.Errorf("schedule control: %w", err)
		}
	} else if err := w.host.Schedule(w.bulkRequest()); err != nil {
		return fmt.Errorf("schedule bulk: %w", err)
	}

	if w.cfg.Stall {
		if err := w.host.Schedule(host.Request{
			Address:   stallAddr,
			Speed:     hal.SpeedFull,
			Endpoint:  1,
			MaxPacket: 8,
			Xacts:     []host.Xact{{Type: hal.XactOut, Buf: w.garbage, Len: 8}},
			Completer: host.CompleterFunc(w.onStall),
			Token:     "stall",
		}); err != nil {
			return fmt.Errorf("schedule stall probe: %w", err)
		}
	}
	return nil
}

func (w *workload) bulkRequest() host.Request {
	w.pattern(0)
	return host.Request{
		Address:   loopbackAddr,
		Speed:     hal.SpeedFull,
		Endpoint:  2,
		MaxPacket: 64,
		Xacts: []host.Xact{
			{Type: hal.XactOut, Buf: w.bulkOut, Len: w.cfg.BulkSize},
			{Type: hal.XactIn, Buf: w.bulkIn, Len: w.cfg.BulkSize},
		},
		Completer: host.CompleterFunc(w.onBulk),
		Token:     "bulk",
	}
}

// pattern fills the bulk OUT buffer with data distinct per cycle.
func (w *workload) pattern(cycle uint64) {
	out := w.bulkOut.Bytes()[:w.cfg.BulkSize]
	for i := range out {
		out[i] = byte(uint64(i) + cycle)
	}
}

func (w *workload) onReport(c *host.Completion) bool {
	switch c.Status {
	case pkg.StatusSuccess:
		w.sum.Reports++
		w.log.Debug("report", "frame", c.Frame, "cycle", c.Cycle,
			"key", w.report.Bytes()[2], "bytes", c.Actual(0))
		return true
	case pkg.StatusCancelled:
		w.log.Info("interrupt device gone", "address", c.Address, "error", c.Err())
		return false
	case pkg.StatusError:
		w.log.Warn("poll failed", "address", c.Address, "error", c.Err())
		return true
	default:
		w.log.Error("poll aborted", "address", c.Address, "status", c.Status)
		return false
	}
}

func (w *workload) onControl(c *host.Completion) bool {
	if c.Status != pkg.StatusSuccess {
		w.log.Warn("control transfer failed", "cycle", c.Cycle, "error", c.Err())
		return false
	}
	w.sum.ControlCycles++
	w.log.Debug("control transfer", "cycle", c.Cycle, "data", c.Actual(1))
	if c.Cycle < uint64(w.cfg.ControlCycles) {
		return true
	}
	if err := c.Schedule(w.bulkRequest()); err != nil {
		w.log.Error("schedule bulk", "error", err)
	}
	return false
}

func (w *workload) onBulk(c *host.Completion) bool {
	if c.Status != pkg.StatusSuccess {
		w.log.Warn("bulk transfer failed", "cycle", c.Cycle, "error", c.Err())
		return false
	}
	sent := w.bulkOut.Bytes()[:c.Actual(0)]
	echo := w.bulkIn.Bytes()[:c.Actual(1)]
	w.sum.BulkCycles++
	w.sum.BulkBytes += len(sent) + len(echo)
	if !bytes.Equal(sent, echo) {
		w.sum.Mismatches++
		w.log.Error("bulk echo mismatch", "cycle", c.Cycle, "sent", len(sent), "received", len(echo))
	}
	w.pattern(c.Cycle)
	return true
}

func (w *workload) onStall(c *host.Completion) bool {
	if c.Status == pkg.StatusError {
		w.sum.Stalls++
	}
	w.log.Warn("device stalled", "address", c.Address, "endpoint", c.Endpoint, "error", c.Err())
	return false
}

// feed queues keyboard reports every ReportEvery frames.
func (w *workload) feed(ctx context.Context) error {
	t := time.NewTicker(time.Duration(w.cfg.ReportEvery) * w.cfg.Frame)
	defer t.Stop()
	key := byte(0x04) // HID usage 'a'
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			w.keyboard.Push([]byte{0, 0, key, 0, 0, 0, 0, 0})
			w.sum.Pushed++
			if key++; key > 0x1d {
				key = 0x04
			}
		}
	}
}

// disconnect unplugs the keyboard after DisconnectAfter and withdraws its
// entries.
func (w *workload) disconnect(ctx context.Context) error {
	t := time.NewTimer(w.cfg.DisconnectAfter)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return nil
	case <-t.C:
	}
	w.ctl.Detach(keyboardAddr)
	n := w.host.Cancel(keyboardAddr)
	w.sum.Disconnected = true
	w.sum.Remaining = w.host.Pending(keyboardAddr)
	w.log.Info("device disconnected", "address", keyboardAddr, "cancelled", n)
	return nil
}
