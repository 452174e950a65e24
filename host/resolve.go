package host

import (
	"slices"

	"github.com/ardnew/usbhcd/host/hal"
	"github.com/ardnew/usbhcd/pkg"
)

// HandleInterrupt services the controller interrupt. It collects completion
// events, resolves them into per-transaction statuses, invokes the Completer
// of every entry whose transactions are all terminal, and refills free
// channels.
//
// Route every line returned by [Host.IRQs] here. Calls are serialized with
// each other and with Schedule and Cancel.
func (h *Host) HandleInterrupt() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.stats.Interrupts++

	h.events = h.hc.Reap(h.events[:0])
	now := h.hc.Frame()

	done := append(h.done[:0], h.deferred...)
	clear(h.deferred)
	h.deferred = h.deferred[:0]
	for _, ev := range h.events {
		if e := h.resolve(ev, now); e != nil {
			done = append(done, e)
		}
	}
	for _, e := range done {
		// A callback earlier in this pass may have cancelled e.
		if e.state == stateCompleting {
			h.complete(e, now)
		}
	}
	clear(done)
	h.done = done[:0]

	if !h.closed {
		h.dispatch(now)
	}
}

// resolve applies one event. It returns the entry if the event made all of
// its transactions terminal.
func (h *Host) resolve(ev hal.Event, now uint64) *entry {
	if ev.Channel < 0 || ev.Channel >= len(h.channels) || h.channels[ev.Channel] == nil {
		h.stats.Stray++
		pkg.LogTrace(pkg.ComponentResolver, "stray event", "channel", ev.Channel, "code", ev.Code)
		return nil
	}
	e := h.channels[ev.Channel]

	if ev.Index < 0 || ev.Index >= len(e.status) {
		pkg.LogWarn(pkg.ComponentResolver, "event for unknown transaction",
			"channel", ev.Channel, "index", ev.Index, "xacts", len(e.status))
		h.hc.Halt(ev.Channel)
		e.fail(pkg.StatusHostError)
		return h.settle(e)
	}
	if e.status[ev.Index].Terminal() {
		return nil
	}
	if ev.Code == hal.CodeNoData && e.req.Periodic() {
		h.idle(ev.Channel, e, now)
		return nil
	}

	st := classify(&e.req.Xacts[ev.Index], ev)
	if st == pkg.StatusPending {
		return nil
	}
	e.status[ev.Index] = st
	e.actual[ev.Index] = max(ev.Actual, 0)
	pkg.LogTrace(pkg.ComponentResolver, "transaction resolved",
		"channel", ev.Channel, "slot", e.slot, "index", ev.Index,
		"code", ev.Code, "actual", ev.Actual, "status", st)

	if st != pkg.StatusSuccess {
		// The controller stopped the chain; nothing after it will run.
		h.hc.Halt(ev.Channel)
		e.fail(pkg.StatusCancelled)
	}
	if !e.done() {
		return nil
	}
	return h.settle(e)
}

// idle puts a periodic entry whose poll found nothing back in the queue for
// its next interval. Its Completer is not invoked.
func (h *Host) idle(ch int, e *entry, now uint64) {
	h.hc.Halt(ch)
	h.channels[ch] = nil
	h.stats.Idle++
	e.channel = -1
	e.reset()
	e.state = stateScheduled
	e.deadline = nextDeadline(e.deadline, uint64(e.req.Period), now)
	h.enqueue(e)
	pkg.LogTrace(pkg.ComponentResolver, "poll idle",
		"channel", ch, "slot", e.slot, "deadline", e.deadline)
}

// classify turns an event into a transaction status. A successful
// transaction must not move more than requested, and OUT or SETUP must move
// exactly what was requested. A short IN is a success.
func classify(x *hal.Xact, ev hal.Event) pkg.Status {
	st := ev.Code.Status()
	if st != pkg.StatusSuccess {
		return st
	}
	switch {
	case ev.Actual < 0 || ev.Actual > x.Len:
		return pkg.StatusError
	case !x.Type.IsIn() && ev.Actual != x.Len:
		return pkg.StatusError
	}
	return pkg.StatusSuccess
}

// settle takes e off its channel once all its transactions are terminal.
func (h *Host) settle(e *entry) *entry {
	if e.channel >= 0 && h.channels[e.channel] == e {
		h.channels[e.channel] = nil
	}
	e.channel = -1
	e.state = stateCompleting
	return e
}

// complete invokes the Completer of e and applies its verdict.
func (h *Host) complete(e *entry, now uint64) {
	e.cycles++
	c := &Completion{
		Status:   e.aggregate(),
		Token:    e.token,
		Address:  e.req.Address,
		Endpoint: e.req.Endpoint,
		Frame:    now,
		Cycle:    e.cycles,
		statuses: slices.Clone(e.status),
		actual:   slices.Clone(e.actual),
		host:     h,
	}
	h.stats.Completed++

	rearm := e.completer.Complete(c)
	c.host = nil

	switch {
	case e.state == stateCancelled:
		pkg.LogDebug(pkg.ComponentResolver, "entry cancelled by its callback",
			"slot", e.slot, "address", e.req.Address, "endpoint", e.req.Endpoint)
	case rearm && !h.closed:
		h.stats.Rearmed++
		e.state = stateScheduled
		if e.req.Periodic() {
			e.deadline = nextDeadline(e.deadline, uint64(e.req.Period), now)
		}
		h.enqueue(e)
	default:
		h.stats.Retired++
		e.state = stateRetired
		h.release(e)
		pkg.LogDebug(pkg.ComponentResolver, "entry retired",
			"slot", e.slot, "address", e.req.Address, "endpoint", e.req.Endpoint,
			"status", c.Status, "cycles", e.cycles)
	}
}
