package host

import (
	"fmt"

	"github.com/ardnew/usbhcd/pkg"
)

// Schedule admits r into the schedule. It returns once the entry is queued;
// the outcome is delivered later through r.Completer.
//
// Admission fails without side effects if r is malformed, if another live
// entry targets the same device and endpoint, or if no slot is free.
func (h *Host) Schedule(r Request) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.scheduleLocked(r)
}

func (h *Host) scheduleLocked(r Request) error {
	if h.closed {
		return pkg.ErrNotRunning
	}
	if err := r.validate(); err != nil {
		return err
	}
	if len(r.Xacts) > h.hc.MaxXacts() {
		return fmt.Errorf("%w: %d transactions, controller takes %d",
			pkg.ErrResourceExhausted, len(r.Xacts), h.hc.MaxXacts())
	}
	if _, dup := h.active[r.key()]; dup {
		return fmt.Errorf("%w: address %d endpoint %d",
			pkg.ErrDuplicateEndpoint, r.Address, r.Endpoint)
	}
	slot := -1
	for i, e := range h.table {
		if e == nil {
			slot = i
			break
		}
	}
	if slot < 0 {
		return fmt.Errorf("%w: all %d slots in use", pkg.ErrResourceExhausted, len(h.table))
	}

	e := newEntry(slot, &r)
	h.table[slot] = e
	h.active[e.key()] = e
	h.stats.Submitted++

	now := h.hc.Frame()
	if e.req.Periodic() {
		e.deadline = firstDeadline(now, uint64(e.req.Period))
	}
	h.enqueue(e)

	pkg.LogDebug(pkg.ComponentScheduler, "entry admitted",
		"slot", slot, "address", r.Address, "endpoint", r.Endpoint,
		"period", r.Period, "xacts", len(r.Xacts), "deadline", e.deadline)

	h.dispatch(now)
	return nil
}

// enqueue places a Scheduled entry on its queue.
func (h *Host) enqueue(e *entry) {
	h.seq++
	e.seq = h.seq
	if e.req.Periodic() {
		h.periodic.Enqueue(e)
	} else {
		h.async.Enqueue(e)
	}
}

// dispatch programs due entries onto free channels. Periodic entries whose
// deadline has arrived go first, in deadline order; aperiodic entries fill
// the remaining channels in FIFO order.
func (h *Host) dispatch(now uint64) {
	for ch := range h.channels {
		if h.channels[ch] != nil {
			continue
		}
		e := h.next(now)
		if e == nil {
			return
		}
		h.program(ch, e, now)
	}
}

// next dequeues the entry to run next, skipping entries that left the
// Scheduled state while queued.
func (h *Host) next(now uint64) *entry {
	for {
		v, ok := h.periodic.Peek()
		if !ok {
			break
		}
		e := v.(*entry)
		if e.state != stateScheduled {
			h.periodic.Dequeue()
			continue
		}
		if e.deadline > now {
			break
		}
		h.periodic.Dequeue()
		return e
	}
	for {
		v, ok := h.async.Dequeue()
		if !ok {
			return nil
		}
		if e := v.(*entry); e.state == stateScheduled {
			return e
		}
	}
}

func (h *Host) program(ch int, e *entry, now uint64) {
	e.state = stateDispatched
	e.channel = ch
	e.reset()
	h.channels[ch] = e
	h.stats.Dispatched++

	if err := h.hc.Program(ch, &e.req); err != nil {
		pkg.LogWarn(pkg.ComponentScheduler, "program failed",
			"channel", ch, "slot", e.slot, "address", e.req.Address, "error", err)
		h.hc.Halt(ch)
		e.fail(pkg.StatusHostError)
		h.settle(e)
		h.deferred = append(h.deferred, e)
		return
	}
	pkg.LogTrace(pkg.ComponentScheduler, "entry dispatched",
		"channel", ch, "slot", e.slot, "frame", now, "deadline", e.deadline)
}
