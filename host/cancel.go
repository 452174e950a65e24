package host

import (
	"github.com/ardnew/usbhcd/pkg"
)

// Cancel withdraws every live entry addressed to addr and returns how many
// it withdrew. Dispatched entries are halted on the controller first.
//
// No callback runs for a cancelled entry after Cancel returns. An entry
// whose callback is already running when Cancel is called cannot exist,
// since callbacks hold the same lock.
func (h *Host) Cancel(addr uint8) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := h.cancelLocked(addr)
	if n > 0 && !h.closed {
		h.dispatch(h.hc.Frame())
	}
	return n
}

func (h *Host) cancelLocked(addr uint8) int {
	n := 0
	periodic := false
	for _, e := range h.table {
		if e == nil || e.req.Address != addr || !e.state.live() {
			continue
		}
		if e.state == stateScheduled && e.req.Periodic() {
			periodic = true
		}
		h.withdraw(e)
		n++
	}
	if periodic {
		h.compact()
	}
	if n > 0 {
		pkg.LogDebug(pkg.ComponentCancel, "entries cancelled", "address", addr, "count", n)
	}
	return n
}

// withdraw cancels one live entry and frees its slot.
func (h *Host) withdraw(e *entry) {
	if e.state == stateDispatched {
		h.hc.Halt(e.channel)
		h.channels[e.channel] = nil
		e.channel = -1
	}
	e.state = stateCancelled
	h.release(e)
	h.stats.Cancelled++
}

// compact drops cancelled entries from the periodic queue so they do not
// hold its head.
func (h *Host) compact() {
	vals := h.periodic.Values()
	h.periodic.Clear()
	for _, v := range vals {
		if v.(*entry).state == stateScheduled {
			h.periodic.Enqueue(v)
		}
	}
}
