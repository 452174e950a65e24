package host

import (
	"github.com/ardnew/usbhcd/host/hal"
	"github.com/ardnew/usbhcd/pkg"
)

// entry is one slot of the schedule.
type entry struct {
	slot      int
	req       hal.Request // Xacts copied at admission
	completer Completer
	token     any

	state    entryState
	status   []pkg.Status // per transaction, reset on each dispatch
	actual   []int
	channel  int    // -1 unless dispatched
	deadline uint64 // earliest dispatch frame of a periodic entry
	seq      uint64 // admission order, ties between equal deadlines
	cycles   uint64
}

func newEntry(slot int, r *Request) *entry {
	e := &entry{
		slot: slot,
		req: hal.Request{
			Address:    r.Address,
			HubAddress: r.HubAddress,
			HubPort:    r.HubPort,
			Speed:      r.Speed,
			Endpoint:   r.Endpoint,
			MaxPacket:  r.MaxPacket,
			Period:     r.Period,
			Xacts:      append([]hal.Xact(nil), r.Xacts...),
		},
		completer: r.Completer,
		token:     r.Token,
		state:     stateScheduled,
		status:    make([]pkg.Status, len(r.Xacts)),
		actual:    make([]int, len(r.Xacts)),
		channel:   -1,
	}
	e.reset()
	return e
}

func (e *entry) key() endpointKey {
	return endpointKey{e.req.Address, e.req.Endpoint}
}

// reset marks every transaction pending.
func (e *entry) reset() {
	for i := range e.status {
		e.status[i] = pkg.StatusPending
		e.actual[i] = 0
	}
}

// fail marks every transaction not yet terminal with st.
func (e *entry) fail(st pkg.Status) {
	for i, s := range e.status {
		if !s.Terminal() {
			e.status[i] = st
		}
	}
}

// done reports whether every transaction is terminal.
func (e *entry) done() bool {
	for _, s := range e.status {
		if !s.Terminal() {
			return false
		}
	}
	return true
}

// aggregate returns the first non-success status in transaction order.
func (e *entry) aggregate() pkg.Status {
	for _, s := range e.status {
		if s != pkg.StatusSuccess {
			return s
		}
	}
	return pkg.StatusSuccess
}

// nextDeadline returns the first period boundary after last that is not
// before now. Boundaries missed while the entry waited are skipped.
func nextDeadline(last, period, now uint64) uint64 {
	next := last + period
	if next < now {
		next += (now - next + period - 1) / period * period
	}
	return next
}

// firstDeadline returns the first period boundary after now.
func firstDeadline(now, period uint64) uint64 {
	return (now/period + 1) * period
}

// comparePeriodic orders periodic entries by deadline, then admission.
func comparePeriodic(a, b any) int {
	x, y := a.(*entry), b.(*entry)
	switch {
	case x.deadline < y.deadline:
		return -1
	case x.deadline > y.deadline:
		return 1
	case x.seq < y.seq:
		return -1
	case x.seq > y.seq:
		return 1
	default:
		return 0
	}
}
