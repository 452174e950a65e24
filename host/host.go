package host

import (
	"slices"
	"sync"

	"github.com/emirpasic/gods/queues/linkedlistqueue"
	"github.com/emirpasic/gods/queues/priorityqueue"

	"github.com/ardnew/usbhcd/host/hal"
	"github.com/ardnew/usbhcd/pkg"
)

// Stats counts scheduling activity since initialization.
type Stats struct {
	Submitted  uint64 // Requests admitted
	Dispatched uint64 // Entries programmed onto a channel
	Completed  uint64 // Callbacks invoked
	Rearmed    uint64 // Callbacks that asked to rearm
	Idle       uint64 // Periodic polls that returned no data
	Retired    uint64 // Entries retired after their callback
	Cancelled  uint64 // Entries withdrawn by Cancel or Close
	Stray      uint64 // Events for channels with no dispatched entry
	Interrupts uint64 // HandleInterrupt calls
}

// Host is the scheduling core of one host controller instance.
//
// All state lives under a single lock taken by [Host.Schedule],
// [Host.Cancel], [Host.HandleInterrupt] and [Host.Close]. Completer
// callbacks run with that lock held, so a callback for an entry can never
// race with the cancellation of that entry.
type Host struct {
	id   hal.ControllerID
	hc   hal.Controller
	dma  hal.DMAAllocator
	irqs []int

	mu       sync.Mutex
	closed   bool
	table    []*entry // indexed by slot
	active   map[endpointKey]*entry
	channels []*entry // indexed by hardware channel
	periodic *priorityqueue.Queue
	async    *linkedlistqueue.Queue
	deferred []*entry // failed to program, completed by the next interrupt
	events   []hal.Event
	done     []*entry
	seq      uint64
	stats    Stats
}

// Init brings up a controller of family id and returns its host context.
// io may be nil for families that do not use memory-mapped registers.
// dma is recorded for the caller; the host never allocates from it.
func Init(id hal.ControllerID, io hal.IO, dma hal.DMAAllocator) (*Host, error) {
	c, err := hal.Open(id, io, dma)
	if err != nil {
		pkg.LogWarn(pkg.ComponentHost, "controller init failed", "family", id, "error", err)
		return nil, err
	}
	h := New(c, dma)
	h.id = id
	return h, nil
}

// New wraps an already open controller.
func New(c hal.Controller, dma hal.DMAAllocator) *Host {
	h := &Host{
		hc:       c,
		dma:      dma,
		irqs:     slices.Clone(c.IRQs()),
		table:    make([]*entry, max(c.Slots(), 0)),
		active:   make(map[endpointKey]*entry),
		channels: make([]*entry, max(c.Channels(), 0)),
		periodic: priorityqueue.NewWith(comparePeriodic),
		async:    linkedlistqueue.New(),
	}
	pkg.LogInfo(pkg.ComponentHost, "host initialized",
		"slots", len(h.table), "channels", len(h.channels), "irqs", h.irqs)
	return h
}

// ID returns the controller family, or "" if the host was built with New.
func (h *Host) ID() hal.ControllerID { return h.id }

// Controller returns the underlying controller.
func (h *Host) Controller() hal.Controller { return h.hc }

// DMA returns the allocator passed at initialization.
func (h *Host) DMA() hal.DMAAllocator { return h.dma }

// IRQs returns the interrupt lines the caller must route to
// [Host.HandleInterrupt].
func (h *Host) IRQs() []int {
	return slices.Clone(h.irqs)
}

// Stats returns a snapshot of the activity counters.
func (h *Host) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stats
}

// Pending returns the number of live entries for addr.
func (h *Host) Pending(addr uint8) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, e := range h.table {
		if e != nil && e.req.Address == addr {
			n++
		}
	}
	return n
}

// Close cancels every entry without callbacks and closes the controller.
// Later calls to Schedule fail with [pkg.ErrNotRunning].
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	n := 0
	for _, e := range h.table {
		if e != nil {
			h.withdraw(e)
			n++
		}
	}
	h.closed = true
	h.periodic.Clear()
	h.async.Clear()
	clear(h.deferred)
	h.deferred = h.deferred[:0]
	pkg.LogInfo(pkg.ComponentHost, "host closed", "cancelled", n)
	return h.hc.Close()
}

// release frees the slot and endpoint of e.
func (h *Host) release(e *entry) {
	if h.table[e.slot] == e {
		h.table[e.slot] = nil
	}
	if h.active[e.key()] == e {
		delete(h.active, e.key())
	}
}
