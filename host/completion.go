package host

import (
	"github.com/ardnew/usbhcd/pkg"
)

// Completer receives the outcome of a schedule entry.
//
// Complete is called exactly once per completion cycle, with the host's
// scheduling lock held. Returning true rearms the entry: a periodic entry
// runs again at its next period boundary, an aperiodic one goes to the back
// of the queue. Returning false retires it and frees its slot.
//
// Complete must not call [Host.Schedule], [Host.Cancel] or [Host.Close];
// use [Completion.Schedule] and [Completion.Cancel] instead.
type Completer interface {
	Complete(c *Completion) bool
}

// CompleterFunc adapts a function to the Completer interface.
type CompleterFunc func(c *Completion) bool

// Complete calls f.
func (f CompleterFunc) Complete(c *Completion) bool { return f(c) }

// Completion reports one completion cycle of an entry. It is only valid
// during the Complete call it is passed to.
type Completion struct {
	Status   pkg.Status // First non-success transaction status, or success
	Token    any        // Request.Token
	Address  uint8      // Request.Address
	Endpoint uint8      // Request.Endpoint
	Frame    uint64     // Frame the interrupt was handled in
	Cycle    uint64     // Completion cycles of this entry, counting from 1

	statuses []pkg.Status
	actual   []int
	host     *Host
}

// Len returns the number of transactions in the entry.
func (c *Completion) Len() int { return len(c.statuses) }

// XactStatus returns the status of transaction i.
func (c *Completion) XactStatus(i int) pkg.Status { return c.statuses[i] }

// Actual returns the number of bytes transaction i moved.
func (c *Completion) Actual(i int) int { return c.actual[i] }

// Err returns the error for Status, or nil on success.
func (c *Completion) Err() error { return c.Status.Err() }

// Cancel withdraws every entry of addr, this one included. Cancelling the
// completing entry retires it regardless of the value Complete returns.
func (c *Completion) Cancel(addr uint8) int {
	if c.host == nil {
		return 0
	}
	return c.host.cancelLocked(addr)
}

// Schedule admits r from within a callback.
func (c *Completion) Schedule(r Request) error {
	if c.host == nil {
		return pkg.ErrNotRunning
	}
	return c.host.scheduleLocked(r)
}
