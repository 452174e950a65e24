// Package host implements the transaction scheduling core of a USB host
// controller driver.
//
// It is platform-agnostic and reaches hardware only through the
// [hal.Controller] contract defined in github.com/ardnew/usbhcd/host/hal.
// Upper layers (enumeration, class drivers) submit requests; the core
// multiplexes them onto the controller's channels and reports each outcome
// through a callback driven by the controller interrupt.
//
// # Architecture
//
//   - [Host] is the host context: controller, borrowed DMA allocator, IRQ
//     list and the private scheduling table
//   - [Host.Schedule] validates a [Request] and admits it as a schedule entry
//   - [Host.HandleInterrupt] resolves completion events into per-transaction
//     statuses and invokes each finished entry's [Completer]
//   - [Host.Cancel] withdraws every entry of a device address
//
// # Entries
//
// An entry is a chain of transactions to one endpoint. At most one live
// entry exists per device address and endpoint. Periodic entries
// (Period > 0) are dispatched at period boundaries ahead of aperiodic ones;
// aperiodic entries run in submission order on whatever channels remain.
// A periodic poll the device NAKs gives its channel back and waits for the
// next boundary without a callback.
//
// The Completer decides what happens after each cycle: returning true
// rearms the entry, returning false retires it. Buffers belong to the
// caller again once the entry is retired or cancelled.
//
// # Callbacks
//
// Completers run inside [Host.HandleInterrupt] with the scheduling lock
// held. That is what makes [Host.Cancel] final: once it returns, no callback
// for the cancelled entries can run. Within a callback, use
// [Completion.Schedule] and [Completion.Cancel] instead of the Host methods.
//
// # Example
//
//	h, err := host.Init(sim.ID, nil, arena)
//	if err != nil {
//	    return err
//	}
//	defer h.Close()
//
//	router.Attach(h.IRQs(), h)
//
//	err = h.Schedule(host.Request{
//	    Address:   2,
//	    Speed:     hal.SpeedLow,
//	    Endpoint:  1,
//	    MaxPacket: 8,
//	    Period:    10,
//	    Xacts:     []host.Xact{{Type: hal.XactInterrupt, Buf: report, Len: 8}},
//	    Completer: host.CompleterFunc(func(c *host.Completion) bool {
//	        if c.Status == pkg.StatusSuccess {
//	            handle(report.Bytes()[:c.Actual(0)])
//	        }
//	        return true
//	    }),
//	})
//
// A software controller for tests and simulation is available in
// [github.com/ardnew/usbhcd/host/hal/sim].
package host
