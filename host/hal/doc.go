// Package hal defines the collaborator contracts of the host controller core.
//
// The core schedules USB transactions; everything that touches hardware sits
// behind the interfaces in this package:
//
//   - [Controller] is one host controller instance of a given family. It
//     programs transaction chains onto hardware channels, halts them, reports
//     completion [Event]s, and exposes its IRQ lines and frame clock.
//   - [IO] is the register access capability for memory-mapped controllers.
//   - [DMABuffer] and [DMAAllocator] describe physically addressable memory.
//     The core borrows buffers; it never allocates or frees them.
//
// # Controller Families
//
// A family registers a [Factory] under a [ControllerID] from its package
// init. The core selects the family at initialization through [Open]:
//
//	import _ "github.com/ardnew/usbhcd/host/hal/sim"
//
//	c, err := hal.Open("sim", nil, arena)
//
// Available families in this module:
//   - "sim": a software controller with attachable device models,
//     [github.com/ardnew/usbhcd/host/hal/sim]
//   - "otg": a register-level host-channel controller driven through [IO],
//     [github.com/ardnew/usbhcd/host/hal/otg]
//
// # Implementing a Family
//
//  1. Implement every [Controller] method
//  2. Report events in transaction order and stop a chain at its first
//     failure
//  3. Make [Controller.Halt] final: no buffer access and no events for the
//     halted request afterwards
//  4. Register a [Factory] from init
package hal
