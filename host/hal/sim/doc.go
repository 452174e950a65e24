// Package sim provides a software host controller family for tests and
// simulation.
//
// The controller executes programmed transaction chains against attached
// device models once per frame. Nothing runs between frames: a chain
// programmed during frame N executes when frame N+1 starts, and every frame
// start asserts the controller's interrupt line, the way a start-of-frame
// interrupt would on real hardware.
//
// # Usage
//
//	import _ "github.com/ardnew/usbhcd/host/hal/sim"
//
//	h, err := host.Init(sim.ID, nil, arena)
//	c := h.Controller().(*sim.Controller)
//	c.Attach(2, sim.NewInterrupt())
//
//	ctx, cancel := context.WithCancel(context.Background())
//	go c.Run(ctx, time.Millisecond, func(int) { h.HandleInterrupt() })
//
// # Device Models
//
//   - [Loopback] echoes OUT data back on IN, per endpoint
//   - [Interrupt] returns queued reports and NAKs when none are queued
//   - [Faulty] fails every transaction with a fixed code
//   - [DeviceFunc] adapts a plain function
//
// A NAK stalls an aperiodic chain until the next frame, up to
// [Config.NAKLimit]. A periodic chain that is NAKed ends at once with
// [hal.CodeNoData] and frees its channel.
//
// Detaching a device reports [hal.CodeDisconnected] for the transaction in
// progress on any of its chains, and for chains programmed to that address
// afterwards until a device is attached there again.
package sim
