// Package otg drives a host-channel USB OTG core through its memory-mapped
// register file.
//
// The core exposes a number of host channels, read from its hardware
// configuration register. Each channel executes one transaction at a time
// using internal DMA; the controller sequences the transactions of a chain,
// tracks data toggles per endpoint, retries NAKed aperiodic transactions up
// to [Config.NAKLimit] and routes low- and full-speed devices behind a
// high-speed hub through split transactions. A NAKed interrupt poll gives
// its channel back at once with [hal.CodeNoData].
//
// Frame numbers are always reported in 1 ms frames. When the root port runs
// at high speed the core counts microframes and the controller divides.
//
// Register access goes through [hal.IO], so the same code runs against a
// /dev/mem mapping ([github.com/ardnew/usbhcd/host/hal/mmio.Map]) or an
// in-memory register block in tests.
//
//	regs, err := mmio.Map(mmio.DevMem, 0x3f980000, 0x1000)
//	h, err := host.Init(otg.ID, regs, arena)
package otg
