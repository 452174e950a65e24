package otg

import (
	"fmt"

	"github.com/ardnew/usbhcd/host/hal"
	"github.com/ardnew/usbhcd/pkg"
)

// ID is the controller family name of the host-channel OTG core.
const ID hal.ControllerID = "otg"

// Config holds the settings the register file does not describe.
type Config struct {
	Slots    int // Schedule capacity
	MaxXacts int // Longest chain per channel
	IRQ      int // Interrupt line of the core

	// NAKLimit is the number of NAKs tolerated on one aperiodic transaction
	// before it fails with [hal.CodeNAK]. Zero retries forever. A NAKed
	// interrupt poll is never retried; it ends with [hal.CodeNoData].
	NAKLimit int
}

// DefaultConfig is used by the registered factory.
var DefaultConfig = Config{
	Slots:    64,
	MaxXacts: 8,
	IRQ:      53,
	NAKLimit: 3,
}

func init() {
	hal.Register(ID, func(io hal.IO, dma hal.DMAAllocator) (hal.Controller, error) {
		c, err := New(io, DefaultConfig)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
}

type toggleKey struct {
	addr, ep uint8
	in       bool
}

// channel tracks the chain programmed on one host channel.
type channel struct {
	req  *hal.Request
	next int // transaction currently on the wire
	naks int
}

// Controller drives a host-channel OTG core through its register file.
//
// Transaction chains are sequenced in software: each channel carries one
// transaction at a time and the next is started from [Controller.Reap]
// when the previous one completes.
type Controller struct {
	io  hal.IO
	cfg Config

	channels []channel
	toggles  map[toggleKey]uint32

	frame   uint64 // extended frame counter, 1 ms units
	micro   uint64 // microframes not yet folded into frame
	lastHFN uint32 // HFNUM at the previous sample
	closed  bool
}

var _ hal.Controller = (*Controller)(nil)

// New probes the core behind io and brings it up in host DMA mode.
func New(io hal.IO, cfg Config) (*Controller, error) {
	if io == nil {
		return nil, fmt.Errorf("%w: otg requires register access", pkg.ErrInvalidParameter)
	}
	if cfg.Slots <= 0 || cfg.MaxXacts <= 0 || cfg.IRQ < 0 || cfg.NAKLimit < 0 {
		return nil, fmt.Errorf("%w: otg config %+v", pkg.ErrInvalidParameter, cfg)
	}
	if id := io.Read32(regGSNPSID); id>>16 != coreID {
		return nil, fmt.Errorf("%w: core id %#08x", pkg.ErrUnsupportedController, id)
	}

	n := int((io.Read32(regGHWCFG2)>>ghwcfg2NumHstChnlShift)&ghwcfg2NumHstChnlMask) + 1
	c := &Controller{
		io:       io,
		cfg:      cfg,
		channels: make([]channel, n),
		toggles:  make(map[toggleKey]uint32),
	}
	c.lastHFN = io.Read32(regHFNUM) & hfnumFrameMask
	c.frame = uint64(c.lastHFN)
	if c.highSpeed() {
		c.frame, c.micro = uint64(c.lastHFN)/8, uint64(c.lastHFN)%8
	}

	io.Write32(regGINTSTS, 0xffffffff)
	io.Write32(regHAINTMSK, 0)
	io.Write32(regGINTMSK, gintSOF|gintHCInt)
	io.Write32(regGAHBCFG, gahbcfgDMAEn|gahbcfgGlblIntrMsk)

	pkg.LogDebug(pkg.ComponentHAL, "otg core up", "channels", n, "irq", cfg.IRQ)
	return c, nil
}

// Slots implements hal.Controller.
func (c *Controller) Slots() int { return c.cfg.Slots }

// Channels implements hal.Controller.
func (c *Controller) Channels() int { return len(c.channels) }

// MaxXacts implements hal.Controller.
func (c *Controller) MaxXacts() int { return c.cfg.MaxXacts }

// IRQs implements hal.Controller.
func (c *Controller) IRQs() []int { return []int{c.cfg.IRQ} }

// Frame implements hal.Controller. The 14-bit hardware frame number is
// extended to 64 bits; it must be sampled at least once per wrap. With a
// high-speed root port HFNUM counts 125 us microframes, which are folded
// eight to a frame.
func (c *Controller) Frame() uint64 {
	hfn := c.io.Read32(regHFNUM) & hfnumFrameMask
	delta := uint64((hfn - c.lastHFN) & hfnumFrameMask)
	c.lastHFN = hfn
	if !c.highSpeed() {
		c.frame += delta
		return c.frame
	}
	c.micro += delta
	c.frame += c.micro / 8
	c.micro %= 8
	return c.frame
}

// highSpeed reports whether the root port is enabled at high speed.
func (c *Controller) highSpeed() bool {
	hprt := c.io.Read32(regHPRT)
	return hprt&hprtPrtEna != 0 && (hprt>>hprtPrtSpdShift)&hprtPrtSpdMask == hprtSpdHigh
}

// Program implements hal.Controller.
func (c *Controller) Program(ch int, r *hal.Request) error {
	switch {
	case c.closed:
		return pkg.ErrNotRunning
	case ch < 0 || ch >= len(c.channels):
		return fmt.Errorf("%w: channel %d", pkg.ErrInvalidParameter, ch)
	case c.channels[ch].req != nil:
		return fmt.Errorf("%w: channel %d", pkg.ErrBusy, ch)
	case len(r.Xacts) == 0 || len(r.Xacts) > c.cfg.MaxXacts:
		return fmt.Errorf("%w: %d transactions", pkg.ErrResourceExhausted, len(r.Xacts))
	}
	c.channels[ch] = channel{req: r}
	c.io.Write32(regHAINTMSK, c.io.Read32(regHAINTMSK)|1<<ch)
	c.start(ch)
	return nil
}

// start puts the current transaction of ch on the wire.
func (c *Controller) start(ch int) {
	st := &c.channels[ch]
	r := st.req
	x := &r.Xacts[st.next]
	in := x.Type.IsIn()

	var pid uint32
	if x.Type == hal.XactSetup {
		pid = pidSetup
	} else {
		pid = c.toggles[toggleKey{r.Address, r.Endpoint, in}]
	}

	pkts := (x.Len + int(r.MaxPacket) - 1) / max(int(r.MaxPacket), 1)
	if pkts == 0 {
		pkts = 1
	}
	var phys uint32
	if x.Buf != nil {
		phys = uint32(x.Buf.Phys())
	}

	var split uint32
	if r.HubAddress != 0 && r.Speed != hal.SpeedHigh {
		split = hcspltSpltEna | uint32(r.HubAddress)<<hcspltHubAddrShift | uint32(r.HubPort)
	}

	char := uint32(r.MaxPacket)&hccharMPSMask |
		uint32(r.Endpoint)<<hccharEPNumShift |
		1<<hccharMCShift |
		uint32(r.Address)<<hccharDevAddrShift |
		hccharChEna
	if in {
		char |= hccharEPDir
	}
	if r.Speed == hal.SpeedLow {
		char |= hccharLSpdDev
	}
	switch {
	case r.Periodic():
		char |= epTypeInterrupt << hccharEPTypeShift
		// ODDFRM follows the raw (micro)frame number.
		c.Frame()
		if (c.lastHFN+1)&1 != 0 {
			char |= hccharOddFrm
		}
	case r.Endpoint == 0:
		char |= epTypeControl << hccharEPTypeShift
	default:
		char |= epTypeBulk << hccharEPTypeShift
	}

	c.io.Write32(channelReg(ch, regHCINT), 0xffffffff)
	c.io.Write32(channelReg(ch, regHCINTMSK), hcintDefaultMask)
	c.io.Write32(channelReg(ch, regHCSPLT), split)
	c.io.Write32(channelReg(ch, regHCTSIZ),
		uint32(x.Len)&hctsizXferSizeMask|
			uint32(pkts)&hctsizPktCntMask<<hctsizPktCntShift|
			pid<<hctsizPIDShift)
	c.io.Write32(channelReg(ch, regHCDMA), phys)
	c.io.Write32(channelReg(ch, regHCCHAR), char)
}

// Halt implements hal.Controller.
func (c *Controller) Halt(ch int) {
	if ch < 0 || ch >= len(c.channels) || c.channels[ch].req == nil {
		return
	}
	c.disable(ch)
}

func (c *Controller) disable(ch int) {
	char := c.io.Read32(channelReg(ch, regHCCHAR))
	if char&hccharChEna != 0 {
		c.io.Write32(channelReg(ch, regHCCHAR), char|hccharChDis|hccharChEna)
	}
	c.io.Write32(channelReg(ch, regHCINTMSK), 0)
	c.io.Write32(channelReg(ch, regHCINT), 0xffffffff)
	c.io.Write32(regHAINTMSK, c.io.Read32(regHAINTMSK)&^(1<<ch))
	c.channels[ch] = channel{}
}

// Reap implements hal.Controller.
func (c *Controller) Reap(dst []hal.Event) []hal.Event {
	sts := c.io.Read32(regGINTSTS)
	if sts&gintHCInt != 0 {
		pending := c.io.Read32(regHAINT) & c.io.Read32(regHAINTMSK)
		for ch := range c.channels {
			if pending&(1<<ch) == 0 {
				continue
			}
			hcint := c.io.Read32(channelReg(ch, regHCINT))
			c.io.Write32(channelReg(ch, regHCINT), hcint)
			dst = c.service(ch, hcint, dst)
		}
	}
	c.io.Write32(regGINTSTS, sts&gintSOF)
	c.Frame()
	return dst
}

// service interprets the interrupt bits of one channel.
func (c *Controller) service(ch int, hcint uint32, dst []hal.Event) []hal.Event {
	st := &c.channels[ch]
	if st.req == nil {
		return dst
	}
	r := st.req
	x := &r.Xacts[st.next]
	in := x.Type.IsIn()

	var code hal.Code
	switch {
	case hcint&hcintAHBErr != 0:
		code = hal.CodeHostFault
	case hcint&hcintStall != 0:
		code = hal.CodeStall
	case hcint&hcintBblErr != 0:
		code = hal.CodeBabble
	case hcint&hcintDataTglErr != 0:
		code = hal.CodeDataToggle
	case hcint&hcintXactErr != 0:
		code = hal.CodeCRC
	case hcint&hcintFrmOvrun != 0:
		code = hal.CodeTimeout
	case hcint&hcintNAK != 0 && r.Periodic():
		code = hal.CodeNoData
	case hcint&hcintNAK != 0:
		st.naks++
		if c.cfg.NAKLimit == 0 || st.naks < c.cfg.NAKLimit {
			c.start(ch)
			return dst
		}
		code = hal.CodeNAK
	case hcint&hcintXferCompl != 0:
		code = hal.CodeOK
	default:
		// Halt acknowledgement only.
		return dst
	}

	if code != hal.CodeOK {
		pkg.LogTrace(pkg.ComponentHAL, "channel stopped",
			"channel", ch, "index", st.next, "code", code, "hcint", fmt.Sprintf("%#x", hcint))
		dst = append(dst, hal.Event{Channel: ch, Index: st.next, Code: code})
		c.disable(ch)
		return dst
	}

	tsiz := c.io.Read32(channelReg(ch, regHCTSIZ))
	remain := int(tsiz & hctsizXferSizeMask)
	actual := x.Len - remain
	if remain > x.Len {
		actual = 0
	}
	switch x.Type {
	case hal.XactSetup:
		c.toggles[toggleKey{r.Address, r.Endpoint, true}] = pidData1
		c.toggles[toggleKey{r.Address, r.Endpoint, false}] = pidData1
	default:
		c.toggles[toggleKey{r.Address, r.Endpoint, in}] = tsiz >> hctsizPIDShift & hctsizPIDMask
	}
	dst = append(dst, hal.Event{Channel: ch, Index: st.next, Code: hal.CodeOK, Actual: actual})

	st.next++
	st.naks = 0
	if st.next < len(r.Xacts) {
		c.start(ch)
		return dst
	}
	c.disable(ch)
	return dst
}

// ResetToggles forgets the data toggles of every endpoint of addr, as
// required after the device is reset or reconfigured.
func (c *Controller) ResetToggles(addr uint8) {
	for k := range c.toggles {
		if k.addr == addr {
			delete(c.toggles, k)
		}
	}
}

// Close implements hal.Controller.
func (c *Controller) Close() error {
	if c.closed {
		return nil
	}
	for ch := range c.channels {
		if c.channels[ch].req != nil {
			c.disable(ch)
		}
	}
	c.io.Write32(regGINTMSK, 0)
	c.io.Write32(regGAHBCFG, 0)
	c.closed = true
	return nil
}
