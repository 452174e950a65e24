package sim

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/usbhcd/host/hal"
	"github.com/ardnew/usbhcd/host/hal/dma"
	"github.com/ardnew/usbhcd/pkg"
)

// =============================================================================
// Helpers
// =============================================================================

func newTestController(t *testing.T, cfg Config) *Controller {
	t.Helper()
	c, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func newBuffer(t *testing.T, size int) hal.DMABuffer {
	t.Helper()
	a, err := dma.NewArena(4096, 0x1000)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	b, err := a.Alloc(size, 4)
	require.NoError(t, err)
	return b
}

func testConfig() Config {
	return Config{Slots: 8, Channels: 2, MaxXacts: 4, IRQ: 5}
}

// =============================================================================
// Controller Tests
// =============================================================================

func TestNew_InvalidConfig(t *testing.T) {
	_, err := New(Config{Channels: 1, MaxXacts: 1})
	assert.ErrorIs(t, err, pkg.ErrInvalidParameter)
}

func TestOpen_Registered(t *testing.T) {
	c, err := hal.Open(ID, nil, nil)
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, DefaultConfig.Slots, c.Slots())
	assert.Equal(t, []int{DefaultConfig.IRQ}, c.IRQs())
	assert.IsType(t, &Controller{}, c)
}

func TestController_LoopbackChain(t *testing.T) {
	c := newTestController(t, testConfig())
	dev := NewLoopback()
	require.NoError(t, c.Attach(3, dev))

	out := newBuffer(t, 8)
	in := newBuffer(t, 8)
	copy(out.Bytes(), "ping")

	req := &hal.Request{
		Address: 3, Speed: hal.SpeedFull, Endpoint: 1, MaxPacket: 64,
		Xacts: []hal.Xact{
			{Type: hal.XactOut, Buf: out, Len: 4},
			{Type: hal.XactIn, Buf: in, Len: 8},
		},
	}
	require.NoError(t, c.Program(0, req))

	// Nothing executes before the next frame.
	assert.Empty(t, c.Reap(nil))

	assert.Equal(t, 2, c.Step(1))
	events := c.Reap(nil)
	require.Len(t, events, 2)
	assert.Equal(t, hal.Event{Channel: 0, Index: 0, Code: hal.CodeOK, Actual: 4}, events[0])
	assert.Equal(t, hal.Event{Channel: 0, Index: 1, Code: hal.CodeOK, Actual: 4}, events[1])
	assert.Equal(t, "ping", string(in.Bytes()[:4]))
	assert.Equal(t, uint64(1), c.Frame())

	// Channel is free again.
	require.NoError(t, c.Program(0, req))
}

func TestController_ProgramErrors(t *testing.T) {
	c := newTestController(t, testConfig())
	req := &hal.Request{Xacts: make([]hal.Xact, 1)}

	assert.ErrorIs(t, c.Program(-1, req), pkg.ErrInvalidParameter)
	assert.ErrorIs(t, c.Program(2, req), pkg.ErrInvalidParameter)

	require.NoError(t, c.Program(0, req))
	assert.ErrorIs(t, c.Program(0, req), pkg.ErrBusy)

	long := &hal.Request{Xacts: make([]hal.Xact, 5)}
	assert.ErrorIs(t, c.Program(1, long), pkg.ErrResourceExhausted)

	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Program(1, req), pkg.ErrNotRunning)
}

func TestController_SetupRecorded(t *testing.T) {
	c := newTestController(t, testConfig())
	dev := NewLoopback()
	require.NoError(t, c.Attach(1, dev))

	setup := newBuffer(t, hal.SetupPacketSize)
	pkt := hal.SetupPacket{RequestType: 0x80, Request: 0x06, Value: 0x0100, Length: 18}
	pkt.MarshalTo(setup.Bytes())

	require.NoError(t, c.Program(1, &hal.Request{
		Address: 1, Speed: hal.SpeedFull, MaxPacket: 64,
		Xacts: []hal.Xact{{Type: hal.XactSetup, Buf: setup, Len: hal.SetupPacketSize}},
	}))
	c.Step(1)

	events := c.Reap(nil)
	require.Len(t, events, 1)
	assert.Equal(t, 1, events[0].Channel)
	assert.Equal(t, hal.CodeOK, events[0].Code)
	assert.Equal(t, pkt, dev.LastSetup())
	assert.Equal(t, 1, dev.Transactions())
}

func TestController_NoDeviceTimesOut(t *testing.T) {
	c := newTestController(t, testConfig())
	require.NoError(t, c.Program(0, &hal.Request{
		Address: 9, Xacts: []hal.Xact{{Type: hal.XactIn}},
	}))
	c.Step(1)

	events := c.Reap(nil)
	require.Len(t, events, 1)
	assert.Equal(t, hal.CodeTimeout, events[0].Code)
}

func TestController_ChainStopsAtFailure(t *testing.T) {
	c := newTestController(t, testConfig())
	require.NoError(t, c.Attach(4, Faulty{Code: hal.CodeStall}))
	require.NoError(t, c.Program(0, &hal.Request{
		Address: 4,
		Xacts:   []hal.Xact{{Type: hal.XactOut}, {Type: hal.XactIn}, {Type: hal.XactOut}},
	}))
	c.Step(3)

	events := c.Reap(nil)
	require.Len(t, events, 1)
	assert.Equal(t, 0, events[0].Index)
	assert.Equal(t, hal.CodeStall, events[0].Code)
}

// =============================================================================
// Interrupt Device Tests
// =============================================================================

func TestController_InterruptNAKRetries(t *testing.T) {
	c := newTestController(t, testConfig())
	dev := NewInterrupt()
	require.NoError(t, c.Attach(2, dev))

	buf := newBuffer(t, 8)
	require.NoError(t, c.Program(0, &hal.Request{
		Address: 2, Speed: hal.SpeedLow, Endpoint: 1, MaxPacket: 8,
		Xacts: []hal.Xact{{Type: hal.XactInterrupt, Buf: buf, Len: 8}},
	}))

	// Aperiodic, so the channel stays busy across NAKs.
	assert.Equal(t, 0, c.Step(3))
	assert.Equal(t, 3, dev.Polls())

	dev.Push([]byte{0x01, 0x02, 0x03})
	assert.Equal(t, 1, dev.Queued())
	assert.Equal(t, 1, c.Step(1))

	events := c.Reap(nil)
	require.Len(t, events, 1)
	assert.Equal(t, hal.CodeOK, events[0].Code)
	assert.Equal(t, 3, events[0].Actual)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, buf.Bytes()[:3])
	assert.Zero(t, dev.Queued())
}

func TestController_PeriodicNAKEndsInterval(t *testing.T) {
	cfg := testConfig()
	cfg.NAKLimit = 3
	c := newTestController(t, cfg)
	dev := NewInterrupt()
	require.NoError(t, c.Attach(2, dev))

	poll := &hal.Request{
		Address: 2, Speed: hal.SpeedLow, Endpoint: 1, MaxPacket: 8, Period: 8,
		Xacts: []hal.Xact{{Type: hal.XactInterrupt, Buf: newBuffer(t, 8), Len: 8}},
	}
	require.NoError(t, c.Program(0, poll))

	assert.Equal(t, 1, c.Step(1))
	events := c.Reap(nil)
	require.Len(t, events, 1)
	assert.Equal(t, hal.Event{Channel: 0, Index: 0, Code: hal.CodeNoData}, events[0])
	assert.Equal(t, 1, dev.Polls())

	// The channel is free and nothing polls until it is programmed again.
	assert.Equal(t, 0, c.Step(5))
	assert.Equal(t, 1, dev.Polls())
	require.NoError(t, c.Program(0, poll))

	dev.Push([]byte{0x2a})
	assert.Equal(t, 1, c.Step(1))
	events = c.Reap(nil)
	require.Len(t, events, 1)
	assert.Equal(t, hal.CodeOK, events[0].Code)
	assert.Equal(t, 1, events[0].Actual)
}

func TestController_NAKLimit(t *testing.T) {
	cfg := testConfig()
	cfg.NAKLimit = 2
	c := newTestController(t, cfg)
	require.NoError(t, c.Attach(2, NewInterrupt()))
	require.NoError(t, c.Program(0, &hal.Request{
		Address: 2, Xacts: []hal.Xact{{Type: hal.XactInterrupt}},
	}))

	assert.Equal(t, 0, c.Step(1))
	assert.Equal(t, 1, c.Step(1))
	events := c.Reap(nil)
	require.Len(t, events, 1)
	assert.Equal(t, hal.CodeNAK, events[0].Code)
}

func TestInterrupt_Babble(t *testing.T) {
	dev := NewInterrupt()
	dev.Push([]byte{1, 2, 3, 4})

	data := make([]byte, 2)
	n, code := dev.Transact(1, hal.XactInterrupt, data)
	assert.Equal(t, 2, n)
	assert.Equal(t, hal.CodeBabble, code)

	_, code = dev.Transact(1, hal.XactOut, data)
	assert.Equal(t, hal.CodeStall, code)
}

// =============================================================================
// Halt, Detach, and Fault Tests
// =============================================================================

func TestController_HaltDiscardsEvents(t *testing.T) {
	c := newTestController(t, testConfig())
	require.NoError(t, c.Attach(3, NewLoopback()))
	req := &hal.Request{Address: 3, Xacts: []hal.Xact{{Type: hal.XactIn}}}
	require.NoError(t, c.Program(0, req))
	require.NoError(t, c.Program(1, req))
	c.Step(1)

	c.Halt(0)
	events := c.Reap(nil)
	require.Len(t, events, 1)
	assert.Equal(t, 1, events[0].Channel)
}

func TestController_HaltStopsChain(t *testing.T) {
	c := newTestController(t, testConfig())
	require.NoError(t, c.Attach(3, NewLoopback()))
	require.NoError(t, c.Program(0, &hal.Request{Address: 3, Xacts: []hal.Xact{{Type: hal.XactIn}}}))

	c.Halt(0)
	assert.Equal(t, 0, c.Step(2))
	c.Halt(-1)
	c.Halt(99)
}

func TestController_Detach(t *testing.T) {
	c := newTestController(t, testConfig())
	require.NoError(t, c.Attach(2, NewInterrupt()))
	require.NoError(t, c.Program(1, &hal.Request{Address: 2, Xacts: []hal.Xact{{Type: hal.XactInterrupt}}}))
	c.Step(1)
	assert.Empty(t, c.Reap(nil))

	c.Detach(2)
	events := c.Reap(nil)
	require.Len(t, events, 1)
	assert.Equal(t, hal.Event{Channel: 1, Index: 0, Code: hal.CodeDisconnected}, events[0])

	// Detaching twice is a no-op.
	c.Detach(2)
	assert.Empty(t, c.Reap(nil))
}

func TestController_DetachedAddressDisconnects(t *testing.T) {
	c := newTestController(t, testConfig())
	require.NoError(t, c.Attach(2, NewInterrupt()))
	c.Detach(2)

	// Programmed after the device left, e.g. a poll waiting for its deadline.
	require.NoError(t, c.Program(0, &hal.Request{
		Address: 2, Period: 8, Xacts: []hal.Xact{{Type: hal.XactInterrupt}},
	}))
	assert.Equal(t, 1, c.Step(1))
	events := c.Reap(nil)
	require.Len(t, events, 1)
	assert.Equal(t, hal.Event{Channel: 0, Index: 0, Code: hal.CodeDisconnected}, events[0])

	// Reattaching makes the address reachable again.
	require.NoError(t, c.Attach(2, NewInterrupt()))
	require.NoError(t, c.Program(0, &hal.Request{Address: 2, Xacts: []hal.Xact{{Type: hal.XactInterrupt}}}))
	assert.Equal(t, 0, c.Step(1))
}

func TestController_AttachErrors(t *testing.T) {
	c := newTestController(t, testConfig())
	require.NoError(t, c.Attach(2, NewLoopback()))
	assert.ErrorIs(t, c.Attach(2, NewLoopback()), pkg.ErrBusy)
	assert.ErrorIs(t, c.Attach(128, NewLoopback()), pkg.ErrInvalidParameter)
	assert.ErrorIs(t, c.Attach(5, nil), pkg.ErrInvalidParameter)
}

func TestController_InjectFault(t *testing.T) {
	c := newTestController(t, testConfig())
	require.NoError(t, c.Attach(3, NewLoopback()))
	c.InjectFault(0)
	require.NoError(t, c.Program(0, &hal.Request{Address: 3, Xacts: []hal.Xact{{Type: hal.XactIn}}}))
	c.Step(1)

	events := c.Reap(nil)
	require.Len(t, events, 1)
	assert.Equal(t, hal.CodeHostFault, events[0].Code)
}

func TestDeviceFunc(t *testing.T) {
	var got uint8
	f := DeviceFunc(func(ep uint8, t hal.XactType, data []byte) (int, hal.Code) {
		got = ep
		return len(data), hal.CodeOK
	})
	n, code := f.Transact(7, hal.XactOut, make([]byte, 3))
	assert.Equal(t, 3, n)
	assert.Equal(t, hal.CodeOK, code)
	assert.Equal(t, uint8(7), got)
}

// =============================================================================
// Run Tests
// =============================================================================

func TestController_Run(t *testing.T) {
	c := newTestController(t, testConfig())

	var raised atomic.Int32
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := c.Run(ctx, time.Millisecond, func(line int) {
		assert.Equal(t, 5, line)
		raised.Add(1)
	})
	require.NoError(t, err)
	assert.Positive(t, raised.Load())
	assert.Equal(t, uint64(raised.Load()), c.Frame())
}

func TestController_RunInvalidTick(t *testing.T) {
	c := newTestController(t, testConfig())
	err := c.Run(context.Background(), 0, func(int) {})
	assert.ErrorIs(t, err, pkg.ErrInvalidParameter)
}
