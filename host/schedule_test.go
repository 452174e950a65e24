package host

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardnew/usbhcd/host/hal"
	"github.com/ardnew/usbhcd/pkg"
)

// =============================================================================
// Validation Tests
// =============================================================================

func TestSchedule_Validation(t *testing.T) {
	rec := &recorder{}
	tests := []struct {
		name   string
		mutate func(r *Request)
		want   error
	}{
		{"address too high", func(r *Request) { r.Address = 128 }, pkg.ErrInvalidTopology},
		{"hub address too high", func(r *Request) { r.HubAddress, r.HubPort = 128, 1 }, pkg.ErrInvalidTopology},
		{"hub port too high", func(r *Request) { r.HubAddress, r.HubPort = 1, 128 }, pkg.ErrInvalidTopology},
		{"port without hub", func(r *Request) { r.HubPort = 2 }, pkg.ErrInvalidTopology},
		{"hub without port", func(r *Request) { r.HubAddress = 1 }, pkg.ErrInvalidTopology},
		{"behind itself", func(r *Request) { r.HubAddress, r.HubPort = r.Address, 1 }, pkg.ErrInvalidTopology},
		{"unknown speed", func(r *Request) { r.Speed = hal.SpeedUnknown }, pkg.ErrInvalidTopology},
		{"endpoint too high", func(r *Request) { r.Endpoint = 16 }, pkg.ErrInvalidEndpoint},
		{"nil completer", func(r *Request) { r.Completer = nil }, pkg.ErrInvalidParameter},
		{"no transactions", func(r *Request) { r.Xacts = nil }, pkg.ErrInvalidParameter},
		{"negative period", func(r *Request) { r.Period = -1 }, pkg.ErrInvalidParameter},
		{"zero max packet", func(r *Request) { r.MaxPacket = 0 }, pkg.ErrInvalidParameter},
		{"low speed max packet", func(r *Request) { r.Speed, r.MaxPacket = hal.SpeedLow, 9 }, pkg.ErrInvalidParameter},
		{"full speed max packet", func(r *Request) { r.MaxPacket = 1024 }, pkg.ErrInvalidParameter},
		{"setup not first", func(r *Request) { r.Xacts[1].Type = hal.XactSetup }, pkg.ErrInvalidParameter},
		{"setup length", func(r *Request) { r.Xacts[0].Len = 4 }, pkg.ErrInvalidParameter},
		{"negative length", func(r *Request) { r.Xacts[1].Len = -1 }, pkg.ErrInvalidParameter},
		{"unknown type", func(r *Request) { r.Xacts[1].Type = hal.XactType(9) }, pkg.ErrInvalidParameter},
		{"buffer too small", func(r *Request) { r.Xacts[1].Len = 65 }, pkg.ErrBufferTooSmall},
		{"missing buffer", func(r *Request) { r.Xacts[1].Buf = nil }, pkg.ErrBufferTooSmall},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMockController()
			h := newTestHost(t, m)

			r := newRequest(5, 0, rec, hal.XactSetup, hal.XactIn, hal.XactOut)
			tt.mutate(&r)
			err := h.Schedule(r)
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, m.log)
			assert.Zero(t, h.Stats().Submitted)
		})
	}
	assert.Empty(t, rec.results)
}

func TestSchedule_Valid(t *testing.T) {
	m := newMockController()
	h := newTestHost(t, m)
	rec := &recorder{}

	r := newRequest(127, 15, rec, hal.XactOut)
	r.HubAddress, r.HubPort = 1, 4
	r.Xacts[0].Len = 0
	r.Xacts[0].Buf = nil
	require.NoError(t, h.Schedule(r))

	low := newRequest(9, 0, rec, hal.XactSetup)
	low.Speed, low.MaxPacket = hal.SpeedLow, 8
	require.NoError(t, h.Schedule(low))

	assert.Equal(t, []uint8{127, 9}, m.log)
}

func TestSchedule_DuplicateEndpoint(t *testing.T) {
	m := newMockController()
	h := newTestHost(t, m)
	rec := &recorder{}

	require.NoError(t, h.Schedule(newRequest(3, 1, rec, hal.XactIn)))
	err := h.Schedule(newRequest(3, 1, rec, hal.XactOut))
	assert.ErrorIs(t, err, pkg.ErrDuplicateEndpoint)

	require.NoError(t, h.Schedule(newRequest(3, 2, rec, hal.XactIn)))
	require.NoError(t, h.Schedule(newRequest(4, 1, rec, hal.XactIn)))
	assert.Equal(t, uint64(3), h.Stats().Submitted)
}

func TestSchedule_SlotsExhausted(t *testing.T) {
	m := newMockController()
	m.slots = 2
	h := newTestHost(t, m)
	rec := &recorder{}

	require.NoError(t, h.Schedule(newRequest(1, 1, rec, hal.XactIn)))
	require.NoError(t, h.Schedule(newRequest(2, 1, rec, hal.XactIn)))
	err := h.Schedule(newRequest(3, 1, rec, hal.XactIn))
	assert.ErrorIs(t, err, pkg.ErrResourceExhausted)

	// Retiring an entry frees its slot.
	m.succeed(0)
	h.HandleInterrupt()
	require.Len(t, rec.results, 1)
	require.NoError(t, h.Schedule(newRequest(3, 1, rec, hal.XactIn)))
}

func TestSchedule_TooManyXacts(t *testing.T) {
	m := newMockController()
	m.maxXacts = 2
	h := newTestHost(t, m)

	err := h.Schedule(newRequest(1, 1, &recorder{}, hal.XactOut, hal.XactOut, hal.XactIn))
	assert.ErrorIs(t, err, pkg.ErrResourceExhausted)
}

func TestSchedule_CopiesXacts(t *testing.T) {
	m := newMockController()
	h := newTestHost(t, m)

	r := newRequest(1, 1, &recorder{}, hal.XactIn)
	require.NoError(t, h.Schedule(r))
	r.Xacts[0].Len = 1

	assert.Equal(t, 8, m.programmed[0].Xacts[0].Len)
}

// =============================================================================
// Dispatch Tests
// =============================================================================

func TestSchedule_DispatchesImmediately(t *testing.T) {
	m := newMockController()
	h := newTestHost(t, m)
	rec := &recorder{}

	require.NoError(t, h.Schedule(newRequest(1, 1, rec, hal.XactIn)))
	require.Contains(t, m.programmed, 0)
	assert.Equal(t, uint8(1), m.programmed[0].Address)

	require.NoError(t, h.Schedule(newRequest(2, 1, rec, hal.XactIn)))
	require.Contains(t, m.programmed, 1)

	// Both channels busy: the third waits.
	require.NoError(t, h.Schedule(newRequest(3, 1, rec, hal.XactIn)))
	assert.Equal(t, []uint8{1, 2}, m.log)
	assert.Equal(t, uint64(2), h.Stats().Dispatched)
}

func TestSchedule_FIFO(t *testing.T) {
	m := newMockController()
	m.channels = 1
	h := newTestHost(t, m)
	rec := &recorder{}

	for _, addr := range []uint8{1, 2, 3} {
		require.NoError(t, h.Schedule(newRequest(addr, 1, rec, hal.XactIn)))
	}
	assert.Equal(t, []uint8{1}, m.log)

	for i := 0; i < 3; i++ {
		m.succeed(0)
		h.HandleInterrupt()
	}
	assert.Equal(t, []uint8{1, 2, 3}, m.log)
	require.Len(t, rec.results, 3)
	for i, res := range rec.results {
		assert.Equal(t, uint8(i+1), res.addr)
		assert.Equal(t, pkg.StatusSuccess, res.status)
	}
}

func TestSchedule_PeriodicFirstDeadline(t *testing.T) {
	m := newMockController()
	m.frame = 5
	h := newTestHost(t, m)

	r := newRequest(2, 1, &recorder{}, hal.XactInterrupt)
	r.Period = 10
	require.NoError(t, h.Schedule(r))
	assert.Empty(t, m.log)

	m.frame = 9
	h.HandleInterrupt()
	assert.Empty(t, m.log)

	m.frame = 10
	h.HandleInterrupt()
	assert.Equal(t, []uint8{2}, m.log)
}

func TestSchedule_PeriodicPreemptsAperiodic(t *testing.T) {
	m := newMockController()
	m.channels = 1
	h := newTestHost(t, m)
	rec := &recorder{}

	p := newRequest(2, 1, rec, hal.XactInterrupt)
	p.Period = 4
	require.NoError(t, h.Schedule(p))
	require.NoError(t, h.Schedule(newRequest(3, 1, rec, hal.XactOut)))
	require.NoError(t, h.Schedule(newRequest(3, 2, rec, hal.XactOut)))
	assert.Equal(t, []uint8{3}, m.log)

	m.frame = 4
	m.succeed(0)
	h.HandleInterrupt()
	assert.Equal(t, []uint8{3, 2}, m.log)

	m.succeed(0)
	h.HandleInterrupt()
	assert.Equal(t, []uint8{3, 2, 3}, m.log)
	assert.Equal(t, uint8(2), m.programmed[0].Endpoint)
}

func TestSchedule_PeriodicDeadlineOrder(t *testing.T) {
	m := newMockController()
	m.channels = 1
	h := newTestHost(t, m)
	rec := &recorder{}

	slow := newRequest(1, 1, rec, hal.XactInterrupt)
	slow.Period = 8
	fast := newRequest(2, 1, rec, hal.XactInterrupt)
	fast.Period = 2
	same := newRequest(3, 1, rec, hal.XactInterrupt)
	same.Period = 8
	require.NoError(t, h.Schedule(slow))
	require.NoError(t, h.Schedule(fast))
	require.NoError(t, h.Schedule(same))

	m.frame = 8
	h.HandleInterrupt()
	for i := 0; i < 2; i++ {
		m.succeed(0)
		h.HandleInterrupt()
	}
	// Deadlines 2, 8, 8: earliest first, then submission order.
	assert.Equal(t, []uint8{2, 1, 3}, m.log)
}

func TestSchedule_ProgramFailure(t *testing.T) {
	m := newMockController()
	m.channels = 1
	m.programErr = errBusFault
	h := newTestHost(t, m)
	rec := &recorder{}

	require.NoError(t, h.Schedule(newRequest(1, 1, rec, hal.XactOut, hal.XactIn)))
	assert.Empty(t, rec.results)
	assert.Equal(t, []int{0}, m.halted)

	h.HandleInterrupt()
	require.Len(t, rec.results, 1)
	res := rec.results[0]
	assert.Equal(t, pkg.StatusHostError, res.status)
	assert.Equal(t, []pkg.Status{pkg.StatusHostError, pkg.StatusHostError}, res.xacts)
	assert.Zero(t, h.Pending(1))

	// No automatic retry.
	h.HandleInterrupt()
	assert.Len(t, rec.results, 1)
	assert.Equal(t, uint64(1), h.Stats().Dispatched)
}
