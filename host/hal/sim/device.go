package sim

import (
	"sync"

	"github.com/emirpasic/gods/queues/linkedlistqueue"

	"github.com/ardnew/usbhcd/host/hal"
)

// Device is a device model attached to a simulated bus address.
//
// Transact performs one transaction on endpoint ep. For IN transactions data
// is the destination; for OUT and SETUP it holds the bytes sent. It returns
// the number of bytes moved and the hardware condition to report.
// Returning [hal.CodeNAK] makes the controller retry in the next frame.
type Device interface {
	Transact(ep uint8, t hal.XactType, data []byte) (int, hal.Code)
}

// DeviceFunc adapts a function to the Device interface.
type DeviceFunc func(ep uint8, t hal.XactType, data []byte) (int, hal.Code)

// Transact calls f.
func (f DeviceFunc) Transact(ep uint8, t hal.XactType, data []byte) (int, hal.Code) {
	return f(ep, t, data)
}

// Loopback echoes OUT data back on IN. Each endpoint has its own buffer.
// SETUP packets are recorded and acknowledged.
type Loopback struct {
	mu    sync.Mutex
	data  map[uint8][]byte
	setup hal.SetupPacket
	n     int
}

// NewLoopback returns an empty loopback device.
func NewLoopback() *Loopback {
	return &Loopback{data: make(map[uint8][]byte)}
}

// Transact implements Device.
func (l *Loopback) Transact(ep uint8, t hal.XactType, data []byte) (int, hal.Code) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.n++

	switch t {
	case hal.XactSetup:
		if !hal.ParseSetupPacket(data, &l.setup) {
			return 0, hal.CodeStall
		}
		return len(data), hal.CodeOK
	case hal.XactOut:
		l.data[ep] = append(l.data[ep], data...)
		return len(data), hal.CodeOK
	default:
		buf := l.data[ep]
		n := copy(data, buf)
		l.data[ep] = buf[n:]
		return n, hal.CodeOK
	}
}

// LastSetup returns the most recent SETUP packet received.
func (l *Loopback) LastSetup() hal.SetupPacket {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.setup
}

// Transactions returns how many transactions the device has seen.
func (l *Loopback) Transactions() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.n
}

// Interrupt models an interrupt IN endpoint. Each IN transaction returns
// the next queued report; with no report queued the device NAKs.
type Interrupt struct {
	mu      sync.Mutex
	reports *linkedlistqueue.Queue
	polls   int
}

// NewInterrupt returns an interrupt device with no queued reports.
func NewInterrupt() *Interrupt {
	return &Interrupt{reports: linkedlistqueue.New()}
}

// Push queues a report for the next poll.
func (d *Interrupt) Push(report []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reports.Enqueue(append([]byte(nil), report...))
}

// Queued returns the number of reports not yet delivered.
func (d *Interrupt) Queued() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reports.Size()
}

// Polls returns how many IN transactions the device has answered, NAKs
// included.
func (d *Interrupt) Polls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.polls
}

// Transact implements Device. Reports longer than the poll buffer babble.
func (d *Interrupt) Transact(ep uint8, t hal.XactType, data []byte) (int, hal.Code) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !t.IsIn() {
		return 0, hal.CodeStall
	}
	d.polls++
	v, ok := d.reports.Dequeue()
	if !ok {
		return 0, hal.CodeNAK
	}
	report := v.([]byte)
	n := copy(data, report)
	if len(report) > len(data) {
		return n, hal.CodeBabble
	}
	return n, hal.CodeOK
}

// Faulty fails every transaction with Code.
type Faulty struct {
	Code hal.Code
}

// Transact implements Device.
func (f Faulty) Transact(ep uint8, t hal.XactType, data []byte) (int, hal.Code) {
	return 0, f.Code
}
