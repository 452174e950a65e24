package hal

import (
	"fmt"

	"github.com/ardnew/usbhcd/pkg"
)

// Speed represents the USB connection speed.
type Speed uint8

// USB speed constants (USB 2.0 Specification).
const (
	SpeedUnknown Speed = iota // Not connected or unknown
	SpeedLow                  // Low Speed (1.5 Mbit/s)
	SpeedFull                 // Full Speed (12 Mbit/s)
	SpeedHigh                 // High Speed (480 Mbit/s)
)

// String returns a human-readable speed name.
func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "Low Speed"
	case SpeedFull:
		return "Full Speed"
	case SpeedHigh:
		return "High Speed"
	default:
		return "Unknown"
	}
}

// Valid reports whether s is a negotiated link speed.
func (s Speed) Valid() bool {
	return s >= SpeedLow && s <= SpeedHigh
}

// MaxPacketLimit returns the largest max packet size allowed at this speed.
func (s Speed) MaxPacketLimit() uint16 {
	switch s {
	case SpeedLow:
		return 8
	case SpeedFull:
		return 1023
	case SpeedHigh:
		return 1024
	default:
		return 0
	}
}

// SetupPacket represents a USB SETUP packet.
type SetupPacket struct {
	RequestType uint8  // Request characteristics
	Request     uint8  // Specific request
	Value       uint16 // Request-specific value
	Index       uint16 // Request-specific index
	Length      uint16 // Number of bytes to transfer
}

// SetupPacketSize is the size of a USB SETUP packet in bytes.
const SetupPacketSize = 8

// ParseSetupPacket parses raw bytes into a SetupPacket.
// Returns false if data is too short.
func ParseSetupPacket(data []byte, out *SetupPacket) bool {
	if len(data) < SetupPacketSize {
		return false
	}
	out.RequestType = data[0]
	out.Request = data[1]
	out.Value = uint16(data[2]) | uint16(data[3])<<8
	out.Index = uint16(data[4]) | uint16(data[5])<<8
	out.Length = uint16(data[6]) | uint16(data[7])<<8
	return true
}

// MarshalTo writes the setup packet to buf.
// Returns the number of bytes written (8), or 0 if buf is too small.
func (s *SetupPacket) MarshalTo(buf []byte) int {
	if len(buf) < SetupPacketSize {
		return 0
	}
	buf[0] = s.RequestType
	buf[1] = s.Request
	buf[2] = byte(s.Value)
	buf[3] = byte(s.Value >> 8)
	buf[4] = byte(s.Index)
	buf[5] = byte(s.Index >> 8)
	buf[6] = byte(s.Length)
	buf[7] = byte(s.Length >> 8)
	return SetupPacketSize
}

// IsIn reports whether the data stage runs device-to-host.
func (s *SetupPacket) IsIn() bool {
	return s.RequestType&0x80 != 0
}

// XactType is the packet identifier class of a transaction.
type XactType uint8

// Transaction types.
const (
	XactIn        XactType = iota // IN token, device to host
	XactOut                       // OUT token, host to device
	XactSetup                     // SETUP token, control request
	XactInterrupt                 // Interrupt IN poll
)

// String returns the PID name.
func (t XactType) String() string {
	switch t {
	case XactIn:
		return "IN"
	case XactOut:
		return "OUT"
	case XactSetup:
		return "SETUP"
	case XactInterrupt:
		return "INT"
	default:
		return fmt.Sprintf("XactType(%d)", uint8(t))
	}
}

// Valid reports whether t is a known transaction type.
func (t XactType) Valid() bool {
	return t <= XactInterrupt
}

// IsIn reports whether data flows device-to-host.
func (t XactType) IsIn() bool {
	return t == XactIn || t == XactInterrupt
}

// DMABuffer is a physically addressable memory region. The core never
// allocates or frees one; it only reads and writes through it.
type DMABuffer interface {
	// Bytes returns the CPU view of the region.
	Bytes() []byte
	// Phys returns the bus address of the first byte.
	Phys() uintptr
	// Len returns the capacity of the region in bytes.
	Len() int
}

// DMAAllocator provides and revokes DMA buffers.
type DMAAllocator interface {
	Alloc(size, align int) (DMABuffer, error)
	Free(buf DMABuffer)
}

// IO is the register access capability of a memory-mapped controller.
// Offsets are in bytes from the controller's register base.
type IO interface {
	Read32(off uint32) uint32
	Write32(off uint32, v uint32)
}

// Xact describes one transaction of an entry.
type Xact struct {
	Type XactType  // Packet identifier class
	Buf  DMABuffer // Borrowed for the duration of the transaction
	Len  int       // Bytes to transfer, at most Buf.Len()
}

// Data returns the slice of Buf covered by the transaction.
func (x *Xact) Data() []byte {
	if x.Buf == nil || x.Len == 0 {
		return nil
	}
	return x.Buf.Bytes()[:x.Len]
}

// Request is what a controller needs to program one entry onto a channel.
type Request struct {
	Address    uint8  // Device address (0-127)
	HubAddress uint8  // Transaction translator hub, 0 for direct attachment
	HubPort    uint8  // Port on HubAddress
	Speed      Speed  // Device speed
	Endpoint   uint8  // Endpoint number (0-15)
	MaxPacket  uint16 // Endpoint max packet size
	Period     int    // Polling interval in ms, 0 for aperiodic
	Xacts      []Xact // Executed in order
}

// Periodic reports whether the request is an interrupt-class request.
func (r *Request) Periodic() bool {
	return r.Period > 0
}

// Code is the raw hardware condition a controller reports for a transaction.
type Code uint8

// Completion codes.
const (
	CodeNotReached   Code = iota // Not yet processed by the hardware
	CodeOK                       // Completed; check the actual length
	CodeNAK                      // NAK limit exceeded
	CodeCRC                      // CRC or bit-stuffing error
	CodeStall                    // Endpoint stalled
	CodeTimeout                  // No response from the device
	CodeBabble                   // Device sent more data than requested
	CodeDataToggle               // Data toggle mismatch
	CodeDisconnected             // Device gone or port disabled
	CodeHostFault                // Controller fault, e.g. descriptor or bus error
	CodeNoData                   // Periodic poll NAKed; the interval ends without data
)

// String returns a short description of the code.
func (c Code) String() string {
	switch c {
	case CodeNotReached:
		return "not-reached"
	case CodeOK:
		return "ok"
	case CodeNAK:
		return "nak"
	case CodeCRC:
		return "crc"
	case CodeStall:
		return "stall"
	case CodeTimeout:
		return "timeout"
	case CodeBabble:
		return "babble"
	case CodeDataToggle:
		return "data-toggle"
	case CodeDisconnected:
		return "disconnected"
	case CodeHostFault:
		return "host-fault"
	case CodeNoData:
		return "no-data"
	default:
		return fmt.Sprintf("Code(%d)", uint8(c))
	}
}

// Status maps a hardware code to a transaction status, before any length
// check.
func (c Code) Status() pkg.Status {
	switch c {
	case CodeNotReached:
		return pkg.StatusPending
	case CodeOK:
		return pkg.StatusSuccess
	case CodeDisconnected:
		return pkg.StatusCancelled
	case CodeHostFault:
		return pkg.StatusHostError
	default:
		return pkg.StatusError
	}
}

// Event reports the outcome of one transaction on one channel.
type Event struct {
	Channel int  // Hardware channel the entry was programmed on
	Index   int  // Transaction index within the request
	Code    Code // Hardware condition
	Actual  int  // Bytes actually transferred
}

// Controller is one host controller instance. Implementations exist per
// controller family and are selected by [ControllerID] at initialization.
//
// The core serializes all calls under its scheduling lock, so
// implementations need no locking of their own against the core. Reap is
// only called from interrupt handling.
type Controller interface {
	// Slots returns how many entries the schedule may hold at once.
	Slots() int

	// Channels returns how many entries may execute concurrently.
	Channels() int

	// MaxXacts returns the longest transaction chain one channel accepts.
	MaxXacts() int

	// IRQs returns the interrupt lines this controller raises.
	IRQs() []int

	// Frame returns the current frame number in 1 ms units. It is monotonic.
	Frame() uint64

	// Program starts executing r on channel ch. The transactions run in
	// order; the controller stops the chain at the first failure.
	//
	// NAKs on an aperiodic request are retried by the controller. A NAK on a
	// periodic request ends the attempt for the current interval: the
	// controller reports [CodeNoData] for that transaction and frees the
	// channel.
	Program(ch int, r *Request) error

	// Halt stops channel ch. After Halt returns the controller no longer
	// touches the buffers of the request programmed there, and reports no
	// further events for it.
	Halt(ch int)

	// Reap appends every event raised since the previous call to dst,
	// acknowledges the interrupt, and returns the extended slice.
	Reap(dst []Event) []Event

	// Close releases the controller.
	Close() error
}
