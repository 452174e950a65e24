package pkg

import "errors"

// Scheduling errors, reported synchronously by the host controller core.
var (
	// ErrInvalidTopology indicates inconsistent device address, hub address,
	// hub port, or speed parameters.
	ErrInvalidTopology = errors.New("invalid topology")

	// ErrDuplicateEndpoint indicates an active entry already occupies the
	// same device address and endpoint.
	ErrDuplicateEndpoint = errors.New("duplicate endpoint")

	// ErrResourceExhausted indicates no schedule slot or hardware descriptor
	// is available. The request may be retried later.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrUnsupportedController indicates no controller family is registered
	// for the requested controller ID.
	ErrUnsupportedController = errors.New("unsupported controller")

	// ErrResourceUnavailable indicates the controller could not be brought up
	// with the resources provided.
	ErrResourceUnavailable = errors.New("resource unavailable")
)

// USB protocol and parameter errors.
var (
	// ErrCancelled indicates a cancelled transaction.
	ErrCancelled = errors.New("transaction cancelled")

	// ErrProtocol indicates a protocol error (NAK limit, CRC, stall, timeout).
	ErrProtocol = errors.New("protocol error")

	// ErrHostFault indicates a controller-level fault.
	ErrHostFault = errors.New("host controller fault")

	// ErrInvalidEndpoint indicates an invalid endpoint number.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrBufferTooSmall indicates the provided buffer is too small.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrNoMemory indicates insufficient DMA memory.
	ErrNoMemory = errors.New("insufficient memory")

	// ErrBusy indicates the resource is busy.
	ErrBusy = errors.New("resource busy")

	// ErrNotRunning indicates the host has been closed.
	ErrNotRunning = errors.New("not running")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")
)

// Status represents the completion status of a single USB transaction, or
// the aggregate status of an entry.
type Status int

// Transaction status values.
const (
	StatusSuccess   Status = iota // Transaction completed successfully
	StatusPending                 // Not yet processed by the hardware
	StatusCancelled               // Cancelled due to disconnect or request
	StatusError                   // Protocol-level failure
	StatusHostError               // Controller-level failure
)

// String returns a string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusPending:
		return "pending"
	case StatusCancelled:
		return "cancelled"
	case StatusError:
		return "error"
	case StatusHostError:
		return "hosterror"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is a final outcome.
func (s Status) Terminal() bool {
	return s != StatusPending
}

// Err returns the corresponding error for the status. Success and pending
// map to nil.
func (s Status) Err() error {
	switch s {
	case StatusSuccess, StatusPending:
		return nil
	case StatusCancelled:
		return ErrCancelled
	case StatusHostError:
		return ErrHostFault
	default:
		return ErrProtocol
	}
}
