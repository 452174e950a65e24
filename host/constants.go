package host

import "fmt"

// Bus topology limits.
const (
	// MaxAddress is the highest assignable device address.
	MaxAddress = 127

	// MaxEndpoint is the highest endpoint number.
	MaxEndpoint = 15

	// MaxHubPort is the highest hub port a split transaction can address.
	MaxHubPort = 127
)

// entryState is the lifecycle position of a schedule entry.
//
//	Scheduled -> Dispatched -> Completing -> Scheduled (rearmed)
//	                                      -> Retired
//	any state before Retired -> Cancelled
type entryState uint8

const (
	stateScheduled  entryState = iota // Waiting in a queue
	stateDispatched                   // Programmed on a channel
	stateCompleting                   // All transactions terminal, callback pending
	stateRetired                      // Callback declined rearm
	stateCancelled                    // Withdrawn by Cancel or Close
)

// String returns the state name.
func (s entryState) String() string {
	switch s {
	case stateScheduled:
		return "scheduled"
	case stateDispatched:
		return "dispatched"
	case stateCompleting:
		return "completing"
	case stateRetired:
		return "retired"
	case stateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("entryState(%d)", uint8(s))
	}
}

// live reports whether an entry in this state still owns its slot.
func (s entryState) live() bool {
	return s < stateRetired
}
