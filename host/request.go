package host

import (
	"fmt"

	"github.com/ardnew/usbhcd/host/hal"
	"github.com/ardnew/usbhcd/pkg"
)

// Xact describes one transaction of a request.
type Xact = hal.Xact

// Request describes one schedule entry: a chain of transactions to a single
// endpoint of a single device.
//
// Period 0 makes the request aperiodic (control or bulk). A positive Period
// polls the endpoint every Period frames for as long as the Completer asks
// to rearm.
type Request struct {
	Address    uint8     // Device address (0-127)
	HubAddress uint8     // Transaction translator hub, 0 for none
	HubPort    uint8     // Port on HubAddress, 0 when HubAddress is 0
	Speed      hal.Speed // Device speed
	Endpoint   uint8     // Endpoint number (0-15)
	MaxPacket  uint16    // Endpoint max packet size
	Period     int       // Frames between polls, 0 for aperiodic
	Xacts      []Xact    // Executed in order; SETUP only first

	Completer Completer // Called once per completion cycle
	Token     any       // Returned unchanged in each Completion
}

// validate checks everything that does not depend on host state.
func (r *Request) validate() error {
	switch {
	case r.Address > MaxAddress:
		return fmt.Errorf("%w: address %d", pkg.ErrInvalidTopology, r.Address)
	case r.HubAddress > MaxAddress:
		return fmt.Errorf("%w: hub address %d", pkg.ErrInvalidTopology, r.HubAddress)
	case r.HubPort > MaxHubPort:
		return fmt.Errorf("%w: hub port %d", pkg.ErrInvalidTopology, r.HubPort)
	case r.HubAddress == 0 && r.HubPort != 0:
		return fmt.Errorf("%w: hub port %d without hub", pkg.ErrInvalidTopology, r.HubPort)
	case r.HubAddress != 0 && r.HubPort == 0:
		return fmt.Errorf("%w: hub %d without port", pkg.ErrInvalidTopology, r.HubAddress)
	case r.HubAddress != 0 && r.HubAddress == r.Address:
		return fmt.Errorf("%w: device %d behind itself", pkg.ErrInvalidTopology, r.Address)
	case !r.Speed.Valid():
		return fmt.Errorf("%w: speed %d", pkg.ErrInvalidTopology, r.Speed)
	case r.Endpoint > MaxEndpoint:
		return fmt.Errorf("%w: %d", pkg.ErrInvalidEndpoint, r.Endpoint)
	case r.Completer == nil:
		return fmt.Errorf("%w: nil completer", pkg.ErrInvalidParameter)
	case len(r.Xacts) == 0:
		return fmt.Errorf("%w: no transactions", pkg.ErrInvalidParameter)
	case r.Period < 0:
		return fmt.Errorf("%w: period %d", pkg.ErrInvalidParameter, r.Period)
	case r.MaxPacket == 0 || r.MaxPacket > r.Speed.MaxPacketLimit():
		return fmt.Errorf("%w: max packet %d at %v", pkg.ErrInvalidParameter, r.MaxPacket, r.Speed)
	}

	for i := range r.Xacts {
		x := &r.Xacts[i]
		switch {
		case !x.Type.Valid():
			return fmt.Errorf("%w: transaction %d type %v", pkg.ErrInvalidParameter, i, x.Type)
		case x.Len < 0:
			return fmt.Errorf("%w: transaction %d length %d", pkg.ErrInvalidParameter, i, x.Len)
		case x.Type == hal.XactSetup && i != 0:
			return fmt.Errorf("%w: SETUP at transaction %d", pkg.ErrInvalidParameter, i)
		case x.Type == hal.XactSetup && x.Len != hal.SetupPacketSize:
			return fmt.Errorf("%w: SETUP length %d", pkg.ErrInvalidParameter, x.Len)
		case x.Len > 0 && x.Buf == nil:
			return fmt.Errorf("%w: transaction %d has no buffer", pkg.ErrBufferTooSmall, i)
		case x.Buf != nil && x.Len > x.Buf.Len():
			return fmt.Errorf("%w: transaction %d needs %d, buffer holds %d",
				pkg.ErrBufferTooSmall, i, x.Len, x.Buf.Len())
		}
	}
	return nil
}

// Periodic reports whether r polls its endpoint.
func (r *Request) Periodic() bool {
	return r.Period > 0
}

type endpointKey struct {
	addr, ep uint8
}

func (r *Request) key() endpointKey {
	return endpointKey{r.Address, r.Endpoint}
}
