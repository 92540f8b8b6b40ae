package radio

import (
	"github.com/bluetuith-org/auto-connect/events"
	"github.com/bluetuith-org/auto-connect/profile"
	"github.com/bluetuith-org/bluetooth-classic/api/bluetooth"
	"github.com/google/uuid"
)

// ProfileConnectionEvent reports a connection state change of a device
// on one profile.
type ProfileConnectionEvent struct {
	Profile profile.ID
	Address bluetooth.MacAddress
	State   ConnectionState
}

// BondEvent reports a bond state change of a remote device.
type BondEvent struct {
	Address bluetooth.MacAddress
	State   BondState
}

// AdapterStateEvent reports a power state change of the local adapter.
type AdapterStateEvent struct {
	State AdapterState
}

// UuidEvent reports a service UUID discovery on a remote device.
type UuidEvent struct {
	Address bluetooth.MacAddress
	UUIDs   []uuid.UUID
}

// ProfileConnectionEvents returns an event interface to publish and
// subscribe to profile connection events.
func ProfileConnectionEvents() events.Group[ProfileConnectionEvent] {
	return events.Group[ProfileConnectionEvent]{ID: events.EventProfileConnection}
}

// BondEvents returns an event interface to publish and subscribe to
// bond events.
func BondEvents() events.Group[BondEvent] {
	return events.Group[BondEvent]{ID: events.EventBond}
}

// AdapterStateEvents returns an event interface to publish and subscribe
// to adapter state events.
func AdapterStateEvents() events.Group[AdapterStateEvent] {
	return events.Group[AdapterStateEvent]{ID: events.EventAdapterState}
}

// UuidEvents returns an event interface to publish and subscribe to
// UUID discovery events.
func UuidEvents() events.Group[UuidEvent] {
	return events.Group[UuidEvent]{ID: events.EventUuids}
}
