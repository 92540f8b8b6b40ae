// Package radio describes the narrow capability surface the connection
// policy uses to talk to the per-profile radio stack, together with the
// inbound event groups the stack publishes.
//
// Connect and Disconnect are dispatch-only: a nil return means the request
// was handed to the stack, not that the device connected. The outcome
// always arrives later as a ProfileConnectionEvent.
package radio

import (
	"github.com/bluetuith-org/auto-connect/profile"
	"github.com/bluetuith-org/bluetooth-classic/api/bluetooth"
)

// ProfileProxy describes a function call interface to invoke profile
// related functions on the radio stack.
type ProfileProxy interface {
	// Connect requests a connection of the device on the given profile.
	Connect(id profile.ID, address bluetooth.MacAddress) error

	// Disconnect requests a disconnection of the device from the given profile.
	Disconnect(id profile.ID, address bluetooth.MacAddress) error

	// SetPriority sets the stack-side auto-connection priority of the
	// device on the given profile.
	SetPriority(id profile.ID, address bluetooth.MacAddress, priority Priority) error

	// Priority returns the stack-side auto-connection priority of the
	// device on the given profile.
	Priority(id profile.ID, address bluetooth.MacAddress) (Priority, error)

	// ConnectionState returns the current connection state of the device
	// on the given profile.
	ConnectionState(id profile.ID, address bluetooth.MacAddress) (ConnectionState, error)

	// IsAvailable returns whether the proxy for the given profile is bound
	// and usable.
	IsAvailable(id profile.ID) bool

	// BondedDevices returns the platform's current set of bonded devices.
	BondedDevices() []bluetooth.DeviceData
}
