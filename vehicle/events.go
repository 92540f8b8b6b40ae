// Package vehicle describes the inbound vehicle signals the connection
// policy reacts to. The platform integration publishes these events on
// the shared bus; the policy only subscribes.
package vehicle

import (
	"github.com/bluetuith-org/auto-connect/events"
)

// IgnitionState represents the vehicle ignition state.
type IgnitionState int

// The different ignition states.
const (
	IgnitionUndefined IgnitionState = iota
	IgnitionLock
	IgnitionOff
	IgnitionAccessory
	IgnitionOn
	IgnitionStart
)

// ignitionStateNames holds names of the different ignition states.
var ignitionStateNames = map[IgnitionState]string{
	IgnitionUndefined: "undefined",
	IgnitionLock:      "lock",
	IgnitionOff:       "off",
	IgnitionAccessory: "accessory",
	IgnitionOn:        "on",
	IgnitionStart:     "start",
}

// String returns the name of the ignition state.
func (s IgnitionState) String() string {
	return ignitionStateNames[s]
}

// PowerState represents the vehicle power state.
type PowerState int

// The different power states.
const (
	PowerOff PowerState = iota
	PowerOn
	PowerShutdownPrepare
)

// DoorLockEvent reports a door lock or unlock.
type DoorLockEvent struct {
	Locked bool
}

// IgnitionEvent reports an ignition state change.
type IgnitionEvent struct {
	State IgnitionState
}

// PowerEvent reports a vehicle power state change. Complete, when set,
// acknowledges the transition once the policy has finished reacting to it.
type PowerEvent struct {
	State    PowerState
	Complete func()
}

// UserSwitchEvent reports a change of the active user.
type UserSwitchEvent struct {
	User int
}

// DoorLockEvents returns an event interface to publish and subscribe to
// door lock events.
func DoorLockEvents() events.Group[DoorLockEvent] {
	return events.Group[DoorLockEvent]{ID: events.EventDoorLock}
}

// IgnitionEvents returns an event interface to publish and subscribe to
// ignition events.
func IgnitionEvents() events.Group[IgnitionEvent] {
	return events.Group[IgnitionEvent]{ID: events.EventIgnition}
}

// PowerEvents returns an event interface to publish and subscribe to
// power events.
func PowerEvents() events.Group[PowerEvent] {
	return events.Group[PowerEvent]{ID: events.EventPower}
}

// UserSwitchEvents returns an event interface to publish and subscribe to
// user switch events.
func UserSwitchEvents() events.Group[UserSwitchEvent] {
	return events.Group[UserSwitchEvent]{ID: events.EventUserSwitch}
}
