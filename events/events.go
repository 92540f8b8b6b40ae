// Package events wraps the shared event bus with typed event groups.
// The bus itself comes from the bluetooth-classic eventbus, so policy
// events travel alongside the session's own adapter and device events.
package events

import (
	"github.com/bluetuith-org/bluetooth-classic/api/eventbus"
)

// ID represents a unique event ID.
// The ID space starts above the ranges used by bluetooth-classic
// to keep the shared bus topics disjoint.
type ID uint

// The different types of event IDs.
const (
	EventNone ID = iota + 0x20 // The zero value for this type.
	EventPolicyError
	EventProfileConnection
	EventBond
	EventAdapterState
	EventUuids
	EventDoorLock
	EventIgnition
	EventPower
	EventUserSwitch
	EventInhibit
)

// eventNames holds names of different events.
var eventNames = map[ID]string{
	EventNone:              "",
	EventPolicyError:       "policy_error_event",
	EventProfileConnection: "profile_connection_event",
	EventBond:              "bond_event",
	EventAdapterState:      "adapter_state_event",
	EventUuids:             "uuid_event",
	EventDoorLock:          "door_lock_event",
	EventIgnition:          "ignition_event",
	EventPower:             "power_event",
	EventUserSwitch:        "user_switch_event",
	EventInhibit:           "inhibit_event",
}

// String returns the name of the event ID.
func (e ID) String() string {
	return eventNames[e]
}

// Value returns the event ID.
func (e ID) Value() uint {
	return uint(e)
}

// Group describes a typed publish/subscribe surface over one event ID.
type Group[T any] struct {
	// ID holds the event ID.
	ID ID
}

// Subscriber describes a subscription to an event group.
type Subscriber[T any] struct {
	C    chan T
	Done chan struct{}

	Unsubscribe eventbus.UnsubFunc
}

// Publish publishes an event to the event stream.
func (g Group[T]) Publish(data T) {
	eventbus.Publish(g.ID, data)
}

// Subscribe subscribes to an event group, and returns a subscriber which can
// be used to receive events and to unsubscribe from the group.
func (g Group[T]) Subscribe() (*Subscriber[T], bool) {
	id := eventbus.Subscribe(g.ID)

	sub := Subscriber[T]{
		C:           make(chan T, 1),
		Done:        make(chan struct{}, 1),
		Unsubscribe: id.Unsubscribe,
	}

	if !id.IsActive() {
		close(sub.C)
		return &sub, false
	}

	go func() {
		for data := range id.C {
			v, ok := data.(T)
			if !ok {
				continue
			}

			select {
			case sub.C <- v:
			default:
			}
		}

		select {
		case sub.Done <- struct{}{}:
		default:
		}

		close(sub.C)
	}()

	return &sub, true
}
