package radio

// ConnectionState represents the connection state of a device on one profile.
type ConnectionState int

// The different profile connection states.
const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

// connectionStateNames holds names of the different connection states.
var connectionStateNames = map[ConnectionState]string{
	StateDisconnected:  "disconnected",
	StateConnecting:    "connecting",
	StateConnected:     "connected",
	StateDisconnecting: "disconnecting",
}

// String returns the name of the connection state.
func (s ConnectionState) String() string {
	return connectionStateNames[s]
}

// BondState represents the bonding state of a remote device.
type BondState int

// The different bond states.
const (
	BondNone BondState = iota
	BondBonding
	BondBonded
)

// bondStateNames holds names of the different bond states.
var bondStateNames = map[BondState]string{
	BondNone:    "none",
	BondBonding: "bonding",
	BondBonded:  "bonded",
}

// String returns the name of the bond state.
func (s BondState) String() string {
	return bondStateNames[s]
}

// AdapterState represents the power state of the local adapter.
type AdapterState int

// The different adapter states.
const (
	AdapterOff AdapterState = iota
	AdapterOn
)

// String returns the name of the adapter state.
func (s AdapterState) String() string {
	if s == AdapterOn {
		return "on"
	}

	return "off"
}

// Priority represents the stack-side auto-connection priority of a device
// on one profile. A device with PriorityOff is never auto-connected.
type Priority int

// The different priorities.
const (
	PriorityUnknown Priority = iota
	PriorityOff
	PriorityOn
)

// priorityNames holds names of the different priorities.
var priorityNames = map[Priority]string{
	PriorityUnknown: "unknown",
	PriorityOff:     "off",
	PriorityOn:      "on",
}

// String returns the name of the priority.
func (p Priority) String() string {
	return priorityNames[p]
}
