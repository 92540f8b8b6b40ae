package policy

import (
	"github.com/bluetuith-org/auto-connect/profile"
	"github.com/bluetuith-org/auto-connect/radio"
	"github.com/bluetuith-org/bluetooth-classic/api/bluetooth"
)

// maxConnectRetries is the number of times a device is retried on one
// profile within a single connection pass.
const maxConnectRetries = 1

// deviceTag biases the ordering of a device within a registry.
type deviceTag int

// The different device tags.
const (
	tagNone deviceTag = iota
	tagPrimary
	tagSecondary
)

// policyGuard proves that the policy-wide lock is held. Registry and
// inhibit-table mutators require one; the only way to obtain a guard is
// through (*Policy).lock, so the locking contract is carried by the type
// instead of a comment.
type policyGuard struct{ _ [0]byte }

// deviceRegistry holds the per-profile connection bookkeeping: the ordered
// list of connectable devices (most recently connected first — the order IS
// the connection priority), their current connection states, and the
// cursor/retry state of the ongoing connection pass.
type deviceRegistry struct {
	id   profile.ID
	desc profile.Descriptor

	devices []bluetooth.DeviceData
	states  map[bluetooth.MacAddress]radio.ConnectionState
	tags    map[bluetooth.MacAddress]deviceTag

	cursor    int
	retries   int
	available bool
}

// newDeviceRegistry returns an empty registry for a profile.
func newDeviceRegistry(id profile.ID) *deviceRegistry {
	desc, _ := profile.Describe(id)

	return &deviceRegistry{
		id:        id,
		desc:      desc,
		states:    make(map[bluetooth.MacAddress]radio.ConnectionState),
		tags:      make(map[bluetooth.MacAddress]deviceTag),
		available: true,
	}
}

// addDevice inserts a device at the front of the list if absent.
// Ordering of devices already present only changes through a successful
// connection, never through re-addition.
func (r *deviceRegistry) addDevice(_ *policyGuard, device bluetooth.DeviceData) {
	if r.indexOf(device.Address) >= 0 {
		return
	}

	r.devices = append([]bluetooth.DeviceData{device}, r.devices...)
	r.states[device.Address] = radio.StateDisconnected
}

// removeDevice removes a device and clears any state referencing it.
// Unknown devices are ignored.
func (r *deviceRegistry) removeDevice(_ *policyGuard, address bluetooth.MacAddress) {
	i := r.indexOf(address)
	if i < 0 {
		return
	}

	r.devices = append(r.devices[:i], r.devices[i+1:]...)
	delete(r.states, address)
	delete(r.tags, address)

	if r.cursor > i {
		r.cursor--
	}
}

// nextCandidate returns the next device to attempt a connection on,
// positioning the cursor on it. Devices already connected or connecting
// are skipped. Returns false when the list is exhausted or the profile's
// connection limit is reached, marking the registry unavailable for the
// rest of the pass.
func (r *deviceRegistry) nextCandidate(g *policyGuard) (bluetooth.DeviceData, bool) {
	if r.activeConnections(g) >= r.desc.MaxConnections {
		return bluetooth.DeviceData{}, false
	}

	for i := r.cursor; i < len(r.devices); i++ {
		state := r.states[r.devices[i].Address]
		if state == radio.StateConnected || state == radio.StateConnecting {
			continue
		}

		r.cursor = i

		return r.devices[i], true
	}

	r.available = false

	return bluetooth.DeviceData{}, false
}

// recordOutcome records the result of a connection attempt on a device.
// Success moves the device to the front of the list (it becomes the new
// highest priority) and marks it connected. Failure either keeps the
// cursor for a retry or advances it to the next device.
// Unknown devices are ignored; the registry never faults on a stale
// reference.
func (r *deviceRegistry) recordOutcome(_ *policyGuard, address bluetooth.MacAddress, connected, retryAllowed bool) bool {
	i := r.indexOf(address)
	if i < 0 {
		return false
	}

	if connected {
		device := r.devices[i]
		r.devices = append(r.devices[:i], r.devices[i+1:]...)
		r.devices = append([]bluetooth.DeviceData{device}, r.devices...)

		// The front-move shifts every device before index i one slot
		// back; keep the cursor on the device it was scanning.
		if r.cursor <= i {
			r.cursor++
		}

		r.states[address] = radio.StateConnected
		r.retries = 0

		return true
	}

	r.states[address] = radio.StateDisconnected

	if retryAllowed && r.retries < maxConnectRetries {
		r.retries++
	} else {
		r.cursor++
		r.retries = 0
	}

	return true
}

// resetForNewAttempt rewinds the pass state for a fresh connection
// trigger: cursor to the head, retries cleared, availability restored and
// transient connecting states dropped. The persisted recency ordering is
// kept, with tagged devices pulled ahead of it.
func (r *deviceRegistry) resetForNewAttempt(_ *policyGuard) {
	r.cursor = 0
	r.retries = 0
	r.available = true

	for address, state := range r.states {
		if state == radio.StateConnecting || state == radio.StateDisconnecting {
			r.states[address] = radio.StateDisconnected
		}
	}

	r.applyTagOrdering()
}

// resetConnectionInfo drops all transient connection state, as on an
// adapter power-off. The device list itself is kept.
func (r *deviceRegistry) resetConnectionInfo(_ *policyGuard) {
	r.cursor = 0
	r.retries = 0
	r.available = true

	for address := range r.states {
		r.states[address] = radio.StateDisconnected
	}
}

// resetDeviceList drops the device list entirely, as on a user switch.
func (r *deviceRegistry) resetDeviceList(_ *policyGuard) {
	r.devices = nil
	r.states = make(map[bluetooth.MacAddress]radio.ConnectionState)
	r.tags = make(map[bluetooth.MacAddress]deviceTag)
	r.cursor = 0
	r.retries = 0
	r.available = true
}

// isConnectable returns whether the registry can still produce a
// candidate in the current pass.
func (r *deviceRegistry) isConnectable(g *policyGuard) bool {
	if !r.available || r.activeConnections(g) >= r.desc.MaxConnections {
		return false
	}

	for i := r.cursor; i < len(r.devices); i++ {
		state := r.states[r.devices[i].Address]
		if state != radio.StateConnected && state != radio.StateConnecting {
			return true
		}
	}

	return false
}

// setAvailable marks whether any device is still available to try in
// the current pass.
func (r *deviceRegistry) setAvailable(_ *policyGuard, available bool) {
	r.available = available
}

// setConnectionState records an externally observed connection state for
// a device. Unknown devices are ignored.
func (r *deviceRegistry) setConnectionState(_ *policyGuard, address bluetooth.MacAddress, state radio.ConnectionState) {
	if r.indexOf(address) < 0 {
		return
	}

	r.states[address] = state
}

// setTag attaches a priority tag to a device. Unknown devices are ignored.
func (r *deviceRegistry) setTag(_ *policyGuard, address bluetooth.MacAddress, tag deviceTag) {
	if r.indexOf(address) < 0 {
		return
	}

	r.tags[address] = tag
}

// activeConnections counts the devices currently connected on the profile.
func (r *deviceRegistry) activeConnections(_ *policyGuard) int {
	var n int

	for _, state := range r.states {
		if state == radio.StateConnected {
			n++
		}
	}

	return n
}

// snapshot returns the device addresses in priority order.
func (r *deviceRegistry) snapshot(_ *policyGuard) []string {
	addresses := make([]string, 0, len(r.devices))
	for _, device := range r.devices {
		addresses = append(addresses, device.Address.String())
	}

	return addresses
}

// indexOf returns the position of a device in the list, or -1.
func (r *deviceRegistry) indexOf(address bluetooth.MacAddress) int {
	for i, device := range r.devices {
		if device.Address == address {
			return i
		}
	}

	return -1
}

// applyTagOrdering pulls primary-tagged devices to the head of the list
// and secondary-tagged devices behind them, keeping the recency order
// within each band.
func (r *deviceRegistry) applyTagOrdering() {
	if len(r.tags) == 0 {
		return
	}

	var primary, secondary, rest []bluetooth.DeviceData

	for _, device := range r.devices {
		switch r.tags[device.Address] {
		case tagPrimary:
			primary = append(primary, device)
		case tagSecondary:
			secondary = append(secondary, device)
		default:
			rest = append(rest, device)
		}
	}

	r.devices = append(append(primary, secondary...), rest...)
}
