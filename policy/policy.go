// Package policy implements the vehicle Bluetooth auto-connection policy:
// per-profile device registries ordered by connection recency, a
// one-attempt-at-a-time connection pass machine, and a table of
// requester-scoped profile inhibits, all persisted per user.
package policy

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/bluetuith-org/auto-connect/errorkinds"
	"github.com/bluetuith-org/auto-connect/events"
	"github.com/bluetuith-org/auto-connect/liveness"
	"github.com/bluetuith-org/auto-connect/profile"
	"github.com/bluetuith-org/auto-connect/radio"
	"github.com/bluetuith-org/auto-connect/settings"
	"github.com/bluetuith-org/auto-connect/vehicle"
	"github.com/bluetuith-org/bluetooth-classic/api/bluetooth"
)

// settingsDelimiter separates entries in persisted device and inhibit lists.
const settingsDelimiter = ","

// Errors returns an event interface to publish and subscribe to policy
// error events.
func Errors() events.Group[errorkinds.PolicyError] {
	return events.Group[errorkinds.PolicyError]{ID: events.EventPolicyError}
}

// Config holds the collaborators and tunables of a policy instance.
type Config struct {
	// Proxy is the per-profile interface to the radio stack.
	Proxy radio.ProfileProxy

	// Store persists device priority lists and inhibit records per user.
	Store settings.Store

	// Watcher turns inhibit-requester death into auto-release.
	Watcher liveness.Watcher

	// User is the initially active user.
	User int

	// ConnectTimeout bounds one connection attempt. Zero means the default.
	ConnectTimeout time.Duration
}

// Policy is the top-level auto-connection policy instance. One policy
// serves one user session at a time; all of its mutable state is guarded
// by a single lock and is torn down and rebuilt when the user changes.
type Policy struct {
	mu sync.Mutex

	proxy   radio.ProfileProxy
	store   settings.Store
	watcher liveness.Watcher

	user int

	registries map[profile.ID]*deviceRegistry
	order      []profile.ID

	inhibits inhibitTable
	coord    coordinator

	adapterOn bool
	started   bool

	connectTimeout time.Duration
	afterFunc      func(time.Duration, func()) *time.Timer

	stopCh chan struct{}
}

// NewPolicy returns a policy instance over the given collaborators.
// Call Start to subscribe it to the event bus.
func NewPolicy(cfg Config) *Policy {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	p := &Policy{
		proxy:   cfg.Proxy,
		store:   cfg.Store,
		watcher: cfg.Watcher,
		user:    cfg.User,

		registries: make(map[profile.ID]*deviceRegistry),
		order:      profile.All(),

		inhibits: newInhibitTable(),

		connectTimeout: timeout,
		afterFunc:      time.AfterFunc,

		stopCh: make(chan struct{}),
	}

	for _, id := range p.order {
		p.registries[id] = newDeviceRegistry(id)
	}

	return p
}

// lock acquires the policy-wide lock and returns the guard that the
// registry and inhibit-table mutators require.
func (p *Policy) lock() *policyGuard {
	p.mu.Lock()
	return &policyGuard{}
}

// unlock releases the policy-wide lock.
func (p *Policy) unlock() {
	p.mu.Unlock()
}

// publishError publishes a policy error event.
func (p *Policy) publishError(err error) {
	Errors().Publish(errorkinds.PolicyError{Errors: err})
}

// Start loads the active user's persisted state and subscribes the
// policy to the radio and vehicle event groups.
func (p *Policy) Start() {
	g := p.lock()

	if p.started {
		p.unlock()
		return
	}
	p.started = true

	p.loadSnapshots(g)
	p.restoreInhibits(g)

	p.unlock()

	profileSub, _ := radio.ProfileConnectionEvents().Subscribe()
	bondSub, _ := radio.BondEvents().Subscribe()
	adapterSub, _ := radio.AdapterStateEvents().Subscribe()
	uuidSub, _ := radio.UuidEvents().Subscribe()
	doorSub, _ := vehicle.DoorLockEvents().Subscribe()
	ignitionSub, _ := vehicle.IgnitionEvents().Subscribe()
	powerSub, _ := vehicle.PowerEvents().Subscribe()
	userSub, _ := vehicle.UserSwitchEvents().Subscribe()

	pump(p, profileSub, p.onProfileConnection)
	pump(p, bondSub, p.onBond)
	pump(p, adapterSub, p.onAdapterState)
	pump(p, uuidSub, p.onUuids)
	pump(p, doorSub, p.onDoorLock)
	pump(p, ignitionSub, p.onIgnition)
	pump(p, powerSub, p.onPower)
	pump(p, userSub, p.onUserSwitch)
}

// Stop persists the current state, releases all inhibits and detaches
// the policy from the event bus.
func (p *Policy) Stop() {
	g := p.lock()

	if !p.started {
		p.unlock()
		return
	}
	p.started = false

	p.clearInFlight(g)
	p.coord.state = stateIdle

	for _, id := range p.order {
		p.writeSnapshot(g, id)
	}

	p.releaseAllInhibits(g)

	p.unlock()

	close(p.stopCh)
}

// InitiateConnection triggers a connection pass, as on a door unlock or
// ignition start. Empty registries are first populated from the bonded
// device set. The trigger is a no-op while the adapter is off or while
// a pass is already in progress.
func (p *Policy) InitiateConnection() {
	g := p.lock()
	defer p.unlock()

	p.initiateConnection(g)
}

// RequestProfileInhibit suppresses auto-connection of the device on the
// profile until every requester releases it or dies.
func (p *Policy) RequestProfileInhibit(id profile.ID, address bluetooth.MacAddress, token liveness.Token) bool {
	g := p.lock()
	defer p.unlock()

	return p.requestInhibit(g, NewConnectionParams(id, address), token)
}

// ReleaseProfileInhibit releases a previously requested inhibit.
// Releasing an already released inhibit succeeds.
func (p *Policy) ReleaseProfileInhibit(id profile.ID, address bluetooth.MacAddress, token liveness.Token) bool {
	g := p.lock()
	defer p.unlock()

	return p.releaseInhibit(g, NewConnectionParams(id, address), token)
}

// initiateConnection is the locked body of InitiateConnection.
func (p *Policy) initiateConnection(g *policyGuard) {
	if !p.adapterOn {
		return
	}

	p.populateRegistries(g)
	p.beginPass(g)
}

// populateRegistries fills empty registries from the platform's bonded
// device set, gated on the stack-side priority of each device.
func (p *Policy) populateRegistries(g *policyGuard) {
	var bonded []bluetooth.DeviceData

	for _, id := range p.order {
		reg := p.registries[id]
		if len(reg.devices) > 0 {
			continue
		}

		if bonded == nil {
			bonded = p.proxy.BondedDevices()
		}

		for _, device := range bonded {
			priority, err := p.proxy.Priority(id, device.Address)
			if err != nil || priority != radio.PriorityOn {
				continue
			}

			reg.addDevice(g, device)
		}
	}
}

// onProfileConnection applies a connection state change to the profile's
// registry and, if it resolves the in-flight attempt, advances the pass.
func (p *Policy) onProfileConnection(ev radio.ProfileConnectionEvent) {
	g := p.lock()
	defer p.unlock()

	reg := p.registries[ev.Profile]
	if reg == nil {
		return
	}

	switch ev.State {
	case radio.StateConnecting, radio.StateDisconnecting:
		reg.setConnectionState(g, ev.Address, ev.State)

	case radio.StateConnected:
		params := NewConnectionParams(ev.Profile, ev.Address)

		if p.coord.hasInFlight && p.coord.inFlight == params {
			p.handleAttemptOutcome(g, params, true)
			return
		}

		// Out-of-band connection, e.g. initiated by the remote device.
		// An untracked device is adopted if its priority allows it.
		if !reg.recordOutcome(g, ev.Address, true, false) {
			priority, err := p.proxy.Priority(ev.Profile, ev.Address)
			if err != nil || priority != radio.PriorityOn {
				return
			}

			device, ok := p.bondedDevice(ev.Address)
			if !ok {
				device = bluetooth.DeviceData{
					DeviceEventData: bluetooth.DeviceEventData{Address: ev.Address},
				}
			}

			reg.addDevice(g, device)
			reg.recordOutcome(g, ev.Address, true, false)
		}

		p.writeSnapshot(g, ev.Profile)
		p.triggerConnections(g, ev.Profile, ev.Address)

	case radio.StateDisconnected:
		params := NewConnectionParams(ev.Profile, ev.Address)

		if p.coord.hasInFlight && p.coord.inFlight == params {
			p.handleAttemptOutcome(g, params, false)
			return
		}

		reg.setConnectionState(g, ev.Address, radio.StateDisconnected)
	}
}

// onBond adds a newly bonded device to the registries of the profiles
// it is allowed on, and removes an unbonded device everywhere. Inhibit
// records referencing an unbonded device stay until explicitly released.
func (p *Policy) onBond(ev radio.BondEvent) {
	g := p.lock()
	defer p.unlock()

	switch ev.State {
	case radio.BondNone:
		for _, reg := range p.registries {
			reg.removeDevice(g, ev.Address)
		}

	case radio.BondBonded:
		device, ok := p.bondedDevice(ev.Address)
		if !ok {
			device = bluetooth.DeviceData{
				DeviceEventData: bluetooth.DeviceEventData{Address: ev.Address},
			}
		}

		for _, id := range p.order {
			priority, err := p.proxy.Priority(id, ev.Address)
			if err != nil || priority != radio.PriorityOn {
				continue
			}

			p.registries[id].addDevice(g, device)
		}
	}
}

// onAdapterState reacts to the local adapter powering on or off. A
// power-off snapshots the priority lists, resets all transient state
// and cancels the in-flight attempt; a power-on triggers a fresh pass.
func (p *Policy) onAdapterState(ev radio.AdapterStateEvent) {
	g := p.lock()
	defer p.unlock()

	switch ev.State {
	case radio.AdapterOff:
		p.adapterOn = false

		p.clearInFlight(g)
		p.coord.state = stateIdle

		for _, id := range p.order {
			p.writeSnapshot(g, id)
			p.registries[id].resetConnectionInfo(g)
		}

	case radio.AdapterOn:
		p.adapterOn = true
		p.initiateConnection(g)
	}
}

// onUuids provisions a device on the profiles whose service UUIDs it
// advertises. Only devices with no priority decision yet are touched;
// an explicit off priority is never overridden.
func (p *Policy) onUuids(ev radio.UuidEvent) {
	g := p.lock()
	defer p.unlock()

	for _, id := range p.order {
		if !id.Supports(ev.UUIDs) {
			continue
		}

		priority, err := p.proxy.Priority(id, ev.Address)
		if err != nil || priority != radio.PriorityUnknown {
			continue
		}

		if err := p.proxy.SetPriority(id, ev.Address, radio.PriorityOn); err != nil {
			p.publishError(fault.Wrap(err,
				fctx.With(context.Background(),
					"error_at", "policy-provision",
					"profile", id.String(),
					"address", ev.Address.String(),
				),
				ftag.With(ftag.Internal),
				fmsg.With("Cannot provision device priority"),
			))

			continue
		}

		device, ok := p.bondedDevice(ev.Address)
		if !ok {
			device = bluetooth.DeviceData{
				DeviceEventData: bluetooth.DeviceEventData{Address: ev.Address},
			}
		}

		p.registries[id].addDevice(g, device)
	}
}

// onDoorLock triggers a connection pass on a door unlock.
func (p *Policy) onDoorLock(ev vehicle.DoorLockEvent) {
	if ev.Locked {
		return
	}

	g := p.lock()
	defer p.unlock()

	p.initiateConnection(g)
}

// onIgnition triggers a connection pass when the ignition comes on.
func (p *Policy) onIgnition(ev vehicle.IgnitionEvent) {
	if ev.State != vehicle.IgnitionStart && ev.State != vehicle.IgnitionOn {
		return
	}

	g := p.lock()
	defer p.unlock()

	p.initiateConnection(g)
}

// onPower triggers a pass on power-on and snapshots state when shutdown
// is being prepared. The completion callback runs outside the lock.
func (p *Policy) onPower(ev vehicle.PowerEvent) {
	g := p.lock()

	switch ev.State {
	case vehicle.PowerOn:
		p.initiateConnection(g)

	case vehicle.PowerShutdownPrepare:
		for _, id := range p.order {
			p.writeSnapshot(g, id)
		}

	case vehicle.PowerOff:
	}

	p.unlock()

	if ev.Complete != nil {
		ev.Complete()
	}
}

// onUserSwitch tears the per-user state down and rebuilds it for the
// new active user.
func (p *Policy) onUserSwitch(ev vehicle.UserSwitchEvent) {
	g := p.lock()
	defer p.unlock()

	if ev.User == p.user {
		return
	}

	p.clearInFlight(g)
	p.coord.state = stateIdle

	for _, id := range p.order {
		p.writeSnapshot(g, id)
	}

	p.releaseAllInhibits(g)

	for _, reg := range p.registries {
		reg.resetDeviceList(g)
	}

	p.user = ev.User

	p.loadSnapshots(g)
	p.restoreInhibits(g)

	p.initiateConnection(g)
}

// loadSnapshots loads every profile's persisted device priority list
// for the current user.
func (p *Policy) loadSnapshots(g *policyGuard) {
	for _, id := range p.order {
		p.loadSnapshot(g, id)
	}
}

// loadSnapshot loads one profile's persisted device priority list. The
// list is most-recent-first; devices are inserted back-to-front so the
// registry ends up in the persisted order.
func (p *Policy) loadSnapshot(g *policyGuard, id profile.ID) {
	reg := p.registries[id]

	value, ok := p.store.Get(p.user, reg.desc.SettingsKey)
	if !ok || value == "" {
		return
	}

	fields := strings.Split(value, settingsDelimiter)

	for i := len(fields) - 1; i >= 0; i-- {
		address, err := bluetooth.ParseMAC(fields[i])
		if err != nil {
			p.publishError(fault.Wrap(err,
				fctx.With(context.Background(),
					"error_at", "policy-load-snapshot",
					"key", reg.desc.SettingsKey,
					"address", fields[i],
				),
				ftag.With(ftag.Internal),
				fmsg.With("Cannot parse persisted device address"),
			))

			continue
		}

		device, ok := p.bondedDevice(address)
		if !ok {
			device = bluetooth.DeviceData{
				DeviceEventData: bluetooth.DeviceEventData{Address: address},
			}
		}

		reg.addDevice(g, device)
	}
}

// writeSnapshot persists one profile's device priority list for the
// current user. A storage failure is reported and the policy continues
// on in-memory state.
func (p *Policy) writeSnapshot(g *policyGuard, id profile.ID) {
	reg := p.registries[id]

	value := strings.Join(reg.snapshot(g), settingsDelimiter)

	if err := p.store.Put(p.user, reg.desc.SettingsKey, value); err != nil {
		p.publishError(fault.Wrap(err,
			fctx.With(context.Background(),
				"error_at", "policy-write-snapshot",
				"key", reg.desc.SettingsKey,
			),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot persist device priority list"),
		))
	}
}

// bondedDevice looks a device up in the platform's bonded set.
func (p *Policy) bondedDevice(address bluetooth.MacAddress) (bluetooth.DeviceData, bool) {
	for _, device := range p.proxy.BondedDevices() {
		if device.Address == address {
			return device, true
		}
	}

	return bluetooth.DeviceData{}, false
}

// pump forwards events from a subscriber to a handler until the policy
// stops or the subscription closes.
func pump[T any](p *Policy, sub *events.Subscriber[T], handle func(T)) {
	go func() {
		defer sub.Unsubscribe()

		for {
			select {
			case ev, ok := <-sub.C:
				if !ok {
					return
				}

				handle(ev)

			case <-p.stopCh:
				return
			}
		}
	}()
}
