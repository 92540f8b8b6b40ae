package bluez

import (
	"context"
	"strings"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/bluetuith-org/auto-connect/profile"
	"github.com/bluetuith-org/auto-connect/radio"
	"github.com/bluetuith-org/bluetooth-classic/api/bluetooth"
	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"
)

// Watcher translates BlueZ D-Bus signals into the radio event groups
// the policy subscribes to.
type Watcher struct {
	conn  *dbus.Conn
	proxy *Proxy

	signals chan *dbus.Signal
	done    chan struct{}
}

// NewWatcher returns a watcher for the proxy's adapter. The current
// adapter power state is published immediately so a late-starting
// policy still learns it.
func NewWatcher(conn *dbus.Conn, proxy *Proxy) (*Watcher, error) {
	w := &Watcher{
		conn:    conn,
		proxy:   proxy,
		signals: make(chan *dbus.Signal, 10),
		done:    make(chan struct{}),
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchSender(bluezName),
		dbus.WithMatchInterface(propertiesIface),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		return nil, fault.Wrap(err,
			fctx.With(context.Background(), "error_at", "bluez-watch-properties"),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot watch device properties"),
		)
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchSender(bluezName),
		dbus.WithMatchInterface(objectManagerIface),
	); err != nil {
		return nil, fault.Wrap(err,
			fctx.With(context.Background(), "error_at", "bluez-watch-objects"),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot watch object lifecycle"),
		)
	}

	conn.Signal(w.signals)

	return w, nil
}

// Run dispatches signals until Stop is called or the bus connection
// closes.
func (w *Watcher) Run() error {
	w.publishAdapterState()

	for {
		select {
		case signal, ok := <-w.signals:
			if !ok {
				return nil
			}

			w.dispatch(signal)

		case <-w.done:
			return nil
		}
	}
}

// Stop makes Run return.
func (w *Watcher) Stop() {
	close(w.done)
}

// publishAdapterState reads and publishes the current adapter power state.
func (w *Watcher) publishAdapterState() {
	state := radio.AdapterOff

	if powered, err := w.proxy.adapterProperty("Powered"); err == nil {
		if b, ok := powered.Value().(bool); ok && b {
			state = radio.AdapterOn
		}
	}

	radio.AdapterStateEvents().Publish(radio.AdapterStateEvent{State: state})
}

func (w *Watcher) dispatch(signal *dbus.Signal) {
	switch signal.Name {
	case propertiesIface + ".PropertiesChanged":
		w.onPropertiesChanged(signal)

	case objectManagerIface + ".InterfacesRemoved":
		w.onInterfacesRemoved(signal)
	}
}

// onPropertiesChanged maps Adapter1 and Device1 property changes onto
// adapter, bond, UUID discovery and profile connection events.
func (w *Watcher) onPropertiesChanged(signal *dbus.Signal) {
	if len(signal.Body) < 2 {
		return
	}

	iface, ok := signal.Body[0].(string)
	if !ok {
		return
	}

	changed, ok := signal.Body[1].(map[string]dbus.Variant)
	if !ok {
		return
	}

	switch iface {
	case adapterIface:
		if signal.Path != w.proxy.adapterPath {
			return
		}

		if powered, ok := changed["Powered"]; ok {
			state := radio.AdapterOff
			if b, ok := powered.Value().(bool); ok && b {
				state = radio.AdapterOn
			}

			radio.AdapterStateEvents().Publish(radio.AdapterStateEvent{State: state})
		}

	case deviceIface:
		address, ok := addressFromPath(signal.Path)
		if !ok {
			return
		}

		w.onDeviceChanged(address, changed)
	}
}

// onDeviceChanged publishes the events a Device1 property change implies.
func (w *Watcher) onDeviceChanged(address bluetooth.MacAddress, changed map[string]dbus.Variant) {
	if paired, ok := changed["Paired"]; ok {
		state := radio.BondNone
		if b, ok := paired.Value().(bool); ok && b {
			state = radio.BondBonded
		}

		radio.BondEvents().Publish(radio.BondEvent{Address: address, State: state})
	}

	if uuids, ok := changed["UUIDs"]; ok {
		if names, ok := uuids.Value().([]string); ok {
			radio.UuidEvents().Publish(radio.UuidEvent{
				Address: address,
				UUIDs:   ParseUUIDs(names),
			})
		}
	}

	if connected, ok := changed["Connected"]; ok {
		b, isBool := connected.Value().(bool)
		if !isBool {
			return
		}

		state := radio.StateDisconnected
		if b {
			state = radio.StateConnected
		}

		// BlueZ reports device-level connectivity; fan it out to the
		// profiles the device advertises.
		for _, id := range w.deviceProfiles(address) {
			radio.ProfileConnectionEvents().Publish(radio.ProfileConnectionEvent{
				Profile: id,
				Address: address,
				State:   state,
			})
		}
	}
}

// onInterfacesRemoved publishes an unbond when a device object leaves
// the bus.
func (w *Watcher) onInterfacesRemoved(signal *dbus.Signal) {
	if len(signal.Body) < 2 {
		return
	}

	path, ok := signal.Body[0].(dbus.ObjectPath)
	if !ok {
		return
	}

	ifaces, ok := signal.Body[1].([]string)
	if !ok {
		return
	}

	for _, iface := range ifaces {
		if iface != deviceIface {
			continue
		}

		if address, ok := addressFromPath(path); ok {
			radio.BondEvents().Publish(radio.BondEvent{Address: address, State: radio.BondNone})
		}

		return
	}
}

// deviceProfiles returns the managed profiles a device advertises.
func (w *Watcher) deviceProfiles(address bluetooth.MacAddress) []profile.ID {
	obj := w.conn.Object(bluezName, w.proxy.devicePath(address))

	variant, err := w.proxy.deviceProperty(obj, "UUIDs")
	if err != nil {
		return nil
	}

	names, ok := variant.Value().([]string)
	if !ok {
		return nil
	}

	uuids := ParseUUIDs(names)

	var ids []profile.ID

	for _, id := range profile.All() {
		if id.Supports(uuids) {
			ids = append(ids, id)
		}
	}

	return ids
}

// addressFromPath extracts the device address from a BlueZ device
// object path ("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF").
func addressFromPath(path dbus.ObjectPath) (bluetooth.MacAddress, bool) {
	_, raw, ok := strings.Cut(string(path), "/dev_")
	if !ok {
		return bluetooth.MacAddress{}, false
	}

	address, err := bluetooth.ParseMAC(strings.ReplaceAll(raw, "_", ":"))
	if err != nil {
		return bluetooth.MacAddress{}, false
	}

	return address, true
}

// ParseUUIDs parses the string UUID list BlueZ exposes, dropping
// malformed entries.
func ParseUUIDs(names []string) []uuid.UUID {
	uuids := make([]uuid.UUID, 0, len(names))

	for _, name := range names {
		u, err := uuid.Parse(name)
		if err != nil {
			continue
		}

		uuids = append(uuids, u)
	}

	return uuids
}
