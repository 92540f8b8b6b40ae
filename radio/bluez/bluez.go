// Package bluez implements the radio profile proxy and event watcher on
// top of the BlueZ D-Bus interfaces.
//
// BlueZ has no per-profile auto-connection priority; the proxy maps the
// priority surface onto the Device1 Trusted and Blocked properties, and
// uses ConnectProfile/DisconnectProfile with the profile's remote service
// UUID for per-profile connection control.
package bluez

import (
	"context"
	"strings"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/bluetuith-org/auto-connect/errorkinds"
	"github.com/bluetuith-org/auto-connect/profile"
	"github.com/bluetuith-org/auto-connect/radio"
	"github.com/bluetuith-org/bluetooth-classic/api/bluetooth"
	"github.com/godbus/dbus/v5"
)

const (
	bluezName = "org.bluez"

	adapterIface = "org.bluez.Adapter1"
	deviceIface  = "org.bluez.Device1"

	objectManagerIface = "org.freedesktop.DBus.ObjectManager"
	propertiesIface    = "org.freedesktop.DBus.Properties"
)

// Proxy implements radio.ProfileProxy over one BlueZ adapter.
type Proxy struct {
	conn *dbus.Conn

	adapterPath dbus.ObjectPath
}

// NewProxy returns a proxy bound to the named adapter (e.g. "hci0") on
// the provided system bus connection.
func NewProxy(conn *dbus.Conn, adapter string) (*Proxy, error) {
	p := &Proxy{
		conn:        conn,
		adapterPath: dbus.ObjectPath("/org/bluez/" + adapter),
	}

	if _, err := p.adapterProperty("Powered"); err != nil {
		return nil, fault.Wrap(err,
			fctx.With(context.Background(),
				"error_at", "bluez-adapter",
				"adapter", adapter,
			),
			ftag.With(ftag.NotFound),
			fmsg.With("Cannot find the Bluetooth adapter"),
		)
	}

	return p, nil
}

// Connect requests a connection of the device on the given profile.
// The call is dispatched asynchronously; a failed dispatch surfaces as
// a disconnected profile connection event.
func (p *Proxy) Connect(id profile.ID, address bluetooth.MacAddress) error {
	return p.callProfile(id, address, "ConnectProfile")
}

// Disconnect requests a disconnection of the device from the given profile.
func (p *Proxy) Disconnect(id profile.ID, address bluetooth.MacAddress) error {
	return p.callProfile(id, address, "DisconnectProfile")
}

// SetPriority maps the auto-connection priority onto the device's
// Trusted and Blocked properties. Blocking a device also makes BlueZ
// drop its active connections, which matches the inhibit semantics.
func (p *Proxy) SetPriority(id profile.ID, address bluetooth.MacAddress, priority radio.Priority) error {
	if !id.Valid() {
		return errorkinds.ErrProfileNotTracked
	}

	obj := p.conn.Object(bluezName, p.devicePath(address))

	var err error

	switch priority {
	case radio.PriorityOn:
		if err = p.setDeviceProperty(obj, "Blocked", false); err == nil {
			err = p.setDeviceProperty(obj, "Trusted", true)
		}

	case radio.PriorityOff:
		err = p.setDeviceProperty(obj, "Blocked", true)

	default:
		err = p.setDeviceProperty(obj, "Trusted", false)
	}

	if err != nil {
		return fault.Wrap(err,
			fctx.With(context.Background(),
				"error_at", "bluez-set-priority",
				"address", address.String(),
				"priority", priority.String(),
			),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot set device priority"),
		)
	}

	return nil
}

// Priority returns the device's auto-connection priority, derived from
// its Trusted and Blocked properties.
func (p *Proxy) Priority(id profile.ID, address bluetooth.MacAddress) (radio.Priority, error) {
	if !id.Valid() {
		return radio.PriorityUnknown, errorkinds.ErrProfileNotTracked
	}

	obj := p.conn.Object(bluezName, p.devicePath(address))

	blocked, err := p.deviceProperty(obj, "Blocked")
	if err != nil {
		return radio.PriorityUnknown, fault.Wrap(err,
			fctx.With(context.Background(),
				"error_at", "bluez-priority",
				"address", address.String(),
			),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot read device priority"),
		)
	}

	if b, ok := blocked.Value().(bool); ok && b {
		return radio.PriorityOff, nil
	}

	trusted, err := p.deviceProperty(obj, "Trusted")
	if err != nil {
		return radio.PriorityUnknown, fault.Wrap(err,
			fctx.With(context.Background(),
				"error_at", "bluez-priority",
				"address", address.String(),
			),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot read device priority"),
		)
	}

	if t, ok := trusted.Value().(bool); ok && t {
		return radio.PriorityOn, nil
	}

	return radio.PriorityUnknown, nil
}

// ConnectionState returns the device's connection state. BlueZ reports
// device-level connectivity only; the state is the device's, gated on
// the device advertising the profile.
func (p *Proxy) ConnectionState(id profile.ID, address bluetooth.MacAddress) (radio.ConnectionState, error) {
	obj := p.conn.Object(bluezName, p.devicePath(address))

	connected, err := p.deviceProperty(obj, "Connected")
	if err != nil {
		return radio.StateDisconnected, fault.Wrap(err,
			fctx.With(context.Background(),
				"error_at", "bluez-connection-state",
				"address", address.String(),
			),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot read device connection state"),
		)
	}

	c, ok := connected.Value().(bool)
	if !ok || !c {
		return radio.StateDisconnected, nil
	}

	uuids, err := p.deviceProperty(obj, "UUIDs")
	if err != nil {
		return radio.StateDisconnected, nil
	}

	if names, ok := uuids.Value().([]string); ok && id.Supports(ParseUUIDs(names)) {
		return radio.StateConnected, nil
	}

	return radio.StateDisconnected, nil
}

// IsAvailable returns whether the adapter backing the profile is
// present and powered.
func (p *Proxy) IsAvailable(id profile.ID) bool {
	if !id.Valid() {
		return false
	}

	powered, err := p.adapterProperty("Powered")
	if err != nil {
		return false
	}

	b, ok := powered.Value().(bool)

	return ok && b
}

// BondedDevices returns the paired devices of the bound adapter.
func (p *Proxy) BondedDevices() []bluetooth.DeviceData {
	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

	obj := p.conn.Object(bluezName, dbus.ObjectPath("/"))
	if err := obj.Call(objectManagerIface+".GetManagedObjects", 0).Store(&objects); err != nil {
		return nil
	}

	var devices []bluetooth.DeviceData

	for path, ifaces := range objects {
		props, ok := ifaces[deviceIface]
		if !ok || !strings.HasPrefix(string(path), string(p.adapterPath)+"/") {
			continue
		}

		device, ok := deviceFromProperties(props)
		if !ok || !device.Paired {
			continue
		}

		devices = append(devices, device)
	}

	return devices
}

// callProfile dispatches a profile connect or disconnect call. BlueZ
// blocks these calls until the profile channel settles, so the reply is
// consumed on a separate goroutine; a failure surfaces as a
// disconnected profile connection event, which feeds the normal
// retry/advance path.
func (p *Proxy) callProfile(id profile.ID, address bluetooth.MacAddress, method string) error {
	desc, ok := profile.Describe(id)
	if !ok || len(desc.UUIDs) == 0 {
		return errorkinds.ErrProfileNotTracked
	}

	obj := p.conn.Object(bluezName, p.devicePath(address))

	call := obj.Go(deviceIface+"."+method, 0, make(chan *dbus.Call, 1), desc.UUIDs[0].String())
	if call.Err != nil {
		return fault.Wrap(call.Err,
			fctx.With(context.Background(),
				"error_at", "bluez-"+strings.ToLower(method),
				"profile", id.String(),
				"address", address.String(),
			),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot dispatch profile call"),
		)
	}

	go func() {
		<-call.Done

		if call.Err != nil && method == "ConnectProfile" {
			radio.ProfileConnectionEvents().Publish(radio.ProfileConnectionEvent{
				Profile: id,
				Address: address,
				State:   radio.StateDisconnected,
			})
		}
	}()

	return nil
}

// devicePath returns the BlueZ object path of a device on the bound adapter.
func (p *Proxy) devicePath(address bluetooth.MacAddress) dbus.ObjectPath {
	return dbus.ObjectPath(
		string(p.adapterPath) + "/dev_" + strings.ReplaceAll(address.String(), ":", "_"),
	)
}

// adapterProperty reads one Adapter1 property.
func (p *Proxy) adapterProperty(name string) (dbus.Variant, error) {
	return p.conn.Object(bluezName, p.adapterPath).GetProperty(adapterIface + "." + name)
}

// deviceProperty reads one Device1 property.
func (p *Proxy) deviceProperty(obj dbus.BusObject, name string) (dbus.Variant, error) {
	return obj.GetProperty(deviceIface + "." + name)
}

// setDeviceProperty writes one Device1 property.
func (p *Proxy) setDeviceProperty(obj dbus.BusObject, name string, value any) error {
	return obj.Call(propertiesIface+".Set", 0, deviceIface, name, dbus.MakeVariant(value)).Err
}

// deviceFromProperties builds device data from a Device1 property map.
func deviceFromProperties(props map[string]dbus.Variant) (bluetooth.DeviceData, bool) {
	addr, ok := props["Address"].Value().(string)
	if !ok {
		return bluetooth.DeviceData{}, false
	}

	address, err := bluetooth.ParseMAC(addr)
	if err != nil {
		return bluetooth.DeviceData{}, false
	}

	var device bluetooth.DeviceData
	device.Address = address

	if name, ok := props["Name"].Value().(string); ok {
		device.Name = name
	}
	if alias, ok := props["Alias"].Value().(string); ok {
		device.Alias = alias
	}
	if paired, ok := props["Paired"].Value().(bool); ok {
		device.Paired = paired
		device.Bonded = paired
	}
	if bonded, ok := props["Bonded"].Value().(bool); ok {
		device.Bonded = bonded
	}
	if connected, ok := props["Connected"].Value().(bool); ok {
		device.Connected = connected
	}
	if trusted, ok := props["Trusted"].Value().(bool); ok {
		device.Trusted = trusted
	}
	if blocked, ok := props["Blocked"].Value().(bool); ok {
		device.Blocked = blocked
	}
	if uuids, ok := props["UUIDs"].Value().([]string); ok {
		device.UUIDs = uuids
	}

	return device, true
}
