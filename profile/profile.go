// Package profile enumerates the Bluetooth profiles the connection policy
// manages, along with the fixed per-profile information (service UUIDs,
// settings keys, connection limits) needed to drive them.
package profile

import (
	"strconv"

	"github.com/bluetuith-org/auto-connect/errorkinds"
	"github.com/google/uuid"
)

// ID represents a managed Bluetooth profile.
type ID int

// The different managed profiles.
const (
	None ID = iota // The zero value for this type.
	HeadsetClient
	A2DPSink
	PBAPClient
	MAPClient
	PAN
)

// Descriptor holds the fixed information for one managed profile.
type Descriptor struct {
	// Name holds the short profile name.
	Name string

	// SettingsKey holds the settings-store key under which the profile's
	// device priority list is persisted.
	SettingsKey string

	// UUIDs holds the service UUIDs a remote device advertises when it
	// supports this profile.
	UUIDs []uuid.UUID

	// MaxConnections holds the number of simultaneous active connections
	// the profile supports.
	MaxConnections int

	// Triggers holds profiles whose connection should be kicked off once
	// a device connects on this profile.
	Triggers []ID
}

var descriptors = map[ID]Descriptor{
	HeadsetClient: {
		Name:        "HFP",
		SettingsKey: "bluetooth_hfp_client_devices",
		UUIDs: []uuid.UUID{
			uuid.MustParse("0000111f-0000-1000-8000-00805f9b34fb"), // HFP AG
			uuid.MustParse("00001112-0000-1000-8000-00805f9b34fb"), // HSP AG
		},
		MaxConnections: 1,
		Triggers:       []ID{MAPClient, PBAPClient},
	},
	A2DPSink: {
		Name:        "A2DP",
		SettingsKey: "bluetooth_a2dp_sink_devices",
		UUIDs: []uuid.UUID{
			uuid.MustParse("0000110a-0000-1000-8000-00805f9b34fb"), // A2DP Source
		},
		MaxConnections: 1,
	},
	PBAPClient: {
		Name:        "PBAP",
		SettingsKey: "bluetooth_pbap_client_devices",
		UUIDs: []uuid.UUID{
			uuid.MustParse("0000112f-0000-1000-8000-00805f9b34fb"), // PBAP PSE
		},
		MaxConnections: 1,
	},
	MAPClient: {
		Name:        "MAP",
		SettingsKey: "bluetooth_map_client_devices",
		UUIDs: []uuid.UUID{
			uuid.MustParse("00001132-0000-1000-8000-00805f9b34fb"), // MAS
		},
		MaxConnections: 1,
	},
	PAN: {
		Name:        "PAN",
		SettingsKey: "bluetooth_pan_devices",
		UUIDs: []uuid.UUID{
			uuid.MustParse("00001115-0000-1000-8000-00805f9b34fb"), // PANU
		},
		MaxConnections: 1,
	},
}

// connectOrder holds the fixed order in which profiles are tried
// during a connection pass.
var connectOrder = []ID{HeadsetClient, PBAPClient, A2DPSink, MAPClient, PAN}

// All returns the managed profiles in connection priority order.
func All() []ID {
	order := make([]ID, len(connectOrder))
	copy(order, connectOrder)

	return order
}

// Describe returns the descriptor for a profile.
func Describe(id ID) (Descriptor, bool) {
	d, ok := descriptors[id]
	return d, ok
}

// Supports returns whether any of the advertised service UUIDs belong
// to this profile.
func (id ID) Supports(uuids []uuid.UUID) bool {
	d, ok := descriptors[id]
	if !ok {
		return false
	}

	for _, u := range uuids {
		for _, pu := range d.UUIDs {
			if u == pu {
				return true
			}
		}
	}

	return false
}

// String returns the short profile name.
func (id ID) String() string {
	if d, ok := descriptors[id]; ok {
		return d.Name
	}

	return "Unknown(" + strconv.Itoa(int(id)) + ")"
}

// Valid returns whether the profile is a managed profile.
func (id ID) Valid() bool {
	_, ok := descriptors[id]
	return ok
}

// ParseID parses the numeric form of a profile ID, as produced by Itoa.
func ParseID(s string) (ID, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return None, errorkinds.ErrParamsParse
	}

	id := ID(n)
	if !id.Valid() {
		return None, errorkinds.ErrProfileNotTracked
	}

	return id, nil
}

// Itoa returns the stable numeric form of the profile ID, used in
// serialized connection parameters.
func (id ID) Itoa() string {
	return strconv.Itoa(int(id))
}
