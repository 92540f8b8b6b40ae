package policy

import (
	"strings"

	"github.com/bluetuith-org/auto-connect/errorkinds"
	"github.com/bluetuith-org/auto-connect/profile"
	"github.com/bluetuith-org/bluetooth-classic/api/bluetooth"
)

// nullField is the serialized form of an absent device or profile.
const nullField = "null"

// ConnectionParams names a profile and optionally a device. It is the
// correlation key between an in-flight connection attempt, its timeout
// and the eventual outcome event, and the persisted identity of an
// inhibit record.
type ConnectionParams struct {
	address bluetooth.MacAddress
	profile profile.ID

	hasAddress bool
	hasProfile bool
}

// NewConnectionParams returns parameters naming a profile and a device.
func NewConnectionParams(id profile.ID, address bluetooth.MacAddress) ConnectionParams {
	return ConnectionParams{
		address:    address,
		profile:    id,
		hasAddress: true,
		hasProfile: true,
	}
}

// ProfileParams returns parameters naming only a profile.
func ProfileParams(id profile.ID) ConnectionParams {
	return ConnectionParams{profile: id, hasProfile: true}
}

// Profile returns the named profile, if any.
func (c ConnectionParams) Profile() (profile.ID, bool) {
	return c.profile, c.hasProfile
}

// Address returns the named device address, if any.
func (c ConnectionParams) Address() (bluetooth.MacAddress, bool) {
	return c.address, c.hasAddress
}

// String returns the stable serialized form
// "<device-address-or-'null'>/<profile-id-or-'null'>".
func (c ConnectionParams) String() string {
	addr, prof := nullField, nullField

	if c.hasAddress {
		addr = c.address.String()
	}
	if c.hasProfile {
		prof = c.profile.Itoa()
	}

	return addr + "/" + prof
}

// ParseConnectionParams parses the serialized form produced by String.
func ParseConnectionParams(s string) (ConnectionParams, error) {
	fields := strings.Split(s, "/")
	if len(fields) != 2 {
		return ConnectionParams{}, errorkinds.ErrParamsParse
	}

	var params ConnectionParams

	if fields[0] != nullField {
		address, err := bluetooth.ParseMAC(fields[0])
		if err != nil {
			return ConnectionParams{}, errorkinds.ErrParamsParse
		}

		params.address = address
		params.hasAddress = true
	}

	if fields[1] != nullField {
		id, err := profile.ParseID(fields[1])
		if err != nil {
			return ConnectionParams{}, errorkinds.ErrParamsParse
		}

		params.profile = id
		params.hasProfile = true
	}

	return params, nil
}
