package policy

import (
	"testing"

	"github.com/bluetuith-org/auto-connect/profile"
	"github.com/bluetuith-org/bluetooth-classic/api/bluetooth"
)

func TestConnectionParamsRoundTrip(t *testing.T) {
	address, err := bluetooth.ParseMAC("AA:BB:CC:DD:EE:FF")
	if err != nil {
		t.Fatalf("cannot parse address: %v", err)
	}

	cases := []struct {
		name   string
		params ConnectionParams
	}{
		{"profile and device", NewConnectionParams(profile.HeadsetClient, address)},
		{"profile only", ProfileParams(profile.A2DPSink)},
		{"device only", ConnectionParams{address: address, hasAddress: true}},
		{"empty", ConnectionParams{}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			serialized := c.params.String()

			parsed, err := ParseConnectionParams(serialized)
			if err != nil {
				t.Fatalf("cannot parse %q: %v", serialized, err)
			}

			if parsed != c.params {
				t.Errorf("round trip of %q changed the value: got %q", serialized, parsed)
			}
		})
	}
}

func TestConnectionParamsFormat(t *testing.T) {
	address, _ := bluetooth.ParseMAC("AA:BB:CC:DD:EE:FF")

	params := NewConnectionParams(profile.HeadsetClient, address)
	if got, want := params.String(), "AA:BB:CC:DD:EE:FF/"+profile.HeadsetClient.Itoa(); got != want {
		t.Errorf("serialized form is %q, want %q", got, want)
	}

	if got, want := ProfileParams(profile.PAN).String(), "null/"+profile.PAN.Itoa(); got != want {
		t.Errorf("serialized form is %q, want %q", got, want)
	}

	if got, want := (ConnectionParams{}).String(), "null/null"; got != want {
		t.Errorf("serialized form is %q, want %q", got, want)
	}
}

func TestParseConnectionParamsRejectsMalformed(t *testing.T) {
	for _, s := range []string{
		"",
		"AA:BB:CC:DD:EE:FF",
		"AA:BB:CC:DD:EE:FF/1/2",
		"not-an-address/1",
		"AA:BB:CC:DD:EE:FF/notaprofile",
		"AA:BB:CC:DD:EE:FF/9999",
	} {
		if _, err := ParseConnectionParams(s); err == nil {
			t.Errorf("parsing %q succeeded, want error", s)
		}
	}
}
