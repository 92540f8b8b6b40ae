package profile

import (
	"testing"

	"github.com/google/uuid"
)

func TestAllReturnsConnectionOrder(t *testing.T) {
	order := All()

	if len(order) == 0 || order[0] != HeadsetClient {
		t.Errorf("connection order starts with %v, want %v", order[0], HeadsetClient)
	}

	for _, id := range order {
		if !id.Valid() {
			t.Errorf("order contains invalid profile %d", id)
		}
	}

	// Mutating the returned slice must not affect the package order.
	order[0] = PAN

	if again := All(); again[0] != HeadsetClient {
		t.Error("returned order aliases the package state")
	}
}

func TestSupports(t *testing.T) {
	hfpAG := uuid.MustParse("0000111f-0000-1000-8000-00805f9b34fb")
	unrelated := uuid.MustParse("00001105-0000-1000-8000-00805f9b34fb")

	if !HeadsetClient.Supports([]uuid.UUID{unrelated, hfpAG}) {
		t.Error("HFP does not recognize its own service UUID")
	}
	if A2DPSink.Supports([]uuid.UUID{hfpAG}) {
		t.Error("A2DP claims an HFP service UUID")
	}
	if None.Supports([]uuid.UUID{hfpAG}) {
		t.Error("an invalid profile supports UUIDs")
	}
}

func TestParseIDRoundTrip(t *testing.T) {
	for _, id := range All() {
		parsed, err := ParseID(id.Itoa())
		if err != nil {
			t.Fatalf("cannot parse %q: %v", id.Itoa(), err)
		}

		if parsed != id {
			t.Errorf("round trip of %v yielded %v", id, parsed)
		}
	}
}

func TestParseIDRejectsUnknown(t *testing.T) {
	for _, s := range []string{"", "abc", "-1", "9999"} {
		if _, err := ParseID(s); err == nil {
			t.Errorf("parsing %q succeeded, want error", s)
		}
	}
}

func TestTriggersAreValidProfiles(t *testing.T) {
	for _, id := range All() {
		desc, ok := Describe(id)
		if !ok {
			t.Fatalf("no descriptor for %v", id)
		}

		for _, trigger := range desc.Triggers {
			if !trigger.Valid() {
				t.Errorf("profile %v triggers invalid profile %d", id, trigger)
			}
			if trigger == id {
				t.Errorf("profile %v triggers itself", id)
			}
		}
	}
}
