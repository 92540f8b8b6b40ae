package policy

import (
	"testing"

	"github.com/bluetuith-org/auto-connect/profile"
	"github.com/bluetuith-org/auto-connect/radio"
	"github.com/bluetuith-org/bluetooth-classic/api/bluetooth"
)

func testDevice(t *testing.T, addr string) bluetooth.DeviceData {
	t.Helper()

	address, err := bluetooth.ParseMAC(addr)
	if err != nil {
		t.Fatalf("cannot parse address %q: %v", addr, err)
	}

	return bluetooth.DeviceData{
		DeviceEventData: bluetooth.DeviceEventData{Address: address},
	}
}

func TestRegistryAddDeviceOrdering(t *testing.T) {
	g := &policyGuard{}
	reg := newDeviceRegistry(profile.HeadsetClient)

	d1 := testDevice(t, "11:11:11:11:11:11")
	d2 := testDevice(t, "22:22:22:22:22:22")

	reg.addDevice(g, d1)
	reg.addDevice(g, d2)

	if reg.devices[0].Address != d2.Address {
		t.Errorf("newest device is not at the front: %v", reg.snapshot(g))
	}

	// Re-adding must not change the ordering.
	reg.addDevice(g, d1)

	if len(reg.devices) != 2 || reg.devices[0].Address != d2.Address {
		t.Errorf("re-adding changed the list: %v", reg.snapshot(g))
	}
}

func TestRegistryRecordOutcomeSuccess(t *testing.T) {
	g := &policyGuard{}
	reg := newDeviceRegistry(profile.HeadsetClient)

	d1 := testDevice(t, "11:11:11:11:11:11")
	d2 := testDevice(t, "22:22:22:22:22:22")

	reg.addDevice(g, d1)
	reg.addDevice(g, d2)

	if !reg.recordOutcome(g, d1.Address, true, false) {
		t.Fatal("outcome for a tracked device was ignored")
	}

	if reg.devices[0].Address != d1.Address {
		t.Errorf("connected device is not at the front: %v", reg.snapshot(g))
	}
	if reg.states[d1.Address] != radio.StateConnected {
		t.Errorf("connected device state is %v", reg.states[d1.Address])
	}
}

func TestRegistryRetryThenAdvance(t *testing.T) {
	g := &policyGuard{}
	reg := newDeviceRegistry(profile.HeadsetClient)

	d1 := testDevice(t, "11:11:11:11:11:11")
	d2 := testDevice(t, "22:22:22:22:22:22")

	reg.addDevice(g, d1)
	reg.addDevice(g, d2)
	reg.resetForNewAttempt(g)

	first, ok := reg.nextCandidate(g)
	if !ok {
		t.Fatal("no candidate in a populated registry")
	}

	// First failure within the retry budget keeps the cursor.
	reg.recordOutcome(g, first.Address, false, true)

	if reg.retries != 1 {
		t.Fatalf("retry counter is %d, want 1", reg.retries)
	}

	retried, ok := reg.nextCandidate(g)
	if !ok || retried.Address != first.Address {
		t.Errorf("retry did not pick the same device: %v", retried.Address)
	}

	// Second failure exceeds the budget and advances the cursor.
	reg.recordOutcome(g, first.Address, false, true)

	if reg.retries != 0 {
		t.Errorf("retry counter is %d after advancing, want 0", reg.retries)
	}

	next, ok := reg.nextCandidate(g)
	if !ok || next.Address == first.Address {
		t.Errorf("cursor did not advance past the failed device")
	}
}

func TestRegistryUnknownDeviceIsIgnored(t *testing.T) {
	g := &policyGuard{}
	reg := newDeviceRegistry(profile.HeadsetClient)

	stale := testDevice(t, "11:11:11:11:11:11")

	if reg.recordOutcome(g, stale.Address, true, false) {
		t.Error("outcome for an untracked device was applied")
	}

	reg.removeDevice(g, stale.Address)
	reg.setConnectionState(g, stale.Address, radio.StateConnected)
	reg.setTag(g, stale.Address, tagPrimary)

	if len(reg.states) != 0 || len(reg.tags) != 0 {
		t.Error("operations on an untracked device left state behind")
	}
}

func TestRegistryConnectionLimit(t *testing.T) {
	g := &policyGuard{}
	reg := newDeviceRegistry(profile.HeadsetClient)

	d1 := testDevice(t, "11:11:11:11:11:11")
	d2 := testDevice(t, "22:22:22:22:22:22")

	reg.addDevice(g, d1)
	reg.addDevice(g, d2)
	reg.recordOutcome(g, d1.Address, true, false)

	if reg.isConnectable(g) {
		t.Error("registry is connectable at its connection limit")
	}
	if _, ok := reg.nextCandidate(g); ok {
		t.Error("candidate produced at the connection limit")
	}
}

func TestRegistryResetForNewAttempt(t *testing.T) {
	g := &policyGuard{}
	reg := newDeviceRegistry(profile.HeadsetClient)

	d1 := testDevice(t, "11:11:11:11:11:11")
	d2 := testDevice(t, "22:22:22:22:22:22")

	reg.addDevice(g, d1)
	reg.addDevice(g, d2)

	reg.setConnectionState(g, d1.Address, radio.StateConnecting)
	reg.cursor = 1
	reg.retries = 1
	reg.available = false

	reg.resetForNewAttempt(g)

	if reg.cursor != 0 || reg.retries != 0 || !reg.available {
		t.Errorf("pass state not rewound: cursor=%d retries=%d available=%v",
			reg.cursor, reg.retries, reg.available)
	}
	if reg.states[d1.Address] != radio.StateDisconnected {
		t.Errorf("transient connecting state survived the reset")
	}
}

func TestRegistryTagOrdering(t *testing.T) {
	g := &policyGuard{}
	reg := newDeviceRegistry(profile.HeadsetClient)

	d1 := testDevice(t, "11:11:11:11:11:11")
	d2 := testDevice(t, "22:22:22:22:22:22")
	d3 := testDevice(t, "33:33:33:33:33:33")

	reg.addDevice(g, d1)
	reg.addDevice(g, d2)
	reg.addDevice(g, d3)

	reg.setTag(g, d1.Address, tagPrimary)
	reg.setTag(g, d2.Address, tagSecondary)

	reg.resetForNewAttempt(g)

	want := []string{d1.Address.String(), d2.Address.String(), d3.Address.String()}
	got := reg.snapshot(g)

	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("tag ordering is %v, want %v", got, want)
		}
	}
}

func TestRegistryFrontMoveKeepsCursorPosition(t *testing.T) {
	g := &policyGuard{}
	reg := newDeviceRegistry(profile.HeadsetClient)
	reg.desc.MaxConnections = 2

	d1 := testDevice(t, "11:11:11:11:11:11")
	d2 := testDevice(t, "22:22:22:22:22:22")
	d3 := testDevice(t, "33:33:33:33:33:33")

	// List order: d1, d2, d3.
	reg.addDevice(g, d3)
	reg.addDevice(g, d2)
	reg.addDevice(g, d1)

	reg.resetForNewAttempt(g)

	first, ok := reg.nextCandidate(g)
	if !ok || first.Address != d1.Address {
		t.Fatalf("first candidate is %v, want %v", first.Address, d1.Address)
	}

	// d1 fails outright; the cursor now scans d2.
	reg.recordOutcome(g, d1.Address, false, false)

	// d3 connects out of band and moves to the front while the pass
	// is scanning d2.
	reg.recordOutcome(g, d3.Address, true, false)

	next, ok := reg.nextCandidate(g)
	if !ok || next.Address != d2.Address {
		t.Errorf("candidate after the front-move is %v, want %v", next.Address, d2.Address)
	}
}

func TestRegistryRemoveDeviceAdjustsCursor(t *testing.T) {
	g := &policyGuard{}
	reg := newDeviceRegistry(profile.HeadsetClient)

	d1 := testDevice(t, "11:11:11:11:11:11")
	d2 := testDevice(t, "22:22:22:22:22:22")
	d3 := testDevice(t, "33:33:33:33:33:33")

	reg.addDevice(g, d1)
	reg.addDevice(g, d2)
	reg.addDevice(g, d3)

	reg.cursor = 2
	reg.removeDevice(g, d3.Address) // index 0

	if reg.cursor != 1 {
		t.Errorf("cursor is %d after removal, want 1", reg.cursor)
	}
}
