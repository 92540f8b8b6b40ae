package policy

import (
	"errors"
	"testing"

	"github.com/bluetuith-org/auto-connect/liveness"
	"github.com/bluetuith-org/auto-connect/profile"
	"github.com/bluetuith-org/auto-connect/radio"
)

func TestInhibitSharedAcrossRequesters(t *testing.T) {
	h := newTestHarness()

	d1 := mac(t, "11:11:11:11:11:11")

	t1 := liveness.LiveToken(":1.10", "req-1")
	t2 := liveness.LiveToken(":1.20", "req-2")

	if !h.policy.RequestProfileInhibit(profile.HeadsetClient, d1, t1) {
		t.Fatal("first inhibit request failed")
	}
	if !h.policy.RequestProfileInhibit(profile.HeadsetClient, d1, t2) {
		t.Fatal("second inhibit request failed")
	}

	// Only the first request touches the stack.
	if n := len(h.proxy.callsOf("set-priority")); n != 1 {
		t.Fatalf("profile was disabled %d times, want 1", n)
	}
	if n := len(h.proxy.callsOf("disconnect")); n != 1 {
		t.Fatalf("device was disconnected %d times, want 1", n)
	}

	// Releasing one requester keeps the profile disabled.
	if !h.policy.ReleaseProfileInhibit(profile.HeadsetClient, d1, t1) {
		t.Fatal("release failed")
	}
	if n := len(h.proxy.callsOf("set-priority")); n != 1 {
		t.Error("releasing a non-final requester touched the priority")
	}

	// Releasing the last requester re-enables and reconnects.
	if !h.policy.ReleaseProfileInhibit(profile.HeadsetClient, d1, t2) {
		t.Fatal("final release failed")
	}

	priorities := h.proxy.callsOf("set-priority")
	if len(priorities) != 2 || priorities[1].priority != radio.PriorityOn {
		t.Errorf("final release did not re-enable the profile: %v", priorities)
	}
	if len(h.proxy.callsOf("connect")) != 1 {
		t.Error("final release did not reconnect the device")
	}
}

func TestInhibitDuplicateRequestFails(t *testing.T) {
	h := newTestHarness()

	d1 := mac(t, "11:11:11:11:11:11")
	token := liveness.LiveToken(":1.10", "req-1")

	if !h.policy.RequestProfileInhibit(profile.HeadsetClient, d1, token) {
		t.Fatal("inhibit request failed")
	}
	if h.policy.RequestProfileInhibit(profile.HeadsetClient, d1, token) {
		t.Error("duplicate inhibit request succeeded")
	}
}

func TestInhibitReleaseIsIdempotent(t *testing.T) {
	h := newTestHarness()

	d1 := mac(t, "11:11:11:11:11:11")
	token := liveness.LiveToken(":1.10", "req-1")

	if !h.policy.ReleaseProfileInhibit(profile.HeadsetClient, d1, token) {
		t.Error("releasing a never-requested inhibit failed")
	}

	if !h.policy.RequestProfileInhibit(profile.HeadsetClient, d1, token) {
		t.Fatal("inhibit request failed")
	}

	if !h.policy.ReleaseProfileInhibit(profile.HeadsetClient, d1, token) {
		t.Fatal("release failed")
	}
	if !h.policy.ReleaseProfileInhibit(profile.HeadsetClient, d1, token) {
		t.Error("second release of the same inhibit failed")
	}

	// One disable and one enable in total.
	if n := len(h.proxy.callsOf("set-priority")); n != 2 {
		t.Errorf("priority was changed %d times, want 2", n)
	}
}

func TestInhibitKeepsIndependentlyDisabledProfileOff(t *testing.T) {
	h := newTestHarness()

	d1 := mac(t, "11:11:11:11:11:11")
	token := liveness.LiveToken(":1.10", "req-1")

	h.proxy.mu.Lock()
	h.proxy.priorities[priorityKey(profile.HeadsetClient, d1)] = radio.PriorityOff
	h.proxy.mu.Unlock()

	if !h.policy.RequestProfileInhibit(profile.HeadsetClient, d1, token) {
		t.Fatal("inhibit request failed")
	}

	// Already disabled: the inhibit piggybacks without touching the stack.
	if n := len(h.proxy.callsOf("set-priority")); n != 0 {
		t.Errorf("priority was changed %d times on an already disabled profile", n)
	}

	if !h.policy.ReleaseProfileInhibit(profile.HeadsetClient, d1, token) {
		t.Fatal("release failed")
	}

	// Releasing must not force-enable what the user disabled themselves.
	if n := len(h.proxy.callsOf("set-priority")); n != 0 {
		t.Errorf("release force-enabled an independently disabled profile")
	}
}

func TestInhibitSubscribeFailureLeavesNoStaleMarker(t *testing.T) {
	h := newTestHarness()

	d1 := mac(t, "11:11:11:11:11:11")
	key := NewConnectionParams(profile.HeadsetClient, d1).String()

	// The profile is already disabled through unrelated means, and the
	// death watcher is broken.
	h.proxy.mu.Lock()
	h.proxy.priorities[priorityKey(profile.HeadsetClient, d1)] = radio.PriorityOff
	h.proxy.mu.Unlock()
	h.watcher.subscribeErr = errors.New("bus failure")

	if h.policy.RequestProfileInhibit(profile.HeadsetClient, d1, liveness.LiveToken(":1.10", "req-1")) {
		t.Fatal("inhibit request succeeded with a failing watcher")
	}

	h.policy.lock()
	stale := h.policy.inhibits.independentlyOff[key]
	records := len(h.policy.inhibits.records[key])
	h.policy.unlock()

	if records != 0 {
		t.Fatal("failed request left an inhibit record behind")
	}
	if stale {
		t.Fatal("failed request left the already-disabled marker behind")
	}

	// The user re-enables the profile and the watcher recovers; a fresh
	// inhibit cycle must re-enable on final release.
	h.proxy.mu.Lock()
	h.proxy.priorities[priorityKey(profile.HeadsetClient, d1)] = radio.PriorityOn
	h.proxy.mu.Unlock()
	h.watcher.subscribeErr = nil

	token := liveness.LiveToken(":1.10", "req-1")

	if !h.policy.RequestProfileInhibit(profile.HeadsetClient, d1, token) {
		t.Fatal("inhibit request failed after the watcher recovered")
	}
	if !h.policy.ReleaseProfileInhibit(profile.HeadsetClient, d1, token) {
		t.Fatal("release failed")
	}

	priorities := h.proxy.callsOf("set-priority")
	if len(priorities) == 0 || priorities[len(priorities)-1].priority != radio.PriorityOn {
		t.Errorf("final release did not re-enable the profile: %v", priorities)
	}
}

func TestInhibitUnavailableProxyFails(t *testing.T) {
	h := newTestHarness()

	d1 := mac(t, "11:11:11:11:11:11")
	h.proxy.unavailable = true

	if h.policy.RequestProfileInhibit(profile.HeadsetClient, d1, liveness.LiveToken(":1.10", "req-1")) {
		t.Error("inhibit request succeeded with the proxy unavailable")
	}
}

func TestInhibitRequesterDeathAutoReleases(t *testing.T) {
	h := newTestHarness()

	d1 := mac(t, "11:11:11:11:11:11")
	token := liveness.LiveToken(":1.10", "req-1")

	if !h.policy.RequestProfileInhibit(profile.HeadsetClient, d1, token) {
		t.Fatal("inhibit request failed")
	}

	h.watcher.kill(":1.10")

	h.policy.lock()
	key := NewConnectionParams(profile.HeadsetClient, d1).String()
	remaining := len(h.policy.inhibits.records[key])
	h.policy.unlock()

	if remaining != 0 {
		t.Error("requester death did not release the inhibit")
	}

	priorities := h.proxy.callsOf("set-priority")
	if len(priorities) != 2 || priorities[1].priority != radio.PriorityOn {
		t.Errorf("auto-release did not re-enable the profile: %v", priorities)
	}
}

func TestInhibitEnableFailureKeepsRecord(t *testing.T) {
	h := newTestHarness()

	d1 := mac(t, "11:11:11:11:11:11")
	token := liveness.LiveToken(":1.10", "req-1")

	if !h.policy.RequestProfileInhibit(profile.HeadsetClient, d1, token) {
		t.Fatal("inhibit request failed")
	}

	h.proxy.priorityErr = errors.New("bus failure")

	if h.policy.ReleaseProfileInhibit(profile.HeadsetClient, d1, token) {
		t.Error("release succeeded although re-enabling failed")
	}

	h.policy.lock()
	key := NewConnectionParams(profile.HeadsetClient, d1).String()
	remaining := len(h.policy.inhibits.records[key])
	h.policy.unlock()

	if remaining != 1 {
		t.Fatal("failed release dropped the inhibit record")
	}

	// The caller retries once the stack recovers.
	h.proxy.priorityErr = nil

	if !h.policy.ReleaseProfileInhibit(profile.HeadsetClient, d1, token) {
		t.Error("retried release failed")
	}
}

func TestInhibitPersistedAndRestored(t *testing.T) {
	h := newTestHarness()

	d1 := mac(t, "11:11:11:11:11:11")
	params := NewConnectionParams(profile.HeadsetClient, d1)

	if !h.policy.RequestProfileInhibit(profile.HeadsetClient, d1, liveness.LiveToken(":1.10", "req-1")) {
		t.Fatal("inhibit request failed")
	}

	value, ok := h.store.Get(0, inhibitsSettingsKey)
	if !ok || value != params.String() {
		t.Fatalf("persisted inhibit set is %q, want %q", value, params.String())
	}

	// A fresh policy over the same store restores the inhibit with a
	// synthetic token.
	restored := &testHarness{
		proxy:   newFakeProxy(),
		store:   h.store,
		watcher: newFakeWatcher(),
		timers:  &timerCapture{},
	}
	restored.policy = NewPolicy(Config{
		Proxy:   restored.proxy,
		Store:   restored.store,
		Watcher: restored.watcher,
	})
	restored.policy.afterFunc = restored.timers.afterFunc

	g := restored.policy.lock()
	restored.policy.restoreInhibits(g)
	restored.policy.unlock()

	restored.policy.lock()
	records := restored.policy.inhibits.records[params.String()]
	restored.policy.unlock()

	if len(records) != 1 || !records[0].token.IsRestored() {
		t.Fatalf("restored inhibit records are %v", records)
	}

	// The restored inhibit re-applied the disable on the stack.
	priorities := restored.proxy.callsOf("set-priority")
	if len(priorities) != 1 || priorities[0].priority != radio.PriorityOff {
		t.Errorf("restore did not disable the profile: %v", priorities)
	}
}

func TestInhibitRestoreRetriesWhileProxyDown(t *testing.T) {
	h := newTestHarness()

	d1 := mac(t, "11:11:11:11:11:11")
	params := NewConnectionParams(profile.HeadsetClient, d1)

	if err := h.store.Put(0, inhibitsSettingsKey, params.String()); err != nil {
		t.Fatal(err)
	}

	h.proxy.unavailable = true

	g := h.policy.lock()
	h.policy.restoreInhibits(g)
	h.policy.unlock()

	if h.timers.armed() != 1 {
		t.Fatal("no retry was armed while the proxy is down")
	}

	// The proxy comes up before the retry fires.
	h.proxy.unavailable = false
	h.timers.fire(t)

	h.policy.lock()
	records := h.policy.inhibits.records[params.String()]
	pending := len(h.policy.inhibits.pending)
	h.policy.unlock()

	if len(records) != 1 {
		t.Error("retry did not restore the inhibit")
	}
	if pending != 0 {
		t.Error("restored inhibit is still pending")
	}
}
