package policy

import (
	"context"
	"time"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/bluetuith-org/auto-connect/errorkinds"
	"github.com/bluetuith-org/auto-connect/profile"
	"github.com/bluetuith-org/auto-connect/radio"
	"github.com/bluetuith-org/bluetooth-classic/api/bluetooth"
)

// defaultConnectTimeout bounds how long one connection attempt waits for
// an outcome event before it is treated as failed.
const defaultConnectTimeout = 8 * time.Second

// attemptState represents the state of the connection pass machine.
type attemptState int

// The different attempt states.
const (
	stateIdle attemptState = iota
	stateSelectingProfile
	stateAwaitingOutcome
	stateComplete
)

// attemptStateNames holds names of the different attempt states.
var attemptStateNames = map[attemptState]string{
	stateIdle:             "idle",
	stateSelectingProfile: "selecting-profile",
	stateAwaitingOutcome:  "awaiting-outcome",
	stateComplete:         "complete",
}

// String returns the name of the attempt state.
func (s attemptState) String() string {
	return attemptStateNames[s]
}

// coordinator drives one connection attempt at a time across all
// profiles: pick the next profile, pick the next device, issue the
// connect call, arm a timeout, and react to the outcome.
//
// Timer cancellation is best-effort only; correctness comes from the
// generation counter and the in-flight marker, which a late timeout
// callback revalidates before acting.
type coordinator struct {
	state attemptState

	inFlight    ConnectionParams
	hasInFlight bool

	generation uint64
	timer      *time.Timer

	lastPassEnd time.Time
}

// beginPass starts a new connection pass if no pass is in progress.
// Registries are rewound so every profile is attemptable again.
func (p *Policy) beginPass(g *policyGuard) {
	if p.coord.state == stateAwaitingOutcome || p.coord.state == stateSelectingProfile {
		return
	}

	for _, reg := range p.registries {
		reg.resetForNewAttempt(g)
	}

	p.coord.state = stateSelectingProfile
	p.selectNext(g)
}

// selectNext walks the profiles in their fixed priority order and issues
// a connect call for the first candidate device. The pass completes when
// no profile can produce a candidate.
func (p *Policy) selectNext(g *policyGuard) {
	for _, id := range p.order {
		reg := p.registries[id]

		for reg.isConnectable(g) {
			if !p.proxy.IsAvailable(id) {
				// Transient: the proxy is not bound yet. The profile is
				// skipped for this pass and retried on the next trigger.
				reg.setAvailable(g, false)
				break
			}

			device, ok := reg.nextCandidate(g)
			if !ok {
				break
			}

			params := NewConnectionParams(id, device.Address)

			if err := p.proxy.Connect(id, device.Address); err != nil {
				p.publishError(fault.Wrap(err,
					fctx.With(context.Background(),
						"error_at", "coordinator-connect",
						"profile", id.String(),
						"address", device.Address.String(),
					),
					ftag.With(ftag.Internal),
					fmsg.With("Cannot dispatch connect call"),
				))

				retry := reg.retries < maxConnectRetries
				reg.recordOutcome(g, device.Address, false, retry)
				continue
			}

			reg.setConnectionState(g, device.Address, radio.StateConnecting)

			p.coord.inFlight = params
			p.coord.hasInFlight = true
			p.coord.state = stateAwaitingOutcome
			p.armTimeout(params)

			return
		}
	}

	p.completePass(g)
}

// completePass ends the current pass. A new external trigger restarts
// the machine from idle.
func (p *Policy) completePass(g *policyGuard) {
	p.clearInFlight(g)
	p.coord.state = stateComplete
	p.coord.lastPassEnd = time.Now()
	p.coord.state = stateIdle
}

// armTimeout schedules the attempt timeout for the in-flight parameters.
// The callback captures the current generation; if the attempt completes
// first, the generation moves on and the late callback is a no-op.
func (p *Policy) armTimeout(params ConnectionParams) {
	p.coord.generation++
	generation := p.coord.generation

	p.coord.timer = p.afterFunc(p.connectTimeout, func() {
		p.onConnectTimeout(generation, params)
	})
}

// onConnectTimeout handles the attempt timeout firing. Stale timeouts
// (attempt already resolved, or a newer attempt in flight) are ignored.
func (p *Policy) onConnectTimeout(generation uint64, params ConnectionParams) {
	g := p.lock()
	defer p.unlock()

	if p.coord.state != stateAwaitingOutcome ||
		p.coord.generation != generation ||
		!p.coord.hasInFlight || p.coord.inFlight != params {
		return
	}

	p.publishError(fault.Wrap(errorkinds.ErrProxyUnavailable,
		fctx.With(context.Background(),
			"error_at", "coordinator-timeout",
			"params", params.String(),
		),
		ftag.With(ftag.Internal),
		fmsg.With("Connection attempt timed out"),
	))

	p.handleAttemptOutcome(g, params, false)
}

// handleAttemptOutcome records the result of the in-flight attempt and
// advances the pass to the next profile or device.
func (p *Policy) handleAttemptOutcome(g *policyGuard, params ConnectionParams, connected bool) {
	id, ok := params.Profile()
	if !ok {
		return
	}

	address, ok := params.Address()
	if !ok {
		return
	}

	reg := p.registries[id]
	if reg == nil {
		return
	}

	retry := reg.retries < maxConnectRetries
	reg.recordOutcome(g, address, connected, retry)
	p.writeSnapshot(g, id)

	if p.coord.state != stateAwaitingOutcome || !p.coord.hasInFlight || p.coord.inFlight != params {
		return
	}

	p.clearInFlight(g)

	if connected {
		p.triggerConnections(g, id, address)
	}

	p.coord.state = stateSelectingProfile
	p.selectNext(g)
}

// clearInFlight drops the in-flight marker and invalidates any armed
// timeout. Stopping the timer is best-effort; the generation bump is
// what guarantees a late firing is ignored.
func (p *Policy) clearInFlight(_ *policyGuard) {
	p.coord.hasInFlight = false
	p.coord.generation++

	if p.coord.timer != nil {
		p.coord.timer.Stop()
		p.coord.timer = nil
	}
}

// triggerConnections kicks connects on the profiles related to the one a
// device just connected on (e.g. contacts and messaging after calling).
func (p *Policy) triggerConnections(_ *policyGuard, id profile.ID, address bluetooth.MacAddress) {
	desc, ok := profile.Describe(id)
	if !ok {
		return
	}

	for _, trigger := range desc.Triggers {
		if !p.proxy.IsAvailable(trigger) {
			continue
		}

		if err := p.proxy.Connect(trigger, address); err != nil {
			p.publishError(fault.Wrap(err,
				fctx.With(context.Background(),
					"error_at", "coordinator-trigger",
					"profile", trigger.String(),
					"address", address.String(),
				),
				ftag.With(ftag.Internal),
				fmsg.With("Cannot dispatch triggered connect call"),
			))
		}
	}
}
