package policy

import (
	"context"
	"strings"
	"time"

	"github.com/Southclaws/fault"
	"github.com/Southclaws/fault/fctx"
	"github.com/Southclaws/fault/fmsg"
	"github.com/Southclaws/fault/ftag"
	"github.com/bluetuith-org/auto-connect/errorkinds"
	"github.com/bluetuith-org/auto-connect/liveness"
	"github.com/bluetuith-org/auto-connect/radio"
)

const (
	// inhibitsSettingsKey is the per-user settings key the active inhibit
	// set is persisted under.
	inhibitsSettingsKey = "bluetooth_profile_inhibits"

	// restoreRetryDelay and maxRestoreRetries bound the retry loop that
	// re-applies persisted inhibits while the profile proxies come up.
	restoreRetryDelay = 5 * time.Second
	maxRestoreRetries = 5
)

// inhibitRecord is one requester's hold on a (profile, device) pair.
// The handle deregisters the requester-death subscription so a late
// death signal never reaches a released record.
type inhibitRecord struct {
	params ConnectionParams
	token  liveness.Token
	handle liveness.Handle
}

// inhibitTable tracks the active profile inhibits. A (profile, device)
// pair stays disabled while at least one record for it exists and is
// re-enabled only when the set becomes empty.
type inhibitTable struct {
	// records is keyed by the serialized connection parameters.
	records map[string][]*inhibitRecord

	// independentlyOff marks pairs that were already disabled before
	// their first inhibit. Releasing such a pair never force-enables it.
	independentlyOff map[string]bool

	// pending holds persisted inhibits not yet re-applied to the stack.
	pending map[string]ConnectionParams

	restoreTimer    *time.Timer
	restoreAttempts int
}

// newInhibitTable returns an empty inhibit table.
func newInhibitTable() inhibitTable {
	return inhibitTable{
		records:          make(map[string][]*inhibitRecord),
		independentlyOff: make(map[string]bool),
		pending:          make(map[string]ConnectionParams),
	}
}

// requestInhibit adds an inhibit record for the pair and requester.
// The first record for a pair disables the profile on the stack and
// disconnects the device; later records only pile onto the set.
// Duplicate (pair, token) requests and unavailable proxies fail.
func (p *Policy) requestInhibit(g *policyGuard, params ConnectionParams, token liveness.Token) bool {
	id, ok := params.Profile()
	if !ok {
		return false
	}

	if !p.proxy.IsAvailable(id) {
		p.publishError(fault.Wrap(errorkinds.ErrProxyUnavailable,
			fctx.With(context.Background(),
				"error_at", "inhibit-request",
				"params", params.String(),
			),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot inhibit profile"),
		))

		return false
	}

	key := params.String()

	for _, record := range p.inhibits.records[key] {
		if record.token == token {
			p.publishError(fault.Wrap(errorkinds.ErrDuplicateInhibit,
				fctx.With(context.Background(),
					"error_at", "inhibit-request",
					"params", key,
					"owner", token.Owner,
				),
				ftag.With(ftag.Internal),
				fmsg.With("Cannot inhibit profile"),
			))

			return false
		}
	}

	if len(p.inhibits.records[key]) == 0 && !p.applyInhibit(g, params) {
		return false
	}

	record := &inhibitRecord{params: params, token: token}

	handle, err := p.watcher.Subscribe(token, func() {
		g := p.lock()
		defer p.unlock()

		p.releaseInhibit(g, params, token)
	})
	if err != nil {
		// Full unwind: no record was committed, so the pair must not keep
		// the already-disabled marker either.
		if len(p.inhibits.records[key]) == 0 {
			p.removeInhibit(g, params)
			delete(p.inhibits.independentlyOff, key)
		}

		p.publishError(fault.Wrap(err,
			fctx.With(context.Background(),
				"error_at", "inhibit-subscribe",
				"params", key,
				"owner", token.Owner,
			),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot watch inhibit requester"),
		))

		return false
	}
	record.handle = handle

	p.inhibits.records[key] = append(p.inhibits.records[key], record)
	p.saveInhibits(g)

	return true
}

// releaseInhibit removes the record matching the pair and requester.
// Releasing an unknown record vacuously succeeds. Removing the last
// record re-enables the profile; if re-enabling fails the record stays
// so the caller can retry.
func (p *Policy) releaseInhibit(g *policyGuard, params ConnectionParams, token liveness.Token) bool {
	key := params.String()
	records := p.inhibits.records[key]

	i := -1
	for j, record := range records {
		if record.token == token {
			i = j
			break
		}
	}
	if i < 0 {
		return true
	}

	if len(records) == 1 && !p.removeInhibit(g, params) {
		return false
	}

	record := records[i]
	if record.handle != nil {
		record.handle.Cancel()
	}

	records = append(records[:i], records[i+1:]...)
	if len(records) == 0 {
		delete(p.inhibits.records, key)
		delete(p.inhibits.independentlyOff, key)
	} else {
		p.inhibits.records[key] = records
	}

	p.saveInhibits(g)

	return true
}

// applyInhibit puts the pair's profile into the inhibited state on the
// stack. A pair already disabled through unrelated means is recorded as
// such and left alone.
func (p *Policy) applyInhibit(g *policyGuard, params ConnectionParams) bool {
	id, _ := params.Profile()
	address, hasAddress := params.Address()
	key := params.String()

	priority, err := p.proxy.Priority(id, address)
	if err != nil {
		p.publishError(fault.Wrap(err,
			fctx.With(context.Background(),
				"error_at", "inhibit-priority",
				"params", key,
			),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot read profile priority"),
		))

		return false
	}

	if priority == radio.PriorityOff {
		p.inhibits.independentlyOff[key] = true
		return true
	}

	if err := p.proxy.SetPriority(id, address, radio.PriorityOff); err != nil {
		p.publishError(fault.Wrap(err,
			fctx.With(context.Background(),
				"error_at", "inhibit-disable",
				"params", key,
			),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot disable profile"),
		))

		return false
	}

	if hasAddress {
		// Best-effort: a failed disconnect here is recovered by the
		// stack once the lowered priority takes effect.
		if err := p.proxy.Disconnect(id, address); err != nil {
			p.publishError(fault.Wrap(err,
				fctx.With(context.Background(),
					"error_at", "inhibit-disconnect",
					"params", key,
				),
				ftag.With(ftag.Internal),
				fmsg.With("Cannot disconnect inhibited device"),
			))
		}
	}

	return true
}

// removeInhibit takes the pair out of the inhibited state on the stack.
// A pair that was disabled independently of any inhibit stays disabled.
func (p *Policy) removeInhibit(_ *policyGuard, params ConnectionParams) bool {
	id, _ := params.Profile()
	address, hasAddress := params.Address()
	key := params.String()

	if p.inhibits.independentlyOff[key] {
		return true
	}

	if err := p.proxy.SetPriority(id, address, radio.PriorityOn); err != nil {
		p.publishError(fault.Wrap(err,
			fctx.With(context.Background(),
				"error_at", "inhibit-enable",
				"params", key,
			),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot re-enable profile"),
		))

		return false
	}

	if hasAddress {
		if err := p.proxy.Connect(id, address); err != nil {
			p.publishError(fault.Wrap(err,
				fctx.With(context.Background(),
					"error_at", "inhibit-reconnect",
					"params", key,
				),
				ftag.With(ftag.Internal),
				fmsg.With("Cannot reconnect released device"),
			))
		}
	}

	return true
}

// releaseAllInhibits tears the table down before the session ends.
// Every record is released best-effort; pairs that cannot be re-enabled
// stay persisted so the next session restores them.
func (p *Policy) releaseAllInhibits(g *policyGuard) {
	p.cancelRestore(g)

	for key, records := range p.inhibits.records {
		for _, record := range records {
			if record.handle != nil {
				record.handle.Cancel()
			}
		}

		if !p.removeInhibit(g, records[0].params) {
			continue
		}

		delete(p.inhibits.records, key)
		delete(p.inhibits.independentlyOff, key)
	}

	p.saveInhibits(g)

	p.inhibits.records = make(map[string][]*inhibitRecord)
	p.inhibits.independentlyOff = make(map[string]bool)
}

// saveInhibits persists the active inhibit keys for the current user,
// excluding pairs that were disabled independently of any inhibit.
func (p *Policy) saveInhibits(g *policyGuard) {
	keys := make([]string, 0, len(p.inhibits.records))

	for key := range p.inhibits.records {
		if p.inhibits.independentlyOff[key] {
			continue
		}

		keys = append(keys, key)
	}
	for key := range p.inhibits.pending {
		keys = append(keys, key)
	}

	if err := p.store.Put(p.user, inhibitsSettingsKey, strings.Join(keys, settingsDelimiter)); err != nil {
		p.publishError(fault.Wrap(err,
			fctx.With(context.Background(),
				"error_at", "inhibit-save",
				"key", inhibitsSettingsKey,
			),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot persist inhibits"),
		))
	}
}

// restoreInhibits re-creates inhibit records from the current user's
// persisted state, with synthetic tokens that never signal requester
// death. Pairs whose proxy is not up yet are retried on a fixed delay.
func (p *Policy) restoreInhibits(g *policyGuard) {
	value, ok := p.store.Get(p.user, inhibitsSettingsKey)
	if !ok || value == "" {
		return
	}

	for _, field := range strings.Split(value, settingsDelimiter) {
		params, err := ParseConnectionParams(field)
		if err != nil {
			p.publishError(fault.Wrap(err,
				fctx.With(context.Background(),
					"error_at", "inhibit-restore",
					"params", field,
				),
				ftag.With(ftag.Internal),
				fmsg.With("Cannot parse persisted inhibit"),
			))

			continue
		}

		p.inhibits.pending[params.String()] = params
	}

	p.inhibits.restoreAttempts = 0
	p.retryRestore(g)
}

// retryRestore attempts every pending restore once, and re-arms itself
// while attempts remain. Exhausted restores are dropped from the
// persisted set rather than retried forever.
func (p *Policy) retryRestore(g *policyGuard) {
	for key, params := range p.inhibits.pending {
		id, ok := params.Profile()
		if !ok || !p.proxy.IsAvailable(id) {
			continue
		}

		delete(p.inhibits.pending, key)

		if !p.requestInhibit(g, params, liveness.RestoredToken(key)) {
			p.inhibits.pending[key] = params
		}
	}

	if len(p.inhibits.pending) == 0 {
		p.saveInhibits(g)
		return
	}

	p.inhibits.restoreAttempts++
	if p.inhibits.restoreAttempts >= maxRestoreRetries {
		p.publishError(fault.Wrap(errorkinds.ErrProxyUnavailable,
			fctx.With(context.Background(),
				"error_at", "inhibit-restore",
				"pending", strings.Join(pendingKeys(p.inhibits.pending), settingsDelimiter),
			),
			ftag.With(ftag.Internal),
			fmsg.With("Cannot restore persisted inhibits"),
		))

		p.inhibits.pending = make(map[string]ConnectionParams)
		p.saveInhibits(g)

		return
	}

	p.inhibits.restoreTimer = p.afterFunc(restoreRetryDelay, func() {
		g := p.lock()
		defer p.unlock()

		p.retryRestore(g)
	})
}

// cancelRestore stops any pending restore retry. The session owns the
// loop; no retry survives past its end.
func (p *Policy) cancelRestore(_ *policyGuard) {
	if p.inhibits.restoreTimer != nil {
		p.inhibits.restoreTimer.Stop()
		p.inhibits.restoreTimer = nil
	}

	p.inhibits.pending = make(map[string]ConnectionParams)
}

// inhibitedKeys returns the serialized keys of all active inhibits.
func (p *Policy) inhibitedKeys(_ *policyGuard) []string {
	keys := make([]string, 0, len(p.inhibits.records))
	for key := range p.inhibits.records {
		keys = append(keys, key)
	}

	return keys
}

// pendingKeys lists the keys of a pending-restore set.
func pendingKeys(pending map[string]ConnectionParams) []string {
	keys := make([]string, 0, len(pending))
	for key := range pending {
		keys = append(keys, key)
	}

	return keys
}
