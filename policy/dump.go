package policy

import (
	"fmt"
	"sort"
	"strings"
)

// Dump returns a human-readable description of the policy state: per
// profile, the device priority list with connection states, the pass
// bookkeeping, and the set of active inhibits. The format is for
// debugging only and is not stable.
func (p *Policy) Dump() string {
	g := p.lock()
	defer p.unlock()

	var sb strings.Builder

	fmt.Fprintf(&sb, "user: %d\n", p.user)
	fmt.Fprintf(&sb, "adapter: %v\n", map[bool]string{true: "on", false: "off"}[p.adapterOn])
	fmt.Fprintf(&sb, "pass: %s", p.coord.state)

	if p.coord.hasInFlight {
		fmt.Fprintf(&sb, " (in flight: %s)", p.coord.inFlight)
	}
	sb.WriteString("\n")

	if !p.coord.lastPassEnd.IsZero() {
		fmt.Fprintf(&sb, "last pass ended: %s\n", p.coord.lastPassEnd.Format("15:04:05.000"))
	}

	for _, id := range p.order {
		reg := p.registries[id]

		fmt.Fprintf(&sb, "\nprofile %s (key %s):\n", id, reg.desc.SettingsKey)
		fmt.Fprintf(&sb, "  available: %v, cursor: %d, retries: %d, active: %d/%d\n",
			reg.available, reg.cursor, reg.retries,
			reg.activeConnections(g), reg.desc.MaxConnections)

		if len(reg.devices) == 0 {
			sb.WriteString("  no devices\n")
			continue
		}

		for i, device := range reg.devices {
			name := device.Name
			if name == "" {
				name = "(unnamed)"
			}

			fmt.Fprintf(&sb, "  %d. %s %s [%s]",
				i, device.Address, name, reg.states[device.Address])

			if tag := reg.tags[device.Address]; tag == tagPrimary {
				sb.WriteString(" primary")
			} else if tag == tagSecondary {
				sb.WriteString(" secondary")
			}

			sb.WriteString("\n")
		}
	}

	keys := p.inhibitedKeys(g)
	sort.Strings(keys)

	sb.WriteString("\ninhibits:\n")

	if len(keys) == 0 {
		sb.WriteString("  none\n")
	}

	for _, key := range keys {
		fmt.Fprintf(&sb, "  %s (%d requester(s))", key, len(p.inhibits.records[key]))

		if p.inhibits.independentlyOff[key] {
			sb.WriteString(" [disabled independently]")
		}

		sb.WriteString("\n")
	}

	if p.store.Disabled() {
		sb.WriteString("\npersistence: disabled after storage failure\n")
	}

	return sb.String()
}
