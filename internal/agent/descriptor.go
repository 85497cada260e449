package agent

import (
	"github.com/mtzanidakis/warroom/internal/capability"
)

// Descriptor is an immutable role definition. Work items hold a pointer to
// a shared Descriptor; nothing mutates it after New returns.
type Descriptor struct {
	id           string
	role         string
	objective    string
	backstory    string
	canDelegate  bool
	rateLimit    int
	capabilities []capability.Capability
}

// New builds a descriptor from a role template, the capabilities that were
// actually available when it was picked and an optional invocations-per-minute
// ceiling (zero means unlimited).
func New(t Template, caps []capability.Capability, rateLimit int) *Descriptor {
	if rateLimit < 0 {
		rateLimit = 0
	}
	return &Descriptor{
		id:           t.ID,
		role:         t.Role,
		objective:    t.Objective,
		backstory:    t.Backstory,
		canDelegate:  t.CanDelegate,
		rateLimit:    rateLimit,
		capabilities: append([]capability.Capability(nil), caps...),
	}
}

func (d *Descriptor) ID() string        { return d.id }
func (d *Descriptor) Role() string      { return d.role }
func (d *Descriptor) Objective() string { return d.objective }
func (d *Descriptor) Backstory() string { return d.backstory }
func (d *Descriptor) CanDelegate() bool { return d.canDelegate }

// RateLimit returns the per-minute invocation ceiling, or 0 for none.
func (d *Descriptor) RateLimit() int { return d.rateLimit }

// Capabilities returns a copy of the assigned capability set.
func (d *Descriptor) Capabilities() []capability.Capability {
	return append([]capability.Capability(nil), d.capabilities...)
}

func (d *Descriptor) CapabilityNames() []string {
	names := make([]string, len(d.capabilities))
	for i, c := range d.capabilities {
		names[i] = c.Name()
	}
	return names
}

// WithoutDelegation returns a copy that may not delegate. Sequential
// topologies use it for the commander.
func (d *Descriptor) WithoutDelegation() *Descriptor {
	if !d.canDelegate {
		return d
	}
	cp := *d
	cp.canDelegate = false
	return &cp
}

// SystemPrompt renders the role context handed to the backend.
func (d *Descriptor) SystemPrompt() string {
	s := "You are the " + d.role + ".\n\nGoal: " + d.objective
	if d.backstory != "" {
		s += "\n\nBackground: " + d.backstory
	}
	return s
}
