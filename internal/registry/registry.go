package registry

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/mtzanidakis/warroom/internal/agent"
	"github.com/mtzanidakis/warroom/internal/capability"
	"github.com/mtzanidakis/warroom/internal/config"
	"github.com/mtzanidakis/warroom/internal/store"
)

// Registry is the agent roster for one process: every built-in role,
// bound to whatever capabilities were registered when it was built.
type Registry struct {
	caps   *capability.Registry
	agents map[string]*agent.Descriptor
	order  []string
}

func New(caps *capability.Registry, cfg config.AgentsConfig) *Registry {
	r := &Registry{
		caps:   caps,
		agents: make(map[string]*agent.Descriptor),
	}
	for id := range cfg.Overrides {
		if _, ok := agent.LookupTemplate(id); !ok {
			slog.Warn("override for unknown agent ignored", "agent", id)
		}
	}
	for _, tm := range agent.Templates() {
		wanted := tm.Capabilities
		rate := cfg.MaxRPM
		if ov, ok := cfg.Overrides[tm.ID]; ok {
			if ov.Capabilities != nil {
				wanted = ov.Capabilities
			}
			if ov.RateLimit > 0 {
				rate = ov.RateLimit
			}
		}

		picked := caps.Pick(wanted...)
		if len(picked) < len(wanted) {
			var missing []string
			for _, name := range wanted {
				if _, err := caps.Get(name); err != nil {
					missing = append(missing, name)
				}
			}
			slog.Info("capabilities unavailable, agent continues without them",
				"agent", tm.ID, "missing", missing)
		}

		r.agents[tm.ID] = agent.New(tm, picked, rate)
		r.order = append(r.order, tm.ID)
	}
	return r
}

func (r *Registry) Get(agentID string) (*agent.Descriptor, bool) {
	d, ok := r.agents[agentID]
	return d, ok
}

// List returns the roster in template order.
func (r *Registry) List() []*agent.Descriptor {
	out := make([]*agent.Descriptor, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.agents[id])
	}
	return out
}

func (r *Registry) Capabilities() *capability.Registry {
	return r.caps
}

// AgentDescriptions maps agent id to "Role: objective", the form the
// router shows the coordinator.
func (r *Registry) AgentDescriptions() map[string]string {
	descs := make(map[string]string, len(r.agents))
	for id, d := range r.agents {
		descs[id] = d.Role() + ": " + d.Objective()
	}
	return descs
}

// Sync mirrors the roster into the store so the API can list it.
func (r *Registry) Sync(s *store.Store) error {
	for _, id := range r.order {
		d := r.agents[id]
		a := &store.Agent{
			ID:           id,
			Role:         d.Role(),
			Objective:    d.Objective(),
			Capabilities: d.CapabilityNames(),
			CanDelegate:  d.CanDelegate(),
			RateLimit:    d.RateLimit(),
		}
		if err := s.SaveAgent(a); err != nil {
			return fmt.Errorf("save agent %s: %w", id, err)
		}
	}

	if err := s.DeleteAgentsNotIn(slices.Clone(r.order)); err != nil {
		return fmt.Errorf("delete stale agents: %w", err)
	}
	return nil
}
