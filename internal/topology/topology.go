// Package topology turns operating-mode flags into a crew topology. Graph
// shapes are plain data; modes differ only in which shape, which strategy
// and whether memory is attached.
package topology

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/mtzanidakis/warroom/internal/agent"
	"github.com/mtzanidakis/warroom/internal/crew"
)

const (
	ModeNormal   = "normal"
	ModeSafe     = "safe"
	ModeSurvival = "survival"
)

// Flags are the per-run operating-mode switches. Safe and survival both
// force the degraded path; survival wins when both are set.
type Flags struct {
	SafeMode      bool `json:"safe_mode"`
	SurvivalMode  bool `json:"survival_mode"`
	MemoryEnabled bool `json:"memory_enabled"`
}

// Mode names the topology the flags select.
func (f Flags) Mode() string {
	switch {
	case f.SurvivalMode:
		return ModeSurvival
	case f.SafeMode:
		return ModeSafe
	default:
		return ModeNormal
	}
}

// Roster resolves agent ids to descriptors.
type Roster interface {
	Get(agentID string) (*agent.Descriptor, bool)
}

type Selector struct {
	roster    Roster
	embedding bool
	delegate  map[string][]string
}

// NewSelector builds a selector over roster. embedding reports whether an
// embedding backend is configured; delegate lists, per work item key, the
// agents a coordinator may hand that item to in normal mode.
func NewSelector(roster Roster, embedding bool, delegate map[string][]string) *Selector {
	return &Selector{roster: roster, embedding: embedding, delegate: delegate}
}

func (s *Selector) Select(incident string, f Flags) (*crew.Topology, error) {
	if strings.TrimSpace(incident) == "" {
		return nil, fmt.Errorf("%w: incident text is required", crew.ErrConfiguration)
	}

	mode := f.Mode()
	top := &crew.Topology{Mode: mode}

	var shape []Node
	switch mode {
	case ModeSurvival:
		shape = SurvivalShape()
		top.Strategy = crew.Sequential
	case ModeSafe:
		shape = FullShape()
		top.Strategy = crew.Sequential
	default:
		shape = FullShape()
		top.Strategy = crew.Hierarchical
		top.Memory = f.MemoryEnabled && s.embedding
	}

	var delegate map[string][]string
	if top.Strategy == crew.Hierarchical {
		delegate = s.delegate
	}
	items, agents, err := BuildItems(s.roster, shape, top.Strategy, delegate)
	if err != nil {
		return nil, err
	}
	top.Items = items
	top.Agents = agents

	if err := top.Validate(); err != nil {
		return nil, fmt.Errorf("select %s topology: %w", mode, err)
	}
	return top, nil
}

// BuildItems binds shape nodes to roster descriptors. Under Sequential the
// coordinator loses its delegation flag. Each agent appears once in the
// returned set, in first-use order.
func BuildItems(roster Roster, shape []Node, strategy crew.Strategy, delegate map[string][]string) ([]crew.WorkItem, []*agent.Descriptor, error) {
	bound := make(map[string]*agent.Descriptor)
	var agents []*agent.Descriptor
	resolve := func(id string) (*agent.Descriptor, bool) {
		if d, ok := bound[id]; ok {
			return d, true
		}
		d, ok := roster.Get(id)
		if !ok {
			return nil, false
		}
		if strategy == crew.Sequential {
			d = d.WithoutDelegation()
		}
		bound[id] = d
		agents = append(agents, d)
		return d, true
	}

	items := make([]crew.WorkItem, 0, len(shape))
	for _, n := range shape {
		d, ok := resolve(n.Agent)
		if !ok {
			return nil, nil, fmt.Errorf("%w: work item %s needs unknown agent %s", crew.ErrConfiguration, n.Key, n.Agent)
		}
		it := crew.WorkItem{
			Key:            n.Key,
			Description:    n.Description,
			ExpectedOutput: n.ExpectedOutput,
			Agent:          d,
			DependsOn:      append([]string(nil), n.DependsOn...),
		}
		for _, id := range delegate[n.Key] {
			c, ok := resolve(id)
			if !ok {
				slog.Warn("unknown delegation candidate, skipping", "item", n.Key, "agent", id)
				continue
			}
			it.Candidates = append(it.Candidates, c)
		}
		items = append(items, it)
	}
	return items, agents, nil
}
