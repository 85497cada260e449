package crew

import (
	"fmt"
	"time"

	"github.com/mtzanidakis/warroom/internal/agent"
	"github.com/mtzanidakis/warroom/internal/backend"
)

type Strategy string

const (
	Sequential   Strategy = "sequential"
	Hierarchical Strategy = "hierarchical"
)

type ItemState string

const (
	StatePending   ItemState = "pending"
	StateReady     ItemState = "ready"
	StateRunning   ItemState = "running"
	StateCompleted ItemState = "completed"
	StateFailed    ItemState = "failed"
	StateBlocked   ItemState = "blocked"
)

// Terminal reports whether no further transition is possible.
func (s ItemState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateBlocked
}

// WorkItem is one unit of reasoning bound to a responsible agent. DependsOn
// lists upstream item keys; their outputs become this item's context in the
// order given. Candidates, when set, are the agents a coordinator may hand
// the item to instead of Agent.
type WorkItem struct {
	Key            string
	Description    string
	ExpectedOutput string
	Agent          *agent.Descriptor
	DependsOn      []string
	Candidates     []*agent.Descriptor
}

// Topology is the agent set, item graph and strategy chosen for one run.
type Topology struct {
	Mode     string
	Strategy Strategy
	Agents   []*agent.Descriptor
	Items    []WorkItem
	Memory   bool
}

// Coordinator returns the delegating agent of a hierarchical topology, or
// nil under Sequential.
func (t *Topology) Coordinator() *agent.Descriptor {
	if t.Strategy != Hierarchical {
		return nil
	}
	for _, a := range t.Agents {
		if a.CanDelegate() {
			return a
		}
	}
	return nil
}

func (t *Topology) Keys() []string {
	keys := make([]string, len(t.Items))
	for i, it := range t.Items {
		keys[i] = it.Key
	}
	return keys
}

// Validate checks the graph and the agent/strategy invariants.
func (t *Topology) Validate() error {
	_, err := t.compile()
	return err
}

func (t *Topology) compile() (*Graph, error) {
	if len(t.Items) == 0 {
		return nil, fmt.Errorf("%w: topology has no work items", ErrConfiguration)
	}
	g, err := NewGraph(t.Items)
	if err != nil {
		return nil, err
	}

	members := make(map[string]bool, len(t.Agents))
	delegators := 0
	for _, a := range t.Agents {
		if a == nil {
			return nil, fmt.Errorf("%w: nil agent in topology", ErrConfiguration)
		}
		members[a.ID()] = true
		if a.CanDelegate() {
			delegators++
		}
	}

	for _, it := range t.Items {
		if it.Agent == nil {
			return nil, fmt.Errorf("%w: work item %s has no responsible agent", ErrConfiguration, it.Key)
		}
		if !members[it.Agent.ID()] {
			return nil, fmt.Errorf("%w: work item %s assigned to %s outside the topology", ErrConfiguration, it.Key, it.Agent.ID())
		}
		for _, c := range it.Candidates {
			if c == nil || !members[c.ID()] {
				return nil, fmt.Errorf("%w: work item %s has a candidate outside the topology", ErrConfiguration, it.Key)
			}
		}
	}

	switch t.Strategy {
	case Hierarchical:
		if delegators != 1 {
			return nil, fmt.Errorf("%w: hierarchical topology needs exactly one coordinator, found %d", ErrConfiguration, delegators)
		}
	case Sequential:
		if delegators != 0 {
			return nil, fmt.Errorf("%w: sequential topology must not delegate", ErrConfiguration)
		}
	default:
		return nil, fmt.Errorf("%w: unknown strategy %q", ErrConfiguration, t.Strategy)
	}
	return g, nil
}

// ItemReport is the final state of one work item.
type ItemReport struct {
	Key        string        `json:"key"`
	AgentID    string        `json:"agent_id"`
	DependsOn  []string      `json:"depends_on,omitempty"`
	State      ItemState     `json:"state"`
	Output     string        `json:"output,omitempty"`
	Error      string        `json:"error,omitempty"`
	Attempts   int           `json:"attempts,omitempty"`
	Usage      backend.Usage `json:"usage"`
	StartedAt  time.Time     `json:"started_at,omitzero"`
	FinishedAt time.Time     `json:"finished_at,omitzero"`
}

// RunResult is produced once per run. Outputs holds every completed item's
// output keyed by item key. FinalOutput is the terminal item's output, set
// only when that item completed.
type RunResult struct {
	RunID       string            `json:"run_id"`
	Mode        string            `json:"mode"`
	Strategy    Strategy          `json:"strategy"`
	Memory      bool              `json:"memory"`
	Terminal    string            `json:"terminal"`
	FinalOutput string            `json:"final_output"`
	Complete    bool              `json:"complete"`
	Outputs     map[string]string `json:"outputs"`
	Items       []ItemReport      `json:"items"`
	Order       []string          `json:"order"`
	Usage       backend.Usage     `json:"usage"`
	StartedAt   time.Time         `json:"started_at"`
	FinishedAt  time.Time         `json:"finished_at"`
}

func (r *RunResult) Item(key string) (ItemReport, bool) {
	for _, it := range r.Items {
		if it.Key == key {
			return it, true
		}
	}
	return ItemReport{}, false
}

// Keys returns item keys in the given state, in declaration order.
func (r *RunResult) Keys(state ItemState) []string {
	var keys []string
	for _, it := range r.Items {
		if it.State == state {
			keys = append(keys, it.Key)
		}
	}
	return keys
}
