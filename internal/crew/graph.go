package crew

import (
	"fmt"
	"slices"
)

// Graph is the validated dependency structure of a set of work items.
// Keys are identified by their declaration index for tie-breaking.
type Graph struct {
	keys       []string
	index      map[string]int
	deps       map[string][]string
	dependents map[string][]string
	order      []string
}

// NewGraph validates items and computes a topological order. Ties among
// items that become ready together are broken by declaration order.
func NewGraph(items []WorkItem) (*Graph, error) {
	g := &Graph{
		keys:       make([]string, 0, len(items)),
		index:      make(map[string]int, len(items)),
		deps:       make(map[string][]string, len(items)),
		dependents: make(map[string][]string, len(items)),
	}

	for i, it := range items {
		if it.Key == "" {
			return nil, fmt.Errorf("%w: work item %d has no key", ErrConfiguration, i)
		}
		if _, dup := g.index[it.Key]; dup {
			return nil, fmt.Errorf("%w: duplicate work item %q", ErrConfiguration, it.Key)
		}
		g.index[it.Key] = i
		g.keys = append(g.keys, it.Key)
	}

	inDegree := make(map[string]int, len(items))
	for _, it := range items {
		seen := make(map[string]bool, len(it.DependsOn))
		for _, dep := range it.DependsOn {
			if _, ok := g.index[dep]; !ok {
				return nil, fmt.Errorf("%w: %s depends on %q", ErrUnknownDependency, it.Key, dep)
			}
			if dep == it.Key {
				return nil, fmt.Errorf("%w: %s depends on itself", ErrCycle, it.Key)
			}
			if seen[dep] {
				continue
			}
			seen[dep] = true
			g.deps[it.Key] = append(g.deps[it.Key], dep)
			g.dependents[dep] = append(g.dependents[dep], it.Key)
			inDegree[it.Key]++
		}
	}
	for _, k := range g.keys {
		slices.SortFunc(g.dependents[k], g.compare)
	}

	// Kahn's algorithm, always taking the earliest-declared ready key
	var ready []string
	for _, k := range g.keys {
		if inDegree[k] == 0 {
			ready = append(ready, k)
		}
	}
	for len(ready) > 0 {
		key := ready[0]
		ready = ready[1:]
		g.order = append(g.order, key)

		for _, next := range g.dependents[key] {
			inDegree[next]--
			if inDegree[next] == 0 {
				pos, _ := slices.BinarySearchFunc(ready, next, g.compare)
				ready = slices.Insert(ready, pos, next)
			}
		}
	}

	if len(g.order) != len(g.keys) {
		var stuck []string
		for _, k := range g.keys {
			if inDegree[k] > 0 {
				stuck = append(stuck, k)
			}
		}
		return nil, fmt.Errorf("%w: %v", ErrCycle, stuck)
	}

	return g, nil
}

func (g *Graph) compare(a, b string) int {
	return g.index[a] - g.index[b]
}

func (g *Graph) Len() int { return len(g.keys) }

// Keys returns item keys in declaration order.
func (g *Graph) Keys() []string { return slices.Clone(g.keys) }

// Index returns the declaration index of key, or -1.
func (g *Graph) Index(key string) int {
	i, ok := g.index[key]
	if !ok {
		return -1
	}
	return i
}

// Order returns the deterministic topological order.
func (g *Graph) Order() []string { return slices.Clone(g.order) }

// Dependencies returns the direct dependencies of key, in declaration order
// of the item's DependsOn list.
func (g *Graph) Dependencies(key string) []string { return slices.Clone(g.deps[key]) }

// Dependents returns the items that depend directly on key.
func (g *Graph) Dependents(key string) []string { return slices.Clone(g.dependents[key]) }

// Downstream returns every item that transitively depends on key, in
// declaration order.
func (g *Graph) Downstream(key string) []string {
	seen := make(map[string]bool)
	stack := slices.Clone(g.dependents[key])
	for len(stack) > 0 {
		k := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[k] {
			continue
		}
		seen[k] = true
		stack = append(stack, g.dependents[k]...)
	}

	out := make([]string, 0, len(seen))
	for _, k := range g.keys {
		if seen[k] {
			out = append(out, k)
		}
	}
	return out
}

// Sinks returns the items nothing depends on, in declaration order.
func (g *Graph) Sinks() []string {
	var out []string
	for _, k := range g.keys {
		if len(g.dependents[k]) == 0 {
			out = append(out, k)
		}
	}
	return out
}

// Terminal is the item whose output is the run's final output: the unique
// sink, or the last-declared one when there are several.
func (g *Graph) Terminal() string {
	sinks := g.Sinks()
	if len(sinks) == 0 {
		return ""
	}
	return sinks[len(sinks)-1]
}

// Tiers groups keys by depth. Items in one tier share no dependency path
// and may run concurrently.
func (g *Graph) Tiers() [][]string {
	depth := make(map[string]int, len(g.keys))
	maxDepth := 0
	for _, k := range g.order {
		for _, dep := range g.deps[k] {
			if d := depth[dep] + 1; d > depth[k] {
				depth[k] = d
			}
		}
		if depth[k] > maxDepth {
			maxDepth = depth[k]
		}
	}

	tiers := make([][]string, maxDepth+1)
	for _, k := range g.keys {
		tiers[depth[k]] = append(tiers[depth[k]], k)
	}
	return tiers
}
