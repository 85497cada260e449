package crew

import (
	"container/heap"
	"slices"
)

// Policy orders the Ready set under the hierarchical strategy. It sees the
// outputs completed so far. The engine discards any key it returns that is
// not Ready and appends Ready keys it left out, so a policy can reorder
// dispatch but never add, drop or unblock work.
type Policy interface {
	Order(ready []string, g *Graph, outputs map[string]string) []string
}

// PolicyFunc adapts a function into a Policy.
type PolicyFunc func(ready []string, g *Graph, outputs map[string]string) []string

func (f PolicyFunc) Order(ready []string, g *Graph, outputs map[string]string) []string {
	return f(ready, g, outputs)
}

// DeclarationPolicy dispatches in declaration order. Sequential runs always
// use it.
type DeclarationPolicy struct{}

func (DeclarationPolicy) Order(ready []string, g *Graph, _ map[string]string) []string {
	out := slices.Clone(ready)
	slices.SortFunc(out, g.compare)
	return out
}

// CoordinatorPolicy dispatches first the ready item that unblocks the most
// downstream work, falling back to declaration order.
type CoordinatorPolicy struct{}

func (CoordinatorPolicy) Order(ready []string, g *Graph, _ map[string]string) []string {
	pq := &readyQueue{g: g, weight: make(map[string]int, len(ready))}
	for _, k := range ready {
		pq.weight[k] = len(g.Downstream(k))
		heap.Push(pq, k)
	}
	out := make([]string, 0, len(ready))
	for pq.Len() > 0 {
		out = append(out, heap.Pop(pq).(string))
	}
	return out
}

type readyQueue struct {
	g      *Graph
	keys   []string
	weight map[string]int
}

func (q *readyQueue) Len() int { return len(q.keys) }

func (q *readyQueue) Less(i, j int) bool {
	a, b := q.keys[i], q.keys[j]
	if q.weight[a] != q.weight[b] {
		return q.weight[a] > q.weight[b]
	}
	return q.g.index[a] < q.g.index[b]
}

func (q *readyQueue) Swap(i, j int) { q.keys[i], q.keys[j] = q.keys[j], q.keys[i] }
func (q *readyQueue) Push(x any)   { q.keys = append(q.keys, x.(string)) }

func (q *readyQueue) Pop() any {
	n := len(q.keys)
	k := q.keys[n-1]
	q.keys = q.keys[:n-1]
	return k
}

// sanitize reconciles a policy's proposal with the actual Ready set.
func sanitize(proposed, ready []string, g *Graph) []string {
	allowed := make(map[string]bool, len(ready))
	for _, k := range ready {
		allowed[k] = true
	}
	out := make([]string, 0, len(ready))
	for _, k := range proposed {
		if allowed[k] {
			out = append(out, k)
			delete(allowed, k)
		}
	}
	rest := make([]string, 0, len(allowed))
	for k := range allowed {
		rest = append(rest, k)
	}
	slices.SortFunc(rest, g.compare)
	return append(out, rest...)
}
