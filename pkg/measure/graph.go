package measure

import (
	"container/heap"
	"fmt"
	"sort"
	"strings"
)

// stepGraph is an immutable, validated dependency DAG over measurement names.
//
// Node indices follow ascending name order so every traversal is deterministic.
type stepGraph struct {
	names    []string
	index    map[string]int
	deps     [][]int // by index, sorted ascending
	outgoing [][]int // by index, sorted ascending
	order    []int   // topological
}

// newStepGraph builds and validates the graph. It rejects empty names, dependencies
// on unknown names, self-loops and any cycle.
func newStepGraph(deps map[string][]string) (*stepGraph, error) {
	if len(deps) == 0 {
		return nil, fmt.Errorf("%w: no measurements", ErrConfiguration)
	}

	names := make([]string, 0, len(deps))
	for n := range deps {
		if n == "" {
			return nil, fmt.Errorf("%w: measurement name is required", ErrConfiguration)
		}
		names = append(names, n)
	}
	sort.Strings(names)

	g := &stepGraph{
		names:    names,
		index:    make(map[string]int, len(names)),
		deps:     make([][]int, len(names)),
		outgoing: make([][]int, len(names)),
	}
	for i, n := range names {
		g.index[n] = i
	}

	for i, n := range names {
		seen := make(map[int]bool)
		for _, d := range deps[n] {
			j, ok := g.index[d]
			if !ok {
				return nil, fmt.Errorf("%w: %q depends on unknown measurement %q", ErrConfiguration, n, d)
			}
			if j == i {
				return nil, fmt.Errorf("%w: self-loop on %q", ErrConfiguration, n)
			}
			if seen[j] {
				continue
			}
			seen[j] = true
			g.deps[i] = append(g.deps[i], j)
			g.outgoing[j] = append(g.outgoing[j], i)
		}
		sort.Ints(g.deps[i])
	}
	for i := range g.outgoing {
		sort.Ints(g.outgoing[i])
	}

	g.order = g.topoOrder()
	if len(g.order) != len(names) {
		return nil, fmt.Errorf("%w: dependency cycle among %s", ErrConfiguration, strings.Join(g.unordered(), ", "))
	}
	return g, nil
}

// Order returns every name in a deterministic topological order.
func (g *stepGraph) Order() []string {
	out := make([]string, len(g.order))
	for k, i := range g.order {
		out[k] = g.names[i]
	}
	return out
}

// Deps returns the direct dependencies of name.
func (g *stepGraph) Deps(name string) []string {
	i, ok := g.index[name]
	if !ok {
		return nil
	}
	out := make([]string, len(g.deps[i]))
	for k, j := range g.deps[i] {
		out[k] = g.names[j]
	}
	return out
}

// Has reports whether name is a node of the graph.
func (g *stepGraph) Has(name string) bool {
	_, ok := g.index[name]
	return ok
}

type intMinHeap []int

func (h intMinHeap) Len() int           { return len(h) }
func (h intMinHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h intMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *intMinHeap) Push(x any)        { *h = append(*h, x.(int)) }
func (h *intMinHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// topoOrder runs Kahn's algorithm with a min-heap ready queue. A result shorter than
// the node count means the graph has a cycle.
func (g *stepGraph) topoOrder() []int {
	indeg := make([]int, len(g.names))
	for i := range g.deps {
		indeg[i] = len(g.deps[i])
	}

	ready := &intMinHeap{}
	for i, d := range indeg {
		if d == 0 {
			heap.Push(ready, i)
		}
	}

	out := make([]int, 0, len(indeg))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		out = append(out, n)
		for _, m := range g.outgoing[n] {
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return out
}

// unordered returns the names left out of the topological order, the members and
// descendants of cycles.
func (g *stepGraph) unordered() []string {
	done := make(map[int]bool, len(g.order))
	for _, i := range g.order {
		done[i] = true
	}
	var out []string
	for i, n := range g.names {
		if !done[i] {
			out = append(out, n)
		}
	}
	return out
}
