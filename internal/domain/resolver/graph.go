// Package resolver builds the dependency graph between task templates.
//
// Edges point from a dependency to its dependents. Resolve rejects cycles
// and precomputes a deterministic topological order, so placement never
// walks the graph recursively.
package resolver

import (
	"container/heap"
	"sort"
)

// Node is one template as seen by the resolver.
type Node struct {
	ID        string
	DependsOn []string
}

// Graph is an immutable, validated dependency graph.
type Graph struct {
	ids        []string
	index      map[string]int
	deps       [][]int // sorted, i depends on deps[i]
	dependents [][]int // sorted, dependents[i] depend on i
	order      []int
	rank       []int
}

// Resolve validates nodes and returns their dependency graph. Unknown
// references and duplicate ids yield a *GraphError; cycles yield a
// *CyclicDependencyError.
func Resolve(nodes []Node) (*Graph, error) {
	g := &Graph{
		ids:   make([]string, 0, len(nodes)),
		index: make(map[string]int, len(nodes)),
	}

	for _, n := range nodes {
		if _, dup := g.index[n.ID]; dup {
			return nil, graphErrorf(ErrDuplicateTemplate, "%q", n.ID)
		}
		g.index[n.ID] = -1
		g.ids = append(g.ids, n.ID)
	}
	sort.Strings(g.ids)
	for i, id := range g.ids {
		g.index[id] = i
	}

	g.deps = make([][]int, len(g.ids))
	g.dependents = make([][]int, len(g.ids))
	for _, n := range nodes {
		i := g.index[n.ID]
		seen := make(map[int]bool, len(n.DependsOn))
		for _, dep := range n.DependsOn {
			j, ok := g.index[dep]
			if !ok {
				return nil, graphErrorf(ErrUnknownDependency, "%q depends on %q", n.ID, dep)
			}
			if seen[j] {
				continue
			}
			seen[j] = true
			g.deps[i] = append(g.deps[i], j)
			g.dependents[j] = append(g.dependents[j], i)
		}
	}
	for i := range g.ids {
		sort.Ints(g.deps[i])
		sort.Ints(g.dependents[i])
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, &CyclicDependencyError{Cycle: cycle}
	}

	g.order = g.topoOrder()
	g.rank = make([]int, len(g.ids))
	for pos, i := range g.order {
		g.rank[i] = pos
	}
	return g, nil
}

// findCycle runs a DFS with recursion-stack (gray) marking and returns one
// stable cycle witness in dependency order, or nil.
func (g *Graph) findCycle() []string {
	const (
		white = iota
		gray
		black
	)

	color := make([]int, len(g.ids))
	parent := make([]int, len(g.ids))
	for i := range parent {
		parent[i] = -1
	}

	var cycle []int
	var dfs func(u int) bool
	dfs = func(u int) bool {
		color[u] = gray
		for _, v := range g.deps[u] {
			switch color[v] {
			case white:
				parent[v] = u
				if dfs(v) {
					return true
				}
			case gray:
				// back edge u -> v closes v ... u -> v
				cycle = append(cycle, v)
				for cur := u; cur != -1 && cur != v; cur = parent[cur] {
					cycle = append(cycle, cur)
				}
				cycle = append(cycle, v)
				return true
			}
		}
		color[u] = black
		return false
	}

	for i := range g.ids {
		if color[i] == white && dfs(i) {
			break
		}
	}
	if len(cycle) == 0 {
		return nil
	}

	// cycle is [v, u, parent(u), ..., v]; following deps edges from v visits
	// the reverse, so flip it to read "a depends on b depends on ... a".
	out := make([]string, len(cycle))
	for i, idx := range cycle {
		out[len(cycle)-1-i] = g.ids[idx]
	}
	return out
}

// readyQueue orders ready nodes so templates blocking more others come
// first, then by id.
type readyQueue struct {
	items []int
	g     *Graph
}

func (q *readyQueue) Len() int { return len(q.items) }
func (q *readyQueue) Less(i, j int) bool {
	a, b := q.items[i], q.items[j]
	da, db := len(q.g.dependents[a]), len(q.g.dependents[b])
	if da != db {
		return da > db
	}
	return a < b
}
func (q *readyQueue) Swap(i, j int) { q.items[i], q.items[j] = q.items[j], q.items[i] }
func (q *readyQueue) Push(x any)    { q.items = append(q.items, x.(int)) }
func (q *readyQueue) Pop() any {
	old := q.items
	n := len(old)
	x := old[n-1]
	q.items = old[:n-1]
	return x
}

// topoOrder is Kahn's algorithm over an acyclic graph.
func (g *Graph) topoOrder() []int {
	indeg := make([]int, len(g.ids))
	for i := range g.ids {
		indeg[i] = len(g.deps[i])
	}

	ready := &readyQueue{g: g}
	for i, d := range indeg {
		if d == 0 {
			ready.items = append(ready.items, i)
		}
	}
	heap.Init(ready)

	out := make([]int, 0, len(g.ids))
	for ready.Len() > 0 {
		n := heap.Pop(ready).(int)
		out = append(out, n)
		for _, m := range g.dependents[n] {
			indeg[m]--
			if indeg[m] == 0 {
				heap.Push(ready, m)
			}
		}
	}
	return out
}

// Len returns the number of templates in the graph.
func (g *Graph) Len() int { return len(g.ids) }

// Has reports whether id is part of the graph.
func (g *Graph) Has(id string) bool {
	_, ok := g.index[id]
	return ok
}

// Order returns template ids in topological order: every template appears
// after all of its dependencies.
func (g *Graph) Order() []string {
	out := make([]string, len(g.order))
	for pos, i := range g.order {
		out[pos] = g.ids[i]
	}
	return out
}

// Rank returns the position of id in Order, or Len() for unknown ids.
func (g *Graph) Rank(id string) int {
	i, ok := g.index[id]
	if !ok {
		return len(g.ids)
	}
	return g.rank[i]
}

// Dependencies returns the direct dependencies of id, sorted.
func (g *Graph) Dependencies(id string) []string {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	return g.names(g.deps[i])
}

// Dependents returns the templates that directly depend on id, sorted.
func (g *Graph) Dependents(id string) []string {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	return g.names(g.dependents[i])
}

// Blocking reports whether any template depends on id.
func (g *Graph) Blocking(id string) bool {
	i, ok := g.index[id]
	return ok && len(g.dependents[i]) > 0
}

func (g *Graph) names(idx []int) []string {
	if len(idx) == 0 {
		return nil
	}
	out := make([]string, len(idx))
	for k, i := range idx {
		out[k] = g.ids[i]
	}
	return out
}
