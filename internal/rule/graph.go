package rule

import (
	"sort"
	"sync"
)

// Node is one vertex of the heading reference graph. Deps may mention
// names that are not nodes (context metrics); those are ignored here
// because reference resolution already happened at save time.
type Node struct {
	Name  string
	Deps  []string
	Order int
}

// Graph is an immutable topologically ordered view of one
// organization's heading configuration, stamped with the configuration
// revision it was built from.
type Graph struct {
	revision   int64
	order      []string
	deps       map[string][]string
	dependents map[string][]string
}

func (g *Graph) Revision() int64 { return g.revision }

// TopoOrder returns node names so that every dependency precedes its
// dependents.
func (g *Graph) TopoOrder() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

func (g *Graph) Deps(name string) []string { return g.deps[name] }

// Dependents returns the transitive-dependents closure of roots,
// excluding the roots themselves.
func (g *Graph) Dependents(roots ...string) map[string]bool {
	closure := map[string]bool{}
	var walk func(name string)
	walk = func(name string) {
		for _, dep := range g.dependents[name] {
			if !closure[dep] {
				closure[dep] = true
				walk(dep)
			}
		}
	}
	for _, root := range roots {
		walk(root)
	}
	for _, root := range roots {
		delete(closure, root)
	}
	return closure
}

// Build computes a topological order over nodes with Kahn's algorithm.
// Ready nodes are drained in (Order, Name) order so the result is
// deterministic. A cycle fails with a ConfigurationError naming one
// heading on the cycle.
func Build(revision int64, nodes []Node) (*Graph, error) {
	present := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		present[n.Name] = n
	}

	deps := make(map[string][]string, len(nodes))
	dependents := make(map[string][]string, len(nodes))
	indegree := make(map[string]int, len(nodes))
	for _, n := range nodes {
		indegree[n.Name] = 0
	}
	for _, n := range nodes {
		for _, dep := range n.Deps {
			if _, ok := present[dep]; !ok {
				continue
			}
			deps[n.Name] = append(deps[n.Name], dep)
			dependents[dep] = append(dependents[dep], n.Name)
			indegree[n.Name]++
		}
	}

	var ready []string
	for name, d := range indegree {
		if d == 0 {
			ready = append(ready, name)
		}
	}

	less := func(a, b string) bool {
		na, nb := present[a], present[b]
		if na.Order != nb.Order {
			return na.Order < nb.Order
		}
		return na.Name < nb.Name
	}

	order := make([]string, 0, len(nodes))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return less(ready[i], ready[j]) })
		next := ready[0]
		ready = ready[1:]
		order = append(order, next)
		for _, dep := range dependents[next] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(order) != len(nodes) {
		var onCycle []string
		for name, d := range indegree {
			if d > 0 {
				onCycle = append(onCycle, name)
			}
		}
		sort.Strings(onCycle)
		return nil, NewConfigurationError(onCycle[0], "cyclic heading reference")
	}

	return &Graph{revision: revision, order: order, deps: deps, dependents: dependents}, nil
}

// Resolver caches one graph per organization. A cached graph is reused
// only while its revision matches the caller's view of the heading
// configuration; heading mutations invalidate explicitly.
type Resolver struct {
	mu     sync.RWMutex
	graphs map[string]*Graph
}

func NewResolver() *Resolver {
	return &Resolver{graphs: map[string]*Graph{}}
}

func (r *Resolver) Get(org string, revision int64, build func() (*Graph, error)) (*Graph, error) {
	r.mu.RLock()
	g, ok := r.graphs[org]
	r.mu.RUnlock()
	if ok && g.revision == revision {
		return g, nil
	}

	g, err := build()
	if err != nil {
		return nil, err
	}
	if g.revision != revision {
		return nil, NewConfigurationError("", "graph revision mismatch")
	}

	r.mu.Lock()
	r.graphs[org] = g
	r.mu.Unlock()
	return g, nil
}

func (r *Resolver) Invalidate(org string) {
	r.mu.Lock()
	delete(r.graphs, org)
	r.mu.Unlock()
}
