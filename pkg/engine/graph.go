package engine

// Edge is a recorded dependency: From reads To.
type Edge struct {
	From string
	To   string
}

// DependencyGraph is the table of dependency edges keyed by registration
// key. Nodes are names, not entity pointers, so traversals never follow
// live object references.
type DependencyGraph struct {
	edges map[string][]string
	order []string
}

// NewDependencyGraph creates an empty edge table.
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{edges: make(map[string][]string)}
}

// SetEdges replaces the outgoing edges of from. Duplicates are dropped and
// first-seen order is kept. It reports whether the row changed.
func (g *DependencyGraph) SetEdges(from string, to []string) bool {
	seen := make(map[string]bool, len(to))
	row := make([]string, 0, len(to))
	for _, t := range to {
		if !seen[t] {
			seen[t] = true
			row = append(row, t)
		}
	}

	old, exists := g.edges[from]
	if !exists {
		g.order = append(g.order, from)
	}
	g.edges[from] = row
	return !exists || !sameStrings(old, row)
}

// Edges returns the outgoing edges of from.
func (g *DependencyGraph) Edges(from string) []string {
	return g.edges[from]
}

// Nodes returns every node with a recorded row, in first-recorded order.
func (g *DependencyGraph) Nodes() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// AllEdges returns every edge in node order.
func (g *DependencyGraph) AllEdges() []Edge {
	var out []Edge
	for _, from := range g.order {
		for _, to := range g.edges[from] {
			out = append(out, Edge{From: from, To: to})
		}
	}
	return out
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
