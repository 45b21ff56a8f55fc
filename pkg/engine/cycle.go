package engine

// CycleDetector finds circular waits in a DependencyGraph.
type CycleDetector struct {
	graph *DependencyGraph
}

// NewCycleDetector creates a detector over graph.
func NewCycleDetector(graph *DependencyGraph) *CycleDetector {
	return &CycleDetector{graph: graph}
}

// DetectFrom runs a depth-first search outward from start and fails with
// a cycle error the moment it revisits a node on the current path,
// including start depending on itself.
func (d *CycleDetector) DetectFrom(start string) error {
	visited := make(map[string]bool)
	onPath := make(map[string]bool)
	if cycle := d.visit(start, visited, onPath, nil); cycle != nil {
		return NewCycleError(cycle).WithEntity(start)
	}
	return nil
}

// DetectAll searches every node of the graph.
func (d *CycleDetector) DetectAll() error {
	visited := make(map[string]bool)
	onPath := make(map[string]bool)
	for _, node := range d.graph.Nodes() {
		if visited[node] {
			continue
		}
		if cycle := d.visit(node, visited, onPath, nil); cycle != nil {
			return NewCycleError(cycle).WithEntity(cycle[0])
		}
	}
	return nil
}

// visit returns the cycle members, first member repeated last, or nil.
func (d *CycleDetector) visit(node string, visited, onPath map[string]bool, path []string) []string {
	visited[node] = true
	onPath[node] = true
	path = append(path, node)

	for _, next := range d.graph.Edges(node) {
		if onPath[next] {
			for i, member := range path {
				if member == next {
					cycle := make([]string, 0, len(path)-i+1)
					cycle = append(cycle, path[i:]...)
					return append(cycle, next)
				}
			}
		}
		if !visited[next] {
			if cycle := d.visit(next, visited, onPath, path); cycle != nil {
				return cycle
			}
		}
	}

	onPath[node] = false
	return nil
}
