package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/xlab/treeprint"
)

// GraphNode is one entity in the finalized graph.
type GraphNode struct {
	Key          string
	Level        int
	Dependencies []string
	Dependents   []string
}

// Finalized is the deterministic, dependency-respecting ordering of every
// evaluated entity.
type Finalized struct {
	// Order lists entities so that every dependency precedes its dependents.
	Order []*Entity

	// Levels groups keys by depth; entities in one level are independent.
	Levels [][]string

	Nodes map[string]*GraphNode
	Edges []Edge
}

// Position returns the index of key in Order, or -1.
func (f *Finalized) Position(key string) int {
	for i, e := range f.Order {
		if e.Key == key {
			return i
		}
	}
	return -1
}

// Finalizer verifies that every entity is evaluated and orders them
// topologically using Kahn's algorithm with level tracking.
type Finalizer struct {
	table *EntityTable
	graph *DependencyGraph

	// adjacencyList maps keys to their dependents
	adjacencyList map[string][]string

	// reverseAdjacencyList maps keys to their dependencies
	reverseAdjacencyList map[string][]string

	inDegree map[string]int
	levels   [][]string
}

// NewFinalizer creates a finalizer over the entity arena and edge table.
func NewFinalizer(table *EntityTable, graph *DependencyGraph) *Finalizer {
	return &Finalizer{
		table:                table,
		graph:                graph,
		adjacencyList:        make(map[string][]string),
		reverseAdjacencyList: make(map[string][]string),
		inDegree:             make(map[string]int),
	}
}

// Finalize checks completeness and returns the topological ordering.
func (f *Finalizer) Finalize() (*Finalized, error) {
	if err := f.checkResolved(); err != nil {
		return nil, err
	}
	if err := f.initialize(); err != nil {
		return nil, err
	}
	if err := f.computeLevels(); err != nil {
		return nil, err
	}
	return f.build(), nil
}

// checkResolved fails on any entity that is still not evaluated: with
// NotFound when it waits on a name nothing declares, with the cycle when
// one exists, and with a generic error naming the target otherwise.
func (f *Finalizer) checkResolved() error {
	var blocked []*Entity
	for _, e := range f.table.All() {
		if e.Evaluated() {
			continue
		}
		blocked = append(blocked, e)
		for _, target := range e.PendingTargets() {
			if f.table.Knows(target) {
				continue
			}
			msg := fmt.Sprintf("reference to undeclared entity %q", target)
			if s := Suggest(target, f.table.Keys()); s != "" {
				msg += fmt.Sprintf("; did you mean %q?", s)
			}
			return NewNotFoundError(msg).WithEntity(e.Key).WithPos(e.Pos)
		}
	}
	if len(blocked) == 0 {
		return nil
	}

	if err := NewCycleDetector(f.graph).DetectAll(); err != nil {
		return err
	}

	first := blocked[0]
	for _, target := range first.PendingTargets() {
		if _, ok := f.table.Get(target); !ok && f.table.HasBase(target) {
			return NewEvaluationError(
				fmt.Sprintf("%q is an indexed collection; reference one instance by index or key", target), nil,
			).WithEntity(first.Key).WithPos(first.Pos)
		}
	}
	return NewEvaluationError(
		fmt.Sprintf("entity never finished evaluating; still waiting on %s",
			strings.Join(first.PendingTargets(), ", ")),
		nil,
	).WithEntity(first.Key).WithPos(first.Pos)
}

// initialize builds adjacency lists from the edge table, keeping only
// edges between registered entities.
func (f *Finalizer) initialize() error {
	for _, e := range f.table.All() {
		f.adjacencyList[e.Key] = make([]string, 0)
		f.reverseAdjacencyList[e.Key] = make([]string, 0)
		f.inDegree[e.Key] = 0
	}

	for _, e := range f.table.All() {
		for _, dep := range f.graph.Edges(e.Key) {
			if _, ok := f.table.Get(dep); !ok {
				return NewEvaluationError(
					fmt.Sprintf("evaluated entity %s depends on unregistered %q", e.Key, dep), nil,
				).WithEntity(e.Key)
			}
			if dep == e.Key {
				return NewCycleError([]string{e.Key, e.Key}).WithEntity(e.Key)
			}
			f.adjacencyList[dep] = append(f.adjacencyList[dep], e.Key)
			f.reverseAdjacencyList[e.Key] = append(f.reverseAdjacencyList[e.Key], dep)
			f.inDegree[e.Key]++
		}
	}
	return nil
}

// computeLevels assigns levels level by level; ties follow declaration order.
func (f *Finalizer) computeLevels() error {
	inDegreeCopy := make(map[string]int, len(f.inDegree))
	for key, degree := range f.inDegree {
		inDegreeCopy[key] = degree
	}

	current := make([]string, 0)
	for _, e := range f.table.All() {
		if inDegreeCopy[e.Key] == 0 {
			current = append(current, e.Key)
		}
	}

	processed := 0
	for len(current) > 0 {
		f.sortBySeq(current)
		f.levels = append(f.levels, current)
		processed += len(current)

		next := make([]string, 0)
		for _, key := range current {
			for _, dependent := range f.adjacencyList[key] {
				inDegreeCopy[dependent]--
				if inDegreeCopy[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		current = next
	}

	if processed != f.table.Len() {
		if err := NewCycleDetector(f.graph).DetectAll(); err != nil {
			return err
		}
		return NewEvaluationError("failed to order all entities", nil)
	}
	return nil
}

func (f *Finalizer) sortBySeq(keys []string) {
	sort.Slice(keys, func(i, j int) bool {
		a, _ := f.table.Get(keys[i])
		b, _ := f.table.Get(keys[j])
		return a.Seq < b.Seq
	})
}

func (f *Finalizer) build() *Finalized {
	out := &Finalized{
		Nodes: make(map[string]*GraphNode, f.table.Len()),
	}
	for level, keys := range f.levels {
		out.Levels = append(out.Levels, append([]string(nil), keys...))
		for _, key := range keys {
			e, _ := f.table.Get(key)
			out.Order = append(out.Order, e)
			out.Nodes[key] = &GraphNode{
				Key:          key,
				Level:        level,
				Dependencies: f.reverseAdjacencyList[key],
				Dependents:   f.adjacencyList[key],
			}
		}
	}
	for _, e := range out.Order {
		for _, dep := range f.reverseAdjacencyList[e.Key] {
			out.Edges = append(out.Edges, Edge{From: e.Key, To: dep})
		}
	}
	return out
}

// GetLevels returns the computed levels.
func (f *Finalizer) GetLevels() [][]string {
	return f.levels
}

// ToDOT renders the finalized graph in DOT format for Graphviz.
func (fin *Finalized) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph Dependencies {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	byKey := make(map[string]*Entity, len(fin.Order))
	for _, e := range fin.Order {
		byKey[e.Key] = e
	}

	for level, keys := range fin.Levels {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
		sb.WriteString("    style=dashed;\n")
		for _, key := range keys {
			e := byKey[key]
			label := fmt.Sprintf("%s\\n%s", dotEscape(e.Path.String()), e.Kind)
			sb.WriteString(fmt.Sprintf("    \"%s\" [label=\"%s\", fillcolor=\"%s\", style=\"filled,rounded\"];\n",
				dotEscape(key), label, kindColor(e.Kind)))
		}
		sb.WriteString("  }\n\n")
	}

	for _, edge := range fin.Edges {
		sb.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\";\n", dotEscape(edge.To), dotEscape(edge.From)))
	}

	sb.WriteString("}\n")
	return sb.String()
}

// ToTree renders each entity, in order, with its dependencies as branches.
func (fin *Finalized) ToTree() string {
	tree := treeprint.NewWithRoot("program")
	for _, e := range fin.Order {
		branch := tree.AddMetaBranch(string(e.Kind), e.Path.String())
		for _, dep := range fin.Nodes[e.Key].Dependencies {
			branch.AddNode(dep)
		}
	}
	return tree.String()
}

func dotEscape(s string) string {
	return strings.ReplaceAll(s, `"`, `\"`)
}

func kindColor(kind EntityKind) string {
	switch kind {
	case KindResource:
		return "lightblue"
	case KindComponent:
		return "lightgreen"
	case KindOutput:
		return "lightgray"
	default:
		return "white"
	}
}
