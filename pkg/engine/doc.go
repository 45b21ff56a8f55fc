// Package engine provides the core data structures of the Cairn evaluation engine.
//
// # Overview
//
// Cairn programs declare resources, components and outputs whose properties may
// reference each other in any order. The engine tracks those entities while the
// interpreter in package eval walks the program:
//
//  1. Register - every declaration becomes an Entity in the root EntityTable
//  2. Collect - each pass over an entity yields values or Pending references
//  3. Observe - blocked entities wait in the ObserverRegistry on pending names
//  4. Detect - the CycleDetector walks the DependencyGraph after each pass
//  5. Finalize - the Finalizer orders every evaluated entity topologically
//
// # References
//
// Every lookup that may name a not-yet-evaluated entity returns a Reference, a
// sealed sum of Pending and Resolved:
//
//	switch ref := ref.(type) {
//	case engine.Pending:
//	    // record ref.Target as a dependency and retry later
//	case engine.Resolved:
//	    // use ref.Value; ref.Entity is set when read from an entity
//	}
//
// Member access on a Pending extends its property chain rather than failing, so
// a.b.c stays pending on a until a is evaluated.
//
// # Addressing
//
// Entities are registered under their addr.ResourcePath segment name, which is
// unique in the root scope regardless of nesting:
//
//	vm.main["prod"]        -> main["prod"]
//	server.api.vm.inner    -> api.inner
//
// # Graph
//
// Dependencies are kept as a table of name-keyed edges, separate from the
// entity arena. Cycle detection and topological sorting are pure traversals over
// that table:
//
//	graph := engine.NewDependencyGraph()
//	graph.SetEdges("second", []string{"main"})
//	if err := engine.NewCycleDetector(graph).DetectFrom("second"); err != nil {
//	    // err is an *EvalError of kind cycle_detected
//	}
//
// # Re-evaluation
//
// When an entity completes, ObserverRegistry.Notify queues every entity waiting
// on its key. The interpreter drains the queue iteratively, so long dependency
// chains never grow the call stack.
//
// # Error Handling
//
// All failures are *EvalError values classified by ErrorKind:
//
//   - not_found: a name that is absent after all retries
//   - declaration_exists: a duplicate qualified path or scope name
//   - cycle_detected: a circular wait, with the member chain in Cycle
//   - invalid_init: an illegal declaration such as assigning a cloud property
//   - type_mismatch: an operator or assignment type incompatibility
//   - evaluation_error: everything else
//
// Use errors.Is with the Err* sentinels or the Is* helpers to classify errors.
package engine
