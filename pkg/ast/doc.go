// Package ast defines the syntax tree consumed by the evaluator.
//
// The loader produces these nodes from source files; the evaluator never
// reinterprets syntax. Every node carries the source position it came from
// so diagnostics can point back at the declaration.
package ast
