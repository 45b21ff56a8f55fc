// Package eval is the tree-walking interpreter for Cairn programs.
//
// An Interpreter visits statements in source order. Each resource, component
// instance and output becomes an engine.Entity that is evaluated as soon as
// it is declared. Properties that read entities which are not evaluated yet
// produce engine.Pending references; the entity blocks on those names and is
// re-run from the observer queue once they complete. After the walk the
// engine.Finalizer orders every entity topologically.
//
//	in := eval.New(eval.Options{Logger: logger})
//	result, err := in.Run(ctx, program)
//	if err != nil {
//	    return err
//	}
//	for _, out := range result.Outputs {
//	    fmt.Println(out.Name, out.Display())
//	}
//
// Interpreters are single use. All state lives on the Interpreter, so
// concurrent runs need separate instances.
package eval
