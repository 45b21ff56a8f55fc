// Package config holds everything a run is configured with outside the
// program itself.
//
// # Run configuration
//
// RunConfig is read from cairn.yaml, or from cairn.cue when the project
// prefers CUE. A CUE file must evaluate to concrete data; it is exported to
// YAML and decoded through the same path. Struct tags are checked with
// go-playground/validator:
//
//	program: main.cairn
//	inputs:
//	  env: prod
//	schemas: [schemas/*.cue]
//	validators:
//	  max_disks: validators/disks.star
//	policy:
//	  paths: [policies/*.rego]
//	  fail_on: error
//	state:
//	  path: .cairn/state.db
//
// # Provider schemas
//
// SchemaRegistry compiles CUE files whose top-level fields declare resource
// types. Field kinds become property types, marked defaults become schema
// defaults, and the @cloud() and @sensitive() attributes set the matching
// flags. After a resource is evaluated the registry unifies its known
// properties with the CUE constraints, so bounds and patterns written in
// CUE are enforced too.
//
// # Scripted validators
//
// ScriptDirective runs a Starlark validate(entity, args) function as a
// directive. Each call runs on a fresh thread that is cancelled when the
// context or the per-call timeout expires.
package config
