// Package policy evaluates Open Policy Agent (OPA) Rego policies against
// the finalized entities of a run.
//
// # Architecture
//
// The policy system consists of three parts:
//
//  1. Engine - Compiles policies once and queries each policy's deny set per entity
//  2. Loader - Reads .rego and .json policies from directories and globs, and watches them
//  3. Built-in Policies - entity-naming, and required-tags when tags are configured
//
// # Input document
//
// Every entity is evaluated on its own. The input is:
//
//	{
//	  "entity": {
//	    "key": "net.subnet[0]", "name": "subnet", "kind": "resource",
//	    "type": "subnet", "file": "main.cairn",
//	    "properties": {...}, "tags": {...}, "metadata": {...},
//	    "sensitive": ["password"], "depends_on": ["net"], "level": 1
//	  },
//	  "context": {"run_id": "...", "required_tags": ["owner"]}
//	}
//
// # Writing policies
//
// A policy defines a deny set. Elements are message strings or objects
// with a message and, optionally, a severity overriding the policy default:
//
//	# VMs stay small.
//	# severity: error
//	package cairn.size
//
//	import rego.v1
//
//	deny contains msg if {
//	    input.entity.type == "vm"
//	    input.entity.properties.size > 4
//	    msg := sprintf("size %d exceeds 4", [input.entity.properties.size])
//	}
//
// The leading comment block becomes the description and a "severity:"
// line sets the default severity, which is warning otherwise.
//
// # Usage
//
//	eng, err := policy.NewEngine(logger, policy.Config{RequiredTags: []string{"owner"}})
//	if err != nil {
//	    return err
//	}
//	if err := eng.LoadPolicies(ctx, afero.NewOsFs(), []string{"policies/**/*.rego"}); err != nil {
//	    return err
//	}
//	result, err := eng.Evaluate(ctx, res.RunID, res.Finalized)
//	if err != nil {
//	    return err
//	}
//	return result.Err(policy.SeverityError)
package policy
