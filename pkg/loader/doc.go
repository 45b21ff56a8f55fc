// Package loader reads programs written in HCL native syntax and converts
// them into the ast package's tree.
//
// A program file contains top-level variable assignments and blocks:
//
//	input "env" {
//	  type    = "string"
//	  default = "dev"
//	}
//
//	resource "vm" "web" {
//	  count = 2
//	  name  = "${env}-${count.index}"
//	}
//
//	output "first" { value = web[0].name }
//
// Import blocks are resolved relative to the importing file and loaded
// through an afero filesystem, so tests and the watch command can use an
// in-memory tree. Glob expands doublestar patterns for schema and policy
// file lists.
package loader
