/*
Package addr models the fully-qualified address of an evaluated entity.

An address has the canonical form

	[file:]parent.type.name[segments...]

where the optional parent is itself an address (the owning component
instance) and segments are the accessors appended by loops and count:

	vm.main[0]
	vm.main["prod"]
	server.api.vm.inner
	net.cairn:vm.main[{"env":"prod","region":"us-east"}]

Two renderings are provided. String returns the full path including type
names and file tag; SegmentName returns the registration key used for
uniqueness checks and lookups, which omits types and the file tag:

	server.api.vm.inner  ->  api.inner

Segment renderings are type-tagged so that the number 1, the string "1"
and composite keys can never render to the same text.
*/
package addr
