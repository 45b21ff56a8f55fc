package policy

const (
	// NamingPolicy checks entity names.
	NamingPolicy = "entity-naming"

	// RequiredTagsPolicy checks resources carry the configured tags. It is
	// enabled only when tags are configured.
	RequiredTagsPolicy = "required-tags"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		entityNamingPolicy(),
		requiredTagsPolicy(),
	}
}

// entityNamingPolicy enforces entity naming conventions.
func entityNamingPolicy() Policy {
	return Policy{
		Name:        NamingPolicy,
		Description: "Entity names start with a lowercase letter and use lowercase letters, digits, underscores and hyphens",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"naming", "conventions"},
		Rego: `package cairn.policies.naming

import rego.v1

deny contains violation if {
	name := input.entity.name
	not regex.match("^[a-z][a-z0-9_-]*$", name)
	violation := {
		"message": sprintf("name '%s' must start with a lowercase letter and contain only lowercase letters, digits, underscores and hyphens", [name]),
	}
}

deny contains violation if {
	name := input.entity.name
	count(name) > 63
	violation := {
		"message": sprintf("name '%s' must be at most 63 characters long", [name]),
	}
}

deny contains violation if {
	name := input.entity.name
	endswith(name, "-")
	violation := {
		"message": sprintf("name '%s' must not end with a hyphen", [name]),
		"severity": "warning",
	}
}
`,
	}
}

// requiredTagsPolicy enforces tags on resources. Entities marked existing
// are not managed here and are skipped.
func requiredTagsPolicy() Policy {
	return Policy{
		Name:        RequiredTagsPolicy,
		Description: "Resources carry every configured tag",
		Severity:    SeverityError,
		Enabled:     false,
		Tags:        []string{"tags", "governance"},
		Rego: `package cairn.policies.tags

import rego.v1

deny contains violation if {
	input.entity.kind == "resource"
	not input.entity.metadata.existing
	some tag in input.context.required_tags
	not has_tag(input.entity, tag)
	violation := {
		"message": sprintf("missing required tag '%s'", [tag]),
		"tag": tag,
	}
}

deny contains violation if {
	input.entity.kind == "resource"
	some tag, value in input.entity.tags
	tag in input.context.required_tags
	value == ""
	violation := {
		"message": sprintf("tag '%s' must not be empty", [tag]),
		"tag": tag,
		"severity": "warning",
	}
}

has_tag(entity, tag) if {
	_ = entity.tags[tag]
}
`,
	}
}
