package policy

// BuiltinPolicies returns the policies every engine starts with.
func BuiltinPolicies() []Policy {
	return []Policy{
		execCommandRequiredPolicy(),
		fileAbsolutePathPolicy(),
		packageEnsurePolicy(),
	}
}

// execCommandRequiredPolicy rejects declared exec resources without a command.
func execCommandRequiredPolicy() Policy {
	return Policy{
		Name:        "exec-command-required",
		Description: "Declared exec resources must carry a command parameter",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"exec"},
		Rego: `package froyo.policies.exec

import rego.v1

deny contains violation if {
	input.resource.type == "exec"
	input.resource.declared
	not input.resource.params.command
	violation := {
		"message": sprintf("%s has no command", [input.resource.ref]),
		"severity": "error",
	}
}

deny contains violation if {
	input.resource.type == "exec"
	input.resource.declared
	trim_space(input.resource.params.command) == ""
	violation := {
		"message": sprintf("%s has an empty command", [input.resource.ref]),
		"severity": "error",
	}
}`,
	}
}

// fileAbsolutePathPolicy rejects declared files whose name is not absolute.
func fileAbsolutePathPolicy() Policy {
	return Policy{
		Name:        "file-absolute-path",
		Description: "Declared file resources must be named by an absolute path",
		Severity:    SeverityError,
		Enabled:     true,
		Tags:        []string{"file"},
		Rego: `package froyo.policies.file

import rego.v1

deny contains violation if {
	input.resource.type == "file"
	input.resource.declared
	not startswith(input.resource.name, "/")
	violation := {
		"message": sprintf("%s must be an absolute path", [input.resource.ref]),
		"severity": "error",
	}
}`,
	}
}

// packageEnsurePolicy warns about package ensure values the handler does not know.
func packageEnsurePolicy() Policy {
	return Policy{
		Name:        "package-ensure",
		Description: "Package ensure values should be installed, present, latest or absent",
		Severity:    SeverityWarning,
		Enabled:     true,
		Tags:        []string{"package"},
		Rego: `package froyo.policies.pkg

import rego.v1

known := {"installed", "present", "latest", "absent", "purged"}

deny contains violation if {
	input.resource.type == "package"
	input.resource.declared
	ensure := input.resource.params.ensure
	not known[ensure]
	violation := {
		"message": sprintf("%s has unknown ensure value %s", [input.resource.ref, ensure]),
		"severity": "warning",
	}
}`,
	}
}
