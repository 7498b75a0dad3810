// Package policy gates catalog compilation with Open Policy Agent (OPA)
// policies written in Rego.
//
// Every enabled policy is evaluated once per resource of a bucket. The
// document bound to input has a resource object (type, name, ref,
// declared, source, params) and a bucket object (name, type, resources).
// Violations are read from the policy package's deny set, whose members
// are either plain strings or objects with message, severity and resource
// keys:
//
//	package froyo.policies.custom
//
//	import rego.v1
//
//	deny contains msg if {
//		input.resource.type == "exec"
//		not input.resource.params.timeout
//		msg := sprintf("%s has no timeout", [input.resource.ref])
//	}
//
// Violations of severity error or critical make the Result not allowed,
// which the engine turns into a compilation failure.
//
// # Usage
//
//	pe, err := policy.NewEngine(logger)
//	if err != nil {
//		return err
//	}
//	if err := pe.LoadPolicies(ctx, []string{"/etc/froyo/policies"}); err != nil {
//		return err
//	}
//	result, err := pe.Evaluate(ctx, bucket)
//
// Policy files are .rego modules or YAML/JSON definitions with name,
// description, severity, enabled, tags and either inline rego or a
// rego_file relative to the definition. A Rego file takes its name from the
// file name and reads its description from the leading comment block, where
// "severity:", "tags:" and "enabled:" lines set metadata. Loader.Watch
// reloads policies when files under the watched paths change;
// Engine.Replace is the usual reload callback.
package policy
