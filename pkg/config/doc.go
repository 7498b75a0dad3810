// Package config loads the runtime settings of froyo-manifest and the
// configuration values fed into manifest classes.
//
// # Settings
//
// LoadSettings reads a YAML file over DefaultSettings. The raw document is
// first checked against the built-in CUE schema, which rejects unknown
// keys and out-of-range values with file positions, then decoded with
// yaml.v3 and validated through the validate struct tags.
//
//	settings, err := config.LoadSettings(ctx, "froyo.yaml")
//	if err != nil {
//		return err
//	}
//	tel, err := telemetry.NewTelemetry(settings.Telemetry())
//
// # Values
//
// ValuesLoader reads .yaml, .yml, .json and .cue files and deep-merges
// them in order, later files winning. CUE files must evaluate to concrete
// structs. The merged result can be checked against a registered schema:
//
//	registry := config.NewSchemaRegistry()
//	_ = registry.RegisterSchemaFile("site", "schema.cue")
//	values, err := config.NewValuesLoader(config.WithSchema(registry, "site")).
//		Load(ctx, "values/")
//	class.Configure(values)
//
// Schemas declare a #Schema definition; definitions are closed, so use
// "..." to allow keys the schema does not name.
package config
