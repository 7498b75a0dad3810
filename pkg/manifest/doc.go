// Package manifest implements declarative manifest classes.
//
// A Class carries a configuration store, an ordered recipe queue and a set
// of recipe methods. Subclasses are seeded with copies of their parent's
// configuration and queue when declared. Instantiating a class yields a
// Manifest, which evaluates the queued recipes into a resource graph and
// hands the flattened bucket to a catalog engine for compilation and
// application.
//
// Resource types are not hard-wired. The base class asks its engine for the
// supported types and builds a dispatch table from them:
//
//	base, err := manifest.NewBase(ctx, "Base", engine)
//	web := base.Subclass("Web")
//	web.Configure(map[string]interface{}{"nginx": map[string]interface{}{"version": "1.24"}})
//	web.Define("nginx", manifest.OptionsFunc(func(m *manifest.Manifest, args manifest.Args) error {
//		_, err := m.Call("package", "nginx", manifest.Params{"ensure": args.GetString("version")})
//		return err
//	}))
//	web.Recipe("nginx")
//	ok := web.New().Execute(ctx, false)
//
// Execute reports failure as a boolean; ExecuteStrict returns the Fault that
// stopped the execution. Either way an instance executes at most once unless
// forced.
package manifest
