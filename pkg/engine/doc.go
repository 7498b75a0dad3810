// Package engine is the local catalog engine used to apply manifests on
// the host running them.
//
// # Overview
//
// An Engine implements catalog.Engine. Compile turns a bucket of resource
// descriptors into a Catalog in three steps:
//
//  1. Every declared resource must have a registered Handler. Bare
//     references are ordering targets only and never reach a handler.
//  2. The dependency parameters require, before, subscribe and notify are
//     parsed for Type[name] references and turned into edges. require and
//     subscribe order the target first; before and notify order it last.
//     subscribe and notify additionally refresh the later resource when the
//     earlier one changes.
//  3. The DAG builder rejects cycles and assigns execution levels. The
//     optional policy gate then evaluates the bucket and refuses it when a
//     violation of severity error or critical is found.
//
// # Applying
//
// Catalog.Apply walks the levels in order and applies the resources of one
// level in parallel, bounded by WithParallelism. A resource whose
// dependency failed is skipped with DEPENDENCY_FAILED. Resources with
// refreshonly=true run only when a refresh source changed; handlers see
// Request.Refresh and may react to it (services restart). In noop mode
// handlers report what they would change without changing it.
//
//	eng := engine.New(
//		engine.WithLogger(logger),
//		engine.WithPolicy(policies),
//	)
//	_ = eng.Register("exec", handlers.NewExec(runner))
//
//	cat, err := eng.Build(ctx, bucket)
//	if err != nil {
//		return err
//	}
//	err = cat.Apply(ctx)
//	for _, o := range cat.Report().Outcomes {
//		fmt.Println(o.Ref, o.Status)
//	}
//
// Catalog.DOT renders the graph for Graphviz, colored by the last Apply.
//
// # Errors
//
// Errors are *EngineError values classified as transient or permanent and
// carrying one of the ErrCode constants. Apply joins the errors of every
// failed resource with errors.Join, so HasCode works on the result.
package engine
