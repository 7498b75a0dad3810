package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newApplyCommand() *cobra.Command {
	var (
		values []string
		schema string
		force  bool
		strict bool
		noop   bool
	)

	cmd := &cobra.Command{
		Use:   "apply <script.star>",
		Short: "Evaluate a recipe script and apply it on this host",
		Long: `Evaluate the recipes of a Starlark script and apply the resulting catalog.

This command:
  - Loads settings and the values files into the class configuration
  - Evaluates the queued recipes into a deduplicated resource graph
  - Compiles the graph and runs the policy gate
  - Applies resources level by level, refreshing subscribers on change
  - Records the run in the history database`,
		Example: `  # Apply a script
  froyo-manifest apply webserver.star

  # Merge values and report changes without making them
  froyo-manifest apply webserver.star --values prod.yaml --noop

  # Fail with the underlying error instead of a boolean outcome
  froyo-manifest apply webserver.star --strict`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := newRuntime(ctx, runtimeOptions{noop: noop, history: true, handlers: true})
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			m, err := rt.loadManifest(ctx, args[0], manifestOptions{values: values, schema: schema})
			if err != nil {
				return err
			}

			printer := &resourcePrinter{w: os.Stdout, inSync: verbose}
			printer.watch(rt.telemetry.Events)

			log.Info().
				Str("script", args[0]).
				Str("manifest", m.Name()).
				Bool("force", force).
				Bool("noop", rt.settings.Engine.Noop).
				Msg("Applying manifest")

			var applied bool
			if strict {
				applied, err = m.ExecuteStrict(ctx, force)
				if err != nil {
					return err
				}
			} else {
				applied = m.Execute(ctx, force)
			}

			res, _ := m.LastResult()
			changed, failed := printer.counts(ctx)
			summary := fmt.Sprintf("%s: %d resources, %d changed, %d failed in %s",
				m.Name(), res.Resources, changed, failed, res.Duration.Round(time.Millisecond))

			if !applied {
				colorFailed.Println("not applied")
				if res.Err != nil {
					fmt.Println(res.Err)
				}
				fmt.Println(summary)
				return errNotApplied
			}
			if rt.settings.Engine.Noop {
				colorChanged.Print("noop ")
			} else {
				colorOK.Print("applied ")
			}
			fmt.Println(summary)
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&values, "values", "f", nil, "values files or directories merged into the configuration (.yaml, .yml, .json, .cue)")
	cmd.Flags().StringVar(&schema, "schema", "", "CUE file whose #Schema validates the merged values")
	cmd.Flags().BoolVar(&force, "force", false, "apply even if the instance already executed")
	cmd.Flags().BoolVar(&strict, "strict", false, "return the fault that stopped execution")
	cmd.Flags().BoolVar(&noop, "noop", false, "report changes without making them")

	return cmd
}
