package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func newCheckCommand() *cobra.Command {
	var values []string

	cmd := &cobra.Command{
		Use:   "check <script.star>",
		Short: "Check that every queued recipe of a script resolves",
		Long: `Load a Starlark script and report the queued recipes, the resource
types available to them and any recipe that does not resolve. Nothing is
evaluated or applied.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := newRuntime(ctx, runtimeOptions{handlers: true})
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			m, err := rt.loadManifest(ctx, args[0], manifestOptions{values: values})
			if err != nil {
				return err
			}

			class := m.Class()
			missing := m.MissingRecipes()

			if jsonOutput {
				names := make([]string, 0, len(class.Recipes()))
				for _, r := range class.Recipes() {
					names = append(names, r.Name)
				}
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
					"class":      class.Name(),
					"recipes":    names,
					"missing":    missing,
					"executable": m.Executable(),
				})
			}

			out := cmd.OutOrStdout()
			colorHeader.Fprintf(out, "%s\n", class.Name())
			for _, r := range class.Recipes() {
				mark := colorOK.Sprint("ok")
				for _, name := range missing {
					if name == r.Name {
						mark = colorFailed.Sprint("missing")
					}
				}
				fmt.Fprintf(out, "  recipe %-24s %s\n", r.Name, mark)
			}
			fmt.Fprintf(out, "  types  %s\n", colorDim.Sprint(strings.Join(class.Types(), ", ")))

			if !m.Executable() {
				return fmt.Errorf("%w: missing recipes %s", errNotApplied, strings.Join(missing, ", "))
			}
			colorOK.Fprintln(out, "executable")
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&values, "values", "f", nil, "values files merged into the configuration")

	return cmd
}
