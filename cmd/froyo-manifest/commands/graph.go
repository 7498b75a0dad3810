package commands

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newGraphCommand() *cobra.Command {
	var (
		values []string
		output string
		title  string
	)

	cmd := &cobra.Command{
		Use:   "graph <script.star>",
		Short: "Write the resource relationship graph in DOT format",
		Long: `Evaluate the recipes of a script and compile the catalog without applying
it, then write the relationship graph for Graphviz.`,
		Example: `  froyo-manifest graph webserver.star -o webserver.dot
  dot -Tsvg webserver.dot > webserver.svg`,
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

			if output == "" || output == "-" {
				return m.GraphTo(ctx, title, cmd.OutOrStdout())
			}

			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", output, err)
			}
			if err := m.GraphTo(ctx, title, f); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}

			log.Info().Str("output", output).Msg("Graph written")
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&values, "values", "f", nil, "values files merged into the configuration")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	cmd.Flags().StringVar(&title, "title", "", "graph title (default the manifest name)")

	return cmd
}
