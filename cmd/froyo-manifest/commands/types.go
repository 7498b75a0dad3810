package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newTypesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List the resource types recipes can declare",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := newRuntime(ctx, runtimeOptions{handlers: true})
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			types := rt.base.Types()
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), types)
			}

			exec := make(map[string]bool)
			for _, t := range rt.settings.Engine.ExecutionTypes {
				exec[t] = true
			}
			for _, t := range types {
				if exec[t] {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", t, colorDim.Sprint("(execution)"))
					continue
				}
				fmt.Fprintln(cmd.OutOrStdout(), t)
			}
			return nil
		},
	}
}
