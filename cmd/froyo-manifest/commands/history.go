package commands

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/manifests/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded manifest runs",
	}

	cmd.AddCommand(newHistoryListCommand())
	cmd.AddCommand(newHistoryShowCommand())
	cmd.AddCommand(newHistoryDiffCommand())
	cmd.AddCommand(newHistoryPruneCommand())

	return cmd
}

func newHistoryListCommand() *cobra.Command {
	var (
		limit  int
		offset int
		class  string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := newRuntime(ctx, runtimeOptions{history: true})
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			var runs []*stores.Run
			if class != "" {
				runs, err = rt.store.ListRunsByClass(ctx, class, limit)
			} else {
				runs, err = rt.store.ListRuns(ctx, limit, offset)
			}
			if err != nil {
				return err
			}

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), runs)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tMANIFEST\tSTATUS\tRESOURCES\tSTARTED\tDURATION")
			for _, run := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\t%s\n",
					run.ID,
					run.Manifest,
					statusText(run),
					run.ResourceCount,
					run.StartedAt.Local().Format(time.DateTime),
					run.Duration().Round(time.Millisecond),
				)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "runs to skip")
	cmd.Flags().StringVar(&class, "class", "", "only list runs of this manifest class")

	return cmd
}

func newHistoryShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run and its resource snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := newRuntime(ctx, runtimeOptions{history: true})
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			run, err := rt.store.GetRun(ctx, args[0])
			if err != nil {
				return err
			}
			resources, err := rt.store.ListRunResources(ctx, run.ID)
			if err != nil {
				return err
			}

			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{
					"run":       run,
					"resources": resources,
				})
			}

			printRun(cmd.OutOrStdout(), run)
			fmt.Fprintln(cmd.OutOrStdout())
			fmt.Fprint(cmd.OutOrStdout(), stores.RenderResources(resources))
			return nil
		},
	}
}

func newHistoryDiffCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "diff <run-a> <run-b>",
		Short: "Diff the resource snapshots of two runs",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := newRuntime(ctx, runtimeOptions{history: true})
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			var (
				runs      [2]*stores.Run
				resources [2][]*stores.RunResource
			)
			for i, id := range args {
				if runs[i], err = rt.store.GetRun(ctx, id); err != nil {
					return err
				}
				if resources[i], err = rt.store.ListRunResources(ctx, id); err != nil {
					return err
				}
			}

			diff, err := stores.DiffResources(runs[0], runs[1], resources[0], resources[1])
			if err != nil {
				return err
			}
			if diff == "" {
				colorOK.Fprintln(cmd.OutOrStdout(), "no differences")
				return nil
			}
			printDiff(cmd.OutOrStdout(), diff)
			return nil
		},
	}
}

func newHistoryPruneCommand() *cobra.Command {
	var keep int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the newest runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			rt, err := newRuntime(ctx, runtimeOptions{history: true})
			if err != nil {
				return err
			}
			defer rt.Close(ctx)

			removed, err := rt.store.PruneRuns(ctx, keep)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d runs\n", removed)
			return nil
		},
	}

	cmd.Flags().IntVar(&keep, "keep", 50, "number of runs to keep")

	return cmd
}

func statusText(run *stores.Run) string {
	status := string(run.Status)
	if run.Forced {
		status += " (forced)"
	}
	if run.Status == stores.RunStatusFailed {
		return colorFailed.Sprint(status)
	}
	return colorOK.Sprint(status)
}

func printRun(w io.Writer, run *stores.Run) {
	colorHeader.Fprintf(w, "run %s\n", run.ID)
	fmt.Fprintf(w, "  manifest:  %s\n", run.Manifest)
	fmt.Fprintf(w, "  class:     %s\n", run.Class)
	fmt.Fprintf(w, "  status:    %s\n", statusText(run))
	fmt.Fprintf(w, "  started:   %s\n", run.StartedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(w, "  duration:  %s\n", run.Duration().Round(time.Millisecond))
	fmt.Fprintf(w, "  resources: %d\n", run.ResourceCount)
	if run.TraceID != "" {
		fmt.Fprintf(w, "  trace:     %s\n", run.TraceID)
	}
	if run.Error != "" {
		fmt.Fprintf(w, "  error:     %s\n", colorFailed.Sprint(run.Error))
	}
}

func printDiff(w io.Writer, diff string) {
	for _, line := range strings.Split(strings.TrimSuffix(diff, "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "---"), strings.HasPrefix(line, "+++"):
			colorHeader.Fprintln(w, line)
		case strings.HasPrefix(line, "@@"):
			colorDim.Fprintln(w, line)
		case strings.HasPrefix(line, "-"):
			colorFailed.Fprintln(w, line)
		case strings.HasPrefix(line, "+"):
			colorOK.Fprintln(w, line)
		default:
			fmt.Fprintln(w, line)
		}
	}
}
