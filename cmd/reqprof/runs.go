package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fllarpy/reqprof/internal/application/profiler"
	"github.com/fllarpy/reqprof/profiling"
)

func newRunsCmd() *cobra.Command {
	var namespace string

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect stored profile runs",
	}
	cmd.PersistentFlags().StringVar(&namespace, "source", profiler.Namespace, "Run namespace")

	cmd.AddCommand(newRunsListCmd(&namespace))
	cmd.AddCommand(newRunsShowCmd(&namespace))
	return cmd
}

func newRunsListCmd(namespace *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the most recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			probe, err := newProbe(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = probe.Shutdown(cmd.Context()) }()

			runs, err := probe.Runs().ListRuns(cmd.Context(), *namespace, limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCREATED\tWALL\tHEAP")
			for _, run := range runs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\n",
					run.ID, run.CreatedAt.Format(time.DateTime), run.Wall.Round(time.Millisecond), run.HasHeap)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs (0 for all)")
	return cmd
}

func newRunsShowCmd(namespace *string) *cobra.Command {
	var (
		kind string
		top  int
	)

	cmd := &cobra.Command{
		Use:   "show ID",
		Short: "Show the top functions of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			probe, err := newProbe(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = probe.Shutdown(cmd.Context()) }()

			graph, err := probe.Runs().GetRun(cmd.Context(), args[0], *namespace)
			if err != nil {
				return fmt.Errorf("failed to load run %s: %w", args[0], err)
			}

			data := graph.CPU
			switch kind {
			case "cpu":
			case "heap":
				data = graph.Heap
			default:
				return fmt.Errorf("unknown profile type %q (cpu or heap)", kind)
			}

			summary, err := profiling.Summarize(data, top)
			if err != nil {
				return fmt.Errorf("run %s has no readable %s profile: %w", args[0], kind, err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run: %s\nWall: %s\nAllocated: %d bytes in %d objects\n\n",
				args[0], graph.Wall(), graph.Memory.AllocBytes, graph.Memory.Mallocs)
			return summary.WriteText(out)
		},
	}

	cmd.Flags().StringVar(&kind, "type", "cpu", "Profile type: cpu or heap")
	cmd.Flags().IntVar(&top, "top", 30, "Number of functions to show (0 for all)")
	return cmd
}
