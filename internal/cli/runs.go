package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/dashopt/internal/optimizer"
	"github.com/roach88/dashopt/internal/store"
)

// RunsOptions holds flags for the runs command.
type RunsOptions struct {
	*RootOptions
	Task   string // only runs of this task directory
	Bundle bool   // print the recorded bundle of the selected run
}

// NewRunsCommand creates the runs command.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "runs <history.db> [run-id|latest]",
		Short: "List or show runs recorded with --record",
		Long: `List the optimizer runs recorded in a run history, or show one of them.

With a run id (or "latest") the run's plans and caches are shown. With
--bundle the run's client bundle is printed exactly as it was exported,
without optimizing again.

Example:
  dashopt runs runs.db
  dashopt runs runs.db latest --task ./tasks/flights
  dashopt runs runs.db latest --bundle > plans.json`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuns(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Task, "task", "", "only consider runs of this task directory")
	cmd.Flags().BoolVar(&opts.Bundle, "bundle", false, "print the recorded bundle of the selected run")

	return cmd
}

func runRuns(opts *RunsOptions, args []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	if opts.Bundle && len(args) < 2 {
		_ = formatter.Error(ErrCodeInvalidFlag, "--bundle needs a run id or \"latest\"", nil)
		return NewExitError(ExitCommandError, ErrCodeInvalidFlag)
	}

	st, err := openHistory(args[0])
	if err != nil {
		return historyError(formatter, err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if len(args) == 1 {
		runs, err := st.ListRuns(ctx, opts.Task)
		if err != nil {
			return historyError(formatter, err)
		}
		formatter.VerboseLog("Found %d run(s) in %s", len(runs), args[0])
		if formatter.Format == "json" {
			return formatter.Success(runs)
		}
		writeRunList(formatter.Writer, runs)
		return nil
	}

	var run store.Run
	if args[1] == "latest" {
		run, err = st.LatestRun(ctx, opts.Task)
	} else {
		run, err = st.ReadRun(ctx, args[1])
	}
	if err != nil {
		return historyError(formatter, err)
	}

	switch {
	case opts.Bundle && formatter.Format == "json":
		return formatter.Success(json.RawMessage(run.Bundle))
	case opts.Bundle:
		fmt.Fprintln(formatter.Writer, string(run.Bundle))
	case formatter.Format == "json":
		return formatter.Success(run)
	default:
		writeRun(formatter.Writer, run)
	}
	return nil
}

func writeRunList(w io.Writer, runs []store.RunSummary) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded")
		return
	}
	tw := tabwriter.NewWriter(w, 2, 1, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tRUN\tSTATUS\tPLANS\tBUNDLE\tTASK")
	for _, r := range runs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\t%s\n", r.Seq, r.ID, r.Status, r.Plans, shortHash(r.BundleHash), r.Task)
	}
	_ = tw.Flush()
}

func writeRun(w io.Writer, run store.Run) {
	fmt.Fprintf(w, "Run %s (#%d)\n", run.ID, run.Seq)
	fmt.Fprintf(w, "Task: %s\n", run.Task)
	switch run.Status {
	case optimizer.StatusSatisfiable:
		fmt.Fprintf(w, "Status: satisfiable (latency ceiling %g)\n", run.LatencyCeiling)
	case optimizer.StatusUnsatisfiable:
		fmt.Fprintf(w, "Status: unsatisfiable (needs %.2fx the memory budget)\n", run.MemoryRatio)
	default:
		fmt.Fprintf(w, "Status: %s\n", run.Status)
	}
	fmt.Fprintf(w, "Bundle: %s\n", shortHash(run.BundleHash))

	if len(run.Plans) > 0 {
		fmt.Fprintln(w, "\nPlans:")
		for _, p := range run.Plans {
			fmt.Fprintf(w, "  %s: avg %g, upper %g, switch-on %g, %d cache(s)\n",
				p.Key, p.AvgLatency, p.UpperLatency, p.SwitchOnLatency, len(p.Caches))
		}
	}
	if len(run.Caches) > 0 {
		fmt.Fprintln(w, "\nCaches:")
		for _, c := range run.Caches {
			kind := "dynamic"
			if c.Static {
				kind = "static"
			}
			fmt.Fprintf(w, "  %s %s %s %g B %s\n", c.Signature, kind, side(c.AtServer), c.Memory, c.Structure)
		}
	}
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
