package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/dashopt/internal/cost"
	"github.com/roach88/dashopt/internal/ir"
	"github.com/roach88/dashopt/internal/search"
	"github.com/roach88/dashopt/internal/stats"
)

// TripleReport lists the candidates found for one triple.
type TripleReport struct {
	Triple     string            `json:"triple"`
	Explored   int               `json:"explored"`
	Candidates []CandidateReport `json:"candidates"`
}

// CandidateReport is one candidate as shown by explain.
type CandidateReport struct {
	Key      string         `json:"key"`
	Steady   ir.Cost        `json:"steady"`
	SwitchOn ir.Cost        `json:"switch_on"`
	Caches   []search.Cache `json:"caches"`
	Plan     string         `json:"plan"`
}

// NewExplainCommand creates the explain command.
func NewExplainCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PlanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "explain <task-dir>",
		Short: "List the candidate plans of every triple",
		Long: `Run the candidate search for the task in <task-dir> and list, for every
interaction, view and binding, the candidate plans that meet the latency
budget with their modeled cost and caches. No cache selection is made.

Example:
  dashopt explain --stats fixture.yaml ./tasks/flights
  dashopt explain --stats ./stats.db --verbose ./tasks/flights`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExplain(opts, args[0], cmd)
		},
	}

	addModelFlags(cmd, opts)

	return cmd
}

func runExplain(opts *PlanOptions, taskDir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	reports, err := explainTask(opts, taskDir, cmd)
	if err != nil {
		return outputCommandError(formatter, err)
	}

	if formatter.Format == "json" {
		return formatter.Success(reports)
	}
	writeReports(formatter.Writer, reports, opts.Verbose)
	return nil
}

func explainTask(opts *PlanOptions, taskDir string, cmd *cobra.Command) ([]TripleReport, error) {
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	loaded, err := LoadTask(taskDir)
	if err != nil {
		return nil, err
	}
	settings, err := opts.modelSettings()
	if err != nil {
		return nil, err
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	src, closeStats, err := OpenStats(ctx, opts.Stats)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := closeStats(); err != nil {
			logger.Error("closing statistics", "error", err)
		}
	}()

	model := cost.NewModel(stats.NewCached(src), settings.costOptions(opts, logger)...)
	triples, err := search.Run(ctx, loaded.Definition.Task, model,
		search.WithAlpha(opts.Alpha), search.WithParallelism(opts.Parallel), search.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	reports := make([]TripleReport, 0, len(triples))
	for _, t := range triples {
		r := TripleReport{Triple: t.ID(), Explored: t.Explored, Candidates: []CandidateReport{}}
		for _, c := range t.Candidates {
			r.Candidates = append(r.Candidates, CandidateReport{
				Key:      c.Key(),
				Steady:   c.Steady,
				SwitchOn: c.SwitchOn,
				Caches:   c.Caches,
				Plan:     ir.Format(c.Plan),
			})
		}
		reports = append(reports, r)
	}
	return reports, nil
}

func writeReports(w io.Writer, reports []TripleReport, verbose bool) {
	if len(reports) == 0 {
		fmt.Fprintln(w, "No interaction drives any view.")
		return
	}
	for _, r := range reports {
		fmt.Fprintf(w, "%s: %d candidate(s), %d plan(s) explored\n", r.Triple, len(r.Candidates), r.Explored)
		for _, c := range r.Candidates {
			fmt.Fprintf(w, "  avg %g, upper %g, switch-on %g\n", c.Steady.AvgLatency, c.Steady.UpperLatency, c.SwitchOn.UpperLatency)
			for _, ca := range c.Caches {
				kind := "dynamic"
				if ca.Static {
					kind = "static"
				}
				fmt.Fprintf(w, "    %s %s %s %g B\n", ca.Signature, kind, side(ca.AtServer), ca.Memory)
			}
			if verbose {
				fmt.Fprintln(w, indent(c.Plan, "    "))
			}
		}
		fmt.Fprintln(w)
	}
}
