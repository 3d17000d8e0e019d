package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/dashopt/internal/compiler"
	"github.com/roach88/dashopt/internal/cost"
	"github.com/roach88/dashopt/internal/ir"
	"github.com/roach88/dashopt/internal/optimizer"
	"github.com/roach88/dashopt/internal/search"
)

// PlanOptions holds the flags shared by optimize, explain and export.
type PlanOptions struct {
	*RootOptions
	Stats           string
	Coefficients    string
	SelectivityMode string
	SelectiveTables []string
	Alpha           float64
	Parallel        int

	Timeout          time.Duration
	Arbitrary        bool
	BestServerMemory bool
	ValidOnly        bool

	// Record is the run history database; empty disables recording.
	Record string

	// RunIDs allows overriding the run id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs optimizer.RunIDGenerator

	// Clock allows overriding the clock used for timings (for testing).
	Clock optimizer.Clock
}

// addModelFlags registers the statistics and cost model flags.
func addModelFlags(cmd *cobra.Command, opts *PlanOptions) {
	cmd.Flags().StringVar(&opts.Stats, "stats", "", "statistics: SQLite database or fixture .yaml (required)")
	cmd.Flags().StringVar(&opts.Coefficients, "coefficients", "", "cost coefficient table (YAML); built-in table if empty")
	cmd.Flags().StringVar(&opts.SelectivityMode, "selectivity", cost.SelectivityUpper.String(), "equality selectivity mode (upper|avg|none)")
	cmd.Flags().StringSliceVar(&opts.SelectiveTables, "selective-table", nil, "table name pattern whose spatial probes are highly selective (repeatable)")
	cmd.Flags().Float64Var(&opts.Alpha, "alpha", search.DefaultAlpha, "safety multiplier on modeled latency and memory")
	cmd.Flags().IntVar(&opts.Parallel, "parallel", 0, "triples searched at once (0 = GOMAXPROCS)")
	_ = cmd.MarkFlagRequired("stats")
}

// addSolverFlags registers the global selection flags.
func addSolverFlags(cmd *cobra.Command, opts *PlanOptions) {
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", optimizer.DefaultSolverTimeout, "time limit per solver call")
	cmd.Flags().BoolVar(&opts.Arbitrary, "arbitrary", false, "accept any plan that fits the memory budget")
	cmd.Flags().BoolVar(&opts.BestServerMemory, "best-server-memory", false, "search the smallest sufficient server memory")
	cmd.Flags().BoolVar(&opts.ValidOnly, "valid-only", false, "fail instead of reporting the memory overrun")
	cmd.Flags().StringVar(&opts.Record, "record", "", "append the run to this SQLite run history")
}

// modelSettings are the parsed cost model flags.
type modelSettings struct {
	coefficients *cost.Coefficients
	mode         cost.SelectivityMode
}

func (o *PlanOptions) modelSettings() (modelSettings, error) {
	s := modelSettings{coefficients: cost.DefaultCoefficients()}
	if o.Coefficients != "" {
		c, err := cost.LoadCoefficients(o.Coefficients)
		if err != nil {
			return s, &LoadError{Code: ErrCodeCoefficients, Message: err.Error()}
		}
		s.coefficients = c
	}
	mode, err := cost.ParseSelectivityMode(o.SelectivityMode)
	if err != nil {
		return s, &LoadError{Code: ErrCodeInvalidFlag, Message: err.Error()}
	}
	s.mode = mode
	if o.Alpha <= 0 {
		return s, &LoadError{Code: ErrCodeInvalidFlag, Message: fmt.Sprintf("--alpha must be positive, got %g", o.Alpha)}
	}
	return s, nil
}

// costOptions returns the model options for the parsed flags.
func (s modelSettings) costOptions(o *PlanOptions, logger *slog.Logger) []cost.Option {
	return []cost.Option{
		cost.WithCoefficients(s.coefficients),
		cost.WithSelectivityMode(s.mode),
		cost.WithSelectiveTables(o.SelectiveTables...),
		cost.WithLogger(logger),
	}
}

// optimizerOptions returns the optimizer options for the flags.
func (o *PlanOptions) optimizerOptions(logger *slog.Logger) ([]optimizer.Option, error) {
	s, err := o.modelSettings()
	if err != nil {
		return nil, err
	}
	if o.Timeout <= 0 {
		return nil, &LoadError{Code: ErrCodeInvalidFlag, Message: fmt.Sprintf("--timeout must be positive, got %s", o.Timeout)}
	}
	opts := []optimizer.Option{
		optimizer.WithLogger(logger),
		optimizer.WithCoefficients(s.coefficients),
		optimizer.WithSelectivityMode(s.mode),
		optimizer.WithSelectiveTables(o.SelectiveTables...),
		optimizer.WithAlpha(o.Alpha),
		optimizer.WithParallelism(o.Parallel),
		optimizer.WithSolverTimeout(o.Timeout),
	}
	if o.Arbitrary {
		opts = append(opts, optimizer.WithArbitraryValidPlan())
	}
	if o.BestServerMemory {
		opts = append(opts, optimizer.WithBestServerMemory())
	}
	if o.ValidOnly {
		opts = append(opts, optimizer.WithOnlyValidPlan())
	}
	if o.RunIDs != nil {
		opts = append(opts, optimizer.WithRunIDGenerator(o.RunIDs))
	}
	if o.Clock != nil {
		opts = append(opts, optimizer.WithClock(o.Clock))
	}
	return opts, nil
}

// NewOptimizeCommand creates the optimize command.
func NewOptimizeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PlanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "optimize <task-dir>",
		Short: "Choose physical plans for a dashboard task",
		Long: `Choose one physical plan per interaction, view and binding of the CUE
task definition in <task-dir>.

Exit code 0 means every plan meets its latency budget within the memory
budget. Exit code 1 means the task is unsatisfiable or no plan was found.

Example:
  dashopt optimize --stats ./stats.db ./tasks/flights
  dashopt optimize --stats fixture.yaml --format json --arbitrary ./tasks/flights
  dashopt optimize --stats ./stats.db --record runs.db ./tasks/flights`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOptimize(opts, args[0], cmd)
		},
	}

	addModelFlags(cmd, opts)
	addSolverFlags(cmd, opts)

	return cmd
}

func runOptimize(opts *PlanOptions, taskDir string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	def, res, err := planTask(opts, taskDir, cmd)
	if err != nil {
		return outputCommandError(formatter, err)
	}
	if opts.Record != "" {
		data, err := ir.MarshalBundle(res.Bundle(def.Values, def.Tasks), ir.NewSequence())
		if err != nil {
			return outputCommandError(formatter, err)
		}
		if err := recordRun(cmd, opts.Record, taskDir, res, data, formatter); err != nil {
			return err
		}
	}

	if formatter.Format == "json" {
		if err := formatter.Success(res); err != nil {
			return err
		}
	} else {
		writeResult(formatter.Writer, res, opts.Verbose)
	}
	return statusExit(res)
}

// planTask loads the task in taskDir and optimizes it.
func planTask(opts *PlanOptions, taskDir string, cmd *cobra.Command) (*compiler.Definition, *optimizer.Result, error) {
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	loaded, err := LoadTask(taskDir)
	if err != nil {
		return nil, nil, err
	}
	optOpts, err := opts.optimizerOptions(logger)
	if err != nil {
		return nil, nil, err
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	src, closeStats, err := OpenStats(ctx, opts.Stats)
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		if err := closeStats(); err != nil {
			logger.Error("closing statistics", "error", err)
		}
	}()

	res, err := optimizer.Optimize(ctx, loaded.Definition.Task, src, optOpts...)
	if err != nil {
		return nil, nil, err
	}
	return loaded.Definition, res, nil
}

// signalContext returns the command context, cancelled on SIGINT or
// SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// statusExit maps an optimizer status to the command's exit error.
func statusExit(res *optimizer.Result) error {
	if res.Status == optimizer.StatusSatisfiable {
		return nil
	}
	return NewExitError(ExitFailure, fmt.Sprintf("task is %s", res.Status))
}

// outputCommandError reports an error that stopped the command.
func outputCommandError(formatter *OutputFormatter, err error) error {
	code, message := ErrCodeOptimize, err.Error()
	var loadErr *LoadError
	switch {
	case errors.As(err, &loadErr):
		code, message = loadErr.Code, loadErr.Error()
	case errors.Is(err, context.Canceled):
		code, message = ErrCodeCancelled, "interrupted"
	case cost.IsConfigError(err):
		code = ErrCodeStats
	}
	_ = formatter.Error(code, message, nil)
	return WrapExitError(ExitCommandError, code, err)
}

// writeResult renders an optimizer result for humans.
func writeResult(w io.Writer, res *optimizer.Result, verbose bool) {
	d := res.Diagnostics
	switch res.Status {
	case optimizer.StatusSatisfiable:
		fmt.Fprintf(w, "✓ satisfiable (latency ceiling %g)\n\n", res.LatencyCeiling)
	case optimizer.StatusUnsatisfiable:
		fmt.Fprintf(w, "✗ unsatisfiable: needs %.2fx the memory budget\n\n", res.MemoryRatio)
	default:
		fmt.Fprintf(w, "✗ failed: no plan meets the latency budgets\n\n")
	}

	if len(res.Plans) > 0 {
		fmt.Fprintln(w, "Plans:")
		for _, p := range res.Plans {
			fmt.Fprintf(w, "  %s: avg %g, upper %g, switch-on %g, %d cache(s)\n",
				p.Key(), p.Steady.AvgLatency, p.Steady.UpperLatency, p.SwitchOn.UpperLatency, len(p.Caches))
			if verbose {
				fmt.Fprintln(w, indent(ir.Format(p.Plan), "    "))
			}
		}
		fmt.Fprintln(w)
	}

	if len(d.CacheSignatures) > 0 {
		fmt.Fprintln(w, "Caches:")
		for _, s := range d.StaticStructures {
			fmt.Fprintf(w, "  %s static %s %g B %s\n", s.Signature, side(s.AtServer), s.Memory, s.Structure)
		}
		for _, s := range d.DynamicStructures {
			fmt.Fprintf(w, "  %s dynamic %s %g B %s\n", s.Signature, side(s.AtServer), s.Memory, s.Structure)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Memory: server %g B (static %g, dynamic %g), client %g B (static %g, dynamic %g)\n",
		d.TotalServerMemory, d.ServerStaticMemory, d.ServerDynamicMemory,
		d.TotalClientMemory, d.ClientStaticMemory, d.ClientDynamicMemory)
	fmt.Fprintf(w, "Search: %d triple(s), %d candidate(s), %d plan(s) explored in %s\n",
		d.Triples, d.Candidates, d.ExploredPlans, d.SearchTime)
	fmt.Fprintf(w, "Solver: %d call(s), %d timeout(s) in %s\n", d.SolverCalls, d.SolverTimeouts, d.SolveTime)
	if verbose {
		fmt.Fprintf(w, "Run: %s\n", d.RunID)
	}
}

func side(atServer bool) string {
	if atServer {
		return "server"
	}
	return "client"
}
