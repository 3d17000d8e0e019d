package optimizer

import (
	"log/slog"
	"time"

	"github.com/roach88/dashopt/internal/cost"
	"github.com/roach88/dashopt/internal/search"
	"github.com/roach88/dashopt/internal/solver"
)

// DefaultSolverTimeout bounds each solver call.
const DefaultSolverTimeout = 100 * time.Minute

// Clock reads the current time. Durations in Diagnostics are measured with
// it.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// Options holds the settings of one Optimize call.
type Options struct {
	// FindArbitraryValidPlan stops at the first plan that meets the memory
	// budget instead of minimizing the worst average latency.
	FindArbitraryValidPlan bool

	// FindBestServerMemory bisects the smallest server memory that still
	// admits a valid plan, then optimizes at that level.
	FindBestServerMemory bool

	// OnlyForValidPlan reports failure instead of searching for the smallest
	// memory overrun when the budget cannot be met.
	OnlyForValidPlan bool

	// Alpha multiplies modeled latencies and memory before they are
	// compared with budgets.
	Alpha float64

	Parallelism   int
	Solver        solver.Solver
	SolverTimeout time.Duration
	Logger        *slog.Logger
	Clock         Clock
	RunIDs        RunIDGenerator

	costOpts []cost.Option
}

// Option configures Options.
type Option func(*Options)

// WithArbitraryValidPlan accepts any plan that meets the memory budget.
func WithArbitraryValidPlan() Option {
	return func(o *Options) { o.FindArbitraryValidPlan = true }
}

// WithBestServerMemory searches for the smallest sufficient server memory.
func WithBestServerMemory() Option {
	return func(o *Options) { o.FindBestServerMemory = true }
}

// WithOnlyValidPlan fails instead of relaxing the memory budget.
func WithOnlyValidPlan() Option {
	return func(o *Options) { o.OnlyForValidPlan = true }
}

// WithAlpha sets the safety multiplier. Default: 1.0.
func WithAlpha(alpha float64) Option {
	return func(o *Options) { o.Alpha = alpha }
}

// WithParallelism bounds the number of triples searched at once. Default:
// GOMAXPROCS.
func WithParallelism(n int) Option {
	return func(o *Options) { o.Parallelism = n }
}

// WithSolver replaces the default branch-and-bound solver.
func WithSolver(s solver.Solver) Option {
	return func(o *Options) { o.Solver = s }
}

// WithSolverTimeout bounds each solver call. Default: 100 minutes.
func WithSolverTimeout(d time.Duration) Option {
	return func(o *Options) { o.SolverTimeout = d }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithClock replaces the wall clock used for timings.
func WithClock(c Clock) Option {
	return func(o *Options) { o.Clock = c }
}

// WithRunIDGenerator replaces the UUIDv7 run id generator.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(o *Options) { o.RunIDs = g }
}

// WithCoefficients replaces the built-in cost coefficients.
func WithCoefficients(c *cost.Coefficients) Option {
	return func(o *Options) { o.costOpts = append(o.costOpts, cost.WithCoefficients(c)) }
}

// WithSelectivityMode sets the equality selectivity mode. Default: upper.
func WithSelectivityMode(m cost.SelectivityMode) Option {
	return func(o *Options) { o.costOpts = append(o.costOpts, cost.WithSelectivityMode(m)) }
}

// WithSelectiveTables marks tables whose spatial probes are highly
// selective.
func WithSelectiveTables(patterns ...string) Option {
	return func(o *Options) { o.costOpts = append(o.costOpts, cost.WithSelectiveTables(patterns...)) }
}

func newOptions(opts []Option) Options {
	o := Options{
		Alpha:         search.DefaultAlpha,
		SolverTimeout: DefaultSolverTimeout,
		Logger:        slog.Default(),
		Clock:         wallClock{},
		RunIDs:        UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Solver == nil {
		o.Solver = &solver.BranchAndBound{Logger: o.Logger}
	}
	if o.FindArbitraryValidPlan {
		o.OnlyForValidPlan = true
	}
	return o
}
