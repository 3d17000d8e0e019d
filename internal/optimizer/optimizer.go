// Package optimizer picks one physical plan per (interaction, view, basic
// plan) of a dashboard task.
//
// Optimize searches candidates for every triple, then asks a solver which
// caches to materialize. When the memory budget can be met it bisects the
// smallest ceiling on average latency that still admits a solution; when it
// cannot, it bisects the smallest memory ratio over the budget and reports
// the task unsatisfiable at that ratio.
package optimizer

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/roach88/dashopt/internal/cost"
	"github.com/roach88/dashopt/internal/ir"
	"github.com/roach88/dashopt/internal/search"
	"github.com/roach88/dashopt/internal/solver"
	"github.com/roach88/dashopt/internal/stats"
)

// Status is the overall outcome of Optimize.
type Status string

const (
	// StatusSatisfiable means every triple has a plan within its latency
	// budget and the caches fit the memory budget.
	StatusSatisfiable Status = "satisfiable"

	// StatusUnsatisfiable means plans exist only with more memory;
	// Result.MemoryRatio is the smallest sufficient ratio found.
	StatusUnsatisfiable Status = "unsatisfiable"

	// StatusFailed means no plan could be chosen.
	StatusFailed Status = "failed"
)

// Search constants.
const (
	initialCeiling   = 100.0
	ceilingTolerance = 1.0
	arbitraryCeiling = 1e9
	initialRatio     = 2.0
	maxRatio         = 1000.0
	ratioTolerance   = 0.1
	serverTolerance  = 1000.0
)

// Optimize chooses plans for task using statistics from src.
//
// Infeasibility is reported through Result.Status, never as an error.
// Errors come from invalid tasks, cost model failures and cancellation.
func Optimize(ctx context.Context, task *ir.Task, src stats.Source, opts ...Option) (*Result, error) {
	o := newOptions(opts)
	if err := task.Validate(); err != nil {
		return nil, fmt.Errorf("invalid task: %w", err)
	}

	runID := o.RunIDs.Generate()
	logger := o.Logger.With("run", runID)
	logger.Info("optimizing", "views", len(task.Views), "interactions", len(task.Interactions),
		"memory", task.Memory.String(), "alpha", o.Alpha)

	costOpts := append([]cost.Option{cost.WithLogger(logger)}, o.costOpts...)
	model := cost.NewModel(stats.NewCached(src), costOpts...)

	searchStart := o.Clock.Now()
	triples, err := search.Run(ctx, task, model,
		search.WithAlpha(o.Alpha), search.WithParallelism(o.Parallelism), search.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("candidate search: %w", err)
	}
	searchTime := o.Clock.Now().Sub(searchStart)

	r := &run{ctx: ctx, opts: o, logger: logger, triples: triples, budget: task.Memory}
	for _, t := range triples {
		r.maxAvg = math.Max(r.maxAvg, maxAvgLatency(t))
	}
	logger.Info("candidates searched", "triples", len(triples), "candidates", countCandidates(triples),
		"elapsed", searchTime)

	solveStart := o.Clock.Now()
	out, err := r.optimize()
	if err != nil {
		return nil, err
	}
	solveTime := o.Clock.Now().Sub(solveStart)

	res := r.result(out)
	res.Diagnostics.RunID = runID
	res.Diagnostics.SearchTime = searchTime
	res.Diagnostics.SolveTime = solveTime
	logger.Info("optimized", "status", res.Status, "plans", len(res.Plans),
		"solver_calls", r.calls, "solver_timeouts", r.timeouts)
	return res, nil
}

// run is the state of one Optimize call.
type run struct {
	ctx     context.Context
	opts    Options
	logger  *slog.Logger
	triples []*search.Triple
	budget  ir.Memory
	maxAvg  float64

	calls    int
	timeouts int
}

// outcome is a solved problem together with how it was reached.
type outcome struct {
	status   Status
	problem  *solver.Problem
	solution solver.Solution
	ceiling  float64
	ratio    float64
	server   float64
}

// optimize runs the outer search. A nil outcome means failure.
func (r *run) optimize() (*outcome, error) {
	if !r.opts.FindBestServerMemory {
		return r.forServerMemory(r.budget.Server, r.opts.FindArbitraryValidPlan, r.opts.OnlyForValidPlan)
	}

	upper, lower := r.budget.Server, 0.0
	for upper-lower > serverTolerance {
		mid := (upper + lower) / 2
		r.logger.Debug("trying server memory", "server", mid)
		out, err := r.forServerMemory(mid, true, true)
		if err != nil {
			return nil, err
		}
		if out != nil {
			upper = mid
		} else {
			lower = mid
		}
	}
	return r.forServerMemory(upper, r.opts.FindArbitraryValidPlan, true)
}

// forServerMemory optimizes with the server budget set to server.
func (r *run) forServerMemory(server float64, arbitrary, onlyValid bool) (*outcome, error) {
	budget := ir.Memory{Server: server, Client: r.budget.Client}
	absolute := solver.Bound{Budget: budget, Alpha: r.opts.Alpha}

	nominal, err := r.solve(math.Inf(1), absolute)
	if err != nil {
		return nil, err
	}
	if nominal != nil {
		if arbitrary {
			nominal.status, nominal.ceiling, nominal.server = StatusSatisfiable, arbitraryCeiling, server
			return nominal, nil
		}
		out, err := r.minimizeCeiling(absolute, nominal)
		if err != nil {
			return nil, err
		}
		out.status, out.server = StatusSatisfiable, server
		return out, nil
	}

	if onlyValid {
		return nil, nil
	}
	out, err := r.minimizeRatio(budget)
	if err != nil || out == nil {
		return nil, err
	}
	out.status, out.ceiling, out.server = StatusUnsatisfiable, arbitraryCeiling, server
	return out, nil
}

// minimizeCeiling bisects the smallest average-latency ceiling that admits
// a solution, to within ceilingTolerance.
func (r *run) minimizeCeiling(bound solver.Bound, nominal *outcome) (*outcome, error) {
	lower, upper := 0.0, initialCeiling
	for {
		if upper > r.maxAvg {
			// Every candidate passes this ceiling: the nominal problem.
			break
		}
		out, err := r.solve(upper, bound)
		if err != nil {
			return nil, err
		}
		if out != nil {
			break
		}
		lower, upper = upper, upper*2
	}

	for upper-lower > ceilingTolerance {
		mid := (upper + lower) / 2
		out, err := r.solve(mid, bound)
		if err != nil {
			return nil, err
		}
		if out != nil {
			upper = mid
		} else {
			lower = mid
		}
	}

	out, err := r.solve(upper, bound)
	if err != nil {
		return nil, err
	}
	if out == nil {
		// Only a solver timeout gets here.
		r.logger.Warn("final solve failed, keeping the unconstrained solution", "ceiling", upper)
		nominal.ceiling = math.Max(upper, r.maxAvg)
		return nominal, nil
	}
	out.ceiling = upper
	return out, nil
}

// minimizeRatio bisects the smallest memory ratio that admits a solution,
// to within ratioTolerance. It gives up past maxRatio.
func (r *run) minimizeRatio(budget ir.Memory) (*outcome, error) {
	bound := func(ratio float64) solver.Bound { return solver.Bound{Budget: budget, Ratio: ratio} }

	lower, upper := 0.0, initialRatio
	for {
		out, err := r.solve(math.Inf(1), bound(upper))
		if err != nil {
			return nil, err
		}
		if out != nil || upper >= maxRatio {
			break
		}
		lower, upper = upper, upper*2
	}
	if upper > maxRatio {
		r.logger.Info("no plan within the maximum memory ratio", "max_ratio", maxRatio)
		return nil, nil
	}

	for upper-lower > ratioTolerance {
		mid := (upper + lower) / 2
		out, err := r.solve(math.Inf(1), bound(mid))
		if err != nil {
			return nil, err
		}
		if out != nil {
			upper = mid
		} else {
			lower = mid
		}
	}

	out, err := r.solve(math.Inf(1), bound(upper))
	if err != nil || out == nil {
		return nil, err
	}
	out.ratio = upper
	return out, nil
}

// solve encodes and solves one problem. It returns nil when the problem is
// infeasible or the solver ran out of time.
func (r *run) solve(ceiling float64, bound solver.Bound) (*outcome, error) {
	if err := r.ctx.Err(); err != nil {
		return nil, err
	}
	p := solver.Encode(r.triples, ceiling, bound)

	ctx, cancel := context.WithTimeout(r.ctx, r.opts.SolverTimeout)
	defer cancel()
	r.calls++
	sol, err := r.opts.Solver.Solve(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("solve: %w", err)
	}
	if err := r.ctx.Err(); err != nil {
		return nil, err
	}

	r.logger.Debug("solved", "ceiling", ceiling, "bound", bound.String(), "status", sol.Status, "nodes", sol.Nodes)
	switch sol.Status {
	case solver.Sat:
		return &outcome{problem: p, solution: sol}, nil
	case solver.Unknown:
		r.timeouts++
		r.logger.Warn("solver timed out, treating as infeasible", "ceiling", ceiling, "bound", bound.String())
	}
	return nil, nil
}

func maxAvgLatency(t *search.Triple) float64 {
	var m float64
	for _, c := range t.Candidates {
		m = math.Max(m, c.Steady.AvgLatency)
	}
	return m
}

func countCandidates(triples []*search.Triple) int {
	n := 0
	for _, t := range triples {
		n += len(t.Candidates)
	}
	return n
}
