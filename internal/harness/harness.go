package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/roach88/dashopt/internal/cli"
	"github.com/roach88/dashopt/internal/cost"
	"github.com/roach88/dashopt/internal/ir"
	"github.com/roach88/dashopt/internal/optimizer"
	"github.com/roach88/dashopt/internal/search"
	"github.com/roach88/dashopt/internal/stats"
	"github.com/roach88/dashopt/internal/testutil"
)

// Harness runs scenarios with a fixed run id and a step clock.
type Harness struct {
	src    stats.Source
	runIDs *testutil.FixedRunIDGenerator
	clock  *testutil.StepClock
	logger *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Execution flow:
// 1. Load and compile the task directory
// 2. Open the statistics source
// 3. Apply budget overrides
// 4. Optimize with deterministic run id and clock
// 5. Evaluate assertions against the optimizer result
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	loaded, err := cli.LoadTask(scenario.Task)
	if err != nil {
		return nil, fmt.Errorf("failed to load task: %w", err)
	}

	src, closeStats, err := cli.OpenStats(ctx, scenario.Stats)
	if err != nil {
		return nil, fmt.Errorf("failed to open statistics: %w", err)
	}
	defer closeStats()

	h := &Harness{
		src:    stats.NewCached(src),
		runIDs: testutil.NewFixedRunIDGenerator(scenario.RunID),
		clock:  testutil.NewStepClock(time.Millisecond),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
	}

	def := loaded.Definition
	if err := h.applyOverrides(ctx, def.Task, scenario); err != nil {
		return nil, fmt.Errorf("failed to apply overrides: %w", err)
	}

	res, err := optimizer.Optimize(ctx, def.Task, h.src, h.options(scenario.Options)...)
	if err != nil {
		return nil, fmt.Errorf("failed to optimize: %w", err)
	}

	result := NewResult(def, res)
	for _, msg := range EvaluateAssertions(res, scenario.Assertions) {
		result.AddError(msg)
	}

	h.logger.Info("scenario completed",
		"scenario", scenario.Name,
		"status", res.Status,
		"plans", len(res.Plans),
		"pass", result.Pass,
	)
	return result, nil
}

// options translates scenario options into optimizer options.
func (h *Harness) options(o Options) []optimizer.Option {
	opts := []optimizer.Option{
		optimizer.WithLogger(h.logger),
		optimizer.WithRunIDGenerator(h.runIDs),
		optimizer.WithClock(h.clock),
		optimizer.WithSelectiveTables(o.SelectiveTables...),
	}
	if o.Alpha > 0 {
		opts = append(opts, optimizer.WithAlpha(o.Alpha))
	}
	if o.Selectivity != "" {
		// Validated when the scenario was loaded.
		mode, _ := cost.ParseSelectivityMode(o.Selectivity)
		opts = append(opts, optimizer.WithSelectivityMode(mode))
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
	return opts
}

// applyOverrides replaces the task's budgets as the scenario asks.
func (h *Harness) applyOverrides(ctx context.Context, task *ir.Task, s *Scenario) error {
	ov := s.Overrides
	if err := overrideLatency(task, ov.Latency); err != nil {
		return err
	}

	switch {
	case ov.Memory != nil:
		task.Memory = *ov.Memory
	case ov.MemoryFraction > 0:
		m, err := h.smallestCache(ctx, s)
		if err != nil {
			return err
		}
		task.Memory = ir.Memory{Server: m * ov.MemoryFraction, Client: m * ov.MemoryFraction}
	}
	return nil
}

// overrideLatency replaces the latency budgets of the named interactions.
func overrideLatency(task *ir.Task, budgets map[string]ir.Latency) error {
	for name, lat := range budgets {
		found := false
		for i := range task.Interactions {
			if task.Interactions[i].Name == name {
				task.Interactions[i].Latency = lat
				found = true
			}
		}
		if !found {
			return fmt.Errorf("latency override for unknown interaction %q", name)
		}
	}
	return nil
}

// smallestCache returns the memory of the smallest candidate that holds a
// single cache. It searches a fresh copy of the task so that no cost memo
// leaks into the optimized one.
func (h *Harness) smallestCache(ctx context.Context, s *Scenario) (float64, error) {
	loaded, err := cli.LoadTask(s.Task)
	if err != nil {
		return 0, err
	}
	if err := overrideLatency(loaded.Definition.Task, s.Overrides.Latency); err != nil {
		return 0, err
	}
	o := s.Options

	var modelOpts []cost.Option
	if o.Selectivity != "" {
		mode, _ := cost.ParseSelectivityMode(o.Selectivity)
		modelOpts = append(modelOpts, cost.WithSelectivityMode(mode))
	}
	modelOpts = append(modelOpts, cost.WithSelectiveTables(o.SelectiveTables...), cost.WithLogger(h.logger))

	var searchOpts []search.Option
	if o.Alpha > 0 {
		searchOpts = append(searchOpts, search.WithAlpha(o.Alpha))
	}
	triples, err := search.Run(ctx, loaded.Definition.Task, cost.NewModel(h.src, modelOpts...), searchOpts...)
	if err != nil {
		return 0, err
	}

	m := math.Inf(1)
	for _, t := range triples {
		for _, c := range t.Candidates {
			if len(c.Caches) == 1 {
				m = math.Min(m, c.Caches[0].Memory)
			}
		}
	}
	if math.IsInf(m, 1) {
		return 0, fmt.Errorf("memory_fraction: no single-cache candidate")
	}
	return m, nil
}
