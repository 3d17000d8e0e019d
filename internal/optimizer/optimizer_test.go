package optimizer

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dashopt/internal/cost"
	"github.com/roach88/dashopt/internal/ir"
	"github.com/roach88/dashopt/internal/search"
	"github.com/roach88/dashopt/internal/solver"
	"github.com/roach88/dashopt/internal/testutil"
)

func optimize(t *testing.T, task *ir.Task, opts ...Option) *Result {
	t.Helper()
	opts = append([]Option{
		WithRunIDGenerator(testutil.NewFixedRunIDGenerator("")),
		WithClock(testutil.NewStepClock(time.Millisecond)),
	}, opts...)
	res, err := Optimize(context.Background(), task, testutil.Stats(t), opts...)
	require.NoError(t, err)
	return res
}

func hasPrefixSum(p ir.Plan) bool {
	return ir.ContainsNode(p, func(n ir.Plan) bool {
		_, ok := n.(*ir.PrefixSumProbe)
		return ok
	}) && ir.ContainsNode(p, func(n ir.Plan) bool {
		_, ok := n.(*ir.PrefixSumBuild)
		return ok
	})
}

// smallestCache returns the memory of the smallest single-cache candidate
// of task.
func smallestCache(t *testing.T, task *ir.Task) float64 {
	t.Helper()
	triples, err := search.Run(context.Background(), task, cost.NewModel(testutil.Stats(t)))
	require.NoError(t, err)
	m := math.Inf(1)
	for _, tr := range triples {
		for _, c := range tr.Candidates {
			if len(c.Caches) == 1 {
				m = math.Min(m, c.Caches[0].Memory)
			}
		}
	}
	require.False(t, math.IsInf(m, 1))
	return m
}

func TestOptimizeChoosesPrefixSum(t *testing.T) {
	res := optimize(t, testutil.RangeTask(testutil.Generous, testutil.Ample))

	assert.Equal(t, StatusSatisfiable, res.Status)
	require.Len(t, res.Plans, 1)
	p := res.Plans[0]
	assert.Equal(t, "brush/range/{}", p.Key())
	assert.True(t, hasPrefixSum(p.Plan), "got\n%s", ir.Format(p.Plan))
	assert.LessOrEqual(t, p.Steady.AvgLatency, res.LatencyCeiling)
	assert.Zero(t, res.MemoryRatio)

	d := res.Diagnostics
	assert.Equal(t, "test-run", d.RunID)
	assert.Equal(t, 1, d.Triples)
	assert.Positive(t, d.Candidates)
	assert.GreaterOrEqual(t, d.ExploredPlans, d.Candidates)
	require.Len(t, d.StaticStructures, 1)
	assert.Contains(t, d.StaticStructures[0].Structure, "PrefixSumBuild")
	assert.Empty(t, d.DynamicStructures)
	assert.Equal(t, d.MaxAvgLatency, d.InteractionLatency["brush"])
	assert.Equal(t, d.ServerStaticMemory+d.ClientStaticMemory, d.StaticStructures[0].Memory)
	assert.Positive(t, d.SolverCalls)
	assert.Zero(t, d.SolverTimeouts)
}

func TestOptimizeReportsMemoryRatio(t *testing.T) {
	m := smallestCache(t, testutil.RangeTask(testutil.Generous, testutil.Ample))
	task := testutil.RangeTask(testutil.Generous, ir.Memory{Server: m / 3, Client: m / 3})

	res := optimize(t, task)

	assert.Equal(t, StatusUnsatisfiable, res.Status)
	assert.Greater(t, res.MemoryRatio, 1.0)
	assert.InDelta(t, 3.0, res.MemoryRatio, ratioTolerance+0.01)
	assert.Len(t, res.Plans, 1)
}

func TestOptimizeZeroLatencyBudgetFails(t *testing.T) {
	res := optimize(t, testutil.RangeTask(ir.Latency{}, testutil.Ample))

	assert.Equal(t, StatusFailed, res.Status)
	assert.Empty(t, res.Plans)
	assert.Equal(t, 1, res.Diagnostics.Triples)
	assert.Zero(t, res.Diagnostics.Candidates)
	assert.Positive(t, res.Diagnostics.ExploredPlans)
}

func TestOptimizeSharesCaches(t *testing.T) {
	res := optimize(t, testutil.SharedTask(testutil.Generous, testutil.Ample))

	require.Equal(t, StatusSatisfiable, res.Status)
	require.Len(t, res.Plans, 2)
	left, right := res.Plans[0], res.Plans[1]
	require.Len(t, left.Caches, 1)
	require.Len(t, right.Caches, 1)
	shared := left.Caches[0].Signature
	assert.Equal(t, shared, right.Caches[0].Signature)

	count := 0
	for _, sig := range res.Diagnostics.CacheSignatures {
		if sig == shared {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Len(t, res.Diagnostics.StaticStructures, 1)
}

func TestOptimizeArbitraryValidPlan(t *testing.T) {
	res := optimize(t, testutil.RangeTask(testutil.Generous, testutil.Ample), WithArbitraryValidPlan())

	assert.Equal(t, StatusSatisfiable, res.Status)
	assert.Equal(t, arbitraryCeiling, res.LatencyCeiling)
	assert.Len(t, res.Plans, 1)
	assert.Equal(t, 1, res.Diagnostics.SolverCalls, "no ceiling search")
}

func TestOptimizeOnlyValidPlanFails(t *testing.T) {
	m := smallestCache(t, testutil.RangeTask(testutil.Generous, testutil.Ample))
	task := testutil.RangeTask(testutil.Generous, ir.Memory{Server: m / 3, Client: m / 3})

	res := optimize(t, task, WithOnlyValidPlan())

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 1, res.Diagnostics.SolverCalls)
}

func TestOptimizeBestServerMemory(t *testing.T) {
	m := smallestCache(t, testutil.RangeTask(testutil.Generous, testutil.Ample))
	task := testutil.RangeTask(testutil.Generous, ir.Memory{Server: 4 * m, Client: 1e15})

	res := optimize(t, task, WithBestServerMemory())

	require.Equal(t, StatusSatisfiable, res.Status)
	assert.LessOrEqual(t, res.ServerMemory, serverTolerance, "the client can hold everything")
	assert.LessOrEqual(t, res.Diagnostics.TotalServerMemory, res.ServerMemory)
	assert.Len(t, res.Plans, 1)
}

func TestOptimizeIsDeterministic(t *testing.T) {
	task := testutil.SharedTask(testutil.Generous, testutil.Ample)

	render := func(res *Result) string {
		data, err := json.Marshal(res)
		require.NoError(t, err)
		out := string(data)
		for _, p := range res.Plans {
			out += "\n" + ir.Format(p.Plan)
		}
		return out
	}

	first := optimize(t, task, WithParallelism(4))
	second := optimize(t, task, WithParallelism(1))
	assert.Equal(t, render(first), render(second))
	assert.Equal(t, time.Millisecond, first.Diagnostics.SearchTime)
	assert.Equal(t, time.Millisecond, first.Diagnostics.SolveTime)
}

func TestOptimizeRejectsInvalidTask(t *testing.T) {
	_, err := Optimize(context.Background(), &ir.Task{}, testutil.Stats(t))
	assert.Error(t, err)
}

func TestOptimizeMissingStatisticsIsError(t *testing.T) {
	task := testutil.RangeTask(testutil.Generous, testutil.Ample)
	task.Views[0].Plan = ir.NewFilter(ir.NewTableScan("missing"),
		ir.Between(ir.Col("col"), testutil.Val("lo", "col"), testutil.Val("hi", "col")))

	_, err := Optimize(context.Background(), task, testutil.Stats(t))
	require.Error(t, err)
	assert.True(t, cost.IsConfigError(err))
}

// stubSolver answers every problem with a fixed status.
type stubSolver struct {
	status solver.Status
	err    error
	calls  int
}

func (s *stubSolver) Solve(context.Context, *solver.Problem) (solver.Solution, error) {
	s.calls++
	return solver.Solution{Status: s.status}, s.err
}

func TestOptimizeCountsSolverTimeouts(t *testing.T) {
	stub := &stubSolver{status: solver.Unknown}
	res := optimize(t, testutil.RangeTask(testutil.Generous, testutil.Ample), WithSolver(stub))

	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, stub.calls, res.Diagnostics.SolverCalls)
	assert.Equal(t, stub.calls, res.Diagnostics.SolverTimeouts)
}

func TestOptimizePropagatesSolverErrors(t *testing.T) {
	boom := errors.New("boom")
	_, err := Optimize(context.Background(), testutil.RangeTask(testutil.Generous, testutil.Ample),
		testutil.Stats(t), WithSolver(&stubSolver{err: boom}))
	assert.ErrorIs(t, err, boom)
}

func TestOptimizeHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Optimize(ctx, testutil.RangeTask(testutil.Generous, testutil.Ample), testutil.Stats(t))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMoreMemoryNeverHurts(t *testing.T) {
	m := smallestCache(t, testutil.RangeTask(testutil.Generous, testutil.Ample))
	budgets := []float64{m / 2, m, 2 * m, 10 * m}

	wasSat := false
	for _, b := range budgets {
		res := optimize(t, testutil.RangeTask(testutil.Generous, ir.Memory{Server: b, Client: b}), WithOnlyValidPlan())
		sat := res.Status == StatusSatisfiable
		if wasSat {
			assert.True(t, sat, "budget %g", b)
		}
		wasSat = wasSat || sat
	}
	assert.True(t, wasSat)
}

func TestFixedGenerator(t *testing.T) {
	gen := NewFixedGenerator("a", "b")
	assert.Equal(t, "a", gen.Generate())
	assert.Equal(t, "b", gen.Generate())
	assert.Panics(t, func() { gen.Generate() })
}

func TestUUIDv7GeneratorIsUnique(t *testing.T) {
	var gen UUIDv7Generator
	a, b := gen.Generate(), gen.Generate()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}
