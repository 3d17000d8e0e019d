package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dashopt/internal/cost"
	"github.com/roach88/dashopt/internal/ir"
	"github.com/roach88/dashopt/internal/testutil"
)

func newModel(t *testing.T) *cost.Model {
	t.Helper()
	return cost.NewModel(testutil.Stats(t))
}

func hasNode(p ir.Plan, pred func(ir.Plan) bool) bool { return ir.ContainsNode(p, pred) }

func isPrefixSumProbe(p ir.Plan) bool {
	_, ok := p.(*ir.PrefixSumProbe)
	return ok
}

func TestBasicPlansPushUpStructuralChoices(t *testing.T) {
	scan := ir.NewTableScan("t")
	view := ir.NewChoicePlan("src",
		ir.NewFilter(scan, ir.Eq(ir.Col("col"), testutil.Val("v", "col"))),
		ir.NewAggregate(scan,
			[]*ir.Named{ir.As("g", &ir.AnyChoice{ID: "dim", Choices: []ir.Expr{ir.Col("col"), ir.Col("col2")}})},
			[]*ir.Named{ir.As("n", ir.Call("count", ir.Star))}),
	)

	basics, err := BasicPlans(view)
	require.NoError(t, err)
	require.Len(t, basics, 2, "a choice among columns stays in the basic plan")
	assert.Equal(t, "{src=0}", basics[0].Key)
	assert.Equal(t, "{src=1}", basics[1].Key)
	assert.Equal(t, []string{"v"}, ir.ChoiceIDs(basics[0].Plan))
	assert.Equal(t, []string{"dim"}, ir.ChoiceIDs(basics[1].Plan))
}

func TestBasicPlansEnumerateCombinations(t *testing.T) {
	agg := func(id string) *ir.AnyChoice {
		return &ir.AnyChoice{ID: id, Choices: []ir.Expr{
			ir.Call("sum", ir.Col("col3")), ir.Call("count", ir.Star), ir.Call("max", ir.Col("col3")),
		}}
	}
	view := ir.NewChoicePlan("src",
		ir.NewAggregate(ir.NewTableScan("t"), nil, []*ir.Named{ir.As("m", agg("f"))}),
		ir.NewTableScan("t"))

	basics, err := BasicPlans(view)
	require.NoError(t, err)
	assert.Len(t, basics, 6)

	keys := map[string]bool{}
	for _, b := range basics {
		keys[b.Key] = true
		assert.False(t, ir.HasChoice(b.Plan))
	}
	assert.Len(t, keys, 6)
}

func TestBasicPlansWithoutChoices(t *testing.T) {
	basics, err := BasicPlans(testutil.RangeView("lo", "hi"))
	require.NoError(t, err)
	require.Len(t, basics, 1)
	assert.Equal(t, "{}", basics[0].Key)
	assert.Empty(t, basics[0].Binding)
}

func TestRunFindsPrefixSum(t *testing.T) {
	task := testutil.RangeTask(testutil.Generous, testutil.Ample)

	triples, err := Run(context.Background(), task, newModel(t))
	require.NoError(t, err)
	require.Len(t, triples, 1)

	tr := triples[0]
	assert.Equal(t, "brush/range/{}", tr.ID())
	require.NotEmpty(t, tr.Candidates)
	assert.GreaterOrEqual(t, tr.Explored, len(tr.Candidates))

	found := false
	for _, c := range tr.Candidates {
		if hasNode(c.Plan, isPrefixSumProbe) {
			found = true
			require.Len(t, c.Caches, 1)
			assert.True(t, c.Caches[0].Static)
			assert.Contains(t, c.Caches[0].Structure, "PrefixSumBuild")
		}
	}
	assert.True(t, found, "a prefix sum answers a brushed sum")
}

func TestRunZeroBudgetHasNoCandidates(t *testing.T) {
	task := testutil.RangeTask(ir.Latency{}, testutil.Ample)

	triples, err := Run(context.Background(), task, newModel(t))
	require.NoError(t, err)
	require.Len(t, triples, 1)
	assert.Empty(t, triples[0].Candidates)
	assert.Positive(t, triples[0].Explored)
}

func TestCandidatesAreSafe(t *testing.T) {
	budget := ir.Latency{Latency: 5, SwitchOn: 50}
	task := testutil.RangeTask(budget, testutil.Ample)
	model := newModel(t)

	triples, err := Run(context.Background(), task, model)
	require.NoError(t, err)

	for _, tr := range triples {
		keys := map[string]bool{}
		for _, c := range tr.Candidates {
			assert.LessOrEqual(t, c.Steady.UpperLatency, budget.Latency)
			assert.LessOrEqual(t, c.SwitchOn.UpperLatency, budget.SwitchOn)
			assert.False(t, keys[c.Key()], "one candidate per cache set")
			keys[c.Key()] = true

			static := 0
			for _, ca := range c.Caches {
				if ca.Static {
					static++
				}
			}
			assert.Positive(t, static, "every candidate keeps a static structure")
			assert.True(t, hasNode(c.Plan, func(n ir.Plan) bool {
				_, ok := n.(*ir.NetworkBoundary)
				return ok
			}))
		}
	}
}

func TestAlphaTightensBudget(t *testing.T) {
	task := testutil.RangeTask(ir.Latency{Latency: 5, SwitchOn: 1e12}, testutil.Ample)

	loose, err := Run(context.Background(), task, newModel(t))
	require.NoError(t, err)
	tight, err := Run(context.Background(), task, newModel(t), WithAlpha(1e6))
	require.NoError(t, err)

	assert.NotEmpty(t, loose[0].Candidates)
	assert.Empty(t, tight[0].Candidates)
}

func TestRunIsDeterministic(t *testing.T) {
	task := testutil.SharedTask(testutil.Generous, testutil.Ample)

	render := func(triples []*Triple) []string {
		var out []string
		for _, tr := range triples {
			out = append(out, tr.ID())
			for _, c := range tr.Candidates {
				out = append(out, c.Key(), ir.Format(c.Plan))
			}
		}
		return out
	}

	first, err := Run(context.Background(), task, newModel(t), WithParallelism(4))
	require.NoError(t, err)
	second, err := Run(context.Background(), task, newModel(t), WithParallelism(1))
	require.NoError(t, err)

	require.Len(t, first, 2)
	assert.Equal(t, render(first), render(second))
}

func TestRunSkipsUndrivenViews(t *testing.T) {
	task := testutil.SharedTask(testutil.Generous, testutil.Ample)

	triples, err := Run(context.Background(), task, newModel(t))
	require.NoError(t, err)
	require.Len(t, triples, 2)
	assert.Equal(t, "brush_left", triples[0].Interaction)
	assert.Equal(t, "left", triples[0].View)
	assert.Equal(t, "brush_right", triples[1].Interaction)
	assert.Equal(t, "right", triples[1].View)
}

func TestSharedStructureHasOneSignature(t *testing.T) {
	task := testutil.SharedTask(testutil.Generous, testutil.Ample)

	triples, err := Run(context.Background(), task, newModel(t))
	require.NoError(t, err)

	sigs := func(tr *Triple) map[string]bool {
		out := map[string]bool{}
		for _, c := range tr.Candidates {
			if hasNode(c.Plan, isPrefixSumProbe) {
				for _, s := range c.Signatures() {
					out[s] = true
				}
			}
		}
		return out
	}
	left, right := sigs(triples[0]), sigs(triples[1])
	require.NotEmpty(t, left)
	assert.Equal(t, left, right)
}

func TestRunMissingStatisticsIsFatal(t *testing.T) {
	task := &ir.Task{
		Views: []ir.View{{Name: "v", Plan: ir.NewFilter(ir.NewTableScan("missing"),
			ir.Eq(ir.Col("a"), testutil.Val("a", "a")))}},
		Interactions: []ir.Interaction{{Name: "i", ChoiceIDs: []string{"a"}, Latency: testutil.Generous}},
	}

	_, err := Run(context.Background(), task, newModel(t))
	require.Error(t, err)
	assert.True(t, cost.IsConfigError(err))
}

func TestRunHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Run(ctx, testutil.RangeTask(testutil.Generous, testutil.Ample), newModel(t))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDynamicPositionsStopAtStaticCache(t *testing.T) {
	cloud := ir.NewCloud(ir.NewTableScan("t"))
	p := ir.NewProjection(ir.NewFilter(ir.NewStaticCache(cloud), ir.Eq(ir.Col("a"), ir.Int(1))),
		ir.As("a", ir.Col("a")))

	got := dynamicPositions(p)
	assert.Equal(t, []ir.Path{{0}, {}}, got)
}

func TestNetworkNeverShipsSpatialIndex(t *testing.T) {
	idx := ir.NewStaticCache(ir.NewSpatialIndexBuild(ir.NewCloud(ir.NewTableScan("t")), []ir.Expr{ir.Col("col")}))
	assert.True(t, serializesSpatialIndex(idx))
	assert.True(t, serializesSpatialIndex(ir.Input(idx)))
	assert.False(t, serializesSpatialIndex(ir.NewStaticCache(ir.NewCloud(ir.NewTableScan("t")))))
}
