package cost

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dashopt/internal/ir"
	"github.com/roach88/dashopt/internal/stats"
)

func salesFixture(t *testing.T) *stats.Fixture {
	t.Helper()
	f, err := stats.NewFixture(map[string]*stats.FixtureTable{
		"sales": {Rows: 1000, Columns: []stats.FixtureColumn{
			{Name: "region", Kind: "string", Distinct: 10, MaxGroup: 200, AvgGroup: 100},
			{Name: "amount", Kind: "number", Distinct: 500},
			{Name: "day", Kind: "number"},
		}},
		"sdss_obj": {Rows: 10000, Columns: []stats.FixtureColumn{
			{Name: "ra", Kind: "number"}, {Name: "dec", Kind: "number"},
		}},
	})
	require.NoError(t, err)
	return f
}

func newModel(t *testing.T, opts ...Option) *Model {
	t.Helper()
	return NewModel(salesFixture(t), opts...)
}

func sales() ir.Plan { return ir.NewTableScan("sales") }

func regionIs(v string) ir.Expr { return ir.Eq(ir.Col("region"), ir.Str(v)) }

func TestCostTableScan(t *testing.T) {
	m := newModel(t)

	c, s, err := m.Cost(context.Background(), sales(), false)
	require.NoError(t, err)
	assert.Equal(t, ir.Cost{}, c)
	assert.Equal(t, ir.Statistics{AvgCard: 1000, UpperCard: 1000, NCols: 3}, s)
}

func TestCostMissingTableIsConfigError(t *testing.T) {
	m := newModel(t)

	_, _, err := m.Cost(context.Background(), ir.NewCloud(ir.NewTableScan("missing")), false)
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}

func TestFilterSelectivityModes(t *testing.T) {
	tests := []struct {
		name      string
		mode      SelectivityMode
		cond      ir.Expr
		wantAvg   float64
		wantUpper float64
	}{
		{"upper uses max group", SelectivityUpper, regionIs("east"), 200, 200},
		{"avg uses avg group capped", SelectivityAvg, regionIs("east"), 100, 100},
		{"none falls back", SelectivityNone, regionIs("east"), 100, 1000},
		{"unknown group falls back", SelectivityUpper, ir.Eq(ir.Col("day"), ir.Int(3)), 100, 1000},
		{"range drops average", SelectivityUpper, ir.Between(ir.Col("amount"), ir.Int(1), ir.Int(5)), 100, 1000},
		{"conjuncts combine", SelectivityUpper,
			ir.And(ir.Between(ir.Col("amount"), ir.Int(1), ir.Int(5)), regionIs("east")), 100, 200},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newModel(t, WithSelectivityMode(tt.mode))
			_, s, err := m.Cost(context.Background(), ir.NewFilter(sales(), tt.cond), false)
			require.NoError(t, err)
			assert.InDelta(t, tt.wantAvg, s.AvgCard, 1e-9)
			assert.InDelta(t, tt.wantUpper, s.UpperCard, 1e-9)
		})
	}
}

func TestFilterLatencyIsLinear(t *testing.T) {
	m := newModel(t)
	coef := DefaultCoefficients()

	c, _, err := m.Cost(context.Background(), ir.NewFilter(sales(), regionIs("east")), false)
	require.NoError(t, err)

	want := coef.latency(OpFilter, true).eval(shape{inRows: 1000, outRows: 200,
		inCols: 3, inStrCols: 1, outCols: 3, outStrCols: 1})
	assert.InDelta(t, want, c.AvgLatency, 1e-9)
	assert.InDelta(t, want, c.UpperLatency, 1e-9)
	assert.InDelta(t, coef.Memory[OpTable].eval(200, 3, 1), c.Memory, 1e-9)
}

func TestAggregateSelectivity(t *testing.T) {
	m := newModel(t)
	ctx := context.Background()

	byRegion := ir.NewAggregate(sales(), []*ir.Named{ir.As("region", ir.Col("region"))},
		[]*ir.Named{ir.As("n", ir.Call("count", ir.Star))})
	_, s, err := m.Cost(ctx, byRegion, false)
	require.NoError(t, err)
	assert.InDelta(t, 10, s.UpperCard, 1e-9)
	assert.Equal(t, 2, s.NCols)

	byDay := ir.NewAggregate(sales(), []*ir.Named{ir.As("day", ir.Col("day"))},
		[]*ir.Named{ir.As("n", ir.Call("count", ir.Star))})
	_, s, err = m.Cost(ctx, byDay, false)
	require.NoError(t, err)
	assert.InDelta(t, 1000, s.UpperCard, 1e-9, "unknown distinct count keeps every row")

	total := ir.NewAggregate(sales(), nil, []*ir.Named{ir.As("n", ir.Call("count", ir.Star))})
	_, s, err = m.Cost(ctx, total, false)
	require.NoError(t, err)
	assert.InDelta(t, 1, s.UpperCard, 1e-9)
}

func TestCloudUsesInputEstimateWhenUnknown(t *testing.T) {
	m := newModel(t)

	c, s, err := m.Cost(context.Background(), ir.NewCloud(ir.NewFilter(sales(), regionIs("east"))), false)
	require.NoError(t, err)
	assert.Equal(t, 1.0, c.AvgLatency, "the store answers in unit time")
	assert.Equal(t, 1.0, c.UpperLatency)
	assert.InDelta(t, 200, s.UpperCard, 1e-9)
	assert.InDelta(t, DefaultCoefficients().Memory[OpTable].eval(200, 3, 1), c.Memory, 1e-9)
}

func TestNetworkChargesTransfer(t *testing.T) {
	m := newModel(t)

	c, s, err := m.Cost(context.Background(), ir.NewNetwork(ir.NewCloud(sales())), false)
	require.NoError(t, err)
	assert.InDelta(t, 1+3*1000*DefaultNetworkRate, c.UpperLatency, 1e-9)
	assert.Equal(t, 3, s.NCols)
}

func TestCachesDropLatency(t *testing.T) {
	m := newModel(t)
	ctx := context.Background()
	inner := ir.NewFilter(ir.NewCloud(sales()), regionIs("east"))

	innerCost, _, err := m.Cost(ctx, inner, false)
	require.NoError(t, err)

	static, _, err := m.Cost(ctx, ir.NewStaticCache(inner), true)
	require.NoError(t, err)
	assert.Zero(t, static.UpperLatency)
	assert.Equal(t, innerCost.Memory, static.Memory)

	dyn := ir.NewDynamicCache(inner)
	steady, _, err := m.Cost(ctx, dyn, false)
	require.NoError(t, err)
	assert.Zero(t, steady.UpperLatency)

	on, _, err := m.Cost(ctx, dyn, true)
	require.NoError(t, err)
	assert.Equal(t, innerCost.UpperLatency, on.UpperLatency)
}

func TestCostIsMemoized(t *testing.T) {
	m := newModel(t)
	p := ir.NewFilter(sales(), regionIs("east"))

	_, ok := ir.CachedCost(p, false)
	require.False(t, ok)

	c, s, err := m.Cost(context.Background(), p, false)
	require.NoError(t, err)

	e, ok := ir.CachedCost(p, false)
	require.True(t, ok)
	assert.Equal(t, c, e.Cost)
	assert.Equal(t, s, e.Stats)

	_, ok = ir.CachedCost(p, true)
	assert.False(t, ok, "modes are memoized separately")
}

func TestHashProbeSelectivity(t *testing.T) {
	m := newModel(t)
	agg := ir.NewAggregate(ir.NewCloud(sales()),
		[]*ir.Named{ir.As("region", ir.Col("region"))},
		[]*ir.Named{ir.As("n", ir.Call("count", ir.Star))})
	probe := ir.NewHashIndexProbe(
		ir.NewStaticCache(ir.NewHashIndexBuild(agg, []ir.Expr{ir.Col("region")})),
		[]ir.Expr{&ir.ValChoice{ID: "r", Domain: ir.Col("region")}})

	c, s, err := m.Cost(context.Background(), probe, false)
	require.NoError(t, err)
	// The largest region group of the base table (200 rows) exceeds the 10
	// indexed groups, so the probe keeps all of them.
	assert.InDelta(t, 10, s.UpperCard, 1e-9)
	assert.Equal(t, 1.0, c.UpperLatency, "the cache hides the build")
}

func TestSpatialSelectivity(t *testing.T) {
	build := func(table string) ir.Plan {
		return ir.NewSpatialIndexProbe(
			ir.NewStaticCache(ir.NewSpatialIndexBuild(ir.NewCloud(ir.NewTableScan(table)),
				[]ir.Expr{ir.Col("ra"), ir.Col("dec")})),
			[]ir.Expr{ir.Int(0), ir.Int(0)}, []ir.Expr{ir.Int(1), ir.Int(1)})
	}

	m := newModel(t, WithSelectiveTables("sdss"))
	_, s, err := m.Cost(context.Background(), build("sdss_obj"), false)
	require.NoError(t, err)
	assert.InDelta(t, 10000*0.002*0.002, s.AvgCard, 1e-9)
	assert.InDelta(t, 10000*0.01*0.01, s.UpperCard, 1e-9)

	m = newModel(t, WithSelectiveTables("sdss"), WithSelectivityMode(SelectivityNone))
	_, s, err = m.Cost(context.Background(), build("sdss_obj"), false)
	require.NoError(t, err)
	assert.InDelta(t, 10000*0.01, s.AvgCard, 1e-9)
	assert.InDelta(t, 10000, s.UpperCard, 1e-9)
}

func TestPrefixSumBuildShape(t *testing.T) {
	m := newModel(t)
	build := ir.NewPrefixSumBuild(ir.NewCloud(sales()),
		ir.As("amount", ir.Col("amount")), ir.As("region", ir.Col("region")), ir.As("n", ir.Int(1)))

	c, s, err := m.Cost(context.Background(), build, false)
	require.NoError(t, err)
	assert.InDelta(t, 10, s.UpperCard, 1e-9)
	assert.Equal(t, 500, s.NCols)
	assert.InDelta(t, DefaultCoefficients().Memory[OpPrefixSumBuild].eval(10, 500, 0), c.Memory, 1e-9)

	probe := ir.NewPrefixSumProbe(ir.NewStaticCache(build), ir.Int(1), ir.Int(9))
	_, s, err = m.Cost(context.Background(), probe, false)
	require.NoError(t, err)
	assert.Equal(t, 2, s.NCols, "a probe yields target and aggregate")
}

func TestChoicePlanChargesWorstAlternative(t *testing.T) {
	m := newModel(t)
	cheap := ir.NewCloud(sales())
	costly := ir.NewNetwork(ir.NewCloud(sales()))

	c, _, err := m.Cost(context.Background(), ir.NewChoicePlan("v", cheap, costly), false)
	require.NoError(t, err)
	want, _, _ := m.Cost(context.Background(), costly, false)
	assert.Equal(t, want, c)
}

func TestCacheMemorySkipsWrappers(t *testing.T) {
	m := newModel(t)
	ctx := context.Background()
	inner := ir.NewFilter(ir.NewCloud(sales()), regionIs("east"))

	want, _, err := m.Cost(ctx, inner, false)
	require.NoError(t, err)

	got, err := m.CacheMemory(ctx, ir.NewNetwork(ir.NewDynamicCache(inner)))
	require.NoError(t, err)
	assert.Equal(t, want.Memory, got)
}

func TestParseSelectivityMode(t *testing.T) {
	for in, want := range map[string]SelectivityMode{
		"upper": SelectivityUpper, "": SelectivityUpper, "AVG": SelectivityAvg,
		"none": SelectivityNone, "NoFilter": SelectivityNone,
	} {
		got, err := ParseSelectivityMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseSelectivityMode("median")
	assert.Error(t, err)
}
