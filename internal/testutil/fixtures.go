package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/dashopt/internal/ir"
	"github.com/roach88/dashopt/internal/stats"
)

// Generous is a latency budget every plan over the fixtures meets.
var Generous = ir.Latency{Latency: 1e9, SwitchOn: 1e12}

// Ample is a memory budget every plan over the fixtures fits in.
var Ample = ir.Memory{Server: 1e15, Client: 1e15}

// Stats returns the statistics of the fixture table "t":
//
//	col   number, 1000 distinct values
//	col2  string, 50 groups of at most 5000 rows
//	col3  number, 10000 distinct values
func Stats(t testing.TB) *stats.Fixture {
	t.Helper()
	f, err := stats.NewFixture(map[string]*stats.FixtureTable{
		"t": {Rows: 100000, Columns: []stats.FixtureColumn{
			{Name: "col", Kind: "number", Distinct: 1000, MaxGroup: 400, AvgGroup: 100},
			{Name: "col2", Kind: "string", Distinct: 50, MaxGroup: 5000, AvgGroup: 2000},
			{Name: "col3", Kind: "number", Distinct: 10000},
		}},
	})
	require.NoError(t, err)
	return f
}

// Val is a scalar choice over the values of column col.
func Val(id, col string) *ir.ValChoice {
	return &ir.ValChoice{ID: id, Domain: ir.Col(col)}
}

// RangeView is Aggregate(Filter(Scan(t), col between lo and hi), [col2],
// [sum(col3)]) with the bounds driven by choices lo and hi.
func RangeView(lo, hi string) ir.Plan {
	return ir.NewAggregate(
		ir.NewFilter(ir.NewTableScan("t"), ir.Between(ir.Col("col"), Val(lo, "col"), Val(hi, "col"))),
		[]*ir.Named{ir.As("col2", ir.Col("col2"))},
		[]*ir.Named{ir.As("total", ir.Call("sum", ir.Col("col3")))},
	)
}

// RangeTask is a single range view brushed by one interaction driving lo
// and hi.
func RangeTask(latency ir.Latency, memory ir.Memory) *ir.Task {
	return &ir.Task{
		Views:        []ir.View{{Name: "range", Plan: RangeView("lo", "hi")}},
		Interactions: []ir.Interaction{{Name: "brush", ChoiceIDs: []string{"lo", "hi"}, Latency: latency}},
		Memory:       memory,
	}
}

// SharedTask has two range views over the same data, each brushed by its
// own interaction. Both can be answered from the same prefix sum.
func SharedTask(latency ir.Latency, memory ir.Memory) *ir.Task {
	return &ir.Task{
		Views: []ir.View{
			{Name: "left", Plan: RangeView("lo1", "hi1")},
			{Name: "right", Plan: RangeView("lo2", "hi2")},
		},
		Interactions: []ir.Interaction{
			{Name: "brush_left", ChoiceIDs: []string{"lo1", "hi1"}, Latency: latency},
			{Name: "brush_right", ChoiceIDs: []string{"lo2", "hi2"}, Latency: latency},
		},
		Memory: memory,
	}
}
