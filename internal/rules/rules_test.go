package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dashopt/internal/ir"
)

// Shared plan builders. Column x is ranged, g is grouped, v is summed and
// k is matched by equality.

func src() ir.Plan { return ir.NewCloud(ir.NewTableScan("t")) }

func val(id, col string) *ir.ValChoice { return &ir.ValChoice{ID: id, Domain: ir.Col(col)} }

func groups(cols ...string) []*ir.Named {
	out := make([]*ir.Named, len(cols))
	for i, c := range cols {
		out[i] = ir.As(c, ir.Col(c))
	}
	return out
}

func sumV() []*ir.Named { return []*ir.Named{ir.As("total", ir.Call("sum", ir.Col("v")))} }

func ranged(col, lo, hi string) ir.Expr { return ir.Between(ir.Col(col), val(lo, col), val(hi, col)) }

// assertPlan compares plans through their indented rendering so failures
// show both trees.
func assertPlan(t *testing.T, want, got ir.Plan) {
	t.Helper()
	assert.Equal(t, ir.Format(want), ir.Format(got))
}

func TestSplitConjunctiveFilter(t *testing.T) {
	a, b, c := ir.Eq(ir.Col("a"), ir.Int(1)), ir.Eq(ir.Col("b"), ir.Int(2)), ir.Eq(ir.Col("c"), ir.Int(3))
	r := SplitConjunctiveFilter{}

	p := ir.NewFilter(src(), ir.And(a, b))
	require.True(t, r.Match(p))
	assertPlan(t, ir.NewFilter(ir.NewFilter(src(), b), a), r.Apply(p))

	p = ir.NewFilter(src(), ir.And(a, b, c))
	assertPlan(t, ir.NewFilter(ir.NewFilter(src(), ir.And(b, c)), a), r.Apply(p))

	assert.False(t, r.Match(ir.NewFilter(src(), a)))
	assert.False(t, r.Match(src()))
}

func TestSwapAdjacentFilters(t *testing.T) {
	a, b := ir.Eq(ir.Col("a"), ir.Int(1)), ir.Eq(ir.Col("b"), ir.Int(2))
	r := SwapAdjacentFilters{}
	p := ir.NewFilter(ir.NewFilter(src(), a), b)

	require.True(t, r.Match(p))
	swapped := r.Apply(p)
	assertPlan(t, ir.NewFilter(ir.NewFilter(src(), b), a), swapped)
	assertPlan(t, p, r.Apply(swapped))

	assert.False(t, r.Match(ir.NewFilter(src(), a)))
}

func TestSwapFilterAggregate(t *testing.T) {
	r := SwapFilterAggregate{}
	onGroup := ir.Eq(ir.Col("g"), val("pick", "g"))
	onOther := ir.Eq(ir.Col("k"), val("key", "k"))

	tests := []struct {
		name string
		in   ir.Plan
		want ir.Plan
	}{
		{
			name: "push filter below aggregate",
			in:   ir.NewFilter(ir.NewAggregate(src(), groups("g"), sumV()), onGroup),
			want: ir.NewAggregate(ir.NewFilter(src(), onGroup), groups("g"), sumV()),
		},
		{
			name: "pull filter above aggregate",
			in:   ir.NewAggregate(ir.NewFilter(src(), onGroup), groups("g"), sumV()),
			want: ir.NewFilter(ir.NewAggregate(src(), groups("g"), sumV()), onGroup),
		},
		{
			name: "pull equality through by widening the groups",
			in:   ir.NewAggregate(ir.NewFilter(src(), onOther), groups("g"), sumV()),
			want: ir.NewProjection(
				ir.NewFilter(ir.NewAggregate(src(), groups("g", "k"), sumV()), onOther),
				ir.As("g", ir.Col("g")), ir.As("total", ir.Col("total"))),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.True(t, r.Match(tt.in))
			assertPlan(t, tt.want, r.Apply(tt.in))
		})
	}
}

func TestSwapFilterAggregateRejects(t *testing.T) {
	r := SwapFilterAggregate{}

	// A range on a non-group column cannot move above the aggregate.
	assert.False(t, r.Match(ir.NewAggregate(ir.NewFilter(src(), ranged("x", "lo", "hi")), groups("g"), sumV())))
	// A filter above the aggregate reading a non-group column cannot move below.
	assert.False(t, r.Match(ir.NewFilter(ir.NewAggregate(src(), groups("g"), sumV()),
		ir.Eq(ir.Col("k"), ir.Int(1)))))
	// An equality whose value reads another column is not pulled through.
	assert.False(t, r.Match(ir.NewAggregate(ir.NewFilter(src(), ir.Eq(ir.Col("k"), ir.Col("v"))),
		groups("g"), sumV())))
}

func TestValidOver(t *testing.T) {
	dims := []ir.Expr{ir.Col("g"), ir.Call("year", ir.Col("d"))}

	tests := []struct {
		name string
		cond ir.Expr
		want bool
	}{
		{"group column", ir.Eq(ir.Col("g"), ir.Int(1)), true},
		{"group expression", ir.Eq(ir.Call("year", ir.Col("d")), ir.Int(2020)), true},
		{"constant", ir.Eq(ir.Int(1), ir.Int(1)), true},
		{"scalar choice", ir.Eq(ir.Col("g"), val("v", "other")), true},
		{"other column", ir.Eq(ir.Col("k"), ir.Int(1)), false},
		{"function of other column", ir.Eq(ir.Call("year", ir.Col("k")), ir.Int(1)), false},
		{"list", ir.NewOp("in", ir.Col("g"), &ir.List{Elements: []ir.Expr{ir.Int(1), ir.Col("k")}}), false},
		{"any over groups", ir.Eq(&ir.AnyChoice{ID: "c", Choices: []ir.Expr{ir.Col("g")}}, ir.Int(1)), true},
		{"multi child", ir.NewOp("in", ir.Col("g"),
			&ir.MultiChoice{ID: "m", Child: val("i", "g"), Begin: "(", End: ")", Delim: ","}), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, validOver(tt.cond, dims))
		})
	}
}
