package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWalkPostOrder(t *testing.T) {
	p := rangeView()

	var kinds []string
	var paths []Path
	Walk(p, func(n Plan, path Path) {
		kinds = append(kinds, KindName(n))
		paths = append(paths, path)
	})

	assert.Equal(t, []string{"TableScan", "Filter", "Aggregate"}, kinds)
	assert.Equal(t, []Path{{0, 0}, {0}, {}}, paths)
}

func TestFindNodesDescendantsFirst(t *testing.T) {
	p := NewNetwork(NewCloud(NewTableScan("t")))

	found := FindNodes(p, func(Plan) bool { return true })

	require.Len(t, found, 3)
	assert.IsType(t, &TableScan{}, found[0])
	assert.IsType(t, &NetworkBoundary{}, found[2])
}

func TestFindExprsCollectsChoices(t *testing.T) {
	found := FindExprs(rangeView(), IsChoiceExpr)

	require.Len(t, found, 2)
	assert.Equal(t, []string{"hi", "lo"}, ChoiceIDs(rangeView()))
}

func TestReplaceRebuildsSpineOnly(t *testing.T) {
	p := rangeView().(*Aggregate)
	filter := p.Input.(*Filter)
	scan := filter.Input

	out := Replace(p, Path{0, 0}, NewCloud(scan))

	agg := out.(*Aggregate)
	assert.NotSame(t, p, agg)
	assert.Same(t, scan, At(out, Path{0, 0, 0}))
	assert.IsType(t, &CloudBoundary{}, At(out, Path{0, 0}))
	// The original tree is untouched.
	assert.Same(t, scan, p.Input.(*Filter).Input)
	assert.Equal(t, "TableScan(t)", Label(At(p, Path{0, 0})))
}

func TestReplaceRootReturnsSubstitute(t *testing.T) {
	sub := NewTableScan("u")
	assert.Same(t, Plan(sub), Replace(rangeView(), Path{}, sub))
}

func TestAtOutOfRange(t *testing.T) {
	assert.Nil(t, At(NewTableScan("t"), Path{0}))
}

func TestCloneResetsIDs(t *testing.T) {
	p := rangeView()
	Export(p, NewSequence())
	require.NotZero(t, NodeID(p))

	c := Clone(p)

	assert.Zero(t, NodeID(c))
	assert.True(t, Equal(p, c))
	assert.NotSame(t, p, c)
}

func TestCloneEveryKind(t *testing.T) {
	for name, p := range allKinds() {
		t.Run(name, func(t *testing.T) {
			c := Clone(p)
			assert.Equal(t, StructuralString(p), StructuralString(c))
		})
	}
}

func TestSQLProjection(t *testing.T) {
	scan := NewTableScan("t")
	filter := NewFilter(scan, Eq(Col("a"), Int(1)))
	agg := NewAggregate(filter, []*Named{As("g", Col("g"))}, []*Named{As("n", Call("count", Star))})
	global := NewAggregate(scan, nil, []*Named{As("n", Call("count", Star))})
	proj := NewProjection(NewCloud(agg), As("n", Col("n")))

	tests := []struct {
		name string
		plan Plan
		sql  string
		ok   bool
	}{
		{"scan", scan, "SELECT * FROM t", true},
		{"filter", filter, "SELECT * FROM (SELECT * FROM t) WHERE (a = 1)", true},
		{"aggregate", agg, "SELECT g AS g, count(*) AS n FROM (SELECT * FROM (SELECT * FROM t) WHERE (a = 1)) GROUP BY g", true},
		{"global aggregate", global, "SELECT count(*) AS n FROM (SELECT * FROM t)", true},
		{"projection through cloud", proj,
			"SELECT n AS n FROM (SELECT g AS g, count(*) AS n FROM (SELECT * FROM (SELECT * FROM t) WHERE (a = 1)) GROUP BY g)", true},
		{"index build", &HashIndexBuild{Input: scan, Keys: []Expr{Col("a")}}, "", false},
		{"choice", NewChoicePlan("c", scan), "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, ok := SQL(tt.plan)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.sql, sql)
		})
	}
}

func TestFunctionalStringIgnoresPlacement(t *testing.T) {
	a := NewStaticCache(NewFilter(NewCloud(NewTableScan("t")), Eq(Col("a"), Int(1))))
	b := NewNetwork(NewFilter(NewTableScan("t"), Eq(Col("a"), Int(1))))

	assert.Equal(t, FunctionalString(a), FunctionalString(b))
	assert.Equal(t, "Filter((a = 1))Table(t)", FunctionalString(a))
	assert.NotEqual(t, StructuralString(a), StructuralString(b))
	assert.NotEqual(t, StructuralHash(a), StructuralHash(b))
}

func TestSchema(t *testing.T) {
	lookup := func(table string) ([]*ColumnRef, error) {
		return []*ColumnRef{{Table: table, Column: "g"}, {Table: table, Column: "x"}, {Table: table, Column: "v"}}, nil
	}
	kinds := allKinds()

	agg, err := Schema(rangeView(), lookup)
	require.NoError(t, err)
	assert.Equal(t, []*ColumnRef{{Table: "", Column: "g"}, {Column: "total"}}, agg)

	ps, err := Schema(kinds["PrefixSum"], lookup)
	require.NoError(t, err)
	assert.Equal(t, []*ColumnRef{{Column: "g"}, {Column: "total"}}, ps)

	filter, err := Schema(kinds["Filter"], lookup)
	require.NoError(t, err)
	assert.Len(t, filter, 3)
	assert.Equal(t, "t", filter[0].Table)
}

func TestFormat(t *testing.T) {
	out := Format(NewNetwork(NewCloud(NewTableScan("t"))))
	assert.Equal(t, "Network\n  Cloud\n    TableScan(t)\n", out)

	annotated := FormatWith(NewTableScan("t"), func(Plan) string { return "rows=10" })
	assert.Equal(t, "TableScan(t) [rows=10]\n", annotated)
}

func TestAtServer(t *testing.T) {
	cache := NewStaticCache(NewCloud(NewTableScan("t")))
	assert.True(t, AtServer(cache))
	assert.False(t, AtServer(NewStaticCache(NewNetwork(NewCloud(NewTableScan("t"))))))
}
