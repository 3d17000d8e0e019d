package rules

import (
	"strings"

	"github.com/roach88/dashopt/internal/ir"
)

// MaterializedView caches a whole choice-free sub-plan that reads the
// backing store. It is the fallback structure: it applies wherever the
// other rules do not, but only statically.
type MaterializedView struct{}

func (MaterializedView) Name() string { return "MaterializedView" }

func (MaterializedView) MatchStatic(p ir.Plan) bool {
	return ir.ContainsNode(p, isCloud) && !ir.HasChoice(p) && !ir.ContainsNode(p, ir.IsCache)
}

func (MaterializedView) MatchDynamic(ir.Plan, []string) bool { return false }

// Apply always returns a StaticCache.
func (MaterializedView) Apply(p ir.Plan, _ bool) ir.Plan {
	return ir.NewStaticCache(p)
}

// HashIndex turns an aggregate over an equality filter into a hash index
// keyed by the filtered columns:
//
//	Aggregate(Filter(src, c1 = v1 and ... and cn = vn), G, A)
//	=> Projection(HashIndexProbe(Cache(HashIndexBuild(
//	       Aggregate(src, G + [c1..cn], A), [c1..cn])), [v1..vn]), G + A)
//
// Every value must be driven by the probed choices and read no column; no
// filtered column may already be a group-by expression.
type HashIndex struct{}

func (HashIndex) Name() string { return "HashIndex" }

func (r HashIndex) MatchStatic(p ir.Plan) bool {
	agg, f, ok := aggregateOverFilter(p)
	if !ok {
		return false
	}
	return r.match(agg, f, ownChoiceIDs(agg, f), true)
}

func (r HashIndex) MatchDynamic(p ir.Plan, ids []string) bool {
	agg, f, ok := aggregateOverFilter(p)
	return ok && r.match(agg, f, ids, false)
}

func (HashIndex) match(agg *ir.Aggregate, f *ir.Filter, ids []string, static bool) bool {
	if !sourceOK(f.Input, ids, static) {
		return false
	}
	if !buildExprsOK(namedExprs(agg.GroupBys), ids, static) || !buildExprsOK(namedExprs(agg.Aggs), ids, static) {
		return false
	}
	for _, c := range ir.Conjuncts(f.Cond) {
		op, ok := ir.IsOp(c, "=", 2)
		if !ok {
			return false
		}
		col, ok := op.Operands[0].(*ir.ColumnRef)
		if !ok || refsColumn(op.Operands[1]) || !drivenBy(op.Operands[1], ids) {
			return false
		}
		for _, g := range agg.GroupBys {
			if ir.ExprsEqual(g.Expr, col) {
				return false
			}
		}
	}
	return true
}

func (HashIndex) Apply(p ir.Plan, static bool) ir.Plan {
	agg := p.(*ir.Aggregate)
	f := agg.Input.(*ir.Filter)

	groups := append([]*ir.Named{}, agg.GroupBys...)
	var keys, queries []ir.Expr
	for _, c := range ir.Conjuncts(f.Cond) {
		op := c.(*ir.Op)
		col := op.Operands[0].(*ir.ColumnRef)
		groups = append(groups, ir.As(col.Column, col))
		keys = append(keys, ir.Col(col.Column))
		queries = append(queries, op.Operands[1])
	}

	build := ir.NewHashIndexBuild(ir.NewAggregate(f.Input, groups, agg.Aggs), keys)
	probe := ir.NewHashIndexProbe(ir.NewCache(build, static), queries)
	return ir.NewProjection(probe, outputs(agg)...)
}

// SpatialIndex turns a filter of up to three range predicates into an
// R-tree over the ranged expressions:
//
//	Filter(src, k1 between l1 and u1 and ...)
//	=> SpatialIndexProbe(Cache(SpatialIndexBuild(src, [k1..])), [l1..], [u1..])
//
// Keys must be distinct, choice-free and not dates; bounds read no column
// and at least one bound of every predicate is driven by the probed
// choices.
type SpatialIndex struct{}

// MaxSpatialDims is the largest number of indexed dimensions.
const MaxSpatialDims = 3

func (SpatialIndex) Name() string { return "SpatialIndex" }

func (r SpatialIndex) MatchStatic(p ir.Plan) bool {
	f, ok := p.(*ir.Filter)
	return ok && r.match(f, ownChoiceIDs(f), true)
}

func (r SpatialIndex) MatchDynamic(p ir.Plan, ids []string) bool {
	f, ok := p.(*ir.Filter)
	return ok && r.match(f, ids, false)
}

func (SpatialIndex) match(f *ir.Filter, ids []string, static bool) bool {
	if !sourceOK(f.Input, ids, static) {
		return false
	}
	conds := ir.Conjuncts(f.Cond)
	if len(conds) > MaxSpatialDims {
		return false
	}
	seen := map[string]bool{}
	for _, c := range conds {
		op, ok := ir.IsOp(c, "between", 3)
		if !ok {
			return false
		}
		key, lo, hi := op.Operands[0], op.Operands[1], op.Operands[2]
		k := key.String()
		switch {
		case seen[k],
			strings.Contains(strings.ToLower(k), "date"),
			ir.ContainsExpr(key, ir.IsChoiceExpr),
			refsColumn(lo), refsColumn(hi),
			!drivenBy(lo, ids) && !drivenBy(hi, ids):
			return false
		}
		seen[k] = true
	}
	return true
}

func (SpatialIndex) Apply(p ir.Plan, static bool) ir.Plan {
	f := p.(*ir.Filter)
	var keys, lowers, uppers []ir.Expr
	for _, c := range ir.Conjuncts(f.Cond) {
		op := c.(*ir.Op)
		keys = append(keys, op.Operands[0])
		lowers = append(lowers, op.Operands[1])
		uppers = append(uppers, op.Operands[2])
	}
	build := ir.NewSpatialIndexBuild(f.Input, keys)
	return ir.NewSpatialIndexProbe(ir.NewCache(build, static), lowers, uppers)
}

// PrefixSum turns a ranged sum or count, grouped by one column, into a
// prefix-sum array along the ranged column:
//
//	Aggregate(Filter(src, x between lo and hi), [g], [sum(v) | count(*)])
//	=> PrefixSumProbe(Cache(PrefixSumBuild(src, x, g, v | 1)), lo, hi)
type PrefixSum struct{}

func (PrefixSum) Name() string { return "PrefixSum" }

func (r PrefixSum) MatchStatic(p ir.Plan) bool {
	agg, f, ok := aggregateOverFilter(p)
	return ok && r.match(agg, f, ownChoiceIDs(agg, f), true)
}

func (r PrefixSum) MatchDynamic(p ir.Plan, ids []string) bool {
	agg, f, ok := aggregateOverFilter(p)
	return ok && r.match(agg, f, ids, false)
}

func (PrefixSum) match(agg *ir.Aggregate, f *ir.Filter, ids []string, static bool) bool {
	if !summable(agg, f, ids, static) {
		return false
	}
	_, ok := rangedColumn(f.Cond, agg.GroupBys[0])
	return ok
}

func (PrefixSum) Apply(p ir.Plan, static bool) ir.Plan {
	agg := p.(*ir.Aggregate)
	f := agg.Input.(*ir.Filter)
	op := f.Cond.(*ir.Op)
	col := op.Operands[0].(*ir.ColumnRef)

	build := ir.NewPrefixSumBuild(f.Input, ir.As(col.Column, col), agg.GroupBys[0], aggColumn(agg.Aggs[0]))
	return ir.NewPrefixSumProbe(ir.NewCache(build, static), op.Operands[1], op.Operands[2])
}

// PrefixSum2D is PrefixSum over two ranged columns:
//
//	Aggregate(Filter(src, x between lx and ux and y between ly and uy), [g], [agg])
//	=> PrefixSum2DProbe(Cache(PrefixSum2DBuild(src, x, y, g, agg)), lx, ux, ly, uy)
type PrefixSum2D struct{}

func (PrefixSum2D) Name() string { return "PrefixSum2D" }

func (r PrefixSum2D) MatchStatic(p ir.Plan) bool {
	agg, f, ok := aggregateOverFilter(p)
	return ok && r.match(agg, f, ownChoiceIDs(agg, f), true)
}

func (r PrefixSum2D) MatchDynamic(p ir.Plan, ids []string) bool {
	agg, f, ok := aggregateOverFilter(p)
	return ok && r.match(agg, f, ids, false)
}

func (PrefixSum2D) match(agg *ir.Aggregate, f *ir.Filter, ids []string, static bool) bool {
	if !summable(agg, f, ids, static) {
		return false
	}
	and, ok := ir.IsOp(f.Cond, "and", 2)
	if !ok {
		return false
	}
	x, ok := rangedColumn(and.Operands[0], agg.GroupBys[0])
	if !ok {
		return false
	}
	y, ok := rangedColumn(and.Operands[1], agg.GroupBys[0])
	return ok && !ir.ExprsEqual(x, y)
}

func (PrefixSum2D) Apply(p ir.Plan, static bool) ir.Plan {
	agg := p.(*ir.Aggregate)
	f := agg.Input.(*ir.Filter)
	and := f.Cond.(*ir.Op)
	bx, by := and.Operands[0].(*ir.Op), and.Operands[1].(*ir.Op)
	x, y := bx.Operands[0].(*ir.ColumnRef), by.Operands[0].(*ir.ColumnRef)

	build := ir.NewPrefixSum2DBuild(f.Input, ir.As(x.Column, x), ir.As(y.Column, y),
		agg.GroupBys[0], aggColumn(agg.Aggs[0]))
	return ir.NewPrefixSum2DProbe(ir.NewCache(build, static),
		bx.Operands[1], bx.Operands[2], by.Operands[1], by.Operands[2])
}

func aggregateOverFilter(p ir.Plan) (*ir.Aggregate, *ir.Filter, bool) {
	agg, ok := p.(*ir.Aggregate)
	if !ok {
		return nil, nil, false
	}
	f, ok := agg.Input.(*ir.Filter)
	return agg, f, ok
}

// summable checks the shared shape of the prefix-sum rules: one group-by,
// one sum or count, and a usable source.
func summable(agg *ir.Aggregate, f *ir.Filter, ids []string, static bool) bool {
	if len(agg.GroupBys) != 1 || len(agg.Aggs) != 1 {
		return false
	}
	fn, ok := agg.Aggs[0].Expr.(*ir.Func)
	if !ok {
		return false
	}
	switch {
	case fn.Name == "sum" && len(fn.Args) == 1, fn.Name == "count":
	default:
		return false
	}
	if !buildExprsOK([]ir.Expr{agg.GroupBys[0].Expr, fn}, ids, static) {
		return false
	}
	return sourceOK(f.Input, ids, static)
}

// rangedColumn matches "col between lo and hi" where col is a column other
// than the group-by expression.
func rangedColumn(cond ir.Expr, group *ir.Named) (*ir.ColumnRef, bool) {
	op, ok := ir.IsOp(cond, "between", 3)
	if !ok {
		return nil, false
	}
	col, ok := op.Operands[0].(*ir.ColumnRef)
	if !ok || ir.ExprsEqual(col, group.Expr) {
		return nil, false
	}
	return col, true
}

// aggColumn is the column a prefix sum accumulates: the summed expression,
// or 1 for a count.
func aggColumn(agg *ir.Named) *ir.Named {
	fn := agg.Expr.(*ir.Func)
	if fn.Name == "sum" {
		return ir.As(agg.Name, fn.Args[0])
	}
	return ir.As(agg.Name, ir.Int(1))
}

// outputs re-exposes the group-by and aggregate names of agg.
func outputs(agg *ir.Aggregate) []*ir.Named {
	out := make([]*ir.Named, 0, len(agg.GroupBys)+len(agg.Aggs))
	for _, n := range agg.GroupBys {
		out = append(out, ir.As(n.Name, ir.Col(n.Name)))
	}
	for _, n := range agg.Aggs {
		out = append(out, ir.As(n.Name, ir.Col(n.Name)))
	}
	return out
}
