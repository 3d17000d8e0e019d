package rules

import (
	"github.com/roach88/dashopt/internal/ir"
)

// SplitConjunctiveFilter rewrites Filter(in, c1 and rest) into
// Filter(Filter(in, rest), c1).
type SplitConjunctiveFilter struct{}

func (SplitConjunctiveFilter) Name() string { return "SplitConjunctiveFilter" }

func (SplitConjunctiveFilter) Match(p ir.Plan) bool {
	f, ok := p.(*ir.Filter)
	if !ok {
		return false
	}
	op, ok := ir.IsOp(f.Cond, "and", -1)
	return ok && len(op.Operands) >= 2
}

func (SplitConjunctiveFilter) Apply(p ir.Plan) ir.Plan {
	f := p.(*ir.Filter)
	op := f.Cond.(*ir.Op)
	return ir.NewFilter(ir.NewFilter(f.Input, ir.And(op.Operands[1:]...)), op.Operands[0])
}

// SwapAdjacentFilters exchanges two stacked filters so that either
// condition can sit directly on the source.
type SwapAdjacentFilters struct{}

func (SwapAdjacentFilters) Name() string { return "SwapAdjacentFilters" }

func (SwapAdjacentFilters) Match(p ir.Plan) bool {
	f, ok := p.(*ir.Filter)
	if !ok {
		return false
	}
	_, ok = f.Input.(*ir.Filter)
	return ok
}

func (SwapAdjacentFilters) Apply(p ir.Plan) ir.Plan {
	outer := p.(*ir.Filter)
	inner := outer.Input.(*ir.Filter)
	return ir.NewFilter(ir.NewFilter(inner.Input, outer.Cond), inner.Cond)
}

// SwapFilterAggregate moves a filter across an aggregate.
//
// Filter(Aggregate(in, G, A), c) becomes Aggregate(Filter(in, c), G, A) when
// c only reads group-by expressions, and the reverse holds under the same
// condition. An equality "col = v" on a column outside G, with v valid over
// G, is pulled above the aggregate by grouping on col as well and projecting
// the original outputs afterwards.
type SwapFilterAggregate struct{}

func (SwapFilterAggregate) Name() string { return "SwapFilterAggregate" }

func (SwapFilterAggregate) Match(p ir.Plan) bool {
	switch x := p.(type) {
	case *ir.Filter:
		agg, ok := x.Input.(*ir.Aggregate)
		return ok && validOver(x.Cond, namedExprs(agg.GroupBys))
	case *ir.Aggregate:
		f, ok := x.Input.(*ir.Filter)
		if !ok {
			return false
		}
		dims := namedExprs(x.GroupBys)
		if validOver(f.Cond, dims) {
			return true
		}
		_, ok = pullableEquality(f.Cond, dims)
		return ok
	}
	return false
}

func (SwapFilterAggregate) Apply(p ir.Plan) ir.Plan {
	if f, ok := p.(*ir.Filter); ok {
		agg := f.Input.(*ir.Aggregate)
		return ir.NewAggregate(ir.NewFilter(agg.Input, f.Cond), agg.GroupBys, agg.Aggs)
	}

	agg := p.(*ir.Aggregate)
	f := agg.Input.(*ir.Filter)
	dims := namedExprs(agg.GroupBys)
	if validOver(f.Cond, dims) {
		return ir.NewFilter(ir.NewAggregate(f.Input, agg.GroupBys, agg.Aggs), f.Cond)
	}

	col, _ := pullableEquality(f.Cond, dims)
	widened := append(append([]*ir.Named{}, agg.GroupBys...), ir.As(col.Column, col))
	return ir.NewProjection(ir.NewFilter(ir.NewAggregate(f.Input, widened, agg.Aggs), f.Cond), outputs(agg)...)
}

// pullableEquality matches "col = v" where v is valid over dims.
func pullableEquality(cond ir.Expr, dims []ir.Expr) (*ir.ColumnRef, bool) {
	op, ok := ir.IsOp(cond, "=", 2)
	if !ok {
		return nil, false
	}
	col, ok := op.Operands[0].(*ir.ColumnRef)
	if !ok || !validOver(op.Operands[1], dims) {
		return nil, false
	}
	return col, true
}

// validOver reports whether cond can be evaluated on rows that only carry
// the dims expressions: every column it reads is (part of) one of dims.
func validOver(cond ir.Expr, dims []ir.Expr) bool {
	for _, d := range dims {
		if ir.ExprsEqual(d, cond) {
			return true
		}
	}
	if !refsColumn(cond) {
		return true
	}
	switch x := cond.(type) {
	case *ir.Op:
		return allValid(x.Operands, dims)
	case *ir.List:
		return allValid(x.Elements, dims)
	case *ir.AnyChoice:
		return allValid(x.Choices, dims)
	case *ir.ValChoice:
		return true
	case *ir.MultiChoice:
		return validOver(x.Child, dims)
	case *ir.Named:
		return validOver(x.Expr, dims)
	}
	return false
}

func allValid(es []ir.Expr, dims []ir.Expr) bool {
	for _, e := range es {
		if !validOver(e, dims) {
			return false
		}
	}
	return true
}
