package rules

import (
	"slices"
	"strings"

	"github.com/roach88/dashopt/internal/ir"
)

// MergeAdjacentAggregate drops an inner aggregate whose groups and
// aggregates include those of the outer one.
type MergeAdjacentAggregate struct{}

func (MergeAdjacentAggregate) Name() string { return "MergeAdjacentAggregate" }

func (MergeAdjacentAggregate) Match(p ir.Plan) bool {
	outer, ok := p.(*ir.Aggregate)
	if !ok {
		return false
	}
	inner, ok := outer.Input.(*ir.Aggregate)
	return ok && subset(outer.GroupBys, inner.GroupBys) && subset(outer.Aggs, inner.Aggs)
}

func (MergeAdjacentAggregate) Apply(p ir.Plan) ir.Plan {
	outer := p.(*ir.Aggregate)
	inner := outer.Input.(*ir.Aggregate)
	return ir.NewAggregate(inner.Input, outer.GroupBys, outer.Aggs)
}

// MergeAdjacentProjection drops an inner projection whose outputs include
// those of the outer one.
type MergeAdjacentProjection struct{}

func (MergeAdjacentProjection) Name() string { return "MergeAdjacentProjection" }

func (MergeAdjacentProjection) Match(p ir.Plan) bool {
	outer, ok := p.(*ir.Projection)
	if !ok {
		return false
	}
	inner, ok := outer.Input.(*ir.Projection)
	return ok && subset(outer.Projs, inner.Projs)
}

func (MergeAdjacentProjection) Apply(p ir.Plan) ir.Plan {
	outer := p.(*ir.Projection)
	inner := outer.Input.(*ir.Projection)
	return ir.NewProjection(inner.Input, outer.Projs...)
}

// MergeAndSortFilters coalesces stacked filters into one flat conjunction
// and orders its conjuncts by canonical string.
type MergeAndSortFilters struct{}

func (MergeAndSortFilters) Name() string { return "MergeAndSortFilters" }

func (MergeAndSortFilters) Match(p ir.Plan) bool {
	f, ok := p.(*ir.Filter)
	if !ok {
		return false
	}
	if _, stacked := f.Input.(*ir.Filter); stacked {
		return true
	}
	op, ok := ir.IsOp(f.Cond, "and", -1)
	if !ok {
		return false
	}
	conds := ir.Conjuncts(f.Cond)
	if len(conds) != len(op.Operands) {
		return true
	}
	return !slices.IsSortedFunc(conds, compareExprs)
}

func (MergeAndSortFilters) Apply(p ir.Plan) ir.Plan {
	f := p.(*ir.Filter)
	in := f.Input
	conds := ir.Conjuncts(f.Cond)
	for {
		inner, ok := in.(*ir.Filter)
		if !ok {
			break
		}
		conds = append(ir.Conjuncts(inner.Cond), conds...)
		in = inner.Input
	}
	slices.SortStableFunc(conds, compareExprs)
	return ir.NewFilter(in, ir.And(conds...))
}

func compareExprs(a, b ir.Expr) int { return strings.Compare(a.String(), b.String()) }

// subset reports whether every expression of sub appears in super.
func subset(sub, super []*ir.Named) bool {
	have := make(map[string]bool, len(super))
	for _, n := range super {
		have[n.String()] = true
	}
	for _, n := range sub {
		if !have[n.String()] {
			return false
		}
	}
	return true
}

// Cleanup applies the cleanup rules anywhere in p until none matches.
// Every rule either removes a node or sorts a conjunction, so the loop
// terminates.
func Cleanup(p ir.Plan) ir.Plan {
	cleanups := Cleanups()
	for {
		next, changed := cleanupOnce(p, cleanups)
		if !changed {
			return p
		}
		p = next
	}
}

func cleanupOnce(p ir.Plan, cleanups []LogicalRule) (ir.Plan, bool) {
	for _, path := range ir.Paths(p) {
		n := ir.At(p, path)
		for _, r := range cleanups {
			if r.Match(n) {
				return ir.Replace(p, path, r.Apply(n)), true
			}
		}
	}
	return p, false
}
