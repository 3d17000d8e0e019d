package cost

import (
	"context"
	"math"
	"strings"

	"github.com/roach88/dashopt/internal/ir"
)

// question is one of the group statistics of stats.Source.
type question func(ctx context.Context, projection string, expr ir.Expr) (float64, bool, error)

// statDown asks q about expr with the projection of p and, while the answer
// is unknown or a node has no projection, with the projection of its input.
// The walk ends at the base table; an unknown answer there is returned as
// unknown.
func (m *Model) statDown(ctx context.Context, p ir.Plan, expr ir.Expr, q question) (float64, bool, error) {
	for n := p; n != nil; n = ir.Input(n) {
		if sql, ok := ir.SQL(n); ok {
			v, known, err := q(ctx, sql, expr)
			if err != nil {
				return 0, false, err
			}
			if known {
				return v, true, nil
			}
		}
		if _, isTable := n.(*ir.TableScan); isTable {
			break
		}
	}
	m.logger.Debug("statistic unknown down to the base table", "expr", expr.String(), "node", ir.KindName(p))
	return 0, false, nil
}

// equalitySelectivity narrows sel by an equality on expr evaluated at p.
// With a known group statistic the selectivity is the group's share of
// the input; otherwise the average drops tenfold and the upper bound is
// kept.
func (m *Model) equalitySelectivity(ctx context.Context, p ir.Plan, expr ir.Expr, inUpper float64, sel selectivity) (selectivity, error) {
	var (
		g     float64
		known bool
		err   error
		limit float64
	)
	switch m.mode {
	case SelectivityUpper:
		g, known, err = m.statDown(ctx, p, expr, m.src.MaxGroupSize)
		limit = 1
	case SelectivityAvg:
		g, known, err = m.statDown(ctx, p, expr, m.src.AvgGroupSize)
		limit = 0.1
	}
	if err != nil {
		return sel, err
	}
	if !known {
		return selectivity{avg: sel.avg * 0.1, upper: sel.upper}, nil
	}
	s := math.Min(limit, share(g, inUpper))
	return selectivity{avg: math.Min(sel.avg, s), upper: math.Min(sel.upper, s)}, nil
}

// share returns part/whole, treating an empty whole as "everything".
func share(part, whole float64) float64 {
	if whole <= 0 {
		return 1
	}
	return part / whole
}

// filterSelectivity combines the conjuncts of a filter condition: equality
// conjuncts use group statistics, every other conjunct drops the average
// tenfold.
func (m *Model) filterSelectivity(ctx context.Context, f *ir.Filter, in ir.Statistics) (selectivity, error) {
	sel := passThrough
	for _, c := range ir.Conjuncts(f.Cond) {
		if op, ok := ir.IsOp(c, "=", 2); ok {
			var err error
			if sel, err = m.equalitySelectivity(ctx, f, op.Operands[0], in.UpperCard, sel); err != nil {
				return sel, err
			}
			continue
		}
		sel.avg *= 0.1
	}
	if m.mode == SelectivityAvg {
		sel.upper = sel.avg
	}
	return sel, nil
}

// hashProbeSelectivity applies the equality rule once per key of the hash
// index being probed.
func (m *Model) hashProbeSelectivity(ctx context.Context, p *ir.HashIndexProbe, in ir.Statistics) (selectivity, error) {
	sel := passThrough
	build, ok := ir.FindBelow(p, func(n ir.Plan) bool {
		_, ok := n.(*ir.HashIndexBuild)
		return ok
	})
	if !ok {
		return sel, nil
	}
	for _, key := range build.(*ir.HashIndexBuild).Keys {
		var err error
		if sel, err = m.equalitySelectivity(ctx, p, key, in.UpperCard, sel); err != nil {
			return sel, err
		}
	}
	if m.mode == SelectivityAvg {
		sel.upper = math.Min(0.001, sel.avg)
	}
	return sel, nil
}

// aggregateSelectivity estimates the number of groups as the product of
// the distinct counts of the group-by expressions. An unknown count resets
// the product to the input cardinality.
func (m *Model) aggregateSelectivity(ctx context.Context, a *ir.Aggregate, in ir.Statistics) (selectivity, error) {
	comb := 1.0
	for _, g := range a.GroupBys {
		d, ok, err := m.statDown(ctx, a, g.Expr, m.src.DistinctCount)
		if err != nil {
			return passThrough, err
		}
		if ok {
			comb *= d
		} else {
			comb = in.UpperCard
		}
	}
	s := math.Min(1, share(comb, in.UpperCard))
	return selectivity{avg: s, upper: s}, nil
}

// spatialSelectivity depends only on the number of indexed dimensions and
// on whether the probed table is known to be selective.
func (m *Model) spatialSelectivity(p *ir.SpatialIndexProbe) selectivity {
	k := 0.0
	if build, ok := ir.FindBelow(p, func(n ir.Plan) bool {
		_, ok := n.(*ir.SpatialIndexBuild)
		return ok
	}); ok {
		k = float64(len(build.(*ir.SpatialIndexBuild).Keys))
	}
	var sel selectivity
	if m.mode != SelectivityNone && m.isSelective(p) {
		sel = selectivity{avg: math.Pow(0.002, k), upper: math.Pow(0.01, k)}
	} else {
		sel = selectivity{avg: math.Pow(0.1, k), upper: 1}
	}
	if m.mode == SelectivityAvg {
		sel.upper = sel.avg
	}
	return sel
}

// isSelective reports whether the first base table under p matches one of
// the selective table patterns.
func (m *Model) isSelective(p ir.Plan) bool {
	tables := ir.FindNodes(p, func(n ir.Plan) bool {
		_, ok := n.(*ir.TableScan)
		return ok
	})
	if len(tables) == 0 {
		return false
	}
	name := tables[0].(*ir.TableScan).Name
	for _, pat := range m.selective {
		if pat != "" && strings.Contains(name, pat) {
			return true
		}
	}
	return false
}
