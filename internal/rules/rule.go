// Package rules holds the plan rewrites explored by the candidate search.
//
// Rules never mutate their argument. Match inspects the node handed to it
// (and its inputs); Apply returns a replacement subtree which the caller
// splices in with ir.Replace. A rule that does not match is ordinary
// control flow, never an error.
//
// There are three families:
//
//   - LogicalRule rewrites that keep the result of a plan and only change
//     its shape (split, swap and push filters).
//   - DataStructureRule rewrites that replace a pattern with the build of an
//     auxiliary structure, held in a static or dynamic cache, followed by
//     its probe.
//   - Cleanup rules, logical rules run to a fixed point on a finished
//     candidate so that equivalent plans get identical signatures.
package rules

import (
	"slices"

	"github.com/roach88/dashopt/internal/ir"
)

// LogicalRule is a result-preserving rewrite of one node.
type LogicalRule interface {
	Name() string
	Match(p ir.Plan) bool
	Apply(p ir.Plan) ir.Plan
}

// DataStructureRule replaces a pattern rooted at a node with a cached
// auxiliary structure.
//
// MatchStatic reports whether the structure can be built once, before any
// interaction: its source must be choice-free. MatchDynamic reports whether
// it can be rebuilt per binding of choices other than ids and probed with
// the values bound to ids. Apply wraps the build in a StaticCache when
// static is true and in a DynamicCache otherwise.
type DataStructureRule interface {
	Name() string
	MatchStatic(p ir.Plan) bool
	MatchDynamic(p ir.Plan, ids []string) bool
	Apply(p ir.Plan, static bool) ir.Plan
}

// Logical returns the logical rules in exploration order.
func Logical() []LogicalRule {
	return []LogicalRule{SplitConjunctiveFilter{}, SwapAdjacentFilters{}, SwapFilterAggregate{}}
}

// DataStructures returns the data-structure rules in exploration order.
func DataStructures() []DataStructureRule {
	return []DataStructureRule{MaterializedView{}, HashIndex{}, SpatialIndex{}, PrefixSum{}, PrefixSum2D{}}
}

// Cleanups returns the normalization rules run by Cleanup.
func Cleanups() []LogicalRule {
	return []LogicalRule{MergeAdjacentAggregate{}, MergeAdjacentProjection{}, MergeAndSortFilters{}}
}

func isCloud(p ir.Plan) bool {
	_, ok := p.(*ir.CloudBoundary)
	return ok
}

func isDynamicCache(p ir.Plan) bool {
	_, ok := p.(*ir.DynamicCache)
	return ok
}

// sourceOK reports whether src can feed a structure probed with the values
// of ids.
//
// The source must read the backing store and must not depend on ids. A
// static source is choice-free and holds no cache. A dynamic source must
// depend on some other choice and may sit on a static cache but not on
// another dynamic one.
func sourceOK(src ir.Plan, ids []string, static bool) bool {
	if !ir.ContainsNode(src, isCloud) {
		return false
	}
	if static {
		return !ir.HasChoice(src) && !ir.ContainsNode(src, ir.IsCache)
	}
	if ir.ReferencesAny(src, ids) || ir.ContainsNode(src, isDynamicCache) {
		return false
	}
	return ir.ReferencesOther(src, ids)
}

// buildExprsOK reports whether expressions copied into a build are usable:
// choice-free for a static build, free of ids for a dynamic one.
func buildExprsOK(es []ir.Expr, ids []string, static bool) bool {
	for _, e := range es {
		for _, id := range ir.ExprChoiceIDs(e) {
			if static || slices.Contains(ids, id) {
				return false
			}
		}
	}
	return true
}

// ownChoiceIDs returns the choice ids held by the given nodes themselves.
func ownChoiceIDs(nodes ...ir.Plan) []string {
	var ids []string
	for _, n := range nodes {
		for _, e := range n.OwnExprs() {
			ids = append(ids, ir.ExprChoiceIDs(e)...)
		}
	}
	return ids
}

// drivenBy reports whether e holds a choice expression bound to one of ids.
func drivenBy(e ir.Expr, ids []string) bool {
	for _, id := range ir.ExprChoiceIDs(e) {
		if slices.Contains(ids, id) {
			return true
		}
	}
	return false
}

// refsColumn reports whether e reads a column. The domain of a scalar
// choice only describes where its values come from and does not count.
func refsColumn(e ir.Expr) bool {
	switch x := e.(type) {
	case *ir.ColumnRef:
		return true
	case *ir.ValChoice:
		return false
	default:
		for _, c := range ir.ExprChildren(x) {
			if refsColumn(c) {
				return true
			}
		}
		return false
	}
}

func namedExprs(ns []*ir.Named) []ir.Expr {
	out := make([]ir.Expr, len(ns))
	for i, n := range ns {
		out[i] = n.Expr
	}
	return out
}
