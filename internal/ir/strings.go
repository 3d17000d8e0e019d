package ir

import (
	"strings"

	"github.com/cespare/xxhash/v2"
)

// SQL returns the SQL projection of p, used to query statistics about the
// rows p produces. Index, probe and choice nodes have no projection.
func SQL(p Plan) (string, bool) {
	m := &p.base().m
	if m.hasSQL {
		return m.sql, m.sqlOK
	}
	s, ok := toSQL(p)
	m.sql, m.sqlOK, m.hasSQL = s, ok, true
	return s, ok
}

func toSQL(p Plan) (string, bool) {
	switch x := p.(type) {
	case *TableScan:
		return "SELECT * FROM " + quoteIdent(x.Name), true
	case *Filter:
		in, ok := SQL(x.Input)
		if !ok {
			return "", false
		}
		return "SELECT * FROM (" + in + ") WHERE " + x.Cond.String(), true
	case *Projection:
		in, ok := SQL(x.Input)
		if !ok {
			return "", false
		}
		return "SELECT " + joinNamed(x.Projs, ", ") + " FROM (" + in + ")", true
	case *Aggregate:
		in, ok := SQL(x.Input)
		if !ok {
			return "", false
		}
		cols := append(namedStrings(x.GroupBys), namedStrings(x.Aggs)...)
		s := "SELECT " + strings.Join(cols, ", ") + " FROM (" + in + ")"
		if len(x.GroupBys) > 0 {
			keys := make([]string, len(x.GroupBys))
			for i, g := range x.GroupBys {
				keys[i] = g.Expr.String()
			}
			s += " GROUP BY " + strings.Join(keys, ", ")
		}
		return s, true
	case *CloudBoundary, *NetworkBoundary, *StaticCache, *DynamicCache:
		return SQL(Input(p))
	default:
		return "", false
	}
}

// FunctionalString returns a string describing what p computes. Boundaries
// and caches are transparent, so two subtrees that differ only in where
// they run or what they cache render identically.
func FunctionalString(p Plan) string {
	m := &p.base().m
	if m.hasFuncStr {
		return m.funcStr
	}
	m.funcStr, m.hasFuncStr = toFunctional(p), true
	return m.funcStr
}

func toFunctional(p Plan) string {
	switch x := p.(type) {
	case *TableScan:
		return "Table(" + x.Name + ")"
	case *Filter:
		return "Filter(" + x.Cond.String() + ")" + FunctionalString(x.Input)
	case *Projection:
		return "Projection(" + joinNamed(x.Projs, ",") + ")" + FunctionalString(x.Input)
	case *Aggregate:
		return "Aggregate(groupby=(" + joinNamed(x.GroupBys, ",") + ")agg=(" +
			joinNamed(x.Aggs, ",") + "))" + FunctionalString(x.Input)
	case *CloudBoundary, *NetworkBoundary, *StaticCache, *DynamicCache:
		return FunctionalString(Input(p))
	case *HashIndexBuild:
		return "HashTableBuild(" + joinExprs(x.Keys, ",") + ")" + FunctionalString(x.Input)
	case *HashIndexProbe:
		return "HashTableQuery(" + joinExprs(x.Queries, ",") + ")" + FunctionalString(x.Input)
	case *SpatialIndexBuild:
		return "RTreeBuild(" + joinExprs(x.Keys, ",") + ")" + FunctionalString(x.Input)
	case *SpatialIndexProbe:
		return "RTreeQuery(" + joinExprs(x.Lowers, ",") + ", " + joinExprs(x.Uppers, ",") + ")" +
			FunctionalString(x.Input)
	case *PrefixSumBuild:
		return "PrefixSumBuild(" + x.SumCol.String() + ", " + x.TargetCol.String() + ", " +
			x.AggCol.String() + ")" + FunctionalString(x.Input)
	case *PrefixSumProbe:
		return "PrefixSumQuery(" + x.Lower.String() + ", " + x.Upper.String() + ")" + FunctionalString(x.Input)
	case *PrefixSum2DBuild:
		return "PrefixSum2DBuild(" + x.SumColX.String() + ", " + x.SumColY.String() + ", " +
			x.TargetCol.String() + ", " + x.AggCol.String() + ")" + FunctionalString(x.Input)
	case *PrefixSum2DProbe:
		return "PrefixSum2DQuery(" + x.LowerX.String() + ", " + x.UpperX.String() + ", " +
			x.LowerY.String() + ", " + x.UpperY.String() + ")" + FunctionalString(x.Input)
	case *ChoicePlan:
		parts := make([]string, len(x.Choices))
		for i, c := range x.Choices {
			parts[i] = FunctionalString(c)
		}
		return "AnyPlan(" + x.ChoiceID + ")[" + strings.Join(parts, ",") + "]"
	default:
		panic("ir: unknown plan type")
	}
}

// StructuralString renders every node of p, boundaries and caches included.
// Two plans are structurally equal iff their structural strings are.
func StructuralString(p Plan) string {
	m := &p.base().m
	if m.hasStructural {
		return m.structural
	}
	var b strings.Builder
	b.WriteString(Label(p))
	if in := p.Inputs(); len(in) > 0 {
		b.WriteByte('{')
		for i, c := range in {
			if i > 0 {
				b.WriteByte('|')
			}
			b.WriteString(StructuralString(c))
		}
		b.WriteByte('}')
	}
	m.structural, m.hasStructural = b.String(), true
	return m.structural
}

// StructuralHash is a 64-bit digest of StructuralString, used to
// de-duplicate plans during exploration.
func StructuralHash(p Plan) uint64 {
	m := &p.base().m
	if !m.hasHash {
		m.hash, m.hasHash = xxhash.Sum64String(StructuralString(p)), true
	}
	return m.hash
}

// Equal reports whether a and b are structurally equal.
func Equal(a, b Plan) bool {
	return StructuralString(a) == StructuralString(b)
}

// Label renders the node itself without its inputs.
func Label(p Plan) string {
	switch x := p.(type) {
	case *TableScan:
		return "TableScan(" + x.Name + ")"
	case *Projection:
		return "Projection(" + joinNamed(x.Projs, ", ") + ")"
	case *Filter:
		return "Filter(" + x.Cond.String() + ")"
	case *Aggregate:
		return "Aggregate(groupby=(" + joinNamed(x.GroupBys, ", ") + "), agg=(" + joinNamed(x.Aggs, ", ") + "))"
	case *HashIndexBuild:
		return "HashIndexBuild(" + joinExprs(x.Keys, ", ") + ")"
	case *HashIndexProbe:
		return "HashIndexProbe(" + joinExprs(x.Queries, ", ") + ")"
	case *SpatialIndexBuild:
		return "SpatialIndexBuild(" + joinExprs(x.Keys, ", ") + ")"
	case *SpatialIndexProbe:
		return "SpatialIndexProbe(lower=[" + joinExprs(x.Lowers, ", ") + "], upper=[" + joinExprs(x.Uppers, ", ") + "])"
	case *PrefixSumBuild:
		return "PrefixSumBuild(" + x.SumCol.String() + ", " + x.TargetCol.String() + ", " + x.AggCol.String() + ")"
	case *PrefixSumProbe:
		return "PrefixSumProbe(" + x.Lower.String() + ", " + x.Upper.String() + ")"
	case *PrefixSum2DBuild:
		return "PrefixSum2DBuild(" + x.SumColX.String() + ", " + x.SumColY.String() + ", " +
			x.TargetCol.String() + ", " + x.AggCol.String() + ")"
	case *PrefixSum2DProbe:
		return "PrefixSum2DProbe(" + x.LowerX.String() + ", " + x.UpperX.String() + ", " +
			x.LowerY.String() + ", " + x.UpperY.String() + ")"
	case *ChoicePlan:
		return "ChoicePlan(" + x.ChoiceID + ")"
	default:
		return KindName(p)
	}
}

// Format renders p as an indented tree, root first.
func Format(p Plan) string {
	return FormatWith(p, nil)
}

// FormatWith renders p as an indented tree. When annotate is non-nil its
// result is appended to each node's line in brackets.
func FormatWith(p Plan, annotate func(Plan) string) string {
	var b strings.Builder
	formatNode(&b, p, 0, annotate)
	return b.String()
}

func formatNode(b *strings.Builder, p Plan, depth int, annotate func(Plan) string) {
	b.WriteString(strings.Repeat("  ", depth))
	b.WriteString(Label(p))
	if annotate != nil {
		if note := annotate(p); note != "" {
			b.WriteString(" [" + note + "]")
		}
	}
	b.WriteByte('\n')
	for _, c := range p.Inputs() {
		formatNode(b, c, depth+1, annotate)
	}
}

func namedStrings(ns []*Named) []string {
	out := make([]string, len(ns))
	for i, n := range ns {
		out[i] = n.String()
	}
	return out
}

func joinNamed(ns []*Named, sep string) string {
	return strings.Join(namedStrings(ns), sep)
}
