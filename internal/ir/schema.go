package ir

import "fmt"

// SchemaLookup resolves the ordered columns of a base table.
type SchemaLookup func(table string) ([]*ColumnRef, error)

// Schema returns the output columns of p. Base-table columns are resolved
// through lookup; derived columns have an empty Table.
func Schema(p Plan, lookup SchemaLookup) ([]*ColumnRef, error) {
	m := &p.base().m
	if m.hasSchema {
		return m.schema, nil
	}
	s, err := toSchema(p, lookup)
	if err != nil {
		return nil, err
	}
	m.schema, m.hasSchema = s, true
	return s, nil
}

func toSchema(p Plan, lookup SchemaLookup) ([]*ColumnRef, error) {
	switch x := p.(type) {
	case *TableScan:
		cols, err := lookup(x.Name)
		if err != nil {
			return nil, fmt.Errorf("schema of table %q: %w", x.Name, err)
		}
		return cols, nil
	case *Projection:
		return namedColumns(x.Projs), nil
	case *Aggregate:
		out := namedColumns(x.GroupBys)
		for _, a := range x.Aggs {
			out = append(out, &ColumnRef{Column: a.Name})
		}
		return out, nil
	case *PrefixSumBuild:
		return []*ColumnRef{
			{Column: x.SumCol.Name}, {Column: x.TargetCol.Name}, {Column: x.AggCol.Name},
		}, nil
	case *PrefixSum2DBuild:
		return []*ColumnRef{
			{Column: x.SumColX.Name}, {Column: x.SumColY.Name},
			{Column: x.TargetCol.Name}, {Column: x.AggCol.Name},
		}, nil
	case *PrefixSumProbe, *PrefixSum2DProbe:
		target, agg, ok := prefixSumColumns(x)
		if !ok {
			return nil, fmt.Errorf("%s without a prefix-sum build below it", KindName(p))
		}
		return []*ColumnRef{{Column: target}, {Column: agg}}, nil
	case *ChoicePlan:
		if len(x.Choices) == 0 {
			return nil, fmt.Errorf("choice plan %s has no alternatives", x.ChoiceID)
		}
		return Schema(x.Choices[0], lookup)
	default:
		return Schema(Input(p), lookup)
	}
}

// namedColumns keeps a plain column reference as-is and names everything
// else after its alias.
func namedColumns(ns []*Named) []*ColumnRef {
	out := make([]*ColumnRef, 0, len(ns))
	for _, n := range ns {
		if c, ok := n.Expr.(*ColumnRef); ok {
			out = append(out, c)
			continue
		}
		out = append(out, &ColumnRef{Column: n.Name})
	}
	return out
}

// prefixSumColumns finds the target and aggregate names of the build below a
// prefix-sum probe.
func prefixSumColumns(p Plan) (target, agg string, ok bool) {
	for n := Input(p); n != nil; n = Input(n) {
		switch b := n.(type) {
		case *PrefixSumBuild:
			return b.TargetCol.Name, b.AggCol.Name, true
		case *PrefixSum2DBuild:
			return b.TargetCol.Name, b.AggCol.Name, true
		}
	}
	return "", "", false
}

// FindBelow returns the first node on the input chain strictly below p that
// satisfies pred.
func FindBelow(p Plan, pred func(Plan) bool) (Plan, bool) {
	for n := Input(p); n != nil; n = Input(n) {
		if pred(n) {
			return n, true
		}
	}
	return nil, false
}
