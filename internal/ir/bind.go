package ir

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// BindingKind tags what a Binding carries.
type BindingKind int

const (
	// BindIndex selects an alternative of an AnyChoice or ChoicePlan.
	BindIndex BindingKind = iota

	// BindValue substitutes a literal for a ValChoice.
	BindValue

	// BindItems instantiates a MultiChoice once per item.
	BindItems
)

func (k BindingKind) String() string {
	switch k {
	case BindIndex:
		return "index"
	case BindValue:
		return "value"
	case BindItems:
		return "items"
	default:
		return "unknown"
	}
}

// Binding is the value bound to one choice id.
type Binding struct {
	Kind  BindingKind
	Index int
	Value *Literal
	Items []Bindings
}

// Bindings maps choice ids to their bound values. Ids that are absent stay
// unresolved.
type Bindings map[string]Binding

// Index binds an alternative by position.
func Index(i int) Binding { return Binding{Kind: BindIndex, Index: i} }

// Value binds a scalar literal.
func Value(v *Literal) Binding { return Binding{Kind: BindValue, Value: v} }

// Items binds a list; each item is itself a set of bindings applied to the
// MultiChoice child.
func Items(items ...Bindings) Binding { return Binding{Kind: BindItems, Items: items} }

// Key renders b as a deterministic string, sorted by choice id.
func (b Bindings) Key() string {
	ids := make([]string, 0, len(b))
	for id := range b {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id + "=" + b[id].String()
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func (b Binding) String() string {
	switch b.Kind {
	case BindIndex:
		return strconv.Itoa(b.Index)
	case BindValue:
		if b.Value == nil {
			return "<nil>"
		}
		return b.Value.String()
	default:
		parts := make([]string, len(b.Items))
		for i, it := range b.Items {
			parts[i] = it.Key()
		}
		return "[" + strings.Join(parts, ",") + "]"
	}
}

// merged returns b with over layered on top.
func (b Bindings) merged(over Bindings) Bindings {
	out := make(Bindings, len(b)+len(over))
	for k, v := range b {
		out[k] = v
	}
	for k, v := range over {
		out[k] = v
	}
	return out
}

// BindErrorCode categorizes bind failures.
type BindErrorCode string

const (
	// ErrCodeKindMismatch indicates the binding kind does not fit the choice.
	ErrCodeKindMismatch BindErrorCode = "KIND_MISMATCH"

	// ErrCodeIndexRange indicates an index outside the alternatives.
	ErrCodeIndexRange BindErrorCode = "INDEX_OUT_OF_RANGE"

	// ErrCodeMissingValue indicates a value binding without a literal.
	ErrCodeMissingValue BindErrorCode = "MISSING_VALUE"
)

// BindError reports a binding that does not fit the choice it targets.
type BindError struct {
	Code     BindErrorCode
	ChoiceID string
	Message  string
}

// Error implements the error interface.
func (e *BindError) Error() string {
	return fmt.Sprintf("%s: %s (choice=%s)", e.Code, e.Message, e.ChoiceID)
}

// IsBindError reports whether err wraps a *BindError.
func IsBindError(err error) bool {
	var be *BindError
	return errors.As(err, &be)
}

// Bind resolves every choice of p whose id appears in b. Choice plans
// collapse to the selected alternative. The result shares no nodes with p.
func Bind(p Plan, b Bindings) (Plan, error) {
	if cp, ok := p.(*ChoicePlan); ok {
		if bd, ok := b[cp.ChoiceID]; ok {
			i, err := checkIndex(cp.ChoiceID, bd, len(cp.Choices))
			if err != nil {
				return nil, err
			}
			return Bind(cp.Choices[i], b)
		}
	}
	in := p.Inputs()
	bound := make([]Plan, len(in))
	for i, c := range in {
		bc, err := Bind(c, b)
		if err != nil {
			return nil, err
		}
		bound[i] = bc
	}
	return bindOwnExprs(p, bound, b)
}

func bindOwnExprs(p Plan, in []Plan, b Bindings) (Plan, error) {
	var err error
	e := func(x Expr) Expr {
		if err != nil {
			return x
		}
		var out Expr
		out, err = BindExpr(x, b)
		return out
	}
	es := func(xs []Expr) []Expr {
		if xs == nil {
			return nil
		}
		out := make([]Expr, len(xs))
		for i, x := range xs {
			out[i] = e(x)
		}
		return out
	}
	n := func(x *Named) *Named {
		return &Named{Name: x.Name, Expr: e(x.Expr)}
	}
	ns := func(xs []*Named) []*Named {
		if xs == nil {
			return nil
		}
		out := make([]*Named, len(xs))
		for i, x := range xs {
			out[i] = n(x)
		}
		return out
	}

	var out Plan
	switch x := p.(type) {
	case *TableScan:
		out = &TableScan{Name: x.Name}
	case *Projection:
		out = &Projection{Input: in[0], Projs: ns(x.Projs)}
	case *Filter:
		out = &Filter{Input: in[0], Cond: e(x.Cond)}
	case *Aggregate:
		out = &Aggregate{Input: in[0], GroupBys: ns(x.GroupBys), Aggs: ns(x.Aggs)}
	case *HashIndexBuild:
		out = &HashIndexBuild{Input: in[0], Keys: es(x.Keys)}
	case *HashIndexProbe:
		out = &HashIndexProbe{Input: in[0], Queries: es(x.Queries)}
	case *SpatialIndexBuild:
		out = &SpatialIndexBuild{Input: in[0], Keys: es(x.Keys)}
	case *SpatialIndexProbe:
		out = &SpatialIndexProbe{Input: in[0], Lowers: es(x.Lowers), Uppers: es(x.Uppers)}
	case *PrefixSumBuild:
		out = &PrefixSumBuild{Input: in[0], SumCol: n(x.SumCol), TargetCol: n(x.TargetCol), AggCol: n(x.AggCol)}
	case *PrefixSumProbe:
		out = &PrefixSumProbe{Input: in[0], Lower: e(x.Lower), Upper: e(x.Upper)}
	case *PrefixSum2DBuild:
		out = &PrefixSum2DBuild{Input: in[0], SumColX: n(x.SumColX), SumColY: n(x.SumColY),
			TargetCol: n(x.TargetCol), AggCol: n(x.AggCol)}
	case *PrefixSum2DProbe:
		out = &PrefixSum2DProbe{Input: in[0], LowerX: e(x.LowerX), UpperX: e(x.UpperX),
			LowerY: e(x.LowerY), UpperY: e(x.UpperY)}
	default:
		// Boundaries, caches and unresolved choice plans hold no expressions.
		out = p.WithInputs(in)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// BindExpr resolves every choice of e whose id appears in b.
func BindExpr(e Expr, b Bindings) (Expr, error) {
	switch x := e.(type) {
	case *Literal, *ColumnRef:
		return CloneExpr(x), nil
	case *Op:
		ops, err := bindExprs(x.Operands, b)
		if err != nil {
			return nil, err
		}
		return &Op{Op: x.Op, Operands: ops}, nil
	case *Func:
		args, err := bindExprs(x.Args, b)
		if err != nil {
			return nil, err
		}
		return &Func{Name: x.Name, Args: args}, nil
	case *List:
		els, err := bindExprs(x.Elements, b)
		if err != nil {
			return nil, err
		}
		return &List{Elements: els, Begin: x.Begin, End: x.End, Delim: x.Delim}, nil
	case *Named:
		inner, err := BindExpr(x.Expr, b)
		if err != nil {
			return nil, err
		}
		return &Named{Name: x.Name, Expr: inner}, nil
	case *AnyChoice:
		bd, ok := b[x.ID]
		if !ok {
			cs, err := bindExprs(x.Choices, b)
			if err != nil {
				return nil, err
			}
			return &AnyChoice{ID: x.ID, Choices: cs}, nil
		}
		i, err := checkIndex(x.ID, bd, len(x.Choices))
		if err != nil {
			return nil, err
		}
		return BindExpr(x.Choices[i], b)
	case *ValChoice:
		bd, ok := b[x.ID]
		if !ok {
			return CloneExpr(x), nil
		}
		if bd.Kind != BindValue {
			return nil, &BindError{Code: ErrCodeKindMismatch, ChoiceID: x.ID,
				Message: fmt.Sprintf("value choice bound with %s", bd.Kind)}
		}
		if bd.Value == nil {
			return nil, &BindError{Code: ErrCodeMissingValue, ChoiceID: x.ID,
				Message: "value binding without a literal"}
		}
		return CloneExpr(bd.Value), nil
	case *MultiChoice:
		bd, ok := b[x.ID]
		if !ok {
			return CloneExpr(x), nil
		}
		if bd.Kind != BindItems {
			return nil, &BindError{Code: ErrCodeKindMismatch, ChoiceID: x.ID,
				Message: fmt.Sprintf("multi choice bound with %s", bd.Kind)}
		}
		els := make([]Expr, len(bd.Items))
		for i, item := range bd.Items {
			el, err := BindExpr(x.Child, b.merged(item))
			if err != nil {
				return nil, err
			}
			els[i] = el
		}
		return &List{Elements: els, Begin: x.Begin, End: x.End, Delim: x.Delim}, nil
	default:
		panic("ir: unknown expression type")
	}
}

func bindExprs(es []Expr, b Bindings) ([]Expr, error) {
	if es == nil {
		return nil, nil
	}
	out := make([]Expr, len(es))
	for i, e := range es {
		be, err := BindExpr(e, b)
		if err != nil {
			return nil, err
		}
		out[i] = be
	}
	return out, nil
}

func checkIndex(id string, b Binding, n int) (int, error) {
	if b.Kind != BindIndex {
		return 0, &BindError{Code: ErrCodeKindMismatch, ChoiceID: id,
			Message: fmt.Sprintf("discrete choice bound with %s", b.Kind)}
	}
	if b.Index < 0 || b.Index >= n {
		return 0, &BindError{Code: ErrCodeIndexRange, ChoiceID: id,
			Message: fmt.Sprintf("index %d outside %d alternatives", b.Index, n)}
	}
	return b.Index, nil
}
