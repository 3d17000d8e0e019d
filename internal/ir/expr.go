package ir

import (
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Expr is an immutable scalar expression.
//
// The set of implementations is closed: *Op, *Literal, *ColumnRef, *Func,
// *List, *Named, *AnyChoice, *ValChoice and *MultiChoice. String returns the
// canonical form, which defines equality.
type Expr interface {
	String() string
	exprNode()
}

// Op applies an operator to its operands.
//
// "between" takes exactly three operands (value, lower, upper). "and" and
// "or" may be n-ary. A single operand renders as a unary operator.
type Op struct {
	Op       string
	Operands []Expr
}

// LiteralKind is the type tag of a Literal.
type LiteralKind int

const (
	IntLiteral LiteralKind = iota
	FloatLiteral
	BoolLiteral
	StringLiteral
)

func (k LiteralKind) String() string {
	switch k {
	case IntLiteral:
		return "Int"
	case FloatLiteral:
		return "Float"
	case BoolLiteral:
		return "Bool"
	case StringLiteral:
		return "String"
	default:
		return "Unknown"
	}
}

// Literal is a typed constant. Only the field matching Kind is meaningful.
type Literal struct {
	Kind  LiteralKind
	Int   int64
	Float float64
	Bool  bool
	Str   string
}

// ColumnRef references a column. Table may be empty for derived columns.
type ColumnRef struct {
	Table  string
	Column string
}

// Func is a function call such as sum(x) or count(*).
type Func struct {
	Name string
	Args []Expr
}

// List is a bracketed list, e.g. "(a, b)" with Begin "(", End ")", Delim ", ".
type List struct {
	Elements []Expr
	Begin    string
	End      string
	Delim    string
}

// Named aliases an expression in a projection, group-by or aggregate list.
type Named struct {
	Name string
	Expr Expr
}

// AnyChoice is a discrete pick among alternatives, resolved by an index.
type AnyChoice struct {
	ID      string
	Choices []Expr
}

// ValChoice is a single scalar bound at interaction time. Domain describes
// where the value comes from (usually a column).
type ValChoice struct {
	ID     string
	Domain Expr
}

// MultiChoice is a bound list: Child is instantiated once per bound item and
// the results are bracketed by Begin/End and separated by Delim.
type MultiChoice struct {
	ID    string
	Child Expr
	Begin string
	End   string
	Delim string
}

func (*Op) exprNode()          {}
func (*Literal) exprNode()     {}
func (*ColumnRef) exprNode()   {}
func (*Func) exprNode()        {}
func (*List) exprNode()        {}
func (*Named) exprNode()       {}
func (*AnyChoice) exprNode()   {}
func (*ValChoice) exprNode()   {}
func (*MultiChoice) exprNode() {}

// NewOp builds an operator expression.
func NewOp(op string, operands ...Expr) *Op {
	return &Op{Op: op, Operands: operands}
}

// And builds a conjunction. A single operand is returned unchanged.
func And(operands ...Expr) Expr {
	if len(operands) == 1 {
		return operands[0]
	}
	return &Op{Op: "and", Operands: operands}
}

// Eq builds an equality.
func Eq(lhs, rhs Expr) *Op { return &Op{Op: "=", Operands: []Expr{lhs, rhs}} }

// Between builds "x between lower and upper".
func Between(x, lower, upper Expr) *Op {
	return &Op{Op: "between", Operands: []Expr{x, lower, upper}}
}

// Int returns an integer literal.
func Int(v int64) *Literal { return &Literal{Kind: IntLiteral, Int: v} }

// Float returns a float literal.
func Float(v float64) *Literal { return &Literal{Kind: FloatLiteral, Float: v} }

// Bool returns a boolean literal.
func Bool(v bool) *Literal { return &Literal{Kind: BoolLiteral, Bool: v} }

// Str returns a string literal. The payload is NFC-normalized.
func Str(v string) *Literal { return &Literal{Kind: StringLiteral, Str: norm.NFC.String(v)} }

// Col returns a column reference without a table qualifier.
func Col(column string) *ColumnRef { return &ColumnRef{Column: column} }

// Call builds a function call.
func Call(name string, args ...Expr) *Func { return &Func{Name: name, Args: args} }

// As aliases an expression.
func As(name string, e Expr) *Named { return &Named{Name: name, Expr: e} }

// Star is the "*" argument of count(*).
var Star = &ColumnRef{Column: "*"}

func (e *Op) String() string {
	switch {
	case e.Op == "between" && len(e.Operands) == 3:
		return "(" + e.Operands[0].String() + " between " + e.Operands[1].String() +
			" and " + e.Operands[2].String() + ")"
	case len(e.Operands) == 1:
		return "(" + e.Op + " " + e.Operands[0].String() + ")"
	default:
		parts := make([]string, len(e.Operands))
		for i, o := range e.Operands {
			parts[i] = o.String()
		}
		return "(" + strings.Join(parts, " "+e.Op+" ") + ")"
	}
}

func (e *Literal) String() string {
	switch e.Kind {
	case IntLiteral:
		return strconv.FormatInt(e.Int, 10)
	case FloatLiteral:
		return strconv.FormatFloat(e.Float, 'g', -1, 64)
	case BoolLiteral:
		return strconv.FormatBool(e.Bool)
	default:
		return "'" + strings.ReplaceAll(norm.NFC.String(e.Str), "'", "''") + "'"
	}
}

// Value returns the literal payload as a Go value.
func (e *Literal) Value() any {
	switch e.Kind {
	case IntLiteral:
		return e.Int
	case FloatLiteral:
		return e.Float
	case BoolLiteral:
		return e.Bool
	default:
		return e.Str
	}
}

func (e *ColumnRef) String() string { return quoteIdent(e.Column) }

func (e *Func) String() string {
	if e.Name == "int" && len(e.Args) == 1 {
		return "CAST(" + e.Args[0].String() + " AS INTEGER)"
	}
	return e.Name + "(" + joinExprs(e.Args, ", ") + ")"
}

func (e *List) String() string {
	return e.Begin + joinExprs(e.Elements, e.Delim) + e.End
}

func (e *Named) String() string {
	return e.Expr.String() + " AS " + quoteIdent(e.Name)
}

func (e *AnyChoice) String() string {
	return "ANY(" + e.ID + ")[" + joinExprs(e.Choices, ", ") + "]"
}

func (e *ValChoice) String() string {
	return "VAL(" + e.ID + ")[" + e.Domain.String() + "]"
}

func (e *MultiChoice) String() string {
	return "MULTI(" + e.ID + ")[" + e.Child.String() + ", " + e.Begin + " " + e.Delim + " " + e.End + "]"
}

func joinExprs(es []Expr, sep string) string {
	parts := make([]string, len(es))
	for i, e := range es {
		parts[i] = e.String()
	}
	return strings.Join(parts, sep)
}

// quoteIdent renders a column or alias name, double-quoting anything that is
// not a plain SQL identifier.
func quoteIdent(name string) string {
	name = norm.NFC.String(name)
	if name == "*" || isPlainIdent(name) {
		return name
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func isPlainIdent(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// ExprChildren returns the direct sub-expressions of e.
func ExprChildren(e Expr) []Expr {
	switch x := e.(type) {
	case *Op:
		return x.Operands
	case *Func:
		return x.Args
	case *List:
		return x.Elements
	case *Named:
		return []Expr{x.Expr}
	case *AnyChoice:
		return x.Choices
	case *ValChoice:
		return []Expr{x.Domain}
	case *MultiChoice:
		return []Expr{x.Child}
	default:
		return nil
	}
}

// FindInExpr returns every sub-expression of e (descendants first, then e
// itself) satisfying pred.
func FindInExpr(e Expr, pred func(Expr) bool) []Expr {
	var found []Expr
	for _, c := range ExprChildren(e) {
		found = append(found, FindInExpr(c, pred)...)
	}
	if pred(e) {
		found = append(found, e)
	}
	return found
}

// ContainsExpr reports whether any sub-expression of e satisfies pred.
func ContainsExpr(e Expr, pred func(Expr) bool) bool {
	if pred(e) {
		return true
	}
	for _, c := range ExprChildren(e) {
		if ContainsExpr(c, pred) {
			return true
		}
	}
	return false
}

// IsChoiceExpr reports whether e is an AnyChoice, ValChoice or MultiChoice.
func IsChoiceExpr(e Expr) bool {
	switch e.(type) {
	case *AnyChoice, *ValChoice, *MultiChoice:
		return true
	}
	return false
}

// IsColumnRef reports whether e is a column reference.
func IsColumnRef(e Expr) bool {
	_, ok := e.(*ColumnRef)
	return ok
}

// ExprChoiceID returns the choice id of a choice expression.
func ExprChoiceID(e Expr) (string, bool) {
	switch x := e.(type) {
	case *AnyChoice:
		return x.ID, true
	case *ValChoice:
		return x.ID, true
	case *MultiChoice:
		return x.ID, true
	}
	return "", false
}

// ExprChoiceIDs collects the ids of every choice expression inside e.
func ExprChoiceIDs(e Expr) []string {
	var ids []string
	for _, c := range FindInExpr(e, IsChoiceExpr) {
		id, _ := ExprChoiceID(c)
		ids = append(ids, id)
	}
	return ids
}

// CloneExpr deep-copies an expression.
func CloneExpr(e Expr) Expr {
	switch x := e.(type) {
	case *Op:
		return &Op{Op: x.Op, Operands: cloneExprs(x.Operands)}
	case *Literal:
		c := *x
		return &c
	case *ColumnRef:
		c := *x
		return &c
	case *Func:
		return &Func{Name: x.Name, Args: cloneExprs(x.Args)}
	case *List:
		return &List{Elements: cloneExprs(x.Elements), Begin: x.Begin, End: x.End, Delim: x.Delim}
	case *Named:
		return CloneNamed(x)
	case *AnyChoice:
		return &AnyChoice{ID: x.ID, Choices: cloneExprs(x.Choices)}
	case *ValChoice:
		return &ValChoice{ID: x.ID, Domain: CloneExpr(x.Domain)}
	case *MultiChoice:
		return &MultiChoice{ID: x.ID, Child: CloneExpr(x.Child), Begin: x.Begin, End: x.End, Delim: x.Delim}
	default:
		panic("ir: unknown expression type")
	}
}

// CloneNamed deep-copies a named expression.
func CloneNamed(n *Named) *Named {
	return &Named{Name: n.Name, Expr: CloneExpr(n.Expr)}
}

func cloneExprs(es []Expr) []Expr {
	if es == nil {
		return nil
	}
	out := make([]Expr, len(es))
	for i, e := range es {
		out[i] = CloneExpr(e)
	}
	return out
}

func cloneNamedList(ns []*Named) []*Named {
	if ns == nil {
		return nil
	}
	out := make([]*Named, len(ns))
	for i, n := range ns {
		out[i] = CloneNamed(n)
	}
	return out
}

// Conjuncts flattens nested "and" operators into their leaf conditions.
func Conjuncts(cond Expr) []Expr {
	op, ok := cond.(*Op)
	if !ok || op.Op != "and" || len(op.Operands) < 2 {
		return []Expr{cond}
	}
	var out []Expr
	for _, o := range op.Operands {
		out = append(out, Conjuncts(o)...)
	}
	return out
}

// IsOp reports whether e is an operator with the given name and arity.
// A negative arity matches any operand count.
func IsOp(e Expr, name string, arity int) (*Op, bool) {
	op, ok := e.(*Op)
	if !ok || op.Op != name {
		return nil, false
	}
	if arity >= 0 && len(op.Operands) != arity {
		return nil, false
	}
	return op, true
}

// ExprsEqual compares two expressions by canonical form.
func ExprsEqual(a, b Expr) bool { return a.String() == b.String() }
