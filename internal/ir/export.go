package ir

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// ImportError reports malformed export JSON. Path locates the offending
// value, e.g. "$.input.cond.operands[1]".
type ImportError struct {
	Path    string
	Message string
}

// Error implements the error interface.
func (e *ImportError) Error() string {
	return fmt.Sprintf("import %s: %s", e.Path, e.Message)
}

// Export encodes p as the tagged-union tree consumed by the client runtime.
// Nodes without an id receive the next id from seq.
func Export(p Plan, seq *Sequence) map[string]any {
	b := p.base()
	if b.ID == 0 {
		b.ID = seq.Next()
	}
	out := map[string]any{"id": b.ID}
	put := func(typ string, kv ...any) map[string]any {
		out["type"] = typ
		for i := 0; i+1 < len(kv); i += 2 {
			out[kv[i].(string)] = kv[i+1]
		}
		return out
	}
	in := func() any { return Export(Input(p), seq) }

	switch x := p.(type) {
	case *TableScan:
		return put("TableSource", "name", x.Name)
	case *Projection:
		return put("Projection", "input", in(), "projs", exportNamedList(x.Projs))
	case *Filter:
		return put("Filter", "input", in(), "cond", ExportExpr(x.Cond))
	case *Aggregate:
		return put("Aggregate", "input", in(), "groupbys", exportNamedList(x.GroupBys),
			"aggs", exportNamedList(x.Aggs))
	case *NetworkBoundary:
		return put("Network", "input", in())
	case *CloudBoundary:
		return put("Cloud", "input", in())
	case *StaticCache:
		return put("SCache", "input", in())
	case *DynamicCache:
		return put("DCache", "input", in())
	case *HashIndexBuild:
		return put("HashTableBuild", "input", in(), "keys", exportExprList(x.Keys))
	case *HashIndexProbe:
		return put("HashTableQuery", "input", in(), "queries", exportExprList(x.Queries))
	case *SpatialIndexBuild:
		return put("RTreeBuild", "input", in(), "keys", exportExprList(x.Keys))
	case *SpatialIndexProbe:
		return put("RTreeQuery", "input", in(), "lowers", exportExprList(x.Lowers),
			"uppers", exportExprList(x.Uppers))
	case *PrefixSumBuild:
		return put("PrefixSumBuild", "input", in(), "sum_col", ExportExpr(x.SumCol),
			"target_col", ExportExpr(x.TargetCol), "agg_col", ExportExpr(x.AggCol))
	case *PrefixSumProbe:
		return put("PrefixSumQuery", "input", in(), "lower", ExportExpr(x.Lower), "upper", ExportExpr(x.Upper))
	case *PrefixSum2DBuild:
		return put("PrefixSum2DBuild", "input", in(), "sum_col_x", ExportExpr(x.SumColX),
			"sum_col_y", ExportExpr(x.SumColY), "target_col", ExportExpr(x.TargetCol),
			"agg_col", ExportExpr(x.AggCol))
	case *PrefixSum2DProbe:
		return put("PrefixSum2DQuery", "input", in(), "lower_x", ExportExpr(x.LowerX),
			"upper_x", ExportExpr(x.UpperX), "lower_y", ExportExpr(x.LowerY), "upper_y", ExportExpr(x.UpperY))
	case *ChoicePlan:
		choices := make([]any, len(x.Choices))
		for i, c := range x.Choices {
			choices[i] = Export(c, seq)
		}
		return put("AnyPlan", "choice_id", x.ChoiceID, "choices", choices)
	default:
		panic("ir: unknown plan type")
	}
}

// ExportExpr encodes an expression. Named expressions carry no type tag.
func ExportExpr(e Expr) map[string]any {
	switch x := e.(type) {
	case *Op:
		return map[string]any{"type": "Op", "op": x.Op, "operands": exportExprList(x.Operands)}
	case *Literal:
		switch x.Kind {
		case IntLiteral:
			return map[string]any{"type": "IntConst", "value": x.Int}
		case FloatLiteral:
			return map[string]any{"type": "FloatConst", "value": x.Float}
		case BoolLiteral:
			return map[string]any{"type": "BoolConst", "value": x.Bool}
		default:
			return map[string]any{"type": "StringConst", "value": x.Str}
		}
	case *ColumnRef:
		return map[string]any{"type": "ColumnRef", "table": x.Table, "column": x.Column}
	case *Func:
		return map[string]any{"type": "Func", "fname": x.Name, "args": exportExprList(x.Args)}
	case *List:
		return map[string]any{"type": "List", "elements": exportExprList(x.Elements),
			"begin": x.Begin, "end": x.End, "delim": x.Delim}
	case *Named:
		return map[string]any{"name": x.Name, "expr": ExportExpr(x.Expr)}
	case *AnyChoice:
		return map[string]any{"type": "AnyExpr", "id": x.ID, "choices": exportExprList(x.Choices)}
	case *ValChoice:
		return map[string]any{"type": "ValExpr", "id": x.ID, "domain": ExportExpr(x.Domain)}
	case *MultiChoice:
		return map[string]any{"type": "MultiExpr", "id": x.ID, "child": ExportExpr(x.Child),
			"begin": x.Begin, "end": x.End, "delim": x.Delim}
	default:
		panic("ir: unknown expression type")
	}
}

func exportExprList(es []Expr) []any {
	out := make([]any, len(es))
	for i, e := range es {
		out[i] = ExportExpr(e)
	}
	return out
}

func exportNamedList(ns []*Named) []any {
	out := make([]any, len(ns))
	for i, n := range ns {
		out[i] = ExportExpr(n)
	}
	return out
}

// MarshalPlan exports p as canonical JSON.
func MarshalPlan(p Plan, seq *Sequence) ([]byte, error) {
	return MarshalCanonical(Export(p, seq))
}

// UnmarshalPlan decodes a plan exported by MarshalPlan.
func UnmarshalPlan(data []byte) (Plan, error) {
	v, err := decodeJSON(data)
	if err != nil {
		return nil, err
	}
	return ImportPlan(v)
}

func decodeJSON(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, &ImportError{Path: "$", Message: err.Error()}
	}
	return v, nil
}

// ImportPlan decodes a generic JSON tree (as produced by encoding/json with
// UseNumber, or by Export) into a plan. Node ids are preserved.
func ImportPlan(v any) (Plan, error) {
	return importPlan(v, "$")
}

func importPlan(v any, path string) (Plan, error) {
	obj, err := asObject(v, path)
	if err != nil {
		return nil, err
	}
	typ, err := getString(obj, "type", path)
	if err != nil {
		return nil, err
	}

	var in Plan
	input := func() error {
		var err error
		in, err = importPlan(obj["input"], path+".input")
		return err
	}
	ex := func(key string) (Expr, error) { return importExpr(obj[key], path+"."+key) }
	exs := func(key string) ([]Expr, error) { return importExprList(obj, key, path) }
	named := func(key string) (*Named, error) { return importNamed(obj[key], path+"."+key) }
	nameds := func(key string) ([]*Named, error) { return importNamedList(obj, key, path) }

	var p Plan
	switch typ {
	case "TableSource":
		name, err := getString(obj, "name", path)
		if err != nil {
			return nil, err
		}
		p = &TableScan{Name: name}
	case "Projection":
		if err := input(); err != nil {
			return nil, err
		}
		projs, err := nameds("projs")
		if err != nil {
			return nil, err
		}
		p = &Projection{Input: in, Projs: projs}
	case "Filter":
		if err := input(); err != nil {
			return nil, err
		}
		cond, err := ex("cond")
		if err != nil {
			return nil, err
		}
		p = &Filter{Input: in, Cond: cond}
	case "Aggregate":
		if err := input(); err != nil {
			return nil, err
		}
		groups, err := nameds("groupbys")
		if err != nil {
			return nil, err
		}
		aggs, err := nameds("aggs")
		if err != nil {
			return nil, err
		}
		p = &Aggregate{Input: in, GroupBys: groups, Aggs: aggs}
	case "Network", "Cloud", "SCache", "DCache":
		if err := input(); err != nil {
			return nil, err
		}
		switch typ {
		case "Network":
			p = &NetworkBoundary{Input: in}
		case "Cloud":
			p = &CloudBoundary{Input: in}
		case "SCache":
			p = &StaticCache{Input: in}
		default:
			p = &DynamicCache{Input: in}
		}
	case "HashTableBuild", "HashTableQuery", "RTreeBuild":
		if err := input(); err != nil {
			return nil, err
		}
		key := "keys"
		if typ == "HashTableQuery" {
			key = "queries"
		}
		list, err := exs(key)
		if err != nil {
			return nil, err
		}
		switch typ {
		case "HashTableBuild":
			p = &HashIndexBuild{Input: in, Keys: list}
		case "HashTableQuery":
			p = &HashIndexProbe{Input: in, Queries: list}
		default:
			p = &SpatialIndexBuild{Input: in, Keys: list}
		}
	case "RTreeQuery":
		if err := input(); err != nil {
			return nil, err
		}
		lowers, err := exs("lowers")
		if err != nil {
			return nil, err
		}
		uppers, err := exs("uppers")
		if err != nil {
			return nil, err
		}
		p = &SpatialIndexProbe{Input: in, Lowers: lowers, Uppers: uppers}
	case "PrefixSumBuild":
		if err := input(); err != nil {
			return nil, err
		}
		cols, err := collectNamed(named, "sum_col", "target_col", "agg_col")
		if err != nil {
			return nil, err
		}
		p = &PrefixSumBuild{Input: in, SumCol: cols[0], TargetCol: cols[1], AggCol: cols[2]}
	case "PrefixSum2DBuild":
		if err := input(); err != nil {
			return nil, err
		}
		cols, err := collectNamed(named, "sum_col_x", "sum_col_y", "target_col", "agg_col")
		if err != nil {
			return nil, err
		}
		p = &PrefixSum2DBuild{Input: in, SumColX: cols[0], SumColY: cols[1], TargetCol: cols[2], AggCol: cols[3]}
	case "PrefixSumQuery":
		if err := input(); err != nil {
			return nil, err
		}
		bounds, err := collectExprs(ex, "lower", "upper")
		if err != nil {
			return nil, err
		}
		p = &PrefixSumProbe{Input: in, Lower: bounds[0], Upper: bounds[1]}
	case "PrefixSum2DQuery":
		if err := input(); err != nil {
			return nil, err
		}
		bounds, err := collectExprs(ex, "lower_x", "upper_x", "lower_y", "upper_y")
		if err != nil {
			return nil, err
		}
		p = &PrefixSum2DProbe{Input: in, LowerX: bounds[0], UpperX: bounds[1], LowerY: bounds[2], UpperY: bounds[3]}
	case "AnyPlan":
		id, err := getString(obj, "choice_id", path)
		if err != nil {
			return nil, err
		}
		raw, err := getArray(obj, "choices", path)
		if err != nil {
			return nil, err
		}
		choices := make([]Plan, len(raw))
		for i, c := range raw {
			choices[i], err = importPlan(c, fmt.Sprintf("%s.choices[%d]", path, i))
			if err != nil {
				return nil, err
			}
		}
		p = &ChoicePlan{ChoiceID: id, Choices: choices}
	default:
		return nil, &ImportError{Path: path, Message: fmt.Sprintf("unknown plan type %q", typ)}
	}

	if raw, ok := obj["id"]; ok {
		id, err := asInt(raw, path+".id")
		if err != nil {
			return nil, err
		}
		p.base().ID = id
	}
	return p, nil
}

func collectNamed(get func(string) (*Named, error), keys ...string) ([]*Named, error) {
	out := make([]*Named, len(keys))
	for i, k := range keys {
		n, err := get(k)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func collectExprs(get func(string) (Expr, error), keys ...string) ([]Expr, error) {
	out := make([]Expr, len(keys))
	for i, k := range keys {
		e, err := get(k)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}

// ImportExpr decodes a generic JSON tree into an expression.
func ImportExpr(v any) (Expr, error) {
	return importExpr(v, "$")
}

func importExpr(v any, path string) (Expr, error) {
	obj, err := asObject(v, path)
	if err != nil {
		return nil, err
	}
	if _, ok := obj["type"]; !ok {
		return importNamed(obj, path)
	}
	typ, err := getString(obj, "type", path)
	if err != nil {
		return nil, err
	}
	switch typ {
	case "Op":
		op, err := getString(obj, "op", path)
		if err != nil {
			return nil, err
		}
		operands, err := importExprList(obj, "operands", path)
		if err != nil {
			return nil, err
		}
		return &Op{Op: op, Operands: operands}, nil
	case "IntConst":
		n, err := asInt(obj["value"], path+".value")
		if err != nil {
			return nil, err
		}
		return Int(n), nil
	case "FloatConst":
		f, err := asFloat(obj["value"], path+".value")
		if err != nil {
			return nil, err
		}
		return Float(f), nil
	case "BoolConst":
		b, ok := obj["value"].(bool)
		if !ok {
			return nil, &ImportError{Path: path + ".value", Message: "expected a boolean"}
		}
		return Bool(b), nil
	case "StringConst":
		s, err := getString(obj, "value", path)
		if err != nil {
			return nil, err
		}
		return Str(s), nil
	case "ColumnRef":
		table, err := getString(obj, "table", path)
		if err != nil {
			return nil, err
		}
		col, err := getString(obj, "column", path)
		if err != nil {
			return nil, err
		}
		return &ColumnRef{Table: table, Column: col}, nil
	case "Func":
		name, err := getString(obj, "fname", path)
		if err != nil {
			return nil, err
		}
		args, err := importExprList(obj, "args", path)
		if err != nil {
			return nil, err
		}
		return &Func{Name: name, Args: args}, nil
	case "List":
		els, err := importExprList(obj, "elements", path)
		if err != nil {
			return nil, err
		}
		begin, end, delim, err := brackets(obj, path)
		if err != nil {
			return nil, err
		}
		return &List{Elements: els, Begin: begin, End: end, Delim: delim}, nil
	case "AnyExpr":
		id, err := getString(obj, "id", path)
		if err != nil {
			return nil, err
		}
		choices, err := importExprList(obj, "choices", path)
		if err != nil {
			return nil, err
		}
		return &AnyChoice{ID: id, Choices: choices}, nil
	case "ValExpr":
		id, err := getString(obj, "id", path)
		if err != nil {
			return nil, err
		}
		dom, err := importExpr(obj["domain"], path+".domain")
		if err != nil {
			return nil, err
		}
		return &ValChoice{ID: id, Domain: dom}, nil
	case "MultiExpr":
		id, err := getString(obj, "id", path)
		if err != nil {
			return nil, err
		}
		child, err := importExpr(obj["child"], path+".child")
		if err != nil {
			return nil, err
		}
		begin, end, delim, err := brackets(obj, path)
		if err != nil {
			return nil, err
		}
		return &MultiChoice{ID: id, Child: child, Begin: begin, End: end, Delim: delim}, nil
	default:
		return nil, &ImportError{Path: path, Message: fmt.Sprintf("unknown expression type %q", typ)}
	}
}

func importNamed(v any, path string) (*Named, error) {
	obj, err := asObject(v, path)
	if err != nil {
		return nil, err
	}
	name, err := getString(obj, "name", path)
	if err != nil {
		return nil, err
	}
	e, err := importExpr(obj["expr"], path+".expr")
	if err != nil {
		return nil, err
	}
	return &Named{Name: name, Expr: e}, nil
}

func importExprList(obj map[string]any, key, path string) ([]Expr, error) {
	raw, err := getArray(obj, key, path)
	if err != nil {
		return nil, err
	}
	out := make([]Expr, len(raw))
	for i, r := range raw {
		out[i], err = importExpr(r, fmt.Sprintf("%s.%s[%d]", path, key, i))
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func importNamedList(obj map[string]any, key, path string) ([]*Named, error) {
	raw, err := getArray(obj, key, path)
	if err != nil {
		return nil, err
	}
	out := make([]*Named, len(raw))
	for i, r := range raw {
		out[i], err = importNamed(r, fmt.Sprintf("%s.%s[%d]", path, key, i))
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func brackets(obj map[string]any, path string) (begin, end, delim string, err error) {
	if begin, err = getString(obj, "begin", path); err != nil {
		return
	}
	if end, err = getString(obj, "end", path); err != nil {
		return
	}
	delim, err = getString(obj, "delim", path)
	return
}

func asObject(v any, path string) (map[string]any, error) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, &ImportError{Path: path, Message: fmt.Sprintf("expected an object, got %T", v)}
	}
	return obj, nil
}

func getString(obj map[string]any, key, path string) (string, error) {
	s, ok := obj[key].(string)
	if !ok {
		return "", &ImportError{Path: path + "." + key, Message: "expected a string"}
	}
	return s, nil
}

func getArray(obj map[string]any, key, path string) ([]any, error) {
	a, ok := obj[key].([]any)
	if !ok {
		return nil, &ImportError{Path: path + "." + key, Message: "expected an array"}
	}
	return a, nil
}

func asInt(v any, path string) (int64, error) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		if err == nil && f == float64(int64(f)) {
			return int64(f), nil
		}
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		if n == float64(int64(n)) {
			return int64(n), nil
		}
	}
	return 0, &ImportError{Path: path, Message: fmt.Sprintf("expected an integer, got %v", v)}
}

func asFloat(v any, path string) (float64, error) {
	switch n := v.(type) {
	case json.Number:
		if f, err := n.Float64(); err == nil {
			return f, nil
		}
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	}
	return 0, &ImportError{Path: path, Message: fmt.Sprintf("expected a number, got %v", v)}
}

// DomainValue is one value a client may bind to a choice.
type DomainValue struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

// TaskStep lists the choice ids a client binds together in one step. A
// single-id step is encoded as a bare string.
type TaskStep []string

// MarshalJSON implements json.Marshaler.
func (s TaskStep) MarshalJSON() ([]byte, error) {
	if len(s) == 1 {
		return json.Marshal(s[0])
	}
	return json.Marshal([]string(s))
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *TaskStep) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*s = TaskStep{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("task step: expected a string or a list of strings")
	}
	*s = many
	return nil
}

// Bundle is the complete client-facing contract: the plan variants, the
// value domain of every choice and the order in which a client binds them.
type Bundle struct {
	Plans  map[string]Plan
	Values map[string][]DomainValue
	Tasks  map[string][]TaskStep
}

// PlanNames returns the plan variant names in sorted order.
func (b *Bundle) PlanNames() []string {
	names := make([]string, 0, len(b.Plans))
	for n := range b.Plans {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// MarshalBundle renders b as canonical JSON. Plans are exported in sorted
// name order so that id assignment is deterministic.
func MarshalBundle(b *Bundle, seq *Sequence) ([]byte, error) {
	plans := make(map[string]any, len(b.Plans))
	for _, name := range b.PlanNames() {
		plans[name] = Export(b.Plans[name], seq)
	}
	values := b.Values
	if values == nil {
		values = map[string][]DomainValue{}
	}
	tasks := b.Tasks
	if tasks == nil {
		tasks = map[string][]TaskStep{}
	}
	return MarshalCanonical(map[string]any{"plans": plans, "values": values, "tasks": tasks})
}

// UnmarshalBundle decodes a bundle produced by MarshalBundle.
func UnmarshalBundle(data []byte) (*Bundle, error) {
	var raw struct {
		Plans  map[string]json.RawMessage `json:"plans"`
		Values map[string][]DomainValue   `json:"values"`
		Tasks  map[string][]TaskStep      `json:"tasks"`
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return nil, &ImportError{Path: "$", Message: err.Error()}
	}
	b := &Bundle{Plans: map[string]Plan{}, Values: raw.Values, Tasks: raw.Tasks}
	for name, msg := range raw.Plans {
		v, err := decodeJSON(msg)
		if err != nil {
			return nil, err
		}
		p, err := importPlan(v, "$.plans."+name)
		if err != nil {
			return nil, err
		}
		b.Plans[name] = p
	}
	return b, nil
}
