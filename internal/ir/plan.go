package ir

// Plan is an immutable physical or logical plan node.
//
// The set of implementations is closed; see the node types below. Children
// are owned by their parent. There is no parent pointer: code that needs to
// rewrite a node addresses it by Path from the root and calls Replace.
type Plan interface {
	// Inputs returns the child plans in a fixed order.
	Inputs() []Plan

	// WithInputs returns a copy of the node with the given children and
	// fresh memo slots. The copy has no id.
	WithInputs(inputs []Plan) Plan

	// OwnExprs returns the expressions held by this node (not its children).
	OwnExprs() []Expr

	base() *node
}

// node carries the identity and memoized derivations shared by all plans.
type node struct {
	// ID is the export identifier. Zero means "not assigned yet".
	ID int64

	m memo
}

func (n *node) base() *node { return n }

type memo struct {
	schema    []*ColumnRef
	hasSchema bool

	sql    string
	sqlOK  bool
	hasSQL bool

	funcStr    string
	hasFuncStr bool

	structural    string
	hasStructural bool
	hash          uint64
	hasHash       bool

	cost [2]*CostEntry
}

// NodeID returns the export id of p (zero when unassigned).
func NodeID(p Plan) int64 { return p.base().ID }

// TableScan reads a base table of the backing store.
type TableScan struct {
	node
	Name string
}

// Projection evaluates named expressions over its input.
type Projection struct {
	node
	Input Plan
	Projs []*Named
}

// Filter keeps the input rows satisfying Cond.
type Filter struct {
	node
	Input Plan
	Cond  Expr
}

// Aggregate groups its input by GroupBys and computes Aggs per group.
type Aggregate struct {
	node
	Input    Plan
	GroupBys []*Named
	Aggs     []*Named
}

// CloudBoundary marks the point below which the plan runs against the
// backing store.
type CloudBoundary struct {
	node
	Input Plan
}

// NetworkBoundary marks the server to client transfer point.
type NetworkBoundary struct {
	node
	Input Plan
}

// StaticCache holds a result built once and reused for every binding.
type StaticCache struct {
	node
	Input Plan
}

// DynamicCache holds a result rebuilt per distinct binding.
type DynamicCache struct {
	node
	Input Plan
}

// HashIndexBuild partitions its input by Keys.
type HashIndexBuild struct {
	node
	Input Plan
	Keys  []Expr
}

// HashIndexProbe looks up the partition matching Queries.
type HashIndexProbe struct {
	node
	Input   Plan
	Queries []Expr
}

// SpatialIndexBuild builds an R-tree over Keys.
type SpatialIndexBuild struct {
	node
	Input Plan
	Keys  []Expr
}

// SpatialIndexProbe selects the rows inside the box [Lowers, Uppers].
type SpatialIndexProbe struct {
	node
	Input  Plan
	Lowers []Expr
	Uppers []Expr
}

// PrefixSumBuild computes running aggregates of AggCol along SumCol per
// TargetCol group.
type PrefixSumBuild struct {
	node
	Input     Plan
	SumCol    *Named
	TargetCol *Named
	AggCol    *Named
}

// PrefixSumProbe answers a range aggregate over [Lower, Upper].
type PrefixSumProbe struct {
	node
	Input Plan
	Lower Expr
	Upper Expr
}

// PrefixSum2DBuild is the two-dimensional variant of PrefixSumBuild.
type PrefixSum2DBuild struct {
	node
	Input     Plan
	SumColX   *Named
	SumColY   *Named
	TargetCol *Named
	AggCol    *Named
}

// PrefixSum2DProbe answers a range aggregate over a 2D box.
type PrefixSum2DProbe struct {
	node
	Input  Plan
	LowerX Expr
	UpperX Expr
	LowerY Expr
	UpperY Expr
}

// ChoicePlan is a discrete pick among alternative plans.
type ChoicePlan struct {
	node
	ChoiceID string
	Choices  []Plan
}

// Constructors.

func NewTableScan(name string) *TableScan { return &TableScan{Name: name} }

func NewProjection(in Plan, projs ...*Named) *Projection {
	return &Projection{Input: in, Projs: projs}
}

func NewFilter(in Plan, cond Expr) *Filter { return &Filter{Input: in, Cond: cond} }

func NewAggregate(in Plan, groupBys, aggs []*Named) *Aggregate {
	return &Aggregate{Input: in, GroupBys: groupBys, Aggs: aggs}
}

func NewCloud(in Plan) *CloudBoundary     { return &CloudBoundary{Input: in} }
func NewNetwork(in Plan) *NetworkBoundary { return &NetworkBoundary{Input: in} }
func NewStaticCache(in Plan) *StaticCache { return &StaticCache{Input: in} }
func NewDynamicCache(in Plan) *DynamicCache {
	return &DynamicCache{Input: in}
}

// NewCache wraps in with a static or dynamic cache.
func NewCache(in Plan, static bool) Plan {
	if static {
		return NewStaticCache(in)
	}
	return NewDynamicCache(in)
}

func NewHashIndexBuild(in Plan, keys []Expr) *HashIndexBuild {
	return &HashIndexBuild{Input: in, Keys: keys}
}

func NewHashIndexProbe(in Plan, queries []Expr) *HashIndexProbe {
	return &HashIndexProbe{Input: in, Queries: queries}
}

func NewSpatialIndexBuild(in Plan, keys []Expr) *SpatialIndexBuild {
	return &SpatialIndexBuild{Input: in, Keys: keys}
}

func NewSpatialIndexProbe(in Plan, lowers, uppers []Expr) *SpatialIndexProbe {
	return &SpatialIndexProbe{Input: in, Lowers: lowers, Uppers: uppers}
}

func NewPrefixSumBuild(in Plan, sumCol, targetCol, aggCol *Named) *PrefixSumBuild {
	return &PrefixSumBuild{Input: in, SumCol: sumCol, TargetCol: targetCol, AggCol: aggCol}
}

func NewPrefixSumProbe(in Plan, lower, upper Expr) *PrefixSumProbe {
	return &PrefixSumProbe{Input: in, Lower: lower, Upper: upper}
}

func NewPrefixSum2DBuild(in Plan, sumColX, sumColY, targetCol, aggCol *Named) *PrefixSum2DBuild {
	return &PrefixSum2DBuild{Input: in, SumColX: sumColX, SumColY: sumColY, TargetCol: targetCol, AggCol: aggCol}
}

func NewPrefixSum2DProbe(in Plan, lowerX, upperX, lowerY, upperY Expr) *PrefixSum2DProbe {
	return &PrefixSum2DProbe{Input: in, LowerX: lowerX, UpperX: upperX, LowerY: lowerY, UpperY: upperY}
}

func NewChoicePlan(id string, choices ...Plan) *ChoicePlan {
	return &ChoicePlan{ChoiceID: id, Choices: choices}
}

// Inputs implementations.

func (p *TableScan) Inputs() []Plan         { return nil }
func (p *Projection) Inputs() []Plan        { return []Plan{p.Input} }
func (p *Filter) Inputs() []Plan            { return []Plan{p.Input} }
func (p *Aggregate) Inputs() []Plan         { return []Plan{p.Input} }
func (p *CloudBoundary) Inputs() []Plan     { return []Plan{p.Input} }
func (p *NetworkBoundary) Inputs() []Plan   { return []Plan{p.Input} }
func (p *StaticCache) Inputs() []Plan       { return []Plan{p.Input} }
func (p *DynamicCache) Inputs() []Plan      { return []Plan{p.Input} }
func (p *HashIndexBuild) Inputs() []Plan    { return []Plan{p.Input} }
func (p *HashIndexProbe) Inputs() []Plan    { return []Plan{p.Input} }
func (p *SpatialIndexBuild) Inputs() []Plan { return []Plan{p.Input} }
func (p *SpatialIndexProbe) Inputs() []Plan { return []Plan{p.Input} }
func (p *PrefixSumBuild) Inputs() []Plan    { return []Plan{p.Input} }
func (p *PrefixSumProbe) Inputs() []Plan    { return []Plan{p.Input} }
func (p *PrefixSum2DBuild) Inputs() []Plan  { return []Plan{p.Input} }
func (p *PrefixSum2DProbe) Inputs() []Plan  { return []Plan{p.Input} }
func (p *ChoicePlan) Inputs() []Plan        { return p.Choices }

// WithInputs implementations.

func (p *TableScan) WithInputs([]Plan) Plan { return &TableScan{Name: p.Name} }

func (p *Projection) WithInputs(in []Plan) Plan {
	return &Projection{Input: in[0], Projs: p.Projs}
}

func (p *Filter) WithInputs(in []Plan) Plan { return &Filter{Input: in[0], Cond: p.Cond} }

func (p *Aggregate) WithInputs(in []Plan) Plan {
	return &Aggregate{Input: in[0], GroupBys: p.GroupBys, Aggs: p.Aggs}
}

func (p *CloudBoundary) WithInputs(in []Plan) Plan   { return &CloudBoundary{Input: in[0]} }
func (p *NetworkBoundary) WithInputs(in []Plan) Plan { return &NetworkBoundary{Input: in[0]} }
func (p *StaticCache) WithInputs(in []Plan) Plan     { return &StaticCache{Input: in[0]} }
func (p *DynamicCache) WithInputs(in []Plan) Plan    { return &DynamicCache{Input: in[0]} }

func (p *HashIndexBuild) WithInputs(in []Plan) Plan {
	return &HashIndexBuild{Input: in[0], Keys: p.Keys}
}

func (p *HashIndexProbe) WithInputs(in []Plan) Plan {
	return &HashIndexProbe{Input: in[0], Queries: p.Queries}
}

func (p *SpatialIndexBuild) WithInputs(in []Plan) Plan {
	return &SpatialIndexBuild{Input: in[0], Keys: p.Keys}
}

func (p *SpatialIndexProbe) WithInputs(in []Plan) Plan {
	return &SpatialIndexProbe{Input: in[0], Lowers: p.Lowers, Uppers: p.Uppers}
}

func (p *PrefixSumBuild) WithInputs(in []Plan) Plan {
	return &PrefixSumBuild{Input: in[0], SumCol: p.SumCol, TargetCol: p.TargetCol, AggCol: p.AggCol}
}

func (p *PrefixSumProbe) WithInputs(in []Plan) Plan {
	return &PrefixSumProbe{Input: in[0], Lower: p.Lower, Upper: p.Upper}
}

func (p *PrefixSum2DBuild) WithInputs(in []Plan) Plan {
	return &PrefixSum2DBuild{Input: in[0], SumColX: p.SumColX, SumColY: p.SumColY,
		TargetCol: p.TargetCol, AggCol: p.AggCol}
}

func (p *PrefixSum2DProbe) WithInputs(in []Plan) Plan {
	return &PrefixSum2DProbe{Input: in[0], LowerX: p.LowerX, UpperX: p.UpperX,
		LowerY: p.LowerY, UpperY: p.UpperY}
}

func (p *ChoicePlan) WithInputs(in []Plan) Plan {
	return &ChoicePlan{ChoiceID: p.ChoiceID, Choices: in}
}

// OwnExprs implementations.

func (p *TableScan) OwnExprs() []Expr         { return nil }
func (p *Projection) OwnExprs() []Expr        { return namedExprs(p.Projs) }
func (p *Filter) OwnExprs() []Expr            { return []Expr{p.Cond} }
func (p *Aggregate) OwnExprs() []Expr         { return append(namedExprs(p.GroupBys), namedExprs(p.Aggs)...) }
func (p *CloudBoundary) OwnExprs() []Expr     { return nil }
func (p *NetworkBoundary) OwnExprs() []Expr   { return nil }
func (p *StaticCache) OwnExprs() []Expr       { return nil }
func (p *DynamicCache) OwnExprs() []Expr      { return nil }
func (p *HashIndexBuild) OwnExprs() []Expr    { return p.Keys }
func (p *HashIndexProbe) OwnExprs() []Expr    { return p.Queries }
func (p *SpatialIndexBuild) OwnExprs() []Expr { return p.Keys }
func (p *SpatialIndexProbe) OwnExprs() []Expr { return append(append([]Expr{}, p.Lowers...), p.Uppers...) }
func (p *PrefixSumBuild) OwnExprs() []Expr    { return []Expr{p.SumCol, p.TargetCol, p.AggCol} }
func (p *PrefixSumProbe) OwnExprs() []Expr    { return []Expr{p.Lower, p.Upper} }
func (p *PrefixSum2DBuild) OwnExprs() []Expr {
	return []Expr{p.SumColX, p.SumColY, p.TargetCol, p.AggCol}
}
func (p *PrefixSum2DProbe) OwnExprs() []Expr {
	return []Expr{p.LowerX, p.UpperX, p.LowerY, p.UpperY}
}
func (p *ChoicePlan) OwnExprs() []Expr { return nil }

func namedExprs(ns []*Named) []Expr {
	out := make([]Expr, len(ns))
	for i, n := range ns {
		out[i] = n
	}
	return out
}

// Input returns the single child of a unary node, or nil for leaves and
// ChoicePlans.
func Input(p Plan) Plan {
	in := p.Inputs()
	if len(in) != 1 {
		return nil
	}
	return in[0]
}

// KindName returns the operator name of p as used in logs and plan dumps.
func KindName(p Plan) string {
	switch p.(type) {
	case *TableScan:
		return "TableScan"
	case *Projection:
		return "Projection"
	case *Filter:
		return "Filter"
	case *Aggregate:
		return "Aggregate"
	case *CloudBoundary:
		return "Cloud"
	case *NetworkBoundary:
		return "Network"
	case *StaticCache:
		return "StaticCache"
	case *DynamicCache:
		return "DynamicCache"
	case *HashIndexBuild:
		return "HashIndexBuild"
	case *HashIndexProbe:
		return "HashIndexProbe"
	case *SpatialIndexBuild:
		return "SpatialIndexBuild"
	case *SpatialIndexProbe:
		return "SpatialIndexProbe"
	case *PrefixSumBuild:
		return "PrefixSumBuild"
	case *PrefixSumProbe:
		return "PrefixSumProbe"
	case *PrefixSum2DBuild:
		return "PrefixSum2DBuild"
	case *PrefixSum2DProbe:
		return "PrefixSum2DProbe"
	case *ChoicePlan:
		return "ChoicePlan"
	default:
		return "Unknown"
	}
}

// IsCache reports whether p is a StaticCache or DynamicCache.
func IsCache(p Plan) bool {
	switch p.(type) {
	case *StaticCache, *DynamicCache:
		return true
	}
	return false
}

// Clone deep-copies p. The copy has the same shape and content, no ids and
// empty memo slots.
func Clone(p Plan) Plan {
	switch x := p.(type) {
	case *TableScan:
		return &TableScan{Name: x.Name}
	case *Projection:
		return &Projection{Input: Clone(x.Input), Projs: cloneNamedList(x.Projs)}
	case *Filter:
		return &Filter{Input: Clone(x.Input), Cond: CloneExpr(x.Cond)}
	case *Aggregate:
		return &Aggregate{Input: Clone(x.Input), GroupBys: cloneNamedList(x.GroupBys), Aggs: cloneNamedList(x.Aggs)}
	case *CloudBoundary:
		return &CloudBoundary{Input: Clone(x.Input)}
	case *NetworkBoundary:
		return &NetworkBoundary{Input: Clone(x.Input)}
	case *StaticCache:
		return &StaticCache{Input: Clone(x.Input)}
	case *DynamicCache:
		return &DynamicCache{Input: Clone(x.Input)}
	case *HashIndexBuild:
		return &HashIndexBuild{Input: Clone(x.Input), Keys: cloneExprs(x.Keys)}
	case *HashIndexProbe:
		return &HashIndexProbe{Input: Clone(x.Input), Queries: cloneExprs(x.Queries)}
	case *SpatialIndexBuild:
		return &SpatialIndexBuild{Input: Clone(x.Input), Keys: cloneExprs(x.Keys)}
	case *SpatialIndexProbe:
		return &SpatialIndexProbe{Input: Clone(x.Input), Lowers: cloneExprs(x.Lowers), Uppers: cloneExprs(x.Uppers)}
	case *PrefixSumBuild:
		return &PrefixSumBuild{Input: Clone(x.Input), SumCol: CloneNamed(x.SumCol),
			TargetCol: CloneNamed(x.TargetCol), AggCol: CloneNamed(x.AggCol)}
	case *PrefixSumProbe:
		return &PrefixSumProbe{Input: Clone(x.Input), Lower: CloneExpr(x.Lower), Upper: CloneExpr(x.Upper)}
	case *PrefixSum2DBuild:
		return &PrefixSum2DBuild{Input: Clone(x.Input), SumColX: CloneNamed(x.SumColX), SumColY: CloneNamed(x.SumColY),
			TargetCol: CloneNamed(x.TargetCol), AggCol: CloneNamed(x.AggCol)}
	case *PrefixSum2DProbe:
		return &PrefixSum2DProbe{Input: Clone(x.Input), LowerX: CloneExpr(x.LowerX), UpperX: CloneExpr(x.UpperX),
			LowerY: CloneExpr(x.LowerY), UpperY: CloneExpr(x.UpperY)}
	case *ChoicePlan:
		choices := make([]Plan, len(x.Choices))
		for i, c := range x.Choices {
			choices[i] = Clone(c)
		}
		return &ChoicePlan{ChoiceID: x.ChoiceID, Choices: choices}
	default:
		panic("ir: unknown plan type")
	}
}
