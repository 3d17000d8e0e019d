// Package cost models the latency, memory and output cardinality of plan
// nodes.
//
// Every node is priced by a per-operator rule from the statistics of its
// input and the fitted coefficient tables (see Coefficients). Results are
// memoized on the node separately for steady-state and switch-on
// evaluation. A switch-on evaluation charges dynamic caches the cost of
// building them; a steady-state evaluation does not.
package cost

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/roach88/dashopt/internal/ir"
	"github.com/roach88/dashopt/internal/stats"
)

// SelectivityMode chooses which group statistic drives equality
// selectivity.
type SelectivityMode int

const (
	// SelectivityUpper prices an equality by the largest group.
	SelectivityUpper SelectivityMode = iota

	// SelectivityAvg prices an equality by the average group and makes the
	// upper bound equal the average.
	SelectivityAvg

	// SelectivityNone ignores group statistics and never treats a table as
	// selective for spatial probes.
	SelectivityNone
)

func (m SelectivityMode) String() string {
	switch m {
	case SelectivityAvg:
		return "avg"
	case SelectivityNone:
		return "none"
	default:
		return "upper"
	}
}

// ParseSelectivityMode maps "upper", "avg" or "none" to a mode.
func ParseSelectivityMode(s string) (SelectivityMode, error) {
	switch strings.ToLower(s) {
	case "upper", "":
		return SelectivityUpper, nil
	case "avg":
		return SelectivityAvg, nil
	case "none", "nofilter":
		return SelectivityNone, nil
	}
	return 0, fmt.Errorf("unknown selectivity mode %q (want upper, avg or none)", s)
}

// Model prices plans against a statistics source.
//
// A Model is safe for concurrent use provided each goroutine prices its own
// plan trees (memo slots live on the nodes).
type Model struct {
	src       stats.Source
	coef      *Coefficients
	mode      SelectivityMode
	selective []string
	logger    *slog.Logger
}

// Option configures a Model.
type Option func(*Model)

// WithCoefficients replaces the built-in coefficient table.
func WithCoefficients(c *Coefficients) Option {
	return func(m *Model) { m.coef = c }
}

// WithSelectivityMode sets the equality selectivity mode.
func WithSelectivityMode(mode SelectivityMode) Option {
	return func(m *Model) { m.mode = mode }
}

// WithSelectiveTables marks tables whose spatial probes are highly
// selective. A table matches when its name contains any of the patterns.
func WithSelectiveTables(patterns ...string) Option {
	return func(m *Model) { m.selective = append(m.selective, patterns...) }
}

// WithLogger sets the logger used for statistics fallbacks.
func WithLogger(l *slog.Logger) Option {
	return func(m *Model) { m.logger = l }
}

// NewModel returns a model over src.
func NewModel(src stats.Source, opts ...Option) *Model {
	m := &Model{src: src, coef: DefaultCoefficients(), logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Source returns the statistics source the model asks.
func (m *Model) Source() stats.Source { return m.src }

// Mode returns the selectivity mode.
func (m *Model) Mode() SelectivityMode { return m.mode }

// Cost returns the cost and output statistics of the plan rooted at p.
//
// The only errors are a base table without a row count (a *ConfigError),
// an unresolvable schema, and failures of the statistics source itself.
func (m *Model) Cost(ctx context.Context, p ir.Plan, switchOn bool) (ir.Cost, ir.Statistics, error) {
	if e, ok := ir.CachedCost(p, switchOn); ok {
		return e.Cost, e.Stats, nil
	}
	c, s, err := m.price(ctx, p, switchOn)
	if err != nil {
		return ir.Cost{}, ir.Statistics{}, err
	}
	c.UpperLatency = math.Max(c.UpperLatency, c.AvgLatency)
	s.UpperCard = math.Max(s.UpperCard, s.AvgCard)
	ir.StoreCost(p, switchOn, ir.CostEntry{Cost: c, Stats: s})
	return c, s, nil
}

// CacheMemory returns the bytes a cache occupies: the steady-state memory
// of the first node below any cache and network wrappers.
func (m *Model) CacheMemory(ctx context.Context, p ir.Plan) (float64, error) {
	n := p
	for {
		switch x := n.(type) {
		case *ir.StaticCache:
			n = x.Input
			continue
		case *ir.DynamicCache:
			n = x.Input
			continue
		case *ir.NetworkBoundary:
			n = x.Input
			continue
		}
		break
	}
	c, _, err := m.Cost(ctx, n, false)
	if err != nil {
		return 0, err
	}
	return c.Memory, nil
}

func (m *Model) price(ctx context.Context, p ir.Plan, switchOn bool) (ir.Cost, ir.Statistics, error) {
	switch x := p.(type) {
	case *ir.TableScan:
		return m.priceTable(ctx, x)
	case *ir.CloudBoundary:
		return m.priceCloud(ctx, x, switchOn)
	case *ir.ChoicePlan:
		return m.priceChoice(ctx, x, switchOn)
	}

	in := ir.Input(p)
	inCost, inStats, err := m.Cost(ctx, in, switchOn)
	if err != nil {
		return ir.Cost{}, ir.Statistics{}, err
	}

	switch x := p.(type) {
	case *ir.StaticCache:
		return ir.Cost{Memory: inCost.Memory}, inStats, nil

	case *ir.DynamicCache:
		if switchOn {
			return inCost, inStats, nil
		}
		return ir.Cost{Memory: inCost.Memory}, inStats, nil

	case *ir.Filter:
		sel, err := m.filterSelectivity(ctx, x, inStats)
		if err != nil {
			return ir.Cost{}, ir.Statistics{}, err
		}
		return m.priceLinear(ctx, p, OpFilter, OpTable, inCost, inStats, sel, nil)

	case *ir.Aggregate:
		sel, err := m.aggregateSelectivity(ctx, x, inStats)
		if err != nil {
			return ir.Cost{}, ir.Statistics{}, err
		}
		return m.priceLinear(ctx, p, OpAggregate, OpTable, inCost, inStats, sel, nil)

	case *ir.Projection, *ir.HashIndexProbe, *ir.PrefixSumProbe, *ir.PrefixSum2DProbe:
		sel := passThrough
		if probe, ok := p.(*ir.HashIndexProbe); ok {
			if sel, err = m.hashProbeSelectivity(ctx, probe, inStats); err != nil {
				return ir.Cost{}, ir.Statistics{}, err
			}
		}
		return m.priceUnit(ctx, p, inCost, inStats, sel)

	case *ir.NetworkBoundary:
		return m.priceNetwork(ctx, x, inCost, inStats)

	case *ir.HashIndexBuild:
		return m.priceLinear(ctx, p, OpHashTableBuild, OpHashTableBuild, inCost, inStats, passThrough, nil)

	case *ir.SpatialIndexBuild:
		return m.priceLinear(ctx, p, OpRTreeBuild, OpRTreeBuild, inCost, inStats, passThrough, nil)

	case *ir.SpatialIndexProbe:
		sel := m.spatialSelectivity(x)
		return m.priceLinear(ctx, p, OpRTreeQuery, OpTable, inCost, inStats, sel, nil)

	case *ir.PrefixSumBuild:
		out, err := m.prefixSumShape(ctx, p, x.TargetCol.Expr, []ir.Expr{x.SumCol.Expr}, inStats)
		if err != nil {
			return ir.Cost{}, ir.Statistics{}, err
		}
		return m.priceLinear(ctx, p, OpPrefixSumBuild, OpPrefixSumBuild, inCost, inStats, passThrough, out)

	case *ir.PrefixSum2DBuild:
		out, err := m.prefixSumShape(ctx, p, x.TargetCol.Expr, []ir.Expr{x.SumColX.Expr, x.SumColY.Expr}, inStats)
		if err != nil {
			return ir.Cost{}, ir.Statistics{}, err
		}
		return m.priceLinear(ctx, p, OpPrefixSum2DBuild, OpPrefixSum2DBuild, inCost, inStats, passThrough, out)
	}
	return ir.Cost{}, ir.Statistics{}, fmt.Errorf("cost: unsupported plan node %s", ir.KindName(p))
}

// priceTable asks the row count of a base table. A table without one makes
// every plan over it unpriceable.
func (m *Model) priceTable(ctx context.Context, t *ir.TableScan) (ir.Cost, ir.Statistics, error) {
	sql, _ := ir.SQL(t)
	n, ok, err := m.src.RowCount(ctx, sql)
	if err != nil {
		return ir.Cost{}, ir.Statistics{}, &ConfigError{Field: "table " + t.Name, Message: "row count failed", Err: err}
	}
	if !ok {
		return ir.Cost{}, ir.Statistics{}, &ConfigError{Field: "table " + t.Name, Message: "row count unavailable"}
	}
	schema, err := m.schema(ctx, t)
	if err != nil {
		return ir.Cost{}, ir.Statistics{}, err
	}
	return ir.Cost{}, ir.Statistics{AvgCard: n, UpperCard: n, NCols: len(schema)}, nil
}

// priceCloud prices fetching the result of the sub-plan from the backing
// store. The store computes it in unit time; the sub-plan's own latency is
// not charged.
func (m *Model) priceCloud(ctx context.Context, c *ir.CloudBoundary, switchOn bool) (ir.Cost, ir.Statistics, error) {
	var rows float64
	known := false
	if sql, ok := ir.SQL(c); ok {
		n, ok, err := m.src.RowCount(ctx, sql)
		if err != nil {
			return ir.Cost{}, ir.Statistics{}, err
		}
		rows, known = n, ok
	}
	st := ir.Statistics{AvgCard: rows, UpperCard: rows}
	if !known {
		_, inStats, err := m.Cost(ctx, c.Input, switchOn)
		if err != nil {
			return ir.Cost{}, ir.Statistics{}, err
		}
		m.logger.Debug("row count unknown, using input estimate", "node", ir.KindName(c.Input))
		st.AvgCard, st.UpperCard = inStats.AvgCard, inStats.UpperCard
	}
	cols, strCols, err := m.columns(ctx, c)
	if err != nil {
		return ir.Cost{}, ir.Statistics{}, err
	}
	st.NCols = int(cols)
	mem := m.coef.Memory[OpTable].eval(st.UpperCard, cols, strCols)
	return ir.Cost{AvgLatency: 1, UpperLatency: 1, Memory: mem}, st, nil
}

// priceChoice charges the worst alternative.
func (m *Model) priceChoice(ctx context.Context, c *ir.ChoicePlan, switchOn bool) (ir.Cost, ir.Statistics, error) {
	var worst ir.Cost
	var worstStats ir.Statistics
	for i, alt := range c.Choices {
		ac, as, err := m.Cost(ctx, alt, switchOn)
		if err != nil {
			return ir.Cost{}, ir.Statistics{}, err
		}
		if i == 0 || worse(ac, worst) {
			worst, worstStats = ac, as
		}
	}
	return worst, worstStats, nil
}

func worse(a, b ir.Cost) bool {
	if a.UpperLatency != b.UpperLatency {
		return a.UpperLatency > b.UpperLatency
	}
	if a.AvgLatency != b.AvgLatency {
		return a.AvgLatency > b.AvgLatency
	}
	return a.Memory > b.Memory
}

// selectivity is the fraction of input rows a node keeps.
type selectivity struct{ avg, upper float64 }

var passThrough = selectivity{1, 1}

// outShape overrides the output rows and columns of a build.
type outShape struct {
	avgRows, upperRows float64
	cols               float64
}

// priceLinear prices a node with a fitted latency function.
func (m *Model) priceLinear(ctx context.Context, p ir.Plan, latencyOp, memoryOp string,
	inCost ir.Cost, inStats ir.Statistics, sel selectivity, out *outShape) (ir.Cost, ir.Statistics, error) {

	avgOut, upperOut := inStats.AvgCard*sel.avg, inStats.UpperCard*sel.upper
	inCols := float64(inStats.NCols)
	var inStr, outCols, outStr float64
	if out != nil {
		avgOut, upperOut, outCols = out.avgRows, out.upperRows, out.cols
	} else {
		var err error
		if _, inStr, err = m.columns(ctx, ir.Input(p)); err != nil {
			return ir.Cost{}, ir.Statistics{}, err
		}
		if outCols, outStr, err = m.columns(ctx, p); err != nil {
			return ir.Cost{}, ir.Statistics{}, err
		}
	}

	coef := m.coef.latency(latencyOp, ir.AtServer(p))
	avgLat := coef.eval(shape{inRows: inStats.AvgCard, outRows: avgOut,
		inCols: inCols, inStrCols: inStr, outCols: outCols, outStrCols: outStr})
	upperLat := coef.eval(shape{inRows: inStats.UpperCard, outRows: upperOut,
		inCols: inCols, inStrCols: inStr, outCols: outCols, outStrCols: outStr})
	upperLat = math.Max(upperLat, avgLat)
	mem := m.coef.Memory[memoryOp].eval(upperOut, outCols, outStr)

	return ir.Cost{
			AvgLatency:   avgLat + inCost.AvgLatency,
			UpperLatency: upperLat + inCost.UpperLatency,
			Memory:       mem,
		}, ir.Statistics{
			AvgCard:   avgOut,
			UpperCard: upperOut,
			NCols:     int(outCols),
		}, nil
}

// priceUnit prices a node that runs in unit time over its input.
func (m *Model) priceUnit(ctx context.Context, p ir.Plan, inCost ir.Cost, inStats ir.Statistics, sel selectivity) (ir.Cost, ir.Statistics, error) {
	outCols, outStr, err := m.columns(ctx, p)
	if err != nil {
		return ir.Cost{}, ir.Statistics{}, err
	}
	upperOut := inStats.UpperCard * sel.upper
	return ir.Cost{
			AvgLatency:   1 + inCost.AvgLatency,
			UpperLatency: 1 + inCost.UpperLatency,
			Memory:       m.coef.Memory[OpTable].eval(upperOut, outCols, outStr),
		}, ir.Statistics{
			AvgCard:   inStats.AvgCard * sel.avg,
			UpperCard: upperOut,
			NCols:     int(outCols),
		}, nil
}

// priceNetwork charges the transfer of every cell of the input.
func (m *Model) priceNetwork(ctx context.Context, n *ir.NetworkBoundary, inCost ir.Cost, inStats ir.Statistics) (ir.Cost, ir.Statistics, error) {
	_, outStr, err := m.columns(ctx, n)
	if err != nil {
		return ir.Cost{}, ir.Statistics{}, err
	}
	cols := float64(inStats.NCols)
	avgLat := cols * inStats.AvgCard * m.coef.NetworkRate
	upperLat := math.Max(cols*inStats.UpperCard*m.coef.NetworkRate, avgLat)
	return ir.Cost{
		AvgLatency:   avgLat + inCost.AvgLatency,
		UpperLatency: upperLat + inCost.UpperLatency,
		Memory:       m.coef.Memory[OpTable].eval(inStats.UpperCard, cols, outStr),
	}, inStats, nil
}

// prefixSumShape sizes a prefix-sum build: one row per distinct target and
// one column per distinct value of each summed dimension.
func (m *Model) prefixSumShape(ctx context.Context, p ir.Plan, target ir.Expr, dims []ir.Expr, inStats ir.Statistics) (*outShape, error) {
	out := &outShape{avgRows: inStats.AvgCard, upperRows: inStats.UpperCard}
	rows, ok, err := m.statDown(ctx, p, target, m.src.DistinctCount)
	if err != nil {
		return nil, err
	}
	if ok && rows > 0 {
		out.avgRows, out.upperRows = rows, rows
	}
	cols := 1.0
	for _, d := range dims {
		n, ok, err := m.statDown(ctx, p, d, m.src.DistinctCount)
		if err != nil {
			return nil, err
		}
		if !ok || n <= 0 {
			cols = inStats.UpperCard
			break
		}
		cols *= n
	}
	out.cols = cols
	return out, nil
}

// schema resolves the output columns of p through the statistics source.
func (m *Model) schema(ctx context.Context, p ir.Plan) ([]*ir.ColumnRef, error) {
	return ir.Schema(p, func(table string) ([]*ir.ColumnRef, error) {
		return m.src.Schema(ctx, table)
	})
}

// columns returns the number of output columns of p and how many of them
// hold strings.
func (m *Model) columns(ctx context.Context, p ir.Plan) (cols, strCols float64, err error) {
	schema, err := m.schema(ctx, p)
	if err != nil {
		return 0, 0, err
	}
	for _, c := range schema {
		if m.src.ColumnKind(c.Column) == stats.KindString {
			strCols++
		}
	}
	return float64(len(schema)), strCols, nil
}
