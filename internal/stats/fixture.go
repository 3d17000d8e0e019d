package stats

import (
	"bytes"
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/dashopt/internal/ir"
)

// Fixture is an in-memory Source described in YAML. It knows base tables
// only: questions about a derived projection are "unknown" unless the
// projection is listed under Projections, which makes the cost model fall
// back to the base table the way it does against a real database.
//
//	tables:
//	  sales:
//	    rows: 1000000
//	    columns:
//	      - {name: region, kind: string, distinct: 10, max_group: 150000, avg_group: 100000}
//	      - {name: amount, kind: number}
//	projections:
//	  "SELECT ...": 1200
type Fixture struct {
	// Tables maps table name to its description.
	Tables map[string]*FixtureTable `yaml:"tables"`

	// Projections gives exact row counts for derived projections.
	Projections map[string]float64 `yaml:"projections,omitempty"`

	byProjection map[string]string
	kinds        map[string]ColumnKind
}

// FixtureTable describes one base table.
type FixtureTable struct {
	// Rows is the exact row count. Required.
	Rows float64 `yaml:"rows"`

	// Columns lists the columns in schema order.
	Columns []FixtureColumn `yaml:"columns"`
}

// FixtureColumn describes one column. Zero statistics are "unknown".
type FixtureColumn struct {
	Name     string  `yaml:"name"`
	Kind     string  `yaml:"kind,omitempty"`
	Distinct float64 `yaml:"distinct,omitempty"`
	MaxGroup float64 `yaml:"max_group,omitempty"`
	AvgGroup float64 `yaml:"avg_group,omitempty"`
}

// LoadFixture reads and parses a fixture YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture file: %w", err)
	}
	return ParseFixture(data)
}

// ParseFixture parses fixture YAML with strict field validation.
func ParseFixture(data []byte) (*Fixture, error) {
	var f Fixture
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := f.init(); err != nil {
		return nil, fmt.Errorf("invalid fixture: %w", err)
	}
	return &f, nil
}

// NewFixture builds a fixture from Go values, as tests do.
func NewFixture(tables map[string]*FixtureTable) (*Fixture, error) {
	f := &Fixture{Tables: tables}
	if err := f.init(); err != nil {
		return nil, fmt.Errorf("invalid fixture: %w", err)
	}
	return f, nil
}

func (f *Fixture) init() error {
	if len(f.Tables) == 0 {
		return fmt.Errorf("tables list is required and must be non-empty")
	}
	f.byProjection = make(map[string]string, len(f.Tables))
	f.kinds = map[string]ColumnKind{}
	for name, t := range f.Tables {
		if t == nil || t.Rows < 0 {
			return fmt.Errorf("table %q: rows must be non-negative", name)
		}
		if len(t.Columns) == 0 {
			return fmt.Errorf("table %q: columns list is required", name)
		}
		seen := map[string]bool{}
		for i, c := range t.Columns {
			if c.Name == "" {
				return fmt.Errorf("table %q: column %d has no name", name, i)
			}
			if seen[c.Name] {
				return fmt.Errorf("table %q: duplicate column %q", name, c.Name)
			}
			seen[c.Name] = true
			if c.Distinct < 0 || c.MaxGroup < 0 || c.AvgGroup < 0 {
				return fmt.Errorf("table %q column %q: statistics must be non-negative", name, c.Name)
			}
			if _, ok := f.kinds[c.Name]; !ok {
				f.kinds[c.Name] = ParseColumnKind(c.Kind)
			}
		}
		sql, _ := ir.SQL(ir.NewTableScan(name))
		f.byProjection[sql] = name
	}
	return nil
}

func (f *Fixture) column(projection string, expr ir.Expr) (*FixtureColumn, bool) {
	table, ok := f.byProjection[projection]
	if !ok {
		return nil, false
	}
	ref, ok := expr.(*ir.ColumnRef)
	if !ok {
		return nil, false
	}
	for i := range f.Tables[table].Columns {
		if c := &f.Tables[table].Columns[i]; c.Name == ref.Column {
			return c, true
		}
	}
	return nil, false
}

func known(n float64) (float64, bool, error) {
	if n <= 0 {
		return 0, false, nil
	}
	return n, true, nil
}

// RowCount implements Source.
func (f *Fixture) RowCount(_ context.Context, projection string) (float64, bool, error) {
	if table, ok := f.byProjection[projection]; ok {
		return f.Tables[table].Rows, true, nil
	}
	if n, ok := f.Projections[projection]; ok {
		return n, true, nil
	}
	return 0, false, nil
}

// Schema implements Source.
func (f *Fixture) Schema(_ context.Context, table string) ([]*ir.ColumnRef, error) {
	t, ok := f.Tables[table]
	if !ok {
		return nil, fmt.Errorf("table %q not found", table)
	}
	out := make([]*ir.ColumnRef, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = &ir.ColumnRef{Table: table, Column: c.Name}
	}
	return out, nil
}

// MaxGroupSize implements Source.
func (f *Fixture) MaxGroupSize(_ context.Context, projection string, expr ir.Expr) (float64, bool, error) {
	c, ok := f.column(projection, expr)
	if !ok {
		return 0, false, nil
	}
	return known(c.MaxGroup)
}

// AvgGroupSize implements Source.
func (f *Fixture) AvgGroupSize(_ context.Context, projection string, expr ir.Expr) (float64, bool, error) {
	c, ok := f.column(projection, expr)
	if !ok {
		return 0, false, nil
	}
	return known(c.AvgGroup)
}

// DistinctCount implements Source.
func (f *Fixture) DistinctCount(_ context.Context, projection string, expr ir.Expr) (float64, bool, error) {
	c, ok := f.column(projection, expr)
	if !ok {
		return 0, false, nil
	}
	return known(c.Distinct)
}

// ColumnKind implements Source.
func (f *Fixture) ColumnKind(column string) ColumnKind {
	return f.kinds[column]
}

var _ Source = (*Fixture)(nil)
