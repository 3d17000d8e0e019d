// Package stats answers the cardinality questions the cost model asks about
// sub-plans.
//
// Every question is keyed by the SQL projection of a sub-plan (see ir.SQL)
// and, for group statistics, an expression over its columns. An answer is a
// triple (n, ok, err): ok=false means "unknown, try a larger sub-plan"; err
// is reserved for failures that must abort the optimization (a closed
// database, a cancelled context).
//
// Implementations:
//   - SQLiteSource runs the questions as SQL against a SQLite database.
//   - Fixture answers from a YAML description of base tables.
//   - Cached memoizes any Source by query text.
package stats

import (
	"context"

	"github.com/roach88/dashopt/internal/ir"
)

// Source is the read-only statistics collaborator.
type Source interface {
	// RowCount returns the number of rows of projection.
	RowCount(ctx context.Context, projection string) (n float64, ok bool, err error)

	// Schema returns the ordered columns of a base table.
	Schema(ctx context.Context, table string) ([]*ir.ColumnRef, error)

	// MaxGroupSize returns the size of the largest group of projection
	// grouped by expr.
	MaxGroupSize(ctx context.Context, projection string, expr ir.Expr) (n float64, ok bool, err error)

	// AvgGroupSize returns the average group size of projection grouped by
	// expr.
	AvgGroupSize(ctx context.Context, projection string, expr ir.Expr) (n float64, ok bool, err error)

	// DistinctCount returns the number of distinct values of expr in
	// projection.
	DistinctCount(ctx context.Context, projection string, expr ir.Expr) (n float64, ok bool, err error)

	// ColumnKind classifies a column by name. Unknown columns are KindOther.
	ColumnKind(column string) ColumnKind
}

// ColumnKind is the coarse type of a column as the cost model sees it.
type ColumnKind int

const (
	KindOther ColumnKind = iota
	KindNumber
	KindString
)

func (k ColumnKind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	default:
		return "other"
	}
}

// ParseColumnKind maps a kind name or a SQL declared type to a ColumnKind.
func ParseColumnKind(s string) ColumnKind {
	switch normalizeType(s) {
	case "string", "text", "varchar", "char", "clob", "date", "datetime", "timestamp":
		return KindString
	case "number", "int", "integer", "bigint", "smallint", "real", "float", "double", "numeric", "decimal":
		return KindNumber
	default:
		return KindOther
	}
}
