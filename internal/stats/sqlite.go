package stats

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/dashopt/internal/ir"
)

// SQLiteSource answers statistics questions by running them against a
// SQLite database holding the dashboard's base tables.
//
// A question whose SQL fails to prepare or run (for example because the
// projection uses a function SQLite does not know) is answered "unknown";
// only context and connection failures are returned as errors.
type SQLiteSource struct {
	db    *sql.DB
	kinds map[string]ColumnKind
}

// OpenSQLite opens the database at path read-only.
//
// The connection is configured with:
//   - a single pooled connection, so the pragmas below always apply
//   - query_only so no statistics question can modify the data
//   - 5-second busy timeout for lock contention
func OpenSQLite(ctx context.Context, path string) (*SQLiteSource, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Pragmas are per connection, so keep exactly one.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{"PRAGMA query_only = ON", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	s, err := NewSQLiteSource(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteSource wraps an open database. Column kinds are read once from
// the declared types of every table and view.
func NewSQLiteSource(ctx context.Context, db *sql.DB) (*SQLiteSource, error) {
	s := &SQLiteSource{db: db, kinds: map[string]ColumnKind{}}
	if err := s.loadKinds(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteSource) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteSource) loadKinds(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type IN ('table', 'view') ORDER BY name`)
	if err != nil {
		return fmt.Errorf("list tables: %w", err)
	}
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return fmt.Errorf("scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Close(); err != nil {
		return err
	}
	for _, table := range tables {
		cols, err := s.columns(ctx, table)
		if err != nil {
			return err
		}
		for _, c := range cols {
			if _, seen := s.kinds[c.name]; !seen {
				s.kinds[c.name] = ParseColumnKind(c.declType)
			}
		}
	}
	return nil
}

type columnInfo struct {
	name     string
	declType string
}

func (s *SQLiteSource) columns(ctx context.Context, table string) ([]columnInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, type FROM pragma_table_info(?) ORDER BY cid`, table)
	if err != nil {
		return nil, fmt.Errorf("columns of %q: %w", table, err)
	}
	defer rows.Close()

	var cols []columnInfo
	for rows.Next() {
		var c columnInfo
		if err := rows.Scan(&c.name, &c.declType); err != nil {
			return nil, fmt.Errorf("scan column of %q: %w", table, err)
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// Schema implements Source.
func (s *SQLiteSource) Schema(ctx context.Context, table string) ([]*ir.ColumnRef, error) {
	cols, err := s.columns(ctx, table)
	if err != nil {
		return nil, err
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("table %q not found", table)
	}
	out := make([]*ir.ColumnRef, len(cols))
	for i, c := range cols {
		out[i] = &ir.ColumnRef{Table: table, Column: c.name}
	}
	return out, nil
}

// ColumnKind implements Source.
func (s *SQLiteSource) ColumnKind(column string) ColumnKind {
	return s.kinds[column]
}

// RowCount implements Source.
func (s *SQLiteSource) RowCount(ctx context.Context, projection string) (float64, bool, error) {
	return s.scalar(ctx, rowCountQuery(projection))
}

// MaxGroupSize implements Source.
func (s *SQLiteSource) MaxGroupSize(ctx context.Context, projection string, expr ir.Expr) (float64, bool, error) {
	return s.scalar(ctx, maxGroupQuery(projection, expr))
}

// AvgGroupSize implements Source.
func (s *SQLiteSource) AvgGroupSize(ctx context.Context, projection string, expr ir.Expr) (float64, bool, error) {
	n, ok, err := s.scalar(ctx, avgGroupQuery(projection, expr))
	if ok {
		n = float64(int64(n))
	}
	return n, ok, err
}

// DistinctCount implements Source.
func (s *SQLiteSource) DistinctCount(ctx context.Context, projection string, expr ir.Expr) (float64, bool, error) {
	return s.scalar(ctx, distinctQuery(projection, expr))
}

// scalar runs a single-value query. SQL failures and NULL results are
// "unknown".
func (s *SQLiteSource) scalar(ctx context.Context, query string) (float64, bool, error) {
	var v sql.NullFloat64
	err := s.db.QueryRowContext(ctx, query).Scan(&v)
	switch {
	case err == nil:
		return v.Float64, v.Valid, nil
	case ctx.Err() != nil:
		return 0, false, ctx.Err()
	case errors.Is(err, sql.ErrConnDone):
		return 0, false, fmt.Errorf("statistics query: %w", err)
	case errors.Is(err, sql.ErrNoRows):
		return 0, false, nil
	default:
		slog.Debug("statistics query failed", "query", query, "error", err)
		return 0, false, nil
	}
}

var _ Source = (*SQLiteSource)(nil)
