package stats

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/dashopt/internal/ir"
)

// newSalesDB writes a small database and opens it read-only.
func newSalesDB(t *testing.T) *SQLiteSource {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sales.db")

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	for _, stmt := range []string{
		`CREATE TABLE sales (region TEXT, amount REAL, day DATE)`,
		`INSERT INTO sales VALUES ('east', 1.0, '2024-01-01'), ('east', 2.0, '2024-01-02'),
			('east', 3.0, '2024-01-02'), ('west', 4.0, '2024-01-03')`,
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	src, err := OpenSQLite(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { src.Close() })
	return src
}

func salesProjection() string {
	s, _ := ir.SQL(ir.NewTableScan("sales"))
	return s
}

func TestSQLiteRowCount(t *testing.T) {
	src := newSalesDB(t)
	ctx := context.Background()

	n, ok, err := src.RowCount(ctx, salesProjection())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 4.0, n)

	filtered, _ := ir.SQL(ir.NewFilter(ir.NewTableScan("sales"), ir.Eq(ir.Col("region"), ir.Str("east"))))
	n, ok, err = src.RowCount(ctx, filtered)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 3.0, n)
}

func TestSQLiteGroupStatistics(t *testing.T) {
	src := newSalesDB(t)
	ctx := context.Background()
	region := ir.Col("region")

	tests := []struct {
		name string
		ask  func() (float64, bool, error)
		want float64
	}{
		{"max group", func() (float64, bool, error) { return src.MaxGroupSize(ctx, salesProjection(), region) }, 3},
		{"avg group truncated", func() (float64, bool, error) { return src.AvgGroupSize(ctx, salesProjection(), region) }, 2},
		{"distinct", func() (float64, bool, error) { return src.DistinctCount(ctx, salesProjection(), region) }, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, ok, err := tt.ask()
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, tt.want, n)
		})
	}
}

func TestSQLiteFailedQueryIsUnknown(t *testing.T) {
	src := newSalesDB(t)

	_, ok, err := src.MaxGroupSize(context.Background(), salesProjection(), ir.Col("no_such_column"))
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = src.RowCount(context.Background(), "SELECT * FROM missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteCancelledContext(t *testing.T) {
	src := newSalesDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := src.RowCount(ctx, salesProjection())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSQLiteSchemaAndKinds(t *testing.T) {
	src := newSalesDB(t)

	cols, err := src.Schema(context.Background(), "sales")
	require.NoError(t, err)
	require.Len(t, cols, 3)
	assert.Equal(t, "region", cols[0].Column)
	assert.Equal(t, "sales", cols[0].Table)

	assert.Equal(t, KindString, src.ColumnKind("region"))
	assert.Equal(t, KindNumber, src.ColumnKind("amount"))
	assert.Equal(t, KindString, src.ColumnKind("day"))
	assert.Equal(t, KindOther, src.ColumnKind("unknown"))

	_, err = src.Schema(context.Background(), "missing")
	assert.Error(t, err)
}

func TestSQLiteIsReadOnly(t *testing.T) {
	src := newSalesDB(t)

	_, err := src.db.Exec(`DELETE FROM sales`)
	assert.Error(t, err)
}

func TestParseColumnKind(t *testing.T) {
	tests := []struct {
		in   string
		want ColumnKind
	}{
		{"TEXT", KindString},
		{"VARCHAR(32)", KindString},
		{"string", KindString},
		{"DATE", KindString},
		{"INTEGER", KindNumber},
		{"double precision", KindNumber},
		{"number", KindNumber},
		{"BLOB", KindOther},
		{"", KindOther},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseColumnKind(tt.in))
		})
	}
}
