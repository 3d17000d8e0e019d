package stats

import (
	"strings"

	"github.com/roach88/dashopt/internal/ir"
)

// Query texts run against the backing store. They mirror the questions the
// cost model asks; the group-size queries rank groups by a synthetic count
// column.

func rowCountQuery(projection string) string {
	return "SELECT count(*) FROM (" + projection + ")"
}

func maxGroupQuery(projection string, expr ir.Expr) string {
	e := expr.String()
	return "SELECT __cnt__ FROM (SELECT " + e + ", count(*) AS __cnt__ FROM (" + projection +
		") GROUP BY " + e + " ORDER BY __cnt__ DESC LIMIT 1)"
}

func avgGroupQuery(projection string, expr ir.Expr) string {
	e := expr.String()
	return "SELECT avg(__cnt__) FROM (SELECT " + e + ", count(*) AS __cnt__ FROM (" + projection +
		") GROUP BY " + e + ")"
}

func distinctQuery(projection string, expr ir.Expr) string {
	return "SELECT count(*) FROM (SELECT DISTINCT " + expr.String() + " FROM (" + projection + "))"
}

// normalizeType lowercases a declared SQL type and strips any size suffix,
// e.g. "VARCHAR(32)" becomes "varchar".
func normalizeType(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if i := strings.IndexByte(s, '('); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	if i := strings.IndexByte(s, ' '); i >= 0 {
		s = s[:i]
	}
	return s
}
