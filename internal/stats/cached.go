package stats

import (
	"context"

	"github.com/patrickmn/go-cache"

	"github.com/roach88/dashopt/internal/ir"
)

// Cached memoizes the answers of another Source by query text.
//
// Safe for concurrent use. Two goroutines asking the same question at the
// same time may both reach the underlying Source; the later answer wins.
// Errors are never cached.
type Cached struct {
	src     Source
	answers *cache.Cache
	schemas *cache.Cache
}

type answer struct {
	n  float64
	ok bool
}

// NewCached wraps src. Answers never expire.
func NewCached(src Source) *Cached {
	return &Cached{
		src:     src,
		answers: cache.New(cache.NoExpiration, 0),
		schemas: cache.New(cache.NoExpiration, 0),
	}
}

// Len returns the number of memoized answers.
func (c *Cached) Len() int { return c.answers.ItemCount() }

func (c *Cached) lookup(key string, ask func() (float64, bool, error)) (float64, bool, error) {
	if v, found := c.answers.Get(key); found {
		a := v.(answer)
		return a.n, a.ok, nil
	}
	n, ok, err := ask()
	if err != nil {
		return 0, false, err
	}
	c.answers.SetDefault(key, answer{n: n, ok: ok})
	return n, ok, nil
}

// RowCount implements Source.
func (c *Cached) RowCount(ctx context.Context, projection string) (float64, bool, error) {
	return c.lookup(rowCountQuery(projection), func() (float64, bool, error) {
		return c.src.RowCount(ctx, projection)
	})
}

// Schema implements Source.
func (c *Cached) Schema(ctx context.Context, table string) ([]*ir.ColumnRef, error) {
	if v, found := c.schemas.Get(table); found {
		return v.([]*ir.ColumnRef), nil
	}
	cols, err := c.src.Schema(ctx, table)
	if err != nil {
		return nil, err
	}
	c.schemas.SetDefault(table, cols)
	return cols, nil
}

// MaxGroupSize implements Source.
func (c *Cached) MaxGroupSize(ctx context.Context, projection string, expr ir.Expr) (float64, bool, error) {
	return c.lookup(maxGroupQuery(projection, expr), func() (float64, bool, error) {
		return c.src.MaxGroupSize(ctx, projection, expr)
	})
}

// AvgGroupSize implements Source.
func (c *Cached) AvgGroupSize(ctx context.Context, projection string, expr ir.Expr) (float64, bool, error) {
	return c.lookup(avgGroupQuery(projection, expr), func() (float64, bool, error) {
		return c.src.AvgGroupSize(ctx, projection, expr)
	})
}

// DistinctCount implements Source.
func (c *Cached) DistinctCount(ctx context.Context, projection string, expr ir.Expr) (float64, bool, error) {
	return c.lookup(distinctQuery(projection, expr), func() (float64, bool, error) {
		return c.src.DistinctCount(ctx, projection, expr)
	})
}

// ColumnKind implements Source.
func (c *Cached) ColumnKind(column string) ColumnKind {
	return c.src.ColumnKind(column)
}

var _ Source = (*Cached)(nil)
