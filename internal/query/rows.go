package query

import (
	"context"
	"database/sql"
	"fmt"
)

type rowLimitKey struct{}

// WithRowLimit bounds how many rows an Accessor reads for queries run with
// the returned context. A limit of zero or less removes the bound.
func WithRowLimit(ctx context.Context, limit int) context.Context {
	return context.WithValue(ctx, rowLimitKey{}, limit)
}

func RowLimit(ctx context.Context) int {
	limit, _ := ctx.Value(rowLimitKey{}).(int)
	return limit
}

// Collect drains rows into a Result with normalized values.
func Collect(rows *sql.Rows) (Result, error) {
	return CollectLimit(rows, 0)
}

// CollectLimit reads at most limit rows and sets Truncated when more were
// available. The caller still closes rows.
func CollectLimit(rows *sql.Rows, limit int) (Result, error) {
	columns, err := rows.Columns()
	if err != nil {
		return Result{}, fmt.Errorf("query columns: %w", err)
	}

	result := Result{Columns: columns, Rows: make([][]any, 0)}
	for rows.Next() {
		if limit > 0 && len(result.Rows) == limit {
			result.Truncated = true
			break
		}
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return Result{}, fmt.Errorf("scan row: %w", err)
		}
		result.Rows = append(result.Rows, normalizeRow(values))
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}
