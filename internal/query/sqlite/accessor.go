package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/autoquery/autoquery/internal/query"
)

// Accessor opens a fresh read-only connection for every call and closes it
// before returning, so no handle outlives a single query.
type Accessor struct {
	path   string
	closed atomic.Bool
}

func Open(ctx context.Context, path string) (*Accessor, error) {
	if strings.TrimSpace(path) == "" {
		return nil, query.Errorf(query.KindUnavailable, "", "database path is required")
	}
	accessor := &Accessor{path: path}
	if err := accessor.Ping(ctx); err != nil {
		return nil, err
	}
	return accessor, nil
}

func (a *Accessor) Query(ctx context.Context, sqlText string) (query.Result, error) {
	if err := query.CheckReadOnly(sqlText); err != nil {
		return query.Result{}, err
	}
	return a.run(ctx, sqlText, query.StripTrailingSemicolons(sqlText))
}

func (a *Accessor) DescribeTable(ctx context.Context, table string) (query.Result, error) {
	const describeSQL = `SELECT name AS column_name, type AS data_type FROM pragma_table_info(?) ORDER BY cid`
	result, err := a.run(ctx, describeSQL, describeSQL, table)
	if err != nil {
		return query.Result{}, err
	}
	if len(result.Rows) == 0 {
		return query.Result{}, query.Errorf(query.KindNotFound, "", "table %q not found", table)
	}
	return result, nil
}

func (a *Accessor) Ping(ctx context.Context) error {
	db, err := a.open()
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()
	if err := db.PingContext(ctx); err != nil {
		return query.Wrap(query.KindUnavailable, "", fmt.Errorf("ping sqlite: %w", err))
	}
	return nil
}

func (a *Accessor) Close() error {
	a.closed.Store(true)
	return nil
}

func (a *Accessor) Path() string {
	return a.path
}

func (a *Accessor) open() (*sql.DB, error) {
	if a.closed.Load() {
		return nil, query.Errorf(query.KindUnavailable, "", "database is closed")
	}
	if _, err := os.Stat(a.path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, query.Errorf(query.KindUnavailable, "", "database file missing: %s", a.path)
		}
		return nil, query.Wrap(query.KindUnavailable, "", fmt.Errorf("stat database file: %w", err))
	}
	db, err := sql.Open("sqlite", "file:"+a.path+"?mode=ro")
	if err != nil {
		return nil, query.Wrap(query.KindUnavailable, "", fmt.Errorf("open sqlite: %w", err))
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

func (a *Accessor) run(ctx context.Context, original, sqlText string, args ...any) (query.Result, error) {
	db, err := a.open()
	if err != nil {
		var queryErr *query.Error
		if errors.As(err, &queryErr) {
			queryErr.Query = original
		}
		return query.Result{}, err
	}
	defer func() { _ = db.Close() }()

	start := time.Now()
	rows, err := db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return query.Result{}, classify(original, err)
	}
	defer func() { _ = rows.Close() }()

	result, err := query.CollectLimit(rows, query.RowLimit(ctx))
	if err != nil {
		return query.Result{}, classify(original, err)
	}
	result.Duration = time.Since(start)
	return result, nil
}

func classify(sqlText string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return query.Wrap(query.KindUnavailable, sqlText, err)
	}
	message := strings.ToLower(err.Error())
	switch {
	case strings.Contains(message, "readonly database"), strings.Contains(message, "read-only"):
		return query.Wrap(query.KindPolicy, sqlText, err)
	case strings.Contains(message, "no such table"), strings.Contains(message, "no such column"):
		return query.Wrap(query.KindNotFound, sqlText, err)
	case strings.Contains(message, "unable to open database"):
		return query.Wrap(query.KindUnavailable, sqlText, err)
	default:
		return query.Wrap(query.KindEngine, sqlText, err)
	}
}
