package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/autoquery/autoquery/internal/query"
)

// Accessor serves a bundled DuckDB file. DuckDB permits one database
// instance per file per process, so the read-only handle is opened once and
// shared by all callers.
type Accessor struct {
	db     *sql.DB
	path   string
	closed atomic.Bool
}

// connectionOptions keeps statements inside the bundled file. Host files and
// URLs are unreachable and the configuration cannot be changed with SET.
const connectionOptions = "?access_mode=read_only&enable_external_access=false&lock_configuration=true"

func Open(ctx context.Context, path string) (*Accessor, error) {
	if strings.TrimSpace(path) == "" {
		return nil, query.Errorf(query.KindUnavailable, "", "database path is required")
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, query.Errorf(query.KindUnavailable, "", "database file missing: %s", path)
		}
		return nil, query.Wrap(query.KindUnavailable, "", fmt.Errorf("stat database file: %w", err))
	}

	db, err := sql.Open("duckdb", path+connectionOptions)
	if err != nil {
		return nil, query.Wrap(query.KindUnavailable, "", fmt.Errorf("open duckdb: %w", err))
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, query.Wrap(query.KindUnavailable, "", fmt.Errorf("ping duckdb: %w", err))
	}
	return &Accessor{db: db, path: path}, nil
}

func (a *Accessor) Query(ctx context.Context, sqlText string) (query.Result, error) {
	if err := query.CheckReadOnly(sqlText); err != nil {
		return query.Result{}, err
	}
	if a.closed.Load() {
		return query.Result{}, query.Errorf(query.KindUnavailable, sqlText, "database is closed")
	}
	return a.run(ctx, sqlText, query.StripTrailingSemicolons(sqlText))
}

func (a *Accessor) DescribeTable(ctx context.Context, table string) (query.Result, error) {
	if a.closed.Load() {
		return query.Result{}, query.Errorf(query.KindUnavailable, "", "database is closed")
	}
	const describeSQL = `SELECT column_name, data_type FROM information_schema.columns WHERE table_schema = 'main' AND table_name = ? ORDER BY ordinal_position`
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
	if a.closed.Load() {
		return query.Errorf(query.KindUnavailable, "", "database is closed")
	}
	if err := a.db.PingContext(ctx); err != nil {
		return query.Wrap(query.KindUnavailable, "", err)
	}
	return nil
}

func (a *Accessor) Close() error {
	if a.closed.Swap(true) {
		return nil
	}
	return a.db.Close()
}

func (a *Accessor) Path() string {
	return a.path
}

func (a *Accessor) run(ctx context.Context, original, sqlText string, args ...any) (query.Result, error) {
	start := time.Now()
	rows, err := a.db.QueryContext(ctx, sqlText, args...)
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
	if errors.Is(err, sql.ErrConnDone) {
		return query.Wrap(query.KindUnavailable, sqlText, err)
	}
	message := err.Error()
	switch {
	case strings.Contains(message, "read-only"), strings.Contains(message, "read only"),
		strings.Contains(message, "Permission Error"), strings.Contains(message, "disabled by configuration"):
		return query.Wrap(query.KindPolicy, sqlText, err)
	case strings.Contains(message, "Catalog Error"),
		strings.Contains(message, "Binder Error") && (strings.Contains(message, "not found") || strings.Contains(message, "does not exist")):
		return query.Wrap(query.KindNotFound, sqlText, err)
	default:
		return query.Wrap(query.KindEngine, sqlText, err)
	}
}
