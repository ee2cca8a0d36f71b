package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/autoquery/autoquery/internal/query"
)

type DBConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

func Open(ctx context.Context, cfg DBConfig) (*sql.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}

	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return db, nil
}

// Accessor runs every statement inside its own READ ONLY transaction, which
// is always rolled back.
type Accessor struct {
	db     *sql.DB
	closed atomic.Bool
}

func New(db *sql.DB) *Accessor {
	return &Accessor{db: db}
}

func OpenAccessor(ctx context.Context, cfg DBConfig) (*Accessor, error) {
	db, err := Open(ctx, cfg)
	if err != nil {
		return nil, query.Wrap(query.KindUnavailable, "", err)
	}
	return New(db), nil
}

func (a *Accessor) Query(ctx context.Context, sqlText string) (query.Result, error) {
	if err := query.CheckReadOnly(sqlText); err != nil {
		return query.Result{}, err
	}
	return a.run(ctx, sqlText, query.StripTrailingSemicolons(sqlText))
}

func (a *Accessor) DescribeTable(ctx context.Context, table string) (query.Result, error) {
	const describeSQL = `SELECT column_name, data_type FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1 ORDER BY ordinal_position`
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

func (a *Accessor) run(ctx context.Context, original, sqlText string, args ...any) (query.Result, error) {
	if a.closed.Load() {
		return query.Result{}, query.Errorf(query.KindUnavailable, original, "database is closed")
	}

	start := time.Now()
	tx, err := a.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return query.Result{}, classify(original, err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx, sqlText, args...)
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
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) {
		return query.Wrap(query.KindUnavailable, sqlText, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "42P01", pgErr.Code == "42703":
			return query.Wrap(query.KindNotFound, sqlText, err)
		case pgErr.Code == "25006", pgErr.Code == "42501":
			return query.Wrap(query.KindPolicy, sqlText, err)
		case strings.HasPrefix(pgErr.Code, "08"), strings.HasPrefix(pgErr.Code, "57P"):
			return query.Wrap(query.KindUnavailable, sqlText, err)
		}
	}
	return query.Wrap(query.KindEngine, sqlText, err)
}
