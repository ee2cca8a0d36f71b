package dataset

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"
	_ "modernc.org/sqlite"

	"github.com/autoquery/autoquery/internal/query"
)

// integerColumnTables lists tables whose all-digit column names hold counts
// that are stored as integers with blanks mapped to zero.
var integerColumnTables = map[string]bool{
	"sales_table": true,
}

// BuildDuckDB loads sources into a new DuckDB file at dest. The file is
// written next to dest and renamed into place once complete.
func BuildDuckDB(ctx context.Context, sources []Source, dest string) error {
	if len(sources) == 0 {
		return fmt.Errorf("no sources to build")
	}
	tmp := dest + ".building"
	_ = os.Remove(tmp)

	db, err := sql.Open("duckdb", tmp)
	if err != nil {
		return fmt.Errorf("open duckdb %q: %w", tmp, err)
	}
	for _, source := range sources {
		if err := loadTable(ctx, db, source); err != nil {
			_ = db.Close()
			_ = os.Remove(tmp)
			return err
		}
	}
	if err := db.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close duckdb %q: %w", tmp, err)
	}
	_ = os.Remove(tmp + ".wal")
	if err := os.Rename(tmp, dest); err != nil {
		return fmt.Errorf("move database into place: %w", err)
	}
	return nil
}

// BuildSQLite stages sources in an in-memory DuckDB and copies every table
// into a new SQLite file at dest.
func BuildSQLite(ctx context.Context, sources []Source, dest string) error {
	if len(sources) == 0 {
		return fmt.Errorf("no sources to build")
	}
	staging, err := sql.Open("duckdb", "")
	if err != nil {
		return fmt.Errorf("open staging duckdb: %w", err)
	}
	defer func() { _ = staging.Close() }()
	for _, source := range sources {
		if err := loadTable(ctx, staging, source); err != nil {
			return err
		}
	}

	tmp := dest + ".building"
	_ = os.Remove(tmp)
	target, err := sql.Open("sqlite", tmp)
	if err != nil {
		return fmt.Errorf("open sqlite %q: %w", tmp, err)
	}
	for _, source := range sources {
		if err := copyTable(ctx, staging, target, source.Table); err != nil {
			_ = target.Close()
			_ = os.Remove(tmp)
			return err
		}
	}
	if err := target.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close sqlite %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return fmt.Errorf("move database into place: %w", err)
	}
	return nil
}

func loadTable(ctx context.Context, db *sql.DB, source Source) error {
	reader := readerExpr(source)
	rows, err := db.QueryContext(ctx, "SELECT * FROM "+reader+" LIMIT 0")
	if err != nil {
		return fmt.Errorf("read source %q: %w", source.Path, err)
	}
	columns, err := rows.Columns()
	_ = rows.Close()
	if err != nil {
		return fmt.Errorf("read columns of %q: %w", source.Path, err)
	}

	selectList := make([]string, 0, len(columns))
	for _, column := range columns {
		name := strings.TrimSpace(column)
		expr := query.QuoteIdent(column)
		if integerColumnTables[source.Table] && isAllDigits(name) {
			expr = fmt.Sprintf("COALESCE(TRY_CAST(%s AS BIGINT), 0)", expr)
		}
		selectList = append(selectList, expr+" AS "+query.QuoteIdent(name))
	}

	statement := fmt.Sprintf("CREATE TABLE %s AS SELECT %s FROM %s", query.QuoteIdent(source.Table), strings.Join(selectList, ", "), reader)
	if _, err := db.ExecContext(ctx, statement); err != nil {
		return fmt.Errorf("load table %s from %q: %w", source.Table, source.Path, err)
	}
	return nil
}

func readerExpr(source Source) string {
	if source.Format == FormatParquet {
		return fmt.Sprintf("read_parquet(%s)", quoteString(source.Path))
	}
	return fmt.Sprintf("read_csv_auto(%s, header = true)", quoteString(source.Path))
}

func copyTable(ctx context.Context, from, to *sql.DB, table string) error {
	described, err := from.QueryContext(ctx, `SELECT column_name, data_type FROM information_schema.columns WHERE table_name = ? ORDER BY ordinal_position`, table)
	if err != nil {
		return fmt.Errorf("describe staged table %s: %w", table, err)
	}
	columns, err := query.Collect(described)
	_ = described.Close()
	if err != nil {
		return fmt.Errorf("describe staged table %s: %w", table, err)
	}

	definitions := make([]string, 0, len(columns.Rows))
	names := make([]string, 0, len(columns.Rows))
	for _, row := range columns.Rows {
		name := fmt.Sprint(row[0])
		definitions = append(definitions, query.QuoteIdent(name)+" "+sqliteType(fmt.Sprint(row[1])))
		names = append(names, query.QuoteIdent(name))
	}
	if _, err := to.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", query.QuoteIdent(table), strings.Join(definitions, ", "))); err != nil {
		return fmt.Errorf("create sqlite table %s: %w", table, err)
	}

	rows, err := from.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM %s", strings.Join(names, ", "), query.QuoteIdent(table)))
	if err != nil {
		return fmt.Errorf("read staged table %s: %w", table, err)
	}
	staged, err := query.Collect(rows)
	_ = rows.Close()
	if err != nil {
		return fmt.Errorf("read staged table %s: %w", table, err)
	}

	tx, err := to.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sqlite load: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")
	insert, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", query.QuoteIdent(table), strings.Join(names, ", "), placeholders))
	if err != nil {
		return fmt.Errorf("prepare insert into %s: %w", table, err)
	}
	defer func() { _ = insert.Close() }()

	for _, row := range staged.Rows {
		args := make([]any, len(row))
		for i, value := range row {
			args[i] = sqliteValue(value)
		}
		if _, err := insert.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert into %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sqlite load of %s: %w", table, err)
	}
	return nil
}

func sqliteType(duckType string) string {
	upper := strings.ToUpper(duckType)
	switch {
	case strings.Contains(upper, "INT"), upper == "BOOLEAN":
		return "INTEGER"
	case strings.Contains(upper, "DOUBLE"), strings.Contains(upper, "FLOAT"),
		strings.Contains(upper, "DECIMAL"), strings.Contains(upper, "REAL"):
		return "REAL"
	default:
		return "TEXT"
	}
}

func sqliteValue(value any) any {
	switch typed := value.(type) {
	case bool:
		if typed {
			return int64(1)
		}
		return int64(0)
	case time.Time:
		return typed.Format(time.RFC3339)
	default:
		return typed
	}
}

func isAllDigits(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}
