package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/autoquery/autoquery/internal/query"
)

func TestQueryReturnsHeaderAndRowsInOrder(t *testing.T) {
	accessor, _ := openFixture(t)

	result, err := accessor.Query(context.Background(), "SELECT Maker, Genmodel FROM basic_table LIMIT 2")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if got := query.FormatCSV(result); got != "Maker,Genmodel\nFord,Focus\nFord,Fiesta" {
		t.Fatalf("FormatCSV() = %q", got)
	}
}

func TestQueryZeroRowsIsHeaderOnly(t *testing.T) {
	accessor, _ := openFixture(t)

	result, err := accessor.Query(context.Background(), "SELECT Maker, Genmodel FROM basic_table WHERE 1 = 0")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if got := query.FormatCSV(result); got != "Maker,Genmodel" {
		t.Fatalf("FormatCSV() = %q", got)
	}
}

func TestQueryKeepsIntegerAndRealTypes(t *testing.T) {
	accessor, _ := openFixture(t)

	result, err := accessor.Query(context.Background(), "SELECT Year, Entry_price FROM price_table ORDER BY Year")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if result.Rows[0][0] != int64(2018) {
		t.Fatalf("Year = %#v", result.Rows[0][0])
	}
	if result.Rows[0][1] != 17995.5 {
		t.Fatalf("Entry_price = %#v", result.Rows[0][1])
	}
}

func TestQueryStopsAtRowLimit(t *testing.T) {
	accessor, _ := openFixture(t)

	ctx := query.WithRowLimit(context.Background(), 5)
	result, err := accessor.Query(ctx, "WITH RECURSIVE n(i) AS (SELECT 1 UNION ALL SELECT i + 1 FROM n WHERE i < 100000) SELECT i FROM n")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(result.Rows) != 5 || !result.Truncated {
		t.Fatalf("rows = %d truncated = %v", len(result.Rows), result.Truncated)
	}
	if result.Rows[4][0] != int64(5) {
		t.Fatalf("last row = %#v", result.Rows[4])
	}

	exact, err := accessor.Query(query.WithRowLimit(context.Background(), 2), "SELECT Maker FROM basic_table LIMIT 2")
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(exact.Rows) != 2 || exact.Truncated {
		t.Fatalf("rows = %d truncated = %v", len(exact.Rows), exact.Truncated)
	}
}

func TestQueryClassifiesErrors(t *testing.T) {
	accessor, _ := openFixture(t)

	tests := []struct {
		sql  string
		kind query.ErrorKind
	}{
		{"UPDATE basic_table SET Maker = 'x'", query.KindPolicy},
		{"SELECT 1; DELETE FROM basic_table", query.KindPolicy},
		{"SELECT * FROM missing_table", query.KindNotFound},
		{"SELECT NoSuchColumn FROM basic_table", query.KindNotFound},
		{"SELECT Maker FROM basic_table WHERE", query.KindEngine},
	}
	for _, tt := range tests {
		_, err := accessor.Query(context.Background(), tt.sql)
		if got := query.KindOf(err); got != tt.kind {
			t.Fatalf("Query(%q) kind = %q, want %q (err = %v)", tt.sql, got, tt.kind, err)
		}
	}
}

func TestPolicyRejectionNeverTouchesTheFile(t *testing.T) {
	accessor, path := openFixture(t)
	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	_, err := accessor.Query(context.Background(), "DROP TABLE basic_table")
	if query.KindOf(err) != query.KindPolicy {
		t.Fatalf("Query() err = %v", err)
	}
	_, err = accessor.Query(context.Background(), "SELECT 1")
	if query.KindOf(err) != query.KindUnavailable {
		t.Fatalf("Query() on missing file err = %v", err)
	}
}

func TestDescribeTable(t *testing.T) {
	accessor, _ := openFixture(t)

	result, err := accessor.DescribeTable(context.Background(), "price_table")
	if err != nil {
		t.Fatalf("DescribeTable() error = %v", err)
	}
	got := query.FormatCSV(result)
	want := "column_name,data_type\nMaker,TEXT\nYear,INTEGER\nEntry_price,REAL"
	if got != want {
		t.Fatalf("DescribeTable() = %q, want %q", got, want)
	}

	if _, err := accessor.DescribeTable(context.Background(), "nope"); query.KindOf(err) != query.KindNotFound {
		t.Fatalf("DescribeTable(nope) err = %v", err)
	}
}

func TestConcurrentQueriesReturnIdenticalResults(t *testing.T) {
	accessor, _ := openFixture(t)
	const workers = 16
	outputs := make([]string, workers)
	errs := make([]error, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := accessor.Query(context.Background(), "SELECT Maker, Genmodel FROM basic_table ORDER BY Genmodel_ID")
			errs[i] = err
			outputs[i] = query.FormatCSV(result)
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d error = %v", i, errs[i])
		}
		if outputs[i] != outputs[0] {
			t.Fatalf("worker %d output = %q", i, outputs[i])
		}
	}
}

func openFixture(t *testing.T) (*Accessor, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.db")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	statements := []string{
		`CREATE TABLE basic_table (Maker TEXT, Genmodel TEXT, Genmodel_ID TEXT)`,
		`INSERT INTO basic_table VALUES ('Ford', 'Focus', '29_1'), ('Ford', 'Fiesta', '29_2'), ('Kia', 'Rio', '44_1')`,
		`CREATE TABLE price_table (Maker TEXT, Year INTEGER, Entry_price REAL)`,
		`INSERT INTO price_table VALUES ('Ford', 2018, 17995.5), ('Ford', 2019, 18250.0)`,
	}
	for _, statement := range statements {
		if _, err := db.Exec(statement); err != nil {
			t.Fatalf("Exec(%q) error = %v", statement, err)
		}
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	accessor, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = accessor.Close() })
	return accessor, path
}
