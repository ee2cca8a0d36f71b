package dataset

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestTableForFile(t *testing.T) {
	cases := map[string]string{
		"Ad_table.csv":           "ad_table",
		"vehicle_ads.csv":        "ad_table",
		"tables/Image_table.csv": "img_table",
		"Price_table.parquet":    "price_table",
		"Trim_table.txt":         "",
		"unknown.csv":            "",
	}
	for name, want := range cases {
		if got := TableForFile(name); got != want {
			t.Fatalf("TableForFile(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestDiscoverRejectsDuplicateSources(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"Ad_table.csv", "vehicle_ads.csv"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("Maker\n"), 0o644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	}
	if _, err := Discover(dir); err == nil {
		t.Fatal("Discover() expected duplicate error")
	}
}

func TestDiscoverEmptyDirFails(t *testing.T) {
	if _, err := Discover(t.TempDir()); err == nil {
		t.Fatal("Discover() expected error for empty dir")
	}
}

func TestSchemaLookupsAndMissing(t *testing.T) {
	schema := Automotive()
	want := []string{"ad_table", "price_table", "sales_table", "basic_table", "trim_table", "img_table"}
	if got := schema.TableNames(); !reflect.DeepEqual(got, want) {
		t.Fatalf("TableNames() = %#v", got)
	}
	if schema.Has("users") {
		t.Fatal("unexpected table users")
	}
	sales, ok := schema.Table("sales_table")
	if !ok || len(sales.Columns) != 23 {
		t.Fatalf("sales_table = %#v", sales)
	}
	basic, _ := schema.Table("basic_table")
	if basic.MakerColumn != "Automaker" {
		t.Fatalf("basic_table maker column = %q", basic.MakerColumn)
	}

	missing := schema.Missing([]Source{{Table: "ad_table"}, {Table: "basic_table"}})
	if !reflect.DeepEqual(missing, []string{"price_table", "sales_table", "trim_table", "img_table"}) {
		t.Fatalf("Missing() = %#v", missing)
	}
}

func TestParseMakerFilter(t *testing.T) {
	if got, err := ParseMakerFilter(""); err != nil || got != FilterDirect {
		t.Fatalf("ParseMakerFilter(\"\") = %q, %v", got, err)
	}
	if got, err := ParseMakerFilter("Cross_Reference"); err != nil || got != FilterCrossReference {
		t.Fatalf("ParseMakerFilter(cross) = %q, %v", got, err)
	}
	if _, err := ParseMakerFilter("fuzzy"); err == nil {
		t.Fatal("ParseMakerFilter(fuzzy) expected error")
	}
}
