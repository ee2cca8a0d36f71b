package query

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestFormatCSVHeaderAndRows(t *testing.T) {
	result := Result{
		Columns: []string{"Maker", "Genmodel"},
		Rows: [][]any{
			{"Ford", "Focus"},
			{"Ford", "Fiesta"},
		},
	}
	got := FormatCSV(result)
	want := "Maker,Genmodel\nFord,Focus\nFord,Fiesta"
	if got != want {
		t.Fatalf("FormatCSV() = %q, want %q", got, want)
	}
}

func TestFormatCSVEmptyResultIsHeaderOnly(t *testing.T) {
	got := FormatCSV(Result{Columns: []string{"Maker", "Price"}})
	if got != "Maker,Price" {
		t.Fatalf("FormatCSV() = %q", got)
	}
}

func TestFormatCSVQuotesAndScalars(t *testing.T) {
	stamp := time.Date(2020, 3, 1, 12, 0, 0, 0, time.UTC)
	result := Result{
		Columns: []string{"a", "b", "c", "d", "e", "f"},
		Rows:    [][]any{{"x, y", nil, int32(7), 2.0, true, stamp}},
	}
	got := FormatCSV(result)
	want := "a,b,c,d,e,f\n\"x, y\",,7,2.0,true,2020-03-01T12:00:00Z"
	if got != want {
		t.Fatalf("FormatCSV() = %q, want %q", got, want)
	}
}

func TestParseCSVRoundTripPreservesTypes(t *testing.T) {
	original := Result{
		Columns: []string{"Genmodel", "Price"},
		Rows: [][]any{
			{"Focus", int64(12995)},
			{"Fiesta", 8750.5},
			{"Ka", 1e21},
		},
	}
	parsed, err := ParseCSV(FormatCSV(original))
	if err != nil {
		t.Fatalf("ParseCSV() error = %v", err)
	}
	if !reflect.DeepEqual(parsed.Columns, original.Columns) {
		t.Fatalf("columns = %#v", parsed.Columns)
	}
	if !reflect.DeepEqual(parsed.Rows, original.Rows) {
		t.Fatalf("rows = %#v, want %#v", parsed.Rows, original.Rows)
	}
}

func TestParseCSVKeepsWholeRealsAsFloats(t *testing.T) {
	parsed, err := ParseCSV(FormatCSV(Result{Columns: []string{"v"}, Rows: [][]any{{float64(3)}, {nil}, {"nan"}}}))
	if err != nil {
		t.Fatalf("ParseCSV() error = %v", err)
	}
	if _, ok := parsed.Rows[0][0].(float64); !ok {
		t.Fatalf("row 0 type = %T, want float64", parsed.Rows[0][0])
	}
	if parsed.Rows[1][0] != nil {
		t.Fatalf("row 1 = %#v, want nil", parsed.Rows[1][0])
	}
	if parsed.Rows[2][0] != "nan" {
		t.Fatalf("row 2 = %#v, want text", parsed.Rows[2][0])
	}
}

func TestParseCSVIgnoresTruncationMarker(t *testing.T) {
	text := Truncate("id\n1\n2\n3\n4", 5)
	parsed, err := ParseCSV(text)
	if err != nil {
		t.Fatalf("ParseCSV() error = %v", err)
	}
	if len(parsed.Rows) != 1 || parsed.Rows[0][0] != int64(1) {
		t.Fatalf("rows = %#v", parsed.Rows)
	}
	if strings.Contains(FormatCSV(parsed), "truncated") {
		t.Fatal("marker leaked into parsed rows")
	}
}

func TestFormatCSVQuotesTextThatReadsAsNumberOrNull(t *testing.T) {
	result := Result{
		Columns: []string{"code"},
		Rows:    [][]any{{"007"}, {""}, {"1e3"}, {nil}, {int64(7)}, {"Ford"}},
	}
	got := FormatCSV(result)
	want := "code\n\"007\"\n\"\"\n\"1e3\"\n\n7\nFord"
	if got != want {
		t.Fatalf("FormatCSV() = %q, want %q", got, want)
	}
}

func TestParseCSVKeepsNumericLookingText(t *testing.T) {
	original := Result{
		Columns: []string{"Genmodel_ID", "Color"},
		Rows: [][]any{
			{"007", ""},
			{"1e3", nil},
			{"-12", "say \"hi\", twice"},
			{int64(29), "line\nbreak"},
			{nil, "Black"},
		},
	}
	parsed, err := ParseCSV(FormatCSV(original))
	if err != nil {
		t.Fatalf("ParseCSV() error = %v", err)
	}
	if !reflect.DeepEqual(parsed.Rows, original.Rows) {
		t.Fatalf("rows = %#v, want %#v", parsed.Rows, original.Rows)
	}
}

func TestParseCSVRejectsMalformedText(t *testing.T) {
	for _, text := range []string{
		"a,b\n1",
		"a\n\"open",
		"a\n\"x\"y",
	} {
		if _, err := ParseCSV(text); err == nil {
			t.Fatalf("ParseCSV(%q) error = nil", text)
		}
	}
}
