package dataset

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInspectReportsRowsAndColumnDrift(t *testing.T) {
	dir := writeSourceFixtures(t)
	sources, err := Discover(dir)
	if err != nil {
		t.Fatalf("Discover() error = %v", err)
	}

	infos, err := Automotive().Inspect(sources)
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("len(infos) = %d", len(infos))
	}
	byTable := map[string]SourceInfo{}
	for _, info := range infos {
		byTable[info.Source.Table] = info
	}

	basic := byTable["basic_table"]
	if basic.Rows != 2 || len(basic.Columns) != 4 || basic.Columns[0] != "Automaker" {
		t.Fatalf("basic = %+v", basic)
	}
	if len(basic.Unknown) != 0 || len(basic.Absent) != 0 {
		t.Fatalf("basic drift unknown=%v absent=%v", basic.Unknown, basic.Absent)
	}

	price := byTable["price_table"]
	if price.Rows != 2 || len(price.Columns) != 5 || len(price.Absent) != 0 {
		t.Fatalf("price = %+v", price)
	}

	sales := byTable["sales_table"]
	if len(sales.Absent) != 18 || sales.Absent[0] != "2018" {
		t.Fatalf("sales absent = %v", sales.Absent)
	}
}

func TestInspectFlagsUnknownColumnsAndEmptyFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Img_table.csv")
	if err := os.WriteFile(path, []byte("Genmodel_ID,Image_ID,Image_name,Predicted_viewpoint,Quality_check,Extra\n1_1,1,a.jpg,0,P,x\n"), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	infos, err := Automotive().Inspect([]Source{{Table: "img_table", Path: path, Format: FormatCSV}})
	if err != nil {
		t.Fatalf("Inspect() error = %v", err)
	}
	if len(infos[0].Unknown) != 1 || infos[0].Unknown[0] != "Extra" || infos[0].Rows != 1 {
		t.Fatalf("info = %+v", infos[0])
	}

	empty := filepath.Join(dir, "Trim_table.csv")
	if err := os.WriteFile(empty, nil, 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	if _, err := Automotive().Inspect([]Source{{Table: "trim_table", Path: empty, Format: FormatCSV}}); err == nil {
		t.Fatal("expected error for empty file")
	}
}
