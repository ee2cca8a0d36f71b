package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/autoquery/autoquery/internal/storage"
)

type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

type Source struct {
	Table  string
	Path   string
	Format Format
}

// source file stems, lower-cased, mapped to table names
var sourceTables = map[string]string{
	"ad_table":    "ad_table",
	"vehicle_ads": "ad_table",
	"price_table": "price_table",
	"sales_table": "sales_table",
	"basic_table": "basic_table",
	"trim_table":  "trim_table",
	"image_table": "img_table",
	"img_table":   "img_table",
}

// TableForFile maps a source file name onto its table, or "" when the file
// is not part of the dataset.
func TableForFile(name string) string {
	base := filepath.Base(name)
	if !storage.IsSourceFile(base) {
		return ""
	}
	stem := strings.ToLower(strings.TrimSuffix(base, filepath.Ext(base)))
	return sourceTables[stem]
}

func formatOf(name string) Format {
	if strings.EqualFold(filepath.Ext(name), ".parquet") {
		return FormatParquet
	}
	return FormatCSV
}

// Discover finds source files for the known tables in dir.
func Discover(dir string) ([]Source, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read source dir %q: %w", dir, err)
	}

	byTable := map[string]Source{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		table := TableForFile(entry.Name())
		if table == "" {
			continue
		}
		if existing, ok := byTable[table]; ok {
			return nil, fmt.Errorf("table %s has more than one source: %s and %s", table, filepath.Base(existing.Path), entry.Name())
		}
		byTable[table] = Source{
			Table:  table,
			Path:   filepath.Join(dir, entry.Name()),
			Format: formatOf(entry.Name()),
		}
	}
	if len(byTable) == 0 {
		return nil, fmt.Errorf("no dataset source files found in %q", dir)
	}

	sources := make([]Source, 0, len(byTable))
	for _, source := range byTable {
		sources = append(sources, source)
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].Table < sources[j].Table })
	return sources, nil
}

// Missing lists schema tables that have no source.
func (s Schema) Missing(sources []Source) []string {
	present := map[string]bool{}
	for _, source := range sources {
		present[source.Table] = true
	}
	missing := make([]string, 0)
	for _, table := range s.Tables {
		if !present[table.Name] {
			missing = append(missing, table.Name)
		}
	}
	return missing
}
