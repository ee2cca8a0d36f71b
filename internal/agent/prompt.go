package agent

import (
	"fmt"
	"strings"

	"github.com/autoquery/autoquery/internal/dataset"
	"github.com/autoquery/autoquery/internal/query"
	"github.com/autoquery/autoquery/internal/tools"
)

// SystemPrompt renders the instructions given to the model: the enumerated
// schema, the maker filter policy and the error recovery rules.
func SystemPrompt(schema dataset.Schema, filter dataset.MakerFilter, dialect string) string {
	if strings.TrimSpace(dialect) == "" {
		dialect = "SQL"
	}
	var b strings.Builder

	fmt.Fprintf(&b, "You answer questions about a read-only automotive database (%s dialect) by running SQL with the %s tool.\n", dialect, tools.ExecuteQuery)
	fmt.Fprintf(&b, "Send exactly one SELECT or WITH statement per %s call. Never write INSERT, UPDATE, DELETE or DDL.\n\n", tools.ExecuteQuery)

	b.WriteString("Tables:\n")
	for _, table := range schema.Tables {
		fmt.Fprintf(&b, "- %s: %s Columns: %s.\n", table.Name, table.Description, strings.Join(quotedNames(table.Columns), ", "))
	}
	fmt.Fprintf(&b, "\nTables join on %s. basic_table names the manufacturer column Automaker; the others use Maker.\n", schema.JoinKey)
	b.WriteString("sales_table year columns are named \"2001\" to \"2020\" and must always be double-quoted.\n\n")

	b.WriteString("Filtering by manufacturer:\n")
	switch filter {
	case dataset.FilterCrossReference:
		fmt.Fprintf(&b, "- Resolve manufacturers through %s: join on %s and filter UPPER(%s.Automaker) = UPPER('<maker>').\n",
			dataset.CrossReferenceTable, schema.JoinKey, dataset.CrossReferenceTable)
	default:
		b.WriteString("- Filter each table on its own maker column, comparing case-insensitively with UPPER() on both sides.\n")
	}
	fmt.Fprintf(&b, "- Use %s or %s to check identifiers and spellings when unsure.\n\n", tools.DescribeTable, tools.SampleDistinctValues)

	b.WriteString("Tool results are CSV with a header row. A header with no rows means no matching data.\n")
	fmt.Fprintf(&b, "Results may end with %q when cut short; say so if it matters.\n", strings.TrimSpace(query.TruncationMarker))
	fmt.Fprintf(&b, "Errors start with one of %s, %s, %s, %s or %s and usually quote the failed statement.\n",
		tools.MarkerPolicy, tools.MarkerNotFound, tools.MarkerEngine, tools.MarkerUnavailable, tools.MarkerInternal)
	fmt.Fprintf(&b, "After %s or %s you may correct the statement and retry once. ", tools.MarkerNotFound, tools.MarkerEngine)
	b.WriteString("If it fails again, report the original error plainly.\n")
	fmt.Fprintf(&b, "On %s explain that the data is currently unavailable.\n\n", tools.MarkerUnavailable)

	b.WriteString("Answer in plain language from the returned data only. Do not show SQL unless asked or when reporting an error you could not fix.")
	return b.String()
}

func quotedNames(columns []dataset.Column) []string {
	names := make([]string, 0, len(columns))
	for _, column := range columns {
		if column.Name != "" && column.Name[0] >= '0' && column.Name[0] <= '9' {
			names = append(names, `"`+column.Name+`"`)
			continue
		}
		names = append(names, column.Name)
	}
	return names
}
