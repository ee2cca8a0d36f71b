package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/autoquery/autoquery/internal/dataset"
	"github.com/autoquery/autoquery/internal/query"
)

const (
	ExecuteQuery         = "execute_query"
	DescribeTable        = "describe_table"
	SampleDistinctValues = "sample_distinct_values"

	DefaultSampleLimit = 10
)

var (
	bareColumnPattern   = regexp.MustCompile(`^[A-Za-z0-9_]+$`)
	quotedColumnPattern = regexp.MustCompile(`^"([A-Za-z0-9_]+)"$`)
)

type Options struct {
	ResultCap   int
	SampleLimit int
}

type sqlTools struct {
	accessor query.Accessor
	schema   dataset.Schema
	opts     Options
}

func NewSQLTools(accessor query.Accessor, schema dataset.Schema, opts Options) []Tool {
	if opts.ResultCap <= 0 {
		opts.ResultCap = query.DefaultResultCap
	}
	if opts.SampleLimit <= 0 {
		opts.SampleLimit = DefaultSampleLimit
	}
	t := &sqlTools{accessor: accessor, schema: schema, opts: opts}
	tableList := strings.Join(schema.TableNames(), ", ")

	return []Tool{
		{
			Name: ExecuteQuery,
			Description: "Run one read-only SQL statement (SELECT or WITH) against the automotive dataset and return the rows as CSV. " +
				"Errors start with a marker such as SQL_EXECUTION_ERROR or IDENTIFIER_NOT_FOUND.",
			Parameters: objectSchema(map[string]any{
				"query": map[string]any{"type": "string", "description": "A single SELECT or WITH statement."},
			}, "query"),
			Invoke: t.executeQuery,
		},
		{
			Name:        DescribeTable,
			Description: "List the columns and types of one table. Valid tables: " + tableList + ".",
			Parameters: objectSchema(map[string]any{
				"table_name": map[string]any{"type": "string", "enum": schema.TableNames()},
			}, "table_name"),
			Invoke: t.describeTable,
		},
		{
			Name: SampleDistinctValues,
			Description: fmt.Sprintf("Return up to %d distinct non-empty values of one column, useful to check spellings before filtering. Valid tables: %s.",
				opts.SampleLimit, tableList),
			Parameters: objectSchema(map[string]any{
				"table_name":  map[string]any{"type": "string", "enum": schema.TableNames()},
				"column_name": map[string]any{"type": "string", "description": "Column name made of letters, digits and underscores."},
			}, "table_name", "column_name"),
			Invoke: t.sampleDistinctValues,
		},
	}
}

func objectSchema(properties map[string]any, required ...string) map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

func (t *sqlTools) executeQuery(ctx context.Context, args json.RawMessage) Output {
	var input struct {
		Query string `json:"query"`
	}
	if err := decodeArgs(args, &input); err != nil {
		return failure(err)
	}
	if err := query.CheckReadOnly(input.Query); err != nil {
		return failure(err)
	}
	return t.render(t.accessor.Query(t.bounded(ctx), input.Query))
}

func (t *sqlTools) describeTable(ctx context.Context, args json.RawMessage) Output {
	var input struct {
		TableName string `json:"table_name"`
	}
	if err := decodeArgs(args, &input); err != nil {
		return failure(err)
	}
	table, err := t.validTable(input.TableName)
	if err != nil {
		return failure(err)
	}
	return t.render(t.accessor.DescribeTable(ctx, table))
}

func (t *sqlTools) sampleDistinctValues(ctx context.Context, args json.RawMessage) Output {
	var input struct {
		TableName  string `json:"table_name"`
		ColumnName string `json:"column_name"`
	}
	if err := decodeArgs(args, &input); err != nil {
		return failure(err)
	}
	table, err := t.validTable(input.TableName)
	if err != nil {
		return failure(err)
	}
	column, err := validColumn(input.ColumnName)
	if err != nil {
		return failure(err)
	}

	col := query.QuoteIdent(column)
	sqlText := fmt.Sprintf(
		"SELECT DISTINCT %s FROM %s WHERE %s IS NOT NULL AND CAST(%s AS TEXT) <> '' LIMIT %d",
		col, query.QuoteIdent(table), col, col, t.opts.SampleLimit,
	)
	return t.render(t.accessor.Query(t.bounded(ctx), sqlText))
}

// bounded limits the rows read to one more than the result cap in bytes.
// Every row adds at least a newline, so the unread rows could never have
// appeared in the truncated text.
func (t *sqlTools) bounded(ctx context.Context) context.Context {
	return query.WithRowLimit(ctx, t.opts.ResultCap+1)
}

func (t *sqlTools) render(result query.Result, err error) Output {
	if err != nil {
		return failure(err)
	}
	text := query.Truncate(query.FormatCSV(result), t.opts.ResultCap)
	if result.Truncated && !strings.HasSuffix(text, query.TruncationMarker) {
		text += query.TruncationMarker
	}
	return Output{Text: text}
}

func (t *sqlTools) validTable(name string) (string, error) {
	name = strings.TrimSpace(name)
	if !t.schema.Has(name) {
		return "", query.Errorf(query.KindPolicy, "", "unknown table %q; valid tables: %s", name, strings.Join(t.schema.TableNames(), ", "))
	}
	return name, nil
}

func validColumn(name string) (string, error) {
	name = strings.TrimSpace(name)
	if bareColumnPattern.MatchString(name) {
		return name, nil
	}
	if match := quotedColumnPattern.FindStringSubmatch(name); match != nil {
		return match[1], nil
	}
	return "", query.Errorf(query.KindPolicy, "", "invalid column name %q: use letters, digits and underscores", name)
}
