package query

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// FormatCSV renders a header line followed by one line per row. A result
// without rows renders as the header alone. Text that would read back as a
// number or NULL is always quoted so ParseCSV returns it as text.
func FormatCSV(result Result) string {
	if len(result.Columns) == 0 {
		return ""
	}
	var b strings.Builder
	for i, column := range result.Columns {
		if i > 0 {
			b.WriteByte(',')
		}
		writeField(&b, column, false)
	}
	for _, row := range result.Rows {
		b.WriteByte('\n')
		for i := range result.Columns {
			if i > 0 {
				b.WriteByte(',')
			}
			if i >= len(row) {
				continue
			}
			value := NormalizeValue(row[i])
			text := FormatValue(value)
			_, isText := value.(string)
			writeField(&b, text, isText && !readsAsText(text))
		}
	}
	return b.String()
}

func writeField(b *strings.Builder, field string, forceQuote bool) {
	if !forceQuote && !fieldNeedsQuotes(field) {
		b.WriteString(field)
		return
	}
	b.WriteByte('"')
	b.WriteString(strings.ReplaceAll(field, `"`, `""`))
	b.WriteByte('"')
}

func fieldNeedsQuotes(field string) bool {
	if field == "" {
		return false
	}
	if field == `\.` || field[0] == ' ' || field[0] == '\t' {
		return true
	}
	return strings.ContainsAny(field, ",\"\r\n")
}

func FormatValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return typed
	case []byte:
		return string(typed)
	case bool:
		return strconv.FormatBool(typed)
	case int64:
		return strconv.FormatInt(typed, 10)
	case float64:
		return formatFloat(typed)
	case time.Time:
		return typed.Format(time.RFC3339)
	default:
		return FormatValue(NormalizeValue(value))
	}
}

// formatFloat keeps a decimal point or exponent so reals stay distinguishable
// from integers after parsing.
func formatFloat(value float64) string {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return strconv.FormatFloat(value, 'g', -1, 64)
	}
	text := strconv.FormatFloat(value, 'g', -1, 64)
	if !strings.ContainsAny(text, ".e") {
		text += ".0"
	}
	return text
}

// NormalizeValue maps driver scan values onto nil, int64, float64, string,
// bool and time.Time.
func NormalizeValue(value any) any {
	switch typed := value.(type) {
	case nil, string, bool, int64, float64, time.Time:
		return typed
	case []byte:
		return string(typed)
	case int:
		return int64(typed)
	case int8:
		return int64(typed)
	case int16:
		return int64(typed)
	case int32:
		return int64(typed)
	case uint8:
		return int64(typed)
	case uint16:
		return int64(typed)
	case uint32:
		return int64(typed)
	case uint:
		if uint64(typed) <= math.MaxInt64 {
			return int64(typed)
		}
		return strconv.FormatUint(uint64(typed), 10)
	case uint64:
		if typed <= math.MaxInt64 {
			return int64(typed)
		}
		return strconv.FormatUint(typed, 10)
	case float32:
		return float64(typed)
	case json.Number:
		if n, err := typed.Int64(); err == nil {
			return n
		}
		if f, err := typed.Float64(); err == nil {
			return f
		}
		return typed.String()
	case *big.Int:
		if typed == nil {
			return nil
		}
		if typed.IsInt64() {
			return typed.Int64()
		}
		return typed.String()
	case interface{ Float64() float64 }:
		return typed.Float64()
	case fmt.Stringer:
		return typed.String()
	default:
		return fmt.Sprint(typed)
	}
}

func normalizeRow(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		normalized[i] = NormalizeValue(value)
	}
	return normalized
}

// ParseCSV reads text produced by FormatCSV back into a Result. Quoted
// fields are text; bare fields are inferred as int64, then float64, then
// string, and empty bare fields become nil.
func ParseCSV(text string) (Result, error) {
	text = strings.TrimSuffix(text, TruncationMarker)
	if strings.TrimSpace(text) == "" {
		return Result{}, nil
	}
	records, err := scanRecords(text)
	if err != nil {
		return Result{}, fmt.Errorf("parse csv: %w", err)
	}

	header := records[0]
	result := Result{Columns: make([]string, len(header)), Rows: make([][]any, 0, len(records)-1)}
	for i, field := range header {
		result.Columns[i] = field.text
	}
	for n, record := range records[1:] {
		if len(record) != len(header) {
			return Result{}, fmt.Errorf("parse csv: record %d has %d fields, want %d", n+2, len(record), len(header))
		}
		row := make([]any, len(record))
		for i, field := range record {
			if field.quoted {
				row[i] = field.text
			} else {
				row[i] = inferValue(field.text)
			}
		}
		result.Rows = append(result.Rows, row)
	}
	return result, nil
}

type csvField struct {
	text   string
	quoted bool
}

// scanRecords splits RFC 4180 text into records, remembering which fields
// were quoted. Every line is a record, so an empty line is one empty field.
func scanRecords(text string) ([][]csvField, error) {
	var (
		records [][]csvField
		record  []csvField
		field   strings.Builder
		quoted  bool
	)
	endField := func() {
		record = append(record, csvField{text: field.String(), quoted: quoted})
		field.Reset()
		quoted = false
	}

	i := 0
	for i < len(text) {
		c := text[i]
		switch {
		case c == '"' && field.Len() == 0 && !quoted:
			quoted = true
			i++
			for {
				if i >= len(text) {
					return nil, fmt.Errorf("unterminated quoted field in record %d", len(records)+1)
				}
				if text[i] == '"' {
					if i+1 < len(text) && text[i+1] == '"' {
						field.WriteByte('"')
						i += 2
						continue
					}
					i++
					break
				}
				field.WriteByte(text[i])
				i++
			}
			if i < len(text) && text[i] != ',' && text[i] != '\n' && text[i] != '\r' {
				return nil, fmt.Errorf("unexpected %q after quoted field in record %d", text[i], len(records)+1)
			}
		case c == ',':
			endField()
			i++
		case c == '\r' && i+1 < len(text) && text[i+1] == '\n':
			i++
		case c == '\n':
			endField()
			records = append(records, record)
			record = nil
			i++
		default:
			field.WriteByte(c)
			i++
		}
	}
	endField()
	records = append(records, record)
	return records, nil
}

func inferValue(field string) any {
	if field == "" {
		return nil
	}
	if !looksNumeric(field) {
		return field
	}
	if value, err := strconv.ParseInt(field, 10, 64); err == nil {
		return value
	}
	if value, err := strconv.ParseFloat(field, 64); err == nil {
		return value
	}
	return field
}

func readsAsText(field string) bool {
	value, ok := inferValue(field).(string)
	return ok && value == field
}

func looksNumeric(field string) bool {
	for i := 0; i < len(field); i++ {
		c := field[i]
		switch {
		case c >= '0' && c <= '9':
		case c == '-' || c == '+' || c == '.' || c == 'e' || c == 'E':
		default:
			return false
		}
	}
	return true
}
