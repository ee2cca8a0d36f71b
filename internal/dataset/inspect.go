package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/parquet-go/parquet-go"
)

// SourceInfo summarizes one source file before it is loaded or published.
type SourceInfo struct {
	Source  Source
	Rows    int64
	Columns []string
	// Unknown lists header columns the schema does not declare for the table.
	Unknown []string
	// Absent lists schema columns the file does not provide.
	Absent []string
}

// Inspect reads the header and row count of every source and compares the
// columns with the schema.
func (s Schema) Inspect(sources []Source) ([]SourceInfo, error) {
	infos := make([]SourceInfo, 0, len(sources))
	for _, source := range sources {
		var (
			columns []string
			rows    int64
			err     error
		)
		switch source.Format {
		case FormatParquet:
			columns, rows, err = inspectParquet(source.Path)
		default:
			columns, rows, err = inspectCSV(source.Path)
		}
		if err != nil {
			return nil, fmt.Errorf("inspect %s: %w", source.Path, err)
		}
		info := SourceInfo{Source: source, Rows: rows, Columns: columns}
		if table, ok := s.Table(source.Table); ok {
			info.Unknown, info.Absent = compareColumns(table.ColumnNames(), columns)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

func inspectCSV(path string) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = file.Close() }()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, 0, fmt.Errorf("empty file")
		}
		return nil, 0, err
	}
	columns := make([]string, len(header))
	for i, name := range header {
		columns[i] = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
	}

	var rows int64
	for {
		if _, err := reader.Read(); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, 0, err
		}
		rows++
	}
	return columns, rows, nil
}

func inspectParquet(path string) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = file.Close() }()
	stat, err := file.Stat()
	if err != nil {
		return nil, 0, err
	}

	pf, err := parquet.OpenFile(file, stat.Size())
	if err != nil {
		return nil, 0, err
	}
	fields := pf.Schema().Fields()
	columns := make([]string, len(fields))
	for i, field := range fields {
		columns[i] = field.Name()
	}
	return columns, pf.NumRows(), nil
}

func compareColumns(declared, found []string) (unknown, absent []string) {
	declaredSet := make(map[string]bool, len(declared))
	for _, name := range declared {
		declaredSet[strings.ToLower(name)] = true
	}
	foundSet := make(map[string]bool, len(found))
	for _, name := range found {
		foundSet[strings.ToLower(name)] = true
		if !declaredSet[strings.ToLower(name)] {
			unknown = append(unknown, name)
		}
	}
	for _, name := range declared {
		if !foundSet[strings.ToLower(name)] {
			absent = append(absent, name)
		}
	}
	return unknown, absent
}
