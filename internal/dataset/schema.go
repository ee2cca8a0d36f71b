package dataset

import (
	"fmt"
	"strings"
)

type Column struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

type Table struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Columns     []Column `json:"columns"`
	// MakerColumn names the manufacturer column when the table carries one.
	MakerColumn string `json:"maker_column,omitempty"`
}

type Schema struct {
	Tables []Table `json:"tables"`
	// JoinKey is the model identifier shared across tables.
	JoinKey string `json:"join_key"`
}

type MakerFilter string

const (
	FilterDirect         MakerFilter = "direct"
	FilterCrossReference MakerFilter = "cross_reference"
)

func ParseMakerFilter(raw string) (MakerFilter, error) {
	switch MakerFilter(strings.ToLower(strings.TrimSpace(raw))) {
	case "", FilterDirect:
		return FilterDirect, nil
	case FilterCrossReference:
		return FilterCrossReference, nil
	default:
		return "", fmt.Errorf("invalid maker filter %q", raw)
	}
}

const CrossReferenceTable = "basic_table"

func (s Schema) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for _, table := range s.Tables {
		names = append(names, table.Name)
	}
	return names
}

func (s Schema) Table(name string) (Table, bool) {
	for _, table := range s.Tables {
		if table.Name == name {
			return table, true
		}
	}
	return Table{}, false
}

func (s Schema) Has(name string) bool {
	_, ok := s.Table(name)
	return ok
}

func (t Table) ColumnNames() []string {
	names := make([]string, 0, len(t.Columns))
	for _, column := range t.Columns {
		names = append(names, column.Name)
	}
	return names
}

func salesYears() []Column {
	columns := make([]Column, 0, 20)
	for year := 2020; year >= 2001; year-- {
		columns = append(columns, Column{Name: fmt.Sprintf("%d", year), Type: "INTEGER"})
	}
	return columns
}

// Automotive is the fixed dataset served by every backend.
func Automotive() Schema {
	return Schema{
		JoinKey: "Genmodel_ID",
		Tables: []Table{
			{
				Name:        "ad_table",
				Description: "Used-car advertisement listings.",
				MakerColumn: "Maker",
				Columns: []Column{
					{Name: "Maker", Type: "TEXT"},
					{Name: "Genmodel", Type: "TEXT"},
					{Name: "Genmodel_ID", Type: "TEXT"},
					{Name: "Adv_ID", Type: "TEXT"},
					{Name: "Adv_year", Type: "INTEGER"},
					{Name: "Adv_month", Type: "INTEGER"},
					{Name: "Color", Type: "TEXT"},
					{Name: "Reg_year", Type: "INTEGER"},
					{Name: "Bodytype", Type: "TEXT"},
					{Name: "Runned_Miles", Type: "TEXT", Description: "mileage as advertised"},
					{Name: "Engin_size", Type: "TEXT", Description: "litres with an L suffix, e.g. 1.6L"},
					{Name: "Gearbox", Type: "TEXT"},
					{Name: "Fuel_type", Type: "TEXT"},
					{Name: "Price", Type: "TEXT", Description: "asking price in GBP"},
					{Name: "Engine_power", Type: "REAL"},
					{Name: "Annual_Tax", Type: "TEXT"},
					{Name: "Wheelbase", Type: "REAL"},
					{Name: "Height", Type: "REAL"},
					{Name: "Width", Type: "REAL"},
					{Name: "Length", Type: "REAL"},
					{Name: "Average_mpg", Type: "TEXT"},
					{Name: "Top_speed", Type: "TEXT"},
					{Name: "Seat_num", Type: "REAL"},
					{Name: "Door_num", Type: "REAL"},
				},
			},
			{
				Name:        "price_table",
				Description: "Historical new-car entry prices per model and year.",
				MakerColumn: "Maker",
				Columns: []Column{
					{Name: "Maker", Type: "TEXT"},
					{Name: "Genmodel", Type: "TEXT"},
					{Name: "Genmodel_ID", Type: "TEXT"},
					{Name: "Year", Type: "INTEGER"},
					{Name: "Entry_price", Type: "INTEGER"},
				},
			},
			{
				Name:        "sales_table",
				Description: "Annual sales counts per model; one column per year, quote the year names.",
				MakerColumn: "Maker",
				Columns: append([]Column{
					{Name: "Maker", Type: "TEXT"},
					{Name: "Genmodel", Type: "TEXT"},
					{Name: "Genmodel_ID", Type: "TEXT"},
				}, salesYears()...),
			},
			{
				Name:        "basic_table",
				Description: "Maker and model cross reference.",
				MakerColumn: "Automaker",
				Columns: []Column{
					{Name: "Automaker", Type: "TEXT"},
					{Name: "Automaker_ID", Type: "INTEGER"},
					{Name: "Genmodel", Type: "TEXT"},
					{Name: "Genmodel_ID", Type: "TEXT"},
				},
			},
			{
				Name:        "trim_table",
				Description: "Trim level details per model and year.",
				MakerColumn: "Maker",
				Columns: []Column{
					{Name: "Genmodel_ID", Type: "TEXT"},
					{Name: "Maker", Type: "TEXT"},
					{Name: "Genmodel", Type: "TEXT"},
					{Name: "Trim", Type: "TEXT"},
					{Name: "Year", Type: "INTEGER"},
					{Name: "Price", Type: "INTEGER"},
					{Name: "Gas_emission", Type: "INTEGER"},
					{Name: "Fuel_type", Type: "TEXT"},
					{Name: "Engine_size", Type: "INTEGER"},
				},
			},
			{
				Name:        "img_table",
				Description: "Image metadata for listing photos.",
				Columns: []Column{
					{Name: "Genmodel_ID", Type: "TEXT"},
					{Name: "Image_ID", Type: "TEXT"},
					{Name: "Image_name", Type: "TEXT"},
					{Name: "Predicted_viewpoint", Type: "INTEGER"},
					{Name: "Quality_check", Type: "TEXT"},
				},
			},
		},
	}
}
