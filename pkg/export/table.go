package export

import "fmt"

// Table is a rectangular export: one header row and any number of body rows.
type Table struct {
	Title    string
	Subtitle string
	Columns  []Column
	Rows     [][]string
}

// Column names a field and its relative width in rendered documents.
type Column struct {
	Header string
	Weight float64
}

// Cols builds equally weighted columns.
func Cols(headers ...string) []Column {
	cols := make([]Column, len(headers))
	for i, h := range headers {
		cols[i] = Column{Header: h, Weight: 1}
	}
	return cols
}

// Headers returns the column headers in order.
func (t Table) Headers() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Header
	}
	return out
}

func (t Table) validate() error {
	if len(t.Columns) == 0 {
		return fmt.Errorf("export requires at least one column")
	}
	for i, row := range t.Rows {
		if len(row) != len(t.Columns) {
			return fmt.Errorf("row %d has %d cells, want %d", i, len(row), len(t.Columns))
		}
	}
	return nil
}
