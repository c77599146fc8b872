// Package dataset parses tabular CSV uploads into an in-memory column/row
// model used by the training pipeline, batch detection and analytics.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"fraud-scoring/internal/common"
)

// Dataset is a parsed CSV file: a header and string cells, one row per record.
type Dataset struct {
	Columns []string
	Rows    [][]string
	index   map[string]int
}

// Parse reads a CSV document with a header row. Every data row must have the
// same number of fields as the header.
func Parse(r io.Reader) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: dataset is empty", common.ErrValidation)
		}
		return nil, fmt.Errorf("%w: failed to read CSV header: %v", common.ErrValidation, err)
	}

	ds := &Dataset{
		Columns: make([]string, len(header)),
		index:   make(map[string]int, len(header)),
	}
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		if name == "" {
			return nil, fmt.Errorf("%w: column %d has an empty name", common.ErrValidation, i)
		}
		if _, dup := ds.index[name]; dup {
			return nil, fmt.Errorf("%w: duplicate column %q", common.ErrValidation, name)
		}
		ds.Columns[i] = name
		ds.index[name] = i
	}

	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read CSV line %d: %v", common.ErrValidation, line, err)
		}
		ds.Rows = append(ds.Rows, record)
	}

	return ds, nil
}

// Len returns the number of data rows.
func (d *Dataset) Len() int {
	return len(d.Rows)
}

// HasColumn reports whether the header contains name.
func (d *Dataset) HasColumn(name string) bool {
	_, ok := d.index[name]
	return ok
}

// ColumnIndex returns the position of name in the header, or -1.
func (d *Dataset) ColumnIndex(name string) int {
	if i, ok := d.index[name]; ok {
		return i
	}
	return -1
}

// Cell returns the trimmed raw value at row/col.
func (d *Dataset) Cell(row, col int) string {
	return strings.TrimSpace(d.Rows[row][col])
}

// IsNumeric reports whether every non-missing cell of the column parses as a
// float and at least one cell is present.
func (d *Dataset) IsNumeric(name string) bool {
	col := d.ColumnIndex(name)
	if col < 0 {
		return false
	}

	present := 0
	for row := range d.Rows {
		v, missing, ok := parseCell(d.Cell(row, col))
		if missing {
			continue
		}
		if !ok || math.IsInf(v, 0) {
			return false
		}
		present++
	}
	return present > 0
}

// NumericColumns returns the numeric columns in header order.
func (d *Dataset) NumericColumns() []string {
	var cols []string
	for _, name := range d.Columns {
		if d.IsNumeric(name) {
			cols = append(cols, name)
		}
	}
	return cols
}

// Floats returns a numeric column as float64 values. Missing cells become 0.
func (d *Dataset) Floats(name string) ([]float64, error) {
	col := d.ColumnIndex(name)
	if col < 0 {
		return nil, fmt.Errorf("%w: column %q not found", common.ErrSchema, name)
	}

	out := make([]float64, len(d.Rows))
	for row := range d.Rows {
		v, missing, ok := parseCell(d.Cell(row, col))
		switch {
		case missing:
			out[row] = 0
		case !ok:
			return nil, fmt.Errorf("%w: column %q row %d: %q is not numeric", common.ErrFeatureType, name, row+1, d.Cell(row, col))
		default:
			out[row] = v
		}
	}
	return out, nil
}

// FirstMissing returns the index of the first empty or NaN cell of the
// column, or -1 when every cell holds a value.
func (d *Dataset) FirstMissing(name string) int {
	col := d.ColumnIndex(name)
	if col < 0 {
		return -1
	}
	for row := range d.Rows {
		if _, missing, _ := parseCell(d.Cell(row, col)); missing {
			return row
		}
	}
	return -1
}

// Matrix builds a row-major feature matrix for the given columns.
func (d *Dataset) Matrix(columns []string) ([][]float64, error) {
	matrix := make([][]float64, len(d.Rows))
	for i := range matrix {
		matrix[i] = make([]float64, len(columns))
	}
	for j, name := range columns {
		values, err := d.Floats(name)
		if err != nil {
			return nil, err
		}
		for i, v := range values {
			matrix[i][j] = v
		}
	}
	return matrix, nil
}

// Record returns row i as a transaction-style map. Numeric cells are
// float64, everything else is kept as a string; missing cells are omitted.
func (d *Dataset) Record(i int) map[string]any {
	rec := make(map[string]any, len(d.Columns))
	for col, name := range d.Columns {
		raw := d.Cell(i, col)
		v, missing, ok := parseCell(raw)
		switch {
		case missing:
		case ok:
			rec[name] = v
		default:
			rec[name] = raw
		}
	}
	return rec
}

// parseCell interprets empty and NaN cells as missing values.
func parseCell(s string) (v float64, missing, ok bool) {
	if s == "" {
		return 0, true, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, false
	}
	if math.IsNaN(v) {
		return 0, true, false
	}
	return v, false, true
}
