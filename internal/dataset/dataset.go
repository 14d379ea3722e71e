package dataset

import (
	"errors"
	"fmt"
	"time"
)

var ErrUnknownColumn = errors.New("unknown column")

type DType string

const (
	TypeInteger  DType = "integer"
	TypeFloat    DType = "float"
	TypeText     DType = "text"
	TypeBoolean  DType = "boolean"
	TypeDatetime DType = "datetime"
)

func (t DType) String() string {
	if t == "" {
		return string(TypeText)
	}
	return string(t)
}

func (t DType) Numeric() bool {
	return t == TypeInteger || t == TypeFloat
}

func ParseDType(raw string) (DType, error) {
	switch DType(raw) {
	case TypeInteger, TypeFloat, TypeText, TypeBoolean, TypeDatetime:
		return DType(raw), nil
	default:
		return "", fmt.Errorf("unknown column type %q", raw)
	}
}

type Column struct {
	Name string `json:"name"`
	Type DType  `json:"type"`
}

// Table holds rows in column order. Cell values are nil, int64, float64,
// string, bool or time.Time.
type Table struct {
	Columns []Column
	Rows    [][]any
}

type Dataset struct {
	Name     string
	Source   string
	Table    Table
	LoadedAt time.Time
}

func (t Table) RowCount() int {
	return len(t.Rows)
}

func (t Table) ColumnNames() []string {
	names := make([]string, 0, len(t.Columns))
	for _, column := range t.Columns {
		names = append(names, column.Name)
	}
	return names
}

// ColumnIndex returns the first column with the given name, or -1.
func (t Table) ColumnIndex(name string) int {
	for i, column := range t.Columns {
		if column.Name == name {
			return i
		}
	}
	return -1
}

func (t Table) Values(index int) []any {
	if index < 0 || index >= len(t.Columns) {
		return nil
	}
	values := make([]any, len(t.Rows))
	for i, row := range t.Rows {
		if index < len(row) {
			values[i] = row[index]
		}
	}
	return values
}

func (t Table) Head(n int) Table {
	if n < 0 || n >= len(t.Rows) {
		return t
	}
	return Table{Columns: t.Columns, Rows: t.Rows[:n]}
}

func (t Table) Tail(n int) Table {
	if n < 0 || n >= len(t.Rows) {
		return t
	}
	return Table{Columns: t.Columns, Rows: t.Rows[len(t.Rows)-n:]}
}

// Select projects the table onto the named columns, in the given order.
func (t Table) Select(names []string) (Table, error) {
	if len(names) == 0 {
		return t, nil
	}
	indexes := make([]int, 0, len(names))
	columns := make([]Column, 0, len(names))
	for _, name := range names {
		idx := t.ColumnIndex(name)
		if idx < 0 {
			return Table{}, fmt.Errorf("%w %q", ErrUnknownColumn, name)
		}
		indexes = append(indexes, idx)
		columns = append(columns, t.Columns[idx])
	}
	rows := make([][]any, 0, len(t.Rows))
	for _, row := range t.Rows {
		projected := make([]any, len(indexes))
		for i, idx := range indexes {
			if idx < len(row) {
				projected[i] = row[idx]
			}
		}
		rows = append(rows, projected)
	}
	return Table{Columns: columns, Rows: rows}, nil
}

// Records returns each row as a column-name keyed map. Later duplicate
// column names overwrite earlier ones.
func (t Table) Records() []map[string]any {
	records := make([]map[string]any, 0, len(t.Rows))
	for _, row := range t.Rows {
		record := make(map[string]any, len(t.Columns))
		for i, column := range t.Columns {
			var value any
			if i < len(row) {
				value = row[i]
			}
			record[column.Name] = value
		}
		records = append(records, record)
	}
	return records
}
