package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/querydeck/querydeck/internal/dataset"
	"github.com/querydeck/querydeck/internal/parquetio"
	"github.com/querydeck/querydeck/internal/profile"
)

var ErrUnknownFormat = errors.New("unknown export format")

type Format string

const (
	FormatCSV     Format = "csv"
	FormatJSON    Format = "json"
	FormatExcel   Format = "xlsx"
	FormatParquet Format = "parquet"
)

const (
	ResultsSheet = "Query_Results"
	SummarySheet = "Summary_Statistics"
)

func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "csv":
		return FormatCSV, nil
	case "json":
		return FormatJSON, nil
	case "xlsx", "excel":
		return FormatExcel, nil
	case "parquet":
		return FormatParquet, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, raw)
	}
}

func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatExcel:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatParquet:
		return "application/vnd.apache.parquet"
	default:
		return "text/csv"
	}
}

func (f Format) Extension() string {
	return string(f)
}

// Options narrows an export to a column subset and a row limit. A zero
// value exports the whole table.
type Options struct {
	Columns []string
	Limit   int
}

type File struct {
	Format   Format
	Filename string
	Data     []byte
	Rows     int
}

func (f File) ContentType() string {
	return f.Format.ContentType()
}

// Render serializes the table in the requested format after applying opts.
func Render(table dataset.Table, format Format, opts Options) (File, error) {
	selected, err := table.Select(opts.Columns)
	if err != nil {
		return File{}, fmt.Errorf("select export columns: %w", err)
	}
	if opts.Limit > 0 {
		selected = selected.Head(opts.Limit)
	}

	var data []byte
	switch format {
	case FormatCSV:
		data, err = toCSV(selected)
	case FormatJSON:
		data, err = toJSON(selected)
	case FormatExcel:
		data, err = toExcel(selected)
	case FormatParquet:
		data, err = parquetio.EncodeBytes(selected)
	default:
		return File{}, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if err != nil {
		return File{}, fmt.Errorf("render %s export: %w", format, err)
	}
	return File{
		Format:   format,
		Filename: "query_results." + format.Extension(),
		Data:     data,
		Rows:     selected.RowCount(),
	}, nil
}

func toCSV(table dataset.Table) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	writer := csv.NewWriter(buf)
	if err := writer.Write(table.ColumnNames()); err != nil {
		return nil, err
	}
	record := make([]string, len(table.Columns))
	for _, row := range table.Rows {
		for i := range record {
			record[i] = ""
			if i < len(row) {
				record[i] = dataset.FormatValue(row[i])
			}
		}
		if err := writer.Write(record); err != nil {
			return nil, err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// toJSON writes records in column order, which a map would not keep.
func toJSON(table dataset.Table) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	buf.WriteByte('[')
	for r, row := range table.Rows {
		if r > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('{')
		for i, column := range table.Columns {
			if i > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(column.Name)
			if err != nil {
				return nil, err
			}
			var cell any
			if i < len(row) {
				cell = row[i]
			}
			value, err := json.Marshal(dataset.JSONValue(cell))
			if err != nil {
				return nil, err
			}
			buf.Write(key)
			buf.WriteByte(':')
			buf.Write(value)
		}
		buf.WriteByte('}')
	}
	buf.WriteByte(']')

	out := bytes.NewBuffer(nil)
	if err := json.Indent(out, buf.Bytes(), "", "  "); err != nil {
		return nil, err
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

// JSONRows converts table rows to values encoding/json can always encode.
func JSONRows(table dataset.Table) [][]any {
	rows := make([][]any, len(table.Rows))
	for i, row := range table.Rows {
		converted := make([]any, len(row))
		for j, cell := range row {
			converted[j] = dataset.JSONValue(cell)
		}
		rows[i] = converted
	}
	return rows
}

func toExcel(table dataset.Table) ([]byte, error) {
	book := excelize.NewFile()
	defer func() { _ = book.Close() }()

	if err := book.SetSheetName(book.GetSheetName(0), ResultsSheet); err != nil {
		return nil, err
	}
	if err := writeSheet(book, ResultsSheet, table.ColumnNames(), table.Rows); err != nil {
		return nil, err
	}

	summaries := profile.DescribeTable(table)
	if len(summaries) > 0 {
		if _, err := book.NewSheet(SummarySheet); err != nil {
			return nil, err
		}
		header := []string{"statistic"}
		for _, summary := range summaries {
			header = append(header, summary.Column)
		}
		stats := []struct {
			label string
			pick  func(profile.NumericSummary) float64
		}{
			{"count", func(s profile.NumericSummary) float64 { return float64(s.Count) }},
			{"mean", func(s profile.NumericSummary) float64 { return s.Mean }},
			{"std", func(s profile.NumericSummary) float64 { return s.Std }},
			{"min", func(s profile.NumericSummary) float64 { return s.Min }},
			{"25%", func(s profile.NumericSummary) float64 { return s.P25 }},
			{"50%", func(s profile.NumericSummary) float64 { return s.P50 }},
			{"75%", func(s profile.NumericSummary) float64 { return s.P75 }},
			{"max", func(s profile.NumericSummary) float64 { return s.Max }},
		}
		rows := make([][]any, 0, len(stats))
		for _, stat := range stats {
			row := []any{stat.label}
			for _, summary := range summaries {
				row = append(row, stat.pick(summary))
			}
			rows = append(rows, row)
		}
		if err := writeSheet(book, SummarySheet, header, rows); err != nil {
			return nil, err
		}
	}

	buf, err := book.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeSheet(book *excelize.File, sheet string, header []string, rows [][]any) error {
	headerRow := make([]any, len(header))
	for i, name := range header {
		headerRow[i] = name
	}
	if err := book.SetSheetRow(sheet, "A1", &headerRow); err != nil {
		return fmt.Errorf("write %s header: %w", sheet, err)
	}
	for r, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		values := make([]any, len(row))
		copy(values, row)
		if err := book.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, r+1, err)
		}
	}
	return nil
}
