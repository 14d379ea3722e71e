package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/querydeck/querydeck/internal/dataset"
	"github.com/querydeck/querydeck/internal/parquetio"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrEmptyFile         = errors.New("file has no header row")
)

type Format string

const (
	FormatCSV     Format = "csv"
	FormatTSV     Format = "tsv"
	FormatExcel   Format = "xlsx"
	FormatParquet Format = "parquet"
)

func DetectFormat(filename string) (Format, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		return FormatCSV, nil
	case ".tsv":
		return FormatTSV, nil
	case ".xlsx", ".xlsm":
		return FormatExcel, nil
	case ".parquet":
		return FormatParquet, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(filename))
	}
}

// Parse decodes an uploaded file into a typed table. The format is chosen by
// file extension.
func Parse(filename string, data []byte) (dataset.Table, error) {
	format, err := DetectFormat(filename)
	if err != nil {
		return dataset.Table{}, err
	}
	switch format {
	case FormatCSV:
		return parseDelimited(bytes.NewReader(data), ',')
	case FormatTSV:
		return parseDelimited(bytes.NewReader(data), '\t')
	case FormatExcel:
		return parseExcel(data)
	default:
		table, err := parquetio.Decode(data)
		if err != nil {
			return dataset.Table{}, fmt.Errorf("parse parquet: %w", err)
		}
		return table, nil
	}
}

func parseDelimited(r io.Reader, delimiter rune) (dataset.Table, error) {
	reader := csv.NewReader(r)
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return dataset.Table{}, fmt.Errorf("parse delimited file: %w", err)
	}
	return fromRecords(records)
}

func parseExcel(data []byte) (dataset.Table, error) {
	file, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return dataset.Table{}, fmt.Errorf("open workbook: %w", err)
	}
	defer file.Close()

	sheets := file.GetSheetList()
	if len(sheets) == 0 {
		return dataset.Table{}, ErrEmptyFile
	}
	records, err := file.GetRows(sheets[0])
	if err != nil {
		return dataset.Table{}, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return fromRecords(records)
}

// fromRecords treats the first record as the header, pads ragged rows with
// nulls and infers one type per column.
func fromRecords(records [][]string) (dataset.Table, error) {
	for len(records) > 0 && blankRecord(records[0]) {
		records = records[1:]
	}
	if len(records) == 0 {
		return dataset.Table{}, ErrEmptyFile
	}

	header := records[0]
	body := records[1:]
	width := len(header)
	for _, record := range body {
		if len(record) > width {
			width = len(record)
		}
	}

	columns := make([]dataset.Column, width)
	for i := range columns {
		name := ""
		if i < len(header) {
			name = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
		}
		if name == "" {
			name = "column_" + strconv.Itoa(i+1)
		}
		columns[i].Name = name
	}

	raw := make([][]string, width)
	for i := range raw {
		raw[i] = make([]string, 0, len(body))
	}
	rows := make([][]string, 0, len(body))
	for _, record := range body {
		if blankRecord(record) {
			continue
		}
		padded := make([]string, width)
		copy(padded, record)
		rows = append(rows, padded)
		for i := range padded {
			raw[i] = append(raw[i], padded[i])
		}
	}
	for i := range columns {
		columns[i].Type = dataset.InferType(raw[i])
	}

	table := dataset.Table{Columns: columns, Rows: make([][]any, 0, len(rows))}
	for _, record := range rows {
		row := make([]any, width)
		for i, cell := range record {
			row[i] = dataset.ParseCell(cell, columns[i].Type)
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

func blankRecord(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}
