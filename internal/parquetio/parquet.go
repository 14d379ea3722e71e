package parquetio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/querydeck/querydeck/internal/dataset"
)

const readBatchSize = 256

// UniqueColumnNames returns the column names with later duplicates suffixed
// _2, _3 and so on. Parquet groups cannot hold two fields of the same name.
func UniqueColumnNames(columns []dataset.Column) []string {
	seen := make(map[string]int, len(columns))
	taken := make(map[string]bool, len(columns))
	for _, column := range columns {
		taken[column.Name] = true
	}
	out := make([]string, len(columns))
	for i, column := range columns {
		name := column.Name
		if name == "" {
			name = "column_" + strconv.Itoa(i+1)
		}
		seen[name]++
		if seen[name] > 1 {
			candidate := name
			for n := seen[name]; ; n++ {
				candidate = name + "_" + strconv.Itoa(n)
				if !taken[candidate] {
					break
				}
			}
			taken[candidate] = true
			name = candidate
		}
		out[i] = name
	}
	return out
}

func nodeFor(dtype dataset.DType) parquet.Node {
	switch dtype {
	case dataset.TypeInteger:
		return parquet.Optional(parquet.Int(64))
	case dataset.TypeFloat:
		return parquet.Optional(parquet.Leaf(parquet.DoubleType))
	case dataset.TypeBoolean:
		return parquet.Optional(parquet.Leaf(parquet.BooleanType))
	case dataset.TypeDatetime:
		return parquet.Optional(parquet.Timestamp(parquet.Microsecond))
	default:
		return parquet.Optional(parquet.String())
	}
}

// Encode writes the table as a single Parquet file with one optional leaf
// column per table column.
func Encode(w io.Writer, table dataset.Table) error {
	if len(table.Columns) == 0 {
		return fmt.Errorf("table has no columns")
	}
	names := UniqueColumnNames(table.Columns)
	group := parquet.Group{}
	for i, column := range table.Columns {
		group[names[i]] = nodeFor(column.Type)
	}
	schema := parquet.NewSchema("querydeck", group)

	// Group fields are ordered by name, so map table positions onto leaf
	// column indexes.
	leafIndex := make(map[string]int, len(names))
	for i, field := range schema.Fields() {
		leafIndex[field.Name()] = i
	}
	positions := make([]int, len(names))
	for i, name := range names {
		positions[i] = leafIndex[name]
	}

	writer := parquet.NewWriter(w, schema)
	rows := make([]parquet.Row, 0, len(table.Rows))
	for rowIdx, source := range table.Rows {
		row := make(parquet.Row, len(names))
		for colIdx, column := range table.Columns {
			var cell any
			if colIdx < len(source) {
				cell = source[colIdx]
			}
			value, err := valueFor(column.Type, cell)
			if err != nil {
				return fmt.Errorf("row %d column %q: %w", rowIdx, column.Name, err)
			}
			leaf := positions[colIdx]
			if value.IsNull() {
				row[leaf] = parquet.NullValue().Level(0, 0, leaf)
			} else {
				row[leaf] = value.Level(0, 1, leaf)
			}
		}
		rows = append(rows, row)
	}
	if len(rows) > 0 {
		if _, err := writer.WriteRows(rows); err != nil {
			return fmt.Errorf("write parquet rows: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

func EncodeBytes(table dataset.Table) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	if err := Encode(buf, table); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func valueFor(dtype dataset.DType, cell any) (parquet.Value, error) {
	if cell == nil {
		return parquet.NullValue(), nil
	}
	switch dtype {
	case dataset.TypeInteger:
		switch v := cell.(type) {
		case int64:
			return parquet.Int64Value(v), nil
		case int:
			return parquet.Int64Value(int64(v)), nil
		case float64:
			return parquet.Int64Value(int64(v)), nil
		}
	case dataset.TypeFloat:
		switch v := cell.(type) {
		case float64:
			if math.IsNaN(v) {
				return parquet.NullValue(), nil
			}
			return parquet.DoubleValue(v), nil
		case int64:
			return parquet.DoubleValue(float64(v)), nil
		}
	case dataset.TypeBoolean:
		if v, ok := cell.(bool); ok {
			return parquet.BooleanValue(v), nil
		}
	case dataset.TypeDatetime:
		if v, ok := cell.(time.Time); ok {
			return parquet.Int64Value(v.UTC().UnixMicro()), nil
		}
	default:
		return parquet.ByteArrayValue([]byte(dataset.FormatValue(cell))), nil
	}
	return parquet.Value{}, fmt.Errorf("unexpected %T for %s column", cell, dtype)
}

// Decode reads a flat Parquet file into a table. Nested columns are rejected.
func Decode(data []byte) (dataset.Table, error) {
	reader := bytes.NewReader(data)
	file, err := parquet.OpenFile(reader, int64(len(data)))
	if err != nil {
		return dataset.Table{}, fmt.Errorf("open parquet file: %w", err)
	}

	fields := file.Schema().Fields()
	columns := make([]dataset.Column, len(fields))
	decoders := make([]func(parquet.Value) any, len(fields))
	for i, field := range fields {
		if !field.Leaf() {
			return dataset.Table{}, fmt.Errorf("nested parquet column %q is not supported", field.Name())
		}
		dtype, decode := decoderFor(field.Type())
		columns[i] = dataset.Column{Name: field.Name(), Type: dtype}
		decoders[i] = decode
	}

	rowReader := parquet.NewReader(reader)
	defer rowReader.Close()

	table := dataset.Table{Columns: columns}
	buf := make([]parquet.Row, readBatchSize)
	for {
		n, err := rowReader.ReadRows(buf)
		for _, source := range buf[:n] {
			row := make([]any, len(columns))
			for _, value := range source {
				idx := value.Column()
				if idx < 0 || idx >= len(columns) || value.IsNull() {
					continue
				}
				row[idx] = decoders[idx](value)
			}
			table.Rows = append(table.Rows, row)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return dataset.Table{}, fmt.Errorf("read parquet rows: %w", err)
		}
		if n == 0 {
			break
		}
	}
	return table, nil
}

func decoderFor(typ parquet.Type) (dataset.DType, func(parquet.Value) any) {
	logical := typ.LogicalType()
	if logical != nil {
		switch {
		case logical.Timestamp != nil:
			unit := logical.Timestamp.Unit
			return dataset.TypeDatetime, func(v parquet.Value) any {
				raw := v.Int64()
				switch {
				case unit.Millis != nil:
					return time.UnixMilli(raw).UTC()
				case unit.Nanos != nil:
					return time.Unix(0, raw).UTC()
				default:
					return time.UnixMicro(raw).UTC()
				}
			}
		case logical.Date != nil:
			return dataset.TypeDatetime, func(v parquet.Value) any {
				return time.Unix(int64(v.Int32())*86400, 0).UTC()
			}
		case logical.Decimal != nil && (typ.Kind() == parquet.Int32 || typ.Kind() == parquet.Int64):
			scale := math.Pow10(int(logical.Decimal.Scale))
			return dataset.TypeFloat, func(v parquet.Value) any {
				if v.Kind() == parquet.Int32 {
					return float64(v.Int32()) / scale
				}
				return float64(v.Int64()) / scale
			}
		}
	}

	switch typ.Kind() {
	case parquet.Boolean:
		return dataset.TypeBoolean, func(v parquet.Value) any { return v.Boolean() }
	case parquet.Int32:
		return dataset.TypeInteger, func(v parquet.Value) any { return int64(v.Int32()) }
	case parquet.Int64:
		return dataset.TypeInteger, func(v parquet.Value) any { return v.Int64() }
	case parquet.Float:
		return dataset.TypeFloat, func(v parquet.Value) any { return float64(v.Float()) }
	case parquet.Double:
		return dataset.TypeFloat, func(v parquet.Value) any { return v.Double() }
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return dataset.TypeText, func(v parquet.Value) any { return string(v.ByteArray()) }
	default:
		return dataset.TypeText, func(v parquet.Value) any { return v.String() }
	}
}
