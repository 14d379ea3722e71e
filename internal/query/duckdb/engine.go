package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/querydeck/querydeck/internal/dataset"
	"github.com/querydeck/querydeck/internal/parquetio"
	"github.com/querydeck/querydeck/internal/query"
)

// Engine runs every request in a fresh in-memory DuckDB database. Datasets
// are staged as Parquet files in a temporary directory that is removed when
// the call returns, so nothing survives between calls.
type Engine struct {
	TempDir string
}

func NewEngine(tempDir string) *Engine {
	return &Engine{TempDir: tempDir}
}

func (e *Engine) Execute(ctx context.Context, request query.Request) (query.Result, error) {
	if strings.TrimSpace(request.SQL) == "" {
		return query.Result{}, fmt.Errorf("sql is required")
	}
	sqlText := stripTrailingSemicolons(request.SQL)
	if sqlText == "" {
		return query.Result{}, fmt.Errorf("sql is required")
	}

	fail := func(stage string, err error) (query.Result, error) {
		return query.Result{}, &query.ExecutionError{SQL: request.SQL, Stage: stage, Err: err}
	}

	start := time.Now()
	workDir, err := os.MkdirTemp(e.TempDir, "querydeck-query-")
	if err != nil {
		return fail("create query temp dir", err)
	}
	defer func() { _ = os.RemoveAll(workDir) }()

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return fail("open duckdb", err)
	}
	defer func() { _ = db.Close() }()
	db.SetMaxOpenConns(1)

	for index, ds := range request.Datasets {
		tableName := dataset.SanitizeName(ds.Name)
		localPath := filepath.Join(workDir, fmt.Sprintf("%s_%d.parquet", tableName, index))
		if err := writeParquetFile(localPath, ds.Table); err != nil {
			return fail(fmt.Sprintf("stage dataset %q", ds.Name), err)
		}
		if _, err := db.ExecContext(ctx, createTableSQL(tableName, localPath, ds.Table.Columns)); err != nil {
			return fail(fmt.Sprintf("register dataset %q", ds.Name), err)
		}
	}

	// Staged tables are in memory; nothing after this point may touch files.
	if _, err := db.ExecContext(ctx, "SET enable_external_access = false"); err != nil {
		return fail("lock down duckdb", err)
	}

	if request.RowLimit > 0 {
		// The inner statement may end in a line comment.
		sqlText = fmt.Sprintf("SELECT * FROM (\n%s\n) AS q LIMIT %d", sqlText, request.RowLimit)
	}

	rows, err := db.QueryContext(ctx, sqlText)
	if err != nil {
		return fail("", err)
	}
	defer func() { _ = rows.Close() }()

	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return fail("query columns", err)
	}
	columns := make([]dataset.Column, len(columnTypes))
	for i, ct := range columnTypes {
		columns[i] = dataset.Column{Name: ct.Name(), Type: dtypeFor(ct.DatabaseTypeName())}
	}

	resultRows := make([][]any, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return fail("scan row", err)
		}
		resultRows = append(resultRows, normalizeValues(columns, values))
	}
	if err := rows.Err(); err != nil {
		return fail("iterate rows", err)
	}

	return query.Result{
		SQL:        request.SQL,
		Table:      dataset.Table{Columns: columns, Rows: resultRows},
		Duration:   time.Since(start),
		ExecutedAt: start.UTC(),
	}, nil
}

// createTableSQL restores the column order of the dataset, which Parquet
// does not keep, and turns staged timestamps back into naive TIMESTAMPs.
func createTableSQL(tableName, path string, columns []dataset.Column) string {
	names := parquetio.UniqueColumnNames(columns)
	projection := make([]string, len(columns))
	for i, column := range columns {
		ident := quoteIdent(names[i])
		if column.Type == dataset.TypeDatetime {
			projection[i] = "CAST(" + ident + " AS TIMESTAMP) AS " + ident
		} else {
			projection[i] = ident
		}
	}
	return fmt.Sprintf(`CREATE OR REPLACE TABLE %s AS SELECT %s FROM read_parquet(%s)`,
		quoteIdent(tableName), strings.Join(projection, ", "), quoteString(path))
}

func dtypeFor(databaseType string) dataset.DType {
	upper := strings.ToUpper(databaseType)
	switch {
	case upper == "BOOLEAN":
		return dataset.TypeBoolean
	case strings.HasPrefix(upper, "TIMESTAMP"), upper == "DATE", upper == "DATETIME":
		return dataset.TypeDatetime
	case strings.HasPrefix(upper, "DECIMAL"), upper == "DOUBLE", upper == "FLOAT", upper == "REAL":
		return dataset.TypeFloat
	case strings.HasSuffix(upper, "INT"), strings.HasSuffix(upper, "INTEGER"):
		return dataset.TypeInteger
	default:
		return dataset.TypeText
	}
}

func normalizeValues(columns []dataset.Column, values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		normalized[i] = normalizeValue(columns[i].Type, value)
	}
	return normalized
}

func normalizeValue(dtype dataset.DType, value any) any {
	if value == nil {
		return nil
	}
	switch dtype {
	case dataset.TypeInteger:
		if n, ok := asInt64(value); ok {
			return n
		}
		if f, ok := asFloat64(value); ok {
			return f
		}
	case dataset.TypeFloat:
		if f, ok := asFloat64(value); ok {
			return f
		}
	case dataset.TypeBoolean:
		if b, ok := value.(bool); ok {
			return b
		}
	case dataset.TypeDatetime:
		if ts, ok := value.(time.Time); ok {
			return ts.UTC()
		}
	}
	switch typed := value.(type) {
	case string:
		return typed
	case []byte:
		return string(typed)
	default:
		return fmt.Sprint(typed)
	}
}

func asInt64(value any) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case int16:
		return int64(v), true
	case int8:
		return int64(v), true
	case int:
		return int64(v), true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		if v <= 1<<63-1 {
			return int64(v), true
		}
	case *big.Int:
		if v.IsInt64() {
			return v.Int64(), true
		}
	}
	return 0, false
}

func asFloat64(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case *big.Int:
		f, _ := new(big.Float).SetInt(v).Float64()
		return f, true
	case interface{ Float64() float64 }:
		return v.Float64(), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	}
	if n, ok := asInt64(value); ok {
		return float64(n), true
	}
	return 0, false
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
