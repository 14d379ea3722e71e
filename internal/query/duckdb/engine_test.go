package duckdb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/querydeck/querydeck/internal/dataset"
	"github.com/querydeck/querydeck/internal/query"
)

func ordersDataset(name string) dataset.Dataset {
	return dataset.Dataset{
		Name: name,
		Table: dataset.Table{
			Columns: []dataset.Column{
				{Name: "region", Type: dataset.TypeText},
				{Name: "amount", Type: dataset.TypeInteger},
				{Name: "ordered_at", Type: dataset.TypeDatetime},
			},
			Rows: [][]any{
				{"North", int64(100), time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
				{"South", int64(50), time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)},
				{"North", int64(25), nil},
			},
		},
	}
}

func TestExecuteRegistersDatasetsUnderSanitizedNames(t *testing.T) {
	engine := NewEngine(t.TempDir())
	result, err := engine.Execute(context.Background(), query.Request{
		SQL:      "SELECT COUNT(*) AS c FROM orders_2024",
		Datasets: []dataset.Dataset{ordersDataset("Orders 2024")},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Table.Rows) != 1 {
		t.Fatalf("rows = %d", len(result.Table.Rows))
	}
	if result.Table.Rows[0][0] != int64(3) {
		t.Fatalf("count = %#v", result.Table.Rows[0][0])
	}
	if result.Table.Columns[0] != (dataset.Column{Name: "c", Type: dataset.TypeInteger}) {
		t.Fatalf("column = %#v", result.Table.Columns[0])
	}
}

func TestExecuteKeywordFileNamesAreQueryableUnquoted(t *testing.T) {
	engine := NewEngine(t.TempDir())
	for name, sqlText := range map[string]string{
		"Order.csv": "SELECT COUNT(*) FROM order_t",
		"!!!.csv":   "SELECT COUNT(*) FROM dataset",
	} {
		result, err := engine.Execute(context.Background(), query.Request{
			SQL:      sqlText,
			Datasets: []dataset.Dataset{ordersDataset(name)},
		})
		if err != nil {
			t.Fatalf("Execute(%q) error = %v", sqlText, err)
		}
		if result.Table.Rows[0][0] != int64(3) {
			t.Fatalf("%s count = %#v", name, result.Table.Rows[0][0])
		}
	}
}

func TestExecuteIsIdempotent(t *testing.T) {
	engine := NewEngine(t.TempDir())
	request := query.Request{
		SQL:      "SELECT region, SUM(amount) AS total FROM orders GROUP BY region ORDER BY region;",
		Datasets: []dataset.Dataset{ordersDataset("orders")},
	}
	first, err := engine.Execute(context.Background(), request)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	second, err := engine.Execute(context.Background(), request)
	if err != nil {
		t.Fatalf("Execute() second error = %v", err)
	}
	if len(first.Table.Rows) != 2 || len(second.Table.Rows) != 2 {
		t.Fatalf("rows = %d / %d", len(first.Table.Rows), len(second.Table.Rows))
	}
	for i := range first.Table.Rows {
		for j := range first.Table.Rows[i] {
			if first.Table.Rows[i][j] != second.Table.Rows[i][j] {
				t.Fatalf("row %d differs: %#v vs %#v", i, first.Table.Rows[i], second.Table.Rows[i])
			}
		}
	}
	if first.Table.Rows[0][0] != "North" || first.Table.Rows[0][1] != int64(125) {
		t.Fatalf("unexpected first row: %#v", first.Table.Rows[0])
	}
	if first.Table.Columns[1].Type != dataset.TypeInteger {
		t.Fatalf("total type = %q", first.Table.Columns[1].Type)
	}
}

func TestExecutePreservesColumnOrderAndTimestamps(t *testing.T) {
	engine := NewEngine(t.TempDir())
	result, err := engine.Execute(context.Background(), query.Request{
		SQL:      "SELECT * FROM orders ORDER BY amount DESC",
		Datasets: []dataset.Dataset{ordersDataset("orders")},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	names := result.Table.ColumnNames()
	if len(names) != 3 || names[0] != "region" || names[1] != "amount" || names[2] != "ordered_at" {
		t.Fatalf("columns = %v", names)
	}
	if result.Table.Columns[2].Type != dataset.TypeDatetime {
		t.Fatalf("ordered_at type = %q", result.Table.Columns[2].Type)
	}
	ts, ok := result.Table.Rows[0][2].(time.Time)
	if !ok || !ts.Equal(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("ordered_at = %#v", result.Table.Rows[0][2])
	}
	if result.Table.Rows[2][2] != nil {
		t.Fatalf("expected null timestamp, got %#v", result.Table.Rows[2][2])
	}
}

func TestExecuteLaterDatasetReplacesEarlierWithSameName(t *testing.T) {
	replacement := dataset.Dataset{
		Name: "orders",
		Table: dataset.Table{
			Columns: []dataset.Column{{Name: "amount", Type: dataset.TypeFloat}},
			Rows:    [][]any{{1.5}},
		},
	}
	engine := NewEngine(t.TempDir())
	result, err := engine.Execute(context.Background(), query.Request{
		SQL:      "SELECT COUNT(*) FROM orders",
		Datasets: []dataset.Dataset{ordersDataset("orders"), replacement},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Table.Rows[0][0] != int64(1) {
		t.Fatalf("count = %#v, want 1", result.Table.Rows[0][0])
	}
}

func TestExecuteEmptyResultIsNotAnError(t *testing.T) {
	engine := NewEngine(t.TempDir())
	result, err := engine.Execute(context.Background(), query.Request{
		SQL:      "SELECT * FROM orders WHERE amount > 1000",
		Datasets: []dataset.Dataset{ordersDataset("orders")},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Table.RowCount() != 0 || len(result.Table.Columns) != 3 {
		t.Fatalf("unexpected result: %#v", result.Table)
	}
}

func TestExecuteReturnsExecutionError(t *testing.T) {
	engine := NewEngine(t.TempDir())
	_, err := engine.Execute(context.Background(), query.Request{
		SQL:      "SELEC nonsense FROM",
		Datasets: []dataset.Dataset{ordersDataset("orders")},
	})
	var execErr *query.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("Execute() error = %v, want ExecutionError", err)
	}
	if execErr.SQL != "SELEC nonsense FROM" {
		t.Fatalf("SQL = %q", execErr.SQL)
	}

	_, err = engine.Execute(context.Background(), query.Request{SQL: "SELECT * FROM missing_table"})
	if !errors.As(err, &execErr) {
		t.Fatalf("Execute() error = %v, want ExecutionError", err)
	}
}

func TestExecuteSupportsTrailingSemicolonWithRowLimit(t *testing.T) {
	engine := NewEngine(t.TempDir())
	result, err := engine.Execute(context.Background(), query.Request{
		SQL:      "SELECT * FROM orders;",
		RowLimit: 2,
		Datasets: []dataset.Dataset{ordersDataset("orders")},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(result.Table.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(result.Table.Rows))
	}
}

func TestExecuteTrailingLineCommentWithRowLimit(t *testing.T) {
	engine := NewEngine(t.TempDir())
	for _, limit := range []int{0, 100000} {
		result, err := engine.Execute(context.Background(), query.Request{
			SQL:      "SELECT SUM(amount) AS total FROM orders -- total of all orders",
			RowLimit: limit,
			Datasets: []dataset.Dataset{ordersDataset("orders")},
		})
		if err != nil {
			t.Fatalf("Execute(limit=%d) error = %v", limit, err)
		}
		if len(result.Table.Rows) != 1 {
			t.Fatalf("rows = %d, want 1", len(result.Table.Rows))
		}
	}
}

func TestExecuteRejectsEmptySQL(t *testing.T) {
	if _, err := NewEngine("").Execute(context.Background(), query.Request{SQL: " ; "}); err == nil {
		t.Fatal("expected error for empty SQL")
	}
}

func TestExecuteBlocksFileAccess(t *testing.T) {
	dir := t.TempDir()
	engine := NewEngine(dir)
	_, err := engine.Execute(context.Background(), query.Request{
		SQL:      "SELECT * FROM read_parquet('" + dir + "/*.parquet')",
		Datasets: []dataset.Dataset{ordersDataset("orders")},
	})
	var execErr *query.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("Execute() error = %v, want ExecutionError", err)
	}
}

func TestDtypeFor(t *testing.T) {
	cases := map[string]dataset.DType{
		"BIGINT":        dataset.TypeInteger,
		"HUGEINT":       dataset.TypeInteger,
		"INTEGER":       dataset.TypeInteger,
		"DOUBLE":        dataset.TypeFloat,
		"DECIMAL(18,3)": dataset.TypeFloat,
		"VARCHAR":       dataset.TypeText,
		"BOOLEAN":       dataset.TypeBoolean,
		"TIMESTAMP":     dataset.TypeDatetime,
		"DATE":          dataset.TypeDatetime,
		"INTERVAL":      dataset.TypeText,
	}
	for raw, want := range cases {
		if got := dtypeFor(raw); got != want {
			t.Fatalf("dtypeFor(%q) = %q, want %q", raw, got, want)
		}
	}
}
