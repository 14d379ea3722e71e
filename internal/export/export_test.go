package export

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/querydeck/querydeck/internal/dataset"
	"github.com/querydeck/querydeck/internal/parquetio"
	"github.com/querydeck/querydeck/internal/storage"
)

func resultTable() dataset.Table {
	return dataset.Table{
		Columns: []dataset.Column{
			{Name: "region", Type: dataset.TypeText},
			{Name: "total", Type: dataset.TypeInteger},
			{Name: "first_order", Type: dataset.TypeDatetime},
		},
		Rows: [][]any{
			{"North", int64(125), time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
			{"South", int64(50), nil},
		},
	}
}

func TestRenderCSV(t *testing.T) {
	file, err := Render(resultTable(), FormatCSV, Options{})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	want := "region,total,first_order\nNorth,125,2024-01-02T00:00:00Z\nSouth,50,\n"
	if string(file.Data) != want {
		t.Fatalf("csv = %q, want %q", string(file.Data), want)
	}
	if file.Filename != "query_results.csv" || file.ContentType() != "text/csv" || file.Rows != 2 {
		t.Fatalf("file metadata = %#v", file)
	}
}

func TestRenderJSONKeepsColumnOrderAndNulls(t *testing.T) {
	file, err := Render(resultTable(), FormatJSON, Options{Columns: []string{"total", "region"}, Limit: 1})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	want := "[\n  {\n    \"total\": 125,\n    \"region\": \"North\"\n  }\n]\n"
	if string(file.Data) != want {
		t.Fatalf("json = %q, want %q", string(file.Data), want)
	}

	file, err = Render(resultTable(), FormatJSON, Options{Columns: []string{"first_order"}})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if !strings.Contains(string(file.Data), `"first_order": null`) {
		t.Fatalf("json = %s", file.Data)
	}
}

func TestRenderExcelWritesResultsAndSummarySheets(t *testing.T) {
	file, err := Render(resultTable(), FormatExcel, Options{})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	book, err := excelize.OpenReader(bytes.NewReader(file.Data))
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer book.Close()

	sheets := book.GetSheetList()
	if len(sheets) != 2 || sheets[0] != ResultsSheet || sheets[1] != SummarySheet {
		t.Fatalf("sheets = %v", sheets)
	}
	rows, err := book.GetRows(ResultsSheet)
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	if len(rows) != 3 || rows[0][0] != "region" || rows[1][1] != "125" {
		t.Fatalf("results rows = %v", rows)
	}
	summary, err := book.GetRows(SummarySheet)
	if err != nil {
		t.Fatalf("GetRows() error = %v", err)
	}
	if len(summary) != 9 || summary[0][1] != "total" || summary[2][0] != "mean" || summary[2][1] != "87.5" {
		t.Fatalf("summary rows = %v", summary)
	}
}

func TestRenderExcelWithoutNumericColumnsHasNoSummary(t *testing.T) {
	table, _ := resultTable().Select([]string{"region"})
	file, err := Render(table, FormatExcel, Options{})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	book, err := excelize.OpenReader(bytes.NewReader(file.Data))
	if err != nil {
		t.Fatalf("OpenReader() error = %v", err)
	}
	defer book.Close()
	if sheets := book.GetSheetList(); len(sheets) != 1 {
		t.Fatalf("sheets = %v", sheets)
	}
}

func TestRenderParquet(t *testing.T) {
	file, err := Render(resultTable(), FormatParquet, Options{})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	decoded, err := parquetio.Decode(file.Data)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if decoded.RowCount() != 2 || len(decoded.Columns) != 3 {
		t.Fatalf("decoded = %#v", decoded)
	}
}

func TestRenderErrors(t *testing.T) {
	if _, err := Render(resultTable(), FormatCSV, Options{Columns: []string{"nope"}}); err == nil {
		t.Fatal("expected unknown column error")
	}
	if _, err := ParseFormat("pdf"); !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("ParseFormat() error = %v", err)
	}
	if format, err := ParseFormat("Excel"); err != nil || format != FormatExcel {
		t.Fatalf("ParseFormat(Excel) = %q, %v", format, err)
	}
}

func TestPublisherPublishListOpenRemove(t *testing.T) {
	store := newMemoryStore()
	publisher := NewPublisher(store, time.Minute)
	publisher.now = func() time.Time { return time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC) }

	file, err := Render(resultTable(), FormatCSV, Options{})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	published, err := publisher.Publish(context.Background(), "analyst-1", "s1", file)
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	wantKey := "exports/analyst-1/s1/date=2024-06-01/query_results-20240601T100000.000.csv"
	if published.Key != wantKey || published.URL == "" || published.Rows != 2 {
		t.Fatalf("published = %#v", published)
	}

	listed, err := publisher.List(context.Background(), "analyst-1", "s1")
	if err != nil || len(listed) != 1 {
		t.Fatalf("List() = %#v, %v", listed, err)
	}

	body, info, err := publisher.Open(context.Background(), "analyst-1", "s1", wantKey)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	data, _ := io.ReadAll(body)
	_ = body.Close()
	if !bytes.Equal(data, file.Data) || info.ContentType != "text/csv" {
		t.Fatalf("opened = %q / %#v", data, info)
	}

	if _, _, err := publisher.Open(context.Background(), "someone-else", "s1", wantKey); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Open() foreign key error = %v", err)
	}

	relative := "date=2024-06-01/query_results-20240601T100000.000.csv"
	if body, _, err := publisher.Open(context.Background(), "analyst-1", "s1", relative); err != nil {
		t.Fatalf("Open(relative) error = %v", err)
	} else {
		_ = body.Close()
	}
	if _, _, err := publisher.Open(context.Background(), "analyst-1", "s2", "../s1/"+relative); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Open() traversal error = %v", err)
	}

	if err := publisher.Remove(context.Background(), "analyst-1", "s1", relative); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if len(store.objects) != 0 {
		t.Fatalf("objects left = %d", len(store.objects))
	}
}

type memoryObject struct {
	data        []byte
	contentType string
}

type memoryStore struct {
	objects map[string]memoryObject
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: map[string]memoryObject{}}
}

func (m *memoryStore) Put(_ context.Context, key string, body io.Reader, _ int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	m.objects[key] = memoryObject{data: data, contentType: opts.ContentType}
	return storage.ObjectInfo{Key: key, Size: int64(len(data)), ContentType: opts.ContentType}, nil
}

func (m *memoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	obj, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (m *memoryStore) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	obj, ok := m.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(obj.data)), ContentType: obj.contentType}, nil
}

func (m *memoryStore) List(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	var out []storage.ObjectInfo
	for key, obj := range m.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, storage.ObjectInfo{Key: key, Size: int64(len(obj.data))})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

func (m *memoryStore) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://objects.local/" + key, nil
}
