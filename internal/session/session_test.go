package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/querydeck/querydeck/internal/dataset"
	"github.com/querydeck/querydeck/internal/nl2sql"
	"github.com/querydeck/querydeck/internal/query"
)

func salesDataset(name string) dataset.Dataset {
	return dataset.Dataset{
		Name:   name,
		Source: name + ".csv",
		Table: dataset.Table{
			Columns: []dataset.Column{
				{Name: "region", Type: dataset.TypeText},
				{Name: "customer_id", Type: dataset.TypeInteger},
				{Name: "amount", Type: dataset.TypeInteger},
			},
			Rows: [][]any{{"North", int64(1), int64(100)}},
		},
	}
}

func customersDataset() dataset.Dataset {
	return dataset.Dataset{
		Name: "customers",
		Table: dataset.Table{
			Columns: []dataset.Column{{Name: "id", Type: dataset.TypeInteger}, {Name: "name", Type: dataset.TypeText}},
			Rows:    [][]any{{int64(1), "Ada"}},
		},
	}
}

func TestStoreScopesSessionsToOwner(t *testing.T) {
	store := NewStore(StoreConfig{IdleTTL: time.Minute})
	sess := store.Create("alice")
	if sess.ID == "" || sess.Owner != "alice" {
		t.Fatalf("session = %#v", sess)
	}

	got, err := store.Get(sess.ID, "alice")
	if err != nil || got != sess {
		t.Fatalf("Get() = %v, %v", got, err)
	}
	if _, err := store.Get(sess.ID, "bob"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() foreign owner error = %v", err)
	}
	if err := store.Delete(sess.ID, "bob"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Delete() foreign owner error = %v", err)
	}
	if len(store.List("alice")) != 1 || len(store.List("bob")) != 0 {
		t.Fatalf("List() mismatch")
	}

	evicted := make(chan string, 1)
	store.OnEvicted(func(s *Session) { evicted <- s.ID })
	if err := store.Delete(sess.ID, "alice"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if id := <-evicted; id != sess.ID {
		t.Fatalf("evicted %q", id)
	}
	if store.Count() != 0 {
		t.Fatalf("Count() = %d", store.Count())
	}
}

func TestStoreExpiresIdleSessions(t *testing.T) {
	store := NewStore(StoreConfig{IdleTTL: 20 * time.Millisecond, CleanupInterval: time.Hour})
	sess := store.Create("alice")
	time.Sleep(40 * time.Millisecond)
	if _, err := store.Get(sess.ID, "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after idle ttl error = %v", err)
	}
}

func TestPutDatasetReplacesByNameKeepingOrder(t *testing.T) {
	sess := newSession("s1", "alice", 0, time.Now())
	if replaced := sess.PutDataset(salesDataset("sales")); replaced {
		t.Fatal("first put reported replacement")
	}
	sess.PutDataset(customersDataset())

	updated := salesDataset("sales")
	updated.Source = "sales_v2.csv"
	if replaced := sess.PutDataset(updated); !replaced {
		t.Fatal("second put did not report replacement")
	}
	datasets := sess.Datasets()
	if len(datasets) != 2 || datasets[0].Name != "sales" || datasets[0].Source != "sales_v2.csv" {
		t.Fatalf("datasets = %#v", datasets)
	}
	if _, err := sess.Dataset("missing"); !errors.Is(err, ErrDatasetNotFound) {
		t.Fatalf("Dataset() error = %v", err)
	}
}

func TestJoinsValidateColumnsAndFollowDatasetRemoval(t *testing.T) {
	sess := newSession("s1", "alice", 0, time.Now())
	sess.PutDataset(salesDataset("sales"))
	sess.PutDataset(customersDataset())

	join := nl2sql.JoinSpec{LeftTable: "sales", LeftColumn: "customer_id", RightTable: "customers", RightColumn: "id", Kind: "left"}
	index, err := sess.AddJoin(join)
	if err != nil || index != 0 {
		t.Fatalf("AddJoin() = %d, %v", index, err)
	}
	if got, _ := sess.Join(0); got.Kind != nl2sql.JoinLeft {
		t.Fatalf("join kind = %q", got.Kind)
	}

	bad := join
	bad.RightColumn = "customer_key"
	if _, err := sess.AddJoin(bad); err == nil {
		t.Fatal("expected unknown column error")
	}
	bad = join
	bad.RightTable = "orders"
	if _, err := sess.AddJoin(bad); !errors.Is(err, ErrDatasetNotFound) {
		t.Fatalf("AddJoin() unknown table error = %v", err)
	}
	if err := sess.RemoveJoin(3); !errors.Is(err, ErrJoinNotFound) {
		t.Fatalf("RemoveJoin() error = %v", err)
	}

	if err := sess.RemoveDataset("customers"); err != nil {
		t.Fatalf("RemoveDataset() error = %v", err)
	}
	if joins := sess.Joins(); len(joins) != 0 {
		t.Fatalf("joins after dataset removal = %#v", joins)
	}
}

func TestGenerationHistoryAndSQLEdits(t *testing.T) {
	sess := newSession("s1", "alice", 2, time.Now())
	for i, sql := range []string{"SELECT 1", "SELECT 2", "SELECT 3"} {
		sess.RecordGeneration(nl2sql.GeneratedQuery{ID: string(rune('a' + i)), SQL: sql})
	}
	history := sess.History(0)
	if len(history) != 2 || history[0].SQL != "SELECT 2" || history[1].SQL != "SELECT 3" {
		t.Fatalf("history = %#v", history)
	}
	if last := sess.History(1); len(last) != 1 || last[0].SQL != "SELECT 3" {
		t.Fatalf("History(1) = %#v", last)
	}

	sql, current := sess.SQL()
	if sql != "SELECT 3" || current == nil || current.ID != "c" {
		t.Fatalf("SQL() = %q, %#v", sql, current)
	}
	sess.SetSQL("SELECT 3")
	if _, current := sess.SQL(); current == nil {
		t.Fatal("unchanged SQL dropped the generated query")
	}
	sess.SetSQL("SELECT 4")
	if sql, current := sess.SQL(); sql != "SELECT 4" || current != nil {
		t.Fatalf("SQL() after edit = %q, %#v", sql, current)
	}
}

func TestResultAndReset(t *testing.T) {
	sess := newSession("s1", "alice", 0, time.Now())
	if _, err := sess.Result(); !errors.Is(err, ErrNoResult) {
		t.Fatalf("Result() error = %v", err)
	}
	sess.PutDataset(salesDataset("sales"))
	sess.RecordGeneration(nl2sql.GeneratedQuery{ID: "q1", SQL: "SELECT 1"})
	sess.SetResult(query.Result{SQL: "SELECT 1", Table: salesDataset("sales").Table})

	summary := sess.Summary()
	if summary.ResultRows == nil || *summary.ResultRows != 1 || len(summary.Datasets) != 1 || summary.HistoryCount != 1 {
		t.Fatalf("summary = %#v", summary)
	}

	sess.Reset()
	if _, err := sess.Result(); !errors.Is(err, ErrNoResult) {
		t.Fatalf("Result() after reset error = %v", err)
	}
	if len(sess.Datasets()) != 0 || len(sess.History(0)) != 1 {
		t.Fatal("reset must clear datasets and keep history")
	}
}

func TestAcquireSerializesActions(t *testing.T) {
	sess := newSession("s1", "alice", 0, time.Now())
	release, err := sess.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := sess.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("second Acquire() error = %v", err)
	}

	release()
	release2, err := sess.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
	release2()
}
