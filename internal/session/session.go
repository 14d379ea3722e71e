package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/querydeck/querydeck/internal/dataset"
	"github.com/querydeck/querydeck/internal/nl2sql"
	"github.com/querydeck/querydeck/internal/query"
)

var (
	ErrNotFound        = errors.New("session not found")
	ErrDatasetNotFound = errors.New("dataset not found")
	ErrJoinNotFound    = errors.New("join not found")
	ErrNoResult        = errors.New("no query result")
	ErrNoSQL           = errors.New("no SQL to execute")
)

// Session is the private analysis state of one user. All methods are safe
// for concurrent use; callers get copies, never the internal slices.
type Session struct {
	ID        string
	Owner     string
	CreatedAt time.Time

	// op serializes whole user actions; mu guards the fields below.
	op           chan struct{}
	mu           sync.Mutex
	lastActivity time.Time
	datasets     []dataset.Dataset
	joins        []nl2sql.JoinSpec
	history      []nl2sql.GeneratedQuery
	historyLimit int
	sql          string
	current      *nl2sql.GeneratedQuery
	result       *query.Result
}

type Summary struct {
	ID           string                 `json:"id"`
	Owner        string                 `json:"owner"`
	CreatedAt    time.Time              `json:"created_at"`
	LastActivity time.Time              `json:"last_activity"`
	Datasets     []DatasetInfo          `json:"datasets"`
	Joins        []nl2sql.JoinSpec      `json:"joins"`
	SQL          string                 `json:"sql"`
	Current      *nl2sql.GeneratedQuery `json:"current_query,omitempty"`
	ResultRows   *int                   `json:"result_rows,omitempty"`
	HistoryCount int                    `json:"history_count"`
}

type DatasetInfo struct {
	Name     string           `json:"name"`
	Source   string           `json:"source"`
	Rows     int              `json:"rows"`
	Columns  []dataset.Column `json:"columns"`
	LoadedAt time.Time        `json:"loaded_at"`
}

func newSession(id, owner string, historyLimit int, now time.Time) *Session {
	return &Session{
		ID:           id,
		Owner:        owner,
		CreatedAt:    now,
		op:           make(chan struct{}, 1),
		lastActivity: now,
		historyLimit: historyLimit,
		joins:        []nl2sql.JoinSpec{},
	}
}

// Acquire waits until no other action runs on the session. The returned
// function releases it.
func (s *Session) Acquire(ctx context.Context) (func(), error) {
	select {
	case s.op <- struct{}{}:
		return func() { <-s.op }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Session) touch() {
	s.lastActivity = time.Now().UTC()
}

func (s *Session) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := Summary{
		ID:           s.ID,
		Owner:        s.Owner,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.lastActivity,
		Datasets:     make([]DatasetInfo, 0, len(s.datasets)),
		Joins:        append([]nl2sql.JoinSpec{}, s.joins...),
		SQL:          s.sql,
		Current:      s.current,
		HistoryCount: len(s.history),
	}
	for _, ds := range s.datasets {
		out.Datasets = append(out.Datasets, infoFor(ds))
	}
	if s.result != nil {
		rows := s.result.Table.RowCount()
		out.ResultRows = &rows
	}
	return out
}

func infoFor(ds dataset.Dataset) DatasetInfo {
	return DatasetInfo{
		Name:     ds.Name,
		Source:   ds.Source,
		Rows:     ds.Table.RowCount(),
		Columns:  ds.Table.Columns,
		LoadedAt: ds.LoadedAt,
	}
}

// PutDataset stores ds under its name. A dataset with the same name is
// replaced in place so the upload order is kept.
func (s *Session) PutDataset(ds dataset.Dataset) (replaced bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	for i := range s.datasets {
		if s.datasets[i].Name == ds.Name {
			s.datasets[i] = ds
			return true
		}
	}
	s.datasets = append(s.datasets, ds)
	return false
}

func (s *Session) Datasets() []dataset.Dataset {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]dataset.Dataset(nil), s.datasets...)
}

func (s *Session) DatasetInfos() []DatasetInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DatasetInfo, 0, len(s.datasets))
	for _, ds := range s.datasets {
		out = append(out, infoFor(ds))
	}
	return out
}

func (s *Session) Dataset(name string) (dataset.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ds := range s.datasets {
		if ds.Name == name {
			return ds, nil
		}
	}
	return dataset.Dataset{}, fmt.Errorf("%w: %q", ErrDatasetNotFound, name)
}

// RemoveDataset drops the dataset and every join that refers to it.
func (s *Session) RemoveDataset(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := -1
	for i, ds := range s.datasets {
		if ds.Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("%w: %q", ErrDatasetNotFound, name)
	}
	s.touch()
	s.datasets = append(s.datasets[:idx], s.datasets[idx+1:]...)
	kept := s.joins[:0]
	for _, join := range s.joins {
		if join.LeftTable != name && join.RightTable != name {
			kept = append(kept, join)
		}
	}
	s.joins = kept
	return nil
}

// AddJoin records a join after checking both sides name a loaded dataset
// column. It returns the index of the new join.
func (s *Session) AddJoin(join nl2sql.JoinSpec) (int, error) {
	if err := join.Validate(); err != nil {
		return 0, err
	}
	kind, _ := nl2sql.ParseJoinKind(string(join.Kind))
	join.Kind = kind

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkColumn(join.LeftTable, join.LeftColumn); err != nil {
		return 0, err
	}
	if err := s.checkColumn(join.RightTable, join.RightColumn); err != nil {
		return 0, err
	}
	s.touch()
	s.joins = append(s.joins, join)
	return len(s.joins) - 1, nil
}

func (s *Session) checkColumn(table, column string) error {
	for _, ds := range s.datasets {
		if ds.Name != table {
			continue
		}
		if ds.Table.ColumnIndex(column) < 0 {
			return fmt.Errorf("dataset %q has no column %q", table, column)
		}
		return nil
	}
	return fmt.Errorf("%w: %q", ErrDatasetNotFound, table)
}

func (s *Session) Joins() []nl2sql.JoinSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]nl2sql.JoinSpec{}, s.joins...)
}

func (s *Session) Join(index int) (nl2sql.JoinSpec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.joins) {
		return nl2sql.JoinSpec{}, fmt.Errorf("%w: %d", ErrJoinNotFound, index)
	}
	return s.joins[index], nil
}

func (s *Session) RemoveJoin(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.joins) {
		return fmt.Errorf("%w: %d", ErrJoinNotFound, index)
	}
	s.touch()
	s.joins = append(s.joins[:index], s.joins[index+1:]...)
	return nil
}

func (s *Session) ClearJoins() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	s.joins = []nl2sql.JoinSpec{}
}

// RecordGeneration makes q the current query, sets its SQL as the editable
// SQL and appends it to the bounded history. The previous result stays
// until a new execution replaces it.
func (s *Session) RecordGeneration(q nl2sql.GeneratedQuery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	copied := q
	s.current = &copied
	s.sql = q.SQL
	s.history = append(s.history, q)
	if s.historyLimit > 0 && len(s.history) > s.historyLimit {
		s.history = append([]nl2sql.GeneratedQuery(nil), s.history[len(s.history)-s.historyLimit:]...)
	}
}

// SetSQL replaces the editable SQL. Hand-edited SQL no longer belongs to
// the last generated query.
func (s *Session) SetSQL(sql string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	if s.current == nil || s.current.SQL != sql {
		s.current = nil
	}
	s.sql = sql
}

func (s *Session) SQL() (string, *nl2sql.GeneratedQuery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sql, s.current
}

func (s *Session) SetResult(result query.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	s.result = &result
}

func (s *Session) Result() (query.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return query.Result{}, ErrNoResult
	}
	return *s.result, nil
}

// History returns up to limit entries, newest last. limit <= 0 returns all.
func (s *Session) History(limit int) []nl2sql.GeneratedQuery {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.history
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return append([]nl2sql.GeneratedQuery{}, entries...)
}

// Reset starts a new analysis: datasets, joins, SQL and result are cleared.
// History is kept.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	s.datasets = nil
	s.joins = []nl2sql.JoinSpec{}
	s.sql = ""
	s.current = nil
	s.result = nil
}

func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}
