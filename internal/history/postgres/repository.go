package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/querydeck/querydeck/internal/history"
	"github.com/querydeck/querydeck/internal/nl2sql"
)

type Repository struct {
	db *sql.DB
}

var _ history.Recorder = (*Repository)(nil)

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) HealthCheck(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("query history db ping: %w", err)
	}
	return nil
}

// RecordGeneration is idempotent on the query ID.
func (r *Repository) RecordGeneration(ctx context.Context, principal string, q nl2sql.GeneratedQuery) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO generated_query (query_id, session_id, principal, question, prompt, raw_completion, sql_text, model, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (query_id) DO NOTHING`,
		q.ID, q.SessionID, principal, q.Question, q.Prompt, q.RawCompletion, q.SQL, q.Model, q.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert generated query: %w", err)
	}
	return nil
}

func (r *Repository) RecordExecution(ctx context.Context, execution history.Execution) error {
	status := "failed"
	if execution.Succeeded {
		status = "succeeded"
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO query_execution (session_id, principal, query_id, sql_text, status, row_count, duration_ms, error_message, executed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		execution.SessionID,
		execution.Principal,
		nullString(execution.QueryID),
		execution.SQL,
		status,
		execution.RowCount,
		execution.Duration.Milliseconds(),
		nullString(execution.Error),
		execution.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("insert query execution: %w", err)
	}
	return nil
}

// ListGenerations returns the newest limit generations of a session, oldest
// first.
func (r *Repository) ListGenerations(ctx context.Context, principal, sessionID string, limit int) ([]nl2sql.GeneratedQuery, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT query_id, session_id, question, prompt, raw_completion, sql_text, model, created_at
FROM (
	SELECT query_id, session_id, question, prompt, raw_completion, sql_text, model, created_at
	FROM generated_query
	WHERE principal = $1 AND session_id = $2
	ORDER BY created_at DESC, query_id DESC
	LIMIT $3
) recent
ORDER BY created_at ASC, query_id ASC`, principal, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list generated queries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]nl2sql.GeneratedQuery, 0)
	for rows.Next() {
		var q nl2sql.GeneratedQuery
		if err := rows.Scan(&q.ID, &q.SessionID, &q.Question, &q.Prompt, &q.RawCompletion, &q.SQL, &q.Model, &q.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan generated query: %w", err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate generated queries: %w", err)
	}
	return out, nil
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
