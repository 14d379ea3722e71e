// Package history mirrors generated queries and executions into a durable
// audit log. Sessions keep their own bounded in-memory history; this log is
// optional and write-only from the request path.
package history

import (
	"context"
	"time"

	"github.com/querydeck/querydeck/internal/nl2sql"
)

type Execution struct {
	SessionID  string
	Principal  string
	QueryID    string
	SQL        string
	Succeeded  bool
	RowCount   int
	Duration   time.Duration
	Error      string
	ExecutedAt time.Time
}

type Recorder interface {
	RecordGeneration(ctx context.Context, principal string, q nl2sql.GeneratedQuery) error
	RecordExecution(ctx context.Context, execution Execution) error
	ListGenerations(ctx context.Context, principal, sessionID string, limit int) ([]nl2sql.GeneratedQuery, error)
}
