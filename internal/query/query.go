package query

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/querydeck/querydeck/internal/dataset"
	"github.com/querydeck/querydeck/internal/nl2sql"
)

var ErrNotReadOnly = errors.New("only read-only SELECT or WITH statements can be executed")

type Request struct {
	SQL      string
	RowLimit int
	Datasets []dataset.Dataset
}

// Result is a materialized query result. Query is nil when the SQL was
// written or edited by hand rather than generated.
type Result struct {
	SQL        string
	Table      dataset.Table
	Duration   time.Duration
	ExecutedAt time.Time
	Query      *nl2sql.GeneratedQuery
}

type Engine interface {
	Execute(ctx context.Context, request Request) (Result, error)
}

// ExecutionError carries the engine's message for a statement that could
// not be prepared or run.
type ExecutionError struct {
	SQL   string
	Stage string
	Err   error
}

func (e *ExecutionError) Error() string {
	if e.Stage == "" {
		return "execute query: " + e.Err.Error()
	}
	return e.Stage + ": " + e.Err.Error()
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// IsReadOnly reports whether the statement starts with SELECT, WITH or
// VALUES once leading comments and parentheses are skipped.
func IsReadOnly(sqlText string) bool {
	text := strings.TrimSpace(sqlText)
	for {
		switch {
		case strings.HasPrefix(text, "--"):
			end := strings.IndexByte(text, '\n')
			if end < 0 {
				return false
			}
			text = strings.TrimSpace(text[end+1:])
		case strings.HasPrefix(text, "/*"):
			end := strings.Index(text, "*/")
			if end < 0 {
				return false
			}
			text = strings.TrimSpace(text[end+2:])
		case strings.HasPrefix(text, "("):
			text = strings.TrimSpace(text[1:])
		default:
			lower := strings.ToLower(text)
			for _, keyword := range []string{"select", "with", "values"} {
				if strings.HasPrefix(lower, keyword) && (len(lower) == len(keyword) || !isIdentChar(lower[len(keyword)])) {
					return true
				}
			}
			return false
		}
	}
}

func isIdentChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}
