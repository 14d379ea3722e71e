package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/querydeck/querydeck/internal/chart"
	"github.com/querydeck/querydeck/internal/history"
	"github.com/querydeck/querydeck/internal/nl2sql"
	"github.com/querydeck/querydeck/internal/observability"
	"github.com/querydeck/querydeck/internal/profile"
	"github.com/querydeck/querydeck/internal/query"
	"github.com/querydeck/querydeck/internal/session"
)

type Generation struct {
	Query nl2sql.GeneratedQuery `json:"query"`
	// JoinWarnings lists declared joins the generated SQL does not appear
	// to use. They are advisory only.
	JoinWarnings []string `json:"join_warnings"`
}

// Generate turns the question into SQL over the session's datasets. On
// success the SQL becomes the session's editable SQL and the query is added
// to the history. On failure the session is left as it was.
func (s *Service) Generate(ctx context.Context, principal, sessionID, question string) (Generation, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return Generation{}, nl2sql.ErrQuestionRequired
	}
	sess, release, err := s.acquire(ctx, principal, sessionID)
	if err != nil {
		return Generation{}, err
	}
	defer release()

	datasets := sess.Datasets()
	if len(datasets) == 0 {
		return Generation{}, ErrNoDatasets
	}
	joins := sess.Joins()

	start := time.Now()
	generated, err := s.generator.Generate(ctx, nl2sql.GenerateRequest{
		SessionID: sessionID,
		Question:  question,
		Datasets:  datasets,
		Joins:     joins,
	})
	observability.ObserveGeneration(err, time.Since(start))
	if err != nil {
		s.logger.WarnContext(ctx, "sql generation failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		return Generation{}, err
	}

	sess.RecordGeneration(generated)
	s.logger.InfoContext(ctx, "sql generated",
		slog.String("session_id", sessionID),
		slog.String("query_id", generated.ID),
		slog.String("model", generated.Model),
		slog.Int("datasets", len(datasets)),
		slog.Int("joins", len(joins)),
		slog.Duration("elapsed", time.Since(start)),
	)
	if s.history != nil {
		if err := s.history.RecordGeneration(ctx, principal, generated); err != nil {
			s.logger.ErrorContext(ctx, "record generated query failed",
				slog.String("query_id", generated.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	warnings := nl2sql.CheckJoins(generated.SQL, joins)
	if warnings == nil {
		warnings = []string{}
	}
	return Generation{Query: generated, JoinWarnings: warnings}, nil
}

// SetSQL replaces the session's editable SQL with hand-written SQL.
func (s *Service) SetSQL(ctx context.Context, principal, sessionID, sqlText string) error {
	if strings.TrimSpace(sqlText) == "" {
		return session.ErrNoSQL
	}
	sess, release, err := s.acquire(ctx, principal, sessionID)
	if err != nil {
		return err
	}
	defer release()
	sess.SetSQL(sqlText)
	return nil
}

type ExecuteRequest struct {
	// SQL overrides the session's editable SQL and becomes the new
	// editable SQL. Empty runs the current one.
	SQL      string
	RowLimit int
}

// Execute runs SQL against the session's datasets. A failed execution
// leaves the SQL in place for editing and keeps the previous result.
func (s *Service) Execute(ctx context.Context, principal, sessionID string, req ExecuteRequest) (query.Result, error) {
	sess, release, err := s.acquire(ctx, principal, sessionID)
	if err != nil {
		return query.Result{}, err
	}
	defer release()

	if strings.TrimSpace(req.SQL) != "" {
		sess.SetSQL(req.SQL)
	}
	sqlText, current := sess.SQL()
	if strings.TrimSpace(sqlText) == "" {
		return query.Result{}, session.ErrNoSQL
	}
	if !query.IsReadOnly(sqlText) {
		return query.Result{}, query.ErrNotReadOnly
	}

	queryCtx, cancel := s.queryContext(ctx)
	defer cancel()
	start := time.Now()
	result, err := s.engine.Execute(queryCtx, query.Request{
		SQL:      sqlText,
		RowLimit: s.rowLimit(req.RowLimit),
		Datasets: sess.Datasets(),
	})
	elapsed := time.Since(start)
	observability.ObserveQueryExecution(err, elapsed)

	execution := history.Execution{
		SessionID:  sessionID,
		Principal:  principal,
		SQL:        sqlText,
		Succeeded:  err == nil,
		RowCount:   result.Table.RowCount(),
		Duration:   elapsed,
		ExecutedAt: start.UTC(),
	}
	if current != nil {
		execution.QueryID = current.ID
	}
	if err != nil {
		execution.Error = err.Error()
		s.recordExecution(ctx, execution)
		s.logger.WarnContext(ctx, "query execution failed",
			slog.String("session_id", sessionID),
			slog.String("error", err.Error()),
		)
		if errors.Is(queryCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return query.Result{}, &query.ExecutionError{SQL: sqlText, Stage: "query timeout", Err: queryCtx.Err()}
		}
		return query.Result{}, err
	}

	result.Query = current
	sess.SetResult(result)
	s.recordExecution(ctx, execution)
	s.logger.InfoContext(ctx, "query executed",
		slog.String("session_id", sessionID),
		slog.Int("rows", result.Table.RowCount()),
		slog.Int("columns", len(result.Table.Columns)),
		slog.Bool("generated", current != nil),
		slog.Duration("elapsed", elapsed),
	)
	return result, nil
}

func (s *Service) recordExecution(ctx context.Context, execution history.Execution) {
	if s.history == nil {
		return
	}
	if err := s.history.RecordExecution(ctx, execution); err != nil {
		s.logger.ErrorContext(ctx, "record query execution failed",
			slog.String("session_id", execution.SessionID),
			slog.String("error", err.Error()),
		)
	}
}

// rowLimit applies the configured cap to a requested limit.
func (s *Service) rowLimit(requested int) int {
	switch {
	case requested <= 0:
		return s.cfg.RowLimit
	case s.cfg.RowLimit > 0 && requested > s.cfg.RowLimit:
		return s.cfg.RowLimit
	default:
		return requested
	}
}

func (s *Service) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.QueryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.QueryTimeout)
}

func (s *Service) Result(principal, sessionID string) (query.Result, error) {
	sess, err := s.sessions.Get(sessionID, principal)
	if err != nil {
		return query.Result{}, err
	}
	return sess.Result()
}

func (s *Service) Charts(principal, sessionID string) ([]chart.Spec, error) {
	result, err := s.Result(principal, sessionID)
	if err != nil {
		return nil, err
	}
	return chart.Select(result.Table), nil
}

func (s *Service) ProfileResult(principal, sessionID string) (profile.Report, error) {
	result, err := s.Result(principal, sessionID)
	if err != nil {
		return profile.Report{}, err
	}
	return profile.Build(result.Table), nil
}

// History returns the session's recent generations. With durable set it
// reads the audit log instead, which outlives the session.
func (s *Service) History(ctx context.Context, principal, sessionID string, limit int, durable bool) ([]nl2sql.GeneratedQuery, error) {
	sess, err := s.sessions.Get(sessionID, principal)
	if err != nil {
		return nil, err
	}
	if !durable {
		return sess.History(limit), nil
	}
	if s.history == nil {
		return nil, fmt.Errorf("%w: query history log is not configured", ErrInvalidRequest)
	}
	return s.history.ListGenerations(ctx, principal, sessionID, limit)
}
