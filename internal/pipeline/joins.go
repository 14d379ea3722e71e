package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/querydeck/querydeck/internal/nl2sql"
	"github.com/querydeck/querydeck/internal/query"
)

func (s *Service) Joins(principal, sessionID string) ([]nl2sql.JoinSpec, error) {
	sess, err := s.sessions.Get(sessionID, principal)
	if err != nil {
		return nil, err
	}
	return sess.Joins(), nil
}

func (s *Service) AddJoin(ctx context.Context, principal, sessionID string, join nl2sql.JoinSpec) (int, error) {
	sess, release, err := s.acquire(ctx, principal, sessionID)
	if err != nil {
		return 0, err
	}
	defer release()
	index, err := sess.AddJoin(join)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	return index, nil
}

func (s *Service) RemoveJoin(ctx context.Context, principal, sessionID string, index int) error {
	sess, release, err := s.acquire(ctx, principal, sessionID)
	if err != nil {
		return err
	}
	defer release()
	return sess.RemoveJoin(index)
}

func (s *Service) ClearJoins(ctx context.Context, principal, sessionID string) error {
	sess, release, err := s.acquire(ctx, principal, sessionID)
	if err != nil {
		return err
	}
	defer release()
	sess.ClearJoins()
	return nil
}

// PreviewJoin runs the declared join through the engine so the user can
// check the relationship. The session's SQL and result are not touched.
func (s *Service) PreviewJoin(ctx context.Context, principal, sessionID string, index, limit int) (query.Result, error) {
	sess, release, err := s.acquire(ctx, principal, sessionID)
	if err != nil {
		return query.Result{}, err
	}
	defer release()

	join, err := sess.Join(index)
	if err != nil {
		return query.Result{}, err
	}
	if limit <= 0 {
		limit = s.cfg.JoinPreviewRows
	}
	ctx, cancel := s.queryContext(ctx)
	defer cancel()
	return s.engine.Execute(ctx, query.Request{
		SQL:      JoinSQL(join),
		RowLimit: limit,
		Datasets: sess.Datasets(),
	})
}

// JoinSQL renders a SELECT over both sides of the join.
func JoinSQL(join nl2sql.JoinSpec) string {
	kind, err := nl2sql.ParseJoinKind(string(join.Kind))
	if err != nil {
		kind = nl2sql.JoinInner
	}
	return fmt.Sprintf("SELECT * FROM %s %s %s ON %s.%s = %s.%s",
		quoteIdent(join.LeftTable), kind.SQL(), quoteIdent(join.RightTable),
		quoteIdent(join.LeftTable), quoteIdent(join.LeftColumn),
		quoteIdent(join.RightTable), quoteIdent(join.RightColumn),
	)
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}
