// Package pipeline runs the user actions of an analysis session: loading
// files, declaring joins, generating SQL from a question, executing it and
// deriving charts, profiles and exports from the result.
package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/querydeck/querydeck/internal/export"
	"github.com/querydeck/querydeck/internal/history"
	"github.com/querydeck/querydeck/internal/nl2sql"
	"github.com/querydeck/querydeck/internal/observability"
	"github.com/querydeck/querydeck/internal/query"
	"github.com/querydeck/querydeck/internal/session"
	"github.com/querydeck/querydeck/internal/storage"
)

var (
	ErrNoDatasets      = errors.New("no datasets loaded")
	ErrPublishDisabled = errors.New("export publishing is not configured")
	ErrInvalidRequest  = errors.New("invalid request")
)

type Generator interface {
	Generate(ctx context.Context, req nl2sql.GenerateRequest) (nl2sql.GeneratedQuery, error)
}

type Publisher interface {
	Publish(ctx context.Context, principal, sessionID string, file export.File) (export.Published, error)
	List(ctx context.Context, principal, sessionID string) ([]export.Published, error)
	Open(ctx context.Context, principal, sessionID, key string) (io.ReadCloser, storage.ObjectInfo, error)
	Remove(ctx context.Context, principal, sessionID, key string) error
}

type Config struct {
	// RowLimit caps every execution. Zero disables the cap.
	RowLimit     int
	QueryTimeout time.Duration
	// JoinPreviewRows is the default row count of a join preview.
	JoinPreviewRows int
}

type Dependencies struct {
	Logger    *slog.Logger
	Sessions  *session.Store
	Generator Generator
	Engine    query.Engine
	Publisher Publisher
	History   history.Recorder
}

type Service struct {
	logger    *slog.Logger
	sessions  *session.Store
	generator Generator
	engine    query.Engine
	publisher Publisher
	history   history.Recorder
	cfg       Config
}

func NewService(cfg Config, deps Dependencies) (*Service, error) {
	if deps.Sessions == nil {
		return nil, errors.New("session store is required")
	}
	if deps.Generator == nil {
		return nil, errors.New("generator is required")
	}
	if deps.Engine == nil {
		return nil, errors.New("query engine is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.JoinPreviewRows <= 0 {
		cfg.JoinPreviewRows = 20
	}
	return &Service{
		logger:    logger,
		sessions:  deps.Sessions,
		generator: deps.Generator,
		engine:    deps.Engine,
		publisher: deps.Publisher,
		history:   deps.History,
		cfg:       cfg,
	}, nil
}

func (s *Service) CreateSession(ctx context.Context, principal string) session.Summary {
	sess := s.sessions.Create(principal)
	observability.SetActiveSessions(s.sessions.Count())
	s.logger.InfoContext(ctx, "session created",
		slog.String("session_id", sess.ID),
		slog.String("principal", principal),
	)
	return sess.Summary()
}

func (s *Service) Session(principal, sessionID string) (*session.Session, error) {
	return s.sessions.Get(sessionID, principal)
}

func (s *Service) ListSessions(principal string) []session.Summary {
	sessions := s.sessions.List(principal)
	out := make([]session.Summary, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sess.Summary())
	}
	return out
}

func (s *Service) DeleteSession(ctx context.Context, principal, sessionID string) error {
	if err := s.sessions.Delete(sessionID, principal); err != nil {
		return err
	}
	observability.SetActiveSessions(s.sessions.Count())
	s.logger.InfoContext(ctx, "session deleted",
		slog.String("session_id", sessionID),
		slog.String("principal", principal),
	)
	return nil
}

func (s *Service) ResetSession(ctx context.Context, principal, sessionID string) (session.Summary, error) {
	sess, release, err := s.acquire(ctx, principal, sessionID)
	if err != nil {
		return session.Summary{}, err
	}
	defer release()
	sess.Reset()
	return sess.Summary(), nil
}

// acquire looks up the session and serializes the caller with any other
// action running on it.
func (s *Service) acquire(ctx context.Context, principal, sessionID string) (*session.Session, func(), error) {
	sess, err := s.sessions.Get(sessionID, principal)
	if err != nil {
		return nil, nil, err
	}
	release, err := sess.Acquire(ctx)
	if err != nil {
		return nil, nil, err
	}
	return sess, release, nil
}

// SyncSessionGauge refreshes the active session gauge. It is registered as
// the store's eviction hook.
func (s *Service) SyncSessionGauge(*session.Session) {
	observability.SetActiveSessions(s.sessions.Count())
}
