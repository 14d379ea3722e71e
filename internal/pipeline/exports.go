package pipeline

import (
	"context"
	"io"
	"log/slog"

	"github.com/querydeck/querydeck/internal/export"
	"github.com/querydeck/querydeck/internal/storage"
)

func (s *Service) Export(principal, sessionID string, format export.Format, opts export.Options) (export.File, error) {
	result, err := s.Result(principal, sessionID)
	if err != nil {
		return export.File{}, err
	}
	return export.Render(result.Table, format, opts)
}

// PublishEnabled reports whether an object store is configured.
func (s *Service) PublishEnabled() bool {
	return s.publisher != nil
}

// Publish renders the current result and uploads it to the object store.
func (s *Service) Publish(ctx context.Context, principal, sessionID string, format export.Format, opts export.Options) (export.Published, error) {
	if s.publisher == nil {
		return export.Published{}, ErrPublishDisabled
	}
	file, err := s.Export(principal, sessionID, format, opts)
	if err != nil {
		return export.Published{}, err
	}
	published, err := s.publisher.Publish(ctx, principal, sessionID, file)
	if err != nil {
		return export.Published{}, err
	}
	s.logger.InfoContext(ctx, "export published",
		slog.String("session_id", sessionID),
		slog.String("key", published.Key),
		slog.String("format", string(format)),
		slog.Int("rows", published.Rows),
	)
	return published, nil
}

func (s *Service) ListPublished(ctx context.Context, principal, sessionID string) ([]export.Published, error) {
	if s.publisher == nil {
		return nil, ErrPublishDisabled
	}
	if _, err := s.sessions.Get(sessionID, principal); err != nil {
		return nil, err
	}
	return s.publisher.List(ctx, principal, sessionID)
}

func (s *Service) OpenPublished(ctx context.Context, principal, sessionID, key string) (io.ReadCloser, storage.ObjectInfo, error) {
	if s.publisher == nil {
		return nil, storage.ObjectInfo{}, ErrPublishDisabled
	}
	if _, err := s.sessions.Get(sessionID, principal); err != nil {
		return nil, storage.ObjectInfo{}, err
	}
	return s.publisher.Open(ctx, principal, sessionID, key)
}

func (s *Service) RemovePublished(ctx context.Context, principal, sessionID, key string) error {
	if s.publisher == nil {
		return ErrPublishDisabled
	}
	if _, err := s.sessions.Get(sessionID, principal); err != nil {
		return err
	}
	return s.publisher.Remove(ctx, principal, sessionID, key)
}
