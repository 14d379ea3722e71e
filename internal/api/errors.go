package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/querydeck/querydeck/internal/completion"
	"github.com/querydeck/querydeck/internal/dataset"
	"github.com/querydeck/querydeck/internal/export"
	"github.com/querydeck/querydeck/internal/ingest"
	"github.com/querydeck/querydeck/internal/nl2sql"
	"github.com/querydeck/querydeck/internal/pipeline"
	"github.com/querydeck/querydeck/internal/query"
	"github.com/querydeck/querydeck/internal/session"
	"github.com/querydeck/querydeck/internal/storage"
)

type errorMapping struct {
	target    error
	status    int
	code      string
	retryable bool
}

var errorMappings = []errorMapping{
	{session.ErrNotFound, http.StatusNotFound, "SESSION_NOT_FOUND", false},
	{session.ErrDatasetNotFound, http.StatusNotFound, "DATASET_NOT_FOUND", false},
	{session.ErrJoinNotFound, http.StatusNotFound, "JOIN_NOT_FOUND", false},
	{session.ErrNoResult, http.StatusConflict, "NO_RESULT", false},
	{session.ErrNoSQL, http.StatusBadRequest, "NO_SQL", false},
	{pipeline.ErrNoDatasets, http.StatusConflict, "NO_DATASETS", false},
	{pipeline.ErrPublishDisabled, http.StatusNotImplemented, "PUBLISH_DISABLED", false},
	{pipeline.ErrInvalidRequest, http.StatusBadRequest, "INVALID_REQUEST", false},
	{nl2sql.ErrQuestionRequired, http.StatusBadRequest, "QUESTION_REQUIRED", false},
	{nl2sql.ErrEmptySQL, http.StatusBadGateway, "EMPTY_SQL", true},
	{completion.ErrCompletionFailed, http.StatusBadGateway, "COMPLETION_FAILED", true},
	{query.ErrNotReadOnly, http.StatusBadRequest, "SQL_NOT_ALLOWED", false},
	{dataset.ErrUnknownColumn, http.StatusBadRequest, "UNKNOWN_COLUMN", false},
	{export.ErrUnknownFormat, http.StatusBadRequest, "UNKNOWN_FORMAT", false},
	{ingest.ErrUnsupportedFormat, http.StatusBadRequest, "UNSUPPORTED_FORMAT", false},
	{storage.ErrObjectNotFound, http.StatusNotFound, "EXPORT_NOT_FOUND", false},
}

// writeServiceError maps a pipeline error onto the JSON error envelope.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	var execErr *query.ExecutionError
	if errors.As(err, &execErr) {
		status, code, retryable := http.StatusUnprocessableEntity, "QUERY_FAILED", false
		if errors.Is(execErr.Err, context.DeadlineExceeded) {
			status, code, retryable = http.StatusGatewayTimeout, "QUERY_TIMEOUT", true
		}
		writeError(ctx, w, status, code, execErr.Error(), retryable, map[string]any{
			"sql":   execErr.SQL,
			"stage": execErr.Stage,
		})
		return
	}
	for _, mapping := range errorMappings {
		if errors.Is(err, mapping.target) {
			writeError(ctx, w, mapping.status, mapping.code, err.Error(), mapping.retryable, nil)
			return
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		writeError(ctx, w, http.StatusServiceUnavailable, "REQUEST_CANCELLED", err.Error(), true, nil)
		return
	}
	writeError(ctx, w, http.StatusInternalServerError, "INTERNAL", err.Error(), false, nil)
}
