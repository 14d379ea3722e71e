package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/querydeck/querydeck/internal/auth"
	"github.com/querydeck/querydeck/internal/config"
	"github.com/querydeck/querydeck/internal/observability"
	"github.com/querydeck/querydeck/internal/pipeline"
)

type ReadinessCheck func(ctx context.Context) error

type handlerFunc func(deps Dependencies, w http.ResponseWriter, r *http.Request)

type Dependencies struct {
	Logger            *slog.Logger
	Readiness         ReadinessCheck
	AuthMiddleware    func(http.Handler) http.Handler
	DependencyTimeout time.Duration
	Service           *pipeline.Service
	MaxUploadBytes    int64
}

// ExampleQuestions are offered to new users as a starting point.
var ExampleQuestions = []string{
	"What are the top 10 rows by total sales?",
	"Show the average value per category.",
	"How many records are there per month?",
	"Which customers have the highest number of orders?",
	"What is the total revenue by region, sorted descending?",
	"Compare this year's totals against last year's by product.",
}

func NewHandler(cfg config.Config, deps Dependencies) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "service": cfg.Service.Name})
	})

	mux.HandleFunc("GET /v1/ready", func(w http.ResponseWriter, r *http.Request) {
		if deps.Readiness == nil {
			writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
			return
		}
		timeout := deps.DependencyTimeout
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		if err := deps.Readiness(ctx); err != nil {
			writeError(r.Context(), w, http.StatusServiceUnavailable, "NOT_READY", err.Error(), true, nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	})

	mux.Handle("GET /v1/metrics", promhttp.Handler())

	mux.HandleFunc("GET /v1/examples", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"questions": ExampleQuestions})
	})

	authenticate := auth.AnonymousMiddleware
	if cfg.Auth.Required {
		if deps.AuthMiddleware == nil {
			if deps.Logger != nil {
				deps.Logger.Error("auth required but auth middleware missing")
			}
			authenticate = func(http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					writeError(r.Context(), w, http.StatusInternalServerError, "AUTH_MIDDLEWARE_MISSING", "auth middleware is required by configuration", false, nil)
				})
			}
		} else {
			authenticate = deps.AuthMiddleware
		}
	}

	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = cfg.HTTP.MaxUploadBytes
	}

	bind := func(fn handlerFunc) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if deps.Service == nil {
				writeError(r.Context(), w, http.StatusNotImplemented, "SERVICE_NOT_CONFIGURED", "query pipeline is not configured", false, nil)
				return
			}
			fn(deps, w, r)
		})
	}
	// read routes need any authenticated caller, write routes the analyst role.
	read := func(pattern string, fn handlerFunc) {
		mux.Handle(pattern, authenticate(bind(fn)))
	}
	write := func(pattern string, fn handlerFunc) {
		mux.Handle(pattern, authenticate(auth.RequireRole(auth.RoleAnalyst, bind(fn))))
	}

	read("GET /v1/sessions", handleListSessions)
	write("POST /v1/sessions", handleCreateSession)
	read("GET /v1/sessions/{id}", handleGetSession)
	write("DELETE /v1/sessions/{id}", handleDeleteSession)
	write("POST /v1/sessions/{id}/reset", handleResetSession)

	write("POST /v1/sessions/{id}/datasets", handleUploadDatasets)
	read("GET /v1/sessions/{id}/datasets", handleListDatasets)
	read("GET /v1/sessions/{id}/datasets/{name}", handlePreviewDataset)
	read("GET /v1/sessions/{id}/datasets/{name}/profile", handleProfileDataset)
	write("DELETE /v1/sessions/{id}/datasets/{name}", handleDeleteDataset)

	read("GET /v1/sessions/{id}/joins", handleListJoins)
	write("POST /v1/sessions/{id}/joins", handleAddJoin)
	write("DELETE /v1/sessions/{id}/joins", handleClearJoins)
	write("DELETE /v1/sessions/{id}/joins/{index}", handleDeleteJoin)
	write("POST /v1/sessions/{id}/joins/{index}/preview", handlePreviewJoin)

	write("POST /v1/sessions/{id}/generate", handleGenerate)
	read("GET /v1/sessions/{id}/sql", handleGetSQL)
	write("PUT /v1/sessions/{id}/sql", handlePutSQL)
	write("POST /v1/sessions/{id}/execute", handleExecute)

	read("GET /v1/sessions/{id}/result", handleGetResult)
	read("GET /v1/sessions/{id}/result/charts", handleGetCharts)
	read("GET /v1/sessions/{id}/result/profile", handleProfileResult)
	read("GET /v1/sessions/{id}/result/export", handleExportResult)
	write("POST /v1/sessions/{id}/result/publish", handlePublishResult)

	read("GET /v1/sessions/{id}/exports", handleListPublished)
	read("GET /v1/sessions/{id}/exports/{key...}", handleDownloadPublished)
	write("DELETE /v1/sessions/{id}/exports/{key...}", handleDeletePublished)
	read("GET /v1/sessions/{id}/history", handleHistory)

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware,
		observability.MetricsMiddleware,
	}
	if deps.Logger != nil {
		middlewares = append(middlewares, observability.LoggingMiddleware(deps.Logger))
	}
	return chain(mux, middlewares...)
}

func CheckCompletionConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if cfg.AI.BaseURL == "" {
			return errors.New("completion base url is not configured")
		}
		if cfg.AI.APIKey == "" {
			return errors.New("completion api key is not configured")
		}
		return nil
	}
}

func CheckObjectStoreConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		if !cfg.ObjectStore.PublishEnabled {
			return nil
		}
		if cfg.ObjectStore.Endpoint == "" {
			return errors.New("object store endpoint is not configured")
		}
		if cfg.ObjectStore.Bucket == "" {
			return errors.New("object store bucket is not configured")
		}
		return nil
	}
}

func CombineReadinessChecks(checks ...ReadinessCheck) ReadinessCheck {
	filtered := make([]ReadinessCheck, 0, len(checks))
	for _, check := range checks {
		if check != nil {
			filtered = append(filtered, check)
		}
	}
	return func(ctx context.Context) error {
		for _, check := range filtered {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

func chain(base http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	wrapped := base
	for i := len(middlewares) - 1; i >= 0; i-- {
		wrapped = middlewares[i](wrapped)
	}
	return wrapped
}

// writeJSON encodes before writing the status so an unencodable payload
// becomes a 500 envelope instead of a truncated 200.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		status = http.StatusInternalServerError
		body, _ = json.Marshal(map[string]any{
			"error_code": "ENCODE_FAILED",
			"message":    err.Error(),
			"retryable":  false,
			"context":    nil,
			"trace_id":   w.Header().Get("X-Trace-ID"),
		})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, code, message string, retryable bool, extra map[string]any) {
	writeJSON(w, status, map[string]any{
		"error_code": code,
		"message":    message,
		"retryable":  retryable,
		"context":    extra,
		"trace_id":   observability.TraceIDFromContext(ctx),
	})
}
