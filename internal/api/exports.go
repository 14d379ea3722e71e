package api

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/querydeck/querydeck/internal/export"
)

// exportRequest reads format, columns and limit from the query string.
func exportRequest(w http.ResponseWriter, r *http.Request) (export.Format, export.Options, bool) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return "", export.Options{}, false
	}
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return "", export.Options{}, false
	}
	var columns []string
	for _, raw := range strings.Split(r.URL.Query().Get("columns"), ",") {
		if name := strings.TrimSpace(raw); name != "" {
			columns = append(columns, name)
		}
	}
	return format, export.Options{Columns: columns, Limit: limit}, true
}

func handleExportResult(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	format, opts, ok := exportRequest(w, r)
	if !ok {
		return
	}
	file, err := deps.Service.Export(principalFromRequest(r), r.PathValue("id"), format, opts)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	w.Header().Set("Content-Type", file.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(file.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(file.Data)
}

func handlePublishResult(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	format, opts, ok := exportRequest(w, r)
	if !ok {
		return
	}
	published, err := deps.Service.Publish(r.Context(), principalFromRequest(r), r.PathValue("id"), format, opts)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, published)
}

func handleListPublished(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	exports, err := deps.Service.ListPublished(r.Context(), principalFromRequest(r), r.PathValue("id"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"exports": exports})
}

func handleDownloadPublished(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	body, info, err := deps.Service.OpenPublished(r.Context(), principalFromRequest(r), r.PathValue("id"), r.PathValue("key"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	defer func() { _ = body.Close() }()

	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", baseName(info.Key)))
	if info.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil && deps.Logger != nil {
		deps.Logger.WarnContext(r.Context(), "stream published export failed",
			slog.String("key", info.Key),
			slog.String("error", err.Error()),
		)
	}
}

func handleDeletePublished(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if err := deps.Service.RemovePublished(r.Context(), principalFromRequest(r), r.PathValue("id"), key); err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"key": key, "deleted": true})
}

func baseName(key string) string {
	if i := strings.LastIndex(key, "/"); i >= 0 {
		return key[i+1:]
	}
	return key
}
