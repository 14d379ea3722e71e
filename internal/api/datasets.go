package api

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/querydeck/querydeck/internal/dataset"
	"github.com/querydeck/querydeck/internal/export"
	"github.com/querydeck/querydeck/internal/nl2sql"
	"github.com/querydeck/querydeck/internal/pipeline"
	"github.com/querydeck/querydeck/internal/query"
)

const multipartMemory = 32 << 20

func tableJSON(table dataset.Table) map[string]any {
	return map[string]any{
		"columns":   table.Columns,
		"rows":      export.JSONRows(table),
		"row_count": table.RowCount(),
	}
}

func handleUploadDatasets(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, deps.MaxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(r.Context(), w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "upload exceeds the size limit", false, map[string]any{"limit_bytes": tooLarge.Limit})
			return
		}
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_UPLOAD", "expected a multipart form with one or more files", false, map[string]any{"details": err.Error()})
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := append(r.MultipartForm.File["files"], r.MultipartForm.File["file"]...)
	files := make([]pipeline.UploadFile, 0, len(headers))
	for _, header := range headers {
		data, err := readPart(header)
		if err != nil {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_UPLOAD", "failed to read uploaded file", false, map[string]any{"filename": header.Filename, "details": err.Error()})
			return
		}
		files = append(files, pipeline.UploadFile{Filename: header.Filename, Data: data})
	}

	result, err := deps.Service.Upload(r.Context(), principalFromRequest(r), r.PathValue("id"), files, strings.TrimSpace(r.FormValue("name")))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	status := http.StatusOK
	if len(result.Loaded) == 0 {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, result)
}

func readPart(header *multipart.FileHeader) ([]byte, error) {
	file, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()
	return io.ReadAll(file)
}

func handleListDatasets(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	datasets, err := deps.Service.Datasets(principalFromRequest(r), r.PathValue("id"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"datasets": datasets})
}

func handlePreviewDataset(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	preview, err := deps.Service.PreviewDataset(principalFromRequest(r), r.PathValue("id"), r.PathValue("name"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"dataset": preview.DatasetInfo,
		"head":    tableJSON(preview.Head),
		"tail":    tableJSON(preview.Tail),
	})
}

func handleProfileDataset(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	report, err := deps.Service.ProfileDataset(principalFromRequest(r), r.PathValue("id"), r.PathValue("name"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func handleDeleteDataset(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := deps.Service.RemoveDataset(r.Context(), principalFromRequest(r), r.PathValue("id"), name); err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": name, "deleted": true})
}

type joinRequest struct {
	LeftTable   string `json:"left_table"`
	LeftColumn  string `json:"left_column"`
	RightTable  string `json:"right_table"`
	RightColumn string `json:"right_column"`
	Kind        string `json:"kind"`
}

func handleListJoins(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	joins, err := deps.Service.Joins(principalFromRequest(r), r.PathValue("id"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"joins": joins})
}

func handleAddJoin(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var request joinRequest
	if !decodeJSON(w, r, &request, "join") {
		return
	}
	kind, err := nl2sql.ParseJoinKind(request.Kind)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), false, nil)
		return
	}
	join := nl2sql.JoinSpec{
		LeftTable:   strings.TrimSpace(request.LeftTable),
		LeftColumn:  strings.TrimSpace(request.LeftColumn),
		RightTable:  strings.TrimSpace(request.RightTable),
		RightColumn: strings.TrimSpace(request.RightColumn),
		Kind:        kind,
	}
	index, err := deps.Service.AddJoin(r.Context(), principalFromRequest(r), r.PathValue("id"), join)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"index": index, "join": join})
}

func handleClearJoins(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if err := deps.Service.ClearJoins(r.Context(), principalFromRequest(r), r.PathValue("id")); err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"joins": []nl2sql.JoinSpec{}})
}

func joinIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.PathValue("index")
	index, err := strconv.Atoi(raw)
	if err != nil || index < 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "join index must be a non-negative integer", false, map[string]any{"index": raw})
		return 0, false
	}
	return index, true
}

func handleDeleteJoin(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	index, ok := joinIndex(w, r)
	if !ok {
		return
	}
	if err := deps.Service.RemoveJoin(r.Context(), principalFromRequest(r), r.PathValue("id"), index); err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"index": index, "deleted": true})
}

func handlePreviewJoin(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	index, ok := joinIndex(w, r)
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	result, err := deps.Service.PreviewJoin(r.Context(), principalFromRequest(r), r.PathValue("id"), index, limit)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, resultJSON(result))
}

func resultJSON(result query.Result) map[string]any {
	payload := tableJSON(result.Table)
	payload["sql"] = result.SQL
	payload["duration_ms"] = result.Duration.Milliseconds()
	payload["executed_at"] = result.ExecutedAt
	payload["query"] = result.Query
	return payload
}
