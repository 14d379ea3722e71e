package api

import (
	"net/http"

	"github.com/querydeck/querydeck/internal/pipeline"
)

type generateRequest struct {
	Question string `json:"question"`
}

type sqlRequest struct {
	SQL string `json:"sql"`
}

type executeRequest struct {
	SQL      string `json:"sql"`
	RowLimit int    `json:"row_limit"`
}

func handleGenerate(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var request generateRequest
	if !decodeJSON(w, r, &request, "generate") {
		return
	}
	generation, err := deps.Service.Generate(r.Context(), principalFromRequest(r), r.PathValue("id"), request.Question)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, generation)
}

func handleGetSQL(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	sess, err := deps.Service.Session(principalFromRequest(r), r.PathValue("id"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	sqlText, current := sess.SQL()
	writeJSON(w, http.StatusOK, map[string]any{"sql": sqlText, "query": current})
}

func handlePutSQL(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var request sqlRequest
	if !decodeJSON(w, r, &request, "sql") {
		return
	}
	if err := deps.Service.SetSQL(r.Context(), principalFromRequest(r), r.PathValue("id"), request.SQL); err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sql": request.SQL, "query": nil})
}

func handleExecute(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	var request executeRequest
	if !decodeOptionalJSON(w, r, &request, "execute") {
		return
	}
	if request.RowLimit < 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "row_limit must be non-negative", false, nil)
		return
	}
	result, err := deps.Service.Execute(r.Context(), principalFromRequest(r), r.PathValue("id"), pipeline.ExecuteRequest{
		SQL:      request.SQL,
		RowLimit: request.RowLimit,
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, resultJSON(result))
}

func handleGetResult(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	result, err := deps.Service.Result(principalFromRequest(r), r.PathValue("id"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, resultJSON(result))
}

func handleGetCharts(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	charts, err := deps.Service.Charts(principalFromRequest(r), r.PathValue("id"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"charts": charts})
}

func handleProfileResult(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	report, err := deps.Service.ProfileResult(principalFromRequest(r), r.PathValue("id"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
