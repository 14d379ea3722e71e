package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/querydeck/querydeck/internal/auth"
)

func principalFromRequest(r *http.Request) string {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || strings.TrimSpace(identity.Principal) == "" {
		return auth.AnonymousPrincipal
	}
	return identity.Principal
}

// decodeJSON reads a strict JSON body into target and writes the error
// response itself when it fails.
func decodeJSON(w http.ResponseWriter, r *http.Request, target any, what string) bool {
	return decodeBody(w, r, target, what, false)
}

// decodeOptionalJSON is decodeJSON for endpoints whose body may be empty.
func decodeOptionalJSON(w http.ResponseWriter, r *http.Request, target any, what string) bool {
	return decodeBody(w, r, target, what, true)
}

func decodeBody(w http.ResponseWriter, r *http.Request, target any, what string, optional bool) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid "+what+" request body", false, map[string]any{"details": err.Error()})
		return false
	}
	return true
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", name+" must be a non-negative integer", false, map[string]any{name: raw})
		return 0, false
	}
	return value, true
}

func handleListSessions(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	sessions := deps.Service.ListSessions(principalFromRequest(r))
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func handleCreateSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	summary := deps.Service.CreateSession(r.Context(), principalFromRequest(r))
	writeJSON(w, http.StatusCreated, summary)
}

func handleGetSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	sess, err := deps.Service.Session(principalFromRequest(r), r.PathValue("id"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Summary())
}

func handleDeleteSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := deps.Service.DeleteSession(r.Context(), principalFromRequest(r), id); err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
}

func handleResetSession(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	summary, err := deps.Service.ResetSession(r.Context(), principalFromRequest(r), r.PathValue("id"))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func handleHistory(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	source := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("source")))
	if source != "" && source != "session" && source != "audit" {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "source must be session or audit", false, map[string]any{"source": source})
		return
	}
	if source == "" {
		source = "session"
	}
	queries, err := deps.Service.History(r.Context(), principalFromRequest(r), r.PathValue("id"), limit, source == "audit")
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"source": source, "queries": queries})
}
