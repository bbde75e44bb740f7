package api

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/MrWong99/speakwell/internal/observe"
	"github.com/MrWong99/speakwell/internal/practice"
)

type sessionsResponse struct {
	Sessions []practice.Session `json:"sessions"`
	Count    int                `json:"count"`
}

// handleListSessions handles GET /api/sessions. Sessions are returned newest
// first; an empty user_id lists every learner.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, msgNoStore)
		return
	}

	limit := practice.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, msgInvalidLimit)
			return
		}
		limit = n
	}

	sessions, err := s.store.ListByUser(r.Context(), r.URL.Query().Get("user_id"), limit)
	if err != nil {
		observe.Logger(r.Context()).Error("api: list sessions", "err", err)
		writeError(w, http.StatusInternalServerError, msgStoreFailed)
		return
	}
	if sessions == nil {
		sessions = []practice.Session{}
	}
	writeJSON(w, http.StatusOK, sessionsResponse{Sessions: sessions, Count: len(sessions)})
}

// handleGetSession handles GET /api/sessions/{id}.
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, msgNoStore)
		return
	}
	id := r.PathValue("id")
	if err := uuid.Validate(id); err != nil {
		writeError(w, http.StatusBadRequest, msgInvalidID)
		return
	}

	sess, err := s.store.Get(r.Context(), id)
	if err != nil {
		observe.Logger(r.Context()).Error("api: get session", "id", id, "err", err)
		writeError(w, http.StatusInternalServerError, msgStoreFailed)
		return
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, msgSessionNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

type statsResponse struct {
	practice.Stats
	DemoAvailable bool `json:"demo_available"`
}

// handleStats handles GET /api/stats, optionally scoped by user_id.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{DemoAvailable: true}
	if s.store != nil {
		st, err := s.store.Stats(r.Context(), r.URL.Query().Get("user_id"))
		if err != nil {
			observe.Logger(r.Context()).Error("api: stats", "err", err)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: msgStoreFailed, Details: err.Error()})
			return
		}
		resp.Stats = st
	}
	writeJSON(w, http.StatusOK, resp)
}
