package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	wferrors "github.com/ducminhle1904/ea-stress/internal/errors"
	"github.com/ducminhle1904/ea-stress/internal/state"
	"github.com/ducminhle1904/ea-stress/internal/workflow"
)

const (
	defaultLeaderboardLimit = 20
	maxPayloadBytes         = 4 << 20
)

// handleListWorkflows lists stored workflows, most recent first
func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	list, err := s.workflows.List()
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	if list == nil {
		list = []state.Summary{}
	}
	s.writeJSON(w, http.StatusOK, list)
}

// handleGetWorkflow returns the full workflow document
func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	st, err := s.workflows.Load(chi.URLParam(r, "id"))
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

// handleResume decodes the body as a payload of the given kind and applies
// it. The workflow is persisted but not run.
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	kind := chi.URLParam(r, "kind")

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	payload, err := workflow.DecodePayload(kind, raw)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	st, err := s.resumer.ApplyResume(id, payload)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.log.Info().Str("workflow_id", id).Str("kind", kind).Str("status", string(st.Status)).Msg("Resume applied")
	s.writeJSON(w, http.StatusOK, st)
}

// handleLeaderboard returns the top runs; ?limit=N, default 20
func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	if s.leaderboard == nil {
		s.writeError(w, http.StatusServiceUnavailable, "leaderboard is not configured")
		return
	}
	limit := defaultLeaderboardLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	entries, err := s.leaderboard.Top(r.Context(), limit)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":   len(entries),
		"entries": entries,
	})
}

// statusFor maps an error to its HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, state.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, state.ErrInvalidID):
		return http.StatusBadRequest
	case errors.Is(err, state.ErrLocked):
		return http.StatusConflict
	case errors.Is(err, wferrors.ErrSchema):
		return http.StatusUnprocessableEntity
	case errors.Is(err, wferrors.ErrContract):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// writeFailure writes err with the status and category it maps to
func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("Request failed")
	}
	body := map[string]string{"error": err.Error()}
	if cat, ok := wferrors.CategoryOf(err); ok {
		body["category"] = string(cat)
	}
	s.writeJSON(w, status, body)
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeError writes an error response
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{
		"error": message,
	})
}
