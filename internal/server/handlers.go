package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/convoflow/convoflow/internal/email"
	"github.com/convoflow/convoflow/internal/sessions"
	"github.com/convoflow/convoflow/internal/turn"
	"github.com/convoflow/convoflow/pkg/models"
)

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req models.TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	result, err := s.orch.HandleTurn(r.Context(), &req)
	if err != nil {
		s.writeTurnError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleEmailDraft(w http.ResponseWriter, r *http.Request) {
	var req email.DraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	result, err := s.drafts.GenerateDraft(r.Context(), &req)
	if err != nil {
		if errors.Is(err, email.ErrInvalidThread) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		s.log.Error(r.Context(), "email draft failed", "error", err.Error())
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "draft generation failed"})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) writeTurnError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, turn.ErrInvalidRequest):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, turn.ErrSessionNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, turn.ErrRateLimited):
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limited"})
	case errors.Is(err, sessions.ErrLockTimeout):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "session busy"})
	default:
		s.log.Error(r.Context(), "turn failed", "error", err.Error())
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "turn failed"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
