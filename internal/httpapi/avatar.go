package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/antoniostano/acolyte/internal/avatar"
)

type rateRequest struct {
	MessageID string `json:"message_id"`
	Score     int    `json:"score"`
}

func (s *Server) handleAvatarStatus(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.avatar.Status())
}

func (s *Server) handleAvatarConnect(w http.ResponseWriter, r *http.Request) {
	if err := s.avatar.Connect(r.Context()); err != nil {
		respondAvatarError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.avatar.Status())
}

func (s *Server) handleAvatarDisconnect(w http.ResponseWriter, _ *http.Request) {
	if err := s.avatar.Disconnect(); err != nil {
		respondAvatarError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.avatar.Status())
}

func (s *Server) handleAvatarReconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.avatar.Reconnect(r.Context()); err != nil {
		respondAvatarError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, s.avatar.Status())
}

func (s *Server) handleAvatarChat(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.avatar.Chat(r.Context(), req.Text); err != nil {
		respondAvatarError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, s.avatar.Status())
}

func (s *Server) handleAvatarSpeak(w http.ResponseWriter, r *http.Request) {
	var req avatar.SpeakInput
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.avatar.Speak(r.Context(), req); err != nil {
		respondAvatarError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, s.avatar.Status())
}

func (s *Server) handleAvatarRate(w http.ResponseWriter, r *http.Request) {
	var req rateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.MessageID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "message_id is required")
		return
	}
	if err := s.avatar.Rate(r.Context(), req.MessageID, req.Score); err != nil {
		respondAvatarError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"message_id": req.MessageID, "score": req.Score})
}

func respondAvatarError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, avatar.ErrNotConnected):
		respondError(w, http.StatusConflict, "avatar_not_connected", err.Error())
	case errors.Is(err, avatar.ErrSpeakTooShort), errors.Is(err, avatar.ErrEmptyText):
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, avatar.ErrUnknownMessage):
		respondError(w, http.StatusNotFound, "message_not_found", err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "avatar_failed", err.Error())
	}
}
