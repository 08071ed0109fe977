package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/MrWong99/captionflow/internal/parse"
	"github.com/MrWong99/captionflow/internal/pipeline"
	"github.com/MrWong99/captionflow/internal/session"
)

type createRequest struct {
	Platform string `json:"platform"`
	MediaID  string `json:"media_id"`
}

type createResponse struct {
	SessionID string `json:"session_id"`
}

// captionsRequest carries one intercepted caption response.
type captionsRequest struct {
	MediaID  string          `json:"media_id"`
	Language string          `json:"language"`
	Error    string          `json:"error,omitempty"`
	Format   string          `json:"format"`
	Payload  json.RawMessage `json:"payload"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Platform == "" {
		writeError(w, http.StatusBadRequest, "platform is required")
		return
	}
	sess, err := s.registry.Create(req.Platform, req.MediaID)
	if err != nil {
		s.logger.Warn("server: create session", "platform", req.Platform, "err", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, createResponse{SessionID: sess.ID})
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Close(chi.URLParam(r, "id")); err != nil {
		s.writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) postCaptions(w http.ResponseWriter, r *http.Request) {
	sess, err := s.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	sess.Touch()

	var req captionsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.MediaID == "" {
		writeError(w, http.StatusBadRequest, "media_id is required")
		return
	}

	payload := pipeline.Payload{
		MediaID:       req.MediaID,
		Language:      req.Language,
		PlatformError: req.Error,
	}
	if req.Error == "" {
		events, err := parse.Decode(parse.Wire(req.Format), req.Payload)
		if err != nil {
			// Fail the pending fetch now instead of letting it time out.
			payload.DecodeErr = err
			if derr := sess.Page.Deliver(payload); derr != nil && !errors.Is(derr, session.ErrUnexpectedPayload) {
				s.logger.Warn("server: deliver invalid payload", "session", sess.ID, "err", derr)
			}
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		payload.Events = events
	}

	if err := sess.Page.Deliver(payload); err != nil {
		s.writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, session.ErrUnexpectedPayload):
		writeError(w, http.StatusConflict, "no caption request pending for this media")
	default:
		s.logger.Error("server: session request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
