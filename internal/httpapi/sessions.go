package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/guardian/internal/escalation"
	"github.com/ent0n29/guardian/internal/monitor"
	"github.com/ent0n29/guardian/internal/session"
)

const (
	maxUploadBytes = 16 << 20
	// File parts above this size are spooled to disk while parsing.
	maxUploadMemory = 1 << 20
)

type modeRequest struct {
	Mode string `json:"mode"`
}

type textRequest struct {
	Text string `json:"text"`
}

type confirmRequest struct {
	Choice string `json:"choice"`
}

type confirmResponse struct {
	SessionID string           `json:"session_id"`
	Step      escalation.Step  `json:"step"`
	State     escalation.State `json:"state"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req session.CreateRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = "anonymous"
	}
	mode := s.cfg.DefaultMode
	if strings.TrimSpace(req.Mode) != "" {
		parsed, err := escalation.ParseMode(req.Mode)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_mode", err.Error())
			return
		}
		mode = parsed
	}

	sess, err := s.monitor.StartSession(req.UserID, mode)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}

	respondJSON(w, http.StatusCreated, session.CreateResponse{
		SessionID:       sess.ID,
		UserID:          sess.UserID,
		Status:          sess.Status,
		Mode:            sess.Mode,
		StartedAt:       sess.StartedAt,
		LastActivityAt:  sess.LastActivityAt,
		InactivityTTLMS: s.sessions.InactivityTimeout().Milliseconds(),
	})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.monitor.EndSession(chi.URLParam(r, "id"))
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	mode, err := escalation.ParseMode(req.Mode)
	if err != nil || strings.TrimSpace(req.Mode) == "" {
		respondError(w, http.StatusBadRequest, "invalid_mode", fmt.Sprintf("unknown escalation mode %q", req.Mode))
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.monitor.SetMode(id, mode); err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"session_id": id, "mode": mode})
}

func (s *Server) handleSubmitText(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	out, err := s.monitor.SubmitText(r.Context(), chi.URLParam(r, "id"), req.Text)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleSubmitAudio(w http.ResponseWriter, r *http.Request) {
	s.handleUpload(w, r, s.monitor.SubmitAudio)
}

func (s *Server) handleSubmitImage(w http.ResponseWriter, r *http.Request) {
	s.handleUpload(w, r, s.monitor.SubmitImage)
}

// handleUpload stores the multipart "file" field in a temp file for the
// duration of the submit call.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, submit func(ctx context.Context, sessionID, path string) (monitor.TurnOutcome, error)) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_upload", err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()
	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_upload", "multipart field \"file\" is required")
		return
	}
	defer file.Close()

	tmp, err := os.CreateTemp("", "guardian-upload-*"+filepath.Ext(header.Filename))
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, file); err != nil {
		_ = tmp.Close()
		s.respondDomainError(w, r, err)
		return
	}
	if err := tmp.Close(); err != nil {
		s.respondDomainError(w, r, err)
		return
	}

	out, err := submit(r.Context(), chi.URLParam(r, "id"), tmp.Name())
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	choice, err := escalation.ParseChoice(req.Choice)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	step, err := s.monitor.Confirm(r.Context(), id, choice)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, confirmResponse{SessionID: id, Step: step, State: step.To})
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitParam(w, r)
	if !ok {
		return
	}
	lines, err := s.monitor.History(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"entries": lines})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitParam(w, r)
	if !ok {
		return
	}
	records, err := s.monitor.Alerts(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	if records == nil {
		records = []escalation.NotificationRecord{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"alerts": records})
}

func limitParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
		return 0, false
	}
	return n, true
}
