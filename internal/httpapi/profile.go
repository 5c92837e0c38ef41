package httpapi

import (
	"net/http"

	"github.com/ent0n29/guardian/internal/profile"
)

func (s *Server) handleGetProfile(w http.ResponseWriter, _ *http.Request) {
	if s.profile == nil {
		respondError(w, http.StatusNotImplemented, "profile_unavailable", "profile store not configured")
		return
	}
	respondJSON(w, http.StatusOK, s.profile.Get())
}

func (s *Server) handlePutProfile(w http.ResponseWriter, r *http.Request) {
	if s.profile == nil {
		respondError(w, http.StatusNotImplemented, "profile_unavailable", "profile store not configured")
		return
	}
	var req profile.Profile
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	updated, err := s.profile.Update(req)
	if err != nil {
		s.respondDomainError(w, r, err)
		return
	}
	s.logger.Info("profile updated", "contacts", len(updated.EmergencyContacts))
	respondJSON(w, http.StatusOK, updated)
}
