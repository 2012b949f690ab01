package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eversmart/homecore/internal/audit"
	"github.com/eversmart/homecore/internal/automation"
)

// handleListAutomations returns all automations, active or not.
func (s *Server) handleListAutomations(w http.ResponseWriter, r *http.Request) {
	automations, err := s.automations.List(r.Context())
	if err != nil {
		s.logger.Error("listing automations", "error", err)
		writeInternalError(w, "failed to list automations")
		return
	}
	if automations == nil {
		automations = []automation.Automation{}
	}
	writeJSON(w, http.StatusOK, automations)
}

// handleCreateAutomation registers a new scheduled action.
func (s *Server) handleCreateAutomation(w http.ResponseWriter, r *http.Request) {
	var a automation.Automation
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if a.DeviceID == "" {
		writeBadRequest(w, "device_id is required")
		return
	}

	if err := s.automations.Create(r.Context(), &a); err != nil {
		if isAutomationValidationError(err) {
			writeBadRequest(w, err.Error())
			return
		}
		s.logger.Error("creating automation", "error", err)
		writeInternalError(w, "failed to create automation")
		return
	}

	s.recordAudit(r, audit.ActionCreate, audit.EntityAutomation, a.ID, map[string]any{
		"title": a.Title,
	})
	writeJSON(w, http.StatusCreated, a)
}

// handleGetAutomation returns a single automation by ID.
func (s *Server) handleGetAutomation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	a, err := s.automations.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, automation.ErrNotFound) {
			writeNotFound(w, "automation not found")
			return
		}
		s.logger.Error("fetching automation", "automation_id", id, "error", err)
		writeInternalError(w, "failed to fetch automation")
		return
	}

	writeJSON(w, http.StatusOK, a)
}

// handleUpdateAutomation replaces an automation's definition.
func (s *Server) handleUpdateAutomation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var a automation.Automation
	if err := json.NewDecoder(r.Body).Decode(&a); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	a.ID = id

	if err := s.automations.Update(r.Context(), &a); err != nil {
		switch {
		case errors.Is(err, automation.ErrNotFound):
			writeNotFound(w, "automation not found")
		case isAutomationValidationError(err):
			writeBadRequest(w, err.Error())
		default:
			s.logger.Error("updating automation", "automation_id", id, "error", err)
			writeInternalError(w, "failed to update automation")
		}
		return
	}

	s.recordAudit(r, audit.ActionUpdate, audit.EntityAutomation, a.ID, nil)
	writeJSON(w, http.StatusOK, a)
}

// handleDeleteAutomation removes an automation.
func (s *Server) handleDeleteAutomation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := s.automations.Delete(r.Context(), id); err != nil {
		if errors.Is(err, automation.ErrNotFound) {
			writeNotFound(w, "automation not found")
			return
		}
		s.logger.Error("deleting automation", "automation_id", id, "error", err)
		writeInternalError(w, "failed to delete automation")
		return
	}

	s.recordAudit(r, audit.ActionDelete, audit.EntityAutomation, id, nil)
	w.WriteHeader(http.StatusNoContent)
}

// isAutomationValidationError reports whether err is a client-side
// definition problem rather than a storage failure.
func isAutomationValidationError(err error) bool {
	return errors.Is(err, automation.ErrInvalidTriggerTime) ||
		errors.Is(err, automation.ErrInvalidRepeatDays) ||
		errors.Is(err, automation.ErrInvalidSolarEvent)
}
