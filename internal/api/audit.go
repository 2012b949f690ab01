package api

import (
	"net/http"
	"strconv"

	"github.com/eversmart/homecore/internal/audit"
)

// handleAuditLog returns the activity trail, newest first, filtered by
// query parameters: action, entity_type, entity_id, limit, offset.
func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "limit must be a number")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "offset must be a number")
			return
		}
		filter.Offset = n
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit entries", "error", err)
		writeInternalError(w, "failed to list audit entries")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// recordAudit writes one trail entry. Recording failures are logged
// and swallowed; the trail never fails the operation it describes.
func (s *Server) recordAudit(r *http.Request, action, entityType, entityID string, details map[string]any) {
	subject, _ := r.Context().Value(ctxKeySubject).(string)

	entry := &audit.Entry{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Subject:    subject,
		Source:     "api",
		Details:    details,
	}
	if err := s.audit.Create(r.Context(), entry); err != nil {
		s.logger.Warn("recording audit entry failed",
			"action", action, "entity_type", entityType, "entity_id", entityID, "error", err)
	}
}
