package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/tasmota-bridge/internal/audit"
)

// record writes an audit entry when an audit repository is configured.
// Failures are logged; the request already succeeded.
func (s *Server) record(r *http.Request, entry audit.Entry) {
	if s.audit == nil {
		return
	}
	entry.Source = audit.SourceAPI
	if err := s.audit.Create(r.Context(), &entry); err != nil {
		s.logger.Warn("recording audit entry failed",
			"action", entry.Action,
			"device_id", entry.DeviceID,
			"error", err,
		)
	}
}

// handleListAudit returns device activity, newest first.
//
// Query parameters:
//   - action: filter by action (paired, removed, settings, command, connection)
//   - device_id: filter by device
//   - limit, offset: pagination
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeNotFound(w, "audit log not enabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:   q.Get("action"),
		DeviceID: q.Get("device_id"),
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeBadRequest(w, "invalid "+name)
			return
		}
		*dst = n
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		writeInternalError(w, "failed to list audit logs")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
