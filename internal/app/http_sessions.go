package app

import "net/http"

func (s *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request, caller Caller, projectID string, parts []string) {
	if len(parts) == 5 && parts[4] == "conflicts" && r.Method == http.MethodGet {
		payload, err := s.service.DetectConflicts(r.Context(), caller, projectID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, payload)
		return
	}

	if len(parts) != 4 {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch r.Method {
	case http.MethodGet:
		items, err := s.service.ListActiveSessions(r.Context(), caller, projectID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, map[string]any{"sessions": items})
	case http.MethodPost, http.MethodPut:
		var body UpdateSessionInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.UpdateSession(r.Context(), caller, projectID, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, payload)
	case http.MethodDelete:
		if err := s.service.EndSession(r.Context(), caller, projectID, r.URL.Query().Get("userId")); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}
