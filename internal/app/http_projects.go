package app

import (
	"net/http"
)

func (s *HTTPServer) handleProjects(w http.ResponseWriter, r *http.Request, caller Caller, parts []string) {
	if len(parts) == 2 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.ListProjects(r.Context(), caller, r.URL.Query().Get("q"), queryInt(r, "limit", 50))
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, r, http.StatusOK, payload)
		case http.MethodPost:
			var body CreateProjectInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateProject(r.Context(), caller, body)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, r, http.StatusCreated, payload)
		default:
			writeError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	projectID := parts[2]

	if len(parts) == 3 {
		s.handleProject(w, r, caller, projectID)
		return
	}

	switch parts[3] {
	case "access":
		s.handleAccess(w, r, caller, projectID)
	case "audit":
		s.handleAudit(w, r, caller, projectID)
	case "sharing":
		s.handleSharing(w, r, caller, projectID, parts)
	case "collaborators":
		s.handleCollaborators(w, r, caller, projectID, parts)
	case "share-links":
		s.handleProjectShareLinks(w, r, caller, projectID, parts)
	case "sessions":
		s.handleSessions(w, r, caller, projectID, parts)
	case "workflow":
		s.handleWorkflow(w, r, caller, projectID, parts)
	case "artifacts", "sitemap", "wireframes", "style-guide":
		s.handleArtifacts(w, r, caller, projectID, parts)
	case "export":
		s.handleExport(w, r, caller, projectID, parts)
	default:
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleProject(w http.ResponseWriter, r *http.Request, caller Caller, projectID string) {
	switch r.Method {
	case http.MethodGet:
		payload, err := s.service.GetProject(r.Context(), caller, projectID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, payload)
	case http.MethodPut, http.MethodPatch:
		var body UpdateProjectInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.UpdateProject(r.Context(), caller, projectID, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, payload)
	case http.MethodDelete:
		if err := s.service.DeleteProject(r.Context(), caller, projectID); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

// handleAccess reports the caller's level, or checks one capability when
// ?capability= is given.
func (s *HTTPServer) handleAccess(w http.ResponseWriter, r *http.Request, caller Caller, projectID string) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	if capability := r.URL.Query().Get("capability"); capability != "" {
		allowed, err := s.service.CheckPermission(r.Context(), caller, projectID, capability)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, map[string]any{"capability": capability, "allowed": allowed})
		return
	}
	payload, err := s.service.ResolveLevel(r.Context(), caller, projectID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, payload)
}

func (s *HTTPServer) handleAudit(w http.ResponseWriter, r *http.Request, caller Caller, projectID string) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	items, err := s.service.ListAudit(r.Context(), caller, projectID, queryInt(r, "limit", 50))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"items": items})
}
