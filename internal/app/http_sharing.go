package app

import (
	"encoding/json"
	"net/http"
	"strings"
)

func (s *HTTPServer) handleSharing(w http.ResponseWriter, r *http.Request, caller Caller, projectID string, parts []string) {
	if len(parts) != 4 {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	switch r.Method {
	case http.MethodGet:
		payload, err := s.service.GetSharing(r.Context(), caller, projectID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, payload)
	case http.MethodPut:
		var body struct {
			IsPublic *bool           `json:"isPublic"`
			Sharing  json.RawMessage `json:"sharing"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.UpdateSharing(r.Context(), caller, projectID, body.IsPublic, body.Sharing)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, payload)
	default:
		writeError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleCollaborators(w http.ResponseWriter, r *http.Request, caller Caller, projectID string, parts []string) {
	if len(parts) == 4 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.ListCollaborators(r.Context(), caller, projectID)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, r, http.StatusOK, payload)
		case http.MethodPost:
			var body InviteCollaboratorInput
			if err := decodeBody(r, &body); err != nil {
				writeError(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.InviteCollaborator(r.Context(), caller, projectID, body)
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

	if len(parts) == 5 && r.Method == http.MethodDelete {
		if err := s.service.RemoveCollaborator(r.Context(), caller, projectID, parts[4]); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, r, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleProjectShareLinks(w http.ResponseWriter, r *http.Request, caller Caller, projectID string, parts []string) {
	if len(parts) != 4 {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	switch r.Method {
	case http.MethodGet:
		items, err := s.service.ListShareLinks(r.Context(), caller, projectID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		var body CreateShareLinkInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.CreateShareLink(r.Context(), caller, projectID, body)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusCreated, payload)
	default:
		writeError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

// handleShareLinks serves /api/share-links and /api/share-links/{linkId}.
func (s *HTTPServer) handleShareLinks(w http.ResponseWriter, r *http.Request, caller Caller, parts []string) {
	if len(parts) == 2 && r.Method == http.MethodGet {
		items, err := s.service.ListShareLinks(r.Context(), caller, r.URL.Query().Get("projectId"))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, map[string]any{"items": items})
		return
	}

	if len(parts) == 3 && r.Method == http.MethodDelete {
		if err := s.service.RevokeShareLink(r.Context(), caller, parts[2]); err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, map[string]any{"ok": true})
		return
	}

	writeError(w, r, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// handleConsumeShareLink serves /share/{token}. Authentication is optional;
// a password may come from the X-Share-Password header or a POST body.
func (s *HTTPServer) handleConsumeShareLink(w http.ResponseWriter, r *http.Request, token string) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}
	caller, ok := s.optionalCaller(w, r)
	if !ok {
		return
	}
	if !s.allow(w, r, caller) {
		return
	}

	password := strings.TrimSpace(r.Header.Get("X-Share-Password"))
	if r.Method == http.MethodPost {
		var body struct {
			Password string `json:"password"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if body.Password != "" {
			password = body.Password
		}
	}

	payload, err := s.service.ConsumeShareLink(r.Context(), caller, token, ConsumeContext{
		Origin:   r.Header.Get("Origin"),
		Referer:  r.Header.Get("Referer"),
		Password: password,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, payload)
}
