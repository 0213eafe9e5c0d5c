package app

import "net/http"

func (s *HTTPServer) handleWorkflow(w http.ResponseWriter, r *http.Request, caller Caller, projectID string, parts []string) {
	if len(parts) == 4 && r.Method == http.MethodGet {
		payload, err := s.service.GetWorkflow(r.Context(), caller, projectID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, payload)
		return
	}

	if len(parts) != 5 {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	if parts[4] == "validation" && r.Method == http.MethodGet {
		payload, err := s.service.GetStepValidation(r.Context(), caller, projectID, r.URL.Query().Get("step"))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, payload)
		return
	}

	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		return
	}

	var (
		payload map[string]any
		err     error
	)
	switch parts[4] {
	case "advance":
		payload, err = s.service.GoToNextStep(r.Context(), caller, projectID)
	case "retreat":
		payload, err = s.service.GoToPreviousStep(r.Context(), caller, projectID)
	case "reset":
		payload, err = s.service.ResetWorkflow(r.Context(), caller, projectID)
	case "goto", "complete":
		var body struct {
			Step string `json:"step"`
		}
		if decodeErr := decodeBody(r, &body); decodeErr != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_BODY", decodeErr.Error(), nil)
			return
		}
		if parts[4] == "goto" {
			payload, err = s.service.GoToStep(r.Context(), caller, projectID, body.Step)
		} else {
			payload, err = s.service.CompleteStep(r.Context(), caller, projectID, body.Step)
		}
	default:
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, payload)
}

// handleArtifacts serves generated artifacts:
//
//	GET  /api/projects/{id}/artifacts
//	POST /api/projects/{id}/sitemap/generate
//	POST /api/projects/{id}/wireframes/{pageId}/generate
//	POST /api/projects/{id}/style-guide/generate
func (s *HTTPServer) handleArtifacts(w http.ResponseWriter, r *http.Request, caller Caller, projectID string, parts []string) {
	if r.Method == http.MethodGet && len(parts) == 4 {
		payload, err := s.service.GetArtifacts(r.Context(), caller, projectID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, payload)
		return
	}

	if r.Method != http.MethodPost || parts[len(parts)-1] != "generate" {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	var (
		payload map[string]any
		err     error
	)
	switch {
	case parts[3] == "sitemap" && len(parts) == 5:
		payload, err = s.service.GenerateSitemap(r.Context(), caller, projectID)
	case parts[3] == "wireframes" && len(parts) == 6:
		payload, err = s.service.GenerateWireframe(r.Context(), caller, projectID, parts[4])
	case parts[3] == "style-guide" && len(parts) == 5:
		payload, err = s.service.GenerateStyleGuide(r.Context(), caller, projectID)
	default:
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, payload)
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request, caller Caller, projectID string, parts []string) {
	if len(parts) != 4 || r.Method != http.MethodPost {
		writeError(w, r, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	payload, err := s.service.ExportProject(r.Context(), caller, projectID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, payload)
}
