package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Verridian-ai/cortex-relume-sub005/internal/rbac"
	"github.com/Verridian-ai/cortex-relume-sub005/internal/search"
	"github.com/Verridian-ai/cortex-relume-sub005/internal/store"
	"github.com/Verridian-ai/cortex-relume-sub005/internal/util"
	"github.com/Verridian-ai/cortex-relume-sub005/internal/workflow"
)

const maxProjectNameLength = 200

var allowedProjectStatus = map[string]struct{}{
	"draft":     {},
	"active":    {},
	"archived":  {},
	"completed": {},
}

var allowedWebsiteTypes = map[string]struct{}{
	"business":   {},
	"portfolio":  {},
	"ecommerce":  {},
	"blog":       {},
	"landing":    {},
	"nonprofit":  {},
	"restaurant": {},
	"event":      {},
	"personal":   {},
	"other":      {},
}

type CreateProjectInput struct {
	Name     string          `json:"name"`
	Settings json.RawMessage `json:"settings"`
	Data     json.RawMessage `json:"data"`
	IsPublic bool            `json:"isPublic"`
}

type UpdateProjectInput struct {
	Name     *string         `json:"name"`
	Status   *string         `json:"status"`
	Settings json.RawMessage `json:"settings"`
	Data     json.RawMessage `json:"data"`
}

func projectPayload(project store.Project, level rbac.Level) map[string]any {
	return map[string]any{
		"id":             project.ID,
		"ownerId":        project.OwnerID,
		"name":           project.Name,
		"status":         project.Status,
		"data":           project.Data,
		"settings":       project.Settings,
		"isPublic":       project.IsPublic,
		"sharing":        project.Sharing,
		"currentStep":    project.CurrentStep,
		"completedSteps": project.CompletedSteps,
		"createdAt":      project.CreatedAt,
		"updatedAt":      project.UpdatedAt,
		"level":          level,
	}
}

func validateProjectName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errValidation("name is required", map[string]any{"field": "name"})
	}
	if len(name) > maxProjectNameLength {
		return "", errValidation(fmt.Sprintf("name must be at most %d characters", maxProjectNameLength), map[string]any{"field": "name"})
	}
	return name, nil
}

func validateSettings(settings *store.ProjectSettings) error {
	settings.WebsiteType = strings.ToLower(strings.TrimSpace(settings.WebsiteType))
	if settings.WebsiteType != "" {
		if _, ok := allowedWebsiteTypes[settings.WebsiteType]; !ok {
			return errValidation("websiteType is not supported", map[string]any{"field": "settings.websiteType"})
		}
	}
	settings.Language = strings.TrimSpace(settings.Language)
	if len(settings.Language) > 16 {
		return errValidation("language must be a language tag", map[string]any{"field": "settings.language"})
	}
	return nil
}

func validateData(data *store.ProjectData) error {
	goals := make([]string, 0, len(data.Goals))
	for _, goal := range data.Goals {
		if trimmed := strings.TrimSpace(goal); trimmed != "" {
			goals = append(goals, trimmed)
		}
	}
	if len(goals) > 20 {
		return errValidation("at most 20 goals are allowed", map[string]any{"field": "data.goals"})
	}
	data.Goals = goals
	return nil
}

func (s *Service) CreateProject(ctx context.Context, caller Caller, input CreateProjectInput) (map[string]any, error) {
	if caller.Anonymous() {
		return nil, errAuthRequired()
	}
	name, err := validateProjectName(input.Name)
	if err != nil {
		return nil, err
	}

	var settings store.ProjectSettings
	if err := decodeStrict(input.Settings, &settings, "settings"); err != nil {
		return nil, err
	}
	if err := validateSettings(&settings); err != nil {
		return nil, err
	}
	var data store.ProjectData
	if err := decodeStrict(input.Data, &data, "data"); err != nil {
		return nil, err
	}
	if err := validateData(&data); err != nil {
		return nil, err
	}

	project := store.Project{
		ID:             util.NewID("prj"),
		OwnerID:        caller.UserID,
		Name:           name,
		Status:         "draft",
		Data:           data,
		Settings:       settings,
		IsPublic:       input.IsPublic,
		Sharing:        store.DefaultSharingSettings(),
		CurrentStep:    string(workflow.StepInitial),
		CompletedSteps: []string{},
	}
	if err := s.store.CreateProject(ctx, project); err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}

	created, err := s.loadProject(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, project.ID, caller.UserID, "project_create", string(rbac.LevelOwner), nil)
	s.indexProject(ctx, created)
	return projectPayload(created, rbac.LevelOwner), nil
}

func (s *Service) GetProject(ctx context.Context, caller Caller, projectID string) (map[string]any, error) {
	project, level, err := s.authorize(ctx, caller, projectID, rbac.CapProjectView)
	if err != nil {
		return nil, err
	}
	return projectPayload(project, level), nil
}

// ListProjects lists projects the caller owns or collaborates on. A query
// goes through the search index; hits are re-checked against the store.
func (s *Service) ListProjects(ctx context.Context, caller Caller, query string, limit int) (map[string]any, error) {
	if caller.Anonymous() {
		return nil, errAuthRequired()
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query = strings.TrimSpace(query)

	if query == "" || s.search == nil {
		projects, err := s.store.ListProjectsForUser(ctx, caller.UserID, limit)
		if err != nil {
			return nil, fmt.Errorf("list projects: %w", err)
		}
		items := make([]map[string]any, 0, len(projects))
		needle := strings.ToLower(query)
		for _, project := range projects {
			if needle != "" && !strings.Contains(strings.ToLower(project.Name), needle) {
				continue
			}
			level, err := s.levelFor(ctx, project, caller)
			if err != nil {
				return nil, err
			}
			items = append(items, projectPayload(project, level))
		}
		return map[string]any{"projects": items, "total": len(items), "query": query}, nil
	}

	response := s.search.Search(ctx, search.Query{Text: query, UserID: caller.UserID, Limit: limit})
	items := make([]map[string]any, 0, len(response.Results))
	for _, hit := range response.Results {
		project, err := s.store.GetProject(ctx, hit.ProjectID)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, err
		}
		level, err := s.levelFor(ctx, project, caller)
		if err != nil {
			return nil, err
		}
		if !rbac.Can(level, rbac.CapProjectView) {
			continue
		}
		payload := projectPayload(project, level)
		payload["snippet"] = hit.Snippet
		items = append(items, payload)
	}
	return map[string]any{"projects": items, "total": len(items), "query": query}, nil
}

func (s *Service) UpdateProject(ctx context.Context, caller Caller, projectID string, input UpdateProjectInput) (map[string]any, error) {
	project, level, err := s.authorize(ctx, caller, projectID, rbac.CapProjectEdit)
	if err != nil {
		return nil, err
	}

	if input.Name != nil {
		name, err := validateProjectName(*input.Name)
		if err != nil {
			return nil, err
		}
		project.Name = name
	}
	if input.Status != nil {
		status := strings.ToLower(strings.TrimSpace(*input.Status))
		if _, ok := allowedProjectStatus[status]; !ok {
			return nil, errValidation("status must be draft, active, archived or completed", map[string]any{"field": "status"})
		}
		project.Status = status
	}
	if err := decodeStrict(input.Settings, &project.Settings, "settings"); err != nil {
		return nil, err
	}
	if err := validateSettings(&project.Settings); err != nil {
		return nil, err
	}
	if err := decodeStrict(input.Data, &project.Data, "data"); err != nil {
		return nil, err
	}
	if err := validateData(&project.Data); err != nil {
		return nil, err
	}

	if err := s.store.UpdateProject(ctx, project); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errNotFound("Project")
		}
		return nil, fmt.Errorf("update project: %w", err)
	}

	updated, err := s.loadProject(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, project.ID, actorID(caller), "project_update", string(level), nil)
	s.indexProject(ctx, updated)
	return projectPayload(updated, level), nil
}

// DeleteProject removes the project and, through the schema's cascades,
// everything attached to it. The audit log is kept.
func (s *Service) DeleteProject(ctx context.Context, caller Caller, projectID string) error {
	project, level, err := s.authorize(ctx, caller, projectID, rbac.CapProjectDelete)
	if err != nil {
		return err
	}
	if err := s.store.DeleteProject(ctx, project.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errNotFound("Project")
		}
		return err
	}
	s.audit(ctx, project.ID, caller.UserID, "project_delete", string(level), map[string]any{"name": project.Name})
	if s.search != nil {
		s.search.DeleteProject(project.ID)
	}
	return nil
}
