package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Verridian-ai/cortex-relume-sub005/internal/rbac"
	"github.com/Verridian-ai/cortex-relume-sub005/internal/store"
	"github.com/Verridian-ai/cortex-relume-sub005/internal/workflow"
)

// artifacts is everything generated for a project so far.
type artifacts struct {
	sitemap    *store.Sitemap
	wireframes []store.Wireframe
	style      *store.StyleGuide
}

func (s *Service) loadArtifacts(ctx context.Context, projectID string) (artifacts, error) {
	var out artifacts

	sitemap, err := s.store.GetSitemap(ctx, projectID)
	switch {
	case err == nil:
		out.sitemap = &sitemap
	case !errors.Is(err, sql.ErrNoRows):
		return artifacts{}, err
	}

	wireframes, err := s.store.ListWireframes(ctx, projectID)
	if err != nil {
		return artifacts{}, err
	}
	out.wireframes = wireframes

	style, err := s.store.GetStyleGuide(ctx, projectID)
	switch {
	case err == nil:
		out.style = &style
	case !errors.Is(err, sql.ErrNoRows):
		return artifacts{}, err
	}
	return out, nil
}

func factsFor(project store.Project, items artifacts) workflow.Facts {
	facts := workflow.Facts{
		ProjectExists: project.ID != "",
		ProjectName:   project.Name,
		WebsiteType:   project.Settings.WebsiteType,
		Wireframes:    map[string]bool{},
	}
	if items.sitemap != nil {
		pages := make([]workflow.PageFacts, 0, len(items.sitemap.Pages))
		for _, page := range items.sitemap.Pages {
			pages = append(pages, workflow.PageFacts{ID: page.ID, Title: page.Title, IsCritical: page.IsCritical})
		}
		facts.Sitemap = &workflow.SitemapFacts{Pages: pages}
	}
	for _, item := range items.wireframes {
		facts.Wireframes[item.PageID] = true
	}
	if items.style != nil {
		facts.StyleGuide = &workflow.StyleFacts{BrandName: items.style.BrandName, PrimaryColor: items.style.Colors.Primary}
	}
	return facts
}

// loadFacts reads the latest persisted artifacts for the predicates.
func (s *Service) loadFacts(ctx context.Context, project store.Project) (workflow.Facts, error) {
	items, err := s.loadArtifacts(ctx, project.ID)
	if err != nil {
		return workflow.Facts{}, fmt.Errorf("load workflow facts: %w", err)
	}
	return factsFor(project, items), nil
}

func stateOf(project store.Project) workflow.State {
	completed := make([]workflow.Step, 0, len(project.CompletedSteps))
	for _, step := range project.CompletedSteps {
		completed = append(completed, workflow.Step(step))
	}
	return workflow.State{Current: workflow.Step(project.CurrentStep), Completed: completed}.Normalize()
}

func workflowPayload(state workflow.State, facts workflow.Facts) map[string]any {
	validations := workflow.ValidateAll(facts)
	steps := make([]map[string]any, 0, len(validations))
	for i, validation := range validations {
		steps = append(steps, map[string]any{
			"step":        validation.Step,
			"index":       i,
			"isCurrent":   validation.Step == state.Current,
			"isCompleted": state.IsCompleted(validation.Step),
			"isComplete":  validation.IsComplete,
			"missing":     validation.Missing,
		})
	}
	current := workflow.Validate(state.Current, facts)
	return map[string]any{
		"currentStep":    state.Current,
		"completedSteps": state.Completed,
		"steps":          steps,
		"canAdvance":     current.IsComplete && workflow.Index(state.Current) < len(workflow.Steps)-1,
	}
}

func (s *Service) GetWorkflow(ctx context.Context, caller Caller, projectID string) (map[string]any, error) {
	project, _, err := s.authorize(ctx, caller, projectID, rbac.CapWorkflowView)
	if err != nil {
		return nil, err
	}
	facts, err := s.loadFacts(ctx, project)
	if err != nil {
		return nil, err
	}
	return workflowPayload(stateOf(project), facts), nil
}

// GetStepValidation validates one step, or every step when step is empty.
func (s *Service) GetStepValidation(ctx context.Context, caller Caller, projectID, step string) (any, error) {
	project, _, err := s.authorize(ctx, caller, projectID, rbac.CapWorkflowView)
	if err != nil {
		return nil, err
	}
	facts, err := s.loadFacts(ctx, project)
	if err != nil {
		return nil, err
	}
	if step == "" {
		return workflow.ValidateAll(facts), nil
	}
	parsed, err := workflow.Parse(step)
	if err != nil {
		return nil, errValidation(err.Error(), map[string]any{"field": "step"})
	}
	return workflow.Validate(parsed, facts), nil
}

// transition moves the persisted state from before to after. The update is
// conditional on the current step so a concurrent move is reported as a
// violation rather than overwritten.
func (s *Service) transition(ctx context.Context, caller Caller, project store.Project, level rbac.Level, action string, before, after workflow.State, markCompleted workflow.Step) (map[string]any, error) {
	if before.Current != after.Current || markCompleted != "" {
		moved, err := s.store.MoveStep(ctx, project.ID, string(before.Current), string(after.Current), string(markCompleted))
		if err != nil {
			return nil, err
		}
		if !moved {
			return nil, errWorkflow(&workflow.ViolationError{
				From:   before.Current,
				To:     after.Current,
				Reason: "workflow was changed by another request",
			})
		}
		s.audit(ctx, project.ID, actorID(caller), action, string(level), map[string]any{
			"from": before.Current,
			"to":   after.Current,
		})
	}
	return s.GetWorkflow(ctx, caller, project.ID)
}

func violation(err error) error {
	var violationErr *workflow.ViolationError
	if errors.As(err, &violationErr) {
		return errWorkflow(violationErr)
	}
	if errors.Is(err, workflow.ErrUnknownStep) {
		return errValidation(err.Error(), map[string]any{"field": "step"})
	}
	return err
}

// GoToNextStep advances once the current step validates.
func (s *Service) GoToNextStep(ctx context.Context, caller Caller, projectID string) (map[string]any, error) {
	project, level, err := s.authorize(ctx, caller, projectID, rbac.CapWorkflowAdvance)
	if err != nil {
		return nil, err
	}
	facts, err := s.loadFacts(ctx, project)
	if err != nil {
		return nil, err
	}
	before := stateOf(project)
	after, err := before.Next(facts)
	if err != nil {
		return nil, violation(err)
	}
	return s.transition(ctx, caller, project, level, "workflow_advance", before, after, before.Current)
}

func (s *Service) GoToPreviousStep(ctx context.Context, caller Caller, projectID string) (map[string]any, error) {
	project, level, err := s.authorize(ctx, caller, projectID, rbac.CapWorkflowAdvance)
	if err != nil {
		return nil, err
	}
	before := stateOf(project)
	return s.transition(ctx, caller, project, level, "workflow_retreat", before, before.Previous(), "")
}

func (s *Service) GoToStep(ctx context.Context, caller Caller, projectID, target string) (map[string]any, error) {
	project, level, err := s.authorize(ctx, caller, projectID, rbac.CapWorkflowAdvance)
	if err != nil {
		return nil, err
	}
	step, err := workflow.Parse(target)
	if err != nil {
		return nil, violation(err)
	}
	before := stateOf(project)
	after, err := before.GoTo(step)
	if err != nil {
		return nil, violation(err)
	}
	return s.transition(ctx, caller, project, level, "workflow_goto", before, after, "")
}

// CompleteStep marks step completed when its predicate holds. Repeating it
// is a no-op.
func (s *Service) CompleteStep(ctx context.Context, caller Caller, projectID, target string) (map[string]any, error) {
	project, level, err := s.authorize(ctx, caller, projectID, rbac.CapWorkflowAdvance)
	if err != nil {
		return nil, err
	}
	step, err := workflow.Parse(target)
	if err != nil {
		return nil, violation(err)
	}
	facts, err := s.loadFacts(ctx, project)
	if err != nil {
		return nil, err
	}
	before := stateOf(project)
	after, err := before.Complete(step, facts)
	if err != nil {
		return nil, violation(err)
	}
	if !before.IsCompleted(step) {
		if err := s.store.AddCompletedStep(ctx, project.ID, string(step)); err != nil {
			return nil, err
		}
		s.audit(ctx, project.ID, actorID(caller), "workflow_complete", string(level), map[string]any{"step": step})
	}
	return workflowPayload(after, facts), nil
}

func (s *Service) ResetWorkflow(ctx context.Context, caller Caller, projectID string) (map[string]any, error) {
	project, level, err := s.authorize(ctx, caller, projectID, rbac.CapWorkflowAdvance)
	if err != nil {
		return nil, err
	}
	if err := s.store.ResetWorkflow(ctx, project.ID, string(workflow.StepInitial)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errNotFound("Project")
		}
		return nil, err
	}
	s.audit(ctx, project.ID, actorID(caller), "workflow_reset", string(level), nil)
	return s.GetWorkflow(ctx, caller, project.ID)
}

// markStepIfComplete records step after a generation call when the new
// artifacts satisfy it. Failures are logged; the artifact is already saved.
func (s *Service) markStepIfComplete(ctx context.Context, project store.Project, step workflow.Step) bool {
	facts, err := s.loadFacts(ctx, project)
	if err != nil {
		s.logger.Warn("workflow: reload facts", zap.String("project_id", project.ID), zap.Error(err))
		return false
	}
	if !workflow.Validate(step, facts).IsComplete {
		return false
	}
	if err := s.store.AddCompletedStep(ctx, project.ID, string(step)); err != nil {
		s.logger.Warn("workflow: complete step", zap.String("project_id", project.ID), zap.String("step", string(step)), zap.Error(err))
		return false
	}
	return true
}
