package app

import (
	"context"
	"fmt"

	"github.com/Verridian-ai/cortex-relume-sub005/internal/rbac"
	"github.com/Verridian-ai/cortex-relume-sub005/internal/workflow"
)

// ExportProject bundles the project's artifacts once the export step
// validates.
func (s *Service) ExportProject(ctx context.Context, caller Caller, projectID string) (map[string]any, error) {
	project, level, err := s.authorize(ctx, caller, projectID, rbac.CapProjectExport)
	if err != nil {
		return nil, err
	}
	items, err := s.loadArtifacts(ctx, project.ID)
	if err != nil {
		return nil, fmt.Errorf("load artifacts: %w", err)
	}

	validation := workflow.Validate(workflow.StepExport, factsFor(project, items))
	if !validation.IsComplete {
		return nil, errWorkflow(&workflow.ViolationError{
			From:    workflow.Step(project.CurrentStep),
			To:      workflow.StepExport,
			Reason:  "project is not ready for export",
			Missing: validation.Missing,
		})
	}

	bundle := s.exports.BuildBundle(project, items.sitemap, items.wireframes, items.style)
	result, err := s.exports.Publish(ctx, bundle)
	if err != nil {
		return nil, fmt.Errorf("publish export: %w", err)
	}

	s.audit(ctx, project.ID, actorID(caller), "project_export", string(level), map[string]any{
		"key":  result.Key,
		"size": result.Size,
	})

	return map[string]any{
		"projectId": project.ID,
		"key":       result.Key,
		"url":       result.URL,
		"expiresAt": result.ExpiresAt,
		"size":      result.Size,
		"bundle":    result.Bundle,
	}, nil
}
