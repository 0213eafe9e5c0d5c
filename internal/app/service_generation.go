package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Verridian-ai/cortex-relume-sub005/internal/generation"
	"github.com/Verridian-ai/cortex-relume-sub005/internal/rbac"
	"github.com/Verridian-ai/cortex-relume-sub005/internal/store"
	"github.com/Verridian-ai/cortex-relume-sub005/internal/workflow"
)

func briefFor(project store.Project) generation.Brief {
	return generation.Brief{
		Name:           project.Name,
		WebsiteType:    project.Settings.WebsiteType,
		Industry:       project.Settings.Industry,
		TargetAudience: project.Settings.TargetAudience,
		Language:       project.Settings.Language,
		Description:    project.Data.Description,
		Goals:          project.Data.Goals,
	}
}

func toGenerationPages(pages []store.SitemapPage) []generation.Page {
	out := make([]generation.Page, 0, len(pages))
	for _, page := range pages {
		out = append(out, generation.Page(page))
	}
	return out
}

func generationMeta(result generation.Result) store.GenerationMeta {
	return store.GenerationMeta{TokensUsed: result.TokensUsed, CostUSD: result.CostUSD, Model: result.Model}
}

// generate runs one provider call under the configured timeout and maps its
// failures onto the envelope taxonomy.
func (s *Service) generate(ctx context.Context, projectID, artifact string, req generation.Request) (generation.Result, error) {
	if s.generator == nil {
		return generation.Result{}, errGenerationFailed(generation.ErrNotConfigured)
	}
	if req.Timeout <= 0 {
		req.Timeout = s.generationTimeout()
	}
	s.metrics.GenerationCall()
	result, err := s.generator.Generate(ctx, req)
	if err != nil {
		s.metrics.GenerationError()
		s.logger.Warn("generation failed",
			zap.String("project_id", projectID),
			zap.String("artifact", artifact),
			zap.Error(err),
		)
		return generation.Result{}, generationError(err)
	}
	return result, nil
}

func generationError(err error) error {
	if errors.Is(err, generation.ErrTimeout) {
		return errGenerationTimeout()
	}
	return errGenerationFailed(err)
}

func sitemapPayload(item store.Sitemap) map[string]any {
	return map[string]any{
		"projectId":  item.ProjectID,
		"pages":      item.Pages,
		"generation": item.Generation,
		"updatedAt":  item.UpdatedAt,
	}
}

func wireframePayload(item store.Wireframe) map[string]any {
	return map[string]any{
		"projectId":  item.ProjectID,
		"pageId":     item.PageID,
		"layout":     item.Layout,
		"generation": item.Generation,
		"updatedAt":  item.UpdatedAt,
	}
}

func styleGuidePayload(item store.StyleGuide) map[string]any {
	return map[string]any{
		"projectId":  item.ProjectID,
		"brandName":  item.BrandName,
		"colors":     item.Colors,
		"typography": item.Typography,
		"generation": item.Generation,
		"updatedAt":  item.UpdatedAt,
	}
}

func (s *Service) GenerateSitemap(ctx context.Context, caller Caller, projectID string) (map[string]any, error) {
	project, level, err := s.authorize(ctx, caller, projectID, rbac.CapArtifactGenerate)
	if err != nil {
		return nil, err
	}
	result, err := s.generate(ctx, project.ID, "sitemap", generation.SitemapRequest(briefFor(project)))
	if err != nil {
		return nil, err
	}
	draft, err := generation.ParseSitemap(result.JSON)
	if err != nil {
		s.metrics.GenerationError()
		return nil, errGenerationFailed(err)
	}

	pages := make([]store.SitemapPage, 0, len(draft.Pages))
	for _, page := range draft.Pages {
		pages = append(pages, store.SitemapPage(page))
	}
	item := store.Sitemap{ProjectID: project.ID, Pages: pages, Generation: generationMeta(result)}
	if err := s.store.UpsertSitemap(ctx, item); err != nil {
		return nil, fmt.Errorf("save sitemap: %w", err)
	}

	s.audit(ctx, project.ID, actorID(caller), "artifact_generate", string(level), map[string]any{
		"artifact":   "sitemap",
		"pages":      len(pages),
		"tokensUsed": result.TokensUsed,
	})
	completed := s.markStepIfComplete(ctx, project, workflow.StepSitemap)

	payload := sitemapPayload(item)
	payload["stepCompleted"] = completed
	return payload, nil
}

func (s *Service) GenerateWireframe(ctx context.Context, caller Caller, projectID, pageID string) (map[string]any, error) {
	project, level, err := s.authorize(ctx, caller, projectID, rbac.CapArtifactGenerate)
	if err != nil {
		return nil, err
	}
	items, err := s.loadArtifacts(ctx, project.ID)
	if err != nil {
		return nil, err
	}
	if items.sitemap == nil {
		return nil, errValidation("Generate a sitemap before wireframes", map[string]any{"missing": []string{"Sitemap"}})
	}

	pages := toGenerationPages(items.sitemap.Pages)
	var (
		target generation.Page
		found  bool
	)
	for _, page := range pages {
		if page.ID == pageID {
			target, found = page, true
			break
		}
	}
	if !found {
		return nil, errNotFound("Page")
	}

	result, err := s.generate(ctx, project.ID, "wireframe", generation.WireframeRequest(briefFor(project), target, pages))
	if err != nil {
		return nil, err
	}
	layout, err := generation.ParseWireframe(result.JSON)
	if err != nil {
		s.metrics.GenerationError()
		return nil, errGenerationFailed(err)
	}

	item := store.Wireframe{ProjectID: project.ID, PageID: target.ID, Layout: layout, Generation: generationMeta(result)}
	if err := s.store.UpsertWireframe(ctx, item); err != nil {
		return nil, fmt.Errorf("save wireframe: %w", err)
	}

	s.audit(ctx, project.ID, actorID(caller), "artifact_generate", string(level), map[string]any{
		"artifact":   "wireframe",
		"pageId":     target.ID,
		"tokensUsed": result.TokensUsed,
	})
	completed := s.markStepIfComplete(ctx, project, workflow.StepWireframe)

	payload := wireframePayload(item)
	payload["stepCompleted"] = completed
	return payload, nil
}

func (s *Service) GenerateStyleGuide(ctx context.Context, caller Caller, projectID string) (map[string]any, error) {
	project, level, err := s.authorize(ctx, caller, projectID, rbac.CapArtifactGenerate)
	if err != nil {
		return nil, err
	}
	result, err := s.generate(ctx, project.ID, "style_guide", generation.StyleGuideRequest(briefFor(project)))
	if err != nil {
		return nil, err
	}
	draft, err := generation.ParseStyleGuide(result.JSON)
	if err != nil {
		s.metrics.GenerationError()
		return nil, errGenerationFailed(err)
	}

	item := store.StyleGuide{
		ProjectID: project.ID,
		BrandName: draft.BrandName,
		Colors: store.StyleColors{
			Primary:    draft.Colors.Primary,
			Secondary:  draft.Colors.Secondary,
			Accent:     draft.Colors.Accent,
			Background: draft.Colors.Background,
			Text:       draft.Colors.Text,
		},
		Typography: store.StyleTypography{
			HeadingFont: draft.Typography.HeadingFont,
			BodyFont:    draft.Typography.BodyFont,
			BaseSize:    draft.Typography.BaseSize,
		},
		Generation: generationMeta(result),
	}
	if err := s.store.UpsertStyleGuide(ctx, item); err != nil {
		return nil, fmt.Errorf("save style guide: %w", err)
	}

	s.audit(ctx, project.ID, actorID(caller), "artifact_generate", string(level), map[string]any{
		"artifact":   "style_guide",
		"tokensUsed": result.TokensUsed,
	})
	completed := s.markStepIfComplete(ctx, project, workflow.StepStyle)

	payload := styleGuidePayload(item)
	payload["stepCompleted"] = completed
	return payload, nil
}

// GetArtifacts returns whatever has been generated for the project.
func (s *Service) GetArtifacts(ctx context.Context, caller Caller, projectID string) (map[string]any, error) {
	project, _, err := s.authorize(ctx, caller, projectID, rbac.CapProjectView)
	if err != nil {
		return nil, err
	}
	items, err := s.loadArtifacts(ctx, project.ID)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{"sitemap": nil, "styleGuide": nil}
	if items.sitemap != nil {
		payload["sitemap"] = sitemapPayload(*items.sitemap)
	}
	wireframes := make([]map[string]any, 0, len(items.wireframes))
	for _, item := range items.wireframes {
		wireframes = append(wireframes, wireframePayload(item))
	}
	payload["wireframes"] = wireframes
	if items.style != nil {
		payload["styleGuide"] = styleGuidePayload(*items.style)
	}
	return payload, nil
}
