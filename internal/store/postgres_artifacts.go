package store

import (
	"context"
	"encoding/json"
	"fmt"
)

func (s *PostgresStore) GetSitemap(ctx context.Context, projectID string) (Sitemap, error) {
	const query = `
		SELECT project_id, pages, tokens_used, cost_usd, model, created_at, updated_at
		FROM sitemaps WHERE project_id = $1
	`
	var (
		item  Sitemap
		pages []byte
	)
	err := s.db.QueryRowContext(ctx, query, projectID).Scan(
		&item.ProjectID, &pages,
		&item.Generation.TokensUsed, &item.Generation.CostUSD, &item.Generation.Model,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return Sitemap{}, fmt.Errorf("get sitemap: %w", err)
	}
	item.Pages = []SitemapPage{}
	if err := json.Unmarshal(pages, &item.Pages); err != nil {
		return Sitemap{}, fmt.Errorf("decode sitemap pages: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) UpsertSitemap(ctx context.Context, item Sitemap) error {
	if item.Pages == nil {
		item.Pages = []SitemapPage{}
	}
	pages, err := marshalParam(item.Pages)
	if err != nil {
		return fmt.Errorf("encode sitemap pages: %w", err)
	}
	const query = `
		INSERT INTO sitemaps (project_id, pages, tokens_used, cost_usd, model)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (project_id) DO UPDATE SET
			pages = EXCLUDED.pages,
			tokens_used = EXCLUDED.tokens_used,
			cost_usd = EXCLUDED.cost_usd,
			model = EXCLUDED.model,
			updated_at = NOW()
	`
	if _, err := s.db.ExecContext(ctx, query, item.ProjectID, pages, item.Generation.TokensUsed, item.Generation.CostUSD, item.Generation.Model); err != nil {
		return fmt.Errorf("upsert sitemap: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListWireframes(ctx context.Context, projectID string) ([]Wireframe, error) {
	const query = `
		SELECT project_id, page_id, layout, tokens_used, cost_usd, model, created_at, updated_at
		FROM wireframes WHERE project_id = $1
		ORDER BY page_id
	`
	rows, err := s.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("list wireframes: %w", err)
	}
	defer rows.Close()

	items := []Wireframe{}
	for rows.Next() {
		var (
			item   Wireframe
			layout []byte
		)
		if err := rows.Scan(
			&item.ProjectID, &item.PageID, &layout,
			&item.Generation.TokensUsed, &item.Generation.CostUSD, &item.Generation.Model,
			&item.CreatedAt, &item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan wireframe: %w", err)
		}
		item.Layout = layout
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) UpsertWireframe(ctx context.Context, item Wireframe) error {
	const query = `
		INSERT INTO wireframes (project_id, page_id, layout, tokens_used, cost_usd, model)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (project_id, page_id) DO UPDATE SET
			layout = EXCLUDED.layout,
			tokens_used = EXCLUDED.tokens_used,
			cost_usd = EXCLUDED.cost_usd,
			model = EXCLUDED.model,
			updated_at = NOW()
	`
	layout := jsonParam(item.Layout)
	if layout == nil {
		layout = "{}"
	}
	if _, err := s.db.ExecContext(ctx, query, item.ProjectID, item.PageID, layout, item.Generation.TokensUsed, item.Generation.CostUSD, item.Generation.Model); err != nil {
		return fmt.Errorf("upsert wireframe: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetStyleGuide(ctx context.Context, projectID string) (StyleGuide, error) {
	const query = `
		SELECT project_id, brand_name, colors, typography, tokens_used, cost_usd, model, created_at, updated_at
		FROM style_guides WHERE project_id = $1
	`
	var (
		item       StyleGuide
		colors     []byte
		typography []byte
	)
	err := s.db.QueryRowContext(ctx, query, projectID).Scan(
		&item.ProjectID, &item.BrandName, &colors, &typography,
		&item.Generation.TokensUsed, &item.Generation.CostUSD, &item.Generation.Model,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return StyleGuide{}, fmt.Errorf("get style guide: %w", err)
	}
	if err := json.Unmarshal(colors, &item.Colors); err != nil {
		return StyleGuide{}, fmt.Errorf("decode style colors: %w", err)
	}
	if err := json.Unmarshal(typography, &item.Typography); err != nil {
		return StyleGuide{}, fmt.Errorf("decode style typography: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) UpsertStyleGuide(ctx context.Context, item StyleGuide) error {
	colors, err := marshalParam(item.Colors)
	if err != nil {
		return fmt.Errorf("encode style colors: %w", err)
	}
	typography, err := marshalParam(item.Typography)
	if err != nil {
		return fmt.Errorf("encode style typography: %w", err)
	}
	const query = `
		INSERT INTO style_guides (project_id, brand_name, colors, typography, tokens_used, cost_usd, model)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (project_id) DO UPDATE SET
			brand_name = EXCLUDED.brand_name,
			colors = EXCLUDED.colors,
			typography = EXCLUDED.typography,
			tokens_used = EXCLUDED.tokens_used,
			cost_usd = EXCLUDED.cost_usd,
			model = EXCLUDED.model,
			updated_at = NOW()
	`
	if _, err := s.db.ExecContext(ctx, query, item.ProjectID, item.BrandName, colors, typography, item.Generation.TokensUsed, item.Generation.CostUSD, item.Generation.Model); err != nil {
		return fmt.Errorf("upsert style guide: %w", err)
	}
	return nil
}
