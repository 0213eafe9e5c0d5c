package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Postgres searches project names and descriptions with ILIKE. It is the
// fallback when Meilisearch is not configured or unhealthy.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Healthy() bool {
	return true
}

func (p *Postgres) Search(ctx context.Context, q Query) ([]Result, int, error) {
	text := strings.TrimSpace(q.Text)
	if text == "" {
		return nil, 0, nil
	}
	pattern := "%" + escapeLike(text) + "%"

	const query = `
		SELECT p.id, p.name, COALESCE(p.data->>'description', ''), p.status, COUNT(*) OVER ()
		FROM projects p
		WHERE (p.name ILIKE $2 OR COALESCE(p.data->>'description', '') ILIKE $2)
		  AND (
			p.owner_id = $1
			OR EXISTS (
				SELECT 1 FROM project_collaborators c
				WHERE c.project_id = p.id AND c.user_id = $1
				  AND (c.expires_at IS NULL OR c.expires_at > NOW())
			)
		  )
		ORDER BY p.updated_at DESC
		LIMIT $3 OFFSET $4
	`
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	rows, err := p.db.QueryContext(ctx, query, q.UserID, pattern, normalizeLimit(q.Limit), offset)
	if err != nil {
		return nil, 0, fmt.Errorf("search projects: %w", err)
	}
	defer rows.Close()

	var (
		results []Result
		total   int
	)
	for rows.Next() {
		var result Result
		if err := rows.Scan(&result.ProjectID, &result.Name, &result.Snippet, &result.Status, &total); err != nil {
			return nil, 0, fmt.Errorf("scan search result: %w", err)
		}
		results = append(results, result)
	}
	return results, total, rows.Err()
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
