package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// Collaborators

const collaboratorColumns = `c.project_id, c.user_id, c.level, c.granted_by, c.granted_at, c.expires_at, u.email, u.display_name`

func scanCollaborator(row rowScanner) (Collaborator, error) {
	var (
		item      Collaborator
		expiresAt sql.NullTime
	)
	if err := row.Scan(&item.ProjectID, &item.UserID, &item.Level, &item.GrantedBy, &item.GrantedAt, &expiresAt, &item.Email, &item.DisplayName); err != nil {
		return Collaborator{}, err
	}
	if expiresAt.Valid {
		item.ExpiresAt = &expiresAt.Time
	}
	return item, nil
}

// ListCollaborators returns every grant on the project, expired ones
// included; callers decide whether an expired grant still counts.
func (s *PostgresStore) ListCollaborators(ctx context.Context, projectID string) ([]Collaborator, error) {
	query := `
		SELECT ` + collaboratorColumns + `
		FROM project_collaborators c
		JOIN users u ON u.id = c.user_id
		WHERE c.project_id = $1
		ORDER BY c.granted_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("list collaborators: %w", err)
	}
	defer rows.Close()

	items := []Collaborator{}
	for rows.Next() {
		item, err := scanCollaborator(rows)
		if err != nil {
			return nil, fmt.Errorf("scan collaborator: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) GetCollaborator(ctx context.Context, projectID, userID string) (Collaborator, error) {
	query := `
		SELECT ` + collaboratorColumns + `
		FROM project_collaborators c
		JOIN users u ON u.id = c.user_id
		WHERE c.project_id = $1 AND c.user_id = $2
	`
	item, err := scanCollaborator(s.db.QueryRowContext(ctx, query, projectID, userID))
	if err != nil {
		return Collaborator{}, fmt.Errorf("get collaborator: %w", err)
	}
	return item, nil
}

// UpsertCollaborator grants or re-grants a level. Re-granting replaces the
// level, grantor and expiry.
func (s *PostgresStore) UpsertCollaborator(ctx context.Context, item Collaborator) error {
	const query = `
		INSERT INTO project_collaborators (project_id, user_id, level, granted_by, granted_at, expires_at)
		VALUES ($1, $2, $3, $4, NOW(), $5)
		ON CONFLICT (project_id, user_id) DO UPDATE SET
			level = EXCLUDED.level,
			granted_by = EXCLUDED.granted_by,
			granted_at = NOW(),
			expires_at = EXCLUDED.expires_at
	`
	if _, err := s.db.ExecContext(ctx, query, item.ProjectID, item.UserID, item.Level, item.GrantedBy, item.ExpiresAt); err != nil {
		return fmt.Errorf("upsert collaborator: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteCollaborator(ctx context.Context, projectID, userID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM project_collaborators WHERE project_id = $1 AND user_id = $2`, projectID, userID)
	if err != nil {
		return fmt.Errorf("delete collaborator: %w", err)
	}
	return requireAffected(result, "delete collaborator")
}

// Share links

const shareLinkColumns = `id, project_id, token, level, created_by, max_access_count, current_access_count,
	expires_at, domain_restrictions, requires_login, allow_api_access, metadata, password_hash,
	revoked_at, last_accessed_at, created_at`

func scanShareLink(row rowScanner) (ShareLink, error) {
	var (
		link         ShareLink
		expiresAt    sql.NullTime
		revokedAt    sql.NullTime
		lastAccessed sql.NullTime
		domains      pq.StringArray
		metadata     []byte
		passwordHash sql.NullString
	)
	if err := row.Scan(
		&link.ID,
		&link.ProjectID,
		&link.Token,
		&link.Level,
		&link.CreatedBy,
		&link.MaxAccessCount,
		&link.CurrentAccessCount,
		&expiresAt,
		&domains,
		&link.RequiresLogin,
		&link.AllowAPIAccess,
		&metadata,
		&passwordHash,
		&revokedAt,
		&lastAccessed,
		&link.CreatedAt,
	); err != nil {
		return ShareLink{}, err
	}
	if expiresAt.Valid {
		link.ExpiresAt = &expiresAt.Time
	}
	if revokedAt.Valid {
		link.RevokedAt = &revokedAt.Time
	}
	if lastAccessed.Valid {
		link.LastAccessedAt = &lastAccessed.Time
	}
	link.DomainRestrictions = []string(domains)
	if link.DomainRestrictions == nil {
		link.DomainRestrictions = []string{}
	}
	link.Metadata = metadata
	link.PasswordHash = passwordHash.String
	return link, nil
}

func (s *PostgresStore) InsertShareLink(ctx context.Context, link ShareLink) error {
	var passwordHash any
	if link.PasswordHash != "" {
		passwordHash = link.PasswordHash
	}
	const query = `
		INSERT INTO share_links (
			id, project_id, token, level, created_by, max_access_count, current_access_count,
			expires_at, domain_restrictions, requires_login, allow_api_access, metadata, password_hash
		) VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9, $10, COALESCE($11::jsonb, '{}'::jsonb), $12)
	`
	_, err := s.db.ExecContext(ctx, query,
		link.ID, link.ProjectID, link.Token, link.Level, link.CreatedBy, link.MaxAccessCount,
		link.ExpiresAt, pq.StringArray(link.DomainRestrictions), link.RequiresLogin, link.AllowAPIAccess,
		jsonParam(link.Metadata), passwordHash,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert share link: %w", ErrConflict)
		}
		return fmt.Errorf("insert share link: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetShareLink(ctx context.Context, linkID string) (ShareLink, error) {
	query := `SELECT ` + shareLinkColumns + ` FROM share_links WHERE id = $1`
	link, err := scanShareLink(s.db.QueryRowContext(ctx, query, linkID))
	if err != nil {
		return ShareLink{}, fmt.Errorf("get share link: %w", err)
	}
	return link, nil
}

func (s *PostgresStore) GetShareLinkByToken(ctx context.Context, token string) (ShareLink, error) {
	query := `SELECT ` + shareLinkColumns + ` FROM share_links WHERE token = $1`
	link, err := scanShareLink(s.db.QueryRowContext(ctx, query, token))
	if err != nil {
		return ShareLink{}, fmt.Errorf("get share link: %w", err)
	}
	return link, nil
}

// ListShareLinksByCreator lists the creator's links, newest first. An empty
// projectID lists across projects.
func (s *PostgresStore) ListShareLinksByCreator(ctx context.Context, creatorID, projectID string) ([]ShareLink, error) {
	query := `
		SELECT ` + shareLinkColumns + `
		FROM share_links
		WHERE created_by = $1 AND ($2 = '' OR project_id = $2)
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, creatorID, projectID)
	if err != nil {
		return nil, fmt.Errorf("list share links: %w", err)
	}
	defer rows.Close()

	links := []ShareLink{}
	for rows.Next() {
		link, err := scanShareLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scan share link: %w", err)
		}
		links = append(links, link)
	}
	return links, rows.Err()
}

func (s *PostgresStore) RevokeShareLink(ctx context.Context, linkID string) error {
	const query = `UPDATE share_links SET revoked_at = COALESCE(revoked_at, NOW()) WHERE id = $1`
	result, err := s.db.ExecContext(ctx, query, linkID)
	if err != nil {
		return fmt.Errorf("revoke share link: %w", err)
	}
	return requireAffected(result, "revoke share link")
}

// RedeemShareLink increments the access counter of a live link in one
// statement. ok is false when the link was exhausted, expired or revoked
// between the caller's read and this write.
func (s *PostgresStore) RedeemShareLink(ctx context.Context, linkID string) (count int, ok bool, err error) {
	const query = `
		UPDATE share_links
		SET current_access_count = current_access_count + 1, last_accessed_at = NOW()
		WHERE id = $1
		  AND revoked_at IS NULL
		  AND current_access_count < max_access_count
		  AND (expires_at IS NULL OR expires_at > NOW())
		RETURNING current_access_count
	`
	err = s.db.QueryRowContext(ctx, query, linkID).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redeem share link: %w", err)
	}
	return count, true, nil
}

// Audit

func (s *PostgresStore) InsertAudit(ctx context.Context, record AuditRecord) error {
	const query = `
		INSERT INTO permission_audit_log (project_id, actor_id, action, level, metadata)
		VALUES ($1, $2, $3, $4, COALESCE($5::jsonb, '{}'::jsonb))
	`
	if _, err := s.db.ExecContext(ctx, query, record.ProjectID, record.ActorID, record.Action, record.Level, jsonParam(record.Metadata)); err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAudit(ctx context.Context, projectID string, limit int) ([]AuditRecord, error) {
	const query = `
		SELECT id, project_id, actor_id, action, level, metadata, created_at
		FROM permission_audit_log
		WHERE project_id = $1
		ORDER BY id DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	records := []AuditRecord{}
	for rows.Next() {
		var (
			record   AuditRecord
			metadata []byte
		)
		if err := rows.Scan(&record.ID, &record.ProjectID, &record.ActorID, &record.Action, &record.Level, &metadata, &record.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		record.Metadata = metadata
		records = append(records, record)
	}
	return records, rows.Err()
}
