package store

import (
	"context"
	"database/sql"
	"fmt"
)

const sessionColumns = `s.id, s.project_id, s.user_id, COALESCE(u.display_name, ''), s.is_active, s.last_activity,
	s.current_activity, s.cursor_position, s.selection_data, s.device_info, s.started_at, s.ended_at`

func scanSession(row rowScanner) (CollaborationSession, error) {
	var (
		item      CollaborationSession
		endedAt   sql.NullTime
		activity  []byte
		cursor    []byte
		selection []byte
		device    []byte
	)
	if err := row.Scan(
		&item.ID,
		&item.ProjectID,
		&item.UserID,
		&item.DisplayName,
		&item.IsActive,
		&item.LastActivity,
		&activity,
		&cursor,
		&selection,
		&device,
		&item.StartedAt,
		&endedAt,
	); err != nil {
		return CollaborationSession{}, err
	}
	if endedAt.Valid {
		item.EndedAt = &endedAt.Time
	}
	item.CurrentActivity = activity
	item.CursorPosition = cursor
	item.SelectionData = selection
	item.DeviceInfo = device
	return item, nil
}

// UpsertSession marks the (project, user) session active and touches
// last_activity. Nil patch fields keep the stored values. newID is only
// used when no session row exists yet.
func (s *PostgresStore) UpsertSession(ctx context.Context, newID, projectID, userID string, patch SessionPatch) (CollaborationSession, error) {
	const upsert = `
		INSERT INTO collaboration_sessions (
			id, project_id, user_id, is_active, last_activity,
			current_activity, cursor_position, selection_data, device_info, started_at
		) VALUES ($1, $2, $3, TRUE, NOW(), $4::jsonb, $5::jsonb, $6::jsonb, $7::jsonb, NOW())
		ON CONFLICT (project_id, user_id) DO UPDATE SET
			is_active = TRUE,
			last_activity = NOW(),
			current_activity = COALESCE(EXCLUDED.current_activity, collaboration_sessions.current_activity),
			cursor_position = COALESCE(EXCLUDED.cursor_position, collaboration_sessions.cursor_position),
			selection_data = COALESCE(EXCLUDED.selection_data, collaboration_sessions.selection_data),
			device_info = COALESCE(EXCLUDED.device_info, collaboration_sessions.device_info),
			started_at = CASE WHEN collaboration_sessions.is_active THEN collaboration_sessions.started_at ELSE NOW() END,
			ended_at = NULL
		RETURNING id
	`
	var id string
	err := s.db.QueryRowContext(ctx, upsert,
		newID, projectID, userID,
		jsonParam(patch.CurrentActivity), jsonParam(patch.CursorPosition),
		jsonParam(patch.SelectionData), jsonParam(patch.DeviceInfo),
	).Scan(&id)
	if err != nil {
		return CollaborationSession{}, fmt.Errorf("upsert session: %w", err)
	}
	return s.GetSession(ctx, id)
}

func (s *PostgresStore) GetSession(ctx context.Context, sessionID string) (CollaborationSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM collaboration_sessions s
		LEFT JOIN users u ON u.id = s.user_id
		WHERE s.id = $1
	`
	item, err := scanSession(s.db.QueryRowContext(ctx, query, sessionID))
	if err != nil {
		return CollaborationSession{}, fmt.Errorf("get session: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ListActiveSessions(ctx context.Context, projectID string) ([]CollaborationSession, error) {
	query := `
		SELECT ` + sessionColumns + `
		FROM collaboration_sessions s
		LEFT JOIN users u ON u.id = s.user_id
		WHERE s.project_id = $1 AND s.is_active
		ORDER BY s.last_activity DESC
	`
	rows, err := s.db.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	items := []CollaborationSession{}
	for rows.Next() {
		item, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *PostgresStore) EndSession(ctx context.Context, projectID, userID string) error {
	const query = `
		UPDATE collaboration_sessions
		SET is_active = FALSE, ended_at = NOW()
		WHERE project_id = $1 AND user_id = $2 AND is_active
	`
	result, err := s.db.ExecContext(ctx, query, projectID, userID)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return requireAffected(result, "end session")
}

func (s *PostgresStore) EndSessionByID(ctx context.Context, sessionID string) error {
	const query = `UPDATE collaboration_sessions SET is_active = FALSE, ended_at = NOW() WHERE id = $1 AND is_active`
	result, err := s.db.ExecContext(ctx, query, sessionID)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return requireAffected(result, "end session")
}
