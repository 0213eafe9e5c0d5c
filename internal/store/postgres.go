package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrConflict reports a unique constraint violation.
var ErrConflict = errors.New("conflict")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// jsonParam turns an empty raw message into SQL NULL.
func jsonParam(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func marshalParam(value any) (string, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

// Users

func (s *PostgresStore) UpsertUser(ctx context.Context, user User) (User, error) {
	const query = `
		INSERT INTO users (id, email, display_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			email = CASE WHEN EXCLUDED.email = '' THEN users.email ELSE EXCLUDED.email END,
			display_name = CASE WHEN EXCLUDED.display_name = '' THEN users.display_name ELSE EXCLUDED.display_name END,
			updated_at = NOW()
		RETURNING id, email, display_name, created_at, updated_at
	`
	var out User
	err := s.db.QueryRowContext(ctx, query, user.ID, user.Email, user.DisplayName).
		Scan(&out.ID, &out.Email, &out.DisplayName, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, fmt.Errorf("upsert user: %w", ErrConflict)
		}
		return User{}, fmt.Errorf("upsert user: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	const query = `SELECT id, email, display_name, created_at, updated_at FROM users WHERE id = $1`
	var user User
	if err := s.db.QueryRowContext(ctx, query, userID).
		Scan(&user.ID, &user.Email, &user.DisplayName, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	const query = `SELECT id, email, display_name, created_at, updated_at FROM users WHERE lower(email) = lower($1)`
	var user User
	if err := s.db.QueryRowContext(ctx, query, email).
		Scan(&user.ID, &user.Email, &user.DisplayName, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return User{}, fmt.Errorf("get user by email: %w", err)
	}
	return user, nil
}

// Projects

const projectColumns = `p.id, p.owner_id, p.name, p.status, p.data, p.settings, p.is_public, p.sharing, p.current_step, p.completed_steps, p.created_at, p.updated_at`

func scanProject(row rowScanner) (Project, error) {
	var (
		project   Project
		data      []byte
		settings  []byte
		sharing   []byte
		completed []byte
	)
	if err := row.Scan(
		&project.ID,
		&project.OwnerID,
		&project.Name,
		&project.Status,
		&data,
		&settings,
		&project.IsPublic,
		&sharing,
		&project.CurrentStep,
		&completed,
		&project.CreatedAt,
		&project.UpdatedAt,
	); err != nil {
		return Project{}, err
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &project.Data); err != nil {
			return Project{}, fmt.Errorf("decode project data: %w", err)
		}
	}
	if len(settings) > 0 {
		if err := json.Unmarshal(settings, &project.Settings); err != nil {
			return Project{}, fmt.Errorf("decode project settings: %w", err)
		}
	}
	project.Sharing = DefaultSharingSettings()
	if len(sharing) > 0 {
		if err := json.Unmarshal(sharing, &project.Sharing); err != nil {
			return Project{}, fmt.Errorf("decode sharing settings: %w", err)
		}
	}
	project.CompletedSteps = []string{}
	if len(completed) > 0 {
		if err := json.Unmarshal(completed, &project.CompletedSteps); err != nil {
			return Project{}, fmt.Errorf("decode completed steps: %w", err)
		}
	}
	return project, nil
}

func (s *PostgresStore) CreateProject(ctx context.Context, project Project) error {
	data, err := marshalParam(project.Data)
	if err != nil {
		return fmt.Errorf("encode project data: %w", err)
	}
	settings, err := marshalParam(project.Settings)
	if err != nil {
		return fmt.Errorf("encode project settings: %w", err)
	}
	sharing, err := marshalParam(project.Sharing)
	if err != nil {
		return fmt.Errorf("encode sharing settings: %w", err)
	}
	if project.CompletedSteps == nil {
		project.CompletedSteps = []string{}
	}
	completed, err := marshalParam(project.CompletedSteps)
	if err != nil {
		return fmt.Errorf("encode completed steps: %w", err)
	}
	const query = `
		INSERT INTO projects (id, owner_id, name, status, data, settings, is_public, sharing, current_step, completed_steps)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	if _, err := s.db.ExecContext(ctx, query,
		project.ID, project.OwnerID, project.Name, project.Status,
		data, settings, project.IsPublic, sharing,
		project.CurrentStep, completed,
	); err != nil {
		return fmt.Errorf("insert project: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProject(ctx context.Context, projectID string) (Project, error) {
	query := `SELECT ` + projectColumns + ` FROM projects p WHERE p.id = $1`
	project, err := scanProject(s.db.QueryRowContext(ctx, query, projectID))
	if err != nil {
		return Project{}, fmt.Errorf("get project: %w", err)
	}
	return project, nil
}

// ListProjectsForUser returns projects the user owns or holds a live grant on.
func (s *PostgresStore) ListProjectsForUser(ctx context.Context, userID string, limit int) ([]Project, error) {
	query := `
		SELECT ` + projectColumns + `
		FROM projects p
		WHERE p.owner_id = $1
		   OR EXISTS (
				SELECT 1 FROM project_collaborators c
				WHERE c.project_id = p.id
				  AND c.user_id = $1
				  AND (c.expires_at IS NULL OR c.expires_at > NOW())
		   )
		ORDER BY p.updated_at DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	projects := []Project{}
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, project)
	}
	return projects, rows.Err()
}

func (s *PostgresStore) UpdateProject(ctx context.Context, project Project) error {
	data, err := marshalParam(project.Data)
	if err != nil {
		return fmt.Errorf("encode project data: %w", err)
	}
	settings, err := marshalParam(project.Settings)
	if err != nil {
		return fmt.Errorf("encode project settings: %w", err)
	}
	const query = `
		UPDATE projects
		SET name = $2, status = $3, data = $4, settings = $5, updated_at = NOW()
		WHERE id = $1
	`
	result, err := s.db.ExecContext(ctx, query, project.ID, project.Name, project.Status, data, settings)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	return requireAffected(result, "update project")
}

func (s *PostgresStore) UpdateSharing(ctx context.Context, projectID string, isPublic bool, sharing SharingSettings) error {
	encoded, err := marshalParam(sharing)
	if err != nil {
		return fmt.Errorf("encode sharing settings: %w", err)
	}
	const query = `UPDATE projects SET is_public = $2, sharing = $3, updated_at = NOW() WHERE id = $1`
	result, err := s.db.ExecContext(ctx, query, projectID, isPublic, encoded)
	if err != nil {
		return fmt.Errorf("update sharing: %w", err)
	}
	return requireAffected(result, "update sharing")
}

// DeleteProject removes the project; dependent rows go with it through
// ON DELETE CASCADE.
func (s *PostgresStore) DeleteProject(ctx context.Context, projectID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM projects WHERE id = $1`, projectID)
	if err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return requireAffected(result, "delete project")
}

// Workflow

// MoveStep sets the current step only if it still equals from, optionally
// recording markCompleted. It reports false when another writer moved first.
func (s *PostgresStore) MoveStep(ctx context.Context, projectID, from, to, markCompleted string) (bool, error) {
	const query = `
		UPDATE projects
		SET current_step = $3,
			completed_steps = CASE
				WHEN $4 = '' OR completed_steps @> jsonb_build_array($4::text) THEN completed_steps
				ELSE completed_steps || jsonb_build_array($4::text)
			END,
			updated_at = NOW()
		WHERE id = $1 AND current_step = $2
	`
	result, err := s.db.ExecContext(ctx, query, projectID, from, to, markCompleted)
	if err != nil {
		return false, fmt.Errorf("move workflow step: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("move workflow step: %w", err)
	}
	return affected == 1, nil
}

// AddCompletedStep appends step to completed_steps unless already present.
func (s *PostgresStore) AddCompletedStep(ctx context.Context, projectID, step string) error {
	const query = `
		UPDATE projects
		SET completed_steps = completed_steps || jsonb_build_array($2::text), updated_at = NOW()
		WHERE id = $1 AND NOT completed_steps @> jsonb_build_array($2::text)
	`
	if _, err := s.db.ExecContext(ctx, query, projectID, step); err != nil {
		return fmt.Errorf("complete workflow step: %w", err)
	}
	return nil
}

func (s *PostgresStore) ResetWorkflow(ctx context.Context, projectID, initial string) error {
	const query = `UPDATE projects SET current_step = $2, completed_steps = '[]'::jsonb, updated_at = NOW() WHERE id = $1`
	result, err := s.db.ExecContext(ctx, query, projectID, initial)
	if err != nil {
		return fmt.Errorf("reset workflow: %w", err)
	}
	return requireAffected(result, "reset workflow")
}

func requireAffected(result sql.Result, op string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", op, sql.ErrNoRows)
	}
	return nil
}
