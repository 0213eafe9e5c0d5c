package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Verridian-ai/cortex-relume-sub005/internal/auth"
	"github.com/Verridian-ai/cortex-relume-sub005/internal/config"
	"github.com/Verridian-ai/cortex-relume-sub005/internal/email"
	"github.com/Verridian-ai/cortex-relume-sub005/internal/export"
	"github.com/Verridian-ai/cortex-relume-sub005/internal/generation"
	"github.com/Verridian-ai/cortex-relume-sub005/internal/metrics"
	"github.com/Verridian-ai/cortex-relume-sub005/internal/search"
	"github.com/Verridian-ai/cortex-relume-sub005/internal/store"
)

// Caller is the identity behind one request. UserID is empty for anonymous
// callers. ShareToken carries a share link presented alongside the request.
type Caller struct {
	UserID      string
	Email       string
	DisplayName string
	ShareToken  string
	// Origin and Referer come from the request carrying ShareToken and
	// are matched against the link's domain restrictions.
	Origin  string
	Referer string
}

func (c Caller) Anonymous() bool {
	return c.UserID == ""
}

type dataStore interface {
	Ping(ctx context.Context) error

	UpsertUser(context.Context, store.User) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)

	CreateProject(context.Context, store.Project) error
	GetProject(context.Context, string) (store.Project, error)
	ListProjectsForUser(context.Context, string, int) ([]store.Project, error)
	UpdateProject(context.Context, store.Project) error
	UpdateSharing(context.Context, string, bool, store.SharingSettings) error
	DeleteProject(context.Context, string) error

	MoveStep(context.Context, string, string, string, string) (bool, error)
	AddCompletedStep(context.Context, string, string) error
	ResetWorkflow(context.Context, string, string) error

	ListCollaborators(context.Context, string) ([]store.Collaborator, error)
	GetCollaborator(context.Context, string, string) (store.Collaborator, error)
	UpsertCollaborator(context.Context, store.Collaborator) error
	DeleteCollaborator(context.Context, string, string) error

	InsertShareLink(context.Context, store.ShareLink) error
	GetShareLink(context.Context, string) (store.ShareLink, error)
	GetShareLinkByToken(context.Context, string) (store.ShareLink, error)
	ListShareLinksByCreator(context.Context, string, string) ([]store.ShareLink, error)
	RevokeShareLink(context.Context, string) error
	RedeemShareLink(context.Context, string) (int, bool, error)

	InsertAudit(context.Context, store.AuditRecord) error
	ListAudit(context.Context, string, int) ([]store.AuditRecord, error)

	UpsertSession(context.Context, string, string, string, store.SessionPatch) (store.CollaborationSession, error)
	GetSession(context.Context, string) (store.CollaborationSession, error)
	ListActiveSessions(context.Context, string) ([]store.CollaborationSession, error)
	EndSession(context.Context, string, string) error
	EndSessionByID(context.Context, string) error

	GetSitemap(context.Context, string) (store.Sitemap, error)
	UpsertSitemap(context.Context, store.Sitemap) error
	ListWireframes(context.Context, string) ([]store.Wireframe, error)
	UpsertWireframe(context.Context, store.Wireframe) error
	GetStyleGuide(context.Context, string) (store.StyleGuide, error)
	UpsertStyleGuide(context.Context, store.StyleGuide) error
}

type projectIndex interface {
	Search(ctx context.Context, q search.Query) search.Response
	IndexProject(record search.ProjectRecord)
	DeleteProject(id string)
}

type exporter interface {
	BuildBundle(project store.Project, sitemap *store.Sitemap, wireframes []store.Wireframe, style *store.StyleGuide) export.Bundle
	Publish(ctx context.Context, bundle export.Bundle) (*export.Result, error)
}

type mailer interface {
	IsConfigured() bool
	SendCollaboratorInvite(to string, data email.InviteData) error
}

// Dependencies are the collaborators a Service needs besides its store.
// Search and Mailer may be nil.
type Dependencies struct {
	Verifier  auth.Verifier
	Generator generation.Generator
	Search    *search.Service
	Exports   *export.Service
	Mailer    *email.Service
	Metrics   *metrics.Counters
	Logger    *zap.Logger
}

type Service struct {
	cfg       config.Config
	store     dataStore
	verifier  auth.Verifier
	generator generation.Generator
	search    projectIndex
	exports   exporter
	mailer    mailer
	metrics   *metrics.Counters
	logger    *zap.Logger
	now       func() time.Time
}

func New(cfg config.Config, dataStore *store.PostgresStore, deps Dependencies) *Service {
	svc := &Service{
		cfg:       cfg,
		store:     dataStore,
		verifier:  deps.Verifier,
		generator: deps.Generator,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		now:       time.Now,
	}
	if deps.Exports != nil {
		svc.exports = deps.Exports
	}
	if deps.Search != nil {
		svc.search = deps.Search
	}
	if deps.Mailer != nil && deps.Mailer.IsConfigured() {
		svc.mailer = deps.Mailer
	}
	if svc.exports == nil {
		svc.exports = export.NewService(nil)
	}
	if svc.metrics == nil {
		svc.metrics = metrics.New()
	}
	if svc.logger == nil {
		svc.logger = zap.NewNop()
	}
	return svc
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Metrics() metrics.Snapshot {
	return s.metrics.Snapshot()
}

// Authenticate verifies a bearer token and records the user it names.
func (s *Service) Authenticate(ctx context.Context, token string) (Caller, error) {
	if s.verifier == nil {
		return Caller{}, auth.ErrInvalidToken
	}
	identity, err := s.verifier.Verify(ctx, token)
	if err != nil {
		return Caller{}, err
	}

	user, err := s.store.UpsertUser(ctx, store.User{
		ID:          identity.UserID,
		Email:       strings.ToLower(strings.TrimSpace(identity.Email)),
		DisplayName: identity.Name,
	})
	if err != nil {
		return Caller{}, fmt.Errorf("record user: %w", err)
	}

	return Caller{
		UserID:      user.ID,
		Email:       user.Email,
		DisplayName: user.DisplayName,
	}, nil
}

// audit appends a permission audit record. Failures are logged and counted
// but never returned to the caller.
func (s *Service) audit(ctx context.Context, projectID, actorID, action, level string, metadata map[string]any) {
	record := store.AuditRecord{
		ProjectID: projectID,
		ActorID:   actorID,
		Action:    action,
		Level:     level,
	}
	if len(metadata) > 0 {
		encoded, err := json.Marshal(metadata)
		if err == nil {
			record.Metadata = encoded
		}
	}
	if err := s.store.InsertAudit(ctx, record); err != nil {
		s.metrics.AuditFailure()
		s.logger.Warn("audit write failed",
			zap.String("project_id", projectID),
			zap.String("action", action),
			zap.Error(err),
		)
	}
}

func (s *Service) indexProject(ctx context.Context, project store.Project) {
	if s.search == nil {
		return
	}
	members := []string{project.OwnerID}
	collaborators, err := s.store.ListCollaborators(ctx, project.ID)
	if err != nil {
		s.logger.Warn("search: list collaborators for index", zap.String("project_id", project.ID), zap.Error(err))
	}
	for _, item := range collaborators {
		members = append(members, item.UserID)
	}
	s.search.IndexProject(search.ProjectRecord{
		ID:          project.ID,
		Name:        project.Name,
		Description: project.Data.Description,
		WebsiteType: project.Settings.WebsiteType,
		Status:      project.Status,
		IsPublic:    project.IsPublic,
		MemberIDs:   members,
	})
}

func (s *Service) generationTimeout() time.Duration {
	return s.cfg.GenerationTimeout()
}

// parseRFC3339 parses a time string in RFC3339 format, tolerating
// milliseconds from JavaScript's Date.toISOString().
func parseRFC3339(value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, value)
	}
	return t, err
}

func optionalTime(value *string, field string) (*time.Time, error) {
	if value == nil || strings.TrimSpace(*value) == "" {
		return nil, nil
	}
	t, err := parseRFC3339(strings.TrimSpace(*value))
	if err != nil {
		return nil, errValidation(fmt.Sprintf("%s must be an RFC3339 timestamp", field), map[string]any{"field": field})
	}
	t = t.UTC()
	return &t, nil
}

// decodeStrict decodes a typed JSON blob and rejects unknown fields.
func decodeStrict(raw json.RawMessage, target any, field string) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	decoder := json.NewDecoder(strings.NewReader(string(raw)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return errValidation(fmt.Sprintf("%s is invalid: %v", field, err), map[string]any{"field": field})
	}
	return nil
}
