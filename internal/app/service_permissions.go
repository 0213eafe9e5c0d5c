package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Verridian-ai/cortex-relume-sub005/internal/email"
	"github.com/Verridian-ai/cortex-relume-sub005/internal/rbac"
	"github.com/Verridian-ai/cortex-relume-sub005/internal/store"
)

const anonymousActor = "anonymous"

func actorID(caller Caller) string {
	if caller.Anonymous() {
		return anonymousActor
	}
	return caller.UserID
}

func (s *Service) loadProject(ctx context.Context, projectID string) (store.Project, error) {
	project, err := s.store.GetProject(ctx, projectID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Project{}, errNotFound("Project")
	}
	if err != nil {
		return store.Project{}, err
	}
	return project, nil
}

// levelFor runs the evaluator for one caller against an already loaded
// project.
func (s *Service) levelFor(ctx context.Context, project store.Project, caller Caller) (rbac.Level, error) {
	subject := rbac.Subject{OwnerID: project.OwnerID, IsPublic: project.IsPublic}
	if !caller.Anonymous() && caller.UserID != project.OwnerID {
		collaborators, err := s.store.ListCollaborators(ctx, project.ID)
		if err != nil {
			return rbac.LevelNone, err
		}
		for _, item := range collaborators {
			subject.Grants = append(subject.Grants, rbac.Grant{
				UserID:    item.UserID,
				Level:     rbac.Normalize(item.Level),
				ExpiresAt: item.ExpiresAt,
			})
		}
	}
	linkLevel := s.presentedLinkLevel(ctx, project.ID, caller)
	return rbac.Resolve(subject, caller.UserID, linkLevel, s.now()), nil
}

// presentedLinkLevel returns the level of a share link the caller sent
// along with the request. Presenting a link does not redeem it, so links
// behind a password only work through ConsumeShareLink, and an exhausted
// link still lets its holder view but no longer edit.
func (s *Service) presentedLinkLevel(ctx context.Context, projectID string, caller Caller) rbac.Level {
	if caller.ShareToken == "" {
		return rbac.LevelNone
	}
	link, err := s.store.GetShareLinkByToken(ctx, caller.ShareToken)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			s.logger.Warn("share link lookup failed", zap.Error(err))
		}
		return rbac.LevelNone
	}
	if link.ProjectID != projectID || link.RevokedAt != nil || link.PasswordHash != "" {
		return rbac.LevelNone
	}
	if link.ExpiresAt != nil && !s.now().Before(*link.ExpiresAt) {
		return rbac.LevelNone
	}
	if len(link.DomainRestrictions) > 0 {
		host := requestHost(caller.Origin)
		if host == "" {
			host = requestHost(caller.Referer)
		}
		if !hostAllowed(host, link.DomainRestrictions) {
			return rbac.LevelNone
		}
	}
	if link.RequiresLogin && caller.Anonymous() {
		return rbac.LevelNone
	}
	level := rbac.Normalize(link.Level)
	if !rbac.IsShareable(level) {
		return rbac.LevelNone
	}
	if link.CurrentAccessCount >= link.MaxAccessCount {
		return rbac.LevelViewer
	}
	return level
}

// authorize loads the project and checks the caller holds capability on it.
func (s *Service) authorize(ctx context.Context, caller Caller, projectID string, capability rbac.Capability) (store.Project, rbac.Level, error) {
	if caller.Anonymous() && !rbac.ReadOnly(capability) {
		return store.Project{}, rbac.LevelNone, errAuthRequired()
	}
	project, err := s.loadProject(ctx, projectID)
	if err != nil {
		return store.Project{}, rbac.LevelNone, err
	}
	level, err := s.levelFor(ctx, project, caller)
	if err != nil {
		return store.Project{}, rbac.LevelNone, err
	}
	if rbac.Can(level, capability) {
		return project, level, nil
	}
	if level == rbac.LevelNone {
		if caller.Anonymous() {
			return store.Project{}, level, errAuthRequired()
		}
		return store.Project{}, level, errForbidden("You do not have access to this project")
	}
	required := rbac.Required(capability)
	return store.Project{}, level, domainError(http.StatusForbidden, "FORBIDDEN", fmt.Sprintf("This action requires %s access", required), map[string]any{
		"capability": capability,
		"required":   required,
		"level":      level,
	})
}

// ResolveLevel reports the caller's effective level and what it allows.
func (s *Service) ResolveLevel(ctx context.Context, caller Caller, projectID string) (map[string]any, error) {
	project, err := s.loadProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	level, err := s.levelFor(ctx, project, caller)
	if err != nil {
		return nil, err
	}
	if level == rbac.LevelNone && caller.Anonymous() {
		return nil, errAuthRequired()
	}
	capabilities := []rbac.Capability{}
	for _, capability := range rbac.Capabilities {
		if caller.Anonymous() && !rbac.ReadOnly(capability) {
			continue
		}
		if rbac.Can(level, capability) {
			capabilities = append(capabilities, capability)
		}
	}
	return map[string]any{
		"projectId":    project.ID,
		"level":        level,
		"isOwner":      level == rbac.LevelOwner,
		"capabilities": capabilities,
	}, nil
}

func (s *Service) CheckPermission(ctx context.Context, caller Caller, projectID, capability string) (bool, error) {
	project, err := s.loadProject(ctx, projectID)
	if err != nil {
		return false, err
	}
	level, err := s.levelFor(ctx, project, caller)
	if err != nil {
		return false, err
	}
	return rbac.Can(level, rbac.Capability(capability)), nil
}

// Collaborators

type InviteCollaboratorInput struct {
	UserID    string  `json:"userId"`
	Email     string  `json:"email"`
	Level     string  `json:"level"`
	ExpiresAt *string `json:"expiresAt"`
}

func collaboratorPayload(item store.Collaborator, now time.Time) map[string]any {
	grant := rbac.Grant{UserID: item.UserID, Level: rbac.Normalize(item.Level), ExpiresAt: item.ExpiresAt}
	return map[string]any{
		"userId":      item.UserID,
		"email":       item.Email,
		"displayName": item.DisplayName,
		"level":       item.Level,
		"grantedBy":   item.GrantedBy,
		"grantedAt":   item.GrantedAt,
		"expiresAt":   item.ExpiresAt,
		"isExpired":   grant.Expired(now),
	}
}

func (s *Service) ListCollaborators(ctx context.Context, caller Caller, projectID string) (map[string]any, error) {
	project, _, err := s.authorize(ctx, caller, projectID, rbac.CapCollaboratorList)
	if err != nil {
		return nil, err
	}
	items, err := s.store.ListCollaborators(ctx, project.ID)
	if err != nil {
		return nil, fmt.Errorf("list collaborators: %w", err)
	}

	now := s.now()
	collaborators := make([]map[string]any, 0, len(items))
	for _, item := range items {
		collaborators = append(collaborators, collaboratorPayload(item, now))
	}

	owner := map[string]any{"userId": project.OwnerID, "level": rbac.LevelOwner}
	if user, err := s.store.GetUserByID(ctx, project.OwnerID); err == nil {
		owner["email"] = user.Email
		owner["displayName"] = user.DisplayName
	}

	return map[string]any{
		"owner":         owner,
		"collaborators": collaborators,
	}, nil
}

func (s *Service) InviteCollaborator(ctx context.Context, caller Caller, projectID string, input InviteCollaboratorInput) (map[string]any, error) {
	if caller.Anonymous() {
		return nil, errAuthRequired()
	}
	project, callerLevel, err := s.authorize(ctx, caller, projectID, rbac.CapCollaboratorInvite)
	if err != nil {
		return nil, err
	}

	level := rbac.Level(strings.ToLower(strings.TrimSpace(input.Level)))
	if !rbac.IsGrantable(level) {
		return nil, errValidation("level must be viewer, editor or admin", map[string]any{"field": "level"})
	}
	if !rbac.AtLeast(callerLevel, level) {
		return nil, errForbidden("You cannot grant a level above your own")
	}

	expiresAt, err := optionalTime(input.ExpiresAt, "expiresAt")
	if err != nil {
		return nil, err
	}
	if expiresAt != nil && !expiresAt.After(s.now()) {
		return nil, errValidation("expiresAt must be in the future", map[string]any{"field": "expiresAt"})
	}

	invitee, err := s.findInvitee(ctx, input)
	if err != nil {
		return nil, err
	}
	if invitee.ID == project.OwnerID {
		return nil, errValidation("The project owner cannot be added as a collaborator", map[string]any{"field": "userId"})
	}

	if err := s.store.UpsertCollaborator(ctx, store.Collaborator{
		ProjectID: project.ID,
		UserID:    invitee.ID,
		Level:     string(level),
		GrantedBy: caller.UserID,
		ExpiresAt: expiresAt,
	}); err != nil {
		return nil, fmt.Errorf("grant collaborator: %w", err)
	}

	s.audit(ctx, project.ID, caller.UserID, "collaborator_invite", string(level), map[string]any{
		"userId":    invitee.ID,
		"expiresAt": expiresAt,
	})
	s.indexProject(ctx, project)
	s.notifyInvite(project, caller, invitee, level)

	granted, err := s.store.GetCollaborator(ctx, project.ID, invitee.ID)
	if err != nil {
		return nil, fmt.Errorf("load collaborator: %w", err)
	}
	return collaboratorPayload(granted, s.now()), nil
}

func (s *Service) findInvitee(ctx context.Context, input InviteCollaboratorInput) (store.User, error) {
	var (
		user store.User
		err  error
	)
	switch {
	case strings.TrimSpace(input.UserID) != "":
		user, err = s.store.GetUserByID(ctx, strings.TrimSpace(input.UserID))
	case strings.TrimSpace(input.Email) != "":
		user, err = s.store.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(input.Email)))
	default:
		return store.User{}, errValidation("userId or email is required", nil)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, errNotFound("User")
	}
	if err != nil {
		return store.User{}, fmt.Errorf("find user: %w", err)
	}
	return user, nil
}

func (s *Service) notifyInvite(project store.Project, inviter Caller, invitee store.User, level rbac.Level) {
	if s.mailer == nil || invitee.Email == "" {
		return
	}
	data := email.InviteData{
		InviteeName: invitee.DisplayName,
		InviterName: firstNonEmpty(inviter.DisplayName, inviter.Email, "A collaborator"),
		ProjectName: project.Name,
		Level:       string(level),
		ProjectURL:  s.cfg.PublicBaseURL + "/projects/" + project.ID,
	}
	go func() {
		if err := s.mailer.SendCollaboratorInvite(invitee.Email, data); err != nil {
			s.logger.Warn("invite email failed",
				zap.String("project_id", project.ID),
				zap.String("user_id", invitee.ID),
				zap.Error(err),
			)
		}
	}()
}

// RemoveCollaborator revokes a grant. Collaborators may always remove
// themselves.
func (s *Service) RemoveCollaborator(ctx context.Context, caller Caller, projectID, userID string) error {
	capability := rbac.CapCollaboratorRemove
	if !caller.Anonymous() && caller.UserID == userID {
		capability = rbac.CapProjectView
	}
	project, _, err := s.authorize(ctx, caller, projectID, capability)
	if err != nil {
		return err
	}
	if userID == project.OwnerID {
		return errValidation("The project owner cannot be removed", map[string]any{"field": "userId"})
	}

	existing, err := s.store.GetCollaborator(ctx, project.ID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return errNotFound("Collaborator")
	}
	if err != nil {
		return fmt.Errorf("load collaborator: %w", err)
	}
	if err := s.store.DeleteCollaborator(ctx, project.ID, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errNotFound("Collaborator")
		}
		return err
	}

	s.audit(ctx, project.ID, caller.UserID, "collaborator_remove", existing.Level, map[string]any{"userId": userID})
	s.indexProject(ctx, project)
	return nil
}

// Sharing settings

func sharingPayload(project store.Project) map[string]any {
	return map[string]any{
		"projectId": project.ID,
		"isPublic":  project.IsPublic,
		"sharing":   project.Sharing,
	}
}

func (s *Service) GetSharing(ctx context.Context, caller Caller, projectID string) (map[string]any, error) {
	project, _, err := s.authorize(ctx, caller, projectID, rbac.CapProjectView)
	if err != nil {
		return nil, err
	}
	return sharingPayload(project), nil
}

// UpdateSharing applies a partial sharing document on top of the stored
// settings.
func (s *Service) UpdateSharing(ctx context.Context, caller Caller, projectID string, isPublic *bool, sharingPatch []byte) (map[string]any, error) {
	project, level, err := s.authorize(ctx, caller, projectID, rbac.CapSharingUpdate)
	if err != nil {
		return nil, err
	}

	sharing := project.Sharing
	if err := decodeStrict(sharingPatch, &sharing, "sharing"); err != nil {
		return nil, err
	}
	if err := normalizeSharing(&sharing); err != nil {
		return nil, err
	}
	public := project.IsPublic
	if isPublic != nil {
		public = *isPublic
	}

	if err := s.store.UpdateSharing(ctx, project.ID, public, sharing); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errNotFound("Project")
		}
		return nil, err
	}
	project.IsPublic = public
	project.Sharing = sharing

	s.audit(ctx, project.ID, actorID(caller), "sharing_update", string(level), map[string]any{
		"isPublic": public,
		"sharing":  sharing,
	})
	s.indexProject(ctx, project)
	return sharingPayload(project), nil
}

func normalizeSharing(sharing *store.SharingSettings) error {
	if sharing.DefaultLinkPermission == "" {
		sharing.DefaultLinkPermission = string(rbac.LevelViewer)
	}
	if !rbac.IsShareable(rbac.Level(sharing.DefaultLinkPermission)) {
		return errValidation("defaultLinkPermission must be viewer or editor", map[string]any{"field": "defaultLinkPermission"})
	}
	domains, err := normalizeDomains(sharing.AllowedDomains, "allowedDomains")
	if err != nil {
		return err
	}
	sharing.AllowedDomains = domains
	return nil
}

func normalizeDomains(values []string, field string) ([]string, error) {
	domains := make([]string, 0, len(values))
	for _, value := range values {
		domain := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(value)), ".")
		if domain == "" {
			return nil, errValidation(field+" entries must not be empty", map[string]any{"field": field})
		}
		domains = append(domains, domain)
	}
	return domains, nil
}

// Audit

func (s *Service) ListAudit(ctx context.Context, caller Caller, projectID string, limit int) ([]map[string]any, error) {
	project, _, err := s.authorize(ctx, caller, projectID, rbac.CapSharingUpdate)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	records, err := s.store.ListAudit(ctx, project.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	items := make([]map[string]any, 0, len(records))
	for _, record := range records {
		items = append(items, map[string]any{
			"id":        record.ID,
			"actorId":   record.ActorID,
			"action":    record.Action,
			"level":     record.Level,
			"metadata":  record.Metadata,
			"createdAt": record.CreatedAt,
		})
	}
	return items, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
