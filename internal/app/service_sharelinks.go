package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/Verridian-ai/cortex-relume-sub005/internal/rbac"
	"github.com/Verridian-ai/cortex-relume-sub005/internal/store"
	"github.com/Verridian-ai/cortex-relume-sub005/internal/util"
)

const (
	defaultMaxAccessCount = 100
	maxMaxAccessCount     = 10000
	shareTokenBytes       = 32
)

type CreateShareLinkInput struct {
	Level              string          `json:"level"`
	MaxAccessCount     *int            `json:"maxAccessCount"`
	ExpiresAt          *string         `json:"expiresAt"`
	DomainRestrictions []string        `json:"domainRestrictions"`
	RequiresLogin      *bool           `json:"requiresLogin"`
	AllowAPIAccess     bool            `json:"allowApiAccess"`
	Password           string          `json:"password"`
	Metadata           json.RawMessage `json:"metadata"`
}

// ConsumeContext is what the visitor's request says about where it came
// from.
type ConsumeContext struct {
	Origin   string
	Referer  string
	Password string
}

func (s *Service) shareURL(token string) string {
	return s.cfg.PublicBaseURL + "/share/" + token
}

func shareLinkStatus(link store.ShareLink, now time.Time) string {
	switch {
	case link.RevokedAt != nil:
		return "revoked"
	case link.ExpiresAt != nil && !now.Before(*link.ExpiresAt):
		return "expired"
	case link.CurrentAccessCount >= link.MaxAccessCount:
		return "exhausted"
	default:
		return "active"
	}
}

func (s *Service) shareLinkPayload(link store.ShareLink) map[string]any {
	metadata := link.Metadata
	if len(metadata) == 0 {
		metadata = json.RawMessage(`{}`)
	}
	return map[string]any{
		"id":                 link.ID,
		"projectId":          link.ProjectID,
		"token":              link.Token,
		"shareUrl":           s.shareURL(link.Token),
		"level":              link.Level,
		"createdBy":          link.CreatedBy,
		"maxAccessCount":     link.MaxAccessCount,
		"currentAccessCount": link.CurrentAccessCount,
		"expiresAt":          link.ExpiresAt,
		"domainRestrictions": link.DomainRestrictions,
		"requiresLogin":      link.RequiresLogin,
		"allowApiAccess":     link.AllowAPIAccess,
		"hasPassword":        link.PasswordHash != "",
		"metadata":           metadata,
		"revokedAt":          link.RevokedAt,
		"lastAccessedAt":     link.LastAccessedAt,
		"createdAt":          link.CreatedAt,
		"status":             shareLinkStatus(link, s.now()),
	}
}

func (s *Service) CreateShareLink(ctx context.Context, caller Caller, projectID string, input CreateShareLinkInput) (map[string]any, error) {
	if caller.Anonymous() {
		return nil, errAuthRequired()
	}
	project, level, err := s.authorize(ctx, caller, projectID, rbac.CapProjectShare)
	if err != nil {
		return nil, err
	}
	if !project.Sharing.AllowShareLinks {
		return nil, errValidation("Share links are disabled for this project", map[string]any{"field": "allowShareLinks"})
	}

	linkLevel := rbac.Level(strings.ToLower(strings.TrimSpace(input.Level)))
	if linkLevel == "" {
		linkLevel = rbac.Level(project.Sharing.DefaultLinkPermission)
	}
	if !rbac.IsShareable(linkLevel) {
		return nil, errValidation("level must be viewer or editor", map[string]any{"field": "level"})
	}

	maxAccess := defaultMaxAccessCount
	if input.MaxAccessCount != nil {
		maxAccess = *input.MaxAccessCount
	}
	if maxAccess < 1 || maxAccess > maxMaxAccessCount {
		return nil, errValidation(fmt.Sprintf("maxAccessCount must be between 1 and %d", maxMaxAccessCount), map[string]any{"field": "maxAccessCount"})
	}

	expiresAt, err := optionalTime(input.ExpiresAt, "expiresAt")
	if err != nil {
		return nil, err
	}
	if expiresAt != nil && !expiresAt.After(s.now()) {
		return nil, errValidation("expiresAt must be in the future", map[string]any{"field": "expiresAt"})
	}

	domains, err := normalizeDomains(input.DomainRestrictions, "domainRestrictions")
	if err != nil {
		return nil, err
	}
	if len(domains) == 0 {
		domains = append(domains, project.Sharing.AllowedDomains...)
	}

	requiresLogin := project.Sharing.RequireLoginForLinks
	if input.RequiresLogin != nil && !requiresLogin {
		requiresLogin = *input.RequiresLogin
	}

	if len(input.Metadata) > 0 && !json.Valid(input.Metadata) {
		return nil, errValidation("metadata must be valid JSON", map[string]any{"field": "metadata"})
	}

	var passwordHash string
	if input.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash share link password: %w", err)
		}
		passwordHash = string(hash)
	}

	link := store.ShareLink{
		ID:                 util.NewID("lnk"),
		ProjectID:          project.ID,
		Level:              string(linkLevel),
		CreatedBy:          caller.UserID,
		MaxAccessCount:     maxAccess,
		ExpiresAt:          expiresAt,
		DomainRestrictions: domains,
		RequiresLogin:      requiresLogin,
		AllowAPIAccess:     input.AllowAPIAccess,
		Metadata:           input.Metadata,
		PasswordHash:       passwordHash,
		CreatedAt:          s.now().UTC(),
	}

	// Retry once on a token collision.
	for attempt := 0; ; attempt++ {
		token, err := util.NewToken(shareTokenBytes)
		if err != nil {
			return nil, fmt.Errorf("generate share token: %w", err)
		}
		link.Token = token
		err = s.store.InsertShareLink(ctx, link)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrConflict) || attempt > 0 {
			return nil, err
		}
	}

	s.audit(ctx, project.ID, caller.UserID, "share_link_create", string(linkLevel), map[string]any{
		"linkId":         link.ID,
		"callerLevel":    level,
		"maxAccessCount": maxAccess,
	})
	return s.shareLinkPayload(link), nil
}

// ConsumeShareLink redeems a link. Checks run in a fixed order and the
// counter is incremented last, in one conditional statement.
func (s *Service) ConsumeShareLink(ctx context.Context, caller Caller, token string, visit ConsumeContext) (map[string]any, error) {
	link, err := s.checkShareLink(ctx, caller, token, visit)
	if err != nil {
		var domainErr *DomainError
		if errors.As(err, &domainErr) {
			s.metrics.ShareLinkRejected()
		}
		return nil, err
	}

	count, ok, err := s.store.RedeemShareLink(ctx, link.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.metrics.ShareLinkRejected()
		return nil, errExhausted()
	}
	s.metrics.ShareLinkRedeemed()

	s.audit(ctx, link.ProjectID, actorID(caller), "share_link_redeem", link.Level, map[string]any{"linkId": link.ID, "accessCount": count})

	payload := map[string]any{
		"linkId":         link.ID,
		"projectId":      link.ProjectID,
		"level":          link.Level,
		"accessCount":    count,
		"remaining":      link.MaxAccessCount - count,
		"allowApiAccess": link.AllowAPIAccess,
		"expiresAt":      link.ExpiresAt,
	}
	if project, err := s.store.GetProject(ctx, link.ProjectID); err == nil {
		payload["project"] = map[string]any{
			"id":          project.ID,
			"name":        project.Name,
			"status":      project.Status,
			"currentStep": project.CurrentStep,
		}
	}
	return payload, nil
}

func (s *Service) checkShareLink(ctx context.Context, caller Caller, token string, visit ConsumeContext) (store.ShareLink, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return store.ShareLink{}, errNotFound("Share link")
	}
	link, err := s.store.GetShareLinkByToken(ctx, token)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ShareLink{}, errNotFound("Share link")
	}
	if err != nil {
		return store.ShareLink{}, err
	}

	if link.RevokedAt != nil {
		return store.ShareLink{}, errNotFound("Share link")
	}
	if link.ExpiresAt != nil && !s.now().Before(*link.ExpiresAt) {
		return store.ShareLink{}, errExpired()
	}
	if link.CurrentAccessCount >= link.MaxAccessCount {
		return store.ShareLink{}, errExhausted()
	}
	if len(link.DomainRestrictions) > 0 {
		host := requestHost(visit.Origin)
		if host == "" {
			host = requestHost(visit.Referer)
		}
		if !hostAllowed(host, link.DomainRestrictions) {
			return store.ShareLink{}, errDomainRejected(host)
		}
	}
	if link.RequiresLogin && caller.Anonymous() {
		return store.ShareLink{}, errLoginRequired()
	}
	if link.PasswordHash != "" {
		if visit.Password == "" {
			return store.ShareLink{}, errPasswordRequired()
		}
		if bcrypt.CompareHashAndPassword([]byte(link.PasswordHash), []byte(visit.Password)) != nil {
			return store.ShareLink{}, errInvalidPassword()
		}
	}
	return link, nil
}

// requestHost extracts the lower-cased host of an Origin or Referer value.
func requestHost(value string) string {
	value = strings.TrimSpace(value)
	if value == "" || value == "null" {
		return ""
	}
	parsed, err := url.Parse(value)
	if err != nil || parsed.Host == "" {
		return ""
	}
	host := parsed.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(host)
}

// hostAllowed matches host against a restriction list; a restriction also
// admits its subdomains.
func hostAllowed(host string, domains []string) bool {
	if host == "" {
		return false
	}
	for _, domain := range domains {
		domain = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(domain)), ".")
		if domain == "" {
			continue
		}
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

func (s *Service) RevokeShareLink(ctx context.Context, caller Caller, linkID string) error {
	if caller.Anonymous() {
		return errAuthRequired()
	}
	link, err := s.store.GetShareLink(ctx, linkID)
	if errors.Is(err, sql.ErrNoRows) {
		return errNotFound("Share link")
	}
	if err != nil {
		return err
	}
	if link.CreatedBy != caller.UserID {
		return errForbidden("Only the creator can revoke this share link")
	}
	if link.RevokedAt != nil {
		return nil
	}
	if err := s.store.RevokeShareLink(ctx, link.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errNotFound("Share link")
		}
		return err
	}
	s.audit(ctx, link.ProjectID, caller.UserID, "share_link_revoke", link.Level, map[string]any{"linkId": link.ID})
	return nil
}

// ListShareLinks returns the caller's own links, optionally for one project.
func (s *Service) ListShareLinks(ctx context.Context, caller Caller, projectID string) ([]map[string]any, error) {
	if caller.Anonymous() {
		return nil, errAuthRequired()
	}
	links, err := s.store.ListShareLinksByCreator(ctx, caller.UserID, projectID)
	if err != nil {
		return nil, fmt.Errorf("list share links: %w", err)
	}
	items := make([]map[string]any, 0, len(links))
	for _, link := range links {
		items = append(items, s.shareLinkPayload(link))
	}
	return items, nil
}
