package app

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Verridian-ai/cortex-relume-sub005/internal/store"
)

var testNow = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

// fakeStore is an in-memory dataStore. The mutex makes the conditional
// updates behave atomically under concurrent tests.
type fakeStore struct {
	mu sync.Mutex

	users         map[string]store.User
	projects      map[string]store.Project
	collaborators map[string]map[string]store.Collaborator
	links         map[string]store.ShareLink
	audit         []store.AuditRecord
	sessions      map[string]store.CollaborationSession
	sitemaps      map[string]store.Sitemap
	wireframes    map[string]map[string]store.Wireframe
	styles        map[string]store.StyleGuide
	endedByID     []string

	pingFn        func(context.Context) error
	insertAuditFn func(context.Context, store.AuditRecord) error
	moveStepFn    func(context.Context, string, string, string, string) (bool, error)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:         map[string]store.User{},
		projects:      map[string]store.Project{},
		collaborators: map[string]map[string]store.Collaborator{},
		links:         map[string]store.ShareLink{},
		sessions:      map[string]store.CollaborationSession{},
		sitemaps:      map[string]store.Sitemap{},
		wireframes:    map[string]map[string]store.Wireframe{},
		styles:        map[string]store.StyleGuide{},
	}
}

func notFound(op string) error {
	return fmt.Errorf("%s: %w", op, sql.ErrNoRows)
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

// Users

func (f *fakeStore) UpsertUser(_ context.Context, user store.User) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.users[user.ID]
	if ok {
		if user.Email == "" {
			user.Email = existing.Email
		}
		if user.DisplayName == "" {
			user.DisplayName = existing.DisplayName
		}
		user.CreatedAt = existing.CreatedAt
	} else {
		user.CreatedAt = testNow
	}
	user.UpdatedAt = testNow
	f.users[user.ID] = user
	return user, nil
}

func (f *fakeStore) GetUserByID(_ context.Context, userID string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return store.User{}, notFound("get user")
	}
	return user, nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.Email == email {
			return user, nil
		}
	}
	return store.User{}, notFound("get user by email")
}

// Projects

func (f *fakeStore) CreateProject(_ context.Context, project store.Project) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.projects[project.ID]; ok {
		return store.ErrConflict
	}
	project.CreatedAt = testNow
	project.UpdatedAt = testNow
	f.projects[project.ID] = project
	return nil
}

func (f *fakeStore) GetProject(_ context.Context, projectID string) (store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	project, ok := f.projects[projectID]
	if !ok {
		return store.Project{}, notFound("get project")
	}
	project.CompletedSteps = append([]string{}, project.CompletedSteps...)
	return project, nil
}

func (f *fakeStore) ListProjectsForUser(_ context.Context, userID string, limit int) ([]store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Project{}
	for _, project := range f.projects {
		grant, granted := f.collaborators[project.ID][userID]
		live := granted && (grant.ExpiresAt == nil || grant.ExpiresAt.After(testNow))
		if project.OwnerID == userID || live {
			out = append(out, project)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) UpdateProject(_ context.Context, project store.Project) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.projects[project.ID]
	if !ok {
		return notFound("update project")
	}
	existing.Name = project.Name
	existing.Status = project.Status
	existing.Data = project.Data
	existing.Settings = project.Settings
	f.projects[project.ID] = existing
	return nil
}

func (f *fakeStore) UpdateSharing(_ context.Context, projectID string, isPublic bool, sharing store.SharingSettings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	existing, ok := f.projects[projectID]
	if !ok {
		return notFound("update sharing")
	}
	existing.IsPublic = isPublic
	existing.Sharing = sharing
	f.projects[projectID] = existing
	return nil
}

func (f *fakeStore) DeleteProject(_ context.Context, projectID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.projects[projectID]; !ok {
		return notFound("delete project")
	}
	delete(f.projects, projectID)
	delete(f.collaborators, projectID)
	delete(f.sitemaps, projectID)
	delete(f.wireframes, projectID)
	delete(f.styles, projectID)
	for id, link := range f.links {
		if link.ProjectID == projectID {
			delete(f.links, id)
		}
	}
	for id, session := range f.sessions {
		if session.ProjectID == projectID {
			delete(f.sessions, id)
		}
	}
	return nil
}

// Workflow

func (f *fakeStore) MoveStep(ctx context.Context, projectID, from, to, markCompleted string) (bool, error) {
	if f.moveStepFn != nil {
		return f.moveStepFn(ctx, projectID, from, to, markCompleted)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	project, ok := f.projects[projectID]
	if !ok || project.CurrentStep != from {
		return false, nil
	}
	project.CurrentStep = to
	if markCompleted != "" && !containsString(project.CompletedSteps, markCompleted) {
		project.CompletedSteps = append(project.CompletedSteps, markCompleted)
	}
	f.projects[projectID] = project
	return true, nil
}

func (f *fakeStore) AddCompletedStep(_ context.Context, projectID, step string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	project, ok := f.projects[projectID]
	if !ok {
		return nil
	}
	if !containsString(project.CompletedSteps, step) {
		project.CompletedSteps = append(project.CompletedSteps, step)
	}
	f.projects[projectID] = project
	return nil
}

func (f *fakeStore) ResetWorkflow(_ context.Context, projectID, initial string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	project, ok := f.projects[projectID]
	if !ok {
		return notFound("reset workflow")
	}
	project.CurrentStep = initial
	project.CompletedSteps = []string{}
	f.projects[projectID] = project
	return nil
}

// Collaborators

func (f *fakeStore) ListCollaborators(_ context.Context, projectID string) ([]store.Collaborator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Collaborator{}
	for _, item := range f.collaborators[projectID] {
		user := f.users[item.UserID]
		item.Email = user.Email
		item.DisplayName = user.DisplayName
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (f *fakeStore) GetCollaborator(_ context.Context, projectID, userID string) (store.Collaborator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.collaborators[projectID][userID]
	if !ok {
		return store.Collaborator{}, notFound("get collaborator")
	}
	user := f.users[userID]
	item.Email = user.Email
	item.DisplayName = user.DisplayName
	return item, nil
}

func (f *fakeStore) UpsertCollaborator(_ context.Context, item store.Collaborator) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.collaborators[item.ProjectID] == nil {
		f.collaborators[item.ProjectID] = map[string]store.Collaborator{}
	}
	item.GrantedAt = testNow
	f.collaborators[item.ProjectID][item.UserID] = item
	return nil
}

func (f *fakeStore) DeleteCollaborator(_ context.Context, projectID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.collaborators[projectID][userID]; !ok {
		return notFound("delete collaborator")
	}
	delete(f.collaborators[projectID], userID)
	return nil
}

// Share links

func (f *fakeStore) InsertShareLink(_ context.Context, link store.ShareLink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.links {
		if existing.Token == link.Token {
			return store.ErrConflict
		}
	}
	f.links[link.ID] = link
	return nil
}

func (f *fakeStore) GetShareLink(_ context.Context, linkID string) (store.ShareLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	link, ok := f.links[linkID]
	if !ok {
		return store.ShareLink{}, notFound("get share link")
	}
	return link, nil
}

func (f *fakeStore) GetShareLinkByToken(_ context.Context, token string) (store.ShareLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, link := range f.links {
		if link.Token == token {
			return link, nil
		}
	}
	return store.ShareLink{}, notFound("get share link")
}

func (f *fakeStore) ListShareLinksByCreator(_ context.Context, creatorID, projectID string) ([]store.ShareLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.ShareLink{}
	for _, link := range f.links {
		if link.CreatedBy == creatorID && (projectID == "" || link.ProjectID == projectID) {
			out = append(out, link)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) RevokeShareLink(_ context.Context, linkID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	link, ok := f.links[linkID]
	if !ok {
		return notFound("revoke share link")
	}
	if link.RevokedAt == nil {
		revoked := testNow
		link.RevokedAt = &revoked
	}
	f.links[linkID] = link
	return nil
}

func (f *fakeStore) RedeemShareLink(_ context.Context, linkID string) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	link, ok := f.links[linkID]
	if !ok || link.RevokedAt != nil || link.CurrentAccessCount >= link.MaxAccessCount {
		return 0, false, nil
	}
	if link.ExpiresAt != nil && !testNow.Before(*link.ExpiresAt) {
		return 0, false, nil
	}
	link.CurrentAccessCount++
	accessed := testNow
	link.LastAccessedAt = &accessed
	f.links[linkID] = link
	return link.CurrentAccessCount, true, nil
}

// Audit

func (f *fakeStore) InsertAudit(ctx context.Context, record store.AuditRecord) error {
	if f.insertAuditFn != nil {
		return f.insertAuditFn(ctx, record)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	record.ID = int64(len(f.audit) + 1)
	record.CreatedAt = testNow
	f.audit = append(f.audit, record)
	return nil
}

func (f *fakeStore) ListAudit(_ context.Context, projectID string, limit int) ([]store.AuditRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.AuditRecord{}
	for i := len(f.audit) - 1; i >= 0 && len(out) < limit; i-- {
		if f.audit[i].ProjectID == projectID {
			out = append(out, f.audit[i])
		}
	}
	return out, nil
}

func (f *fakeStore) auditActions(projectID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	actions := []string{}
	for _, record := range f.audit {
		if record.ProjectID == projectID {
			actions = append(actions, record.Action)
		}
	}
	return actions
}

// Sessions

func (f *fakeStore) UpsertSession(_ context.Context, newID, projectID, userID string, patch store.SessionPatch) (store.CollaborationSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var session store.CollaborationSession
	found := false
	for _, existing := range f.sessions {
		if existing.ProjectID == projectID && existing.UserID == userID {
			session, found = existing, true
			break
		}
	}
	if !found {
		session = store.CollaborationSession{ID: newID, ProjectID: projectID, UserID: userID, StartedAt: testNow}
	}
	if !session.IsActive {
		session.StartedAt = testNow
	}
	session.IsActive = true
	session.EndedAt = nil
	session.LastActivity = testNow
	session.DisplayName = f.users[userID].DisplayName
	if patch.CurrentActivity != nil {
		session.CurrentActivity = patch.CurrentActivity
	}
	if patch.CursorPosition != nil {
		session.CursorPosition = patch.CursorPosition
	}
	if patch.SelectionData != nil {
		session.SelectionData = patch.SelectionData
	}
	if patch.DeviceInfo != nil {
		session.DeviceInfo = patch.DeviceInfo
	}
	f.sessions[session.ID] = session
	return session, nil
}

func (f *fakeStore) GetSession(_ context.Context, sessionID string) (store.CollaborationSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionID]
	if !ok {
		return store.CollaborationSession{}, notFound("get session")
	}
	return session, nil
}

func (f *fakeStore) ListActiveSessions(_ context.Context, projectID string) ([]store.CollaborationSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.CollaborationSession{}
	for _, session := range f.sessions {
		if session.ProjectID == projectID && session.IsActive {
			out = append(out, session)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (f *fakeStore) EndSession(_ context.Context, projectID, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, session := range f.sessions {
		if session.ProjectID == projectID && session.UserID == userID && session.IsActive {
			ended := testNow
			session.IsActive = false
			session.EndedAt = &ended
			f.sessions[id] = session
			return nil
		}
	}
	return notFound("end session")
}

func (f *fakeStore) EndSessionByID(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionID]
	if !ok || !session.IsActive {
		return notFound("end session")
	}
	ended := testNow
	session.IsActive = false
	session.EndedAt = &ended
	f.sessions[sessionID] = session
	f.endedByID = append(f.endedByID, sessionID)
	return nil
}

// Artifacts

func (f *fakeStore) GetSitemap(_ context.Context, projectID string) (store.Sitemap, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.sitemaps[projectID]
	if !ok {
		return store.Sitemap{}, notFound("get sitemap")
	}
	return item, nil
}

func (f *fakeStore) UpsertSitemap(_ context.Context, item store.Sitemap) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item.UpdatedAt = testNow
	f.sitemaps[item.ProjectID] = item
	return nil
}

func (f *fakeStore) ListWireframes(_ context.Context, projectID string) ([]store.Wireframe, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Wireframe{}
	for _, item := range f.wireframes[projectID] {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PageID < out[j].PageID })
	return out, nil
}

func (f *fakeStore) UpsertWireframe(_ context.Context, item store.Wireframe) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.wireframes[item.ProjectID] == nil {
		f.wireframes[item.ProjectID] = map[string]store.Wireframe{}
	}
	item.UpdatedAt = testNow
	f.wireframes[item.ProjectID][item.PageID] = item
	return nil
}

func (f *fakeStore) GetStyleGuide(_ context.Context, projectID string) (store.StyleGuide, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.styles[projectID]
	if !ok {
		return store.StyleGuide{}, notFound("get style guide")
	}
	return item, nil
}

func (f *fakeStore) UpsertStyleGuide(_ context.Context, item store.StyleGuide) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item.UpdatedAt = testNow
	f.styles[item.ProjectID] = item
	return nil
}

// Seeding helpers

func (f *fakeStore) addUser(id, email, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[id] = store.User{ID: id, Email: email, DisplayName: name, CreatedAt: testNow, UpdatedAt: testNow}
}

func (f *fakeStore) addProject(project store.Project) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if project.Status == "" {
		project.Status = "draft"
	}
	if project.CurrentStep == "" {
		project.CurrentStep = "initial"
	}
	if project.CompletedSteps == nil {
		project.CompletedSteps = []string{}
	}
	if project.Sharing.DefaultLinkPermission == "" {
		project.Sharing = store.DefaultSharingSettings()
	}
	f.projects[project.ID] = project
}

func (f *fakeStore) addCollaborator(projectID, userID, level string, expiresAt *time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.collaborators[projectID] == nil {
		f.collaborators[projectID] = map[string]store.Collaborator{}
	}
	f.collaborators[projectID][userID] = store.Collaborator{
		ProjectID: projectID,
		UserID:    userID,
		Level:     level,
		GrantedBy: "owner",
		GrantedAt: testNow,
		ExpiresAt: expiresAt,
	}
}

func (f *fakeStore) addLink(link store.ShareLink) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if link.CreatedAt.IsZero() {
		link.CreatedAt = testNow
	}
	f.links[link.ID] = link
}

func (f *fakeStore) link(id string) store.ShareLink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.links[id]
}

func (f *fakeStore) project(id string) store.Project {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.projects[id]
}

func containsString(values []string, want string) bool {
	for _, value := range values {
		if value == want {
			return true
		}
	}
	return false
}
