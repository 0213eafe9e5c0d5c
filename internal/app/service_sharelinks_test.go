package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/Verridian-ai/cortex-relume-sub005/internal/rbac"
	"github.com/Verridian-ai/cortex-relume-sub005/internal/store"
)

func timePtr(value time.Time) *time.Time {
	return &value
}

func intPtr(value int) *int {
	return &value
}

func boolPtr(value bool) *bool {
	return &value
}

func TestCreateShareLinkDefaults(t *testing.T) {
	fs := newFakeStore()
	seedProject(fs)
	svc := newTestService(fs)

	payload, err := svc.CreateShareLink(context.Background(), ownerCaller, "prj-1", CreateShareLinkInput{
		Password: "open sesame",
		Metadata: json.RawMessage(`{"campaign":"launch"}`),
	})
	if err != nil {
		t.Fatalf("create share link: %v", err)
	}
	if payload["level"] != "viewer" || payload["maxAccessCount"] != 100 || payload["currentAccessCount"] != 0 {
		t.Fatalf("unexpected defaults %+v", payload)
	}
	if payload["hasPassword"] != true || payload["status"] != "active" {
		t.Fatalf("unexpected flags %+v", payload)
	}

	link := fs.link(payload["id"].(string))
	if link.PasswordHash == "" || link.PasswordHash == "open sesame" {
		t.Fatal("password must be stored hashed")
	}
	if link.CreatedBy != "owner" || link.Token == "" {
		t.Fatalf("unexpected stored link %+v", link)
	}
}

func TestCreateShareLinkInheritsProjectSharing(t *testing.T) {
	fs := newFakeStore()
	seedProject(fs)
	project := fs.project("prj-1")
	project.Sharing = store.SharingSettings{
		AllowShareLinks:       true,
		RequireLoginForLinks:  true,
		DefaultLinkPermission: "editor",
		AllowedDomains:        []string{"example.com"},
	}
	fs.addProject(project)
	svc := newTestService(fs)

	payload, err := svc.CreateShareLink(context.Background(), ownerCaller, "prj-1", CreateShareLinkInput{RequiresLogin: boolPtr(false)})
	if err != nil {
		t.Fatalf("create share link: %v", err)
	}
	if payload["level"] != "editor" || payload["requiresLogin"] != true {
		t.Fatalf("project sharing not applied: %+v", payload)
	}
	domains := payload["domainRestrictions"].([]string)
	if len(domains) != 1 || domains[0] != "example.com" {
		t.Fatalf("unexpected domains %v", domains)
	}
}

func TestCreateShareLinkValidation(t *testing.T) {
	fs := newFakeStore()
	seedProject(fs)
	svc := newTestService(fs)

	cases := []struct {
		name  string
		input CreateShareLinkInput
	}{
		{name: "admin level", input: CreateShareLinkInput{Level: "admin"}},
		{name: "owner level", input: CreateShareLinkInput{Level: "owner"}},
		{name: "zero max access", input: CreateShareLinkInput{MaxAccessCount: intPtr(0)}},
		{name: "max access over cap", input: CreateShareLinkInput{MaxAccessCount: intPtr(10001)}},
		{name: "expiry in the past", input: CreateShareLinkInput{ExpiresAt: strPtr(testNow.Add(-time.Minute).Format(time.RFC3339))}},
		{name: "expiry now", input: CreateShareLinkInput{ExpiresAt: strPtr(testNow.Format(time.RFC3339))}},
		{name: "bad timestamp", input: CreateShareLinkInput{ExpiresAt: strPtr("tomorrow")}},
		{name: "empty domain", input: CreateShareLinkInput{DomainRestrictions: []string{" "}}},
		{name: "bad metadata", input: CreateShareLinkInput{Metadata: json.RawMessage(`{`)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateShareLink(context.Background(), ownerCaller, "prj-1", tc.input)
			requireCode(t, err, "VALIDATION_ERROR")
		})
	}

	project := fs.project("prj-1")
	project.Sharing.AllowShareLinks = false
	fs.addProject(project)
	_, err := svc.CreateShareLink(context.Background(), ownerCaller, "prj-1", CreateShareLinkInput{})
	requireCode(t, err, "VALIDATION_ERROR")

	_, err = svc.CreateShareLink(context.Background(), Caller{}, "prj-1", CreateShareLinkInput{})
	requireCode(t, err, "AUTHENTICATION_REQUIRED")
}

func TestCreateShareLinkRetriesTokenCollision(t *testing.T) {
	fs := newFakeStore()
	seedProject(fs)
	svc := newTestService(fs)
	attempts := 0
	svc.store = &conflictingStore{fakeStore: fs, attempts: &attempts, failures: 1}

	if _, err := svc.CreateShareLink(context.Background(), ownerCaller, "prj-1", CreateShareLinkInput{}); err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("expected two attempts, got %d", attempts)
	}

	attempts = 0
	svc.store = &conflictingStore{fakeStore: fs, attempts: &attempts, failures: 2}
	_, err := svc.CreateShareLink(context.Background(), ownerCaller, "prj-1", CreateShareLinkInput{})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict after second collision, got %v", err)
	}
}

type conflictingStore struct {
	*fakeStore
	attempts *int
	failures int
}

func (c *conflictingStore) InsertShareLink(ctx context.Context, link store.ShareLink) error {
	*c.attempts++
	if *c.attempts <= c.failures {
		return store.ErrConflict
	}
	return c.fakeStore.InsertShareLink(ctx, link)
}

func TestConsumeShareLinkChecks(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("open sesame"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	base := store.ShareLink{
		ID:             "lnk-1",
		ProjectID:      "prj-1",
		Token:          "tok-1",
		Level:          "viewer",
		CreatedBy:      "owner",
		MaxAccessCount: 10,
	}

	cases := []struct {
		name   string
		token  string
		mutate func(*store.ShareLink)
		caller Caller
		visit  ConsumeContext
		code   string
	}{
		{name: "unknown token", token: "nope", code: "NOT_FOUND"},
		{name: "revoked", mutate: func(l *store.ShareLink) { l.RevokedAt = timePtr(testNow.Add(-time.Hour)) }, code: "NOT_FOUND"},
		{name: "revoked wins over expired", mutate: func(l *store.ShareLink) {
			l.RevokedAt = timePtr(testNow.Add(-time.Hour))
			l.ExpiresAt = timePtr(testNow.Add(-time.Hour))
		}, code: "NOT_FOUND"},
		{name: "expired", mutate: func(l *store.ShareLink) { l.ExpiresAt = timePtr(testNow.Add(-time.Second)) }, code: "EXPIRED"},
		{name: "expires exactly now", mutate: func(l *store.ShareLink) { l.ExpiresAt = timePtr(testNow) }, code: "EXPIRED"},
		{name: "expired wins over exhausted", mutate: func(l *store.ShareLink) {
			l.ExpiresAt = timePtr(testNow.Add(-time.Second))
			l.CurrentAccessCount = 10
		}, code: "EXPIRED"},
		{name: "exhausted", mutate: func(l *store.ShareLink) { l.CurrentAccessCount = 10 }, code: "EXHAUSTED"},
		{name: "exhausted wins over domain", mutate: func(l *store.ShareLink) {
			l.CurrentAccessCount = 10
			l.DomainRestrictions = []string{"example.com"}
		}, code: "EXHAUSTED"},
		{name: "domain without origin", mutate: func(l *store.ShareLink) { l.DomainRestrictions = []string{"example.com"} }, code: "DOMAIN_REJECTED"},
		{name: "domain mismatch", mutate: func(l *store.ShareLink) { l.DomainRestrictions = []string{"example.com"} }, visit: ConsumeContext{Origin: "https://evil-example.com"}, code: "DOMAIN_REJECTED"},
		{name: "domain wins over login", mutate: func(l *store.ShareLink) {
			l.DomainRestrictions = []string{"example.com"}
			l.RequiresLogin = true
		}, visit: ConsumeContext{Origin: "https://other.org"}, code: "DOMAIN_REJECTED"},
		{name: "login required", mutate: func(l *store.ShareLink) { l.RequiresLogin = true }, code: "LOGIN_REQUIRED"},
		{name: "login wins over password", mutate: func(l *store.ShareLink) {
			l.RequiresLogin = true
			l.PasswordHash = string(hash)
		}, code: "LOGIN_REQUIRED"},
		{name: "password required", mutate: func(l *store.ShareLink) { l.PasswordHash = string(hash) }, code: "PASSWORD_REQUIRED"},
		{name: "wrong password", mutate: func(l *store.ShareLink) { l.PasswordHash = string(hash) }, visit: ConsumeContext{Password: "guess"}, code: "INVALID_PASSWORD"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fs := newFakeStore()
			seedProject(fs)
			link := base
			if tc.mutate != nil {
				tc.mutate(&link)
			}
			fs.addLink(link)
			svc := newTestService(fs)

			token := tc.token
			if token == "" {
				token = link.Token
			}
			before := fs.link(link.ID).CurrentAccessCount
			_, err := svc.ConsumeShareLink(context.Background(), tc.caller, token, tc.visit)
			requireCode(t, err, tc.code)
			if after := fs.link(link.ID).CurrentAccessCount; after != before {
				t.Fatalf("rejected consume changed the counter from %d to %d", before, after)
			}
			if got := svc.Metrics().ShareLinkRejections; got != 1 {
				t.Fatalf("expected one rejection, got %d", got)
			}
		})
	}
}

func TestConsumeShareLinkSucceeds(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("open sesame"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	fs := newFakeStore()
	seedProject(fs)
	fs.addLink(store.ShareLink{
		ID:                 "lnk-1",
		ProjectID:          "prj-1",
		Token:              "tok-1",
		Level:              "editor",
		CreatedBy:          "owner",
		MaxAccessCount:     5,
		ExpiresAt:          timePtr(testNow.Add(time.Hour)),
		DomainRestrictions: []string{"example.com"},
		RequiresLogin:      true,
		PasswordHash:       string(hash),
	})
	svc := newTestService(fs)

	payload, err := svc.ConsumeShareLink(context.Background(), strangerCaller, "tok-1", ConsumeContext{
		Referer:  "https://docs.example.com:8443/page",
		Password: "open sesame",
	})
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if payload["accessCount"] != 1 || payload["remaining"] != 4 || payload["level"] != "editor" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	project := payload["project"].(map[string]any)
	if project["name"] != "Harbor Cafe" {
		t.Fatalf("unexpected project %+v", project)
	}
	if got := svc.Metrics().ShareLinkRedemptions; got != 1 {
		t.Fatalf("expected one redemption, got %d", got)
	}
	if actions := fs.auditActions("prj-1"); len(actions) != 1 || actions[0] != "share_link_redeem" {
		t.Fatalf("unexpected audit %v", actions)
	}
}

func TestConsumeShareLinkExactCap(t *testing.T) {
	fs := newFakeStore()
	seedProject(fs)
	fs.addLink(store.ShareLink{ID: "lnk-1", ProjectID: "prj-1", Token: "tok-1", Level: "viewer", CreatedBy: "owner", MaxAccessCount: 3})
	svc := newTestService(fs)

	for i := 1; i <= 3; i++ {
		payload, err := svc.ConsumeShareLink(context.Background(), Caller{}, "tok-1", ConsumeContext{})
		if err != nil {
			t.Fatalf("consume %d: %v", i, err)
		}
		if payload["accessCount"] != i {
			t.Fatalf("expected count %d, got %v", i, payload["accessCount"])
		}
	}
	_, err := svc.ConsumeShareLink(context.Background(), Caller{}, "tok-1", ConsumeContext{})
	requireCode(t, err, "EXHAUSTED")
	if got := fs.link("lnk-1").CurrentAccessCount; got != 3 {
		t.Fatalf("counter went past the cap: %d", got)
	}
}

func consumeConcurrently(svc *Service, token string, workers int) (succeeded, exhausted int, others []error) {
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		start = make(chan struct{})
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.ConsumeShareLink(context.Background(), Caller{}, token, ConsumeContext{})
			mu.Lock()
			defer mu.Unlock()
			var domainErr *DomainError
			switch {
			case err == nil:
				succeeded++
			case errors.As(err, &domainErr) && domainErr.Code == "EXHAUSTED":
				exhausted++
			default:
				others = append(others, err)
			}
		}()
	}
	close(start)
	wg.Wait()
	return succeeded, exhausted, others
}

func TestConsumeShareLinkConcurrentCap(t *testing.T) {
	fs := newFakeStore()
	seedProject(fs)
	fs.addLink(store.ShareLink{ID: "lnk-1", ProjectID: "prj-1", Token: "tok-1", Level: "viewer", CreatedBy: "owner", MaxAccessCount: 5})
	svc := newTestService(fs)

	succeeded, exhausted, others := consumeConcurrently(svc, "tok-1", 20)
	if len(others) > 0 {
		t.Fatalf("unexpected errors: %v", others)
	}
	if succeeded != 5 || exhausted != 15 {
		t.Fatalf("expected 5 successes and 15 exhausted, got %d and %d", succeeded, exhausted)
	}
	if got := fs.link("lnk-1").CurrentAccessCount; got != 5 {
		t.Fatalf("expected counter 5, got %d", got)
	}
}

func TestConsumeShareLinkLastSlotRace(t *testing.T) {
	fs := newFakeStore()
	seedProject(fs)
	fs.addLink(store.ShareLink{ID: "lnk-1", ProjectID: "prj-1", Token: "tok-1", Level: "viewer", CreatedBy: "owner", MaxAccessCount: 4, CurrentAccessCount: 3})
	svc := newTestService(fs)

	succeeded, exhausted, others := consumeConcurrently(svc, "tok-1", 2)
	if len(others) > 0 {
		t.Fatalf("unexpected errors: %v", others)
	}
	if succeeded != 1 || exhausted != 1 {
		t.Fatalf("expected one success and one exhausted, got %d and %d", succeeded, exhausted)
	}
}

func TestRevokeShareLink(t *testing.T) {
	fs := newFakeStore()
	seedProject(fs)
	svc := newTestService(fs)
	ctx := context.Background()

	payload, err := svc.CreateShareLink(ctx, ownerCaller, "prj-1", CreateShareLinkInput{})
	if err != nil {
		t.Fatalf("create share link: %v", err)
	}
	linkID := payload["id"].(string)
	token := payload["token"].(string)

	err = svc.RevokeShareLink(ctx, editorCaller, linkID)
	requireCode(t, err, "FORBIDDEN")

	if err := svc.RevokeShareLink(ctx, ownerCaller, linkID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := svc.RevokeShareLink(ctx, ownerCaller, linkID); err != nil {
		t.Fatalf("second revoke should be a no-op: %v", err)
	}
	_, err = svc.ConsumeShareLink(ctx, Caller{}, token, ConsumeContext{})
	requireCode(t, err, "NOT_FOUND")

	err = svc.RevokeShareLink(ctx, ownerCaller, "lnk-missing")
	requireCode(t, err, "NOT_FOUND")

	items, err := svc.ListShareLinks(ctx, ownerCaller, "prj-1")
	if err != nil {
		t.Fatalf("list share links: %v", err)
	}
	if len(items) != 1 || items[0]["status"] != "revoked" {
		t.Fatalf("unexpected links %+v", items)
	}
}

func TestPresentedShareTokenGrantsLevel(t *testing.T) {
	fs := newFakeStore()
	seedProject(fs)
	fs.addLink(store.ShareLink{ID: "lnk-1", ProjectID: "prj-1", Token: "tok-view", Level: "viewer", CreatedBy: "owner", MaxAccessCount: 1, CurrentAccessCount: 1})
	fs.addLink(store.ShareLink{ID: "lnk-2", ProjectID: "prj-1", Token: "tok-old", Level: "editor", CreatedBy: "owner", MaxAccessCount: 5, ExpiresAt: timePtr(testNow.Add(-time.Minute))})
	fs.addLink(store.ShareLink{ID: "lnk-3", ProjectID: "prj-1", Token: "tok-login", Level: "editor", CreatedBy: "owner", MaxAccessCount: 5, RequiresLogin: true})
	svc := newTestService(fs)
	ctx := context.Background()

	payload, err := svc.GetProject(ctx, Caller{ShareToken: "tok-view"}, "prj-1")
	if err != nil {
		t.Fatalf("presented viewer link: %v", err)
	}
	if payload["name"] != "Harbor Cafe" {
		t.Fatalf("unexpected project %+v", payload)
	}
	if got := fs.link("lnk-1").CurrentAccessCount; got != 1 {
		t.Fatalf("presenting a link must not redeem it, count %d", got)
	}

	_, err = svc.GetProject(ctx, Caller{ShareToken: "tok-old"}, "prj-1")
	requireCode(t, err, "AUTHENTICATION_REQUIRED")

	_, err = svc.GetProject(ctx, Caller{ShareToken: "tok-login"}, "prj-1")
	requireCode(t, err, "AUTHENTICATION_REQUIRED")

	stranger := strangerCaller
	stranger.ShareToken = "tok-login"
	if _, err := svc.UpdateProject(ctx, stranger, "prj-1", UpdateProjectInput{}); err != nil {
		t.Fatalf("signed-in caller with editor link: %v", err)
	}

	viewer := viewerCaller
	viewer.ShareToken = "tok-login"
	payload, err = svc.ResolveLevel(ctx, viewer, "prj-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if payload["level"] != rbac.LevelEditor {
		t.Fatalf("most privileged source should win, got %v", payload["level"])
	}
}

func TestPresentedShareTokenLimits(t *testing.T) {
	fs := newFakeStore()
	seedProject(fs)
	hash, err := bcrypt.GenerateFromPassword([]byte("open sesame"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	fs.addLink(store.ShareLink{ID: "lnk-1", ProjectID: "prj-1", Token: "tok-spent", Level: "editor", CreatedBy: "owner", MaxAccessCount: 1, CurrentAccessCount: 1})
	fs.addLink(store.ShareLink{ID: "lnk-2", ProjectID: "prj-1", Token: "tok-secret", Level: "editor", CreatedBy: "owner", MaxAccessCount: 5, PasswordHash: string(hash)})
	fs.addLink(store.ShareLink{ID: "lnk-3", ProjectID: "prj-1", Token: "tok-partner", Level: "editor", CreatedBy: "owner", MaxAccessCount: 5, DomainRestrictions: []string{"partner.example"}})
	svc := newTestService(fs)
	ctx := context.Background()

	_, err = svc.ResetWorkflow(ctx, Caller{ShareToken: "tok-spent"}, "prj-1")
	requireCode(t, err, "AUTHENTICATION_REQUIRED")

	stranger := strangerCaller
	stranger.ShareToken = "tok-spent"
	payload, err := svc.ResolveLevel(ctx, stranger, "prj-1")
	if err != nil {
		t.Fatalf("resolve exhausted link: %v", err)
	}
	if payload["level"] != rbac.LevelViewer {
		t.Fatalf("exhausted editor link should fall back to viewer, got %v", payload["level"])
	}

	stranger.ShareToken = "tok-secret"
	_, err = svc.GetProject(ctx, stranger, "prj-1")
	requireCode(t, err, "FORBIDDEN")

	stranger.ShareToken = "tok-partner"
	_, err = svc.GetProject(ctx, stranger, "prj-1")
	requireCode(t, err, "FORBIDDEN")

	stranger.Origin = "https://partner.example"
	if _, err := svc.UpdateProject(ctx, stranger, "prj-1", UpdateProjectInput{}); err != nil {
		t.Fatalf("editor link from an allowed origin: %v", err)
	}

	_, err = svc.GetProject(ctx, Caller{ShareToken: "tok-partner", Origin: "https://partner.example"}, "prj-1")
	if err != nil {
		t.Fatalf("anonymous read from an allowed origin: %v", err)
	}
	payload, err = svc.ResolveLevel(ctx, Caller{ShareToken: "tok-partner", Origin: "https://partner.example"}, "prj-1")
	if err != nil {
		t.Fatalf("resolve anonymous: %v", err)
	}
	for _, capability := range payload["capabilities"].([]rbac.Capability) {
		if !rbac.ReadOnly(capability) {
			t.Fatalf("anonymous caller offered %s", capability)
		}
	}
}
