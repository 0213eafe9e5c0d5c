package app

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/Verridian-ai/cortex-relume-sub005/internal/presence"
)

func TestUpdateSessionKeepsOmittedFields(t *testing.T) {
	fs := newFakeStore()
	seedProject(fs)
	svc := newTestService(fs)
	ctx := context.Background()

	first, err := svc.UpdateSession(ctx, viewerCaller, "prj-1", UpdateSessionInput{
		CurrentActivity: json.RawMessage(`{"type":"editing","pageId":"home"}`),
		CursorPosition:  json.RawMessage(`{"x":10,"y":20}`),
	})
	if err != nil {
		t.Fatalf("update session: %v", err)
	}
	if !strings.HasPrefix(first["id"].(string), "ses") {
		t.Fatalf("unexpected session id %v", first["id"])
	}
	if first["isOnline"] != true || first["status"] != presence.StatusOnline || first["hasCursor"] != true {
		t.Fatalf("unexpected session %+v", first)
	}

	second, err := svc.UpdateSession(ctx, viewerCaller, "prj-1", UpdateSessionInput{
		SelectionData: json.RawMessage(`{"componentId":"hero"}`),
	})
	if err != nil {
		t.Fatalf("update session: %v", err)
	}
	if second["id"] != first["id"] {
		t.Fatalf("expected one session per user, got %v and %v", first["id"], second["id"])
	}
	if second["hasActivity"] != true || second["hasCursor"] != true || second["hasSelection"] != true {
		t.Fatalf("omitted fields were cleared: %+v", second)
	}
}

func TestUpdateSessionValidation(t *testing.T) {
	fs := newFakeStore()
	seedProject(fs)
	svc := newTestService(fs)
	ctx := context.Background()

	_, err := svc.UpdateSession(ctx, viewerCaller, "prj-1", UpdateSessionInput{CurrentActivity: json.RawMessage(`"typing"`)})
	requireCode(t, err, "VALIDATION_ERROR")

	_, err = svc.UpdateSession(ctx, viewerCaller, "prj-1", UpdateSessionInput{CursorPosition: json.RawMessage(`{x}`)})
	requireCode(t, err, "VALIDATION_ERROR")

	_, err = svc.UpdateSession(ctx, strangerCaller, "prj-1", UpdateSessionInput{})
	requireCode(t, err, "FORBIDDEN")

	_, err = svc.UpdateSession(ctx, Caller{}, "prj-1", UpdateSessionInput{})
	requireCode(t, err, "AUTHENTICATION_REQUIRED")
}

func TestDetectConflicts(t *testing.T) {
	fs := newFakeStore()
	seedProject(fs)
	svc := newTestService(fs)
	ctx := context.Background()

	if _, err := svc.UpdateSession(ctx, editorCaller, "prj-1", UpdateSessionInput{
		CurrentActivity: json.RawMessage(`{"type":"editing","pageId":"home"}`),
	}); err != nil {
		t.Fatalf("editor session: %v", err)
	}
	if _, err := svc.UpdateSession(ctx, viewerCaller, "prj-1", UpdateSessionInput{
		CurrentActivity: json.RawMessage(`{"type":"viewing","pageId":"about"}`),
	}); err != nil {
		t.Fatalf("viewer session: %v", err)
	}
	if _, err := svc.UpdateSession(ctx, ownerCaller, "prj-1", UpdateSessionInput{
		CurrentActivity: json.RawMessage(`{"type":"editing","pageId":"home"}`),
	}); err != nil {
		t.Fatalf("owner session: %v", err)
	}

	payload, err := svc.DetectConflicts(ctx, ownerCaller, "prj-1")
	if err != nil {
		t.Fatalf("detect conflicts: %v", err)
	}
	conflicts := payload["conflicts"].([]presence.Conflict)
	if len(conflicts) != 1 || conflicts[0].UserID != "editor" || conflicts[0].PageID != "home" {
		t.Fatalf("unexpected conflicts %+v", conflicts)
	}
	if payload["hasConflicts"] != true {
		t.Fatal("expected hasConflicts")
	}
	if !strings.Contains(payload["suggestion"].(string), "Ed Editor") {
		t.Fatalf("unexpected suggestion %q", payload["suggestion"])
	}

	items, err := svc.ListActiveSessions(ctx, viewerCaller, "prj-1")
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected three sessions, got %d", len(items))
	}
}

func TestEndSessionByIDChecksPermission(t *testing.T) {
	fs := newFakeStore()
	seedProject(fs)
	svc := newTestService(fs)
	ctx := context.Background()

	ownerSession, err := svc.UpdateSession(ctx, ownerCaller, "prj-1", UpdateSessionInput{})
	if err != nil {
		t.Fatalf("owner session: %v", err)
	}
	id := ownerSession["id"].(string)

	err = svc.EndSessionByID(ctx, editorCaller, id)
	requireCode(t, err, "FORBIDDEN")
	err = svc.EndSessionByID(ctx, Caller{}, id)
	requireCode(t, err, "AUTHENTICATION_REQUIRED")
	if len(fs.endedByID) != 0 {
		t.Fatalf("rejected calls must not end the session, got %v", fs.endedByID)
	}

	if err := svc.EndSessionByID(ctx, ownerCaller, id); err != nil {
		t.Fatalf("owner ends own session: %v", err)
	}
	if len(fs.auditActions("prj-1")) != 0 {
		t.Fatal("ending your own session is not audited")
	}
	err = svc.EndSessionByID(ctx, ownerCaller, "missing")
	requireCode(t, err, "NOT_FOUND")
}

func TestEndSession(t *testing.T) {
	fs := newFakeStore()
	seedProject(fs)
	svc := newTestService(fs)
	ctx := context.Background()

	editorSession, err := svc.UpdateSession(ctx, editorCaller, "prj-1", UpdateSessionInput{})
	if err != nil {
		t.Fatalf("editor session: %v", err)
	}
	if _, err := svc.UpdateSession(ctx, viewerCaller, "prj-1", UpdateSessionInput{}); err != nil {
		t.Fatalf("viewer session: %v", err)
	}

	err = svc.EndSession(ctx, viewerCaller, "prj-1", "editor")
	requireCode(t, err, "FORBIDDEN")

	if err := svc.EndSession(ctx, viewerCaller, "prj-1", ""); err != nil {
		t.Fatalf("end own session: %v", err)
	}
	err = svc.EndSession(ctx, viewerCaller, "prj-1", "viewer")
	requireCode(t, err, "NOT_FOUND")

	if err := svc.EndSessionByID(ctx, ownerCaller, editorSession["id"].(string)); err != nil {
		t.Fatalf("owner ends editor session: %v", err)
	}
	err = svc.EndSessionByID(ctx, ownerCaller, editorSession["id"].(string))
	requireCode(t, err, "NOT_FOUND")
	if len(fs.endedByID) != 1 || fs.endedByID[0] != editorSession["id"] {
		t.Fatalf("expected the session to be ended by id, got %v", fs.endedByID)
	}

	actions := fs.auditActions("prj-1")
	if len(actions) != 1 || actions[0] != "session_end" {
		t.Fatalf("only ending someone else's session is audited, got %v", actions)
	}

	items, err := svc.ListActiveSessions(ctx, ownerCaller, "prj-1")
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected no active sessions, got %d", len(items))
	}
}
