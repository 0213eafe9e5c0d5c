package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Verridian-ai/cortex-relume-sub005/internal/presence"
	"github.com/Verridian-ai/cortex-relume-sub005/internal/rbac"
	"github.com/Verridian-ai/cortex-relume-sub005/internal/store"
	"github.com/Verridian-ai/cortex-relume-sub005/internal/util"
)

// UpdateSessionInput fields left out of the request keep their stored value.
type UpdateSessionInput struct {
	CurrentActivity json.RawMessage `json:"currentActivity"`
	CursorPosition  json.RawMessage `json:"cursorPosition"`
	SelectionData   json.RawMessage `json:"selectionData"`
	DeviceInfo      json.RawMessage `json:"deviceInfo"`
}

func hasJSON(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}

func decodeActivity(raw json.RawMessage) *presence.Activity {
	if !hasJSON(raw) {
		return nil
	}
	var activity presence.Activity
	if err := json.Unmarshal(raw, &activity); err != nil {
		return nil
	}
	return &activity
}

func (s *Service) sessionPayload(item store.CollaborationSession) map[string]any {
	now := s.now()
	return map[string]any{
		"id":              item.ID,
		"projectId":       item.ProjectID,
		"userId":          item.UserID,
		"displayName":     item.DisplayName,
		"isActive":        item.IsActive,
		"lastActivity":    item.LastActivity,
		"startedAt":       item.StartedAt,
		"endedAt":         item.EndedAt,
		"currentActivity": rawOrNil(item.CurrentActivity),
		"cursorPosition":  rawOrNil(item.CursorPosition),
		"selectionData":   rawOrNil(item.SelectionData),
		"deviceInfo":      rawOrNil(item.DeviceInfo),
		"isOnline":        item.IsActive && presence.IsOnline(item.LastActivity, now),
		"status":          presence.StatusFor(item.LastActivity, now),
		"hasActivity":     hasJSON(item.CurrentActivity),
		"hasCursor":       hasJSON(item.CursorPosition),
		"hasSelection":    hasJSON(item.SelectionData),
	}
}

func rawOrNil(raw json.RawMessage) any {
	if !hasJSON(raw) {
		return nil
	}
	return raw
}

// UpdateSession records the caller's presence on a project.
func (s *Service) UpdateSession(ctx context.Context, caller Caller, projectID string, input UpdateSessionInput) (map[string]any, error) {
	if caller.Anonymous() {
		return nil, errAuthRequired()
	}
	project, _, err := s.authorize(ctx, caller, projectID, rbac.CapSessionUpdate)
	if err != nil {
		return nil, err
	}

	fields := map[string]json.RawMessage{
		"currentActivity": input.CurrentActivity,
		"cursorPosition":  input.CursorPosition,
		"selectionData":   input.SelectionData,
		"deviceInfo":      input.DeviceInfo,
	}
	for name, raw := range fields {
		if len(raw) > 0 && !json.Valid(raw) {
			return nil, errValidation(name+" must be valid JSON", map[string]any{"field": name})
		}
	}
	if hasJSON(input.CurrentActivity) {
		var activity presence.Activity
		if err := json.Unmarshal(input.CurrentActivity, &activity); err != nil {
			return nil, errValidation("currentActivity must be an object", map[string]any{"field": "currentActivity"})
		}
	}

	session, err := s.store.UpsertSession(ctx, util.NewID("ses"), project.ID, caller.UserID, store.SessionPatch{
		CurrentActivity: input.CurrentActivity,
		CursorPosition:  input.CursorPosition,
		SelectionData:   input.SelectionData,
		DeviceInfo:      input.DeviceInfo,
	})
	if err != nil {
		return nil, fmt.Errorf("update session: %w", err)
	}
	return s.sessionPayload(session), nil
}

func (s *Service) ListActiveSessions(ctx context.Context, caller Caller, projectID string) ([]map[string]any, error) {
	project, _, err := s.authorize(ctx, caller, projectID, rbac.CapSessionView)
	if err != nil {
		return nil, err
	}
	sessions, err := s.store.ListActiveSessions(ctx, project.ID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	items := make([]map[string]any, 0, len(sessions))
	for _, item := range sessions {
		items = append(items, s.sessionPayload(item))
	}
	return items, nil
}

// DetectConflicts reports collaborators touching the same page or component
// as the caller. It never blocks anything.
func (s *Service) DetectConflicts(ctx context.Context, caller Caller, projectID string) (map[string]any, error) {
	if caller.Anonymous() {
		return nil, errAuthRequired()
	}
	project, _, err := s.authorize(ctx, caller, projectID, rbac.CapSessionView)
	if err != nil {
		return nil, err
	}
	sessions, err := s.store.ListActiveSessions(ctx, project.ID)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	var mine *presence.Activity
	peers := make([]presence.Peer, 0, len(sessions))
	for _, item := range sessions {
		activity := decodeActivity(item.CurrentActivity)
		if item.UserID == caller.UserID {
			mine = activity
			continue
		}
		peers = append(peers, presence.Peer{
			UserID:       item.UserID,
			DisplayName:  item.DisplayName,
			IsActive:     item.IsActive,
			LastActivity: item.LastActivity,
			Activity:     activity,
		})
	}

	conflicts := presence.DetectConflicts(caller.UserID, mine, peers, s.now())
	return map[string]any{
		"conflicts":    conflicts,
		"hasConflicts": len(conflicts) > 0,
		"suggestion":   presence.Suggestion(conflicts),
	}, nil
}

// EndSession ends the session of userID on the project. An empty userID
// means the caller's own session; anyone else's needs admin.
func (s *Service) EndSession(ctx context.Context, caller Caller, projectID, userID string) error {
	if caller.Anonymous() {
		return errAuthRequired()
	}
	if userID == "" {
		userID = caller.UserID
	}
	project, level, err := s.authorizeSessionEnd(ctx, caller, projectID, userID)
	if err != nil {
		return err
	}
	if err := s.store.EndSession(ctx, project.ID, userID); err != nil {
		return sessionEndError(err)
	}
	s.auditSessionEnd(ctx, caller, project.ID, userID, level)
	return nil
}

// EndSessionByID ends one session by id, with the same rules as EndSession.
func (s *Service) EndSessionByID(ctx context.Context, caller Caller, sessionID string) error {
	if caller.Anonymous() {
		return errAuthRequired()
	}
	session, err := s.store.GetSession(ctx, sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return errNotFound("Session")
	}
	if err != nil {
		return err
	}
	if !session.IsActive {
		return errNotFound("Session")
	}
	project, level, err := s.authorizeSessionEnd(ctx, caller, session.ProjectID, session.UserID)
	if err != nil {
		return err
	}
	if err := s.store.EndSessionByID(ctx, session.ID); err != nil {
		return sessionEndError(err)
	}
	s.auditSessionEnd(ctx, caller, project.ID, session.UserID, level)
	return nil
}

func (s *Service) authorizeSessionEnd(ctx context.Context, caller Caller, projectID, userID string) (store.Project, rbac.Level, error) {
	capability := rbac.CapSessionUpdate
	if userID != caller.UserID {
		capability = rbac.CapSessionEndOthers
	}
	return s.authorize(ctx, caller, projectID, capability)
}

func (s *Service) auditSessionEnd(ctx context.Context, caller Caller, projectID, userID string, level rbac.Level) {
	if userID != caller.UserID {
		s.audit(ctx, projectID, caller.UserID, "session_end", string(level), map[string]any{"userId": userID})
	}
}

func sessionEndError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errNotFound("Session")
	}
	return err
}
