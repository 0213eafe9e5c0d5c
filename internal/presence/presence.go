package presence

import (
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusOnline  Status = "online"
	StatusIdle    Status = "idle"
	StatusAway    Status = "away"
	StatusOffline Status = "offline"
)

const (
	OnlineWindow   = 5 * time.Minute
	IdleWindow     = 30 * time.Minute
	AwayWindow     = 24 * time.Hour
	ConflictWindow = 60 * time.Second
)

// StatusFor buckets a session by the age of its last activity.
func StatusFor(lastActivity, now time.Time) Status {
	age := now.Sub(lastActivity)
	switch {
	case age < OnlineWindow:
		return StatusOnline
	case age < IdleWindow:
		return StatusIdle
	case age < AwayWindow:
		return StatusAway
	default:
		return StatusOffline
	}
}

func IsOnline(lastActivity, now time.Time) bool {
	return StatusFor(lastActivity, now) == StatusOnline
}

// Activity is what a collaborator reports they are doing.
type Activity struct {
	Type        string `json:"type,omitempty"`
	PageID      string `json:"pageId,omitempty"`
	ComponentID string `json:"componentId,omitempty"`
	Description string `json:"description,omitempty"`
}

func (a *Activity) isEmpty() bool {
	return a == nil || (strings.TrimSpace(a.PageID) == "" && strings.TrimSpace(a.ComponentID) == "")
}

// Peer is another collaborator's session as seen by the detector.
type Peer struct {
	UserID       string
	DisplayName  string
	IsActive     bool
	LastActivity time.Time
	Activity     *Activity
}

type Conflict struct {
	UserID       string    `json:"userId"`
	DisplayName  string    `json:"displayName"`
	PageID       string    `json:"pageId,omitempty"`
	ComponentID  string    `json:"componentId,omitempty"`
	LastActivity time.Time `json:"lastActivity"`
}

// DetectConflicts lists peers whose recent activity touches the same page or
// component as mine. The result is advisory.
func DetectConflicts(selfUserID string, mine *Activity, peers []Peer, now time.Time) []Conflict {
	conflicts := []Conflict{}
	if mine.isEmpty() {
		return conflicts
	}
	for _, peer := range peers {
		if peer.UserID == selfUserID || !peer.IsActive || peer.Activity.isEmpty() {
			continue
		}
		if now.Sub(peer.LastActivity) > ConflictWindow {
			continue
		}
		samePage := mine.PageID != "" && peer.Activity.PageID == mine.PageID
		sameComponent := mine.ComponentID != "" && peer.Activity.ComponentID == mine.ComponentID
		if !samePage && !sameComponent {
			continue
		}
		conflicts = append(conflicts, Conflict{
			UserID:       peer.UserID,
			DisplayName:  peer.DisplayName,
			PageID:       peer.Activity.PageID,
			ComponentID:  peer.Activity.ComponentID,
			LastActivity: peer.LastActivity,
		})
	}
	return conflicts
}

func Suggestion(conflicts []Conflict) string {
	switch len(conflicts) {
	case 0:
		return ""
	case 1:
		name := conflicts[0].DisplayName
		if name == "" {
			name = "Another collaborator"
		}
		return fmt.Sprintf("%s is working on the same area. Coordinate before making changes.", name)
	default:
		return fmt.Sprintf("%d collaborators are working on the same area. Coordinate before making changes.", len(conflicts))
	}
}
