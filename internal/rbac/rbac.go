package rbac

import "time"

type Level string
type Capability string

const (
	LevelNone   Level = "none"
	LevelViewer Level = "viewer"
	LevelEditor Level = "editor"
	LevelAdmin  Level = "admin"
	LevelOwner  Level = "owner"
)

const (
	CapProjectView        Capability = "project_view"
	CapProjectEdit        Capability = "project_edit"
	CapProjectShare       Capability = "project_share"
	CapProjectDelete      Capability = "project_delete"
	CapProjectExport      Capability = "project_export"
	CapCollaboratorList   Capability = "collaborator_list"
	CapCollaboratorInvite Capability = "collaborator_invite"
	CapCollaboratorRemove Capability = "collaborator_remove"
	CapSharingUpdate      Capability = "sharing_update"
	CapSessionView        Capability = "session_view"
	CapSessionUpdate      Capability = "session_update"
	CapSessionEndOthers   Capability = "session_end_others"
	CapWorkflowView       Capability = "workflow_view"
	CapWorkflowAdvance    Capability = "workflow_advance"
	CapArtifactGenerate   Capability = "artifact_generate"
)

// Capabilities lists every capability in table order.
var Capabilities = []Capability{
	CapProjectView, CapCollaboratorList, CapSessionView, CapSessionUpdate, CapWorkflowView,
	CapProjectEdit, CapWorkflowAdvance, CapArtifactGenerate, CapProjectExport,
	CapProjectShare, CapCollaboratorInvite, CapCollaboratorRemove, CapSharingUpdate, CapSessionEndOthers,
	CapProjectDelete,
}

var rank = map[Level]int{
	LevelNone:   0,
	LevelViewer: 1,
	LevelEditor: 2,
	LevelAdmin:  3,
	LevelOwner:  4,
}

var required = map[Capability]Level{
	CapProjectView:        LevelViewer,
	CapCollaboratorList:   LevelViewer,
	CapSessionView:        LevelViewer,
	CapSessionUpdate:      LevelViewer,
	CapWorkflowView:       LevelViewer,
	CapProjectEdit:        LevelEditor,
	CapWorkflowAdvance:    LevelEditor,
	CapArtifactGenerate:   LevelEditor,
	CapProjectExport:      LevelEditor,
	CapProjectShare:       LevelAdmin,
	CapCollaboratorInvite: LevelAdmin,
	CapCollaboratorRemove: LevelAdmin,
	CapSharingUpdate:      LevelAdmin,
	CapSessionEndOthers:   LevelAdmin,
	CapProjectDelete:      LevelOwner,
}

// Rank orders levels; unknown levels rank with none.
func Rank(level Level) int {
	return rank[level]
}

// AtLeast reports whether level grants everything min grants.
func AtLeast(level, min Level) bool {
	return Rank(level) >= Rank(min)
}

// Required returns the minimum level for a capability. Unknown capabilities
// require owner so that a typo never opens access.
func Required(capability Capability) Level {
	level, ok := required[capability]
	if !ok {
		return LevelOwner
	}
	return level
}

// ReadOnly reports whether a capability only reads project state.
// Anonymous callers are limited to these.
func ReadOnly(capability Capability) bool {
	switch capability {
	case CapProjectView, CapWorkflowView, CapSessionView:
		return true
	default:
		return false
	}
}

func Can(level Level, capability Capability) bool {
	return AtLeast(level, Required(capability))
}

// Max returns the more privileged of two levels.
func Max(a, b Level) Level {
	if Rank(b) > Rank(a) {
		return b
	}
	return a
}

// Normalize maps free-form input onto a known level, defaulting to none.
func Normalize(level string) Level {
	switch Level(level) {
	case LevelViewer, LevelEditor, LevelAdmin, LevelOwner:
		return Level(level)
	default:
		return LevelNone
	}
}

// IsGrantable reports whether a level can be handed out through a
// collaborator grant.
func IsGrantable(level Level) bool {
	return level == LevelViewer || level == LevelEditor || level == LevelAdmin
}

// IsShareable reports whether a level can be handed out through a share link.
func IsShareable(level Level) bool {
	return level == LevelViewer || level == LevelEditor
}

// Grant is a collaborator grant as seen by the evaluator.
type Grant struct {
	UserID    string
	Level     Level
	ExpiresAt *time.Time
}

func (g Grant) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && !now.Before(*g.ExpiresAt)
}

// Subject is everything the evaluator needs to know about a project.
type Subject struct {
	OwnerID  string
	IsPublic bool
	Grants   []Grant
}

// Resolve computes the effective level of userID on the subject. Ownership
// always wins; otherwise the most privileged live grant (including an
// optional share-link level presented with the request); otherwise viewer on
// public projects.
func Resolve(subject Subject, userID string, linkLevel Level, now time.Time) Level {
	if userID != "" && userID == subject.OwnerID {
		return LevelOwner
	}
	best := LevelNone
	if userID != "" {
		for _, grant := range subject.Grants {
			if grant.UserID != userID || grant.Expired(now) || !IsGrantable(grant.Level) {
				continue
			}
			best = Max(best, grant.Level)
		}
	}
	if IsShareable(linkLevel) {
		best = Max(best, linkLevel)
	}
	if best == LevelNone && subject.IsPublic {
		return LevelViewer
	}
	return best
}
