package store

import (
	"encoding/json"
	"time"
)

type User struct {
	ID          string
	Email       string
	DisplayName string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type ProjectSettings struct {
	WebsiteType    string `json:"websiteType"`
	Industry       string `json:"industry,omitempty"`
	TargetAudience string `json:"targetAudience,omitempty"`
	Language       string `json:"language,omitempty"`
}

type ProjectData struct {
	Description string   `json:"description,omitempty"`
	Goals       []string `json:"goals,omitempty"`
	Notes       string   `json:"notes,omitempty"`
}

type SharingSettings struct {
	AllowShareLinks       bool     `json:"allowShareLinks"`
	RequireLoginForLinks  bool     `json:"requireLoginForLinks"`
	DefaultLinkPermission string   `json:"defaultLinkPermission"`
	AllowedDomains        []string `json:"allowedDomains"`
}

func DefaultSharingSettings() SharingSettings {
	return SharingSettings{
		AllowShareLinks:       true,
		DefaultLinkPermission: "viewer",
		AllowedDomains:        []string{},
	}
}

type Project struct {
	ID             string
	OwnerID        string
	Name           string
	Status         string
	Data           ProjectData
	Settings       ProjectSettings
	IsPublic       bool
	Sharing        SharingSettings
	CurrentStep    string
	CompletedSteps []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Collaborator is a grant joined with the grantee's profile.
type Collaborator struct {
	ProjectID   string
	UserID      string
	Level       string
	GrantedBy   string
	GrantedAt   time.Time
	ExpiresAt   *time.Time
	Email       string
	DisplayName string
}

type ShareLink struct {
	ID                 string
	ProjectID          string
	Token              string
	Level              string
	CreatedBy          string
	MaxAccessCount     int
	CurrentAccessCount int
	ExpiresAt          *time.Time
	DomainRestrictions []string
	RequiresLogin      bool
	AllowAPIAccess     bool
	Metadata           json.RawMessage
	PasswordHash       string
	RevokedAt          *time.Time
	LastAccessedAt     *time.Time
	CreatedAt          time.Time
}

type CollaborationSession struct {
	ID              string
	ProjectID       string
	UserID          string
	DisplayName     string
	IsActive        bool
	LastActivity    time.Time
	CurrentActivity json.RawMessage
	CursorPosition  json.RawMessage
	SelectionData   json.RawMessage
	DeviceInfo      json.RawMessage
	StartedAt       time.Time
	EndedAt         *time.Time
}

// SessionPatch fields left nil keep their stored value.
type SessionPatch struct {
	CurrentActivity json.RawMessage
	CursorPosition  json.RawMessage
	SelectionData   json.RawMessage
	DeviceInfo      json.RawMessage
}

type GenerationMeta struct {
	TokensUsed int     `json:"tokensUsed"`
	CostUSD    float64 `json:"costUsd"`
	Model      string  `json:"model"`
}

type SitemapPage struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Path       string   `json:"path"`
	IsCritical bool     `json:"isCritical"`
	Sections   []string `json:"sections"`
}

type Sitemap struct {
	ProjectID  string
	Pages      []SitemapPage
	Generation GenerationMeta
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type Wireframe struct {
	ProjectID  string
	PageID     string
	Layout     json.RawMessage
	Generation GenerationMeta
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type StyleColors struct {
	Primary    string `json:"primary"`
	Secondary  string `json:"secondary,omitempty"`
	Accent     string `json:"accent,omitempty"`
	Background string `json:"background,omitempty"`
	Text       string `json:"text,omitempty"`
}

type StyleTypography struct {
	HeadingFont string `json:"headingFont,omitempty"`
	BodyFont    string `json:"bodyFont,omitempty"`
	BaseSize    string `json:"baseSize,omitempty"`
}

type StyleGuide struct {
	ProjectID  string
	BrandName  string
	Colors     StyleColors
	Typography StyleTypography
	Generation GenerationMeta
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type AuditRecord struct {
	ID        int64
	ProjectID string
	ActorID   string
	Action    string
	Level     string
	Metadata  json.RawMessage
	CreatedAt time.Time
}
