// Package export assembles a project's generated artifacts into a single
// JSON bundle and publishes it to object storage.
package export

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/Verridian-ai/cortex-relume-sub005/internal/store"
)

var ErrEmptyProject = errors.New("export requires a project id")

type ProjectView struct {
	ID             string                `json:"id"`
	Name           string                `json:"name"`
	Status         string                `json:"status"`
	Settings       store.ProjectSettings `json:"settings"`
	Data           store.ProjectData     `json:"data"`
	CurrentStep    string                `json:"currentStep"`
	CompletedSteps []string              `json:"completedSteps"`
}

type WireframeView struct {
	PageID string          `json:"pageId"`
	Layout json.RawMessage `json:"layout"`
}

type StyleGuideView struct {
	BrandName  string                `json:"brandName"`
	Colors     store.StyleColors     `json:"colors"`
	Typography store.StyleTypography `json:"typography"`
}

// Bundle is the document written for the export step.
type Bundle struct {
	Project    ProjectView         `json:"project"`
	Pages      []store.SitemapPage `json:"pages"`
	Wireframes []WireframeView     `json:"wireframes"`
	StyleGuide *StyleGuideView     `json:"styleGuide,omitempty"`
	ExportedAt time.Time           `json:"exportedAt"`
}

// Result describes where a bundle ended up. Bundle is set only when no
// object storage is configured.
type Result struct {
	Key       string     `json:"key,omitempty"`
	URL       string     `json:"url,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	Size      int64      `json:"size"`
	Bundle    *Bundle    `json:"bundle,omitempty"`
}
