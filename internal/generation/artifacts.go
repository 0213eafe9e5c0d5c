package generation

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

type Page struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Path       string   `json:"path"`
	IsCritical bool     `json:"isCritical"`
	Sections   []string `json:"sections"`
}

type SitemapDraft struct {
	Pages []Page `json:"pages"`
}

type StyleGuideDraft struct {
	BrandName string `json:"brandName"`
	Colors    struct {
		Primary    string `json:"primary"`
		Secondary  string `json:"secondary"`
		Accent     string `json:"accent"`
		Background string `json:"background"`
		Text       string `json:"text"`
	} `json:"colors"`
	Typography struct {
		HeadingFont string `json:"headingFont"`
		BodyFont    string `json:"bodyFont"`
		BaseSize    string `json:"baseSize"`
	} `json:"typography"`
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(value string) string {
	return strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(value), "-"), "-")
}

// ParseSitemap decodes provider output and normalizes page ids and paths.
// Pages without a title or id are dropped; duplicate ids get a numeric
// suffix.
func ParseSitemap(raw json.RawMessage) (SitemapDraft, error) {
	var draft SitemapDraft
	if err := json.Unmarshal(raw, &draft); err != nil {
		return SitemapDraft{}, fmt.Errorf("%w: sitemap: %v", ErrFailed, err)
	}
	seen := map[string]int{}
	pages := make([]Page, 0, len(draft.Pages))
	for _, page := range draft.Pages {
		page.Title = strings.TrimSpace(page.Title)
		id := slugify(page.ID)
		if id == "" {
			id = slugify(page.Title)
		}
		if id == "" {
			continue
		}
		if page.Title == "" {
			page.Title = id
		}
		seen[id]++
		if seen[id] > 1 {
			id = id + "-" + strconv.Itoa(seen[id])
		}
		page.ID = id
		if page.Path == "" {
			page.Path = "/" + id
		}
		if page.Sections == nil {
			page.Sections = []string{}
		}
		pages = append(pages, page)
	}
	draft.Pages = pages
	return draft, nil
}

// ParseWireframe checks that the layout carries a sections array.
func ParseWireframe(raw json.RawMessage) (json.RawMessage, error) {
	var layout struct {
		Sections []json.RawMessage `json:"sections"`
	}
	if err := json.Unmarshal(raw, &layout); err != nil {
		return nil, fmt.Errorf("%w: wireframe: %v", ErrFailed, err)
	}
	if layout.Sections == nil {
		return nil, fmt.Errorf("%w: wireframe has no sections", ErrFailed)
	}
	return raw, nil
}

var hexColor = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

func ParseStyleGuide(raw json.RawMessage) (StyleGuideDraft, error) {
	var draft StyleGuideDraft
	if err := json.Unmarshal(raw, &draft); err != nil {
		return StyleGuideDraft{}, fmt.Errorf("%w: style guide: %v", ErrFailed, err)
	}
	draft.BrandName = strings.TrimSpace(draft.BrandName)
	draft.Colors.Primary = strings.TrimSpace(draft.Colors.Primary)
	if draft.Colors.Primary != "" && !hexColor.MatchString(draft.Colors.Primary) {
		return StyleGuideDraft{}, fmt.Errorf("%w: primary color %q is not a hex color", ErrFailed, draft.Colors.Primary)
	}
	return draft, nil
}
