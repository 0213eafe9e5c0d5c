package generation

import (
	"fmt"
	"strings"
)

// Brief is the project context every prompt starts from.
type Brief struct {
	Name           string
	WebsiteType    string
	Industry       string
	TargetAudience string
	Language       string
	Description    string
	Goals          []string
}

func (b Brief) render() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Project name: %s\n", b.Name)
	fmt.Fprintf(&sb, "Website type: %s\n", b.WebsiteType)
	if b.Industry != "" {
		fmt.Fprintf(&sb, "Industry: %s\n", b.Industry)
	}
	if b.TargetAudience != "" {
		fmt.Fprintf(&sb, "Target audience: %s\n", b.TargetAudience)
	}
	if b.Language != "" {
		fmt.Fprintf(&sb, "Content language: %s\n", b.Language)
	}
	if b.Description != "" {
		fmt.Fprintf(&sb, "Description: %s\n", b.Description)
	}
	if len(b.Goals) > 0 {
		fmt.Fprintf(&sb, "Goals: %s\n", strings.Join(b.Goals, "; "))
	}
	return sb.String()
}

const systemPrompt = "You are a senior web designer planning websites. Reply with a single JSON object and nothing else."

func SitemapRequest(brief Brief) Request {
	return Request{
		System: systemPrompt,
		Prompt: brief.render() + `
Plan the sitemap for this website. Respond as:
{"pages":[{"id":"kebab-case-id","title":"Page title","path":"/path","isCritical":true,"sections":["hero","..."]}]}
Mark the pages a visitor cannot do without as isCritical.`,
		MaxTokens:   1500,
		Temperature: 0.4,
	}
}

func WireframeRequest(brief Brief, page Page, siblings []Page) Request {
	titles := make([]string, 0, len(siblings))
	for _, sibling := range siblings {
		titles = append(titles, sibling.Title)
	}
	return Request{
		System: systemPrompt,
		Prompt: brief.render() + fmt.Sprintf(`Other pages: %s
Design the wireframe of the page %q (path %s) with planned sections %s. Respond as:
{"sections":[{"type":"hero","heading":"...","components":["..."]}]}`,
			strings.Join(titles, ", "), page.Title, page.Path, strings.Join(page.Sections, ", ")),
		MaxTokens:   2000,
		Temperature: 0.5,
	}
}

func StyleGuideRequest(brief Brief) Request {
	return Request{
		System: systemPrompt,
		Prompt: brief.render() + `
Propose a style guide. Respond as:
{"brandName":"...","colors":{"primary":"#RRGGBB","secondary":"#RRGGBB","accent":"#RRGGBB","background":"#RRGGBB","text":"#RRGGBB"},"typography":{"headingFont":"...","bodyFont":"...","baseSize":"16px"}}`,
		MaxTokens:   800,
		Temperature: 0.7,
	}
}
