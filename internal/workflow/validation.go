package workflow

import "strings"

// Facts is the read model the step predicates run against.
type Facts struct {
	ProjectExists bool
	ProjectName   string
	WebsiteType   string
	Sitemap       *SitemapFacts
	// Wireframes holds the page ids that have a wireframe.
	Wireframes map[string]bool
	StyleGuide *StyleFacts
}

type SitemapFacts struct {
	Pages []PageFacts
}

type PageFacts struct {
	ID         string
	Title      string
	IsCritical bool
}

type StyleFacts struct {
	BrandName    string
	PrimaryColor string
}

type Validation struct {
	Step       Step     `json:"step"`
	IsComplete bool     `json:"isComplete"`
	Missing    []string `json:"missing"`
}

// Validate evaluates the predicate of one step.
func Validate(step Step, facts Facts) Validation {
	var missing []string
	switch step {
	case StepInitial:
		missing = missingInitial(facts)
	case StepSitemap:
		missing = missingSitemap(facts)
	case StepWireframe:
		missing = append(missingSitemap(facts), missingWireframes(facts, true)...)
	case StepStyle:
		missing = append(missingSitemap(facts), missingStyle(facts)...)
	case StepReview:
		missing = append(missing, missingSitemap(facts)...)
		missing = append(missing, missingWireframes(facts, false)...)
		missing = append(missing, missingStyle(facts)...)
	case StepExport:
		missing = append(missing, missingInitial(facts)...)
		missing = append(missing, missingSitemap(facts)...)
		missing = append(missing, missingWireframes(facts, false)...)
		missing = append(missing, missingStyle(facts)...)
	default:
		missing = []string{"Known workflow step"}
	}
	if missing == nil {
		missing = []string{}
	}
	return Validation{Step: step, IsComplete: len(missing) == 0, Missing: missing}
}

// ValidateAll evaluates every step in pipeline order.
func ValidateAll(facts Facts) []Validation {
	out := make([]Validation, 0, len(Steps))
	for _, step := range Steps {
		out = append(out, Validate(step, facts))
	}
	return out
}

func missingInitial(facts Facts) []string {
	if !facts.ProjectExists {
		return []string{"Project"}
	}
	var missing []string
	if strings.TrimSpace(facts.ProjectName) == "" {
		missing = append(missing, "Project name")
	}
	if strings.TrimSpace(facts.WebsiteType) == "" {
		missing = append(missing, "Website type")
	}
	return missing
}

func missingSitemap(facts Facts) []string {
	if facts.Sitemap == nil {
		return []string{"Sitemap"}
	}
	if len(facts.Sitemap.Pages) == 0 {
		return []string{"At least one page"}
	}
	return nil
}

func missingWireframes(facts Facts, criticalOnly bool) []string {
	if facts.Sitemap == nil {
		return nil
	}
	var missing []string
	for _, page := range facts.Sitemap.Pages {
		if criticalOnly && !page.IsCritical {
			continue
		}
		if !facts.Wireframes[page.ID] {
			missing = append(missing, "Wireframe for "+pageLabel(page))
		}
	}
	return missing
}

func missingStyle(facts Facts) []string {
	if facts.StyleGuide == nil {
		return []string{"Style guide"}
	}
	var missing []string
	if strings.TrimSpace(facts.StyleGuide.BrandName) == "" {
		missing = append(missing, "Brand name")
	}
	if strings.TrimSpace(facts.StyleGuide.PrimaryColor) == "" {
		missing = append(missing, "Primary color")
	}
	return missing
}

func pageLabel(page PageFacts) string {
	if strings.TrimSpace(page.Title) != "" {
		return page.Title
	}
	return page.ID
}
