package workflow

import (
	"reflect"
	"testing"
)

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		step    Step
		mutate  func(*Facts)
		missing []string
	}{
		{name: "initial complete", step: StepInitial, missing: []string{}},
		{name: "no project", step: StepInitial, mutate: func(f *Facts) { *f = Facts{} }, missing: []string{"Project"}},
		{name: "blank name and type", step: StepInitial, mutate: func(f *Facts) { f.ProjectName = " "; f.WebsiteType = "" }, missing: []string{"Project name", "Website type"}},
		{name: "no sitemap", step: StepSitemap, mutate: func(f *Facts) { f.Sitemap = nil }, missing: []string{"Sitemap"}},
		{name: "zero page sitemap", step: StepSitemap, mutate: func(f *Facts) { f.Sitemap = &SitemapFacts{} }, missing: []string{"At least one page"}},
		{name: "critical wireframe missing", step: StepWireframe, mutate: func(f *Facts) { f.Wireframes = map[string]bool{"about": true} }, missing: []string{"Wireframe for Home"}},
		{name: "non critical wireframe optional", step: StepWireframe, mutate: func(f *Facts) { f.Wireframes = map[string]bool{"home": true} }, missing: []string{}},
		{name: "wireframe needs sitemap", step: StepWireframe, mutate: func(f *Facts) { f.Sitemap = nil }, missing: []string{"Sitemap"}},
		{name: "style guide missing", step: StepStyle, mutate: func(f *Facts) { f.StyleGuide = nil }, missing: []string{"Style guide"}},
		{name: "style guide blank fields", step: StepStyle, mutate: func(f *Facts) { f.StyleGuide = &StyleFacts{} }, missing: []string{"Brand name", "Primary color"}},
		{name: "review needs every wireframe", step: StepReview, mutate: func(f *Facts) { f.Wireframes = map[string]bool{"home": true} }, missing: []string{"Wireframe for About"}},
		{name: "export complete", step: StepExport, missing: []string{}},
		{name: "export needs website type", step: StepExport, mutate: func(f *Facts) { f.WebsiteType = "" }, missing: []string{"Website type"}},
		{name: "review ignores website type", step: StepReview, mutate: func(f *Facts) { f.WebsiteType = "" }, missing: []string{}},
		{name: "export nothing generated", step: StepExport, mutate: func(f *Facts) { f.Sitemap = nil; f.StyleGuide = nil }, missing: []string{"Sitemap", "Style guide"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			facts := completeFacts()
			if tc.mutate != nil {
				tc.mutate(&facts)
			}
			got := Validate(tc.step, facts)
			if !reflect.DeepEqual(got.Missing, tc.missing) {
				t.Fatalf("missing = %#v, want %#v", got.Missing, tc.missing)
			}
			if got.IsComplete != (len(tc.missing) == 0) {
				t.Fatalf("IsComplete = %v with missing %v", got.IsComplete, got.Missing)
			}
		})
	}
}

func TestValidateAllOrder(t *testing.T) {
	all := ValidateAll(completeFacts())
	if len(all) != len(Steps) {
		t.Fatalf("len = %d", len(all))
	}
	for i, v := range all {
		if v.Step != Steps[i] || !v.IsComplete {
			t.Fatalf("validation %d = %+v", i, v)
		}
	}
}
