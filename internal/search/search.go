package search

import "context"

// Result is a single project hit.
type Result struct {
	ProjectID string `json:"projectId"`
	Name      string `json:"name"`
	Snippet   string `json:"snippet"`
	Status    string `json:"status"`
}

// Query describes a project search scoped to one member.
type Query struct {
	Text   string
	UserID string
	Limit  int
	Offset int
}

type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a project search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// ProjectRecord is the data we index for a project. MemberIDs holds the
// owner and every collaborator.
type ProjectRecord struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	WebsiteType string   `json:"websiteType"`
	Status      string   `json:"status"`
	IsPublic    bool     `json:"isPublic"`
	MemberIDs   []string `json:"memberIds"`
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 100 {
		return 20
	}
	return limit
}
