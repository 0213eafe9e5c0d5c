package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"go.uber.org/zap"
)

const (
	projectIndex = "sitebuilder_projects"
	// retryBackoff is how long a failing Meilisearch is skipped before the
	// next request probes it again.
	retryBackoff = 15 * time.Second
)

var errMeiliBackoff = errors.New("meilisearch backing off after failure")

// Meili searches and indexes projects in Meilisearch. After a failure it
// reports unhealthy until retryBackoff elapses, then the next call probes it.
type Meili struct {
	client meili.ServiceManager
	logger *zap.Logger
	now    func() time.Time

	mu         sync.Mutex
	configured bool
	retryAt    time.Time
}

// NewMeili connects lazily: an unreachable server at startup only delays
// index configuration to the first successful call.
func NewMeili(url, apiKey string, logger *zap.Logger) *Meili {
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		logger: logger,
		now:    time.Now,
	}
	if err := m.ready(); err != nil {
		logger.Warn("search: meilisearch unavailable at startup", zap.String("url", url), zap.Error(err))
	}
	return m
}

// Close releases the underlying HTTP client.
func (m *Meili) Close() {
	m.client.Close()
}

// Healthy is false only while backing off from a recent failure.
func (m *Meili) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.now().Before(m.retryAt)
}

// ready probes the server when needed and applies index settings once.
func (m *Meili) ready() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.now().Before(m.retryAt) {
		return errMeiliBackoff
	}
	if m.configured {
		return nil
	}
	if _, err := m.client.Health(); err != nil {
		m.retryAt = m.now().Add(retryBackoff)
		return fmt.Errorf("meilisearch health: %w", err)
	}
	m.applySettings()
	m.configured = true
	return nil
}

func (m *Meili) markFailed() {
	m.mu.Lock()
	m.retryAt = m.now().Add(retryBackoff)
	m.configured = false
	m.mu.Unlock()
}

func (m *Meili) applySettings() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: projectIndex, PrimaryKey: "id"}); err != nil {
		m.logger.Debug("search: create index", zap.String("index", projectIndex), zap.Error(err))
	}
	index := m.client.Index(projectIndex)
	filterable := []interface{}{"memberIds", "isPublic", "status"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.logger.Warn("search: filterable attributes", zap.Error(err))
	}
	searchable := []string{"name", "description", "websiteType"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.logger.Warn("search: searchable attributes", zap.Error(err))
	}
}

func (m *Meili) Search(_ context.Context, q Query) ([]Result, int, error) {
	if err := m.ready(); err != nil {
		return nil, 0, err
	}
	resp, err := m.client.Index(projectIndex).Search(q.Text, &meili.SearchRequest{
		Limit:                 int64(normalizeLimit(q.Limit)),
		Offset:                int64(q.Offset),
		Filter:                fmt.Sprintf("memberIds = %q", q.UserID),
		AttributesToHighlight: []string{"name", "description"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	})
	if err != nil {
		m.markFailed()
		return nil, 0, fmt.Errorf("meilisearch search: %w", err)
	}

	results := make([]Result, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		result, err := decodeHit(hit)
		if err != nil {
			m.logger.Debug("search: skip undecodable hit", zap.Error(err))
			continue
		}
		results = append(results, result)
	}
	return results, int(resp.EstimatedTotalHits), nil
}

type projectHit struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Formatted   struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	} `json:"_formatted"`
}

// decodeHit prefers the highlighted fields when Meilisearch returned them.
func decodeHit(hit meili.Hit) (Result, error) {
	raw, err := json.Marshal(hit)
	if err != nil {
		return Result{}, err
	}
	var h projectHit
	if err := json.Unmarshal(raw, &h); err != nil {
		return Result{}, err
	}
	result := Result{ProjectID: h.ID, Name: h.Name, Snippet: h.Description, Status: h.Status}
	if name := strings.TrimSpace(h.Formatted.Name); name != "" {
		result.Name = name
	}
	if snippet := strings.TrimSpace(h.Formatted.Description); snippet != "" {
		result.Snippet = snippet
	}
	return result, nil
}

func (m *Meili) IndexProject(record ProjectRecord) error {
	if err := m.ready(); err != nil {
		return err
	}
	if _, err := m.client.Index(projectIndex).AddDocuments([]ProjectRecord{record}, nil); err != nil {
		m.markFailed()
		return err
	}
	return nil
}

func (m *Meili) DeleteProject(id string) error {
	if err := m.ready(); err != nil {
		return err
	}
	if _, err := m.client.Index(projectIndex).DeleteDocument(id, nil); err != nil {
		m.markFailed()
		return err
	}
	return nil
}
