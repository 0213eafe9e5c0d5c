package search

import (
	"context"

	"go.uber.org/zap"
)

type indexer interface {
	Searcher
	IndexProject(record ProjectRecord) error
	DeleteProject(id string) error
}

// Service is the facade that tries Meilisearch first and falls back to
// Postgres.
type Service struct {
	primary  indexer
	fallback Searcher
	logger   *zap.Logger
}

// NewService creates a search service. meili may be nil when Meilisearch is
// not configured.
func NewService(meili *Meili, fallback Searcher, logger *zap.Logger) *Service {
	s := &Service{fallback: fallback, logger: logger}
	if meili != nil {
		s.primary = meili
	}
	return s
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.primary != nil && s.primary.Healthy() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.logger.Warn("search: meilisearch error, falling back to postgres", zap.Error(err))
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.logger.Warn("search: postgres fallback error", zap.Error(err))
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexProject pushes a project to the index in the background.
func (s *Service) IndexProject(record ProjectRecord) {
	if s.primary == nil || !s.primary.Healthy() {
		return
	}
	go func() {
		if err := s.primary.IndexProject(record); err != nil {
			s.logger.Warn("search: index project", zap.String("project_id", record.ID), zap.Error(err))
		}
	}()
}

// DeleteProject removes a project from the index in the background.
func (s *Service) DeleteProject(id string) {
	if s.primary == nil || !s.primary.Healthy() {
		return
	}
	go func() {
		if err := s.primary.DeleteProject(id); err != nil {
			s.logger.Warn("search: delete project", zap.String("project_id", id), zap.Error(err))
		}
	}()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
