package export

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/Verridian-ai/cortex-relume-sub005/internal/store"
)

// DownloadTTL bounds the lifetime of presigned download URLs.
const DownloadTTL = 15 * time.Minute

// Uploader stores an object and hands back a time-limited download URL.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) error
	PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Service provides project export functionality
type Service struct {
	uploader Uploader
	now      func() time.Time
}

// NewService creates a new export service. A nil uploader makes Publish
// return the bundle inline.
func NewService(uploader Uploader) *Service {
	return &Service{uploader: uploader, now: time.Now}
}

func (s *Service) HasStorage() bool {
	return s.uploader != nil
}

// BuildBundle flattens stored artifacts into an export bundle. Wireframes
// are ordered by the sitemap's page order.
func (s *Service) BuildBundle(project store.Project, sitemap *store.Sitemap, wireframes []store.Wireframe, style *store.StyleGuide) Bundle {
	bundle := Bundle{
		Project: ProjectView{
			ID:             project.ID,
			Name:           project.Name,
			Status:         project.Status,
			Settings:       project.Settings,
			Data:           project.Data,
			CurrentStep:    project.CurrentStep,
			CompletedSteps: append([]string{}, project.CompletedSteps...),
		},
		Pages:      []store.SitemapPage{},
		Wireframes: []WireframeView{},
		ExportedAt: s.now().UTC(),
	}

	order := map[string]int{}
	if sitemap != nil {
		bundle.Pages = append(bundle.Pages, sitemap.Pages...)
		for i, page := range sitemap.Pages {
			order[page.ID] = i
		}
	}

	for _, item := range wireframes {
		bundle.Wireframes = append(bundle.Wireframes, WireframeView{PageID: item.PageID, Layout: item.Layout})
	}
	sort.SliceStable(bundle.Wireframes, func(i, j int) bool {
		a, aok := order[bundle.Wireframes[i].PageID]
		b, bok := order[bundle.Wireframes[j].PageID]
		if aok != bok {
			return aok
		}
		return a < b
	})

	if style != nil {
		bundle.StyleGuide = &StyleGuideView{
			BrandName:  style.BrandName,
			Colors:     style.Colors,
			Typography: style.Typography,
		}
	}
	return bundle
}

// Publish writes the bundle to object storage under
// exports/<projectId>/<timestamp>.json and returns a presigned URL.
func (s *Service) Publish(ctx context.Context, bundle Bundle) (*Result, error) {
	if bundle.Project.ID == "" {
		return nil, ErrEmptyProject
	}

	body, err := json.MarshalIndent(bundle, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode bundle: %w", err)
	}

	if s.uploader == nil {
		return &Result{Size: int64(len(body)), Bundle: &bundle}, nil
	}

	key := ObjectKey(bundle.Project.ID, bundle.ExportedAt)
	if err := s.uploader.Upload(ctx, key, body, "application/json"); err != nil {
		return nil, fmt.Errorf("upload bundle: %w", err)
	}

	url, err := s.uploader.PresignedURL(ctx, key, DownloadTTL)
	if err != nil {
		return nil, fmt.Errorf("presign bundle: %w", err)
	}
	expires := s.now().UTC().Add(DownloadTTL)

	return &Result{
		Key:       key,
		URL:       url,
		ExpiresAt: &expires,
		Size:      int64(len(body)),
	}, nil
}

func ObjectKey(projectID string, at time.Time) string {
	return fmt.Sprintf("exports/%s/%s.json", projectID, at.UTC().Format("20060102T150405Z"))
}
