package uploaders

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"remix-studio/internal"
	"remix-studio/internal/logging"
)

// Manager holds the configured publishing platforms.
type Manager struct {
	mu        sync.RWMutex
	uploaders map[string]Uploader
	log       *logging.Logger
}

// NewManager registers every platform whose credentials are configured.
func NewManager(cfg internal.Config, log *logging.Logger) *Manager {
	m := &Manager{uploaders: make(map[string]Uploader), log: log}

	if cfg.TelegramToken != "" && cfg.PostsChatID != "" {
		m.uploaders["telegram"] = NewTelegramUploader(cfg.TelegramToken, cfg.PostsChatID)
	}
	if cfg.XConsumerKey != "" && cfg.XConsumerSecret != "" && cfg.XAccessToken != "" && cfg.XAccessTokenSecret != "" {
		m.uploaders["x"] = NewXUploader(cfg.XConsumerKey, cfg.XConsumerSecret, cfg.XAccessToken, cfg.XAccessTokenSecret, log)
	}
	if cfg.UploadPostAPIKey != "" && cfg.InstagramUsername != "" {
		m.uploaders["instagram"] = NewInstagramUploader(cfg.UploadPostAPIKey, cfg.InstagramUsername)
	}
	if yt, err := NewYouTubeUploader(cfg.YouTubeClientSecrets, cfg.YouTubeToken); err == nil {
		m.uploaders["youtube"] = yt
	} else {
		log.Infof("[PUBLISH] youtube disabled: %v", err)
	}
	return m
}

func (m *Manager) GetUploader(platform string) (Uploader, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.uploaders[platform]
	if !ok {
		return nil, fmt.Errorf("uploader not found for platform: %s", platform)
	}
	return u, nil
}

func (m *Manager) Upload(ctx context.Context, platform string, req *UploadRequest) (*UploadResult, error) {
	u, err := m.GetUploader(platform)
	if err != nil {
		return failed(platform, err), err
	}
	res, err := u.Upload(ctx, req)
	if res == nil {
		res = &UploadResult{Platform: platform, Success: err == nil}
		if err != nil {
			res.Error = err.Error()
		}
	}
	return res, err
}

// UploadToSelected publishes to each platform concurrently. A failure on
// one platform does not cancel the others.
func (m *Manager) UploadToSelected(ctx context.Context, platforms []string, req *UploadRequest) map[string]*UploadResult {
	var mu sync.Mutex
	results := make(map[string]*UploadResult, len(platforms))

	var g errgroup.Group
	for _, p := range platforms {
		g.Go(func() error {
			res, err := m.Upload(ctx, p, req)
			if err != nil {
				m.log.Errorf("[PUBLISH] %s: %v", p, err)
			} else {
				m.log.Infof("[PUBLISH] ✓ %s %s", p, res.URL)
			}
			mu.Lock()
			results[p] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (m *Manager) UploadToAll(ctx context.Context, req *UploadRequest) map[string]*UploadResult {
	return m.UploadToSelected(ctx, m.AvailablePlatforms(), req)
}

func (m *Manager) AvailablePlatforms() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	platforms := make([]string, 0, len(m.uploaders))
	for p := range m.uploaders {
		platforms = append(platforms, p)
	}
	sort.Strings(platforms)
	return platforms
}

func (m *Manager) AddUploader(platform string, u Uploader) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploaders[platform] = u
}
