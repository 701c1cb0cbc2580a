package scheduler

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"sync"
	"time"

	"remix-studio/internal/logging"
)

const (
	workDirLimitBytes = 4 << 30
	normalInterval    = 5 * time.Minute
	pressureInterval  = 1 * time.Minute
)

// ResourceMonitor reconciles the archive at startup and keeps the local
// work directories under their size limit.
type ResourceMonitor struct {
	svc    *Service
	log    *logging.Logger
	stopCh chan struct{}
	wg     sync.WaitGroup
	ticker *time.Ticker
	limit  int64
}

func NewResourceMonitor(svc *Service, log *logging.Logger) *ResourceMonitor {
	return &ResourceMonitor{
		svc:    svc,
		log:    log,
		stopCh: make(chan struct{}),
		limit:  workDirLimitBytes,
	}
}

func (m *ResourceMonitor) Start(ctx context.Context) {
	m.log.Infof("resource monitor: starting (limit %d MB)", m.limit>>20)
	m.ticker = time.NewTicker(normalInterval)

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		m.initialSync(ctx)
	}()
	go func() {
		defer m.wg.Done()
		m.loop(ctx)
	}()
}

func (m *ResourceMonitor) Stop() {
	close(m.stopCh)
	if m.ticker != nil {
		m.ticker.Stop()
	}
	m.wg.Wait()
	m.log.Infof("resource monitor: stopped")
}

func (m *ResourceMonitor) initialSync(ctx context.Context) {
	if a := m.svc.deps.Archive; a != nil {
		if _, _, err := a.SyncWithS3(ctx); err != nil {
			m.log.Errorf("resource monitor: archive sync failed: %v", err)
		}
	}
	m.Check(ctx)
}

func (m *ResourceMonitor) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-m.ticker.C:
			if m.Check(ctx) {
				m.ticker.Reset(pressureInterval)
			} else {
				m.ticker.Reset(normalInterval)
			}
		}
	}
}

// Check measures the work directories and runs the janitor when they are
// over the limit. It reports whether they still are afterwards.
func (m *ResourceMonitor) Check(ctx context.Context) bool {
	used := m.usage()
	if used <= m.limit {
		return false
	}
	m.log.Warnf("resource monitor: work dirs use %d MB (limit %d MB), cleaning", used>>20, m.limit>>20)
	m.svc.Janitor(ctx)
	if used = m.usage(); used > m.limit {
		m.svc.alert("Spazio di lavoro quasi esaurito: " + humanMB(used))
		return true
	}
	return false
}

func (m *ResourceMonitor) usage() int64 {
	cfg := m.svc.cfg
	var total int64
	for _, dir := range []string{cfg.TempDir, cfg.DownloadsDir, cfg.UploadsDir, cfg.OutputDir} {
		total += dirSize(dir)
	}
	return total
}

func dirSize(dir string) int64 {
	var n int64
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			n += info.Size()
		}
		return nil
	})
	return n
}

func humanMB(b int64) string {
	return fmt.Sprintf("%d MB", b>>20)
}
