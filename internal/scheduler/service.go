package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/samber/lo"

	"remix-studio/internal"
	"remix-studio/internal/logging"
	"remix-studio/internal/model"
	"remix-studio/internal/pipeline"
	"remix-studio/internal/sources"
	"remix-studio/internal/uploaders"
)

type Executor interface {
	Execute(ctx context.Context, run *pipeline.Run, in pipeline.Input) (*model.ProcessedVideo, error)
	Cleanup(run *pipeline.Run)
	// InUse lists work files held by open runs, bot sessions included.
	InUse() []string
}

type Archiver interface {
	Save(ctx context.Context, pv *model.ProcessedVideo, caption string) (*model.RemixRecord, error)
	DeleteOlderThan(ctx context.Context, d time.Duration) (int, error)
	SyncWithS3(ctx context.Context) (added, removed int, err error)
}

// Notifier delivers scheduled remixes and alerts to the admin chat.
type Notifier interface {
	NotifyRemix(ctx context.Context, pv *model.ProcessedVideo, caption string) error
	NotifyText(text string)
}

// Source is a discoverer plus the queries rotated across slots. An empty
// query lets the discoverer use its own defaults.
type Source struct {
	Discoverer sources.Discoverer
	Queries    []string
}

type Deps struct {
	Engine  Executor
	Sources []Source
	Archive Archiver  // optional
	Store   JSONStore // optional, persists the daily schedule
}

type Service struct {
	cfg  internal.Config
	log  *logging.Logger
	cron *cron.Cron
	deps Deps

	ctx context.Context

	notifyMux sync.RWMutex
	notifier  Notifier

	scheduleMux sync.Mutex
	schedule    *DailySchedule

	running atomic.Bool
	monitor *ResourceMonitor
	now     func() time.Time
}

func New(cfg internal.Config, log *logging.Logger, deps Deps) (*Service, error) {
	if deps.Engine == nil {
		return nil, errors.New("scheduler: engine is required")
	}
	s := &Service{
		cfg:  cfg,
		log:  log,
		cron: cron.New(cron.WithSeconds()),
		deps: deps,
		ctx:  context.Background(),
		now:  time.Now,
	}

	jobs := []struct {
		spec string
		fn   func()
	}{
		{"0 0 * * * *", func() { s.Janitor(s.ctx) }},
		{"0 1 0 * * *", func() { s.rebuildSchedule(s.ctx) }},
		{"30 * * * * *", func() { s.tick(s.ctx) }},
	}
	for _, j := range jobs {
		if _, err := s.cron.AddFunc(j.spec, j.fn); err != nil {
			return nil, fmt.Errorf("cron %q: %w", j.spec, err)
		}
	}

	s.monitor = NewResourceMonitor(s, log)
	return s, nil
}

func (s *Service) SetNotifier(n Notifier) {
	s.notifyMux.Lock()
	defer s.notifyMux.Unlock()
	s.notifier = n
}

func (s *Service) getNotifier() Notifier {
	s.notifyMux.RLock()
	defer s.notifyMux.RUnlock()
	return s.notifier
}

// Run starts cron and the resource monitor and blocks until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	s.ctx = ctx
	s.rebuildSchedule(ctx)
	s.cron.Start()
	s.monitor.Start(ctx)

	<-ctx.Done()

	s.monitor.Stop()
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-time.After(10 * time.Second):
		return errors.New("cron stop timeout")
	}
}

func (s *Service) GetConfig() internal.Config { return s.cfg }

func (s *Service) GetSchedule() *DailySchedule {
	s.scheduleMux.Lock()
	defer s.scheduleMux.Unlock()
	return s.schedule
}

func (s *Service) rebuildSchedule(ctx context.Context) {
	now := s.now()
	sched := GetOrCreateSchedule(ctx, s.deps.Store, s.cfg.ScheduleJSONKey, s.cfg.DailyRemixes, now)
	s.scheduleMux.Lock()
	s.schedule = sched
	s.scheduleMux.Unlock()
	if next := sched.Next(now); next != nil {
		s.log.Infof("[SCHEDULE] %s: %d slots, next at %s", sched.Date, len(sched.Entries), next.Format("15:04"))
	}
}

// tick runs every due slot. Slots run one at a time and never overlap.
func (s *Service) tick(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		return
	}
	defer s.running.Store(false)

	now := s.now()
	s.scheduleMux.Lock()
	if s.schedule == nil || s.schedule.Date != now.Format("2006-01-02") {
		s.scheduleMux.Unlock()
		s.rebuildSchedule(ctx)
		s.scheduleMux.Lock()
	}
	// Results go to the schedule the slots came from, even if the daily
	// rebuild swaps s.schedule while a slot is running.
	sched := s.schedule
	due := sched.Due(now)
	s.scheduleMux.Unlock()

	for _, i := range due {
		if ctx.Err() != nil {
			return
		}
		pv, err := s.RunSlot(ctx, i)

		s.scheduleMux.Lock()
		e := &sched.Entries[i]
		e.Done = true
		if err != nil {
			e.Error = err.Error()
		} else {
			e.RemixID = pv.ID
			sched.Sources = append(sched.Sources, pv.OriginalVideo.SourceURL)
		}
		sched.UpdatedAt = s.now()
		snapshot := *sched
		current := sched == s.schedule
		s.scheduleMux.Unlock()

		if !current {
			s.log.Warnf("[SCHEDULE] slot %d of %s finished after the schedule rolled over", i, snapshot.Date)
			continue
		}

		if s.deps.Store != nil {
			if err := s.deps.Store.WriteJSON(ctx, s.cfg.ScheduleJSONKey, &snapshot); err != nil {
				s.log.Warnf("[SCHEDULE] save: %v", err)
			}
		}
	}
}

// RunSlot discovers a source and remixes it with default options.
func (s *Service) RunSlot(ctx context.Context, slot int) (*model.ProcessedVideo, error) {
	found, err := s.discover(ctx, slot)
	if err != nil {
		s.log.Errorf("[SCHEDULE] slot %d: discovery: %v", slot, err)
		s.alert(fmt.Sprintf("Slot %d: nessun video trovato (%v)", slot+1, err))
		return nil, err
	}
	s.log.Infof("[SCHEDULE] slot %d: remixing %s (%d views, %s)", slot, found.URL, found.Views, found.Source)

	run := pipeline.NewRun(pipeline.DefaultOptions(s.cfg))
	defer s.deps.Engine.Cleanup(run)

	pv, err := s.deps.Engine.Execute(ctx, run, pipeline.Input{URL: found.URL})
	if err != nil {
		s.log.Errorf("[SCHEDULE] slot %d: run %s: %v", slot, run.ID, err)
		s.alert(fmt.Sprintf("Slot %d fallito: %v", slot+1, err))
		return nil, err
	}

	caption := uploaders.NewRequest(pv).Caption
	if s.deps.Archive != nil {
		if _, err := s.deps.Archive.Save(ctx, pv, caption); err != nil {
			s.log.Errorf("[SCHEDULE] archive %s: %v", pv.ID, err)
		}
	}
	if n := s.getNotifier(); n != nil {
		if err := n.NotifyRemix(ctx, pv, caption); err != nil {
			s.log.Errorf("[SCHEDULE] notify %s: %v", pv.ID, err)
		}
	}
	s.log.Infof("[SCHEDULE] ✓ slot %d: %s", slot, pv.Path)
	return pv, nil
}

// discover walks the sources in order, rotating queries by slot, and skips
// URLs already remixed today.
func (s *Service) discover(ctx context.Context, slot int) (*model.Discovered, error) {
	var seen []string
	if sched := s.GetSchedule(); sched != nil {
		s.scheduleMux.Lock()
		seen = append(seen, sched.Sources...)
		s.scheduleMux.Unlock()
	}

	var errs []error
	for _, src := range s.deps.Sources {
		queries := src.Queries
		if len(queries) == 0 {
			queries = []string{""}
		}
		for k := range queries {
			q := sources.Query{
				Text:     queries[(slot+k)%len(queries)],
				MinViews: s.cfg.MinViews,
				MaxViews: s.cfg.MaxViews,
			}
			found, err := src.Discoverer.Discover(ctx, q)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				errs = append(errs, err)
				continue
			}
			if lo.Contains(seen, found.URL) {
				continue
			}
			return found, nil
		}
	}
	if len(errs) == 0 {
		return nil, sources.ErrNothingFound
	}
	return nil, errors.Join(errs...)
}

func (s *Service) alert(text string) {
	if n := s.getNotifier(); n != nil {
		n.NotifyText(text)
	}
}

// Janitor removes stale work files and expired archived remixes. Files
// still held by an open run are kept however old they are.
func (s *Service) Janitor(ctx context.Context) {
	cutoff := s.now().Add(-s.cfg.TempMaxAge)
	keep := make(map[string]bool)
	for _, p := range s.deps.Engine.InUse() {
		keep[filepath.Clean(p)] = true
	}
	files := 0
	for _, dir := range []string{s.cfg.TempDir, s.cfg.DownloadsDir, s.cfg.UploadsDir} {
		n, err := removeOlderThan(dir, cutoff, keep)
		if err != nil {
			s.log.Warnf("[JANITOR] %s: %v", dir, err)
		}
		files += n
	}

	remixes := 0
	if s.deps.Archive != nil && s.cfg.MaxAge > 0 {
		n, err := s.deps.Archive.DeleteOlderThan(ctx, s.cfg.MaxAge)
		if err != nil {
			s.log.Errorf("[JANITOR] archive: %v", err)
		}
		remixes = n
	}
	s.log.Infof("[JANITOR] removed %d work files, %d archived remixes", files, remixes)
}

func removeOlderThan(dir string, cutoff time.Time, keep map[string]bool) (int, error) {
	removed := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || keep[filepath.Clean(path)] {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err == nil {
				removed++
			}
		}
		return nil
	})
	return removed, err
}
