package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"remix-studio/internal"
	"remix-studio/internal/logging"
	"remix-studio/internal/model"
	"remix-studio/internal/pipeline"
	"remix-studio/internal/sources"
)

var rome = time.FixedZone("CET", 3600)

func TestBuildDailySchedule(t *testing.T) {
	day := time.Date(2026, 3, 14, 0, 0, 0, 0, rome)
	for _, n := range []int{0, 1, 3, 8} {
		times := BuildDailySchedule(day, n)
		if len(times) != n {
			t.Fatalf("count %d: got %d", n, len(times))
		}
		if !sort.SliceIsSorted(times, func(i, j int) bool { return times[i].Before(times[j]) }) {
			t.Errorf("count %d: not sorted: %v", n, times)
		}
		for _, tm := range times {
			if tm.Hour() < 10 || tm.Day() != 14 || tm.Location() != rome {
				t.Errorf("count %d: %v outside window", n, tm)
			}
		}
	}
}

type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memStore) ReadJSON(_ context.Context, key string, out any) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, out)
}

func (m *memStore) WriteJSON(_ context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = b
	return nil
}

func TestGetOrCreateSchedule(t *testing.T) {
	ctx := context.Background()
	store := &memStore{data: map[string][]byte{}}
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, rome)

	first := GetOrCreateSchedule(ctx, store, "schedule.json", 3, now)
	first.Entries[0].Done = true
	if err := store.WriteJSON(ctx, "schedule.json", first); err != nil {
		t.Fatal(err)
	}

	again := GetOrCreateSchedule(ctx, store, "schedule.json", 3, now.Add(time.Hour))
	if !again.Entries[0].Done {
		t.Error("same-day schedule should be reused")
	}
	resized := GetOrCreateSchedule(ctx, store, "schedule.json", 4, now)
	if len(resized.Entries) != 4 || resized.Entries[0].Done {
		t.Error("slot count change should rebuild")
	}
	tomorrow := GetOrCreateSchedule(ctx, store, "schedule.json", 4, now.Add(24*time.Hour))
	if tomorrow.Date != "2026-03-15" {
		t.Errorf("date = %s", tomorrow.Date)
	}

	if s := GetOrCreateSchedule(ctx, nil, "", 2, now); len(s.Entries) != 2 {
		t.Error("nil store should still build a schedule")
	}
}

func TestDueAndNext(t *testing.T) {
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, rome)
	s := &DailySchedule{Entries: []ScheduleEntry{
		{Time: base.Add(-2 * time.Hour), Done: true},
		{Time: base.Add(-time.Hour)},
		{Time: base},
		{Time: base.Add(time.Hour)},
	}}
	if due := s.Due(base); len(due) != 2 || due[0] != 1 || due[1] != 2 {
		t.Errorf("due = %v", due)
	}
	if next := s.Next(base); next == nil || !next.Equal(base.Add(time.Hour)) {
		t.Errorf("next = %v", next)
	}
}

type fakeDiscoverer struct {
	results map[string]*model.Discovered
	queries []string
}

func (f *fakeDiscoverer) Discover(_ context.Context, q sources.Query) (*model.Discovered, error) {
	f.queries = append(f.queries, q.Text)
	if d, ok := f.results[q.Text]; ok {
		return d, nil
	}
	return nil, sources.ErrNothingFound
}

type fakeEngine struct {
	mu        sync.Mutex
	inputs    []string
	err       error
	cleaned   int
	inUse     []string
	onExecute func()
}

func (f *fakeEngine) Execute(_ context.Context, run *pipeline.Run, in pipeline.Input) (*model.ProcessedVideo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, in.URL)
	if f.onExecute != nil {
		f.onExecute()
	}
	if f.err != nil {
		return nil, f.err
	}
	if run.Options.Strategy != model.AudioVoiced || run.Options.Style != model.StyleViral {
		return nil, errors.New("scheduled runs must use default options")
	}
	return &model.ProcessedVideo{
		ID:            run.ID,
		Path:          "/out/" + run.ID + ".mp4",
		OriginalVideo: model.VideoAsset{SourceURL: in.URL},
		Script:        model.NewScript("Testo del remix.", model.StyleViral),
	}, nil
}

func (f *fakeEngine) Cleanup(*pipeline.Run) {
	f.mu.Lock()
	f.cleaned++
	f.mu.Unlock()
}

func (f *fakeEngine) InUse() []string { return f.inUse }

type fakeArchive struct {
	saved  []string
	pruned time.Duration
}

func (f *fakeArchive) Save(_ context.Context, pv *model.ProcessedVideo, caption string) (*model.RemixRecord, error) {
	f.saved = append(f.saved, pv.ID+"|"+caption)
	return &model.RemixRecord{ID: pv.ID}, nil
}

func (f *fakeArchive) DeleteOlderThan(_ context.Context, d time.Duration) (int, error) {
	f.pruned = d
	return 2, nil
}

func (f *fakeArchive) SyncWithS3(context.Context) (int, int, error) { return 0, 0, nil }

type fakeNotifier struct {
	remixes []string
	texts   []string
}

func (f *fakeNotifier) NotifyRemix(_ context.Context, pv *model.ProcessedVideo, _ string) error {
	f.remixes = append(f.remixes, pv.ID)
	return nil
}

func (f *fakeNotifier) NotifyText(text string) { f.texts = append(f.texts, text) }

func testService(t *testing.T, deps Deps) *Service {
	t.Helper()
	dir := t.TempDir()
	cfg := internal.Config{
		TempDir:         filepath.Join(dir, "temp"),
		DownloadsDir:    filepath.Join(dir, "downloaded"),
		UploadsDir:      filepath.Join(dir, "uploads"),
		OutputDir:       filepath.Join(dir, "processed"),
		DailyRemixes:    2,
		ScheduleJSONKey: "schedule.json",
		MinViews:        1000,
		MaxViews:        5000,
		TempMaxAge:      6 * time.Hour,
		MaxAge:          7 * 24 * time.Hour,
	}
	s, err := New(cfg, logging.NewConsole(), deps)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestRunSlotDiscoversExecutesArchivesAndNotifies(t *testing.T) {
	disc := &fakeDiscoverer{results: map[string]*model.Discovered{
		"gatti": {URL: "https://www.tiktok.com/@a/video/1", Views: 2000, Source: "tiktok"},
	}}
	eng := &fakeEngine{}
	arch := &fakeArchive{}
	s := testService(t, Deps{
		Engine:  eng,
		Sources: []Source{{Discoverer: disc, Queries: []string{"cani", "gatti"}}},
		Archive: arch,
	})
	n := &fakeNotifier{}
	s.SetNotifier(n)

	pv, err := s.RunSlot(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(disc.queries) != 2 || disc.queries[0] != "cani" {
		t.Errorf("queries = %v, slot 0 should start from the first query", disc.queries)
	}
	if len(eng.inputs) != 1 || eng.cleaned != 1 {
		t.Errorf("inputs=%v cleaned=%d", eng.inputs, eng.cleaned)
	}
	if len(arch.saved) != 1 || arch.saved[0] != pv.ID+"|Testo del remix." {
		t.Errorf("saved = %v", arch.saved)
	}
	if len(n.remixes) != 1 {
		t.Errorf("notified = %v", n.remixes)
	}
}

func TestRunSlotFailureAlerts(t *testing.T) {
	disc := &fakeDiscoverer{}
	s := testService(t, Deps{Engine: &fakeEngine{}, Sources: []Source{{Discoverer: disc}}})
	n := &fakeNotifier{}
	s.SetNotifier(n)

	if _, err := s.RunSlot(context.Background(), 1); !errors.Is(err, sources.ErrNothingFound) {
		t.Fatalf("err = %v", err)
	}
	if len(n.texts) != 1 {
		t.Errorf("alerts = %v", n.texts)
	}
}

func TestTickRunsDueSlotsOnceAndSkipsSeenSources(t *testing.T) {
	url := "https://www.reddit.com/r/x/comments/1/"
	disc := &fakeDiscoverer{results: map[string]*model.Discovered{"": {URL: url}}}
	eng := &fakeEngine{}
	store := &memStore{data: map[string][]byte{}}
	s := testService(t, Deps{Engine: eng, Sources: []Source{{Discoverer: disc}}, Store: store})

	now := time.Date(2026, 3, 14, 23, 59, 59, 0, rome)
	s.now = func() time.Time { return now }

	s.tick(context.Background())
	sched := s.GetSchedule()
	if len(eng.inputs) != 1 {
		t.Fatalf("executions = %v", eng.inputs)
	}
	if !sched.Entries[0].Done || sched.Entries[0].RemixID == "" {
		t.Errorf("first slot = %+v", sched.Entries[0])
	}
	if !sched.Entries[1].Done || sched.Entries[1].Error == "" {
		t.Errorf("second slot should fail on an already used source: %+v", sched.Entries[1])
	}

	s.tick(context.Background())
	if len(eng.inputs) != 1 {
		t.Errorf("done slots re-ran: %v", eng.inputs)
	}

	var stored DailySchedule
	if ok, _ := store.ReadJSON(context.Background(), "schedule.json", &stored); !ok || !stored.Entries[1].Done {
		t.Errorf("schedule not persisted: %+v", stored)
	}
}

func TestJanitor(t *testing.T) {
	arch := &fakeArchive{}
	s := testService(t, Deps{Engine: &fakeEngine{}, Archive: arch})
	cfg := s.GetConfig()

	old := filepath.Join(cfg.TempDir, "voice_old.mp3")
	fresh := filepath.Join(cfg.DownloadsDir, "fresh.mp4")
	for _, p := range []string{old, fresh} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	stale := time.Now().Add(-7 * time.Hour)
	if err := os.Chtimes(old, stale, stale); err != nil {
		t.Fatal(err)
	}

	s.Janitor(context.Background())

	if _, err := os.Stat(old); !os.IsNotExist(err) {
		t.Error("stale temp file kept")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("fresh download removed")
	}
	if arch.pruned != cfg.MaxAge {
		t.Errorf("archive pruned with %v", arch.pruned)
	}
}

func TestTickAfterRolloverLeavesNewScheduleAlone(t *testing.T) {
	disc := &fakeDiscoverer{results: map[string]*model.Discovered{"": {URL: "https://www.tiktok.com/@a/video/9"}}}
	eng := &fakeEngine{}
	s := testService(t, Deps{Engine: eng, Sources: []Source{{Discoverer: disc}}})

	now := time.Date(2026, 3, 14, 23, 59, 59, 0, rome)
	s.now = func() time.Time { return now }
	s.rebuildSchedule(context.Background())
	old := s.GetSchedule()

	rolled := false
	eng.onExecute = func() {
		if rolled {
			return
		}
		rolled = true
		now = time.Date(2026, 3, 15, 0, 1, 0, 0, rome)
		s.cfg.DailyRemixes = 1
		s.rebuildSchedule(context.Background())
	}

	s.tick(context.Background())

	fresh := s.GetSchedule()
	if fresh == old || fresh.Date == old.Date {
		t.Fatalf("schedule was not rebuilt: %s", fresh.Date)
	}
	for i, e := range fresh.Entries {
		if e.Done || e.RemixID != "" || e.Error != "" {
			t.Errorf("new schedule slot %d touched: %+v", i, e)
		}
	}
	if len(fresh.Sources) != 0 {
		t.Errorf("new schedule sources = %v", fresh.Sources)
	}
	if !old.Entries[0].Done || old.Entries[0].RemixID == "" {
		t.Errorf("old first slot = %+v", old.Entries[0])
	}
}

func TestJanitorKeepsFilesOfOpenRuns(t *testing.T) {
	eng := &fakeEngine{}
	s := testService(t, Deps{Engine: eng})
	cfg := s.GetConfig()

	held := filepath.Join(cfg.DownloadsDir, "held.mp4")
	voice := filepath.Join(cfg.TempDir, "voice_held.mp3")
	orphan := filepath.Join(cfg.UploadsDir, "orphan.mp4")
	stale := time.Now().Add(-7 * time.Hour)
	for _, p := range []string{held, voice, orphan} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := os.Chtimes(p, stale, stale); err != nil {
			t.Fatal(err)
		}
	}
	eng.inUse = []string{held, voice + string(filepath.Separator)}

	s.Janitor(context.Background())

	for _, p := range []string{held, voice} {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("%s removed while held: %v", filepath.Base(p), err)
		}
	}
	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Error("stale unheld upload kept")
	}
}

func TestMonitorCheckCleansOverLimit(t *testing.T) {
	s := testService(t, Deps{Engine: &fakeEngine{}})
	cfg := s.GetConfig()
	if err := os.MkdirAll(cfg.TempDir, 0o755); err != nil {
		t.Fatal(err)
	}
	p := filepath.Join(cfg.TempDir, "big.bin")
	if err := os.WriteFile(p, make([]byte, 2048), 0o644); err != nil {
		t.Fatal(err)
	}
	stale := time.Now().Add(-24 * time.Hour)
	_ = os.Chtimes(p, stale, stale)

	m := NewResourceMonitor(s, logging.NewConsole())
	m.limit = 1024
	if m.Check(context.Background()) {
		t.Error("should be under limit after cleanup")
	}
	if _, err := os.Stat(p); !os.IsNotExist(err) {
		t.Error("janitor did not run")
	}
}
