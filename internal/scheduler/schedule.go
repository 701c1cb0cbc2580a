package scheduler

import (
	"context"
	"math/rand"
	"time"
)

// ScheduleEntry is one auto-remix slot.
type ScheduleEntry struct {
	Time    time.Time `json:"time"`
	Done    bool      `json:"done"`
	RemixID string    `json:"remix_id,omitempty"`
	Error   string    `json:"error,omitempty"`
}

type DailySchedule struct {
	Date      string          `json:"date"` // YYYY-MM-DD
	Entries   []ScheduleEntry `json:"entries"`
	Sources   []string        `json:"sources,omitempty"` // URLs already remixed today
	UpdatedAt time.Time       `json:"updated_at"`
}

// JSONStore is the subset of the S3 client the schedule needs.
type JSONStore interface {
	ReadJSON(ctx context.Context, key string, out any) (bool, error)
	WriteJSON(ctx context.Context, key string, v any) error
}

// BuildDailySchedule creates count evenly spread times in [10:00, 24:00) of
// date's location, each jittered by up to a third of its segment (max 30 min).
func BuildDailySchedule(date time.Time, count int) []time.Time {
	if count <= 0 {
		return nil
	}
	loc := date.Location()
	start := time.Date(date.Year(), date.Month(), date.Day(), 10, 0, 0, 0, loc)
	end := time.Date(date.Year(), date.Month(), date.Day(), 23, 59, 59, 0, loc)

	totalSeconds := int(end.Sub(start).Seconds())
	if count == 1 {
		return []time.Time{start.Add(time.Duration(totalSeconds/2) * time.Second)}
	}

	segmentSeconds := float64(totalSeconds) / float64(count)
	jitterMax := min(int(segmentSeconds/3), 1800)

	times := make([]time.Time, 0, count)
	for i := 0; i < count; i++ {
		center := (float64(i) + 0.5) * segmentSeconds
		jitter := 0
		if jitterMax > 0 {
			jitter = rand.Intn(2*jitterMax+1) - jitterMax
		}
		t := start.Add(time.Duration(int(center)+jitter) * time.Second)
		if t.Before(start) {
			t = start
		}
		if t.After(end) {
			t = end
		}
		times = append(times, t)
	}
	return times
}

func NewDailySchedule(now time.Time, count int) *DailySchedule {
	times := BuildDailySchedule(now, count)
	entries := make([]ScheduleEntry, len(times))
	for i, t := range times {
		entries[i] = ScheduleEntry{Time: t}
	}
	return &DailySchedule{Date: now.Format("2006-01-02"), Entries: entries, UpdatedAt: now}
}

func LoadSchedule(ctx context.Context, store JSONStore, key string) (*DailySchedule, error) {
	var schedule DailySchedule
	found, err := store.ReadJSON(ctx, key, &schedule)
	if err != nil || !found {
		return nil, err
	}
	return &schedule, nil
}

// GetOrCreateSchedule returns today's stored schedule, or a new one when
// the stored one is stale or has a different slot count. store may be nil.
func GetOrCreateSchedule(ctx context.Context, store JSONStore, key string, count int, now time.Time) *DailySchedule {
	if store != nil {
		s, err := LoadSchedule(ctx, store, key)
		if err == nil && s != nil && s.Date == now.Format("2006-01-02") && len(s.Entries) == count {
			return s
		}
	}
	s := NewDailySchedule(now, count)
	if store != nil {
		_ = store.WriteJSON(ctx, key, s)
	}
	return s
}

// Due returns the indexes of pending entries scheduled at or before now.
func (d *DailySchedule) Due(now time.Time) []int {
	var due []int
	for i, e := range d.Entries {
		if !e.Done && !e.Time.After(now) {
			due = append(due, i)
		}
	}
	return due
}

// Next returns the first pending entry after now.
func (d *DailySchedule) Next(now time.Time) *time.Time {
	for _, e := range d.Entries {
		if !e.Done && e.Time.After(now) {
			t := e.Time
			return &t
		}
	}
	return nil
}
