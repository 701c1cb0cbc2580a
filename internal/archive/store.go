package archive

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"remix-studio/internal"
	"remix-studio/internal/logging"
	"remix-studio/internal/model"
	"remix-studio/internal/s3"
)

var ErrNotFound = errors.New("remix not found")

const indexAttempts = 3

// Store keeps rendered remixes, their sidecars and the remixes.json index in S3.
type Store struct {
	s3c      s3.Client
	prefix   string
	indexKey string
	log      *logging.Logger

	mu      sync.Mutex
	backoff time.Duration
}

func NewStore(client s3.Client, cfg internal.Config, log *logging.Logger) *Store {
	return &Store{
		s3c:      client,
		prefix:   cfg.RemixesPrefix,
		indexKey: cfg.RemixesJSONKey,
		log:      log,
		backoff:  500 * time.Millisecond,
	}
}

func (s *Store) videoKey(id string) string   { return s.prefix + id + ".mp4" }
func (s *Store) sidecarKey(id string) string { return s.prefix + id + ".json" }

// Save uploads the video and its sidecar, then appends it to the index.
func (s *Store) Save(ctx context.Context, pv *model.ProcessedVideo, caption string) (*model.RemixRecord, error) {
	if pv == nil || pv.Path == "" {
		return nil, storageErr(errors.New("nothing to archive"))
	}
	rec := model.RemixRecord{
		ID:         pv.ID,
		RunID:      pv.RunID,
		VideoKey:   s.videoKey(pv.ID),
		SidecarKey: s.sidecarKey(pv.ID),
		SourceURL:  pv.OriginalVideo.SourceURL,
		Caption:    caption,
		CreatedAt:  time.Now().UTC(),
	}
	if pv.Script != nil {
		rec.Style = pv.Script.Style.String()
	}
	if pv.Voiceover != nil {
		rec.Provider = pv.Voiceover.Provider.String()
	}

	s.log.Infof("[ARCHIVE] uploading %s -> %s", pv.Path, rec.VideoKey)
	if err := s.s3c.PutFile(ctx, rec.VideoKey, pv.Path, "video/mp4"); err != nil {
		return nil, storageErr(fmt.Errorf("upload video: %w", err))
	}
	if err := s.s3c.WriteJSON(ctx, rec.SidecarKey, pv); err != nil {
		return nil, storageErr(fmt.Errorf("upload sidecar: %w", err))
	}
	if objs, err := s.s3c.List(ctx, rec.VideoKey); err == nil {
		for _, o := range objs {
			if o.Key == rec.VideoKey {
				rec.SizeBytes = o.Size
			}
		}
	}

	err := s.updateIndex(ctx, func(idx *model.RemixIndex) error {
		idx.Items = lo.Reject(idx.Items, func(r model.RemixRecord, _ int) bool { return r.ID == rec.ID })
		idx.Items = append(idx.Items, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Infof("[ARCHIVE] ✓ saved remix %s", rec.ID)
	return &rec, nil
}

// List returns archived remixes, newest first.
func (s *Store) List(ctx context.Context) ([]model.RemixRecord, error) {
	idx, err := s.readIndex(ctx)
	if err != nil {
		return nil, err
	}
	items := append([]model.RemixRecord(nil), idx.Items...)
	sort.Slice(items, func(i, j int) bool { return items[i].CreatedAt.After(items[j].CreatedAt) })
	return items, nil
}

func (s *Store) Get(ctx context.Context, id string) (*model.RemixRecord, error) {
	idx, err := s.readIndex(ctx)
	if err != nil {
		return nil, err
	}
	rec, ok := lo.Find(idx.Items, func(r model.RemixRecord) bool { return r.ID == id })
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &rec, nil
}

// Fetch downloads an archived remix to dst.
func (s *Store) Fetch(ctx context.Context, id, dst string) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	n, err := s.s3c.GetFile(ctx, rec.VideoKey, dst)
	if err != nil {
		return storageErr(fmt.Errorf("download %s: %w", rec.VideoKey, err))
	}
	s.log.Infof("[ARCHIVE] fetched %s (%d bytes) -> %s", id, n, dst)
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	s.deleteObjects(ctx, *rec)
	return s.updateIndex(ctx, func(idx *model.RemixIndex) error {
		idx.Items = lo.Reject(idx.Items, func(r model.RemixRecord, _ int) bool { return r.ID == id })
		return nil
	})
}

// DeleteOlderThan removes remixes created more than d ago.
func (s *Store) DeleteOlderThan(ctx context.Context, d time.Duration) (int, error) {
	cutoff := time.Now().Add(-d)
	var removed []model.RemixRecord
	err := s.updateIndex(ctx, func(idx *model.RemixIndex) error {
		expired := func(r model.RemixRecord, _ int) bool { return r.CreatedAt.Before(cutoff) }
		removed = lo.Filter(idx.Items, expired)
		idx.Items = lo.Reject(idx.Items, expired)
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, r := range removed {
		s.log.Infof("[ARCHIVE] deleting old remix %s (created %s)", r.ID, r.CreatedAt.Format(time.RFC3339))
		s.deleteObjects(ctx, r)
	}
	return len(removed), nil
}

// MarkPublished records the platforms a remix was posted to.
func (s *Store) MarkPublished(ctx context.Context, id string, platforms []string) error {
	return s.updateIndex(ctx, func(idx *model.RemixIndex) error {
		for i := range idx.Items {
			if idx.Items[i].ID == id {
				idx.Items[i].Published = lo.Uniq(append(idx.Items[i].Published, platforms...))
				return nil
			}
		}
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	})
}

// SyncWithS3 reconciles the index with the objects under the remixes prefix.
// Entries whose video is gone are dropped and orphaned videos are indexed.
func (s *Store) SyncWithS3(ctx context.Context) (added, removed int, err error) {
	objs, err := s.s3c.List(ctx, s.prefix)
	if err != nil {
		return 0, 0, storageErr(fmt.Errorf("list %s: %w", s.prefix, err))
	}
	videos := make(map[string]s3.ObjectInfo)
	for _, o := range objs {
		if strings.HasSuffix(o.Key, ".mp4") {
			videos[o.Key] = o
		}
	}

	err = s.updateIndex(ctx, func(idx *model.RemixIndex) error {
		added, removed = 0, 0
		known := make(map[string]bool, len(idx.Items))
		kept := idx.Items[:0]
		for _, r := range idx.Items {
			if _, ok := videos[r.VideoKey]; !ok {
				s.log.Warnf("[ARCHIVE] %s missing from bucket, dropping index entry", r.VideoKey)
				removed++
				continue
			}
			known[r.VideoKey] = true
			kept = append(kept, r)
		}
		idx.Items = kept

		for key, o := range videos {
			if known[key] {
				continue
			}
			id := strings.TrimSuffix(path.Base(key), ".mp4")
			rec := model.RemixRecord{
				ID:         id,
				VideoKey:   key,
				SidecarKey: s.sidecarKey(id),
				SizeBytes:  o.Size,
				CreatedAt:  o.LastModified,
			}
			var pv model.ProcessedVideo
			if found, err := s.s3c.ReadJSON(ctx, rec.SidecarKey, &pv); err == nil && found {
				rec.SourceURL = pv.OriginalVideo.SourceURL
				if pv.Script != nil {
					rec.Style = pv.Script.Style.String()
				}
				if !pv.CreatedAt.IsZero() {
					rec.CreatedAt = pv.CreatedAt
				}
			} else {
				rec.SidecarKey = ""
			}
			idx.Items = append(idx.Items, rec)
			added++
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	s.log.Infof("[ARCHIVE] sync: %d added, %d removed", added, removed)
	return added, removed, nil
}

func (s *Store) deleteObjects(ctx context.Context, r model.RemixRecord) {
	for _, key := range []string{r.VideoKey, r.SidecarKey} {
		if key == "" {
			continue
		}
		if err := s.s3c.Delete(ctx, key); err != nil {
			s.log.Errorf("[ARCHIVE] failed to delete %s: %v", key, err)
		}
	}
}

func (s *Store) readIndex(ctx context.Context) (*model.RemixIndex, error) {
	var idx model.RemixIndex
	if _, err := s.s3c.ReadJSON(ctx, s.indexKey, &idx); err != nil {
		return nil, storageErr(fmt.Errorf("read %s: %w", s.indexKey, err))
	}
	return &idx, nil
}

// updateIndex re-reads the index, applies fn and writes it back, retrying
// with linear backoff.
func (s *Store) updateIndex(ctx context.Context, fn func(*model.RemixIndex) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= indexAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt-1) * s.backoff):
			}
		}
		var idx model.RemixIndex
		if _, err := s.s3c.ReadJSON(ctx, s.indexKey, &idx); err != nil {
			lastErr = err
			s.log.Warnf("[ARCHIVE] read index attempt %d/%d: %v", attempt, indexAttempts, err)
			continue
		}
		if err := fn(&idx); err != nil {
			return err
		}
		idx.UpdatedAt = time.Now().UTC()
		if err := s.s3c.WriteJSON(ctx, s.indexKey, &idx); err != nil {
			lastErr = err
			s.log.Warnf("[ARCHIVE] write index attempt %d/%d: %v", attempt, indexAttempts, err)
			continue
		}
		return nil
	}
	return storageErr(fmt.Errorf("update %s after %d attempts: %w", s.indexKey, indexAttempts, lastErr))
}

func storageErr(err error) error {
	return model.Wrap(model.StageStore, model.ErrStorage, err)
}
