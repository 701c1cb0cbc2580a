package sources

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"remix-studio/internal"
	"remix-studio/internal/logging"
	"remix-studio/internal/model"
)

// Strategy is one way of turning a remote URL into a local file.
type Strategy interface {
	Name() string
	Fetch(ctx context.Context, rawURL, dst string) error
}

// DurationProber is satisfied by *video.Runner.
type DurationProber interface {
	Duration(ctx context.Context, path string) (float64, error)
}

// Resolver normalizes uploads and URLs into local VideoAssets.
type Resolver struct {
	cfg        internal.Config
	log        *logging.Logger
	prober     DurationProber
	strategies []Strategy
}

// NewResolver wires the default strategy order: platform API, then yt-dlp
// with the primary profile, then yt-dlp with the fallback profile.
func NewResolver(cfg internal.Config, log *logging.Logger, prober DurationProber) *Resolver {
	client := &http.Client{Timeout: cfg.AcquireTimeout}
	return NewResolverWithStrategies(cfg, log, prober,
		NewPlatformAPI(cfg, client),
		NewYTDLP("yt-dlp-primary", cfg.YTDLPPath, PrimaryProfile(cfg)),
		NewYTDLP("yt-dlp-fallback", cfg.YTDLPPath, FallbackProfile(cfg)),
	)
}

func NewResolverWithStrategies(cfg internal.Config, log *logging.Logger, prober DurationProber, strategies ...Strategy) *Resolver {
	return &Resolver{cfg: cfg, log: log, prober: prober, strategies: strategies}
}

func (r *Resolver) maxBytes() int64 {
	return r.cfg.MaxUploadMB * 1024 * 1024
}

// FromUpload persists an uploaded file under a unique name.
func (r *Resolver) FromUpload(ctx context.Context, filename string, body io.Reader) (*model.VideoAsset, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !lo.Contains(r.cfg.SupportedFormats, ext) {
		return nil, model.Wrap(model.StageAcquire, model.ErrAcquisition,
			fmt.Errorf("unsupported format %q (supported: %s)", ext, strings.Join(r.cfg.SupportedFormats, ", ")))
	}
	if err := os.MkdirAll(r.cfg.UploadsDir, 0o755); err != nil {
		return nil, model.Wrap(model.StageStore, model.ErrStorage, err)
	}

	id := uuid.NewString()
	dst := filepath.Join(r.cfg.UploadsDir, id+ext)
	f, err := os.Create(dst)
	if err != nil {
		return nil, model.Wrap(model.StageStore, model.ErrStorage, err)
	}
	h := sha256.New()
	limit := r.maxBytes()
	src := body
	if limit > 0 {
		src = io.LimitReader(body, limit+1)
	}
	n, err := io.Copy(io.MultiWriter(f, h), src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dst)
		return nil, model.Wrap(model.StageStore, model.ErrStorage, err)
	}
	if limit > 0 && n > limit {
		_ = os.Remove(dst)
		return nil, model.Wrap(model.StageAcquire, model.ErrAcquisition,
			fmt.Errorf("%w: max %d MB", errTooLarge, r.cfg.MaxUploadMB))
	}
	if n == 0 {
		_ = os.Remove(dst)
		return nil, model.Wrap(model.StageAcquire, model.ErrAcquisition, errors.New("empty upload"))
	}

	asset := &model.VideoAsset{
		ID:        id,
		Path:      dst,
		Filename:  filepath.Base(filename),
		Source:    model.SourceUpload,
		SizeBytes: n,
		SHA256:    hex.EncodeToString(h.Sum(nil)),
		Strategy:  "upload",
		CreatedAt: time.Now(),
	}
	r.probe(ctx, asset)
	r.log.Infof("Upload stored: %s (%.1f MB)", asset.Path, asset.SizeMB())
	return asset, nil
}

// FromURL tries every strategy in order and returns the first valid file.
func (r *Resolver) FromURL(ctx context.Context, rawURL string) (*model.VideoAsset, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, model.Wrap(model.StageAcquire, model.ErrAcquisition, errors.New("empty url"))
	}
	if err := os.MkdirAll(r.cfg.TempDir, 0o755); err != nil {
		return nil, model.Wrap(model.StageStore, model.ErrStorage, err)
	}
	if err := os.MkdirAll(r.cfg.DownloadsDir, 0o755); err != nil {
		return nil, model.Wrap(model.StageStore, model.ErrStorage, err)
	}

	dlErr := &DownloadError{URL: rawURL}
	for _, s := range r.strategies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		asset, err := r.try(ctx, s, rawURL)
		if err == nil {
			r.probe(ctx, asset)
			r.log.Infof("Downloaded %s via %s (%.1f MB)", rawURL, s.Name(), asset.SizeMB())
			return asset, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		r.log.Warnf("Strategy %s failed for %s: %v", s.Name(), rawURL, err)
		dlErr.Failures = append(dlErr.Failures, StrategyFailure{Strategy: s.Name(), Err: err})
	}
	return nil, model.NewStageError(model.StageAcquire, model.ErrAcquisition, dlErr)
}

func (r *Resolver) try(ctx context.Context, s Strategy, rawURL string) (*model.VideoAsset, error) {
	sctx, cancel := ctx, context.CancelFunc(func() {})
	if r.cfg.AcquireTimeout > 0 {
		sctx, cancel = context.WithTimeout(ctx, r.cfg.AcquireTimeout)
	}
	defer cancel()

	id := uuid.NewString()
	tmp := filepath.Join(r.cfg.TempDir, "dl_"+id+".part")
	defer os.Remove(tmp)

	if err := s.Fetch(sctx, rawURL, tmp); err != nil {
		if errors.Is(sctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("timed out after %s: %w", r.cfg.AcquireTimeout, err)
		}
		return nil, err
	}
	kind, err := validateVideoFile(tmp, r.maxBytes())
	if err != nil {
		return nil, err
	}
	sum, size, err := fileSHA256(tmp)
	if err != nil {
		return nil, err
	}
	dst := filepath.Join(r.cfg.DownloadsDir, id+"."+kind)
	if err := os.Rename(tmp, dst); err != nil {
		return nil, fmt.Errorf("move into downloads: %w", err)
	}
	return &model.VideoAsset{
		ID:        id,
		Path:      dst,
		Filename:  filepath.Base(dst),
		Source:    model.SourceDownload,
		SourceURL: rawURL,
		SizeBytes: size,
		SHA256:    sum,
		Strategy:  s.Name(),
		CreatedAt: time.Now(),
	}, nil
}

// probe fills Duration. Failure leaves it unknown.
func (r *Resolver) probe(ctx context.Context, asset *model.VideoAsset) {
	if r.prober == nil {
		return
	}
	d, err := r.prober.Duration(ctx, asset.Path)
	if err != nil {
		r.log.Warnf("Probe %s: %v (duration unknown)", asset.Path, err)
		return
	}
	asset.SetDuration(d)
	if r.cfg.MaxVideoDuration > 0 && d > r.cfg.MaxVideoDuration {
		r.log.Warnf("Source %s is %.0fs, longer than %.0fs", asset.Filename, d, r.cfg.MaxVideoDuration)
	}
}
