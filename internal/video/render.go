package video

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"remix-studio/internal"
	"remix-studio/internal/logging"
	"remix-studio/internal/model"
)

var ErrOutputExists = errors.New("output file already exists, pass overwrite to replace it")

type RenderRequest struct {
	Asset         *model.VideoAsset
	Voice         *model.VoiceTrack
	Strategy      model.AudioStrategy
	AntiDetection model.AntiDetectionConfig
	OutputName    string
	Overwrite     bool
	RunID         string
	RemixID       string // ID of the resulting ProcessedVideo, generated when empty
	OnProgress    func(Progress)
}

type Renderer struct {
	runner *Runner
	fp     *Fingerprinter
	cfg    internal.Config
	log    *logging.Logger
}

func NewRenderer(runner *Runner, cfg internal.Config, log *logging.Logger) *Renderer {
	return &Renderer{
		runner: runner,
		fp:     NewFingerprinter(runner, cfg.TempDir),
		cfg:    cfg,
		log:    log,
	}
}

// Render applies the transform chain and muxes the chosen audio into one
// H.264/AAC mp4 in the output directory.
func (r *Renderer) Render(ctx context.Context, req RenderRequest) (*model.ProcessedVideo, error) {
	if req.Asset == nil {
		return nil, model.NewStageError(model.StageRender, model.ErrRender, errors.New("no source asset"))
	}
	if req.Strategy == model.AudioVoiced && req.Voice == nil {
		return nil, model.NewStageError(model.StageRender, model.ErrRender, model.ErrStaleVoice)
	}
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()[:8]
	}
	remixID := req.RemixID
	if remixID == "" {
		remixID = uuid.NewString()
	}

	chain, err := BuildChain(req.AntiDetection, r.cfg.OutputWidth, r.cfg.OutputHeight, r.cfg.OutputFPS)
	if err != nil {
		return nil, model.NewStageError(model.StageTransform, model.ErrTransform, err)
	}

	out := OutputPath(r.cfg.OutputDir, req.OutputName, runID)
	if _, err := os.Stat(out); err == nil && !req.Overwrite {
		return nil, model.NewStageError(model.StageRender, model.ErrRender, fmt.Errorf("%s: %w", out, ErrOutputExists))
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return nil, model.NewStageError(model.StageRender, model.ErrStorage, err)
	}

	// the asset may be shared with other runs
	asset := *req.Asset
	req.Asset = &asset

	srcHasAudio := true
	info, perr := r.runner.Probe(ctx, req.Asset.Path)
	switch {
	case perr != nil:
		r.log.Warnf("[RENDER] probe %s failed: %v", req.Asset.Path, perr)
	case !info.HasVideo:
		return nil, model.NewStageError(model.StageTransform, model.ErrTransform, errors.New("source has no video stream"))
	default:
		srcHasAudio = info.HasAudio
		req.Asset.SetDuration(info.Duration)
	}
	if req.Asset.Duration != nil && *req.Asset.Duration <= 0 {
		return nil, model.NewStageError(model.StageTransform, model.ErrTransform, errors.New("source has zero duration"))
	}

	var outDur float64
	if req.Asset.HasDuration() {
		outDur = *req.Asset.Duration * chain.DurationScale()
		if outDur < 1.0/float64(r.cfg.OutputFPS) {
			return nil, model.NewStageError(model.StageTransform, model.ErrTransform,
				fmt.Errorf("output duration %.4fs is shorter than one frame", outDur))
		}
	}

	args, hasAudio := r.buildArgs(req, chain, srcHasAudio, outDur, out)

	rctx, cancel := withTimeout(ctx, r.cfg.RenderTimeout)
	defer cancel()
	start := time.Now()
	r.log.Infof("[RENDER] %s → %s (audio=%s, transforms=%s)", req.Asset.Filename, out, req.Strategy, strings.Join(chain.Names(), ","))
	if err := r.runner.Run(rctx, args, outDur, req.OnProgress); err != nil {
		_ = os.Remove(out)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, model.NewStageError(model.StageRender, model.ErrRender, err)
	}
	if _, err := os.Stat(out); err != nil {
		return nil, model.NewStageError(model.StageRender, model.ErrRender, fmt.Errorf("ffmpeg did not create output file: %s (%w)", out, err))
	}
	r.log.Infof("[RENDER] ✓ %s in %s", out, time.Since(start).Round(time.Millisecond))

	anti := req.AntiDetection
	pv := &model.ProcessedVideo{
		ID:                   remixID,
		RunID:                runID,
		Path:                 out,
		OriginalVideo:        *req.Asset,
		HasAudio:             hasAudio,
		AudioStrategy:        req.Strategy,
		AntiDetectionApplied: anti.Enabled,
		AntiDetection:        &anti,
		CreatedAt:            time.Now(),
	}
	if req.Strategy == model.AudioVoiced {
		pv.Voiceover = req.Voice
	}
	if d, err := r.runner.Duration(ctx, out); err == nil {
		pv.Duration = &d
	}
	if anti.Enabled {
		if dist, err := r.fp.Compare(ctx, req.Asset.Path, out, outDur); err != nil {
			r.log.Warnf("[RENDER] fingerprint check skipped: %v", err)
		} else {
			pv.HashDistance = &dist
			r.log.Infof("[RENDER] perceptual hash distance %d bits", dist)
		}
	}
	return pv, nil
}

func (r *Renderer) buildArgs(req RenderRequest, chain Chain, srcHasAudio bool, outDur float64, out string) ([]string, bool) {
	args := []string{"-i", req.Asset.Path}
	if req.Strategy == model.AudioVoiced {
		args = append(args, "-i", req.Voice.Path)
	}
	args = append(args, "-map", "0:v:0", "-vf", chain.VideoFilter())

	hasAudio := false
	switch req.Strategy {
	case model.AudioVoiced:
		hasAudio = true
		af := chain.AudioFilter(false)
		if outDur <= 0 {
			// Unknown length: pad the voice and stop at the end of the video.
			af = joinFilters(af, "apad")
		}
		args = append(args, "-map", "1:a:0")
		if af != "" {
			args = append(args, "-af", af)
		}
	case model.AudioOriginal:
		if srcHasAudio {
			hasAudio = true
			args = append(args, "-map", "0:a:0?")
			if af := chain.AudioFilter(true); af != "" {
				args = append(args, "-af", af)
			}
		} else {
			args = append(args, "-an")
		}
	default:
		args = append(args, "-an")
	}

	args = append(args,
		"-c:v", "libx264",
		"-preset", r.cfg.EncodePreset,
		"-crf", strconv.Itoa(r.cfg.EncodeCRF),
		"-pix_fmt", "yuv420p",
		"-r", strconv.Itoa(r.cfg.OutputFPS),
		"-movflags", "+faststart",
	)
	if hasAudio {
		args = append(args, "-c:a", "aac", "-b:a", r.cfg.AudioBitrate)
	}
	if outDur > 0 {
		args = append(args, "-t", fmt.Sprintf("%.3f", outDur))
	} else if hasAudio {
		r.log.Warnf("[RENDER] source duration unknown, bounding output with -shortest")
		args = append(args, "-shortest")
	}
	if req.Overwrite {
		args = append(args, "-y")
	} else {
		args = append(args, "-n")
	}
	return append(args, out), hasAudio
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

var videoExts = map[string]bool{".mp4": true, ".mov": true, ".avi": true, ".mkv": true, ".webm": true, ".m4v": true}

// OutputPath sanitizes name into dir and enforces the .mp4 suffix. An empty
// name becomes remix_<runID>.mp4.
func OutputPath(dir, name, runID string) string {
	name = strings.TrimSpace(filepath.Base(strings.TrimSpace(name)))
	name = unsafeName.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		name = "remix_" + runID
	}
	if ext := filepath.Ext(name); videoExts[strings.ToLower(ext)] {
		name = strings.TrimSuffix(name, ext)
	}
	name += ".mp4"
	return filepath.Join(dir, name)
}

func joinFilters(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, ",")
}
