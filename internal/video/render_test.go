package video

import (
	"context"
	"errors"
	"math"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"remix-studio/internal"
	"remix-studio/internal/logging"
	"remix-studio/internal/model"
)

// skipIfNoFFmpeg skips the test if ffmpeg is not available
func skipIfNoFFmpeg(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not found in PATH")
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skip("ffprobe not found in PATH")
	}
}

func testConfig(t *testing.T) internal.Config {
	t.Helper()
	dir := t.TempDir()
	return internal.Config{
		FFmpegPath:    "ffmpeg",
		FFprobePath:   "ffprobe",
		FFmpegThreads: 2,
		EncodePreset:  "ultrafast",
		EncodeCRF:     30,
		AudioBitrate:  "64k",
		OutputFPS:     30,
		OutputWidth:   180,
		OutputHeight:  320,
		TempDir:       dir,
		OutputDir:     filepath.Join(dir, "processed"),
		RenderTimeout: 2 * time.Minute,
	}
}

// makeClip generates a test pattern clip with a sine tone.
func makeClip(t *testing.T, dir string, seconds float64, fps int, withAudio bool) string {
	t.Helper()
	out := filepath.Join(dir, "src_"+strconv.FormatFloat(seconds, 'f', -1, 64)+".mp4")
	d := strconv.FormatFloat(seconds, 'f', -1, 64)
	args := []string{"-y", "-hide_banner", "-loglevel", "error",
		"-f", "lavfi", "-i", "testsrc=size=320x240:rate=" + strconv.Itoa(fps) + ":duration=" + d}
	if withAudio {
		args = append(args, "-f", "lavfi", "-i", "sine=frequency=440:duration="+d)
	}
	args = append(args, "-c:v", "libx264", "-preset", "ultrafast", "-pix_fmt", "yuv420p")
	if withAudio {
		args = append(args, "-c:a", "aac", "-shortest")
	}
	args = append(args, out)
	if b, err := exec.Command("ffmpeg", args...).CombinedOutput(); err != nil {
		t.Fatalf("generate clip: %v: %s", err, b)
	}
	return out
}

func makeTone(t *testing.T, dir string, seconds float64) string {
	t.Helper()
	out := filepath.Join(dir, "voice_"+strconv.FormatFloat(seconds, 'f', -1, 64)+".mp3")
	d := strconv.FormatFloat(seconds, 'f', -1, 64)
	cmd := exec.Command("ffmpeg", "-y", "-hide_banner", "-loglevel", "error",
		"-f", "lavfi", "-i", "sine=frequency=220:duration="+d, "-c:a", "libmp3lame", out)
	if b, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("generate tone: %v: %s", err, b)
	}
	return out
}

func newTestRenderer(t *testing.T) (*Renderer, *Runner, internal.Config) {
	cfg := testConfig(t)
	log := logging.NewConsole()
	runner := NewRunner(cfg, log)
	return NewRenderer(runner, cfg, log), runner, cfg
}

func asset(path string) *model.VideoAsset {
	return &model.VideoAsset{ID: "src", Path: path, Filename: filepath.Base(path), Source: model.SourceUpload}
}

func TestRenderSilentNoAntiDetection(t *testing.T) {
	skipIfNoFFmpeg(t)
	r, runner, cfg := newTestRenderer(t)
	ctx := context.Background()

	src := makeClip(t, cfg.TempDir, 10, 25, true)
	pv, err := r.Render(ctx, RenderRequest{
		Asset:         asset(src),
		Strategy:      model.AudioSilent,
		AntiDetection: model.AntiDetectionConfig{SpeedFactor: 1},
		RunID:         "silent",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if pv.HasAudio || pv.AntiDetectionApplied {
		t.Errorf("record = %+v", pv)
	}
	info, err := runner.Probe(ctx, pv.Path)
	if err != nil {
		t.Fatal(err)
	}
	if info.HasAudio {
		t.Error("silent render produced an audio stream")
	}
	if math.Abs(info.Duration-10) > 0.1 {
		t.Errorf("duration = %v, want 10", info.Duration)
	}
	if math.Abs(info.FPS-30) > 0.01 {
		t.Errorf("fps = %v, want 30", info.FPS)
	}
	if info.Width != 320 || info.Height != 240 {
		t.Errorf("size = %dx%d, want source size without anti-detection", info.Width, info.Height)
	}
}

func TestRenderVoiceTruncatedToVideo(t *testing.T) {
	skipIfNoFFmpeg(t)
	r, runner, cfg := newTestRenderer(t)
	ctx := context.Background()

	src := makeClip(t, cfg.TempDir, 2, 30, true)
	voice := makeTone(t, cfg.TempDir, 5)
	pv, err := r.Render(ctx, RenderRequest{
		Asset:         asset(src),
		Voice:         &model.VoiceTrack{Path: voice, Provider: model.ProviderA},
		Strategy:      model.AudioVoiced,
		AntiDetection: model.DefaultAntiDetection(),
		OutputName:    "long_voice",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	info, err := runner.Probe(ctx, pv.Path)
	if err != nil {
		t.Fatal(err)
	}
	if !info.HasAudio {
		t.Fatal("voiced render has no audio")
	}
	if math.Abs(info.AudioDuration-info.VideoDuration) > 0.1 {
		t.Errorf("audio %.3fs should be truncated to video %.3fs", info.AudioDuration, info.VideoDuration)
	}
	if math.Abs(info.Duration-2) > 0.1 {
		t.Errorf("duration = %v, want 2", info.Duration)
	}
	if info.Width != cfg.OutputWidth || info.Height != cfg.OutputHeight {
		t.Errorf("size = %dx%d, want canonical %dx%d", info.Width, info.Height, cfg.OutputWidth, cfg.OutputHeight)
	}
	if pv.HashDistance == nil {
		t.Error("anti-detection render should record a hash distance")
	}
}

func TestRenderShortVoiceKeepsVideoLength(t *testing.T) {
	skipIfNoFFmpeg(t)
	r, runner, cfg := newTestRenderer(t)
	ctx := context.Background()

	src := makeClip(t, cfg.TempDir, 3, 30, false)
	voice := makeTone(t, cfg.TempDir, 1)
	anti := model.AntiDetectionConfig{SpeedFactor: 1.05}
	pv, err := r.Render(ctx, RenderRequest{
		Asset:         asset(src),
		Voice:         &model.VoiceTrack{Path: voice, Provider: model.ProviderB},
		Strategy:      model.AudioVoiced,
		AntiDetection: anti,
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	info, err := runner.Probe(ctx, pv.Path)
	if err != nil {
		t.Fatal(err)
	}
	want := 3 / 1.05
	if math.Abs(info.VideoDuration-want) > 1.0/30+0.05 {
		t.Errorf("video duration = %.3f, want %.3f", info.VideoDuration, want)
	}
	if info.AudioDuration >= info.VideoDuration {
		t.Errorf("audio %.3fs should end before video %.3fs", info.AudioDuration, info.VideoDuration)
	}
}

func TestRenderOriginalAudioAndSpeed(t *testing.T) {
	skipIfNoFFmpeg(t)
	r, runner, cfg := newTestRenderer(t)
	ctx := context.Background()

	src := makeClip(t, cfg.TempDir, 4, 30, true)
	pv, err := r.Render(ctx, RenderRequest{
		Asset:         asset(src),
		Strategy:      model.AudioOriginal,
		AntiDetection: model.AntiDetectionConfig{SpeedFactor: 0.95, FlipHorizontal: true},
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	info, err := runner.Probe(ctx, pv.Path)
	if err != nil {
		t.Fatal(err)
	}
	if !info.HasAudio || !pv.HasAudio {
		t.Error("original audio should be kept")
	}
	if want := 4 / 0.95; math.Abs(info.Duration-want) > 0.1 {
		t.Errorf("duration = %.3f, want %.3f", info.Duration, want)
	}
}

func TestRenderRefusesOverwrite(t *testing.T) {
	skipIfNoFFmpeg(t)
	r, _, cfg := newTestRenderer(t)
	ctx := context.Background()
	src := makeClip(t, cfg.TempDir, 1, 30, false)
	req := RenderRequest{
		Asset:         asset(src),
		Strategy:      model.AudioSilent,
		AntiDetection: model.AntiDetectionConfig{SpeedFactor: 1},
		OutputName:    "same",
	}
	if _, err := r.Render(ctx, req); err != nil {
		t.Fatal(err)
	}
	_, err := r.Render(ctx, req)
	if !errors.Is(err, ErrOutputExists) || !errors.Is(err, model.ErrRender) {
		t.Fatalf("second render err = %v, want ErrOutputExists", err)
	}
	req.Overwrite = true
	if _, err := r.Render(ctx, req); err != nil {
		t.Fatalf("explicit overwrite failed: %v", err)
	}
}

func TestRenderValidationErrors(t *testing.T) {
	r, _, _ := newTestRenderer(t)
	ctx := context.Background()

	_, err := r.Render(ctx, RenderRequest{
		Asset:         asset("missing.mp4"),
		Strategy:      model.AudioVoiced,
		AntiDetection: model.AntiDetectionConfig{SpeedFactor: 1},
	})
	if !errors.Is(err, model.ErrStaleVoice) {
		t.Errorf("voiced render without voice: err = %v", err)
	}

	_, err = r.Render(ctx, RenderRequest{
		Asset:         asset("missing.mp4"),
		Strategy:      model.AudioSilent,
		AntiDetection: model.AntiDetectionConfig{SpeedFactor: 2},
	})
	if !errors.Is(err, model.ErrTransform) || model.StageOf(err) != model.StageTransform {
		t.Errorf("invalid speed: err = %v", err)
	}
}

func TestExtractAudio(t *testing.T) {
	skipIfNoFFmpeg(t)
	_, runner, cfg := newTestRenderer(t)
	ctx := context.Background()

	withAudio := makeClip(t, cfg.TempDir, 1, 30, true)
	out := filepath.Join(cfg.TempDir, "a.mp3")
	if err := runner.ExtractAudio(ctx, withAudio, out); err != nil {
		t.Fatalf("ExtractAudio: %v", err)
	}

	muted := makeClip(t, cfg.TempDir, 2, 30, false)
	err := runner.ExtractAudio(ctx, muted, filepath.Join(cfg.TempDir, "b.mp3"))
	if !errors.Is(err, model.ErrNoAudio) {
		t.Fatalf("err = %v, want ErrNoAudio", err)
	}
}

// makeSizedClip generates a lossless clip of any size, odd dimensions
// included.
func makeSizedClip(t *testing.T, dir string, w, h int) string {
	t.Helper()
	size := strconv.Itoa(w) + "x" + strconv.Itoa(h)
	out := filepath.Join(dir, "src_"+size+".mkv")
	cmd := exec.Command("ffmpeg", "-y", "-hide_banner", "-loglevel", "error",
		"-f", "lavfi", "-i", "testsrc2=size="+size+":rate=30:duration=1",
		"-c:v", "ffv1", "-pix_fmt", "yuv444p", out)
	if b, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("generate %s clip: %v: %s", size, err, b)
	}
	return out
}

func TestRenderCanonicalSizeForAnyGeometry(t *testing.T) {
	skipIfNoFFmpeg(t)
	r, runner, cfg := newTestRenderer(t)
	ctx := context.Background()

	cases := []struct {
		name string
		w, h int
	}{
		{"portrait", 240, 426},
		{"landscape", 426, 240},
		{"square", 300, 300},
		{"odd", 321, 239},
		{"tiny", 8, 6},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			src := makeSizedClip(t, cfg.TempDir, c.w, c.h)
			pv, err := r.Render(ctx, RenderRequest{
				Asset:         asset(src),
				Strategy:      model.AudioSilent,
				AntiDetection: model.DefaultAntiDetection(),
				OutputName:    "geom_" + c.name,
			})
			if err != nil {
				t.Fatalf("Render %dx%d: %v", c.w, c.h, err)
			}
			info, err := runner.Probe(ctx, pv.Path)
			if err != nil {
				t.Fatal(err)
			}
			if info.Width != cfg.OutputWidth || info.Height != cfg.OutputHeight {
				t.Errorf("%dx%d → %dx%d, want %dx%d", c.w, c.h, info.Width, info.Height, cfg.OutputWidth, cfg.OutputHeight)
			}
		})
	}

	t.Run("odd source without anti-detection", func(t *testing.T) {
		src := makeSizedClip(t, cfg.TempDir, 321, 239)
		pv, err := r.Render(ctx, RenderRequest{
			Asset:         asset(src),
			Strategy:      model.AudioSilent,
			AntiDetection: model.AntiDetectionConfig{SpeedFactor: 1},
			OutputName:    "odd_plain",
		})
		if err != nil {
			t.Fatal(err)
		}
		info, err := runner.Probe(ctx, pv.Path)
		if err != nil {
			t.Fatal(err)
		}
		if info.Width != 320 || info.Height != 238 {
			t.Errorf("size = %dx%d, want 320x238", info.Width, info.Height)
		}
	})
}

func TestBuildArgsGeometry(t *testing.T) {
	r, _, _ := newTestRenderer(t)
	sizes := []struct{ w, h int }{{1080, 1920}, {720, 1280}, {1920, 1080}, {180, 320}}
	strategies := []model.AudioStrategy{model.AudioSilent, model.AudioOriginal, model.AudioVoiced}

	for _, sz := range sizes {
		chain, err := BuildChain(model.DefaultAntiDetection(), sz.w, sz.h, 30)
		if err != nil {
			t.Fatalf("%dx%d: %v", sz.w, sz.h, err)
		}
		for _, st := range strategies {
			req := RenderRequest{Asset: asset("src.mp4"), Strategy: st}
			if st == model.AudioVoiced {
				req.Voice = &model.VoiceTrack{Path: "voice.mp3"}
			}
			args, _ := r.buildArgs(req, chain, true, 5, "out.mp4")
			vf := argAfter(args, "-vf")
			canon := "scale=" + strconv.Itoa(sz.w) + ":" + strconv.Itoa(sz.h) + ":force_original_aspect_ratio=increase,crop=" +
				strconv.Itoa(sz.w) + ":" + strconv.Itoa(sz.h) + ",setsar=1"
			if !strings.Contains(vf, canon) {
				t.Errorf("%dx%d/%s: -vf %q lacks %q", sz.w, sz.h, st, vf, canon)
			}
			rot := strings.Index(vf, "rotate=")
			crop := strings.Index(vf, "crop=w='max(2,")
			scale := strings.Index(vf, "scale=")
			if !(rot >= 0 && rot < crop && crop < scale) {
				t.Errorf("%dx%d/%s: rotate, crop, rescale out of order in %q", sz.w, sz.h, st, vf)
			}
			if !strings.HasSuffix(vf, "format=yuv420p") {
				t.Errorf("%dx%d/%s: pixel format not forced: %q", sz.w, sz.h, st, vf)
			}
			if argAfter(args, "-t") != "5.000" {
				t.Errorf("%dx%d/%s: -t = %q", sz.w, sz.h, st, argAfter(args, "-t"))
			}
		}
	}
}

func argAfter(args []string, flag string) string {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}
