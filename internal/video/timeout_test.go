package video

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"remix-studio/internal/logging"
	"remix-studio/internal/model"
)

// hangingRunner points ffmpeg at a script that never finishes.
func hangingRunner(t *testing.T) *Runner {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in needs a unix shell")
	}
	cfg := testConfig(t)
	bin := filepath.Join(cfg.TempDir, "ffmpeg")
	if err := os.WriteFile(bin, []byte("#!/bin/sh\nexec sleep 10\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	cfg.FFmpegPath = bin
	cfg.FFprobePath = filepath.Join(cfg.TempDir, "missing-ffprobe")
	return NewRunner(cfg, logging.NewConsole())
}

func shortenTimeouts(t *testing.T, d time.Duration) {
	t.Helper()
	oldExtract, oldFrame := extractTimeout, frameTimeout
	extractTimeout, frameTimeout = d, d
	t.Cleanup(func() { extractTimeout, frameTimeout = oldExtract, oldFrame })
}

func TestExtractAudioTimesOut(t *testing.T) {
	runner := hangingRunner(t)
	shortenTimeouts(t, 200*time.Millisecond)

	start := time.Now()
	err := runner.ExtractAudio(context.Background(), "in.mp4", filepath.Join(t.TempDir(), "a.mp3"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if !strings.Contains(err.Error(), "timed out") {
		t.Errorf("err = %q, want timeout message", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("returned after %s", elapsed)
	}
}

func TestFrameTimesOut(t *testing.T) {
	runner := hangingRunner(t)
	shortenTimeouts(t, 200*time.Millisecond)

	start := time.Now()
	err := runner.Frame(context.Background(), "in.mp4", 1, filepath.Join(t.TempDir(), "f.png"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("returned after %s", elapsed)
	}
}

func TestCallerCancelIsNotReportedAsTimeout(t *testing.T) {
	runner := hangingRunner(t)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	err := runner.Frame(ctx, "in.mp4", 1, filepath.Join(t.TempDir(), "f.png"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want canceled", err)
	}
	if strings.Contains(err.Error(), "timed out") {
		t.Errorf("err = %q, cancel reported as timeout", err)
	}
}

func TestWithTimeoutZeroMeansNoLimit(t *testing.T) {
	for _, d := range []time.Duration{0, -time.Second} {
		ctx, cancel := withTimeout(context.Background(), d)
		if _, ok := ctx.Deadline(); ok {
			t.Errorf("withTimeout(%s) set a deadline", d)
		}
		cancel()
		if ctx.Err() == nil {
			t.Errorf("withTimeout(%s): cancel did not cancel", d)
		}
	}
	ctx, cancel := withTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, ok := ctx.Deadline(); !ok {
		t.Error("withTimeout(1m) has no deadline")
	}
}

func TestRenderWithZeroTimeout(t *testing.T) {
	skipIfNoFFmpeg(t)
	r, _, cfg := newTestRenderer(t)
	r.cfg.RenderTimeout = 0
	src := makeClip(t, cfg.TempDir, 1, 30, false)

	pv, err := r.Render(context.Background(), RenderRequest{
		Asset:         asset(src),
		Strategy:      model.AudioSilent,
		AntiDetection: model.AntiDetectionConfig{SpeedFactor: 1},
		OutputName:    "no_limit",
	})
	if err != nil {
		t.Fatalf("Render with RenderTimeout=0: %v", err)
	}
	if _, err := os.Stat(pv.Path); err != nil {
		t.Errorf("output missing: %v", err)
	}
}
