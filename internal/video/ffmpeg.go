package video

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"remix-studio/internal"
	"remix-studio/internal/logging"
)

// ffmpegSem limits the number of concurrent ffmpeg encodes to avoid
// "pthread_create() failed: Resource temporarily unavailable" under load.
var (
	ffmpegSem   = make(chan struct{}, 1)
	ffmpegSemMu sync.Mutex
)

// SetConcurrency resizes the encode semaphore. Call it before any encode starts.
func SetConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	ffmpegSemMu.Lock()
	ffmpegSem = make(chan struct{}, n)
	ffmpegSemMu.Unlock()
}

func acquire(ctx context.Context) (func(), error) {
	ffmpegSemMu.Lock()
	sem := ffmpegSem
	ffmpegSemMu.Unlock()
	select {
	case sem <- struct{}{}:
		return func() { <-sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Bounds for the short ffmpeg jobs. Renders use Config.RenderTimeout.
var (
	extractTimeout = 5 * time.Minute
	frameTimeout   = 30 * time.Second
)

// withTimeout bounds ctx by d. d <= 0 means no limit.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// Progress is one block of ffmpeg -progress output.
type Progress struct {
	Frame   int
	OutTime time.Duration
	Speed   string
	Percent float64 // 0-100, zero when the total duration is unknown
	Done    bool
}

// Runner executes ffmpeg and ffprobe.
type Runner struct {
	ffmpeg  string
	ffprobe string
	threads int
	log     *logging.Logger
}

func NewRunner(cfg internal.Config, log *logging.Logger) *Runner {
	return &Runner{
		ffmpeg:  cfg.FFmpegPath,
		ffprobe: cfg.FFprobePath,
		threads: cfg.FFmpegThreads,
		log:     log,
	}
}

// Available reports whether both binaries can be found.
func (r *Runner) Available() error {
	if _, err := exec.LookPath(r.ffmpeg); err != nil {
		return fmt.Errorf("ffmpeg not found in PATH: %w", err)
	}
	if _, err := exec.LookPath(r.ffprobe); err != nil {
		return fmt.Errorf("ffprobe not found in PATH: %w", err)
	}
	return nil
}

// Run executes ffmpeg with args, holding the encode semaphore. total is the
// expected output length in seconds and is only used for Percent.
func (r *Runner) Run(ctx context.Context, args []string, total float64, onProgress func(Progress)) error {
	release, err := acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	base := []string{"-hide_banner", "-loglevel", "error", "-nostats", "-progress", "pipe:1"}
	if r.threads > 0 {
		base = append(base, "-threads", strconv.Itoa(r.threads))
	}
	full := append(base, args...)

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.ffmpeg, full...)
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}

	r.log.Infof("[FFMPEG] ffmpeg %s", strings.Join(args, " "))
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}
	parseProgress(stdout, total, onProgress)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		errMsg := strings.TrimSpace(stderr.String())
		if errMsg == "" {
			errMsg = err.Error()
		}
		r.log.Errorf("[FFMPEG] ✗ ffmpeg failed (exit code: %v): %s", err, errMsg)
		return fmt.Errorf("ffmpeg error: %s", errMsg)
	}
	return nil
}

// parseProgress reads key=value blocks terminated by progress=continue|end.
func parseProgress(r io.Reader, total float64, onProgress func(Progress)) {
	scanner := bufio.NewScanner(r)
	var p Progress
	for scanner.Scan() {
		key, val, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "frame":
			p.Frame, _ = strconv.Atoi(val)
		case "out_time_us", "out_time_ms":
			// both keys carry microseconds
			if us, err := strconv.ParseInt(val, 10, 64); err == nil && us >= 0 {
				p.OutTime = time.Duration(us) * time.Microsecond
			}
		case "speed":
			p.Speed = val
		case "progress":
			p.Done = val == "end"
			if total > 0 {
				p.Percent = min(100, p.OutTime.Seconds()/total*100)
			}
			if p.Done {
				p.Percent = 100
			}
			if onProgress != nil {
				onProgress(p)
			}
			p = Progress{}
		}
	}
}
