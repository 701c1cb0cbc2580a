package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/samber/lo"
	"github.com/schollz/progressbar/v3"

	"remix-studio/internal"
	"remix-studio/internal/app"
	"remix-studio/internal/logging"
	"remix-studio/internal/model"
	"remix-studio/internal/pipeline"
	"remix-studio/internal/progress"
	"remix-studio/internal/uploaders"
)

type flags struct {
	url, file        string
	mode, style      string
	provider, voice  string
	preset           string
	output           string
	speed            float64
	anti, flip       string
	force, review    bool
	archive, publish bool
	platforms        string
}

func main() {
	for _, path := range []string{".env", "../.env", "../../.env"} {
		_ = godotenv.Load(path)
	}

	var f flags
	flag.StringVar(&f.url, "url", "", "source video URL")
	flag.StringVar(&f.file, "file", "", "local source video")
	flag.StringVar(&f.mode, "mode", "", "audio mode: voiced, silent or original")
	flag.StringVar(&f.style, "style", "", "script style: viral, educational, mysterious, emotional")
	flag.StringVar(&f.provider, "provider", "", "voice provider: free, openai, elevenlabs")
	flag.StringVar(&f.voice, "voice", "", "voice id for the provider")
	flag.StringVar(&f.preset, "preset", "", "named preset applied before the other flags")
	flag.StringVar(&f.output, "output", "", "output file name (without extension)")
	flag.Float64Var(&f.speed, "speed", 0, "playback speed factor")
	flag.StringVar(&f.anti, "anti", "", "anti-detection on/off")
	flag.StringVar(&f.flip, "flip", "", "horizontal flip on/off")
	flag.BoolVar(&f.force, "force", false, "overwrite an existing output")
	flag.BoolVar(&f.review, "review", false, "review and edit the script before voicing")
	flag.BoolVar(&f.archive, "archive", false, "store the result in the S3 archive")
	flag.BoolVar(&f.publish, "publish", false, "publish the result")
	flag.StringVar(&f.platforms, "platforms", "", "comma separated platforms for -publish (default all)")
	flag.Parse()

	if (f.url == "") == (f.file == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -url or -file is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := internal.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logging.New("remix.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pb := newBars()
	a, err := app.Build(cfg, log, pb)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build: %v\n", err)
		os.Exit(1)
	}

	opts, err := buildOptions(a, f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(2)
	}

	if err := remix(ctx, a, opts, f, pb); err != nil {
		pb.done()
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

func buildOptions(a *app.App, f flags) (pipeline.Options, error) {
	opts := pipeline.DefaultOptions(a.Cfg)
	var err error
	if f.preset != "" {
		if opts, err = a.Presets.Apply(f.preset, opts); err != nil {
			return opts, err
		}
	}
	if f.mode != "" {
		if opts.Strategy, err = model.ParseAudioStrategy(f.mode); err != nil {
			return opts, err
		}
	}
	if f.style != "" {
		if opts.Style, err = model.ParseStyle(f.style); err != nil {
			return opts, err
		}
	}
	if f.provider != "" {
		if opts.Provider, err = model.ParseProvider(f.provider); err != nil {
			return opts, err
		}
		opts.Voice = ""
	}
	if f.voice != "" {
		if known := a.Voices.Voices(opts.Provider); len(known) > 0 && !lo.Contains(known, f.voice) {
			return opts, fmt.Errorf("unknown voice %q for %s (have: %s)", f.voice, opts.Provider, strings.Join(known, ", "))
		}
		opts.Voice = f.voice
	}
	if f.anti != "" {
		if opts.AntiDetection.Enabled, err = onOff(f.anti); err != nil {
			return opts, err
		}
	}
	if f.flip != "" {
		if opts.AntiDetection.FlipHorizontal, err = onOff(f.flip); err != nil {
			return opts, err
		}
	}
	if f.speed != 0 {
		opts.AntiDetection.SpeedFactor = f.speed
	}
	if err := opts.AntiDetection.Validate(); err != nil {
		return opts, err
	}
	opts.OutputName = f.output
	opts.Overwrite = f.force
	return opts, nil
}

func remix(ctx context.Context, a *app.App, opts pipeline.Options, f flags, pb *bars) error {
	run := pipeline.NewRun(opts)
	defer a.Engine.Cleanup(run)

	in := pipeline.Input{URL: f.url}
	if f.file != "" {
		src, err := os.Open(f.file)
		if err != nil {
			return err
		}
		defer src.Close()
		in = pipeline.Input{UploadName: filepath.Base(f.file), Upload: src}
	}

	if err := a.Engine.Acquire(ctx, run, in); err != nil {
		return err
	}
	if err := a.Engine.PrepareScript(ctx, run); err != nil {
		return err
	}
	pb.done()
	if run.State == pipeline.StateSilentFallback {
		fmt.Printf("⚠️ no usable audio track, continuing silent: %v\n", run.FallbackReason)
	}
	if f.review && run.State == pipeline.StateScripted {
		if err := review(a.Engine, run); err != nil {
			return err
		}
	}

	if err := a.Engine.Finish(ctx, run); err != nil {
		return err
	}
	pb.done()

	pv := run.Result
	fmt.Println(run.Summary())
	fmt.Printf("✅ %s\n", pv.Path)
	if pv.HashDistance != nil {
		fmt.Printf("   perceptual distance from source: %d\n", *pv.HashDistance)
	}

	req := uploaders.NewRequest(pv)
	if f.archive || f.publish {
		if a.Archive == nil {
			return fmt.Errorf("archive requested but S3 is not configured")
		}
		rec, err := a.Archive.Save(ctx, pv, req.Caption)
		if err != nil {
			return err
		}
		fmt.Printf("🗄  archived as %s\n", rec.VideoKey)
	}
	if !f.publish {
		return nil
	}

	var results map[string]*uploaders.UploadResult
	if f.platforms == "" {
		results = a.Publisher.UploadToAll(ctx, req)
	} else {
		results = a.Publisher.UploadToSelected(ctx, strings.Split(f.platforms, ","), req)
	}
	var ok []string
	names := lo.Keys(results)
	sort.Strings(names)
	for _, p := range names {
		r := results[p]
		if r.Success {
			ok = append(ok, p)
			fmt.Printf("📤 %s: %s\n", p, r.URL)
		} else {
			fmt.Printf("❌ %s: %s\n", p, r.Error)
		}
	}
	if len(ok) > 0 {
		return a.Archive.MarkPublished(ctx, pv.ID, ok)
	}
	return nil
}

// review prints the script and reads a replacement from stdin. An empty
// input keeps the generated text.
func review(engine *pipeline.Engine, run *pipeline.Run) error {
	fmt.Printf("\n--- script (%s, ~%.0fs) ---\n%s\n---\n", run.Script.Style.Label(), run.Script.EstimatedDuration, run.Script.Text)
	fmt.Println("Type a replacement and finish with an empty line, or just press Enter to keep it:")

	var lines []string
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" {
			break
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return err
	}
	if len(lines) == 0 {
		return nil
	}
	return engine.EditScript(run, strings.Join(lines, "\n"))
}

func onOff(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "on", "true", "1", "yes":
		return true, nil
	case "off", "false", "0", "no":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", v)
}

// bars renders one terminal progress bar per stage.
type bars struct {
	mu    sync.Mutex
	stage string
	bar   *progressbar.ProgressBar
}

func newBars() *bars { return &bars{} }

func (b *bars) Publish(e progress.Event) {
	if e.State == progress.StateClosed {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if e.Stage != b.stage || b.bar == nil {
		if b.bar != nil {
			_ = b.bar.Finish()
			fmt.Fprintln(os.Stderr)
		}
		b.stage = e.Stage
		b.bar = progressbar.NewOptions(100,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription(fmt.Sprintf("%-11s", e.Stage)),
			progressbar.OptionSetWidth(30),
			progressbar.OptionShowCount(),
		)
	}
	pct := int(e.Percent)
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	_ = b.bar.Set(pct)
	if e.Message != "" {
		b.bar.Describe(fmt.Sprintf("%-11s %s", e.Stage, shorten(e.Message, 40)))
	}
}

func (b *bars) done() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bar != nil {
		_ = b.bar.Finish()
		fmt.Fprintln(os.Stderr)
		b.bar = nil
		b.stage = ""
	}
}

func shorten(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

var _ progress.Sink = (*bars)(nil)
