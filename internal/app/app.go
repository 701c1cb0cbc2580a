// Package app wires the remix components from configuration.
package app

import (
	"context"
	"net/http"
	"time"

	"remix-studio/internal"
	"remix-studio/internal/ai"
	"remix-studio/internal/archive"
	"remix-studio/internal/logging"
	"remix-studio/internal/model"
	"remix-studio/internal/pipeline"
	"remix-studio/internal/preset"
	"remix-studio/internal/progress"
	"remix-studio/internal/s3"
	"remix-studio/internal/scheduler"
	"remix-studio/internal/sources"
	"remix-studio/internal/uploaders"
	"remix-studio/internal/video"
)

// App holds the long-lived components shared by the binaries. Archive and
// S3 are nil when S3 is not configured.
type App struct {
	Cfg       internal.Config
	Log       *logging.Logger
	Runner    *video.Runner
	Voices    *ai.VoiceService
	Engine    *pipeline.Engine
	Presets   *preset.File
	Publisher *uploaders.Manager
	S3        s3.Client
	Archive   *archive.Store
	Sources   []scheduler.Source
}

// Build creates every component. events may be nil.
func Build(cfg internal.Config, log *logging.Logger, events progress.Sink) (*App, error) {
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}
	video.SetConcurrency(cfg.FFmpegConcurrency)

	runner := video.NewRunner(cfg, log)
	if err := runner.Available(); err != nil {
		log.Warnf("ffmpeg: %v", err)
	}
	voices := ai.NewVoiceService(cfg, log, runner)
	for _, p := range model.Providers() {
		if err := voices.Check(p); err != nil {
			log.Warnf("[TTS] %s unavailable: %v", p, err)
		}
	}

	engine := pipeline.NewEngine(pipeline.Ports{
		Resolver:    sources.NewResolver(cfg, log, runner),
		Extractor:   runner,
		Transcriber: ai.NewTranscriber(cfg, log),
		Rewriter:    ai.NewRewriter(cfg, log),
		Synthesizer: voices,
		Renderer:    video.NewRenderer(runner, cfg, log),
		Events:      events,
	}, cfg.TempDir, log)

	presets, err := preset.Load(cfg.PresetsPath)
	if err != nil {
		return nil, err
	}

	a := &App{
		Cfg:       cfg,
		Log:       log,
		Runner:    runner,
		Voices:    voices,
		Engine:    engine,
		Presets:   presets,
		Publisher: uploaders.NewManager(cfg, log),
	}

	if cfg.S3Enabled() {
		s3c, err := s3.New(cfg)
		if err != nil {
			return nil, err
		}
		a.S3 = s3c
		a.Archive = archive.NewStore(s3c, cfg, log)
	} else {
		log.Infof("S3 not configured, archive disabled")
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	a.Sources = []scheduler.Source{
		{Discoverer: sources.NewTikTokSearch(log, cfg.FallbackUserAgent), Queries: cfg.DiscoveryQueries},
		{Discoverer: sources.NewRedditVideos(httpClient, log, cfg.Subreddits)},
	}
	return a, nil
}

// Scheduler builds the auto-remix service on top of the app.
func (a *App) Scheduler() (*scheduler.Service, error) {
	deps := scheduler.Deps{Engine: a.Engine, Sources: a.Sources}
	if a.Archive != nil {
		deps.Archive = a.Archive
		deps.Store = a.S3
	}
	return scheduler.New(a.Cfg, a.Log, deps)
}

// ServeProgress runs the websocket hub when an address is configured.
func ServeProgress(ctx context.Context, hub *progress.Hub, addr string, log *logging.Logger) {
	if addr == "" {
		return
	}
	go func() {
		if err := hub.Serve(ctx, addr); err != nil {
			log.Errorf("progress server: %v", err)
		}
	}()
}
