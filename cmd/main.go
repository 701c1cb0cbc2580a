package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"remix-studio/internal"
	"remix-studio/internal/app"
	"remix-studio/internal/bot"
	"remix-studio/internal/logging"
	"remix-studio/internal/progress"

	"github.com/joho/godotenv"
)

const errorsLog = "errors.log"

func main() {
	for _, path := range []string{".env", "../.env", "../../.env"} {
		_ = godotenv.Load(path)
	}

	log, err := logging.New(errorsLog)
	if err != nil {
		panic(err)
	}
	defer log.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Infof("shutdown signal received")
		cancel()
	}()

	cfg, err := internal.LoadConfig()
	if err != nil {
		log.Errorf("config: %v", err)
		return
	}

	// the bot is created after the engine, so events fan out through a
	// slice filled in before anything runs
	var sinks []progress.Sink
	events := progress.SinkFunc(func(e progress.Event) {
		for _, s := range sinks {
			s.Publish(e)
		}
	})

	a, err := app.Build(cfg, log, events)
	if err != nil {
		log.Errorf("build: %v", err)
		return
	}

	if cfg.ProgressAddr != "" {
		hub := progress.NewHub(log)
		sinks = append(sinks, hub)
		app.ServeProgress(ctx, hub, cfg.ProgressAddr, log)
	}

	svc, err := a.Scheduler()
	if err != nil {
		log.Errorf("scheduler: %v", err)
		return
	}

	b, err := bot.NewTelegramBot(cfg, bot.Deps{
		Engine:    a.Engine,
		Voices:    a.Voices,
		Presets:   a.Presets,
		Publisher: a.Publisher,
		Archive:   a.Archive,
		Sources:   a.Sources,
		Scheduler: svc,
	}, log, errorsLog, cancel)
	if err != nil {
		log.Errorf("bot init: %v", err)
		return
	}
	sinks = append(sinks, b)
	svc.SetNotifier(b)

	go func() {
		if err := svc.Run(ctx); err != nil {
			log.Errorf("scheduler stopped: %v", err)
			cancel()
		}
	}()

	if err := b.Run(ctx); err != nil {
		log.Errorf("bot run: %v", err)
	}

	<-ctx.Done()
	time.Sleep(300 * time.Millisecond)
}
