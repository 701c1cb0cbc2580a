package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"remix-studio/internal"
	"remix-studio/internal/archive"
	"remix-studio/internal/logging"
	"remix-studio/internal/s3"
)

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")

	list := flag.Bool("list", false, "print the archive index after syncing")
	prune := flag.Duration("prune", 0, "also delete remixes older than this (e.g. 168h)")
	flag.Parse()

	cfg, err := internal.LoadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}
	log, err := logging.New("sync.log")
	if err != nil {
		fmt.Printf("Error creating logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Close()

	s3Client, err := s3.New(cfg)
	if err != nil {
		log.Errorf("Error creating S3 client: %v", err)
		os.Exit(1)
	}
	store := archive.NewStore(s3Client, cfg, log)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	fmt.Printf("=== Synchronizing %s with S3 %s ===\n", cfg.RemixesJSONKey, cfg.RemixesPrefix)
	added, removed, err := store.SyncWithS3(ctx)
	if err != nil {
		log.Errorf("sync: %v", err)
		fmt.Printf("❌ Error syncing remixes: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✅ Index synchronized: %d added, %d stale entries removed\n", added, removed)

	if *prune > 0 {
		n, err := store.DeleteOlderThan(ctx, *prune)
		if err != nil {
			fmt.Printf("❌ Error pruning: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("🧹 Deleted %d remixes older than %s\n", n, *prune)
	}

	if *list {
		items, err := store.List(ctx)
		if err != nil {
			fmt.Printf("❌ Error listing: %v\n", err)
			os.Exit(1)
		}
		for _, r := range items {
			fmt.Printf("%s  %s  %6.1f MB  %-10s %s\n", r.CreatedAt.Format("2006-01-02 15:04"), r.ID,
				float64(r.SizeBytes)/(1<<20), r.Style, r.SourceURL)
		}
	}
}
