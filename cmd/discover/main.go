package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"remix-studio/internal"
	"remix-studio/internal/logging"
	"remix-studio/internal/model"
	"remix-studio/internal/sources"
)

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load("../.env")

	query := flag.String("q", "", "search text for TikTok (defaults to DISCOVERY_QUERIES)")
	subs := flag.String("subreddits", "", "comma separated subreddits (defaults to SUBREDDITS)")
	minViews := flag.Int64("min", -1, "minimum views (defaults to MIN_VIEWS)")
	maxViews := flag.Int64("max", -1, "maximum views, 0 for unbounded (defaults to MAX_VIEWS)")
	only := flag.String("source", "all", "tiktok, reddit or all")
	flag.Parse()

	cfg, err := internal.LoadConfig()
	if err != nil {
		fmt.Printf("[ERROR] ❌ config: %v\n", err)
		os.Exit(1)
	}
	log := logging.NewConsole()

	q := sources.Query{MinViews: cfg.MinViews, MaxViews: cfg.MaxViews}
	if *minViews >= 0 {
		q.MinViews = *minViews
	}
	if *maxViews >= 0 {
		q.MaxViews = *maxViews
	}
	queries := cfg.DiscoveryQueries
	if *query != "" {
		queries = []string{*query}
	}
	subreddits := cfg.Subreddits
	if *subs != "" {
		subreddits = strings.Split(*subs, ",")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	found := 0
	if *only == "all" || *only == "tiktok" {
		tt := sources.NewTikTokSearch(log, cfg.FallbackUserAgent)
		for _, text := range queries {
			q.Text = text
			fmt.Printf("[TIKTOK] 🔍 %q\n", text)
			found += report(tt.Discover(ctx, q))
		}
	}
	if *only == "all" || *only == "reddit" {
		rv := sources.NewRedditVideos(&http.Client{Timeout: 30 * time.Second}, log, subreddits)
		q.Text = ""
		fmt.Printf("[REDDIT] 🔍 r/%s\n", strings.Join(subreddits, ", r/"))
		found += report(rv.Discover(ctx, q))
	}

	if found == 0 {
		os.Exit(2)
	}
}

func report(d *model.Discovered, err error) int {
	switch {
	case errors.Is(err, sources.ErrNothingFound):
		fmt.Println("   nothing in range")
		return 0
	case err != nil:
		fmt.Printf("   ❌ %v\n", err)
		return 0
	}
	fmt.Printf("   ✓ %s\n     %d views  [%s] %s\n", d.URL, d.Views, d.Source, d.Title)
	return 1
}
