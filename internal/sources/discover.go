package sources

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"remix-studio/internal/logging"
	"remix-studio/internal/model"
)

var ErrNothingFound = errors.New("no candidate in the requested view range")

// Query bounds a discovery search. MaxViews <= 0 means no upper bound.
type Query struct {
	Text     string
	MinViews int64
	MaxViews int64
}

func (q Query) inRange(v int64) bool {
	if v < q.MinViews {
		return false
	}
	return q.MaxViews <= 0 || v <= q.MaxViews
}

// Discoverer finds a remote clip worth remixing. Its output is just a URL
// plus metadata that the Resolver then acquires.
type Discoverer interface {
	Discover(ctx context.Context, q Query) (*model.Discovered, error)
}

type searchCard struct {
	URL   string `json:"url"`
	Views string `json:"views"`
	Title string `json:"title"`
}

// TikTokSearch scrapes the TikTok video search page with headless Chrome.
type TikTokSearch struct {
	log       *logging.Logger
	userAgent string
	timeout   time.Duration
}

func NewTikTokSearch(log *logging.Logger, userAgent string) *TikTokSearch {
	return &TikTokSearch{log: log, userAgent: userAgent, timeout: 120 * time.Second}
}

const searchCardsJS = `
(function() {
	const out = [];
	document.querySelectorAll('[data-e2e="search_video-item"]').forEach(function(card) {
		const link = card.querySelector('a[href*="/video/"]');
		if (!link) return;
		const views = card.querySelector('[data-e2e="search-card-like-container"]') ||
			card.querySelector('strong, .video-count');
		const desc = card.querySelector('[data-e2e="search-card-video-caption"]') || card.querySelector('img');
		out.push({
			url: link.href,
			views: views ? views.textContent : '',
			title: desc ? (desc.textContent || desc.alt || '') : ''
		});
	});
	return out;
})()`

func (t *TikTokSearch) Discover(ctx context.Context, q Query) (*model.Discovered, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, errors.New("empty search query")
	}
	searchURL := "https://www.tiktok.com/search/video?q=" + url.QueryEscape(q.Text)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.UserAgent(t.userAgent),
	)
	allocCtx, cancel := chromedp.NewExecAllocator(ctx, opts...)
	defer cancel()
	cctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()
	cctx, cancel = context.WithTimeout(cctx, t.timeout)
	defer cancel()

	t.log.Infof("Searching TikTok for %q", q.Text)
	var cards []searchCard
	err := chromedp.Run(cctx,
		chromedp.Navigate(searchURL),
		chromedp.Sleep(5*time.Second),
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
		chromedp.Sleep(3*time.Second),
		chromedp.Evaluate(searchCardsJS, &cards),
	)
	if err != nil {
		return nil, fmt.Errorf("tiktok search: %w", err)
	}
	t.log.Infof("TikTok search returned %d cards", len(cards))
	return pickCard(cards, q)
}

func pickCard(cards []searchCard, q Query) (*model.Discovered, error) {
	for _, c := range cards {
		views := ParseViews(c.Views)
		if !q.inRange(views) {
			continue
		}
		return &model.Discovered{
			ID:     videoID(c.URL),
			URL:    c.URL,
			Views:  views,
			Title:  strings.TrimSpace(c.Title),
			Source: "tiktok",
		}, nil
	}
	return nil, ErrNothingFound
}

// videoID is the last path segment without query string.
func videoID(rawURL string) string {
	s := rawURL
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSuffix(s, "/")
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	return s
}

// ParseViews turns labels like "12.3K", "1,2M" or "4 567 views" into a
// count. Unparseable labels count as 0.
func ParseViews(label string) int64 {
	s := strings.ToUpper(strings.TrimSpace(label))
	s = strings.ReplaceAll(s, "VIEWS", "")
	s = strings.ReplaceAll(s, " ", "")
	if s == "" {
		return 0
	}
	mult := 1.0
	switch {
	case strings.HasSuffix(s, "K"):
		mult, s = 1e3, strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		mult, s = 1e6, strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "B"):
		mult, s = 1e9, strings.TrimSuffix(s, "B")
	}
	if mult > 1 {
		s = strings.ReplaceAll(s, ",", ".")
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		return int64(math.Round(f * mult))
	}
	var digits strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	n, err := strconv.ParseInt(digits.String(), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
