package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"remix-studio/internal/logging"
	"remix-studio/internal/model"
)

type redditPost struct {
	Data redditPostData `json:"data"`
}

type redditPostData struct {
	ID        string `json:"id"`
	URL       string `json:"url"`
	Title     string `json:"title"`
	Permalink string `json:"permalink"`
	IsVideo   bool   `json:"is_video"`
	Score     int64  `json:"score"`
	Over18    bool   `json:"over_18"`
}

type redditListing struct {
	Data redditListingData `json:"data"`
}

type redditListingData struct {
	Children []redditPost `json:"children"`
}

// RedditVideos picks native video posts from subreddit listings. Score
// stands in for views.
type RedditVideos struct {
	client     *http.Client
	log        *logging.Logger
	subreddits []string
	baseURL    string
}

func NewRedditVideos(client *http.Client, log *logging.Logger, subreddits []string) *RedditVideos {
	if client == nil {
		client = http.DefaultClient
	}
	return &RedditVideos{client: client, log: log, subreddits: subreddits, baseURL: "https://www.reddit.com"}
}

// Discover uses q.Text as the subreddit when set, otherwise tries the
// configured list in order.
func (rv *RedditVideos) Discover(ctx context.Context, q Query) (*model.Discovered, error) {
	subs := rv.subreddits
	if strings.TrimSpace(q.Text) != "" {
		subs = []string{q.Text}
	}
	if len(subs) == 0 {
		return nil, errors.New("no subreddits configured")
	}
	var lastErr error = ErrNothingFound
	for _, s := range subs {
		d, err := rv.scan(ctx, s, q)
		if err == nil {
			return d, nil
		}
		rv.log.Warnf("Reddit r/%s: %v", normalizeSubreddit(s), err)
		lastErr = err
	}
	return nil, lastErr
}

func normalizeSubreddit(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "https://reddit.com/")
	s = strings.TrimPrefix(s, "https://www.reddit.com/")
	s = strings.TrimPrefix(s, "/r/")
	s = strings.TrimPrefix(s, "r/")
	return strings.TrimSuffix(s, "/")
}

func (rv *RedditVideos) scan(ctx context.Context, subreddit string, q Query) (*model.Discovered, error) {
	name := normalizeSubreddit(subreddit)
	if name == "" {
		return nil, errors.New("invalid subreddit name")
	}
	apiURL := fmt.Sprintf("%s/r/%s/new.json?limit=50", rv.baseURL, url.PathEscape(name))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	resp, err := rv.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch reddit API: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("reddit API returned status %d: %s", resp.StatusCode, string(body))
	}

	var listing redditListing
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("parse reddit response: %w", err)
	}

	for _, child := range listing.Data.Children {
		p := child.Data
		if !p.IsVideo || p.Over18 || !q.inRange(p.Score) {
			continue
		}
		link := p.URL
		if p.Permalink != "" {
			link = "https://www.reddit.com" + p.Permalink
		}
		return &model.Discovered{
			ID:     p.ID,
			URL:    link,
			Views:  p.Score,
			Title:  p.Title,
			Source: "r/" + name,
		}, nil
	}
	return nil, ErrNothingFound
}
