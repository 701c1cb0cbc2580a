package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/gocolly/colly"
	"github.com/gocolly/colly/extensions"
	"github.com/kkdai/youtube/v2"
	"github.com/tidwall/gjson"

	"remix-studio/internal"
)

var errNoExtractor = errors.New("no platform extractor for this host")

var directExts = []string{".mp4", ".mov", ".mkv", ".avi", ".webm"}

// PlatformAPI is the fast path: a platform-specific API call that returns
// the original stream without re-encoding.
type PlatformAPI struct {
	client    *http.Client
	tikwm     string
	userAgent string
	maxBytes  int64
	youtube   *youtube.Client
}

func NewPlatformAPI(cfg internal.Config, client *http.Client) *PlatformAPI {
	if client == nil {
		client = &http.Client{Timeout: cfg.AcquireTimeout}
	}
	return &PlatformAPI{
		client:    client,
		tikwm:     cfg.TikWMEndpoint,
		userAgent: cfg.FallbackUserAgent,
		maxBytes:  cfg.MaxUploadMB * 1024 * 1024,
		youtube:   &youtube.Client{HTTPClient: client},
	}
}

func (p *PlatformAPI) Name() string { return "platform-api" }

func (p *PlatformAPI) Fetch(ctx context.Context, rawURL, dst string) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("invalid url %q", rawURL)
	}
	switch hostKind(u) {
	case "tiktok":
		media, err := p.tikwmMediaURL(ctx, rawURL)
		if err != nil {
			return err
		}
		return httpDownload(ctx, p.client, media, dst, p.userAgent, p.maxBytes)
	case "youtube":
		return p.fetchYouTube(ctx, rawURL, dst)
	case "direct":
		return httpDownload(ctx, p.client, rawURL, dst, p.userAgent, p.maxBytes)
	case "page":
		media, err := p.ogVideo(rawURL)
		if err != nil {
			return err
		}
		return httpDownload(ctx, p.client, media, dst, p.userAgent, p.maxBytes)
	}
	return errNoExtractor
}

// hostKind picks the extractor for u.
func hostKind(u *url.URL) string {
	host := strings.ToLower(strings.TrimPrefix(u.Hostname(), "www."))
	switch {
	case host == "tiktok.com" || strings.HasSuffix(host, ".tiktok.com"):
		return "tiktok"
	case host == "youtu.be" || host == "youtube.com" || strings.HasSuffix(host, ".youtube.com"):
		return "youtube"
	}
	ext := strings.ToLower(path.Ext(u.Path))
	for _, e := range directExts {
		if ext == e {
			return "direct"
		}
	}
	if u.Scheme == "http" || u.Scheme == "https" {
		return "page"
	}
	return ""
}

// tikwmMediaURL asks TikWM for the watermark-free stream.
func (p *PlatformAPI) tikwmMediaURL(ctx context.Context, rawURL string) (string, error) {
	form := url.Values{"url": {rawURL}, "hd": {"1"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tikwm, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("tikwm: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("tikwm: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tikwm: http %d", resp.StatusCode)
	}
	return parseTikWM(body, p.tikwm)
}

func parseTikWM(body []byte, endpoint string) (string, error) {
	if !gjson.ValidBytes(body) {
		return "", errors.New("tikwm: invalid JSON")
	}
	res := gjson.ParseBytes(body)
	if code := res.Get("code").Int(); code != 0 {
		return "", fmt.Errorf("tikwm: code %d: %s", code, res.Get("msg").String())
	}
	media := res.Get("data.hdplay").String()
	if media == "" {
		media = res.Get("data.play").String()
	}
	if media == "" {
		return "", errors.New("tikwm: no play url in response")
	}
	if strings.HasPrefix(media, "/") {
		base, err := url.Parse(endpoint)
		if err != nil {
			return "", err
		}
		media = base.Scheme + "://" + base.Host + media
	}
	return media, nil
}

func (p *PlatformAPI) fetchYouTube(ctx context.Context, rawURL, dst string) error {
	v, err := p.youtube.GetVideoContext(ctx, rawURL)
	if err != nil {
		return fmt.Errorf("youtube: %w", err)
	}
	formats := v.Formats.WithAudioChannels()
	var chosen *youtube.Format
	for i := range formats {
		if strings.HasPrefix(formats[i].MimeType, "video/mp4") {
			chosen = &formats[i]
			break
		}
	}
	if chosen == nil {
		return errors.New("youtube: no progressive mp4 format")
	}
	stream, _, err := p.youtube.GetStreamContext(ctx, v, chosen)
	if err != nil {
		return fmt.Errorf("youtube stream: %w", err)
	}
	defer stream.Close()

	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	var src io.Reader = stream
	if p.maxBytes > 0 {
		src = io.LimitReader(stream, p.maxBytes+1)
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if p.maxBytes > 0 && n > p.maxBytes {
		return errTooLarge
	}
	return nil
}

// ogVideo reads the page's og:video meta tag.
func (p *PlatformAPI) ogVideo(pageURL string) (string, error) {
	c := colly.NewCollector(colly.UserAgent(p.userAgent))
	extensions.RandomUserAgent(c)
	c.SetRequestTimeout(30 * time.Second)

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "it-IT,it;q=0.9,en;q=0.8")
	})

	var media string
	c.OnHTML(`meta[property="og:video:secure_url"], meta[property="og:video:url"], meta[property="og:video"]`, func(e *colly.HTMLElement) {
		if media == "" {
			media = e.Request.AbsoluteURL(e.Attr("content"))
		}
	})
	var visitErr error
	c.OnError(func(r *colly.Response, err error) {
		visitErr = fmt.Errorf("page %s: status %d: %w", pageURL, r.StatusCode, err)
	})

	if err := c.Visit(pageURL); err != nil && visitErr == nil {
		visitErr = err
	}
	if media != "" {
		return media, nil
	}
	if visitErr != nil {
		return "", visitErr
	}
	return "", errNoExtractor
}
