package uploaders

import (
	"context"
	"strings"
	"unicode/utf8"

	"remix-studio/internal/model"
)

type UploadResult struct {
	Success  bool              `json:"success"`
	Platform string            `json:"platform"`
	URL      string            `json:"url,omitempty"`
	Error    string            `json:"error,omitempty"`
	Details  map[string]string `json:"details,omitempty"`
}

type UploadRequest struct {
	VideoPath   string
	Title       string
	Description string
	Caption     string
	Tags        []string
	Privacy     string // public, unlisted, private
}

type Uploader interface {
	Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error)
	Platform() string
}

const (
	maxTitle   = 100  // YouTube
	maxCaption = 1000 // Telegram allows 1024
)

var styleTags = map[model.Style][]string{
	model.StyleViral:       {"virale", "perte"},
	model.StyleEducational: {"imparacontiktok", "curiosità"},
	model.StyleMysterious:  {"mistero", "storievere"},
	model.StyleEmotional:   {"emozioni", "storie"},
}

// NewRequest builds the post for a rendered remix. The caption is the
// script text when there is one.
func NewRequest(pv *model.ProcessedVideo) *UploadRequest {
	req := &UploadRequest{VideoPath: pv.Path, Privacy: "public", Tags: []string{"shorts"}}
	text := ""
	if pv.Script != nil {
		text = strings.TrimSpace(pv.Script.Text)
		req.Tags = append(req.Tags, styleTags[pv.Script.Style]...)
	}
	if text == "" {
		req.Title = "Remix " + pv.ID
		req.Caption = req.Title
		req.Description = req.Title
		return req
	}
	req.Title = truncate(firstSentence(text), maxTitle)
	req.Caption = truncate(text, maxCaption)
	req.Description = text
	return req
}

func firstSentence(s string) string {
	if i := strings.IndexAny(s, ".!?\n"); i > 0 {
		return strings.TrimSpace(s[:i+1])
	}
	return s
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n-1])) + "…"
}

func failed(platform string, err error) *UploadResult {
	return &UploadResult{Platform: platform, Error: err.Error()}
}
