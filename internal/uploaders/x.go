package uploaders

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/dghubble/oauth1"

	"remix-studio/internal/logging"
)

const (
	xChunkSize       = 5 * 1024 * 1024
	xMaxStatusChecks = 60
	xMaxPostText     = 280
)

// XUploader posts videos through the X API v2 chunked media upload.
type XUploader struct {
	baseURL    string
	httpClient *http.Client
	log        *logging.Logger
}

func NewXUploader(consumerKey, consumerSecret, accessToken, accessTokenSecret string, log *logging.Logger) *XUploader {
	config := oauth1.NewConfig(consumerKey, consumerSecret)
	token := oauth1.NewToken(accessToken, accessTokenSecret)
	return &XUploader{
		baseURL:    "https://api.x.com",
		httpClient: config.Client(context.Background(), token),
		log:        log,
	}
}

func (x *XUploader) Platform() string { return "x" }

type processingInfo struct {
	State           string `json:"state"`
	CheckAfterSecs  int    `json:"check_after_secs"`
	ProgressPercent int    `json:"progress_percent"`
}

type mediaResponse struct {
	Data struct {
		ID             string          `json:"id"`
		MediaKey       string          `json:"media_key"`
		ProcessingInfo *processingInfo `json:"processing_info"`
	} `json:"data"`
}

type postCreateResponse struct {
	Data struct {
		ID   string `json:"id"`
		Text string `json:"text"`
	} `json:"data"`
	Errors []struct {
		Detail string `json:"detail"`
	} `json:"errors"`
}

func (x *XUploader) Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error) {
	text := truncate(cleanCaption(req.Caption), xMaxPostText)
	if text == "" {
		text = req.Title
	}

	mediaID, err := x.uploadMedia(ctx, req.VideoPath)
	if err != nil {
		err = fmt.Errorf("media upload: %w", err)
		return failed("x", err), err
	}
	x.log.Infof("[X] media %s uploaded", mediaID)

	body, _ := json.Marshal(map[string]any{
		"text":  text,
		"media": map[string]any{"media_ids": []string{mediaID}},
	})
	status, respBody, err := x.do(ctx, http.MethodPost, "/2/tweets", "application/json", bytes.NewReader(body))
	if err != nil {
		return failed("x", err), err
	}

	var postRes postCreateResponse
	_ = json.Unmarshal(respBody, &postRes)
	if status != http.StatusCreated {
		msg := fmt.Sprintf("status=%d", status)
		if len(postRes.Errors) > 0 {
			msg += " | " + postRes.Errors[0].Detail
		} else {
			msg += " | " + truncate(string(respBody), 500)
		}
		err := fmt.Errorf("post creation failed: %s", msg)
		return failed("x", err), err
	}

	return &UploadResult{
		Success:  true,
		Platform: "x",
		URL:      "https://x.com/i/web/status/" + postRes.Data.ID,
		Details:  map[string]string{"tweet_id": postRes.Data.ID, "text": text},
	}, nil
}

// uploadMedia runs initialize, append and finalize, then polls until processing ends.
func (x *XUploader) uploadMedia(ctx context.Context, videoPath string) (string, error) {
	f, err := os.Open(videoPath)
	if err != nil {
		return "", err
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return "", err
	}

	initBody, _ := json.Marshal(map[string]any{
		"media_type":     "video/mp4",
		"total_bytes":    st.Size(),
		"media_category": "tweet_video",
	})
	var init mediaResponse
	if err := x.call(ctx, "/2/media/upload/initialize", "application/json", bytes.NewReader(initBody), &init); err != nil {
		return "", fmt.Errorf("initialize: %w", err)
	}
	mediaID := init.Data.ID
	if mediaID == "" {
		return "", errors.New("initialize returned no media id")
	}

	buf := make([]byte, xChunkSize)
	for segment := 0; ; segment++ {
		n, err := io.ReadFull(f, buf)
		if n > 0 {
			if err := x.appendChunk(ctx, mediaID, segment, buf[:n]); err != nil {
				return "", err
			}
		}
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			break
		}
		if err != nil {
			return "", err
		}
	}

	var fin mediaResponse
	if err := x.call(ctx, "/2/media/upload/"+mediaID+"/finalize", "", nil, &fin); err != nil {
		return "", fmt.Errorf("finalize: %w", err)
	}

	info := fin.Data.ProcessingInfo
	for check := 0; info != nil && check < xMaxStatusChecks; check++ {
		switch info.State {
		case "succeeded":
			return mediaID, nil
		case "failed":
			return "", errors.New("media processing failed")
		}
		wait := time.Duration(max(info.CheckAfterSecs, 1)) * time.Second
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wait):
		}

		var statusRes mediaResponse
		status, body, err := x.do(ctx, http.MethodGet, "/2/media/upload?command=STATUS&media_id="+mediaID, "", nil)
		if err != nil {
			return "", err
		}
		if status != http.StatusOK {
			return "", fmt.Errorf("status check: HTTP %d: %s", status, truncate(string(body), 300))
		}
		if err := json.Unmarshal(body, &statusRes); err != nil {
			return "", fmt.Errorf("decode status: %w", err)
		}
		info = statusRes.Data.ProcessingInfo
		if info != nil {
			x.log.Infof("[X] media %s processing %s %d%%", mediaID, info.State, info.ProgressPercent)
		}
	}
	if info != nil && info.State != "succeeded" {
		return "", fmt.Errorf("media still %s after %d checks", info.State, xMaxStatusChecks)
	}
	return mediaID, nil
}

func (x *XUploader) appendChunk(ctx context.Context, mediaID string, segment int, chunk []byte) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("segment_index", strconv.Itoa(segment))
	part, err := mw.CreateFormFile("media", "video.mp4")
	if err != nil {
		return err
	}
	if _, err := part.Write(chunk); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}
	status, respBody, err := x.do(ctx, http.MethodPost, "/2/media/upload/"+mediaID+"/append", mw.FormDataContentType(), &body)
	if err != nil {
		return fmt.Errorf("append segment %d: %w", segment, err)
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return fmt.Errorf("append segment %d: HTTP %d: %s", segment, status, truncate(string(respBody), 300))
	}
	return nil
}

func (x *XUploader) call(ctx context.Context, path, contentType string, body io.Reader, out any) error {
	status, respBody, err := x.do(ctx, http.MethodPost, path, contentType, body)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("HTTP %d: %s", status, truncate(string(respBody), 300))
	}
	return json.Unmarshal(respBody, out)
}

func (x *XUploader) do(ctx context.Context, method, path, contentType string, body io.Reader) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, x.baseURL+path, body)
	if err != nil {
		return 0, nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := x.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	return resp.StatusCode, b, err
}

var (
	shortsTag  = regexp.MustCompile(`(?i)(?:^|\s)#shorts\b`)
	multiSpace = regexp.MustCompile(`\s{2,}`)
)

// cleanCaption drops the #shorts tag, which is meaningless on X.
func cleanCaption(s string) string {
	s = shortsTag.ReplaceAllString(s, " ")
	return strings.TrimSpace(multiSpace.ReplaceAllString(s, " "))
}
