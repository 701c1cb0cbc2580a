package uploaders

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/gjson"
)

// InstagramUploader publishes Reels through the upload-post.com API. The
// upload is asynchronous on their side, so no post URL is returned.
type InstagramUploader struct {
	apiKey   string
	username string
	endpoint string
	client   *http.Client
}

func NewInstagramUploader(apiKey, username string) *InstagramUploader {
	return &InstagramUploader{
		apiKey:   apiKey,
		username: username,
		endpoint: "https://api.upload-post.com/api/upload",
		client:   &http.Client{Timeout: 5 * time.Minute},
	}
}

func (i *InstagramUploader) Platform() string { return "instagram" }

func (i *InstagramUploader) Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error) {
	if i.apiKey == "" || i.username == "" {
		err := errors.New("UPLOAD_POST_API_KEY and INSTAGRAM_USERNAME are required")
		return failed("instagram", err), err
	}

	video, err := os.Open(req.VideoPath)
	if err != nil {
		return failed("instagram", err), err
	}
	defer video.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := func() error {
			fields := [][2]string{
				{"user", i.username},
				{"title", req.Caption},
				{"platform[]", "instagram"},
				{"media_type", "REELS"},
				{"share_to_feed", "true"},
				{"async_upload", "true"},
			}
			for _, f := range fields {
				if err := mw.WriteField(f[0], f[1]); err != nil {
					return err
				}
			}
			part, err := mw.CreateFormFile("video", filepath.Base(req.VideoPath))
			if err != nil {
				return err
			}
			if _, err := io.Copy(part, video); err != nil {
				return err
			}
			return mw.Close()
		}()
		pw.CloseWithError(err)
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, i.endpoint, pr)
	if err != nil {
		pr.CloseWithError(err)
		return failed("instagram", err), err
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("Authorization", "Apikey "+i.apiKey)

	resp, err := i.client.Do(httpReq)
	if err != nil {
		return failed("instagram", err), err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return failed("instagram", err), err
	}
	if resp.StatusCode != http.StatusOK || !gjson.GetBytes(body, "success").Bool() {
		msg := gjson.GetBytes(body, "message").String()
		if msg == "" {
			msg = truncate(string(body), 200)
		}
		err := fmt.Errorf("instagram upload failed (HTTP %d): %s", resp.StatusCode, msg)
		return failed("instagram", err), err
	}

	res := &UploadResult{
		Success:  true,
		Platform: "instagram",
		Details:  map[string]string{"status": "queued"},
	}
	if id := gjson.GetBytes(body, "request_id").String(); id != "" {
		res.Details["request_id"] = id
	}
	return res, nil
}
