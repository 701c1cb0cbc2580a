package uploaders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// TelegramUploader posts videos to a channel through the Bot API sendVideo method.
type TelegramUploader struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
}

func NewTelegramUploader(botToken, chatID string) *TelegramUploader {
	return &TelegramUploader{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  "https://api.telegram.org",
		client:   &http.Client{Timeout: 5 * time.Minute},
	}
}

func (t *TelegramUploader) Platform() string { return "telegram" }

func (t *TelegramUploader) Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error) {
	if t.botToken == "" || t.chatID == "" {
		err := errors.New("TELEGRAM_BOT_TOKEN and POSTS_CHAT_ID are required")
		return failed("telegram", err), err
	}

	video, err := os.Open(req.VideoPath)
	if err != nil {
		return failed("telegram", err), err
	}
	defer video.Close()

	// multipart body is streamed from disk
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := func() error {
			if err := mw.WriteField("chat_id", t.chatID); err != nil {
				return err
			}
			if err := mw.WriteField("caption", req.Caption); err != nil {
				return err
			}
			if err := mw.WriteField("supports_streaming", "true"); err != nil {
				return err
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

	url := fmt.Sprintf("%s/bot%s/sendVideo", t.baseURL, t.botToken)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		pr.CloseWithError(err)
		return failed("telegram", err), err
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return failed("telegram", err), err
	}
	defer resp.Body.Close()

	var result struct {
		Ok          bool   `json:"ok"`
		Description string `json:"description"`
		ErrorCode   int    `json:"error_code"`
		Result      struct {
			MessageID int `json:"message_id"`
			Chat      struct {
				Username string `json:"username"`
			} `json:"chat"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		err = fmt.Errorf("decode sendVideo response (HTTP %d): %w", resp.StatusCode, err)
		return failed("telegram", err), err
	}
	if !result.Ok {
		err := fmt.Errorf("telegram post failed: error %d: %s", result.ErrorCode, result.Description)
		res := failed("telegram", err)
		res.Details = map[string]string{"chat_id": t.chatID}
		return res, err
	}

	res := &UploadResult{
		Success:  true,
		Platform: "telegram",
		Details:  map[string]string{"message_id": fmt.Sprint(result.Result.MessageID)},
	}
	if u := result.Result.Chat.Username; u != "" {
		res.URL = fmt.Sprintf("https://t.me/%s/%d", u, result.Result.MessageID)
	}
	return res, nil
}
