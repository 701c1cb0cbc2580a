package uploaders

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

// YouTubeUploader publishes Shorts with a token produced by cmd/generate_token.
type YouTubeUploader struct {
	config    *oauth2.Config
	tokenPath string
}

func NewYouTubeUploader(credentialsPath, tokenPath string) (*YouTubeUploader, error) {
	credBytes, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("read client secrets: %w", err)
	}
	config, err := google.ConfigFromJSON(credBytes, youtube.YoutubeUploadScope, youtube.YoutubeScope)
	if err != nil {
		return nil, fmt.Errorf("parse client secrets: %w", err)
	}
	if _, err := os.Stat(tokenPath); err != nil {
		return nil, fmt.Errorf("token %s: %w", tokenPath, err)
	}
	return &YouTubeUploader{config: config, tokenPath: tokenPath}, nil
}

func (y *YouTubeUploader) Platform() string { return "youtube" }

func (y *YouTubeUploader) Upload(ctx context.Context, req *UploadRequest) (*UploadResult, error) {
	service, err := y.service(ctx)
	if err != nil {
		return failed("youtube", err), err
	}

	videoFile, err := os.Open(req.VideoPath)
	if err != nil {
		return failed("youtube", err), err
	}
	defer videoFile.Close()

	privacy := req.Privacy
	if privacy == "" {
		privacy = "public"
	}

	video := &youtube.Video{
		Snippet: &youtube.VideoSnippet{
			Title:       req.Title,
			Description: req.Description,
			Tags:        req.Tags,
			CategoryId:  "24", // Entertainment
		},
		Status: &youtube.VideoStatus{
			PrivacyStatus:           privacy,
			SelfDeclaredMadeForKids: false,
		},
	}

	uploaded, err := service.Videos.Insert([]string{"snippet", "status"}, video).Media(videoFile).Context(ctx).Do()
	if err != nil {
		err = fmt.Errorf("youtube insert: %w", err)
		return failed("youtube", err), err
	}

	return &UploadResult{
		Success:  true,
		Platform: "youtube",
		URL:      "https://youtube.com/shorts/" + uploaded.Id,
		Details:  map[string]string{"video_id": uploaded.Id, "title": req.Title},
	}, nil
}

func (y *YouTubeUploader) service(ctx context.Context) (*youtube.Service, error) {
	token, err := y.loadToken()
	if err != nil {
		return nil, fmt.Errorf("load token: %w", err)
	}
	if token.RefreshToken == "" && !token.Valid() {
		return nil, fmt.Errorf("token in %s expired and has no refresh token, run generate_token", y.tokenPath)
	}

	src := y.config.TokenSource(ctx, token)
	fresh, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}
	if fresh.AccessToken != token.AccessToken {
		if err := y.saveToken(fresh); err != nil {
			return nil, fmt.Errorf("save refreshed token: %w", err)
		}
	}

	return youtube.NewService(ctx, option.WithHTTPClient(oauth2.NewClient(ctx, oauth2.ReuseTokenSource(fresh, src))))
}

func (y *YouTubeUploader) loadToken() (*oauth2.Token, error) {
	f, err := os.Open(y.tokenPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	token := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(token)
	return token, err
}

func (y *YouTubeUploader) saveToken(token *oauth2.Token) error {
	f, err := os.Create(y.tokenPath)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}
