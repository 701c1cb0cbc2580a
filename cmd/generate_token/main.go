package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"remix-studio/internal"
)

func main() {
	_ = godotenv.Load(".env")
	cfg, err := internal.LoadConfig()
	if err != nil {
		fmt.Printf("❌ Config: %v\n", err)
		os.Exit(1)
	}

	tokenPath := flag.String("token", cfg.YouTubeToken, "where to save the OAuth token")
	credentialsPath := flag.String("credentials", cfg.YouTubeClientSecrets, "path to client_secrets.json")
	flag.Parse()

	fmt.Println("🔐 YouTube token generator")
	fmt.Println()

	if _, err := os.Stat(*credentialsPath); os.IsNotExist(err) {
		fmt.Printf("❌ Credentials file not found: %s\n", *credentialsPath)
		fmt.Println("   Create OAuth 2.0 credentials (Desktop app) in Google Cloud Console")
		fmt.Println("   and save the JSON as client_secrets.json")
		os.Exit(1)
	}
	b, err := os.ReadFile(*credentialsPath)
	if err != nil {
		fmt.Printf("❌ Failed to read credentials: %v\n", err)
		os.Exit(1)
	}
	config, err := google.ConfigFromJSON(b, youtube.YoutubeUploadScope, youtube.YoutubeScope)
	if err != nil {
		fmt.Printf("❌ Failed to parse credentials: %v\n", err)
		os.Exit(1)
	}

	authURL := config.AuthCodeURL("state", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Println("📱 Open this URL in your browser:")
	fmt.Printf("   %s\n\n", authURL)
	fmt.Print("👉 Authorization code: ")

	var authCode string
	if _, err := fmt.Scanln(&authCode); err != nil {
		fmt.Printf("❌ Failed to read auth code: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	token, err := config.Exchange(ctx, authCode)
	if err != nil {
		fmt.Printf("❌ Failed to exchange token: %v\n", err)
		os.Exit(1)
	}
	if token.RefreshToken == "" {
		fmt.Println("⚠️  No refresh token returned, the upload will stop working when this token expires")
	}

	tokenJSON, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		fmt.Printf("❌ Failed to marshal token: %v\n", err)
		os.Exit(1)
	}
	if dir := filepath.Dir(*tokenPath); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}
	if err := os.WriteFile(*tokenPath, tokenJSON, 0o600); err != nil {
		fmt.Printf("❌ Failed to save token: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✅ Token saved: %s\n\n", *tokenPath)

	service, err := youtube.NewService(ctx, option.WithHTTPClient(config.Client(ctx, token)))
	if err != nil {
		fmt.Printf("⚠️  Could not verify channel: %v\n", err)
		return
	}
	channels, err := service.Channels.List([]string{"snippet"}).Mine(true).Do()
	if err != nil {
		fmt.Printf("⚠️  Could not fetch channel info: %v\n", err)
		return
	}
	if len(channels.Items) > 0 {
		fmt.Printf("📺 Channel: %s (%s)\n", channels.Items[0].Snippet.Title, channels.Items[0].Id)
	}
	fmt.Println("The bot picks the token up on the next start; set YOUTUBE_TOKEN if you saved it elsewhere.")
}
