package sources

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"remix-studio/internal"
)

// Profile is the identity yt-dlp presents to the platform.
type Profile struct {
	UserAgent      string
	CookiesBrowser string
}

func PrimaryProfile(cfg internal.Config) Profile {
	return Profile{UserAgent: cfg.PrimaryUserAgent, CookiesBrowser: cfg.PrimaryCookiesBrowser}
}

func FallbackProfile(cfg internal.Config) Profile {
	return Profile{UserAgent: cfg.FallbackUserAgent, CookiesBrowser: cfg.FallbackCookies}
}

// YTDLP runs the yt-dlp binary with one profile.
type YTDLP struct {
	name    string
	bin     string
	profile Profile
}

func NewYTDLP(name, bin string, profile Profile) *YTDLP {
	if bin == "" {
		bin = "yt-dlp"
	}
	return &YTDLP{name: name, bin: bin, profile: profile}
}

func (y *YTDLP) Name() string { return y.name }

func (y *YTDLP) args(rawURL, template string) []string {
	args := []string{
		"--no-playlist",
		"--no-progress",
		"-f", "mp4/best",
		"--merge-output-format", "mp4",
		"--force-overwrites",
	}
	if y.profile.UserAgent != "" {
		args = append(args, "--user-agent", y.profile.UserAgent)
	}
	if y.profile.CookiesBrowser != "" {
		args = append(args, "--cookies-from-browser", y.profile.CookiesBrowser)
	}
	return append(args, "-o", template, rawURL)
}

func (y *YTDLP) Fetch(ctx context.Context, rawURL, dst string) error {
	if _, err := exec.LookPath(y.bin); err != nil {
		return fmt.Errorf("%s not found: %w", y.bin, err)
	}
	template := dst + ".%(ext)s"
	cmd := exec.CommandContext(ctx, y.bin, y.args(rawURL, template)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("yt-dlp: %s", lastLine(stderr.String(), err))
	}

	matches, _ := filepath.Glob(dst + ".*")
	for _, m := range matches {
		if strings.HasSuffix(m, ".part") || strings.HasSuffix(m, ".ytdl") {
			_ = os.Remove(m)
			continue
		}
		if err := os.Rename(m, dst); err != nil {
			return err
		}
		return nil
	}
	return errors.New("yt-dlp finished without writing a file")
}

func lastLine(s string, fallback error) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return fallback.Error()
}
