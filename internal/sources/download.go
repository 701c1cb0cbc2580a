package sources

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
)

var errTooLarge = errors.New("file exceeds size limit")

// httpDownload streams mediaURL into dst. maxBytes <= 0 disables the limit.
func httpDownload(ctx context.Context, client *http.Client, mediaURL, dst, userAgent string, maxBytes int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http %d for %s", resp.StatusCode, mediaURL)
	}
	if maxBytes > 0 && resp.ContentLength > maxBytes {
		return fmt.Errorf("%w: %d bytes", errTooLarge, resp.ContentLength)
	}

	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	var body io.Reader = resp.Body
	if maxBytes > 0 {
		body = io.LimitReader(resp.Body, maxBytes+1)
	}
	n, err := io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if maxBytes > 0 && n > maxBytes {
		return fmt.Errorf("%w: more than %d bytes", errTooLarge, maxBytes)
	}
	return nil
}

// fileSHA256 returns the hex digest and size of path.
func fileSHA256(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()
	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// looksLikeVideo checks container magic bytes: ISO BMFF (mp4/mov),
// Matroska/WebM, AVI and MPEG-TS.
func looksLikeVideo(data []byte) (kind string, ok bool) {
	if len(data) < 12 {
		return "", false
	}
	// ISO BMFF: ....ftyp
	if data[4] == 'f' && data[5] == 't' && data[6] == 'y' && data[7] == 'p' {
		return "mp4", true
	}
	// QuickTime without ftyp
	if string(data[4:8]) == "moov" || string(data[4:8]) == "mdat" || string(data[4:8]) == "wide" {
		return "mov", true
	}
	// EBML: 1A 45 DF A3
	if data[0] == 0x1A && data[1] == 0x45 && data[2] == 0xDF && data[3] == 0xA3 {
		return "mkv", true
	}
	// RIFF....AVI
	if data[0] == 'R' && data[1] == 'I' && data[2] == 'F' && data[3] == 'F' &&
		data[8] == 'A' && data[9] == 'V' && data[10] == 'I' {
		return "avi", true
	}
	// MPEG-TS sync byte
	if data[0] == 0x47 && len(data) > 188 && data[188] == 0x47 {
		return "ts", true
	}
	return "", false
}

// validateVideoFile rejects empty, oversized or non-video files and
// returns the sniffed container kind.
func validateVideoFile(path string, maxBytes int64) (string, error) {
	st, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("output missing: %w", err)
	}
	if st.Size() == 0 {
		return "", errors.New("output is empty")
	}
	if maxBytes > 0 && st.Size() > maxBytes {
		return "", fmt.Errorf("%w: %d bytes", errTooLarge, st.Size())
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	head := make([]byte, 512)
	n, _ := io.ReadFull(f, head)
	kind, ok := looksLikeVideo(head[:n])
	if !ok {
		return "", errors.New("output is not a recognized video container")
	}
	return kind, nil
}
