package main

import (
	"context"
	"crypto/sha256"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"remix-studio/internal"
	"remix-studio/internal/logging"
	"remix-studio/internal/video"
)

var videoExts = map[string]bool{".mp4": true, ".mov": true, ".avi": true, ".mkv": true, ".webm": true, ".m4v": true}

func main() {
	_ = godotenv.Load(".env")

	pathA := flag.String("a", "", "first video or image (usually the source)")
	pathB := flag.String("b", "", "second video or image (usually the remix)")
	at := flag.Float64("at", -1, "frame position in seconds for videos (default: middle)")
	flag.Parse()

	if *pathA == "" || *pathB == "" {
		log.Fatal("Usage: compare_frames -a <source> -b <remix> [-at seconds]")
	}

	cfg, err := internal.LoadConfig()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	runner := video.NewRunner(cfg, logging.NewConsole())
	ctx := context.Background()

	tmp, err := os.MkdirTemp("", "compare_frames")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(tmp)

	fmt.Printf("Comparing:\n  A: %s\n  B: %s\n\n", *pathA, *pathB)

	sumA, err := fileSHA256(*pathA)
	if err != nil {
		log.Fatalf("hash A: %v", err)
	}
	sumB, err := fileSHA256(*pathB)
	if err != nil {
		log.Fatalf("hash B: %v", err)
	}
	fmt.Printf("1. FILE HASH\n   A: %s\n   B: %s\n", sumA, sumB)
	if sumA == sumB {
		fmt.Printf("   Result: ✓ IDENTICAL FILES\n\n")
	} else {
		fmt.Printf("   Result: ✗ Different files\n\n")
	}

	hashA, err := perceptualHash(ctx, runner, *pathA, *at, filepath.Join(tmp, "a.png"))
	if err != nil {
		log.Fatalf("perceptual hash A: %v", err)
	}
	hashB, err := perceptualHash(ctx, runner, *pathB, *at, filepath.Join(tmp, "b.png"))
	if err != nil {
		log.Fatalf("perceptual hash B: %v", err)
	}

	dist := video.HashDistance(hashA, hashB)
	fmt.Printf("2. PERCEPTUAL HASH\n   A: %016x\n   B: %016x\n", hashA, hashB)
	fmt.Printf("   Hamming distance: %d bits (similarity %d%%)\n", dist, 100-dist*100/64)
	switch {
	case dist == 0:
		fmt.Println("   Result: ✓ PERCEPTUALLY IDENTICAL, the remix would be matched")
	case dist <= video.SimilarBits:
		fmt.Println("   Result: ✓ VERY SIMILAR, consider stronger anti-detection settings")
	case dist <= 2*video.SimilarBits:
		fmt.Println("   Result: ~ SIMILAR")
	default:
		fmt.Println("   Result: ✗ DIFFERENT")
	}
}

// perceptualHash hashes an image directly, or a frame of a video.
func perceptualHash(ctx context.Context, runner *video.Runner, path string, at float64, framePNG string) (uint64, error) {
	if !videoExts[strings.ToLower(filepath.Ext(path))] {
		return video.ImageHash(path)
	}
	if at < 0 {
		at = 0
		if d, err := runner.Duration(ctx, path); err == nil {
			at = d / 2
		}
	}
	if err := runner.Frame(ctx, path, at, framePNG); err != nil {
		return 0, err
	}
	return video.ImageHash(framePNG)
}

func fileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
