package video

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math/bits"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	ffmpeg "github.com/u2takey/ffmpeg-go"
	"github.com/vitali-fedulov/imagehash2"
	"github.com/vitali-fedulov/images4"
)

const (
	// imagehash2 parameters
	hashNumBuckets = 4
	hashEpsilon    = 0.25

	// Distances at or below this many bits read as the same picture.
	SimilarBits = 5
)

// Fingerprinter compares perceptual hashes of a frame from two videos.
type Fingerprinter struct {
	runner  *Runner
	tempDir string
}

func NewFingerprinter(runner *Runner, tempDir string) *Fingerprinter {
	return &Fingerprinter{runner: runner, tempDir: tempDir}
}

// Compare grabs the frame at the middle of the output from both files and
// returns the Hamming distance between their hashes. duration is the output
// length; the source frame is taken at the same relative position.
func (f *Fingerprinter) Compare(ctx context.Context, src, out string, duration float64) (int, error) {
	at := 0.0
	if duration > 0 {
		at = duration / 2
	}
	srcAt := at
	if d, err := f.runner.Duration(ctx, src); err == nil && duration > 0 {
		srcAt = d / 2
	}
	h1, err := f.frameHash(ctx, src, srcAt)
	if err != nil {
		return 0, fmt.Errorf("hash source frame: %w", err)
	}
	h2, err := f.frameHash(ctx, out, at)
	if err != nil {
		return 0, fmt.Errorf("hash output frame: %w", err)
	}
	return HashDistance(h1, h2), nil
}

func (f *Fingerprinter) frameHash(ctx context.Context, path string, at float64) (uint64, error) {
	png := filepath.Join(f.tempDir, "frame_"+uuid.NewString()+".png")
	defer os.Remove(png)
	if err := f.runner.Frame(ctx, path, at, png); err != nil {
		return 0, err
	}
	return ImageHash(png)
}

// Frame writes one PNG frame of path at the given second.
func (r *Runner) Frame(ctx context.Context, path string, at float64, outPNG string) error {
	args := ffmpeg.Input(path, ffmpeg.KwArgs{"ss": fmt.Sprintf("%.3f", at)}).
		Output(outPNG, ffmpeg.KwArgs{"vframes": 1, "f": "image2", "vcodec": "png"}).
		OverWriteOutput().
		GetArgs()
	fctx, cancel := withTimeout(ctx, frameTimeout)
	defer cancel()
	if err := r.Run(fctx, args, 0, nil); err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("frame grab timed out after %s: %w", frameTimeout, err)
		}
		return err
	}
	return nil
}

// ImageHash returns the imagehash2 central hash of an image file.
func ImageHash(path string) (uint64, error) {
	fh, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer fh.Close()
	img, _, err := image.Decode(fh)
	if err != nil {
		return 0, fmt.Errorf("decode %s: %w", path, err)
	}
	return imagehash2.CentralHash9(images4.Icon(img), hashEpsilon, hashNumBuckets), nil
}

// HashDistance is the number of differing bits.
func HashDistance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}
