package video

import (
	"context"
	"errors"
	"fmt"
	"os"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"remix-studio/internal/model"
)

// ExtractAudio writes the first audio stream of videoPath to outPath as
// 16 kHz mono mp3, the input speech-to-text expects. A source without
// audio returns model.ErrNoAudio.
func (r *Runner) ExtractAudio(ctx context.Context, videoPath, outPath string) error {
	info, err := r.Probe(ctx, videoPath)
	if err != nil {
		r.log.Warnf("[FFMPEG] probe before extraction failed, trying anyway: %v", err)
	} else if !info.HasAudio {
		return model.ErrNoAudio
	}

	args := ffmpeg.Input(videoPath).
		Output(outPath, ffmpeg.KwArgs{
			"vn":     "",
			"map":    "0:a:0",
			"acodec": "libmp3lame",
			"ar":     16000,
			"ac":     1,
			"q:a":    4,
		}).
		OverWriteOutput().
		GetArgs()

	ectx, cancel := withTimeout(ctx, extractTimeout)
	defer cancel()
	if err := r.Run(ectx, args, 0, nil); err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("audio extraction timed out after %s: %w", extractTimeout, err)
		}
		return err
	}
	st, err := os.Stat(outPath)
	if err != nil {
		return fmt.Errorf("ffmpeg did not create audio file: %s (%w)", outPath, err)
	}
	if st.Size() == 0 {
		return model.ErrNoAudio
	}
	r.log.Infof("[FFMPEG] ✓ audio extracted to %s", outPath)
	return nil
}
