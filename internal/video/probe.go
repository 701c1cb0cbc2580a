package video

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Info is the subset of ffprobe output the pipeline needs.
type Info struct {
	Duration   float64
	Width      int
	Height     int
	FPS        float64
	HasVideo   bool
	HasAudio   bool
	VideoCodec string
	AudioCodec string
	Format     string

	// per-stream durations, zero when the container does not report them
	VideoDuration float64
	AudioDuration float64
}

var errNoDuration = errors.New("ffprobe reported no duration")

// Probe runs ffprobe with a 30s timeout.
func (r *Runner) Probe(ctx context.Context, path string) (*Info, error) {
	ctxProbe, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctxProbe, r.ffprobe, "-v", "error",
		"-print_format", "json", "-show_format", "-show_streams", path)
	out, err := cmd.Output()
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) && len(ee.Stderr) > 0 {
			return nil, fmt.Errorf("ffprobe %s: %s", path, strings.TrimSpace(string(ee.Stderr)))
		}
		return nil, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	return parseProbe(out)
}

// Duration returns the container duration in seconds.
func (r *Runner) Duration(ctx context.Context, path string) (float64, error) {
	info, err := r.Probe(ctx, path)
	if err != nil {
		return 0, err
	}
	if info.Duration <= 0 {
		return 0, errNoDuration
	}
	return info.Duration, nil
}

func parseProbe(data []byte) (*Info, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("ffprobe returned invalid JSON")
	}
	res := gjson.ParseBytes(data)
	info := &Info{
		Duration: res.Get("format.duration").Float(),
		Format:   res.Get("format.format_name").String(),
	}
	res.Get("streams").ForEach(func(_, s gjson.Result) bool {
		switch s.Get("codec_type").String() {
		case "video":
			if s.Get("disposition.attached_pic").Int() == 1 || info.HasVideo {
				return true
			}
			info.HasVideo = true
			info.VideoCodec = s.Get("codec_name").String()
			info.Width = int(s.Get("width").Int())
			info.Height = int(s.Get("height").Int())
			info.VideoDuration = s.Get("duration").Float()
			info.FPS = parseRate(s.Get("avg_frame_rate").String())
			if info.FPS == 0 {
				info.FPS = parseRate(s.Get("r_frame_rate").String())
			}
			if info.Duration <= 0 {
				info.Duration = s.Get("duration").Float()
			}
		case "audio":
			if !info.HasAudio {
				info.HasAudio = true
				info.AudioCodec = s.Get("codec_name").String()
				info.AudioDuration = s.Get("duration").Float()
			}
		}
		return true
	})
	return info, nil
}

// parseRate turns "30000/1001" into 29.97.
func parseRate(v string) float64 {
	num, den, ok := strings.Cut(v, "/")
	if !ok {
		f, _ := strconv.ParseFloat(v, 64)
		return f
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}
