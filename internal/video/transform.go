package video

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"remix-studio/internal/model"
)

// Transform is one composable filter unit. Video filters run in chain order
// in a single -vf graph; audio filters go to -af.
type Transform struct {
	Name  string
	Video []string
	// SourceAudio only applies when the output keeps the source audio
	// (tempo must follow the video). Audio applies to any output audio.
	SourceAudio []string
	Audio       []string
	// DurationScale multiplies the output duration.
	DurationScale float64
}

func Mirror() Transform {
	return Transform{Name: "mirror", Video: []string{"hflip"}, DurationScale: 1}
}

// Speed resamples frame timestamps and audio tempo by factor.
func Speed(factor float64) (Transform, error) {
	if factor <= 0 || math.IsNaN(factor) || math.IsInf(factor, 0) {
		return Transform{}, fmt.Errorf("speed factor %v produces no output", factor)
	}
	f := num(factor)
	return Transform{
		Name:          "speed",
		Video:         []string{"setpts=PTS/" + f},
		SourceAudio:   []string{"atempo=" + f},
		DurationScale: 1 / factor,
	}, nil
}

// RotateCropRescale rotates by degrees, center-crops by 1/zoom to drop the
// black corners and edge watermarks, then covers width x height. The order
// is fixed: rotate, crop, rescale. The crop never goes below 2x2 so tiny
// sources still reach the canonical size.
func RotateCropRescale(degrees, zoom float64, width, height int) (Transform, error) {
	if zoom < 1 {
		return Transform{}, fmt.Errorf("zoom %v would leave rotation borders visible", zoom)
	}
	if width <= 0 || height <= 0 || width%2 != 0 || height%2 != 0 {
		return Transform{}, fmt.Errorf("invalid canonical resolution %dx%d", width, height)
	}
	z := num(zoom)
	return Transform{
		Name: "rotate-crop-rescale",
		Video: []string{
			fmt.Sprintf("rotate=%s*PI/180:fillcolor=black", num(degrees)),
			fmt.Sprintf("crop=w='max(2,trunc(iw/%s/2)*2)':h='max(2,trunc(ih/%s/2)*2)'", z, z),
			fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=increase", width, height),
			fmt.Sprintf("crop=%d:%d", width, height),
			"setsar=1",
		},
		DurationScale: 1,
	}, nil
}

// EvenDimensions keeps the source size, rounded down to what yuv420p accepts.
func EvenDimensions() Transform {
	return Transform{
		Name:          "even-dimensions",
		Video:         []string{"scale=trunc(iw/2)*2:trunc(ih/2)*2", "setsar=1"},
		DurationScale: 1,
	}
}

func ColorMultiply(c float64) (Transform, error) {
	if c <= 0 {
		return Transform{}, fmt.Errorf("color multiplier %v must be positive", c)
	}
	v := num(c)
	return Transform{
		Name:          "color",
		Video:         []string{fmt.Sprintf("colorchannelmixer=rr=%s:gg=%s:bb=%s", v, v, v)},
		DurationScale: 1,
	}, nil
}

func FPS(fps int) (Transform, error) {
	if fps <= 0 {
		return Transform{}, fmt.Errorf("fps %d must be positive", fps)
	}
	return Transform{Name: "fps", Video: []string{"fps=" + strconv.Itoa(fps)}, DurationScale: 1}, nil
}

func Volume(v float64) (Transform, error) {
	if v <= 0 {
		return Transform{}, fmt.Errorf("volume multiplier %v must be positive", v)
	}
	return Transform{Name: "volume", Audio: []string{"volume=" + num(v)}, DurationScale: 1}, nil
}

type Chain []Transform

// BuildChain orders the transforms for one render: mirror, speed, then
// rotate-crop-rescale and color when anti-detection is on, fps, volume.
func BuildChain(cfg model.AntiDetectionConfig, width, height, fps int) (Chain, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var c Chain
	if cfg.FlipHorizontal {
		c = append(c, Mirror())
	}
	if cfg.SpeedFactor != 1 {
		t, err := Speed(cfg.SpeedFactor)
		if err != nil {
			return nil, err
		}
		c = append(c, t)
	}
	if cfg.Enabled {
		rcr, err := RotateCropRescale(cfg.RotationDegrees, cfg.ZoomFactor, width, height)
		if err != nil {
			return nil, err
		}
		col, err := ColorMultiply(cfg.ColorMultiplier)
		if err != nil {
			return nil, err
		}
		c = append(c, rcr, col)
	} else {
		c = append(c, EvenDimensions())
	}
	f, err := FPS(fps)
	if err != nil {
		return nil, err
	}
	c = append(c, f)
	if cfg.Enabled {
		v, err := Volume(cfg.VolumeMultiplier)
		if err != nil {
			return nil, err
		}
		c = append(c, v)
	}
	return c, nil
}

func (c Chain) VideoFilter() string {
	var parts []string
	for _, t := range c {
		parts = append(parts, t.Video...)
	}
	parts = append(parts, "format=yuv420p")
	return strings.Join(parts, ",")
}

// AudioFilter returns the -af graph, or "" when nothing applies.
func (c Chain) AudioFilter(sourceAudio bool) string {
	var parts []string
	for _, t := range c {
		if sourceAudio {
			parts = append(parts, t.SourceAudio...)
		}
		parts = append(parts, t.Audio...)
	}
	return strings.Join(parts, ",")
}

func (c Chain) DurationScale() float64 {
	s := 1.0
	for _, t := range c {
		if t.DurationScale > 0 {
			s *= t.DurationScale
		}
	}
	return s
}

func (c Chain) Names() []string {
	out := make([]string, 0, len(c))
	for _, t := range c {
		out = append(out, t.Name)
	}
	return out
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
