package preset

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"remix-studio/internal/model"
	"remix-studio/internal/pipeline"
)

var ErrUnknownPreset = errors.New("unknown preset")

// AntiDetection overlays only the fields that are set.
type AntiDetection struct {
	Enabled          *bool    `yaml:"enabled"`
	FlipHorizontal   *bool    `yaml:"flip_horizontal"`
	SpeedFactor      *float64 `yaml:"speed_factor"`
	RotationDegrees  *float64 `yaml:"rotation_degrees"`
	ZoomFactor       *float64 `yaml:"zoom_factor"`
	ColorMultiplier  *float64 `yaml:"color_multiplier"`
	VolumeMultiplier *float64 `yaml:"volume_multiplier"`
}

type Preset struct {
	Audio         string         `yaml:"audio"`
	Style         string         `yaml:"style"`
	Provider      string         `yaml:"provider"`
	Voice         string         `yaml:"voice"`
	AntiDetection *AntiDetection `yaml:"anti_detection"`
}

type File struct {
	Presets map[string]Preset `yaml:"presets"`
}

// Load reads a presets file. A missing file yields an empty set.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &File{Presets: map[string]Preset{}}, nil
	}
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse presets: %w", err)
	}
	if f.Presets == nil {
		f.Presets = map[string]Preset{}
	}
	for name, p := range f.Presets {
		if _, err := p.Apply(pipeline.Options{AntiDetection: model.DefaultAntiDetection()}); err != nil {
			return nil, fmt.Errorf("preset %q: %w", name, err)
		}
	}
	return &f, nil
}

func (f *File) Names() []string {
	names := make([]string, 0, len(f.Presets))
	for n := range f.Presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Apply overlays the named preset on opts.
func (f *File) Apply(name string, opts pipeline.Options) (pipeline.Options, error) {
	p, ok := f.Presets[name]
	if !ok {
		return opts, fmt.Errorf("%w %q", ErrUnknownPreset, name)
	}
	return p.Apply(opts)
}

func (p Preset) Apply(opts pipeline.Options) (pipeline.Options, error) {
	if p.Audio != "" {
		a, err := model.ParseAudioStrategy(p.Audio)
		if err != nil {
			return opts, err
		}
		opts.Strategy = a
	}
	if p.Style != "" {
		s, err := model.ParseStyle(p.Style)
		if err != nil {
			return opts, err
		}
		opts.Style = s
	}
	if p.Provider != "" {
		pr, err := model.ParseProvider(p.Provider)
		if err != nil {
			return opts, err
		}
		opts.Provider = pr
		opts.Voice = ""
	}
	if p.Voice != "" {
		opts.Voice = p.Voice
	}
	if a := p.AntiDetection; a != nil {
		ad := &opts.AntiDetection
		setBool(&ad.Enabled, a.Enabled)
		setBool(&ad.FlipHorizontal, a.FlipHorizontal)
		setFloat(&ad.SpeedFactor, a.SpeedFactor)
		setFloat(&ad.RotationDegrees, a.RotationDegrees)
		setFloat(&ad.ZoomFactor, a.ZoomFactor)
		setFloat(&ad.ColorMultiplier, a.ColorMultiplier)
		setFloat(&ad.VolumeMultiplier, a.VolumeMultiplier)
	}
	if err := opts.AntiDetection.Validate(); err != nil {
		return opts, err
	}
	return opts, nil
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}
