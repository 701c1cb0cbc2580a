package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"remix-studio/internal"
	"remix-studio/internal/model"
)

type State int

const (
	StateEmpty State = iota
	StateSourceReady
	StateAudioExtracted
	StateTranscribed
	StateScripted
	StateVoiced
	StateSilentFallback
	StateRendering
	StateDone
	StateFailed
)

var stateNames = [...]string{
	"Empty", "SourceReady", "AudioExtracted", "Transcribed", "Scripted",
	"Voiced", "SilentFallback", "Rendering", "Done", "Failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// renderable reports whether Rendering may be entered from s.
func (s State) renderable() bool {
	switch s {
	case StateSourceReady, StateVoiced, StateSilentFallback, StateDone:
		return true
	}
	return false
}

// Options is the per-run configuration. It may be changed between stages.
type Options struct {
	Strategy      model.AudioStrategy
	Style         model.Style
	Provider      model.Provider
	Voice         string // empty selects the provider default
	AntiDetection model.AntiDetectionConfig
	OutputName    string
	Overwrite     bool
}

// DefaultOptions is voiced, Viral, ProviderA with the configured
// anti-detection values.
func DefaultOptions(cfg internal.Config) Options {
	anti := model.DefaultAntiDetection()
	if cfg.AntiRotation != 0 {
		anti.RotationDegrees = cfg.AntiRotation
	}
	if cfg.AntiZoom != 0 {
		anti.ZoomFactor = cfg.AntiZoom
	}
	if cfg.AntiColor != 0 {
		anti.ColorMultiplier = cfg.AntiColor
	}
	if cfg.AntiVolume != 0 {
		anti.VolumeMultiplier = cfg.AntiVolume
	}
	if cfg.AntiSpeed != 0 {
		anti.SpeedFactor = cfg.AntiSpeed
	}
	anti.FlipHorizontal = cfg.AntiFlip
	return Options{
		Strategy:      model.AudioVoiced,
		Style:         model.StyleViral,
		Provider:      model.ProviderA,
		AntiDetection: anti,
	}
}

// Run is one pass of the remix state machine over one source. A run is
// driven by one goroutine at a time.
type Run struct {
	ID      string
	State   State
	Options Options

	Asset      *model.VideoAsset
	AudioPath  string
	Transcript string
	Script     *model.Script
	Voice      *model.VoiceTrack
	Result     *model.ProcessedVideo

	// FallbackReason is set when extraction failed and the run went silent.
	FallbackReason error
	// Err and FailedStage describe the most recent stage failure.
	Err         error
	FailedStage model.Stage

	// resume is the state Rendering was entered from, restored for a retry
	// after a failed render.
	resume State

	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewRun(opts Options) *Run {
	now := time.Now()
	return &Run{
		ID:        uuid.NewString()[:8],
		State:     StateEmpty,
		Options:   opts,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (r *Run) set(s State) {
	r.State = s
	r.UpdatedAt = time.Now()
}

func (r *Run) fail(stage model.Stage, err error) {
	r.Err = err
	r.FailedStage = stage
	r.UpdatedAt = time.Now()
}

func (r *Run) clearErr() {
	r.Err = nil
	r.FailedStage = ""
}

// TargetSeconds is the expected output length, 0 when the source duration
// is unknown.
func (r *Run) TargetSeconds() float64 {
	if r.Asset == nil || !r.Asset.HasDuration() {
		return 0
	}
	speed := r.Options.AntiDetection.SpeedFactor
	if speed <= 0 {
		speed = 1
	}
	return *r.Asset.Duration / speed
}

// Summary is a short multi-line status for operators.
func (r *Run) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s: %s\n", r.ID, r.State)
	fmt.Fprintf(&b, "audio=%s style=%s provider=%s", r.Options.Strategy, r.Options.Style, r.Options.Provider)
	if r.Options.Voice != "" {
		fmt.Fprintf(&b, " voice=%s", r.Options.Voice)
	}
	a := r.Options.AntiDetection
	fmt.Fprintf(&b, "\nanti=%t flip=%t speed=%.2f\n", a.Enabled, a.FlipHorizontal, a.SpeedFactor)
	if r.Asset != nil {
		dur := "unknown"
		if r.Asset.HasDuration() {
			dur = fmt.Sprintf("%.1fs", *r.Asset.Duration)
		}
		fmt.Fprintf(&b, "source: %s (%.1f MB, %s, via %s)\n", r.Asset.Filename, r.Asset.SizeMB(), dur, r.Asset.Strategy)
	}
	if r.FallbackReason != nil {
		fmt.Fprintf(&b, "silent fallback: %v\n", r.FallbackReason)
	}
	if r.Script != nil {
		fmt.Fprintf(&b, "script: %d words, ~%.0fs\n", r.Script.WordCount, r.Script.EstimatedDuration)
	}
	if r.Voice != nil {
		fmt.Fprintf(&b, "voice: %s/%s\n", r.Voice.Provider, r.Voice.VoiceID)
	}
	if r.Result != nil {
		fmt.Fprintf(&b, "output: %s\n", r.Result.Path)
	}
	if r.Err != nil {
		fmt.Fprintf(&b, "last error (%s): %v\n", r.FailedStage, r.Err)
	}
	return strings.TrimRight(b.String(), "\n")
}
