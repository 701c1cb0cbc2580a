package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestScriptDerivedFields(t *testing.T) {
	tests := []struct {
		text string
		wc   int
	}{
		{"", 0},
		{"   \n\t ", 0},
		{"uno", 1},
		{"uno due  tre\nquattro\tcinque", 5},
		{strings.Repeat("parola ", 150), 150},
	}
	for _, tt := range tests {
		s := NewScript(tt.text, StyleViral)
		if s.WordCount != tt.wc {
			t.Errorf("WordCount(%q) = %d, want %d", tt.text, s.WordCount, tt.wc)
		}
		want := float64(tt.wc) / 150 * 60
		if s.EstimatedDuration != want {
			t.Errorf("EstimatedDuration(%q) = %v, want %v", tt.text, s.EstimatedDuration, want)
		}
	}
}

func TestScriptSetTextRecomputes(t *testing.T) {
	s := NewScript("a b c", StyleEducational)
	s.SetText(strings.Repeat("x ", 75))
	if s.WordCount != 75 || s.EstimatedDuration != 30 {
		t.Fatalf("got wc=%d dur=%v, want 75 and 30", s.WordCount, s.EstimatedDuration)
	}
}

func TestTargetWords(t *testing.T) {
	tests := []struct {
		sec  float64
		want int
	}{
		{0, 0},
		{-5, 0},
		{10, 25},
		{30, 75},
		{45, 113}, // 112.5 rounds half away from zero
		{60, 150},
	}
	for _, tt := range tests {
		if got := TargetWords(tt.sec); got != tt.want {
			t.Errorf("TargetWords(%v) = %d, want %d", tt.sec, got, tt.want)
		}
	}
}

func TestParseStyle(t *testing.T) {
	for _, in := range []string{"viral", "Virale", " VIRALE "} {
		if s, err := ParseStyle(in); err != nil || s != StyleViral {
			t.Errorf("ParseStyle(%q) = %v, %v", in, s, err)
		}
	}
	if s, err := ParseStyle("Emozionale"); err != nil || s != StyleEmotional {
		t.Errorf("ParseStyle(Emozionale) = %v, %v", s, err)
	}
	if _, err := ParseStyle("comico"); err == nil {
		t.Error("expected error for unknown style")
	}
	seen := map[string]bool{}
	for _, st := range Styles() {
		g := st.Guidance()
		if g == "" || seen[g] {
			t.Errorf("style %v has empty or duplicate guidance", st)
		}
		seen[g] = true
	}
}

func TestEnumsJSON(t *testing.T) {
	in := struct {
		Style    Style         `json:"style"`
		Provider Provider      `json:"provider"`
		Audio    AudioStrategy `json:"audio"`
	}{StyleMysterious, ProviderC, AudioOriginal}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"style":"mysterious","provider":"elevenlabs","audio":"original"}` {
		t.Errorf("unexpected JSON %s", b)
	}
	if _, err := json.Marshal(struct{ S Style }{Style(42)}); err == nil {
		t.Error("expected error marshaling an invalid style")
	}
}

func TestParseProvider(t *testing.T) {
	tests := map[string]Provider{"free": ProviderA, "edge-tts": ProviderA, "openai": ProviderB, "ElevenLabs": ProviderC}
	for in, want := range tests {
		if got, err := ParseProvider(in); err != nil || got != want {
			t.Errorf("ParseProvider(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseProvider("polly"); err == nil {
		t.Error("expected error")
	}
}

func TestAntiDetectionValidate(t *testing.T) {
	ok := DefaultAntiDetection()
	if err := ok.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}

	tests := []struct {
		name string
		mut  func(*AntiDetectionConfig)
	}{
		{"slow", func(c *AntiDetectionConfig) { c.SpeedFactor = 0.5 }},
		{"fast", func(c *AntiDetectionConfig) { c.SpeedFactor = 1.2 }},
		{"zero speed", func(c *AntiDetectionConfig) { c.SpeedFactor = 0 }},
		{"rotation", func(c *AntiDetectionConfig) { c.RotationDegrees = 45 }},
		{"zoom", func(c *AntiDetectionConfig) { c.ZoomFactor = 0.9 }},
		{"color", func(c *AntiDetectionConfig) { c.ColorMultiplier = 0 }},
		{"volume", func(c *AntiDetectionConfig) { c.VolumeMultiplier = -1 }},
	}
	for _, tt := range tests {
		c := DefaultAntiDetection()
		tt.mut(&c)
		if err := c.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tt.name)
		}
	}

	disabled := AntiDetectionConfig{SpeedFactor: 1.0, RotationDegrees: 99}
	if err := disabled.Validate(); err != nil {
		t.Errorf("disabled config should ignore rotation: %v", err)
	}
}

func TestStageErrorMatching(t *testing.T) {
	cause := errors.New("quota exceeded")
	err := fmt.Errorf("voice: %w", NewStageError(StageSynthesize, ErrSynthesis, cause))
	if !errors.Is(err, ErrSynthesis) || !errors.Is(err, cause) {
		t.Fatal("synthesis error should match its kind and cause")
	}
	if errors.Is(err, ErrConfiguration) {
		t.Fatal("runtime synthesis failure must not match ErrConfiguration")
	}
	if StageOf(err) != StageSynthesize {
		t.Errorf("StageOf = %q", StageOf(err))
	}
	if got := err.Error(); got != "voice: synthesize: synthesis error: quota exceeded" {
		t.Errorf("Error() = %q", got)
	}

	cfg := ConfigError(StageSynthesize, "ELEVENLABS_API_KEY is not set")
	if !errors.Is(cfg, ErrConfiguration) || !errors.Is(cfg, ErrSynthesis) {
		t.Error("configuration error should match both ErrConfiguration and ErrSynthesis")
	}
	tcfg := ConfigError(StageTranscribe, "OPENAI_API_KEY is not set")
	if errors.Is(tcfg, ErrSynthesis) {
		t.Error("transcription configuration error must not match ErrSynthesis")
	}
}

func TestWrapKeepsExistingStage(t *testing.T) {
	inner := NewStageError(StageExtract, ErrExtraction, ErrNoAudio)
	if got := Wrap(StageRender, ErrRender, inner); got != inner {
		t.Errorf("Wrap replaced an existing StageError: %v", got)
	}
	if Wrap(StageRender, ErrRender, nil) != nil {
		t.Error("Wrap(nil) should be nil")
	}
}

func TestVideoAssetDuration(t *testing.T) {
	a := &VideoAsset{}
	if a.HasDuration() {
		t.Fatal("fresh asset should have unknown duration")
	}
	a.SetDuration(12.5)
	a.SetDuration(99)
	if !a.HasDuration() || *a.Duration != 12.5 {
		t.Fatalf("duration = %v, want 12.5 once populated", *a.Duration)
	}
}
