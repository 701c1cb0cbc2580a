package preset

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"remix-studio/internal/model"
	"remix-studio/internal/pipeline"
)

const sample = `
presets:
  misterioso:
    audio: voiced
    style: Misterioso
    provider: elevenlabs
    voice: abc123
    anti_detection:
      flip_horizontal: true
      speed_factor: 1.03
  muto:
    audio: silent
    anti_detection:
      enabled: false
`

func base() pipeline.Options {
	return pipeline.Options{
		Strategy:      model.AudioVoiced,
		Style:         model.StyleViral,
		Provider:      model.ProviderA,
		Voice:         "it-IT-ElsaNeural",
		AntiDetection: model.DefaultAntiDetection(),
	}
}

func TestApplyOverlaysOnlySetFields(t *testing.T) {
	f, err := Parse([]byte(sample))
	if err != nil {
		t.Fatal(err)
	}
	if got := f.Names(); len(got) != 2 || got[0] != "misterioso" || got[1] != "muto" {
		t.Fatalf("names = %v", got)
	}

	o, err := f.Apply("misterioso", base())
	if err != nil {
		t.Fatal(err)
	}
	if o.Style != model.StyleMysterious || o.Provider != model.ProviderC || o.Voice != "abc123" {
		t.Errorf("options = %+v", o)
	}
	a := o.AntiDetection
	if !a.Enabled || !a.FlipHorizontal || a.SpeedFactor != 1.03 || a.ZoomFactor != 1.15 {
		t.Errorf("anti-detection = %+v", a)
	}

	o, err = f.Apply("muto", base())
	if err != nil {
		t.Fatal(err)
	}
	if o.Strategy != model.AudioSilent || o.AntiDetection.Enabled || o.Voice != "it-IT-ElsaNeural" {
		t.Errorf("options = %+v", o)
	}
}

func TestApplyErrors(t *testing.T) {
	f, err := Parse([]byte(sample))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Apply("nope", base()); !errors.Is(err, ErrUnknownPreset) {
		t.Errorf("err = %v", err)
	}
	if _, err := Parse([]byte("presets:\n  x:\n    style: comico\n")); err == nil {
		t.Error("expected error for unknown style")
	}
	if _, err := Parse([]byte("presets:\n  x:\n    anti_detection:\n      speed_factor: 1.5\n")); err == nil {
		t.Error("expected error for out of range speed")
	}
	if _, err := Parse([]byte("presets: [")); err == nil {
		t.Error("expected YAML error")
	}
}

func TestLoadMissingFile(t *testing.T) {
	f, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
	if err != nil || len(f.Presets) != 0 {
		t.Fatalf("Load = %v, %v", f, err)
	}
	path := filepath.Join(t.TempDir(), "p.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatal(err)
	}
	if f, err = Load(path); err != nil || len(f.Presets) != 2 {
		t.Fatalf("Load = %v, %v", f, err)
	}
}
