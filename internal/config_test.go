package internal

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "")
	t.Setenv("TRANSCRIBE_BACKEND", "")
	t.Setenv("REWRITE_ENGINE", "")
	t.Setenv("ASSETS_DIR", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.OutputFPS != 30 || cfg.OutputWidth != 1080 || cfg.OutputHeight != 1920 {
		t.Errorf("unexpected output format %dx%d@%d", cfg.OutputWidth, cfg.OutputHeight, cfg.OutputFPS)
	}
	if cfg.AntiRotation != 1.5 || cfg.AntiZoom != 1.15 || cfg.AntiColor != 1.03 || cfg.AntiVolume != 0.98 {
		t.Errorf("unexpected anti-detection defaults %+v", cfg)
	}
	if cfg.TranscribeBackend != "local" {
		t.Errorf("TranscribeBackend = %q, want local without an OpenAI key", cfg.TranscribeBackend)
	}
	if cfg.OutputDir != filepath.Join("assets", "processed") {
		t.Errorf("OutputDir = %q", cfg.OutputDir)
	}
	if cfg.S3Enabled() {
		t.Error("S3 should be disabled without credentials")
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("TRANSCRIBE_BACKEND", "")
	t.Setenv("ANTI_ROTATION", "2.0")
	t.Setenv("ANTI_FLIP", "true")
	t.Setenv("ACQUIRE_TIMEOUT", "90s")
	t.Setenv("ELEVENLABS_VOICES", "voiceA, voiceB,,")
	t.Setenv("MAX_UPLOAD_MB", "50")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.AntiRotation != 2.0 || !cfg.AntiFlip {
		t.Errorf("anti-detection overrides not applied: %+v", cfg)
	}
	if cfg.AcquireTimeout != 90*time.Second {
		t.Errorf("AcquireTimeout = %v", cfg.AcquireTimeout)
	}
	if len(cfg.ElevenLabsVoices) != 2 || cfg.ElevenLabsVoices[1] != "voiceB" {
		t.Errorf("ElevenLabsVoices = %v", cfg.ElevenLabsVoices)
	}
	if cfg.TranscribeBackend != "openai" {
		t.Errorf("TranscribeBackend = %q", cfg.TranscribeBackend)
	}
	if cfg.MaxUploadMB != 50 {
		t.Errorf("MaxUploadMB = %d", cfg.MaxUploadMB)
	}
}

func TestLoadConfigZeroTimeoutDisablesLimit(t *testing.T) {
	t.Setenv("RENDER_TIMEOUT", "0")
	t.Setenv("ACQUIRE_TIMEOUT", "0s")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.RenderTimeout != 0 || cfg.AcquireTimeout != 0 {
		t.Errorf("timeouts = %v / %v, want 0", cfg.RenderTimeout, cfg.AcquireTimeout)
	}
}

func TestLoadConfigRejectsInvertedViewRange(t *testing.T) {
	t.Setenv("MIN_VIEWS", "500000")
	t.Setenv("MAX_VIEWS", "1000")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for MIN_VIEWS > MAX_VIEWS")
	}
}
