package bot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"remix-studio/internal"
	"remix-studio/internal/model"
	"remix-studio/internal/pipeline"
	"remix-studio/internal/progress"
	"remix-studio/internal/uploaders"
)

func testDefaults() pipeline.Options { return pipeline.DefaultOptions(internal.Config{}) }

func TestSessionsRenewKeepsChatMapping(t *testing.T) {
	s := newSessions(testDefaults)
	sess := s.get(7)
	if s.get(7) != sess {
		t.Fatal("get should return the same session")
	}
	first := sess.run.ID
	if chat, ok := s.chatOf(first); !ok || chat != 7 {
		t.Fatalf("chatOf(%s) = %d, %v", first, chat, ok)
	}

	opts := sess.run.Options
	opts.Style = model.StyleMysterious
	run := s.renew(7, sess, opts)
	if run.ID == first || run.State != pipeline.StateEmpty || run.Options.Style != model.StyleMysterious {
		t.Errorf("renewed run = %+v", run)
	}
	if _, ok := s.chatOf(first); ok {
		t.Error("old run still mapped")
	}
	if s.runID(7) != run.ID || s.runID(8) != "" {
		t.Error("runID mismatch")
	}
}

func TestApplyModeLockedAfterScript(t *testing.T) {
	run := pipeline.NewRun(testDefaults())
	if err := applyMode(run, "silent"); err != nil || run.Options.Strategy != model.AudioSilent {
		t.Fatalf("empty run: %v %s", err, run.Options.Strategy)
	}
	run.Options.Strategy = model.AudioVoiced
	run.State = pipeline.StateScripted
	if err := applyMode(run, "original"); !errors.Is(err, errModeLocked) {
		t.Errorf("scripted run: err = %v", err)
	}
	if err := applyMode(run, "voiced"); err != nil {
		t.Errorf("same mode should be accepted: %v", err)
	}
	if err := applyMode(run, "loud"); err == nil {
		t.Error("unknown mode accepted")
	}
}

type fakeVoices map[model.Provider][]string

func (f fakeVoices) Voices(p model.Provider) []string  { return f[p] }
func (f fakeVoices) DefaultVoice(p model.Provider) string { return f[p][0] }

func (f fakeVoices) Check(p model.Provider) error {
	if _, ok := f[p]; !ok {
		return model.ConfigError(model.StageSynthesize, "ELEVENLABS_API_KEY not set")
	}
	return nil
}

func TestApplyVoice(t *testing.T) {
	voices := fakeVoices{
		model.ProviderA: {"it-IT-DiegoNeural", "it-IT-ElsaNeural"},
		model.ProviderB: {"alloy", "onyx"},
	}
	opts := testDefaults()
	opts.Voice = "it-IT-ElsaNeural"

	if err := applyVoice(&opts, "openai onyx", voices); err != nil {
		t.Fatal(err)
	}
	if opts.Provider != model.ProviderB || opts.Voice != "onyx" {
		t.Errorf("opts = %s/%s", opts.Provider, opts.Voice)
	}
	if err := applyVoice(&opts, "free", voices); err != nil || opts.Voice != "" {
		t.Errorf("provider only should reset voice: %v %q", err, opts.Voice)
	}
	if err := applyVoice(&opts, "openai nova", voices); err == nil {
		t.Error("unknown voice accepted")
	}
	if err := applyVoice(&opts, "elevenlabs abc123", voices); err != nil || opts.Voice != "abc123" {
		t.Errorf("provider without catalog should take any id: %v", err)
	}
	if err := applyVoice(&opts, "", voices); err == nil {
		t.Error("empty args accepted")
	}
}

func TestAntiDetectionOptions(t *testing.T) {
	opts := testDefaults()
	if err := applySpeed(&opts, "1,03"); err != nil || opts.AntiDetection.SpeedFactor != 1.03 {
		t.Errorf("speed: %v %v", err, opts.AntiDetection.SpeedFactor)
	}
	if err := applySpeed(&opts, "1.2"); err == nil || opts.AntiDetection.SpeedFactor != 1.03 {
		t.Errorf("out of range speed: %v %v", err, opts.AntiDetection.SpeedFactor)
	}
	if err := applyFlip(&opts, "sì"); err != nil || !opts.AntiDetection.FlipHorizontal {
		t.Errorf("flip: %v", err)
	}
	if err := applyAnti(&opts, "off"); err != nil || opts.AntiDetection.Enabled {
		t.Errorf("anti: %v", err)
	}
	if err := applyAnti(&opts, "forse"); err == nil {
		t.Error("bad switch accepted")
	}
}

func TestRenderArgs(t *testing.T) {
	cases := []struct {
		in        string
		name      string
		overwrite bool
	}{
		{"", "", false},
		{"finale", "finale", false},
		{"finale force", "finale", true},
		{"FORCE", "", true},
	}
	for _, c := range cases {
		name, ow := renderArgs(c.in)
		if name != c.name || ow != c.overwrite {
			t.Errorf("renderArgs(%q) = %q, %v", c.in, name, ow)
		}
	}
}

func TestSplitCallback(t *testing.T) {
	if got := splitCallback("pubto:youtube:ab12"); len(got) != 3 || got[1] != "youtube" {
		t.Errorf("got %v", got)
	}
	if got := splitCallback(""); got != nil {
		t.Errorf("got %v", got)
	}
}

func TestFailText(t *testing.T) {
	stale := model.NewStageError(model.StageRender, model.ErrRender, model.ErrStaleVoice)
	if got := failText(stale); !strings.HasPrefix(got, "❌ Render fallito") || !strings.Contains(got, "/synth") {
		t.Errorf("stale voice: %q", got)
	}
	cfgErr := model.ConfigError(model.StageSynthesize, "ELEVENLABS_API_KEY not set")
	if got := failText(cfgErr); !strings.Contains(got, "Sintesi vocale fallito") || !strings.Contains(got, "/voice") {
		t.Errorf("config: %q", got)
	}
	invalid := fmt.Errorf("synthesize in Empty: %w", pipeline.ErrInvalidState)
	if got := failText(invalid); !strings.Contains(got, "non possibile") {
		t.Errorf("invalid: %q", got)
	}
	if got := failText(context.Canceled); !strings.Contains(got, "annullata") {
		t.Errorf("canceled: %q", got)
	}
}

func TestProgressText(t *testing.T) {
	got := progressText(progress.Event{Stage: string(model.StageRender), Percent: 47.9, Message: "12s at 1.5x"})
	want := "⏳ render ▓▓▓▓░░░░░░ 47%\n12s at 1.5x"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if got := progressText(progress.Event{Stage: "x", Percent: 140}); !strings.Contains(got, "100%") {
		t.Errorf("clamp: %q", got)
	}
}

func TestFormatResults(t *testing.T) {
	got := formatResults(map[string]*uploaders.UploadResult{
		"youtube":  {Success: true, Platform: "youtube", URL: "https://youtube.com/shorts/x"},
		"telegram": {Platform: "telegram", Error: "chat not found"},
	})
	want := "📤 Pubblicazione:\n❌ telegram: chat not found\n✅ youtube: https://youtube.com/shorts/x"
	if got != want {
		t.Errorf("got %q", got)
	}
}

func TestTailLastNLines(t *testing.T) {
	p := filepath.Join(t.TempDir(), "errors.log")
	var lines []string
	for i := 1; i <= 7; i++ {
		lines = append(lines, fmt.Sprintf("line %d", i))
	}
	if err := os.WriteFile(p, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := TailLastNLines(p, 3)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(got, ",") != "line 5,line 6,line 7" {
		t.Errorf("tail 3 = %v", got)
	}
	got, _ = TailLastNLines(p, 20)
	if len(got) != 7 || got[0] != "line 1" {
		t.Errorf("tail 20 = %v", got)
	}
	if _, err := TailLastNLines(filepath.Join(t.TempDir(), "missing"), 3); !os.IsNotExist(err) {
		t.Errorf("missing file err = %v", err)
	}
}

func TestMemVerdict(t *testing.T) {
	if msg, _ := memVerdict(100<<20, 200<<20, 50, true); msg != "" {
		t.Errorf("healthy: %q", msg)
	}
	if msg, crit := memVerdict(700<<20, 800<<20, 50, true); msg == "" || crit {
		t.Errorf("warn: %q %v", msg, crit)
	}
	if msg, _ := memVerdict(700<<20, 800<<20, 50, false); msg != "" {
		t.Error("warning during cooldown")
	}
	if _, crit := memVerdict(100<<20, 200<<20, 1500, false); !crit {
		t.Error("goroutine leak should be critical")
	}
	if _, crit := memVerdict(1300<<20, 1400<<20, 10, false); !crit {
		t.Error("heap leak should be critical")
	}
}

func TestIsVideoName(t *testing.T) {
	for name, want := range map[string]bool{"clip.MP4": true, "a.mkv": true, "notes.txt": false, "": false} {
		if got := isVideoName(name); got != want {
			t.Errorf("isVideoName(%q) = %v", name, got)
		}
	}
}

func TestProviderWarning(t *testing.T) {
	voices := fakeVoices{model.ProviderA: {"it-IT-ElsaNeural"}}
	if got := providerWarning(voices, model.ProviderA); got != "" {
		t.Errorf("configured provider warned: %q", got)
	}
	if got := providerWarning(voices, model.ProviderC); !strings.Contains(got, "ELEVENLABS_API_KEY") {
		t.Errorf("missing provider warning = %q", got)
	}
}
