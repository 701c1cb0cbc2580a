package ai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"remix-studio/internal"
	"remix-studio/internal/logging"
	"remix-studio/internal/model"
)

func quietLog() *logging.Logger { return logging.NewWriter(io.Discard) }

func TestRewritePrompt(t *testing.T) {
	p := rewritePrompt("  ciao a tutti  ", model.StyleMysterious, 45)
	for _, want := range []string{
		"Riscrivi questo testo in italiano per un video TikTok/YouTube Shorts.",
		"Stile richiesto: Misterioso",
		model.StyleMysterious.Guidance(),
		"Testo originale: ciao a tutti\n",
		"Lunghezza target: circa 113 parole (per 45 secondi di video)",
		"- Aggiungi hook iniziale forte",
		"emoji",
	} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q:\n%s", want, p)
		}
	}

	if strings.Contains(rewritePrompt("x", model.StyleViral, 0), "Lunghezza target") {
		t.Error("unknown duration must not produce a word target")
	}
}

func TestStylesProduceDistinctPrompts(t *testing.T) {
	seen := map[string]model.Style{}
	for _, s := range model.Styles() {
		p := rewritePrompt("testo", s, 30)
		if prev, ok := seen[p]; ok {
			t.Errorf("%s and %s produce the same prompt", prev, s)
		}
		seen[p] = s
	}
}

func TestCleanScript(t *testing.T) {
	in := "\n\"Primo rigo\n\n  secondo rigo  \"\n"
	if got := cleanScript(in); got != "Primo rigo\nsecondo rigo" {
		t.Errorf("cleanScript = %q", got)
	}
}

type fakeGen struct {
	out        string
	err        error
	system     string
	user       string
	calls      int
	deadlineOK bool
}

func (f *fakeGen) Name() string { return "fake" }

func (f *fakeGen) Generate(ctx context.Context, system, user string) (string, error) {
	f.calls++
	f.system, f.user = system, user
	_, f.deadlineOK = ctx.Deadline()
	return f.out, f.err
}

func TestScriptWriterRecomputesFromReturnedText(t *testing.T) {
	gen := &fakeGen{out: "Uno due tre quattro cinque"}
	w := NewScriptWriter(gen, time.Minute, quietLog())
	s, err := w.Rewrite(context.Background(), "originale lungo", model.StyleViral, 60)
	if err != nil {
		t.Fatal(err)
	}
	if s.WordCount != 5 || s.EstimatedDuration != 2 {
		t.Errorf("derived fields = %d / %v", s.WordCount, s.EstimatedDuration)
	}
	if s.Original != "originale lungo" || s.Style != model.StyleViral {
		t.Errorf("script = %+v", s)
	}
	if gen.system != rewriteSystemPrompt || !strings.Contains(gen.user, "circa 150 parole") {
		t.Errorf("prompt not passed through: %q", gen.user)
	}
	if !gen.deadlineOK {
		t.Error("rewrite should run under the service timeout")
	}
}

func TestScriptWriterErrors(t *testing.T) {
	w := NewScriptWriter(&fakeGen{err: errors.New("503")}, 0, quietLog())
	_, err := w.Rewrite(context.Background(), "x", model.StyleViral, 0)
	if !errors.Is(err, model.ErrRewrite) || model.StageOf(err) != model.StageRewrite {
		t.Errorf("service error = %v", err)
	}

	w = NewScriptWriter(&fakeGen{out: "  \n "}, 0, quietLog())
	if _, err := w.Rewrite(context.Background(), "x", model.StyleViral, 0); !errors.Is(err, model.ErrRewrite) {
		t.Errorf("empty output = %v", err)
	}

	gen := &fakeGen{out: "ok"}
	w = NewScriptWriter(gen, 0, quietLog())
	if _, err := w.Rewrite(context.Background(), "x", model.Style(42), 0); !errors.Is(err, model.ErrRewrite) || gen.calls != 0 {
		t.Errorf("invalid style = %v (calls %d)", err, gen.calls)
	}
}

func TestGeneratorsRequireKeys(t *testing.T) {
	for _, g := range []TextGenerator{NewOpenAIGenerator("", "", "gpt-4o"), &GeminiGenerator{model: "gemini-2.0-flash"}} {
		_, err := g.Generate(context.Background(), "s", "u")
		if !errors.Is(err, model.ErrConfiguration) {
			t.Errorf("%s: err = %v, want configuration error", g.Name(), err)
		}
	}
}

func TestOpenAITranscriberRequiresKey(t *testing.T) {
	tr := NewTranscriber(internal.Config{TranscribeBackend: "openai"}, quietLog())
	_, err := tr.Transcribe(context.Background(), "missing.mp3")
	if !errors.Is(err, model.ErrConfiguration) || model.StageOf(err) != model.StageTranscribe {
		t.Errorf("err = %v", err)
	}
}

func TestWhisperCLIArgs(t *testing.T) {
	w := &WhisperCLI{model: "base", language: "it"}
	got := strings.Join(w.args("a.mp3", "/tmp/out"), " ")
	if got != "a.mp3 --model base --output_format txt --output_dir /tmp/out --language it" {
		t.Errorf("args = %s", got)
	}
}

func TestNoSpeech(t *testing.T) {
	err := noSpeech(" \n\t")
	if !errors.Is(err, model.ErrNoSpeech) || !errors.Is(err, model.ErrTranscription) {
		t.Errorf("err = %v", err)
	}
	if noSpeech("ciao") != nil {
		t.Error("non-empty text reported as no speech")
	}
}

type fakeProber struct{ d float64 }

func (p fakeProber) Duration(context.Context, string) (float64, error) { return p.d, nil }

func voiceConfig(t *testing.T, elevenURL string) internal.Config {
	return internal.Config{
		TempDir:          t.TempDir(),
		ServiceTimeout:   5 * time.Second,
		EdgeTTSPath:      "edge-tts-not-installed-here",
		TTSModel:         "tts-1-hd",
		ElevenLabsAPIKey: "secret",
		ElevenLabsModel:  "eleven_multilingual_v2",
		ElevenLabsVoices: []string{"voice-1", "voice-2"},
		ElevenLabsURL:    elevenURL,
	}
}

func TestElevenLabsSynthesize(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/text-to-speech/voice-2" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("xi-api-key") != "secret" || r.Header.Get("Accept") != "audio/mpeg" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte("ID3fake-mp3"))
	}))
	defer srv.Close()

	svc := NewVoiceService(voiceConfig(t, srv.URL), quietLog(), fakeProber{d: 3.2})
	track, err := svc.Synthesize(context.Background(), " Ciao mondo ", model.ProviderC, "voice-2")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if gotBody["text"] != "Ciao mondo" || gotBody["model_id"] != "eleven_multilingual_v2" {
		t.Errorf("request body = %v", gotBody)
	}
	if track.Provider != model.ProviderC || track.VoiceID != "voice-2" || track.Duration == nil || *track.Duration != 3.2 {
		t.Errorf("track = %+v", track)
	}
	if !strings.HasPrefix(track.Path, svc.tempDir) || !strings.HasSuffix(track.Path, ".mp3") {
		t.Errorf("path = %s", track.Path)
	}
	data, _ := os.ReadFile(track.Path)
	if string(data) != "ID3fake-mp3" {
		t.Errorf("audio = %q", data)
	}
}

func TestElevenLabsHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail":"quota_exceeded"}`, http.StatusPaymentRequired)
	}))
	defer srv.Close()

	svc := NewVoiceService(voiceConfig(t, srv.URL), quietLog(), nil)
	_, err := svc.Synthesize(context.Background(), "testo", model.ProviderC, "")
	if !errors.Is(err, model.ErrSynthesis) || errors.Is(err, model.ErrConfiguration) {
		t.Fatalf("err = %v, want runtime synthesis error", err)
	}
	if !strings.Contains(err.Error(), "quota_exceeded") {
		t.Errorf("cause lost: %v", err)
	}
}

func TestSynthesizeConfigurationErrors(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls++ }))
	defer srv.Close()

	cfg := voiceConfig(t, srv.URL)
	cfg.ElevenLabsAPIKey = ""
	svc := NewVoiceService(cfg, quietLog(), nil)

	for _, p := range model.Providers() {
		_, err := svc.Synthesize(context.Background(), "testo", p, "")
		if !errors.Is(err, model.ErrConfiguration) || !errors.Is(err, model.ErrSynthesis) {
			t.Errorf("%s: err = %v, want configuration error", p, err)
		}
	}
	if calls != 0 {
		t.Errorf("configuration errors must be raised before any request, got %d calls", calls)
	}
}

func TestSynthesizeRejectsUnknownVoice(t *testing.T) {
	svc := NewVoiceService(voiceConfig(t, "http://127.0.0.1:1"), quietLog(), nil)
	_, err := svc.Synthesize(context.Background(), "testo", model.ProviderC, "alloy")
	if !errors.Is(err, model.ErrSynthesis) || errors.Is(err, model.ErrConfiguration) {
		t.Errorf("err = %v", err)
	}
	if got := svc.Voices(model.ProviderB); len(got) != 6 || got[0] != "alloy" {
		t.Errorf("openai voices = %v", got)
	}
	if svc.DefaultVoice(model.ProviderA) != "it-IT-ElsaNeural" {
		t.Errorf("default edge voice = %s", svc.DefaultVoice(model.ProviderA))
	}
}
