package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/samber/lo"

	"remix-studio/internal"
	"remix-studio/internal/logging"
	"remix-studio/internal/model"
)

var EdgeVoices = []string{
	"it-IT-ElsaNeural",
	"it-IT-IsabellaNeural",
	"it-IT-DiegoNeural",
	"it-IT-GiuseppeMultilingualNeural",
}

var OpenAIVoices = []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"}

// voiceBackend is one TTS provider.
type voiceBackend interface {
	// check reports missing credentials or binaries before any network call.
	check() error
	voices() []string
	synthesize(ctx context.Context, text, voice, out string) error
}

// DurationProber is satisfied by *video.Runner.
type DurationProber interface {
	Duration(ctx context.Context, path string) (float64, error)
}

// VoiceService dispatches synthesis to the selected provider. There is no
// cross-provider fallback.
type VoiceService struct {
	backends map[model.Provider]voiceBackend
	prober   DurationProber
	tempDir  string
	timeout  time.Duration
	log      *logging.Logger
}

func NewVoiceService(cfg internal.Config, log *logging.Logger, prober DurationProber) *VoiceService {
	client := &http.Client{Timeout: cfg.ServiceTimeout}
	return &VoiceService{
		backends: map[model.Provider]voiceBackend{
			model.ProviderA: &edgeTTS{bin: cfg.EdgeTTSPath, attempts: 3, backoff: 2 * time.Second},
			model.ProviderB: &openAIVoice{apiKey: cfg.OpenAIAPIKey, baseURL: cfg.OpenAIBaseURL, model: cfg.TTSModel},
			model.ProviderC: &elevenLabs{apiKey: cfg.ElevenLabsAPIKey, baseURL: cfg.ElevenLabsURL, model: cfg.ElevenLabsModel, ids: cfg.ElevenLabsVoices, client: client},
		},
		prober:  prober,
		tempDir: cfg.TempDir,
		timeout: cfg.ServiceTimeout,
		log:     log,
	}
}

// Voices lists the accepted voice IDs for p.
func (s *VoiceService) Voices(p model.Provider) []string {
	b, ok := s.backends[p]
	if !ok {
		return nil
	}
	return b.voices()
}

// DefaultVoice is the first voice of p, or "" when none are configured.
func (s *VoiceService) DefaultVoice(p model.Provider) string {
	if v := s.Voices(p); len(v) > 0 {
		return v[0]
	}
	return ""
}

// Check reports a configuration error for p without synthesizing.
func (s *VoiceService) Check(p model.Provider) error {
	b, ok := s.backends[p]
	if !ok {
		return model.ConfigError(model.StageSynthesize, "unknown provider %s", p)
	}
	return b.check()
}

// Synthesize renders text with one provider into temp/voice_<uuid>.mp3.
// An empty voice selects the provider default.
func (s *VoiceService) Synthesize(ctx context.Context, text string, p model.Provider, voice string) (*model.VoiceTrack, error) {
	b, ok := s.backends[p]
	if !ok {
		return nil, model.ConfigError(model.StageSynthesize, "unknown provider %s", p)
	}
	if err := b.check(); err != nil {
		return nil, err
	}
	if voice == "" {
		voice = s.DefaultVoice(p)
	}
	if !lo.Contains(b.voices(), voice) {
		return nil, model.Wrap(model.StageSynthesize, model.ErrSynthesis,
			fmt.Errorf("voice %q is not available for %s (have: %s)", voice, p, strings.Join(b.voices(), ", ")))
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, model.Wrap(model.StageSynthesize, model.ErrSynthesis, errors.New("empty text"))
	}
	if err := os.MkdirAll(s.tempDir, 0o755); err != nil {
		return nil, model.Wrap(model.StageStore, model.ErrStorage, err)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	out := filepath.Join(s.tempDir, "voice_"+uuid.NewString()+".mp3")
	start := time.Now()
	if err := b.synthesize(ctx, text, voice, out); err != nil {
		_ = os.Remove(out)
		return nil, model.Wrap(model.StageSynthesize, model.ErrSynthesis, err)
	}
	if st, err := os.Stat(out); err != nil || st.Size() == 0 {
		_ = os.Remove(out)
		return nil, model.Wrap(model.StageSynthesize, model.ErrSynthesis, errors.New("provider wrote no audio"))
	}

	track := &model.VoiceTrack{Path: out, VoiceID: voice, Provider: p, Text: text, CreatedAt: time.Now()}
	if s.prober != nil {
		if d, err := s.prober.Duration(ctx, out); err != nil {
			s.log.Warnf("Probe voice %s: %v", out, err)
		} else {
			track.Duration = &d
		}
	}
	s.log.Infof("Voice %s/%s ready in %s", p, voice, time.Since(start).Round(time.Millisecond))
	return track, nil
}

type edgeTTS struct {
	bin      string
	attempts int
	backoff  time.Duration
}

func (e *edgeTTS) check() error {
	if _, err := exec.LookPath(e.bin); err != nil {
		return model.ConfigError(model.StageSynthesize, "%s not found (pip install edge-tts): %v", e.bin, err)
	}
	return nil
}

func (e *edgeTTS) voices() []string { return EdgeVoices }

func (e *edgeTTS) synthesize(ctx context.Context, text, voice, out string) error {
	var lastErr error
	for attempt := 1; attempt <= e.attempts; attempt++ {
		cmd := exec.CommandContext(ctx, e.bin, "--voice", voice, "--text", text, "--write-media", out)
		var stderr bytes.Buffer
		cmd.Stderr = &stderr
		err := cmd.Run()
		if err == nil {
			return nil
		}
		lastErr = fmt.Errorf("edge-tts attempt %d: %v: %s", attempt, err, strings.TrimSpace(stderr.String()))
		if attempt == e.attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * e.backoff):
		}
	}
	return lastErr
}

type openAIVoice struct {
	apiKey  string
	baseURL string
	model   string
}

func (o *openAIVoice) check() error {
	if o.apiKey == "" {
		return model.ConfigError(model.StageSynthesize, "OPENAI_API_KEY is not set")
	}
	return nil
}

func (o *openAIVoice) voices() []string { return OpenAIVoices }

func (o *openAIVoice) synthesize(ctx context.Context, text, voice, out string) error {
	client := openai.NewClient(openAIOptions(o.apiKey, o.baseURL)...)
	resp, err := client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModel(o.model),
		Voice:          openai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
	})
	if err != nil {
		return fmt.Errorf("openai speech: %w", err)
	}
	defer resp.Body.Close()
	return writeBody(resp.Body, out)
}

type elevenLabs struct {
	apiKey  string
	baseURL string
	model   string
	ids     []string
	client  *http.Client
}

func (e *elevenLabs) check() error {
	if e.apiKey == "" {
		return model.ConfigError(model.StageSynthesize, "ELEVENLABS_API_KEY is not set")
	}
	if len(e.ids) == 0 {
		return model.ConfigError(model.StageSynthesize, "ELEVENLABS_VOICES is empty")
	}
	return nil
}

func (e *elevenLabs) voices() []string { return e.ids }

func (e *elevenLabs) synthesize(ctx context.Context, text, voice, out string) error {
	body, err := json.Marshal(map[string]any{
		"text":     text,
		"model_id": e.model,
		"voice_settings": map[string]float64{
			"stability":        0.5,
			"similarity_boost": 0.75,
		},
	})
	if err != nil {
		return err
	}
	endpoint := strings.TrimSuffix(e.baseURL, "/") + "/v1/text-to-speech/" + voice
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("xi-api-key", e.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("elevenlabs: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("elevenlabs: http %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return writeBody(resp.Body, out)
}

func writeBody(r io.Reader, out string) error {
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
