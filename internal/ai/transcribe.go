package ai

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/openai/openai-go"

	"remix-studio/internal"
	"remix-studio/internal/logging"
	"remix-studio/internal/model"
)

// Transcriber converts an audio file to plain text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// NewTranscriber returns the backend selected by TRANSCRIBE_BACKEND.
func NewTranscriber(cfg internal.Config, log *logging.Logger) Transcriber {
	if cfg.TranscribeBackend == "local" {
		return &WhisperCLI{bin: cfg.WhisperCLIPath, model: cfg.WhisperModel, language: cfg.Language, tempDir: cfg.TempDir, timeout: cfg.ServiceTimeout, log: log}
	}
	return &OpenAITranscriber{apiKey: cfg.OpenAIAPIKey, baseURL: cfg.OpenAIBaseURL, model: cfg.TranscribeModel, language: cfg.Language, timeout: cfg.ServiceTimeout, log: log}
}

func noSpeech(text string) error {
	if strings.TrimSpace(text) == "" {
		return model.Wrap(model.StageTranscribe, model.ErrTranscription, model.ErrNoSpeech)
	}
	return nil
}

type OpenAITranscriber struct {
	apiKey   string
	baseURL  string
	model    string
	language string
	timeout  time.Duration
	log      *logging.Logger
}

func (t *OpenAITranscriber) Transcribe(ctx context.Context, audioPath string) (string, error) {
	if t.apiKey == "" {
		return "", model.ConfigError(model.StageTranscribe, "OPENAI_API_KEY is not set (set TRANSCRIBE_BACKEND=local to use whisper)")
	}
	f, err := os.Open(audioPath)
	if err != nil {
		return "", model.Wrap(model.StageTranscribe, model.ErrTranscription, err)
	}
	defer f.Close()

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	params := openai.AudioTranscriptionNewParams{
		File:  f,
		Model: openai.AudioModel(t.model),
	}
	if t.language != "" {
		params.Language = openai.String(t.language)
	}
	client := openai.NewClient(openAIOptions(t.apiKey, t.baseURL)...)
	resp, err := client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", model.Wrap(model.StageTranscribe, model.ErrTranscription, err)
	}
	if err := noSpeech(resp.Text); err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Text)
	t.log.Infof("Transcribed %s: %d words", filepath.Base(audioPath), len(strings.Fields(text)))
	return text, nil
}

// WhisperCLI runs the local openai-whisper binary.
type WhisperCLI struct {
	bin      string
	model    string
	language string
	tempDir  string
	timeout  time.Duration
	log      *logging.Logger
}

func (w *WhisperCLI) args(audioPath, outDir string) []string {
	args := []string{audioPath, "--model", w.model, "--output_format", "txt", "--output_dir", outDir}
	if w.language != "" {
		args = append(args, "--language", w.language)
	}
	return args
}

func (w *WhisperCLI) Transcribe(ctx context.Context, audioPath string) (string, error) {
	if _, err := exec.LookPath(w.bin); err != nil {
		return "", model.ConfigError(model.StageTranscribe, "%s not found: %v", w.bin, err)
	}
	outDir, err := os.MkdirTemp(w.tempDir, "whisper_")
	if err != nil {
		return "", model.Wrap(model.StageTranscribe, model.ErrTranscription, err)
	}
	defer os.RemoveAll(outDir)

	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, w.bin, w.args(audioPath, outDir)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", model.Wrap(model.StageTranscribe, model.ErrTranscription, ctx.Err())
		}
		return "", model.Wrap(model.StageTranscribe, model.ErrTranscription,
			fmt.Errorf("whisper: %v: %s", err, strings.TrimSpace(stderr.String())))
	}

	base := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	data, err := os.ReadFile(filepath.Join(outDir, base+".txt"))
	if err != nil {
		return "", model.Wrap(model.StageTranscribe, model.ErrTranscription, fmt.Errorf("read transcript: %w", err))
	}
	if err := noSpeech(string(data)); err != nil {
		return "", err
	}
	text := strings.Join(strings.Fields(string(data)), " ")
	w.log.Infof("Transcribed %s locally: %d words", filepath.Base(audioPath), len(strings.Fields(text)))
	return text, nil
}
