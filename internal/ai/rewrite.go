package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"google.golang.org/genai"

	"remix-studio/internal"
	"remix-studio/internal/logging"
	"remix-studio/internal/model"
)

// TextGenerator is one LLM backend: system + user prompt in, text out.
type TextGenerator interface {
	Name() string
	Generate(ctx context.Context, system, user string) (string, error)
}

// ScriptWriter turns a transcript into a styled Script.
type ScriptWriter struct {
	gen     TextGenerator
	timeout time.Duration
	log     *logging.Logger
}

func NewScriptWriter(gen TextGenerator, timeout time.Duration, log *logging.Logger) *ScriptWriter {
	return &ScriptWriter{gen: gen, timeout: timeout, log: log}
}

// NewRewriter picks the backend named by cfg.RewriteEngine. Missing
// credentials are reported on first use.
func NewRewriter(cfg internal.Config, log *logging.Logger) *ScriptWriter {
	var gen TextGenerator
	switch cfg.RewriteEngine {
	case "gemini":
		gen = &GeminiGenerator{apiKey: cfg.GeminiAPIKey, model: cfg.GeminiModel}
	default:
		gen = NewOpenAIGenerator(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.RewriteModel)
	}
	return NewScriptWriter(gen, cfg.ServiceTimeout, log)
}

// Rewrite asks the backend for a new script. The word target is guidance
// only; derived fields always come from the returned text.
func (w *ScriptWriter) Rewrite(ctx context.Context, original string, style model.Style, targetSeconds float64) (*model.Script, error) {
	if !style.Valid() {
		return nil, model.Wrap(model.StageRewrite, model.ErrRewrite, fmt.Errorf("unknown style %d", int(style)))
	}
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}
	start := time.Now()
	text, err := w.gen.Generate(ctx, rewriteSystemPrompt, rewritePrompt(original, style, targetSeconds))
	if err != nil {
		return nil, model.Wrap(model.StageRewrite, model.ErrRewrite, err)
	}
	text = cleanScript(text)
	if text == "" {
		return nil, model.Wrap(model.StageRewrite, model.ErrRewrite, errors.New("empty rewrite"))
	}
	s := model.NewScript(text, style)
	s.Original = original
	w.log.Infof("Rewrite via %s: %d words (~%.0fs) in %s", w.gen.Name(), s.WordCount, s.EstimatedDuration, time.Since(start).Round(time.Millisecond))
	return s, nil
}

type OpenAIGenerator struct {
	apiKey  string
	baseURL string
	model   string
}

func NewOpenAIGenerator(apiKey, baseURL, model string) *OpenAIGenerator {
	return &OpenAIGenerator{apiKey: apiKey, baseURL: baseURL, model: model}
}

func (g *OpenAIGenerator) Name() string { return "openai/" + g.model }

func (g *OpenAIGenerator) Generate(ctx context.Context, system, user string) (string, error) {
	if g.apiKey == "" {
		return "", model.ConfigError(model.StageRewrite, "OPENAI_API_KEY is not set")
	}
	client := openai.NewClient(openAIOptions(g.apiKey, g.baseURL)...)
	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(user),
		},
		Model:       g.model,
		Temperature: openai.Float(rewriteTemperature),
		MaxTokens:   openai.Int(rewriteMaxTokens),
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func openAIOptions(apiKey, baseURL string) []option.RequestOption {
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(1)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return opts
}

type GeminiGenerator struct {
	apiKey string
	model  string
}

func (g *GeminiGenerator) Name() string { return "gemini/" + g.model }

func (g *GeminiGenerator) Generate(ctx context.Context, system, user string) (string, error) {
	if g.apiKey == "" {
		return "", model.ConfigError(model.StageRewrite, "GEMINI_API_KEY is not set")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  g.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return "", fmt.Errorf("genai client: %w", err)
	}
	temp := float32(rewriteTemperature)
	resp, err := client.Models.GenerateContent(ctx, g.model, []*genai.Content{
		genai.NewContentFromText(user, genai.RoleUser),
	}, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		Temperature:       &temp,
		MaxOutputTokens:   rewriteMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	return resp.Text(), nil
}
