// ABOUTME: Gemini-backed Generator using the google.golang.org/genai SDK
// ABOUTME: Streams via GenerateContentStream and accumulates text plus usage

package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"
)

// GeminiGenerator implements Generator against the Gemini API.
type GeminiGenerator struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewGeminiGenerator creates a Gemini client with the given API key and
// model. Timeout bounds each individual generation call.
func NewGeminiGenerator(ctx context.Context, apiKey, model string, timeout time.Duration, logger *slog.Logger) (*GeminiGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	return &GeminiGenerator{
		client:  client,
		model:   model,
		timeout: timeout,
		logger:  logger.With("component", "llm", "model", model),
	}, nil
}

func (g *GeminiGenerator) buildRequest(p Prompt) ([]*genai.Content, *genai.GenerateContentConfig) {
	var contents []*genai.Content
	for _, m := range p.History {
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Text, role))
	}

	cfg := &genai.GenerateContentConfig{}
	if p.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(p.System, genai.RoleUser)
	}
	return contents, cfg
}

// Complete runs a non-streaming generation.
func (g *GeminiGenerator) Complete(ctx context.Context, p Prompt) (*Result, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	contents, cfg := g.buildRequest(p)
	start := time.Now()

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return nil, fmt.Errorf("gemini returned empty response")
	}

	result := &Result{Text: text}
	if resp.UsageMetadata != nil {
		result.Usage = Usage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
		}
	}

	g.logger.Debug("generation complete",
		"duration", time.Since(start),
		"prompt_tokens", result.Usage.PromptTokens,
		"completion_tokens", result.Usage.CompletionTokens,
	)
	return result, nil
}

// Stream runs a streaming generation, calling emit for each text chunk.
// Usage metadata arrives cumulatively; the last chunk's counts win.
func (g *GeminiGenerator) Stream(ctx context.Context, p Prompt, emit func(chunk string)) (*Result, error) {
	ctx, cancel := g.withTimeout(ctx)
	defer cancel()

	contents, cfg := g.buildRequest(p)
	start := time.Now()

	result := &Result{}
	for resp, err := range g.client.Models.GenerateContentStream(ctx, g.model, contents, cfg) {
		if err != nil {
			return nil, fmt.Errorf("gemini stream: %w", err)
		}
		if chunk := resp.Text(); chunk != "" {
			result.Text += chunk
			emit(chunk)
		}
		if resp.UsageMetadata != nil {
			result.Usage = Usage{
				PromptTokens:     resp.UsageMetadata.PromptTokenCount,
				CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			}
		}
	}

	if result.Text == "" {
		return nil, fmt.Errorf("gemini returned empty stream")
	}

	g.logger.Debug("streaming generation complete",
		"duration", time.Since(start),
		"prompt_tokens", result.Usage.PromptTokens,
		"completion_tokens", result.Usage.CompletionTokens,
	)
	return result, nil
}

func (g *GeminiGenerator) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}
