package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

// Gemini implements Client using the Google Gemini API.
type Gemini struct {
	client      *genai.Client
	model       string
	temperature float64
	maxTokens   int
}

// GeminiOption configures a Gemini client.
type GeminiOption func(*Gemini)

// WithModel sets the default model.
func WithModel(model string) GeminiOption {
	return func(g *Gemini) { g.model = model }
}

// WithTemperature sets the default sampling temperature.
func WithTemperature(t float64) GeminiOption {
	return func(g *Gemini) { g.temperature = t }
}

// WithMaxTokens sets the default output token limit.
func WithMaxTokens(n int) GeminiOption {
	return func(g *Gemini) { g.maxTokens = n }
}

// NewGemini creates a new Gemini client.
// The API key comes from AI Studio (GEMINI_API_KEY in most deployments).
func NewGemini(ctx context.Context, apiKey string, opts ...GeminiOption) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	g := &Gemini{
		client:      client,
		model:       "gemini-2.0-flash",
		temperature: 0.2,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Complete implements Client.
func (g *Gemini) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	start := time.Now()

	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, msg := range req.Messages {
		contents = append(contents, genai.NewContentFromText(msg.Content, geminiRole(msg.Role)))
	}

	cfg := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}

	temperature := g.temperature
	if req.Temperature > 0 {
		temperature = req.Temperature
	}
	cfg.Temperature = genai.Ptr(float32(temperature))

	maxTokens := g.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	if maxTokens > 0 {
		cfg.MaxOutputTokens = int32(maxTokens)
	}

	model := g.model
	if req.Model != "" {
		model = req.Model
	}

	resp, err := g.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		if ctx.Err() != nil {
			return nil, NewError("complete", ctx.Err(), false)
		}
		return nil, NewError("complete", err, isRetryableError(err.Error()))
	}

	out := &CompletionResponse{
		Content:      strings.TrimSpace(resp.Text()),
		Model:        model,
		FinishReason: "stop",
		Duration:     time.Since(start),
	}

	if resp.UsageMetadata != nil {
		out.Usage = TokenUsage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
		}
	}

	return out, nil
}

// geminiRole maps a message role onto the two roles the Gemini API
// accepts. Tool results and system text ride as user content.
func geminiRole(r Role) genai.Role {
	if r == RoleAssistant {
		return genai.RoleModel
	}
	return genai.RoleUser
}

// isRetryableError checks if an error message indicates a transient error.
func isRetryableError(errMsg string) bool {
	errLower := strings.ToLower(errMsg)
	return strings.Contains(errLower, "rate limit") ||
		strings.Contains(errLower, "timeout") ||
		strings.Contains(errLower, "unavailable") ||
		strings.Contains(errLower, "overloaded") ||
		strings.Contains(errLower, "429") ||
		strings.Contains(errLower, "503")
}
